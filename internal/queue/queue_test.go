package queue

import (
	"context"
	"math/rand"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/brocaar/chirpstack-lorawan-device/internal/scheduler"
)

type testSender struct {
	busy bool
	err  error
	sent []Message
}

func (s *testSender) Send(payload []byte, port uint8, confirmed bool) error {
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, Message{Port: port, Payload: payload, Confirmed: confirmed})
	return nil
}

func (s *testSender) Busy() bool {
	return s.busy
}

func TestQueue(t *testing.T) {
	assert := require.New(t)

	clock := scheduler.NewVirtualClock(0)
	sched := scheduler.New(clock)
	sender := testSender{}
	q := New(sched, &sender, 3, rand.New(rand.NewSource(1)))

	payload := []byte{1, 2, 3}
	assert.NoError(q.Enqueue(Message{Port: 1, Payload: payload}))
	assert.NoError(q.Enqueue(Message{Port: 2, Payload: []byte{4}, Confirmed: true}))
	assert.NoError(q.Enqueue(Message{Port: 3}))
	assert.Equal(ErrFull, q.Enqueue(Message{Port: 4}))
	assert.Equal(3, q.Len())

	// the queue holds a copy
	payload[0] = 0xff

	t.Run("busy sender", func(t *testing.T) {
		assert := require.New(t)
		sender.busy = true

		q.Start()
		assert.NoError(sched.RunUntil(context.Background(), scheduler.Sec(5)))
		assert.Len(sender.sent, 0)
		assert.Equal(3, q.Len())
	})

	t.Run("idle sender", func(t *testing.T) {
		assert := require.New(t)
		sender.busy = false

		// one message per pump interval
		assert.NoError(sched.RunUntil(context.Background(), clock.Now()+scheduler.MS(400)))
		assert.True(len(sender.sent) <= 1)

		assert.NoError(sched.RunUntil(context.Background(), clock.Now()+scheduler.Sec(5)))
		assert.Equal([]Message{
			{Port: 1, Payload: []byte{1, 2, 3}},
			{Port: 2, Payload: []byte{4}, Confirmed: true},
			{Port: 3},
		}, sender.sent)
		assert.Equal(0, q.Len())
	})

	t.Run("send error", func(t *testing.T) {
		assert := require.New(t)
		sender.err = errors.New("boom")
		sender.sent = nil

		assert.NoError(q.Enqueue(Message{Port: 5}))
		assert.NoError(sched.RunUntil(context.Background(), clock.Now()+scheduler.Sec(2)))
		assert.Equal(0, q.Len())
		assert.Len(sender.sent, 0)
	})

	t.Run("flush", func(t *testing.T) {
		assert := require.New(t)
		q.Stop()

		assert.NoError(q.Enqueue(Message{Port: 1}))
		assert.NoError(q.Enqueue(Message{Port: 2}))
		assert.Equal(2, q.Flush())
		assert.Equal(0, q.Len())
	})
}
