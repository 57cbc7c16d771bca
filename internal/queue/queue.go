// Package queue implements the bounded send queue between the host
// application and the engine. Messages are handed to the engine by a
// scheduler job, one at a time and only while the engine is idle.
package queue

import (
	"math/rand"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/brocaar/chirpstack-lorawan-device/internal/scheduler"
	"github.com/brocaar/chirpstack-lorawan-device/internal/syncutil"
)

// DefaultSize defines the default queue size.
const DefaultSize = 10

// ErrFull is returned when the queue has reached its max size.
var ErrFull = errors.New("send queue full")

// Sender defines the interface of the engine the messages are sent
// through.
type Sender interface {
	Send(payload []byte, port uint8, confirmed bool) error
	Busy() bool
}

// Message holds a queued uplink.
type Message struct {
	Port      uint8
	Payload   []byte
	Confirmed bool
}

// Queue implements the send queue. Enqueue, Flush and Len can be called
// from any goroutine.
type Queue struct {
	sched  *scheduler.Scheduler
	sender Sender
	rnd    *rand.Rand
	size   int

	job scheduler.Job

	mu       syncutil.Mutex
	messages []Message
}

// New creates a new Queue. When size is <= 0, DefaultSize is used.
func New(s *scheduler.Scheduler, sender Sender, size int, rnd *rand.Rand) *Queue {
	if size <= 0 {
		size = DefaultSize
	}
	if rnd == nil {
		rnd = rand.New(rand.NewSource(1))
	}

	return &Queue{
		sched:  s,
		sender: sender,
		rnd:    rnd,
		size:   size,
	}
}

// Enqueue adds the message to the back of the queue.
func (q *Queue) Enqueue(m Message) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.messages) >= q.size {
		queueCounter("full").Inc()
		return ErrFull
	}

	m.Payload = append([]byte(nil), m.Payload...)
	q.messages = append(q.messages, m)
	queueCounter("enqueue").Inc()
	queueGauge.Set(float64(len(q.messages)))

	log.WithFields(log.Fields{
		"f_port": m.Port,
		"size":   len(m.Payload),
		"queued": len(q.messages),
	}).Debug("queue: message enqueued")
	return nil
}

// Flush removes all messages and returns the number of removed messages.
func (q *Queue) Flush() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := len(q.messages)
	q.messages = nil
	queueGauge.Set(0)

	log.WithField("count", n).Info("queue: queue flushed")
	return n
}

// Len returns the number of queued messages.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.messages)
}

// Start starts the pump job. It must be called from the scheduler loop.
func (q *Queue) Start() {
	q.sched.ScheduleNow(&q.job, q.pump)
}

// Stop stops the pump job. It must be called from the scheduler loop.
func (q *Queue) Stop() {
	q.sched.Cancel(&q.job)
}

func (q *Queue) pop() (Message, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.messages) == 0 {
		return Message{}, false
	}
	m := q.messages[0]
	q.messages = q.messages[1:]
	queueGauge.Set(float64(len(q.messages)))
	return m, true
}

func (q *Queue) pump(j *scheduler.Job) {
	if !q.sender.Busy() {
		if m, ok := q.pop(); ok {
			if err := q.sender.Send(m.Payload, m.Port, m.Confirmed); err != nil {
				queueCounter("dropped").Inc()
				log.WithError(err).WithField("f_port", m.Port).Error("queue: send message error, message dropped")
			} else {
				queueCounter("sent").Inc()
				log.WithFields(log.Fields{
					"f_port":    m.Port,
					"size":      len(m.Payload),
					"confirmed": m.Confirmed,
				}).Info("queue: message handed to engine")
			}
		}
	}

	// the random part prevents systematic collisions with other devices
	wait := scheduler.MS(500) + scheduler.MS(int64(q.rnd.Intn(500)))
	q.sched.ScheduleAt(j, q.sched.Now()+wait, q.pump)
}
