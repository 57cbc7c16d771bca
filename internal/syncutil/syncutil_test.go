package syncutil

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMutex(t *testing.T) {
	assert := require.New(t)

	var mu Mutex
	var wg sync.WaitGroup
	count := 0

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			mu.Lock()
			count++
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(10, count)
}

func TestRWMutex(t *testing.T) {
	assert := require.New(t)

	var mu RWMutex
	mu.RLock()
	mu.RLock()
	mu.RUnlock()
	mu.RUnlock()

	mu.Lock()
	mu.Unlock()
	assert.True(true)
}
