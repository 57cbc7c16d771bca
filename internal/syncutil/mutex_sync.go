//go:build !deadlock
// +build !deadlock

// Package syncutil provides the mutex types used by the goroutine facing
// parts of the device (interrupt delivery, the send queue and the MQTT radio).
// Build with -tags=deadlock to enable lock-order checking through
// github.com/sasha-s/go-deadlock.
package syncutil

import "sync"

// Mutex wraps sync.Mutex.
type Mutex struct {
	sync.Mutex
}

// RWMutex wraps sync.RWMutex.
type RWMutex struct {
	sync.RWMutex
}
