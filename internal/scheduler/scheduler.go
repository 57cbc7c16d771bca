// Package scheduler implements the cooperative job scheduler driving the
// LoRaWAN device. Exactly one job callback is executing at any time. Jobs are
// either runnable (FIFO) or scheduled for a deadline (sorted list).
//
// All queue operations must be called from the goroutine executing Run (or
// RunOnce). Interrupt is the only method that may be called from other
// goroutines, its handler is delivered on the run-loop goroutine.
package scheduler

import (
	"context"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/brocaar/chirpstack-lorawan-device/internal/syncutil"
)

// Callback defines the function executed when a job is due.
type Callback func(j *Job)

// Job defines a deferred action. A Job is part of at most one queue.
type Job struct {
	deadline Ticks
	callback Callback
	next     *Job
}

// Deadline returns the deadline the job was last scheduled for.
func (j *Job) Deadline() Ticks {
	return j.deadline
}

type interrupt struct {
	stamp   Ticks
	handler func(stamp Ticks)
}

// Scheduler implements the job scheduler.
type Scheduler struct {
	clock Clock

	runnable     *Job
	runnableTail *Job
	scheduled    *Job

	// interrupt mask depth
	irqDepth int

	mu      syncutil.Mutex
	pending []interrupt
	wake    chan struct{}

	fault error
}

// New creates a new Scheduler using the given clock.
func New(c Clock) *Scheduler {
	return &Scheduler{
		clock: c,
		wake:  make(chan struct{}, 1),
	}
}

// Clock returns the clock of the scheduler.
func (s *Scheduler) Clock() Clock {
	return s.clock
}

// Now returns the current tick.
func (s *Scheduler) Now() Ticks {
	return s.clock.Now()
}

// DisableIRQ masks interrupt delivery. Calls can be nested, delivery is
// only resumed by the outermost matching EnableIRQ.
func (s *Scheduler) DisableIRQ() {
	s.irqDepth++
}

// EnableIRQ unmasks interrupt delivery. When the outermost mask is removed,
// interrupts that were raised in the meantime are serviced.
func (s *Scheduler) EnableIRQ() {
	if s.irqDepth == 0 {
		s.Fault(errors.New("scheduler: unbalanced EnableIRQ"))
		return
	}
	s.irqDepth--
	if s.irqDepth == 0 {
		s.serviceInterrupts()
	}
}

// Interrupt captures the current tick and delivers the handler with that
// timestamp on the run-loop goroutine. It is safe to call from any
// goroutine.
func (s *Scheduler) Interrupt(handler func(stamp Ticks)) {
	stamp := s.clock.Now()

	s.mu.Lock()
	s.pending = append(s.pending, interrupt{stamp: stamp, handler: handler})
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Scheduler) serviceInterrupts() bool {
	if s.irqDepth != 0 {
		return false
	}

	select {
	case <-s.wake:
	default:
	}

	s.mu.Lock()
	pending := s.pending
	s.pending = nil
	s.mu.Unlock()

	for _, irq := range pending {
		irq.handler(irq.stamp)
	}
	return len(pending) != 0
}

func (s *Scheduler) hasPendingInterrupts() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending) != 0
}

// unlink removes the job from the list and returns true when it was found.
func unlink(head **Job, j *Job) bool {
	for pp := head; *pp != nil; pp = &(*pp).next {
		if *pp == j {
			*pp = j.next
			j.next = nil
			return true
		}
	}
	return false
}

func (s *Scheduler) unlink(j *Job) {
	if unlink(&s.runnable, j) {
		s.runnableTail = nil
		for r := s.runnable; r != nil; r = r.next {
			s.runnableTail = r
		}
		return
	}
	unlink(&s.scheduled, j)
}

// Cancel removes the job from whichever queue holds it. Cancelling a job
// that is not queued is a no-op.
func (s *Scheduler) Cancel(j *Job) {
	s.DisableIRQ()
	s.unlink(j)
	s.EnableIRQ()
}

// ScheduleNow appends the job to the tail of the runnable queue.
func (s *Scheduler) ScheduleNow(j *Job, cb Callback) {
	s.DisableIRQ()
	s.unlink(j)
	j.deadline = s.clock.Now()
	j.callback = cb
	j.next = nil
	if s.runnableTail == nil {
		s.runnable = j
	} else {
		s.runnableTail.next = j
	}
	s.runnableTail = j
	s.EnableIRQ()
}

// ScheduleAt inserts the job in the scheduled queue for the given
// deadline. Jobs with equal deadlines run in insertion order.
func (s *Scheduler) ScheduleAt(j *Job, deadline Ticks, cb Callback) {
	s.DisableIRQ()
	s.unlink(j)
	j.deadline = deadline
	j.callback = cb

	pp := &s.scheduled
	for ; *pp != nil; pp = &(*pp).next {
		if After((*pp).deadline, deadline) {
			break
		}
	}
	j.next = *pp
	*pp = j
	s.EnableIRQ()
}

// Fault records a fatal error. The first fault is kept and makes Run and
// RunUntil return.
func (s *Scheduler) Fault(err error) {
	if s.fault != nil {
		return
	}
	log.WithError(err).Error("scheduler: fault raised")
	s.fault = err
}

// Err returns the recorded fault, or nil.
func (s *Scheduler) Err() error {
	return s.fault
}

// Idle returns true when no job is queued.
func (s *Scheduler) Idle() bool {
	return s.runnable == nil && s.scheduled == nil && !s.hasPendingInterrupts()
}

// next pops the job to execute, or returns nil when no job is due.
func (s *Scheduler) next(now Ticks) *Job {
	s.DisableIRQ()
	defer s.EnableIRQ()

	if j := s.runnable; j != nil {
		s.runnable = j.next
		if s.runnable == nil {
			s.runnableTail = nil
		}
		j.next = nil
		return j
	}

	if j := s.scheduled; j != nil && !After(j.deadline, now) {
		s.scheduled = j.next
		j.next = nil
		return j
	}

	return nil
}

func (s *Scheduler) runDue() bool {
	serviced := s.serviceInterrupts()
	j := s.next(s.clock.Now())
	if j == nil {
		return serviced
	}
	j.callback(j)
	return true
}

// RunOnce services pending interrupts and executes one runnable or due job.
// When there is nothing to do, it waits until the next deadline or an
// interrupt. It returns true when a handler or job was executed.
func (s *Scheduler) RunOnce(ctx context.Context) bool {
	if s.runDue() {
		return true
	}

	if s.hasPendingInterrupts() {
		return false
	}

	d := Ticks(-1)
	if s.scheduled != nil {
		d = s.scheduled.deadline - s.clock.Now()
		if d < 0 {
			d = 0
		}
	}
	s.clock.Sleep(ctx, d, s.wake)
	return false
}

// Run executes jobs until the context is cancelled or a fault is raised.
func (s *Scheduler) Run(ctx context.Context) error {
	for {
		if s.fault != nil {
			return errors.Wrap(s.fault, "scheduler fault")
		}
		if ctx.Err() != nil {
			return nil
		}
		s.RunOnce(ctx)
	}
}

// RunUntil executes every job that is due at or before until and returns
// once the clock has reached until. The wait for an indefinite amount of
// time (no scheduled job) is limited to until.
func (s *Scheduler) RunUntil(ctx context.Context, until Ticks) error {
	for {
		if s.fault != nil {
			return errors.Wrap(s.fault, "scheduler fault")
		}
		if ctx.Err() != nil {
			return nil
		}
		if s.runDue() {
			continue
		}
		if s.hasPendingInterrupts() {
			continue
		}

		now := s.clock.Now()
		if !After(until, now) {
			return nil
		}

		wait := until - now
		if s.scheduled != nil && !After(s.scheduled.deadline, until) {
			wait = s.scheduled.deadline - now
			if wait < 0 {
				wait = 0
			}
		}
		s.clock.Sleep(ctx, wait, s.wake)
	}
}
