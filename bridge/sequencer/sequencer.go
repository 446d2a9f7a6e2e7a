package sequencer

import (
	"context"
	"errors"
	"sync"
)

var ErrClosed = errors.New("sequencer closed")

// Sequencer runs submitted tasks one at a time, in submission order, on a
// single goroutine. It is the cooperative task sequencer for one player
// instance: observer triggers and user commands both enqueue here instead
// of mutating queue state from independent goroutines.
type Sequencer struct {
	tasks  chan func()
	wg     sync.WaitGroup
	mu     sync.Mutex
	closed bool
}

// New creates a sequencer with the given queue depth.
func New(queueSize int) *Sequencer {
	if queueSize < 8 {
		queueSize = 8
	}

	s := &Sequencer{
		tasks: make(chan func(), queueSize),
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for task := range s.tasks {
			if task != nil {
				task()
			}
		}
	}()

	return s
}

// Submit enqueues a task for execution. The lock is held across the send
// so Shutdown cannot close the channel between the closed check and the
// enqueue; the worker drains without taking the lock, so a full queue
// still makes progress.
func (s *Sequencer) Submit(task func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.tasks <- task
	return nil
}

// SubmitWait enqueues a task and waits for it to complete.
func (s *Sequencer) SubmitWait(task func() error) error {
	if task == nil {
		return nil
	}

	result := make(chan error, 1)
	err := s.Submit(func() {
		result <- task()
	})
	if err != nil {
		return err
	}

	return <-result
}

// Shutdown waits for in-flight tasks until context is done.
func (s *Sequencer) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.tasks)
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}
