package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"
)

var ErrExecutorClosed = errors.New("executor is closed")

// PanicError is the failure delivered for a task that panicked.
type PanicError struct {
	Task  string
	Value interface{}
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("task %s panicked: %v", e.Task, e.Value)
}

// Executor runs tasks on background goroutines. With maxWorkers > 0 at most
// that many run at once and the rest wait their turn; submission never
// blocks the caller. No ordering is kept between tasks.
type Executor struct {
	sem        *semaphore.Weighted
	maxWorkers int
	logger     *log.Entry

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup

	submitted atomic.Int64
	succeeded atomic.Int64
	failed    atomic.Int64
	inFlight  atomic.Int64
}

type Stats struct {
	MaxWorkers int   `json:"max_workers"`
	Submitted  int64 `json:"submitted"`
	Succeeded  int64 `json:"succeeded"`
	Failed     int64 `json:"failed"`
	InFlight   int64 `json:"in_flight"`
}

// NewExecutor creates an executor; maxWorkers <= 0 means unbounded.
func NewExecutor(maxWorkers int, logger *log.Entry) *Executor {
	if logger == nil {
		logger = log.NewEntry(log.StandardLogger())
	}
	e := &Executor{logger: logger}
	if maxWorkers > 0 {
		e.sem = semaphore.NewWeighted(int64(maxWorkers))
		e.maxWorkers = maxWorkers
	}
	return e
}

// Submit schedules fn and returns its future immediately. After Close the
// future fails with ErrExecutorClosed.
func Submit[T any](e *Executor, name string, fn func() (T, error)) *Future[T] {
	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		var zero T
		return Completed(zero, fmt.Errorf("submit %s: %w", name, ErrExecutorClosed))
	}
	e.wg.Add(1)
	e.mu.RUnlock()

	f := newFuture[T]()
	e.submitted.Add(1)
	e.inFlight.Add(1)
	logger := e.logger.WithFields(log.Fields{"task": name, "task_id": uuid.NewString()})

	go func() {
		if e.sem != nil {
			// Background never cancels, so Acquire cannot fail.
			_ = e.sem.Acquire(context.Background(), 1)
		}

		start := time.Now()
		v, err := call(name, fn)
		e.inFlight.Add(-1)
		if e.sem != nil {
			e.sem.Release(1)
		}
		// Continuations run after Done so they may call Close themselves.
		e.wg.Done()

		if err != nil {
			e.failed.Add(1)
			logger.WithError(err).WithField("elapsed", time.Since(start)).Debug("Task failed")
		} else {
			e.succeeded.Add(1)
			logger.WithField("elapsed", time.Since(start)).Debug("Task done")
		}
		f.complete(v, err)
	}()

	return f
}

func call[T any](name string, fn func() (T, error)) (v T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Task: name, Value: r}
		}
	}()
	return fn()
}

// Close rejects new work and waits for submitted tasks to finish; it does not
// wait for their continuations. It is safe to call more than once.
func (e *Executor) Close() {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	e.wg.Wait()
}

func (e *Executor) Stats() Stats {
	return Stats{
		MaxWorkers: e.maxWorkers,
		Submitted:  e.submitted.Load(),
		Succeeded:  e.succeeded.Load(),
		Failed:     e.failed.Load(),
		InFlight:   e.inFlight.Load(),
	}
}
