package inference

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// SessionPool spreads Infer calls over several handles loaded from the same
// model, so up to Size calls run in parallel.
type SessionPool struct {
	sessions chan Handle
	size     int
	shape    Shape
	done     chan struct{}
	closed   atomic.Bool
	mu       sync.Mutex
	metrics  *PoolMetrics
}

type PoolMetrics struct {
	mu            sync.RWMutex
	inUse         int
	totalAcquired int64
	totalReleased int64
	waitTime      time.Duration
}

// PoolStats is a point-in-time copy of the pool counters.
type PoolStats struct {
	Size          int           `json:"pool_size"`
	InUse         int           `json:"sessions_in_use"`
	TotalAcquired int64         `json:"total_acquired"`
	TotalReleased int64         `json:"total_released"`
	WaitTime      time.Duration `json:"wait_time_ns"`
}

// NewSessionPool takes ownership of handles, which must all report the same
// shape.
func NewSessionPool(handles []Handle) (*SessionPool, error) {
	if len(handles) == 0 {
		return nil, errors.New("session pool needs at least one handle")
	}

	shape := handles[0].Shape()
	pool := &SessionPool{
		sessions: make(chan Handle, len(handles)),
		size:     len(handles),
		shape:    shape,
		done:     make(chan struct{}),
		metrics:  &PoolMetrics{},
	}
	for i, h := range handles {
		if h.Shape() != shape {
			return nil, fmt.Errorf("session %d shape %v differs from %v", i, h.Shape(), shape)
		}
		pool.sessions <- h
	}
	return pool, nil
}

func (p *SessionPool) Shape() Shape { return p.shape }

func (p *SessionPool) Concurrency() int { return p.size }

func (p *SessionPool) Infer(input []float32) ([]float32, error) {
	session, err := p.acquire()
	if err != nil {
		return nil, err
	}
	defer p.release(session)

	return session.Infer(input)
}

func (p *SessionPool) acquire() (Handle, error) {
	if p.closed.Load() {
		return nil, ErrNotInitialized
	}

	start := time.Now()
	defer func() {
		p.metrics.mu.Lock()
		p.metrics.waitTime += time.Since(start)
		p.metrics.mu.Unlock()
	}()

	select {
	case session := <-p.sessions:
		if p.closed.Load() {
			p.sessions <- session
			return nil, ErrNotInitialized
		}
		p.metrics.mu.Lock()
		p.metrics.inUse++
		p.metrics.totalAcquired++
		p.metrics.mu.Unlock()
		return session, nil
	case <-p.done:
		return nil, ErrNotInitialized
	}
}

func (p *SessionPool) release(session Handle) {
	p.metrics.mu.Lock()
	p.metrics.inUse--
	p.metrics.totalReleased++
	p.metrics.mu.Unlock()

	p.sessions <- session
}

// Release waits for every session to come back and then frees them all.
func (p *SessionPool) Release() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed.Swap(true) {
		return nil
	}
	close(p.done)

	var errs []error
	for i := 0; i < p.size; i++ {
		session := <-p.sessions
		errs = append(errs, session.Release())
	}
	return errors.Join(errs...)
}

func (p *SessionPool) GetMetrics() PoolStats {
	p.metrics.mu.RLock()
	defer p.metrics.mu.RUnlock()
	return PoolStats{
		Size:          p.size,
		InUse:         p.metrics.inUse,
		TotalAcquired: p.metrics.totalAcquired,
		TotalReleased: p.metrics.totalReleased,
		WaitTime:      p.metrics.waitTime,
	}
}
