package bridge

import (
	"context"
	"sync"
)

// Future is the pending result of a submitted task. It completes exactly once.
type Future[T any] struct {
	done      chan struct{}
	mu        sync.Mutex
	value     T
	err       error
	callbacks []func(T, error)
}

func newFuture[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

// Completed returns a future that has already finished with v and err.
func Completed[T any](v T, err error) *Future[T] {
	f := newFuture[T]()
	f.complete(v, err)
	return f
}

// complete records the outcome and runs the registered continuations on the
// calling goroutine. Only the first call has an effect.
func (f *Future[T]) complete(v T, err error) bool {
	f.mu.Lock()
	select {
	case <-f.done:
		f.mu.Unlock()
		return false
	default:
	}
	f.value, f.err = v, err
	close(f.done)
	callbacks := f.callbacks
	f.callbacks = nil
	f.mu.Unlock()

	for _, fn := range callbacks {
		fn(v, err)
	}
	return true
}

// Done is closed once the future has completed.
func (f *Future[T]) Done() <-chan struct{} { return f.done }

// Await blocks until completion or until ctx ends. Giving up on the wait does
// not stop the task.
func (f *Future[T]) Await(ctx context.Context) (T, error) {
	select {
	case <-f.Done():
		return f.value, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Wait blocks until completion.
func (f *Future[T]) Wait() (T, error) {
	<-f.done
	return f.value, f.err
}

// OnComplete registers fn to run once with the outcome. If the future is
// already complete fn runs on a new goroutine.
func (f *Future[T]) OnComplete(fn func(T, error)) *Future[T] {
	f.mu.Lock()
	select {
	case <-f.done:
		f.mu.Unlock()
		go fn(f.value, f.err)
	default:
		f.callbacks = append(f.callbacks, fn)
		f.mu.Unlock()
	}
	return f
}

func (f *Future[T]) OnSuccess(fn func(T)) *Future[T] {
	return f.OnComplete(func(v T, err error) {
		if err == nil {
			fn(v)
		}
	})
}

func (f *Future[T]) OnFailure(fn func(error)) *Future[T] {
	return f.OnComplete(func(_ T, err error) {
		if err != nil {
			fn(err)
		}
	})
}
