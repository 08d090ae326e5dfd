package taskqueue

import "sync"

// Future is the eventual result of a submitted task
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

func (future *Future[T]) resolve(value T, err error) {
	future.mu.Lock()
	future.value = value
	future.err = err
	callbacks := future.callbacks
	future.callbacks = nil
	close(future.done)
	future.mu.Unlock()

	for _, cb := range callbacks {
		cb(value, err)
	}
}

// Done is closed once the result is available
func (future *Future[T]) Done() <-chan struct{} {
	return future.done
}

// Wait blocks until the task completes and returns its result
func (future *Future[T]) Wait() (T, error) {
	<-future.done

	return future.value, future.err
}

// OnComplete registers cb to receive the result. Callbacks registered
// before completion run on the queue's worker in registration order
// and must not block. If the result is already available cb runs
// immediately on the calling goroutine.
func (future *Future[T]) OnComplete(cb func(T, error)) {
	future.mu.Lock()

	select {
	case <-future.done:
		future.mu.Unlock()
		cb(future.value, future.err)

		return
	default:
	}

	future.callbacks = append(future.callbacks, cb)
	future.mu.Unlock()
}
