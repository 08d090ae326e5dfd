// Package taskqueue runs functions off the caller's goroutine,
// one at a time and in submission order, and reports their
// results through futures.
package taskqueue

import (
	"errors"
	"fmt"
	"sync"

	"github.com/emirpasic/gods/queues/linkedlistqueue"
)

// ErrClosed is the result of tasks submitted to a closed queue
var ErrClosed = errors.New("task queue was closed")

// Queue is an unbounded FIFO of tasks served by a single worker
// goroutine. The worker only exists while there is work to do.
type Queue struct {
	mu      sync.Mutex
	tasks   *linkedlistqueue.Queue
	running bool
	closed  bool
	idle    *sync.Cond
}

// New creates an empty queue
func New() *Queue {
	queue := &Queue{tasks: linkedlistqueue.New()}
	queue.idle = sync.NewCond(&queue.mu)

	return queue
}

// Enqueue appends task to the queue. Tasks run in the order
// they were enqueued and never concurrently with each other.
func (queue *Queue) Enqueue(task func()) error {
	queue.mu.Lock()
	defer queue.mu.Unlock()

	if queue.closed {
		return ErrClosed
	}

	queue.tasks.Enqueue(task)

	if !queue.running {
		queue.running = true

		go queue.work()
	}

	return nil
}

func (queue *Queue) work() {
	for {
		queue.mu.Lock()
		next, ok := queue.tasks.Dequeue()

		if !ok {
			queue.running = false
			queue.idle.Broadcast()
			queue.mu.Unlock()

			return
		}

		queue.mu.Unlock()

		next.(func())()
	}
}

// Close stops the queue from accepting new tasks and waits
// for the tasks already enqueued to finish.
func (queue *Queue) Close() {
	queue.mu.Lock()
	defer queue.mu.Unlock()

	queue.closed = true

	for queue.running {
		queue.idle.Wait()
	}
}

// Submit runs fn on queue and returns a future for its result.
// A panic in fn is reported as the future's error.
func Submit[T any](queue *Queue, fn func() (T, error)) *Future[T] {
	future := newFuture[T]()

	err := queue.Enqueue(func() {
		var value T
		var err error

		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("task panicked: %v", r)
			}

			future.resolve(value, err)
		}()

		value, err = fn()
	})

	if err != nil {
		var zero T

		future.resolve(zero, err)
	}

	return future
}
