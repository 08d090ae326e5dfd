package taskqueue_test

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/jrife/kvault/utils/taskqueue"
)

func TestSubmissionOrder(t *testing.T) {
	queue := taskqueue.New()
	defer queue.Close()

	var mu sync.Mutex
	order := []int{}
	futures := []*taskqueue.Future[int]{}

	for i := 0; i < 100; i++ {
		i := i

		futures = append(futures, taskqueue.Submit(queue, func() (int, error) {
			mu.Lock()
			defer mu.Unlock()

			order = append(order, i)

			return i * 2, nil
		}))
	}

	expected := []int{}

	for i, future := range futures {
		value, err := future.Wait()

		if err != nil {
			t.Fatalf("expected err to be nil, got %#v", err)
		}

		if value != i*2 {
			t.Fatalf("expected %d, got %d", i*2, value)
		}

		expected = append(expected, i)
	}

	if diff := cmp.Diff(expected, order); diff != "" {
		t.Fatal(diff)
	}
}

func TestErrorsAndPanics(t *testing.T) {
	queue := taskqueue.New()
	defer queue.Close()

	errBoom := errors.New("boom")

	_, err := taskqueue.Submit(queue, func() (bool, error) { return false, errBoom }).Wait()

	if err != errBoom {
		t.Fatalf("expected errBoom, got %#v", err)
	}

	_, err = taskqueue.Submit(queue, func() (bool, error) { panic("oops") }).Wait()

	if err == nil {
		t.Fatalf("expected panic to be reported as an error")
	}

	// The worker survives a panicking task
	value, err := taskqueue.Submit(queue, func() (string, error) { return "ok", nil }).Wait()

	if err != nil || value != "ok" {
		t.Fatalf("expected ok, got %q %#v", value, err)
	}
}

func TestOnComplete(t *testing.T) {
	queue := taskqueue.New()
	defer queue.Close()

	release := make(chan struct{})
	future := taskqueue.Submit(queue, func() (int, error) {
		<-release

		return 7, nil
	})

	results := make(chan int, 2)

	future.OnComplete(func(value int, err error) { results <- value })
	close(release)

	select {
	case value := <-results:
		if value != 7 {
			t.Fatalf("expected 7, got %d", value)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("callback never ran")
	}

	// Registered after completion
	future.OnComplete(func(value int, err error) { results <- value })

	if value := <-results; value != 7 {
		t.Fatalf("expected 7, got %d", value)
	}
}

func TestClosedQueue(t *testing.T) {
	queue := taskqueue.New()
	ran := false

	taskqueue.Submit(queue, func() (int, error) {
		time.Sleep(10 * time.Millisecond)
		ran = true

		return 0, nil
	})

	queue.Close()

	if !ran {
		t.Fatalf("expected Close to wait for queued tasks")
	}

	if _, err := taskqueue.Submit(queue, func() (int, error) { return 1, nil }).Wait(); err != taskqueue.ErrClosed {
		t.Fatalf("expected ErrClosed, got %#v", err)
	}
}
