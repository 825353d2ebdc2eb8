package server

import "errors"

// ErrQueueFull is returned when a run cannot be accepted right now.
var ErrQueueFull = errors.New("run queue full")

// Queue is a channel-backed FIFO of pending run IDs.
type Queue struct {
	ch chan string
}

// NewQueue creates a queue holding up to capacity pending runs.
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 16
	}
	return &Queue{ch: make(chan string, capacity)}
}

// Enqueue adds a run without blocking.
func (q *Queue) Enqueue(id string) error {
	select {
	case q.ch <- id:
		return nil
	default:
		return ErrQueueFull
	}
}

// C exposes the receive side for the worker loop.
func (q *Queue) C() <-chan string {
	return q.ch
}
