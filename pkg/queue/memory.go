package queue

import (
	"context"
	"sync"
)

const (
	// QueueBufferSize represents the default maximum size of a queue
	QueueBufferSize = 1024
)

var _ Queue = &InMemoryQueue{}

// InMemoryQueue implements an in-memory queue.
type InMemoryQueue struct {
	ch chan interface{}
	// lock serializes draining so that ReadAllMessages returns a consistent batch.
	lock sync.Mutex
}

// NewInMemoryQueue creates a new queue holding at most size items.
func NewInMemoryQueue(size int) *InMemoryQueue {
	if size <= 0 {
		size = QueueBufferSize
	}
	return &InMemoryQueue{
		ch: make(chan interface{}, size),
	}
}

// Enqueue adds an item to the end of the queue, waiting for room until ctx is done.
func (q *InMemoryQueue) Enqueue(ctx context.Context, item interface{}) error {
	select {
	case q.ch <- item:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Dequeue removes and returns the item from the front of the queue, waiting until one is available or ctx is done.
func (q *InMemoryQueue) Dequeue(ctx context.Context) (interface{}, error) {
	select {
	case item := <-q.ch:
		return item, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Size returns the current size of the queue.
func (q *InMemoryQueue) Size() int {
	return len(q.ch)
}

// ReadAllMessages removes and returns every pending message.
func (q *InMemoryQueue) ReadAllMessages() []interface{} {
	q.lock.Lock()
	defer q.lock.Unlock()

	var messages []interface{}
	for {
		select {
		case item := <-q.ch:
			messages = append(messages, item)
		default:
			return messages
		}
	}
}
