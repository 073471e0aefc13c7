package alert

import (
	"context"
	"sync"
)

// Dispatcher fans session snapshots out to UI subscribers. Publishing never
// blocks: a subscriber that falls behind misses intermediate snapshots and
// catches up on the next one.
type Dispatcher struct {
	mu          sync.RWMutex
	subscribers map[int64]chan Session
	nextID      int64
	bufferSize  int
}

// NewDispatcher creates a session dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		subscribers: make(map[int64]chan Session),
		bufferSize:  16,
	}
}

// Subscribe registers a listener for session transitions. Delivery stops when
// ctx ends; receivers should also select on ctx.Done. The stream is not
// closed, so a concurrent Publish can never hit a closed channel.
func (d *Dispatcher) Subscribe(ctx context.Context) (<-chan Session, func()) {
	d.mu.Lock()
	d.nextID++
	id := d.nextID
	stream := make(chan Session, d.bufferSize)
	d.subscribers[id] = stream
	d.mu.Unlock()

	cleanup := func() {
		d.mu.Lock()
		delete(d.subscribers, id)
		d.mu.Unlock()
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return stream, cleanup
}

// Publish sends a snapshot to every subscriber, dropping for slow ones.
func (d *Dispatcher) Publish(session Session) {
	d.mu.RLock()
	streams := make([]chan Session, 0, len(d.subscribers))
	for _, stream := range d.subscribers {
		streams = append(streams, stream)
	}
	d.mu.RUnlock()

	for _, stream := range streams {
		select {
		case stream <- session:
		default:
		}
	}
}
