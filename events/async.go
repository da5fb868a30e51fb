package events

import (
	"sync"
	"sync/atomic"

	"github.com/liamcoop/torquesign/internal/metrics"
)

// AsyncHandler moves delivery to a worker goroutine behind a bounded queue.
// When the queue is full the event is dropped and counted; the emitter never
// blocks.
type AsyncHandler struct {
	queue   chan Event
	handler Handler
	done    chan struct{}
	dropped atomic.Int64

	mu     sync.RWMutex
	closed bool
}

// Async starts a worker that runs handler for each queued event
func Async(handler Handler, buffer int) *AsyncHandler {
	if buffer < 1 {
		buffer = 1
	}
	a := &AsyncHandler{
		queue:   make(chan Event, buffer),
		handler: handler,
		done:    make(chan struct{}),
	}
	go a.run()
	return a
}

func (a *AsyncHandler) run() {
	defer close(a.done)
	for e := range a.queue {
		deliver(a.handler, e)
	}
}

// Handle enqueues e. It is a Handler and can be passed to Bus.On.
func (a *AsyncHandler) Handle(e Event) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.closed {
		a.drop(e)
		return
	}
	select {
	case a.queue <- e:
	default:
		a.drop(e)
	}
}

func (a *AsyncHandler) drop(e Event) {
	a.dropped.Add(1)
	metrics.EventDropped(e.Name)
}

// Dropped reports how many events were discarded
func (a *AsyncHandler) Dropped() int64 {
	return a.dropped.Load()
}

// Close stops accepting events and waits for the queue to drain
func (a *AsyncHandler) Close() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		<-a.done
		return
	}
	a.closed = true
	close(a.queue)
	a.mu.Unlock()
	<-a.done
}
