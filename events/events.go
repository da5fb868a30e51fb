package events

import (
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/liamcoop/torquesign/internal/logger"
)

const (
	ValidationComplete = "validationComplete"
	OutOfSpecAlert     = "outOfSpecAlert"
	WorkflowCreated    = "workflowCreated"
	SignatureAdded     = "signatureAdded"
	WorkflowCompleted  = "workflowCompleted"
	WorkflowRejected   = "workflowRejected"
	WorkflowWithdrawn  = "workflowWithdrawn"
	WorkflowTimeout    = "workflowTimeout"
	WorkflowEscalated  = "workflowEscalated"
	DelegationCreated  = "delegationCreated"
)

// Names lists every event the core emits
func Names() []string {
	return []string{
		ValidationComplete, OutOfSpecAlert,
		WorkflowCreated, SignatureAdded, WorkflowCompleted, WorkflowRejected,
		WorkflowWithdrawn, WorkflowTimeout, WorkflowEscalated, DelegationCreated,
	}
}

// Event is a named notification about one entity. Payload is a snapshot; handlers
// must not mutate it.
type Event struct {
	Name     string    `json:"name"`
	Time     time.Time `json:"time"`
	EntityID string    `json:"entityId"`
	Payload  any       `json:"payload,omitempty"`
}

// New stamps an event with the current time
func New(name, entityID string, payload any) Event {
	return Event{Name: name, Time: time.Now().UTC(), EntityID: entityID, Payload: payload}
}

type Handler func(Event)

// Emitter is what producers of events depend on
type Emitter interface {
	Emit(Event)
}

type subscriber struct {
	id      uint64
	handler Handler
}

// Bus delivers events synchronously, in subscription order, on the emitting
// goroutine. A panicking handler is logged and does not stop delivery.
type Bus struct {
	mu     sync.RWMutex
	subs   map[string][]subscriber
	nextID uint64
}

func NewBus() *Bus {
	return &Bus{subs: make(map[string][]subscriber)}
}

// On subscribes handler to name and returns a function that removes it
func (b *Bus) On(name string, handler Handler) func() {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs[name] = append(b.subs[name], subscriber{id: id, handler: handler})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { b.off(name, id) })
	}
}

// OnEach subscribes handler to every name in names
func (b *Bus) OnEach(names []string, handler Handler) func() {
	offs := make([]func(), 0, len(names))
	for _, name := range names {
		offs = append(offs, b.On(name, handler))
	}
	return func() {
		for _, off := range offs {
			off()
		}
	}
}

func (b *Bus) off(name string, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subs[name]
	for i, s := range subs {
		if s.id == id {
			kept := make([]subscriber, 0, len(subs)-1)
			kept = append(kept, subs[:i]...)
			kept = append(kept, subs[i+1:]...)
			b.subs[name] = kept
			return
		}
	}
}

// Emit delivers e to every current subscriber of e.Name
func (b *Bus) Emit(e Event) {
	b.mu.RLock()
	subs := b.subs[e.Name]
	b.mu.RUnlock()

	for _, s := range subs {
		deliver(s.handler, e)
	}
}

func deliver(h Handler, e Event) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("event handler panicked",
				"event", e.Name,
				"entity_id", e.EntityID,
				"panic", fmt.Sprint(r),
				"stack", string(debug.Stack()))
		}
	}()
	h(e)
}

// Subscribers reports how many handlers listen to name
func (b *Bus) Subscribers(name string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[name])
}

// Discard drops every event
type Discard struct{}

func (Discard) Emit(Event) {}
