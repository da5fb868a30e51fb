package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBusDeliversInSubscriptionOrder(t *testing.T) {
	bus := NewBus()
	var got []string

	bus.On(ValidationComplete, func(Event) { got = append(got, "first") })
	bus.On(ValidationComplete, func(Event) { got = append(got, "second") })
	bus.On(OutOfSpecAlert, func(Event) { got = append(got, "other") })

	bus.Emit(New(ValidationComplete, "s-1", nil))
	assert.Equal(t, []string{"first", "second"}, got)
}

func TestBusUnsubscribe(t *testing.T) {
	bus := NewBus()
	calls := 0
	off := bus.On(WorkflowCreated, func(Event) { calls++ })

	bus.Emit(New(WorkflowCreated, "wf-1", nil))
	off()
	off()
	bus.Emit(New(WorkflowCreated, "wf-1", nil))

	assert.Equal(t, 1, calls)
	assert.Equal(t, 0, bus.Subscribers(WorkflowCreated))
}

func TestBusRecoversHandlerPanic(t *testing.T) {
	bus := NewBus()
	reached := false
	bus.On(SignatureAdded, func(Event) { panic("boom") })
	bus.On(SignatureAdded, func(Event) { reached = true })

	assert.NotPanics(t, func() { bus.Emit(New(SignatureAdded, "wf-1", nil)) })
	assert.True(t, reached, "handlers after a panicking one still run")
}

func TestOnEach(t *testing.T) {
	bus := NewBus()
	var mu sync.Mutex
	seen := map[string]int{}
	off := bus.OnEach(Names(), func(e Event) {
		mu.Lock()
		seen[e.Name]++
		mu.Unlock()
	})

	for _, name := range Names() {
		bus.Emit(New(name, "x", nil))
	}
	off()
	bus.Emit(New(WorkflowTimeout, "x", nil))

	assert.Len(t, seen, len(Names()))
	assert.Equal(t, 1, seen[WorkflowTimeout])
}

func TestAsyncDropsWhenFull(t *testing.T) {
	release := make(chan struct{})
	var delivered []string
	var mu sync.Mutex

	a := Async(func(e Event) {
		<-release
		mu.Lock()
		delivered = append(delivered, e.EntityID)
		mu.Unlock()
	}, 1)

	// The worker takes the first event and blocks; the second fills the queue.
	a.Handle(New(ValidationComplete, "1", nil))
	require.Eventually(t, func() bool { return len(a.queue) == 0 }, time.Second, time.Millisecond)
	a.Handle(New(ValidationComplete, "2", nil))
	a.Handle(New(ValidationComplete, "3", nil))

	assert.Equal(t, int64(1), a.Dropped())

	close(release)
	a.Close()
	assert.Equal(t, []string{"1", "2"}, delivered)

	a.Handle(New(ValidationComplete, "4", nil))
	assert.Equal(t, int64(2), a.Dropped(), "events after Close are dropped")
}

type fakeWriter struct {
	mu       sync.Mutex
	failures int
	messages []kafka.Message
	calls    int
}

func (w *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.calls++
	if w.failures > 0 {
		w.failures--
		return errors.New("leader not available")
	}
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

func TestKafkaPublisherRetries(t *testing.T) {
	w := &fakeWriter{failures: 2}
	p := newKafkaPublisher(w, KafkaConfig{MaxAttempts: 3})
	p.backoff = time.Millisecond

	err := p.Publish(context.Background(), New(WorkflowCompleted, "wf-9", map[string]string{"status": "COMPLETED"}))
	require.NoError(t, err)
	require.Len(t, w.messages, 1)
	assert.Equal(t, 3, w.calls)

	msg := w.messages[0]
	assert.Equal(t, "wf-9", string(msg.Key))

	var envelope Event
	require.NoError(t, json.Unmarshal(msg.Value, &envelope))
	assert.Equal(t, WorkflowCompleted, envelope.Name)
	assert.Equal(t, "wf-9", envelope.EntityID)
}

func TestKafkaPublisherGivesUp(t *testing.T) {
	w := &fakeWriter{failures: 10}
	p := newKafkaPublisher(w, KafkaConfig{MaxAttempts: 2})
	p.backoff = time.Millisecond

	err := p.Publish(context.Background(), New(WorkflowTimeout, "wf-1", nil))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 2 attempts")
	assert.Equal(t, 2, w.calls)
}

func TestNewKafkaPublisherValidatesConfig(t *testing.T) {
	_, err := NewKafkaPublisher(KafkaConfig{Topic: "t"})
	assert.Error(t, err)
	_, err = NewKafkaPublisher(KafkaConfig{Brokers: []string{"localhost:9092"}})
	assert.Error(t, err)
}
