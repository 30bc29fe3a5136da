package lifecycle

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	cloudevents "github.com/cloudevents/sdk-go/v2"
)

// Recorder is an observer that keeps every event it receives, in order.
// Tests use it to assert on emitted lifecycle events.
type Recorder struct {
	id     string
	mu     sync.RWMutex
	events []cloudevents.Event
	limit  int
}

// NewRecorder returns a recorder that keeps at most limit events (0 keeps all).
func NewRecorder(id string, limit int) *Recorder {
	return &Recorder{id: id, limit: limit}
}

// OnEvent stores the event.
func (r *Recorder) OnEvent(_ context.Context, event cloudevents.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	if r.limit > 0 && len(r.events) > r.limit {
		r.events = r.events[len(r.events)-r.limit:]
	}
	return nil
}

// ObserverID returns the recorder's id.
func (r *Recorder) ObserverID() string { return r.id }

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []cloudevents.Event {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]cloudevents.Event, len(r.events))
	copy(out, r.events)
	return out
}

// OfType returns the recorded events of one type.
func (r *Recorder) OfType(eventType string) []cloudevents.Event {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []cloudevents.Event
	for _, e := range r.events {
		if e.Type() == eventType {
			out = append(out, e)
		}
	}
	return out
}

// Count returns how many events of one type were recorded.
func (r *Recorder) Count(eventType string) int {
	return len(r.OfType(eventType))
}

// Reset drops all recorded events.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

// Decode unmarshals an event's data into a payload struct.
func Decode[T any](event cloudevents.Event) (T, error) {
	var payload T
	if err := json.Unmarshal(event.Data(), &payload); err != nil {
		return payload, fmt.Errorf("decode %s: %w", event.Type(), err)
	}
	return payload, nil
}
