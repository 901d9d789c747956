package ratelimit

import (
	"encoding/json"
	"time"
)

// EventKind identifies an observability event emitted while
// collecting.
type EventKind string

const (
	EventSleep  EventKind = "sleep"
	EventResume EventKind = "resume"
	EventNotice EventKind = "notice"
	EventRetry  EventKind = "retry"
)

// Event reports rate-limit and retry activity to the caller.
// Wait and Count are set for sleep events; Message for notice
// and retry events.
type Event struct {
	Kind    EventKind
	Wait    time.Duration
	Count   int
	Message string
}

// MarshalJSON encodes the event with its wait in whole
// milliseconds.
func (e Event) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Kind    EventKind `json:"type"`
		WaitMS  int64     `json:"waitMs,omitempty"`
		Count   int       `json:"count,omitempty"`
		Message string    `json:"message,omitempty"`
	}{
		Kind:    e.Kind,
		WaitMS:  e.Wait.Milliseconds(),
		Count:   e.Count,
		Message: e.Message,
	})
}

// Observer receives events. Implementations must be safe for
// concurrent use; events arrive from every worker.
type Observer interface {
	OnEvent(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

// OnEvent calls f(e).
func (f ObserverFunc) OnEvent(e Event) { f(e) }

// Emit delivers e to o when o is non-nil.
func Emit(o Observer, e Event) {
	if o != nil {
		o.OnEvent(e)
	}
}
