package audit

import (
	"context"
	"sync"
	"time"
)

// Recorder is an in-memory Sink for development and testing.
type Recorder struct {
	mu     sync.RWMutex
	events []Event
}

// NewRecorder creates a new in-memory audit recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Emit appends the event to the in-memory log.
func (r *Recorder) Emit(ctx context.Context, event Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}
	if event.Severity == "" {
		event.Severity = SeverityInfo
	}

	r.events = append(r.events, event)
	return nil
}

// Events returns a copy of all recorded events.
func (r *Recorder) Events() []Event {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// ByAction returns recorded events matching the given action.
func (r *Recorder) ByAction(action string) []Event {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Event
	for _, e := range r.events {
		if e.Action == action {
			out = append(out, e)
		}
	}
	return out
}
