// Package progress models a run's progress stream as an append-only event
// log folded into snapshots by a pure reducer.
package progress

import (
	"sync"

	"github.com/ppiankov/kycscan/internal/model"
)

// Event is one frame of the progress stream. Nil or zero fields were not
// part of the frame and leave the client's state untouched.
type Event struct {
	Status        model.StreamStatus       `json:"status"`
	Progress      int                      `json:"progress"`
	Results       []model.SearchResultItem `json:"results,omitzero"`
	Sources       *model.Sources           `json:"sources,omitempty"`
	Summary       *model.Summary           `json:"summary,omitempty"`
	Relationships []model.Relationship     `json:"relationships,omitzero"`
	SearchID      string                   `json:"searchId,omitempty"`
	AutoSaved     bool                     `json:"autoSaved,omitempty"`
	Error         string                   `json:"error,omitempty"`
}

// Terminal reports whether the event ends the stream
func (e Event) Terminal() bool {
	return e.Status == model.StreamComplete
}

// Snapshot is the state a client holds after merging every event so far
type Snapshot struct {
	Status        model.StreamStatus       `json:"status"`
	Progress      int                      `json:"progress"`
	Results       []model.SearchResultItem `json:"results"`
	Sources       model.Sources            `json:"sources"`
	Summary       *model.Summary           `json:"summary,omitempty"`
	Relationships []model.Relationship     `json:"relationships"`
	SearchID      string                   `json:"searchId,omitempty"`
	AutoSaved     bool                     `json:"autoSaved"`
	Error         string                   `json:"error,omitempty"`
}

// Reduce merges e into s field by field. It does not mutate s.
func Reduce(s Snapshot, e Event) Snapshot {
	if e.Status != "" {
		s.Status = e.Status
	}
	s.Progress = e.Progress
	if e.Results != nil {
		s.Results = e.Results
	}
	if e.Sources != nil {
		s.Sources = *e.Sources
	}
	if e.Summary != nil {
		s.Summary = e.Summary
	}
	if e.Relationships != nil {
		s.Relationships = e.Relationships
	}
	if e.SearchID != "" {
		s.SearchID = e.SearchID
	}
	if e.AutoSaved {
		s.AutoSaved = true
	}
	if e.Error != "" {
		s.Error = e.Error
	}
	return s
}

// Fold reduces events from the empty snapshot
func Fold(events []Event) Snapshot {
	var s Snapshot
	for _, e := range events {
		s = Reduce(s, e)
	}
	return s
}

// Sink receives progress events
type Sink interface {
	Emit(Event)
}

// SinkFunc adapts a function to Sink
type SinkFunc func(Event)

// Emit calls f(e)
func (f SinkFunc) Emit(e Event) { f(e) }

// Discard drops every event
var Discard Sink = SinkFunc(func(Event) {})

// Log is an append-only, concurrency-safe event log
type Log struct {
	mu     sync.Mutex
	events []Event
}

// NewLog creates an empty log
func NewLog() *Log {
	return &Log{}
}

// Emit appends e
func (l *Log) Emit(e Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

// Events returns a copy of the events logged so far
func (l *Log) Events() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Event, len(l.events))
	copy(out, l.events)
	return out
}

// Len returns the number of logged events
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.events)
}

// Replay folds the whole log into the latest snapshot
func (l *Log) Replay() Snapshot {
	return Fold(l.Events())
}
