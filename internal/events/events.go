// Package events announces draft lifecycle changes to interested listeners.
package events

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/catalog-drafts/constants"
)

type Type string

const (
	TypeDraftCreated   Type = "draft.created"
	TypeDraftReady     Type = "draft.ready_for_review"
	TypeDraftFailed    Type = "draft.error"
	TypeDraftUpdated   Type = "draft.updated"
	TypeDraftSynced    Type = "draft.synced"
	TypeCommitRejected Type = "draft.commit_failed"
)

// Event is the payload published for each lifecycle change.
type Event struct {
	Type      Type                  `json:"type"`
	DraftID   uuid.UUID             `json:"draft_id"`
	Status    constants.DraftStatus `json:"status"`
	ERPRefKey string                `json:"erp_ref_key,omitempty"`
	Message   string                `json:"message,omitempty"`
	At        time.Time             `json:"at"`
}

// Publisher delivers events. Publishing is best effort: callers log failures
// and carry on.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
	Close() error
}

// Nop drops every event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
func (Nop) Close() error                         { return nil }

// Recorder keeps events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Publish(_ context.Context, ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *Recorder) Close() error { return nil }

// Events returns a copy of everything published so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Types lists published event types in order.
func (r *Recorder) Types() []Type {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Type, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Type
	}
	return out
}

// New builds an event stamped with the current time.
func New(t Type, id uuid.UUID, status constants.DraftStatus) Event {
	return Event{Type: t, DraftID: id, Status: status, At: time.Now().UTC()}
}
