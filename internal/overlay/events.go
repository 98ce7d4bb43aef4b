// Package overlay delivers screen-update events to the overlay UI over a
// websocket.
package overlay

import (
	"encoding/json"

	"ltlive/internal/domain"
)

// Page names a screen of the overlay.
type Page string

const (
	PageLTScreen      Page = "lt_screen"
	PageWaitingScreen Page = "waiting_screen"
)

// Event types on the wire.
const (
	TypeTimelineFlush      = "timeline.flush"
	TypeTimelineAdd        = "timeline.add"
	TypeNotificationUpdate = "notification.update"
	TypePresentationUpdate = "presentation.update"
	TypeScreenUpdate       = "screen.update"
	TypePendingUpdate      = "waiting.pending.update"
)

// Event is one overlay state change.
type Event interface {
	Type() string
	payload() any
}

type (
	TimelineFlush struct{}

	TimelineAdd struct {
		User    domain.DisplayUser
		Service domain.Service
		Content string
	}

	NotificationUpdate struct{ Text string }

	PresentationUpdate struct{ Presentation domain.Presentation }

	ScreenUpdate struct{ Page Page }

	// PendingUpdate carries the full upcoming queue.
	PendingUpdate struct{ Presentations []domain.Presentation }
)

func (TimelineFlush) Type() string      { return TypeTimelineFlush }
func (TimelineAdd) Type() string        { return TypeTimelineAdd }
func (NotificationUpdate) Type() string { return TypeNotificationUpdate }
func (PresentationUpdate) Type() string { return TypePresentationUpdate }
func (ScreenUpdate) Type() string       { return TypeScreenUpdate }
func (PendingUpdate) Type() string      { return TypePendingUpdate }

func (TimelineFlush) payload() any { return nil }

func (e TimelineAdd) payload() any {
	return timelineCard{User: e.User, Service: e.Service, Content: e.Content}
}

func (e NotificationUpdate) payload() any { return e.Text }

func (e PresentationUpdate) payload() any { return e.Presentation }

func (e ScreenUpdate) payload() any { return e.Page }

func (e PendingUpdate) payload() any {
	if e.Presentations == nil {
		return []domain.Presentation{}
	}
	return e.Presentations
}

type timelineCard struct {
	User    domain.DisplayUser `json:"user"`
	Service domain.Service     `json:"service"`
	Content string             `json:"content"`
}

type envelope struct {
	Type string   `json:"type"`
	Args *newArgs `json:"args,omitempty"`
}

type newArgs struct {
	New any `json:"new"`
}

// MarshalEvent renders e as {"type": ..., "args": {"new": ...}}.
func MarshalEvent(e Event) ([]byte, error) {
	env := envelope{Type: e.Type()}
	if p := e.payload(); p != nil {
		env.Args = &newArgs{New: p}
	}
	return json.Marshal(env)
}
