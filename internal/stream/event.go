// Package stream demultiplexes chat token streams into narrative text and
// fenced widget payloads.
package stream

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/joseph-ayodele/catalog-drafts/internal/entity"
)

const (
	// DefaultTag is the info string that marks a widget fence.
	DefaultTag = "widget"
	// DoneSentinel terminates an SSE chat stream.
	DoneSentinel = "[DONE]"

	fenceMarker = "```"
)

// EventType discriminates stream events.
type EventType int

const (
	EventText EventType = iota
	EventWidget
)

func (t EventType) String() string {
	if t == EventWidget {
		return "widget"
	}
	return "text"
}

// Event is one decoded unit of a chat stream.
type Event struct {
	Type EventType
	// Text is set for EventText.
	Text string
	// Tag is the fence info string; Kind is the widget_type, or Tag when the
	// body carries none.
	Tag     string
	Kind    string
	Payload json.RawMessage
}

func TextEvent(s string) Event { return Event{Type: EventText, Text: s} }

// WidgetEnvelope is the JSON body carried inside a widget fence.
type WidgetEnvelope struct {
	Type       string          `json:"type"`
	WidgetType string          `json:"widget_type"`
	WidgetData json.RawMessage `json:"widget_data"`
}

// EncodeWidget renders data as a complete widget fence.
func EncodeWidget(kind string, data any) (string, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("encode widget data: %w", err)
	}
	body, err := json.Marshal(WidgetEnvelope{Type: "widget", WidgetType: kind, WidgetData: raw})
	if err != nil {
		return "", fmt.Errorf("encode widget: %w", err)
	}
	return fenceMarker + DefaultTag + "\n" + string(body) + "\n" + fenceMarker, nil
}

// DraftWidgetMeta tells the UI what it may do with the card.
type DraftWidgetMeta struct {
	CanEdit     bool      `json:"can_edit"`
	CanCommit   bool      `json:"can_commit"`
	SourceLabel string    `json:"source_label"`
	CreatedAt   time.Time `json:"created_at"`
}

// DraftWidget is the widget_data of a "draft" widget.
type DraftWidget struct {
	Draft entity.Draft    `json:"draft"`
	Meta  DraftWidgetMeta `json:"meta"`
}

// DecodeDraftWidget reads a draft card from a widget event.
func DecodeDraftWidget(ev Event) (DraftWidget, error) {
	var w DraftWidget
	if ev.Type != EventWidget {
		return w, fmt.Errorf("event is %s, not widget", ev.Type)
	}
	if ev.Kind != "draft" {
		return w, fmt.Errorf("widget kind %q is not draft", ev.Kind)
	}
	if err := json.Unmarshal(ev.Payload, &w); err != nil {
		return w, fmt.Errorf("decode draft widget: %w", err)
	}
	return w, nil
}

// Coalesce merges adjacent text events and drops empty ones. Two streams that
// carry the same content compare equal after coalescing regardless of how
// their fragments were split.
func Coalesce(events []Event) []Event {
	out := make([]Event, 0, len(events))
	for _, ev := range events {
		if ev.Type == EventText {
			if ev.Text == "" {
				continue
			}
			if n := len(out); n > 0 && out[n-1].Type == EventText {
				out[n-1].Text += ev.Text
				continue
			}
		}
		out = append(out, ev)
	}
	return out
}

// PlainText concatenates the text of all text events.
func PlainText(events []Event) string {
	var b strings.Builder
	for _, ev := range events {
		if ev.Type == EventText {
			b.WriteString(ev.Text)
		}
	}
	return b.String()
}

func compactJSON(b []byte) json.RawMessage {
	var buf bytes.Buffer
	if err := json.Compact(&buf, b); err != nil {
		return json.RawMessage(bytes.TrimSpace(b))
	}
	return json.RawMessage(buf.Bytes())
}
