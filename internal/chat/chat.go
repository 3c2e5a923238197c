// Package chat answers chat completions. When the user pastes a product link
// it also creates a draft and inlines it into the reply as a "draft" widget.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/catalog-drafts/constants"
	"github.com/joseph-ayodele/catalog-drafts/internal/common"
	"github.com/joseph-ayodele/catalog-drafts/internal/core/draft"
	"github.com/joseph-ayodele/catalog-drafts/internal/entity"
	"github.com/joseph-ayodele/catalog-drafts/internal/llm"
	"github.com/joseph-ayodele/catalog-drafts/internal/services/drafts"
	"github.com/joseph-ayodele/catalog-drafts/internal/stream"
)

// Metadata identifies the conversation a request belongs to.
type Metadata struct {
	UserID    string `json:"user_id,omitempty"`
	ChatID    string `json:"chat_id,omitempty"`
	MessageID string `json:"message_id,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

// Request is an OpenAI-style chat completion request.
type Request struct {
	Messages []llm.ChatMessage `json:"messages"`
	Model    string            `json:"model,omitempty"`
	Stream   *bool             `json:"stream,omitempty"`
	Params   map[string]any    `json:"params,omitempty"`
	Metadata *Metadata         `json:"metadata,omitempty"`

	// Authorization is forwarded to webhook backends.
	Authorization string `json:"-"`
}

// Streaming reports whether the caller wants SSE; it defaults to true.
func (r Request) Streaming() bool { return r.Stream == nil || *r.Stream }

// LastUserMessage returns the newest user turn.
func (r Request) LastUserMessage() string {
	for i := len(r.Messages) - 1; i >= 0; i-- {
		if r.Messages[i].Role == "user" {
			return r.Messages[i].Content
		}
	}
	return ""
}

// Backend produces the assistant's answer as raw content fragments.
type Backend interface {
	Stream(ctx context.Context, req Request) (stream.Source, error)
}

// Drafts is the part of the drafts service chat needs.
type Drafts interface {
	Ingest(ctx context.Context, req drafts.IngestRequest) (*entity.Draft, error)
	Get(ctx context.Context, id uuid.UUID) (*entity.Draft, error)
}

var reURL = regexp.MustCompile(`https?://[^\s<>"'` + "`" + `]+`)

// FindURL returns the first http(s) link in text, without trailing punctuation.
func FindURL(text string) string {
	u := reURL.FindString(text)
	return strings.TrimRight(u, ".,;:!?)]}")
}

type Service struct {
	backend  Backend
	drafts   Drafts
	logger   *slog.Logger
	wait     time.Duration
	interval time.Duration
	model    string
}

type Option func(*Service)

// WithDraftWait makes the widget wait up to d for extraction to finish so the
// card shows extracted data. Zero emits the card as soon as it is created.
func WithDraftWait(d time.Duration) Option {
	return func(s *Service) {
		if d >= 0 {
			s.wait = d
		}
	}
}

// WithModelName sets the model reported by non-streaming completions when
// the request names none.
func WithModelName(name string) Option {
	return func(s *Service) {
		if name != "" {
			s.model = name
		}
	}
}

func WithPollInterval(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.interval = d
		}
	}
}

func NewService(backend Backend, d Drafts, logger *slog.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{backend: backend, drafts: d, logger: logger, interval: 500 * time.Millisecond, model: "catalog-drafts"}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Stream returns the full reply: an optional draft intro and widget followed
// by the backend's answer.
func (s *Service) Stream(ctx context.Context, req Request) (stream.Source, error) {
	if len(req.Messages) == 0 {
		return nil, common.NewValidationError("messages must not be empty")
	}
	prefix := s.draftPrefix(ctx, req)

	answer, err := s.backend.Stream(ctx, req)
	if err != nil {
		s.logger.Error("chat.backend.failed", "error", err, "chat_id", chatID(req))
		if len(prefix) == 0 {
			return nil, err
		}
		// the draft was created; tell the user the answer is missing rather than fail
		prefix = append(prefix, "\n\nThe assistant is unavailable right now.")
		return stream.SliceSource(prefix...), nil
	}
	if len(prefix) == 0 {
		return answer, nil
	}
	return stream.Concat(stream.SliceSource(prefix...), answer), nil
}

func (s *Service) draftPrefix(ctx context.Context, req Request) []string {
	if s.drafts == nil {
		return nil
	}
	link := FindURL(req.LastUserMessage())
	if link == "" {
		return nil
	}
	d, err := s.drafts.Ingest(ctx, drafts.IngestRequest{URL: link})
	if err != nil {
		s.logger.Warn("chat.draft.ingest_failed", "url", link, "error", err)
		return []string{fmt.Sprintf("I could not create a product draft from %s: %s\n\n", link, userMessage(err))}
	}
	s.logger.Info("chat.draft.created", "draft_id", d.ID, "url", link, "chat_id", chatID(req))
	d = s.awaitExtraction(ctx, d)

	fence, err := stream.EncodeWidget("draft", Widget(d))
	if err != nil {
		s.logger.Error("chat.draft.encode_failed", "draft_id", d.ID, "error", err)
		return nil
	}
	return []string{"I created a product draft from the link you sent.\n\n", fence, "\n\n"}
}

func (s *Service) awaitExtraction(ctx context.Context, d *entity.Draft) *entity.Draft {
	if s.wait <= 0 {
		return d
	}
	ctx, cancel := context.WithTimeout(ctx, s.wait)
	defer cancel()
	t := time.NewTicker(s.interval)
	defer t.Stop()
	for d.Status.Pending() {
		select {
		case <-ctx.Done():
			return d
		case <-t.C:
		}
		next, err := s.drafts.Get(ctx, d.ID)
		if err != nil {
			return d
		}
		d = next
	}
	return d
}

// Widget builds the "draft" widget payload for d.
func Widget(d *entity.Draft) stream.DraftWidget {
	return stream.DraftWidget{
		Draft: *d,
		Meta: stream.DraftWidgetMeta{
			CanEdit:     draft.CanEdit(d.Status),
			CanCommit:   draft.CanCommit(d.Status),
			SourceLabel: SourceLabel(d),
			CreatedAt:   d.CreatedAt,
		},
	}
}

// SourceLabel is a short human description of where a draft came from.
func SourceLabel(d *entity.Draft) string {
	switch d.SourceType {
	case constants.SourceTypeURL:
		if host := hostOf(d.SourcePayload); host != "" {
			return host
		}
		return "link"
	case constants.SourceTypeFile:
		return d.SourcePayload
	}
	return "text"
}

func hostOf(raw string) string {
	rest, ok := strings.CutPrefix(raw, "https://")
	if !ok {
		rest, ok = strings.CutPrefix(raw, "http://")
	}
	if !ok {
		return ""
	}
	host, _, _ := strings.Cut(rest, "/")
	return strings.TrimPrefix(host, "www.")
}

func userMessage(err error) string {
	var appErr *common.AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return "unexpected error"
}

func chatID(req Request) string {
	if req.Metadata == nil {
		return ""
	}
	return req.Metadata.ChatID
}
