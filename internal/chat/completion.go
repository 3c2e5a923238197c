package chat

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/catalog-drafts/internal/llm"
	"github.com/joseph-ayodele/catalog-drafts/internal/stream"
)

// Completion is the non-streaming chat.completion response.
type Completion struct {
	ID      string             `json:"id"`
	Object  string             `json:"object"`
	Created int64              `json:"created"`
	Model   string             `json:"model"`
	Choices []CompletionChoice `json:"choices"`
}

type CompletionChoice struct {
	Index        int             `json:"index"`
	Message      llm.ChatMessage `json:"message"`
	FinishReason string          `json:"finish_reason"`
}

// Complete runs the reply to the end and returns it as one message. Widget
// fences are left in the content for the client to decode.
func (s *Service) Complete(ctx context.Context, req Request) (Completion, error) {
	src, err := s.Stream(ctx, req)
	if err != nil {
		return Completion{}, err
	}
	content, err := ReadAll(ctx, src)
	if err != nil {
		return Completion{}, err
	}
	model := req.Model
	if model == "" {
		model = s.model
	}
	return Completion{
		ID:      "chatcmpl-" + uuid.NewString(),
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   model,
		Choices: []CompletionChoice{{
			Message:      llm.ChatMessage{Role: "assistant", Content: content},
			FinishReason: "stop",
		}},
	}, nil
}

// ReadAll concatenates raw fragments until the source ends, then closes it.
func ReadAll(ctx context.Context, src stream.Source) (string, error) {
	defer func() {
		if c, ok := src.(io.Closer); ok {
			_ = c.Close()
		}
	}()
	var b strings.Builder
	for {
		f, err := src.Next(ctx)
		if errors.Is(err, io.EOF) {
			return b.String(), nil
		}
		if err != nil {
			return b.String(), err
		}
		if f.Done {
			return b.String(), nil
		}
		b.WriteString(f.Content)
	}
}
