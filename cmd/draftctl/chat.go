package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/joseph-ayodele/catalog-drafts/internal/chat"
	"github.com/joseph-ayodele/catalog-drafts/internal/llm"
	"github.com/joseph-ayodele/catalog-drafts/internal/stream"
)

func (c *cli) chat(ctx context.Context, args []string) error {
	fs := newFlags("chat")
	message := fs.String("message", "", "user message (defaults to remaining args)")
	model := fs.String("model", "", "model name")
	system := fs.String("system", "", "system prompt")
	if err := parse(fs, args); err != nil {
		return err
	}
	text := *message
	if text == "" {
		text = strings.Join(fs.Args(), " ")
	}
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("%w: message is required", errUsage)
	}

	req := chat.Request{Model: *model}
	if *system != "" {
		req.Messages = append(req.Messages, llm.ChatMessage{Role: "system", Content: *system})
	}
	req.Messages = append(req.Messages, llm.ChatMessage{Role: "user", Content: text})

	s, err := c.api.ChatStream(ctx, req)
	if err != nil {
		return err
	}
	defer s.Close()
	return renderStream(ctx, s, c.out)
}

// renderStream writes events as they arrive so text appears incrementally.
func renderStream(ctx context.Context, s *stream.Stream, w io.Writer) error {
	for {
		ev, err := s.Next(ctx)
		if errors.Is(err, io.EOF) {
			_, err = fmt.Fprintln(w)
			return err
		}
		if err != nil {
			return err
		}
		if _, err := io.WriteString(w, renderEvent(ev)); err != nil {
			return err
		}
	}
}
