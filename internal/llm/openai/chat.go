package openai

import (
	"context"
	"io"
	"time"

	openai "github.com/openai/openai-go"
	"github.com/openai/openai-go/packages/ssestream"

	"github.com/joseph-ayodele/catalog-drafts/internal/llm"
	"github.com/joseph-ayodele/catalog-drafts/internal/stream"
)

// StreamChat starts a streaming chat completion and exposes the content deltas
// as a stream.Source. An empty model uses the configured one.
func (c *Client) StreamChat(ctx context.Context, model string, msgs []llm.ChatMessage) (stream.Source, error) {
	if model == "" {
		model = c.cfg.Model
	}
	params := make([]openai.ChatCompletionMessageParamUnion, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case "system":
			params = append(params, openai.SystemMessage(m.Content))
		case "assistant":
			params = append(params, openai.AssistantMessage(m.Content))
		default:
			params = append(params, openai.UserMessage(m.Content))
		}
	}

	c.logger.Info("llm.chat.start", "model", model, "messages", len(msgs))
	s := c.sdk.Chat.Completions.NewStreaming(ctx, openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(model),
		Messages:    params,
		Temperature: openai.Float(float64(c.cfg.Temperature)),
	})
	if err := s.Err(); err != nil {
		_ = s.Close()
		return nil, classify(err)
	}
	return &chatSource{s: s, client: c, start: time.Now()}, nil
}

type chatSource struct {
	s      *ssestream.Stream[openai.ChatCompletionChunk]
	client *Client
	start  time.Time
	chunks int
}

func (cs *chatSource) Next(ctx context.Context) (stream.Fragment, error) {
	for cs.s.Next() {
		chunk := cs.s.Current()
		if len(chunk.Choices) == 0 || chunk.Choices[0].Delta.Content == "" {
			continue
		}
		cs.chunks++
		return stream.Fragment{Content: chunk.Choices[0].Delta.Content}, nil
	}
	if err := cs.s.Err(); err != nil {
		cs.client.logger.Error("llm.chat.stream_error", "error", err, "chunks", cs.chunks)
		return stream.Fragment{}, classify(err)
	}
	cs.client.logger.Info("llm.chat.done", "chunks", cs.chunks, "elapsed_ms", time.Since(cs.start).Milliseconds())
	return stream.Fragment{}, io.EOF
}

func (cs *chatSource) Close() error { return cs.s.Close() }
