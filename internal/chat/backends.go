package chat

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/joseph-ayodele/catalog-drafts/internal/common"
	"github.com/joseph-ayodele/catalog-drafts/internal/llm"
	"github.com/joseph-ayodele/catalog-drafts/internal/stream"
)

// MockBackend answers deterministically, split into small fragments the way
// a model streams tokens.
type MockBackend struct {
	ChunkSize int
}

func (m MockBackend) Stream(ctx context.Context, req Request) (stream.Source, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	answer := MockAnswer(req.LastUserMessage())
	return stream.SliceSource(chunkRunes(answer, m.ChunkSize)...), nil
}

// MockAnswer is the canned reply of the mock backend.
func MockAnswer(question string) string {
	q := strings.TrimSpace(question)
	switch {
	case q == "":
		return "Send me a product link or a description and I will prepare a catalog draft."
	case FindURL(q) != "":
		return "The card above is filled from the page. Review the fields, generate a name and commit it to the catalog when ready."
	}
	return fmt.Sprintf("You asked: %q. Paste a product link to create a draft, or describe the product and I will help with the card.", q)
}

func chunkRunes(s string, size int) []string {
	if size <= 0 {
		size = 8
	}
	var out []string
	for len(s) > 0 {
		n, i := 0, 0
		for i < len(s) && n < size {
			_, w := utf8.DecodeRuneInString(s[i:])
			i += w
			n++
		}
		out = append(out, s[:i])
		s = s[i:]
	}
	return out
}

// ChatStreamer is implemented by the OpenAI client.
type ChatStreamer interface {
	StreamChat(ctx context.Context, model string, msgs []llm.ChatMessage) (stream.Source, error)
}

// ModelBackend streams the answer straight from a chat model. Requests for
// Alias (the model name advertised to chat UIs) or no model use the
// client's configured model.
type ModelBackend struct {
	Model        ChatStreamer
	Alias        string
	SystemPrompt string
}

func (b ModelBackend) Stream(ctx context.Context, req Request) (stream.Source, error) {
	model := req.Model
	if model == b.Alias {
		model = ""
	}
	msgs := req.Messages
	if b.SystemPrompt != "" && (len(msgs) == 0 || msgs[0].Role != "system") {
		msgs = append([]llm.ChatMessage{{Role: "system", Content: b.SystemPrompt}}, msgs...)
	}
	return b.Model.StreamChat(ctx, model, msgs)
}

// WebhookBackend forwards the conversation to an automation webhook (n8n or a
// chat microservice). The reply may be SSE, an OpenAI chat.completion object,
// or a plain {"output": "..."} document.
type WebhookBackend struct {
	url    string
	client *http.Client
	logger *slog.Logger
}

func NewWebhookBackend(url string, timeout time.Duration, logger *slog.Logger) *WebhookBackend {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &WebhookBackend{url: url, client: &http.Client{Timeout: timeout}, logger: logger}
}

type webhookPayload struct {
	Messages []llm.ChatMessage `json:"messages"`
	Model    string            `json:"model,omitempty"`
	Stream   bool              `json:"stream"`
	Params   map[string]any    `json:"params,omitempty"`
	Metadata *Metadata         `json:"metadata,omitempty"`
}

func (b *WebhookBackend) Stream(ctx context.Context, req Request) (stream.Source, error) {
	if b.url == "" {
		return nil, common.NewAppError(common.CodeConfig, "chat webhook url is not configured", nil)
	}
	body, err := json.Marshal(webhookPayload{
		Messages: req.Messages, Model: req.Model, Stream: true, Params: req.Params, Metadata: req.Metadata,
	})
	if err != nil {
		return nil, fmt.Errorf("encode webhook payload: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, b.url, strings.NewReader(string(body)))
	if err != nil {
		return nil, fmt.Errorf("build webhook request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream, application/json")
	if req.Authorization != "" {
		httpReq.Header.Set("Authorization", req.Authorization)
	}
	if rid := common.RequestIDFromContext(ctx); rid != "" {
		httpReq.Header.Set("X-Request-ID", rid)
	}

	start := time.Now()
	resp, err := b.client.Do(httpReq)
	if err != nil {
		b.logger.Error("chat.webhook.network_error", "error", err)
		return nil, common.NewTransportError("chat webhook", err)
	}
	if resp.StatusCode >= 400 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		_ = resp.Body.Close()
		b.logger.Error("chat.webhook.bad_status", "status", resp.StatusCode, "body", string(snippet))
		return nil, common.NewTransportError(fmt.Sprintf("chat webhook status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet))), nil)
	}
	b.logger.Debug("chat.webhook.connected", "status", resp.StatusCode, "elapsed_ms", time.Since(start).Milliseconds())

	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if mediaType == "text/event-stream" {
		return stream.NewLenientSSESource(resp.Body), nil
	}

	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, common.NewTransportError("read chat webhook reply", err)
	}
	text, err := webhookText(raw)
	if err != nil {
		return nil, err
	}
	return stream.SliceSource(text), nil
}

// webhookText pulls the answer out of a non-streaming webhook reply.
func webhookText(raw []byte) (string, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" {
		return "", nil
	}
	if !strings.HasPrefix(trimmed, "{") && !strings.HasPrefix(trimmed, "[") {
		return plainLines(trimmed), nil
	}

	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return "", common.NewAppError(common.CodeDecode, "decode chat webhook reply", fmt.Errorf("%w: %w", common.ErrDecode, err))
	}
	// n8n answers with an array of items
	if arr, ok := doc.([]any); ok {
		if len(arr) == 0 {
			return "", nil
		}
		doc = arr[0]
	}
	obj, ok := doc.(map[string]any)
	if !ok {
		return fmt.Sprint(doc), nil
	}
	if choices, ok := obj["choices"].([]any); ok && len(choices) > 0 {
		if c, ok := choices[0].(map[string]any); ok {
			if msg, ok := c["message"].(map[string]any); ok {
				if s, ok := msg["content"].(string); ok {
					return s, nil
				}
			}
		}
	}
	for _, key := range []string{"output", "text", "content", "message", "response"} {
		if s, ok := obj[key].(string); ok {
			return s, nil
		}
	}
	return "", common.NewAppError(common.CodeDecode, "chat webhook reply has no answer field", common.ErrDecode)
}

// plainLines joins a line-delimited reply, unwrapping any "data:" prefixes.
func plainLines(s string) string {
	var b strings.Builder
	sc := bufio.NewScanner(strings.NewReader(s))
	for sc.Scan() {
		line := strings.TrimSpace(strings.TrimPrefix(sc.Text(), "data:"))
		if line == "" || line == stream.DoneSentinel {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(line)
	}
	return b.String()
}
