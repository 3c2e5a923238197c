package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	openai "github.com/openai/openai-go"

	"github.com/joseph-ayodele/catalog-drafts/internal/common"
	"github.com/joseph-ayodele/catalog-drafts/internal/core/schema"
	"github.com/joseph-ayodele/catalog-drafts/internal/llm"
)

var productSchema = schema.MustCompile("product", llm.BuildProductJSONSchema())

// ExtractProduct implements llm.Extractor using text-only chat/completions.
func (c *Client) ExtractProduct(ctx context.Context, req llm.ExtractRequest) (llm.ProductFields, []byte, error) {
	rid := uuid.New().String()
	start := time.Now()
	if req.Locale == "" {
		req.Locale = c.cfg.Locale
	}

	c.logger.Info("llm.extract.start",
		"req_id", rid,
		"model", c.cfg.Model,
		"temp", c.cfg.Temperature,
		"source_type", req.Source.SourceType,
		"text_len", len(req.Source.Text),
		"images", len(req.Source.ImageURLs),
	)

	msgs := []openai.ChatCompletionMessageParamUnion{
		openai.SystemMessage(llm.BuildSystemPrompt(req)),
		openai.SystemMessage("JSON Schema:\n" + mustJSON(llm.BuildProductJSONSchema())),
		openai.UserMessage(llm.BuildUserPrompt(req) + "\n\nReturn ONLY JSON that matches the provided schema."),
	}
	content, err := c.complete(ctx, msgs)
	if err != nil {
		c.logger.Error("llm.extract.http_error",
			"req_id", rid, "error", err,
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return llm.ProductFields{}, nil, err
	}
	rawContent := []byte(llm.StripCodeFence(content))

	// Validate strictly first.
	if err := productSchema.ValidateJSON(rawContent); err != nil {
		if c.cfg.StrictSchema {
			c.logger.Error("llm.extract.schema_validation_failed",
				"req_id", rid, "error", err, "content", string(rawContent),
				"elapsed_ms", time.Since(start).Milliseconds(),
			)
			return llm.ProductFields{}, rawContent, fmt.Errorf("schema validation failed: %w", err)
		}
		// Try a lenient sanitize: drop/normalize offenders and re-validate.
		cleaned, dropped, sErr := llm.NormalizeAndSanitizeJSON(rawContent, c.logger)
		if sErr != nil {
			c.logger.Error("llm.extract.sanitize_failed",
				"req_id", rid, "error", sErr,
				"elapsed_ms", time.Since(start).Milliseconds(),
			)
			return llm.ProductFields{}, rawContent, fmt.Errorf("sanitize failed: %w", sErr)
		}
		if vErr := productSchema.ValidateJSON(cleaned); vErr != nil {
			c.logger.Error("llm.extract.schema_validation_failed",
				"req_id", rid, "error", vErr, "content", string(rawContent),
				"elapsed_ms", time.Since(start).Milliseconds(),
			)
			return llm.ProductFields{}, rawContent, fmt.Errorf("schema validation failed: %w", vErr)
		}
		c.logger.Warn("llm.extract.lenient_sanitize_applied",
			"req_id", rid, "dropped", dropped,
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		rawContent = cleaned
	}

	var out llm.ProductFields
	if err := json.Unmarshal(rawContent, &out); err != nil {
		c.logger.Error("llm.extract.unmarshal_failed",
			"req_id", rid, "error", err,
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return llm.ProductFields{}, rawContent, fmt.Errorf("unmarshal fields: %w", err)
	}

	c.logger.Info("llm.extract.ok",
		"req_id", rid,
		"name", out.Name,
		"brand", out.Brand,
		"article", out.Article,
		"specs", len(out.Specs),
		"gau", out.GauCode,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return out, rawContent, nil
}

// GenerateName implements llm.Namer.
func (c *Client) GenerateName(ctx context.Context, req llm.NameRequest) (string, error) {
	rid := uuid.New().String()
	start := time.Now()
	if req.Locale == "" {
		req.Locale = c.cfg.Locale
	}
	sys, user := llm.BuildNamePrompt(req)
	content, err := c.complete(ctx, []openai.ChatCompletionMessageParamUnion{
		openai.SystemMessage(sys),
		openai.UserMessage(user),
	})
	if err != nil {
		c.logger.Error("llm.name.http_error", "req_id", rid, "error", err,
			"elapsed_ms", time.Since(start).Milliseconds())
		return "", err
	}
	name := strings.Trim(strings.TrimSpace(firstLine(content)), `"'«»`)
	if name == "" {
		return "", common.NewTransportError("model returned an empty name", nil)
	}
	c.logger.Info("llm.name.ok", "req_id", rid, "name", name,
		"elapsed_ms", time.Since(start).Milliseconds())
	return name, nil
}

func (c *Client) complete(ctx context.Context, msgs []openai.ChatCompletionMessageParamUnion) (string, error) {
	resp, err := c.sdk.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(c.cfg.Model),
		Messages:    msgs,
		Temperature: openai.Float(float64(c.cfg.Temperature)),
	})
	if err != nil {
		return "", classify(err)
	}
	if len(resp.Choices) == 0 {
		return "", common.NewTransportError("openai: empty choices", nil)
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// classify keeps cancellation intact and maps SDK failures onto TRANSPORT.
func classify(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return common.NewTransportError(fmt.Sprintf("openai status %d", apiErr.StatusCode), err)
	}
	return common.NewTransportError("openai request", err)
}

func firstLine(s string) string {
	for _, line := range strings.Split(s, "\n") {
		if l := strings.TrimSpace(line); l != "" {
			return l
		}
	}
	return ""
}

func mustJSON(v any) string {
	b, _ := json.MarshalIndent(v, "", "  ")
	return string(b)
}
