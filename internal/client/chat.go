package client

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/joseph-ayodele/catalog-drafts/internal/chat"
	"github.com/joseph-ayodele/catalog-drafts/internal/common"
	"github.com/joseph-ayodele/catalog-drafts/internal/stream"
)

// ChatStream starts a streaming completion and returns the decoded event
// stream. The caller must Close it.
func (c *Client) ChatStream(ctx context.Context, req chat.Request, opts ...stream.Option) (*stream.Stream, error) {
	on := true
	req.Stream = &on
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	hreq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	hreq.Header.Set("Content-Type", "application/json")
	hreq.Header.Set("Accept", "text/event-stream")
	for k, v := range c.headers() {
		hreq.Header.Set(k, v)
	}
	if id := common.RequestIDFromContext(ctx); id != "" {
		hreq.Header.Set("X-Request-ID", id)
	}

	resp, err := c.stream.Do(hreq)
	if err != nil {
		return nil, common.NewTransportError("chat stream", err)
	}
	if resp.StatusCode/100 != 2 {
		defer resp.Body.Close()
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		return nil, apiError(resp.StatusCode, raw)
	}
	opts = append([]stream.Option{stream.WithLogger(c.logger)}, opts...)
	return stream.NewStream(stream.NewSSESource(resp.Body), opts...), nil
}

// Chat runs a non-streaming completion.
func (c *Client) Chat(ctx context.Context, req chat.Request) (chat.Completion, error) {
	off := false
	req.Stream = &off
	var out chat.Completion
	err := c.do(ctx, http.MethodPost, "/chat/completions", req, &out)
	return out, err
}
