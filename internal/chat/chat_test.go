package chat

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/catalog-drafts/constants"
	"github.com/joseph-ayodele/catalog-drafts/internal/common"
	"github.com/joseph-ayodele/catalog-drafts/internal/entity"
	"github.com/joseph-ayodele/catalog-drafts/internal/llm"
	"github.com/joseph-ayodele/catalog-drafts/internal/services/drafts"
	"github.com/joseph-ayodele/catalog-drafts/internal/stream"
)

type memDrafts struct {
	mu      sync.Mutex
	byID    map[uuid.UUID]*entity.Draft
	gets    int
	err     error
	readyAt int
}

func newMemDrafts() *memDrafts { return &memDrafts{byID: map[uuid.UUID]*entity.Draft{}} }

func (m *memDrafts) Ingest(_ context.Context, req drafts.IngestRequest) (*entity.Draft, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	d := &entity.Draft{
		ID: uuid.New(), Status: constants.DraftStatusNew, SourceType: constants.SourceTypeURL,
		SourcePayload: req.URL, Version: 1, CreatedAt: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
	}
	m.byID[d.ID] = d
	return d, nil
}

func (m *memDrafts) Get(_ context.Context, id uuid.UUID) (*entity.Draft, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gets++
	d, ok := m.byID[id]
	if !ok {
		return nil, common.NewNotFoundError("draft not found")
	}
	if m.readyAt > 0 && m.gets >= m.readyAt {
		d.Status = constants.DraftStatusReadyForReview
		brand := "Logitech"
		d.FinalData.Brand = &brand
	}
	cp := *d
	return &cp, nil
}

func userReq(text string) Request {
	return Request{Messages: []llm.ChatMessage{{Role: "system", Content: "be brief"}, {Role: "user", Content: text}}}
}

func decodeAll(t *testing.T, src stream.Source) []stream.Event {
	t.Helper()
	evs, err := stream.Collect(context.Background(), stream.NewStream(src))
	require.NoError(t, err)
	return stream.Coalesce(evs)
}

func TestStreamWithLinkInlinesDraftWidget(t *testing.T) {
	store := newMemDrafts()
	svc := NewService(MockBackend{ChunkSize: 5}, store, nil)

	src, err := svc.Stream(context.Background(), userReq("please add https://www.shop.test/p/m705."))
	require.NoError(t, err)
	evs := decodeAll(t, src)

	require.Len(t, evs, 3)
	assert.Equal(t, stream.EventText, evs[0].Type)
	assert.Equal(t, stream.EventWidget, evs[1].Type)
	assert.Equal(t, "draft", evs[1].Kind)
	assert.Equal(t, stream.EventText, evs[2].Type)
	assert.Contains(t, evs[2].Text, "card above")

	w, err := stream.DecodeDraftWidget(evs[1])
	require.NoError(t, err)
	assert.Equal(t, "https://www.shop.test/p/m705", w.Draft.SourcePayload)
	assert.Equal(t, constants.DraftStatusNew, w.Draft.Status)
	assert.False(t, w.Meta.CanEdit)
	assert.False(t, w.Meta.CanCommit)
	assert.Equal(t, "shop.test", w.Meta.SourceLabel)
}

func TestStreamWaitsForExtraction(t *testing.T) {
	store := newMemDrafts()
	store.readyAt = 2
	svc := NewService(MockBackend{}, store, nil, WithDraftWait(2*time.Second), WithPollInterval(time.Millisecond))

	src, err := svc.Stream(context.Background(), userReq("https://shop.test/p/1"))
	require.NoError(t, err)
	evs := decodeAll(t, src)

	w, err := stream.DecodeDraftWidget(evs[1])
	require.NoError(t, err)
	assert.Equal(t, constants.DraftStatusReadyForReview, w.Draft.Status)
	assert.True(t, w.Meta.CanEdit)
	assert.True(t, w.Meta.CanCommit)
	assert.Equal(t, "Logitech", *w.Draft.FinalData.Brand)
}

func TestStreamWithoutLinkIsPlainAnswer(t *testing.T) {
	store := newMemDrafts()
	svc := NewService(MockBackend{}, store, nil)

	src, err := svc.Stream(context.Background(), userReq("what can you do?"))
	require.NoError(t, err)
	evs := decodeAll(t, src)
	require.Len(t, evs, 1)
	assert.Equal(t, MockAnswer("what can you do?"), evs[0].Text)
	assert.Empty(t, store.byID)
}

func TestStreamIngestFailureBecomesText(t *testing.T) {
	store := newMemDrafts()
	store.err = common.NewValidationError("url must be an absolute http(s) URL")
	svc := NewService(MockBackend{}, store, nil)

	src, err := svc.Stream(context.Background(), userReq("http://x"))
	require.NoError(t, err)
	evs := decodeAll(t, src)
	require.Len(t, evs, 1)
	assert.Contains(t, evs[0].Text, "could not create a product draft")
}

type failingBackend struct{ err error }

func (f failingBackend) Stream(context.Context, Request) (stream.Source, error) { return nil, f.err }

func TestStreamBackendFailure(t *testing.T) {
	boom := common.NewTransportError("model down", nil)
	svc := NewService(failingBackend{err: boom}, newMemDrafts(), nil)

	_, err := svc.Stream(context.Background(), userReq("hello"))
	assert.ErrorIs(t, err, common.ErrTransport)

	src, err := svc.Stream(context.Background(), userReq("https://shop.test/p/2"))
	require.NoError(t, err)
	evs := decodeAll(t, src)
	require.Len(t, evs, 3)
	assert.Equal(t, stream.EventWidget, evs[1].Type)
	assert.Contains(t, evs[2].Text, "unavailable")
}

func TestStreamRejectsEmptyMessages(t *testing.T) {
	svc := NewService(MockBackend{}, nil, nil)
	_, err := svc.Stream(context.Background(), Request{})
	assert.Equal(t, common.CodeValidation, common.ErrorCode(err))
}

func TestCompleteKeepsFenceInContent(t *testing.T) {
	svc := NewService(MockBackend{}, newMemDrafts(), nil)
	f := false
	req := userReq("https://shop.test/p/3")
	req.Stream = &f
	assert.False(t, req.Streaming())

	c, err := svc.Complete(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "chat.completion", c.Object)
	require.Len(t, c.Choices, 1)
	assert.Equal(t, "assistant", c.Choices[0].Message.Role)

	evs := stream.Coalesce(stream.Decode(c.Choices[0].Message.Content))
	require.Len(t, evs, 3)
	assert.Equal(t, "draft", evs[1].Kind)
}

func TestFindURL(t *testing.T) {
	assert.Equal(t, "https://a.test/x?y=1", FindURL("see (https://a.test/x?y=1)."))
	assert.Equal(t, "", FindURL("no link here"))
	assert.Equal(t, "http://b.test", FindURL("http://b.test, thanks"))
}

func TestChunkRunesKeepsUTF8(t *testing.T) {
	parts := chunkRunes("Мышь Logitech", 3)
	joined := ""
	for _, p := range parts {
		joined += p
	}
	assert.Equal(t, "Мышь Logitech", joined)
	assert.Equal(t, "Мыш", parts[0])
}

func TestWebhookBackendJSONReply(t *testing.T) {
	var got webhookPayload
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `[{"output":"hello from n8n"}]`)
	}))
	defer srv.Close()

	b := NewWebhookBackend(srv.URL, time.Second, nil)
	req := userReq("hi")
	req.Authorization = "Bearer t"
	req.Metadata = &Metadata{ChatID: "c-1"}
	src, err := b.Stream(context.Background(), req)
	require.NoError(t, err)
	text, err := ReadAll(context.Background(), src)
	require.NoError(t, err)

	assert.Equal(t, "hello from n8n", text)
	assert.Equal(t, "Bearer t", auth)
	assert.Len(t, got.Messages, 2)
	assert.Equal(t, "c-1", got.Metadata.ChatID)
	assert.True(t, got.Stream)
}

func TestWebhookBackendSSEReply(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		sse := stream.NewSSEWriter(w)
		_ = sse.WriteChunk("Hel")
		_ = sse.WriteChunk("lo")
		_ = sse.WriteDone()
	}))
	defer srv.Close()

	src, err := NewWebhookBackend(srv.URL, time.Second, nil).Stream(context.Background(), userReq("hi"))
	require.NoError(t, err)
	text, err := ReadAll(context.Background(), src)
	require.NoError(t, err)
	assert.Equal(t, "Hello", text)
}

func TestWebhookBackendErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"detail":"workflow inactive"}`, http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := NewWebhookBackend(srv.URL, time.Second, nil).Stream(context.Background(), userReq("hi"))
	assert.Equal(t, common.CodeTransport, common.ErrorCode(err))

	_, err = NewWebhookBackend("", time.Second, nil).Stream(context.Background(), userReq("hi"))
	assert.Equal(t, common.CodeConfig, common.ErrorCode(err))
}

func TestWebhookText(t *testing.T) {
	cases := map[string]string{
		`{"choices":[{"message":{"role":"assistant","content":"from completion"}}]}`: "from completion",
		`{"text":"plain field"}`:                  "plain field",
		"data: line one\ndata: line two\n[DONE]": "line one\nline two",
		``:                                        "",
	}
	for in, want := range cases {
		got, err := webhookText([]byte(in))
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := webhookText([]byte(`{"unexpected":1}`))
	assert.True(t, errors.Is(err, common.ErrDecode))
}

type recordingStreamer struct {
	model string
	msgs  []llm.ChatMessage
}

func (r *recordingStreamer) StreamChat(ctx context.Context, model string, msgs []llm.ChatMessage) (stream.Source, error) {
	r.model, r.msgs = model, msgs
	return stream.SliceSource("ok"), nil
}

func TestModelBackendAliasAndSystemPrompt(t *testing.T) {
	rec := &recordingStreamer{}
	b := ModelBackend{Model: rec, Alias: "fastapi", SystemPrompt: "You help with product cards."}

	_, err := b.Stream(context.Background(), Request{Model: "fastapi", Messages: []llm.ChatMessage{{Role: "user", Content: "hi"}}})
	require.NoError(t, err)
	assert.Empty(t, rec.model)
	require.Len(t, rec.msgs, 2)
	assert.Equal(t, "system", rec.msgs[0].Role)

	_, err = b.Stream(context.Background(), Request{Model: "gpt-4o", Messages: []llm.ChatMessage{
		{Role: "system", Content: "custom"}, {Role: "user", Content: "hi"},
	}})
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o", rec.model)
	require.Len(t, rec.msgs, 2)
	assert.Equal(t, "custom", rec.msgs[0].Content)
}
