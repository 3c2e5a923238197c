package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/catalog-drafts/constants"
	"github.com/joseph-ayodele/catalog-drafts/internal/catalog"
	"github.com/joseph-ayodele/catalog-drafts/internal/chat"
	"github.com/joseph-ayodele/catalog-drafts/internal/common"
	"github.com/joseph-ayodele/catalog-drafts/internal/core"
	"github.com/joseph-ayodele/catalog-drafts/internal/entity"
	"github.com/joseph-ayodele/catalog-drafts/internal/events"
	"github.com/joseph-ayodele/catalog-drafts/internal/export"
	"github.com/joseph-ayodele/catalog-drafts/internal/llm"
	"github.com/joseph-ayodele/catalog-drafts/internal/repository"
	"github.com/joseph-ayodele/catalog-drafts/internal/repository/repotest"
	"github.com/joseph-ayodele/catalog-drafts/internal/server"
	"github.com/joseph-ayodele/catalog-drafts/internal/services/drafts"
	"github.com/joseph-ayodele/catalog-drafts/internal/services/search"
	"github.com/joseph-ayodele/catalog-drafts/internal/source"
	"github.com/joseph-ayodele/catalog-drafts/internal/stream"
)

const mouseText = `Logitech M705 Marathon
Wireless mouse with a three year battery life.

Color: Black`

type harness struct {
	router  *gin.Engine
	proc    *core.Processor
	catalog *catalog.Mock
}

func newHarness(t *testing.T, mutate func(*server.Deps)) *harness {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := repotest.Open(t)
	repo := repository.NewDraftRepository(db, nil)
	mirror := repository.NewCatalogRepository(db, nil)
	files, err := source.NewFileStore(t.TempDir())
	require.NoError(t, err)

	h := &harness{catalog: catalog.NewMock(true)}
	_, err = catalog.Sync(context.Background(), h.catalog, mirror, nil)
	require.NoError(t, err)

	searcher := search.NewService(mirror, nil)
	h.proc = core.NewProcessor(nil, repo, source.NewLoader(nil, files), llm.NewMock(), searcher, events.Nop{}, "en")
	svc := drafts.NewService(drafts.Deps{
		Drafts: repo, Files: files, Namer: llm.NewMock(), Catalog: h.catalog, Search: searcher,
	})

	deps := server.Deps{
		Drafts: svc,
		Chat:   chat.NewService(chat.MockBackend{ChunkSize: 5}, svc, nil),
		Export: export.NewService(repo, nil),
		Ping:   func(ctx context.Context) error { return db.HealthCheck(ctx, time.Second) },
	}
	if mutate != nil {
		mutate(&deps)
	}
	h.router = server.NewRouter(deps)
	return h
}

func (h *harness) do(t *testing.T, method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var rdr *bytes.Reader
	switch b := body.(type) {
	case nil:
		rdr = bytes.NewReader(nil)
	case string:
		rdr = bytes.NewReader([]byte(b))
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		rdr = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, rdr)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	h.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

type ingestResp struct {
	DraftID       uuid.UUID `json:"draft_id"`
	Status        string    `json:"status"`
	SourceType    string    `json:"source_type"`
	SourcePayload string    `json:"source_payload"`
}

func (h *harness) readyDraft(t *testing.T) uuid.UUID {
	t.Helper()
	w := h.do(t, http.MethodPost, "/api/v1/ingest", map[string]string{"text": mouseText})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	res := decode[ingestResp](t, w)
	require.NoError(t, h.proc.ProcessDraft(context.Background(), res.DraftID))
	return res.DraftID
}

func TestDraftLifecycleOverHTTP(t *testing.T) {
	h := newHarness(t, nil)

	w := h.do(t, http.MethodPost, "/api/v1/ingest", map[string]string{"text": mouseText})
	require.Equal(t, http.StatusCreated, w.Code)
	created := decode[ingestResp](t, w)
	assert.Equal(t, "new", created.Status)
	assert.Equal(t, "text", created.SourceType)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	require.NoError(t, h.proc.ProcessDraft(context.Background(), created.DraftID))
	path := "/api/v1/drafts/" + created.DraftID.String()

	w = h.do(t, http.MethodGet, path, nil)
	require.Equal(t, http.StatusOK, w.Code)
	d := decode[entity.Draft](t, w)
	assert.Equal(t, constants.DraftStatusReadyForReview, d.Status)
	assert.NotNil(t, d.ExtractedData)
	assert.Nil(t, d.ERPRefKey)

	w = h.do(t, http.MethodPatch, path, `{"final_data":{"brand":"Logitech","specs":{"color":"Graphite"}}}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	updated := decode[struct{ Draft entity.Draft }](t, w)
	assert.Equal(t, "Logitech", *updated.Draft.FinalData.Brand)
	assert.Equal(t, "Graphite", updated.Draft.FinalData.Specs["color"])

	w = h.do(t, http.MethodPost, path+"/generate-name", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	named := decode[map[string]any](t, w)
	assert.NotEmpty(t, named["generated_name"])

	w = h.do(t, http.MethodPost, path+"/commit", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	committed := decode[map[string]string](t, w)
	assert.Equal(t, "synced", committed["status"])
	assert.NotEmpty(t, committed["erp_ref_key"])

	w = h.do(t, http.MethodPost, path+"/commit", nil)
	require.Equal(t, http.StatusConflict, w.Code)
	env := decode[server.ErrorEnvelope](t, w)
	assert.Equal(t, "CONFLICT", env.Error.Code)
	assert.Equal(t, "synced", env.Error.Status)
	assert.Equal(t, 1, h.catalog.Pushes())

	w = h.do(t, http.MethodGet, path, nil)
	d = decode[entity.Draft](t, w)
	assert.Equal(t, constants.DraftStatusSynced, d.Status)
	require.NotNil(t, d.ERPRefKey)
	assert.Equal(t, committed["erp_ref_key"], *d.ERPRefKey)
}

func TestIngestValidation(t *testing.T) {
	h := newHarness(t, nil)

	cases := map[string]string{
		"both sources":      `{"url":"https://shop.test/p/1","text":"mouse"}`,
		"no source":         `{}`,
		"bad scheme":        `{"url":"ftp://shop.test/p/1"}`,
		"type mismatch":     `{"source_type":"url","text":"mouse"}`,
		"unknown type":      `{"source_type":"fax","text":"mouse"}`,
		"malformed json":    `{"text":`,
		"file as json body": `{"source_type":"file","text":"x"}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			w := h.do(t, http.MethodPost, "/api/v1/ingest", body)
			assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
			assert.Equal(t, "VALIDATION", decode[server.ErrorEnvelope](t, w).Error.Code)
		})
	}

	w := h.do(t, http.MethodGet, "/api/v1/drafts", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 0, decode[map[string]any](t, w)["total"])
}

func TestIngestMultipartFile(t *testing.T) {
	h := newHarness(t, nil)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "m705.txt")
	require.NoError(t, err)
	_, err = fw.Write([]byte(mouseText))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/ingest", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	h.router.ServeHTTP(w, req)

	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	res := decode[ingestResp](t, w)
	assert.Equal(t, "file", res.SourceType)
	assert.Equal(t, "m705.txt", res.SourcePayload)

	require.NoError(t, h.proc.ProcessDraft(context.Background(), res.DraftID))
	w = h.do(t, http.MethodGet, "/api/v1/drafts/"+res.DraftID.String(), nil)
	assert.Equal(t, constants.DraftStatusReadyForReview, decode[entity.Draft](t, w).Status)
}

func TestDraftErrors(t *testing.T) {
	h := newHarness(t, nil)

	w := h.do(t, http.MethodGet, "/api/v1/drafts/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = h.do(t, http.MethodGet, "/api/v1/drafts/"+uuid.NewString(), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "NOT_FOUND", decode[server.ErrorEnvelope](t, w).Error.Code)

	id := h.readyDraft(t)
	w = h.do(t, http.MethodPatch, "/api/v1/drafts/"+id.String(), `{"final_data":{"colour":"red"}}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = h.do(t, http.MethodPost, "/api/v1/ingest", map[string]string{"text": "Bosch GSR 12V-15 drill"})
	fresh := decode[ingestResp](t, w)
	w = h.do(t, http.MethodPost, "/api/v1/drafts/"+fresh.DraftID.String()+"/generate-name", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "new", decode[server.ErrorEnvelope](t, w).Error.Status)

	w = h.do(t, http.MethodPost, "/api/v1/drafts/"+fresh.DraftID.String()+"/commit", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestCommitTransportFailureKeepsDraftReady(t *testing.T) {
	h := newHarness(t, nil)
	id := h.readyDraft(t)
	h.catalog.SetErr(common.NewTransportError("erp offline", nil))

	w := h.do(t, http.MethodPost, "/api/v1/drafts/"+id.String()+"/commit", nil)
	assert.Equal(t, http.StatusBadGateway, w.Code, w.Body.String())

	w = h.do(t, http.MethodGet, "/api/v1/drafts/"+id.String(), nil)
	d := decode[entity.Draft](t, w)
	assert.Equal(t, constants.DraftStatusReadyForReview, d.Status)
	assert.Nil(t, d.ERPRefKey)
}

func TestListFiltersByStatus(t *testing.T) {
	h := newHarness(t, nil)
	h.readyDraft(t)
	h.do(t, http.MethodPost, "/api/v1/ingest", map[string]string{"text": "Keyboard K120"})

	w := h.do(t, http.MethodGet, "/api/v1/drafts?status=ready_for_review", nil)
	require.Equal(t, http.StatusOK, w.Code)
	page := decode[drafts.ListResult](t, w)
	assert.Equal(t, 1, page.Total)
	require.Len(t, page.Items, 1)
	assert.Equal(t, constants.DraftStatusReadyForReview, page.Items[0].Status)

	w = h.do(t, http.MethodGet, "/api/v1/drafts?status=new,ready_for_review&limit=1", nil)
	page = decode[drafts.ListResult](t, w)
	assert.Equal(t, 2, page.Total)
	assert.Len(t, page.Items, 1)

	w = h.do(t, http.MethodGet, "/api/v1/drafts?status=bogus", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = h.do(t, http.MethodGet, "/api/v1/drafts?limit=-1", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSearchAnalogs(t *testing.T) {
	h := newHarness(t, nil)

	w := h.do(t, http.MethodPost, "/api/v1/search/analogs", map[string]any{"query": "mouse"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	res := decode[struct{ Results []entity.AnalogMatch }](t, w)
	require.NotEmpty(t, res.Results)
	for i := 1; i < len(res.Results); i++ {
		assert.GreaterOrEqual(t, res.Results[i-1].Score, res.Results[i].Score)
	}
	assert.Contains(t, w.Body.String(), `"ref_key"`)

	w = h.do(t, http.MethodPost, "/api/v1/search/analogs", map[string]any{"query": "zzzz qqqq"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"results":[]}`, w.Body.String())

	id := h.readyDraft(t)
	w = h.do(t, http.MethodPost, "/api/v1/search/analogs", map[string]any{"draft_id": id.String()})
	require.Equal(t, http.StatusOK, w.Code)

	w = h.do(t, http.MethodPost, "/api/v1/search/analogs", map[string]any{"draft_id": id.String(), "query": "mouse"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = h.do(t, http.MethodPost, "/api/v1/search/analogs", map[string]any{"draft_id": "nope"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestExportXLSX(t *testing.T) {
	h := newHarness(t, nil)
	h.readyDraft(t)

	w := h.do(t, http.MethodGet, "/api/v1/drafts/export?status=ready_for_review", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "1", w.Header().Get("X-Row-Count"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "attachment")
	assert.True(t, bytes.HasPrefix(w.Body.Bytes(), []byte("PK")), "xlsx is a zip archive")

	w = h.do(t, http.MethodGet, "/api/v1/drafts/export?from=2026-13-01", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = h.do(t, http.MethodGet, "/api/v1/drafts/export?from=2026-02-01&to=2026-01-01", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func chatBody(stream bool, text string) map[string]any {
	return map[string]any{
		"stream":   stream,
		"messages": []map[string]string{{"role": "user", "content": text}},
		"metadata": map[string]string{"chat_id": "c-1"},
	}
}

func TestChatCompletionsStreamsSSE(t *testing.T) {
	h := newHarness(t, nil)

	w := h.do(t, http.MethodPost, "/api/v1/chat/completions", chatBody(true, "what can you do?"))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))
	assert.True(t, strings.HasSuffix(w.Body.String(), "data: [DONE]\n\n"))

	text, err := chat.ReadAll(context.Background(), stream.NewSSESource(w.Body))
	require.NoError(t, err)
	assert.Equal(t, chat.MockAnswer("what can you do?"), text)
}

// brokenBackend sends one chunk and then loses its upstream.
type brokenBackend struct{}

func (brokenBackend) Stream(context.Context, chat.Request) (stream.Source, error) {
	sent := false
	return stream.SourceFunc(func(context.Context) (stream.Fragment, error) {
		if !sent {
			sent = true
			return stream.Fragment{Content: "Here is "}, nil
		}
		return stream.Fragment{}, common.NewTransportError("model connection reset", nil)
	}), nil
}

func TestChatCompletionsReportsMidStreamFailure(t *testing.T) {
	h := newHarness(t, func(d *server.Deps) {
		d.Chat = chat.NewService(brokenBackend{}, nil, nil)
	})

	w := h.do(t, http.MethodPost, "/api/v1/chat/completions", chatBody(true, "what can you do?"))
	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.NotContains(t, body, "[DONE]")
	assert.Contains(t, body, `"error"`)

	evs, err := stream.Collect(context.Background(), stream.NewStream(stream.NewSSESource(w.Body)))
	assert.Equal(t, common.CodeTransport, common.ErrorCode(err))
	assert.Contains(t, err.Error(), "model connection reset")
	assert.Equal(t, "Here is ", stream.PlainText(evs))
}

func TestChatCompletionsInlinesDraftWidget(t *testing.T) {
	h := newHarness(t, nil)

	w := h.do(t, http.MethodPost, "/api/v1/chat/completions", chatBody(true, "add https://shop.test/p/m705 please"))
	require.Equal(t, http.StatusOK, w.Code)

	s := stream.NewStream(stream.NewSSESource(w.Body))
	evs, err := stream.Collect(context.Background(), s)
	require.NoError(t, err)

	var widgets []stream.DraftWidget
	for _, ev := range evs {
		if ev.Type == stream.EventWidget {
			dw, err := stream.DecodeDraftWidget(ev)
			require.NoError(t, err)
			widgets = append(widgets, dw)
		}
	}
	require.Len(t, widgets, 1)
	assert.Equal(t, "https://shop.test/p/m705", widgets[0].Draft.SourcePayload)
	assert.Equal(t, "shop.test", widgets[0].Meta.SourceLabel)
	assert.False(t, widgets[0].Meta.CanCommit)
}

func TestChatCompletionsNonStreaming(t *testing.T) {
	h := newHarness(t, nil)

	w := h.do(t, http.MethodPost, "/api/v1/chat/completions", chatBody(false, "hello"))
	require.Equal(t, http.StatusOK, w.Code)
	res := decode[chat.Completion](t, w)
	assert.Equal(t, "chat.completion", res.Object)
	require.Len(t, res.Choices, 1)
	assert.Equal(t, chat.MockAnswer("hello"), res.Choices[0].Message.Content)

	w = h.do(t, http.MethodPost, "/api/v1/chat/completions", map[string]any{"messages": []any{}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func signToken(t *testing.T, secret string, exp time.Time) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "reviewer-1",
		ExpiresAt: jwt.NewNumericDate(exp),
	})
	s, err := tok.SignedString([]byte(secret))
	require.NoError(t, err)
	return s
}

func TestAuthRequiredWhenSecretSet(t *testing.T) {
	const secret = "test-secret"
	h := newHarness(t, func(d *server.Deps) { d.JWTSecret = secret })

	w := h.do(t, http.MethodGet, "/healthcheck", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = h.do(t, http.MethodGet, "/api/v1/drafts", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "UNAUTHORIZED", decode[server.ErrorEnvelope](t, w).Error.Code)

	good := signToken(t, secret, time.Now().Add(time.Hour))
	w = h.do(t, http.MethodGet, "/api/v1/drafts", nil, "Authorization", "Bearer "+good)
	assert.Equal(t, http.StatusOK, w.Code)

	w = h.do(t, http.MethodGet, "/api/v1/drafts?token="+good, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = h.do(t, http.MethodGet, "/api/v1/drafts", nil, "Authorization", "Bearer "+signToken(t, "other", time.Now().Add(time.Hour)))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = h.do(t, http.MethodGet, "/api/v1/drafts", nil, "Authorization", "Bearer "+signToken(t, secret, time.Now().Add(-time.Minute)))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "token expired", decode[server.ErrorEnvelope](t, w).Error.Message)
}

func TestHealthcheckReportsDatabase(t *testing.T) {
	h := newHarness(t, func(d *server.Deps) {
		d.Ping = func(context.Context) error { return errors.New("down") }
	})
	w := h.do(t, http.MethodGet, "/healthcheck", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestRequestIDIsEchoed(t *testing.T) {
	h := newHarness(t, nil)
	w := h.do(t, http.MethodGet, "/healthcheck", nil, "X-Request-ID", "req-42")
	assert.Equal(t, "req-42", w.Header().Get("X-Request-ID"))
}
