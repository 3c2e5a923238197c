package client_test

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/catalog-drafts/constants"
	"github.com/joseph-ayodele/catalog-drafts/internal/catalog"
	"github.com/joseph-ayodele/catalog-drafts/internal/chat"
	"github.com/joseph-ayodele/catalog-drafts/internal/client"
	"github.com/joseph-ayodele/catalog-drafts/internal/common"
	"github.com/joseph-ayodele/catalog-drafts/internal/core"
	"github.com/joseph-ayodele/catalog-drafts/internal/core/async"
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

// newServer runs the full API with an in-process worker queue.
func newServer(t *testing.T) *client.Client {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := repotest.Open(t)
	repo := repository.NewDraftRepository(db, nil)
	mirror := repository.NewCatalogRepository(db, nil)
	files, err := source.NewFileStore(t.TempDir())
	require.NoError(t, err)
	cat := catalog.NewMock(true)
	_, err = catalog.Sync(context.Background(), cat, mirror, nil)
	require.NoError(t, err)

	searcher := search.NewService(mirror, nil)
	proc := core.NewProcessor(nil, repo, source.NewLoader(nil, files), llm.NewMock(), searcher, events.Nop{}, "en")
	queue := async.NewProcessorQueue(proc, nil, async.WithWorkers(2), async.WithRetryBackoff(10*time.Millisecond))
	t.Cleanup(func() { queue.Shutdown(context.Background()) })

	svc := drafts.NewService(drafts.Deps{
		Drafts: repo, Files: files, Queue: queue, Namer: llm.NewMock(), Catalog: cat, Search: searcher,
	})
	router := server.NewRouter(server.Deps{
		Drafts: svc,
		Chat:   chat.NewService(chat.MockBackend{}, svc, nil),
		Export: export.NewService(repo, nil),
	})
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return client.New(client.Config{BaseURL: srv.URL, Timeout: 5 * time.Second}, nil)
}

func TestClientScenario(t *testing.T) {
	c := newServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	res, err := c.Ingest(ctx, client.IngestRequest{Text: "Logitech M705 Marathon\nWireless mouse.\n\nColor: Black"})
	require.NoError(t, err)
	assert.Equal(t, constants.DraftStatusNew, res.Status)

	d, err := c.WaitReady(ctx, res.DraftID, 20*time.Millisecond)
	require.NoError(t, err)
	require.Equal(t, constants.DraftStatusReadyForReview, d.Status)

	brand := "Logitech"
	d, err = c.UpdateDraft(ctx, res.DraftID, entity.FinalData{Brand: &brand})
	require.NoError(t, err)
	assert.Equal(t, "Logitech", *d.FinalData.Brand)

	name, err := c.GenerateName(ctx, res.DraftID)
	require.NoError(t, err)
	assert.NotEmpty(t, name)

	out, err := c.Commit(ctx, res.DraftID)
	require.NoError(t, err)
	assert.Equal(t, constants.CommitStatusSynced, out.Status)
	assert.NotEmpty(t, out.ERPRefKey)

	_, err = c.Commit(ctx, res.DraftID)
	assert.Equal(t, common.CodeConflict, common.ErrorCode(err))
	st, ok := common.ConflictStatus(err)
	assert.True(t, ok)
	assert.Equal(t, "synced", st)

	page, err := c.ListDrafts(ctx, client.ListOptions{Statuses: []constants.DraftStatus{constants.DraftStatusSynced}})
	require.NoError(t, err)
	assert.Equal(t, 1, page.Total)

	xlsx, err := c.ExportXLSX(ctx, client.ExportOptions{})
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(xlsx, []byte("PK")))
}

func TestClientIngestFile(t *testing.T) {
	c := newServer(t)
	ctx := context.Background()

	res, err := c.IngestFile(ctx, "k120.md", strings.NewReader("# Logitech K120\nWired keyboard"))
	require.NoError(t, err)
	assert.Equal(t, constants.SourceTypeFile, res.SourceType)

	_, err = c.IngestFile(ctx, "k120.exe", strings.NewReader("MZ"))
	assert.Equal(t, common.CodeValidation, common.ErrorCode(err))
}

func TestClientErrors(t *testing.T) {
	c := newServer(t)
	ctx := context.Background()

	_, err := c.GetDraft(ctx, uuid.New())
	assert.Equal(t, common.CodeNotFound, common.ErrorCode(err))

	_, err = c.Ingest(ctx, client.IngestRequest{URL: "https://shop.test/1", Text: "x"})
	assert.Equal(t, common.CodeValidation, common.ErrorCode(err))

	_, err = c.SearchAnalogs(ctx, client.SearchRequest{})
	assert.Equal(t, common.CodeValidation, common.ErrorCode(err))

	results, err := c.SearchAnalogs(ctx, client.SearchRequest{Query: "mouse"})
	require.NoError(t, err)
	assert.NotEmpty(t, results)

	down := client.New(client.Config{BaseURL: "http://127.0.0.1:1", Timeout: time.Second}, nil)
	_, err = down.GetDraft(ctx, uuid.New())
	assert.Equal(t, common.CodeTransport, common.ErrorCode(err))
}

func TestClientChatStreamDecodesWidget(t *testing.T) {
	c := newServer(t)
	ctx := context.Background()

	s, err := c.ChatStream(ctx, chat.Request{Messages: []llm.ChatMessage{{Role: "user", Content: "https://shop.test/p/mx"}}})
	require.NoError(t, err)
	defer s.Close()

	evs, err := stream.Collect(ctx, s)
	require.NoError(t, err)
	evs = stream.Coalesce(evs)
	require.Len(t, evs, 3)
	assert.Equal(t, stream.EventText, evs[0].Type)
	assert.Equal(t, stream.EventWidget, evs[1].Type)
	assert.Equal(t, stream.EventText, evs[2].Type)

	w, err := stream.DecodeDraftWidget(evs[1])
	require.NoError(t, err)
	assert.Equal(t, "https://shop.test/p/mx", w.Draft.SourcePayload)

	comp, err := c.Chat(ctx, chat.Request{Messages: []llm.ChatMessage{{Role: "user", Content: "hi"}}})
	require.NoError(t, err)
	assert.Equal(t, chat.MockAnswer("hi"), comp.Choices[0].Message.Content)
}

func TestCommitAcceptsReadyToSync(t *testing.T) {
	id := uuid.New()
	replies := map[string]string{
		"/api/v1/drafts/" + id.String() + "/commit": `{"status":"ready_to_sync"}`,
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, ok := replies[r.URL.Path]
		if !ok {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{"status":"queued"}`))
			return
		}
		_, _ = w.Write([]byte(body))
	}))
	defer srv.Close()
	c := client.New(client.Config{BaseURL: srv.URL}, nil)

	out, err := c.Commit(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, constants.CommitStatusReadyToSync, out.Status)

	_, err = c.Commit(context.Background(), uuid.New())
	assert.Equal(t, common.CodeDecode, common.ErrorCode(err))
}

func TestBearerTokenIsSent(t *testing.T) {
	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("Authorization")
		_, _ = w.Write([]byte(`{"items":[],"total":0,"limit":50,"offset":0}`))
	}))
	defer srv.Close()

	c := client.New(client.Config{BaseURL: srv.URL + "/", Token: "tok"}, nil)
	_, err := c.ListDrafts(context.Background(), client.ListOptions{})
	require.NoError(t, err)
	assert.Equal(t, "Bearer tok", got)
}
