package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/catalog-drafts/constants"
	"github.com/joseph-ayodele/catalog-drafts/internal/common"
	"github.com/joseph-ayodele/catalog-drafts/internal/entity"
)

func ptr(s string) *string { return &s }

func readyDraft() *entity.Draft {
	return &entity.Draft{
		ID:     uuid.MustParse("9b2e4c1a-3f5d-4e6a-8b7c-1d2e3f4a5b6c"),
		Status: constants.DraftStatusReadyForReview,
		FinalData: entity.FinalData{
			Type:        ptr("Computer mouse"),
			Brand:       ptr("Logitech"),
			Article:     ptr("M705"),
			Description: ptr("Wireless mouse with **3 year** battery"),
			Images:      []entity.Image{{Src: "https://cdn.test/m705.jpg"}},
		},
		Predictions: entity.Predictions{Gau: &entity.GauPrediction{Code: "045", Confidence: 0.9}},
	}
}

func TestBuildPushRequest(t *testing.T) {
	req, err := BuildPushRequest(readyDraft())
	require.NoError(t, err)
	assert.Equal(t, "Logitech M705", req.Name)
	assert.Equal(t, "045", req.GauCode)
	assert.Contains(t, req.DescriptionHTML, "<strong>3 year</strong>")

	item := req.Item("ERP-7")
	assert.Equal(t, "Computer mouse", item.Kind)
	assert.Equal(t, "https://cdn.test/m705.jpg", item.ImageURL)
	require.NotNil(t, item.DraftID)

	_, err = BuildPushRequest(&entity.Draft{ID: uuid.New()})
	assert.Equal(t, common.CodeValidation, common.ErrorCode(err))
}

func TestMockPushIsIdempotentPerDraft(t *testing.T) {
	m := NewMock(true)
	req, err := BuildPushRequest(readyDraft())
	require.NoError(t, err)

	first, err := m.Push(context.Background(), req)
	require.NoError(t, err)
	second, err := m.Push(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, first.RefKey, second.RefKey)
	assert.True(t, second.Replayed)
	assert.Equal(t, 1, m.Pushes())

	items, err := m.Items(context.Background())
	require.NoError(t, err)
	assert.Len(t, items, len(SeedItems())+1)

	m.SetErr(errors.New("catalog down"))
	_, err = m.Push(context.Background(), PushRequest{DraftID: uuid.New(), Name: "x"})
	assert.Error(t, err)
}

func TestHTTPClientPush(t *testing.T) {
	var seenKey, seenAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenKey = r.Header.Get("Idempotency-Key")
		seenAuth = r.Header.Get("Authorization")
		var body PushRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "Logitech M705", body.Name)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ref_key":"ERP-42"}`))
	}))
	defer srv.Close()

	c := NewHTTPClient(HTTPConfig{BaseURL: srv.URL + "/", APIKey: "secret"}, nil)
	req, err := BuildPushRequest(readyDraft())
	require.NoError(t, err)

	res, err := c.Push(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "ERP-42", res.RefKey)
	assert.Equal(t, req.DraftID.String(), seenKey)
	assert.Equal(t, "Bearer secret", seenAuth)
}

func TestHTTPClientPushFailureIsTransport(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream busy", http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewHTTPClient(HTTPConfig{BaseURL: srv.URL}, nil)
	_, err := c.Push(context.Background(), PushRequest{DraftID: uuid.New(), Name: "x"})
	assert.Equal(t, common.CodeTransport, common.ErrorCode(err))
}

func TestHTTPClientMissingRefKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := NewHTTPClient(HTTPConfig{BaseURL: srv.URL}, nil)
	_, err := c.Push(context.Background(), PushRequest{DraftID: uuid.New(), Name: "x"})
	assert.Equal(t, common.CodeTransport, common.ErrorCode(err))
}

type memMirror struct{ n atomic.Int32 }

func (m *memMirror) Upsert(context.Context, entity.CatalogItem) error {
	m.n.Add(1)
	return nil
}

func TestSyncCopiesEveryItem(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"items": SeedItems()[:3]})
	}))
	defer srv.Close()

	mirror := &memMirror{}
	n, err := Sync(context.Background(), NewHTTPClient(HTTPConfig{BaseURL: srv.URL}, nil), mirror, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.EqualValues(t, 3, mirror.n.Load())
}
