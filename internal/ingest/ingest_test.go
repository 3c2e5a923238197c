package ingest

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/catalog-drafts/constants"
	"github.com/joseph-ayodele/catalog-drafts/internal/entity"
	"github.com/joseph-ayodele/catalog-drafts/internal/services/drafts"
)

type recordingIngester struct {
	mu    sync.Mutex
	names []string
	texts []string
}

func (r *recordingIngester) Ingest(_ context.Context, req drafts.IngestRequest) (*entity.Draft, error) {
	raw, err := io.ReadAll(req.File.Reader)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.names = append(r.names, req.File.Name)
	r.texts = append(r.texts, string(raw))
	return &entity.Draft{ID: uuid.New(), Status: constants.DraftStatusNew, SourceType: constants.SourceTypeFile}, nil
}

func (r *recordingIngester) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.names)
}

func write(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestIngestDirectory(t *testing.T) {
	root := t.TempDir()
	write(t, filepath.Join(root, "m705.txt"), "Logitech M705")
	write(t, filepath.Join(root, "sub", "copy.md"), "Logitech M705")
	write(t, filepath.Join(root, "sub", "page.html"), "<title>Bosch GSR</title>")
	write(t, filepath.Join(root, "photo.png"), "png")
	write(t, filepath.Join(root, ".hidden", "x.txt"), "hidden")

	rec := &recordingIngester{}
	results, stats, err := NewInbox(rec, nil).IngestDirectory(context.Background(), root, true)
	require.NoError(t, err)

	assert.EqualValues(t, 3, stats.Matched)
	assert.EqualValues(t, 3, stats.Succeeded)
	assert.EqualValues(t, 1, stats.Deduplicated)
	assert.Zero(t, stats.Failed)
	assert.Len(t, results, 3)
	assert.Equal(t, 2, rec.count())
	assert.Contains(t, rec.texts, "Logitech M705")
}

func TestIngestPathRejectsUnsupported(t *testing.T) {
	root := t.TempDir()
	p := filepath.Join(root, "a.exe")
	write(t, p, "x")
	_, err := NewInbox(&recordingIngester{}, nil).IngestPath(context.Background(), p)
	assert.Error(t, err)

	_, _, err = NewInbox(&recordingIngester{}, nil).IngestDirectory(context.Background(), " ", false)
	assert.Error(t, err)
}

func TestWatchIngestsNewFiles(t *testing.T) {
	root := t.TempDir()
	write(t, filepath.Join(root, "existing.txt"), "Sony WH-1000XM5")

	rec := &recordingIngester{}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- NewInbox(rec, nil).Watch(ctx, WatchConfig{Roots: []string{root}, InitialScan: true, Debounce: 20 * time.Millisecond})
	}()

	require.Eventually(t, func() bool { return rec.count() == 1 }, 5*time.Second, 10*time.Millisecond)
	write(t, filepath.Join(root, "new.csv"), "name,brand\nM705,Logitech")
	require.Eventually(t, func() bool { return rec.count() == 2 }, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("watch did not stop")
	}
}
