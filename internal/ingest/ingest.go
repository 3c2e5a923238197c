// Package ingest turns product files dropped into a directory into drafts.
package ingest

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/joseph-ayodele/catalog-drafts/constants"
	"github.com/joseph-ayodele/catalog-drafts/internal/common"
	"github.com/joseph-ayodele/catalog-drafts/internal/entity"
	"github.com/joseph-ayodele/catalog-drafts/internal/services/drafts"
)

// FileResult is the per-file ingest outcome.
type FileResult struct {
	Path         string `json:"path"`
	DraftID      string `json:"draft_id,omitempty"`
	Deduplicated bool   `json:"deduplicated,omitempty"`
	HashHex      string `json:"hash,omitempty"`
	Err          string `json:"error,omitempty"`
}

// DirStats summarizes a directory ingest.
type DirStats struct {
	Scanned      uint32 `json:"scanned"`
	Matched      uint32 `json:"matched"`
	Succeeded    uint32 `json:"succeeded"`
	Deduplicated uint32 `json:"deduplicated"`
	Failed       uint32 `json:"failed"`
}

// Ingester creates drafts.
type Ingester interface {
	Ingest(ctx context.Context, req drafts.IngestRequest) (*entity.Draft, error)
}

// Inbox ingests files, creating one draft per distinct content.
type Inbox struct {
	ingester Ingester
	logger   *slog.Logger

	mu   sync.Mutex
	seen map[string]string // content hash -> draft id
}

func NewInbox(ingester Ingester, logger *slog.Logger) *Inbox {
	if logger == nil {
		logger = slog.Default()
	}
	return &Inbox{ingester: ingester, logger: logger, seen: map[string]string{}}
}

// IngestPath creates a file draft from path unless the same bytes were already
// ingested by this inbox.
func (in *Inbox) IngestPath(ctx context.Context, path string) (FileResult, error) {
	out := FileResult{Path: path}
	if !constants.AllowedExt(filepath.Ext(path)) {
		return out, common.NewValidationErrorf("unsupported file extension %q", filepath.Ext(path))
	}

	f, err := os.Open(path)
	if err != nil {
		return out, fmt.Errorf("open: %w", err)
	}
	defer f.Close()

	var buf bytes.Buffer
	n, err := io.Copy(&buf, io.LimitReader(f, constants.MaxUploadBytes+1))
	if err != nil {
		return out, fmt.Errorf("read: %w", err)
	}
	if n > constants.MaxUploadBytes {
		return out, common.NewValidationErrorf("file exceeds %d bytes", constants.MaxUploadBytes)
	}
	if n == 0 {
		return out, common.NewValidationError("file is empty")
	}
	sum := sha256.Sum256(buf.Bytes())
	out.HashHex = hex.EncodeToString(sum[:])

	in.mu.Lock()
	if id, ok := in.seen[out.HashHex]; ok {
		in.mu.Unlock()
		out.DraftID, out.Deduplicated = id, true
		in.logger.Debug("ingest.file.duplicate", "path", path, "draft_id", id)
		return out, nil
	}
	in.mu.Unlock()

	d, err := in.ingester.Ingest(ctx, drafts.IngestRequest{
		File: &drafts.FileUpload{Name: filepath.Base(path), Reader: &buf},
	})
	if err != nil {
		return out, err
	}
	out.DraftID = d.ID.String()

	in.mu.Lock()
	in.seen[out.HashHex] = out.DraftID
	in.mu.Unlock()
	in.logger.Info("ingest.file.created", "path", path, "draft_id", d.ID)
	return out, nil
}

// IsHidden checks if a file or directory is hidden (starts with '.').
func IsHidden(path string) bool {
	return strings.HasPrefix(filepath.Base(path), ".")
}
