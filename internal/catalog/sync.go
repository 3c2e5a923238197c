package catalog

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/joseph-ayodele/catalog-drafts/internal/entity"
)

// Mirror is the local store the catalog is copied into.
type Mirror interface {
	Upsert(ctx context.Context, item entity.CatalogItem) error
}

// Sync copies every catalog item into the mirror and returns how many were written.
func Sync(ctx context.Context, src Client, dst Mirror, logger *slog.Logger) (int, error) {
	if logger == nil {
		logger = slog.Default()
	}
	items, err := src.Items(ctx)
	if err != nil {
		return 0, fmt.Errorf("list catalog: %w", err)
	}
	n := 0
	for _, it := range items {
		if err := dst.Upsert(ctx, it); err != nil {
			return n, fmt.Errorf("mirror %s: %w", it.RefKey, err)
		}
		n++
	}
	logger.Info("catalog.sync.done", "items", n)
	return n, nil
}
