package repository

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"entgo.io/ent/dialect"
	entsql "entgo.io/ent/dialect/sql"
	"github.com/google/uuid"

	"github.com/joseph-ayodele/catalog-drafts/internal/common"
	"github.com/joseph-ayodele/catalog-drafts/internal/entity"
)

const catalogTable = "catalog_items"

var catalogColumns = []string{"ref_key", "name", "brand", "article", "kind", "image_url", "draft_id", "created_at"}

// CatalogRepository is the local mirror of catalog items used by analog search.
type CatalogRepository interface {
	Upsert(ctx context.Context, item entity.CatalogItem) error
	Get(ctx context.Context, refKey string) (*entity.CatalogItem, error)
	List(ctx context.Context) ([]entity.CatalogItem, error)
	Count(ctx context.Context) (int, error)
}

type catalogRepository struct {
	db     *DB
	logger *slog.Logger
}

func NewCatalogRepository(db *DB, logger *slog.Logger) CatalogRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &catalogRepository{db: db, logger: logger}
}

func (r *catalogRepository) Upsert(ctx context.Context, item entity.CatalogItem) error {
	if err := upsertCatalogItem(ctx, r.db, r.db.Driver, item); err != nil {
		r.logger.Error("failed to upsert catalog item", "ref_key", item.RefKey, "error", err)
		return err
	}
	return nil
}

func upsertCatalogItem(ctx context.Context, db *DB, exec dialect.ExecQuerier, item entity.CatalogItem) error {
	if item.RefKey == "" {
		return common.NewValidationError("catalog item ref_key is required")
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now().UTC()
	}
	var draftID any
	if item.DraftID != nil {
		draftID = item.DraftID.String()
	}

	q, args := db.Builder().Insert(catalogTable).
		Columns(catalogColumns...).
		Values(item.RefKey, item.Name, item.Brand, item.Article, item.Kind, item.ImageURL, draftID, db.timeValue(item.CreatedAt)).
		OnConflict(
			entsql.ConflictColumns("ref_key"),
			entsql.ResolveWith(func(u *entsql.UpdateSet) {
				for _, c := range []string{"name", "brand", "article", "kind", "image_url", "draft_id"} {
					u.SetExcluded(c)
				}
			}),
		).
		Query()
	if err := exec.Exec(ctx, q, args, nil); err != nil {
		return fmt.Errorf("%w: upsert catalog item: %w", common.ErrDatabase, err)
	}
	return nil
}

func (r *catalogRepository) Get(ctx context.Context, refKey string) (*entity.CatalogItem, error) {
	b := r.db.Builder()
	q, args := b.Select(catalogColumns...).From(b.Table(catalogTable)).Where(entsql.EQ("ref_key", refKey)).Query()
	items, err := r.query(ctx, q, args)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, common.NewNotFoundError(fmt.Sprintf("catalog item %s not found", refKey))
	}
	return &items[0], nil
}

func (r *catalogRepository) List(ctx context.Context) ([]entity.CatalogItem, error) {
	b := r.db.Builder()
	q, args := b.Select(catalogColumns...).From(b.Table(catalogTable)).OrderBy("ref_key").Query()
	items, err := r.query(ctx, q, args)
	if err != nil {
		r.logger.Error("failed to list catalog items", "error", err)
		return nil, err
	}
	return items, nil
}

func (r *catalogRepository) Count(ctx context.Context) (int, error) {
	b := r.db.Builder()
	q, args := b.Select(entsql.Count("*")).From(b.Table(catalogTable)).Query()
	return countRows(ctx, r.db.Driver, q, args)
}

func (r *catalogRepository) query(ctx context.Context, q string, args []any) ([]entity.CatalogItem, error) {
	var rows entsql.Rows
	if err := r.db.Driver.Query(ctx, q, args, &rows); err != nil {
		return nil, fmt.Errorf("%w: query catalog: %w", common.ErrDatabase, err)
	}
	defer rows.Close()

	var out []entity.CatalogItem
	for rows.Next() {
		var (
			it      entity.CatalogItem
			draftID sql.NullString
			created dbTime
		)
		if err := rows.Scan(&it.RefKey, &it.Name, &it.Brand, &it.Article, &it.Kind, &it.ImageURL, &draftID, &created); err != nil {
			return nil, fmt.Errorf("%w: scan catalog item: %w", common.ErrDatabase, err)
		}
		if draftID.Valid {
			if id, err := uuid.Parse(draftID.String); err == nil {
				it.DraftID = &id
			}
		}
		it.CreatedAt = created.Time
		out = append(out, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate catalog: %w", common.ErrDatabase, err)
	}
	return out, nil
}
