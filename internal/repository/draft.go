package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"entgo.io/ent/dialect"
	entsql "entgo.io/ent/dialect/sql"
	"github.com/google/uuid"

	"github.com/joseph-ayodele/catalog-drafts/constants"
	"github.com/joseph-ayodele/catalog-drafts/internal/common"
	"github.com/joseph-ayodele/catalog-drafts/internal/entity"
)

const draftsTable = "drafts"

var draftColumns = []string{
	"id", "status", "source_type", "source_payload", "source_ref",
	"extracted_data", "final_data", "predictions", "erp_ref_key", "error_message",
	"version", "created_at", "updated_at",
}

// ErrStaleVersion is returned by Save when the stored draft changed since it was read.
var ErrStaleVersion = errors.New("draft version is stale")

// maxMutateAttempts bounds optimistic retries in Mutate.
const maxMutateAttempts = 5

// ListFilter narrows List and Count. Empty Statuses means all.
type ListFilter struct {
	Statuses []constants.DraftStatus
	Limit    int
	Offset   int
}

type DraftRepository interface {
	Create(ctx context.Context, d *entity.Draft) error
	GetByID(ctx context.Context, id uuid.UUID) (*entity.Draft, error)
	// Save writes d if its version still matches the stored one and bumps it.
	Save(ctx context.Context, d *entity.Draft) error
	// SaveWithCatalogItem saves d and upserts item in one transaction.
	SaveWithCatalogItem(ctx context.Context, d *entity.Draft, item entity.CatalogItem) error
	List(ctx context.Context, f ListFilter) ([]*entity.Draft, error)
	Count(ctx context.Context, f ListFilter) (int, error)
}

type draftRepository struct {
	db     *DB
	logger *slog.Logger
	now    func() time.Time
}

func NewDraftRepository(db *DB, logger *slog.Logger) DraftRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &draftRepository{db: db, logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

func (r *draftRepository) Create(ctx context.Context, d *entity.Draft) error {
	now := r.now()
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = now
	}
	d.UpdatedAt = d.CreatedAt
	d.Version = 1

	values, err := draftValues(r.db, d)
	if err != nil {
		return err
	}
	q, args := r.db.Builder().Insert(draftsTable).Columns(draftColumns...).Values(values...).Query()
	if err := r.db.Driver.Exec(ctx, q, args, nil); err != nil {
		r.logger.Error("failed to create draft", "draft_id", d.ID, "error", err)
		return fmt.Errorf("%w: create draft: %w", common.ErrDatabase, err)
	}
	return nil
}

func (r *draftRepository) GetByID(ctx context.Context, id uuid.UUID) (*entity.Draft, error) {
	return r.get(ctx, r.db.Driver, id)
}

func (r *draftRepository) get(ctx context.Context, exec dialect.ExecQuerier, id uuid.UUID) (*entity.Draft, error) {
	b := r.db.Builder()
	q, args := b.Select(draftColumns...).From(b.Table(draftsTable)).Where(entsql.EQ("id", id.String())).Query()
	drafts, err := r.query(ctx, exec, q, args)
	if err != nil {
		r.logger.Error("failed to get draft", "draft_id", id, "error", err)
		return nil, err
	}
	if len(drafts) == 0 {
		return nil, common.NewNotFoundError(fmt.Sprintf("draft %s not found", id))
	}
	return drafts[0], nil
}

func (r *draftRepository) Save(ctx context.Context, d *entity.Draft) error {
	return r.save(ctx, r.db.Driver, d)
}

func (r *draftRepository) SaveWithCatalogItem(ctx context.Context, d *entity.Draft, item entity.CatalogItem) error {
	tx, err := r.db.Driver.Tx(ctx)
	if err != nil {
		return fmt.Errorf("%w: begin: %w", common.ErrDatabase, err)
	}
	snapshot := *d
	if err := r.save(ctx, tx, d); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := upsertCatalogItem(ctx, r.db, tx, item); err != nil {
		_ = tx.Rollback()
		*d = snapshot
		r.logger.Error("failed to upsert catalog item", "ref_key", item.RefKey, "error", err)
		return err
	}
	if err := tx.Commit(); err != nil {
		*d = snapshot
		return fmt.Errorf("%w: commit: %w", common.ErrDatabase, err)
	}
	return nil
}

func (r *draftRepository) save(ctx context.Context, exec dialect.ExecQuerier, d *entity.Draft) error {
	now := r.now()
	ed, fd, pr, err := draftJSON(d)
	if err != nil {
		return err
	}

	q, args := r.db.Builder().Update(draftsTable).
		Set("status", string(d.Status)).
		Set("extracted_data", ed).
		Set("final_data", fd).
		Set("predictions", pr).
		Set("erp_ref_key", nullable(d.ERPRefKey)).
		Set("error_message", nullable(d.ErrorMessage)).
		Set("source_ref", d.SourceRef).
		Set("updated_at", r.db.timeValue(now)).
		Add("version", 1).
		Where(entsql.And(entsql.EQ("id", d.ID.String()), entsql.EQ("version", d.Version))).
		Query()

	var res sql.Result
	if err := exec.Exec(ctx, q, args, &res); err != nil {
		r.logger.Error("failed to save draft", "draft_id", d.ID, "error", err)
		return fmt.Errorf("%w: save draft: %w", common.ErrDatabase, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: rows affected: %w", common.ErrDatabase, err)
	}
	if n == 0 {
		if _, err := r.get(ctx, exec, d.ID); err != nil {
			return err
		}
		return ErrStaleVersion
	}
	d.Version++
	d.UpdatedAt = now
	return nil
}

func (r *draftRepository) List(ctx context.Context, f ListFilter) ([]*entity.Draft, error) {
	b := r.db.Builder()
	sel := b.Select(draftColumns...).From(b.Table(draftsTable)).OrderBy(entsql.Desc("created_at"), entsql.Desc("id"))
	if p := statusPredicate(f.Statuses); p != nil {
		sel = sel.Where(p)
	}
	if f.Limit > 0 {
		sel = sel.Limit(f.Limit)
	}
	if f.Offset > 0 {
		sel = sel.Offset(f.Offset)
	}
	q, args := sel.Query()
	drafts, err := r.query(ctx, r.db.Driver, q, args)
	if err != nil {
		r.logger.Error("failed to list drafts", "statuses", f.Statuses, "error", err)
		return nil, err
	}
	return drafts, nil
}

func (r *draftRepository) Count(ctx context.Context, f ListFilter) (int, error) {
	b := r.db.Builder()
	sel := b.Select(entsql.Count("*")).From(b.Table(draftsTable))
	if p := statusPredicate(f.Statuses); p != nil {
		sel = sel.Where(p)
	}
	q, args := sel.Query()
	return countRows(ctx, r.db.Driver, q, args)
}

func statusPredicate(statuses []constants.DraftStatus) *entsql.Predicate {
	if len(statuses) == 0 {
		return nil
	}
	vals := make([]any, len(statuses))
	for i, s := range statuses {
		vals[i] = string(s)
	}
	return entsql.In("status", vals...)
}

func (r *draftRepository) query(ctx context.Context, exec dialect.ExecQuerier, q string, args []any) ([]*entity.Draft, error) {
	var rows entsql.Rows
	if err := exec.Query(ctx, q, args, &rows); err != nil {
		return nil, fmt.Errorf("%w: query drafts: %w", common.ErrDatabase, err)
	}
	defer rows.Close()

	var out []*entity.Draft
	for rows.Next() {
		d, err := scanDraft(&rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate drafts: %w", common.ErrDatabase, err)
	}
	return out, nil
}

func scanDraft(rows *entsql.Rows) (*entity.Draft, error) {
	var (
		id, status, sourceType, payload, sourceRef string
		extracted, final, predictions, erp, errMsg sql.NullString
		version                                    int64
		created, updated                           dbTime
	)
	if err := rows.Scan(&id, &status, &sourceType, &payload, &sourceRef,
		&extracted, &final, &predictions, &erp, &errMsg,
		&version, &created, &updated); err != nil {
		return nil, fmt.Errorf("%w: scan draft: %w", common.ErrDatabase, err)
	}

	parsed, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("%w: draft id %q: %w", common.ErrDatabase, id, err)
	}
	d := &entity.Draft{
		ID:            parsed,
		Status:        constants.DraftStatus(status),
		SourceType:    constants.SourceType(sourceType),
		SourcePayload: payload,
		SourceRef:     sourceRef,
		ERPRefKey:     stringPtr(erp),
		ErrorMessage:  stringPtr(errMsg),
		Version:       version,
		CreatedAt:     created.Time,
		UpdatedAt:     updated.Time,
	}
	if err := unmarshalJSON(extracted, &d.ExtractedData); err != nil {
		return nil, fmt.Errorf("%w: extracted_data: %w", common.ErrDatabase, err)
	}
	if err := unmarshalJSON(final, &d.FinalData); err != nil {
		return nil, fmt.Errorf("%w: final_data: %w", common.ErrDatabase, err)
	}
	if err := unmarshalJSON(predictions, &d.Predictions); err != nil {
		return nil, fmt.Errorf("%w: predictions: %w", common.ErrDatabase, err)
	}
	return d, nil
}

func draftJSON(d *entity.Draft) (extracted any, final, predictions string, err error) {
	if d.ExtractedData != nil {
		s, err := marshalJSON(d.ExtractedData)
		if err != nil {
			return nil, "", "", fmt.Errorf("encode extracted_data: %w", err)
		}
		extracted = s
	}
	if final, err = marshalJSON(d.FinalData); err != nil {
		return nil, "", "", fmt.Errorf("encode final_data: %w", err)
	}
	if predictions, err = marshalJSON(d.Predictions); err != nil {
		return nil, "", "", fmt.Errorf("encode predictions: %w", err)
	}
	return extracted, final, predictions, nil
}

func draftValues(db *DB, d *entity.Draft) ([]any, error) {
	ed, fd, pr, err := draftJSON(d)
	if err != nil {
		return nil, err
	}
	return []any{
		d.ID.String(), string(d.Status), string(d.SourceType), d.SourcePayload, d.SourceRef,
		ed, fd, pr, nullable(d.ERPRefKey), nullable(d.ErrorMessage),
		d.Version, db.timeValue(d.CreatedAt), db.timeValue(d.UpdatedAt),
	}, nil
}

func countRows(ctx context.Context, exec dialect.ExecQuerier, q string, args []any) (int, error) {
	var rows entsql.Rows
	if err := exec.Query(ctx, q, args, &rows); err != nil {
		return 0, fmt.Errorf("%w: count: %w", common.ErrDatabase, err)
	}
	defer rows.Close()
	n := 0
	if rows.Next() {
		if err := rows.Scan(&n); err != nil {
			return 0, fmt.Errorf("%w: scan count: %w", common.ErrDatabase, err)
		}
	}
	return n, rows.Err()
}

// Mutate loads the draft, applies fn and saves it, reloading and retrying when
// a concurrent writer got there first. fn must be safe to call more than once;
// an error from fn aborts without writing.
func Mutate(ctx context.Context, repo DraftRepository, id uuid.UUID, fn func(d *entity.Draft) error) (*entity.Draft, error) {
	for attempt := 1; ; attempt++ {
		d, err := repo.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if err := fn(d); err != nil {
			return d, err
		}
		err = repo.Save(ctx, d)
		if err == nil {
			return d, nil
		}
		if !errors.Is(err, ErrStaleVersion) || attempt >= maxMutateAttempts {
			if errors.Is(err, ErrStaleVersion) {
				return nil, common.NewConflictError("draft is being modified concurrently, retry", string(d.Status))
			}
			return nil, err
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}
}
