package repository_test

import (
	"context"
	"database/sql/driver"
	"regexp"
	"testing"
	"time"

	"entgo.io/ent/dialect"
	entsql "entgo.io/ent/dialect/sql"
	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/catalog-drafts/constants"
	"github.com/joseph-ayodele/catalog-drafts/internal/entity"
	"github.com/joseph-ayodele/catalog-drafts/internal/repository"
	"github.com/joseph-ayodele/catalog-drafts/internal/repository/repotest"
)

func TestCatalogUpsertKeepsOneRowPerRefKey(t *testing.T) {
	repo := repository.NewCatalogRepository(repotest.Open(t), nil)
	ctx := context.Background()

	require.NoError(t, repo.Upsert(ctx, entity.CatalogItem{RefKey: "ERP-1", Name: "Mouse Logitech M705"}))
	require.NoError(t, repo.Upsert(ctx, entity.CatalogItem{RefKey: "ERP-1", Name: "Mouse Logitech M705 Marathon", Brand: "Logitech"}))
	require.NoError(t, repo.Upsert(ctx, entity.CatalogItem{RefKey: "ERP-0", Name: "Keyboard"}))

	n, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	items, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "ERP-0", items[0].RefKey)
	assert.Equal(t, "Mouse Logitech M705 Marathon", items[1].Name)
	assert.Equal(t, "Logitech", items[1].Brand)

	assert.Error(t, repo.Upsert(ctx, entity.CatalogItem{Name: "no key"}))
}

// postgresMock wires sqlmock behind the ent driver with the Postgres dialect.
func postgresMock(t *testing.T) (*repository.DB, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })
	return &repository.DB{SQL: sqlDB, Driver: entsql.OpenDB(dialect.Postgres, sqlDB), Dialect: dialect.Postgres}, mock
}

func TestPostgresSaveUsesVersionGuard(t *testing.T) {
	db, mock := postgresMock(t)
	repo := repository.NewDraftRepository(db, nil)
	id := uuid.New()

	mock.ExpectExec(`UPDATE "drafts" SET .*"version" = COALESCE\(.*"version", 0\) \+ \$\d+ WHERE .*"id" = \$\d+ AND "version" = \$\d+`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	now := time.Now().UTC()
	cols := []string{"id", "status", "source_type", "source_payload", "source_ref", "extracted_data", "final_data",
		"predictions", "erp_ref_key", "error_message", "version", "created_at", "updated_at"}
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT "id", "status"`)).
		WillReturnRows(sqlmock.NewRows(cols).AddRow(
			id.String(), "processing", "text", "x", "", nil, "{}", "{}", nil, nil, int64(3), now, now,
		))

	err := repo.Save(context.Background(), &entity.Draft{ID: id, Status: constants.DraftStatusReadyForReview, Version: 2})
	assert.ErrorIs(t, err, repository.ErrStaleVersion)
	assert.NoError(t, mock.ExpectationsWereMet())
}

type anyTime struct{}

func (anyTime) Match(v driver.Value) bool {
	_, ok := v.(time.Time)
	return ok
}

func TestPostgresCatalogUpsertStatement(t *testing.T) {
	db, mock := postgresMock(t)
	repo := repository.NewCatalogRepository(db, nil)

	mock.ExpectExec(`INSERT INTO "catalog_items" .* ON CONFLICT \("ref_key"\) DO UPDATE SET "name" = .*excluded.*"name"`).
		WithArgs("ERP-9", "Drill Bosch GSR", "Bosch", "GSR", "Power tool", "", nil, anyTime{}).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.Upsert(context.Background(), entity.CatalogItem{
		RefKey: "ERP-9", Name: "Drill Bosch GSR", Brand: "Bosch", Article: "GSR", Kind: "Power tool",
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
