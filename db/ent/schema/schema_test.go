package schema

import (
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"testing"

	"entgo.io/ent"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/catalog-drafts/constants"
	"github.com/joseph-ayodele/catalog-drafts/db/ent/schema/utils"
)

var reCreateTable = regexp.MustCompile(`(?s)CREATE TABLE IF NOT EXISTS (\w+) \((.*?)\n\);`)

// migrationColumns reads the column names of every table in an up migration.
func migrationColumns(t *testing.T, dialect string) map[string][]string {
	t.Helper()
	raw, err := os.ReadFile(filepath.Join("..", "..", "..", "internal", "repository", "migrations", dialect, "000001_init.up.sql"))
	require.NoError(t, err)

	tables := map[string][]string{}
	for _, m := range reCreateTable.FindAllStringSubmatch(string(raw), -1) {
		var cols []string
		for _, line := range strings.Split(m[2], "\n") {
			fields := strings.Fields(line)
			if len(fields) == 0 || fields[0] == "CONSTRAINT" || strings.HasPrefix(fields[0], "CHECK") {
				continue
			}
			cols = append(cols, fields[0])
		}
		sort.Strings(cols)
		tables[m[1]] = cols
	}
	return tables
}

func schemaColumns(fields []ent.Field) []string {
	cols := make([]string, 0, len(fields))
	for _, f := range fields {
		d := f.Descriptor()
		if d.StorageKey != "" {
			cols = append(cols, d.StorageKey)
			continue
		}
		cols = append(cols, d.Name)
	}
	sort.Strings(cols)
	return cols
}

func TestSchemaMatchesMigrations(t *testing.T) {
	for _, dialect := range []string{"postgres", "sqlite"} {
		t.Run(dialect, func(t *testing.T) {
			tables := migrationColumns(t, dialect)
			assert.Equal(t, tables["drafts"], schemaColumns(Draft{}.Fields()))
			assert.Equal(t, tables["catalog_items"], schemaColumns(CatalogItem{}.Fields()))
		})
	}
}

func TestDraftStatusEnumCoversLifecycle(t *testing.T) {
	var status []string
	for _, f := range (Draft{}).Fields() {
		d := f.Descriptor()
		if d.Name != "status" {
			continue
		}
		for _, e := range d.Enums {
			status = append(status, e.V)
		}
	}
	assert.Equal(t, utils.Values(constants.AllDraftStatuses()), status)
}

func TestNotBlank(t *testing.T) {
	v := utils.NotBlank("source_payload")
	assert.NoError(t, v("https://shop.test/p/1"))
	assert.EqualError(t, v("  "), "source_payload must not be blank")
}
