package schema

import (
	"time"

	"entgo.io/ent"
	"entgo.io/ent/dialect"
	"entgo.io/ent/dialect/entsql"
	"entgo.io/ent/schema"
	"entgo.io/ent/schema/edge"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/catalog-drafts/constants"
	"github.com/joseph-ayodele/catalog-drafts/db/ent/schema/utils"
	"github.com/joseph-ayodele/catalog-drafts/internal/entity"
)

type Draft struct{ ent.Schema }

func (Draft) Annotations() []schema.Annotation {
	return []schema.Annotation{
		entsql.Annotation{
			Table: "drafts",
			Checks: map[string]string{
				"drafts_erp_ref_key_iff_synced": "(status = 'synced') = (erp_ref_key IS NOT NULL)",
			},
		},
	}
}

func (Draft) Fields() []ent.Field {
	return []ent.Field{
		field.UUID("id", uuid.UUID{}).
			Default(uuid.New).
			Immutable(),
		field.Enum("status").
			Values(utils.Values(constants.AllDraftStatuses())...).
			Default(string(constants.DraftStatusNew)),
		field.Enum("source_type").
			Values(utils.Values([]constants.SourceType{
				constants.SourceTypeURL, constants.SourceTypeText, constants.SourceTypeFile,
			})...).
			Immutable(),
		field.Text("source_payload").
			Immutable().
			Validate(utils.NotBlank("source_payload")),
		// blob key of stored upload bytes
		field.String("source_ref").Default(""),
		field.JSON("extracted_data", map[string]any{}).
			Optional().
			SchemaType(map[string]string{dialect.Postgres: "jsonb"}),
		field.JSON("final_data", entity.FinalData{}).
			SchemaType(map[string]string{dialect.Postgres: "jsonb"}),
		field.JSON("predictions", entity.Predictions{}).
			SchemaType(map[string]string{dialect.Postgres: "jsonb"}),
		field.String("erp_ref_key").Optional().Nillable(),
		field.Text("error_message").Optional().Nillable(),
		field.Int64("version").Default(1).Positive(),
		field.Time("created_at").Default(time.Now).Immutable(),
		field.Time("updated_at").Default(time.Now).UpdateDefault(time.Now),
	}
}

func (Draft) Edges() []ent.Edge {
	return []ent.Edge{
		// ONE draft -> MANY mirrored catalog items it was committed as
		edge.To("catalog_items", CatalogItem.Type),
	}
}

func (Draft) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("status", "created_at"),
	}
}
