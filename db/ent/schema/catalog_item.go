package schema

import (
	"time"

	"entgo.io/ent"
	"entgo.io/ent/dialect/entsql"
	"entgo.io/ent/schema"
	"entgo.io/ent/schema/edge"
	"entgo.io/ent/schema/field"

	"github.com/google/uuid"
)

// CatalogItem is the local mirror of one ERP catalog entry.
type CatalogItem struct{ ent.Schema }

func (CatalogItem) Annotations() []schema.Annotation {
	return []schema.Annotation{
		entsql.Annotation{Table: "catalog_items"},
	}
}

func (CatalogItem) Fields() []ent.Field {
	return []ent.Field{
		field.String("id").
			StorageKey("ref_key").
			NotEmpty().
			Immutable(),
		field.String("name").NotEmpty(),
		field.String("brand").Default(""),
		field.String("article").Default(""),
		field.String("kind").Default(""),
		field.String("image_url").Default(""),
		field.UUID("draft_id", uuid.UUID{}).Optional().Nillable(),
		field.Time("created_at").Default(time.Now).Immutable(),
	}
}

func (CatalogItem) Edges() []ent.Edge {
	return []ent.Edge{
		// MANY items -> ONE draft (FK: catalog_items.draft_id)
		edge.From("draft", Draft.Type).
			Ref("catalog_items").
			Field("draft_id").
			Unique(),
	}
}
