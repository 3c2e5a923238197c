// Package search ranks local catalog items as analogs of a draft or a query.
package search

import (
	"context"
	"log/slog"
	"math"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/agnivade/levenshtein"

	"github.com/joseph-ayodele/catalog-drafts/constants"
	"github.com/joseph-ayodele/catalog-drafts/internal/entity"
)

const (
	DefaultLimit    = 10
	DefaultMinScore = 0.3

	duplicateScore = 0.95
	analogScore    = 0.75
	coverageWeight = 0.85
)

// CatalogSource lists the items searched over.
type CatalogSource interface {
	List(ctx context.Context) ([]entity.CatalogItem, error)
}

type Option func(*Service)

func WithMinScore(v float64) Option { return func(s *Service) { s.minScore = v } }

func WithDefaultLimit(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.limit = n
		}
	}
}

// Service handles analog search.
type Service struct {
	catalog  CatalogSource
	logger   *slog.Logger
	minScore float64
	limit    int
}

func NewService(catalog CatalogSource, logger *slog.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{catalog: catalog, logger: logger, minScore: DefaultMinScore, limit: DefaultLimit}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Search ranks catalog items against a free-text query. No match is an empty
// result, not an error.
func (s *Service) Search(ctx context.Context, query string, limit int) ([]entity.AnalogMatch, error) {
	return s.rank(ctx, query, "", limit)
}

// ForDraft ranks catalog items against the draft's best description of itself.
func (s *Service) ForDraft(ctx context.Context, d *entity.Draft, limit int) ([]entity.AnalogMatch, error) {
	article := ""
	if d.FinalData.Article != nil {
		article = *d.FinalData.Article
	}
	return s.rank(ctx, DraftQuery(d), article, limit)
}

// CountDuplicates reports how many catalog items look like the same product.
func (s *Service) CountDuplicates(ctx context.Context, d *entity.Draft) (entity.DuplicatesPrediction, error) {
	matches, err := s.ForDraft(ctx, d, math.MaxInt32)
	if err != nil {
		return entity.DuplicatesPrediction{}, err
	}
	n := 0
	for _, m := range matches {
		if m.MatchType == constants.MatchTypeDuplicate {
			n++
		}
	}
	now := time.Now().UTC()
	return entity.DuplicatesPrediction{Count: n, LastCheckedAt: &now}, nil
}

func (s *Service) rank(ctx context.Context, query, article string, limit int) ([]entity.AnalogMatch, error) {
	if limit <= 0 {
		limit = s.limit
	}
	out := []entity.AnalogMatch{}
	if normalize(query) == "" && article == "" {
		return out, nil
	}
	items, err := s.catalog.List(ctx)
	if err != nil {
		return nil, err
	}

	for _, it := range items {
		score := math.Max(Score(query, it.Name), Score(query, it.Brand+" "+it.Article))
		if article != "" && it.Article != "" && compact(article) == compact(it.Article) {
			score = 1
		}
		if score < s.minScore {
			continue
		}
		out = append(out, entity.AnalogMatch{
			RefKey:    it.RefKey,
			Name:      it.Name,
			Score:     score,
			MatchType: Classify(score),
			ImageURL:  it.ImageURL,
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].RefKey < out[j].RefKey
	})
	if len(out) > limit {
		out = out[:limit]
	}
	s.logger.Debug("search.ranked", "query", query, "candidates", len(items), "results", len(out))
	return out, nil
}

// Classify maps a score onto a match type.
func Classify(score float64) constants.MatchType {
	switch {
	case score >= duplicateScore:
		return constants.MatchTypeDuplicate
	case score >= analogScore:
		return constants.MatchTypeAnalog
	}
	return constants.MatchTypeRelated
}

// Score is the similarity of a query and a candidate name in [0,1]: the better
// of normalized edit-distance similarity and weighted query token coverage.
func Score(query, candidate string) float64 {
	q, c := normalize(query), normalize(candidate)
	if q == "" || c == "" {
		return 0
	}
	if q == c {
		return 1
	}
	longest := max(len([]rune(q)), len([]rune(c)))
	lev := 1 - float64(levenshtein.ComputeDistance(q, c))/float64(longest)
	cov := coverageWeight * coverage(strings.Fields(q), strings.Fields(c))
	return math.Round(math.Max(lev, cov)*10000) / 10000
}

func coverage(query, candidate []string) float64 {
	if len(query) == 0 {
		return 0
	}
	hit := 0
	for _, qt := range query {
		for _, ct := range candidate {
			if qt == ct || (len(qt) >= 3 && strings.HasPrefix(ct, qt)) {
				hit++
				break
			}
		}
	}
	return float64(hit) / float64(len(query))
}

// DraftQuery is the text a draft is searched by.
func DraftQuery(d *entity.Draft) string {
	if name := d.DisplayName(); name != "" {
		return name
	}
	var parts []string
	for _, p := range []*string{d.FinalData.Type, d.FinalData.Brand, d.FinalData.Article} {
		if p != nil && *p != "" {
			parts = append(parts, *p)
		}
	}
	if len(parts) > 0 {
		return strings.Join(parts, " ")
	}
	if d.SourceType == constants.SourceTypeText {
		line, _, _ := strings.Cut(strings.TrimSpace(d.SourcePayload), "\n")
		return line
	}
	return ""
}

func normalize(s string) string {
	s = strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return unicode.ToLower(r)
		}
		return ' '
	}, s)
	return strings.Join(strings.Fields(s), " ")
}

func compact(s string) string {
	return strings.ReplaceAll(normalize(s), " ", "")
}
