// Package core runs the extraction pipeline that takes a draft from new to
// ready_for_review.
package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/joseph-ayodele/catalog-drafts/constants"
	"github.com/joseph-ayodele/catalog-drafts/internal/core/draft"
	"github.com/joseph-ayodele/catalog-drafts/internal/entity"
	"github.com/joseph-ayodele/catalog-drafts/internal/events"
	"github.com/joseph-ayodele/catalog-drafts/internal/llm"
	"github.com/joseph-ayodele/catalog-drafts/internal/observability"
	"github.com/joseph-ayodele/catalog-drafts/internal/repository"
)

// SourceLoader reads the material a draft was created from.
type SourceLoader interface {
	Load(ctx context.Context, d *entity.Draft) (llm.SourceContent, error)
}

// DuplicateCounter estimates how many catalog items already match a draft.
type DuplicateCounter interface {
	CountDuplicates(ctx context.Context, d *entity.Draft) (entity.DuplicatesPrediction, error)
}

var tracer = observability.Tracer("core")

// errSkip stops a Mutate callback without counting as a failure.
var errSkip = errors.New("draft not in a processable state")

// Processor coordinates source loading, LLM extraction and duplicate checks.
type Processor struct {
	logger     *slog.Logger
	drafts     repository.DraftRepository
	loader     SourceLoader
	extractor  llm.Extractor
	duplicates DuplicateCounter
	publisher  events.Publisher
	locale     string
}

func NewProcessor(
	logger *slog.Logger,
	drafts repository.DraftRepository,
	loader SourceLoader,
	extractor llm.Extractor,
	duplicates DuplicateCounter,
	publisher events.Publisher,
	locale string,
) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	if publisher == nil {
		publisher = events.Nop{}
	}
	return &Processor{
		logger:     logger,
		drafts:     drafts,
		loader:     loader,
		extractor:  extractor,
		duplicates: duplicates,
		publisher:  publisher,
		locale:     locale,
	}
}

// ProcessDraft moves a new (or interrupted processing) draft to
// ready_for_review. Drafts in any other state are left alone.
// Errors are returned unchanged; the queue decides whether to retry or fail.
func (p *Processor) ProcessDraft(ctx context.Context, id uuid.UUID) error {
	ctx, span := tracer.Start(ctx, "draft.process", trace.WithAttributes(attribute.String("draft.id", id.String())))
	defer span.End()
	err := p.processDraft(ctx, id)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (p *Processor) processDraft(ctx context.Context, id uuid.UUID) error {
	start := time.Now()
	d, err := repository.Mutate(ctx, p.drafts, id, func(d *entity.Draft) error {
		switch d.Status {
		case constants.DraftStatusNew:
			return draft.Transition(d, constants.DraftStatusProcessing, "")
		case constants.DraftStatusProcessing:
			return nil
		default:
			return errSkip
		}
	})
	if errors.Is(err, errSkip) {
		p.logger.Debug("processor.skip", "draft_id", id, "status", d.Status)
		return nil
	}
	if err != nil {
		return fmt.Errorf("claim draft: %w", err)
	}

	src, err := p.loader.Load(ctx, d)
	if err != nil {
		p.logger.Warn("processor.source.failed", "draft_id", id, "source_type", d.SourceType, "error", err)
		return err
	}
	p.logger.Debug("processor.source.loaded", "draft_id", id, "text_bytes", len(src.Text), "images", len(src.ImageURLs))

	fields, raw, err := p.extractor.ExtractProduct(ctx, llm.ExtractRequest{Source: src, Locale: p.locale})
	if err != nil {
		p.logger.Warn("processor.extract.failed", "draft_id", id, "error", err)
		return err
	}
	extracted, err := extractedData(fields, raw)
	if err != nil {
		return err
	}

	suggestion := fields.Suggestion()
	var dup *entity.DuplicatesPrediction
	if p.duplicates != nil {
		candidate := &entity.Draft{ID: d.ID, ExtractedData: extracted, FinalData: draft.FillMissing(d.FinalData, suggestion)}
		if got, err := p.duplicates.CountDuplicates(ctx, candidate); err != nil {
			p.logger.Warn("processor.duplicates.failed", "draft_id", id, "error", err)
		} else {
			dup = &got
		}
	}

	d, err = repository.Mutate(ctx, p.drafts, id, func(d *entity.Draft) error {
		if d.Status != constants.DraftStatusProcessing {
			return errSkip
		}
		d.ExtractedData = extracted
		d.FinalData = draft.FillMissing(d.FinalData, suggestion)
		if gau := fields.Prediction(); gau != nil {
			d.Predictions.Gau = gau
		}
		if dup != nil {
			d.Predictions.Duplicates = dup
		}
		d.ErrorMessage = nil
		return draft.Transition(d, constants.DraftStatusReadyForReview, "")
	})
	if errors.Is(err, errSkip) {
		p.logger.Info("processor.result.discarded", "draft_id", id, "status", d.Status)
		return nil
	}
	if err != nil {
		return fmt.Errorf("store extraction: %w", err)
	}

	p.publish(ctx, events.New(events.TypeDraftReady, d.ID, d.Status))
	p.logger.Info("processor.done", "draft_id", id, "version", d.Version,
		"elapsed_ms", time.Since(start).Milliseconds())
	return nil
}

// MarkFailed records cause on a draft that never reached ready_for_review.
func (p *Processor) MarkFailed(ctx context.Context, id uuid.UUID, cause error) error {
	reason := "processing failed"
	if cause != nil {
		reason = cause.Error()
	}
	d, err := repository.Mutate(ctx, p.drafts, id, func(d *entity.Draft) error {
		if d.Status != constants.DraftStatusNew && d.Status != constants.DraftStatusProcessing {
			return errSkip
		}
		return draft.Fail(d, reason)
	})
	if errors.Is(err, errSkip) {
		return nil
	}
	if err != nil {
		return err
	}
	p.logger.Warn("processor.failed", "draft_id", id, "reason", reason)
	ev := events.New(events.TypeDraftFailed, d.ID, d.Status)
	ev.Message = reason
	p.publish(ctx, ev)
	return nil
}

func (p *Processor) publish(ctx context.Context, ev events.Event) {
	if err := p.publisher.Publish(ctx, ev); err != nil {
		p.logger.Warn("processor.publish.failed", "draft_id", ev.DraftID, "type", ev.Type, "error", err)
	}
}

// extractedData wraps the model output as {"data": {...}}.
func extractedData(fields llm.ProductFields, raw []byte) (map[string]any, error) {
	if len(raw) == 0 {
		var err error
		if raw, err = json.Marshal(fields); err != nil {
			return nil, fmt.Errorf("encode extraction: %w", err)
		}
	}
	var data map[string]any
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("decode extraction: %w", err)
	}
	return map[string]any{"data": data}, nil
}
