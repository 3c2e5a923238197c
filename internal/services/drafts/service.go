// Package drafts is the application service behind the draft API: ingest,
// review edits, name generation, commit to the catalog and analog search.
package drafts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"reflect"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/joseph-ayodele/catalog-drafts/constants"
	"github.com/joseph-ayodele/catalog-drafts/internal/catalog"
	"github.com/joseph-ayodele/catalog-drafts/internal/common"
	"github.com/joseph-ayodele/catalog-drafts/internal/core/async"
	"github.com/joseph-ayodele/catalog-drafts/internal/core/draft"
	"github.com/joseph-ayodele/catalog-drafts/internal/core/schema"
	"github.com/joseph-ayodele/catalog-drafts/internal/entity"
	"github.com/joseph-ayodele/catalog-drafts/internal/events"
	"github.com/joseph-ayodele/catalog-drafts/internal/llm"
	"github.com/joseph-ayodele/catalog-drafts/internal/observability"
	"github.com/joseph-ayodele/catalog-drafts/internal/repository"
	"github.com/joseph-ayodele/catalog-drafts/internal/services/search"
	"github.com/joseph-ayodele/catalog-drafts/internal/source"
)

var tracer = observability.Tracer("drafts")

const (
	maxTextBytes   = 200_000
	maxSearchLimit = 100
	commitAttempts = 5
	commitTimeout  = 90 * time.Second
)

var patchSchema = schema.MustCompile("draft_patch", draft.PatchSchema())

// Deps are the collaborators the service is wired with at startup.
type Deps struct {
	Drafts    repository.DraftRepository
	Files     *source.FileStore
	Queue     async.Queue
	Namer     llm.Namer
	Catalog   catalog.Client
	Search    *search.Service
	Publisher events.Publisher
	Logger    *slog.Logger
	Locale    string
	// CommitTimeout bounds one catalog push plus its save; zero means 90s.
	CommitTimeout time.Duration
}

type Service struct {
	drafts    repository.DraftRepository
	files     *source.FileStore
	queue     async.Queue
	namer     llm.Namer
	catalog   catalog.Client
	search    *search.Service
	publisher events.Publisher
	logger    *slog.Logger
	locale    string

	commitTimeout time.Duration
	commits       singleflight.Group
}

func NewService(d Deps) *Service {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Publisher == nil {
		d.Publisher = events.Nop{}
	}
	if d.CommitTimeout <= 0 {
		d.CommitTimeout = commitTimeout
	}
	return &Service{
		drafts:    d.Drafts,
		files:     d.Files,
		queue:     d.Queue,
		namer:     d.Namer,
		catalog:   d.Catalog,
		search:    d.Search,
		publisher: d.Publisher,
		logger:    d.Logger,
		locale:    d.Locale,

		commitTimeout: d.CommitTimeout,
	}
}

// FileUpload is an uploaded source document.
type FileUpload struct {
	Name   string
	Reader io.Reader
}

// IngestRequest carries exactly one source.
type IngestRequest struct {
	URL  string
	Text string
	File *FileUpload
}

// Ingest creates a draft in status new and queues it for extraction.
func (s *Service) Ingest(ctx context.Context, req IngestRequest) (*entity.Draft, error) {
	req.URL = strings.TrimSpace(req.URL)
	v := common.NewValidator()
	common.ExactlyOne(v, map[string]bool{
		"url":  req.URL != "",
		"text": strings.TrimSpace(req.Text) != "",
		"file": req.File != nil,
	})
	if err := v.Err(); err != nil {
		return nil, err
	}

	d := &entity.Draft{Status: constants.DraftStatusNew}
	switch {
	case req.URL != "":
		if err := v.Field("url", req.URL, common.URL).Err(); err != nil {
			return nil, err
		}
		d.SourceType, d.SourcePayload = constants.SourceTypeURL, req.URL

	case req.File != nil:
		if s.files == nil {
			return nil, common.NewAppError(common.CodeInternal, "file uploads are not configured", common.ErrInternal)
		}
		name := strings.TrimSpace(req.File.Name)
		if err := v.Field("filename", name, common.Required, common.MaxLength(255)).Err(); err != nil {
			return nil, err
		}
		stored, err := s.files.Put(req.File.Reader, name)
		if err != nil {
			return nil, err
		}
		d.SourceType, d.SourcePayload, d.SourceRef = constants.SourceTypeFile, name, stored.Ref
		s.logger.Debug("drafts.ingest.file_stored", "ref", stored.Ref, "size", stored.Size, "deduplicated", stored.Deduplicated)

	default:
		if len(req.Text) > maxTextBytes {
			return nil, common.NewValidationErrorf("text exceeds %d bytes", maxTextBytes)
		}
		d.SourceType, d.SourcePayload = constants.SourceTypeText, req.Text
	}

	if err := s.drafts.Create(ctx, d); err != nil {
		return nil, err
	}
	s.logger.Info("drafts.ingest.created", "draft_id", d.ID, "source_type", d.SourceType)
	s.publish(ctx, events.New(events.TypeDraftCreated, d.ID, d.Status))
	s.enqueue(ctx, d.ID)
	return d, nil
}

func (s *Service) enqueue(ctx context.Context, id uuid.UUID) {
	if s.queue == nil {
		return
	}
	job := async.Job{DraftID: id, SubmittedAt: time.Now(), TraceID: common.RequestIDFromContext(ctx)}
	if err := s.queue.Enqueue(ctx, job); err != nil {
		// the draft stays new and is picked up by Resume on the next start
		s.logger.Warn("drafts.enqueue.failed", "draft_id", id, "error", err)
	}
}

// Resume re-queues drafts left in new or processing, e.g. after a restart.
func (s *Service) Resume(ctx context.Context) (int, error) {
	pending, err := s.drafts.List(ctx, repository.ListFilter{
		Statuses: []constants.DraftStatus{constants.DraftStatusNew, constants.DraftStatusProcessing},
	})
	if err != nil {
		return 0, err
	}
	for i := len(pending) - 1; i >= 0; i-- {
		s.enqueue(ctx, pending[i].ID)
	}
	if len(pending) > 0 {
		s.logger.Info("drafts.resume", "count", len(pending))
	}
	return len(pending), nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*entity.Draft, error) {
	return s.drafts.GetByID(ctx, id)
}

// ListResult is one page of drafts.
type ListResult struct {
	Items  []*entity.Draft `json:"items"`
	Total  int             `json:"total"`
	Limit  int             `json:"limit"`
	Offset int             `json:"offset"`
}

func (s *Service) List(ctx context.Context, f repository.ListFilter) (ListResult, error) {
	if f.Limit <= 0 || f.Limit > 200 {
		f.Limit = 50
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	items, err := s.drafts.List(ctx, f)
	if err != nil {
		return ListResult{}, err
	}
	total, err := s.drafts.Count(ctx, f)
	if err != nil {
		return ListResult{}, err
	}
	if items == nil {
		items = []*entity.Draft{}
	}
	return ListResult{Items: items, Total: total, Limit: f.Limit, Offset: f.Offset}, nil
}

// DecodePatch validates an update body ({"final_data": {...}}) and decodes it.
func DecodePatch(raw []byte) (entity.FinalData, error) {
	if err := patchSchema.ValidateJSON(raw); err != nil {
		return entity.FinalData{}, common.NewValidationError(err.Error())
	}
	var body struct {
		FinalData entity.FinalData `json:"final_data"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return entity.FinalData{}, common.NewValidationErrorf("decode patch: %v", err)
	}
	return body.FinalData, nil
}

// Update merges patch into final_data. Only drafts in processing or
// ready_for_review accept edits; concurrent disjoint patches both land.
func (s *Service) Update(ctx context.Context, id uuid.UUID, patch entity.FinalData) (*entity.Draft, error) {
	d, err := repository.Mutate(ctx, s.drafts, id, func(d *entity.Draft) error {
		if err := draft.RequireEditable(d); err != nil {
			return err
		}
		d.FinalData = draft.ApplyPatch(d.FinalData, patch)
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("drafts.update", "draft_id", id, "version", d.Version)
	s.publish(ctx, events.New(events.TypeDraftUpdated, d.ID, d.Status))
	return d, nil
}

// GenerateName asks the namer for a display name and stores it as
// final_data.generated_name.
func (s *Service) GenerateName(ctx context.Context, id uuid.UUID) (*entity.Draft, error) {
	d, err := s.drafts.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !draft.CanGenerateName(d.Status) {
		return nil, common.NewConflictError(
			fmt.Sprintf("draft is %s; names are generated in ready_for_review", d.Status), string(d.Status))
	}

	name, err := s.namer.GenerateName(ctx, llm.NameRequest{FinalData: d.FinalData, ExtractedData: d.ExtractedData, Locale: s.locale})
	if err != nil {
		s.logger.Warn("drafts.generate_name.failed", "draft_id", id, "error", err)
		return nil, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, common.NewTransportError("namer returned an empty name", nil)
	}

	return repository.Mutate(ctx, s.drafts, id, func(d *entity.Draft) error {
		if !draft.CanGenerateName(d.Status) {
			return common.NewConflictError(fmt.Sprintf("draft moved to %s", d.Status), string(d.Status))
		}
		d.FinalData.GeneratedName = &name
		return nil
	})
}

// CommitResult is reported by Commit.
type CommitResult struct {
	Status    constants.CommitStatus `json:"status"`
	ERPRefKey string                 `json:"erp_ref_key"`
	Draft     *entity.Draft          `json:"-"`
}

// Commit pushes a ready_for_review draft to the catalog and marks it synced.
// Concurrent commits of the same draft share one catalog push; committing a
// synced draft is a conflict. On failure the draft stays in ready_for_review.
//
// The shared push runs detached from any single caller and is bounded by the
// commit timeout. A cancelled caller returns ctx.Err() at once; the push it
// started may still finish, leaving the draft either synced or ready_for_review.
func (s *Service) Commit(ctx context.Context, id uuid.UUID) (CommitResult, error) {
	ctx, span := tracer.Start(ctx, "draft.commit", trace.WithAttributes(attribute.String("draft.id", id.String())))
	defer span.End()

	ch := s.commits.DoChan(id.String(), func() (any, error) {
		cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.commitTimeout)
		defer cancel()
		return s.commit(cctx, id)
	})
	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		s.logger.Warn("drafts.commit.caller_gone", "draft_id", id, "error", ctx.Err())
		span.RecordError(ctx.Err())
		span.SetStatus(codes.Error, ctx.Err().Error())
		return CommitResult{}, ctx.Err()
	}
	span.SetAttributes(attribute.Bool("commit.shared", res.Shared))
	if res.Err != nil {
		span.RecordError(res.Err)
		span.SetStatus(codes.Error, res.Err.Error())
		return CommitResult{}, res.Err
	}
	if res.Shared {
		s.logger.Debug("drafts.commit.shared", "draft_id", id)
	}
	return res.Val.(CommitResult), nil
}

func (s *Service) commit(ctx context.Context, id uuid.UUID) (CommitResult, error) {
	start := time.Now()
	d, err := s.drafts.GetByID(ctx, id)
	if err != nil {
		return CommitResult{}, err
	}
	if err := requireCommittable(d); err != nil {
		return CommitResult{}, err
	}

	req, err := catalog.BuildPushRequest(d)
	if err != nil {
		return CommitResult{}, err
	}
	pushed := draft.Clone(d.FinalData)
	res, err := s.catalog.Push(ctx, req)
	if err != nil {
		s.logger.Error("drafts.commit.push_failed", "draft_id", id, "error", err)
		ev := events.New(events.TypeCommitRejected, d.ID, d.Status)
		ev.Message = err.Error()
		s.publish(ctx, ev)
		return CommitResult{}, err
	}

	item := req.Item(res.RefKey)
	for attempt := 1; ; attempt++ {
		if err := draft.Transition(d, constants.DraftStatusSynced, res.RefKey); err != nil {
			return CommitResult{}, err
		}
		err = s.drafts.SaveWithCatalogItem(ctx, d, item)
		if err == nil {
			break
		}
		if !errors.Is(err, repository.ErrStaleVersion) || attempt >= commitAttempts {
			s.logger.Error("drafts.commit.save_failed", "draft_id", id, "ref_key", res.RefKey, "error", err)
			return CommitResult{}, err
		}
		if d, err = s.drafts.GetByID(ctx, id); err != nil {
			return CommitResult{}, err
		}
		if err := requireCommittable(d); err != nil {
			return CommitResult{}, err
		}
		// the synced snapshot is what the catalog received
		if !reflect.DeepEqual(d.FinalData, pushed) {
			s.logger.Warn("drafts.commit.late_edit_discarded", "draft_id", id, "ref_key", res.RefKey)
		}
		d.FinalData = draft.Clone(pushed)
	}

	s.logger.Info("drafts.commit.synced", "draft_id", id, "ref_key", res.RefKey, "replayed", res.Replayed,
		"elapsed_ms", time.Since(start).Milliseconds())
	ev := events.New(events.TypeDraftSynced, d.ID, d.Status)
	ev.ERPRefKey = res.RefKey
	s.publish(ctx, ev)
	return CommitResult{Status: constants.CommitStatusSynced, ERPRefKey: res.RefKey, Draft: d}, nil
}

func requireCommittable(d *entity.Draft) error {
	if d.Status == constants.DraftStatusSynced {
		return common.NewConflictError("draft is already synced", string(d.Status))
	}
	if !draft.CanCommit(d.Status) {
		return common.NewConflictError(
			fmt.Sprintf("draft is %s; only ready_for_review drafts can be committed", d.Status), string(d.Status))
	}
	return nil
}

// SearchRequest names exactly one of a draft or a free-text query.
type SearchRequest struct {
	DraftID *uuid.UUID
	Query   string
	Limit   int
}

// SearchAnalogs ranks catalog items similar to a draft or a query.
func (s *Service) SearchAnalogs(ctx context.Context, req SearchRequest) ([]entity.AnalogMatch, error) {
	query := strings.TrimSpace(req.Query)
	v := common.NewValidator()
	common.ExactlyOne(v, map[string]bool{"draft_id": req.DraftID != nil, "query": query != ""})
	v.Check(req.Limit >= 0 && req.Limit <= maxSearchLimit, "limit", fmt.Sprintf("must be between 0 and %d", maxSearchLimit))
	if err := v.Err(); err != nil {
		return nil, err
	}
	if req.DraftID == nil {
		return s.search.Search(ctx, query, req.Limit)
	}
	d, err := s.drafts.GetByID(ctx, *req.DraftID)
	if err != nil {
		return nil, err
	}
	return s.search.ForDraft(ctx, d, req.Limit)
}

func (s *Service) publish(ctx context.Context, ev events.Event) {
	if err := s.publisher.Publish(ctx, ev); err != nil {
		s.logger.Warn("drafts.publish.failed", "draft_id", ev.DraftID, "type", ev.Type, "error", err)
	}
}
