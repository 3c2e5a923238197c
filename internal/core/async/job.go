package async

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/catalog-drafts/internal/common"
)

// ErrQueueClosed is returned by Enqueue after Shutdown.
var ErrQueueClosed = errors.New("queue is shutting down")

// Job asks a worker to process one draft.
type Job struct {
	DraftID     uuid.UUID
	Attempt     int
	SubmittedAt time.Time
	TraceID     string
}

type Queue interface {
	Enqueue(ctx context.Context, job Job) error
	Shutdown(ctx context.Context)
}

// Processor is what workers drive.
type Processor interface {
	ProcessDraft(ctx context.Context, id uuid.UUID) error
	MarkFailed(ctx context.Context, id uuid.UUID, cause error) error
}

// Transient reports whether err is worth another attempt: timeouts and
// failures talking to remote collaborators.
func Transient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, common.ErrTransport) {
		return true
	}
	return common.ErrorCode(err) == common.CodeTransport
}
