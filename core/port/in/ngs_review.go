package in

import (
	"context"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/kapella-hub/ngs/core/domain"
)

// QuarantineReview is the human-review surface for held extractions.
type QuarantineReview interface {
	ListPending(ctx context.Context, limit, offset int) ([]domain.QuarantineEvent, error)
	Stats(ctx context.Context) (*domain.QuarantineStats, error)
	// Review applies a decision. Approval and edits put the raw email
	// back on the parse path; rejection marks it rejected.
	Review(ctx context.Context, id uuid.UUID, action domain.QuarantineAction, reviewer string, editedData json.RawMessage) error
}

// DLQReview exposes the dead-letter queue for inspection and explicit
// redispatch.
type DLQReview interface {
	List(ctx context.Context, status domain.DLQStatus, limit, offset int) ([]domain.DeadLetterEntry, error)
	Redispatch(ctx context.Context, id uuid.UUID) error
}

// WindowAdmin manages manually-declared maintenance windows.
type WindowAdmin interface {
	Create(ctx context.Context, w *domain.MaintenanceWindow) error
	Update(ctx context.Context, w *domain.MaintenanceWindow) error
	Delete(ctx context.Context, id uuid.UUID) error
	Get(ctx context.Context, id uuid.UUID) (*domain.MaintenanceWindow, error)
	List(ctx context.Context, activeOnly bool, limit, offset int) ([]domain.MaintenanceWindow, error)
}
