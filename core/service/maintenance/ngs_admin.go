package maintenance

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/kapella-hub/ngs/core/domain"
	"github.com/kapella-hub/ngs/pkg/apperr"
)

// Manual window administration, backing the review API. Every write
// invalidates the cached window list on all workers.

func (e *Engine) Create(ctx context.Context, w *domain.MaintenanceWindow) error {
	if err := validateWindow(w); err != nil {
		return err
	}
	if w.ID == uuid.Nil {
		w.ID = uuid.New()
	}
	if w.Source == "" {
		w.Source = domain.WindowSourceManual
	}
	if w.SuppressMode == "" {
		w.SuppressMode = domain.SuppressMute
	}
	if w.Timezone == "" {
		w.Timezone = "UTC"
	}
	w.IsActive = true
	if err := e.windows.Upsert(ctx, w); err != nil {
		return err
	}
	e.broadcastInvalidate(ctx)
	return nil
}

func (e *Engine) Update(ctx context.Context, w *domain.MaintenanceWindow) error {
	if err := validateWindow(w); err != nil {
		return err
	}
	if err := e.windows.Update(ctx, w); err != nil {
		return err
	}
	e.broadcastInvalidate(ctx)
	return nil
}

func (e *Engine) Delete(ctx context.Context, id uuid.UUID) error {
	if err := e.windows.Delete(ctx, id); err != nil {
		return err
	}
	e.broadcastInvalidate(ctx)
	return nil
}

func (e *Engine) Get(ctx context.Context, id uuid.UUID) (*domain.MaintenanceWindow, error) {
	return e.windows.GetByID(ctx, id)
}

func (e *Engine) List(ctx context.Context, activeOnly bool, limit, offset int) ([]domain.MaintenanceWindow, error) {
	if limit <= 0 {
		limit = 50
	}
	return e.windows.List(ctx, activeOnly, limit, offset)
}

func validateWindow(w *domain.MaintenanceWindow) error {
	if w == nil {
		return apperr.BadRequest("window body required")
	}
	if w.StartsAt.IsZero() || w.EndsAt.IsZero() {
		return apperr.BadRequest("starts_at and ends_at are required")
	}
	if !w.EndsAt.After(w.StartsAt) {
		return apperr.BadRequest("ends_at must be after starts_at")
	}
	for key := range w.Scope {
		if normalizeScopeKey(key) != key {
			return apperr.BadRequest("unknown scope key: " + key)
		}
	}
	if w.Timezone != "" {
		if _, err := time.LoadLocation(w.Timezone); err != nil {
			return apperr.BadRequest("unknown timezone: " + w.Timezone)
		}
	}
	return nil
}
