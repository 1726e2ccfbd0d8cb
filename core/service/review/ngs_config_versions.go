package review

import (
	"context"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/kapella-hub/ngs/core/domain"
	"github.com/kapella-hub/ngs/core/port/out"
	"github.com/kapella-hub/ngs/pkg/apperr"
	"github.com/kapella-hub/ngs/pkg/logger"
)

// ConfigVersionService snapshots configuration payloads and switches the
// active version. Activating an older row is the rollback path.
type ConfigVersionService struct {
	configs out.ConfigRepository
	log     *logger.Logger
}

func NewConfigVersionService(configs out.ConfigRepository) *ConfigVersionService {
	return &ConfigVersionService{
		configs: configs,
		log:     logger.WithComponent("config-versions"),
	}
}

func (s *ConfigVersionService) List(ctx context.Context, limit int) ([]domain.ConfigVersion, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return s.configs.List(ctx, limit)
}

func (s *ConfigVersionService) GetActive(ctx context.Context) (*domain.ConfigVersion, error) {
	return s.configs.GetActive(ctx)
}

// Snapshot stores a new version without activating it.
func (s *ConfigVersionService) Snapshot(ctx context.Context, payload json.RawMessage) (*domain.ConfigVersion, error) {
	if !json.Valid(payload) {
		return nil, apperr.BadRequest("config payload is not valid JSON")
	}
	v, err := s.configs.InsertVersion(ctx, payload)
	if err != nil {
		return nil, err
	}
	s.log.Info("config version %d stored", v.Version)
	return v, nil
}

// Activate marks the given version active and deactivates the rest.
func (s *ConfigVersionService) Activate(ctx context.Context, id uuid.UUID) error {
	if err := s.configs.Activate(ctx, id); err != nil {
		return err
	}
	s.log.Info("config version %s activated", id)
	return nil
}
