package in

import (
	"context"

	"github.com/google/uuid"
)

// Ingester pulls new mail for one folder and stores it.
type Ingester interface {
	// Poll ingests at most one batch for the folder and reports how many
	// new messages were stored.
	Poll(ctx context.Context, folder string) (int, error)
	Folders() []string
}

// Parser turns one stored raw email into alert events, a maintenance
// window, or a quarantine record.
type Parser interface {
	ParseEmail(ctx context.Context, rawEmailID uuid.UUID) error
}

// Correlator applies one alert event to incident state.
type Correlator interface {
	Apply(ctx context.Context, alertEventID uuid.UUID) error
}
