package http

import (
	"github.com/google/uuid"

	"github.com/kapella-hub/ngs/pkg/apperr"
)

// parseUUID parses a path parameter into a UUID or returns a 400.
func parseUUID(raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, apperr.BadRequest("invalid id: " + raw)
	}
	return id, nil
}
