package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/kapella-hub/ngs/core/domain"
	"github.com/kapella-hub/ngs/core/port/out"
	"github.com/kapella-hub/ngs/pkg/apperr"
	"github.com/kapella-hub/ngs/pkg/response"
)

// IncidentHandler exposes read-only incident views for the review UI.
type IncidentHandler struct {
	incidents out.IncidentRepository
	events    out.EventRepository
}

func NewIncidentHandler(incidents out.IncidentRepository, events out.EventRepository) *IncidentHandler {
	return &IncidentHandler{
		incidents: incidents,
		events:    events,
	}
}

func (h *IncidentHandler) Register(api fiber.Router) {
	api.Get("/incidents", h.List)
	api.Get("/incidents/:id", h.Get)
}

func (h *IncidentHandler) List(c *fiber.Ctx) error {
	p := response.GetPagination(c, 50, 200)

	status := domain.IncidentStatus(c.Query("status"))
	switch status {
	case "", domain.IncidentOpen, domain.IncidentAcknowledged, domain.IncidentResolving,
		domain.IncidentResolved, domain.IncidentSuppressed:
	default:
		return apperr.BadRequest("unknown status filter: " + string(status))
	}

	severity := domain.Severity(c.Query("severity"))
	switch severity {
	case "", domain.SeverityCritical, domain.SeverityHigh, domain.SeverityMedium,
		domain.SeverityLow, domain.SeverityInfo:
	default:
		return apperr.BadRequest("unknown severity filter: " + string(severity))
	}

	incidents, err := h.incidents.List(c.Context(), status, severity, p.Limit, p.Offset)
	if err != nil {
		return err
	}
	return response.OKWithMeta(c, incidents, &response.Meta{
		Limit:   p.Limit,
		Offset:  p.Offset,
		HasMore: len(incidents) == p.Limit,
	})
}

func (h *IncidentHandler) Get(c *fiber.Ctx) error {
	id, err := parseUUID(c.Params("id"))
	if err != nil {
		return err
	}

	incident, err := h.incidents.GetByID(c.Context(), id)
	if err != nil {
		return err
	}
	events, err := h.events.ListByIncident(c.Context(), id, 100)
	if err != nil {
		return err
	}
	return response.OK(c, fiber.Map{
		"incident": incident,
		"events":   events,
	})
}
