package http

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/kapella-hub/ngs/core/domain"
	"github.com/kapella-hub/ngs/core/port/in"
	"github.com/kapella-hub/ngs/pkg/apperr"
	"github.com/kapella-hub/ngs/pkg/response"
)

// MaintenanceHandler manages manually-declared maintenance windows.
// Calendar-derived windows are owned by the maintenance engine and are
// read-only here.
type MaintenanceHandler struct {
	admin in.WindowAdmin
}

func NewMaintenanceHandler(admin in.WindowAdmin) *MaintenanceHandler {
	return &MaintenanceHandler{admin: admin}
}

func (h *MaintenanceHandler) Register(api fiber.Router) {
	api.Get("/maintenance-windows", h.List)
	api.Post("/maintenance-windows", h.Create)
	api.Get("/maintenance-windows/:id", h.Get)
	api.Put("/maintenance-windows/:id", h.Update)
	api.Delete("/maintenance-windows/:id", h.Delete)
}

type windowRequest struct {
	Title        string              `json:"title"`
	StartsAt     time.Time           `json:"starts_at"`
	EndsAt       time.Time           `json:"ends_at"`
	Timezone     string              `json:"timezone,omitempty"`
	Scope        map[string][]string `json:"scope"`
	SuppressMode string              `json:"suppress_mode,omitempty"`
	IsActive     *bool               `json:"is_active,omitempty"`
}

func (r *windowRequest) toDomain() *domain.MaintenanceWindow {
	w := &domain.MaintenanceWindow{
		Title:        r.Title,
		StartsAt:     r.StartsAt,
		EndsAt:       r.EndsAt,
		Timezone:     r.Timezone,
		Scope:        domain.Scope(r.Scope),
		SuppressMode: domain.ParseSuppressMode(r.SuppressMode),
		IsActive:     true,
	}
	if r.IsActive != nil {
		w.IsActive = *r.IsActive
	}
	return w
}

func (h *MaintenanceHandler) List(c *fiber.Ctx) error {
	p := response.GetPagination(c, 50, 200)
	activeOnly := c.QueryBool("active", false)

	windows, err := h.admin.List(c.Context(), activeOnly, p.Limit, p.Offset)
	if err != nil {
		return err
	}
	return response.OKWithMeta(c, windows, &response.Meta{
		Limit:   p.Limit,
		Offset:  p.Offset,
		HasMore: len(windows) == p.Limit,
	})
}

func (h *MaintenanceHandler) Get(c *fiber.Ctx) error {
	id, err := parseUUID(c.Params("id"))
	if err != nil {
		return err
	}
	w, err := h.admin.Get(c.Context(), id)
	if err != nil {
		return err
	}
	return response.OK(c, w)
}

func (h *MaintenanceHandler) Create(c *fiber.Ctx) error {
	var req windowRequest
	if err := c.BodyParser(&req); err != nil {
		return apperr.BadRequest("invalid request body")
	}

	w := req.toDomain()
	if err := h.admin.Create(c.Context(), w); err != nil {
		return err
	}
	return response.Created(c, w)
}

func (h *MaintenanceHandler) Update(c *fiber.Ctx) error {
	id, err := parseUUID(c.Params("id"))
	if err != nil {
		return err
	}

	var req windowRequest
	if err := c.BodyParser(&req); err != nil {
		return apperr.BadRequest("invalid request body")
	}

	w := req.toDomain()
	w.ID = id
	if err := h.admin.Update(c.Context(), w); err != nil {
		return err
	}
	return response.OK(c, w)
}

func (h *MaintenanceHandler) Delete(c *fiber.Ctx) error {
	id, err := parseUUID(c.Params("id"))
	if err != nil {
		return err
	}
	if err := h.admin.Delete(c.Context(), id); err != nil {
		return err
	}
	return response.NoContent(c)
}
