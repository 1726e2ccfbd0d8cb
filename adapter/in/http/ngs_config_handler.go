package http

import (
	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"

	"github.com/kapella-hub/ngs/core/service/review"
	"github.com/kapella-hub/ngs/pkg/apperr"
	"github.com/kapella-hub/ngs/pkg/response"
)

// ConfigHandler lists configuration snapshots and switches the active
// version. Activating an older version is the rollback path.
type ConfigHandler struct {
	versions *review.ConfigVersionService
}

func NewConfigHandler(versions *review.ConfigVersionService) *ConfigHandler {
	return &ConfigHandler{versions: versions}
}

func (h *ConfigHandler) Register(api fiber.Router) {
	api.Get("/config/versions", h.List)
	api.Get("/config/versions/active", h.GetActive)
	api.Post("/config/versions", h.Snapshot)
	api.Post("/config/versions/:id/activate", h.Activate)
}

func (h *ConfigHandler) List(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 20)
	versions, err := h.versions.List(c.Context(), limit)
	if err != nil {
		return err
	}
	return response.OK(c, versions)
}

func (h *ConfigHandler) GetActive(c *fiber.Ctx) error {
	v, err := h.versions.GetActive(c.Context())
	if err != nil {
		return err
	}
	return response.OK(c, v)
}

func (h *ConfigHandler) Snapshot(c *fiber.Ctx) error {
	body := c.Body()
	if len(body) == 0 {
		return apperr.BadRequest("config payload is required")
	}
	v, err := h.versions.Snapshot(c.Context(), json.RawMessage(body))
	if err != nil {
		return err
	}
	return response.Created(c, v)
}

func (h *ConfigHandler) Activate(c *fiber.Ctx) error {
	id, err := parseUUID(c.Params("id"))
	if err != nil {
		return err
	}
	if err := h.versions.Activate(c.Context(), id); err != nil {
		return err
	}
	return response.OK(c, fiber.Map{"id": id, "active": true})
}
