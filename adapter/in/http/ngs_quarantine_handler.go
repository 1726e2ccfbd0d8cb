package http

import (
	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"

	"github.com/kapella-hub/ngs/core/domain"
	"github.com/kapella-hub/ngs/core/port/in"
	"github.com/kapella-hub/ngs/pkg/apperr"
	"github.com/kapella-hub/ngs/pkg/response"
)

// QuarantineHandler exposes the human review queue.
type QuarantineHandler struct {
	review in.QuarantineReview
}

func NewQuarantineHandler(review in.QuarantineReview) *QuarantineHandler {
	return &QuarantineHandler{review: review}
}

func (h *QuarantineHandler) Register(api fiber.Router) {
	api.Get("/quarantine", h.List)
	api.Get("/quarantine/stats", h.Stats)
	api.Post("/quarantine/:id/review", h.Review)
}

func (h *QuarantineHandler) List(c *fiber.Ctx) error {
	p := response.GetPagination(c, 50, 200)
	items, err := h.review.ListPending(c.Context(), p.Limit, p.Offset)
	if err != nil {
		return err
	}
	return response.OKWithMeta(c, items, &response.Meta{
		Limit:   p.Limit,
		Offset:  p.Offset,
		HasMore: len(items) == p.Limit,
	})
}

func (h *QuarantineHandler) Stats(c *fiber.Ctx) error {
	stats, err := h.review.Stats(c.Context())
	if err != nil {
		return err
	}
	return response.OK(c, stats)
}

type reviewRequest struct {
	Action     string          `json:"action"`
	Reviewer   string          `json:"reviewer"`
	EditedData json.RawMessage `json:"edited_data,omitempty"`
}

func (h *QuarantineHandler) Review(c *fiber.Ctx) error {
	id, err := parseUUID(c.Params("id"))
	if err != nil {
		return err
	}

	var req reviewRequest
	if err := c.BodyParser(&req); err != nil {
		return apperr.BadRequest("invalid request body")
	}

	action := domain.QuarantineAction(req.Action)
	if err := h.review.Review(c.Context(), id, action, req.Reviewer, req.EditedData); err != nil {
		return err
	}
	return response.OK(c, fiber.Map{
		"id":     id,
		"action": action,
	})
}
