package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/kapella-hub/ngs/core/domain"
	"github.com/kapella-hub/ngs/core/port/in"
	"github.com/kapella-hub/ngs/pkg/apperr"
	"github.com/kapella-hub/ngs/pkg/response"
)

// DLQHandler exposes the dead-letter queue for inspection and manual
// redispatch.
type DLQHandler struct {
	review in.DLQReview
}

func NewDLQHandler(review in.DLQReview) *DLQHandler {
	return &DLQHandler{review: review}
}

func (h *DLQHandler) Register(api fiber.Router) {
	api.Get("/dlq", h.List)
	api.Post("/dlq/:id/redispatch", h.Redispatch)
}

func (h *DLQHandler) List(c *fiber.Ctx) error {
	p := response.GetPagination(c, 50, 200)

	status := domain.DLQStatus(c.Query("status"))
	switch status {
	case "", domain.DLQPending, domain.DLQRetrying, domain.DLQFailed, domain.DLQResolved:
	default:
		return apperr.BadRequest("unknown status filter: " + string(status))
	}

	entries, err := h.review.List(c.Context(), status, p.Limit, p.Offset)
	if err != nil {
		return err
	}
	return response.OKWithMeta(c, entries, &response.Meta{
		Limit:   p.Limit,
		Offset:  p.Offset,
		HasMore: len(entries) == p.Limit,
	})
}

func (h *DLQHandler) Redispatch(c *fiber.Ctx) error {
	id, err := parseUUID(c.Params("id"))
	if err != nil {
		return err
	}
	if err := h.review.Redispatch(c.Context(), id); err != nil {
		return err
	}
	return response.OK(c, fiber.Map{"id": id, "redispatched": true})
}
