package facilitator

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/nanda-points/nanda_points/internal/x402"
)

// Handler exposes the facilitator protocol over HTTP.
type Handler struct {
	svc *Service
}

// NewHandler builds the facilitator HTTP handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

type facilitatorRequest struct {
	Payment      x402.PaymentPayload      `json:"payment"`
	Requirements x402.PaymentRequirements `json:"paymentRequirements"`
}

// Verify handles POST /verify. Invalid payments are a 200 with isValid false;
// only infrastructure failures surface as errors.
func (h *Handler) Verify(c *fiber.Ctx) error {
	var req facilitatorRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	res, err := h.svc.Verify(c.UserContext(), req.Payment, req.Requirements)
	if err != nil {
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
	return c.Status(http.StatusOK).JSON(res)
}

// Settle handles POST /settle. Rejected payments are a 200 with success false.
func (h *Handler) Settle(c *fiber.Ctx) error {
	var req facilitatorRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	res, err := h.svc.Settle(c.UserContext(), req.Payment, req.Requirements)
	if err != nil {
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
	return c.Status(http.StatusOK).JSON(res)
}

// Supported handles GET /supported.
func (h *Handler) Supported(c *fiber.Ctx) error {
	return c.Status(http.StatusOK).JSON(h.svc.Supported(c.UserContext()))
}
