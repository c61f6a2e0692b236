package agent

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"
)

// Handler exposes agent registration and lookup over HTTP.
type Handler struct {
	svc *Service
}

// NewHandler builds the agents HTTP handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

type registerRequest struct {
	Name string `json:"name"`
}

// Register handles POST /agents.
func (h *Handler) Register(c *fiber.Ctx) error {
	var req registerRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	a, err := h.svc.Register(c.UserContext(), req.Name)
	if err != nil {
		if errors.Is(err, ErrAgentExists) {
			return fiber.NewError(http.StatusConflict, err.Error())
		}
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	return c.Status(http.StatusCreated).JSON(a)
}

// Get handles GET /agents/:name.
func (h *Handler) Get(c *fiber.Ctx) error {
	a, err := h.svc.Lookup(c.UserContext(), c.Params("name"))
	if err != nil {
		if errors.Is(err, ErrAgentNotFound) {
			return fiber.NewError(http.StatusNotFound, err.Error())
		}
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
	return c.Status(http.StatusOK).JSON(a)
}
