package ledger

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/nanda-points/nanda_points/internal/money"
)

// Handler exposes the transaction engine over HTTP.
type Handler struct {
	engine *Engine
	store  Store
}

// NewHandler builds the transactions HTTP handler.
func NewHandler(engine *Engine, store Store) *Handler {
	return &Handler{engine: engine, store: store}
}

type applyRequest struct {
	Type           string            `json:"type"`
	SourceWalletID string            `json:"sourceWalletId"`
	DestWalletID   string            `json:"destWalletId"`
	Amount         money.Amount      `json:"amount"`
	ReasonCode     string            `json:"reasonCode"`
	IdempotencyKey string            `json:"idempotencyKey"`
	Actor          *Actor            `json:"actor"`
	Facts          map[string]string `json:"facts"`
}

// Apply handles POST /transactions: 201 with the created transaction, or 200
// with the pre-existing one when the idempotency key was already used.
func (h *Handler) Apply(c *fiber.Ctx) error {
	var req applyRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}

	res, err := h.engine.Apply(c.UserContext(), ApplyInput{
		Type:           OpType(req.Type),
		SourceWalletID: req.SourceWalletID,
		DestWalletID:   req.DestWalletID,
		Amount:         req.Amount,
		ReasonCode:     req.ReasonCode,
		IdempotencyKey: req.IdempotencyKey,
		Actor:          req.Actor,
		Facts:          req.Facts,
	})
	if err != nil {
		return mapError(err)
	}

	status := http.StatusCreated
	if res.Replayed {
		status = http.StatusOK
	}
	return c.Status(status).JSON(res.Transaction)
}

// Get handles GET /transactions/:id.
func (h *Handler) Get(c *fiber.Ctx) error {
	tx, err := h.store.Get(c.UserContext(), c.Params("id"))
	if err != nil {
		return mapError(err)
	}
	return c.Status(http.StatusOK).JSON(tx)
}

// List handles GET /transactions?walletId=&limit=&after=.
func (h *Handler) List(c *fiber.Ctx) error {
	limit := 0
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fiber.NewError(http.StatusBadRequest, "invalid limit")
		}
		limit = n
	}
	txs, err := h.store.List(c.UserContext(), c.Query("walletId"), limit, c.Query("after"))
	if err != nil {
		return mapError(err)
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"transactions": txs})
}

// GetWallet handles GET /wallets/:walletId.
func (h *Handler) GetWallet(c *fiber.Ctx) error {
	w, err := h.store.GetWallet(c.UserContext(), c.Params("walletId"))
	if err != nil {
		return mapError(err)
	}
	return c.Status(http.StatusOK).JSON(w)
}

func mapError(err error) error {
	switch {
	case errors.Is(err, ErrValidation):
		return fiber.NewError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrInsufficientFunds), errors.Is(err, ErrLimitExceeded):
		return fiber.NewError(http.StatusPaymentRequired, err.Error())
	case errors.Is(err, ErrWalletNotActive):
		return fiber.NewError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrWalletNotFound), errors.Is(err, ErrTransactionNotFound):
		return fiber.NewError(http.StatusNotFound, err.Error())
	default:
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
}
