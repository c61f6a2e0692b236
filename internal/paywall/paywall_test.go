package paywall

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nanda-points/nanda_points/internal/agent"
	"github.com/nanda-points/nanda_points/internal/credential"
	"github.com/nanda-points/nanda_points/internal/events"
	"github.com/nanda-points/nanda_points/internal/facilitator"
	"github.com/nanda-points/nanda_points/internal/idempotency"
	"github.com/nanda-points/nanda_points/internal/ledger"
	"github.com/nanda-points/nanda_points/internal/logging"
	"github.com/nanda-points/nanda_points/internal/x402"
)

const premiumPrice = 10_000

type env struct {
	app    *fiber.App
	store  *ledger.MemoryStore
	agents *agent.Service
}

func newEnv(t *testing.T) *env {
	t.Helper()
	logger := logging.Discard()
	store := ledger.NewMemoryStore()
	engine := ledger.NewEngine(store, idempotency.NewMemoryStore(), events.Discard{}, logger, time.Hour)
	agents := agent.NewService(agent.NewMemoryDirectory(), store)
	svc := facilitator.NewService(engine, store, agents, credential.Unkeyed{}, logger)

	app := fiber.New()
	app.Post("/premium/echo",
		Protect(Config{
			Price:          premiumPrice,
			Description:    "premium echo",
			PayTo:          "nanda-adapter",
			FacilitatorURL: "http://localhost:3001",
			Facilitator:    svc,
			Logger:         logger,
		}),
		func(c *fiber.Ctx) error {
			return c.JSON(fiber.Map{"echo": string(c.Body())})
		})
	return &env{app: app, store: store, agents: agents}
}

func (e *env) register(t *testing.T, name string, balance int64) agent.Agent {
	t.Helper()
	a, err := e.agents.Register(context.Background(), name)
	require.NoError(t, err)
	if balance > 0 {
		ledger.SeedBalance(e.store, a.WalletID, balance)
	}
	return a
}

func (e *env) request(t *testing.T, paymentHeader string) *http.Response {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/premium/echo", nil)
	if paymentHeader != "" {
		req.Header.Set(x402.PaymentHeader, paymentHeader)
	}
	resp, err := e.app.Test(req, -1)
	require.NoError(t, err)
	return resp
}

func decodeChallenge(t *testing.T, resp *http.Response) x402.Challenge {
	t.Helper()
	var ch x402.Challenge
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&ch))
	return ch
}

func TestMissingPaymentGetsChallenge(t *testing.T) {
	e := newEnv(t)
	e.register(t, "nanda-adapter", 0)

	resp := e.request(t, "")
	assert.Equal(t, http.StatusPaymentRequired, resp.StatusCode)

	ch := decodeChallenge(t, resp)
	assert.Equal(t, x402.Version, ch.X402Version)
	assert.Equal(t, "X-PAYMENT header is required", ch.Error)
	require.Len(t, ch.Accepts, 1)
	assert.Equal(t, "NP", ch.Accepts[0].Asset)
	assert.Equal(t, "10000", ch.Accepts[0].MaxAmountRequired)
	assert.Equal(t, "nanda-adapter", ch.Accepts[0].PayTo)
	assert.Contains(t, ch.Accepts[0].Resource, "/premium/echo")
}

func TestMalformedPaymentGetsChallenge(t *testing.T) {
	e := newEnv(t)
	e.register(t, "nanda-adapter", 0)

	resp := e.request(t, "!!not-base64!!")
	assert.Equal(t, http.StatusPaymentRequired, resp.StatusCode)
	assert.NotEmpty(t, decodeChallenge(t, resp).Error)
}

func TestInvalidPaymentGetsChallengeWithPayer(t *testing.T) {
	e := newEnv(t)
	e.register(t, "nanda-adapter", 0)
	e.register(t, "claude-desktop", 100) // not enough for the price

	payment := x402.NewPayment("claude-desktop", "nanda-adapter", premiumPrice)
	header, err := x402.EncodePayment(payment)
	require.NoError(t, err)

	resp := e.request(t, header)
	assert.Equal(t, http.StatusPaymentRequired, resp.StatusCode)

	ch := decodeChallenge(t, resp)
	assert.Equal(t, facilitator.ReasonInsufficientBalance, ch.Error)
	assert.Equal(t, "claude-desktop", ch.Payer)
}

func TestPaidRequestRunsHandlerAndSettles(t *testing.T) {
	e := newEnv(t)
	adapter := e.register(t, "nanda-adapter", 0)
	desktop := e.register(t, "claude-desktop", 100_000)

	payment := x402.NewPayment("claude-desktop", "nanda-adapter", premiumPrice)
	header, err := x402.EncodePayment(payment)
	require.NoError(t, err)

	resp := e.request(t, header)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	encoded := resp.Header.Get(x402.PaymentResponseHeader)
	require.NotEmpty(t, encoded, "expected a settlement receipt header")
	receipt, err := x402.DecodeReceipt(encoded)
	require.NoError(t, err)
	assert.Equal(t, "10000", receipt.Amount)
	assert.Equal(t, int64(90_000), receipt.Balances.From)
	assert.Equal(t, int64(10_000), receipt.Balances.PayTo)

	ctx := context.Background()
	w, err := e.store.GetWallet(ctx, desktop.WalletID)
	require.NoError(t, err)
	assert.Equal(t, int64(90_000), w.Balance)
	w, err = e.store.GetWallet(ctx, adapter.WalletID)
	require.NoError(t, err)
	assert.Equal(t, int64(10_000), w.Balance)
}

func TestReplayedPaymentRejectedBeforeHandler(t *testing.T) {
	e := newEnv(t)
	e.register(t, "nanda-adapter", 0)
	desktop := e.register(t, "claude-desktop", 100_000)

	payment := x402.NewPayment("claude-desktop", "nanda-adapter", premiumPrice)
	header, err := x402.EncodePayment(payment)
	require.NoError(t, err)

	first := e.request(t, header)
	assert.Equal(t, http.StatusOK, first.StatusCode)

	second := e.request(t, header)
	assert.Equal(t, http.StatusPaymentRequired, second.StatusCode)
	assert.Equal(t, facilitator.ReasonDuplicate, decodeChallenge(t, second).Error)

	w, err := e.store.GetWallet(context.Background(), desktop.WalletID)
	require.NoError(t, err)
	assert.Equal(t, int64(90_000), w.Balance, "replay must not charge again")
}
