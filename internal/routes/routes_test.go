package routes

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/nanda-points/nanda_points/internal/config"
	"github.com/nanda-points/nanda_points/internal/logging"
	"github.com/nanda-points/nanda_points/internal/x402"
)

func newTestApp(t *testing.T) *fiber.App {
	t.Helper()
	app := fiber.New()
	cfg := config.Config{
		AppName:               "NandaPoints",
		AppEnv:                "development",
		AgentName:             "nanda-adapter",
		FacilitatorURL:        "http://localhost:8080",
		ReceiptSigningSeed:    "test-seed",
		PaywallPrice:          10_000,
		PaywallDescription:    "premium echo",
		PaywallTimeoutSeconds: 60,
		IdempotencyTTL:        time.Hour,
	}
	if err := Setup(app, Deps{Cfg: cfg, Logger: logging.Discard()}); err != nil {
		t.Fatalf("setup: %v", err)
	}
	return app
}

func doJSON(t *testing.T, app *fiber.App, method, path string, body any, headers map[string]string) (*http.Response, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	var decoded map[string]any
	if resp.Header.Get("Content-Type") != "" {
		_ = json.NewDecoder(resp.Body).Decode(&decoded)
	}
	return resp, decoded
}

func registerAgent(t *testing.T, app *fiber.App, name string) string {
	t.Helper()
	resp, body := doJSON(t, app, http.MethodPost, "/agents", map[string]string{"name": name}, nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("register %s: status %d body %v", name, resp.StatusCode, body)
	}
	walletID, _ := body["walletId"].(string)
	if walletID == "" {
		t.Fatalf("no walletId in %v", body)
	}
	return walletID
}

func mint(t *testing.T, app *fiber.App, walletID string, value int64, key string) {
	t.Helper()
	resp, body := doJSON(t, app, http.MethodPost, "/transactions", map[string]any{
		"type":           "mint",
		"destWalletId":   walletID,
		"amount":         map[string]any{"currency": "NP", "scale": 3, "value": value},
		"reasonCode":     "signup.bonus",
		"idempotencyKey": key,
	}, nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("mint: status %d body %v", resp.StatusCode, body)
	}
}

func walletBalance(t *testing.T, app *fiber.App, walletID string) int64 {
	t.Helper()
	resp, body := doJSON(t, app, http.MethodGet, "/wallets/"+walletID, nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("wallet: status %d", resp.StatusCode)
	}
	return int64(body["balance"].(float64))
}

func TestHealthz(t *testing.T) {
	app := newTestApp(t)
	resp, _ := doJSON(t, app, http.MethodGet, "/healthz", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
}

func TestSupported(t *testing.T) {
	app := newTestApp(t)
	resp, body := doJSON(t, app, http.MethodGet, "/supported", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
	kinds, _ := body["kinds"].([]any)
	if len(kinds) != 1 {
		t.Fatalf("expected one kind, got %v", body)
	}
}

func TestMintIsIdempotentOverHTTP(t *testing.T) {
	app := newTestApp(t)
	walletID := registerAgent(t, app, "claude-desktop")

	mint(t, app, walletID, 100_000, "mint-1")

	// Same key again replays with 200 instead of posting twice.
	resp, _ := doJSON(t, app, http.MethodPost, "/transactions", map[string]any{
		"type":           "mint",
		"destWalletId":   walletID,
		"amount":         map[string]any{"currency": "NP", "scale": 3, "value": 100_000},
		"reasonCode":     "signup.bonus",
		"idempotencyKey": "mint-1",
	}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("replay: status %d", resp.StatusCode)
	}

	if got := walletBalance(t, app, walletID); got != 100_000 {
		t.Fatalf("balance = %d, want 100000", got)
	}
}

func TestPremiumEchoEndToEnd(t *testing.T) {
	app := newTestApp(t)
	walletID := registerAgent(t, app, "claude-desktop")
	mint(t, app, walletID, 100_000, "mint-1")

	// Unpaid request gets the 402 challenge.
	resp, body := doJSON(t, app, http.MethodPost, "/premium/echo", map[string]string{"msg": "hi"}, nil)
	if resp.StatusCode != http.StatusPaymentRequired {
		t.Fatalf("unpaid: status %d", resp.StatusCode)
	}
	accepts, _ := body["accepts"].([]any)
	if len(accepts) != 1 {
		t.Fatalf("expected one accept, got %v", body)
	}
	reqs := accepts[0].(map[string]any)
	if reqs["asset"] != "NP" || reqs["maxAmountRequired"] != "10000" {
		t.Fatalf("unexpected requirements: %v", reqs)
	}

	// Paid request runs the handler and settles.
	payment := x402.NewPayment("claude-desktop", "nanda-adapter", 10_000)
	header, err := x402.EncodePayment(payment)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	resp, body = doJSON(t, app, http.MethodPost, "/premium/echo", map[string]string{"msg": "hi"},
		map[string]string{x402.PaymentHeader: header})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("paid: status %d body %v", resp.StatusCode, body)
	}
	receiptHeader := resp.Header.Get(x402.PaymentResponseHeader)
	if receiptHeader == "" {
		t.Fatal("expected settlement receipt header")
	}
	receipt, err := x402.DecodeReceipt(receiptHeader)
	if err != nil {
		t.Fatalf("decode receipt: %v", err)
	}
	if receipt.Amount != "10000" || receipt.Signature == "" {
		t.Fatalf("unexpected receipt: %+v", receipt)
	}

	if got := walletBalance(t, app, walletID); got != 90_000 {
		t.Fatalf("balance after payment = %d, want 90000", got)
	}
}

func TestVerifyEndpoint(t *testing.T) {
	app := newTestApp(t)
	walletID := registerAgent(t, app, "claude-desktop")
	mint(t, app, walletID, 50_000, "mint-1")

	payment := x402.NewPayment("claude-desktop", "nanda-adapter", 10_000)
	resp, body := doJSON(t, app, http.MethodPost, "/verify", map[string]any{
		"payment":             payment,
		"paymentRequirements": map[string]any{},
	}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
	if body["isValid"] != true {
		t.Fatalf("expected valid payment, got %v", body)
	}
}

func TestSetupRequiresBackendsOutsideDev(t *testing.T) {
	app := fiber.New()
	cfg := config.Config{AppEnv: "production", IdempotencyTTL: time.Hour}
	if err := Setup(app, Deps{Cfg: cfg, Logger: logging.Discard()}); err == nil {
		t.Fatal("expected setup to fail without database and redis")
	}
}
