// Package paywall is the resource-server side of the payment protocol: a
// middleware that charges NANDA Points for a route by speaking HTTP 402.
package paywall

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/nanda-points/nanda_points/internal/x402"
)

// Facilitator is the subset of the facilitator protocol the paywall needs.
// Satisfied by both the in-process service and the HTTP client.
type Facilitator interface {
	Verify(ctx context.Context, payment x402.PaymentPayload, reqs x402.PaymentRequirements) (x402.VerifyResponse, error)
	Settle(ctx context.Context, payment x402.PaymentPayload, reqs x402.PaymentRequirements) (x402.SettleResponse, error)
}

// Config describes one protected route.
type Config struct {
	// Price in minor units of NP charged per request.
	Price int64
	// Description is shown to payers in the 402 challenge.
	Description string
	// PayTo is the agent name receiving the payment.
	PayTo string
	// TimeoutSeconds bounds how long a payment offer stays valid. Defaults
	// to 60.
	TimeoutSeconds int
	// FacilitatorURL is advertised in the challenge so clients know where the
	// payment can be settled.
	FacilitatorURL string

	Facilitator Facilitator
	Logger      *slog.Logger
}

// Protect returns a middleware that gates the route behind payment. Requests
// without a valid X-PAYMENT header get a 402 challenge. Valid payments are
// verified before the handler runs and settled after it succeeds, with the
// receipt attached as the X-PAYMENT-RESPONSE header.
func Protect(cfg Config) fiber.Handler {
	if cfg.TimeoutSeconds <= 0 {
		cfg.TimeoutSeconds = 60
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return func(c *fiber.Ctx) error {
		reqs := x402.NewRequirements(cfg.Price, c.BaseURL()+c.OriginalURL(), cfg.PayTo,
			cfg.Description, cfg.TimeoutSeconds, cfg.FacilitatorURL)

		header := c.Get(x402.PaymentHeader)
		if header == "" {
			return challenge(c, reqs, "X-PAYMENT header is required", "")
		}

		payment, err := x402.DecodePayment(header)
		if err != nil {
			return challenge(c, reqs, err.Error(), "")
		}

		ctx := c.UserContext()
		verified, err := cfg.Facilitator.Verify(ctx, payment, reqs)
		if err != nil {
			// Facilitator unreachable before the handler ran; nothing was
			// delivered, so the caller keeps their points and can retry.
			cfg.Logger.Error("payment verification unavailable", "error", err)
			return challenge(c, reqs, "payment verification unavailable", "")
		}
		if !verified.IsValid {
			return challenge(c, reqs, verified.InvalidReason, verified.Payer)
		}

		if err := c.Next(); err != nil {
			return err
		}
		if c.Response().StatusCode() >= http.StatusBadRequest {
			// The resource declined; nothing was delivered, so don't charge.
			return nil
		}

		settled, err := cfg.Facilitator.Settle(ctx, payment, reqs)
		if err != nil || !settled.Success {
			cfg.Logger.Warn("settlement failed after delivery",
				"txId", payment.TxID, "from", payment.From, "reason", settled.ErrorReason, "error", err)
			return nil
		}

		if settled.Receipt != nil {
			encoded, err := x402.EncodeReceipt(*settled.Receipt)
			if err != nil {
				cfg.Logger.Warn("receipt encoding failed", "txId", settled.TxID, "error", err)
				return nil
			}
			c.Set(x402.PaymentResponseHeader, encoded)
		}
		return nil
	}
}

func challenge(c *fiber.Ctx, reqs x402.PaymentRequirements, reason, payer string) error {
	return c.Status(http.StatusPaymentRequired).JSON(x402.Challenge{
		X402Version: x402.Version,
		Error:       reason,
		Payer:       payer,
		Accepts:     []x402.PaymentRequirements{reqs},
	})
}
