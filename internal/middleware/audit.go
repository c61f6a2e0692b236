package middleware

import (
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/nanda-points/nanda_points/internal/x402"
)

// Audit emits structured logs for each request/response lifecycle event,
// including whether the request carried a payment and whether it settled.
func Audit(logger *slog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		paid := c.Get(x402.PaymentHeader) != ""
		err := c.Next()

		status := c.Response().StatusCode()
		duration := time.Since(start)
		requestID, _ := c.Locals(requestIDHeader).(string)

		attrs := []any{
			slog.String("method", c.Method()),
			slog.String("path", c.Path()),
			slog.Int("status", status),
			slog.Duration("duration", duration),
		}
		if requestID != "" {
			attrs = append(attrs, slog.String("request_id", requestID))
		}
		if paid {
			settled := len(c.Response().Header.Peek(x402.PaymentResponseHeader)) > 0
			attrs = append(attrs, slog.Bool("paid", true), slog.Bool("settled", settled))
		}
		if err != nil {
			attrs = append(attrs, slog.Any("error", err))
			logger.Error("request completed", attrs...)
			return err
		}

		logger.Info("request completed", attrs...)
		return nil
	}
}
