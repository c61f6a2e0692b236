package notification

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nanda-points/nanda_points/internal/events"
)

const (
	// KindTxPosted indicates a posted ledger transaction touching a wallet.
	KindTxPosted = "tx_posted"
)

// Message describes a notification payload.
type Message struct {
	Kind        string
	Destination string
	Body        string
}

// Notifier delivers notifications to downstream systems.
type Notifier interface {
	Send(ctx context.Context, message Message) error
}

// LoggerNotifier is a stub implementation that writes notifications to the logger.
type LoggerNotifier struct {
	logger *slog.Logger
}

// NewLoggerNotifier constructs a logging notifier stub.
func NewLoggerNotifier(logger *slog.Logger) *LoggerNotifier {
	return &LoggerNotifier{logger: logger}
}

// Send writes the message to the structured logger.
func (n *LoggerNotifier) Send(_ context.Context, message Message) error {
	if n == nil || n.logger == nil {
		return nil
	}
	n.logger.Info("notification", "kind", message.Kind, "destination", message.Destination, "body", message.Body)
	return nil
}

// Consume drains ledger events from ch and notifies every wallet each
// transaction touched. It returns when ch is closed.
func Consume(ctx context.Context, ch <-chan events.Event, n Notifier) {
	for ev := range ch {
		for _, walletID := range ev.WalletIDs {
			msg := Message{
				Kind:        KindTxPosted,
				Destination: walletID,
				Body:        fmt.Sprintf("transaction %s posted (%v %v)", ev.TxID, ev.Payload["type"], ev.Payload["amount"]),
			}
			_ = n.Send(ctx, msg)
		}
	}
}
