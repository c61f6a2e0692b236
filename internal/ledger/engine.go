package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/nanda-points/nanda_points/internal/events"
	"github.com/nanda-points/nanda_points/internal/idempotency"
	"github.com/nanda-points/nanda_points/internal/money"
)

// Facts keys the engine gives meaning to.
const (
	FactInvoiceID    = "invoiceId"
	FactSettlementID = "settlementId"
	FactReversesTxID = "reversesTxId"
)

// Engine validates and applies accounting operations as balanced postings
// against one or two wallets.
type Engine struct {
	store   Store
	idem    idempotency.Store
	sink    events.Sink
	logger  *slog.Logger
	idemTTL time.Duration
}

// NewEngine wires the transaction engine with its collaborators. The event
// sink is injected rather than shared process-wide so callers decide fan-out.
func NewEngine(store Store, idem idempotency.Store, sink events.Sink, logger *slog.Logger, idemTTL time.Duration) *Engine {
	if sink == nil {
		sink = events.Discard{}
	}
	return &Engine{store: store, idem: idem, sink: sink, logger: logger, idemTTL: idemTTL}
}

// ApplyInput captures one requested accounting operation.
type ApplyInput struct {
	Type           OpType
	SourceWalletID string
	DestWalletID   string
	Amount         money.Amount
	ReasonCode     string
	IdempotencyKey string
	Actor          *Actor
	Facts          map[string]string
}

// ApplyResult is the outcome of Apply. Replayed is true when the idempotency
// key had already been used and the original transaction is returned.
type ApplyResult struct {
	Transaction Transaction
	Replayed    bool
}

// Apply executes one ledger operation end to end: idempotent replay check,
// wallet resolution, posting construction, atomic balance application, and a
// single tx.posted event for newly posted transactions.
func (e *Engine) Apply(ctx context.Context, in ApplyInput) (ApplyResult, error) {
	if err := e.validate(in); err != nil {
		return ApplyResult{}, err
	}

	if txID, found, err := e.idem.Lookup(ctx, in.IdempotencyKey); err != nil {
		return ApplyResult{}, err
	} else if found {
		tx, err := e.store.Get(ctx, txID)
		if err != nil {
			return ApplyResult{}, fmt.Errorf("replay %s: %w", in.IdempotencyKey, err)
		}
		return ApplyResult{Transaction: tx, Replayed: true}, nil
	}

	if err := e.checkWallets(ctx, in); err != nil {
		return ApplyResult{}, err
	}

	tx := Transaction{
		ID:             uuid.NewString(),
		Type:           in.Type,
		Status:         TxPosted,
		Amount:         in.Amount,
		ReasonCode:     in.ReasonCode,
		IdempotencyKey: in.IdempotencyKey,
		Actor:          in.Actor,
		Postings:       buildPostings(in),
		InvoiceID:      in.Facts[FactInvoiceID],
		SettlementID:   in.Facts[FactSettlementID],
		Facts:          in.Facts,
		CreatedAt:      time.Now().UTC(),
	}

	posted, err := e.store.Post(ctx, tx)
	if errors.Is(err, ErrDuplicateTransaction) {
		// Lost the uniqueness race; the stored transaction wins.
		return ApplyResult{Transaction: posted, Replayed: true}, nil
	}
	if err != nil {
		return ApplyResult{}, err
	}

	if ok, err := e.idem.Remember(ctx, in.IdempotencyKey, posted.ID, e.idemTTL); err != nil || !ok {
		e.logger.Warn("idempotency record not written", "key", in.IdempotencyKey, "error", err)
	}

	if in.Type == OpReversal {
		if target := in.Facts[FactReversesTxID]; target != "" {
			if err := e.store.MarkReversed(ctx, target); err != nil {
				e.logger.Warn("mark reversed failed", "txId", target, "error", err)
			}
		}
	}

	e.sink.Publish(ctx, postedEvent(posted))
	return ApplyResult{Transaction: posted}, nil
}

func (e *Engine) validate(in ApplyInput) error {
	if !validOps[in.Type] {
		return fmt.Errorf("%w: unknown operation type %q", ErrValidation, in.Type)
	}
	if err := in.Amount.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if in.IdempotencyKey == "" {
		return fmt.Errorf("%w: idempotency key is required", ErrValidation)
	}
	needsSource, needsDest := walletRequirements(in.Type)
	if needsSource && in.SourceWalletID == "" {
		return fmt.Errorf("%w: %s requires sourceWalletId", ErrValidation, in.Type)
	}
	if needsDest && in.DestWalletID == "" {
		return fmt.Errorf("%w: %s requires destWalletId", ErrValidation, in.Type)
	}
	return nil
}

func (e *Engine) checkWallets(ctx context.Context, in ApplyInput) error {
	needsSource, needsDest := walletRequirements(in.Type)
	if needsSource {
		w, err := e.store.GetWallet(ctx, in.SourceWalletID)
		if err != nil {
			return err
		}
		if w.Status != WalletActive {
			return fmt.Errorf("%w: %s", ErrWalletNotActive, w.ID)
		}
		if w.SpendLimit > 0 && in.Amount.Value > w.SpendLimit {
			return fmt.Errorf("%w: spend limit on %s", ErrLimitExceeded, w.ID)
		}
	}
	if needsDest {
		w, err := e.store.GetWallet(ctx, in.DestWalletID)
		if err != nil {
			return err
		}
		if w.Status != WalletActive {
			return fmt.Errorf("%w: %s", ErrWalletNotActive, w.ID)
		}
		if w.EarnLimit > 0 && in.Amount.Value > w.EarnLimit {
			return fmt.Errorf("%w: earn limit on %s", ErrLimitExceeded, w.ID)
		}
	}
	return nil
}

// walletRequirements reports which wallet ids an operation type needs.
func walletRequirements(op OpType) (source, dest bool) {
	switch op {
	case OpMint:
		return false, true
	case OpBurn:
		return true, false
	default:
		return true, true
	}
}

// buildPostings constructs the balanced debit/credit legs for an operation.
// Mint debits the treasury, burn credits the burn sink, everything else moves
// value between the two wallets.
func buildPostings(in ApplyInput) []Posting {
	v := in.Amount.Value
	switch in.Type {
	case OpMint:
		return []Posting{
			{AccountType: AccountTreasury, AccountID: TreasuryAccountID, Direction: Debit, Value: v},
			{AccountType: AccountWallet, AccountID: in.DestWalletID, Direction: Credit, Value: v},
		}
	case OpBurn:
		return []Posting{
			{AccountType: AccountWallet, AccountID: in.SourceWalletID, Direction: Debit, Value: v},
			{AccountType: AccountTreasury, AccountID: BurnSinkAccountID, Direction: Credit, Value: v},
		}
	default:
		return []Posting{
			{AccountType: AccountWallet, AccountID: in.SourceWalletID, Direction: Debit, Value: v},
			{AccountType: AccountWallet, AccountID: in.DestWalletID, Direction: Credit, Value: v},
		}
	}
}

func postedEvent(tx Transaction) events.Event {
	walletIDs := make([]string, 0, len(tx.Snapshots))
	snapshots := make([]map[string]any, 0, len(tx.Snapshots))
	for _, s := range tx.Snapshots {
		walletIDs = append(walletIDs, s.WalletID)
		snapshots = append(snapshots, map[string]any{
			"walletId": s.WalletID,
			"balance":  s.Balance,
			"sequence": s.Sequence,
		})
	}
	return events.Event{
		Type:      events.TypeTxPosted,
		TxID:      tx.ID,
		WalletIDs: walletIDs,
		Payload: map[string]any{
			"type":       string(tx.Type),
			"amount":     tx.Amount.Value,
			"currency":   tx.Amount.Currency,
			"scale":      tx.Amount.Scale,
			"reasonCode": tx.ReasonCode,
			"snapshots":  snapshots,
		},
	}
}
