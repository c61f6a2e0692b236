// Package facilitator verifies and settles NANDA Points payments on behalf of
// resource servers. Verify is a read-only dry run; Settle moves points through
// the ledger and returns a signed receipt.
package facilitator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/nanda-points/nanda_points/internal/agent"
	"github.com/nanda-points/nanda_points/internal/credential"
	"github.com/nanda-points/nanda_points/internal/ledger"
	"github.com/nanda-points/nanda_points/internal/money"
	"github.com/nanda-points/nanda_points/internal/x402"
)

// Invalid reasons returned to clients. These are part of the wire contract,
// so callers can branch on them.
const (
	ReasonUnsupportedScheme   = "Unsupported scheme"
	ReasonInvalidAmount       = "Invalid amount"
	ReasonAmountTooLow        = "Amount below required price"
	ReasonAgentNotFound       = "Agent not found"
	ReasonInsufficientBalance = "Insufficient balance"
	ReasonDuplicate           = "Duplicate transaction"
	ReasonWalletNotActive     = "Wallet not active"
	ReasonLimitExceeded       = "Wallet limit exceeded"

	settleReasonCode = "x402.settle"
)

// Service implements the facilitator protocol against the local ledger.
type Service struct {
	engine *ledger.Engine
	store  ledger.Store
	agents *agent.Service
	signer credential.Signer
	logger *slog.Logger
}

// NewService wires a facilitator over the given ledger and agent directory.
func NewService(engine *ledger.Engine, store ledger.Store, agents *agent.Service, signer credential.Signer, logger *slog.Logger) *Service {
	if signer == nil {
		signer = credential.Unkeyed{}
	}
	return &Service{engine: engine, store: store, agents: agents, signer: signer, logger: logger}
}

// parties is the result of resolving a payment payload against the directory.
type parties struct {
	amount int64
	from   agent.Agent
	payTo  agent.Agent
}

// resolve checks everything about a payment that does not require writing:
// scheme, amount, both agents, and the payer's balance. A non-empty reason
// means the payment is invalid; error is reserved for infrastructure failures.
func (s *Service) resolve(ctx context.Context, payment x402.PaymentPayload, reqs x402.PaymentRequirements) (parties, string, error) {
	if payment.Scheme != x402.Scheme || payment.Network != x402.Network {
		return parties{}, ReasonUnsupportedScheme, nil
	}
	amount, err := payment.AmountValue()
	if err != nil {
		return parties{}, ReasonInvalidAmount, nil
	}
	if reqs.MaxAmountRequired != "" {
		required, err := strconv.ParseInt(reqs.MaxAmountRequired, 10, 64)
		if err != nil {
			return parties{}, ReasonInvalidAmount, nil
		}
		if amount < required {
			return parties{}, ReasonAmountTooLow, nil
		}
	}

	from, err := s.agents.Lookup(ctx, payment.From)
	if errors.Is(err, agent.ErrAgentNotFound) {
		return parties{}, ReasonAgentNotFound, nil
	}
	if err != nil {
		return parties{}, "", err
	}
	payTo, err := s.agents.Lookup(ctx, payment.PayTo)
	if errors.Is(err, agent.ErrAgentNotFound) {
		return parties{}, ReasonAgentNotFound, nil
	}
	if err != nil {
		return parties{}, "", err
	}

	wallet, err := s.store.GetWallet(ctx, from.WalletID)
	if err != nil {
		return parties{}, "", err
	}
	if wallet.Status != ledger.WalletActive {
		return parties{}, ReasonWalletNotActive, nil
	}
	if wallet.Balance < amount && !wallet.AllowOverdraft {
		return parties{}, ReasonInsufficientBalance, nil
	}

	return parties{amount: amount, from: from, payTo: payTo}, "", nil
}

// Verify checks whether a payment could settle right now, without moving
// points. A payload whose transaction id has already settled is reported as
// invalid; retries belong to Settle, which replays them.
func (s *Service) Verify(ctx context.Context, payment x402.PaymentPayload, reqs x402.PaymentRequirements) (x402.VerifyResponse, error) {
	p, reason, err := s.resolve(ctx, payment, reqs)
	if err != nil {
		return x402.VerifyResponse{}, err
	}
	if reason != "" {
		return x402.VerifyResponse{IsValid: false, InvalidReason: reason, Payer: payment.From}, nil
	}

	if _, err := s.store.ByIdempotencyKey(ctx, payment.TxID); err == nil {
		return x402.VerifyResponse{IsValid: false, InvalidReason: ReasonDuplicate, Payer: payment.From}, nil
	} else if !errors.Is(err, ledger.ErrTransactionNotFound) {
		return x402.VerifyResponse{}, err
	}

	s.logger.Info("payment verified", "from", payment.From, "payTo", payment.PayTo, "amount", p.amount)
	return x402.VerifyResponse{IsValid: true, Payer: payment.From}, nil
}

// Settle executes the payment as a ledger transfer keyed by the payload's
// transaction id. Retrying the same payload returns the original receipt
// instead of charging twice.
func (s *Service) Settle(ctx context.Context, payment x402.PaymentPayload, reqs x402.PaymentRequirements) (x402.SettleResponse, error) {
	if tx, err := s.store.ByIdempotencyKey(ctx, payment.TxID); err == nil {
		return s.settled(ctx, payment, tx)
	} else if !errors.Is(err, ledger.ErrTransactionNotFound) {
		return x402.SettleResponse{}, err
	}

	p, reason, err := s.resolve(ctx, payment, reqs)
	if err != nil {
		return x402.SettleResponse{}, err
	}
	if reason != "" {
		return x402.SettleResponse{Success: false, ErrorReason: reason, Network: x402.Network}, nil
	}

	result, err := s.engine.Apply(ctx, ledger.ApplyInput{
		Type:           ledger.OpTransfer,
		SourceWalletID: p.from.WalletID,
		DestWalletID:   p.payTo.WalletID,
		Amount:         money.NP(p.amount),
		ReasonCode:     settleReasonCode,
		IdempotencyKey: payment.TxID,
		Actor:          &ledger.Actor{AgentID: payment.From, WalletID: p.from.WalletID},
		Facts:          map[string]string{ledger.FactSettlementID: payment.TxID},
	})
	if err != nil {
		if reason := settleFailure(err); reason != "" {
			return x402.SettleResponse{Success: false, ErrorReason: reason, Network: x402.Network}, nil
		}
		return x402.SettleResponse{}, err
	}

	s.logger.Info("payment settled",
		"txId", result.Transaction.ID, "from", payment.From, "payTo", payment.PayTo,
		"amount", p.amount, "replayed", result.Replayed)
	return s.receiptResponse(payment, result.Transaction, p.from.WalletID, p.payTo.WalletID)
}

// Supported lists the single scheme/network/asset triple this facilitator
// accepts.
func (s *Service) Supported(context.Context) x402.SupportedResponse {
	return x402.SupportedResponse{Kinds: []x402.SupportedKind{
		{Scheme: x402.Scheme, Network: x402.Network, Asset: x402.Asset},
	}}
}

// settled rebuilds the response for a transaction that already exists for the
// payload's id.
func (s *Service) settled(ctx context.Context, payment x402.PaymentPayload, tx ledger.Transaction) (x402.SettleResponse, error) {
	from, err := s.agents.Lookup(ctx, payment.From)
	if err != nil {
		return x402.SettleResponse{}, err
	}
	payTo, err := s.agents.Lookup(ctx, payment.PayTo)
	if err != nil {
		return x402.SettleResponse{}, err
	}
	s.logger.Info("settlement replayed", "txId", tx.ID, "key", payment.TxID)
	return s.receiptResponse(payment, tx, from.WalletID, payTo.WalletID)
}

func (s *Service) receiptResponse(payment x402.PaymentPayload, tx ledger.Transaction, fromWallet, payToWallet string) (x402.SettleResponse, error) {
	fromBalance, _ := tx.BalanceFor(fromWallet)
	payToBalance, _ := tx.BalanceFor(payToWallet)
	receipt := x402.Receipt{
		TxID:      tx.ID,
		From:      payment.From,
		PayTo:     payment.PayTo,
		Amount:    strconv.FormatInt(tx.Amount.Value, 10),
		Timestamp: tx.CreatedAt.UnixMilli(),
		Balances:  x402.ReceiptBalances{From: fromBalance, PayTo: payToBalance},
	}
	sig, err := s.signer.Sign(receipt.CanonicalBytes())
	if err != nil {
		return x402.SettleResponse{}, fmt.Errorf("sign receipt: %w", err)
	}
	receipt.Signature = sig

	return x402.SettleResponse{
		Success: true,
		TxID:    tx.ID,
		Network: x402.Network,
		Receipt: &receipt,
	}, nil
}

// settleFailure maps ledger rejections raced into by Apply to wire reasons.
// Anything unmapped is an infrastructure error.
func settleFailure(err error) string {
	switch {
	case errors.Is(err, ledger.ErrInsufficientFunds):
		return ReasonInsufficientBalance
	case errors.Is(err, ledger.ErrWalletNotActive):
		return ReasonWalletNotActive
	case errors.Is(err, ledger.ErrLimitExceeded):
		return ReasonLimitExceeded
	default:
		return ""
	}
}
