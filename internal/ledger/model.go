package ledger

import (
	"errors"
	"time"

	"github.com/nanda-points/nanda_points/internal/money"
)

var (
	// ErrInsufficientFunds occurs when a debit would take a wallet below zero
	// and the wallet does not allow overdraft.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrDuplicateTransaction indicates a transaction already exists for the
	// provided idempotency key; the stored transaction is returned alongside.
	ErrDuplicateTransaction = errors.New("duplicate transaction")

	// ErrWalletNotFound indicates a referenced wallet does not exist.
	ErrWalletNotFound = errors.New("wallet not found")

	// ErrWalletNotActive indicates a referenced wallet is suspended or closed.
	ErrWalletNotActive = errors.New("wallet not active")

	// ErrTransactionNotFound indicates no transaction exists for the identifier.
	ErrTransactionNotFound = errors.New("transaction not found")

	// ErrLimitExceeded indicates a single posting exceeds the wallet's
	// configured spend or earn limit.
	ErrLimitExceeded = errors.New("wallet limit exceeded")

	// ErrValidation flags malformed apply requests, recoverable by the caller.
	ErrValidation = errors.New("validation error")
)

// WalletStatus enumerates wallet lifecycle states.
type WalletStatus string

const (
	WalletActive    WalletStatus = "active"
	WalletSuspended WalletStatus = "suspended"
	WalletClosed    WalletStatus = "closed"
)

// Wallet holds an agent's point balance. Mutated only by the transaction
// engine; the balance never goes negative unless AllowOverdraft is set.
type Wallet struct {
	ID             string       `json:"id"`
	AgentID        string       `json:"agentId"`
	Balance        int64        `json:"balance"`
	Sequence       int64        `json:"sequence"`
	SpendLimit     int64        `json:"spendLimit,omitempty"`
	EarnLimit      int64        `json:"earnLimit,omitempty"`
	AllowOverdraft bool         `json:"allowOverdraft,omitempty"`
	Status         WalletStatus `json:"status"`
	CreatedAt      time.Time    `json:"createdAt"`
}

// OpType enumerates ledger operation types.
type OpType string

const (
	OpMint     OpType = "mint"
	OpBurn     OpType = "burn"
	OpTransfer OpType = "transfer"
	OpEarn     OpType = "earn"
	OpSpend    OpType = "spend"
	OpHold     OpType = "hold"
	OpCapture  OpType = "capture"
	OpRefund   OpType = "refund"
	OpReversal OpType = "reversal"
)

var validOps = map[OpType]bool{
	OpMint: true, OpBurn: true, OpTransfer: true, OpEarn: true, OpSpend: true,
	OpHold: true, OpCapture: true, OpRefund: true, OpReversal: true,
}

// TxStatus enumerates transaction lifecycle states. Transactions are created
// as posted and only ever transition to reversed afterwards.
type TxStatus string

const (
	TxPending  TxStatus = "pending"
	TxPosted   TxStatus = "posted"
	TxFailed   TxStatus = "failed"
	TxReversed TxStatus = "reversed"
)

// AccountType classifies the account a posting touches.
type AccountType string

const (
	AccountWallet   AccountType = "wallet"
	AccountTreasury AccountType = "treasury"
	AccountFeePool  AccountType = "fee_pool"
	AccountEscrow   AccountType = "escrow"
)

// Direction is the side of a posting.
type Direction string

const (
	Debit  Direction = "debit"
	Credit Direction = "credit"
)

// System account identifiers for the non-wallet posting legs.
const (
	TreasuryAccountID = "treasury:points"
	BurnSinkAccountID = "sink:burn"
)

// Posting is one leg of a balanced transaction.
type Posting struct {
	AccountType AccountType `json:"accountType"`
	AccountID   string      `json:"accountId"`
	Direction   Direction   `json:"direction"`
	Value       int64       `json:"value"`
}

// Snapshot records a wallet's balance and sequence immediately after a
// transaction was applied to it.
type Snapshot struct {
	WalletID string `json:"walletId"`
	Balance  int64  `json:"balance"`
	Sequence int64  `json:"sequence"`
}

// Actor identifies the agent that initiated a transaction.
type Actor struct {
	AgentID  string `json:"agentId"`
	WalletID string `json:"walletId,omitempty"`
}

// Transaction is the immutable record of one applied ledger operation.
type Transaction struct {
	ID             string            `json:"id"`
	Type           OpType            `json:"type"`
	Status         TxStatus          `json:"status"`
	Amount         money.Amount      `json:"amount"`
	ReasonCode     string            `json:"reasonCode"`
	IdempotencyKey string            `json:"idempotencyKey"`
	Actor          *Actor            `json:"actor,omitempty"`
	Postings       []Posting         `json:"postings"`
	Snapshots      []Snapshot        `json:"snapshots"`
	InvoiceID      string            `json:"invoiceId,omitempty"`
	SettlementID   string            `json:"settlementId,omitempty"`
	Facts          map[string]string `json:"facts,omitempty"`
	CreatedAt      time.Time         `json:"createdAt"`
}

// BalanceFor returns the snapshot balance for walletID, if the transaction
// touched that wallet.
func (t Transaction) BalanceFor(walletID string) (int64, bool) {
	for _, s := range t.Snapshots {
		if s.WalletID == walletID {
			return s.Balance, true
		}
	}
	return 0, false
}
