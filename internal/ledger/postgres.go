package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists wallets and transactions in PostgreSQL. Every call to
// Post runs inside a single database transaction, so the source and
// destination wallet updates commit together or not at all.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore constructs a Postgres-backed ledger store.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

const pgUniqueViolation = "23505"

// EnsureSchema creates the ledger tables when they do not exist yet.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS wallets (
    id UUID PRIMARY KEY,
    agent_id TEXT NOT NULL,
    balance BIGINT NOT NULL DEFAULT 0,
    sequence BIGINT NOT NULL DEFAULT 0,
    spend_limit BIGINT NOT NULL DEFAULT 0,
    earn_limit BIGINT NOT NULL DEFAULT 0,
    allow_overdraft BOOLEAN NOT NULL DEFAULT FALSE,
    status TEXT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS transactions (
    id UUID PRIMARY KEY,
    type TEXT NOT NULL,
    status TEXT NOT NULL,
    currency TEXT NOT NULL,
    scale INT NOT NULL,
    amount BIGINT NOT NULL,
    reason_code TEXT NOT NULL DEFAULT '',
    idempotency_key TEXT NOT NULL UNIQUE,
    actor_agent_id TEXT NOT NULL DEFAULT '',
    actor_wallet_id TEXT NOT NULL DEFAULT '',
    invoice_id TEXT NOT NULL DEFAULT '',
    settlement_id TEXT NOT NULL DEFAULT '',
    facts JSONB,
    created_at TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS postings (
    transaction_id UUID NOT NULL REFERENCES transactions(id),
    idx INT NOT NULL,
    account_type TEXT NOT NULL,
    account_id TEXT NOT NULL,
    direction TEXT NOT NULL,
    value BIGINT NOT NULL,
    PRIMARY KEY (transaction_id, idx)
);
CREATE TABLE IF NOT EXISTS snapshots (
    transaction_id UUID NOT NULL REFERENCES transactions(id),
    idx INT NOT NULL,
    wallet_id UUID NOT NULL,
    balance BIGINT NOT NULL,
    sequence BIGINT NOT NULL,
    PRIMARY KEY (transaction_id, idx)
);
CREATE INDEX IF NOT EXISTS snapshots_wallet_idx ON snapshots (wallet_id);`
	_, err := s.db.Exec(ctx, ddl)
	return err
}

// CreateWallet implements Store.
func (s *PostgresStore) CreateWallet(ctx context.Context, wallet Wallet) error {
	id, err := uuid.Parse(wallet.ID)
	if err != nil {
		return fmt.Errorf("parse wallet id: %w", err)
	}
	_, err = s.db.Exec(ctx, `INSERT INTO wallets
        (id, agent_id, balance, sequence, spend_limit, earn_limit, allow_overdraft, status, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		id, wallet.AgentID, wallet.Balance, wallet.Sequence, wallet.SpendLimit,
		wallet.EarnLimit, wallet.AllowOverdraft, string(wallet.Status), wallet.CreatedAt.UTC())
	return err
}

// GetWallet implements Store.
func (s *PostgresStore) GetWallet(ctx context.Context, id string) (Wallet, error) {
	walletID, err := uuid.Parse(id)
	if err != nil {
		return Wallet{}, fmt.Errorf("%w: %s", ErrWalletNotFound, id)
	}
	row := s.db.QueryRow(ctx, `SELECT id, agent_id, balance, sequence, spend_limit, earn_limit,
        allow_overdraft, status, created_at FROM wallets WHERE id = $1`, walletID)

	var w Wallet
	var uid uuid.UUID
	var status string
	if err := row.Scan(&uid, &w.AgentID, &w.Balance, &w.Sequence, &w.SpendLimit,
		&w.EarnLimit, &w.AllowOverdraft, &status, &w.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Wallet{}, fmt.Errorf("%w: %s", ErrWalletNotFound, id)
		}
		return Wallet{}, err
	}
	w.ID = uid.String()
	w.Status = WalletStatus(status)
	w.CreatedAt = w.CreatedAt.UTC()
	return w, nil
}

// Post implements Store.
func (s *PostgresStore) Post(ctx context.Context, tx Transaction) (Transaction, error) {
	dbtx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Transaction{}, err
	}
	defer dbtx.Rollback(ctx) // nolint:errcheck

	var existingID uuid.UUID
	err = dbtx.QueryRow(ctx, `SELECT id FROM transactions WHERE idempotency_key = $1`,
		tx.IdempotencyKey).Scan(&existingID)
	if err == nil {
		existing, loadErr := s.Get(ctx, existingID.String())
		if loadErr != nil {
			return Transaction{}, loadErr
		}
		return existing, ErrDuplicateTransaction
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Transaction{}, err
	}

	tx.Snapshots = tx.Snapshots[:0]
	for _, p := range tx.Postings {
		if p.AccountType != AccountWallet {
			continue
		}
		snap, err := applyWalletPosting(ctx, dbtx, p)
		if err != nil {
			return Transaction{}, err
		}
		tx.Snapshots = append(tx.Snapshots, snap)
	}

	tx.Status = TxPosted
	if err := insertTransaction(ctx, dbtx, tx); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			_ = dbtx.Rollback(ctx)
			existing, loadErr := s.ByIdempotencyKey(ctx, tx.IdempotencyKey)
			if loadErr != nil {
				return Transaction{}, loadErr
			}
			return existing, ErrDuplicateTransaction
		}
		return Transaction{}, err
	}

	if err := dbtx.Commit(ctx); err != nil {
		return Transaction{}, err
	}
	return tx, nil
}

// applyWalletPosting performs the single conditional atomic update for one
// wallet leg. Debits only succeed while the wallet is active and funded (or
// overdraft is allowed); credits only require an active wallet.
func applyWalletPosting(ctx context.Context, dbtx pgx.Tx, p Posting) (Snapshot, error) {
	walletID, err := uuid.Parse(p.AccountID)
	if err != nil {
		return Snapshot{}, fmt.Errorf("%w: %s", ErrWalletNotFound, p.AccountID)
	}

	var query string
	if p.Direction == Debit {
		query = `UPDATE wallets SET balance = balance - $2, sequence = sequence + 1
            WHERE id = $1 AND status = 'active' AND (balance >= $2 OR allow_overdraft)
            RETURNING balance, sequence`
	} else {
		query = `UPDATE wallets SET balance = balance + $2, sequence = sequence + 1
            WHERE id = $1 AND status = 'active'
            RETURNING balance, sequence`
	}

	snap := Snapshot{WalletID: p.AccountID}
	err = dbtx.QueryRow(ctx, query, walletID, p.Value).Scan(&snap.Balance, &snap.Sequence)
	if err == nil {
		return snap, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Snapshot{}, err
	}

	// The conditional update matched nothing; find out why.
	var status string
	diagErr := dbtx.QueryRow(ctx, `SELECT status FROM wallets WHERE id = $1`, walletID).Scan(&status)
	if errors.Is(diagErr, pgx.ErrNoRows) {
		return Snapshot{}, fmt.Errorf("%w: %s", ErrWalletNotFound, p.AccountID)
	}
	if diagErr != nil {
		return Snapshot{}, diagErr
	}
	if status != string(WalletActive) {
		return Snapshot{}, fmt.Errorf("%w: %s", ErrWalletNotActive, p.AccountID)
	}
	return Snapshot{}, fmt.Errorf("%w: wallet %s", ErrInsufficientFunds, p.AccountID)
}

func insertTransaction(ctx context.Context, dbtx pgx.Tx, tx Transaction) error {
	txID, err := uuid.Parse(tx.ID)
	if err != nil {
		return fmt.Errorf("parse transaction id: %w", err)
	}

	var facts []byte
	if len(tx.Facts) > 0 {
		facts, err = json.Marshal(tx.Facts)
		if err != nil {
			return fmt.Errorf("encode facts: %w", err)
		}
	}

	var actorAgent, actorWallet string
	if tx.Actor != nil {
		actorAgent = tx.Actor.AgentID
		actorWallet = tx.Actor.WalletID
	}

	if _, err := dbtx.Exec(ctx, `INSERT INTO transactions
        (id, type, status, currency, scale, amount, reason_code, idempotency_key,
         actor_agent_id, actor_wallet_id, invoice_id, settlement_id, facts, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		txID, string(tx.Type), string(tx.Status), tx.Amount.Currency, tx.Amount.Scale,
		tx.Amount.Value, tx.ReasonCode, tx.IdempotencyKey, actorAgent, actorWallet,
		tx.InvoiceID, tx.SettlementID, facts, tx.CreatedAt.UTC()); err != nil {
		return err
	}

	for i, p := range tx.Postings {
		if _, err := dbtx.Exec(ctx, `INSERT INTO postings
            (transaction_id, idx, account_type, account_id, direction, value)
            VALUES ($1, $2, $3, $4, $5, $6)`,
			txID, i, string(p.AccountType), p.AccountID, string(p.Direction), p.Value); err != nil {
			return err
		}
	}
	for i, snap := range tx.Snapshots {
		walletID, err := uuid.Parse(snap.WalletID)
		if err != nil {
			return fmt.Errorf("parse snapshot wallet id: %w", err)
		}
		if _, err := dbtx.Exec(ctx, `INSERT INTO snapshots
            (transaction_id, idx, wallet_id, balance, sequence)
            VALUES ($1, $2, $3, $4, $5)`,
			txID, i, walletID, snap.Balance, snap.Sequence); err != nil {
			return err
		}
	}
	return nil
}

// Get implements Store.
func (s *PostgresStore) Get(ctx context.Context, id string) (Transaction, error) {
	txID, err := uuid.Parse(id)
	if err != nil {
		return Transaction{}, fmt.Errorf("%w: %s", ErrTransactionNotFound, id)
	}
	row := s.db.QueryRow(ctx, `SELECT id, type, status, currency, scale, amount, reason_code,
        idempotency_key, actor_agent_id, actor_wallet_id, invoice_id, settlement_id, facts, created_at
        FROM transactions WHERE id = $1`, txID)
	return s.loadTransaction(ctx, row)
}

// ByIdempotencyKey implements Store.
func (s *PostgresStore) ByIdempotencyKey(ctx context.Context, key string) (Transaction, error) {
	row := s.db.QueryRow(ctx, `SELECT id, type, status, currency, scale, amount, reason_code,
        idempotency_key, actor_agent_id, actor_wallet_id, invoice_id, settlement_id, facts, created_at
        FROM transactions WHERE idempotency_key = $1`, key)
	return s.loadTransaction(ctx, row)
}

func (s *PostgresStore) loadTransaction(ctx context.Context, row pgx.Row) (Transaction, error) {
	var tx Transaction
	var id uuid.UUID
	var opType, status, actorAgent, actorWallet string
	var facts []byte
	if err := row.Scan(&id, &opType, &status, &tx.Amount.Currency, &tx.Amount.Scale,
		&tx.Amount.Value, &tx.ReasonCode, &tx.IdempotencyKey, &actorAgent, &actorWallet,
		&tx.InvoiceID, &tx.SettlementID, &facts, &tx.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Transaction{}, ErrTransactionNotFound
		}
		return Transaction{}, err
	}
	tx.ID = id.String()
	tx.Type = OpType(opType)
	tx.Status = TxStatus(status)
	tx.CreatedAt = tx.CreatedAt.UTC()
	if actorAgent != "" {
		tx.Actor = &Actor{AgentID: actorAgent, WalletID: actorWallet}
	}
	if len(facts) > 0 {
		if err := json.Unmarshal(facts, &tx.Facts); err != nil {
			return Transaction{}, fmt.Errorf("decode facts: %w", err)
		}
	}

	rows, err := s.db.Query(ctx, `SELECT account_type, account_id, direction, value
        FROM postings WHERE transaction_id = $1 ORDER BY idx`, id)
	if err != nil {
		return Transaction{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var p Posting
		var accountType, direction string
		if err := rows.Scan(&accountType, &p.AccountID, &direction, &p.Value); err != nil {
			return Transaction{}, err
		}
		p.AccountType = AccountType(accountType)
		p.Direction = Direction(direction)
		tx.Postings = append(tx.Postings, p)
	}
	if err := rows.Err(); err != nil {
		return Transaction{}, err
	}

	snapRows, err := s.db.Query(ctx, `SELECT wallet_id, balance, sequence
        FROM snapshots WHERE transaction_id = $1 ORDER BY idx`, id)
	if err != nil {
		return Transaction{}, err
	}
	defer snapRows.Close()
	for snapRows.Next() {
		var snap Snapshot
		var walletID uuid.UUID
		if err := snapRows.Scan(&walletID, &snap.Balance, &snap.Sequence); err != nil {
			return Transaction{}, err
		}
		snap.WalletID = walletID.String()
		tx.Snapshots = append(tx.Snapshots, snap)
	}
	return tx, snapRows.Err()
}

// List implements Store. Results are ordered by creation time; after is an
// exclusive transaction-id cursor.
func (s *PostgresStore) List(ctx context.Context, walletID string, limit int, after string) ([]Transaction, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT t.id FROM transactions t`
	var args []any
	var where string
	if walletID != "" {
		wid, err := uuid.Parse(walletID)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", ErrWalletNotFound, walletID)
		}
		args = append(args, wid)
		where = fmt.Sprintf(` WHERE EXISTS (SELECT 1 FROM snapshots s
            WHERE s.transaction_id = t.id AND s.wallet_id = $%d)`, len(args))
	}
	if after != "" {
		afterID, err := uuid.Parse(after)
		if err != nil {
			return nil, fmt.Errorf("%w: cursor %s", ErrTransactionNotFound, after)
		}
		args = append(args, afterID)
		clause := fmt.Sprintf(`(t.created_at, t.id) > (SELECT created_at, id FROM transactions WHERE id = $%d)`, len(args))
		if where == "" {
			where = " WHERE " + clause
		} else {
			where += " AND " + clause
		}
	}
	args = append(args, limit)
	query += where + fmt.Sprintf(" ORDER BY t.created_at, t.id LIMIT $%d", len(args))

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id.String())
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]Transaction, 0, len(ids))
	for _, id := range ids {
		tx, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, tx)
	}
	return out, nil
}

// MarkReversed implements Store.
func (s *PostgresStore) MarkReversed(ctx context.Context, id string) error {
	txID, err := uuid.Parse(id)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrTransactionNotFound, id)
	}
	tag, err := s.db.Exec(ctx, `UPDATE transactions SET status = $2 WHERE id = $1`,
		txID, string(TxReversed))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrTransactionNotFound, id)
	}
	return nil
}
