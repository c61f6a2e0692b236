package agent

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresDirectory stores the agent name -> wallet mapping in PostgreSQL.
type PostgresDirectory struct {
	db *pgxpool.Pool
}

// NewPostgresDirectory builds a directory backed by PostgreSQL.
func NewPostgresDirectory(db *pgxpool.Pool) *PostgresDirectory {
	return &PostgresDirectory{db: db}
}

// EnsureSchema creates the agents table when it does not exist yet.
func (d *PostgresDirectory) EnsureSchema(ctx context.Context) error {
	_, err := d.db.Exec(ctx, `CREATE TABLE IF NOT EXISTS agents (
        name TEXT PRIMARY KEY,
        wallet_id UUID NOT NULL,
        created_at TIMESTAMPTZ NOT NULL
    )`)
	return err
}

// Register implements Directory.
func (d *PostgresDirectory) Register(ctx context.Context, a Agent) error {
	walletID, err := uuid.Parse(a.WalletID)
	if err != nil {
		return fmt.Errorf("parse wallet id: %w", err)
	}
	_, err = d.db.Exec(ctx, `INSERT INTO agents (name, wallet_id, created_at) VALUES ($1, $2, $3)`,
		a.Name, walletID, a.CreatedAt.UTC())
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("%w: %s", ErrAgentExists, a.Name)
	}
	return err
}

// Lookup implements Directory.
func (d *PostgresDirectory) Lookup(ctx context.Context, name string) (Agent, error) {
	row := d.db.QueryRow(ctx, `SELECT name, wallet_id, created_at FROM agents WHERE name = $1`, name)
	var a Agent
	var walletID uuid.UUID
	if err := row.Scan(&a.Name, &walletID, &a.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Agent{}, fmt.Errorf("%w: %s", ErrAgentNotFound, name)
		}
		return Agent{}, err
	}
	a.WalletID = walletID.String()
	a.CreatedAt = a.CreatedAt.UTC()
	return a, nil
}
