package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nanda-points/nanda_points/internal/ledger"
)

var (
	// ErrAgentNotFound indicates no agent is registered under the name.
	ErrAgentNotFound = errors.New("agent not found")
	// ErrAgentExists indicates the name is already taken.
	ErrAgentExists = errors.New("agent already exists")
)

// Agent maps a payment-addressable name to its wallet.
type Agent struct {
	Name      string    `json:"name"`
	WalletID  string    `json:"walletId"`
	CreatedAt time.Time `json:"createdAt"`
}

// Directory resolves agent names for the facilitator. Profile CRUD beyond
// name -> wallet lives outside this service.
type Directory interface {
	Register(ctx context.Context, a Agent) error
	Lookup(ctx context.Context, name string) (Agent, error)
}

// Service provisions agents together with their wallets.
type Service struct {
	directory Directory
	store     ledger.Store
}

// NewService builds an agent service backed by the given directory and ledger store.
func NewService(directory Directory, store ledger.Store) *Service {
	return &Service{directory: directory, store: store}
}

// Register creates a wallet for the named agent and records the mapping.
func (s *Service) Register(ctx context.Context, name string) (Agent, error) {
	if name == "" {
		return Agent{}, fmt.Errorf("agent name is required")
	}
	if _, err := s.directory.Lookup(ctx, name); err == nil {
		return Agent{}, fmt.Errorf("%w: %s", ErrAgentExists, name)
	}

	wallet := ledger.Wallet{
		ID:        uuid.NewString(),
		AgentID:   name,
		Status:    ledger.WalletActive,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.CreateWallet(ctx, wallet); err != nil {
		return Agent{}, fmt.Errorf("provision wallet: %w", err)
	}

	a := Agent{Name: name, WalletID: wallet.ID, CreatedAt: wallet.CreatedAt}
	if err := s.directory.Register(ctx, a); err != nil {
		return Agent{}, err
	}
	return a, nil
}

// Lookup resolves an agent by name.
func (s *Service) Lookup(ctx context.Context, name string) (Agent, error) {
	return s.directory.Lookup(ctx, name)
}
