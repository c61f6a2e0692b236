package agent

import (
	"context"
	"errors"
	"testing"

	"github.com/nanda-points/nanda_points/internal/ledger"
)

func TestRegisterProvisionsWallet(t *testing.T) {
	store := ledger.NewMemoryStore()
	svc := NewService(NewMemoryDirectory(), store)
	ctx := context.Background()

	a, err := svc.Register(ctx, "claude-desktop")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if a.WalletID == "" {
		t.Fatal("expected wallet to be provisioned")
	}

	w, err := store.GetWallet(ctx, a.WalletID)
	if err != nil {
		t.Fatalf("wallet missing: %v", err)
	}
	if w.Status != ledger.WalletActive || w.AgentID != "claude-desktop" {
		t.Fatalf("unexpected wallet: %+v", w)
	}

	got, err := svc.Lookup(ctx, "claude-desktop")
	if err != nil || got.WalletID != a.WalletID {
		t.Fatalf("lookup mismatch: %+v err=%v", got, err)
	}
}

func TestRegisterDuplicateName(t *testing.T) {
	svc := NewService(NewMemoryDirectory(), ledger.NewMemoryStore())
	ctx := context.Background()

	if _, err := svc.Register(ctx, "bob"); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := svc.Register(ctx, "bob"); !errors.Is(err, ErrAgentExists) {
		t.Fatalf("expected duplicate error, got %v", err)
	}
}

func TestLookupUnknownAgent(t *testing.T) {
	svc := NewService(NewMemoryDirectory(), ledger.NewMemoryStore())
	if _, err := svc.Lookup(context.Background(), "ghost"); !errors.Is(err, ErrAgentNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
