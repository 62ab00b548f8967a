package clients

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/helanet/helanet/internal/testutil"
)

func TestPostgresStore(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	ctx := context.Background()

	pkg := &Package{
		ID:           "pkg_pg1",
		Name:         "Home 10",
		Speed:        "10 Mbps",
		MonthlyPrice: "1500.00",
	}
	if err := store.CreatePackage(ctx, pkg); err != nil {
		t.Fatalf("CreatePackage: %v", err)
	}

	now := time.Now()
	c := &Client{
		ID:            "cl_pg1",
		Name:          "Jane Wanjiru",
		Phone:         "254712345678",
		Status:        StatusPending,
		WalletBalance: "0.00",
		MonthlyRate:   "1500.00",
		PackageID:     "pkg_pg1",
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := store.Create(ctx, c); err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := store.Get(ctx, "cl_pg1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Phone != "254712345678" || got.WalletBalance != "0.00" {
		t.Errorf("got %+v", got)
	}

	if _, err := store.Get(ctx, "cl_nope"); !errors.Is(err, ErrClientNotFound) {
		t.Errorf("expected ErrClientNotFound, got %v", err)
	}

	// Wallet round trip through NUMERIC.
	if err := store.CreditWallet(ctx, "cl_pg1", "2000.50"); err != nil {
		t.Fatalf("CreditWallet: %v", err)
	}
	if err := store.DebitWallet(ctx, "cl_pg1", "1500.00"); err != nil {
		t.Fatalf("DebitWallet: %v", err)
	}
	got, _ = store.Get(ctx, "cl_pg1")
	if got.WalletBalance != "500.50" {
		t.Errorf("balance = %q, want 500.50", got.WalletBalance)
	}

	// Overdraft is rejected atomically.
	if err := store.DebitWallet(ctx, "cl_pg1", "99999.00"); !errors.Is(err, ErrInsufficientBalance) {
		t.Errorf("expected ErrInsufficientBalance, got %v", err)
	}

	// Status update and expiry listing.
	if err := store.UpdateStatus(ctx, "cl_pg1", StatusActive); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	end := time.Now().Add(6 * time.Hour)
	got.Status = StatusActive
	got.SubscriptionEnd = &end
	if err := store.Update(ctx, got); err != nil {
		t.Fatalf("Update: %v", err)
	}

	expiring, err := store.ListExpiring(ctx, time.Now().Add(24*time.Hour), 10)
	if err != nil {
		t.Fatalf("ListExpiring: %v", err)
	}
	if len(expiring) != 1 || expiring[0].ID != "cl_pg1" {
		t.Fatalf("expiring = %d rows", len(expiring))
	}

	// AdvanceSubscription writes status and end date only.
	newEnd := end.Add(30 * 24 * time.Hour)
	if err := store.AdvanceSubscription(ctx, "cl_pg1", StatusActive, newEnd); err != nil {
		t.Fatalf("AdvanceSubscription: %v", err)
	}
	got, _ = store.Get(ctx, "cl_pg1")
	if got.WalletBalance != "500.50" {
		t.Errorf("balance = %q, want 500.50 untouched", got.WalletBalance)
	}
	if got.SubscriptionEnd == nil || got.SubscriptionEnd.Sub(newEnd).Abs() > time.Second {
		t.Errorf("subscriptionEnd = %v, want %v", got.SubscriptionEnd, newEnd)
	}
	if err := store.AdvanceSubscription(ctx, "cl_nope", StatusActive, newEnd); !errors.Is(err, ErrClientNotFound) {
		t.Errorf("expected ErrClientNotFound, got %v", err)
	}
}
