package repository

import (
	"context"
	"testing"
	"time"

	"vendorpay/internal/model"
	"vendorpay/internal/testutil"
)

func TestCoverageUpsertAndConflicts(t *testing.T) {
	db := testutil.NewDB(t)
	repo := NewCoverageRepository(db)
	ctx := context.Background()
	now := time.Now()

	first := []*model.ZipCodeCoverage{
		{BuyerID: 7, SubscriptionID: 1, ZipCode: "10001", TransactionID: 1, StartsAt: now, ExpiresAt: now.Add(time.Hour)},
		{BuyerID: 7, SubscriptionID: 1, ZipCode: "10002", TransactionID: 1, StartsAt: now, ExpiresAt: now.Add(time.Hour)},
	}
	if err := repo.Upsert(ctx, nil, first); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	extended := now.Add(48 * time.Hour)
	renewal := []*model.ZipCodeCoverage{
		{BuyerID: 7, SubscriptionID: 1, ZipCode: "10001", TransactionID: 2, StartsAt: now, ExpiresAt: extended},
	}
	if err := repo.Upsert(ctx, nil, renewal); err != nil {
		t.Fatalf("upsert renewal: %v", err)
	}

	rows, err := repo.ListBySubscription(ctx, 1)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 coverage rows, got %d", len(rows))
	}
	if rows[0].TransactionID != 2 || !rows[0].ExpiresAt.Equal(extended) {
		t.Fatalf("renewal did not refresh coverage: %+v", rows[0])
	}

	conflicts, err := repo.FindActiveConflicts(ctx, 7, []string{"10002", "10009"}, now, 0)
	if err != nil {
		t.Fatalf("conflicts: %v", err)
	}
	if len(conflicts) != 1 || conflicts[0].ZipCode != "10002" {
		t.Fatalf("unexpected conflicts %v", conflicts)
	}

	conflicts, err = repo.FindActiveConflicts(ctx, 7, []string{"10002"}, now, 1)
	if err != nil {
		t.Fatalf("conflicts excluding renewal: %v", err)
	}
	if len(conflicts) != 0 {
		t.Fatalf("renewed subscription must not conflict with itself")
	}
}
