package repository

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"vendorpay/internal/apperr"
	"vendorpay/internal/model"
	"vendorpay/internal/testutil"
)

func TestTryTransitionOnlyOneWinner(t *testing.T) {
	db := testutil.NewDB(t)
	pkg := testutil.SeedPackage(t, db, "49.99", 30, 3)
	_, txn := testutil.SeedPending(t, db, pkg, 7, "VP1", "10001")
	repo := NewTransactionRepository(db)
	ctx := context.Background()

	var winners int32
	var wg sync.WaitGroup
	targets := []string{model.PaymentStatusCompleted, model.PaymentStatusFailed, model.PaymentStatusCancelled}
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func(to string) {
			defer wg.Done()
			changed, err := repo.TryTransition(ctx, nil, "VP1", model.PaymentStatusPending, to, TransitionUpdate{SettledBy: "test"})
			if err != nil {
				t.Errorf("try transition: %v", err)
				return
			}
			if changed {
				atomic.AddInt32(&winners, 1)
			}
		}(targets[i%len(targets)])
	}
	wg.Wait()

	if winners != 1 {
		t.Fatalf("expected exactly one winner, got %d", winners)
	}
	got, err := repo.FindByID(ctx, nil, txn.ID)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if !model.IsTerminal(got.PaymentStatus) || got.SettledBy != "test" || got.SettledAt == nil {
		t.Fatalf("unexpected settled row %+v", got)
	}
}

func TestTryTransitionRejectsTerminalSource(t *testing.T) {
	db := testutil.NewDB(t)
	repo := NewTransactionRepository(db)

	_, err := repo.TryTransition(context.Background(), nil, "VP1", model.PaymentStatusCompleted, model.PaymentStatusFailed, TransitionUpdate{})
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestTryTransitionBackfillsGatewayID(t *testing.T) {
	db := testutil.NewDB(t)
	pkg := testutil.SeedPackage(t, db, "10.00", 30, 3)
	testutil.SeedPending(t, db, pkg, 7, "VP1", "10001")
	repo := NewTransactionRepository(db)
	ctx := context.Background()

	changed, err := repo.TryTransition(ctx, nil, "VP1", model.PaymentStatusPending, model.PaymentStatusCompleted, TransitionUpdate{
		SettledBy:            model.SettledByWebhook,
		GatewayTransactionID: "42",
		GatewayPayload:       []byte(`{"id":42}`),
	})
	if err != nil || !changed {
		t.Fatalf("transition: changed=%v err=%v", changed, err)
	}
	got, err := repo.FindByOrderID(ctx, nil, "VP1")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if got.GatewayTransactionID == nil || *got.GatewayTransactionID != "42" {
		t.Fatalf("gateway id not backfilled: %+v", got.GatewayTransactionID)
	}
	if string(got.GatewayPayload) != `{"id":42}` {
		t.Fatalf("payload snapshot missing: %s", got.GatewayPayload)
	}
}

func TestMarkSuccessRedirectKeepsUpdatedAt(t *testing.T) {
	db := testutil.NewDB(t)
	pkg := testutil.SeedPackage(t, db, "10.00", 30, 3)
	_, txn := testutil.SeedPending(t, db, pkg, 7, "VP1", "10001")
	repo := NewTransactionRepository(db)
	ctx := context.Background()

	before, _ := repo.FindByID(ctx, nil, txn.ID)
	time.Sleep(10 * time.Millisecond)
	if err := repo.MarkSuccessRedirect(ctx, "VP1", time.Now()); err != nil {
		t.Fatalf("mark: %v", err)
	}
	after, _ := repo.FindByID(ctx, nil, txn.ID)

	if !after.Provisional() {
		t.Fatalf("expected provisional marker")
	}
	if !after.UpdatedAt.Equal(before.UpdatedAt) {
		t.Fatalf("updated_at changed: %v -> %v", before.UpdatedAt, after.UpdatedAt)
	}
}

func TestDeleteRefusesCompleted(t *testing.T) {
	db := testutil.NewDB(t)
	pkg := testutil.SeedPackage(t, db, "10.00", 30, 3)
	_, done := testutil.SeedPending(t, db, pkg, 7, "VP1", "10001")
	sub, open := testutil.SeedPending(t, db, pkg, 7, "VP2", "10002")
	repo := NewTransactionRepository(db)
	ctx := context.Background()

	if _, err := repo.TryTransition(ctx, nil, "VP1", model.PaymentStatusPending, model.PaymentStatusCompleted, TransitionUpdate{}); err != nil {
		t.Fatalf("complete: %v", err)
	}

	err := repo.Delete(ctx, done.ID)
	if !errors.Is(err, apperr.ErrImmutableRecord) {
		t.Fatalf("expected ErrImmutableRecord, got %v", err)
	}
	if _, err := repo.FindByID(ctx, nil, done.ID); err != nil {
		t.Fatalf("completed transaction must survive: %v", err)
	}

	if err := repo.Delete(ctx, open.ID); err != nil {
		t.Fatalf("delete pending: %v", err)
	}
	var subs int64
	db.Model(&model.Subscription{}).Where("id = ?", sub.ID).Count(&subs)
	if subs != 0 {
		t.Fatalf("orphaned inactive subscription must be removed")
	}

	if err := repo.Delete(ctx, 9999); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListQueries(t *testing.T) {
	db := testutil.NewDB(t)
	pkg := testutil.SeedPackage(t, db, "10.00", 30, 3)
	_, old := testutil.SeedPending(t, db, pkg, 7, "VP1", "10001")
	testutil.SeedPending(t, db, pkg, 7, "VP2", "10002")
	testutil.SeedPending(t, db, pkg, 8, "VP3", "10003")
	testutil.Backdate(t, db, old.ID, time.Hour)
	repo := NewTransactionRepository(db)
	ctx := context.Background()

	stale, err := repo.ListStalePending(ctx, time.Now().Add(-30*time.Minute), 10)
	if err != nil {
		t.Fatalf("stale: %v", err)
	}
	if len(stale) != 1 || stale[0].OrderID != "VP1" {
		t.Fatalf("unexpected stale list %v", stale)
	}

	mine, total, err := repo.ListForBuyer(ctx, 7, 1, 10)
	if err != nil {
		t.Fatalf("list for buyer: %v", err)
	}
	if total != 2 || len(mine) != 2 {
		t.Fatalf("expected 2 transactions for buyer 7, got %d/%d", len(mine), total)
	}

	if _, err := repo.TryTransition(ctx, nil, "VP3", model.PaymentStatusPending, model.PaymentStatusCompleted, TransitionUpdate{}); err != nil {
		t.Fatalf("complete: %v", err)
	}
	completed, total, err := repo.ListAll(ctx, TransactionFilter{Status: model.PaymentStatusCompleted}, 1, 10)
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if total != 1 || completed[0].OrderID != "VP3" {
		t.Fatalf("unexpected completed list %v", completed)
	}

	unactivated, err := repo.ListCompletedUnactivated(ctx, 10)
	if err != nil {
		t.Fatalf("unactivated: %v", err)
	}
	if len(unactivated) != 1 {
		t.Fatalf("expected one unactivated completed transaction, got %d", len(unactivated))
	}
	claimed, err := repo.ClaimActivation(ctx, nil, unactivated[0].ID, time.Now())
	if err != nil || !claimed {
		t.Fatalf("claim: claimed=%v err=%v", claimed, err)
	}
	claimed, err = repo.ClaimActivation(ctx, nil, unactivated[0].ID, time.Now())
	if err != nil || claimed {
		t.Fatalf("second claim must lose: claimed=%v err=%v", claimed, err)
	}
}
