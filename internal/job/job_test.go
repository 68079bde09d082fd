package job

import (
	"context"
	"errors"
	"testing"
	"time"

	"vendorpay/internal/config"
	"vendorpay/internal/gateway"
	"vendorpay/internal/infrastructure/mq"
	"vendorpay/internal/model"
	"vendorpay/internal/repository"
	"vendorpay/internal/service"
	"vendorpay/internal/testutil"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type flakyPublisher struct {
	fail      bool
	published []string
}

func (p *flakyPublisher) Publish(topic, key, value string) error {
	if p.fail {
		return errors.New("broker down")
	}
	p.published = append(p.published, topic+"/"+key)
	return nil
}

func (p *flakyPublisher) Close() error { return nil }

func seedOutbox(t *testing.T, db *gorm.DB, key string) *model.OutboxMessage {
	t.Helper()

	msg, err := model.NewOutboxMessage("payment.settled", key, map[string]string{"order_id": key})
	if err != nil {
		t.Fatalf("new outbox message: %v", err)
	}
	if err := repository.NewOutboxRepository(db).Create(context.Background(), nil, msg); err != nil {
		t.Fatalf("create outbox message: %v", err)
	}
	return msg
}

func loadOutbox(t *testing.T, db *gorm.DB, id int64) *model.OutboxMessage {
	t.Helper()

	var msg model.OutboxMessage
	if err := db.First(&msg, id).Error; err != nil {
		t.Fatalf("load outbox message: %v", err)
	}
	return &msg
}

func TestOutboxSenderRetriesThenFails(t *testing.T) {
	db := testutil.NewDB(t)
	msg := seedOutbox(t, db, "VP1")
	pub := &flakyPublisher{fail: true}
	sender := NewOutboxSender(db, pub, 2, zap.NewNop())
	ctx := context.Background()

	if n := sender.RunOnce(ctx); n != 0 {
		t.Fatalf("expected nothing sent, got %d", n)
	}
	got := loadOutbox(t, db, msg.ID)
	if got.Status != model.OutboxStatusPending || got.RetryCount != 1 {
		t.Fatalf("unexpected after first failure: %+v", got)
	}

	sender.RunOnce(ctx)
	got = loadOutbox(t, db, msg.ID)
	if got.Status != model.OutboxStatusFailed {
		t.Fatalf("expected FAILED after max retries, got %+v", got)
	}

	// 运维重新入队后恢复发送
	requeued, err := repository.NewOutboxRepository(db).RequeueFailed(ctx)
	if err != nil || requeued != 1 {
		t.Fatalf("requeue: %d %v", requeued, err)
	}
	pub.fail = false
	if n := sender.RunOnce(ctx); n != 1 {
		t.Fatalf("expected one message sent, got %d", n)
	}
	if got := loadOutbox(t, db, msg.ID); got.Status != model.OutboxStatusSent {
		t.Fatalf("expected SENT, got %s", got.Status)
	}
}

func TestOutboxSenderWithSaramaProducer(t *testing.T) {
	db := testutil.NewDB(t)
	seedOutbox(t, db, "VP1")
	seedOutbox(t, db, "VP2")

	mockProducer := mocks.NewSyncProducer(t, mq.NewSaramaConfig())
	mockProducer.ExpectSendMessageAndSucceed()
	mockProducer.ExpectSendMessageAndFail(sarama.ErrNotLeaderForPartition)

	pub := mq.NewProducer(mockProducer, zap.NewNop())
	defer func() { _ = pub.Close() }()

	sender := NewOutboxSender(db, pub, 5, zap.NewNop())
	if n := sender.RunOnce(context.Background()); n != 1 {
		t.Fatalf("expected one message sent, got %d", n)
	}

	var pending int64
	db.Model(&model.OutboxMessage{}).Where("status = ?", model.OutboxStatusPending).Count(&pending)
	if pending != 1 {
		t.Fatalf("expected failed message to stay pending for retry, got %d", pending)
	}
}

func TestOutboxSenderStopsOnContextCancel(t *testing.T) {
	db := testutil.NewDB(t)
	sender := NewOutboxSender(db, &flakyPublisher{}, 3, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sender.Start(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("sender did not stop")
	}
}

type queryGateway struct {
	states map[string]*gateway.OrderState
}

func (g *queryGateway) Name() string { return "quickpay" }

func (g *queryGateway) CreateSession(_ context.Context, req gateway.SessionRequest) (*gateway.Session, error) {
	return &gateway.Session{PaymentURL: "https://pay.test/" + req.OrderID, OrderID: req.OrderID}, nil
}

func (g *queryGateway) QueryOrder(_ context.Context, orderID string) (*gateway.OrderState, error) {
	if s, ok := g.states[orderID]; ok {
		return s, nil
	}
	return &gateway.OrderState{Status: gateway.StatusUnknown}, nil
}

type nopVerifier struct{}

func (nopVerifier) Verify([]byte, string) bool { return false }

func newPaymentService(db *gorm.DB, gw service.PaymentGateway) *service.PaymentService {
	return service.NewPaymentService(service.Dependencies{
		DB:       db,
		Gateway:  gw,
		Verifier: nopVerifier{},
		Config: &config.Config{Kafka: config.KafkaConfig{Topic: config.KafkaTopicConfig{
			PaymentSettled:        "payment.settled",
			SubscriptionActivated: "subscription.activated",
		}}},
		Log: zap.NewNop(),
	})
}

func TestPendingReconcileJob(t *testing.T) {
	db := testutil.NewDB(t)
	pkg := testutil.SeedPackage(t, db, "20.00", 30, 3)
	_, paid := testutil.SeedPending(t, db, pkg, 7, "VPPAID", "10001")
	_, abandoned := testutil.SeedPending(t, db, pkg, 7, "VPGONE", "10002")
	_, fresh := testutil.SeedPending(t, db, pkg, 7, "VPNEW", "10003")
	testutil.Backdate(t, db, paid.ID, 30*time.Minute)
	testutil.Backdate(t, db, abandoned.ID, 48*time.Hour)

	gw := &queryGateway{states: map[string]*gateway.OrderState{
		"VPPAID": {GatewayTransactionID: "1", RawStatus: "accepted", Status: gateway.StatusAccepted, Amount: decimal.NewFromInt(2000)},
	}}
	job := NewPendingReconcileJob(db, newPaymentService(db, gw), &config.BusinessConfig{
		ReconcileInterval:       time.Minute,
		PendingReconcileMinutes: 10,
		PendingExpireMinutes:    24 * 60,
	}, zap.NewNop())

	if n := job.RunOnce(context.Background()); n != 2 {
		t.Fatalf("expected two settlements, got %d", n)
	}

	repo := repository.NewTransactionRepository(db)
	statuses := map[uint64]string{
		paid.ID:      model.PaymentStatusCompleted,
		abandoned.ID: model.PaymentStatusCancelled,
		fresh.ID:     model.PaymentStatusPending,
	}
	for id, want := range statuses {
		txn, err := repo.FindByID(context.Background(), nil, id)
		if err != nil {
			t.Fatalf("find %d: %v", id, err)
		}
		if txn.PaymentStatus != want {
			t.Fatalf("transaction %s: status %s, want %s", txn.OrderID, txn.PaymentStatus, want)
		}
	}
}

func TestActivationSweepJob(t *testing.T) {
	db := testutil.NewDB(t)
	pkg := testutil.SeedPackage(t, db, "20.00", 30, 3)
	testutil.SeedPending(t, db, pkg, 7, "VPDONE", "10001")
	repo := repository.NewTransactionRepository(db)
	if _, err := repo.TryTransition(context.Background(), nil, "VPDONE", model.PaymentStatusPending, model.PaymentStatusCompleted, repository.TransitionUpdate{}); err != nil {
		t.Fatalf("transition: %v", err)
	}

	payments := newPaymentService(db, &queryGateway{})
	job := NewActivationSweepJob(payments.Activator(), time.Minute, zap.NewNop())
	if n := job.RunOnce(context.Background()); n != 1 {
		t.Fatalf("expected one activation, got %d", n)
	}
	if n := job.RunOnce(context.Background()); n != 0 {
		t.Fatalf("expected second run to be a no-op, got %d", n)
	}
}
