package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"vendorpay/internal/config"
	"vendorpay/internal/gateway"
	"vendorpay/internal/model"
	"vendorpay/internal/testutil"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const testSecret = "webhook-secret"

type stubGateway struct {
	mu        sync.Mutex
	createErr error
	queryErr  error
	states    map[string]*gateway.OrderState
	requests  []gateway.SessionRequest
}

func newStubGateway() *stubGateway {
	return &stubGateway{states: make(map[string]*gateway.OrderState)}
}

func (g *stubGateway) Name() string { return "quickpay" }

func (g *stubGateway) CreateSession(_ context.Context, req gateway.SessionRequest) (*gateway.Session, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.requests = append(g.requests, req)
	if g.createErr != nil {
		return nil, g.createErr
	}
	return &gateway.Session{
		PaymentURL:       "https://pay.test/" + req.OrderID,
		OrderID:          req.OrderID,
		GatewayPaymentID: "100",
	}, nil
}

func (g *stubGateway) QueryOrder(_ context.Context, orderID string) (*gateway.OrderState, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.queryErr != nil {
		return nil, g.queryErr
	}
	if state, ok := g.states[orderID]; ok {
		return state, nil
	}
	return &gateway.OrderState{Status: gateway.StatusUnknown}, nil
}

func (g *stubGateway) setState(orderID string, status gateway.Status, amount int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	raw := map[gateway.Status]string{
		gateway.StatusAccepted: "accepted",
		gateway.StatusRejected: "rejected",
		gateway.StatusUnknown:  "new",
	}[status]
	g.states[orderID] = &gateway.OrderState{
		GatewayTransactionID: "900",
		RawStatus:            raw,
		Status:               status,
		Amount:               decimal.NewFromInt(amount),
	}
}

type testEnv struct {
	svc *PaymentService
	db  *gorm.DB
	gw  *stubGateway
	mr  *miniredis.Miniredis
	pkg *model.Package
}

func testConfig() *config.Config {
	return &config.Config{
		Kafka: config.KafkaConfig{
			Topic: config.KafkaTopicConfig{
				PaymentSettled:        "payment.settled",
				SubscriptionActivated: "subscription.activated",
			},
		},
		Gateway: config.GatewayConfig{
			Currency:    "USD",
			ContinueURL: "https://api.test/transactions/payment-success",
			CancelURL:   "https://api.test/transactions/payment-cancel",
			CallbackURL: "https://api.test/transactions/webhook",
		},
		Redirect: config.RedirectConfig{
			SuccessURL: "https://web.test/success",
			PendingURL: "https://web.test/pending",
			CancelURL:  "https://web.test/cancel",
			FailedURL:  "https://web.test/failed",
			ErrorURL:   "https://web.test/error",
		},
		Business: config.BusinessConfig{ReplayTTL: time.Hour},
	}
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db := testutil.NewDB(t)
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	verifier, err := gateway.NewVerifier(testSecret)
	if err != nil {
		t.Fatalf("verifier: %v", err)
	}
	gw := newStubGateway()
	svc := NewPaymentService(Dependencies{
		DB:       db,
		Redis:    rdb,
		Gateway:  gw,
		Verifier: verifier,
		Config:   testConfig(),
		Log:      zap.NewNop(),
	})

	return &testEnv{
		svc: svc,
		db:  db,
		gw:  gw,
		mr:  mr,
		pkg: testutil.SeedPackage(t, db, "49.99", 30, 3),
	}
}

func (e *testEnv) createSession(t *testing.T, buyerID int64, zips ...string) *CreateSessionResult {
	t.Helper()

	res, err := e.svc.CreatePaymentSession(context.Background(), CreateSessionInput{
		BuyerID:   buyerID,
		PackageID: e.pkg.ID,
		ZipCodes:  zips,
	})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	return res
}

func (e *testEnv) transaction(t *testing.T, orderID string) *model.Transaction {
	t.Helper()

	var txn model.Transaction
	if err := e.db.Where("order_id = ?", orderID).First(&txn).Error; err != nil {
		t.Fatalf("load transaction %s: %v", orderID, err)
	}
	return &txn
}

func (e *testEnv) subscription(t *testing.T, id uint64) *model.Subscription {
	t.Helper()

	var sub model.Subscription
	if err := e.db.Where("id = ?", id).First(&sub).Error; err != nil {
		t.Fatalf("load subscription %d: %v", id, err)
	}
	return &sub
}

func (e *testEnv) outboxCount(t *testing.T, topic, key string) int64 {
	t.Helper()

	var count int64
	err := e.db.Model(&model.OutboxMessage{}).
		Where("topic = ? AND message_key = ?", topic, key).
		Count(&count).Error
	if err != nil {
		t.Fatalf("count outbox: %v", err)
	}
	return count
}

func acceptedBody(orderID string, amount int64) []byte {
	return []byte(fmt.Sprintf(`{"id":555,"order_id":%q,"accepted":true,"state":"processed","amount":%d}`, orderID, amount))
}

func signed(body []byte) string {
	return gateway.Sign(body, testSecret)
}
