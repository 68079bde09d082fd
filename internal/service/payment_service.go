package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"vendorpay/internal/apperr"
	"vendorpay/internal/config"
	"vendorpay/internal/gateway"
	"vendorpay/internal/infrastructure/cache"
	"vendorpay/internal/infrastructure/lock"
	"vendorpay/internal/model"
	"vendorpay/internal/repository"
	"vendorpay/pkg/idgen"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// PaymentService 支付交易生命周期的编排者
//
// 所有状态流转都经由 settle -> TransactionRepository.TryTransition，
// 只有条件更新真正改变了行的那次调用才会写事件、激活订阅
type PaymentService struct {
	db         *gorm.DB
	redis      *redis.Client
	gateway    PaymentGateway
	verifier   SignatureVerifier
	activator  *Activator
	replay     *cache.ReplayGuard
	txnRepo    *repository.TransactionRepository
	subRepo    *repository.SubscriptionRepository
	pkgRepo    *repository.PackageRepository
	outboxRepo *repository.OutboxRepository
	cfg        *config.Config
	log        *zap.Logger
	now        func() time.Time
}

func NewPaymentService(deps Dependencies) *PaymentService {
	s := &PaymentService{
		db:         deps.DB,
		redis:      deps.Redis,
		gateway:    deps.Gateway,
		verifier:   deps.Verifier,
		activator:  NewActivator(deps.DB, deps.Config, deps.Log),
		txnRepo:    repository.NewTransactionRepository(deps.DB),
		subRepo:    repository.NewSubscriptionRepository(deps.DB),
		pkgRepo:    repository.NewPackageRepository(deps.DB),
		outboxRepo: repository.NewOutboxRepository(deps.DB),
		cfg:        deps.Config,
		log:        deps.Log,
		now:        time.Now,
	}
	if deps.Redis != nil {
		s.replay = cache.NewReplayGuard(deps.Redis, deps.Config.Business.ReplayTTL)
	}
	return s
}

func (s *PaymentService) Activator() *Activator {
	return s.activator
}

type CreateSessionInput struct {
	BuyerID        int64
	PackageID      uint64
	ZipCodes       []string
	SubscriptionID uint64 // 非零表示续费
}

type CreateSessionResult struct {
	PaymentURL    string `json:"paymentUrl"`
	TransactionID uint64 `json:"transactionId"`
	OrderID       string `json:"orderId"`
}

// SettleResult 一次结算尝试之后交易的状态
type SettleResult struct {
	OrderID       string `json:"order_id"`
	TransactionID uint64 `json:"transaction_id"`
	Status        string `json:"status"`
	Changed       bool   `json:"changed"`
	Provisional   bool   `json:"provisional,omitempty"`
	Replayed      bool   `json:"replayed,omitempty"`
	Anomaly       bool   `json:"anomaly,omitempty"`
}

func resultFor(txn *model.Transaction, changed bool) *SettleResult {
	return &SettleResult{
		OrderID:       txn.OrderID,
		TransactionID: txn.ID,
		Status:        txn.PaymentStatus,
		Changed:       changed,
		Provisional:   txn.Provisional(),
	}
}

// CreatePaymentSession 创建订阅、待支付交易并向网关申请支付链接
// 三者在同一个数据库事务里，网关失败时全部回滚，不留孤儿记录
func (s *PaymentService) CreatePaymentSession(ctx context.Context, in CreateSessionInput) (*CreateSessionResult, error) {
	if in.BuyerID <= 0 {
		return nil, fmt.Errorf("%w: 买家身份缺失", apperr.ErrValidation)
	}

	pkg, err := s.pkgRepo.FindByID(ctx, nil, in.PackageID)
	if err != nil {
		return nil, fmt.Errorf("查询套餐失败: %w", err)
	}
	if err := gateway.ValidatePackage(pkg); err != nil {
		return nil, err
	}

	var renewing *model.Subscription
	requested := in.ZipCodes
	if in.SubscriptionID != 0 {
		renewing, err = s.subRepo.FindByID(ctx, nil, in.SubscriptionID)
		if err != nil {
			return nil, err
		}
		if renewing.BuyerID != in.BuyerID {
			return nil, fmt.Errorf("%w: 订阅 %d 不属于当前买家", apperr.ErrForbidden, renewing.ID)
		}
		if renewing.PackageID != pkg.ID {
			return nil, fmt.Errorf("%w: 续费套餐与原订阅不一致", gateway.ErrInvalidPackage)
		}
		// 续费沿用原订阅的邮编
		requested, err = renewing.ZipCodeList()
		if err != nil {
			return nil, fmt.Errorf("解析订阅邮编失败: %w", err)
		}
	}

	zips, err := gateway.NormalizeZipCodes(requested, pkg.MaxZipCodes)
	if err != nil {
		return nil, err
	}
	if err := s.activator.PreCheck(ctx, in.BuyerID, zips, in.SubscriptionID); err != nil {
		return nil, err
	}

	currency := pkg.Currency
	if currency == "" {
		currency = s.cfg.Gateway.Currency
	}
	orderID := idgen.GenerateOrderID()

	var result *CreateSessionResult
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		sub := renewing
		if sub == nil {
			sub = &model.Subscription{
				BuyerID:   in.BuyerID,
				PackageID: pkg.ID,
				Status:    model.SubscriptionStatusInactive,
			}
			if err := sub.SetZipCodes(zips); err != nil {
				return err
			}
			if err := s.subRepo.Create(ctx, tx, sub); err != nil {
				return fmt.Errorf("创建订阅失败: %w", err)
			}
		}

		txn := &model.Transaction{
			OrderID:            orderID,
			Amount:             pkg.Price,
			Currency:           currency,
			PaymentMethod:      s.gateway.Name(),
			PaymentStatus:      model.PaymentStatusPending,
			SubscribePackageID: sub.ID,
			BuyerID:            in.BuyerID,
		}
		if err := s.txnRepo.Create(ctx, tx, txn); err != nil {
			return fmt.Errorf("创建交易失败: %w", err)
		}

		session, err := s.gateway.CreateSession(ctx, gateway.SessionRequest{
			OrderID:  orderID,
			Amount:   pkg.Price,
			Currency: currency,
			Package:  pkg,
			ZipCodes: zips,
			URLs: gateway.CallbackURLs{
				ContinueURL: withOrderID(s.cfg.Gateway.ContinueURL, orderID),
				CancelURL:   withOrderID(s.cfg.Gateway.CancelURL, orderID),
				CallbackURL: s.cfg.Gateway.CallbackURL,
			},
		})
		if err != nil {
			return err
		}

		result = &CreateSessionResult{
			PaymentURL:    session.PaymentURL,
			TransactionID: txn.ID,
			OrderID:       orderID,
		}
		return nil
	})
	if err != nil {
		s.log.Warn("创建支付会话失败",
			zap.Int64("buyer_id", in.BuyerID),
			zap.Uint64("package_id", in.PackageID),
			zap.Error(err),
		)
		return nil, err
	}

	s.log.Info("支付会话已创建",
		zap.String("order_id", result.OrderID),
		zap.Int64("buyer_id", in.BuyerID),
		zap.String("amount", pkg.Price.String()),
	)
	return result, nil
}

// HandleWebhook 处理网关异步通知，签名校验在解析之前
func (s *PaymentService) HandleWebhook(ctx context.Context, rawBody []byte, signature string) (*SettleResult, error) {
	if !s.verifier.Verify(rawBody, signature) {
		s.log.Warn("webhook 签名校验失败", zap.Int("body_size", len(rawBody)))
		return nil, apperr.ErrSignatureInvalid
	}

	fingerprint := cache.Fingerprint(rawBody)
	if s.replay != nil {
		orderID, err := s.replay.Lookup(ctx, fingerprint)
		if err != nil {
			s.log.Warn("查询重放记录失败", zap.Error(err))
		} else if orderID != "" {
			txn, err := s.txnRepo.FindByOrderID(ctx, nil, orderID)
			if err == nil {
				result := resultFor(txn, false)
				result.Replayed = true
				return result, nil
			}
		}
	}

	event, err := gateway.ParseWebhook(rawBody)
	if err != nil {
		return nil, err
	}

	txn, err := s.txnRepo.FindByOrderID(ctx, nil, event.OrderID)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			s.log.Error("webhook 对应的订单不存在",
				zap.String("order_id", event.OrderID),
				zap.String("gateway_transaction_id", event.GatewayTransactionID),
			)
			return nil, fmt.Errorf("%w: %w", apperr.ErrIntegrityAnomaly, err)
		}
		return nil, err
	}

	result, err := s.applyGatewayOutcome(ctx, txn, gatewayOutcome{
		status:    event.Status(),
		rawStatus: event.RawStatus,
		gatewayID: event.GatewayTransactionID,
		amount:    event.Amount,
		hasAmount: event.HasAmount,
		actor:     model.SettledByWebhook,
		payload:   rawBody,
	})
	if errors.Is(err, apperr.ErrIntegrityAnomaly) {
		// 已记录待人工核查，应答 200 让网关停止重试，交易保持不变
		result, err = resultFor(txn, false), nil
		result.Anomaly = true
	}
	if err != nil {
		return nil, err
	}

	if s.replay != nil {
		if err := s.replay.Remember(ctx, fingerprint, txn.OrderID); err != nil {
			s.log.Warn("写入重放记录失败", zap.Error(err))
		}
	}
	return result, nil
}

type gatewayOutcome struct {
	status    gateway.Status
	rawStatus string
	gatewayID string
	amount    decimal.Decimal
	hasAmount bool
	actor     string
	payload   []byte
}

// applyGatewayOutcome webhook、成功回跳与对账任务共用的判定逻辑
func (s *PaymentService) applyGatewayOutcome(ctx context.Context, txn *model.Transaction, o gatewayOutcome) (*SettleResult, error) {
	if model.IsTerminal(txn.PaymentStatus) {
		if o.status == gateway.StatusAccepted && txn.PaymentStatus != model.PaymentStatusCompleted {
			s.log.Error("已结算订单收到网关支付成功通知，需人工核查",
				zap.String("order_id", txn.OrderID),
				zap.String("status", txn.PaymentStatus),
				zap.String("actor", o.actor),
			)
		}
		return resultFor(txn, false), nil
	}

	switch o.status {
	case gateway.StatusAccepted:
		if o.hasAmount && !gateway.AmountMatches(txn.Amount, o.amount) {
			s.log.Error("网关金额与本地不一致",
				zap.String("order_id", txn.OrderID),
				zap.String("expected", txn.Amount.String()),
				zap.String("reported", o.amount.String()),
				zap.String("actor", o.actor),
			)
			return nil, fmt.Errorf("%w: 订单 %s 金额不一致", apperr.ErrIntegrityAnomaly, txn.OrderID)
		}
		return s.settle(ctx, txn, model.PaymentStatusCompleted, o.actor, o.gatewayID, o.payload)
	case gateway.StatusRejected:
		return s.settle(ctx, txn, model.PaymentStatusFailed, o.actor, o.gatewayID, o.payload)
	default:
		s.log.Warn("无法识别的网关状态，保持待支付等待人工核查",
			zap.String("order_id", txn.OrderID),
			zap.String("raw_status", o.rawStatus),
			zap.String("actor", o.actor),
		)
		return resultFor(txn, false), nil
	}
}

// settle 条件更新 + 事件 + 激活，在同一个数据库事务里完成
func (s *PaymentService) settle(ctx context.Context, txn *model.Transaction, toStatus, actor, gatewayID string, payload []byte) (*SettleResult, error) {
	var result *SettleResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		changed, err := s.txnRepo.TryTransition(ctx, tx, txn.OrderID, model.PaymentStatusPending, toStatus, repository.TransitionUpdate{
			SettledBy:            actor,
			GatewayTransactionID: gatewayID,
			GatewayPayload:       payload,
		})
		if err != nil {
			return err
		}

		current, err := s.txnRepo.FindByOrderID(ctx, tx, txn.OrderID)
		if err != nil {
			return err
		}
		result = resultFor(current, changed)
		if !changed {
			return nil
		}

		msg, err := model.NewOutboxMessage(s.cfg.Kafka.Topic.PaymentSettled, current.OrderID, model.PaymentSettledEvent{
			OrderID:              current.OrderID,
			TransactionID:        current.ID,
			BuyerID:              current.BuyerID,
			Amount:               current.Amount.String(),
			Currency:             current.Currency,
			Status:               current.PaymentStatus,
			SettledBy:            actor,
			GatewayTransactionID: current.GatewayTransactionID,
			SettledAt:            s.now().Format(time.RFC3339),
		})
		if err != nil {
			return err
		}
		if err := s.outboxRepo.Create(ctx, tx, msg); err != nil {
			return fmt.Errorf("写入消息失败: %w", err)
		}

		if toStatus == model.PaymentStatusCompleted {
			if _, err := s.activator.Activate(ctx, tx, current.ID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if result.Changed {
		s.log.Info("交易已结算",
			zap.String("order_id", result.OrderID),
			zap.String("status", result.Status),
			zap.String("actor", actor),
		)
	}
	return result, nil
}

// ConfirmPaymentSuccess 买家从成功页返回
//
// 回跳本身不能证明已支付：先向网关查询，查到已受理才完成；
// 查不到或网关不可用时只打上 success_redirect_at 标记，等 webhook 或对账任务确认
func (s *PaymentService) ConfirmPaymentSuccess(ctx context.Context, orderID string) (*SettleResult, error) {
	if orderID == "" {
		return nil, fmt.Errorf("%w: 缺少 order_id", apperr.ErrValidation)
	}
	txn, err := s.txnRepo.FindByOrderID(ctx, nil, orderID)
	if err != nil {
		return nil, err
	}
	if model.IsTerminal(txn.PaymentStatus) {
		return resultFor(txn, false), nil
	}

	if s.redis != nil {
		settleLock := lock.NewSettleLock(s.redis, orderID, uuid.NewString())
		locked, err := settleLock.TryLock(ctx)
		switch {
		case err != nil:
			s.log.Warn("获取结算锁失败，按无锁继续", zap.String("order_id", orderID), zap.Error(err))
		case !locked:
			// 另一个请求正在查询同一订单
			return s.markProvisional(ctx, txn)
		default:
			defer func() {
				if err := settleLock.Unlock(context.WithoutCancel(ctx)); err != nil {
					s.log.Warn("释放结算锁失败", zap.String("order_id", orderID), zap.Error(err))
				}
			}()
		}
	}

	state, err := s.gateway.QueryOrder(ctx, orderID)
	if err != nil {
		s.log.Warn("成功回跳时查询网关失败", zap.String("order_id", orderID), zap.Error(err))
		return s.markProvisional(ctx, txn)
	}
	if state.Status == gateway.StatusUnknown {
		return s.markProvisional(ctx, txn)
	}

	result, err := s.applyGatewayOutcome(ctx, txn, s.queryOutcome(state, model.SettledByRedirect))
	if errors.Is(err, apperr.ErrIntegrityAnomaly) {
		return s.markProvisional(ctx, txn)
	}
	return result, err
}

func (s *PaymentService) queryOutcome(state *gateway.OrderState, actor string) gatewayOutcome {
	payload, _ := json.Marshal(map[string]string{
		"source":                 actor,
		"gateway_transaction_id": state.GatewayTransactionID,
		"state":                  state.RawStatus,
		"amount":                 state.Amount.String(),
	})
	return gatewayOutcome{
		status:    state.Status,
		rawStatus: state.RawStatus,
		gatewayID: state.GatewayTransactionID,
		amount:    state.Amount,
		hasAmount: !state.Amount.IsZero(),
		actor:     actor,
		payload:   payload,
	}
}

func (s *PaymentService) markProvisional(ctx context.Context, txn *model.Transaction) (*SettleResult, error) {
	if err := s.txnRepo.MarkSuccessRedirect(ctx, txn.OrderID, s.now()); err != nil {
		return nil, fmt.Errorf("记录回跳时间失败: %w", err)
	}
	current, err := s.txnRepo.FindByOrderID(ctx, nil, txn.OrderID)
	if err != nil {
		return nil, err
	}
	return resultFor(current, false), nil
}

// HandlePaymentCancel 买家在网关页面取消，只有 PENDING 的交易会被取消
func (s *PaymentService) HandlePaymentCancel(ctx context.Context, orderID string) (*SettleResult, error) {
	if orderID == "" {
		return nil, fmt.Errorf("%w: 缺少 order_id", apperr.ErrValidation)
	}
	txn, err := s.txnRepo.FindByOrderID(ctx, nil, orderID)
	if err != nil {
		return nil, err
	}
	if model.IsTerminal(txn.PaymentStatus) {
		return resultFor(txn, false), nil
	}
	return s.settle(ctx, txn, model.PaymentStatusCancelled, model.SettledByCancel, "", nil)
}

// ForceComplete 后台人工完成，与 webhook 走同一条条件更新与激活路径
func (s *PaymentService) ForceComplete(ctx context.Context, transactionID uint64, adminID int64) (*SettleResult, error) {
	txn, err := s.txnRepo.FindByID(ctx, nil, transactionID)
	if err != nil {
		return nil, err
	}
	actor := fmt.Sprintf("admin:%d", adminID)

	result, err := s.settle(ctx, txn, model.PaymentStatusCompleted, actor, "", nil)
	if err != nil {
		return nil, err
	}
	if result.Status != model.PaymentStatusCompleted {
		return nil, fmt.Errorf("%w: 交易状态为 %s", apperr.ErrImmutableRecord, result.Status)
	}
	s.log.Info("交易被管理员强制完成",
		zap.String("order_id", result.OrderID),
		zap.String("actor", actor),
		zap.Bool("changed", result.Changed),
	)
	return result, nil
}

const (
	reconcileLockRetryInterval = 100 * time.Millisecond
	reconcileLockRetries       = 5
)

// ReconcilePending 对账任务调用：向网关查询并结算；仍无结果且早于 expireBefore 的交易置为 CANCELLED
func (s *PaymentService) ReconcilePending(ctx context.Context, orderID string, expireBefore time.Time) (*SettleResult, error) {
	txn, err := s.txnRepo.FindByOrderID(ctx, nil, orderID)
	if err != nil {
		return nil, err
	}
	if model.IsTerminal(txn.PaymentStatus) {
		return resultFor(txn, false), nil
	}

	if s.redis != nil {
		// 买家回跳正在查询同一订单时稍等；等不到就留给下一轮
		settleLock := lock.NewSettleLock(s.redis, orderID, uuid.NewString())
		err := settleLock.Lock(ctx, reconcileLockRetryInterval, reconcileLockRetries)
		switch {
		case errors.Is(err, lock.ErrLockFailed):
			return resultFor(txn, false), nil
		case err != nil:
			s.log.Warn("获取结算锁失败，按无锁继续", zap.String("order_id", orderID), zap.Error(err))
		default:
			defer func() {
				if err := settleLock.Unlock(context.WithoutCancel(ctx)); err != nil {
					s.log.Warn("释放结算锁失败", zap.String("order_id", orderID), zap.Error(err))
				}
			}()
		}
	}

	state, err := s.gateway.QueryOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if state.Status == gateway.StatusUnknown {
		if txn.CreatedAt.Before(expireBefore) {
			return s.settle(ctx, txn, model.PaymentStatusCancelled, model.SettledByExpiry, state.GatewayTransactionID, nil)
		}
		return resultFor(txn, false), nil
	}
	return s.applyGatewayOutcome(ctx, txn, s.queryOutcome(state, model.SettledByReconcile))
}

// Viewer 读取交易的调用者
type Viewer struct {
	BuyerID int64
	IsAdmin bool
}

func (s *PaymentService) GetTransaction(ctx context.Context, id uint64, viewer Viewer) (*model.Transaction, error) {
	txn, err := s.txnRepo.FindByID(ctx, nil, id)
	if err != nil {
		return nil, err
	}
	if !viewer.IsAdmin && txn.BuyerID != viewer.BuyerID {
		return nil, apperr.ErrForbidden
	}
	return txn, nil
}

func (s *PaymentService) ListForBuyer(ctx context.Context, buyerID int64, page, pageSize int) ([]*model.Transaction, int64, error) {
	return s.txnRepo.ListForBuyer(ctx, buyerID, page, pageSize)
}

func (s *PaymentService) ListAll(ctx context.Context, filter repository.TransactionFilter, page, pageSize int) ([]*model.Transaction, int64, error) {
	return s.txnRepo.ListAll(ctx, filter, page, pageSize)
}

// DeleteTransaction 已完成的交易不可删除
func (s *PaymentService) DeleteTransaction(ctx context.Context, id uint64) error {
	if err := s.txnRepo.Delete(ctx, id); err != nil {
		return err
	}
	s.log.Info("交易已删除", zap.Uint64("transaction_id", id))
	return nil
}
