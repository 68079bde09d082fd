package service

import (
	"context"

	"vendorpay/internal/config"
	"vendorpay/internal/gateway"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// PaymentGateway 支付网关客户端，生产环境为 gateway.Client
type PaymentGateway interface {
	Name() string
	CreateSession(ctx context.Context, req gateway.SessionRequest) (*gateway.Session, error)
	QueryOrder(ctx context.Context, orderID string) (*gateway.OrderState, error)
}

// SignatureVerifier webhook 签名校验
type SignatureVerifier interface {
	Verify(rawBody []byte, signature string) bool
}

// Dependencies 服务依赖，全部由 main 显式构造后传入
// Redis 可以为空：此时没有回调去重快速路径，也不加订单锁，正确性不受影响
type Dependencies struct {
	DB       *gorm.DB
	Redis    *redis.Client
	Gateway  PaymentGateway
	Verifier SignatureVerifier
	Config   *config.Config
	Log      *zap.Logger
}
