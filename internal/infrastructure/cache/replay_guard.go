package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
)

// ReplayGuard 记录已经处理完成的 webhook 报文
//
// 网关对同一笔通知常会重复投递。报文指纹命中时可以跳过解析与数据库写入，
// 直接返回当前结算状态；它只是快速路径，真正的幂等由 TryTransition 保证
type ReplayGuard struct {
	client *redis.Client
	ttl    time.Duration
}

func NewReplayGuard(client *redis.Client, ttl time.Duration) *ReplayGuard {
	return &ReplayGuard{client: client, ttl: ttl}
}

// Fingerprint 报文原始字节的 sha256
func Fingerprint(rawBody []byte) string {
	sum := sha256.Sum256(rawBody)
	return hex.EncodeToString(sum[:])
}

func replayKey(fingerprint string) string {
	return "webhook:processed:" + fingerprint
}

// Lookup 返回之前记录的 order_id；未处理过返回空串
func (g *ReplayGuard) Lookup(ctx context.Context, fingerprint string) (string, error) {
	orderID, err := g.client.Get(ctx, replayKey(fingerprint)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return orderID, err
}

// Remember 只在报文处理成功后调用，失败的投递必须允许网关重试
func (g *ReplayGuard) Remember(ctx context.Context, fingerprint, orderID string) error {
	return g.client.Set(ctx, replayKey(fingerprint), orderID, g.ttl).Err()
}
