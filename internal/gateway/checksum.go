package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
)

var ErrEmptySecret = errors.New("网关签名密钥未配置")

// Verify 对原始报文计算 HMAC-SHA256，与签名头做常量时间比较；十六进制大小写均可
func Verify(rawBody []byte, signature, secret string) bool {
	if secret == "" {
		return false
	}
	got, err := hex.DecodeString(strings.ToLower(strings.TrimSpace(signature)))
	if err != nil || len(got) != sha256.Size {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(rawBody)
	return hmac.Equal(got, mac.Sum(nil))
}

// Sign 生成与网关一致的签名，测试与联调时使用
func Sign(rawBody []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(rawBody)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verifier 持有密钥的签名校验器
type Verifier struct {
	secret string
}

func NewVerifier(secret string) (*Verifier, error) {
	if secret == "" {
		return nil, ErrEmptySecret
	}
	return &Verifier{secret: secret}, nil
}

func (v *Verifier) Verify(rawBody []byte, signature string) bool {
	return Verify(rawBody, signature, v.secret)
}
