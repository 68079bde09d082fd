// Package gateway 把支付网关（QuickPay v10）的请求与响应翻译成内部类型，不持有任何状态。
package gateway

import (
	"fmt"
	"regexp"
	"strings"

	"vendorpay/internal/apperr"
	"vendorpay/internal/model"

	"github.com/shopspring/decimal"
)

// Status 网关状态归一化后的结果
type Status string

const (
	StatusAccepted Status = "ACCEPTED"
	StatusRejected Status = "REJECTED"
	StatusUnknown  Status = "UNKNOWN"
)

var (
	ErrInvalidPackage      = fmt.Errorf("%w: 套餐不可购买", apperr.ErrValidation)
	ErrInvalidZipSelection = fmt.Errorf("%w: 邮编选择不合法", apperr.ErrValidation)
)

var zipPattern = regexp.MustCompile(`^[0-9]{5}$`)

// MapGatewayStatus 网关原始状态到内部状态的全函数，无法识别的一律 UNKNOWN
func MapGatewayStatus(raw string) Status {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "true", "accepted", "processed", "approved", "captured", "success":
		return StatusAccepted
	case "false", "rejected", "declined", "failed":
		return StatusRejected
	default:
		return StatusUnknown
	}
}

// AmountMatches 网关上报的金额可能是主单位，也可能是最小单位（QuickPay 用分）
func AmountMatches(expected, reported decimal.Decimal) bool {
	return reported.Equal(expected) || reported.Equal(ToMinorUnits(expected))
}

// ToMinorUnits 主单位转最小单位，两位小数币种
func ToMinorUnits(amount decimal.Decimal) decimal.Decimal {
	return amount.Shift(2).Round(0)
}

// ValidatePackage 下架、价格或时长非正的套餐不可购买
func ValidatePackage(pkg *model.Package) error {
	if pkg == nil || !pkg.IsActive {
		return ErrInvalidPackage
	}
	if !pkg.Price.IsPositive() || pkg.DurationDays <= 0 {
		return ErrInvalidPackage
	}
	return nil
}

// NormalizeZipCodes 去空白、去重并校验格式与数量
func NormalizeZipCodes(zips []string, max int) ([]string, error) {
	seen := make(map[string]struct{}, len(zips))
	result := make([]string, 0, len(zips))
	for _, z := range zips {
		z = strings.TrimSpace(z)
		if !zipPattern.MatchString(z) {
			return nil, fmt.Errorf("%w: %q 不是 5 位邮编", ErrInvalidZipSelection, z)
		}
		if _, dup := seen[z]; dup {
			continue
		}
		seen[z] = struct{}{}
		result = append(result, z)
	}
	if len(result) == 0 {
		return nil, fmt.Errorf("%w: 至少选择一个邮编", ErrInvalidZipSelection)
	}
	if max > 0 && len(result) > max {
		return nil, fmt.Errorf("%w: 最多可选 %d 个邮编", ErrInvalidZipSelection, max)
	}
	return result, nil
}

// SessionRequest 创建支付会话的入参
type SessionRequest struct {
	OrderID  string
	Amount   decimal.Decimal
	Currency string
	Package  *model.Package
	ZipCodes []string
	URLs     CallbackURLs
}

// CallbackURLs 买家离开网关后的返回地址与异步通知地址
type CallbackURLs struct {
	ContinueURL string
	CancelURL   string
	CallbackURL string
}

type Session struct {
	PaymentURL       string
	OrderID          string
	GatewayPaymentID string
}

// OrderState 网关侧订单的查询结果
type OrderState struct {
	GatewayTransactionID string
	RawStatus            string
	Status               Status
	Amount               decimal.Decimal
}
