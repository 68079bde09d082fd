package gateway

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"vendorpay/internal/apperr"

	"github.com/shopspring/decimal"
)

// acceptedToken 兼容 accepted 字段的布尔值与字符串两种写法
type acceptedToken string

func (a *acceptedToken) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*a = ""
		return nil
	}
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		*a = acceptedToken(strconv.FormatBool(b))
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("accepted 字段格式不支持: %s", string(data))
	}
	*a = acceptedToken(strings.TrimSpace(s))
	return nil
}

// gatewayID 网关交易号，数字和字符串都接受，统一保存为字符串
type gatewayID string

func (g *gatewayID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*g = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("id 字段格式不支持: %s", string(data))
		}
		*g = gatewayID(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("id 字段格式不支持: %s", string(data))
	}
	*g = gatewayID(n.String())
	return nil
}

// 网关尚未给出结论的 state，accepted=false 时不算拒绝
var pendingStates = map[string]bool{
	"new":        true,
	"initial":    true,
	"pending":    true,
	"processing": true,
}

// rawStatus 以 accepted 为准
//
// accepted 为真：已受理；明确为假：拒绝，state 仍处于待处理时为未知，
// 此时 state 即使是 processed 之类也不能当作成功；
// 缺失或无法识别时才看 state，最后退回 accepted 的原始值
func rawStatus(accepted acceptedToken, state string) string {
	switch MapGatewayStatus(string(accepted)) {
	case StatusAccepted:
		return "accepted"
	case StatusRejected:
		if pendingStates[strings.ToLower(strings.TrimSpace(state))] {
			return state
		}
		return "rejected"
	}
	if state != "" {
		return state
	}
	return string(accepted)
}

// WebhookEvent 已通过签名校验的回调报文
type WebhookEvent struct {
	OrderID              string
	GatewayTransactionID string
	RawStatus            string
	Amount               decimal.Decimal
	HasAmount            bool
}

type webhookPayload struct {
	ID       gatewayID        `json:"id"`
	OrderID  string           `json:"order_id"`
	Accepted acceptedToken    `json:"accepted"`
	State    string           `json:"state"`
	Amount   *decimal.Decimal `json:"amount"`
}

// ParseWebhook 解析回调原始报文，调用前必须已经校验过签名
func ParseWebhook(rawBody []byte) (*WebhookEvent, error) {
	var payload webhookPayload
	dec := json.NewDecoder(bytes.NewReader(rawBody))
	dec.UseNumber()
	if err := dec.Decode(&payload); err != nil {
		return nil, fmt.Errorf("%w: 回调报文格式错误: %v", apperr.ErrValidation, err)
	}
	orderID := strings.TrimSpace(payload.OrderID)
	if orderID == "" {
		return nil, fmt.Errorf("%w: 回调缺少 order_id", apperr.ErrValidation)
	}

	event := &WebhookEvent{
		OrderID:              orderID,
		GatewayTransactionID: string(payload.ID),
		RawStatus:            rawStatus(payload.Accepted, payload.State),
	}
	if payload.Amount != nil {
		event.Amount = *payload.Amount
		event.HasAmount = true
	}
	return event, nil
}

// Status 归一化后的状态
func (e *WebhookEvent) Status() Status {
	return MapGatewayStatus(e.RawStatus)
}
