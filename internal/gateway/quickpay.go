package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"vendorpay/internal/apperr"
	"vendorpay/internal/config"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Client QuickPay v10 客户端
type Client struct {
	http     *resty.Client
	name     string
	currency string
	log      *zap.Logger
}

func NewClient(cfg *config.GatewayConfig, log *zap.Logger) *Client {
	httpClient := resty.New().
		SetBaseURL(strings.TrimRight(cfg.APIURL, "/")).
		SetTimeout(cfg.Timeout).
		SetBasicAuth("", cfg.APIKey).
		SetHeader("Accept-Version", "v10").
		SetHeader("Accept", "application/json")

	return &Client{
		http:     httpClient,
		name:     cfg.Name,
		currency: cfg.Currency,
		log:      log,
	}
}

// Name 写入交易的 payment_method
func (c *Client) Name() string {
	return c.name
}

type paymentResponse struct {
	ID       gatewayID       `json:"id"`
	OrderID  string          `json:"order_id"`
	Accepted acceptedToken   `json:"accepted"`
	State    string          `json:"state"`
	Currency string          `json:"currency"`
	Amount   decimal.Decimal `json:"amount"`
}

type linkResponse struct {
	URL string `json:"url"`
}

// CreateSession 先创建网关订单，再生成支付链接；任何网络错误、超时或非 2xx 都返回 ErrGatewayUnavailable
func (c *Client) CreateSession(ctx context.Context, req SessionRequest) (*Session, error) {
	if err := ValidatePackage(req.Package); err != nil {
		return nil, err
	}
	if _, err := NormalizeZipCodes(req.ZipCodes, req.Package.MaxZipCodes); err != nil {
		return nil, err
	}
	currency := req.Currency
	if currency == "" {
		currency = c.currency
	}

	var payment paymentResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]string{
			"order_id": req.OrderID,
			"currency": currency,
		}).
		SetResult(&payment).
		Post("/payments")
	if err := c.checkResponse("create payment", resp, err); err != nil {
		return nil, err
	}
	if payment.ID == "" {
		return nil, fmt.Errorf("%w: create payment 响应缺少 id", apperr.ErrGatewayUnavailable)
	}

	paymentID := string(payment.ID)
	var link linkResponse
	resp, err = c.http.R().
		SetContext(ctx).
		SetBody(map[string]interface{}{
			"amount":       ToMinorUnits(req.Amount).IntPart(),
			"continue_url": req.URLs.ContinueURL,
			"cancel_url":   req.URLs.CancelURL,
			"callback_url": req.URLs.CallbackURL,
		}).
		SetPathParam("id", paymentID).
		SetResult(&link).
		Put("/payments/{id}/link")
	if err := c.checkResponse("create link", resp, err); err != nil {
		return nil, err
	}
	if link.URL == "" {
		return nil, fmt.Errorf("%w: create link 响应缺少 url", apperr.ErrGatewayUnavailable)
	}

	c.log.Info("网关支付会话已创建",
		zap.String("order_id", req.OrderID),
		zap.String("gateway_payment_id", paymentID),
	)
	return &Session{
		PaymentURL:       link.URL,
		OrderID:          req.OrderID,
		GatewayPaymentID: paymentID,
	}, nil
}

// QueryOrder 按 order_id 查询网关订单，找不到时返回 UNKNOWN
func (c *Client) QueryOrder(ctx context.Context, orderID string) (*OrderState, error) {
	var payments []paymentResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("order_id", orderID).
		Get("/payments")
	if err := c.checkResponse("query payment", resp, err); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(resp.Body(), &payments); err != nil {
		return nil, fmt.Errorf("%w: 解析查询响应失败: %v", apperr.ErrGatewayUnavailable, err)
	}

	state := &OrderState{Status: StatusUnknown}
	for _, p := range payments {
		if p.OrderID != "" && p.OrderID != orderID {
			continue
		}
		raw := rawStatus(p.Accepted, p.State)
		state = &OrderState{
			GatewayTransactionID: string(p.ID),
			RawStatus:            raw,
			Status:               MapGatewayStatus(raw),
			Amount:               p.Amount,
		}
		if state.Status == StatusAccepted {
			break
		}
	}
	return state, nil
}

func (c *Client) checkResponse(op string, resp *resty.Response, err error) error {
	if err != nil {
		c.log.Warn("网关请求失败", zap.String("op", op), zap.Error(err))
		return fmt.Errorf("%w: %s: %v", apperr.ErrGatewayUnavailable, op, err)
	}
	if resp.StatusCode() < http.StatusOK || resp.StatusCode() >= http.StatusMultipleChoices {
		c.log.Warn("网关返回非 2xx",
			zap.String("op", op),
			zap.Int("status", resp.StatusCode()),
			zap.ByteString("body", resp.Body()),
		)
		return fmt.Errorf("%w: %s 返回 %d", apperr.ErrGatewayUnavailable, op, resp.StatusCode())
	}
	return nil
}
