package service

import (
	"net/http"
	"net/url"

	"vendorpay/internal/config"
	"vendorpay/internal/model"
)

// Outcome 一次回跳处理的结果
type Outcome struct {
	OrderID     string
	Status      string
	Provisional bool
	Err         error
}

type Redirect struct {
	StatusCode int
	Location   string
}

// RedirectResponder 把处理结果映射成浏览器的重定向地址，不读写任何状态
type RedirectResponder struct {
	cfg config.RedirectConfig
}

func NewRedirectResponder(cfg config.RedirectConfig) *RedirectResponder {
	return &RedirectResponder{cfg: cfg}
}

func (r *RedirectResponder) Resolve(o Outcome) Redirect {
	target := r.cfg.ErrorURL
	if o.Err == nil {
		switch o.Status {
		case model.PaymentStatusCompleted:
			target = r.cfg.SuccessURL
		case model.PaymentStatusPending:
			target = firstNonEmpty(r.cfg.PendingURL, r.cfg.SuccessURL)
		case model.PaymentStatusCancelled:
			target = r.cfg.CancelURL
		case model.PaymentStatusFailed:
			target = firstNonEmpty(r.cfg.FailedURL, r.cfg.CancelURL)
		}
	}
	return Redirect{
		StatusCode: http.StatusSeeOther,
		Location:   withOrderID(target, o.OrderID),
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// withOrderID 在地址上追加 order_id 参数，保留已有参数
func withOrderID(rawURL, orderID string) string {
	if orderID == "" {
		return rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	q := u.Query()
	q.Set("order_id", orderID)
	u.RawQuery = q.Encode()
	return u.String()
}
