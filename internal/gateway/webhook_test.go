package gateway

import (
	"errors"
	"testing"

	"vendorpay/internal/apperr"

	"github.com/shopspring/decimal"
)

func TestParseWebhookAcceptedForms(t *testing.T) {
	cases := []struct {
		name string
		body string
		want Status
	}{
		{"bool true", `{"id":7,"order_id":"VP1","accepted":true,"state":"new","amount":4999}`, StatusAccepted},
		{"bool false with rejected state", `{"id":7,"order_id":"VP1","accepted":false,"state":"rejected"}`, StatusRejected},
		{"bool false without state", `{"id":7,"order_id":"VP1","accepted":false}`, StatusRejected},
		{"string token", `{"id":"7","order_id":"VP1","accepted":"approved"}`, StatusAccepted},
		{"pending state", `{"id":7,"order_id":"VP1","accepted":false,"state":"pending"}`, StatusUnknown},
		{"no status at all", `{"id":7,"order_id":"VP1"}`, StatusUnknown},
		{"bool false with processed state", `{"id":7,"order_id":"VP1","accepted":false,"state":"processed","amount":4999}`, StatusRejected},
		{"bool false with new state", `{"id":7,"order_id":"VP1","accepted":false,"state":"new"}`, StatusUnknown},
		{"string false with captured state", `{"id":7,"order_id":"VP1","accepted":"false","state":"captured"}`, StatusRejected},
		{"state only", `{"id":7,"order_id":"VP1","state":"processed"}`, StatusAccepted},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			event, err := ParseWebhook([]byte(tc.body))
			if err != nil {
				t.Fatalf("parse: %v", err)
			}
			if event.Status() != tc.want {
				t.Fatalf("status = %s (raw %q), want %s", event.Status(), event.RawStatus, tc.want)
			}
			if event.GatewayTransactionID != "7" {
				t.Fatalf("gateway id = %q", event.GatewayTransactionID)
			}
		})
	}
}

func TestParseWebhookGatewayIDForms(t *testing.T) {
	cases := []struct {
		name string
		body string
		want string
	}{
		{"string id", `{"order_id":"ORD-100","accepted":true,"id":"gw-900","amount":49.99}`, "gw-900"},
		{"numeric id", `{"order_id":"ORD-100","accepted":true,"id":900}`, "900"},
		{"large numeric id", `{"order_id":"ORD-100","accepted":true,"id":90071992547409931}`, "90071992547409931"},
		{"missing id", `{"order_id":"ORD-100","accepted":true}`, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			event, err := ParseWebhook([]byte(tc.body))
			if err != nil {
				t.Fatalf("parse: %v", err)
			}
			if event.GatewayTransactionID != tc.want {
				t.Fatalf("gateway id = %q, want %q", event.GatewayTransactionID, tc.want)
			}
			if event.OrderID != "ORD-100" || event.Status() != StatusAccepted {
				t.Fatalf("unexpected event %+v", event)
			}
		})
	}

	event, err := ParseWebhook([]byte(`{"order_id":"ORD-100","accepted":true,"id":"gw-900","amount":49.99}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !event.HasAmount || !event.Amount.Equal(decimal.RequireFromString("49.99")) {
		t.Fatalf("unexpected amount %v %s", event.HasAmount, event.Amount)
	}
}

func TestParseWebhookAmount(t *testing.T) {
	event, err := ParseWebhook([]byte(`{"order_id":"VP1","accepted":true,"amount":4999}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !event.HasAmount || !event.Amount.Equal(decimal.NewFromInt(4999)) {
		t.Fatalf("unexpected amount: %v %v", event.HasAmount, event.Amount)
	}

	event, err = ParseWebhook([]byte(`{"order_id":"VP1","accepted":true}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if event.HasAmount {
		t.Fatalf("amount should be absent")
	}
}

func TestParseWebhookRejectsMalformed(t *testing.T) {
	for _, body := range []string{`not json`, `{"accepted":true}`, `{"order_id":"  "}`, `{"order_id":"VP1","id":{"x":1}}`} {
		_, err := ParseWebhook([]byte(body))
		if !errors.Is(err, apperr.ErrValidation) {
			t.Fatalf("ParseWebhook(%s): expected validation error, got %v", body, err)
		}
	}
}
