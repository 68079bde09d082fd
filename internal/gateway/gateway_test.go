package gateway

import (
	"errors"
	"testing"

	"vendorpay/internal/apperr"
	"vendorpay/internal/model"

	"github.com/shopspring/decimal"
)

func TestMapGatewayStatus(t *testing.T) {
	cases := map[string]Status{
		"true":      StatusAccepted,
		"Accepted":  StatusAccepted,
		"processed": StatusAccepted,
		"approved":  StatusAccepted,
		"captured":  StatusAccepted,
		"success":   StatusAccepted,
		"false":     StatusRejected,
		"rejected":  StatusRejected,
		"declined":  StatusRejected,
		"FAILED":    StatusRejected,
		"new":       StatusUnknown,
		"initial":   StatusUnknown,
		"pending":   StatusUnknown,
		"":          StatusUnknown,
		"weird":     StatusUnknown,
	}
	for raw, want := range cases {
		if got := MapGatewayStatus(raw); got != want {
			t.Fatalf("MapGatewayStatus(%q) = %s, want %s", raw, got, want)
		}
	}
}

func TestAmountMatchesMajorAndMinorUnits(t *testing.T) {
	expected := decimal.RequireFromString("49.99")

	if !AmountMatches(expected, decimal.RequireFromString("49.99")) {
		t.Fatalf("major unit amount should match")
	}
	if !AmountMatches(expected, decimal.NewFromInt(4999)) {
		t.Fatalf("minor unit amount should match")
	}
	if AmountMatches(expected, decimal.NewFromInt(1)) {
		t.Fatalf("different amount must not match")
	}
}

func TestNormalizeZipCodes(t *testing.T) {
	zips, err := NormalizeZipCodes([]string{" 10001", "10002", "10001"}, 3)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if len(zips) != 2 || zips[0] != "10001" || zips[1] != "10002" {
		t.Fatalf("unexpected zips: %v", zips)
	}

	invalid := [][]string{
		nil,
		{"1234"},
		{"abcde"},
		{"10001", "10002", "10003", "10004"},
	}
	for _, in := range invalid {
		_, err := NormalizeZipCodes(in, 3)
		if !errors.Is(err, ErrInvalidZipSelection) {
			t.Fatalf("NormalizeZipCodes(%v): expected ErrInvalidZipSelection, got %v", in, err)
		}
		if !errors.Is(err, apperr.ErrValidation) {
			t.Fatalf("zip selection errors must be validation errors")
		}
	}
}

func TestValidatePackage(t *testing.T) {
	ok := &model.Package{IsActive: true, Price: decimal.NewFromInt(10), DurationDays: 30}
	if err := ValidatePackage(ok); err != nil {
		t.Fatalf("expected purchasable package, got %v", err)
	}

	for _, pkg := range []*model.Package{
		nil,
		{IsActive: false, Price: decimal.NewFromInt(10), DurationDays: 30},
		{IsActive: true, Price: decimal.Zero, DurationDays: 30},
		{IsActive: true, Price: decimal.NewFromInt(10), DurationDays: 0},
	} {
		if err := ValidatePackage(pkg); !errors.Is(err, ErrInvalidPackage) {
			t.Fatalf("expected ErrInvalidPackage for %+v, got %v", pkg, err)
		}
	}
}
