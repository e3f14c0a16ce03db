package discount

import (
	"context"
	"sync"
	"time"

	"github.com/irsalhamdi/e-commerce-cart/core/cart"
)

// Rule describes one locally known coupon: its discount behaviour and the
// eligibility constraints checked at validation time.
type Rule struct {
	Code        string
	Type        cart.DiscountType
	Value       int64
	MinSpend    int64
	ExpiresAt   time.Time
	SingleUse   bool
	Description string
}

// Rules is an in-process validator backed by a static rule table. It stands
// in for the remote service in tests and local development.
type Rules struct {
	mu    sync.Mutex
	rules map[string]Rule
	used  map[string]bool
}

func NewRules(rules ...Rule) *Rules {
	m := make(map[string]Rule, len(rules))
	for _, r := range rules {
		m[r.Code] = r
	}
	return &Rules{rules: m, used: make(map[string]bool)}
}

func (r *Rules) Validate(ctx context.Context, state cart.State, code string) (cart.AppliedDiscount, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rule, ok := r.rules[code]
	if !ok {
		return cart.AppliedDiscount{}, &CouponError{Code: code, Reason: ReasonInvalidCode}
	}

	if !rule.ExpiresAt.IsZero() && time.Now().After(rule.ExpiresAt) {
		return cart.AppliedDiscount{}, &CouponError{Code: code, Reason: ReasonExpired}
	}

	if rule.SingleUse && r.used[code] {
		return cart.AppliedDiscount{}, &CouponError{Code: code, Reason: ReasonAlreadyUsed}
	}

	var sub int64
	for _, it := range state.Items {
		sub += it.Price * int64(it.Quantity)
	}
	if sub < rule.MinSpend {
		return cart.AppliedDiscount{}, &CouponError{Code: code, Reason: ReasonMinNotMet}
	}

	r.used[code] = true
	return cart.AppliedDiscount{
		Code:        rule.Code,
		Type:        rule.Type,
		Value:       rule.Value,
		Scope:       "cart",
		Description: rule.Description,
	}, nil
}
