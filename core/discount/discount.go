// Package discount implements the coupon validation boundary: the remote
// Discount Validation Service client and a local rule table used by tests
// and development setups. Both satisfy cart.CouponValidator.
package discount

import (
	"errors"
	"fmt"
)

// Reason classifies why a coupon was rejected. The values mirror the wire
// contract of the validation service.
type Reason string

const (
	ReasonInvalidCode Reason = "INVALID_CODE"
	ReasonExpired     Reason = "EXPIRED"
	ReasonMinNotMet   Reason = "MIN_NOT_MET"
	ReasonAlreadyUsed Reason = "ALREADY_USED"
	ReasonUnavailable Reason = "UNAVAILABLE"
)

var messages = map[Reason]string{
	ReasonInvalidCode: "this coupon code is not valid",
	ReasonExpired:     "this coupon has expired",
	ReasonMinNotMet:   "the cart does not meet the coupon minimum",
	ReasonAlreadyUsed: "this coupon has already been used",
	ReasonUnavailable: "coupons cannot be validated right now",
}

// CouponError is the typed rejection of a coupon code.
type CouponError struct {
	Code   string
	Reason Reason
}

func (e *CouponError) Error() string {
	msg, ok := messages[e.Reason]
	if !ok {
		msg = "the coupon could not be applied"
	}
	return fmt.Sprintf("coupon[%s]: %s", e.Code, msg)
}

// CouponReason exposes the reason to layers that cannot import this
// package; callers assert on the method, not the type.
func (e *CouponError) CouponReason() string {
	return string(e.Reason)
}

// ReasonOf extracts the rejection reason from an error chain.
func ReasonOf(err error) (Reason, bool) {
	var ce *CouponError
	if errors.As(err, &ce) {
		return ce.Reason, true
	}
	return "", false
}
