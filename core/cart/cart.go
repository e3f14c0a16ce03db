package cart

import (
	"sort"
	"strings"
	"time"
)

type DiscountType string

const (
	Percentage DiscountType = "percentage"
	Fixed      DiscountType = "fixed"
)

// Product carries the catalog data needed to open a cart line. Prices are cents.
type Product struct {
	ID             string `json:"id" validate:"required"`
	Name           string `json:"name" validate:"required"`
	SKU            string `json:"sku"`
	Price          int64  `json:"price" validate:"gte=0"`
	CompareAtPrice *int64 `json:"compareAtPrice"`
	Active         bool   `json:"active"`
	Stock          *int   `json:"stock"`
}

// Variant overrides product fields for a specific option of the product.
// Nil pointer fields fall back to the product values.
type Variant struct {
	ID             string `json:"id" validate:"required"`
	SKU            string `json:"sku"`
	Price          *int64 `json:"price" validate:"omitempty,gte=0"`
	CompareAtPrice *int64 `json:"compareAtPrice"`
	Stock          *int   `json:"stock"`
}

// Item is one cart line. The unit price is frozen at the time the line is
// opened and never re-fetched.
type Item struct {
	ID             string            `json:"id" validate:"required"`
	ProductID      string            `json:"productId" validate:"required"`
	VariantID      string            `json:"variantId,omitempty"`
	Name           string            `json:"name"`
	SKU            string            `json:"sku"`
	Price          int64             `json:"price" validate:"gte=0"`
	CompareAtPrice *int64            `json:"compareAtPrice,omitempty"`
	Quantity       int               `json:"quantity" validate:"gte=1"`
	Attributes     map[string]string `json:"attributes,omitempty"`
	MaxQuantity    *int              `json:"maxQuantity,omitempty"`
	Active         bool              `json:"active"`
}

// Identity is the merge key of a line: two adds with the same product,
// variant and attribute selection land on the same line.
func Identity(productID, variantID string, attrs map[string]string) string {
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	sb.WriteString(productID)
	sb.WriteByte('|')
	sb.WriteString(variantID)
	for _, k := range keys {
		sb.WriteByte('|')
		sb.WriteString(k)
		sb.WriteByte('=')
		sb.WriteString(attrs[k])
	}
	return sb.String()
}

func (it Item) identity() string {
	return Identity(it.ProductID, it.VariantID, it.Attributes)
}

// AppliedDiscount is a coupon that was validated remotely and currently
// contributes to the discount total. It carries enough to recompute its
// contribution locally without another round trip.
type AppliedDiscount struct {
	Code        string       `json:"code" validate:"required"`
	Type        DiscountType `json:"type" validate:"required,oneof=percentage fixed"`
	Value       int64        `json:"value" validate:"gte=0"`
	Scope       string       `json:"scope,omitempty"`
	Description string       `json:"description,omitempty"`
}

// Amount computes the discount's contribution against the subtotal still
// remaining after earlier discounts. Never exceeds the remainder.
func (d AppliedDiscount) Amount(remaining int64) int64 {
	if remaining <= 0 {
		return 0
	}

	var amt int64
	switch d.Type {
	case Percentage:
		amt = remaining * d.Value / 100
	case Fixed:
		amt = d.Value
	}

	if amt < 0 {
		amt = 0
	}
	if amt > remaining {
		amt = remaining
	}
	return amt
}

// State is the full cart aggregate. Items keep insertion order, including
// across persistence round trips.
type State struct {
	Items            []Item            `json:"items"`
	IsOpen           bool              `json:"isOpen"`
	IsLoading        bool              `json:"isLoading"`
	Err              string            `json:"error,omitempty"`
	AppliedDiscounts []AppliedDiscount `json:"appliedDiscounts"`
	CouponCode       string            `json:"couponCode,omitempty"`
	LastUpdated      time.Time         `json:"lastUpdated"`
}

func (s State) clone() State {
	out := s
	out.Items = make([]Item, len(s.Items))
	copy(out.Items, s.Items)
	for i, it := range s.Items {
		if len(it.Attributes) > 0 {
			attrs := make(map[string]string, len(it.Attributes))
			for k, v := range it.Attributes {
				attrs[k] = v
			}
			out.Items[i].Attributes = attrs
		}
	}
	out.AppliedDiscounts = make([]AppliedDiscount, len(s.AppliedDiscounts))
	copy(out.AppliedDiscounts, s.AppliedDiscounts)
	return out
}

// Snapshot is the persisted form of a cart. UI flags and transient errors
// are session-local and deliberately left out.
type Snapshot struct {
	Items            []Item            `json:"items" validate:"dive"`
	AppliedDiscounts []AppliedDiscount `json:"appliedDiscounts" validate:"dive"`
	CouponCode       string            `json:"couponCode,omitempty"`
	LastUpdated      time.Time         `json:"lastUpdated"`
}

// Totals is the derived monetary document, computed as one consistent view.
type Totals struct {
	Subtotal   int64 `json:"subtotal"`
	Discount   int64 `json:"discount"`
	Shipping   int64 `json:"shipping"`
	Tax        int64 `json:"tax"`
	Total      int64 `json:"total"`
	TotalItems int   `json:"totalItems"`
}

// ItemNew is the add-to-cart request payload.
type ItemNew struct {
	Product    Product           `json:"product" validate:"required"`
	Variant    *Variant          `json:"variant,omitempty"`
	Quantity   int               `json:"quantity" validate:"omitempty,gte=1"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// QuantityUp is the update-quantity request payload. Zero or negative
// removes the line.
type QuantityUp struct {
	Quantity int `json:"quantity"`
}

// CouponNew is the apply-coupon request payload.
type CouponNew struct {
	Code string `json:"code" validate:"required"`
}

// Issue flags one line during pre-checkout validation.
type Issue struct {
	ItemID    string `json:"itemId"`
	ProductID string `json:"productId"`
	Message   string `json:"message"`
}

// ValidationResult is the structured outcome of Engine.Validate. Errors
// should block checkout, warnings are advisory; the caller decides.
type ValidationResult struct {
	Errors   []Issue `json:"errors"`
	Warnings []Issue `json:"warnings"`
}

func (r ValidationResult) OK() bool {
	return len(r.Errors) == 0
}
