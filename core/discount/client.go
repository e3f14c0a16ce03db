package discount

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/irsalhamdi/e-commerce-cart/core/cart"
)

// Client validates coupon codes against the remote discount service. The
// protocol is plain JSON over HTTP: the cart contents and code go out, an
// applied discount or a reason string comes back.
type Client struct {
	url  string
	http *http.Client
}

func NewClient(url string, timeout time.Duration) *Client {
	return &Client{
		url:  url,
		http: &http.Client{Timeout: timeout},
	}
}

type validateItem struct {
	ProductID string `json:"productId"`
	VariantID string `json:"variantId,omitempty"`
	Quantity  int    `json:"quantity"`
	Price     int64  `json:"price"`
}

type validateRequest struct {
	Code     string         `json:"code"`
	Subtotal int64          `json:"subtotal"`
	Items    []validateItem `json:"items"`
}

type validateResponse struct {
	Code        string `json:"code"`
	Type        string `json:"type"`
	Value       int64  `json:"value"`
	Scope       string `json:"scope"`
	Description string `json:"description"`
}

type rejectResponse struct {
	Reason string `json:"reason"`
}

func (c *Client) Validate(ctx context.Context, state cart.State, code string) (cart.AppliedDiscount, error) {
	req := validateRequest{Code: code}
	for _, it := range state.Items {
		req.Subtotal += it.Price * int64(it.Quantity)
		req.Items = append(req.Items, validateItem{
			ProductID: it.ProductID,
			VariantID: it.VariantID,
			Quantity:  it.Quantity,
			Price:     it.Price,
		})
	}

	body, err := json.Marshal(req)
	if err != nil {
		return cart.AppliedDiscount{}, fmt.Errorf("marshaling validation request: %w", err)
	}

	r, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return cart.AppliedDiscount{}, fmt.Errorf("building validation request: %w", err)
	}
	r.Header.Set("Content-Type", "application/json")

	w, err := c.http.Do(r)
	if err != nil {
		return cart.AppliedDiscount{}, &CouponError{Code: code, Reason: ReasonUnavailable}
	}
	defer w.Body.Close()

	switch {
	case w.StatusCode == http.StatusOK:
		var resp validateResponse
		if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
			return cart.AppliedDiscount{}, fmt.Errorf("decoding validation response: %w", err)
		}
		return cart.AppliedDiscount{
			Code:        resp.Code,
			Type:        cart.DiscountType(resp.Type),
			Value:       resp.Value,
			Scope:       resp.Scope,
			Description: resp.Description,
		}, nil

	case w.StatusCode >= 400 && w.StatusCode < 500:
		var resp rejectResponse
		if err := json.NewDecoder(w.Body).Decode(&resp); err != nil || resp.Reason == "" {
			return cart.AppliedDiscount{}, &CouponError{Code: code, Reason: ReasonInvalidCode}
		}
		return cart.AppliedDiscount{}, &CouponError{Code: code, Reason: Reason(resp.Reason)}

	default:
		return cart.AppliedDiscount{}, &CouponError{Code: code, Reason: ReasonUnavailable}
	}
}
