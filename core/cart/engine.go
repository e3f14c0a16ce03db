package cart

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/irsalhamdi/e-commerce-cart/storage"
	"github.com/irsalhamdi/e-commerce-cart/validate"
	"github.com/sirupsen/logrus"
)

// CouponValidator is the remote discount validation boundary. On failure it
// returns an error carrying the rejection reason and leaves the cart alone.
type CouponValidator interface {
	Validate(ctx context.Context, state State, code string) (AppliedDiscount, error)
}

// Policy bundles the pricing configuration the derived totals depend on.
// Monetary fields are cents; TaxRateBP is basis points (1000 = 10%).
type Policy struct {
	TaxRateBP             int64
	ShippingCost          int64
	FreeShippingThreshold int64

	// TaxAfterDiscount switches the tax basis from the raw subtotal to the
	// discounted subtotal, for storefronts whose backend prices that way.
	TaxAfterDiscount bool
}

const saveTimeout = 5 * time.Second

// Engine owns one cart's state. Mutations take effect synchronously on
// local state; the snapshot write after each mutation is fire-and-forget.
// All reads hand out defensive copies, never internal slices.
type Engine struct {
	mu        sync.Mutex
	state     State
	policy    Policy
	store     storage.Store
	key       string
	coupons   CouponValidator
	log       logrus.FieldLogger
	listeners []func(State)

	saving sync.WaitGroup
}

func NewEngine(key string, policy Policy, store storage.Store, coupons CouponValidator, log logrus.FieldLogger) *Engine {
	return &Engine{
		state: State{
			Items:            []Item{},
			AppliedDiscounts: []AppliedDiscount{},
			LastUpdated:      time.Now().UTC(),
		},
		policy:  policy,
		store:   store,
		key:     key,
		coupons: coupons,
		log:     log.WithField("cart", key),
	}
}

// Subscribe registers a listener invoked with a state copy after every
// mutation. Listeners run on the mutating goroutine and must not call back
// into the engine.
func (e *Engine) Subscribe(fn func(State)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listeners = append(e.listeners, fn)
}

// State returns a copy of the current cart state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.clone()
}

// touch advances LastUpdated without ever moving it backwards.
func (e *Engine) touch() {
	now := time.Now().UTC()
	if now.Before(e.state.LastUpdated) {
		now = e.state.LastUpdated
	}
	e.state.LastUpdated = now
}

// commit is called with the lock held at the end of every mutation: it
// notifies listeners and kicks off the background snapshot write.
func (e *Engine) commit() {
	snap := e.state.clone()
	for _, fn := range e.listeners {
		fn(snap)
	}
	e.persistAsync()
}

// AddItem opens a line for the product/variant/attribute combination, or
// merges the quantity into the existing one. The unit price is frozen from
// the supplied catalog data. Quantities are clamped to the known stock
// limit; the excess is dropped silently rather than failing the add.
func (e *Engine) AddItem(p Product, v *Variant, quantity int, attrs map[string]string) Item {
	if quantity < 1 {
		quantity = 1
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	variantID := ""
	price := p.Price
	compareAt := p.CompareAtPrice
	sku := p.SKU
	stock := p.Stock
	if v != nil {
		variantID = v.ID
		if v.Price != nil {
			price = *v.Price
		}
		if v.CompareAtPrice != nil {
			compareAt = v.CompareAtPrice
		}
		if v.SKU != "" {
			sku = v.SKU
		}
		if v.Stock != nil {
			stock = v.Stock
		}
	}

	id := Identity(p.ID, variantID, attrs)
	for i := range e.state.Items {
		if e.state.Items[i].identity() == id {
			it := &e.state.Items[i]
			it.Quantity += quantity
			if it.MaxQuantity != nil && it.Quantity > *it.MaxQuantity {
				it.Quantity = *it.MaxQuantity
			}
			e.touch()
			e.commit()
			return *it
		}
	}

	it := Item{
		ID:             validate.GenerateID(),
		ProductID:      p.ID,
		VariantID:      variantID,
		Name:           p.Name,
		SKU:            sku,
		Price:          price,
		CompareAtPrice: compareAt,
		Quantity:       quantity,
		Attributes:     attrs,
		MaxQuantity:    stock,
		Active:         p.Active,
	}
	if it.MaxQuantity != nil && it.Quantity > *it.MaxQuantity {
		it.Quantity = *it.MaxQuantity
	}
	if it.Quantity < 1 {
		it.Quantity = 1
	}

	e.state.Items = append(e.state.Items, it)
	e.touch()
	e.commit()
	return it
}

// RemoveItem drops the line with the given id. Removing an unknown id is a
// no-op so rapid repeated clicks stay harmless.
func (e *Engine) RemoveItem(itemID string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for i, it := range e.state.Items {
		if it.ID == itemID {
			e.state.Items = append(e.state.Items[:i], e.state.Items[i+1:]...)
			break
		}
	}
	e.touch()
	e.commit()
}

// UpdateQuantity sets a line's quantity, clamped to its stock limit. A
// quantity of zero or less removes the line; no line is ever kept at zero.
func (e *Engine) UpdateQuantity(itemID string, quantity int) {
	if quantity <= 0 {
		e.RemoveItem(itemID)
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	for i := range e.state.Items {
		if e.state.Items[i].ID == itemID {
			it := &e.state.Items[i]
			it.Quantity = quantity
			if it.MaxQuantity != nil && it.Quantity > *it.MaxQuantity {
				it.Quantity = *it.MaxQuantity
			}
			break
		}
	}
	e.touch()
	e.commit()
}

// Clear resets the cart to its empty state: no items, no discounts, no
// coupon code.
func (e *Engine) Clear() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.state.Items = []Item{}
	e.state.AppliedDiscounts = []AppliedDiscount{}
	e.state.CouponCode = ""
	e.state.Err = ""
	e.touch()
	e.commit()
}

// Toggle, Open and Close drive the cart drawer flag only; items and totals
// are untouched.
func (e *Engine) Toggle() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state.IsOpen = !e.state.IsOpen
}

func (e *Engine) Open() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state.IsOpen = true
}

func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state.IsOpen = false
}

func subtotal(items []Item) int64 {
	var tot int64
	for _, it := range items {
		tot += it.Price * int64(it.Quantity)
	}
	return tot
}

func discountTotal(sub int64, discounts []AppliedDiscount) int64 {
	remaining := sub
	var tot int64
	for _, d := range discounts {
		amt := d.Amount(remaining)
		tot += amt
		remaining -= amt
	}
	return tot
}

func (e *Engine) totalsLocked() Totals {
	t := Totals{Subtotal: subtotal(e.state.Items)}
	for _, it := range e.state.Items {
		t.TotalItems += it.Quantity
	}

	t.Discount = discountTotal(t.Subtotal, e.state.AppliedDiscounts)

	if t.Subtotal > 0 && t.Subtotal < e.policy.FreeShippingThreshold {
		t.Shipping = e.policy.ShippingCost
	}

	basis := t.Subtotal
	if e.policy.TaxAfterDiscount {
		basis -= t.Discount
	}
	t.Tax = basis * e.policy.TaxRateBP / 10000

	t.Total = t.Subtotal - t.Discount + t.Shipping + t.Tax
	if t.Total < 0 {
		t.Total = 0
	}
	return t
}

// Totals computes every derived monetary value in one consistent view.
func (e *Engine) Totals() Totals {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.totalsLocked()
}

func (e *Engine) Subtotal() int64 { return e.Totals().Subtotal }

func (e *Engine) TotalItems() int { return e.Totals().TotalItems }

func (e *Engine) Shipping() int64 { return e.Totals().Shipping }

func (e *Engine) Tax() int64 { return e.Totals().Tax }

func (e *Engine) DiscountTotal() int64 { return e.Totals().Discount }

func (e *Engine) FinalTotal() int64 { return e.Totals().Total }

// ItemQuantity sums the quantities of every line matching the product and
// variant, across attribute variations. An empty variantID matches lines
// without a variant.
func (e *Engine) ItemQuantity(productID, variantID string) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	var tot int
	for _, it := range e.state.Items {
		if it.ProductID == productID && it.VariantID == variantID {
			tot += it.Quantity
		}
	}
	return tot
}

// Contains reports whether any line matches the product and variant.
func (e *Engine) Contains(productID, variantID string) bool {
	return e.ItemQuantity(productID, variantID) > 0
}

// ApplyCoupon validates the code against the remote service and, on
// success, appends the returned discount. Re-applying a code that is
// already present short-circuits, which also neutralizes late-arriving
// duplicate validations. On failure, the discounts are left untouched,
// the state error field is set and the error is returned.
func (e *Engine) ApplyCoupon(ctx context.Context, code string) error {
	e.mu.Lock()
	for _, d := range e.state.AppliedDiscounts {
		if d.Code == code {
			e.mu.Unlock()
			return nil
		}
	}
	e.state.IsLoading = true
	snap := e.state.clone()
	e.mu.Unlock()

	d, err := e.coupons.Validate(ctx, snap, code)

	e.mu.Lock()
	defer e.mu.Unlock()
	e.state.IsLoading = false

	if err != nil {
		e.state.Err = err.Error()
		return fmt.Errorf("validating coupon[%s]: %w", code, err)
	}

	// A competing apply may have landed the same code while the lock was
	// released; appends stay idempotent per code.
	for _, existing := range e.state.AppliedDiscounts {
		if existing.Code == d.Code {
			return nil
		}
	}

	e.state.AppliedDiscounts = append(e.state.AppliedDiscounts, d)
	e.state.CouponCode = code
	e.state.Err = ""
	e.touch()
	e.commit()
	return nil
}

// RemoveCoupon drops the matching discount; no-op if absent.
func (e *Engine) RemoveCoupon(code string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for i, d := range e.state.AppliedDiscounts {
		if d.Code == code {
			e.state.AppliedDiscounts = append(e.state.AppliedDiscounts[:i], e.state.AppliedDiscounts[i+1:]...)
			if e.state.CouponCode == code {
				e.state.CouponCode = ""
			}
			e.touch()
			e.commit()
			return
		}
	}
}

// ClearDiscounts removes every applied discount without touching items.
func (e *Engine) ClearDiscounts() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.state.AppliedDiscounts = []AppliedDiscount{}
	e.state.CouponCode = ""
	e.touch()
	e.commit()
}

// Validate walks every line before checkout: quantities over the known
// stock limit and inactive products are errors, lines sitting exactly at
// their limit are warnings. The caller decides whether to block.
func (e *Engine) Validate() ValidationResult {
	e.mu.Lock()
	defer e.mu.Unlock()

	res := ValidationResult{Errors: []Issue{}, Warnings: []Issue{}}
	for _, it := range e.state.Items {
		switch {
		case !it.Active:
			res.Errors = append(res.Errors, Issue{
				ItemID:    it.ID,
				ProductID: it.ProductID,
				Message:   fmt.Sprintf("%s is no longer available", it.Name),
			})
		case it.MaxQuantity != nil && it.Quantity > *it.MaxQuantity:
			res.Errors = append(res.Errors, Issue{
				ItemID:    it.ID,
				ProductID: it.ProductID,
				Message:   fmt.Sprintf("only %d of %s left in stock", *it.MaxQuantity, it.Name),
			})
		case it.MaxQuantity != nil && it.Quantity == *it.MaxQuantity:
			res.Warnings = append(res.Warnings, Issue{
				ItemID:    it.ID,
				ProductID: it.ProductID,
				Message:   fmt.Sprintf("%s is at its stock limit", it.Name),
			})
		}
	}
	return res
}

func (e *Engine) snapshotLocked() ([]byte, error) {
	snap := Snapshot{
		Items:            e.state.Items,
		AppliedDiscounts: e.state.AppliedDiscounts,
		CouponCode:       e.state.CouponCode,
		LastUpdated:      e.state.LastUpdated,
	}
	return json.Marshal(snap)
}

// persistAsync writes the snapshot in the background. Storage failures are
// logged and swallowed: an in-memory cart keeps working for the session.
func (e *Engine) persistAsync() {
	data, err := e.snapshotLocked()
	if err != nil {
		e.log.WithField("message", err).Error("marshaling cart snapshot")
		return
	}

	e.saving.Add(1)
	go func() {
		defer e.saving.Done()

		ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
		defer cancel()

		if err := e.store.Write(ctx, e.key, data); err != nil {
			e.log.WithField("message", err).Error("saving cart snapshot")
		}
	}()
}

// Save writes the current snapshot synchronously. Failures are logged, not
// returned: cart usability never depends on storage health.
func (e *Engine) Save(ctx context.Context) {
	e.mu.Lock()
	data, err := e.snapshotLocked()
	e.mu.Unlock()
	if err != nil {
		e.log.WithField("message", err).Error("marshaling cart snapshot")
		return
	}

	if err := e.store.Write(ctx, e.key, data); err != nil {
		e.log.WithField("message", err).Error("saving cart snapshot")
	}
}

// Flush waits for in-flight background snapshot writes. Tests and shutdown
// hooks use it; normal operation never blocks on persistence.
func (e *Engine) Flush() {
	e.saving.Wait()
}

// Load hydrates the cart from the last snapshot. A missing, corrupt or
// malformed snapshot degrades to the empty state; a snapshot older than the
// in-memory state is ignored. Never returns an error to the caller.
func (e *Engine) Load(ctx context.Context) {
	data, err := e.store.Read(ctx, e.key)
	if errors.Is(err, storage.ErrNotFound) {
		return
	}
	if err != nil {
		e.log.WithField("message", err).Error("loading cart snapshot")
		return
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		e.log.WithField("message", err).Error("decoding cart snapshot")
		return
	}
	if err := validate.Check(snap); err != nil {
		e.log.WithField("message", err).Error("rejecting malformed cart snapshot")
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if len(e.state.Items) > 0 && snap.LastUpdated.Before(e.state.LastUpdated) {
		return
	}

	e.state.Items = snap.Items
	e.state.AppliedDiscounts = snap.AppliedDiscounts
	e.state.CouponCode = snap.CouponCode
	if snap.LastUpdated.After(e.state.LastUpdated) {
		e.state.LastUpdated = snap.LastUpdated
	}
	if e.state.Items == nil {
		e.state.Items = []Item{}
	}
	if e.state.AppliedDiscounts == nil {
		e.state.AppliedDiscounts = []AppliedDiscount{}
	}
}
