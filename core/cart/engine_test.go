package cart_test

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/irsalhamdi/e-commerce-cart/core/cart"
	"github.com/irsalhamdi/e-commerce-cart/core/discount"
	"github.com/irsalhamdi/e-commerce-cart/storage"
	"github.com/sirupsen/logrus"
)

var testPolicy = cart.Policy{
	TaxRateBP:             1000,
	ShippingCost:          500,
	FreeShippingThreshold: 50000,
}

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func newEngine(t *testing.T, policy cart.Policy, store storage.Store, coupons cart.CouponValidator) *cart.Engine {
	t.Helper()
	if store == nil {
		store = storage.NewMemory()
	}
	if coupons == nil {
		coupons = discount.NewRules()
	}
	return cart.NewEngine("test-cart", policy, store, coupons, testLogger())
}

func intPtr(v int) *int { return &v }

func product(id string, price int64) cart.Product {
	return cart.Product{ID: id, Name: "product " + id, SKU: "SKU-" + id, Price: price, Active: true}
}

func TestAddItemMergesSameSelection(t *testing.T) {
	e := newEngine(t, testPolicy, nil, nil)

	p := product("p1", 1500)
	attrs := map[string]string{"size": "M", "color": "red"}

	e.AddItem(p, nil, 2, attrs)
	e.AddItem(p, nil, 3, map[string]string{"color": "red", "size": "M"})

	st := e.State()
	if len(st.Items) != 1 {
		t.Fatalf("expected 1 line, got %d", len(st.Items))
	}
	if st.Items[0].Quantity != 5 {
		t.Fatalf("expected merged quantity 5, got %d", st.Items[0].Quantity)
	}
}

func TestAddItemDistinctAttributesOpenNewLines(t *testing.T) {
	e := newEngine(t, testPolicy, nil, nil)

	p := product("p1", 1500)
	e.AddItem(p, nil, 1, map[string]string{"size": "M"})
	e.AddItem(p, nil, 1, map[string]string{"size": "L"})

	st := e.State()
	if len(st.Items) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(st.Items))
	}

	if got := e.ItemQuantity("p1", ""); got != 2 {
		t.Fatalf("expected aggregated quantity 2, got %d", got)
	}
	if !e.Contains("p1", "") {
		t.Fatal("expected cart to contain p1")
	}
	if e.Contains("p2", "") {
		t.Fatal("did not expect cart to contain p2")
	}
}

func TestAddItemClampsToStock(t *testing.T) {
	e := newEngine(t, testPolicy, nil, nil)

	p := product("p1", 1000)
	p.Stock = intPtr(4)

	e.AddItem(p, nil, 2, nil)
	e.AddItem(p, nil, 3, nil)

	st := e.State()
	if len(st.Items) != 1 {
		t.Fatalf("expected 1 line, got %d", len(st.Items))
	}
	if st.Items[0].Quantity != 4 {
		t.Fatalf("expected quantity clamped to 4, got %d", st.Items[0].Quantity)
	}
}

func TestVariantOverridesPriceAndStock(t *testing.T) {
	e := newEngine(t, testPolicy, nil, nil)

	p := product("p1", 1000)
	p.Stock = intPtr(10)
	vPrice := int64(1200)
	v := &cart.Variant{ID: "v1", SKU: "SKU-v1", Price: &vPrice, Stock: intPtr(3)}

	it := e.AddItem(p, v, 5, nil)

	if it.Price != 1200 {
		t.Fatalf("expected variant price 1200, got %d", it.Price)
	}
	if it.SKU != "SKU-v1" {
		t.Fatalf("expected variant sku, got %s", it.SKU)
	}
	if it.Quantity != 3 {
		t.Fatalf("expected quantity clamped to variant stock 3, got %d", it.Quantity)
	}
	if got := e.ItemQuantity("p1", "v1"); got != 3 {
		t.Fatalf("expected variant quantity 3, got %d", got)
	}
}

func TestQuantityConservation(t *testing.T) {
	e := newEngine(t, testPolicy, nil, nil)

	a := e.AddItem(product("p1", 100), nil, 3, nil)
	b := e.AddItem(product("p2", 200), nil, 2, nil)
	e.AddItem(product("p3", 300), nil, 1, nil)

	e.UpdateQuantity(a.ID, 5)
	e.UpdateQuantity(b.ID, 0)
	e.RemoveItem("does-not-exist")

	st := e.State()
	var sum int
	for _, it := range st.Items {
		if it.Quantity < 1 {
			t.Fatalf("line %s has quantity %d", it.ID, it.Quantity)
		}
		sum += it.Quantity
	}
	if got := e.TotalItems(); got != sum {
		t.Fatalf("TotalItems %d does not match line sum %d", got, sum)
	}
	if sum != 6 {
		t.Fatalf("expected 6 items total, got %d", sum)
	}
}

func TestUpdateQuantityZeroRemovesLine(t *testing.T) {
	e := newEngine(t, testPolicy, nil, nil)

	it := e.AddItem(product("p1", 100), nil, 2, nil)
	e.UpdateQuantity(it.ID, -1)

	if len(e.State().Items) != 0 {
		t.Fatal("expected line to be removed")
	}
}

func TestWorkedExampleTotals(t *testing.T) {
	rules := discount.NewRules(discount.Rule{Code: "SAVE20", Type: cart.Percentage, Value: 20})
	e := newEngine(t, testPolicy, nil, rules)

	e.AddItem(product("p1", 100000), nil, 1, nil)

	if err := e.ApplyCoupon(context.Background(), "SAVE20"); err != nil {
		t.Fatalf("applying coupon: %v", err)
	}

	tot := e.Totals()
	want := cart.Totals{
		Subtotal:   100000,
		Discount:   20000,
		Shipping:   0, // above the free shipping threshold
		Tax:        10000,
		Total:      90000,
		TotalItems: 1,
	}
	if diff := cmp.Diff(want, tot); diff != "" {
		t.Fatalf("totals mismatch (-want +got):\n%s", diff)
	}
}

func TestShippingBelowThreshold(t *testing.T) {
	e := newEngine(t, testPolicy, nil, nil)

	e.AddItem(product("p1", 1000), nil, 1, nil)

	if got := e.Shipping(); got != 500 {
		t.Fatalf("expected flat shipping 500, got %d", got)
	}
	if got := e.FinalTotal(); got != 1000+500+100 {
		t.Fatalf("expected total 1600, got %d", got)
	}
}

func TestDiscountsApplySequentially(t *testing.T) {
	rules := discount.NewRules(
		discount.Rule{Code: "SAVE20", Type: cart.Percentage, Value: 20},
		discount.Rule{Code: "OFF90K", Type: cart.Fixed, Value: 90000},
	)
	e := newEngine(t, testPolicy, nil, rules)

	e.AddItem(product("p1", 100000), nil, 1, nil)

	if err := e.ApplyCoupon(context.Background(), "SAVE20"); err != nil {
		t.Fatal(err)
	}
	if err := e.ApplyCoupon(context.Background(), "OFF90K"); err != nil {
		t.Fatal(err)
	}

	// 20% takes 20000, the fixed 90000 is capped at the remaining 80000.
	if got := e.DiscountTotal(); got != 100000 {
		t.Fatalf("expected aggregate discount 100000, got %d", got)
	}
	// Tax is computed on the pre-discount subtotal.
	if got := e.FinalTotal(); got != 10000 {
		t.Fatalf("expected final total 10000, got %d", got)
	}
}

func TestFinalTotalNeverNegative(t *testing.T) {
	policy := cart.Policy{TaxRateBP: 0, ShippingCost: 0, FreeShippingThreshold: 1}
	rules := discount.NewRules(discount.Rule{Code: "HUGE", Type: cart.Fixed, Value: 1 << 40})
	e := newEngine(t, policy, nil, rules)

	e.AddItem(product("p1", 500), nil, 1, nil)

	if err := e.ApplyCoupon(context.Background(), "HUGE"); err != nil {
		t.Fatal(err)
	}

	if got := e.FinalTotal(); got != 0 {
		t.Fatalf("expected final total floored at 0, got %d", got)
	}
	if got := e.DiscountTotal(); got != 500 {
		t.Fatalf("expected discount capped at subtotal, got %d", got)
	}
}

func TestTaxAfterDiscountToggle(t *testing.T) {
	policy := testPolicy
	policy.TaxAfterDiscount = true

	rules := discount.NewRules(discount.Rule{Code: "SAVE20", Type: cart.Percentage, Value: 20})
	e := newEngine(t, policy, nil, rules)

	e.AddItem(product("p1", 100000), nil, 1, nil)
	if err := e.ApplyCoupon(context.Background(), "SAVE20"); err != nil {
		t.Fatal(err)
	}

	if got := e.Tax(); got != 8000 {
		t.Fatalf("expected tax on discounted subtotal 8000, got %d", got)
	}
}

type countingValidator struct {
	mu    sync.Mutex
	inner cart.CouponValidator
	calls int
}

func (c *countingValidator) Validate(ctx context.Context, state cart.State, code string) (cart.AppliedDiscount, error) {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
	return c.inner.Validate(ctx, state, code)
}

func TestRemoveCouponRevalidatesOnReapply(t *testing.T) {
	rules := discount.NewRules(discount.Rule{Code: "SAVE10", Type: cart.Percentage, Value: 10})
	counting := &countingValidator{inner: rules}
	e := newEngine(t, testPolicy, nil, counting)

	e.AddItem(product("p1", 10000), nil, 1, nil)

	if err := e.ApplyCoupon(context.Background(), "SAVE10"); err != nil {
		t.Fatal(err)
	}
	if got := e.DiscountTotal(); got != 1000 {
		t.Fatalf("expected discount 1000, got %d", got)
	}

	// Re-applying a present code short-circuits without a service call.
	if err := e.ApplyCoupon(context.Background(), "SAVE10"); err != nil {
		t.Fatal(err)
	}
	if counting.calls != 1 {
		t.Fatalf("expected 1 validation call, got %d", counting.calls)
	}

	e.RemoveCoupon("SAVE10")
	if got := e.DiscountTotal(); got != 0 {
		t.Fatalf("expected discount 0 after removal, got %d", got)
	}

	if err := e.ApplyCoupon(context.Background(), "SAVE10"); err != nil {
		t.Fatal(err)
	}
	if counting.calls != 2 {
		t.Fatalf("expected re-apply to revalidate, got %d calls", counting.calls)
	}
}

func TestApplyCouponFailureLeavesStateAlone(t *testing.T) {
	rules := discount.NewRules(discount.Rule{Code: "MIN", Type: cart.Fixed, Value: 100, MinSpend: 100000})
	e := newEngine(t, testPolicy, nil, rules)

	e.AddItem(product("p1", 500), nil, 1, nil)
	before := e.State().LastUpdated

	err := e.ApplyCoupon(context.Background(), "MIN")
	if err == nil {
		t.Fatal("expected coupon rejection")
	}
	if reason, ok := discount.ReasonOf(err); !ok || reason != discount.ReasonMinNotMet {
		t.Fatalf("expected MIN_NOT_MET, got %v", err)
	}

	st := e.State()
	if len(st.AppliedDiscounts) != 0 {
		t.Fatal("expected no discounts applied")
	}
	if st.Err == "" {
		t.Fatal("expected state error to be set")
	}
	if !st.LastUpdated.Equal(before) {
		t.Fatal("failed coupon application must not bump lastUpdated")
	}

	err = e.ApplyCoupon(context.Background(), "NOPE")
	if reason, ok := discount.ReasonOf(err); !ok || reason != discount.ReasonInvalidCode {
		t.Fatalf("expected INVALID_CODE, got %v", err)
	}
}

func TestConcurrentCouponsBothApply(t *testing.T) {
	rules := discount.NewRules(
		discount.Rule{Code: "A", Type: cart.Percentage, Value: 10},
		discount.Rule{Code: "B", Type: cart.Percentage, Value: 10},
	)
	e := newEngine(t, testPolicy, nil, rules)

	e.AddItem(product("p1", 100000), nil, 1, nil)

	var wg sync.WaitGroup
	for _, code := range []string{"A", "B"} {
		wg.Add(1)
		go func(code string) {
			defer wg.Done()
			if err := e.ApplyCoupon(context.Background(), code); err != nil {
				t.Errorf("applying %s: %v", code, err)
			}
		}(code)
	}
	wg.Wait()

	st := e.State()
	if len(st.AppliedDiscounts) != 2 {
		t.Fatalf("expected both coupons applied, got %d", len(st.AppliedDiscounts))
	}

	// 10% of 100000, then 10% of the remaining 90000: no double counting.
	if got := e.DiscountTotal(); got != 19000 {
		t.Fatalf("expected sequential discount 19000, got %d", got)
	}
}

func TestClearResetsEverything(t *testing.T) {
	rules := discount.NewRules(discount.Rule{Code: "SAVE10", Type: cart.Percentage, Value: 10})
	e := newEngine(t, testPolicy, nil, rules)

	e.AddItem(product("p1", 1000), nil, 2, nil)
	if err := e.ApplyCoupon(context.Background(), "SAVE10"); err != nil {
		t.Fatal(err)
	}

	e.Clear()

	st := e.State()
	if len(st.Items) != 0 || len(st.AppliedDiscounts) != 0 || st.CouponCode != "" {
		t.Fatalf("expected empty state, got %+v", st)
	}
	if e.Subtotal() != 0 || e.TotalItems() != 0 || e.FinalTotal() != 0 {
		t.Fatal("expected zero totals after clear")
	}
}

func TestToggleDoesNotTouchTotals(t *testing.T) {
	e := newEngine(t, testPolicy, nil, nil)
	e.AddItem(product("p1", 1000), nil, 1, nil)

	before := e.Totals()
	e.Toggle()
	if !e.State().IsOpen {
		t.Fatal("expected cart open after toggle")
	}
	e.Close()
	if e.State().IsOpen {
		t.Fatal("expected cart closed")
	}
	e.Open()
	if !e.State().IsOpen {
		t.Fatal("expected cart open")
	}

	if diff := cmp.Diff(before, e.Totals()); diff != "" {
		t.Fatalf("totals changed by visibility flag (-want +got):\n%s", diff)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	store := storage.NewMemory()
	rules := discount.NewRules(discount.Rule{Code: "SAVE10", Type: cart.Percentage, Value: 10})

	e := cart.NewEngine("round-trip", testPolicy, store, rules, testLogger())
	e.AddItem(product("p1", 2500), nil, 2, map[string]string{"size": "M"})
	e.AddItem(product("p2", 1000), nil, 1, nil)
	if err := e.ApplyCoupon(context.Background(), "SAVE10"); err != nil {
		t.Fatal(err)
	}
	e.Flush()

	fresh := cart.NewEngine("round-trip", testPolicy, store, rules, testLogger())
	fresh.Load(context.Background())

	got, want := fresh.State(), e.State()
	if diff := cmp.Diff(want.Items, got.Items); diff != "" {
		t.Fatalf("items mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(want.AppliedDiscounts, got.AppliedDiscounts); diff != "" {
		t.Fatalf("discounts mismatch (-want +got):\n%s", diff)
	}
	if got.CouponCode != want.CouponCode {
		t.Fatalf("coupon code mismatch: want %q, got %q", want.CouponCode, got.CouponCode)
	}
}

func TestLoadCorruptSnapshotFallsBackToEmpty(t *testing.T) {
	store := storage.NewMemory()
	if err := store.Write(context.Background(), "corrupt", []byte("{not json")); err != nil {
		t.Fatal(err)
	}

	e := cart.NewEngine("corrupt", testPolicy, store, discount.NewRules(), testLogger())
	e.Load(context.Background())

	if len(e.State().Items) != 0 {
		t.Fatal("expected empty state after corrupt snapshot")
	}
}

func TestLoadMalformedSnapshotFallsBackToEmpty(t *testing.T) {
	store := storage.NewMemory()
	// Valid JSON, invalid shape: zero quantity breaks the line invariant.
	bad := []byte(`{"items":[{"id":"x","productId":"p1","price":100,"quantity":0}],"appliedDiscounts":[],"lastUpdated":"2024-01-01T00:00:00Z"}`)
	if err := store.Write(context.Background(), "bad-shape", bad); err != nil {
		t.Fatal(err)
	}

	e := cart.NewEngine("bad-shape", testPolicy, store, discount.NewRules(), testLogger())
	e.Load(context.Background())

	if len(e.State().Items) != 0 {
		t.Fatal("expected malformed snapshot to be rejected")
	}
}

func TestLoadIgnoresStaleSnapshot(t *testing.T) {
	store := storage.NewMemory()
	rules := discount.NewRules()

	e := cart.NewEngine("stale", testPolicy, store, rules, testLogger())
	e.AddItem(product("p-old", 100), nil, 1, nil)
	e.Flush()

	time.Sleep(5 * time.Millisecond)

	fresh := cart.NewEngine("stale", testPolicy, store, rules, testLogger())
	fresh.AddItem(product("p-new", 200), nil, 1, nil)
	fresh.Load(context.Background())

	st := fresh.State()
	if len(st.Items) != 1 || st.Items[0].ProductID != "p-new" {
		t.Fatalf("expected newer in-memory state to win, got %+v", st.Items)
	}
}

func TestValidateFlagsStockAndInactiveLines(t *testing.T) {
	store := storage.NewMemory()
	snap := []byte(`{
		"items":[
			{"id":"l1","productId":"p1","name":"over","price":100,"quantity":6,"maxQuantity":5,"active":true},
			{"id":"l2","productId":"p2","name":"gone","price":100,"quantity":1,"active":false},
			{"id":"l3","productId":"p3","name":"edge","price":100,"quantity":3,"maxQuantity":3,"active":true},
			{"id":"l4","productId":"p4","name":"fine","price":100,"quantity":1,"active":true}
		],
		"appliedDiscounts":[],
		"lastUpdated":"2024-01-01T00:00:00Z"}`)
	if err := store.Write(context.Background(), "validate", snap); err != nil {
		t.Fatal(err)
	}

	e := cart.NewEngine("validate", testPolicy, store, discount.NewRules(), testLogger())
	e.Load(context.Background())

	res := e.Validate()
	if res.OK() {
		t.Fatal("expected validation errors")
	}
	if len(res.Errors) != 2 {
		t.Fatalf("expected 2 errors, got %+v", res.Errors)
	}
	if len(res.Warnings) != 1 {
		t.Fatalf("expected 1 warning, got %+v", res.Warnings)
	}
	if res.Errors[0].ItemID != "l1" || res.Errors[1].ItemID != "l2" {
		t.Fatalf("unexpected error lines: %+v", res.Errors)
	}
	if res.Warnings[0].ItemID != "l3" {
		t.Fatalf("unexpected warning line: %+v", res.Warnings)
	}
}

func TestSubscribeSeesEveryMutation(t *testing.T) {
	e := newEngine(t, testPolicy, nil, nil)

	var mu sync.Mutex
	var seen []int
	e.Subscribe(func(st cart.State) {
		mu.Lock()
		defer mu.Unlock()
		var sum int
		for _, it := range st.Items {
			sum += it.Quantity
		}
		seen = append(seen, sum)
	})

	it := e.AddItem(product("p1", 100), nil, 2, nil)
	e.UpdateQuantity(it.ID, 4)
	e.RemoveItem(it.ID)

	mu.Lock()
	defer mu.Unlock()
	if diff := cmp.Diff([]int{2, 4, 0}, seen); diff != "" {
		t.Fatalf("listener snapshots mismatch (-want +got):\n%s", diff)
	}
}

func TestManagerReturnsSameEnginePerKey(t *testing.T) {
	store := storage.NewMemory()
	m := cart.NewManager(testPolicy, store, discount.NewRules(), testLogger())

	ctx := context.Background()
	a := m.Get(ctx, "alice")
	b := m.Get(ctx, "bob")
	if a == b {
		t.Fatal("expected distinct engines per key")
	}
	if m.Get(ctx, "alice") != a {
		t.Fatal("expected the same engine for a repeated key")
	}

	a.AddItem(product("p1", 100), nil, 1, nil)
	if b.TotalItems() != 0 {
		t.Fatal("expected carts to be isolated")
	}
}

func TestManagerHydratesFromStore(t *testing.T) {
	store := storage.NewMemory()
	rules := discount.NewRules()

	m := cart.NewManager(testPolicy, store, rules, testLogger())
	e := m.Get(context.Background(), "returning")
	e.AddItem(product("p1", 700), nil, 2, nil)
	e.Flush()

	// A new manager simulates a process restart.
	m2 := cart.NewManager(testPolicy, store, rules, testLogger())
	e2 := m2.Get(context.Background(), "returning")

	if got := e2.TotalItems(); got != 2 {
		t.Fatalf("expected hydrated cart with 2 items, got %d", got)
	}
}
