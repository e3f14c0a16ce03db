package cart

import (
	"context"
	"errors"
	"net/http"

	"github.com/alexedwards/scs/v2"
	"github.com/irsalhamdi/e-commerce-cart/api/web"
	"github.com/irsalhamdi/e-commerce-cart/api/weberr"
	"github.com/irsalhamdi/e-commerce-cart/random"
	"github.com/irsalhamdi/e-commerce-cart/rate"
	"github.com/irsalhamdi/e-commerce-cart/validate"
)

type couponReasoner interface{ CouponReason() string }

// couponStatus maps a coupon rejection to its HTTP status: transport
// faults are 503, every business rejection is 422.
func couponStatus(err error) int {
	var cr couponReasoner
	if errors.As(err, &cr) && cr.CouponReason() == "UNAVAILABLE" {
		return http.StatusServiceUnavailable
	}
	return http.StatusUnprocessableEntity
}

const scopeSessionKey = "cart_key"

// scope returns the cart key bound to the current session, minting one on
// first touch. Carts are anonymous: the scope outlives login state.
func scope(ctx context.Context, sess *scs.SessionManager) string {
	key := sess.GetString(ctx, scopeSessionKey)
	if key == "" {
		key = random.String(24)
		sess.Put(ctx, scopeSessionKey, key)
	}
	return key
}

func HandleShow(carts *Manager, sess *scs.SessionManager) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		eng := carts.Get(ctx, scope(ctx, sess))
		return web.Respond(ctx, w, eng.State(), http.StatusOK)
	}
}

func HandleTotals(carts *Manager, sess *scs.SessionManager) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		eng := carts.Get(ctx, scope(ctx, sess))
		return web.Respond(ctx, w, eng.Totals(), http.StatusOK)
	}
}

func HandleAddItem(carts *Manager, sess *scs.SessionManager) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		var in ItemNew
		if err := web.Decode(w, r, &in); err != nil {
			return weberr.BadRequest(err)
		}
		if err := validate.Check(in); err != nil {
			return weberr.NewError(err, err.Error(), http.StatusUnprocessableEntity)
		}

		eng := carts.Get(ctx, scope(ctx, sess))
		eng.AddItem(in.Product, in.Variant, in.Quantity, in.Attributes)
		return web.Respond(ctx, w, eng.State(), http.StatusOK)
	}
}

func HandleUpdateItem(carts *Manager, sess *scs.SessionManager) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		var in QuantityUp
		if err := web.Decode(w, r, &in); err != nil {
			return weberr.BadRequest(err)
		}

		eng := carts.Get(ctx, scope(ctx, sess))
		eng.UpdateQuantity(web.Param(r, "id"), in.Quantity)
		return web.Respond(ctx, w, eng.State(), http.StatusOK)
	}
}

func HandleDeleteItem(carts *Manager, sess *scs.SessionManager) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		eng := carts.Get(ctx, scope(ctx, sess))
		eng.RemoveItem(web.Param(r, "id"))
		return web.Respond(ctx, w, eng.State(), http.StatusOK)
	}
}

func HandleClear(carts *Manager, sess *scs.SessionManager) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		eng := carts.Get(ctx, scope(ctx, sess))
		eng.Clear()
		return web.Respond(ctx, w, eng.State(), http.StatusOK)
	}
}

func HandleApplyCoupon(carts *Manager, sess *scs.SessionManager, lim *rate.Limiter) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		var in CouponNew
		if err := web.Decode(w, r, &in); err != nil {
			return weberr.BadRequest(err)
		}
		if err := validate.Check(in); err != nil {
			return weberr.NewError(err, err.Error(), http.StatusUnprocessableEntity)
		}

		key := scope(ctx, sess)
		if !lim.Check(key) {
			err := errors.New("too many coupon attempts")
			return weberr.NewError(err, err.Error(), http.StatusTooManyRequests)
		}

		eng := carts.Get(ctx, key)
		if err := eng.ApplyCoupon(ctx, in.Code); err != nil {
			return weberr.NewError(err, err.Error(), couponStatus(err))
		}
		return web.Respond(ctx, w, eng.State(), http.StatusOK)
	}
}

func HandleRemoveCoupon(carts *Manager, sess *scs.SessionManager) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		eng := carts.Get(ctx, scope(ctx, sess))
		eng.RemoveCoupon(web.Param(r, "code"))
		return web.Respond(ctx, w, eng.State(), http.StatusOK)
	}
}

func HandleValidate(carts *Manager, sess *scs.SessionManager) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		eng := carts.Get(ctx, scope(ctx, sess))
		return web.Respond(ctx, w, eng.Validate(), http.StatusOK)
	}
}
