package middleware

import (
	"context"
	"net/http"

	"github.com/alexedwards/scs/v2"
	"github.com/irsalhamdi/e-commerce-cart/api/web"
)

// Session loads and commits the scs session around the handler. The cart
// scope key lives in this session; no authentication is attached to it.
func Session(m *scs.SessionManager) web.Middleware {
	mw := func(handler web.Handler) web.Handler {
		h := func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
			var err error

			wrapped := m.LoadAndSave(http.HandlerFunc(func(ww http.ResponseWriter, rr *http.Request) {
				err = handler(rr.Context(), ww, rr)
			}))
			wrapped.ServeHTTP(w, r)

			return err
		}
		return h
	}
	return mw
}
