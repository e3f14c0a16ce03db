package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alexedwards/scs/v2"
	"github.com/ardanlabs/conf/v3"
	"github.com/irsalhamdi/e-commerce-cart/api"
	"github.com/irsalhamdi/e-commerce-cart/config"
	"github.com/irsalhamdi/e-commerce-cart/core/cart"
	"github.com/irsalhamdi/e-commerce-cart/core/discount"
	"github.com/irsalhamdi/e-commerce-cart/database"
	"github.com/irsalhamdi/e-commerce-cart/rate"
	"github.com/irsalhamdi/e-commerce-cart/storage"
	"github.com/sirupsen/logrus"
)

func main() {
	log := logrus.New()
	log.SetOutput(os.Stdout)

	if err := Run(log); err != nil {
		log.Error(err)
		os.Exit(1)
	}
}

func Run(logger *logrus.Logger) error {
	logger.Infof("starting server")
	defer logger.Info("shutdown complete")

	const prefix = "CART"
	var cfg config.Config
	if _, err := conf.Parse(prefix, &cfg); err != nil {
		return fmt.Errorf("parsing config: %w", err)
	}

	lw := logger.Writer()
	defer lw.Close()
	errLog := log.New(lw, "", 0)

	store, err := openStore(cfg, logger)
	if err != nil {
		return fmt.Errorf("opening snapshot store: %w", err)
	}

	sessionManager := scs.New()
	sessionManager.Lifetime = cfg.Session.Lifetime

	coupons := discount.NewClient(cfg.Discount.URL, cfg.Discount.Timeout)

	policy := cart.Policy{
		TaxRateBP:             cfg.Cart.TaxRateBP,
		ShippingCost:          cfg.Cart.ShippingCost,
		FreeShippingThreshold: cfg.Cart.FreeShippingThreshold,
		TaxAfterDiscount:      cfg.Cart.TaxAfterDiscount,
	}
	carts := cart.NewManager(policy, store, coupons, logger)

	limiter := rate.NewLimiter(cfg.Discount.Burst, cfg.Discount.Expiry, cfg.Discount.LimitRPS)

	mux := api.APIMux(api.APIConfig{
		CorsOrigin:    cfg.Cors.Origin,
		Log:           logger,
		Session:       sessionManager,
		Carts:         carts,
		CouponLimiter: limiter,
	})

	srv := http.Server{
		Handler:      mux,
		Addr:         cfg.Web.Address,
		ReadTimeout:  cfg.Web.ReadTimeout,
		WriteTimeout: cfg.Web.WriteTimeout,
		IdleTimeout:  cfg.Web.IdleTimeout,
		ErrorLog:     errLog,
	}

	serverErrors := make(chan error, 1)

	go func() {
		logger.Infof("starting api router at %s", srv.Addr)
		serverErrors <- srv.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)

	case sig := <-shutdown:
		logger.Infof("shutting down: signal %s", sig)

		ctx, cancel := context.WithTimeout(context.Background(), cfg.Web.ShutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			srv.Close()
			return fmt.Errorf("could not stop server gracefully: %w", err)
		}

		carts.Flush()
	}
	return nil
}

func openStore(cfg config.Config, logger *logrus.Logger) (storage.Store, error) {
	switch cfg.Storage.Backend {
	case "memory":
		logger.Warn("using in-memory snapshot store: carts will not survive a restart")
		return storage.NewMemory(), nil

	case "file":
		return storage.NewFile(cfg.Storage.Dir)

	case "redis":
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return storage.NewRedis(ctx, cfg.Redis.Addr, cfg.Redis.TTL)

	case "postgres":
		db, err := database.Open(cfg.DB)
		if err != nil {
			return nil, err
		}
		return storage.NewPostgres(db), nil

	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
}
