package config

import "time"

type Config struct {
	Web      Web
	Cors     Cors
	Cart     Pricing
	Discount Discount
	Storage  Storage
	DB       DB
	Redis    Redis
	Session  Session
}

type Web struct {
	Address         string        `conf:"default:0.0.0.0:8000"`
	ReadTimeout     time.Duration `conf:"default:5s"`
	WriteTimeout    time.Duration `conf:"default:10s"`
	IdleTimeout     time.Duration `conf:"default:120s"`
	ShutdownTimeout time.Duration `conf:"default:20s"`
}

type Cors struct {
	Origin string
}

// Pricing drives the derived totals. Monetary values are cents; the tax
// rate is basis points.
type Pricing struct {
	TaxRateBP             int64 `conf:"default:1000"`
	ShippingCost          int64 `conf:"default:500"`
	FreeShippingThreshold int64 `conf:"default:10000"`
	TaxAfterDiscount      bool  `conf:"default:false"`
}

type Discount struct {
	URL      string        `conf:"default:http://localhost:9000/discounts/validate"`
	Timeout  time.Duration `conf:"default:5s"`
	LimitRPS float64       `conf:"default:1"`
	Burst    int           `conf:"default:5"`
	Expiry   int           `conf:"default:60"`
}

// Storage selects the snapshot backend: memory, file, redis or postgres.
type Storage struct {
	Backend string `conf:"default:file"`
	Dir     string `conf:"default:./carts"`
}

type DB struct {
	User       string `conf:"default:postgres"`
	Password   string `conf:"default:postgres,mask"`
	Host       string `conf:"default:localhost"`
	Name       string `conf:"default:cart"`
	DisableTLS bool   `conf:"default:true"`
}

type Redis struct {
	Addr string        `conf:"default:localhost:6379"`
	TTL  time.Duration `conf:"default:720h"`
}

type Session struct {
	Lifetime time.Duration `conf:"default:720h"`
}
