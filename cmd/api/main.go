package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/mostproteins/order-service/internal/config"
	"github.com/mostproteins/order-service/internal/httpx"
	kafkax "github.com/mostproteins/order-service/internal/kafka"
	"github.com/mostproteins/order-service/internal/orders"
	"github.com/mostproteins/order-service/internal/payments"
	"github.com/mostproteins/order-service/internal/postgres"
	"github.com/mostproteins/order-service/internal/redisx"
	"github.com/mostproteins/order-service/internal/webhook"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Store
	store, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatalf("open store (%s): %v", cfg.StoreDriver, err)
	}
	defer store.Close()
	if err := store.SeedProducts(ctx, orders.DefaultCatalog()); err != nil {
		log.Fatalf("seed products: %v", err)
	}

	// Redis (optional)
	rdb := redisx.New(cfg.RedisAddr)
	if rdb != nil {
		defer rdb.Close()
	}

	// Event bus: real producers when brokers are configured, log-only
	// otherwise.
	var (
		pubCreated  orders.Publisher = &orders.LogPublisher{}
		pubPaid     orders.Publisher = &orders.LogPublisher{}
		pubFailed   orders.Publisher = &orders.LogPublisher{}
		pubRefunded orders.Publisher = &orders.LogPublisher{}
		producers   []*kafkax.Producer
	)
	if len(cfg.KafkaBrokers) > 0 {
		mk := func(topic string) *kafkax.Producer {
			p := kafkax.NewProducer(cfg.KafkaBrokers, topic, 1024)
			p.Start(ctx)
			producers = append(producers, p)
			return p
		}
		pubCreated = mk(orders.TopicOrderCreated)
		pubPaid = mk(orders.TopicOrderPaid)
		pubFailed = mk(orders.TopicOrderPaymentFailed)
		pubRefunded = mk(orders.TopicOrderRefunded)
	}

	// Processor gateway & webhook dispatcher
	stripe := payments.NewClient(cfg.StripeSecretKey, cfg.StripeAPIBase)
	gateway := &payments.Gateway{Store: store, Client: stripe}
	dispatcher := &webhook.Dispatcher{
		Store:            store,
		Redis:            rdb,
		ProducerPaid:     pubPaid,
		ProducerFailed:   pubFailed,
		ProducerRefunded: pubRefunded,
		ServiceName:      cfg.ServiceName,
	}

	// Handlers
	limiter := httpx.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
	router := httpx.NewRouter()
	oh := &httpx.OrdersHandler{
		Store:       store,
		Producer:    pubCreated,
		Redis:       rdb,
		Limiter:     limiter,
		Service:     cfg.ServiceName,
		Currency:    cfg.Currency,
		AdminSecret: cfg.AdminJWTSecret,
		Pricing: orders.PricingConfig{
			ShippingFlatCents:    cfg.ShippingFlatCents,
			FreeShippingMinCents: cfg.FreeShippingMinCents,
			TaxRateBps:           cfg.TaxRateBps,
		},
	}
	oh.Register(router)
	ph := &httpx.PaymentsHandler{Gateway: gateway, Limiter: limiter, AdminSecret: cfg.AdminJWTSecret}
	ph.Register(router)
	wh := &httpx.WebhookHandler{Dispatcher: dispatcher, Secret: cfg.StripeWebhookSecret}
	wh.Register(router)

	if cfg.StripeWebhookSecret == "" {
		log.Printf("WARNING: STRIPE_WEBHOOK_SECRET not set; all webhook deliveries will be rejected")
	}
	if cfg.AdminJWTSecret == "" {
		log.Printf("WARNING: ADMIN_JWT_SECRET not set; admin endpoints are disabled")
	}

	// HTTP server
	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router}

	go func() {
		log.Printf("HTTP listening at %s (store=%s)", cfg.HTTPAddr, cfg.StoreDriver)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	// graceful shutdown
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Println("shutting down...")

	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	_ = srv.Shutdown(ctx2)
	for _, p := range producers {
		p.Close() // stop intake, flush what is buffered
	}
	cancel()
	for _, p := range producers {
		p.WaitClosed()
	}
}

func openStore(ctx context.Context, cfg config.Config) (orders.Store, error) {
	switch cfg.StoreDriver {
	case "memory":
		return orders.NewMemoryStore(cfg.MemorySnapshotPath)
	case "postgres":
		pool, err := postgres.Connect(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		st := orders.NewPostgresStore(pool)
		if err := st.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, err
		}
		return st, nil
	default:
		return orders.NewSQLiteStore(cfg.SQLitePath)
	}
}
