package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/mostproteins/order-service/internal/config"
	kafkax "github.com/mostproteins/order-service/internal/kafka"
	"github.com/mostproteins/order-service/internal/notify"
	"github.com/mostproteins/order-service/internal/orders"
	"github.com/mostproteins/order-service/internal/redisx"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if len(cfg.KafkaBrokers) == 0 {
		log.Fatalf("KAFKA_BROKERS is required for the notifier")
	}

	rdb := redisx.New(cfg.RedisAddr)
	if rdb != nil {
		defer rdb.Close()
	}
	if rdb == nil {
		log.Printf("WARNING: REDIS_ADDR not set; duplicate-confirmation suppression is reduced to the broker's delivery guarantees")
	}

	var sender notify.Sender = notify.LogSender{}
	if cfg.MailAPIURL != "" {
		sender = notify.NewHTTPSender(cfg.MailAPIURL)
	}

	svc := &notify.Service{
		Redis:       rdb,
		Sender:      sender,
		ServiceName: cfg.ServiceName + "-notifier",
	}

	cons := kafkax.NewConsumer(cfg.KafkaBrokers, cfg.NotifierGroup, orders.TopicOrderPaid, cfg.NotifierWorkers)

	go func() {
		log.Printf("notifier consumer started: group=%s topic=%s workers=%d",
			cfg.NotifierGroup, orders.TopicOrderPaid, cfg.NotifierWorkers)
		if err := cons.Start(ctx, svc.HandleOrderPaid); err != nil {
			log.Printf("consumer exit: %v", err)
			cancel()
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sig:
		log.Println("shutting down notifier...")
	case <-ctx.Done():
	}
	cancel()
	time.Sleep(500 * time.Millisecond)
}
