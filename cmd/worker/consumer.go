package worker

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/microboard/eventrelay/internal/config"
	"github.com/microboard/eventrelay/internal/db"
	"github.com/microboard/eventrelay/internal/dispatch"
	"github.com/microboard/eventrelay/internal/handler"
	"github.com/microboard/eventrelay/internal/kafka"
	"github.com/microboard/eventrelay/internal/logger"
	"github.com/microboard/eventrelay/internal/metrics"
	"github.com/microboard/eventrelay/internal/model"
	"github.com/microboard/eventrelay/internal/repository"
)

var consumerCmd = &cobra.Command{
	Use:   "consumer",
	Short: "Run event consumers (one dispatcher per topic)",
	RunE:  runConsumer,
}

func runConsumer(cmd *cobra.Command, args []string) error {
	// 1) load config
	cfgPath, _ := cmd.Root().PersistentFlags().GetString("config")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger.Init(cfg.Log.Level)

	metrics.MustRegister(prometheus.DefaultRegisterer)

	// 2) DB connection (MySQL)
	dbx, err := db.NewMySQLConnection(cfg.MySQL.DSN, db.MySQLOpts{
		MaxOpenConns:    cfg.MySQL.MaxOpenConns,
		MaxIdleConns:    cfg.MySQL.MaxIdleConns,
		ConnMaxLifetime: cfg.MySQL.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.MySQL.ConnMaxIdleTime,
		PingTimeout:     cfg.MySQL.PingTimeout,
	})
	if err != nil {
		return fmt.Errorf("mysql connect: %w", err)
	}
	defer dbx.Close()

	// 3) redis dedup cache; the durable inbox works without it
	redisClient, err := db.NewRedisClient(db.RedisOpts{
		Addr:        cfg.Redis.Addr,
		Password:    cfg.Redis.Password,
		DB:          cfg.Redis.DB,
		DialTimeout: cfg.Redis.DialTimeout,
	})
	if err != nil {
		log.Printf("redis unavailable, dedup falls back to MySQL only: %v", err)
		redisClient = nil
	} else {
		defer func() { _ = redisClient.Close() }()
	}

	// 4) handler registry, built once and injected
	metricsRepo := repository.NewMetricsRepository(dbx)
	registry := dispatch.NewRegistry(logger.Log,
		handler.ArticleCreatedHandler{Metrics: metricsRepo},
		handler.ArticleDeletedHandler{Metrics: metricsRepo},
		handler.CommentCreatedHandler{Metrics: metricsRepo},
		handler.CommentDeletedHandler{Metrics: metricsRepo},
		handler.ArticleLikedHandler{Metrics: metricsRepo},
		handler.ArticleUnlikedHandler{Metrics: metricsRepo},
		handler.ArticleViewedHandler{Metrics: metricsRepo},
	)

	// 5) DLT producer shared by all dispatchers
	producer := kafka.NewProducer(kafka.ProducerConfig{
		Brokers:     cfg.Kafka.Brokers,
		SendTimeout: cfg.Kafka.SendTimeout,
	})
	defer producer.Close()

	groupID := cfg.Kafka.GroupID
	if groupID == "" {
		groupID = "evrelay"
	}

	dedup := dispatch.NewDedup(
		repository.NewInboxRepository(dbx),
		redisClient,
		groupID,
		cfg.Consumer.DedupTTL,
		logger.Log,
	)

	// 6) graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 7) one dispatcher per topic; partition order holds inside each
	var wg sync.WaitGroup
	for _, topic := range model.Topics() {
		consumer := kafka.NewConsumer(kafka.ConsumerConfig{
			Brokers:        cfg.Kafka.Brokers,
			Topics:         []string{topic},
			GroupID:        groupID,
			MinBytes:       cfg.Kafka.MinBytes,
			MaxBytes:       cfg.Kafka.MaxBytes,
			CommitInterval: time.Duration(cfg.Kafka.CommitInterval) * time.Millisecond,
		})
		defer consumer.Close()

		d := dispatch.NewDispatcher(topic, consumer, registry, producer, logger.Log)
		d.Dedup = dedup
		if cfg.Kafka.DLTSuffix != "" {
			d.DLTSuffix = cfg.Kafka.DLTSuffix
		}
		if cfg.Consumer.RetryInitialDelay > 0 {
			d.Backoff.InitialDelay = cfg.Consumer.RetryInitialDelay
		}
		if cfg.Consumer.RetryMultiplier > 1 {
			d.Backoff.Multiplier = cfg.Consumer.RetryMultiplier
		}
		if cfg.Consumer.RetryMaxAttempts > 0 {
			d.Backoff.MaxAttempts = cfg.Consumer.RetryMaxAttempts
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := d.Run(ctx); err != nil {
				log.Printf("dispatcher %s exited: %v", d.Topic, err)
			}
		}()
	}

	log.Printf(">> consumer started group=%s topics=%v retryMaxAttempts=%d",
		groupID, model.Topics(), cfg.Consumer.RetryMaxAttempts)

	wg.Wait()
	return nil
}
