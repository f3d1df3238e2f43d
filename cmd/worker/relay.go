package worker

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/microboard/eventrelay/internal/config"
	"github.com/microboard/eventrelay/internal/db"
	"github.com/microboard/eventrelay/internal/kafka"
	"github.com/microboard/eventrelay/internal/logger"
	"github.com/microboard/eventrelay/internal/metrics"
	"github.com/microboard/eventrelay/internal/relay"
	"github.com/microboard/eventrelay/internal/repository"
)

var relayCmd = &cobra.Command{
	Use:   "relay",
	Short: "Run the outbox relay (poll PENDING rows, publish to Kafka)",
	RunE:  runRelay,
}

func runRelay(cmd *cobra.Command, args []string) error {
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

	// 3) kafka producer
	producer := kafka.NewProducer(kafka.ProducerConfig{
		Brokers:     cfg.Kafka.Brokers,
		SendTimeout: cfg.Kafka.SendTimeout,
	})
	defer producer.Close()

	// 4) relay
	r := relay.New(repository.NewOutboxRepository(dbx), producer, logger.Log)

	// tune knobs
	if cfg.Relay.PollInterval > 0 {
		r.PollInterval = cfg.Relay.PollInterval
	}
	if cfg.Relay.BatchSize > 0 {
		r.BatchSize = cfg.Relay.BatchSize
	}
	if cfg.Relay.Cutoff > 0 {
		r.Cutoff = cfg.Relay.Cutoff
	}
	if cfg.Relay.ClaimLease > 0 {
		r.ClaimLease = cfg.Relay.ClaimLease
	}
	if cfg.Relay.FanOut > 0 {
		r.FanOut = cfg.Relay.FanOut
	}
	if cfg.Relay.MaxRetry > 0 {
		r.MaxRetry = cfg.Relay.MaxRetry
	}
	if cfg.Kafka.DLTSuffix != "" {
		r.DLTSuffix = cfg.Kafka.DLTSuffix
	}
	if cfg.Relay.SentMode != "" {
		r.SentMode = cfg.Relay.SentMode
	}

	// archive mode needs the ClickHouse sink
	if r.SentMode == relay.SentModeArchive {
		chDB, err := db.NewClickHouseConnection(db.ClickHouseOpts{
			DSN:             cfg.ClickHouse.DSN,
			MaxOpenConns:    cfg.ClickHouse.MaxOpenConns,
			MaxIdleConns:    cfg.ClickHouse.MaxIdleConns,
			ConnMaxLifetime: cfg.ClickHouse.ConnMaxLifetime,
			ConnMaxIdleTime: cfg.ClickHouse.ConnMaxIdleTime,
			PingTimeout:     cfg.ClickHouse.PingTimeout,
		})
		if err != nil {
			return fmt.Errorf("clickhouse connect: %w", err)
		}
		defer func() { _ = chDB.Close() }()
		r.Archive = repository.NewArchiveRepository(chDB)
	}

	// graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Printf(">> relay started interval=%s batchSize=%d maxRetry=%d sentMode=%s",
		r.PollInterval, r.BatchSize, r.MaxRetry, r.SentMode)

	return r.Run(ctx)
}
