package worker

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/microboard/eventrelay/internal/config"
	"github.com/microboard/eventrelay/internal/db"
	"github.com/microboard/eventrelay/internal/dlt"
	"github.com/microboard/eventrelay/internal/kafka"
	"github.com/microboard/eventrelay/internal/logger"
	"github.com/microboard/eventrelay/internal/metrics"
	"github.com/microboard/eventrelay/internal/model"
	"github.com/microboard/eventrelay/internal/repository"
)

var dltCmd = &cobra.Command{
	Use:   "dlt",
	Short: "Run the dead-letter consumer (persist poison messages for triage)",
	RunE:  runDLT,
}

func runDLT(cmd *cobra.Command, args []string) error {
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

	// 3) one reader over every dead-letter topic
	suffix := cfg.Kafka.DLTSuffix
	if suffix == "" {
		suffix = ".DLT"
	}
	topics := make([]string, 0, len(model.Topics()))
	for _, t := range model.Topics() {
		topics = append(topics, t+suffix)
	}

	groupID := cfg.Kafka.GroupID
	if groupID == "" {
		groupID = "evrelay"
	}
	groupID = groupID + "-dlt"

	consumer := kafka.NewConsumer(kafka.ConsumerConfig{
		Brokers:        cfg.Kafka.Brokers,
		Topics:         topics,
		GroupID:        groupID,
		MinBytes:       cfg.Kafka.MinBytes,
		MaxBytes:       cfg.Kafka.MaxBytes,
		CommitInterval: time.Duration(cfg.Kafka.CommitInterval) * time.Millisecond,
	})
	defer consumer.Close()

	c := dlt.NewConsumer(consumer, repository.NewDeadLetterRepository(dbx), suffix, logger.Log)

	// graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Printf(">> dlt consumer started group=%s topics=%v", groupID, topics)

	return c.Run(ctx)
}
