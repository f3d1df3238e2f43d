package cmd

import (
	"context"
	"fmt"
	"log"

	"github.com/spf13/cobra"

	"github.com/microboard/eventrelay/internal/config"
	"github.com/microboard/eventrelay/internal/db"
	"github.com/microboard/eventrelay/internal/idgen"
	"github.com/microboard/eventrelay/internal/model"
	"github.com/microboard/eventrelay/internal/outbox"
	"github.com/microboard/eventrelay/internal/repository"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed the outbox with demo board events",
	RunE: func(cmd *cobra.Command, args []string) error {
		// 1) load config
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		// 2) connect MySQL
		sqlDB, err := db.NewMySQLConnection(cfg.MySQL.DSN, db.MySQLOpts{
			MaxOpenConns:    cfg.MySQL.MaxOpenConns,
			MaxIdleConns:    cfg.MySQL.MaxIdleConns,
			ConnMaxLifetime: cfg.MySQL.ConnMaxLifetime,
			ConnMaxIdleTime: cfg.MySQL.ConnMaxIdleTime,
			PingTimeout:     cfg.MySQL.PingTimeout,
		})
		if err != nil {
			return fmt.Errorf("mysql connect: %w", err)
		}
		defer sqlDB.Close()

		log.Println(">> Seeding demo board events...")

		pub := outbox.NewPublisher(
			repository.NewOutboxRepository(sqlDB),
			idgen.NewSnowflake(cfg.NodeID),
		)

		// one transaction, the way business code drives the publisher
		tx, err := sqlDB.Beginx()
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		ctx := context.Background()
		payloads := []model.EventPayload{
			model.ArticleCreatedPayload{ArticleID: 1001, BoardID: 1, WriterID: 42, Title: "hello board"},
			model.ArticleViewedPayload{ArticleID: 1001, UserID: 7},
			model.CommentCreatedPayload{CommentID: 2001, ArticleID: 1001, WriterID: 7},
			model.ArticleLikedPayload{ArticleID: 1001, UserID: 7},
			model.ArticleDeletedPayload{ArticleID: 1001, BoardID: 1},
		}
		for _, p := range payloads {
			eventID, err := pub.Publish(ctx, tx, p, "article-1001")
			if err != nil {
				return fmt.Errorf("publish %s: %w", p.EventType(), err)
			}
			log.Printf("   queued %s event_id=%s", p.EventType(), eventID)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit: %w", err)
		}

		log.Println(">> Seed completed ✅")
		return nil
	},
}
