package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/microboard/eventrelay/internal/repository"
)

// Dedup answers "was this event id fully handled before?" for one
// consumer group. MySQL processed_events is the source of truth; Redis
// is a fast-path cache that only ever holds durably recorded ids, so a
// cache miss is never wrong, just slow.
type Dedup struct {
	Inbox repository.InboxRepository
	Cache *redis.Client // optional
	Group string
	TTL   time.Duration
	Log   *zap.Logger
}

func NewDedup(inbox repository.InboxRepository, cache *redis.Client, group string, ttl time.Duration, log *zap.Logger) *Dedup {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Dedup{Inbox: inbox, Cache: cache, Group: group, TTL: ttl, Log: log}
}

func (d *Dedup) key(eventID string) string {
	return fmt.Sprintf("evrelay:processed:%s:%s", d.Group, eventID)
}

// Seen checks the cache, then the durable inbox. Cache errors degrade
// to the DB path.
func (d *Dedup) Seen(ctx context.Context, eventID string) (bool, error) {
	if d.Cache != nil {
		n, err := d.Cache.Exists(ctx, d.key(eventID)).Result()
		if err == nil && n > 0 {
			return true, nil
		}
		if err != nil {
			d.Log.Warn("dedup cache lookup failed", zap.Error(err))
		}
	}

	return d.Inbox.IsProcessed(ctx, d.Group, eventID)
}

// MarkProcessed records the event durably, then warms the cache. The
// cache write is best effort.
func (d *Dedup) MarkProcessed(ctx context.Context, eventID string) error {
	if _, err := d.Inbox.MarkProcessed(ctx, d.Group, eventID); err != nil {
		return err
	}
	if d.Cache != nil {
		if err := d.Cache.Set(ctx, d.key(eventID), 1, d.TTL).Err(); err != nil {
			d.Log.Warn("dedup cache set failed", zap.Error(err))
		}
	}
	return nil
}
