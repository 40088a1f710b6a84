package snapcache

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/erplora/insighthub/internal/analytics"
)

// DefaultInvalidationChannel carries invalidation events between instances.
const DefaultInvalidationChannel = "analytics.invalidations"

// Event is one invalidation broadcast to every running instance. An empty
// Types slice invalidates all report types for the tenant.
type Event struct {
	TenantID uuid.UUID              `json:"tenant_id"`
	Types    []analytics.ReportType `json:"types,omitempty"`
}

// Broadcaster fans invalidation events out over Redis pub/sub so each
// instance drops its local snapshots. Publishing is best effort: a broken
// broker degrades to local-only invalidation.
type Broadcaster struct {
	client  *redis.Client
	cache   *Cache
	channel string
	logger  *slog.Logger
}

// NewBroadcaster wires a cache to the shared invalidation channel.
func NewBroadcaster(client *redis.Client, cache *Cache, logger *slog.Logger) *Broadcaster {
	return &Broadcaster{client: client, cache: cache, channel: DefaultInvalidationChannel, logger: logger}
}

// Publish announces an invalidation to all instances, including this one.
func (b *Broadcaster) Publish(ctx context.Context, event Event) error {
	if b == nil || b.client == nil {
		return nil
	}
	raw, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return b.client.Publish(ctx, b.channel, raw).Err()
}

// Listen subscribes to the invalidation channel and applies incoming events
// to the local cache until ctx is cancelled.
func (b *Broadcaster) Listen(ctx context.Context) {
	if b == nil || b.client == nil || b.cache == nil {
		return
	}
	pubsub := b.client.Subscribe(ctx, b.channel)
	go func() {
		defer func() { _ = pubsub.Close() }()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var event Event
				if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
					if b.logger != nil {
						b.logger.Warn("invalidation event rejected", slog.Any("error", err))
					}
					continue
				}
				removed := b.cache.Invalidate(event.TenantID, event.Types...)
				if b.logger != nil {
					b.logger.Debug("invalidation applied",
						slog.String("tenant_id", event.TenantID.String()),
						slog.Int("removed", removed))
				}
			}
		}
	}()
}
