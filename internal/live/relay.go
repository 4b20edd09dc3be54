package live

import (
	"context"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// Relay forwards Redis pub/sub messages matching pattern to the hub, so every
// instance's dashboards see samples ingested by any instance.
func Relay(ctx context.Context, client *redis.Client, pattern string, hub *Hub, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	sub := client.PSubscribe(ctx, pattern)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return err
	}
	logger.Info("live_relay_subscribed", "pattern", pattern)

	ch := sub.Channel()
	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			hub.Broadcast([]byte(msg.Payload))
		case <-ctx.Done():
			return nil
		}
	}
}
