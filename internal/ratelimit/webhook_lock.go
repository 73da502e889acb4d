package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/classifieds/internal/config"
)

const keyBillingWebhookLock = "billing:webhook:lock:%s"

// Deletes the key only while it still holds the caller's token, so a worker
// whose lock expired cannot release the next holder's lock.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

// WebhookLocker serializes event processing per subscription across replicas.
// A nil WebhookLocker grants every lock; the database row lock still applies.
type WebhookLocker struct {
	client *redis.Client
	ttl    time.Duration
}

func NewWebhookLocker(client *redis.Client, cfg config.Config) *WebhookLocker {
	if client == nil {
		return nil
	}
	ttl := cfg.Redis.LockTTL
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &WebhookLocker{client: client, ttl: ttl}
}

func (w *WebhookLocker) Enabled() bool {
	return w != nil && w.client != nil
}

// Acquire takes the lock for one subscription ref. When another replica holds
// it, acquired is false and the caller should ask the provider to redeliver.
// Events without a subscription ref are not locked.
func (w *WebhookLocker) Acquire(ctx context.Context, subscriptionRef string) (release func(context.Context), acquired bool, err error) {
	release = func(context.Context) {}
	subscriptionRef = strings.TrimSpace(subscriptionRef)
	if !w.Enabled() || subscriptionRef == "" {
		return release, true, nil
	}

	key := fmt.Sprintf(keyBillingWebhookLock, subscriptionRef)
	token := uuid.NewString()
	ok, err := w.client.SetNX(ctx, key, token, w.ttl).Result()
	if err != nil {
		return release, false, fmt.Errorf("lock %s: %w", key, err)
	}
	if !ok {
		return release, false, nil
	}
	return func(ctx context.Context) {
		_ = releaseScript.Run(ctx, w.client, []string{key}, token).Err()
	}, true, nil
}
