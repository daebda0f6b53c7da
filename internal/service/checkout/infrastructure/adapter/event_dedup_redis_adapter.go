// internal/service/checkout/infrastructure/adapter/event_dedup_redis_adapter.go
package adapter

import (
	"context"
	"time"

	"storefront/internal/pkg/redis"
)

const (
	eventDedupKeyPrefix = "webhook:evt:"
	eventDedupTTL       = 24 * time.Hour
)

// EventDedupRedisAdapter 是 webhook 去重的快速路径。
// redis 出错由调用方按首次处理（fail-open），真正的幂等由数据库唯一键兜底。
type EventDedupRedisAdapter struct {
	client *redis.Client
}

func NewEventDedupRedisAdapter(client *redis.Client) *EventDedupRedisAdapter {
	return &EventDedupRedisAdapter{client: client}
}

// FirstDelivery 返回 eventID 是否首次出现。
func (a *EventDedupRedisAdapter) FirstDelivery(ctx context.Context, eventID string) (bool, error) {
	return a.client.SetNX(ctx, eventDedupKeyPrefix+eventID, "1", eventDedupTTL)
}

// Forget 删除去重键。事务失败后调用，放行同一事件的重投递。
func (a *EventDedupRedisAdapter) Forget(ctx context.Context, eventID string) error {
	return a.client.Del(ctx, eventDedupKeyPrefix+eventID)
}
