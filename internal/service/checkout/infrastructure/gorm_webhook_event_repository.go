// internal/service/checkout/infrastructure/gorm_webhook_event_repository.go
package infrastructure

import (
	"context"
	"time"

	pkgerrors "github.com/pkg/errors"
	"gorm.io/gorm"

	"storefront/internal/service/checkout/domain"
)

// GormWebhookEventRepository 记录已处理的网关事件 id。
// 事件 id 是主键：重复投递在插入时撞主键并被翻译成 Conflict，
// 对账器据此把整个事务按无操作放弃。
type GormWebhookEventRepository struct {
	db *gorm.DB
}

// NewGormWebhookEventRepository 创建事件仓储。
func NewGormWebhookEventRepository(db *gorm.DB) *GormWebhookEventRepository {
	return &GormWebhookEventRepository{db: db}
}

// MarkProcessed 实现 domain.WebhookEventRepository。
func (r *GormWebhookEventRepository) MarkProcessed(ctx context.Context, eventID, eventType string) error {
	model := WebhookEventModel{
		EventID:     eventID,
		EventType:   eventType,
		ProcessedAt: time.Now(),
	}
	if err := dbFromContext(ctx, r.db).Create(&model).Error; err != nil {
		if isDuplicateKeyError(err) {
			return domain.Conflict("webhook event already processed")
		}
		return pkgerrors.Wrap(err, "mark webhook event processed")
	}
	return nil
}
