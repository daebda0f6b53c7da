// internal/service/checkout/infrastructure/gorm_order_repository.go
package infrastructure

import (
	"context"
	"errors"
	"time"

	pkgerrors "github.com/pkg/errors"
	"gorm.io/gorm"

	"storefront/internal/service/checkout/domain"
)

// GormOrderRepository 是 domain.OrderRepository 的 GORM 实现。
type GormOrderRepository struct {
	db *gorm.DB
}

// NewGormOrderRepository 创建订单仓储。
func NewGormOrderRepository(db *gorm.DB) *GormOrderRepository {
	return &GormOrderRepository{db: db}
}

// Create 插入订单及其全部明细行。
// gorm 的关联写入让 order 和 order_items 在同一事务里落库。
func (r *GormOrderRepository) Create(ctx context.Context, order *domain.Order) error {
	model := FromDomainOrder(order)
	if err := dbFromContext(ctx, r.db).Create(model).Error; err != nil {
		if isDuplicateKeyError(err) {
			return domain.Conflict("order number already exists")
		}
		return pkgerrors.Wrap(err, "create order")
	}
	return nil
}

// FindByID 按 id 查找订单（含明细）。
func (r *GormOrderRepository) FindByID(ctx context.Context, orderID string) (*domain.Order, error) {
	var model OrderModel
	err := dbFromContext(ctx, r.db).Preload("Items").Where("id = ?", orderID).First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.NotFound("order not found")
		}
		return nil, pkgerrors.Wrap(err, "find order")
	}
	return ToDomainOrder(&model), nil
}

// UpdateStatus 更新订单状态。明细行创建后不可变，这里只动状态列。
func (r *GormOrderRepository) UpdateStatus(ctx context.Context, orderID string, status domain.OrderStatus) error {
	err := dbFromContext(ctx, r.db).Model(&OrderModel{}).
		Where("id = ?", orderID).
		Updates(map[string]interface{}{
			"status":     string(status),
			"updated_at": time.Now(),
		}).Error
	return pkgerrors.Wrap(err, "update order status")
}
