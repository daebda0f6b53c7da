// internal/service/checkout/infrastructure/gorm_inventory_repository.go
package infrastructure

import (
	"context"
	"fmt"
	"time"

	pkgerrors "github.com/pkg/errors"
	"gorm.io/gorm"

	"storefront/internal/service/checkout/domain"
)

// GormInventoryRepository 是库存台账的 GORM 实现。
//
// Reserve 不做读-改-写：条件更新 stock = stock - qty WHERE stock >= qty
// 把并发扣减的竞态变成确定性的"有人输"，受影响行数为零即库存不足。
// 它必须运行在结算事务内，后续商品行失败时本次扣减随事务一起回滚。
type GormInventoryRepository struct {
	db *gorm.DB
}

// NewGormInventoryRepository 创建库存仓储。
func NewGormInventoryRepository(db *gorm.DB) *GormInventoryRepository {
	return &GormInventoryRepository{db: db}
}

// Reserve 原子扣减库存。
func (r *GormInventoryRepository) Reserve(ctx context.Context, productID string, quantity int) error {
	if quantity <= 0 {
		return domain.BadRequest("quantity must be positive")
	}
	result := dbFromContext(ctx, r.db).Model(&ProductStockModel{}).
		Where("product_id = ? AND stock >= ?", productID, quantity).
		Updates(map[string]interface{}{
			"stock":      gorm.Expr("stock - ?", quantity),
			"updated_at": time.Now(),
		})
	if result.Error != nil {
		return pkgerrors.Wrap(result.Error, "reserve stock")
	}
	if result.RowsAffected == 0 {
		return domain.InsufficientStock(fmt.Sprintf("insufficient stock for product %s", productID))
	}
	return nil
}

// Release 归还库存（支付失败后的释放路径）。
func (r *GormInventoryRepository) Release(ctx context.Context, productID string, quantity int) error {
	if quantity <= 0 {
		return domain.BadRequest("quantity must be positive")
	}
	err := dbFromContext(ctx, r.db).Model(&ProductStockModel{}).
		Where("product_id = ?", productID).
		Updates(map[string]interface{}{
			"stock":      gorm.Expr("stock + ?", quantity),
			"updated_at": time.Now(),
		}).Error
	return pkgerrors.Wrap(err, "release stock")
}
