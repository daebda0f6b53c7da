// internal/service/checkout/infrastructure/gorm_coupon_repository.go
package infrastructure

import (
	"context"
	"errors"

	pkgerrors "github.com/pkg/errors"
	"gorm.io/gorm"

	"storefront/internal/service/checkout/domain"
)

// GormCouponRepository 是 domain.CouponRepository 的 GORM 实现。
type GormCouponRepository struct {
	db *gorm.DB
}

// NewGormCouponRepository 创建优惠码仓储。
func NewGormCouponRepository(db *gorm.DB) *GormCouponRepository {
	return &GormCouponRepository{db: db}
}

// FindByCode 按优惠码查找定义。
func (r *GormCouponRepository) FindByCode(ctx context.Context, code string) (*domain.Coupon, error) {
	var model CouponModel
	err := dbFromContext(ctx, r.db).Where("code = ?", code).First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.NotFound("coupon not found")
		}
		return nil, pkgerrors.Wrap(err, "find coupon")
	}
	return ToDomainCoupon(&model), nil
}

// CreateRedemption 插入核销记录并递增用量。
// (coupon_code, client_id) 唯一索引把并发下的二次核销变成 Conflict，
// 调用方按无操作吸收——这正是"一客一码至多一折扣"的保证。
func (r *GormCouponRepository) CreateRedemption(ctx context.Context, redemption *domain.CouponRedemption) error {
	db := dbFromContext(ctx, r.db)
	model := CouponRedemptionModel{
		CouponCode: redemption.CouponCode,
		ClientID:   redemption.ClientID,
		OrderID:    redemption.OrderID,
		RedeemedAt: redemption.RedeemedAt,
	}
	if err := db.Create(&model).Error; err != nil {
		if isDuplicateKeyError(err) {
			return domain.Conflict("coupon already redeemed by this client")
		}
		return pkgerrors.Wrap(err, "create coupon redemption")
	}
	err := db.Model(&CouponModel{}).
		Where("code = ?", redemption.CouponCode).
		Update("used_count", gorm.Expr("used_count + 1")).Error
	return pkgerrors.Wrap(err, "increment coupon usage")
}

// HasRedemption 查询某客户是否已核销过该码。
func (r *GormCouponRepository) HasRedemption(ctx context.Context, code, clientID string) (bool, error) {
	var count int64
	err := dbFromContext(ctx, r.db).Model(&CouponRedemptionModel{}).
		Where("coupon_code = ? AND client_id = ?", code, clientID).
		Count(&count).Error
	if err != nil {
		return false, pkgerrors.Wrap(err, "count coupon redemptions")
	}
	return count > 0, nil
}
