// internal/service/checkout/infrastructure/gorm_cart_repository.go
package infrastructure

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	pkgerrors "github.com/pkg/errors"
	"gorm.io/gorm"

	"storefront/internal/service/checkout/domain"
)

// GormCartRepository 是 domain.CartRepository 的 GORM 实现。
type GormCartRepository struct {
	db *gorm.DB
}

// NewGormCartRepository 创建购物车仓储。
func NewGormCartRepository(db *gorm.DB) *GormCartRepository {
	return &GormCartRepository{db: db}
}

// FindActiveByClientID 查找客户当前的活跃购物车。
func (r *GormCartRepository) FindActiveByClientID(ctx context.Context, clientID string) (*domain.Cart, error) {
	var model CartModel
	err := dbFromContext(ctx, r.db).
		Preload("Items").
		Where("client_id = ? AND status = ?", clientID, string(domain.CartStatusActive)).
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.NotFound("no active cart for client")
		}
		return nil, pkgerrors.Wrap(err, "find active cart")
	}
	return ToDomainCart(&model), nil
}

// FindByID 按 id 查找购物车。
func (r *GormCartRepository) FindByID(ctx context.Context, cartID string) (*domain.Cart, error) {
	var model CartModel
	err := dbFromContext(ctx, r.db).Preload("Items").Where("id = ?", cartID).First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.NotFound("cart not found")
		}
		return nil, pkgerrors.Wrap(err, "find cart")
	}
	return ToDomainCart(&model), nil
}

// EnsureActive 保证客户有且只有一个活跃购物车，可并发安全地调用。
// 条件插入靠 active_key 上的唯一索引：并发的第二次插入撞索引后
// 改为读取赢家创建的那辆车。
func (r *GormCartRepository) EnsureActive(ctx context.Context, clientID string) (*domain.Cart, error) {
	existing, err := r.FindActiveByClientID(ctx, clientID)
	if err == nil {
		return existing, nil
	}
	if domain.KindOf(err) != domain.KindNotFound {
		return nil, err
	}

	now := time.Now()
	model := CartModel{
		ID:        uuid.New().String(),
		ClientID:  clientID,
		Status:    string(domain.CartStatusActive),
		ActiveKey: sql.NullString{String: clientID, Valid: true},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := dbFromContext(ctx, r.db).Create(&model).Error; err != nil {
		if isDuplicateKeyError(err) {
			return r.FindActiveByClientID(ctx, clientID)
		}
		return nil, pkgerrors.Wrap(err, "create active cart")
	}
	return ToDomainCart(&model), nil
}

// MarkCompleted 把购物车置为完成态并释放唯一键。
// WHERE 带上 status=ACTIVE，重复调用是无操作。
func (r *GormCartRepository) MarkCompleted(ctx context.Context, cartID string) error {
	err := dbFromContext(ctx, r.db).Model(&CartModel{}).
		Where("id = ? AND status = ?", cartID, string(domain.CartStatusActive)).
		Updates(map[string]interface{}{
			"status":     string(domain.CartStatusCompleted),
			"active_key": gorm.Expr("NULL"),
			"updated_at": time.Now(),
		}).Error
	return pkgerrors.Wrap(err, "mark cart completed")
}

// SetActiveIntent 记录购物车当前关联的网关支付意图。
func (r *GormCartRepository) SetActiveIntent(ctx context.Context, cartID, intentID string) error {
	err := dbFromContext(ctx, r.db).Model(&CartModel{}).
		Where("id = ?", cartID).
		Updates(map[string]interface{}{
			"active_intent_id": intentID,
			"updated_at":       time.Now(),
		}).Error
	return pkgerrors.Wrap(err, "set active intent")
}

// ClearActiveIntent 清除意图引用（支付失败后让下一次结算走新建路径）。
func (r *GormCartRepository) ClearActiveIntent(ctx context.Context, cartID string) error {
	err := dbFromContext(ctx, r.db).Model(&CartModel{}).
		Where("id = ?", cartID).
		Updates(map[string]interface{}{
			"active_intent_id": gorm.Expr("NULL"),
			"updated_at":       time.Now(),
		}).Error
	return pkgerrors.Wrap(err, "clear active intent")
}

// SetCoupon 把优惠码挂到购物车上。
func (r *GormCartRepository) SetCoupon(ctx context.Context, cartID, couponCode string) error {
	err := dbFromContext(ctx, r.db).Model(&CartModel{}).
		Where("id = ?", cartID).
		Updates(map[string]interface{}{
			"coupon_code": couponCode,
			"updated_at":  time.Now(),
		}).Error
	return pkgerrors.Wrap(err, "set cart coupon")
}
