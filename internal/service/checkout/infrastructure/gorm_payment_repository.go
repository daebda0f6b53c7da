// internal/service/checkout/infrastructure/gorm_payment_repository.go
package infrastructure

import (
	"context"
	"errors"
	"time"

	pkgerrors "github.com/pkg/errors"
	"gorm.io/gorm"

	"storefront/internal/service/checkout/domain"
)

// GormPaymentRepository 是 domain.PaymentRepository 的 GORM 实现。
type GormPaymentRepository struct {
	db *gorm.DB
}

// NewGormPaymentRepository 创建支付仓储。
func NewGormPaymentRepository(db *gorm.DB) *GormPaymentRepository {
	return &GormPaymentRepository{db: db}
}

// Create 插入一条支付记录。gateway_intent_id 上的唯一索引把
// "同一意图重复建支付"的竞态变成可识别的 Conflict。
func (r *GormPaymentRepository) Create(ctx context.Context, payment *domain.Payment) error {
	model := FromDomainPayment(payment)
	if err := dbFromContext(ctx, r.db).Create(model).Error; err != nil {
		if isDuplicateKeyError(err) {
			return domain.Conflict("payment already exists for this intent")
		}
		return pkgerrors.Wrap(err, "create payment")
	}
	return nil
}

// FindByID 按 id 查找支付记录。
func (r *GormPaymentRepository) FindByID(ctx context.Context, paymentID string) (*domain.Payment, error) {
	var model PaymentModel
	err := dbFromContext(ctx, r.db).Where("id = ?", paymentID).First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.NotFound("payment not found")
		}
		return nil, pkgerrors.Wrap(err, "find payment")
	}
	return ToDomainPayment(&model), nil
}

// FindByIntentID 按网关意图 id 查找支付记录，是 webhook 对账的关联查询。
func (r *GormPaymentRepository) FindByIntentID(ctx context.Context, intentID string) (*domain.Payment, error) {
	var model PaymentModel
	err := dbFromContext(ctx, r.db).Where("gateway_intent_id = ?", intentID).First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.NotFound("payment not found")
		}
		return nil, pkgerrors.Wrap(err, "find payment by intent")
	}
	return ToDomainPayment(&model), nil
}

// Update 持久化支付状态等可变字段。
func (r *GormPaymentRepository) Update(ctx context.Context, payment *domain.Payment) error {
	err := dbFromContext(ctx, r.db).Model(&PaymentModel{}).
		Where("id = ?", payment.ID).
		Updates(map[string]interface{}{
			"status":     string(payment.Status),
			"order_id":   nullString(payment.OrderID),
			"updated_at": time.Now(),
		}).Error
	return pkgerrors.Wrap(err, "update payment")
}
