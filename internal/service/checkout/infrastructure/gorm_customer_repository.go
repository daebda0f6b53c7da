// internal/service/checkout/infrastructure/gorm_customer_repository.go
package infrastructure

import (
	"context"
	"errors"

	pkgerrors "github.com/pkg/errors"
	"gorm.io/gorm"

	"storefront/internal/service/checkout/domain"
)

// GormCustomerRepository 实现 domain.CustomerRepository 与
// domain.PaymentMethodRepository，两者共享 customers 聚合的边界。
type GormCustomerRepository struct {
	db *gorm.DB
}

// NewGormCustomerRepository 创建客户仓储。
func NewGormCustomerRepository(db *gorm.DB) *GormCustomerRepository {
	return &GormCustomerRepository{db: db}
}

// FindByID 按 id 查找客户。
func (r *GormCustomerRepository) FindByID(ctx context.Context, clientID string) (*domain.Customer, error) {
	var model CustomerModel
	err := dbFromContext(ctx, r.db).Where("id = ?", clientID).First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.NotFound("client not found")
		}
		return nil, pkgerrors.Wrap(err, "find customer")
	}
	return ToDomainCustomer(&model), nil
}

// SaveGatewayCustomerID 写入网关客户 id。
// WHERE 带上 IS NULL 条件保证只在缺失时写入：并发的第二次写是无操作，
// 惰性创建因此幂等。
func (r *GormCustomerRepository) SaveGatewayCustomerID(ctx context.Context, clientID, gatewayCustomerID string) error {
	err := dbFromContext(ctx, r.db).Model(&CustomerModel{}).
		Where("id = ? AND gateway_customer_id IS NULL", clientID).
		Update("gateway_customer_id", gatewayCustomerID).Error
	return pkgerrors.Wrap(err, "save gateway customer id")
}

// ListByClientID 列出客户已保存的支付方式，默认方式排前。
func (r *GormCustomerRepository) ListByClientID(ctx context.Context, clientID string) ([]*domain.PaymentMethod, error) {
	var models []*PaymentMethodModel
	err := dbFromContext(ctx, r.db).
		Where("client_id = ?", clientID).
		Order("is_default DESC, created_at DESC").
		Find(&models).Error
	if err != nil {
		return nil, pkgerrors.Wrap(err, "list payment methods")
	}
	methods := make([]*domain.PaymentMethod, len(models))
	for i, m := range models {
		methods[i] = ToDomainPaymentMethod(m)
	}
	return methods, nil
}

// Save 保存一条支付方式引用。重复绑定同一网关方式是 Conflict。
func (r *GormCustomerRepository) Save(ctx context.Context, method *domain.PaymentMethod) error {
	model := PaymentMethodModel{
		ID:              method.ID,
		ClientID:        method.ClientID,
		GatewayMethodID: method.GatewayMethodID,
		Brand:           method.Brand,
		Last4:           method.Last4,
		ExpMonth:        method.ExpMonth,
		ExpYear:         method.ExpYear,
		IsDefault:       method.IsDefault,
		CreatedAt:       method.CreatedAt,
	}
	if err := dbFromContext(ctx, r.db).Create(&model).Error; err != nil {
		if isDuplicateKeyError(err) {
			return domain.Conflict("payment method already saved")
		}
		return pkgerrors.Wrap(err, "save payment method")
	}
	return nil
}

// Delete 删除一条支付方式引用。
func (r *GormCustomerRepository) Delete(ctx context.Context, clientID, gatewayMethodID string) error {
	result := dbFromContext(ctx, r.db).
		Where("client_id = ? AND gateway_method_id = ?", clientID, gatewayMethodID).
		Delete(&PaymentMethodModel{})
	if result.Error != nil {
		return pkgerrors.Wrap(result.Error, "delete payment method")
	}
	if result.RowsAffected == 0 {
		return domain.NotFound("payment method not found")
	}
	return nil
}

// SetDefault 切换默认支付方式：先清旧默认，再置新默认，调用方负责把
// 两步包进同一事务。
func (r *GormCustomerRepository) SetDefault(ctx context.Context, clientID, gatewayMethodID string) error {
	db := dbFromContext(ctx, r.db)
	if err := db.Model(&PaymentMethodModel{}).
		Where("client_id = ? AND is_default = ?", clientID, true).
		Update("is_default", false).Error; err != nil {
		return pkgerrors.Wrap(err, "clear default payment method")
	}
	result := db.Model(&PaymentMethodModel{}).
		Where("client_id = ? AND gateway_method_id = ?", clientID, gatewayMethodID).
		Update("is_default", true)
	if result.Error != nil {
		return pkgerrors.Wrap(result.Error, "set default payment method")
	}
	if result.RowsAffected == 0 {
		return domain.NotFound("payment method not found")
	}
	return nil
}
