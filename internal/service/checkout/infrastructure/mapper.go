// internal/service/checkout/infrastructure/mapper.go
package infrastructure

import (
	"database/sql"

	"storefront/internal/service/checkout/domain"
)

// ToDomainCart 将数据库模型转换为领域模型。
func ToDomainCart(model *CartModel) *domain.Cart {
	if model == nil {
		return nil
	}
	items := make([]domain.CartItem, len(model.Items))
	for i, m := range model.Items {
		items[i] = domain.CartItem{
			ProductID:         m.ProductID,
			Quantity:          m.Quantity,
			UnitPriceSnapshot: m.UnitPriceSnapshot,
		}
	}
	return &domain.Cart{
		ID:             model.ID,
		ClientID:       model.ClientID,
		Status:         domain.CartStatus(model.Status),
		Items:          items,
		ActiveIntentID: model.ActiveIntentID.String,
		CouponCode:     model.CouponCode.String,
		CreatedAt:      model.CreatedAt,
		UpdatedAt:      model.UpdatedAt,
	}
}

// ToDomainPayment 将数据库模型转换为领域模型。
func ToDomainPayment(model *PaymentModel) *domain.Payment {
	if model == nil {
		return nil
	}
	return &domain.Payment{
		ID:                     model.ID,
		CartID:                 model.CartID,
		ClientID:               model.ClientID,
		OrderID:                model.OrderID.String,
		Amount:                 model.Amount,
		Currency:               model.Currency,
		Status:                 domain.PaymentStatus(model.Status),
		GatewayIntentID:        model.GatewayIntentID,
		GatewayPaymentMethodID: model.GatewayPaymentMethodID.String,
		ReceiptEmail:           model.ReceiptEmail.String,
		CreatedAt:              model.CreatedAt,
		UpdatedAt:              model.UpdatedAt,
	}
}

// FromDomainPayment 将领域模型转换为数据库模型（用于插入）。
func FromDomainPayment(p *domain.Payment) *PaymentModel {
	if p == nil {
		return nil
	}
	return &PaymentModel{
		ID:                     p.ID,
		CartID:                 p.CartID,
		ClientID:               p.ClientID,
		OrderID:                nullString(p.OrderID),
		Amount:                 p.Amount,
		Currency:               p.Currency,
		Status:                 string(p.Status),
		GatewayIntentID:        p.GatewayIntentID,
		GatewayPaymentMethodID: nullString(p.GatewayPaymentMethodID),
		ReceiptEmail:           nullString(p.ReceiptEmail),
		CreatedAt:              p.CreatedAt,
		UpdatedAt:              p.UpdatedAt,
	}
}

// ToDomainOrder 将数据库模型转换为领域模型。
func ToDomainOrder(model *OrderModel) *domain.Order {
	if model == nil {
		return nil
	}
	items := make([]domain.OrderItem, len(model.Items))
	for i, m := range model.Items {
		items[i] = domain.OrderItem{
			ProductID:           m.ProductID,
			Quantity:            m.Quantity,
			UnitPriceAtPurchase: m.UnitPriceAtPurchase,
			Subtotal:            m.Subtotal,
		}
	}
	return &domain.Order{
		ID:              model.ID,
		ClientID:        model.ClientID,
		OrderNumber:     model.OrderNumber,
		TotalAmount:     model.TotalAmount,
		Status:          domain.OrderStatus(model.Status),
		Items:           items,
		ShippingAddress: model.ShippingAddress,
		BillingAddress:  model.BillingAddress,
		CreatedAt:       model.CreatedAt,
		UpdatedAt:       model.UpdatedAt,
	}
}

// FromDomainOrder 将领域模型转换为数据库模型（含明细行）。
func FromDomainOrder(o *domain.Order) *OrderModel {
	if o == nil {
		return nil
	}
	items := make([]OrderItemModel, len(o.Items))
	for i, it := range o.Items {
		items[i] = OrderItemModel{
			OrderID:             o.ID,
			ProductID:           it.ProductID,
			Quantity:            it.Quantity,
			UnitPriceAtPurchase: it.UnitPriceAtPurchase,
			Subtotal:            it.Subtotal,
		}
	}
	return &OrderModel{
		ID:              o.ID,
		ClientID:        o.ClientID,
		OrderNumber:     o.OrderNumber,
		TotalAmount:     o.TotalAmount,
		Status:          string(o.Status),
		ShippingAddress: o.ShippingAddress,
		BillingAddress:  o.BillingAddress,
		CreatedAt:       o.CreatedAt,
		UpdatedAt:       o.UpdatedAt,
		Items:           items,
	}
}

// ToDomainCoupon 将数据库模型转换为领域模型。
func ToDomainCoupon(model *CouponModel) *domain.Coupon {
	if model == nil {
		return nil
	}
	return &domain.Coupon{
		ID:             model.ID,
		Code:           model.Code,
		Type:           domain.CouponType(model.Type),
		DiscountValue:  model.DiscountValue,
		ValidFrom:      model.ValidFrom,
		ValidUntil:     model.ValidUntil,
		UsageLimit:     model.UsageLimit,
		UsedCount:      model.UsedCount,
		Active:         model.Active,
		RuleExpression: model.RuleExpr.String,
	}
}

// ToDomainCustomer 将数据库模型转换为领域模型。
func ToDomainCustomer(model *CustomerModel) *domain.Customer {
	if model == nil {
		return nil
	}
	return &domain.Customer{
		ID:                model.ID,
		Email:             model.Email,
		GatewayCustomerID: model.GatewayCustomerID.String,
		CreatedAt:         model.CreatedAt,
	}
}

// ToDomainPaymentMethod 将数据库模型转换为领域模型。
func ToDomainPaymentMethod(model *PaymentMethodModel) *domain.PaymentMethod {
	if model == nil {
		return nil
	}
	return &domain.PaymentMethod{
		ID:              model.ID,
		ClientID:        model.ClientID,
		GatewayMethodID: model.GatewayMethodID,
		Brand:           model.Brand,
		Last4:           model.Last4,
		ExpMonth:        model.ExpMonth,
		ExpYear:         model.ExpYear,
		IsDefault:       model.IsDefault,
		CreatedAt:       model.CreatedAt,
	}
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
