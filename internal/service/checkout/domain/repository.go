// internal/service/checkout/domain/repository.go
package domain

import "context"

// TxManager 把一组仓储操作包进同一个本地事务。
// fn 返回错误时整个事务回滚；仓储实现从 ctx 中取事务句柄。
type TxManager interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// CustomerRepository 管理客户与其网关侧映射。
type CustomerRepository interface {
	FindByID(ctx context.Context, clientID string) (*Customer, error)
	// SaveGatewayCustomerID 只在客户尚无网关对象时写入，幂等。
	SaveGatewayCustomerID(ctx context.Context, clientID, gatewayCustomerID string) error
}

// CartRepository 管理购物车聚合。
type CartRepository interface {
	FindActiveByClientID(ctx context.Context, clientID string) (*Cart, error)
	// EnsureActive 在客户没有 ACTIVE 购物车时创建一个，并发调用安全。
	EnsureActive(ctx context.Context, clientID string) (*Cart, error)
	MarkCompleted(ctx context.Context, cartID string) error
	SetActiveIntent(ctx context.Context, cartID, intentID string) error
	ClearActiveIntent(ctx context.Context, cartID string) error
	SetCoupon(ctx context.Context, cartID, couponCode string) error
	FindByID(ctx context.Context, cartID string) (*Cart, error)
}

// OrderRepository 管理订单聚合，Create 同时落 order 行与 order_item 行。
type OrderRepository interface {
	Create(ctx context.Context, order *Order) error
	FindByID(ctx context.Context, orderID string) (*Order, error)
	UpdateStatus(ctx context.Context, orderID string, status OrderStatus) error
}

// InventoryRepository 是库存台账。
// Reserve 必须实现为条件更新（stock = stock - qty WHERE stock >= qty），
// 用受影响行数判定成败，避免读-改-写竞态。
type InventoryRepository interface {
	Reserve(ctx context.Context, productID string, quantity int) error
	Release(ctx context.Context, productID string, quantity int) error
}

// PaymentRepository 管理支付记录。
type PaymentRepository interface {
	Create(ctx context.Context, payment *Payment) error
	FindByID(ctx context.Context, paymentID string) (*Payment, error)
	FindByIntentID(ctx context.Context, intentID string) (*Payment, error)
	Update(ctx context.Context, payment *Payment) error
}

// CouponRepository 管理优惠码及其核销记录。
type CouponRepository interface {
	FindByCode(ctx context.Context, code string) (*Coupon, error)
	// CreateRedemption 插入核销记录并递增用量。
	// (code, client_id) 已存在时返回 Conflict 类错误，调用方按无操作处理。
	CreateRedemption(ctx context.Context, redemption *CouponRedemption) error
	HasRedemption(ctx context.Context, code, clientID string) (bool, error)
}

// PaymentMethodRepository 管理已保存的支付方式引用。
type PaymentMethodRepository interface {
	ListByClientID(ctx context.Context, clientID string) ([]*PaymentMethod, error)
	Save(ctx context.Context, method *PaymentMethod) error
	Delete(ctx context.Context, clientID, gatewayMethodID string) error
	// SetDefault 把指定方式置为默认，并在同一事务中清除旧默认。
	SetDefault(ctx context.Context, clientID, gatewayMethodID string) error
}

// WebhookEventRepository 记录已处理的网关事件 id，是对账幂等的持久层防线。
type WebhookEventRepository interface {
	// MarkProcessed 插入事件 id；事件已存在时返回 Conflict 类错误。
	MarkProcessed(ctx context.Context, eventID, eventType string) error
}
