// internal/service/checkout/infrastructure/gorm_models.go
package infrastructure

import (
	"database/sql"
	"time"
)

// CartModel 对应数据库中的 cart 表。
// active_key 是 (client_id, status=ACTIVE) 唯一性的落地方式：活跃购物车
// 写 client_id，完成后置 NULL，配合唯一索引实现"每客户一辆活跃车"。
type CartModel struct {
	ID        string `gorm:"primaryKey;size:36"`
	ClientID  string `gorm:"size:36;index;not null"`
	Status    string `gorm:"size:16;not null"`
	ActiveKey sql.NullString `gorm:"column:active_key;size:36;uniqueIndex:uk_cart_active"`

	ActiveIntentID sql.NullString `gorm:"size:64"`
	CouponCode     sql.NullString `gorm:"size:64"`

	CreatedAt time.Time
	UpdatedAt time.Time

	Items []CartItemModel `gorm:"foreignKey:CartID"`
}

func (CartModel) TableName() string { return "carts" }

// CartItemModel 对应 cart_items 表，单价是加入购物车时的快照。
type CartItemModel struct {
	ID                int64  `gorm:"primaryKey;autoIncrement"`
	CartID            string `gorm:"size:36;index;not null"`
	ProductID         string `gorm:"size:36;not null"`
	Quantity          int    `gorm:"not null"`
	UnitPriceSnapshot float64 `gorm:"type:decimal(10,2);not null"`
	CreatedAt         time.Time
}

func (CartItemModel) TableName() string { return "cart_items" }

// PaymentModel 对应 payments 表。
type PaymentModel struct {
	ID       string `gorm:"primaryKey;size:36"`
	CartID   string `gorm:"size:36;index;not null"`
	ClientID string `gorm:"size:36;index;not null"`
	OrderID  sql.NullString `gorm:"size:36;index"`

	Amount   float64 `gorm:"type:decimal(10,2);not null"`
	Currency string  `gorm:"size:8;not null"`
	Status   string  `gorm:"size:32;index;not null"`

	GatewayIntentID        string         `gorm:"size:64;uniqueIndex;not null"`
	GatewayPaymentMethodID sql.NullString `gorm:"size:64"`
	ReceiptEmail           sql.NullString `gorm:"size:255"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (PaymentModel) TableName() string { return "payments" }

// OrderModel 对应 orders 表。
type OrderModel struct {
	ID          string  `gorm:"primaryKey;size:36"`
	ClientID    string  `gorm:"size:36;index;not null"`
	OrderNumber string  `gorm:"size:32;uniqueIndex;not null"`
	TotalAmount float64 `gorm:"type:decimal(10,2);not null"`
	Status      string  `gorm:"size:16;index;not null"`

	ShippingAddress string `gorm:"type:text"`
	BillingAddress  string `gorm:"type:text"`

	CreatedAt time.Time
	UpdatedAt time.Time

	Items []OrderItemModel `gorm:"foreignKey:OrderID"`
}

func (OrderModel) TableName() string { return "orders" }

// OrderItemModel 对应 order_items 表，单价为下单时刻快照。
type OrderItemModel struct {
	ID                  int64   `gorm:"primaryKey;autoIncrement"`
	OrderID             string  `gorm:"size:36;index;not null"`
	ProductID           string  `gorm:"size:36;not null"`
	Quantity            int     `gorm:"not null"`
	UnitPriceAtPurchase float64 `gorm:"type:decimal(10,2);not null"`
	Subtotal            float64 `gorm:"type:decimal(10,2);not null"`
	CreatedAt           time.Time
}

func (OrderItemModel) TableName() string { return "order_items" }

// ProductStockModel 对应 product_stock 表，是库存台账的存储。
type ProductStockModel struct {
	ProductID string `gorm:"primaryKey;size:36"`
	Stock     int    `gorm:"not null"`
	UpdatedAt time.Time
}

func (ProductStockModel) TableName() string { return "product_stock" }

// CouponModel 对应 coupons 表。
type CouponModel struct {
	ID            int64   `gorm:"primaryKey;autoIncrement"`
	Code          string  `gorm:"size:64;uniqueIndex;not null"`
	Type          string  `gorm:"size:16;not null"`
	DiscountValue float64 `gorm:"type:decimal(10,2);not null"`
	ValidFrom     time.Time
	ValidUntil    time.Time
	UsageLimit    int64
	UsedCount     int64
	Active        bool
	RuleExpr      sql.NullString `gorm:"type:text"`
	CreatedAt     time.Time
}

func (CouponModel) TableName() string { return "coupons" }

// CouponRedemptionModel 对应 coupon_redemptions 表。
// (coupon_code, client_id) 上的唯一索引是"一客一码至多核销一次"
// 这个不变式在并发下的最终防线。
type CouponRedemptionModel struct {
	ID         int64  `gorm:"primaryKey;autoIncrement"`
	CouponCode string `gorm:"size:64;uniqueIndex:uk_redemption;not null"`
	ClientID   string `gorm:"size:36;uniqueIndex:uk_redemption;not null"`
	OrderID    string `gorm:"size:36;not null"`
	RedeemedAt time.Time
}

func (CouponRedemptionModel) TableName() string { return "coupon_redemptions" }

// CustomerModel 对应 customers 表（结算核心需要的列）。
type CustomerModel struct {
	ID                string         `gorm:"primaryKey;size:36"`
	Email             string         `gorm:"size:255;not null"`
	GatewayCustomerID sql.NullString `gorm:"size:64;uniqueIndex"`
	CreatedAt         time.Time
}

func (CustomerModel) TableName() string { return "customers" }

// PaymentMethodModel 对应 payment_methods 表。
type PaymentMethodModel struct {
	ID              string `gorm:"primaryKey;size:36"`
	ClientID        string `gorm:"size:36;index;not null"`
	GatewayMethodID string `gorm:"size:64;uniqueIndex;not null"`
	Brand           string `gorm:"size:32"`
	Last4           string `gorm:"size:4"`
	ExpMonth        int
	ExpYear         int
	IsDefault       bool
	CreatedAt       time.Time
}

func (PaymentMethodModel) TableName() string { return "payment_methods" }

// WebhookEventModel 对应 webhook_events 表：
// 事件 id 为主键，重复投递在插入时撞主键，是对账幂等的持久层防线。
type WebhookEventModel struct {
	EventID     string `gorm:"primaryKey;size:128"`
	EventType   string `gorm:"size:64;index"`
	ProcessedAt time.Time
}

func (WebhookEventModel) TableName() string { return "webhook_events" }

// AutoMigrate 建表。样例与测试环境使用；生产环境用迁移脚本。
func AutoMigrate(db interface {
	AutoMigrate(dst ...interface{}) error
}) error {
	return db.AutoMigrate(
		&CartModel{}, &CartItemModel{},
		&PaymentModel{},
		&OrderModel{}, &OrderItemModel{},
		&ProductStockModel{},
		&CouponModel{}, &CouponRedemptionModel{},
		&CustomerModel{}, &PaymentMethodModel{},
		&WebhookEventModel{},
	)
}
