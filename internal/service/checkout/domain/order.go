// internal/service/checkout/domain/order.go
package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// OrderStatus 定义了订单的生命周期状态。
// 结算核心只驱动 PENDING → PROCESSING / CANCELLED，后续流转归履约侧。
type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "PENDING"
	OrderStatusProcessing OrderStatus = "PROCESSING"
	OrderStatusShipped    OrderStatus = "SHIPPED"
	OrderStatusDelivered  OrderStatus = "DELIVERED"
	OrderStatusCancelled  OrderStatus = "CANCELLED"
)

// OrderItem 是订单中的一行商品，单价为下单时刻的快照。
type OrderItem struct {
	ProductID           string
	Quantity            int
	UnitPriceAtPurchase float64
	Subtotal            float64
}

// Order 是订单聚合根。商品列表在创建后不可变，
// 后续只有状态会因 webhook 或管理操作而变化。
type Order struct {
	ID          string
	ClientID    string
	OrderNumber string
	TotalAmount float64
	Status      OrderStatus
	Items       []OrderItem

	ShippingAddress string
	BillingAddress  string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewOrderFromCart 用购物车快照创建订单实体，并与库存预占同事务落库。
func NewOrderFromCart(cart *Cart, totalAmount float64, shippingAddr, billingAddr string) (*Order, error) {
	if len(cart.Items) == 0 {
		return nil, BadRequest("cannot create an order from an empty cart")
	}

	items := make([]OrderItem, len(cart.Items))
	for i, ci := range cart.Items {
		items[i] = OrderItem{
			ProductID:           ci.ProductID,
			Quantity:            ci.Quantity,
			UnitPriceAtPurchase: ci.UnitPriceSnapshot,
			Subtotal:            ci.UnitPriceSnapshot * float64(ci.Quantity),
		}
	}

	now := time.Now()
	return &Order{
		ID:              uuid.New().String(),
		ClientID:        cart.ClientID,
		OrderNumber:     NewOrderNumber(now),
		TotalAmount:     totalAmount,
		Status:          OrderStatusPending,
		Items:           items,
		ShippingAddress: shippingAddr,
		BillingAddress:  billingAddr,
		CreatedAt:       now,
		UpdatedAt:       now,
	}, nil
}

// NewOrderNumber 生成全局唯一的订单号，日期前缀便于运营排查。
func NewOrderNumber(t time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.New().String(), "-", ""))[:12]
	return fmt.Sprintf("ORD-%s-%s", t.Format("20060102"), suffix)
}

// MarkProcessing 是支付成功后的状态推进。
func (o *Order) MarkProcessing() error {
	if o.Status != OrderStatusPending {
		return Conflict(fmt.Sprintf("order %s cannot move to processing from %s", o.OrderNumber, o.Status))
	}
	o.Status = OrderStatusProcessing
	o.UpdatedAt = time.Now()
	return nil
}

// Cancel 取消订单（支付失败或超时场景）。
func (o *Order) Cancel() error {
	if o.Status != OrderStatusPending {
		return Conflict(fmt.Sprintf("order %s cannot be cancelled from %s", o.OrderNumber, o.Status))
	}
	o.Status = OrderStatusCancelled
	o.UpdatedAt = time.Now()
	return nil
}
