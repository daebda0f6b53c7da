// internal/service/checkout/domain/cart.go
package domain

import (
	"math"
	"time"
)

// CartStatus 定义了购物车的生命周期状态。
type CartStatus string

const (
	CartStatusActive    CartStatus = "ACTIVE"    // 当前唯一可结算的购物车
	CartStatusCompleted CartStatus = "COMPLETED" // 对应支付已成功，不可再变更
)

// CartItem 是购物车中的一行商品。单价是加入购物车时的快照。
type CartItem struct {
	ProductID         string
	Quantity          int
	UnitPriceSnapshot float64
}

// Cart 是购物车聚合根。
// 不变式：每个客户在任一时刻只有一个 ACTIVE 购物车，由 (client_id, status)
// 上的唯一索引兜底。
type Cart struct {
	ID       string
	ClientID string
	Status   CartStatus
	Items    []CartItem

	// ActiveIntentID 记录当前关联的网关支付意图，是结算重入检查的依据。
	ActiveIntentID string

	CouponCode string // 已应用但尚未核销的优惠码

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Total 返回购物车的商品总额。
func (c *Cart) Total() float64 {
	var total float64
	for _, item := range c.Items {
		total += item.UnitPriceSnapshot * float64(item.Quantity)
	}
	return total
}

// TotalMinorUnits 返回以最小货币单位（分）计的总额，amount 为折扣后的金额。
func TotalMinorUnits(amount float64) int64 {
	return int64(math.Round(amount * 100))
}

// CanCreateIntent 校验购物车是否满足创建支付意图的前置条件。
func (c *Cart) CanCreateIntent() error {
	if c.Status != CartStatusActive {
		return Conflict("cart is not active")
	}
	if len(c.Items) == 0 || c.Total() <= 0 {
		return BadRequest("cart is empty")
	}
	return nil
}

// MarkCompleted 将购物车置为完成态。只有支付达到终态成功时才会调用。
func (c *Cart) MarkCompleted() error {
	if c.Status != CartStatusActive {
		return Conflict("only an active cart can be completed")
	}
	c.Status = CartStatusCompleted
	c.UpdatedAt = time.Now()
	return nil
}
