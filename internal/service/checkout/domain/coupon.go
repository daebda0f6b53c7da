// internal/service/checkout/domain/coupon.go
package domain

import "time"

// CouponType 定义折扣类型。
type CouponType string

const (
	CouponTypePercentage  CouponType = "PERCENTAGE"
	CouponTypeFixedAmount CouponType = "FIXED_AMOUNT"
)

// Coupon 是一个可领用的优惠码定义。
type Coupon struct {
	ID            int64
	Code          string
	Type          CouponType
	DiscountValue float64
	ValidFrom     time.Time
	ValidUntil    time.Time
	UsageLimit    int64 // 0 表示不限量
	UsedCount     int64
	Active        bool

	// RuleExpression 是可选的 CEL 适用性规则，
	// 对 {amount, itemCount, clientId} 求值，false 则拒绝。
	RuleExpression string
}

// Validate 校验优惠码在 now 时刻是否可用。顺序与用户感知一致：
// 先停用、再时间窗、最后用量。
func (c *Coupon) Validate(now time.Time) error {
	if !c.Active {
		return BadRequest("Coupon is not active")
	}
	if !c.ValidFrom.IsZero() && now.Before(c.ValidFrom) {
		return BadRequest("Coupon is not yet valid")
	}
	if !c.ValidUntil.IsZero() && now.After(c.ValidUntil) {
		return BadRequest("Coupon has expired")
	}
	if c.UsageLimit > 0 && c.UsedCount >= c.UsageLimit {
		return BadRequest("Coupon usage limit reached")
	}
	return nil
}

// DiscountFor 计算给定金额下的折扣额。折扣不会超过金额本身。
func (c *Coupon) DiscountFor(amount float64) float64 {
	var discount float64
	switch c.Type {
	case CouponTypePercentage:
		discount = amount * c.DiscountValue / 100
	case CouponTypeFixedAmount:
		discount = c.DiscountValue
	}
	if discount > amount {
		discount = amount
	}
	if discount < 0 {
		discount = 0
	}
	return discount
}

// CouponRedemption 是一条核销记录。
// 不变式：(code, client_id) 至多一条，由唯一索引在并发下兜底。
type CouponRedemption struct {
	ID         int64
	CouponCode string
	ClientID   string
	OrderID    string
	RedeemedAt time.Time
}
