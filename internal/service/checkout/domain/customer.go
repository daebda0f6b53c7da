// internal/service/checkout/domain/customer.go
package domain

import "time"

// Customer 是结算核心可见的客户视图。
// 账户/会话等信息归用户服务，这里只关心网关侧的对应关系。
type Customer struct {
	ID                string
	Email             string
	GatewayCustomerID string // 首次结算时在网关侧惰性创建
	CreatedAt         time.Time
}

// HasGatewayCustomer 判断客户是否已有网关侧客户对象。
func (c *Customer) HasGatewayCustomer() bool {
	return c.GatewayCustomerID != ""
}

// PaymentMethod 是一个网关侧已令牌化的支付工具的本地引用。
// 不变式：每个客户至多一个 default。
type PaymentMethod struct {
	ID              string
	ClientID        string
	GatewayMethodID string
	Brand           string
	Last4           string
	ExpMonth        int
	ExpYear         int
	IsDefault       bool
	CreatedAt       time.Time
}
