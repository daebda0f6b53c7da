// internal/service/checkout/application/dto.go
package application

// CreatePaymentIntentRequest 是结算入口的应用层 DTO。
type CreatePaymentIntentRequest struct {
	ClientID        string            `json:"clientId"`
	Currency        string            `json:"currency,omitempty"`
	PaymentMethodID string            `json:"paymentMethodId,omitempty"`
	Confirm         bool              `json:"confirm,omitempty"`
	ReceiptEmail    string            `json:"receiptEmail,omitempty"`
	ShippingAddress string            `json:"shippingAddress,omitempty"`
	BillingAddress  string            `json:"billingAddress,omitempty"`
	Metadata        map[string]string `json:"metadata,omitempty"`
}

// CreatePaymentIntentResponse 返回客户端继续支付所需的信息。
// Reused 区分"新建意图"与"复用未终结意图"，接口层以此区分 201/200。
type CreatePaymentIntentResponse struct {
	PaymentIntentID string  `json:"paymentIntentId"`
	ClientSecret    string  `json:"clientSecret"`
	Status          string  `json:"status"`
	RequiresAction  bool    `json:"requiresAction"`
	Amount          float64 `json:"amount"`
	Currency        string  `json:"currency"`
	Reused          bool    `json:"-"`
}

// ConfirmPaymentRequest 确认一笔已存在的支付。
type ConfirmPaymentRequest struct {
	ClientID        string `json:"clientId"`
	PaymentIntentID string `json:"paymentIntentId"`
	PaymentMethodID string `json:"paymentMethodId,omitempty"`
}

// ConfirmPaymentResponse 返回确认后的支付状态。
type ConfirmPaymentResponse struct {
	PaymentIntentID string `json:"paymentIntentId"`
	Status          string `json:"status"`
	RequiresAction  bool   `json:"requiresAction"`
}

// ApplyCouponRequest 把一个优惠码挂到当前活跃购物车上。
type ApplyCouponRequest struct {
	ClientID string `json:"clientId"`
	Code     string `json:"code"`
}

// ApplyCouponResponse 返回折扣预览。核销要等支付成功的 webhook。
type ApplyCouponResponse struct {
	Code           string  `json:"code"`
	DiscountAmount float64 `json:"discountAmount"`
	Total          float64 `json:"total"`
}

// CreateSetupIntentRequest 为保存支付方式创建 setup intent。
type CreateSetupIntentRequest struct {
	ClientID string `json:"clientId"`
}

// CreateSetupIntentResponse 返回 setup intent 的 client secret。
type CreateSetupIntentResponse struct {
	SetupIntentID string `json:"setupIntentId"`
	ClientSecret  string `json:"clientSecret"`
}

// AttachPaymentMethodRequest 把网关侧支付方式挂到客户名下。
type AttachPaymentMethodRequest struct {
	ClientID        string `json:"clientId"`
	PaymentMethodID string `json:"paymentMethodId"`
	MakeDefault     bool   `json:"makeDefault,omitempty"`
}

// PaymentMethodView 是已保存支付方式的对外视图。
type PaymentMethodView struct {
	PaymentMethodID string `json:"paymentMethodId"`
	Brand           string `json:"brand"`
	Last4           string `json:"last4"`
	ExpMonth        int    `json:"expMonth"`
	ExpYear         int    `json:"expYear"`
	IsDefault       bool   `json:"isDefault"`
}
