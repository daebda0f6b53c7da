// internal/service/checkout/domain/port/gateway.go
package port

import "context"

// PaymentGateway 是外部支付网关的出站端口。
// 它是纯粹的翻译边界：不持有业务状态，每个调用都是一次同步 RPC，
// 可能因网络问题瞬时失败（可重试），也可能被语义拒绝（不可重试）。
type PaymentGateway interface {
	CreateCustomer(ctx context.Context, email, clientID string) (*GatewayCustomer, error)
	CreatePaymentIntent(ctx context.Context, req *CreateIntentRequest) (*GatewayIntent, error)
	RetrievePaymentIntent(ctx context.Context, intentID string) (*GatewayIntent, error)
	ConfirmPaymentIntent(ctx context.Context, intentID, paymentMethodID string) (*GatewayIntent, error)
	CreateSetupIntent(ctx context.Context, gatewayCustomerID string) (*GatewaySetupIntent, error)
	AttachPaymentMethod(ctx context.Context, gatewayCustomerID, paymentMethodID string) (*GatewayPaymentMethod, error)
	DetachPaymentMethod(ctx context.Context, paymentMethodID string) error
	// VerifyWebhook 校验签名并解析事件。签名不符返回 BadRequest 类错误。
	VerifyWebhook(payload []byte, signatureHeader string) (*WebhookEvent, error)
}

// GatewayCustomer 是网关侧客户对象。
type GatewayCustomer struct {
	ID    string
	Email string
}

// CreateIntentRequest 描述一次支付意图创建。
// 金额以最小货币单位计；metadata 中的 cartId/clientId 是 webhook 对账的关联键。
type CreateIntentRequest struct {
	AmountMinorUnits int64
	Currency         string
	CustomerID       string
	PaymentMethodID  string
	Confirm          bool
	Metadata         map[string]string
}

// GatewayIntent 是网关侧支付意图的本地视图。
type GatewayIntent struct {
	ID              string
	ClientSecret    string
	Status          string
	AmountMinor     int64
	Currency        string
	PaymentMethodID string
	Metadata        map[string]string
}

// GatewaySetupIntent 是网关侧 setup intent 的本地视图。
type GatewaySetupIntent struct {
	ID           string
	ClientSecret string
	Status       string
}

// GatewayPaymentMethod 是网关侧已令牌化支付工具的视图。
type GatewayPaymentMethod struct {
	ID       string
	Brand    string
	Last4    string
	ExpMonth int
	ExpYear  int
}

// WebhookEvent 是一条已验签的网关事件。
type WebhookEvent struct {
	ID     string
	Type   string
	Intent *GatewayIntent // payment_intent.* 事件携带
}

// 网关事件类型，与网关的词汇表保持一致。
const (
	EventTypePaymentSucceeded = "payment_intent.succeeded"
	EventTypePaymentFailed    = "payment_intent.payment_failed"
)
