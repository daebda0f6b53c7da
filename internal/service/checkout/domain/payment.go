// internal/service/checkout/domain/payment.go
package domain

import "time"

// PaymentStatus 定义了支付记录的生命周期状态。
// 状态只能由网关确认的转换驱动（同步 confirm 响应或 webhook），本地不推断。
type PaymentStatus string

const (
	PaymentStatusPending              PaymentStatus = "PENDING"
	PaymentStatusRequiresAction       PaymentStatus = "REQUIRES_ACTION"
	PaymentStatusRequiresConfirmation PaymentStatus = "REQUIRES_CONFIRMATION"
	PaymentStatusSucceeded            PaymentStatus = "SUCCEEDED"
	PaymentStatusFailed               PaymentStatus = "FAILED"
)

// Payment 记录一次收款尝试，关联本地订单与网关支付意图。
type Payment struct {
	ID       string
	CartID   string
	ClientID string
	OrderID  string // 订单创建前为空

	Amount   float64
	Currency string
	Status   PaymentStatus

	GatewayIntentID        string
	GatewayPaymentMethodID string
	ReceiptEmail           string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsTerminal 判断状态是否为终态。终态不可被任何后续事件覆盖。
func (s PaymentStatus) IsTerminal() bool {
	return s == PaymentStatusSucceeded || s == PaymentStatusFailed
}

// statusPrecedence 给状态定义优先级，用于乱序 webhook 的裁决：
// succeeded 一旦落库，迟到的 failed 不得覆盖。
func statusPrecedence(s PaymentStatus) int {
	switch s {
	case PaymentStatusSucceeded:
		return 3
	case PaymentStatusFailed:
		return 2
	default:
		return 1
	}
}

// ApplyGatewayStatus 应用一次网关上报的状态。
// 返回 false 表示该转换被优先级保护拒绝（重复投递或乱序投递），调用方应跳过。
func (p *Payment) ApplyGatewayStatus(next PaymentStatus) bool {
	if p.Status == next {
		return false
	}
	if statusPrecedence(next) < statusPrecedence(p.Status) {
		return false
	}
	// succeeded 是最终真相，不接受任何改写
	if p.Status == PaymentStatusSucceeded {
		return false
	}
	p.Status = next
	p.UpdatedAt = time.Now()
	return true
}

// GatewayIntentStatus 是网关侧支付意图的状态字符串（网关的词汇表）。
type GatewayIntentStatus = string

const (
	IntentStatusRequiresPaymentMethod GatewayIntentStatus = "requires_payment_method"
	IntentStatusRequiresConfirmation  GatewayIntentStatus = "requires_confirmation"
	IntentStatusRequiresAction        GatewayIntentStatus = "requires_action"
	IntentStatusProcessing            GatewayIntentStatus = "processing"
	IntentStatusSucceeded             GatewayIntentStatus = "succeeded"
	IntentStatusCanceled              GatewayIntentStatus = "canceled"
)

// IntentStatusReusable 判断一个已有意图是否仍可继续走完支付，
// 是结算接口幂等复用的判据。
func IntentStatusReusable(s GatewayIntentStatus) bool {
	switch s {
	case IntentStatusRequiresPaymentMethod, IntentStatusRequiresConfirmation, IntentStatusRequiresAction:
		return true
	}
	return false
}

// PaymentStatusFromIntent 把网关意图状态翻译为本地支付状态。
func PaymentStatusFromIntent(s GatewayIntentStatus) PaymentStatus {
	switch s {
	case IntentStatusSucceeded:
		return PaymentStatusSucceeded
	case IntentStatusRequiresAction:
		return PaymentStatusRequiresAction
	case IntentStatusRequiresConfirmation, IntentStatusRequiresPaymentMethod:
		return PaymentStatusRequiresConfirmation
	case IntentStatusCanceled:
		return PaymentStatusFailed
	default:
		return PaymentStatusPending
	}
}
