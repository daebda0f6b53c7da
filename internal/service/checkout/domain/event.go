// internal/service/checkout/domain/event.go
package domain

import "time"

// PaymentEventType 是发往 payment-events topic 的事件类型。
type PaymentEventType string

const (
	EventPaymentSucceeded PaymentEventType = "PAYMENT_SUCCEEDED"
	EventPaymentFailed    PaymentEventType = "PAYMENT_FAILED"
)

// PaymentResultEvent 在 webhook 对账事务提交后发布，
// push-gateway 消费它并把结果推给还停留在结算页的客户端。
type PaymentResultEvent struct {
	Type        PaymentEventType `json:"type"`
	ClientID    string           `json:"clientId"`
	PaymentID   string           `json:"paymentId"`
	OrderID     string           `json:"orderId,omitempty"`
	OrderNumber string           `json:"orderNumber,omitempty"`
	IntentID    string           `json:"intentId"`
	Amount      float64          `json:"amount"`
	Currency    string           `json:"currency"`
	OccurredAt  time.Time        `json:"occurredAt"`
}
