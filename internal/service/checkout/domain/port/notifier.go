// internal/service/checkout/domain/port/notifier.go
package port

import (
	"context"

	"storefront/internal/service/checkout/domain"
)

// PaymentEventProducer 在对账事务提交后发布支付结果事件。
// 发布失败不回滚事务：事件只服务于前端提示，真相在数据库里。
type PaymentEventProducer interface {
	Publish(ctx context.Context, event *domain.PaymentResultEvent) error
}

// RuleEngine 对优惠码的适用性规则求值。
type RuleEngine interface {
	// Evaluate 对表达式求值；expression 为空视为通过。
	Evaluate(expression string, facts map[string]interface{}) (bool, error)
}
