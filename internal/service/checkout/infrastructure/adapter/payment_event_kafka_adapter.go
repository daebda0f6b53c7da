// internal/service/checkout/infrastructure/adapter/payment_event_kafka_adapter.go
package adapter

import (
	"context"
	"encoding/json"

	"github.com/segmentio/kafka-go"

	"storefront/internal/pkg/mq"
	"storefront/internal/service/checkout/domain"
)

// PaymentEventKafkaAdapter 把支付结果事件发到 kafka，供 push-gateway 消费。
// 以 clientId 作分区键，保证同一客户的事件有序。
type PaymentEventKafkaAdapter struct {
	writer *kafka.Writer
}

func NewPaymentEventKafkaAdapter(writer *kafka.Writer) *PaymentEventKafkaAdapter {
	return &PaymentEventKafkaAdapter{writer: writer}
}

func (a *PaymentEventKafkaAdapter) Publish(ctx context.Context, event *domain.PaymentResultEvent) error {
	value, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return mq.ProduceMessage(ctx, a.writer, []byte(event.ClientID), value)
}
