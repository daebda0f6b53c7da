// internal/service/checkout/application/reconciler.go
package application

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"storefront/internal/pkg/logger"
	"storefront/internal/service/checkout/domain"
	"storefront/internal/service/checkout/domain/port"
)

// EventDeduper 是 webhook 去重的快速路径（redis SETNX 实现）。
// 它只负责把明显的重复投递挡在事务之外；持久防线是
// WebhookEventRepository 的事件表加上支付状态的优先级保护。
type EventDeduper interface {
	// FirstDelivery 返回该事件 id 是否首次出现。出错时按首次处理（fail-open）。
	FirstDelivery(ctx context.Context, eventID string) (bool, error)
	// Forget 归还 FirstDelivery 占用的令牌。本地事务失败后必须调用，
	// 否则网关对同一事件的重投递会被快速路径吞掉，事件永久丢失。
	Forget(ctx context.Context, eventID string) error
}

// errEventAlreadyApplied 标记"这次投递是重复的，整个事务按无操作放弃"。
var errEventAlreadyApplied = errors.New("event already applied")

// WebhookReconciler 把网关上报的终态落回本地的
// Payment/Order/Cart/Coupon 状态。所有写入在一个事务内完成：
// 事件可能被网关重复投递，部分应用是不可接受的。
type WebhookReconciler struct {
	tx        domain.TxManager
	payments  domain.PaymentRepository
	orders    domain.OrderRepository
	carts     domain.CartRepository
	coupons   domain.CouponRepository
	inventory domain.InventoryRepository
	events    domain.WebhookEventRepository

	deduper  EventDeduper
	producer port.PaymentEventProducer
	tracer   trace.Tracer
}

// WebhookReconcilerDeps 聚合对账器的依赖。
type WebhookReconcilerDeps struct {
	Tx        domain.TxManager
	Payments  domain.PaymentRepository
	Orders    domain.OrderRepository
	Carts     domain.CartRepository
	Coupons   domain.CouponRepository
	Inventory domain.InventoryRepository
	Events    domain.WebhookEventRepository
	Deduper   EventDeduper
	Producer  port.PaymentEventProducer
	Tracer    trace.Tracer
}

// NewWebhookReconciler 创建一个对账器。
func NewWebhookReconciler(deps WebhookReconcilerDeps) *WebhookReconciler {
	return &WebhookReconciler{
		tx:        deps.Tx,
		payments:  deps.Payments,
		orders:    deps.Orders,
		carts:     deps.Carts,
		coupons:   deps.Coupons,
		inventory: deps.Inventory,
		events:    deps.Events,
		deduper:   deps.Deduper,
		producer:  deps.Producer,
		tracer:    deps.Tracer,
	}
}

// HandleEvent 处理一条已验签的网关事件。
// 返回 nil 表示接口层可以向网关回 200；只有本地落库失败才返回错误，
// 让网关按自己的退避策略重试投递。
func (r *WebhookReconciler) HandleEvent(ctx context.Context, event *port.WebhookEvent) error {
	ctx, span := r.tracer.Start(ctx, "reconciler.HandleEvent", trace.WithSpanKind(trace.SpanKindConsumer))
	defer span.End()

	span.SetAttributes(
		attribute.String("webhook.event_id", event.ID),
		attribute.String("webhook.event_type", event.Type),
	)

	switch event.Type {
	case port.EventTypePaymentSucceeded:
		return r.applyTerminalState(ctx, span, event, domain.PaymentStatusSucceeded)
	case port.EventTypePaymentFailed:
		return r.applyTerminalState(ctx, span, event, domain.PaymentStatusFailed)
	default:
		// 未知事件类型：记录并确认。网关期望对忽略的事件也回 200，
		// 否则会无限重试。
		logger.Ctx(ctx).Info().
			Str("event_id", event.ID).
			Str("event_type", event.Type).
			Msg("ignoring unhandled webhook event type")
		return nil
	}
}

func (r *WebhookReconciler) applyTerminalState(ctx context.Context, span trace.Span, event *port.WebhookEvent, status domain.PaymentStatus) error {
	if event.Intent == nil {
		logger.Ctx(ctx).Warn().Str("event_id", event.ID).Msg("payment event without intent payload, ignoring")
		return nil
	}

	// 快速路径去重。出错按首次处理：真正的幂等由事务内的防线保证。
	claimed := false
	if r.deduper != nil {
		first, err := r.deduper.FirstDelivery(ctx, event.ID)
		if err != nil {
			logger.Ctx(ctx).Warn().Err(err).Msg("event dedup fast path unavailable")
		} else if !first {
			span.AddEvent("duplicate delivery short-circuited")
			return nil
		} else {
			claimed = true
		}
	}

	var result *domain.PaymentResultEvent
	err := r.tx.WithinTx(ctx, func(txCtx context.Context) error {
		var txErr error
		if status == domain.PaymentStatusSucceeded {
			result, txErr = r.applySucceeded(txCtx, event)
		} else {
			result, txErr = r.applyFailed(txCtx, event)
		}
		return txErr
	})
	if errors.Is(err, errEventAlreadyApplied) {
		span.AddEvent("event already applied, no state changed")
		return nil
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		// 落库失败要把去重令牌还回去：接口层会对网关回非 2xx，
		// 重投递必须能重新走完整路径
		if claimed {
			if delErr := r.deduper.Forget(ctx, event.ID); delErr != nil {
				logger.Ctx(ctx).Error().Err(delErr).Str("event_id", event.ID).Msg("failed to release event dedup token")
			}
		}
		return err
	}

	// 事务已提交；事件发布失败只记日志，不影响对网关的确认
	if result != nil && r.producer != nil {
		if pubErr := r.producer.Publish(ctx, result); pubErr != nil {
			logger.Ctx(ctx).Error().Err(pubErr).Str("payment_id", result.PaymentID).Msg("failed to publish payment result event")
		}
	}
	return nil
}

// applySucceeded 在一个事务内完成支付成功的全部状态推进：
// 支付→成功，订单→处理中，购物车→完成并补开新车，优惠码核销。
func (r *WebhookReconciler) applySucceeded(ctx context.Context, event *port.WebhookEvent) (*domain.PaymentResultEvent, error) {
	if err := r.markEventProcessed(ctx, event); err != nil {
		return nil, err
	}

	payment, err := r.payments.FindByIntentID(ctx, event.Intent.ID)
	if err != nil {
		if domain.KindOf(err) == domain.KindNotFound {
			// 本地没有对应支付：意图来自一次已回滚的结算（孤儿意图）。
			// 没有可对账的状态，确认即可。
			logger.Ctx(ctx).Warn().Str("intent_id", event.Intent.ID).Msg("webhook for unknown payment intent")
			return nil, nil
		}
		return nil, err
	}

	// 优先级保护：已经是 succeeded 说明此前的投递已经应用过
	if !payment.ApplyGatewayStatus(domain.PaymentStatusSucceeded) {
		return nil, errEventAlreadyApplied
	}
	if err := r.payments.Update(ctx, payment); err != nil {
		return nil, err
	}

	var orderNumber string
	if payment.OrderID != "" {
		order, err := r.orders.FindByID(ctx, payment.OrderID)
		if err != nil {
			return nil, err
		}
		if err := order.MarkProcessing(); err == nil {
			if err := r.orders.UpdateStatus(ctx, order.ID, order.Status); err != nil {
				return nil, err
			}
		}
		orderNumber = order.OrderNumber
	}

	cart, err := r.carts.FindByID(ctx, payment.CartID)
	if err != nil {
		return nil, err
	}
	if cart.Status == domain.CartStatusActive {
		if err := r.carts.MarkCompleted(ctx, cart.ID); err != nil {
			return nil, err
		}
		// 立刻补开新车，让客户的下一次浏览有车可用
		if _, err := r.carts.EnsureActive(ctx, cart.ClientID); err != nil {
			return nil, err
		}
	}

	// 核销优惠码。(code, client_id) 唯一索引把并发下的二次核销
	// 变成 Conflict，这里按无操作吸收。
	if cart.CouponCode != "" {
		redemption := &domain.CouponRedemption{
			CouponCode: cart.CouponCode,
			ClientID:   cart.ClientID,
			OrderID:    payment.OrderID,
			RedeemedAt: time.Now(),
		}
		if err := r.coupons.CreateRedemption(ctx, redemption); err != nil {
			if domain.KindOf(err) != domain.KindConflict {
				return nil, err
			}
			logger.Ctx(ctx).Info().Str("code", cart.CouponCode).Msg("coupon already redeemed, skipping")
		}
	}

	logger.Ctx(ctx).Info().
		Str("payment_id", payment.ID).
		Str("order_id", payment.OrderID).
		Msg("payment succeeded, checkout reconciled")

	return &domain.PaymentResultEvent{
		Type:        domain.EventPaymentSucceeded,
		ClientID:    payment.ClientID,
		PaymentID:   payment.ID,
		OrderID:     payment.OrderID,
		OrderNumber: orderNumber,
		IntentID:    payment.GatewayIntentID,
		Amount:      payment.Amount,
		Currency:    payment.Currency,
		OccurredAt:  time.Now(),
	}, nil
}

// applyFailed 处理支付失败：支付置为失败，订单取消并释放库存，
// 购物车保持活跃（清掉意图引用）以便客户换一张卡重试。
//
// 库存策略（对 release-on-failure 与时间盒预留的取舍）：预占与订单
// 创建同事务，失败 webhook 到达即释放，不做后台过期。
func (r *WebhookReconciler) applyFailed(ctx context.Context, event *port.WebhookEvent) (*domain.PaymentResultEvent, error) {
	if err := r.markEventProcessed(ctx, event); err != nil {
		return nil, err
	}

	payment, err := r.payments.FindByIntentID(ctx, event.Intent.ID)
	if err != nil {
		if domain.KindOf(err) == domain.KindNotFound {
			logger.Ctx(ctx).Warn().Str("intent_id", event.Intent.ID).Msg("webhook for unknown payment intent")
			return nil, nil
		}
		return nil, err
	}

	// 迟到的 failed 不得覆盖 succeeded；重复的 failed 也在这里被拒绝
	if !payment.ApplyGatewayStatus(domain.PaymentStatusFailed) {
		return nil, errEventAlreadyApplied
	}
	if err := r.payments.Update(ctx, payment); err != nil {
		return nil, err
	}

	if payment.OrderID != "" {
		order, err := r.orders.FindByID(ctx, payment.OrderID)
		if err != nil {
			return nil, err
		}
		if err := order.Cancel(); err == nil {
			if err := r.orders.UpdateStatus(ctx, order.ID, order.Status); err != nil {
				return nil, err
			}
			for _, item := range order.Items {
				if err := r.inventory.Release(ctx, item.ProductID, item.Quantity); err != nil {
					return nil, err
				}
			}
		}
	}

	// 购物车保持活跃，清掉失效的意图引用，下一次结算走新建路径
	if err := r.carts.ClearActiveIntent(ctx, payment.CartID); err != nil {
		return nil, err
	}

	logger.Ctx(ctx).Info().
		Str("payment_id", payment.ID).
		Str("intent_id", payment.GatewayIntentID).
		Msg("payment failed, order cancelled and stock released")

	return &domain.PaymentResultEvent{
		Type:       domain.EventPaymentFailed,
		ClientID:   payment.ClientID,
		PaymentID:  payment.ID,
		OrderID:    payment.OrderID,
		IntentID:   payment.GatewayIntentID,
		Amount:     payment.Amount,
		Currency:   payment.Currency,
		OccurredAt: time.Now(),
	}, nil
}

// markEventProcessed 把事件 id 写进已处理事件表；重复投递转换为
// errEventAlreadyApplied，让整个事务按无操作放弃。
func (r *WebhookReconciler) markEventProcessed(ctx context.Context, event *port.WebhookEvent) error {
	if err := r.events.MarkProcessed(ctx, event.ID, event.Type); err != nil {
		if domain.KindOf(err) == domain.KindConflict {
			return errEventAlreadyApplied
		}
		return err
	}
	return nil
}
