// internal/service/checkout/interfaces/webhook_handler.go
package interfaces

import (
	"io"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"storefront/internal/pkg/logger"
	"storefront/internal/service/checkout/application"
	"storefront/internal/service/checkout/domain"
	"storefront/internal/service/checkout/domain/port"
)

// 网关重试窗口很长，报体上限防的是恶意投递，不是正常事件。
const maxWebhookBodyBytes = 1 << 20

var webhookEvents = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "checkout_webhook_events_total",
	Help: "Webhook deliveries, by outcome.",
}, []string{"outcome"})

// WebhookHandler 接收支付网关的异步回调。
// 它只做验签和解析，幂等与状态推进全在 reconciler 里。
type WebhookHandler struct {
	gateway    port.PaymentGateway
	reconciler *application.WebhookReconciler
}

func NewWebhookHandler(gateway port.PaymentGateway, reconciler *application.WebhookReconciler) *WebhookHandler {
	return &WebhookHandler{gateway: gateway, reconciler: reconciler}
}

// RegisterRoutes 在 ServeMux 上注册 webhook 路由
func (h *WebhookHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/webhooks/payment", h.handlePaymentWebhook)
}

func (h *WebhookHandler) handlePaymentWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	ctx := extractContext(r)
	tracer := otel.Tracer(serviceName)
	ctx, span := tracer.Start(ctx, "checkout.PaymentWebhook")
	defer span.End()

	// 验签必须基于原始字节
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBodyBytes))
	if err != nil {
		webhookEvents.WithLabelValues("read_error").Inc()
		writeError(w, domain.BadRequest("failed to read request body"))
		return
	}

	event, err := h.gateway.VerifyWebhook(payload, r.Header.Get("Stripe-Signature"))
	if err != nil {
		webhookEvents.WithLabelValues("signature_rejected").Inc()
		logger.Ctx(ctx).Warn().Err(err).Msg("webhook signature verification rejected")
		writeError(w, err)
		return
	}
	span.SetAttributes(
		attribute.String("webhook.event_id", event.ID),
		attribute.String("webhook.event_type", event.Type),
	)

	if err := h.reconciler.HandleEvent(ctx, event); err != nil {
		// 非 2xx 会触发网关重试，只有希望重投的错误才走到这里
		webhookEvents.WithLabelValues("reconcile_error").Inc()
		logger.Ctx(ctx).Error().Err(err).Str("event_id", event.ID).Msg("webhook reconciliation failed")
		writeError(w, err)
		return
	}

	webhookEvents.WithLabelValues("accepted").Inc()
	writeJSON(w, http.StatusOK, map[string]bool{"received": true})
}
