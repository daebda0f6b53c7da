// internal/service/checkout/interfaces/http_handler.go
package interfaces

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"

	"storefront/internal/pkg/logger"
	"storefront/internal/service/checkout/application"
	"storefront/internal/service/checkout/domain"
)

const serviceName = "checkout-service"

var (
	paymentIntentCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "checkout_payment_intents_total",
		Help: "Payment intent creation outcomes, by result.",
	}, []string{"result"})

	checkoutErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "checkout_request_errors_total",
		Help: "Checkout API errors, by error kind.",
	}, []string{"kind"})
)

// CheckoutHandler 封装了 checkout 服务的 HTTP 处理器
type CheckoutHandler struct {
	service *application.CheckoutService
}

// NewCheckoutHandler 创建一个新的 HTTP 处理器实例
func NewCheckoutHandler(service *application.CheckoutService) *CheckoutHandler {
	return &CheckoutHandler{service: service}
}

// RegisterRoutes 在 ServeMux 上注册所有路由
func (h *CheckoutHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	mux.Handle("/metrics", promhttp.Handler())

	mux.HandleFunc("/checkout/payment_intent", h.handleCreatePaymentIntent)
	mux.HandleFunc("/checkout/confirm", h.handleConfirmPayment)
	mux.HandleFunc("/checkout/coupon", h.handleApplyCoupon)
	mux.HandleFunc("/checkout/setup_intent", h.handleCreateSetupIntent)
	mux.HandleFunc("/checkout/payment_methods", h.handlePaymentMethods)
	mux.HandleFunc("/checkout/payment_methods/", h.handlePaymentMethodByID)
}

func (h *CheckoutHandler) handleCreatePaymentIntent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	ctx := extractContext(r)
	tracer := otel.Tracer(serviceName)
	ctx, span := tracer.Start(ctx, "checkout.CreatePaymentIntent")
	defer span.End()

	var req application.CreatePaymentIntentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, domain.BadRequest("invalid request body"))
		return
	}
	if req.ClientID == "" {
		writeError(w, domain.BadRequest("clientId is required"))
		return
	}
	span.SetAttributes(attribute.String("checkout.client_id", req.ClientID))

	resp, err := h.service.CreatePaymentIntent(ctx, &req)
	if err != nil {
		paymentIntentCreated.WithLabelValues("error").Inc()
		writeError(w, err)
		return
	}

	// 复用已有意图返回 200，新建返回 201
	status := http.StatusCreated
	if resp.Reused {
		status = http.StatusOK
		paymentIntentCreated.WithLabelValues("reused").Inc()
	} else {
		paymentIntentCreated.WithLabelValues("created").Inc()
	}
	span.SetAttributes(attribute.Bool("checkout.intent_reused", resp.Reused))
	writeJSON(w, status, resp)
}

func (h *CheckoutHandler) handleConfirmPayment(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	ctx := extractContext(r)
	tracer := otel.Tracer(serviceName)
	ctx, span := tracer.Start(ctx, "checkout.ConfirmPayment")
	defer span.End()

	var req application.ConfirmPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, domain.BadRequest("invalid request body"))
		return
	}
	if req.ClientID == "" || req.PaymentIntentID == "" {
		writeError(w, domain.BadRequest("clientId and paymentIntentId are required"))
		return
	}

	resp, err := h.service.ConfirmPayment(ctx, &req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *CheckoutHandler) handleApplyCoupon(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	ctx := extractContext(r)
	tracer := otel.Tracer(serviceName)
	ctx, span := tracer.Start(ctx, "checkout.ApplyCoupon")
	defer span.End()

	var req application.ApplyCouponRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, domain.BadRequest("invalid request body"))
		return
	}
	if req.ClientID == "" || req.Code == "" {
		writeError(w, domain.BadRequest("clientId and code are required"))
		return
	}

	resp, err := h.service.ApplyCoupon(ctx, &req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *CheckoutHandler) handleCreateSetupIntent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	ctx := extractContext(r)
	tracer := otel.Tracer(serviceName)
	ctx, span := tracer.Start(ctx, "checkout.CreateSetupIntent")
	defer span.End()

	var req application.CreateSetupIntentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, domain.BadRequest("invalid request body"))
		return
	}
	if req.ClientID == "" {
		writeError(w, domain.BadRequest("clientId is required"))
		return
	}

	resp, err := h.service.CreateSetupIntent(ctx, &req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

// handlePaymentMethods 处理支付方式集合：GET 列表 / POST 绑定
func (h *CheckoutHandler) handlePaymentMethods(w http.ResponseWriter, r *http.Request) {
	ctx := extractContext(r)
	tracer := otel.Tracer(serviceName)

	switch r.Method {
	case http.MethodGet:
		ctx, span := tracer.Start(ctx, "checkout.ListPaymentMethods")
		defer span.End()

		clientID := r.URL.Query().Get("clientId")
		if clientID == "" {
			writeError(w, domain.BadRequest("clientId is required"))
			return
		}
		views, err := h.service.ListPaymentMethods(ctx, clientID)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"paymentMethods": views})

	case http.MethodPost:
		ctx, span := tracer.Start(ctx, "checkout.AttachPaymentMethod")
		defer span.End()

		var req application.AttachPaymentMethodRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, domain.BadRequest("invalid request body"))
			return
		}
		if req.ClientID == "" || req.PaymentMethodID == "" {
			writeError(w, domain.BadRequest("clientId and paymentMethodId are required"))
			return
		}
		view, err := h.service.AttachPaymentMethod(ctx, &req)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, view)

	default:
		writeMethodNotAllowed(w)
	}
}

// handlePaymentMethodByID 处理单个支付方式：DELETE 解绑 / POST .../default 设默认
func (h *CheckoutHandler) handlePaymentMethodByID(w http.ResponseWriter, r *http.Request) {
	ctx := extractContext(r)
	tracer := otel.Tracer(serviceName)

	rest := strings.TrimPrefix(r.URL.Path, "/checkout/payment_methods/")
	clientID := r.URL.Query().Get("clientId")
	if clientID == "" {
		writeError(w, domain.BadRequest("clientId is required"))
		return
	}

	switch {
	case r.Method == http.MethodDelete:
		ctx, span := tracer.Start(ctx, "checkout.DetachPaymentMethod")
		defer span.End()

		if rest == "" || strings.Contains(rest, "/") {
			writeError(w, domain.BadRequest("invalid payment method id"))
			return
		}
		if err := h.service.DetachPaymentMethod(ctx, clientID, rest); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)

	case r.Method == http.MethodPost && strings.HasSuffix(rest, "/default"):
		ctx, span := tracer.Start(ctx, "checkout.SetDefaultPaymentMethod")
		defer span.End()

		id := strings.TrimSuffix(rest, "/default")
		if id == "" {
			writeError(w, domain.BadRequest("invalid payment method id"))
			return
		}
		if err := h.service.SetDefaultPaymentMethod(ctx, clientID, id); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})

	default:
		writeMethodNotAllowed(w)
	}
}

func extractContext(r *http.Request) context.Context {
	propagator := otel.GetTextMapPropagator()
	return propagator.Extract(r.Context(), propagation.HeaderCarrier(r.Header))
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// writeError 把领域错误分类映射到 HTTP 状态码
func writeError(w http.ResponseWriter, err error) {
	kind := domain.KindOf(err)

	var status int
	switch kind {
	case domain.KindNotFound:
		status = http.StatusNotFound
	case domain.KindConflict, domain.KindInsufficientStock:
		status = http.StatusConflict
	case domain.KindBadRequest:
		status = http.StatusBadRequest
	default:
		status = http.StatusInternalServerError
	}

	checkoutErrors.WithLabelValues(kindLabel(kind)).Inc()

	message := err.Error()
	if status == http.StatusInternalServerError {
		// 内部错误细节进日志，不出接口
		logger.Logger().Error().Err(err).Msg("checkout request failed")
		message = "internal error"
	}
	writeJSON(w, status, map[string]string{"message": message})
}

func kindLabel(kind domain.ErrorKind) string {
	switch kind {
	case domain.KindNotFound:
		return "not_found"
	case domain.KindConflict:
		return "conflict"
	case domain.KindBadRequest:
		return "bad_request"
	case domain.KindInsufficientStock:
		return "insufficient_stock"
	default:
		return "internal"
	}
}

func writeMethodNotAllowed(w http.ResponseWriter) {
	writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"message": "method not allowed"})
}
