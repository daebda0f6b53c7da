// internal/service/checkout/infrastructure/adapter/stripe_gateway_adapter.go
package adapter

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	pkgerrors "github.com/pkg/errors"

	"storefront/internal/pkg/httpclient"
	"storefront/internal/service/checkout/domain"
	"storefront/internal/service/checkout/domain/port"
)

// signatureTolerance 是验签时允许的时间戳偏移，防重放。
const signatureTolerance = 5 * time.Minute

// StripeGatewayAdapter 是 port.PaymentGateway 的实现：
// 对外部网关（Stripe 线协议：表单编码请求 + JSON 响应）的纯翻译层，
// 不持有任何业务状态。
type StripeGatewayAdapter struct {
	client        *httpclient.Client
	baseURL       string
	apiKey        string
	webhookSecret string
	timeout       time.Duration
}

// StripeGatewayConfig 是适配器的连接配置。
type StripeGatewayConfig struct {
	BaseURL       string
	APIKey        string
	WebhookSecret string
	Timeout       time.Duration
}

// NewStripeGatewayAdapter 创建网关适配器。
func NewStripeGatewayAdapter(client *httpclient.Client, cfg StripeGatewayConfig) *StripeGatewayAdapter {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &StripeGatewayAdapter{
		client:        client,
		baseURL:       strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:        cfg.APIKey,
		webhookSecret: cfg.WebhookSecret,
		timeout:       timeout,
	}
}

// intentPayload 是网关支付意图对象的线格式。
type intentPayload struct {
	ID            string            `json:"id"`
	ClientSecret  string            `json:"client_secret"`
	Status        string            `json:"status"`
	Amount        int64             `json:"amount"`
	Currency      string            `json:"currency"`
	PaymentMethod string            `json:"payment_method"`
	Metadata      map[string]string `json:"metadata"`
}

type customerPayload struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

type setupIntentPayload struct {
	ID           string `json:"id"`
	ClientSecret string `json:"client_secret"`
	Status       string `json:"status"`
}

type paymentMethodPayload struct {
	ID   string `json:"id"`
	Card struct {
		Brand    string `json:"brand"`
		Last4    string `json:"last4"`
		ExpMonth int    `json:"exp_month"`
		ExpYear  int    `json:"exp_year"`
	} `json:"card"`
}

type errorPayload struct {
	Error struct {
		Type    string `json:"type"`
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type eventPayload struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

// CreateCustomer 在网关侧创建客户对象。
func (a *StripeGatewayAdapter) CreateCustomer(ctx context.Context, email, clientID string) (*port.GatewayCustomer, error) {
	form := url.Values{}
	form.Set("email", email)
	form.Set("metadata[client_id]", clientID)

	var payload customerPayload
	if err := a.post(ctx, "/v1/customers", form, &payload); err != nil {
		return nil, err
	}
	return &port.GatewayCustomer{ID: payload.ID, Email: payload.Email}, nil
}

// CreatePaymentIntent 创建支付意图，金额以最小货币单位计。
func (a *StripeGatewayAdapter) CreatePaymentIntent(ctx context.Context, req *port.CreateIntentRequest) (*port.GatewayIntent, error) {
	form := url.Values{}
	form.Set("amount", strconv.FormatInt(req.AmountMinorUnits, 10))
	form.Set("currency", req.Currency)
	if req.CustomerID != "" {
		form.Set("customer", req.CustomerID)
	}
	if req.PaymentMethodID != "" {
		form.Set("payment_method", req.PaymentMethodID)
	}
	if req.Confirm {
		form.Set("confirm", "true")
	}
	for k, v := range req.Metadata {
		form.Set(fmt.Sprintf("metadata[%s]", k), v)
	}

	var payload intentPayload
	if err := a.post(ctx, "/v1/payment_intents", form, &payload); err != nil {
		return nil, err
	}
	return toGatewayIntent(&payload), nil
}

// RetrievePaymentIntent 拉取意图当前状态，是复用检查的依据。
func (a *StripeGatewayAdapter) RetrievePaymentIntent(ctx context.Context, intentID string) (*port.GatewayIntent, error) {
	var payload intentPayload
	if err := a.get(ctx, "/v1/payment_intents/"+url.PathEscape(intentID), &payload); err != nil {
		return nil, err
	}
	return toGatewayIntent(&payload), nil
}

// ConfirmPaymentIntent 发起确认。
func (a *StripeGatewayAdapter) ConfirmPaymentIntent(ctx context.Context, intentID, paymentMethodID string) (*port.GatewayIntent, error) {
	form := url.Values{}
	if paymentMethodID != "" {
		form.Set("payment_method", paymentMethodID)
	}
	var payload intentPayload
	if err := a.post(ctx, "/v1/payment_intents/"+url.PathEscape(intentID)+"/confirm", form, &payload); err != nil {
		return nil, err
	}
	return toGatewayIntent(&payload), nil
}

// CreateSetupIntent 创建 setup intent，用于保存支付工具、不扣款。
func (a *StripeGatewayAdapter) CreateSetupIntent(ctx context.Context, gatewayCustomerID string) (*port.GatewaySetupIntent, error) {
	form := url.Values{}
	form.Set("customer", gatewayCustomerID)
	form.Set("usage", "off_session")

	var payload setupIntentPayload
	if err := a.post(ctx, "/v1/setup_intents", form, &payload); err != nil {
		return nil, err
	}
	return &port.GatewaySetupIntent{ID: payload.ID, ClientSecret: payload.ClientSecret, Status: payload.Status}, nil
}

// AttachPaymentMethod 把支付方式挂到网关客户名下。
func (a *StripeGatewayAdapter) AttachPaymentMethod(ctx context.Context, gatewayCustomerID, paymentMethodID string) (*port.GatewayPaymentMethod, error) {
	form := url.Values{}
	form.Set("customer", gatewayCustomerID)

	var payload paymentMethodPayload
	if err := a.post(ctx, "/v1/payment_methods/"+url.PathEscape(paymentMethodID)+"/attach", form, &payload); err != nil {
		return nil, err
	}
	return &port.GatewayPaymentMethod{
		ID:       payload.ID,
		Brand:    payload.Card.Brand,
		Last4:    payload.Card.Last4,
		ExpMonth: payload.Card.ExpMonth,
		ExpYear:  payload.Card.ExpYear,
	}, nil
}

// DetachPaymentMethod 解绑支付方式。
func (a *StripeGatewayAdapter) DetachPaymentMethod(ctx context.Context, paymentMethodID string) error {
	var payload paymentMethodPayload
	return a.post(ctx, "/v1/payment_methods/"+url.PathEscape(paymentMethodID)+"/detach", url.Values{}, &payload)
}

// VerifyWebhook 验签并解析事件。
// 签名头格式 "t=<unix>,v1=<hex>"，签名为 HMAC-SHA256(secret, "<t>.<payload>")。
// 必须对原始字节验签，任何预解析都会破坏逐字节一致性。
func (a *StripeGatewayAdapter) VerifyWebhook(payload []byte, signatureHeader string) (*port.WebhookEvent, error) {
	timestamp, signatures, err := parseSignatureHeader(signatureHeader)
	if err != nil {
		return nil, domain.BadRequest("invalid webhook signature header")
	}

	if d := time.Since(time.Unix(timestamp, 0)); d > signatureTolerance || d < -signatureTolerance {
		return nil, domain.BadRequest("webhook timestamp outside of tolerance")
	}

	mac := hmac.New(sha256.New, []byte(a.webhookSecret))
	mac.Write([]byte(strconv.FormatInt(timestamp, 10)))
	mac.Write([]byte("."))
	mac.Write(payload)
	expected := mac.Sum(nil)

	verified := false
	for _, sig := range signatures {
		decoded, err := hex.DecodeString(sig)
		if err != nil {
			continue
		}
		if hmac.Equal(decoded, expected) {
			verified = true
			break
		}
	}
	if !verified {
		return nil, domain.BadRequest("webhook signature verification failed")
	}

	var event eventPayload
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, domain.BadRequest("malformed webhook payload")
	}

	result := &port.WebhookEvent{ID: event.ID, Type: event.Type}
	if strings.HasPrefix(event.Type, "payment_intent.") && len(event.Data.Object) > 0 {
		var intent intentPayload
		if err := json.Unmarshal(event.Data.Object, &intent); err != nil {
			return nil, domain.BadRequest("malformed payment intent in webhook payload")
		}
		result.Intent = toGatewayIntent(&intent)
	}
	return result, nil
}

func parseSignatureHeader(header string) (int64, []string, error) {
	var timestamp int64 = -1
	var signatures []string
	for _, part := range strings.Split(header, ",") {
		kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch kv[0] {
		case "t":
			ts, err := strconv.ParseInt(kv[1], 10, 64)
			if err != nil {
				return 0, nil, err
			}
			timestamp = ts
		case "v1":
			signatures = append(signatures, kv[1])
		}
	}
	if timestamp < 0 || len(signatures) == 0 {
		return 0, nil, fmt.Errorf("missing timestamp or signature")
	}
	return timestamp, signatures, nil
}

func toGatewayIntent(p *intentPayload) *port.GatewayIntent {
	return &port.GatewayIntent{
		ID:              p.ID,
		ClientSecret:    p.ClientSecret,
		Status:          p.Status,
		AmountMinor:     p.Amount,
		Currency:        p.Currency,
		PaymentMethodID: p.PaymentMethod,
		Metadata:        p.Metadata,
	}
}

func (a *StripeGatewayAdapter) post(ctx context.Context, path string, form url.Values, out interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	resp, err := a.client.PostForm(ctx, a.baseURL+path, a.authHeader(), form)
	if err != nil {
		return domain.Internal("payment gateway unreachable", err)
	}
	return a.decode(resp, out)
}

func (a *StripeGatewayAdapter) get(ctx context.Context, path string, out interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	resp, err := a.client.Get(ctx, a.baseURL+path, a.authHeader())
	if err != nil {
		return domain.Internal("payment gateway unreachable", err)
	}
	return a.decode(resp, out)
}

func (a *StripeGatewayAdapter) authHeader() http.Header {
	h := http.Header{}
	h.Set("Authorization", "Bearer "+a.apiKey)
	return h
}

// decode 解出响应体，并把网关的语义拒绝翻译成领域错误：
// card_error 是用户可见的 BadRequest，其余一律 Internal，不外泄细节。
func (a *StripeGatewayAdapter) decode(resp *httpclient.Response, out interface{}) error {
	if resp.StatusCode >= http.StatusBadRequest {
		var ep errorPayload
		if err := json.Unmarshal(resp.Body, &ep); err == nil && ep.Error.Type == "card_error" {
			msg := ep.Error.Message
			if msg == "" {
				msg = "card was declined"
			}
			return domain.BadRequest(msg)
		}
		return domain.Internal(
			fmt.Sprintf("payment gateway returned status %d", resp.StatusCode),
			pkgerrors.Errorf("gateway error body: %s", truncate(resp.Body, 512)),
		)
	}
	if err := json.Unmarshal(resp.Body, out); err != nil {
		return domain.Internal("failed to decode gateway response", err)
	}
	return nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
