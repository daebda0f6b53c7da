// internal/service/checkout/application/checkout_service.go
package application

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"storefront/internal/pkg/logger"
	"storefront/internal/service/checkout/domain"
	"storefront/internal/service/checkout/domain/port"
)

// CheckoutService 是结算编排器：驱动 购物车 → 支付意图 → 订单 →
// 库存预占 → 支付记录 的同步链路。异步的 webhook 对账在 WebhookReconciler。
type CheckoutService struct {
	tx        domain.TxManager
	customers domain.CustomerRepository
	carts     domain.CartRepository
	orders    domain.OrderRepository
	inventory domain.InventoryRepository
	payments  domain.PaymentRepository
	coupons   domain.CouponRepository
	methods   domain.PaymentMethodRepository

	gateway port.PaymentGateway
	locker  port.CartLocker
	rules   port.RuleEngine

	currency string
	tracer   trace.Tracer

	// 同进程内的并发去重：同一客户的结算请求合并为一次执行。
	// 跨进程的互斥交给 locker。
	group singleflight.Group
}

// CheckoutServiceDeps 聚合了编排器的全部依赖，避免超长构造参数列表。
type CheckoutServiceDeps struct {
	Tx        domain.TxManager
	Customers domain.CustomerRepository
	Carts     domain.CartRepository
	Orders    domain.OrderRepository
	Inventory domain.InventoryRepository
	Payments  domain.PaymentRepository
	Coupons   domain.CouponRepository
	Methods   domain.PaymentMethodRepository
	Gateway   port.PaymentGateway
	Locker    port.CartLocker
	Rules     port.RuleEngine
	Currency  string
	Tracer    trace.Tracer
}

// NewCheckoutService 创建一个结算编排器。
func NewCheckoutService(deps CheckoutServiceDeps) *CheckoutService {
	return &CheckoutService{
		tx:        deps.Tx,
		customers: deps.Customers,
		carts:     deps.Carts,
		orders:    deps.Orders,
		inventory: deps.Inventory,
		payments:  deps.Payments,
		coupons:   deps.Coupons,
		methods:   deps.Methods,
		gateway:   deps.Gateway,
		locker:    deps.Locker,
		rules:     deps.Rules,
		currency:  deps.Currency,
		tracer:    deps.Tracer,
	}
}

// EnsureActiveCart 保证客户有一个活跃购物车（登录/首次访问时调用），幂等。
func (s *CheckoutService) EnsureActiveCart(ctx context.Context, clientID string) (*domain.Cart, error) {
	ctx, span := s.tracer.Start(ctx, "checkout.EnsureActiveCart")
	defer span.End()
	return s.carts.EnsureActive(ctx, clientID)
}

// CreatePaymentIntent 把活跃购物车推进到"有可支付意图"的状态。
//
// 幂等保证：购物车已关联一个未终结意图时，原样返回其 client secret，
// 不新建网关意图（网络抖动或双击重试不会产生第二笔可扣款的意图）；
// 意图已 succeeded 时返回 Conflict——一个购物车至多成就一笔成功支付。
func (s *CheckoutService) CreatePaymentIntent(ctx context.Context, req *CreatePaymentIntentRequest) (*CreatePaymentIntentResponse, error) {
	ctx, span := s.tracer.Start(ctx, "checkout.CreatePaymentIntent")
	defer span.End()

	span.SetAttributes(attribute.String("client.id", req.ClientID))

	v, err, _ := s.group.Do("checkout:"+req.ClientID, func() (interface{}, error) {
		// 合并执行脱离首个调用方的取消信号：对端断连不能把
		// 同批其他请求的事务一起拖下水
		return s.createPaymentIntent(context.WithoutCancel(ctx), req)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return v.(*CreatePaymentIntentResponse), nil
}

func (s *CheckoutService) createPaymentIntent(ctx context.Context, req *CreatePaymentIntentRequest) (*CreatePaymentIntentResponse, error) {
	// 1. 客户必须存在
	customer, err := s.customers.FindByID(ctx, req.ClientID)
	if err != nil {
		return nil, err
	}

	// 2. 必须有一个非空的活跃购物车。这里的读取只做前置校验和取锁键，
	// 临界区内还会重读一次
	cart, err := s.carts.FindActiveByClientID(ctx, req.ClientID)
	if err != nil {
		return nil, err
	}
	if err := cart.CanCreateIntent(); err != nil {
		return nil, err
	}

	currency := req.Currency
	if currency == "" {
		currency = s.currency
	}

	var resp *CreatePaymentIntentResponse

	// 3. 购物车粒度的跨进程互斥：复用检查与意图创建必须是一个临界区
	err = s.locker.WithLock(ctx, cart.ID, func() error {
		return s.tx.WithinTx(ctx, func(txCtx context.Context) error {
			var txErr error
			resp, txErr = s.createIntentInTx(txCtx, customer, req.ClientID, currency, req)
			return txErr
		})
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// createIntentInTx 是结算事务体。任何一步失败整体回滚——
// 网关侧已创建的意图无法回滚，留给对账流程去失败或过期。
func (s *CheckoutService) createIntentInTx(ctx context.Context, customer *domain.Customer, clientID, currency string, req *CreatePaymentIntentRequest) (*CreatePaymentIntentResponse, error) {
	// 锁内重读购物车：锁外的快照在排队等锁期间可能已经过期，
	// 另一个进程刚创建的意图只有在这里才看得见
	cart, err := s.carts.FindActiveByClientID(ctx, clientID)
	if err != nil {
		return nil, err
	}
	if err := cart.CanCreateIntent(); err != nil {
		return nil, err
	}

	// 4. 惰性创建网关客户对象，只在缺失时创建
	if !customer.HasGatewayCustomer() {
		gc, err := s.gateway.CreateCustomer(ctx, customer.Email, customer.ID)
		if err != nil {
			return nil, err
		}
		if err := s.customers.SaveGatewayCustomerID(ctx, customer.ID, gc.ID); err != nil {
			return nil, err
		}
		customer.GatewayCustomerID = gc.ID
	}

	// 5. 意图复用检查：这是防重复扣款的关键幂等闸门
	if cart.ActiveIntentID != "" {
		existing, err := s.gateway.RetrievePaymentIntent(ctx, cart.ActiveIntentID)
		if err != nil {
			return nil, err
		}
		if domain.IntentStatusReusable(existing.Status) {
			logger.Ctx(ctx).Info().
				Str("cart_id", cart.ID).
				Str("intent_id", existing.ID).
				Msg("reusing non-terminal payment intent")
			return &CreatePaymentIntentResponse{
				PaymentIntentID: existing.ID,
				ClientSecret:    existing.ClientSecret,
				Status:          existing.Status,
				RequiresAction:  existing.Status == domain.IntentStatusRequiresAction,
				Amount:          float64(existing.AmountMinor) / 100,
				Currency:        existing.Currency,
				Reused:          true,
			}, nil
		}
		if existing.Status == domain.IntentStatusSucceeded {
			return nil, domain.Conflict("cart already has a succeeded payment")
		}
		// 意图已取消或失效，走新建路径
	}

	// 6. 计算应付金额（优惠码在此仅抵扣金额，核销留到支付成功之后）
	total := cart.Total()
	amount := total
	if cart.CouponCode != "" {
		coupon, err := s.validateCoupon(ctx, cart.CouponCode, cart)
		if err != nil {
			return nil, err
		}
		amount = total - coupon.DiscountFor(total)
	}

	metadata := map[string]string{
		"cart_id":   cart.ID,
		"client_id": cart.ClientID,
	}
	for k, v := range req.Metadata {
		metadata[k] = v
	}

	intent, err := s.gateway.CreatePaymentIntent(ctx, &port.CreateIntentRequest{
		AmountMinorUnits: domain.TotalMinorUnits(amount),
		Currency:         currency,
		CustomerID:       customer.GatewayCustomerID,
		PaymentMethodID:  req.PaymentMethodID,
		Confirm:          req.Confirm,
		Metadata:         metadata,
	})
	if err != nil {
		return nil, err
	}

	// 7. 创建订单并逐行预占库存；任何一行不足都会让整个事务回滚
	order, err := domain.NewOrderFromCart(cart, amount, req.ShippingAddress, req.BillingAddress)
	if err != nil {
		return nil, err
	}
	if err := s.orders.Create(ctx, order); err != nil {
		return nil, err
	}
	for _, item := range order.Items {
		if err := s.inventory.Reserve(ctx, item.ProductID, item.Quantity); err != nil {
			return nil, err
		}
	}

	// 8. 落支付记录，状态以网关返回为准
	now := time.Now()
	payment := &domain.Payment{
		ID:                     newID(),
		CartID:                 cart.ID,
		ClientID:               cart.ClientID,
		OrderID:                order.ID,
		Amount:                 amount,
		Currency:               currency,
		Status:                 domain.PaymentStatusFromIntent(intent.Status),
		GatewayIntentID:        intent.ID,
		GatewayPaymentMethodID: req.PaymentMethodID,
		ReceiptEmail:           req.ReceiptEmail,
		CreatedAt:              now,
		UpdatedAt:              now,
	}
	if err := s.payments.Create(ctx, payment); err != nil {
		return nil, err
	}
	if err := s.carts.SetActiveIntent(ctx, cart.ID, intent.ID); err != nil {
		return nil, err
	}

	logger.Ctx(ctx).Info().
		Str("cart_id", cart.ID).
		Str("order_number", order.OrderNumber).
		Str("intent_id", intent.ID).
		Float64("amount", amount).
		Msg("payment intent created")

	return &CreatePaymentIntentResponse{
		PaymentIntentID: intent.ID,
		ClientSecret:    intent.ClientSecret,
		Status:          intent.Status,
		RequiresAction:  intent.Status == domain.IntentStatusRequiresAction,
		Amount:          amount,
		Currency:        currency,
	}, nil
}

// ConfirmPayment 确认一笔支付。已成功的支付直接返回缓存结果（幂等读）。
func (s *CheckoutService) ConfirmPayment(ctx context.Context, req *ConfirmPaymentRequest) (*ConfirmPaymentResponse, error) {
	ctx, span := s.tracer.Start(ctx, "checkout.ConfirmPayment")
	defer span.End()

	payment, err := s.payments.FindByIntentID(ctx, req.PaymentIntentID)
	if err != nil {
		return nil, err
	}
	// 归属校验：不泄漏他人支付的存在性
	if payment.ClientID != req.ClientID {
		return nil, domain.NotFound("payment not found")
	}

	if payment.Status == domain.PaymentStatusSucceeded {
		return &ConfirmPaymentResponse{
			PaymentIntentID: payment.GatewayIntentID,
			Status:          domain.IntentStatusSucceeded,
		}, nil
	}

	var intent *port.GatewayIntent
	if req.PaymentMethodID != "" || payment.Status == domain.PaymentStatusRequiresConfirmation {
		intent, err = s.gateway.ConfirmPaymentIntent(ctx, req.PaymentIntentID, req.PaymentMethodID)
	} else {
		intent, err = s.gateway.RetrievePaymentIntent(ctx, req.PaymentIntentID)
	}
	if err != nil {
		// 网关拒绝：本地记为失败并把拒绝原因暴露给用户
		span.RecordError(err)
		payment.ApplyGatewayStatus(domain.PaymentStatusFailed)
		if updErr := s.payments.Update(ctx, payment); updErr != nil {
			logger.Ctx(ctx).Error().Err(updErr).Str("payment_id", payment.ID).Msg("failed to persist failed payment status")
		}
		if domain.KindOf(err) == domain.KindBadRequest {
			return nil, err
		}
		return nil, domain.BadRequest("payment confirmation was rejected by the gateway")
	}

	if payment.ApplyGatewayStatus(domain.PaymentStatusFromIntent(intent.Status)) {
		if err := s.payments.Update(ctx, payment); err != nil {
			return nil, err
		}
	}

	return &ConfirmPaymentResponse{
		PaymentIntentID: intent.ID,
		Status:          intent.Status,
		RequiresAction:  intent.Status == domain.IntentStatusRequiresAction,
	}, nil
}

// ApplyCoupon 校验优惠码并挂到活跃购物车上。
// 核销（redeem）要等到支付成功的 webhook——意图创建后支付仍可能失败。
func (s *CheckoutService) ApplyCoupon(ctx context.Context, req *ApplyCouponRequest) (*ApplyCouponResponse, error) {
	ctx, span := s.tracer.Start(ctx, "checkout.ApplyCoupon")
	defer span.End()
	span.SetAttributes(attribute.String("coupon.code", req.Code))

	cart, err := s.carts.FindActiveByClientID(ctx, req.ClientID)
	if err != nil {
		return nil, err
	}
	coupon, err := s.validateCoupon(ctx, req.Code, cart)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	err = s.tx.WithinTx(ctx, func(txCtx context.Context) error {
		redeemed, err := s.coupons.HasRedemption(txCtx, req.Code, req.ClientID)
		if err != nil {
			return err
		}
		if redeemed {
			return domain.BadRequest("Coupon already redeemed")
		}
		return s.carts.SetCoupon(txCtx, cart.ID, req.Code)
	})
	if err != nil {
		return nil, err
	}

	total := cart.Total()
	discount := coupon.DiscountFor(total)
	return &ApplyCouponResponse{
		Code:           coupon.Code,
		DiscountAmount: discount,
		Total:          total - discount,
	}, nil
}

// validateCoupon 做有效性校验 + CEL 适用性规则求值。
func (s *CheckoutService) validateCoupon(ctx context.Context, code string, cart *domain.Cart) (*domain.Coupon, error) {
	coupon, err := s.coupons.FindByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if err := coupon.Validate(time.Now()); err != nil {
		return nil, err
	}
	if coupon.RuleExpression != "" {
		ok, err := s.rules.Evaluate(coupon.RuleExpression, map[string]interface{}{
			"amount":    cart.Total(),
			"itemCount": len(cart.Items),
			"clientId":  cart.ClientID,
		})
		if err != nil {
			return nil, domain.Internal("coupon rule evaluation failed", err)
		}
		if !ok {
			return nil, domain.BadRequest("Coupon is not applicable to this cart")
		}
	}
	return coupon, nil
}

// CreateSetupIntent 为保存支付工具创建 setup intent，不产生扣款。
func (s *CheckoutService) CreateSetupIntent(ctx context.Context, req *CreateSetupIntentRequest) (*CreateSetupIntentResponse, error) {
	ctx, span := s.tracer.Start(ctx, "checkout.CreateSetupIntent")
	defer span.End()

	customer, err := s.customers.FindByID(ctx, req.ClientID)
	if err != nil {
		return nil, err
	}
	if !customer.HasGatewayCustomer() {
		gc, err := s.gateway.CreateCustomer(ctx, customer.Email, customer.ID)
		if err != nil {
			return nil, err
		}
		if err := s.customers.SaveGatewayCustomerID(ctx, customer.ID, gc.ID); err != nil {
			return nil, err
		}
		customer.GatewayCustomerID = gc.ID
	}

	si, err := s.gateway.CreateSetupIntent(ctx, customer.GatewayCustomerID)
	if err != nil {
		return nil, err
	}
	return &CreateSetupIntentResponse{SetupIntentID: si.ID, ClientSecret: si.ClientSecret}, nil
}

// AttachPaymentMethod 把网关侧支付方式绑定到客户并保存本地引用。
func (s *CheckoutService) AttachPaymentMethod(ctx context.Context, req *AttachPaymentMethodRequest) (*PaymentMethodView, error) {
	ctx, span := s.tracer.Start(ctx, "checkout.AttachPaymentMethod")
	defer span.End()

	customer, err := s.customers.FindByID(ctx, req.ClientID)
	if err != nil {
		return nil, err
	}
	if !customer.HasGatewayCustomer() {
		return nil, domain.Conflict("client has no gateway customer yet")
	}

	gm, err := s.gateway.AttachPaymentMethod(ctx, customer.GatewayCustomerID, req.PaymentMethodID)
	if err != nil {
		return nil, err
	}

	method := &domain.PaymentMethod{
		ID:              newID(),
		ClientID:        req.ClientID,
		GatewayMethodID: gm.ID,
		Brand:           gm.Brand,
		Last4:           gm.Last4,
		ExpMonth:        gm.ExpMonth,
		ExpYear:         gm.ExpYear,
		CreatedAt:       time.Now(),
	}
	err = s.tx.WithinTx(ctx, func(txCtx context.Context) error {
		if err := s.methods.Save(txCtx, method); err != nil {
			return err
		}
		if req.MakeDefault {
			return s.methods.SetDefault(txCtx, req.ClientID, gm.ID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &PaymentMethodView{
		PaymentMethodID: gm.ID,
		Brand:           gm.Brand,
		Last4:           gm.Last4,
		ExpMonth:        gm.ExpMonth,
		ExpYear:         gm.ExpYear,
		IsDefault:       req.MakeDefault,
	}, nil
}

// ListPaymentMethods 列出客户已保存的支付方式。
func (s *CheckoutService) ListPaymentMethods(ctx context.Context, clientID string) ([]*PaymentMethodView, error) {
	ctx, span := s.tracer.Start(ctx, "checkout.ListPaymentMethods")
	defer span.End()

	methods, err := s.methods.ListByClientID(ctx, clientID)
	if err != nil {
		return nil, err
	}
	views := make([]*PaymentMethodView, len(methods))
	for i, m := range methods {
		views[i] = &PaymentMethodView{
			PaymentMethodID: m.GatewayMethodID,
			Brand:           m.Brand,
			Last4:           m.Last4,
			ExpMonth:        m.ExpMonth,
			ExpYear:         m.ExpYear,
			IsDefault:       m.IsDefault,
		}
	}
	return views, nil
}

// DetachPaymentMethod 解绑支付方式：先网关后本地。
func (s *CheckoutService) DetachPaymentMethod(ctx context.Context, clientID, paymentMethodID string) error {
	ctx, span := s.tracer.Start(ctx, "checkout.DetachPaymentMethod")
	defer span.End()

	if err := s.gateway.DetachPaymentMethod(ctx, paymentMethodID); err != nil {
		return err
	}
	return s.methods.Delete(ctx, clientID, paymentMethodID)
}

// SetDefaultPaymentMethod 切换默认支付方式。
func (s *CheckoutService) SetDefaultPaymentMethod(ctx context.Context, clientID, paymentMethodID string) error {
	ctx, span := s.tracer.Start(ctx, "checkout.SetDefaultPaymentMethod")
	defer span.End()

	return s.tx.WithinTx(ctx, func(txCtx context.Context) error {
		return s.methods.SetDefault(txCtx, clientID, paymentMethodID)
	})
}
