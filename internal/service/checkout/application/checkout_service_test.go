// internal/service/checkout/application/checkout_service_test.go
package application

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.opentelemetry.io/otel/trace/noop"

	"storefront/internal/service/checkout/domain"
)

type checkoutFixture struct {
	store   *memStore
	gateway *fakeGateway
	locker  *fakeLocker
	rules   *fakeRules
	service *CheckoutService
}

func newCheckoutFixture() *checkoutFixture {
	store := newMemStore()
	gateway := newFakeGateway()
	locker := &fakeLocker{}
	rules := &fakeRules{result: true}

	service := NewCheckoutService(CheckoutServiceDeps{
		Tx:        &fakeTxManager{store: store},
		Customers: &fakeCustomerRepo{store: store},
		Carts:     &fakeCartRepo{store: store},
		Orders:    &fakeOrderRepo{store: store},
		Inventory: &fakeInventoryRepo{store: store},
		Payments:  &fakePaymentRepo{store: store},
		Coupons:   &fakeCouponRepo{store: store},
		Methods:   &fakeMethodRepo{store: store},
		Gateway:   gateway,
		Locker:    locker,
		Rules:     rules,
		Currency:  "usd",
		Tracer:    noop.NewTracerProvider().Tracer("test"),
	})
	return &checkoutFixture{store: store, gateway: gateway, locker: locker, rules: rules, service: service}
}

func (f *checkoutFixture) seedCustomer(clientID, gatewayID string) {
	f.store.customers[clientID] = &domain.Customer{
		ID:                clientID,
		Email:             clientID + "@example.com",
		GatewayCustomerID: gatewayID,
	}
}

func (f *checkoutFixture) seedActiveCart(clientID string, items ...domain.CartItem) *domain.Cart {
	cart := &domain.Cart{
		ID:       f.store.genID("cart"),
		ClientID: clientID,
		Status:   domain.CartStatusActive,
		Items:    items,
	}
	f.store.carts[cart.ID] = cart
	f.store.activeCarts[clientID] = cart.ID
	return cart
}

func (f *checkoutFixture) paymentByIntent(intentID string) *domain.Payment {
	for _, p := range f.store.payments {
		if p.GatewayIntentID == intentID {
			return p
		}
	}
	return nil
}

func item(productID string, qty int, price float64) domain.CartItem {
	return domain.CartItem{ProductID: productID, Quantity: qty, UnitPriceSnapshot: price}
}

func TestCreatePaymentIntent_HappyPath(t *testing.T) {
	f := newCheckoutFixture()
	f.seedCustomer("c1", "")
	cart := f.seedActiveCart("c1", item("p1", 2, 10.50), item("p2", 1, 4.00))
	f.store.stock["p1"] = 5
	f.store.stock["p2"] = 3

	resp, err := f.service.CreatePaymentIntent(context.Background(), &CreatePaymentIntentRequest{ClientID: "c1"})
	if err != nil {
		t.Fatalf("CreatePaymentIntent: %v", err)
	}

	if resp.PaymentIntentID != "pi_new" {
		t.Errorf("intent id = %q, want pi_new", resp.PaymentIntentID)
	}
	if resp.ClientSecret == "" {
		t.Error("expected a client secret")
	}
	if resp.Reused {
		t.Error("fresh intent must not be marked as reused")
	}
	if resp.Amount != 25.00 {
		t.Errorf("amount = %v, want 25.00", resp.Amount)
	}
	if resp.Currency != "usd" {
		t.Errorf("currency = %q, want usd", resp.Currency)
	}

	// 网关客户惰性创建且只创建一次
	if f.gateway.createCustomerCalls != 1 {
		t.Errorf("createCustomerCalls = %d, want 1", f.gateway.createCustomerCalls)
	}
	if got := f.store.customers["c1"].GatewayCustomerID; got != "cus_c1" {
		t.Errorf("gateway customer id = %q, want cus_c1", got)
	}

	// 库存被预占
	if f.store.stock["p1"] != 3 || f.store.stock["p2"] != 2 {
		t.Errorf("stock after reserve = p1:%d p2:%d, want p1:3 p2:2", f.store.stock["p1"], f.store.stock["p2"])
	}

	// 订单以快照价创建，状态 PENDING
	if len(f.store.orders) != 1 {
		t.Fatalf("orders = %d, want 1", len(f.store.orders))
	}
	for _, order := range f.store.orders {
		if order.Status != domain.OrderStatusPending {
			t.Errorf("order status = %s, want PENDING", order.Status)
		}
		if order.TotalAmount != 25.00 {
			t.Errorf("order total = %v, want 25.00", order.TotalAmount)
		}
		if len(order.Items) != 2 {
			t.Errorf("order items = %d, want 2", len(order.Items))
		}
	}

	// 支付记录关联意图，购物车记录活跃意图
	payment := f.paymentByIntent("pi_new")
	if payment == nil {
		t.Fatal("payment record not created")
	}
	if payment.Status != domain.PaymentStatusRequiresConfirmation {
		t.Errorf("payment status = %s, want REQUIRES_CONFIRMATION", payment.Status)
	}
	if f.store.carts[cart.ID].ActiveIntentID != "pi_new" {
		t.Errorf("cart active intent = %q, want pi_new", f.store.carts[cart.ID].ActiveIntentID)
	}
	if f.locker.calls != 1 {
		t.Errorf("lock acquisitions = %d, want 1", f.locker.calls)
	}
}

func TestCreatePaymentIntent_EmptyCartRejected(t *testing.T) {
	f := newCheckoutFixture()
	f.seedCustomer("c1", "cus_c1")
	f.seedActiveCart("c1")

	_, err := f.service.CreatePaymentIntent(context.Background(), &CreatePaymentIntentRequest{ClientID: "c1"})
	if domain.KindOf(err) != domain.KindBadRequest {
		t.Fatalf("err = %v, want BadRequest", err)
	}
	if f.gateway.createIntentCalls != 0 {
		t.Errorf("gateway must not be called for an empty cart")
	}
}

func TestCreatePaymentIntent_UnknownClient(t *testing.T) {
	f := newCheckoutFixture()

	_, err := f.service.CreatePaymentIntent(context.Background(), &CreatePaymentIntentRequest{ClientID: "ghost"})
	if domain.KindOf(err) != domain.KindNotFound {
		t.Fatalf("err = %v, want NotFound", err)
	}
}

func TestCreatePaymentIntent_InsufficientStockRollsBack(t *testing.T) {
	f := newCheckoutFixture()
	f.seedCustomer("c1", "cus_c1")
	cart := f.seedActiveCart("c1", item("p1", 2, 10), item("p2", 2, 5))
	f.store.stock["p1"] = 5
	f.store.stock["p2"] = 1 // 第二行不足

	_, err := f.service.CreatePaymentIntent(context.Background(), &CreatePaymentIntentRequest{ClientID: "c1"})
	if domain.KindOf(err) != domain.KindInsufficientStock {
		t.Fatalf("err = %v, want InsufficientStock", err)
	}

	// 整个事务回滚：没有订单、没有支付、库存恢复、购物车不挂意图
	if len(f.store.orders) != 0 {
		t.Errorf("orders after rollback = %d, want 0", len(f.store.orders))
	}
	if len(f.store.payments) != 0 {
		t.Errorf("payments after rollback = %d, want 0", len(f.store.payments))
	}
	if f.store.stock["p1"] != 5 || f.store.stock["p2"] != 1 {
		t.Errorf("stock after rollback = p1:%d p2:%d, want p1:5 p2:1", f.store.stock["p1"], f.store.stock["p2"])
	}
	if f.store.carts[cart.ID].ActiveIntentID != "" {
		t.Errorf("cart must not reference an intent after rollback")
	}
}

func TestCreatePaymentIntent_ReuseAndConflict(t *testing.T) {
	tests := []struct {
		name         string
		intentStatus string
		wantReused   bool
		wantKind     domain.ErrorKind
		wantNewCalls int
	}{
		{name: "requires_payment_method is reused", intentStatus: "requires_payment_method", wantReused: true},
		{name: "requires_action is reused", intentStatus: "requires_action", wantReused: true},
		{name: "succeeded conflicts", intentStatus: "succeeded", wantKind: domain.KindConflict},
		{name: "canceled falls through to a new intent", intentStatus: "canceled", wantNewCalls: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newCheckoutFixture()
			f.seedCustomer("c1", "cus_c1")
			cart := f.seedActiveCart("c1", item("p1", 1, 30))
			cart.ActiveIntentID = "pi_old"
			f.store.stock["p1"] = 10
			f.gateway.intents["pi_old"] = newIntent("pi_old", tt.intentStatus, 3000)

			resp, err := f.service.CreatePaymentIntent(context.Background(), &CreatePaymentIntentRequest{ClientID: "c1"})

			if tt.wantKind != 0 {
				if domain.KindOf(err) != tt.wantKind {
					t.Fatalf("err = %v, want kind %v", err, tt.wantKind)
				}
				return
			}
			if err != nil {
				t.Fatalf("CreatePaymentIntent: %v", err)
			}
			if resp.Reused != tt.wantReused {
				t.Errorf("reused = %v, want %v", resp.Reused, tt.wantReused)
			}
			if tt.wantReused {
				if resp.PaymentIntentID != "pi_old" {
					t.Errorf("intent id = %q, want pi_old", resp.PaymentIntentID)
				}
				if f.gateway.createIntentCalls != 0 {
					t.Errorf("reuse must not create a new gateway intent")
				}
				if len(f.store.orders) != 0 {
					t.Errorf("reuse must not create a new order")
				}
			}
			if f.gateway.createIntentCalls != tt.wantNewCalls {
				t.Errorf("createIntentCalls = %d, want %d", f.gateway.createIntentCalls, tt.wantNewCalls)
			}
		})
	}
}

func TestCreatePaymentIntent_ConcurrentAcrossInstances(t *testing.T) {
	// 两个服务实例共享存储和锁，模拟两个进程同时结算同一购物车。
	// 锁只负责串行化，不合并请求：排在后面的实例必须在临界区内
	// 看到前一个实例刚创建的意图并复用它。
	store := newMemStore()
	gateway := newFakeGateway()
	lock := &sharedLock{}

	newInstance := func() *CheckoutService {
		return NewCheckoutService(CheckoutServiceDeps{
			Tx:        &fakeTxManager{store: store},
			Customers: &fakeCustomerRepo{store: store},
			Carts:     &fakeCartRepo{store: store},
			Orders:    &fakeOrderRepo{store: store},
			Inventory: &fakeInventoryRepo{store: store},
			Payments:  &fakePaymentRepo{store: store},
			Coupons:   &fakeCouponRepo{store: store},
			Methods:   &fakeMethodRepo{store: store},
			Gateway:   gateway,
			Locker:    lock,
			Rules:     &fakeRules{result: true},
			Currency:  "usd",
			Tracer:    noop.NewTracerProvider().Tracer("test"),
		})
	}

	store.customers["c1"] = &domain.Customer{ID: "c1", Email: "c1@example.com", GatewayCustomerID: "cus_c1"}
	cart := &domain.Cart{
		ID:       "cart_1",
		ClientID: "c1",
		Status:   domain.CartStatusActive,
		Items:    []domain.CartItem{{ProductID: "p1", Quantity: 1, UnitPriceSnapshot: 30}},
	}
	store.carts[cart.ID] = cart
	store.activeCarts["c1"] = cart.ID
	store.stock["p1"] = 10
	// 后到的实例会去网关查前一个实例创建的意图
	gateway.intents["pi_new"] = newIntent("pi_new", "requires_payment_method", 3000)

	services := []*CheckoutService{newInstance(), newInstance()}
	responses := make([]*CreatePaymentIntentResponse, len(services))
	errs := make([]error, len(services))

	var wg sync.WaitGroup
	for i := range services {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			responses[i], errs[i] = services[i].CreatePaymentIntent(context.Background(), &CreatePaymentIntentRequest{ClientID: "c1"})
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("instance %d: %v", i, err)
		}
	}

	// 可扣款的网关意图只允许创建一笔
	if gateway.createIntentCalls != 1 {
		t.Fatalf("billable gateway intents created = %d, want 1", gateway.createIntentCalls)
	}
	reused := 0
	for _, resp := range responses {
		if resp.PaymentIntentID != "pi_new" {
			t.Errorf("intent id = %q, want pi_new", resp.PaymentIntentID)
		}
		if resp.Reused {
			reused++
		}
	}
	if reused != 1 {
		t.Errorf("reused responses = %d, want exactly 1", reused)
	}
	if len(store.orders) != 1 {
		t.Errorf("orders = %d, want 1", len(store.orders))
	}
	if len(store.payments) != 1 {
		t.Errorf("payments = %d, want 1", len(store.payments))
	}
	if store.stock["p1"] != 9 {
		t.Errorf("stock = %d, reservation must happen once", store.stock["p1"])
	}
}

func TestCreatePaymentIntent_CouponDiscountsAmount(t *testing.T) {
	f := newCheckoutFixture()
	f.seedCustomer("c1", "cus_c1")
	cart := f.seedActiveCart("c1", item("p1", 2, 10))
	cart.CouponCode = "SAVE5"
	f.store.stock["p1"] = 10
	f.store.coupons["SAVE5"] = &domain.Coupon{
		Code:          "SAVE5",
		Type:          domain.CouponTypeFixedAmount,
		DiscountValue: 5,
		Active:        true,
	}

	resp, err := f.service.CreatePaymentIntent(context.Background(), &CreatePaymentIntentRequest{ClientID: "c1"})
	if err != nil {
		t.Fatalf("CreatePaymentIntent: %v", err)
	}
	if resp.Amount != 15.00 {
		t.Errorf("amount = %v, want 15.00 (20 - 5 coupon)", resp.Amount)
	}
	payment := f.paymentByIntent("pi_new")
	if payment == nil || payment.Amount != 15.00 {
		t.Errorf("payment amount must carry the discounted total")
	}
	// 核销只在支付成功后发生
	if len(f.store.redemptions) != 0 {
		t.Errorf("coupon must not be redeemed at intent creation")
	}
}

func TestApplyCoupon(t *testing.T) {
	now := time.Now()

	t.Run("valid coupon previews the discount", func(t *testing.T) {
		f := newCheckoutFixture()
		f.seedCustomer("c1", "cus_c1")
		cart := f.seedActiveCart("c1", item("p1", 4, 25))
		f.store.coupons["TEN"] = &domain.Coupon{
			Code: "TEN", Type: domain.CouponTypePercentage, DiscountValue: 10,
			Active: true, ValidFrom: now.Add(-time.Hour), ValidUntil: now.Add(time.Hour),
		}

		resp, err := f.service.ApplyCoupon(context.Background(), &ApplyCouponRequest{ClientID: "c1", Code: "TEN"})
		if err != nil {
			t.Fatalf("ApplyCoupon: %v", err)
		}
		if resp.DiscountAmount != 10.00 {
			t.Errorf("discount = %v, want 10.00", resp.DiscountAmount)
		}
		if resp.Total != 90.00 {
			t.Errorf("total = %v, want 90.00", resp.Total)
		}
		if f.store.carts[cart.ID].CouponCode != "TEN" {
			t.Errorf("coupon code not attached to the cart")
		}
	})

	t.Run("expired coupon is rejected", func(t *testing.T) {
		f := newCheckoutFixture()
		f.seedCustomer("c1", "cus_c1")
		f.seedActiveCart("c1", item("p1", 1, 10))
		f.store.coupons["OLD"] = &domain.Coupon{
			Code: "OLD", Type: domain.CouponTypeFixedAmount, DiscountValue: 5,
			Active: true, ValidUntil: now.Add(-time.Hour),
		}

		_, err := f.service.ApplyCoupon(context.Background(), &ApplyCouponRequest{ClientID: "c1", Code: "OLD"})
		if domain.KindOf(err) != domain.KindBadRequest {
			t.Fatalf("err = %v, want BadRequest", err)
		}
		if err.Error() != "Coupon has expired" {
			t.Errorf("message = %q, want %q", err.Error(), "Coupon has expired")
		}
	})

	t.Run("already redeemed coupon is rejected", func(t *testing.T) {
		f := newCheckoutFixture()
		f.seedCustomer("c1", "cus_c1")
		f.seedActiveCart("c1", item("p1", 1, 10))
		f.store.coupons["ONCE"] = &domain.Coupon{Code: "ONCE", Type: domain.CouponTypeFixedAmount, DiscountValue: 2, Active: true}
		f.store.redemptions[redemptionKey("ONCE", "c1")] = &domain.CouponRedemption{CouponCode: "ONCE", ClientID: "c1"}

		_, err := f.service.ApplyCoupon(context.Background(), &ApplyCouponRequest{ClientID: "c1", Code: "ONCE"})
		if domain.KindOf(err) != domain.KindBadRequest {
			t.Fatalf("err = %v, want BadRequest", err)
		}
	})

	t.Run("rule rejection", func(t *testing.T) {
		f := newCheckoutFixture()
		f.rules.result = false
		f.seedCustomer("c1", "cus_c1")
		f.seedActiveCart("c1", item("p1", 1, 10))
		f.store.coupons["BIG"] = &domain.Coupon{
			Code: "BIG", Type: domain.CouponTypeFixedAmount, DiscountValue: 50,
			Active: true, RuleExpression: "amount >= 100.0",
		}

		_, err := f.service.ApplyCoupon(context.Background(), &ApplyCouponRequest{ClientID: "c1", Code: "BIG"})
		if domain.KindOf(err) != domain.KindBadRequest {
			t.Fatalf("err = %v, want BadRequest", err)
		}
	})
}

func TestConfirmPayment(t *testing.T) {
	seedPayment := func(f *checkoutFixture, status domain.PaymentStatus) *domain.Payment {
		p := &domain.Payment{
			ID:              "pay_1",
			CartID:          "cart_1",
			ClientID:        "c1",
			OrderID:         "order_1",
			Amount:          20,
			Currency:        "usd",
			Status:          status,
			GatewayIntentID: "pi_1",
		}
		f.store.payments[p.ID] = p
		return p
	}

	t.Run("foreign payment is not found", func(t *testing.T) {
		f := newCheckoutFixture()
		seedPayment(f, domain.PaymentStatusRequiresConfirmation)

		_, err := f.service.ConfirmPayment(context.Background(), &ConfirmPaymentRequest{ClientID: "someone-else", PaymentIntentID: "pi_1"})
		if domain.KindOf(err) != domain.KindNotFound {
			t.Fatalf("err = %v, want NotFound", err)
		}
		if f.gateway.confirmCalls != 0 {
			t.Errorf("gateway must not be called on ownership mismatch")
		}
	})

	t.Run("succeeded payment returns cached result", func(t *testing.T) {
		f := newCheckoutFixture()
		seedPayment(f, domain.PaymentStatusSucceeded)

		resp, err := f.service.ConfirmPayment(context.Background(), &ConfirmPaymentRequest{ClientID: "c1", PaymentIntentID: "pi_1"})
		if err != nil {
			t.Fatalf("ConfirmPayment: %v", err)
		}
		if resp.Status != "succeeded" {
			t.Errorf("status = %q, want succeeded", resp.Status)
		}
		if f.gateway.confirmCalls != 0 || f.gateway.retrieveCalls != 0 {
			t.Errorf("idempotent read must not hit the gateway")
		}
	})

	t.Run("gateway rejection marks the payment failed", func(t *testing.T) {
		f := newCheckoutFixture()
		seedPayment(f, domain.PaymentStatusRequiresConfirmation)
		f.gateway.confirmErr = domain.BadRequest("Your card was declined")

		_, err := f.service.ConfirmPayment(context.Background(), &ConfirmPaymentRequest{ClientID: "c1", PaymentIntentID: "pi_1"})
		if domain.KindOf(err) != domain.KindBadRequest {
			t.Fatalf("err = %v, want BadRequest", err)
		}
		if err.Error() != "Your card was declined" {
			t.Errorf("decline reason must surface to the caller, got %q", err.Error())
		}
		if f.store.payments["pay_1"].Status != domain.PaymentStatusFailed {
			t.Errorf("payment status = %s, want FAILED", f.store.payments["pay_1"].Status)
		}
	})

	t.Run("confirmation persists the gateway status", func(t *testing.T) {
		f := newCheckoutFixture()
		seedPayment(f, domain.PaymentStatusRequiresConfirmation)
		f.gateway.confirmed = newIntent("pi_1", "succeeded", 2000)

		resp, err := f.service.ConfirmPayment(context.Background(), &ConfirmPaymentRequest{ClientID: "c1", PaymentIntentID: "pi_1"})
		if err != nil {
			t.Fatalf("ConfirmPayment: %v", err)
		}
		if resp.Status != "succeeded" {
			t.Errorf("status = %q, want succeeded", resp.Status)
		}
		// 本地只落支付状态，成功级联（订单、购物车）属于对账流程
		if f.store.payments["pay_1"].Status != domain.PaymentStatusSucceeded {
			t.Errorf("payment status = %s, want SUCCEEDED", f.store.payments["pay_1"].Status)
		}
		if len(f.store.redemptions) != 0 {
			t.Errorf("confirm must not trigger the success cascade")
		}
	})
}

func TestPaymentMethods(t *testing.T) {
	t.Run("attach and make default", func(t *testing.T) {
		f := newCheckoutFixture()
		f.seedCustomer("c1", "cus_c1")

		view, err := f.service.AttachPaymentMethod(context.Background(), &AttachPaymentMethodRequest{
			ClientID: "c1", PaymentMethodID: "pm_1", MakeDefault: true,
		})
		if err != nil {
			t.Fatalf("AttachPaymentMethod: %v", err)
		}
		if view.Last4 != "4242" || !view.IsDefault {
			t.Errorf("view = %+v, want last4 4242 and default", view)
		}
		if m := f.store.methods["pm_1"]; m == nil || !m.IsDefault {
			t.Errorf("stored method must be default")
		}
	})

	t.Run("attach without gateway customer conflicts", func(t *testing.T) {
		f := newCheckoutFixture()
		f.seedCustomer("c1", "")

		_, err := f.service.AttachPaymentMethod(context.Background(), &AttachPaymentMethodRequest{ClientID: "c1", PaymentMethodID: "pm_1"})
		if domain.KindOf(err) != domain.KindConflict {
			t.Fatalf("err = %v, want Conflict", err)
		}
	})

	t.Run("set default clears the previous default", func(t *testing.T) {
		f := newCheckoutFixture()
		f.seedCustomer("c1", "cus_c1")
		f.store.methods["pm_a"] = &domain.PaymentMethod{ID: "1", ClientID: "c1", GatewayMethodID: "pm_a", IsDefault: true}
		f.store.methods["pm_b"] = &domain.PaymentMethod{ID: "2", ClientID: "c1", GatewayMethodID: "pm_b"}

		if err := f.service.SetDefaultPaymentMethod(context.Background(), "c1", "pm_b"); err != nil {
			t.Fatalf("SetDefaultPaymentMethod: %v", err)
		}
		if f.store.methods["pm_a"].IsDefault {
			t.Errorf("old default must be cleared")
		}
		if !f.store.methods["pm_b"].IsDefault {
			t.Errorf("new default must be set")
		}
	})
}

func TestEnsureActiveCart_Idempotent(t *testing.T) {
	f := newCheckoutFixture()
	f.seedCustomer("c1", "")

	first, err := f.service.EnsureActiveCart(context.Background(), "c1")
	if err != nil {
		t.Fatalf("EnsureActiveCart: %v", err)
	}
	second, err := f.service.EnsureActiveCart(context.Background(), "c1")
	if err != nil {
		t.Fatalf("EnsureActiveCart: %v", err)
	}
	if first.ID != second.ID {
		t.Errorf("repeated calls must return the same active cart: %q vs %q", first.ID, second.ID)
	}
}
