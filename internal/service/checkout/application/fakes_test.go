// internal/service/checkout/application/fakes_test.go
package application

import (
	"context"
	"fmt"
	"sync"

	"storefront/internal/service/checkout/domain"
	"storefront/internal/service/checkout/domain/port"
)

// memStore 是全部仓储的内存实现共享的状态。
// 事务用整体快照模拟：fn 返回错误时恢复快照，保证测试能观察到回滚语义。
type memStore struct {
	mu sync.Mutex

	customers   map[string]*domain.Customer
	carts       map[string]*domain.Cart
	activeCarts map[string]string // clientID -> cartID
	orders      map[string]*domain.Order
	stock       map[string]int
	payments    map[string]*domain.Payment
	coupons     map[string]*domain.Coupon
	redemptions map[string]*domain.CouponRedemption // code|clientID
	methods     map[string]*domain.PaymentMethod    // gatewayMethodID
	events      map[string]string                   // eventID -> eventType

	nextID int
}

func newMemStore() *memStore {
	return &memStore{
		customers:   make(map[string]*domain.Customer),
		carts:       make(map[string]*domain.Cart),
		activeCarts: make(map[string]string),
		orders:      make(map[string]*domain.Order),
		stock:       make(map[string]int),
		payments:    make(map[string]*domain.Payment),
		coupons:     make(map[string]*domain.Coupon),
		redemptions: make(map[string]*domain.CouponRedemption),
		methods:     make(map[string]*domain.PaymentMethod),
		events:      make(map[string]string),
	}
}

func (s *memStore) genID(prefix string) string {
	s.nextID++
	return fmt.Sprintf("%s-%d", prefix, s.nextID)
}

func copyCart(c *domain.Cart) *domain.Cart {
	cp := *c
	cp.Items = append([]domain.CartItem(nil), c.Items...)
	return &cp
}

func copyOrder(o *domain.Order) *domain.Order {
	cp := *o
	cp.Items = append([]domain.OrderItem(nil), o.Items...)
	return &cp
}

type storeSnapshot struct {
	customers   map[string]*domain.Customer
	carts       map[string]*domain.Cart
	activeCarts map[string]string
	orders      map[string]*domain.Order
	stock       map[string]int
	payments    map[string]*domain.Payment
	redemptions map[string]*domain.CouponRedemption
	methods     map[string]*domain.PaymentMethod
	events      map[string]string
	coupons     map[string]*domain.Coupon
}

func (s *memStore) snapshot() *storeSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := &storeSnapshot{
		customers:   make(map[string]*domain.Customer, len(s.customers)),
		carts:       make(map[string]*domain.Cart, len(s.carts)),
		activeCarts: make(map[string]string, len(s.activeCarts)),
		orders:      make(map[string]*domain.Order, len(s.orders)),
		stock:       make(map[string]int, len(s.stock)),
		payments:    make(map[string]*domain.Payment, len(s.payments)),
		redemptions: make(map[string]*domain.CouponRedemption, len(s.redemptions)),
		methods:     make(map[string]*domain.PaymentMethod, len(s.methods)),
		events:      make(map[string]string, len(s.events)),
		coupons:     make(map[string]*domain.Coupon, len(s.coupons)),
	}
	for k, v := range s.customers {
		cp := *v
		snap.customers[k] = &cp
	}
	for k, v := range s.carts {
		snap.carts[k] = copyCart(v)
	}
	for k, v := range s.activeCarts {
		snap.activeCarts[k] = v
	}
	for k, v := range s.orders {
		snap.orders[k] = copyOrder(v)
	}
	for k, v := range s.stock {
		snap.stock[k] = v
	}
	for k, v := range s.payments {
		cp := *v
		snap.payments[k] = &cp
	}
	for k, v := range s.redemptions {
		cp := *v
		snap.redemptions[k] = &cp
	}
	for k, v := range s.methods {
		cp := *v
		snap.methods[k] = &cp
	}
	for k, v := range s.events {
		snap.events[k] = v
	}
	for k, v := range s.coupons {
		cp := *v
		snap.coupons[k] = &cp
	}
	return snap
}

func (s *memStore) restore(snap *storeSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.customers = snap.customers
	s.carts = snap.carts
	s.activeCarts = snap.activeCarts
	s.orders = snap.orders
	s.stock = snap.stock
	s.payments = snap.payments
	s.redemptions = snap.redemptions
	s.methods = snap.methods
	s.events = snap.events
	s.coupons = snap.coupons
}

// fakeTxManager 在 fn 失败时恢复快照，模拟数据库回滚。
type fakeTxManager struct {
	store *memStore
}

func (m *fakeTxManager) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	snap := m.store.snapshot()
	if err := fn(ctx); err != nil {
		m.store.restore(snap)
		return err
	}
	return nil
}

type fakeCustomerRepo struct{ store *memStore }

func (r *fakeCustomerRepo) FindByID(ctx context.Context, clientID string) (*domain.Customer, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	c, ok := r.store.customers[clientID]
	if !ok {
		return nil, domain.NotFound("client not found")
	}
	cp := *c
	return &cp, nil
}

func (r *fakeCustomerRepo) SaveGatewayCustomerID(ctx context.Context, clientID, gatewayCustomerID string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if c, ok := r.store.customers[clientID]; ok && c.GatewayCustomerID == "" {
		c.GatewayCustomerID = gatewayCustomerID
	}
	return nil
}

type fakeCartRepo struct{ store *memStore }

func (r *fakeCartRepo) FindActiveByClientID(ctx context.Context, clientID string) (*domain.Cart, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	cartID, ok := r.store.activeCarts[clientID]
	if !ok {
		return nil, domain.NotFound("no active cart")
	}
	return copyCart(r.store.carts[cartID]), nil
}

func (r *fakeCartRepo) EnsureActive(ctx context.Context, clientID string) (*domain.Cart, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if cartID, ok := r.store.activeCarts[clientID]; ok {
		return copyCart(r.store.carts[cartID]), nil
	}
	cart := &domain.Cart{
		ID:       r.store.genID("cart"),
		ClientID: clientID,
		Status:   domain.CartStatusActive,
	}
	r.store.carts[cart.ID] = cart
	r.store.activeCarts[clientID] = cart.ID
	return copyCart(cart), nil
}

func (r *fakeCartRepo) MarkCompleted(ctx context.Context, cartID string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	cart, ok := r.store.carts[cartID]
	if !ok || cart.Status != domain.CartStatusActive {
		return domain.Conflict("cart is not active")
	}
	cart.Status = domain.CartStatusCompleted
	delete(r.store.activeCarts, cart.ClientID)
	return nil
}

func (r *fakeCartRepo) SetActiveIntent(ctx context.Context, cartID, intentID string) error {
	return r.updateCart(cartID, func(c *domain.Cart) { c.ActiveIntentID = intentID })
}

func (r *fakeCartRepo) ClearActiveIntent(ctx context.Context, cartID string) error {
	return r.updateCart(cartID, func(c *domain.Cart) { c.ActiveIntentID = "" })
}

func (r *fakeCartRepo) SetCoupon(ctx context.Context, cartID, couponCode string) error {
	return r.updateCart(cartID, func(c *domain.Cart) { c.CouponCode = couponCode })
}

func (r *fakeCartRepo) FindByID(ctx context.Context, cartID string) (*domain.Cart, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	cart, ok := r.store.carts[cartID]
	if !ok {
		return nil, domain.NotFound("cart not found")
	}
	return copyCart(cart), nil
}

func (r *fakeCartRepo) updateCart(cartID string, mutate func(*domain.Cart)) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	cart, ok := r.store.carts[cartID]
	if !ok {
		return domain.NotFound("cart not found")
	}
	mutate(cart)
	return nil
}

type fakeOrderRepo struct{ store *memStore }

func (r *fakeOrderRepo) Create(ctx context.Context, order *domain.Order) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	r.store.orders[order.ID] = copyOrder(order)
	return nil
}

func (r *fakeOrderRepo) FindByID(ctx context.Context, orderID string) (*domain.Order, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	order, ok := r.store.orders[orderID]
	if !ok {
		return nil, domain.NotFound("order not found")
	}
	return copyOrder(order), nil
}

func (r *fakeOrderRepo) UpdateStatus(ctx context.Context, orderID string, status domain.OrderStatus) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	order, ok := r.store.orders[orderID]
	if !ok {
		return domain.NotFound("order not found")
	}
	order.Status = status
	return nil
}

type fakeInventoryRepo struct{ store *memStore }

func (r *fakeInventoryRepo) Reserve(ctx context.Context, productID string, quantity int) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if r.store.stock[productID] < quantity {
		return domain.InsufficientStock("insufficient stock for product " + productID)
	}
	r.store.stock[productID] -= quantity
	return nil
}

func (r *fakeInventoryRepo) Release(ctx context.Context, productID string, quantity int) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	r.store.stock[productID] += quantity
	return nil
}

type fakePaymentRepo struct{ store *memStore }

func (r *fakePaymentRepo) Create(ctx context.Context, payment *domain.Payment) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	cp := *payment
	r.store.payments[payment.ID] = &cp
	return nil
}

func (r *fakePaymentRepo) FindByID(ctx context.Context, paymentID string) (*domain.Payment, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	p, ok := r.store.payments[paymentID]
	if !ok {
		return nil, domain.NotFound("payment not found")
	}
	cp := *p
	return &cp, nil
}

func (r *fakePaymentRepo) FindByIntentID(ctx context.Context, intentID string) (*domain.Payment, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	for _, p := range r.store.payments {
		if p.GatewayIntentID == intentID {
			cp := *p
			return &cp, nil
		}
	}
	return nil, domain.NotFound("payment not found")
}

func (r *fakePaymentRepo) Update(ctx context.Context, payment *domain.Payment) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if _, ok := r.store.payments[payment.ID]; !ok {
		return domain.NotFound("payment not found")
	}
	cp := *payment
	r.store.payments[payment.ID] = &cp
	return nil
}

type fakeCouponRepo struct{ store *memStore }

func redemptionKey(code, clientID string) string { return code + "|" + clientID }

func (r *fakeCouponRepo) FindByCode(ctx context.Context, code string) (*domain.Coupon, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	c, ok := r.store.coupons[code]
	if !ok {
		return nil, domain.NotFound("coupon not found")
	}
	cp := *c
	return &cp, nil
}

func (r *fakeCouponRepo) CreateRedemption(ctx context.Context, redemption *domain.CouponRedemption) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	key := redemptionKey(redemption.CouponCode, redemption.ClientID)
	if _, ok := r.store.redemptions[key]; ok {
		return domain.Conflict("coupon already redeemed")
	}
	cp := *redemption
	r.store.redemptions[key] = &cp
	if c, ok := r.store.coupons[redemption.CouponCode]; ok {
		c.UsedCount++
	}
	return nil
}

func (r *fakeCouponRepo) HasRedemption(ctx context.Context, code, clientID string) (bool, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	_, ok := r.store.redemptions[redemptionKey(code, clientID)]
	return ok, nil
}

type fakeMethodRepo struct{ store *memStore }

func (r *fakeMethodRepo) ListByClientID(ctx context.Context, clientID string) ([]*domain.PaymentMethod, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	var out []*domain.PaymentMethod
	for _, m := range r.store.methods {
		if m.ClientID == clientID {
			cp := *m
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *fakeMethodRepo) Save(ctx context.Context, method *domain.PaymentMethod) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if _, ok := r.store.methods[method.GatewayMethodID]; ok {
		return domain.Conflict("payment method already saved")
	}
	cp := *method
	r.store.methods[method.GatewayMethodID] = &cp
	return nil
}

func (r *fakeMethodRepo) Delete(ctx context.Context, clientID, gatewayMethodID string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	m, ok := r.store.methods[gatewayMethodID]
	if !ok || m.ClientID != clientID {
		return domain.NotFound("payment method not found")
	}
	delete(r.store.methods, gatewayMethodID)
	return nil
}

func (r *fakeMethodRepo) SetDefault(ctx context.Context, clientID, gatewayMethodID string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	target, ok := r.store.methods[gatewayMethodID]
	if !ok || target.ClientID != clientID {
		return domain.NotFound("payment method not found")
	}
	for _, m := range r.store.methods {
		if m.ClientID == clientID {
			m.IsDefault = false
		}
	}
	target.IsDefault = true
	return nil
}

type fakeWebhookEventRepo struct{ store *memStore }

func (r *fakeWebhookEventRepo) MarkProcessed(ctx context.Context, eventID, eventType string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if _, ok := r.store.events[eventID]; ok {
		return domain.Conflict("event already processed")
	}
	r.store.events[eventID] = eventType
	return nil
}

// fakeGateway 按脚本响应网关调用并记录调用次数。
type fakeGateway struct {
	mu sync.Mutex

	createCustomerCalls int
	createIntentCalls   int
	retrieveCalls       int
	confirmCalls        int

	nextIntentID string
	intents      map[string]*port.GatewayIntent // RetrievePaymentIntent 的脚本
	confirmErr   error
	confirmed    *port.GatewayIntent
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		nextIntentID: "pi_new",
		intents:      make(map[string]*port.GatewayIntent),
	}
}

func newIntent(id, status string, amountMinor int64) *port.GatewayIntent {
	return &port.GatewayIntent{
		ID:           id,
		ClientSecret: id + "_secret",
		Status:       status,
		AmountMinor:  amountMinor,
		Currency:     "usd",
	}
}

func (g *fakeGateway) CreateCustomer(ctx context.Context, email, clientID string) (*port.GatewayCustomer, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.createCustomerCalls++
	return &port.GatewayCustomer{ID: "cus_" + clientID, Email: email}, nil
}

func (g *fakeGateway) CreatePaymentIntent(ctx context.Context, req *port.CreateIntentRequest) (*port.GatewayIntent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.createIntentCalls++
	return &port.GatewayIntent{
		ID:           g.nextIntentID,
		ClientSecret: g.nextIntentID + "_secret",
		Status:       "requires_payment_method",
		AmountMinor:  req.AmountMinorUnits,
		Currency:     req.Currency,
		Metadata:     req.Metadata,
	}, nil
}

func (g *fakeGateway) RetrievePaymentIntent(ctx context.Context, intentID string) (*port.GatewayIntent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.retrieveCalls++
	intent, ok := g.intents[intentID]
	if !ok {
		return nil, domain.NotFound("no such payment intent")
	}
	cp := *intent
	return &cp, nil
}

func (g *fakeGateway) ConfirmPaymentIntent(ctx context.Context, intentID, paymentMethodID string) (*port.GatewayIntent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.confirmCalls++
	if g.confirmErr != nil {
		return nil, g.confirmErr
	}
	if g.confirmed != nil {
		cp := *g.confirmed
		return &cp, nil
	}
	return &port.GatewayIntent{ID: intentID, Status: "succeeded"}, nil
}

func (g *fakeGateway) CreateSetupIntent(ctx context.Context, gatewayCustomerID string) (*port.GatewaySetupIntent, error) {
	return &port.GatewaySetupIntent{ID: "seti_1", ClientSecret: "seti_1_secret", Status: "requires_payment_method"}, nil
}

func (g *fakeGateway) AttachPaymentMethod(ctx context.Context, gatewayCustomerID, paymentMethodID string) (*port.GatewayPaymentMethod, error) {
	return &port.GatewayPaymentMethod{ID: paymentMethodID, Brand: "visa", Last4: "4242", ExpMonth: 12, ExpYear: 2030}, nil
}

func (g *fakeGateway) DetachPaymentMethod(ctx context.Context, paymentMethodID string) error {
	return nil
}

func (g *fakeGateway) VerifyWebhook(payload []byte, signatureHeader string) (*port.WebhookEvent, error) {
	return nil, domain.BadRequest("not implemented in fake")
}

// fakeLocker 直接执行 fn 并记录加锁次数。
type fakeLocker struct {
	mu    sync.Mutex
	calls int
}

func (l *fakeLocker) WithLock(ctx context.Context, cartID string, fn func() error) error {
	l.mu.Lock()
	l.calls++
	l.mu.Unlock()
	return fn()
}

// fakeRules 返回预设结果。
type fakeRules struct {
	result bool
	err    error
}

func (r *fakeRules) Evaluate(expression string, facts map[string]interface{}) (bool, error) {
	if r.err != nil {
		return false, r.err
	}
	return r.result, nil
}

// fakeProducer 记录发布的事件。
type fakeProducer struct {
	mu     sync.Mutex
	events []*domain.PaymentResultEvent
	err    error
}

func (p *fakeProducer) Publish(ctx context.Context, event *domain.PaymentResultEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, event)
	return nil
}

// fakeDeduper 按脚本返回首次/重复。
type fakeDeduper struct {
	first   bool
	err     error
	calls   int
	forgets int
}

func (d *fakeDeduper) FirstDelivery(ctx context.Context, eventID string) (bool, error) {
	d.calls++
	return d.first, d.err
}

func (d *fakeDeduper) Forget(ctx context.Context, eventID string) error {
	d.forgets++
	return nil
}

// memDeduper 用 SETNX 语义记录事件 id，行为与 redis 适配器一致。
type memDeduper struct {
	mu      sync.Mutex
	seen    map[string]bool
	forgets int
}

func newMemDeduper() *memDeduper {
	return &memDeduper{seen: make(map[string]bool)}
}

func (d *memDeduper) FirstDelivery(ctx context.Context, eventID string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.seen[eventID] {
		return false, nil
	}
	d.seen[eventID] = true
	return true, nil
}

func (d *memDeduper) Forget(ctx context.Context, eventID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.seen, eventID)
	d.forgets++
	return nil
}

// flakyTxManager 让前 failures 次事务直接失败，模拟数据库瞬时故障。
type flakyTxManager struct {
	inner    *fakeTxManager
	failures int
}

func (m *flakyTxManager) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if m.failures > 0 {
		m.failures--
		return domain.Internal("begin transaction", context.DeadlineExceeded)
	}
	return m.inner.WithinTx(ctx, fn)
}

// sharedLock 是真正互斥的锁实现，供多个服务实例共享以模拟跨进程竞争。
type sharedLock struct {
	mu    sync.Mutex
	calls int
}

func (l *sharedLock) WithLock(ctx context.Context, cartID string, fn func() error) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	return fn()
}
