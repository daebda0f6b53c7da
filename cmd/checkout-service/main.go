// cmd/checkout-service/main.go
package main

import (
	"context"
	"log"
	"time"

	"go.opentelemetry.io/otel"

	"storefront/internal/pkg/bootstrap"
	"storefront/internal/pkg/httpclient"
	"storefront/internal/pkg/mq"
	"storefront/internal/pkg/redis"
	"storefront/internal/pkg/zookeeper"
	"storefront/internal/service/checkout/application"
	"storefront/internal/service/checkout/infrastructure"
	"storefront/internal/service/checkout/infrastructure/adapter"
	"storefront/internal/service/checkout/infrastructure/rule"
	"storefront/internal/service/checkout/interfaces"
)

const serviceName = "checkout-service"

// main 函数是应用的"组装根" (Composition Root)
// 它的核心职责是：创建并组装所有依赖项，然后启动应用。
func main() {
	bootstrap.Init()
	cfg := bootstrap.GetCurrentConfig()

	// 1. 基础设施连接
	db, err := infrastructure.OpenDB(cfg.Infra.Mysql.DSN)
	if err != nil {
		log.Fatalf("FATAL: failed to open database: %v", err)
	}

	redisClient := redis.NewClient(cfg.Infra.Redis.Addr)

	zkConn, err := zookeeper.Connect(cfg.Infra.Zookeeper.Servers, 5*time.Second)
	if err != nil {
		log.Fatalf("FATAL: failed to connect to zookeeper: %v", err)
	}

	eventWriter := mq.NewWriter(cfg.Infra.Kafka.Brokers, cfg.Infra.Kafka.PaymentEventsTopic)

	// 2. 仓储与适配器
	txManager := infrastructure.NewGormTxManager(db)
	cartRepo := infrastructure.NewGormCartRepository(db)
	orderRepo := infrastructure.NewGormOrderRepository(db)
	paymentRepo := infrastructure.NewGormPaymentRepository(db)
	inventoryRepo := infrastructure.NewGormInventoryRepository(db)
	couponRepo := infrastructure.NewGormCouponRepository(db)
	customerRepo := infrastructure.NewGormCustomerRepository(db)
	webhookEventRepo := infrastructure.NewGormWebhookEventRepository(db)

	gateway := adapter.NewStripeGatewayAdapter(
		httpclient.NewClient(otel.Tracer(serviceName)),
		adapter.StripeGatewayConfig{
			BaseURL:       cfg.Gateway.BaseURL,
			APIKey:        cfg.Gateway.APIKey,
			WebhookSecret: cfg.Gateway.WebhookSecret,
			Timeout:       cfg.Gateway.Timeout,
		},
	)
	locker := adapter.NewCartLockZkAdapter(zkConn, 10*time.Second)
	deduper := adapter.NewEventDedupRedisAdapter(redisClient)
	producer := adapter.NewPaymentEventKafkaAdapter(eventWriter)

	ruleEngine, err := rule.NewCELRuleEngine()
	if err != nil {
		log.Fatalf("FATAL: failed to initialize rule engine: %v", err)
	}

	// 3. 应用服务
	checkoutService := application.NewCheckoutService(application.CheckoutServiceDeps{
		Tx:        txManager,
		Customers: customerRepo,
		Carts:     cartRepo,
		Orders:    orderRepo,
		Inventory: inventoryRepo,
		Payments:  paymentRepo,
		Coupons:   couponRepo,
		Methods:   customerRepo,
		Gateway:   gateway,
		Locker:    locker,
		Rules:     ruleEngine,
		Currency:  cfg.App.Currency,
		Tracer:    otel.Tracer(serviceName),
	})

	reconciler := application.NewWebhookReconciler(application.WebhookReconcilerDeps{
		Tx:        txManager,
		Payments:  paymentRepo,
		Orders:    orderRepo,
		Carts:     cartRepo,
		Coupons:   couponRepo,
		Inventory: inventoryRepo,
		Events:    webhookEventRepo,
		Deduper:   deduper,
		Producer:  producer,
		Tracer:    otel.Tracer(serviceName),
	})

	checkoutHandler := interfaces.NewCheckoutHandler(checkoutService)
	webhookHandler := interfaces.NewWebhookHandler(gateway, reconciler)

	bootstrap.StartService(bootstrap.AppInfo{
		ServiceName: serviceName,
		Port:        8086,
		RegisterHandlers: func(appCtx bootstrap.AppCtx) {
			checkoutHandler.RegisterRoutes(appCtx.Mux)
			webhookHandler.RegisterRoutes(appCtx.Mux)
		},
		OnShutdown: []func(ctx context.Context){
			func(ctx context.Context) {
				if err := eventWriter.Close(); err != nil {
					log.Printf("Error closing kafka writer: %v", err)
				}
			},
			func(ctx context.Context) { zkConn.Close() },
			func(ctx context.Context) {
				if err := redisClient.Close(); err != nil {
					log.Printf("Error closing redis client: %v", err)
				}
			},
		},
	})
}
