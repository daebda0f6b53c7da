// internal/pkg/bootstrap/app.go
package bootstrap

import (
	"context"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"storefront/internal/pkg/logger"
	"storefront/internal/pkg/nacos"
	"storefront/internal/pkg/tracing"
)

// AppCtx 是传递给各服务路由注册函数的上下文。
type AppCtx struct {
	Mux   *http.ServeMux
	Nacos *nacos.Client
}

// AppInfo 包含了启动一个微服务所需的所有特定信息。
type AppInfo struct {
	ServiceName      string
	Port             int
	RegisterHandlers func(appCtx AppCtx)
	// OnShutdown 在 HTTP 服务器关闭后执行，用于释放服务自己的资源
	// （数据库连接、kafka writer、zk 会话等），后进先出。
	OnShutdown []func(ctx context.Context)
}

// StartService 封装了所有微服务的通用启动和优雅关停逻辑。
func StartService(info AppInfo) {
	logger.Init(info.ServiceName)

	// 1. Tracer
	tp, err := tracing.InitTracerProvider(info.ServiceName, GetCurrentConfig().Infra.Jaeger.Endpoint)
	if err != nil {
		log.Fatalf("FATAL: failed to initialize tracer provider: %v", err)
	}

	// 2. Nacos 服务注册（未配置注册中心时跳过，方便本地开发）
	var namingClient *nacos.Client
	var ip string
	nacosAddrs := getEnv("NACOS_SERVER_ADDRS", "")
	if nacosAddrs != "" {
		namingClient, err = nacos.NewClient(nacosAddrs, getEnv("NACOS_NAMESPACE", ""), getEnv("NACOS_GROUP", "DEFAULT_GROUP"))
		if err != nil {
			log.Fatalf("FATAL: failed to initialize nacos client: %v", err)
		}
		ip, err = outboundIP()
		if err != nil {
			log.Fatalf("FATAL: failed to get outbound IP address: %v", err)
		}
		if err := namingClient.RegisterServiceInstance(info.ServiceName, ip, info.Port); err != nil {
			log.Fatalf("FATAL: failed to register service with nacos: %v", err)
		}
	}

	// 3. 创建并启动 HTTP Server
	mux := http.NewServeMux()
	if info.RegisterHandlers != nil {
		info.RegisterHandlers(AppCtx{Mux: mux, Nacos: namingClient})
	}
	server := &http.Server{Addr: ":" + strconv.Itoa(info.Port), Handler: mux}
	go func() {
		log.Printf("%s listening on :%d", info.ServiceName, info.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("could not listen on %s: %v\n", server.Addr, err)
		}
	}()

	// 4. 优雅关停
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Printf("Shutting down service %s...", info.ServiceName)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// 清理顺序：先摘流量，再关服务器，最后释放各服务自己的资源
	if namingClient != nil {
		if err := namingClient.DeregisterServiceInstance(info.ServiceName, ip, info.Port); err != nil {
			log.Printf("Error deregistering from Nacos: %v", err)
		}
		namingClient.Close()
	}

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("Error shutting down http server: %v", err)
	}

	for i := len(info.OnShutdown) - 1; i >= 0; i-- {
		info.OnShutdown[i](ctx)
	}

	if err := tp.Shutdown(ctx); err != nil {
		log.Printf("Error shutting down tracer provider: %v", err)
	}

	log.Printf("Service %s gracefully shut down.", info.ServiceName)
}

// getEnv 从环境变量中读取配置。
func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

// outboundIP 获取本机对外 IP，用于服务注册。
func outboundIP() (string, error) {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "", err
	}
	defer conn.Close()
	localAddr := conn.LocalAddr().(*net.UDPAddr)
	return localAddr.IP.String(), nil
}
