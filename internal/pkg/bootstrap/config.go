// internal/pkg/bootstrap/config.go
package bootstrap

import (
	"log"
	"os"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"

	"storefront/internal/pkg/nacos"
)

// Config 是所有服务共享的配置结构，来自 Nacos 配置中心或本地 YAML 文件。
type Config struct {
	App struct {
		Currency string `yaml:"currency"` // 单币种部署，如 "usd"
	} `yaml:"app"`

	Infra struct {
		Mysql struct {
			DSN string `yaml:"dsn"`
		} `yaml:"mysql"`
		Redis struct {
			Addr string `yaml:"addr"`
		} `yaml:"redis"`
		Kafka struct {
			Brokers            []string `yaml:"brokers"`
			PaymentEventsTopic string   `yaml:"paymentEventsTopic"`
		} `yaml:"kafka"`
		Zookeeper struct {
			Servers []string `yaml:"servers"`
		} `yaml:"zookeeper"`
		Jaeger struct {
			Endpoint string `yaml:"endpoint"`
		} `yaml:"jaeger"`
	} `yaml:"infra"`

	Gateway struct {
		BaseURL       string        `yaml:"baseUrl"`
		APIKey        string        `yaml:"apiKey"`
		WebhookSecret string        `yaml:"webhookSecret"`
		Timeout       time.Duration `yaml:"timeout"`
	} `yaml:"gateway"`
}

var currentConfig atomic.Value // *Config

const configDataID = "storefront-config"

// Init 加载配置。优先从 Nacos 配置中心读取，拉取失败时回退到本地文件。
// 必须在 StartService 之前调用。
func Init() {
	cfg := &Config{}
	cfg.App.Currency = "usd"
	cfg.Infra.Jaeger.Endpoint = "http://localhost:14268/api/traces"
	cfg.Gateway.Timeout = 15 * time.Second

	content, ok := loadFromNacos()
	if !ok {
		content = loadFromFile()
	}
	if content != "" {
		if err := yaml.Unmarshal([]byte(content), cfg); err != nil {
			log.Fatalf("FATAL: failed to parse config: %v", err)
		}
	}

	currentConfig.Store(cfg)
}

// GetCurrentConfig 返回当前生效的配置快照。
func GetCurrentConfig() *Config {
	cfg, _ := currentConfig.Load().(*Config)
	if cfg == nil {
		log.Fatal("FATAL: bootstrap.Init must be called before GetCurrentConfig")
	}
	return cfg
}

func loadFromNacos() (string, bool) {
	addrs := getEnv("NACOS_SERVER_ADDRS", "")
	if addrs == "" {
		return "", false
	}
	client, err := nacos.NewClient(addrs, getEnv("NACOS_NAMESPACE", ""), getEnv("NACOS_GROUP", "DEFAULT_GROUP"))
	if err != nil {
		log.Printf("WARN: cannot reach nacos config center: %v, falling back to local file", err)
		return "", false
	}
	defer client.Close()
	content, err := client.GetConfig(configDataID)
	if err != nil || content == "" {
		log.Printf("WARN: config '%s' not found in nacos, falling back to local file", configDataID)
		return "", false
	}
	return content, true
}

func loadFromFile() string {
	path := getEnv("CONFIG_PATH", "config.yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		log.Printf("WARN: no local config file at %s, using defaults", path)
		return ""
	}
	return string(data)
}
