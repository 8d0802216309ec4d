// internal/pkg/bootstrap/config.go
package bootstrap

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Config 是服务的全部配置，来自 YAML 文件，并允许环境变量覆盖
type Config struct {
	App   AppConfig   `yaml:"app"`
	Order OrderConfig `yaml:"order"`
	Infra InfraConfig `yaml:"infra"`
	Seed  SeedConfig  `yaml:"seed"`
}

type AppConfig struct {
	Name     string `yaml:"name"`
	Port     int    `yaml:"port"`
	LogLevel string `yaml:"log_level"`
	Env      string `yaml:"env"`
}

type OrderConfig struct {
	MaxShippingAddressLength int    `yaml:"max_shipping_address_length"`
	MaxNotesLength           int    `yaml:"max_notes_length"`
	OrderNumberAttempts      int    `yaml:"order_number_attempts"`
	AdminTransitionRule      string `yaml:"admin_transition_rule"`
	IdempotencyTTLSeconds    int    `yaml:"idempotency_ttl_seconds"`
}

type InfraConfig struct {
	Storage string       `yaml:"storage"` // mysql | memory
	MySQL   MySQLConfig  `yaml:"mysql"`
	Redis   RedisConfig  `yaml:"redis"`
	Kafka   KafkaConfig  `yaml:"kafka"`
	Jaeger  JaegerConfig `yaml:"jaeger"`
	Nacos   NacosConfig  `yaml:"nacos"`
}

type MySQLConfig struct {
	DSN                    string `yaml:"dsn"`
	MaxOpenConns           int    `yaml:"max_open_conns"`
	MaxIdleConns           int    `yaml:"max_idle_conns"`
	ConnMaxLifetimeSeconds int    `yaml:"conn_max_lifetime_seconds"`
	AutoMigrate            bool   `yaml:"auto_migrate"`
}

type RedisConfig struct {
	Addrs    string `yaml:"addrs"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type KafkaConfig struct {
	Brokers          []string `yaml:"brokers"`
	EventsTopic      string   `yaml:"events_topic"`
	FulfillmentTopic string   `yaml:"fulfillment_topic"`
	GroupID          string   `yaml:"group_id"`
}

type JaegerConfig struct {
	Endpoint    string  `yaml:"endpoint"`
	SampleRatio float64 `yaml:"sample_ratio"`
}

type NacosConfig struct {
	Enabled     bool   `yaml:"enabled"`
	ServerAddrs string `yaml:"server_addrs"`
	Namespace   string `yaml:"namespace"`
	Group       string `yaml:"group"`
}

type SeedConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Products []SeedProduct `yaml:"products"`
}

type SeedProduct struct {
	Name          string          `yaml:"name"`
	Price         decimal.Decimal `yaml:"price"`
	StockQuantity int             `yaml:"stock_quantity"`
}

var current atomic.Pointer[Config]

// DefaultConfig 返回本地运行的默认配置
func DefaultConfig() *Config {
	return &Config{
		App: AppConfig{Name: "order-service", Port: 8081, LogLevel: "info", Env: "dev"},
		Order: OrderConfig{
			MaxShippingAddressLength: 500,
			MaxNotesLength:           500,
			OrderNumberAttempts:      3,
			IdempotencyTTLSeconds:    86400,
		},
		Infra: InfraConfig{
			Storage: "memory",
			MySQL:   MySQLConfig{MaxOpenConns: 20, MaxIdleConns: 10, ConnMaxLifetimeSeconds: 300, AutoMigrate: true},
			Kafka: KafkaConfig{
				EventsTopic:      "order-events",
				FulfillmentTopic: "order-fulfillment",
				GroupID:          "order-fulfillment-consumer-group",
			},
			Jaeger: JaegerConfig{SampleRatio: 1},
			Nacos:  NacosConfig{Group: "DEFAULT_GROUP"},
		},
	}
}

// Init 读取配置文件 (path 为空时只用默认值)，应用环境变量覆盖，并设置为当前配置
func Init(path string) (*Config, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	current.Store(cfg)
	return cfg, nil
}

// Load 读取并校验配置，但不修改当前配置
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	applyEnv(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// GetCurrentConfig 返回当前生效的配置，未初始化时返回默认配置
func GetCurrentConfig() *Config {
	if cfg := current.Load(); cfg != nil {
		return cfg
	}
	return DefaultConfig()
}

func (c *Config) Validate() error {
	if c.App.Port <= 0 {
		return fmt.Errorf("app.port must be positive")
	}
	switch c.Infra.Storage {
	case "memory":
	case "mysql":
		if c.Infra.MySQL.DSN == "" {
			return fmt.Errorf("infra.mysql.dsn required when storage is mysql")
		}
	default:
		return fmt.Errorf("unknown infra.storage %q", c.Infra.Storage)
	}
	if c.Order.OrderNumberAttempts < 1 {
		return fmt.Errorf("order.order_number_attempts must be at least 1")
	}
	if c.Order.MaxShippingAddressLength <= 0 || c.Order.MaxNotesLength <= 0 {
		return fmt.Errorf("order length limits must be positive")
	}
	return nil
}

func applyEnv(cfg *Config) {
	cfg.App.Port = getEnvInt("APP_PORT", cfg.App.Port)
	cfg.App.LogLevel = getEnv("LOG_LEVEL", cfg.App.LogLevel)
	cfg.Infra.Storage = getEnv("STORAGE_DRIVER", cfg.Infra.Storage)
	cfg.Infra.MySQL.DSN = getEnv("MYSQL_DSN", cfg.Infra.MySQL.DSN)
	cfg.Infra.Redis.Addrs = getEnv("REDIS_ADDRS", cfg.Infra.Redis.Addrs)
	cfg.Infra.Redis.Password = getEnv("REDIS_PASSWORD", cfg.Infra.Redis.Password)
	if brokers := getEnv("KAFKA_BROKERS", ""); brokers != "" {
		cfg.Infra.Kafka.Brokers = strings.Split(brokers, ",")
	}
	cfg.Infra.Jaeger.Endpoint = getEnv("JAEGER_ENDPOINT", cfg.Infra.Jaeger.Endpoint)
	cfg.Infra.Nacos.ServerAddrs = getEnv("NACOS_SERVER_ADDRS", cfg.Infra.Nacos.ServerAddrs)
	cfg.Infra.Nacos.Namespace = getEnv("NACOS_NAMESPACE", cfg.Infra.Nacos.Namespace)
	cfg.Infra.Nacos.Group = getEnv("NACOS_GROUP", cfg.Infra.Nacos.Group)
}

// getEnv 是一个内部辅助函数，从环境变量中读取配置。
func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return fallback
}
