package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config 全局配置结构
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Log      LogConfig      `mapstructure:"log"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Gateway  GatewayConfig  `mapstructure:"gateway"`
	Redirect RedirectConfig `mapstructure:"redirect"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Business BusinessConfig `mapstructure:"business"`
}

type ServerConfig struct {
	Port     int   `mapstructure:"port"`
	WorkerID int64 `mapstructure:"worker_id"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

// DatabaseConfig Driver 取值 mysql / postgres / sqlite
type DatabaseConfig struct {
	Driver       string `mapstructure:"driver"`
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	Database     string `mapstructure:"database"`
	DSN          string `mapstructure:"dsn"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type KafkaConfig struct {
	Brokers []string         `mapstructure:"brokers"`
	Topic   KafkaTopicConfig `mapstructure:"topic"`
}

type KafkaTopicConfig struct {
	PaymentSettled        string `mapstructure:"payment_settled"`
	SubscriptionActivated string `mapstructure:"subscription_activated"`
}

// GatewayConfig 支付网关配置
// PrivateKey 用于校验 webhook 的 checksum，缺失时服务拒绝启动
type GatewayConfig struct {
	Name            string        `mapstructure:"name"`
	APIURL          string        `mapstructure:"api_url"`
	APIKey          string        `mapstructure:"api_key"`
	PrivateKey      string        `mapstructure:"private_key"`
	SignatureHeader string        `mapstructure:"signature_header"`
	Currency        string        `mapstructure:"currency"`
	Timeout         time.Duration `mapstructure:"timeout"`
	CallbackURL     string        `mapstructure:"callback_url"`
	ContinueURL     string        `mapstructure:"continue_url"`
	CancelURL       string        `mapstructure:"cancel_url"`
}

// RedirectConfig 买家从网关返回后被重定向到的前端页面
type RedirectConfig struct {
	SuccessURL string `mapstructure:"success_url"`
	PendingURL string `mapstructure:"pending_url"`
	CancelURL  string `mapstructure:"cancel_url"`
	FailedURL  string `mapstructure:"failed_url"`
	ErrorURL   string `mapstructure:"error_url"`
}

type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
}

type BusinessConfig struct {
	PendingReconcileMinutes int           `mapstructure:"pending_reconcile_minutes"`
	PendingExpireMinutes    int           `mapstructure:"pending_expire_minutes"`
	MaxRetryCount           int           `mapstructure:"max_retry_count"`
	SweepInterval           time.Duration `mapstructure:"sweep_interval"`
	ReconcileInterval       time.Duration `mapstructure:"reconcile_interval"`
	ReplayTTL               time.Duration `mapstructure:"replay_ttl"`
}

var GlobalConfig *Config

// LoadConfig 加载配置文件，环境变量 VENDORPAY_GATEWAY_PRIVATE_KEY 之类可覆盖文件中的值
// 工作目录下的 .env 会先被载入环境变量，文件不存在时忽略
func LoadConfig(configPath string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("VENDORPAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	GlobalConfig = cfg
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.worker_id", 1)
	v.SetDefault("log.level", "info")
	v.SetDefault("database.driver", "mysql")
	v.SetDefault("database.max_open_conns", 50)
	v.SetDefault("database.max_idle_conns", 10)
	v.SetDefault("kafka.topic.payment_settled", "payment.settled")
	v.SetDefault("kafka.topic.subscription_activated", "subscription.activated")
	v.SetDefault("gateway.name", "quickpay")
	v.SetDefault("gateway.api_url", "https://api.quickpay.net")
	v.SetDefault("gateway.signature_header", "QuickPay-Checksum-Sha256")
	v.SetDefault("gateway.currency", "USD")
	v.SetDefault("gateway.timeout", 10*time.Second)
	v.SetDefault("business.pending_reconcile_minutes", 10)
	v.SetDefault("business.pending_expire_minutes", 24*60)
	v.SetDefault("business.max_retry_count", 5)
	v.SetDefault("business.sweep_interval", time.Minute)
	v.SetDefault("business.reconcile_interval", 2*time.Minute)
	v.SetDefault("business.replay_ttl", 24*time.Hour)
}

// Validate 启动时校验，任何一项缺失都直接失败，不在请求期间懒加载
func (c *Config) Validate() error {
	var errs []error
	if c.Gateway.PrivateKey == "" {
		errs = append(errs, errors.New("gateway.private_key 未配置"))
	}
	if c.Gateway.APIKey == "" {
		errs = append(errs, errors.New("gateway.api_key 未配置"))
	}
	if c.Gateway.Timeout <= 0 {
		errs = append(errs, errors.New("gateway.timeout 必须大于0"))
	}
	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("auth.jwt_secret 未配置"))
	}
	for name, u := range map[string]string{
		"redirect.success_url": c.Redirect.SuccessURL,
		"redirect.cancel_url":  c.Redirect.CancelURL,
		"redirect.error_url":   c.Redirect.ErrorURL,
		"gateway.callback_url": c.Gateway.CallbackURL,
	} {
		if u == "" {
			errs = append(errs, fmt.Errorf("%s 未配置", name))
		}
	}
	switch c.Database.Driver {
	case "mysql", "postgres", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("不支持的数据库驱动: %q", c.Database.Driver))
	}
	return errors.Join(errs...)
}
