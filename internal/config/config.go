package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config 全局配置结构
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Log      LogConfig      `mapstructure:"log"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Ledger   LedgerConfig   `mapstructure:"ledger"`
	Imaging  ImagingConfig  `mapstructure:"imaging"`
	Purchase PurchaseConfig `mapstructure:"purchase"`
	Outbox   OutboxConfig   `mapstructure:"outbox"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	MaxBodyBytes    int64         `mapstructure:"max_body_bytes"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// DatabaseConfig 数据库配置
// Driver 可选 mysql / postgres / sqlite；设置 DSN 时忽略 Host 等字段，sqlite 的 DSN 为文件路径
type DatabaseConfig struct {
	Driver       string `mapstructure:"driver"`
	DSN          string `mapstructure:"dsn"`
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	Database     string `mapstructure:"database"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
	LogSQL       bool   `mapstructure:"log_sql"`
}

// RedisConfig 为空 Host 时不连接 Redis，账户锁随之关闭
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
	BalanceEvents string `mapstructure:"balance_events"`
}

type LedgerConfig struct {
	SeedCredits   int64         `mapstructure:"seed_credits"`
	SeedDownloads int64         `mapstructure:"seed_downloads"`
	MaxTxAttempts int           `mapstructure:"max_tx_attempts"`
	LockEnabled   bool          `mapstructure:"lock_enabled"`
	LockTTL       time.Duration `mapstructure:"lock_ttl"`
}

// ImagingConfig FetchesPerMinute 为 0 时不限制远程拉取。
// AllowPrivateNetworks 允许拉取回环和内网地址，只应在本地调试时打开
type ImagingConfig struct {
	FetchTimeout         time.Duration `mapstructure:"fetch_timeout"`
	MaxSourceBytes       int64         `mapstructure:"max_source_bytes"`
	MaxPixels            int64         `mapstructure:"max_pixels"`
	FetchesPerMinute     int           `mapstructure:"fetches_per_minute"`
	AllowPrivateNetworks bool          `mapstructure:"allow_private_networks"`
}

type PurchaseConfig struct {
	OrderTimeoutMinutes int           `mapstructure:"order_timeout_minutes"`
	ReconcileGrace      time.Duration `mapstructure:"reconcile_grace"`
	Packs               []PackConfig  `mapstructure:"packs"`
}

// PackConfig 一个可购买的套餐
type PackConfig struct {
	ID        string `mapstructure:"id"`
	Credits   int64  `mapstructure:"credits"`
	Downloads int64  `mapstructure:"downloads"`
	Premium   bool   `mapstructure:"premium"`
}

type OutboxConfig struct {
	MaxRetryCount int `mapstructure:"max_retry_count"`
}

// Pack 按 id 查找套餐
func (c *PurchaseConfig) Pack(id string) (PackConfig, bool) {
	for _, p := range c.Packs {
		if p.ID == id {
			return p, true
		}
	}
	return PackConfig{}, false
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.shutdown_timeout", 5*time.Second)
	v.SetDefault("server.max_body_bytes", 32<<20)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("database.driver", "mysql")
	v.SetDefault("database.host", "127.0.0.1")
	v.SetDefault("database.port", 3306)
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.max_idle_conns", 5)

	v.SetDefault("redis.port", 6379)

	v.SetDefault("kafka.topic.balance_events", "balance_events")

	v.SetDefault("ledger.seed_credits", 5)
	v.SetDefault("ledger.seed_downloads", 5)
	v.SetDefault("ledger.max_tx_attempts", 5)
	v.SetDefault("ledger.lock_enabled", false)
	v.SetDefault("ledger.lock_ttl", 10*time.Second)

	v.SetDefault("imaging.fetch_timeout", 15*time.Second)
	v.SetDefault("imaging.max_source_bytes", 20<<20)
	v.SetDefault("imaging.max_pixels", 40_000_000)
	v.SetDefault("imaging.fetches_per_minute", 120)
	v.SetDefault("imaging.allow_private_networks", false)

	v.SetDefault("purchase.order_timeout_minutes", 30)
	v.SetDefault("purchase.reconcile_grace", 5*time.Minute)

	v.SetDefault("outbox.max_retry_count", 5)
}

// Load 加载配置文件；configPath 为空时只使用默认值和环境变量。
// 环境变量前缀 BIBLESKETCH_，例如 BIBLESKETCH_DATABASE_DRIVER。
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("BIBLESKETCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// 没有默认值的键需要显式绑定，否则 Unmarshal 看不到环境变量
	for _, key := range []string{
		"database.dsn", "database.user", "database.password", "database.database",
		"redis.host", "redis.password", "redis.db", "kafka.brokers",
	} {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("绑定环境变量失败: %w", err)
		}
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate 校验配置
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "mysql", "postgres", "sqlite":
	default:
		return fmt.Errorf("不支持的数据库驱动: %q", c.Database.Driver)
	}
	if c.Ledger.SeedCredits < 0 || c.Ledger.SeedDownloads < 0 {
		return errors.New("ledger 初始额度不能为负数")
	}
	if c.Ledger.MaxTxAttempts <= 0 {
		return errors.New("ledger.max_tx_attempts 必须大于0")
	}
	if c.Imaging.MaxSourceBytes <= 0 || c.Imaging.MaxPixels <= 0 || c.Imaging.FetchTimeout <= 0 || c.Imaging.FetchesPerMinute < 0 {
		return errors.New("imaging 限制参数必须大于0")
	}
	seen := make(map[string]bool, len(c.Purchase.Packs))
	for _, p := range c.Purchase.Packs {
		if p.ID == "" {
			return errors.New("套餐 id 不能为空")
		}
		if seen[p.ID] {
			return fmt.Errorf("套餐 id 重复: %q", p.ID)
		}
		seen[p.ID] = true
		if p.Credits < 0 || p.Downloads < 0 || (p.Credits == 0 && p.Downloads == 0 && !p.Premium) {
			return fmt.Errorf("套餐 %q 没有任何权益", p.ID)
		}
	}
	return nil
}
