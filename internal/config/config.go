package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"habitledger/internal/habit"
	"habitledger/pkg/config"
)

// EngineConfig 习惯引擎参数
type EngineConfig struct {
	ArrearsWindowDays int           `yaml:"arrears_window_days"`
	BaseReward        int           `yaml:"base_reward"`
	SynergyBonus      int           `yaml:"synergy_bonus"`
	EnforceLocks      *bool         `yaml:"enforce_locks"`
	ArrearsCacheTTL   time.Duration `yaml:"arrears_cache_ttl"`
	RolloverHour      int           `yaml:"rollover_hour"`
}

// ConsumerConfig MQ 消费端重试与去重
type ConsumerConfig struct {
	MaxRetries int64         `yaml:"max_retries"`
	RetryTTL   time.Duration `yaml:"retry_ttl"`
	DedupTTL   time.Duration `yaml:"dedup_ttl"`
}

// OutboxConfig outbox 投递参数
type OutboxConfig struct {
	Interval   time.Duration `yaml:"interval"`
	BatchSize  int           `yaml:"batch_size"`
	MaxRetries int           `yaml:"max_retries"`
}

type Config struct {
	DB       config.DBConfig     `yaml:"db"`
	Redis    config.RedisConfig  `yaml:"redis"`
	MQ       config.MQConfig     `yaml:"mq"`
	Server   config.ServerConfig `yaml:"server"`
	Log      config.LogConfig    `yaml:"log"`
	Engine   EngineConfig        `yaml:"engine"`
	Consumer ConsumerConfig      `yaml:"consumer"`
	Outbox   OutboxConfig        `yaml:"outbox"`
}

// Load 读取 config/base.yaml + config/<env>.yaml，再用环境变量覆盖
func Load(env, dir string) (*Config, error) {
	cfgMap, err := config.LoadConfig(env, dir)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := config.Decode(cfgMap, &cfg); err != nil {
		return nil, err
	}

	// 环境变量覆盖（优先级最高）
	config.OverrideDBFromEnv(&cfg.DB)
	config.OverrideRedisFromEnv(&cfg.Redis)
	config.OverrideMQFromEnv(&cfg.MQ)
	config.OverrideServerFromEnv(&cfg.Server)
	config.OverrideLogFromEnv(&cfg.Log)
	if err := overrideEngineFromEnv(&cfg.Engine); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	return &cfg, nil
}

func overrideEngineFromEnv(cfg *EngineConfig) error {
	if raw := os.Getenv("ARREARS_WINDOW_DAYS"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return fmt.Errorf("invalid ARREARS_WINDOW_DAYS %q", raw)
		}
		cfg.ArrearsWindowDays = n
	}
	if raw := os.Getenv("ENFORCE_LOCKS"); raw != "" {
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return fmt.Errorf("invalid ENFORCE_LOCKS %q", raw)
		}
		cfg.EnforceLocks = &b
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == "" {
		c.Server.Port = "8080"
	}
	if c.Server.ShutdownTimeout <= 0 {
		c.Server.ShutdownTimeout = 10 * time.Second
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Engine.ArrearsWindowDays <= 0 {
		c.Engine.ArrearsWindowDays = habit.DefaultArrearsWindowDays
	}
	if c.Engine.BaseReward <= 0 {
		c.Engine.BaseReward = habit.DefaultBaseReward
	}
	if c.Engine.SynergyBonus < 0 {
		c.Engine.SynergyBonus = 0
	}
	if c.Engine.ArrearsCacheTTL <= 0 {
		c.Engine.ArrearsCacheTTL = 10 * time.Minute
	}
	if c.Engine.RolloverHour < 0 || c.Engine.RolloverHour > 23 {
		c.Engine.RolloverHour = 0
	}
	if c.Consumer.MaxRetries <= 0 {
		c.Consumer.MaxRetries = 3
	}
	if c.Consumer.RetryTTL <= 0 {
		c.Consumer.RetryTTL = 24 * time.Hour
	}
	if c.Consumer.DedupTTL <= 0 {
		c.Consumer.DedupTTL = time.Hour
	}
}

// HabitEngine 转换为引擎配置；enforce_locks 缺省为 true
func (c *Config) HabitEngine() habit.Config {
	enforce := true
	if c.Engine.EnforceLocks != nil {
		enforce = *c.Engine.EnforceLocks
	}
	return habit.Config{
		BaseReward:        c.Engine.BaseReward,
		SynergyBonus:      c.Engine.SynergyBonus,
		ArrearsWindowDays: c.Engine.ArrearsWindowDays,
		EnforceLocks:      enforce,
	}
}
