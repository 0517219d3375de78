package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"taskcycle/pkg/config"
)

// RecurrenceConfig governs which trigger paths are active and bounds
// lock acquisition and tick batches.
type RecurrenceConfig struct {
	AdvanceOnCompletion bool `yaml:"advance_on_completion"`
	AdvanceOnSchedule   bool `yaml:"advance_on_schedule"`
	LockTimeoutMs       int  `yaml:"lock_timeout_ms"`
	LockTTLMs           int  `yaml:"lock_ttl_ms"`
	MaxBatchSize        int  `yaml:"max_batch_size"`
	TickIntervalSeconds int  `yaml:"tick_interval_seconds"`
	UseMemoryLock       bool `yaml:"use_memory_lock"`
}

func (c RecurrenceConfig) LockTimeout() time.Duration {
	return time.Duration(c.LockTimeoutMs) * time.Millisecond
}

func (c RecurrenceConfig) LockTTL() time.Duration {
	return time.Duration(c.LockTTLMs) * time.Millisecond
}

type Config struct {
	Server     config.ServerConfig `yaml:"server"`
	DB         config.DBConfig     `yaml:"db"`
	Redis      config.RedisConfig  `yaml:"redis"`
	MQ         config.MQConfig     `yaml:"mq"`
	Recurrence RecurrenceConfig    `yaml:"recurrence"`
}

func Load() *Config {
	env := config.GetConfigEnv()
	configDir := config.GetEnv("CONFIG_DIR", "config")

	cfgMap, err := config.LoadConfig(env, configDir)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	var cfg Config
	cfgData, err := yaml.Marshal(cfgMap)
	if err != nil {
		log.Fatalf("failed to marshal config: %v", err)
	}
	if err := yaml.Unmarshal(cfgData, &cfg); err != nil {
		log.Fatalf("failed to unmarshal config: %v", err)
	}

	// Env vars take precedence over files.
	config.OverrideServerFromEnv(&cfg.Server)
	config.OverrideDBFromEnv(&cfg.DB)
	config.OverrideRedisFromEnv(&cfg.Redis)
	config.OverrideMQFromEnv(&cfg.MQ)
	overrideRecurrenceFromEnv(&cfg.Recurrence)

	applyDefaults(&cfg)
	return &cfg
}

func overrideRecurrenceFromEnv(cfg *RecurrenceConfig) {
	if v := os.Getenv("RECURRENCE_LOCK_TIMEOUT_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.LockTimeoutMs = n
		}
	}
	if v := os.Getenv("RECURRENCE_MAX_BATCH_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxBatchSize = n
		}
	}
	if v := os.Getenv("RECURRENCE_TICK_INTERVAL_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.TickIntervalSeconds = n
		}
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Port == "" {
		cfg.Server.Port = "8080"
	}
	if cfg.Recurrence.LockTimeoutMs <= 0 {
		cfg.Recurrence.LockTimeoutMs = 3000
	}
	if cfg.Recurrence.LockTTLMs <= 0 {
		cfg.Recurrence.LockTTLMs = 5000
	}
	if cfg.Recurrence.MaxBatchSize <= 0 {
		cfg.Recurrence.MaxBatchSize = 50
	}
	if cfg.Recurrence.TickIntervalSeconds <= 0 {
		cfg.Recurrence.TickIntervalSeconds = 60
	}
}
