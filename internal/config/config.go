package config

import (
	"errors"
	"fmt"
	"math/rand"
	"os"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Mode      string `mapstructure:"mode"`
	ServiceID string `mapstructure:"service_id"`
	Port      int    `mapstructure:"port"`
	Secret    string `mapstructure:"secret"`

	PublicIP     string `mapstructure:"public_ip"`
	PublicDomain string `mapstructure:"public_domain"`
	MediaMinPort uint16 `mapstructure:"media_min_port"`
	MediaMaxPort uint16 `mapstructure:"media_max_port"`

	RegistryURL      string        `mapstructure:"registry_url"`
	ServiceToken     string        `mapstructure:"service_token"`
	RegisterInterval time.Duration `mapstructure:"register_interval"`

	ReplayWindow       time.Duration `mapstructure:"replay_window"`
	TimestampTolerance time.Duration `mapstructure:"timestamp_tolerance"`
	NonceCacheSize     int           `mapstructure:"nonce_cache_size"`
	KeyWait            time.Duration `mapstructure:"key_wait"`

	ReconnectTTL       time.Duration `mapstructure:"reconnect_ttl"`
	ReconnectCacheSize int           `mapstructure:"reconnect_cache_size"`
}

var ErrRegistryURLRequired = errors.New("registry_url must be set")

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)

	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetDefault("mode", "release")
	v.SetDefault("service_id", randomServiceID(8))
	v.SetDefault("port", 1441)
	v.SetDefault("public_ip", "127.0.0.1")
	v.SetDefault("media_min_port", 0)
	v.SetDefault("media_max_port", 0)
	v.SetDefault("register_interval", "30s")
	v.SetDefault("replay_window", "5m")
	v.SetDefault("timestamp_tolerance", "5m")
	v.SetDefault("nonce_cache_size", 8192)
	v.SetDefault("key_wait", "10s")
	v.SetDefault("reconnect_ttl", "5m")
	v.SetDefault("reconnect_cache_size", 2048)

	if err := v.ReadInConfig(); err != nil {
		fmt.Printf("⚠️ Config file not found (%s), using defaults\n", fileName)
	} else {
		fmt.Printf("✅ Loaded config: %s\n", fileName)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if cfg.RegistryURL == "" {
		return nil, ErrRegistryURLRequired
	}
	fmt.Printf("🧩 Mode: %s | Port: %d | Service: %s\n", cfg.Mode, cfg.Port, cfg.ServiceID)
	return &cfg, nil
}

const serviceIDChars = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

func randomServiceID(length int) string {
	out := make([]byte, length)
	for i := range out {
		out[i] = serviceIDChars[rand.Intn(len(serviceIDChars))]
	}
	return string(out)
}
