package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const EnvPrefix = "VOICEMESH"

type Reconnect struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	BackoffBase time.Duration `mapstructure:"backoff_base"`
}

type RateLimit struct {
	Count    int           `mapstructure:"count"`
	Interval time.Duration `mapstructure:"interval"`
}

type Config struct {
	// relay
	Mode       string        `mapstructure:"mode"`
	Port       int           `mapstructure:"port"`
	StaticPath string        `mapstructure:"static_path"`
	ReadLimit  int64         `mapstructure:"read_limit"`
	PingPeriod time.Duration `mapstructure:"ping_period"`
	Secret     string        `mapstructure:"secret"`
	RateLimit  RateLimit     `mapstructure:"rate_limit"`
	SendBuffer int           `mapstructure:"send_buffer"`
	// AdminToken enables the /admin endpoints when set.
	AdminToken string `mapstructure:"admin_token"`

	LogLevel string `mapstructure:"log_level"`

	// client
	RelayURL         string        `mapstructure:"relay_url"`
	UserID           string        `mapstructure:"user_id"`
	STUNServers      []string      `mapstructure:"stun_servers"`
	Reconnect        Reconnect     `mapstructure:"reconnect"`
	SubscribeTimeout time.Duration `mapstructure:"subscribe_timeout"`
	HeartbeatPeriod  time.Duration `mapstructure:"heartbeat_period"`
	DBPath           string        `mapstructure:"db_path"`
	RingInterval     time.Duration `mapstructure:"ring_interval"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("static_path", "./web")
	v.SetDefault("read_limit", 32768)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("secret", "")
	v.SetDefault("rate_limit.count", 50)
	v.SetDefault("rate_limit.interval", "1s")
	v.SetDefault("send_buffer", 64)
	v.SetDefault("admin_token", "")
	v.SetDefault("log_level", "info")

	v.SetDefault("relay_url", "ws://localhost:8080/api/ws/realtime")
	v.SetDefault("user_id", "")
	v.SetDefault("stun_servers", []string{
		"stun:stun.l.google.com:19302",
		"stun:stun1.l.google.com:19302",
		"stun:stun2.l.google.com:19302",
	})
	v.SetDefault("reconnect.max_attempts", 3)
	v.SetDefault("reconnect.backoff_base", "1500ms")
	v.SetDefault("subscribe_timeout", "10s")
	v.SetDefault("heartbeat_period", "25s")
	v.SetDefault("db_path", "voicemesh.db")
	v.SetDefault("ring_interval", "3s")
}

func Load() (*Config, error) {
	return LoadWith(viper.New())
}

// LoadWith reads configuration into v, which may already carry bound flags.
func LoadWith(v *viper.Viper) (*Config, error) {
	// .env never overrides the real environment
	_ = godotenv.Load()

	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)

	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		fmt.Fprintf(os.Stderr, "⚠️ Config file not found (%s), using defaults\n", fileName)
	} else {
		fmt.Fprintf(os.Stderr, "✅ Loaded config: %s\n", fileName)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if cfg.Reconnect.MaxAttempts < 0 {
		return nil, fmt.Errorf("reconnect.max_attempts must not be negative")
	}
	fmt.Fprintf(os.Stderr, "🧩 Mode: %s | Port: %d | Relay: %s\n", cfg.Mode, cfg.Port, cfg.RelayURL)
	return &cfg, nil
}
