package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const envPrefix = "PRESENCE"

type Config struct {
	Mode       string        `mapstructure:"mode"`
	Port       int           `mapstructure:"port"`
	StaticPath string        `mapstructure:"static_path"`
	ReadLimit  int64         `mapstructure:"read_limit"`
	PingPeriod time.Duration `mapstructure:"ping_period"`
	PongWait   time.Duration `mapstructure:"pong_wait"`
	Secret     string        `mapstructure:"secret"`
	LogLevel   string        `mapstructure:"log_level"`

	// Per-user budget for send_meeting_request.
	MeetingRateLimit    int           `mapstructure:"meeting_rate_limit"`
	MeetingRateInterval time.Duration `mapstructure:"meeting_rate_interval"`

	Client ClientConfig `mapstructure:"client"`
}

// ClientConfig drives the client-side Transport Session.
type ClientConfig struct {
	ServerURL         string        `mapstructure:"server_url"`
	ReconnectDelay    time.Duration `mapstructure:"reconnect_delay"`
	ReconnectDelayMax time.Duration `mapstructure:"reconnect_delay_max"`
	DialTimeout       time.Duration `mapstructure:"dial_timeout"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout"`
	ReadTimeout       time.Duration `mapstructure:"read_timeout"`
	SendBuffer        int           `mapstructure:"send_buffer"`
}

// DefaultClientConfig mirrors the viper defaults for callers that build a
// client without loading a file.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		ServerURL:         "ws://localhost:8080/api/ws/signal",
		ReconnectDelay:    time.Second,
		ReconnectDelayMax: 5 * time.Second,
		DialTimeout:       10 * time.Second,
		WriteTimeout:      5 * time.Second,
		ReadTimeout:       60 * time.Second,
		SendBuffer:        32,
	}
}

func Load() (*Config, error) {
	return load(nil)
}

// LoadWithFlags is Load plus CLI overrides for the client keys.
func LoadWithFlags(fs *pflag.FlagSet) (*Config, error) {
	return load(fs)
}

func load(fs *pflag.FlagSet) (*Config, error) {
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

	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if fs != nil {
		for key, flag := range map[string]string{
			"client.server_url":          "server",
			"client.reconnect_delay":     "reconnect-delay",
			"client.reconnect_delay_max": "reconnect-delay-max",
			"log_level":                  "log-level",
		} {
			if f := fs.Lookup(flag); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("bind flag %s: %w", flag, err)
				}
			}
		}
	}

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	log.Info().Str("module", "config").Str("mode", cfg.Mode).Int("port", cfg.Port).Str("static", cfg.StaticPath).Msg("config ready")
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("static_path", "./web")
	v.SetDefault("read_limit", 32768)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("pong_wait", "60s")
	v.SetDefault("secret", "change-me")
	v.SetDefault("log_level", "info")
	v.SetDefault("meeting_rate_limit", 10)
	v.SetDefault("meeting_rate_interval", "1m")

	d := DefaultClientConfig()
	v.SetDefault("client.server_url", d.ServerURL)
	v.SetDefault("client.reconnect_delay", d.ReconnectDelay.String())
	v.SetDefault("client.reconnect_delay_max", d.ReconnectDelayMax.String())
	v.SetDefault("client.dial_timeout", d.DialTimeout.String())
	v.SetDefault("client.write_timeout", d.WriteTimeout.String())
	v.SetDefault("client.read_timeout", d.ReadTimeout.String())
	v.SetDefault("client.send_buffer", d.SendBuffer)
}

func (c *Config) validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("config: port %d out of range", c.Port)
	}
	if c.PingPeriod >= c.PongWait {
		return fmt.Errorf("config: ping_period (%s) must be shorter than pong_wait (%s)", c.PingPeriod, c.PongWait)
	}
	return c.Client.Validate()
}

func (c ClientConfig) Validate() error {
	if c.ServerURL == "" {
		return fmt.Errorf("config: client.server_url must be set")
	}
	if c.ReconnectDelay <= 0 {
		return fmt.Errorf("config: client.reconnect_delay must be positive")
	}
	if c.ReconnectDelayMax < c.ReconnectDelay {
		return fmt.Errorf("config: client.reconnect_delay_max (%s) below reconnect_delay (%s)", c.ReconnectDelayMax, c.ReconnectDelay)
	}
	if c.SendBuffer <= 0 {
		return fmt.Errorf("config: client.send_buffer must be positive")
	}
	for name, d := range map[string]time.Duration{
		"dial_timeout":  c.DialTimeout,
		"read_timeout":  c.ReadTimeout,
		"write_timeout": c.WriteTimeout,
	} {
		if d <= 0 {
			return fmt.Errorf("config: client.%s must be positive", name)
		}
	}
	return nil
}
