package config

import (
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/samber/lo"
)

type Config struct {
	Port           int    `envconfig:"PORT" default:"8000"`
	Env            string `envconfig:"APP_ENV" default:"development"`
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`
	AllowedOrigins string `envconfig:"ALLOWED_ORIGINS" default:"http://localhost:3000,http://localhost:5173"`

	// STORE_BACKEND is one of postgres, redis, badger or memory.
	StoreBackend      string        `envconfig:"STORE_BACKEND" default:"memory"`
	DatabaseURL       string        `envconfig:"DATABASE_URL"`
	RedisAddr         string        `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	RedisDB           int           `envconfig:"REDIS_DB" default:"0"`
	BadgerPath        string        `envconfig:"BADGER_PATH" default:"./data/presence"`
	StoreProbeTimeout time.Duration `envconfig:"STORE_PROBE_TIMEOUT" default:"5s"`
	StoreOpTimeout    time.Duration `envconfig:"STORE_OP_TIMEOUT" default:"5s"`

	InviteSecret string        `envconfig:"INVITE_SECRET" default:"dev-secret-change-in-production"`
	InviteTTL    time.Duration `envconfig:"INVITE_TTL" default:"168h"`
	PublicURL    string        `envconfig:"PUBLIC_URL" default:"http://localhost:3000"`
	// ADMIN_KEY_HASH is a bcrypt hash; empty leaves the admin API open.
	AdminKeyHash string `envconfig:"ADMIN_KEY_HASH"`

	MaxMessageSize int64 `envconfig:"MAX_MESSAGE_SIZE" default:"65536"`
	SendBuffer     int   `envconfig:"SEND_BUFFER" default:"256"`
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Origins splits ALLOWED_ORIGINS into trimmed, non-empty entries.
func (c *Config) Origins() []string {
	parts := lo.Map(strings.Split(c.AllowedOrigins, ","), func(s string, _ int) string {
		return strings.TrimSpace(s)
	})
	return lo.Uniq(lo.Compact(parts))
}

// OriginHosts is Origins reduced to host[:port], the form websocket origin
// patterns expect.
func (c *Config) OriginHosts() []string {
	return lo.Map(c.Origins(), func(origin string, _ int) string {
		if u, err := url.Parse(origin); err == nil && u.Host != "" {
			return u.Host
		}
		return origin
	})
}

func (c *Config) IsProduction() bool {
	return c.Env == "production" || c.Env == "prod"
}
