package config

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Config holds every runtime setting of the service, loaded from .env and the process environment.
type Config struct {
	AppEnv   string `mapstructure:"APP_ENV"`
	HTTPAddr string `mapstructure:"HTTP_ADDR"`

	StorageDriver string `mapstructure:"STORAGE_DRIVER"` // "postgres" or "memory"
	DBHost        string `mapstructure:"DB_HOST"`
	DBPort        string `mapstructure:"DB_PORT"`
	DBUser        string `mapstructure:"DB_USER"`
	DBPassword    string `mapstructure:"DB_PASSWORD"`
	DBName        string `mapstructure:"DB_NAME"`
	DBSSLMode     string `mapstructure:"DB_SSLMODE"`
	DBMaxConns    int32  `mapstructure:"DB_MAX_CONNS"`
	MigrationsDir string `mapstructure:"MIGRATIONS_DIR"`

	BroadcastDriver string `mapstructure:"BROADCAST_DRIVER"` // "local" or "redis"
	RedisAddr       string `mapstructure:"REDIS_ADDR"`
	RedisPassword   string `mapstructure:"REDIS_PASSWORD"`
	RedisDB         int    `mapstructure:"REDIS_DB"`

	OrderNotifier string `mapstructure:"ORDER_NOTIFIER"` // "nats" or "log"
	NatsURL       string `mapstructure:"NATS_URL"`

	BidIncrementTiers   string        `mapstructure:"BID_INCREMENT_TIERS"`
	AllowSelfOutbid     bool          `mapstructure:"ALLOW_SELF_OUTBID"`
	BidLockTimeout      time.Duration `mapstructure:"BID_LOCK_TIMEOUT"`
	BidCASRetries       int           `mapstructure:"BID_CAS_RETRIES"`
	SnapshotBidLimit    int           `mapstructure:"SNAPSHOT_BID_LIMIT"`
	SchedulerInterval   time.Duration `mapstructure:"SCHEDULER_INTERVAL"`
	CountdownInterval   time.Duration `mapstructure:"COUNTDOWN_INTERVAL"`
	EndingSoonThreshold time.Duration `mapstructure:"ENDING_SOON_THRESHOLD"`
	SubscriberBuffer    int           `mapstructure:"SUBSCRIBER_BUFFER"`

	PayUSalt            string `mapstructure:"PAYU_SALT"`
	PhonePeSaltKey      string `mapstructure:"PHONEPE_SALT_KEY"`
	PhonePeSaltIndex    string `mapstructure:"PHONEPE_SALT_INDEX"`
	PhonePeCallbackPath string `mapstructure:"PHONEPE_CALLBACK_PATH"`
}

var defaults = map[string]any{
	"APP_ENV":               "development",
	"HTTP_ADDR":             ":9000",
	"STORAGE_DRIVER":        "postgres",
	"DB_HOST":               "localhost",
	"DB_PORT":               "5432",
	"DB_USER":               "auction",
	"DB_PASSWORD":           "",
	"DB_NAME":               "auction",
	"DB_SSLMODE":            "disable",
	"DB_MAX_CONNS":          10,
	"MIGRATIONS_DIR":        "internal/shared/db/migrations/sql",
	"BROADCAST_DRIVER":      "local",
	"REDIS_ADDR":            "localhost:6379",
	"REDIS_PASSWORD":        "",
	"REDIS_DB":              0,
	"ORDER_NOTIFIER":        "log",
	"NATS_URL":              "nats://localhost:4222",
	"BID_INCREMENT_TIERS":   "0:1",
	"ALLOW_SELF_OUTBID":     false,
	"BID_LOCK_TIMEOUT":      "2s",
	"BID_CAS_RETRIES":       3,
	"SNAPSHOT_BID_LIMIT":    20,
	"SCHEDULER_INTERVAL":    "1s",
	"COUNTDOWN_INTERVAL":    "1s",
	"ENDING_SOON_THRESHOLD": "60s",
	"SUBSCRIBER_BUFFER":     64,
	"PAYU_SALT":             "",
	"PHONEPE_SALT_KEY":      "",
	"PHONEPE_SALT_INDEX":    "1",
	"PHONEPE_CALLBACK_PATH": "/webhooks/phonepe",
}

// Load reads an optional .env file and the environment into Config.
func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.AutomaticEnv()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	if _, err := ParseIncrementTiers(cfg.BidIncrementTiers); err != nil {
		return nil, err
	}
	return cfg, nil
}

// PostgresDSN builds the connection url from the DB_* settings.
func (c *Config) PostgresDSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName, c.DBSSLMode,
	)
}

// IncrementTier is one price band of the minimum increment table: from Floor upwards the
// minimum raise is Step.
type IncrementTier struct {
	Floor decimal.Decimal
	Step  decimal.Decimal
}

// tierScale is the currency scale bids are stored with. A finer step could never be bid.
const tierScale = 2

// ParseIncrementTiers parses "floor:step,floor:step" into bands sorted by floor.
// A single "0:10" entry is a fixed increment.
func ParseIncrementTiers(raw string) ([]IncrementTier, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("config: BID_INCREMENT_TIERS is empty")
	}
	var tiers []IncrementTier
	for _, part := range strings.Split(raw, ",") {
		floorStr, stepStr, ok := strings.Cut(strings.TrimSpace(part), ":")
		if !ok {
			return nil, fmt.Errorf("config: invalid increment tier %q", part)
		}
		floor, err := decimal.NewFromString(strings.TrimSpace(floorStr))
		if err != nil {
			return nil, fmt.Errorf("config: invalid tier floor %q: %w", floorStr, err)
		}
		step, err := decimal.NewFromString(strings.TrimSpace(stepStr))
		if err != nil {
			return nil, fmt.Errorf("config: invalid tier step %q: %w", stepStr, err)
		}
		if floor.IsNegative() || !step.IsPositive() {
			return nil, fmt.Errorf("config: tier %q needs floor >= 0 and step > 0", part)
		}
		if !floor.Equal(floor.Truncate(tierScale)) || !step.Equal(step.Truncate(tierScale)) {
			return nil, fmt.Errorf("config: tier %q has more than %d decimal places", part, tierScale)
		}
		tiers = append(tiers, IncrementTier{Floor: floor, Step: step})
	}
	sort.Slice(tiers, func(i, j int) bool { return tiers[i].Floor.LessThan(tiers[j].Floor) })
	return tiers, nil
}
