package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/wapuda/tg-autosort/internal/delivery"
)

var (
	ErrMissingToken       = errors.New("BOT_TOKEN required")
	ErrMissingDestination = errors.New("DESTINATION_CHANNEL required")
)

type Config struct {
	BotToken           string
	RedisAddr          string
	DataDir            string
	DestinationChannel int64
	ChannelAdmins      map[int64]bool
	Concurrency        int
	HealthAddr         string

	Debounce          time.Duration
	ItemPause         time.Duration
	TransientBackoff  time.Duration
	MaxAttempts       int
	InlineVideoLimit  int64
	ChannelRatePerMin int
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func mustInt(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return n
		}
	}
	return def
}

func mustInt64(k string, def int64) int64 {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
			return n
		}
	}
	return def
}

func seconds(k string, def float64) time.Duration {
	if v := os.Getenv(k); v != "" {
		if x, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil && x >= 0 {
			return time.Duration(x * float64(time.Second))
		}
	}
	return time.Duration(def * float64(time.Second))
}

// parseIDs reads a comma separated list of numeric user ids; junk is skipped.
func parseIDs(s string) map[int64]bool {
	out := make(map[int64]bool)
	for _, p := range strings.Split(s, ",") {
		if n, err := strconv.ParseInt(strings.TrimSpace(p), 10, 64); err == nil {
			out[n] = true
		}
	}
	return out
}

// Load reads the environment, after merging a .env file if one exists.
func Load() Config {
	_ = godotenv.Load()
	return FromEnv()
}

// FromEnv reads the process environment only.
func FromEnv() Config {
	return Config{
		BotToken:           os.Getenv("BOT_TOKEN"),
		RedisAddr:          getenv("REDIS_ADDR", "localhost:6379"),
		DataDir:            getenv("DATA_DIR", "/data"),
		DestinationChannel: mustInt64("DESTINATION_CHANNEL", 0),
		ChannelAdmins:      parseIDs(os.Getenv("CHANNEL_ADMINS")),
		Concurrency:        mustInt("CONCURRENCY", 4),
		HealthAddr:         getenv("HEALTH_ADDR", ":8080"),

		Debounce:          seconds("DEBOUNCE_SEC", 3),
		ItemPause:         seconds("ITEM_PAUSE_SEC", 1),
		TransientBackoff:  seconds("TRANSIENT_BACKOFF_SEC", 2),
		MaxAttempts:       mustInt("MAX_ATTEMPTS", 3),
		InlineVideoLimit:  int64(mustInt("INLINE_VIDEO_LIMIT_MB", 50)) * 1024 * 1024,
		ChannelRatePerMin: mustInt("CHANNEL_RATE_PER_MIN", 20),
	}
}

// Validate reports the first setting the worker cannot run without.
func (c Config) Validate() error {
	if c.BotToken == "" {
		return ErrMissingToken
	}
	if c.DestinationChannel == 0 {
		return ErrMissingDestination
	}
	return nil
}

// IsAdmin reports whether user may feed the sorted channel queue.
func (c Config) IsAdmin(user int64) bool { return c.ChannelAdmins[user] }

// Policy is the delivery policy described by the config.
func (c Config) Policy() delivery.Policy {
	p := delivery.DefaultPolicy()
	if c.MaxAttempts > 0 {
		p.MaxAttempts = c.MaxAttempts
	}
	p.TransientBackoff = c.TransientBackoff
	p.ItemPause = c.ItemPause
	p.InlineVideoLimit = c.InlineVideoLimit
	return p
}
