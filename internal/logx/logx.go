package logx

import (
	"context"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config via env or code
type Config struct {
	Service        string // "bot", "worker" or "localtest"
	Level          string // debug|info|warn|error
	Format         string // json|console
	FilePath       string // e.g. /var/log/autosort/worker.log ("" = disabled)
	FileMaxSizeMB  int    // rotate at ~MB (default 50)
	FileMaxBackups int    // keep N old logs (default 3)
	FileMaxAgeDays int    // keep #days (default 7)
	FileCompress   bool   // gzip old logs (default true)
	SampleEveryN   int    // >0 enables BasicSampler (e.g., 10 = keep 1/10 logs)
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getenvInt(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getenvBool(k string, def bool) bool {
	if v := os.Getenv(k); v != "" {
		v = strings.ToLower(v)
		return v == "1" || v == "true" || v == "yes"
	}
	return def
}

// FromEnv builds a Config from LOG_* variables with sane defaults.
func FromEnv(service string) Config {
	return Config{
		Service:        service,
		Level:          strings.ToLower(getenv("LOG_LEVEL", "info")),
		Format:         strings.ToLower(getenv("LOG_FORMAT", "json")),
		FilePath:       getenv("LOG_FILE", ""),
		FileMaxSizeMB:  getenvInt("LOG_FILE_MAX_SIZE", 50),
		FileMaxBackups: getenvInt("LOG_FILE_MAX_BACKUPS", 3),
		FileMaxAgeDays: getenvInt("LOG_FILE_MAX_AGE", 7),
		FileCompress:   getenvBool("LOG_FILE_COMPRESS", true),
		SampleEveryN:   getenvInt("LOG_SAMPLE_EVERY", 0),
	}
}

// Setup configures the zerolog global `log` and returns the logger instance.
func Setup(c Config) zerolog.Logger {
	return SetupWriter(c, os.Stdout)
}

// SetupWriter is Setup with an explicit primary writer instead of stdout.
func SetupWriter(c Config, out io.Writer) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339
	lvl, err := zerolog.ParseLevel(c.Level)
	if err != nil || c.Level == "" {
		lvl = zerolog.InfoLevel
	}

	var writers []io.Writer
	if c.Format == "console" {
		writers = append(writers, zerolog.ConsoleWriter{
			Out:        out,
			TimeFormat: time.RFC3339,
		})
	} else {
		writers = append(writers, out)
	}
	if c.FilePath != "" {
		writers = append(writers, &lumberjack.Logger{
			Filename:   c.FilePath,
			MaxSize:    c.FileMaxSizeMB,
			MaxBackups: c.FileMaxBackups,
			MaxAge:     c.FileMaxAgeDays,
			Compress:   c.FileCompress,
		})
	}

	logger := zerolog.New(io.MultiWriter(writers...)).Level(lvl).With().
		Timestamp().
		Str("svc", c.Service).
		Logger()

	if c.SampleEveryN > 0 {
		logger = logger.Sample(&zerolog.BasicSampler{N: uint32(c.SampleEveryN)})
	}

	log.Logger = logger
	return logger
}

type ctxKey int

const (
	ctxKeyUserID ctxKey = iota
	ctxKeyEntryID
	ctxKeyTaskID
)

// WithUser tags ctx with the Telegram user id.
func WithUser(ctx context.Context, uid int64) context.Context {
	return context.WithValue(ctx, ctxKeyUserID, uid)
}

// WithEntry tags ctx with a queue entry id.
func WithEntry(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKeyEntryID, id)
}

// WithTask tags ctx with an asynq task id.
func WithTask(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKeyTaskID, id)
}

// FromCtx attaches standard fields (if present) to the global logger.
func FromCtx(ctx context.Context) zerolog.Logger {
	l := log.Logger
	if ctx == nil {
		return l
	}
	w := l.With()
	if v, ok := ctx.Value(ctxKeyUserID).(int64); ok {
		w = w.Int64("uid", v)
	}
	if v, ok := ctx.Value(ctxKeyEntryID).(string); ok {
		w = w.Str("entry", v)
	}
	if v, ok := ctx.Value(ctxKeyTaskID).(string); ok {
		w = w.Str("task", v)
	}
	return w.Logger()
}
