package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/gofrs/flock"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/wapuda/tg-autosort/internal/autosort"
	"github.com/wapuda/tg-autosort/internal/config"
	"github.com/wapuda/tg-autosort/internal/delivery"
	"github.com/wapuda/tg-autosort/internal/health"
	"github.com/wapuda/tg-autosort/internal/ingest"
	"github.com/wapuda/tg-autosort/internal/logx"
	"github.com/wapuda/tg-autosort/internal/prefs"
	"github.com/wapuda/tg-autosort/internal/sortq"
	"github.com/wapuda/tg-autosort/internal/telegram"
)

func main() {
	c := config.Load()
	logger := logx.Setup(logx.FromEnv("worker"))

	if err := c.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}
	if err := os.MkdirAll(filepath.Join(c.DataDir, "downloads"), 0o755); err != nil {
		log.Fatal().Err(err).Msg("data dir")
	}

	// Queues live in this process; a second worker would split them.
	lock := flock.New(filepath.Join(c.DataDir, "worker.lock"))
	locked, err := lock.TryLock()
	if err != nil {
		log.Fatal().Err(err).Msg("worker lock")
	}
	if !locked {
		log.Fatal().Str("lock", lock.Path()).Msg("another worker is running")
	}
	defer lock.Unlock()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	bot, err := tgbotapi.NewBotAPI(c.BotToken)
	if err != nil {
		log.Fatal().Err(err).Msg("bot auth")
	}
	log.Info().Str("username", bot.Self.UserName).Int64("channel", c.DestinationChannel).Msg("worker authorized")

	rdb := redis.NewClient(&redis.Options{Addr: c.RedisAddr})
	defer rdb.Close()

	channel := telegram.NewSender(bot, c.DestinationChannel, telegram.WithRatePerMinute(c.ChannelRatePerMin))
	files := telegram.NewDownloader(bot, c.DataDir, autosort.NewID)
	notifier := telegram.NewNotifier(bot)

	ctrl := autosort.New(ctx, sortq.NewStore(), channel,
		autosort.WithDebounce(c.Debounce),
		autosort.WithNotifier(notifier),
		autosort.WithReleaser(files),
		autosort.WithDeliveryOptions(delivery.WithPolicy(c.Policy())),
	)
	defer ctrl.Close()

	direct := func(chatID int64) delivery.Sender {
		return telegram.NewSender(bot, chatID, telegram.WithCaptionFormat(func(s string) string { return s }))
	}
	h := ingest.NewHandler(ctrl, prefs.New(rdb), files, notifier, direct, c.IsAdmin)
	mux := asynq.NewServeMux()
	h.Register(mux)

	srv := asynq.NewServer(asynq.RedisClientOpt{Addr: c.RedisAddr}, asynq.Config{
		Concurrency: c.Concurrency,
		Logger:      logx.TaskLogger{L: logger},
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, t *asynq.Task, err error) {
			log.Error().Err(err).Str("task", t.Type()).Msg("task failed")
		}),
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Start(mux); err != nil {
			return err
		}
		log.Info().Int("concurrency", c.Concurrency).Msg("worker started")
		<-gctx.Done()
		srv.Shutdown()
		return nil
	})
	g.Go(func() error {
		return health.Serve(gctx, c.HealthAddr, map[string]health.Check{
			"redis": func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
		})
	})
	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("worker stopped")
		return
	}
	log.Info().Msg("worker stopped")
}
