package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"groupdirectory_bot/internal/config"
	"groupdirectory_bot/internal/dispatch"
	"groupdirectory_bot/internal/domain"
	"groupdirectory_bot/internal/feature/command"
	"groupdirectory_bot/internal/feature/directory"
	"groupdirectory_bot/internal/feature/invitelink"
	"groupdirectory_bot/internal/feature/lifecycle"
	"groupdirectory_bot/internal/feature/notify"
	"groupdirectory_bot/internal/health"
	"groupdirectory_bot/internal/logging"
	"groupdirectory_bot/internal/metrics"
	"groupdirectory_bot/internal/scheduler"
	"groupdirectory_bot/internal/store"
	"groupdirectory_bot/internal/telegram"
	"groupdirectory_bot/internal/throttle"
)

const (
	mongoConnectTimeout     = 10 * time.Second
	mongoIndexTimeout       = 5 * time.Second
	mongoDisconnectTimeout  = 5 * time.Second
	redisConnectTimeout     = 5 * time.Second
	telegramIdentityTimeout = 10 * time.Second
	forceRefreshTimeout     = 30 * time.Minute
)

func main() {
	configOnly := pflag.Bool("config-only", false, "load and print configuration then exit")
	forceLinks := pflag.Bool("force-update-links", false, "recompute invite links for every group then exit")
	pflag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logging.Error("configuration error", logging.Fields{"error": err})
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.Setup(cfg)
	if err != nil {
		logging.Error("logger setup error", logging.Fields{"error": err})
		fmt.Fprintf(os.Stderr, "logger setup error: %v\n", err)
		os.Exit(1)
	}

	if *configOnly {
		logging.Info("configuration check", logging.Fields{"event": "config_only"})
		fmt.Println("configuration check: ok")
		fmt.Println(config.FormatRedacted(cfg))
		return
	}

	logger.WithFields(logging.Fields{
		"event":    "startup",
		"mongo_db": cfg.MongoDB,
		"admins":   len(cfg.Admins),
	}).Info("configuration loaded")

	connectCtx, cancel := context.WithTimeout(context.Background(), mongoConnectTimeout)
	mongoManager, err := store.NewManager(connectCtx, cfg)
	cancel()
	if err != nil {
		exit(logger, "mongo connection error", err)
	}

	logger.WithField("event", "mongo_connect").Info("connected to mongo")

	indexCtx, cancelIndexes := context.WithTimeout(context.Background(), mongoIndexTimeout)
	if err := mongoManager.EnsureBaseIndexes(indexCtx); err != nil {
		cancelIndexes()
		exit(logger, "mongo index setup error", err)
	}
	cancelIndexes()

	logger.WithField("event", "mongo_indexes").Info("ensured base mongo indexes")

	defer func() {
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), mongoDisconnectTimeout)
		defer cancelShutdown()
		if err := mongoManager.Close(shutdownCtx); err != nil {
			logger.WithError(err).Error("mongo disconnect error")
			return
		}
		logger.WithField("event", "mongo_disconnect").Info("mongo client disconnected")
	}()

	limiter, redisClient, err := newLimiter(cfg, logger)
	if err != nil {
		exit(logger, "redis connection error", err)
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	tgClient, err := telegram.NewClient(cfg, logger)
	if err != nil {
		exit(logger, "telegram client setup error", err)
	}

	identityCtx, cancelIdentity := context.WithTimeout(context.Background(), telegramIdentityTimeout)
	gw, err := tgClient.Gateway(identityCtx)
	cancelIdentity()
	if err != nil {
		exit(logger, "telegram identity error", err)
	}

	logger.WithFields(logging.Fields{
		"event":    "telegram_ready",
		"bot_id":   gw.Self(),
		"username": gw.Username(),
	}).Info("telegram client initialized")

	m := metrics.New()
	groups := domain.NewGroupRepository(mongoManager.Groups())
	stats := store.NewStatsProvider(mongoManager.Groups())
	notifier := notify.NewDispatcher(gw, cfg.AdminChatID, logger)
	reconciler := invitelink.New(groups, gw, notifier, invitelink.Options{
		Limiter:  limiter,
		Cooldown: cfg.ReminderCooldown,
		Stats:    stats,
		Metrics:  m,
		Logger:   logger,
	})

	signalCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *forceLinks {
		refreshCtx, cancelRefresh := context.WithTimeout(signalCtx, forceRefreshTimeout)
		report, err := reconciler.ForceRefresh(refreshCtx)
		cancelRefresh()
		if err != nil {
			logger.WithField("event", "force_update_links_failed").WithError(err).Error("forced link refresh failed")
			return
		}
		fmt.Printf("links refreshed: checked=%d updated=%d needs_admin=%d failed=%d\n",
			report.Checked, report.Updated, report.NeedsAdmin, report.Failed)
		return
	}

	engine := lifecycle.NewEngine(groups, notifier, reconciler, cfg.Admins,
		lifecycle.WithMetrics(m),
		lifecycle.WithLogger(logger),
	)
	commands := command.NewHandler(command.Deps{
		BotName:   cfg.BotName,
		Replier:   notifier,
		Store:     groups,
		Directory: directory.New(groups),
		Links:     reconciler,
		Stats:     stats,
		Admins:    cfg.Admins,
		Logger:    logger,
	})
	pool := dispatch.New(dispatch.Options{
		Workers:   cfg.WorkerCount,
		QueueSize: cfg.QueueSize,
		Logger:    logger,
		Metrics:   m,
		Reporter:  notify.NewErrorReporter(notifier, cfg.ErrorChatID, limiter, cfg.ErrorCooldown, logger),
	})
	tgClient.SetHandler(telegram.NewRouter(telegram.RouterDeps{
		Submitter: pool,
		Lifecycle: engine,
		Commands:  commands,
		Answerer:  notifier,
		BotID:     gw.Self(),
		Username:  gw.Username(),
		Logger:    logger,
	}))

	reconcileRunner, err := scheduler.New("invite_link_reconcile", cfg.LinkCheckInterval,
		func(ctx context.Context) error {
			_, err := reconciler.Reconcile(ctx)
			return err
		},
		scheduler.WithRunAtStart(),
		scheduler.WithLogger(logger),
	)
	if err != nil {
		exit(logger, "scheduler setup error", err)
	}

	healthOpts := []health.Option{
		health.WithChecker("mongo", mongoManager),
		health.WithMetrics(m.Handler()),
	}
	if redisClient != nil {
		healthOpts = append(healthOpts, health.WithChecker("redis", health.CheckerFunc(func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		})))
	}
	healthServer := health.NewServer(cfg.HTTPPort, logger, healthOpts...)

	group, groupCtx := errgroup.WithContext(signalCtx)
	group.Go(func() error {
		tgClient.Start(groupCtx)
		if groupCtx.Err() == nil {
			return errors.New("telegram polling stopped before shutdown")
		}
		return nil
	})
	group.Go(func() error { return pool.Run(groupCtx) })
	group.Go(func() error { return reconcileRunner.Run(groupCtx) })
	group.Go(func() error { return healthServer.Run(groupCtx) })

	if err := group.Wait(); err != nil {
		logger.WithField("event", "shutdown_error").WithError(err).Error("service stopped with error")
	} else {
		logger.WithField("event", "shutdown_signal").Info("received termination signal")
	}

	logger.WithField("event", "shutdown_complete").Info("shutdown complete")
}

// newLimiter picks the reminder throttle backend. Redis is used when configured
// and fails open, so an outage never silences reminders for good.
func newLimiter(cfg config.Config, logger *logrus.Entry) (throttle.Limiter, *redis.Client, error) {
	if cfg.RedisURL == "" {
		return throttle.NewMemoryLimiter(), nil, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), redisConnectTimeout)
	defer cancel()

	client, err := throttle.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		return nil, nil, err
	}

	logger.WithField("event", "redis_connect").Info("connected to redis")
	return throttle.NewRedisLimiter(client, logger, true), client, nil
}

func exit(logger *logrus.Entry, msg string, err error) {
	logger.WithError(err).Error(msg)
	fmt.Fprintf(os.Stderr, "%s: %v\n", msg, err)
	os.Exit(1)
}
