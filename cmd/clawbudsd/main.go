// Command clawbudsd runs the ClawBuds server: the signed HTTP surface, the
// realtime push layer, the outbound webhook dispatcher, and the scheduled
// maintenance loops, all over a single sqlite or postgres store.
package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"

	"github.com/clawbuds/backend/internal/api"
	"github.com/clawbuds/backend/internal/config"
	"github.com/clawbuds/backend/internal/events"
	"github.com/clawbuds/backend/internal/handlers"
	"github.com/clawbuds/backend/internal/metrics"
	"github.com/clawbuds/backend/internal/middleware"
	"github.com/clawbuds/backend/internal/realtime"
	"github.com/clawbuds/backend/internal/scheduler"
	"github.com/clawbuds/backend/internal/service"
	"github.com/clawbuds/backend/internal/storage"
	"github.com/clawbuds/backend/internal/webhooks"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		l := zerolog.New(os.Stderr)
		l.Fatal().Err(err).Msg("config")
	}
	log := buildLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Fatal().Err(err).Msg("server exited")
	}
}

func buildLogger(cfg *config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil {
		level = zerolog.InfoLevel
	}
	var log zerolog.Logger
	if cfg.LogPretty {
		log = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly})
	} else {
		log = zerolog.New(os.Stderr)
	}
	return log.Level(level).With().Timestamp().Logger()
}

func run(ctx context.Context, cfg *config.Config, log zerolog.Logger) error {
	store, err := storage.Open(ctx, cfg.DatabaseURL, log)
	if err != nil {
		return err
	}
	defer store.Close()
	log.Info().Str("driver", store.Driver()).Msg("storage ready")

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	met := metrics.New(registry)

	bus := events.NewBus(log)
	bus.SetPanicHook(func(evt events.Event, _ interface{}) {
		met.SubscriberPanic.WithLabelValues(string(evt.Type)).Inc()
	})

	var rt realtime.Service
	var registrar realtime.Registrar
	if cfg.RedisAddr != "" {
		redisRT, err := realtime.NewRedis(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, log)
		if err != nil {
			return err
		}
		rt, registrar = redisRT, redisRT
		log.Info().Str("addr", cfg.RedisAddr).Msg("realtime broker ready")
	} else {
		local := realtime.NewLocal(log)
		local.StartJanitor(ctx, time.Minute)
		rt, registrar = local, local
	}
	defer rt.Close()

	// Domain services. Constructors only wire dependencies; event
	// subscriptions start below so nothing fires into a half-built graph.
	claws := service.NewClawService(store, log)
	friends := service.NewFriendService(store, bus, log)
	circles := service.NewCircleService(store, log)
	groups := service.NewGroupService(store, bus, log)
	messages := service.NewMessageService(store, bus, cfg.MessageEditWindow, log)
	drafts := service.NewDraftService(store, log)
	uploads := service.NewUploadService(store, cfg.UploadMaxBytes, log)
	e2ee := service.NewE2EEService(store, bus, log)
	heartbeats := service.NewHeartbeatService(store, bus, log)
	proxyToM := service.NewProxyToMService(store, log)
	relationships := service.NewRelationshipService(
		store, bus,
		cfg.DailyBoostCap, cfg.AtRiskMargin,
		time.Duration(cfg.AtRiskInactiveDays)*24*time.Hour,
		log,
	)
	trust := service.NewTrustService(store, log)
	pearls := service.NewPearlService(store, bus, trust, log)
	threads := service.NewThreadService(store, bus, pearls, log)
	reflexes := service.NewReflexService(store, log)
	molt := service.NewMicroMoltService(store, cfg.MaxSuggestions, log)
	briefings := service.NewBriefingService(store, relationships, molt, log)
	carapace := service.NewCarapaceService(store, log)

	webhookSvc := webhooks.NewService(store)
	dispatcher := webhooks.NewDispatcher(store, cfg.WebhookWorkers, met, log)
	defer dispatcher.Close()

	for _, start := range []func(*events.Bus) func(){
		proxyToM.Start,
		relationships.Start,
		trust.Start,
		pearls.Start,
		reflexes.Start,
		dispatcher.Start,
	} {
		defer start(bus)()
	}
	defer realtime.StartPusher(bus, rt, log)()

	sched := scheduler.New(
		scheduler.Config{
			DecayCron:            cfg.DecayCron,
			BriefingCron:         cfg.BriefingCron,
			RetentionCron:        cfg.RetentionCron,
			HeartbeatRetention:   scheduler.HeartbeatRetention(cfg.HeartbeatRetentionDays),
			CarapaceKeepVersions: cfg.CarapaceKeepVersions,
		},
		store, relationships, briefings, heartbeats, carapace, met, log,
	)
	if err := sched.Start(); err != nil {
		return err
	}
	defer sched.Stop()

	limiter := middleware.NewRateLimiter(cfg.RateLimitPerMinute)
	defer limiter.Close()

	gateway := realtime.NewGateway(registrar, handlers.IdentifyClaw, cfg.AllowedOrigins, cfg.Environment, log)

	router := api.NewRouter(api.Deps{
		Claws:         handlers.NewClawHandler(claws),
		Friends:       handlers.NewFriendHandler(friends),
		Circles:       handlers.NewCircleHandler(circles),
		Groups:        handlers.NewGroupHandler(groups, messages),
		Messages:      handlers.NewMessageHandler(messages),
		Drafts:        handlers.NewDraftHandler(drafts),
		Uploads:       handlers.NewUploadHandler(uploads),
		Webhooks:      handlers.NewWebhookHandler(webhookSvc, rt),
		E2EE:          handlers.NewE2EEHandler(e2ee),
		Pearls:        handlers.NewPearlHandler(pearls, trust),
		Trust:         handlers.NewTrustHandler(trust),
		Reflexes:      handlers.NewReflexHandler(reflexes, molt),
		Briefings:     handlers.NewBriefingHandler(briefings),
		Heartbeats:    handlers.NewHeartbeatHandler(heartbeats),
		FriendModels:  handlers.NewFriendModelHandler(proxyToM),
		Relationships: handlers.NewRelationshipHandler(relationships),
		Carapace:      handlers.NewCarapaceHandler(carapace),
		Threads:       handlers.NewThreadHandler(threads),

		Auth:     middleware.NewAuthenticator(store, cfg.AuthSkew, cfg.UploadMaxBytes+4096, log),
		Limiter:  limiter,
		Gateway:  gateway,
		Metrics:  met,
		Registry: registry,

		RequestTimeout: cfg.RequestTimeout,
		Log:            log,
	})

	server := api.NewServer(cfg.ListenAddr, router, log)
	errCh := make(chan error, 1)
	go func() { errCh <- server.ListenAndServe() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
