package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"reminder-voice/internal/audit"
	"reminder-voice/internal/auth"
	"reminder-voice/internal/calls"
	"reminder-voice/internal/config"
	"reminder-voice/internal/events"
	"reminder-voice/internal/httpapi"
	"reminder-voice/internal/orchestrator"
	"reminder-voice/internal/pipeline"
	"reminder-voice/internal/prompts"
	"reminder-voice/internal/queue"
	"reminder-voice/internal/reporting"
	"reminder-voice/internal/summary"
	"reminder-voice/internal/telephony"
	"reminder-voice/internal/transcript"
	"reminder-voice/pkg/logger"
	"reminder-voice/pkg/utils"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
)

const (
	statusCacheTTL = 30 * time.Minute
	// slotTTL must outlast the longest call so a crashed holder frees it.
	slotTTL = 15 * time.Minute
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn(".env load failed", "err", err)
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		log.Error("auth init failed", "err", err)
		os.Exit(1)
	}

	policy, err := loadPolicy(cfg.PolicyFile)
	if err != nil {
		log.Error("call policy load failed", "err", err)
		os.Exit(1)
	}

	// Stores: Postgres when configured, memory otherwise (local only).
	var (
		db        *sql.DB
		callRepo  calls.Repository = calls.NewMemoryRepo()
		auditRepo audit.Repository = audit.NewMemoryRepo()
	)
	if cfg.UsesPostgres() {
		db, err = utils.OpenPostgres(rootCtx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{MaxOpenConns: cfg.DB.MaxConns})
		if err != nil {
			log.Error("postgres init failed", "err", err)
			os.Exit(1)
		}
		defer db.Close()

		pgCalls := calls.NewPostgresRepo(db)
		pgAudit := audit.NewPostgresRepo(db)
		if err := pgCalls.EnsureSchema(rootCtx); err != nil {
			log.Error("calls schema failed", "err", err)
			os.Exit(1)
		}
		if err := pgAudit.EnsureSchema(rootCtx); err != nil {
			log.Error("audit schema failed", "err", err)
			os.Exit(1)
		}
		callRepo, auditRepo = pgCalls, pgAudit
	} else {
		log.Warn("no database configured, call records are kept in memory")
	}

	var rdb *redis.Client
	if addr := cfg.RedisAddr(); addr != "" {
		rdb, err = utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		if err != nil {
			log.Error("redis init failed", "err", err)
			os.Exit(1)
		}
		defer rdb.Close()
	}

	var bus events.Publisher = events.Noop{}
	if cfg.MQTT.Broker != "" {
		mq, err := events.NewMQTTPublisher(events.MQTTOptions{
			Broker:   cfg.MQTT.Broker,
			ClientID: cfg.MQTT.ClientID,
			Username: cfg.MQTT.Username,
			Password: cfg.MQTT.Password,
			QoS:      byte(cfg.MQTT.QoS),
		})
		if err != nil {
			log.Error("mqtt init failed", "err", err)
			os.Exit(1)
		}
		bus = mq
	}
	defer bus.Close()
	statusPub := events.NewStatusPublisher(bus, cfg.MQTT.TopicPrefix, log)
	auditSvc := audit.NewService(auditRepo, log)

	callOpts := []calls.Option{
		calls.WithLogger(log),
		calls.WithObservers(auditSvc, statusPub),
	}
	if rdb != nil {
		callOpts = append(callOpts, calls.WithCache(calls.NewRedisCache(rdb, "", statusCacheTTL)))
	}
	callSvc := calls.NewService(callRepo, callOpts...)

	provider, err := newProvider(cfg.Telephony)
	if err != nil {
		log.Error("telephony init failed", "err", err)
		os.Exit(1)
	}
	if provider == nil {
		log.Warn("no telephony provider configured, dial attempts will fail")
	}

	var summarizer summary.Summarizer
	if cfg.Summarizer.APIKey != "" {
		summarizer = summary.NewOpenAIClient(summary.OpenAIConfig{
			BaseURL:       cfg.Summarizer.BaseURL,
			APIKey:        cfg.Summarizer.APIKey,
			Model:         cfg.Summarizer.Model,
			Timeout:       cfg.Summarizer.Timeout,
			RatePerSecond: cfg.Summarizer.RatePerSecond,
		})
	} else {
		log.Warn("no summarizer configured, transcripts get template summaries")
	}
	gen := summary.NewGenerator(summarizer, summary.WithTimeout(cfg.Summarizer.Timeout), summary.WithLogger(log))

	store := transcript.NewStore(cfg.Transcripts.Dir)
	orch := orchestrator.New(orchestrator.Deps{
		Calls:       callSvc,
		Provider:    provider,
		Transcripts: store,
		Summaries:   gen,
		Outcomes:    statusPub,
	}, orchestrator.Config{
		PublicURL:  cfg.Telephony.PublicURL,
		FromNumber: cfg.Telephony.FromNumber,
		Policy:     policy,
	}, orchestrator.WithLogger(log))

	qOpts := []queue.Option{queue.WithLogger(log)}
	if rdb != nil && cfg.Queue.SlotKey != "" {
		qOpts = append(qOpts, queue.WithSlot(queue.NewRedisSlot(rdb, cfg.Queue.SlotKey, slotTTL)))
	}
	q := queue.New(callSvc, orch, queue.Config{
		PollInterval: cfg.Queue.PollInterval,
		MaxWait:      cfg.Queue.MaxWait,
		DialGap:      cfg.Queue.DialGap,
	}, qOpts...)

	queueDone := make(chan struct{})
	go func() {
		defer close(queueDone)
		if err := q.Run(rootCtx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("call queue stopped", "err", err)
		}
	}()

	// Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	registerRoutes(r, routeDeps{
		AuthMW: auth.RequireAccessToken(authManager),
		Webhooks: telephony.WebhookHandler{
			Provider:    provider,
			Events:      orch,
			PublicURL:   cfg.Telephony.PublicURL,
			GreetingURL: cfg.Telephony.GreetingAudioURL,
		},
		Pipeline: pipeline.NewHandler(orch),
		API: httpapi.Handlers{
			Queue:       q,
			Calls:       callSvc,
			Transcripts: store,
			Reports:     reporting.NewService(callSvc, store),
		},
		Ready: func(ctx context.Context) error {
			if db != nil {
				return utils.HealthCheck(ctx, db, 2*time.Second)
			}
			return nil
		},
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env, "provider", cfg.Telephony.Provider)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated", "queued_calls", q.Len(), "active_sessions", orch.Active())

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}
	select {
	case <-queueDone:
	case <-shutdownCtx.Done():
		log.Warn("call queue did not stop in time")
	}

	// Finalizations started by hangup webhooks may still be summarizing.
	finalized := make(chan struct{})
	go func() {
		orch.Wait()
		close(finalized)
	}()
	select {
	case <-finalized:
	case <-time.After(cfg.Summarizer.Timeout + 5*time.Second):
		log.Warn("pending call finalizations did not finish in time")
	}
}

// newProvider returns nil with no error when no provider is configured,
// which Validate only allows in local.
func newProvider(cfg config.TelephonyConfig) (telephony.Provider, error) {
	switch cfg.Provider {
	case config.ProviderPlivo:
		return telephony.NewPlivoProvider(telephony.PlivoConfig{
			AuthID:         cfg.PlivoAuthID,
			AuthToken:      cfg.PlivoAuthToken,
			CallsPerSecond: cfg.CallsPerSecond,
		})
	case config.ProviderTwilio:
		return telephony.NewTwilioProvider(telephony.TwilioConfig{
			AccountSID: cfg.TwilioAccountSID,
			AuthToken:  cfg.TwilioAuthToken,
		})
	}
	return nil, nil
}

func loadPolicy(path string) (prompts.Policy, error) {
	p, err := config.LoadPolicy(path)
	if err != nil {
		return prompts.Policy{}, err
	}
	return prompts.Policy{
		EndCallKeywords: p.EndCallKeywords,
		IdleNudge:       p.IdleNudge,
		IdleClosing:     p.IdleClosing,
		HangupGrace:     time.Duration(p.HangupGrace),
	}.WithDefaults(), nil
}
