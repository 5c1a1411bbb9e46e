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

	"outbound-dialer/internal/admission"
	"outbound-dialer/internal/audit"
	"outbound-dialer/internal/auth"
	"outbound-dialer/internal/budget"
	"outbound-dialer/internal/calls"
	"outbound-dialer/internal/campaigns"
	"outbound-dialer/internal/config"
	"outbound-dialer/internal/did"
	"outbound-dialer/internal/orchestrator"
	"outbound-dialer/internal/pricing"
	"outbound-dialer/internal/queue"
	"outbound-dialer/internal/redisstore"
	"outbound-dialer/internal/reporting"
	"outbound-dialer/internal/telephony"
	"outbound-dialer/pkg/logger"
	"outbound-dialer/pkg/utils"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

const dncKey = "dialer:dnc"

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		log.Error("auth init failed", "err", err)
		os.Exit(1)
	}

	db, err := utils.OpenPostgres(rootCtx, utils.PostgresConfig{
		DSN:              cfg.PostgresDSN(),
		StatementTimeout: cfg.Dialer.DispatchTimeout,
	})
	if err != nil {
		log.Error("postgres init failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	rdb, err := utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: cfg.RedisAddr()})
	if err != nil {
		log.Error("redis init failed", "err", err)
		os.Exit(1)
	}
	defer rdb.Close()

	provider, err := newProvider(cfg)
	if err != nil {
		log.Error("telephony init failed", "provider", cfg.Dialer.Provider, "err", err)
		os.Exit(1)
	}

	engine, reports, err := newEngine(rootCtx, cfg, log, db, rdb, provider)
	if err != nil {
		log.Error("engine init failed", "err", err)
		os.Exit(1)
	}

	// Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	registerRoutes(r, cfg, engine, reports, auth.RequireAccessToken(authManager))

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(rootCtx)
	g.Go(func() error {
		log.Info("dialer engine started", "tick", cfg.Dialer.TickInterval, "max_concurrent", cfg.Dialer.MaxConcurrent, "provider", provider.Name())
		return engine.Run(gctx)
	})
	g.Go(func() error {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutdown initiated")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error("dialer stopped with error", "err", err)
		os.Exit(1)
	}
	log.Info("dialer stopped")
}

func newProvider(cfg config.Config) (telephony.Provider, error) {
	if cfg.Dialer.Provider == "sandbox" {
		return telephony.NewSandboxProvider(), nil
	}
	return telephony.NewTwilioProvider(telephony.TwilioConfig{
		AccountSID:        cfg.Twilio.AccountSID,
		AuthToken:         cfg.Twilio.AuthToken,
		BaseURL:           cfg.Twilio.APIBaseURL,
		AnswerURL:         cfg.TwilioAnswerURL(),
		StatusCallbackURL: cfg.TwilioStatusURL(),
		CountryISO2:       cfg.Twilio.CountryISO2,
		Timeout:           cfg.Dialer.DispatchTimeout,
	}, nil)
}

// newEngine builds the orchestration engine and its collaborators on postgres and redis,
// plus the report service reading the same call and cost stores.
func newEngine(ctx context.Context, cfg config.Config, log *slog.Logger, db *sql.DB, rdb *redis.Client, provider telephony.Provider) (*orchestrator.Engine, *reporting.Service, error) {
	loc := cfg.DialerLocation()

	auditSvc := audit.NewService(audit.NewPostgresRepo(db))
	directory := campaigns.NewPostgresRepo(db)

	callRecords := calls.NewPostgresRepo(db)
	costEvents := budget.NewPostgresRepo(db)

	ledger := budget.NewLedger(
		costEvents,
		campaigns.BudgetPolicies{Repo: directory},
		budget.Config{WarningPct: cfg.Dialer.BudgetWarningPct, Location: loc},
		log,
	)

	pool := did.NewPool(did.Config{MinActive: cfg.Dialer.MinActiveDIDs}, did.Options{
		Store:  did.NewPostgresStore(db),
		Audit:  auditSvc,
		Logger: log,
	})
	pool.SetProvisioner(telephony.ProvisionerAdapter{
		Provider:    provider,
		Registrar:   pool,
		CountryISO2: cfg.Twilio.CountryISO2,
		Log:         log,
	})
	n, err := pool.Load(ctx)
	if err != nil {
		return nil, nil, err
	}
	log.Info("did pool loaded", "dids", n)

	recency := redisstore.NewRecencyStore(rdb, cfg.Dialer.RecencyWindow)
	gate := admission.NewController(admission.Config{
		Hours: admission.CallingHours{
			StartHour: cfg.Dialer.CallingHoursStart,
			EndHour:   cfg.Dialer.CallingHoursEnd,
			Location:  loc,
		},
		RecencyWindow: cfg.Dialer.RecencyWindow,
	}, admission.Deps{
		Directory: directory,
		DNC:       redisstore.NewDNCSet(rdb, dncKey),
		Recency:   recency,
		Budget:    ledger,
		Logger:    log,
	})

	rater, err := pricing.NewService(pricing.RateCard{
		Currency:                cfg.RateCard.Currency,
		InitiationFeeMinor:      cfg.RateCard.InitiationFeeMinor,
		PerMinuteMinor:          cfg.RateCard.PerMinuteMinor,
		BillingIncrementSeconds: cfg.RateCard.BillingIncrementSeconds,
		MinimumBillableSeconds:  cfg.RateCard.MinimumBillableSeconds,
	})
	if err != nil {
		return nil, nil, err
	}

	deps := orchestrator.Deps{
		Queue:     queue.New(),
		Admission: gate,
		Pool:      pool,
		Ledger:    ledger,
		Directory: directory,
		Provider:  provider,
		StatusMap: calls.TwilioStatusMap(),
		Calls:     callRecords,
		Recency:   recency,
		Rater:     rater,
		Audit:     auditSvc,
		Logger:    log,
	}
	if cfg.Dialer.CampaignSlotLimit > 0 {
		deps.Slots = redisstore.NewCampaignSlots(rdb, cfg.Dialer.CampaignSlotLimit, 2*cfg.Dialer.MaxCallDuration)
	}

	ecfg := orchestrator.DefaultConfig()
	ecfg.TickInterval = cfg.Dialer.TickInterval
	ecfg.MaxConcurrent = cfg.Dialer.MaxConcurrent
	ecfg.MaxCallDuration = cfg.Dialer.MaxCallDuration
	ecfg.DispatchTimeout = cfg.Dialer.DispatchTimeout
	maxRetries := cfg.Dialer.MaxRetries
	if maxRetries == 0 {
		// DIALER_MAX_RETRIES=0 turns retries off.
		maxRetries = -1
	}
	ecfg.Retry = queue.RetryPolicy{Backoff: cfg.Dialer.RetryBackoff, MaxRetries: maxRetries}
	ecfg.RotateEvery = cfg.Dialer.RotationInterval

	engine, err := orchestrator.NewEngine(ecfg, deps)
	if err != nil {
		return nil, nil, err
	}
	return engine, reporting.NewService(callRecords, costEvents), nil
}
