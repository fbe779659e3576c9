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

	"paycall/internal/audit"
	"paycall/internal/auth"
	"paycall/internal/calls"
	"paycall/internal/config"
	"paycall/internal/history"
	"paycall/internal/httpapi"
	"paycall/internal/pricing"
	"paycall/internal/telephony"
	"paycall/internal/wallet"
	"paycall/migrations"
	"paycall/pkg/logger"
	"paycall/pkg/utils"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"
)

// stores are the persistence backends; Postgres when configured, memory otherwise.
type stores struct {
	db      *sql.DB
	rdb     *redis.Client
	ledger  wallet.Ledger
	history history.Repository
	audit   audit.Repository
}

func (s stores) close() {
	if s.rdb != nil {
		_ = s.rdb.Close()
	}
	if s.db != nil {
		_ = s.db.Close()
	}
}

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

	rates, err := loadRates(cfg.Rates)
	if err != nil {
		log.Error("rate table load failed", "err", err, "file", cfg.Rates.File)
		os.Exit(1)
	}

	st, err := openStores(rootCtx, cfg, log)
	if err != nil {
		log.Error("storage init failed", "err", err)
		os.Exit(1)
	}
	defer st.close()

	issuer, err := telephony.NewCapabilityIssuer(telephony.CapabilityConfig{
		AccountSID:     cfg.Telephony.AccountSID,
		APIKey:         cfg.Telephony.APIKey,
		APISecret:      cfg.Telephony.APISecret,
		ApplicationSID: cfg.Telephony.ApplicationSID,
		TTL:            cfg.Telephony.TokenTTL,
	})
	if err != nil {
		log.Error("telephony init failed", "err", err)
		os.Exit(1)
	}
	bridge := telephony.NewBridge(issuer, log.With("component", "softphone"))

	historySvc := history.NewService(st.history)
	auditSvc := audit.NewService(st.audit)

	opts := []calls.ManagerOption{
		calls.WithMaxConcurrent(cfg.Calls.MaxConcurrent),
		calls.WithNotifier(httpapi.SoftphoneNotifier{Bridge: bridge, Log: log}),
	}
	if st.rdb != nil {
		opts = append(opts, calls.WithRedisCap(st.rdb))
	}
	manager, err := calls.NewManager(calls.Deps{
		Adapter:       bridge,
		Ledger:        st.ledger,
		History:       historySvc,
		Rates:         rates,
		Audit:         auditSvc,
		Logger:        log.With("component", "calls"),
		SetupTimeout:  cfg.Calls.SetupTimeout,
		TickInterval:  cfg.Calls.TickInterval,
		SettleTimeout: cfg.Calls.SettleTimeout,
	}, opts...)
	if err != nil {
		log.Error("call manager init failed", "err", err)
		os.Exit(1)
	}
	// A closed page takes the same path as the hangup button.
	bridge.OnDisconnect(manager.HangupPrincipal)

	// Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	registerRoutes(r, routeDeps{
		handlers: httpapi.Handlers{
			Calls:         manager,
			Ledger:        st.ledger,
			History:       historySvc,
			Rates:         rates,
			Audit:         auditSvc,
			Bridge:        bridge,
			PaymentSecret: cfg.Payments.WebhookSecret,
			ResultWait:    cfg.Calls.SettleTimeout,
		},
		voice: telephony.VoiceWebhookHandler{
			Sessions:      manager,
			AuthToken:     cfg.Telephony.AuthToken,
			PublicBaseURL: cfg.App.PublicBaseURL,
			CallerID:      cfg.Telephony.CallerID,
		},
		authMW:        auth.RequireAccessToken(authManager),
		requireCredit: cfg.Calls.RequireCredit,
		ready: func(ctx context.Context) error {
			if st.db == nil {
				return nil
			}
			return utils.HealthCheck(ctx, st.db, 2*time.Second)
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
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env, "rates", len(rates.Entries()))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}
	// Live calls are hung up and settled before the stores close.
	if err := manager.Shutdown(shutdownCtx); err != nil {
		log.Error("call settlement on shutdown incomplete", "err", err)
	}
}

func loadRates(cfg config.RatesConfig) (*pricing.RateTable, error) {
	if cfg.File != "" {
		return pricing.LoadRateFile(cfg.File, cfg.Default)
	}
	return pricing.NewRateTable(cfg.Default, pricing.DefaultRates())
}

func openStores(ctx context.Context, cfg config.Config, log *slog.Logger) (stores, error) {
	var st stores

	if cfg.DB.Enabled() {
		db, err := utils.OpenPostgres(ctx, cfg.PostgresDSN(), utils.PostgresPoolConfig{})
		if err != nil {
			return stores{}, err
		}
		applied, err := utils.ApplyMigrations(ctx, db, migrations.FS)
		if err != nil {
			_ = db.Close()
			return stores{}, err
		}
		if len(applied) > 0 {
			log.Info("migrations applied", "names", applied)
		}
		st.db = db
		st.ledger = wallet.NewService(db)
		st.history = history.NewPostgresRepo(db)
		st.audit = audit.NewPostgresRepo(db)
	} else {
		log.Warn("postgres not configured; balances and history are in memory")
		st.ledger = wallet.NewMemoryLedger()
		st.history = history.NewMemoryRepo()
		st.audit = audit.NewMemoryRepo()
	}

	if cfg.Redis.Enabled() {
		rdb, err := utils.OpenRedis(ctx, utils.RedisConfig{Addr: cfg.RedisAddr()})
		if err != nil {
			st.close()
			return stores{}, err
		}
		st.rdb = rdb
	}
	return st, nil
}
