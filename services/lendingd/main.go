package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"gorm.io/gorm"

	"riskledger/config"
	"riskledger/core"
	"riskledger/core/events"
	"riskledger/core/pricing"
	"riskledger/integrations/audit"
	"riskledger/integrations/webhooks"
	"riskledger/observability/logging"
	telemetry "riskledger/observability/otel"
	lendingserver "riskledger/services/lending/server"
	daemoncfg "riskledger/services/lendingd/config"
	"riskledger/storage"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "services/lendingd/config.yaml", "path to lendingd config")
	flag.Parse()

	cfg, err := daemoncfg.Load(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	env := strings.TrimSpace(os.Getenv("RISKLEDGER_ENV"))
	logger, logCloser := logging.SetupWithFile("lendingd", env, logging.FileConfig{
		Path:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		Compress:   cfg.Log.Compress,
	})
	defer logCloser.Close()

	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetryConfig(env))
	if err != nil {
		log.Fatalf("init telemetry: %v", err)
	}
	defer func() {
		if shutdownTelemetry != nil {
			_ = shutdownTelemetry(context.Background())
		}
	}()

	if err := run(cfg, env, logger); err != nil {
		log.Fatalf("lendingd: %v", err)
	}
}

func telemetryConfig(env string) telemetry.Config {
	insecure := true
	if value := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_INSECURE")); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			insecure = parsed
		}
	}
	endpoint := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"))
	return telemetry.Config{
		ServiceName: "lendingd",
		Environment: env,
		Endpoint:    endpoint,
		Insecure:    insecure,
		Headers:     telemetry.ParseHeaders(os.Getenv("OTEL_EXPORTER_OTLP_HEADERS")),
		Metrics:     endpoint != "",
		Traces:      endpoint != "",
	}
}

func run(cfg daemoncfg.Config, env string, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	genesis := config.DefaultGenesis()
	if cfg.GenesisPath != "" {
		loaded, err := config.LoadGenesis(cfg.GenesisPath)
		if err != nil {
			return err
		}
		genesis = loaded
	}
	oracle := pricing.NewStaticOracle(genesis.OracleMaxAge())
	if err := genesis.ApplyPrices(oracle, time.Now()); err != nil {
		return err
	}

	auditDB, err := openAuditDB(cfg.Audit, cfg.DataDir)
	if err != nil {
		return err
	}
	sink, err := audit.NewSink(ctx, auditDB)
	if err != nil {
		return fmt.Errorf("audit sink: %w", err)
	}
	sink.SetLogger(logger)
	emitters := events.Multi{sink}

	if cfg.Webhook.Enabled() {
		opts := []webhooks.Option{webhooks.WithLogger(logger)}
		if len(cfg.Webhook.Topics) > 0 {
			opts = append(opts, webhooks.WithTopics(cfg.Webhook.Topics...))
		}
		dispatcher, err := webhooks.NewDispatcher(cfg.Webhook.Endpoint, []byte(cfg.Webhook.Secret), opts...)
		if err != nil {
			return fmt.Errorf("webhooks: %w", err)
		}
		defer dispatcher.Close()
		emitters = append(emitters, dispatcher)
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	db, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, "state"))
	if err != nil {
		return fmt.Errorf("open state db: %w", err)
	}
	ledger, err := core.NewLedger(db, oracle, core.WithEmitter(emitters), core.WithLogger(logger))
	if err != nil {
		db.Close()
		return err
	}
	defer func() {
		if err := ledger.Close(); err != nil {
			logger.Error("close ledger", "error", err)
		}
	}()

	initialised, err := genesis.Apply(ctx, ledger)
	if err != nil {
		return fmt.Errorf("apply genesis: %w", err)
	}
	if initialised {
		logger.Info("ledger initialised from genesis", "genesis", cfg.GenesisPath)
	}

	srv, err := lendingserver.New(ledger, lendingserver.Config{
		Auth: lendingserver.AuthConfig{
			Secret:    []byte(cfg.Auth.JWTSecret),
			Issuer:    cfg.Auth.Issuer,
			Audience:  cfg.Auth.Audience,
			ClockSkew: cfg.Auth.ClockSkew,
		},
		RateLimit: rateLimit(cfg.RateLimit),
		Logger:    logger,
	})
	if err != nil {
		return err
	}
	tlsCfg, err := lendingserver.ServerTLSConfig(lendingserver.TLSOptions{
		CertFile:      cfg.TLS.CertPath,
		KeyFile:       cfg.TLS.KeyPath,
		ClientCAFile:  cfg.TLS.ClientCAPath,
		AllowInsecure: cfg.TLS.AllowInsecure,
	})
	if err != nil {
		return fmt.Errorf("configure tls: %w", err)
	}

	listener, err := net.Listen("tcp", cfg.ListenAddress)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", cfg.ListenAddress, err)
	}
	if tlsCfg == nil {
		tcpAddr, _ := listener.Addr().(*net.TCPAddr)
		loopback := tcpAddr != nil && tcpAddr.IP != nil && tcpAddr.IP.IsLoopback()
		if !strings.EqualFold(env, "dev") && !loopback {
			listener.Close()
			return fmt.Errorf("plaintext lendingd mode is restricted to loopback listeners or dev environment")
		}
	}

	httpServer := &http.Server{
		Handler:           srv.Handler(),
		TLSConfig:         tlsCfg,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go reloadPricesOnHangup(ctx, cfg.GenesisPath, oracle, logger)

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("lendingd listening", "address", listener.Addr().String(), "tls", tlsCfg != nil)
		if tlsCfg != nil {
			serverErr <- httpServer.ServeTLS(listener, "", "")
			return
		}
		serverErr <- httpServer.Serve(listener)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("forcing server stop", "error", err)
			_ = httpServer.Close()
		}
		return nil
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve http: %w", err)
		}
		return nil
	}
}

func rateLimit(cfg daemoncfg.RateLimitConfig) lendingserver.RateLimit {
	if cfg.Disabled {
		return lendingserver.RateLimit{}
	}
	return lendingserver.RateLimit{PerMinute: cfg.PerMinute, Burst: cfg.Burst}
}

func openAuditDB(cfg daemoncfg.AuditConfig, dataDir string) (*gorm.DB, error) {
	dsn := cfg.DSN
	if cfg.Driver == "sqlite" && dsn == "" {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
		dsn = filepath.Join(dataDir, "audit.db")
	}
	return audit.Open(cfg.Driver, dsn)
}

// reloadPricesOnHangup republishes genesis prices on SIGHUP so operators can
// refresh quotes without restarting.
func reloadPricesOnHangup(ctx context.Context, path string, oracle *pricing.StaticOracle, logger *slog.Logger) {
	if path == "" {
		return
	}
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			genesis, err := config.LoadGenesis(path)
			if err != nil {
				logger.Error("reload prices", "error", err)
				continue
			}
			if err := genesis.ApplyPrices(oracle, time.Now()); err != nil {
				logger.Error("reload prices", "error", err)
				continue
			}
			logger.Info("prices reloaded", "count", len(genesis.Prices))
		}
	}
}
