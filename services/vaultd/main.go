package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"

	ledgerconfig "github.com/minanew12/eurodollar-protocol-sub001/config"
	"github.com/minanew12/eurodollar-protocol-sub001/core"
	"github.com/minanew12/eurodollar-protocol-sub001/core/genesis"
	"github.com/minanew12/eurodollar-protocol-sub001/observability/logging"
	telemetry "github.com/minanew12/eurodollar-protocol-sub001/observability/otel"
	"github.com/minanew12/eurodollar-protocol-sub001/services/vaultd/adapters"
	"github.com/minanew12/eurodollar-protocol-sub001/services/vaultd/config"
	"github.com/minanew12/eurodollar-protocol-sub001/services/vaultd/oracle"
	"github.com/minanew12/eurodollar-protocol-sub001/services/vaultd/server"
	"github.com/minanew12/eurodollar-protocol-sub001/services/vaultd/storage"
	ledgerstore "github.com/minanew12/eurodollar-protocol-sub001/storage"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "services/vaultd/config.yaml", "path to vaultd configuration file")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("vaultd: load config: %v", err)
	}

	env := strings.TrimSpace(os.Getenv("VAULT_ENV"))
	logOpts := logging.Options{Level: logging.ParseLevel(cfg.Logging.Level)}
	if cfg.Logging.File != "" {
		logOpts.File = &logging.FileSink{
			Path:       cfg.Logging.File,
			MaxSizeMB:  cfg.Logging.MaxSizeMB,
			MaxBackups: cfg.Logging.MaxBackups,
			MaxAgeDays: cfg.Logging.MaxAgeDays,
			Compress:   true,
		}
	}
	logger := logging.SetupWithOptions("vaultd", env, logOpts)

	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.FromEnv("vaultd", env))
	if err != nil {
		log.Fatalf("vaultd: init telemetry: %v", err)
	}
	defer func() {
		if shutdownTelemetry != nil {
			_ = shutdownTelemetry(context.Background())
		}
	}()

	ledgerCfg, err := ledgerconfig.Load(cfg.LedgerConfig)
	if err != nil {
		log.Fatalf("vaultd: load ledger config: %v", err)
	}
	spec, err := genesis.FromConfig(ledgerCfg, time.Now())
	if err != nil {
		log.Fatalf("vaultd: genesis: %v", err)
	}

	db, err := ledgerstore.NewLevelDB(cfg.StateDir)
	if err != nil {
		log.Fatalf("vaultd: open state: %v", err)
	}
	defer db.Close()

	ledger, err := core.NewLedger(db, spec, core.WithLogger(logger))
	if err != nil {
		log.Fatalf("vaultd: ledger: %v", err)
	}

	dsn, err := storage.FileDSN(cfg.AuditDatabase)
	if err != nil {
		log.Fatalf("vaultd: resolve audit DSN: %v", err)
	}
	store, err := storage.Open(dsn)
	if err != nil {
		log.Fatalf("vaultd: open audit storage: %v", err)
	}
	defer store.Close()

	creds := make([]server.Credential, 0, len(cfg.Auth.Tokens))
	for _, tok := range cfg.Auth.Tokens {
		creds = append(creds, server.Credential{Name: tok.Name, Token: tok.Token, Account: common.HexToAddress(tok.Account)})
	}
	auth, err := server.NewAuthenticator(creds, cfg.Auth.AnonymousReads)
	if err != nil {
		log.Fatalf("vaultd: authenticator: %v", err)
	}

	srv, err := server.New(server.Config{
		ListenAddress: cfg.ListenAddress,
		CertFile:      cfg.TLS.CertPath,
		KeyFile:       cfg.TLS.KeyPath,
		RateLimit: server.RateLimit{
			RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
			Burst:             cfg.RateLimit.Burst,
		},
	}, ledger, store, auth, logger)
	if err != nil {
		log.Fatalf("vaultd: server: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Oracle.Enabled {
		sources, err := adapters.NewRegistry().BuildAll(cfg.Sources)
		if err != nil {
			log.Fatalf("vaultd: build sources: %v", err)
		}
		feeder, err := oracle.New(store, ledger, common.HexToAddress(cfg.Oracle.Account), sources, oracle.Settings{
			Base:     cfg.Oracle.Base,
			Quote:    cfg.Oracle.Quote,
			Interval: cfg.Oracle.Interval.Duration,
			MaxAge:   cfg.Oracle.MaxAge.Duration,
			MinFeeds: cfg.Oracle.MinFeeds,
		}, oracle.WithLogger(logger))
		if err != nil {
			log.Fatalf("vaultd: feeder: %v", err)
		}
		go func() {
			if err := feeder.Run(ctx); err != nil {
				logger.Error("feeder stopped", "error", err)
			}
		}()
	}

	if err := srv.Run(ctx); err != nil {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
	logger.Info("vaultd stopped")
}
