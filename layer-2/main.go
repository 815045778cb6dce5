package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	cmtflags "github.com/cometbft/cometbft/libs/cli/flags"
	cmtlog "github.com/cometbft/cometbft/libs/log"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/postgres"

	"github.com/agritrace/agritracechain/layer-2/auth"
	"github.com/agritrace/agritracechain/layer-2/config"
	"github.com/agritrace/agritracechain/layer-2/identity"
	"github.com/agritrace/agritracechain/layer-2/l1client"
	"github.com/agritrace/agritracechain/layer-2/products"
	"github.com/agritrace/agritracechain/layer-2/repository"
	"github.com/agritrace/agritracechain/layer-2/server"
	"github.com/agritrace/agritracechain/layer-2/srvreg"
	"github.com/agritrace/agritracechain/layer-2/transactions"
)

func main() {
	configFile := flag.String("config", "", "Config file path (optional, environment variables take precedence)")
	flag.Parse()

	// Load configuration
	cfg, err := config.LoadConfig(*configFile)
	if err != nil {
		log.Fatalf("❌ Failed to load configuration: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("❌ Configuration validation failed: %v", err)
	}

	logger := cmtlog.NewTMLogger(cmtlog.NewSyncWriter(os.Stdout))
	logger, err = cmtflags.ParseLogLevel(cfg.LogLevel, logger, "info")
	if err != nil {
		log.Fatalf("❌ Failed to parse log level: %v", err)
	}

	logger.Info("===========================================")
	logger.Info("   AgriTrace API Node - Starting Up")
	logger.Info("===========================================")
	logger.Info("✓ Configuration loaded",
		"node", cfg.NodeID,
		"submitter", cfg.SubmitterID,
		"http_port", cfg.HTTPPort,
		"ledger_mode", cfg.LedgerMode,
		"l1_endpoint", cfg.L1Endpoint,
		"database", cfg.DatabaseHost+":"+cfg.DatabasePort+"/"+cfg.DatabaseName,
	)

	startupCtx, cancelStartup := context.WithTimeout(context.Background(), time.Minute)
	defer cancelStartup()

	// Initialize repository
	logger.Info("📦 Initializing database...")
	repo := repository.NewRepository(repository.Options{
		Dialector:      postgres.Open(cfg.GetDSN()),
		MaxOpenConns:   cfg.DBMaxOpenConns,
		MaxIdleConns:   cfg.DBMaxIdleConns,
		ConnectTries:   cfg.DBConnectTries,
		ConnectBackoff: cfg.DBConnectBackoff,
		Seed:           true,
		Logger:         logger,
	})
	if err := repo.ConnectDB(startupCtx); err != nil {
		// the connection is retried lazily on the first request
		logger.Error("⚠️  Database not reachable yet", "err", err)
	} else {
		logger.Info("✓ Database connected")
	}
	defer repo.Close()

	// Initialize ledger client
	logger.Info("🔗 Initializing ledger client...")
	var ledger l1client.LedgerClient
	switch cfg.LedgerMode {
	case config.LedgerModeMemory:
		ledger = l1client.NewMemoryClient()
		logger.Info("✓ Using in-memory ledger")
	default:
		ledger = l1client.NewL1Client(cfg.L1Endpoint, cfg.NodeID, cfg.LedgerTimeout)
	}
	if err := ledger.HealthCheck(startupCtx); err != nil {
		logger.Error("⚠️  Ledger health check failed, writes will fail until it is available", "err", err)
	} else {
		logger.Info("✓ Ledger connection verified")
	}

	// Login nonces
	var nonces auth.NonceStore = auth.NewMemoryNonceStore()
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer client.Close()
		if err := client.Ping(startupCtx).Err(); err != nil {
			log.Fatalf("❌ Failed to reach redis at %s: %v", cfg.RedisAddr, err)
		}
		nonces = auth.NewRedisNonceStore(client, "agritrace:nonce:")
		logger.Info("✓ Using redis nonce store", "addr", cfg.RedisAddr)
	}

	tokens := auth.NewJWTManager(auth.JWTConfig{
		SecretKey:           cfg.JWTSecret,
		AccessTokenDuration: cfg.JWTTTL,
		Issuer:              cfg.JWTIssuer,
	})
	authSvc, err := auth.NewService(nonces, tokens, cfg.NonceTTL, logger)
	if err != nil {
		log.Fatalf("❌ Failed to create auth service: %v", err)
	}
	txSvc, err := transactions.NewService(repo, ledger, cfg.SubmitterID, logger)
	if err != nil {
		log.Fatalf("❌ Failed to create transaction service: %v", err)
	}

	// Initialize service registry
	serviceRegistry := srvreg.NewServiceRegistry(srvreg.Services{
		Products:     products.NewService(repo, ledger, cfg.SubmitterID, logger),
		Identities:   identity.NewService(repo),
		Auth:         authSvc,
		Transactions: txSvc,
		Ledger:       ledger,
	}, cfg.NodeID, cfg.LedgerMode, logger)
	serviceRegistry.RegisterDefaultServices()

	// Initialize web server
	webServer := server.NewWebServer(cfg.HTTPPort, serviceRegistry, cfg.NodeID, cfg.RequestTimeout, logger)
	if err := webServer.Start(); err != nil {
		log.Fatalf("❌ Failed to start web server: %v", err)
	}

	logger.Info("AgriTrace API Node ready", "listen", "http://localhost:"+cfg.HTTPPort)

	// Wait for interrupt signal to gracefully shut down
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("🛑 Shutdown signal received, gracefully shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := webServer.Shutdown(ctx); err != nil {
		logger.Error("❌ Error during server shutdown", "err", err)
	}

	logger.Info("✓ AgriTrace API Node stopped")
}
