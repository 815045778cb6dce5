package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	cfg "github.com/cometbft/cometbft/config"
	cmtflags "github.com/cometbft/cometbft/libs/cli/flags"
	cmtlog "github.com/cometbft/cometbft/libs/log"
	nm "github.com/cometbft/cometbft/node"
	"github.com/cometbft/cometbft/p2p"
	"github.com/cometbft/cometbft/privval"
	"github.com/cometbft/cometbft/proxy"
	cmtrpc "github.com/cometbft/cometbft/rpc/client/local"
	"github.com/dgraph-io/badger/v4"
	"github.com/spf13/viper"

	"github.com/agritrace/agritracechain/layer-1/app"
	"github.com/agritrace/agritracechain/layer-1/repository"
	"github.com/agritrace/agritracechain/layer-1/server"
	"github.com/agritrace/agritracechain/layer-1/srvreg"
)

var (
	homeDir      string
	httpPort     string
	postgresHost string
)

func init() {
	flag.StringVar(&homeDir, "cmt-home", "./node-config/l1-node", "Path to the CometBFT config directory")
	flag.StringVar(&httpPort, "http-port", "5000", "HTTP web server port")
	flag.StringVar(&postgresHost, "postgres-host", "l1-postgres0:5432", "DB host address")
}

func main() {
	flag.Parse()

	log.Println("=== Starting AgriTrace Ledger - Byzantine Fault Tolerant Consensus Node ===")
	log.Printf("Home Directory: %s", homeDir)
	log.Printf("HTTP Port: %s", httpPort)
	log.Printf("PostgreSQL Host: %s", postgresHost)

	// Load CometBFT configuration
	if homeDir == "" {
		homeDir = os.ExpandEnv("$HOME/.cometbft")
	}
	config := cfg.DefaultConfig()
	config.SetRoot(homeDir)
	viper.SetConfigFile(fmt.Sprintf("%s/%s", homeDir, "config/config.toml"))
	if err := viper.ReadInConfig(); err != nil {
		log.Fatalf("Reading config: %v", err)
	}
	if err := viper.Unmarshal(config); err != nil {
		log.Fatalf("Decoding config: %v", err)
	}
	if err := config.ValidateBasic(); err != nil {
		log.Fatalf("Invalid configuration data: %v", err)
	}

	// Create logger
	logger := cmtlog.NewTMLogger(cmtlog.NewSyncWriter(os.Stdout))
	logger, err := cmtflags.ParseLogLevel(config.LogLevel, logger, cfg.DefaultLogLevel)
	if err != nil {
		log.Fatalf("Failed to parse log level: %v", err)
	}

	// Connect to PostgreSQL Database
	dsn := fmt.Sprintf("postgresql://postgres:postgrespassword@%s/postgres", postgresHost)
	repo := repository.NewRepository(logger)
	logger.Info("Connecting to PostgreSQL", "host", postgresHost)
	if err := repo.ConnectDB(dsn); err != nil {
		log.Fatalf("Connecting to PostgreSQL: %v", err)
	}

	// Initialize Badger DB for blockchain storage
	badgerPath := filepath.Join(homeDir, "badger")
	db, err := badger.Open(badger.DefaultOptions(badgerPath))
	if err != nil {
		log.Fatalf("Opening badger database: %v", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Printf("Closing badger database: %v", err)
		}
	}()

	serviceRegistry := srvreg.NewServiceRegistry(repo, logger)
	serviceRegistry.RegisterDefaultServices()

	// Create ABCI Application
	appConfig := &app.AppConfig{
		NodeID:    filepath.Base(homeDir),
		LogAllTxs: true,
	}
	abciApp := app.NewABCIApplication(db, appConfig, logger)

	// Load private validator
	pv := privval.LoadFilePV(
		config.PrivValidatorKeyFile(),
		config.PrivValidatorStateFile(),
	)

	// Load node key for P2P networking
	nodeKey, err := p2p.LoadNodeKey(config.NodeKeyFile())
	if err != nil {
		log.Fatalf("Failed to load node's key: %v", err)
	}

	// Initialize CometBFT node
	node, err := nm.NewNode(
		context.Background(),
		config,
		pv,
		nodeKey,
		proxy.NewLocalClientCreator(abciApp),
		nm.DefaultGenesisDocProviderFunc(config),
		cfg.DefaultDBProvider,
		nm.DefaultMetricsProvider(config.Instrumentation),
		logger,
	)
	if err != nil {
		log.Fatalf("Creating CometBFT node: %v", err)
	}

	abciApp.SetNodeID(string(node.NodeInfo().ID()))
	logger.Info("L1 Node initialized", "node_id", string(node.NodeInfo().ID()))

	// Records are committed through the local node
	repo.SetupRpcClient(cmtrpc.New(node))

	logger.Info("Starting CometBFT node...")
	if err := node.Start(); err != nil {
		log.Fatalf("Starting CometBFT node: %v", err)
	}
	defer func() {
		logger.Info("Stopping CometBFT node...")
		if err := node.Stop(); err != nil {
			logger.Error("Error stopping CometBFT node", "err", err)
		}
		node.Wait()
	}()

	logger.Info("Starting L1 web server...")
	webserver := server.NewWebServer(httpPort, logger, node, serviceRegistry)
	if err := webserver.Start(); err != nil {
		log.Fatalf("Starting HTTP server: %v", err)
	}

	logger.Info("=== L1 Node Successfully Started ===")
	logger.Info("Layer 1 HTTP API", "url", fmt.Sprintf("http://localhost:%s", httpPort))
	logger.Info("CometBFT RPC", "url", fmt.Sprintf("http://localhost:%s", server.ExtractPortFromAddress(config.RPC.ListenAddress)))
	logger.Info("Node ID", "id", string(node.NodeInfo().ID()))

	logger.Info("Available L1 Endpoints:")
	logger.Info("  POST /l1/commit - Commit a trace record")
	logger.Info("  GET  /l1/transaction/{hash} - Get a record by hash")
	logger.Info("  GET  /l1/subjects/{id}/records - Get the records of a product")
	logger.Info("  GET  /l1/status - Get L1 status")
	logger.Info("  GET  /l1/submitters - Get registered API nodes")
	logger.Info("  GET  /debug - Debug information")

	// Wait for interrupt signal to gracefully shut down
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c

	logger.Info("Received shutdown signal, shutting down gracefully...")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := webserver.Shutdown(ctx); err != nil {
		logger.Error("Error shutting down HTTP web server", "err", err)
	}
	logger.Info("L1 Node gracefully stopped")
}
