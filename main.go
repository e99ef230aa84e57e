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

	"github.com/ahmadzakiakmal/escrow-ledger/app"
	"github.com/ahmadzakiakmal/escrow-ledger/repository"
	"github.com/ahmadzakiakmal/escrow-ledger/server"
	service_registry "github.com/ahmadzakiakmal/escrow-ledger/srvreg"
	cfg "github.com/cometbft/cometbft/config"
	cmtflags "github.com/cometbft/cometbft/libs/cli/flags"
	cmtlog "github.com/cometbft/cometbft/libs/log"
	nm "github.com/cometbft/cometbft/node"
	"github.com/cometbft/cometbft/p2p"
	"github.com/cometbft/cometbft/privval"
	"github.com/cometbft/cometbft/proxy"
	cmtrpc "github.com/cometbft/cometbft/rpc/client/local"
	"github.com/dgraph-io/badger/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/viper"
)

var (
	homeDir      string
	httpPort     string
	postgresHost string
	logAllTxs    bool
)

func init() {
	flag.StringVar(&homeDir, "cmt-home", "./node-config/escrow-node", "Path to the CometBFT config directory")
	flag.StringVar(&httpPort, "http-port", "5000", "HTTP web server port")
	flag.StringVar(&postgresHost, "postgres-host", "", "Catalogue DB host address, empty disables the projection")
	flag.BoolVar(&logAllTxs, "log-all-txs", false, "Log every executed transaction, not only reverted ones")
}

// loadAppOptions reads ESCROW_* environment overrides on top of the flags
func loadAppOptions() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix("escrow")
	v.AutomaticEnv()

	dsn := ""
	if postgresHost != "" {
		dsn = fmt.Sprintf("postgresql://postgres:postgrespassword@%s/postgres", postgresHost)
	}
	v.SetDefault("postgres_dsn", dsn)
	v.SetDefault("postgres_attempts", 5)
	v.SetDefault("log_all_txs", logAllTxs)
	v.SetDefault("index_timeout", 5*time.Second)
	v.SetDefault("tx_timeout", 30*time.Second)
	return v
}

func main() {
	// Load Config
	flag.Parse()

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
	options := loadAppOptions()

	logger := cmtlog.NewTMLogger(cmtlog.NewSyncWriter(os.Stdout))
	logger, err := cmtflags.ParseLogLevel(config.LogLevel, logger, cfg.DefaultLogLevel)
	if err != nil {
		log.Fatalf("failed to parse log level: %v", err)
	}

	// Initialize Badger DB
	badgerPath := filepath.Join(homeDir, "badger")
	db, err := badger.Open(badger.DefaultOptions(badgerPath).WithLogger(nil))
	if err != nil {
		log.Fatalf("Opening database: %v", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Printf("Closing database: %v", err)
		}
	}()

	// Metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := app.NewMetrics(registry)

	// Create ABCI Application
	appConfig := &app.AppConfig{
		NodeID:       filepath.Base(homeDir), // Use directory name as node ID
		LogAllTxs:    options.GetBool("log_all_txs"),
		IndexTimeout: options.GetDuration("index_timeout"),
	}
	ledgerApp, err := app.NewABCIApplication(db, appConfig, logger.With("module", "escrow"), metrics)
	if err != nil {
		log.Fatalf("Creating application: %v", err)
	}

	// Catalogue projection
	repo := repository.NewRepository(logger.With("module", "catalogue"))
	var catalogue service_registry.Catalogue
	if dsn := options.GetString("postgres_dsn"); dsn != "" {
		if err := repo.ConnectDB(dsn, options.GetInt("postgres_attempts")); err != nil {
			log.Fatalf("Connecting catalogue database: %v", err)
		}
		if err := repo.Migrate(); err != nil {
			log.Fatalf("Migrating catalogue database: %v", err)
		}
		ledgerApp.SetIndexer(repo)
		if err := ledgerApp.CatchUpIndex(context.Background()); err != nil {
			logger.Error("Catalogue is behind the chain", "err", err)
		}
		catalogue = repo
	} else {
		logger.Info("Catalogue projection disabled")
	}

	// Private Validator
	pv := privval.LoadFilePV(
		config.PrivValidatorKeyFile(),
		config.PrivValidatorStateFile(),
	)

	// P2P network identity
	nodeKey, err := p2p.LoadNodeKey(config.NodeKeyFile())
	if err != nil {
		log.Fatalf("failed to load node's key: %v", err)
	}

	// Initialize CometBFT node
	node, err := nm.NewNode(
		context.Background(),
		config,
		pv,
		nodeKey,
		proxy.NewLocalClientCreator(ledgerApp),
		nm.DefaultGenesisDocProviderFunc(config),
		cfg.DefaultDBProvider,
		nm.DefaultMetricsProvider(config.Instrumentation),
		logger,
	)
	if err != nil {
		log.Fatalf("Creating node: %v", err)
	}

	// Pass Node ID to app
	ledgerApp.SetNodeID(string(node.NodeInfo().ID()))

	// Instantiate rpc client from node
	rpcClient := cmtrpc.New(node)
	repo.SetupRpcClient(rpcClient)

	// Start CometBFT node
	if err := node.Start(); err != nil {
		log.Fatalf("Starting node: %v", err)
	}
	defer func() {
		node.Stop()
		node.Wait()
	}()

	// Initialize Service Registry
	serviceRegistry := service_registry.NewServiceRegistry(ledgerApp, repo, catalogue, logger.With("module", "srvreg"), options.GetDuration("tx_timeout"))
	serviceRegistry.RegisterDefaultServices()

	// Start Web Server
	webserver := server.NewWebServer(httpPort, logger.With("module", "web"), node, rpcClient, serviceRegistry, registry)
	if err := webserver.Start(); err != nil {
		log.Fatalf("Starting HTTP server: %v", err)
	}

	// Wait for interrupt signal to gracefully shut down the server
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c

	// Create deadline to wait for server shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	// Shutdown the web server
	if err := webserver.Shutdown(ctx); err != nil {
		logger.Error("Shutting down HTTP web server", "err", err)
	}
	logger.Info("HTTP web server gracefully stopped")
}
