package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"auctionhouse/config"
	"auctionhouse/native/auction"
	"auctionhouse/native/pricing"
	"auctionhouse/native/registry"
	"auctionhouse/native/upgrade"
	"auctionhouse/observability/logging"
	"auctionhouse/rpc"
	"auctionhouse/state"
	"auctionhouse/storage"
)

func main() {
	configPath := flag.String("config", "./config.toml", "path to the TOML configuration file")
	listenAddr := flag.String("listen", "", "listen address override")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	if *listenAddr != "" {
		cfg.ListenAddress = *listenAddr
	}

	logger := logging.Setup("auctiond", cfg.Environment)

	db, err := openDatabase(cfg)
	if err != nil {
		logger.Error("open database", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	manager := state.NewManager(db)

	normalizer := pricing.NewNormalizer(nil, cfg.PriceMaxAge)
	if cfg.BasePriceFeedURL != "" {
		normalizer.SetBaseFeed(pricing.NewHTTPFeed(http.DefaultClient, cfg.BasePriceFeedURL))
	}
	for _, feed := range cfg.TokenFeeds {
		token, err := parseAddress(feed.Token)
		if err != nil {
			logger.Error("parse token feed address", "token", feed.Token, "err", err)
			os.Exit(1)
		}
		if err := normalizer.SetFeed(token, pricing.NewHTTPFeed(http.DefaultClient, feed.URL)); err != nil {
			logger.Error("register token feed", "token", feed.Token, "err", err)
			os.Exit(1)
		}
	}

	engine := auction.NewEngine(manager, normalizer)
	policy, err := auction.ParseSettlementPolicy(cfg.SettlementPolicy)
	if err != nil {
		logger.Error("parse settlement policy", "err", err)
		os.Exit(1)
	}
	engine.SetSettlementPolicy(policy)

	// Bind the configured asset and token collaborators; listings and token
	// bids are only accepted against registered addresses.
	for _, rc := range cfg.AssetRegistries {
		assets := registry.NewAssetRegistry(rc.Name)
		assetsAddr := assets.Address()
		engine.RegisterAssetRegistry(assetsAddr, assets)
		logger.Info("asset registry bound", "name", rc.Name, "addr", hex.EncodeToString(assetsAddr[:]))
	}
	for _, tc := range cfg.Tokens {
		token := registry.NewTokenLedger(tc.Symbol)
		tokenAddr := token.Address()
		engine.RegisterToken(tokenAddr, token)
		logger.Info("token ledger bound", "symbol", tc.Symbol, "addr", hex.EncodeToString(tokenAddr[:]))
	}

	controller := upgrade.NewController(manager)
	if err := controller.Register(engine); err != nil {
		logger.Error("register v1 logic", "err", err)
		os.Exit(1)
	}
	if err := controller.Register(auction.NewEngineV2(engine)); err != nil {
		logger.Error("register v2 logic", "err", err)
		os.Exit(1)
	}

	if err := bootstrap(controller, cfg); err != nil {
		logger.Error("bootstrap storage", "err", err)
		os.Exit(1)
	}
	version, err := controller.ActiveVersion()
	if err != nil {
		logger.Error("resolve active logic", "err", err)
		os.Exit(1)
	}
	// Re-activate the dynamic schedule after a restart.
	if logic, err := controller.Active(); err == nil {
		if v2, ok := logic.(*auction.EngineV2); ok {
			v2.Activate()
		}
	}
	logger.Info("auction ledger ready", "version", version, "backend", cfg.DBBackend)

	server := rpc.NewServer(engine, controller, logger)
	httpServer := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.ListenAddress)
		errCh <- httpServer.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", "err", err)
			os.Exit(1)
		}
	case sig := <-sigCh:
		logger.Info("shutting down", "signal", sig.String())
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(ctx); err != nil {
			logger.Error("shutdown", "err", err)
		}
	}
}

func openDatabase(cfg *config.Config) (storage.Database, error) {
	switch cfg.DBBackend {
	case "memory":
		return storage.NewMemDB(), nil
	case "leveldb":
		return storage.NewLevelDB(filepath.Join(cfg.DataDir, "ledger"))
	case "bolt":
		if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
		return storage.NewBoltDB(filepath.Join(cfg.DataDir, "ledger.db"))
	default:
		return nil, fmt.Errorf("unknown db backend %q", cfg.DBBackend)
	}
}

// bootstrap initialises fresh storage with the v1 logic when an owner is
// configured. Already-bootstrapped storage passes through untouched.
func bootstrap(controller *upgrade.Controller, cfg *config.Config) error {
	if _, err := controller.ActiveVersion(); err == nil {
		return nil
	} else if !errors.Is(err, upgrade.ErrNoActiveLogic) {
		return err
	}
	if cfg.Owner == "" {
		return fmt.Errorf("fresh storage requires Owner in the configuration")
	}
	owner, err := parseAddress(cfg.Owner)
	if err != nil {
		return fmt.Errorf("parse Owner: %w", err)
	}
	payload, err := json.Marshal(map[string]interface{}{
		"feeRecipient": cfg.FeeRecipient,
		"feeBps":       cfg.PlatformFeeBps,
	})
	if err != nil {
		return err
	}
	return controller.Bootstrap(owner, "v1.0", payload)
}

func parseAddress(value string) ([20]byte, error) {
	var addr [20]byte
	trimmed := strings.TrimPrefix(strings.TrimSpace(value), "0x")
	decoded, err := hex.DecodeString(trimmed)
	if err != nil {
		return addr, err
	}
	if len(decoded) != 20 {
		return addr, fmt.Errorf("address has %d bytes, want 20", len(decoded))
	}
	copy(addr[:], decoded)
	return addr, nil
}
