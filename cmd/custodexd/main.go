package main

import (
	"context"
	"log"
	"math/big"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/common"

	"github.com/custodex/custodex/params"
	"github.com/custodex/custodex/pkg/api"
	"github.com/custodex/custodex/pkg/events"
	"github.com/custodex/custodex/pkg/exchange"
	"github.com/custodex/custodex/pkg/storage"
	"github.com/custodex/custodex/pkg/token"
	"github.com/custodex/custodex/pkg/util"
)

func main() {
	// Load config from .env file and environment variables
	cfg := params.LoadFromEnv("")

	logger, err := util.NewLoggerWithFile(cfg.Logging.File, cfg.Logging.Level)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()
	sugar.Infow("logger_initialized", "log_file", cfg.Logging.File, "log_level", cfg.Logging.Level)

	// ---- Event log + durable journal ----
	elog := events.NewLog(util.RealClock{})

	store, err := storage.NewEventStore(cfg.Storage.EventDBPath)
	if err != nil {
		sugar.Fatalw("event_store_open_failed", "path", cfg.Storage.EventDBPath, "err", err)
	}
	defer store.Close()

	if last, err := store.LastSeq(); err == nil && last > 0 {
		sugar.Infow("event_journal_resumed", "last_seq", last)
	}
	go store.Follow(elog.Subscribe(4096), sugar)

	// ---- Token ledgers ----
	registry := token.NewRegistry(elog)
	for _, g := range cfg.Tokens {
		supply, ok := new(big.Int).SetString(g.Supply, 10)
		if !ok {
			sugar.Fatalw("invalid_genesis_supply", "symbol", g.Symbol, "supply", g.Supply)
		}
		t, err := registry.Deploy(g.Name, g.Symbol, supply, cfg.Deployer)
		if err != nil {
			sugar.Fatalw("token_deploy_failed", "symbol", g.Symbol, "err", err)
		}
		sugar.Infow("token_deployed", "symbol", t.Symbol(), "address", t.Address(), "supply", supply)
	}

	// ---- Exchange ----
	resolver := func(addr common.Address) (exchange.TokenLedger, error) {
		return registry.Get(addr)
	}
	ex := exchange.New(exchange.Config{
		Address:    cfg.ExchangeAddress,
		FeeAccount: cfg.Fees.Account,
		FeePercent: cfg.Fees.Percent,
		Clock:      util.RealClock{},
		Logger:     sugar,
	}, resolver, elog)

	sugar.Infow("exchange_initialized",
		"address", ex.Address(),
		"fee_account", ex.FeeAccount(),
		"fee_percent", ex.FeePercent())

	// ---- API ----
	server := api.NewServer(ex, registry, elog, sugar)
	go func() {
		if err := server.Start(cfg.API.ListenAddr, cfg.API.AllowedOrigins); err != nil {
			sugar.Fatalw("api_server_failed", "err", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	sugar.Info("shutting down")
	elog.Close()
}
