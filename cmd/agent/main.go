package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/paperquant/trading-agent/internal/adapters"
	"github.com/paperquant/trading-agent/internal/agent"
	"github.com/paperquant/trading-agent/internal/alerts"
	"github.com/paperquant/trading-agent/internal/api"
	"github.com/paperquant/trading-agent/internal/backtest"
	"github.com/paperquant/trading-agent/internal/config"
	"github.com/paperquant/trading-agent/internal/decision"
	"github.com/paperquant/trading-agent/internal/ledger"
	"github.com/paperquant/trading-agent/internal/observ"
	"github.com/paperquant/trading-agent/internal/signals"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		observ.SetupLogging("info", true)
		observ.Logger.Fatal().Err(err).Str("path", *configPath).Msg("failed to load config")
	}
	observ.SetupLogging(cfg.Logging.Level, cfg.Logging.Console)

	store, err := ledger.Open(cfg.Storage.DBPath, ledger.DefaultInitialCash)
	if err != nil {
		observ.Logger.Fatal().Err(err).Str("path", cfg.Storage.DBPath).Msg("failed to open ledger")
	}
	defer store.Close()

	data := adapters.NewYahoo(cfg.Providers.QuoteRateLimit)
	news := adapters.NewNewsClient(cfg.Providers.NewsBaseURL, os.Getenv("NEWS_API_KEY"), cfg.Providers.RequestTimeout)
	macroKey := os.Getenv("MACRO_API_KEY")
	if macroKey == "" {
		macroKey = os.Getenv("ALPHA_VANTAGE_API_KEY")
	}
	macroFeed := adapters.NewMacroClient(cfg.Providers.MacroBaseURL, macroKey, cfg.Providers.RequestTimeout)

	llm := signals.NewLLMClient(cfg.Providers.LLMBaseURL, cfg.Providers.LLMModel,
		os.Getenv("OPEN_ROUTER_API_KEY"), cfg.Providers.RequestTimeout)

	engine := decision.NewEngine(
		signals.NewMomentum(),
		signals.NewMeanReversion(),
		signals.NewTechnical(),
		signals.NewSentiment(llm),
		signals.NewMacro(llm),
		func(symbol, step, message string, data map[string]any) {
			if err := store.AddReasoning(symbol, step, message, data); err != nil {
				observ.Logger.Warn().Err(err).Str("symbol", symbol).Msg("failed to record reasoning")
			}
		},
	)

	runner := agent.NewRunner(store, engine, data, news, macroFeed,
		adapters.NewVolatilityRanker(data), alerts.NewTelegramFromEnv(), agent.Config{
			HistoryDays:     cfg.Agent.HistoryDays,
			RiskProfile:     cfg.Agent.RiskProfile,
			NormalListPath:  cfg.Agent.NormalListPath,
			VolatileCanPath: cfg.Agent.VolatileCanPath,
			VolatileTopN:    cfg.Agent.VolatileTopN,
		})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	go runner.Run(ctx, cfg.Agent.CycleInterval)

	srv := api.New(store, runner, backtest.NewSimulator(engine, data, news, macroFeed), data)
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(cfg.Server.Port) }()

	select {
	case <-ctx.Done():
		observ.Logger.Info().Msg("shutting down")
	case err := <-errCh:
		observ.Logger.Fatal().Err(err).Msg("api server failed")
	}
}
