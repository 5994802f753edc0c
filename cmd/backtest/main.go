package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/paperquant/trading-agent/internal/adapters"
	"github.com/paperquant/trading-agent/internal/backtest"
	"github.com/paperquant/trading-agent/internal/decision"
	"github.com/paperquant/trading-agent/internal/observ"
	"github.com/paperquant/trading-agent/internal/signals"
)

func main() {
	symbol := flag.String("symbol", "", "symbol to replay (required)")
	days := flag.Int("days", 90, "trading days of history")
	fullControl := flag.Bool("full-control", false, "bypass safety filters")
	logLevel := flag.String("log-level", "warn", "log level")
	flag.Parse()

	observ.SetupLogging(*logLevel, true)
	if *symbol == "" {
		fmt.Fprintln(os.Stderr, "usage: backtest -symbol AAPL [-days 90] [-full-control]")
		os.Exit(2)
	}

	// Price signals only; text scorers stay neutral so replays need no API keys.
	engine := decision.NewEngine(
		signals.NewMomentum(),
		signals.NewMeanReversion(),
		signals.NewTechnical(),
		nil, nil, nil,
	)
	sim := backtest.NewSimulator(engine, adapters.NewYahoo(0), nil, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	res, err := sim.Run(ctx, adapters.NormalizeSymbol(*symbol), *days, *fullControl)
	if err != nil {
		observ.Logger.Fatal().Err(err).Msg("backtest failed")
	}

	out, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		observ.Logger.Fatal().Err(err).Msg("failed to encode result")
	}
	fmt.Println(string(out))
}
