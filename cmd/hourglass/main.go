// Command hourglass runs one backtest or live session of the exchange
// engine end to end: load config, build an account and a data source, let
// the engine consume the feed tick by tick, and serve /metrics alongside
// it.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/hourglass-exchange/hourglass/pkg/account"
	"github.com/hourglass-exchange/hourglass/pkg/datasource"
	"github.com/hourglass-exchange/hourglass/pkg/engine"
	"github.com/hourglass-exchange/hourglass/pkg/market"
	"github.com/hourglass-exchange/hourglass/params"
	"github.com/hourglass-exchange/hourglass/pkg/util"
)

func main() {
	cfg := params.LoadFromEnv("")

	logger, err := util.NewLoggerWithFile(cfg.Node.LogFile, "hourglass")
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	if cfg.Node.Verbose {
		logger = logger.WithOptions(zap.IncreaseLevel(zap.DebugLevel))
	}

	instruments := make(map[market.Instrument]struct{}, len(cfg.Data.Symbols))
	for _, sym := range cfg.Data.Symbols {
		instruments[parseSymbol(sym)] = struct{}{}
	}

	acctCfg := account.Config{
		MarginMode:            account.Cross,
		PositionDirectionMode: account.LongShortMode,
		PositionMarginMode:    account.PositionCross,
		CommissionLevel:       1,
		Leverage:              mustDecimal(cfg.Account.Leverage),
		FeesBook: map[account.CommissionLevel]account.FeeTier{
			1: {Maker: decimal.NewFromFloat(0.0002), Taker: decimal.NewFromFloat(0.0004)},
		},
		MaxPriceDeviation:    mustDecimal(cfg.Account.MaxPriceDeviation),
		LiquidationThreshold: mustDecimal(cfg.Account.LiquidationThreshold),
		MaxFillQtyPerTick:    mustDecimal(cfg.Account.MaxFillQtyPerTick),
		Instruments:          instruments,
	}

	archive, err := account.OpenArchive("data/archive", uuid.New())
	if err != nil {
		logger.Fatal("archive open failed", zap.Error(err))
	}
	defer archive.Close()

	ds, err := buildDataSource(cfg, instruments, logger)
	if err != nil {
		logger.Fatal("data source init failed", zap.Error(err))
	}
	defer ds.Close()

	marketTx := make(chan engine.MarketEvent, 256)
	events := make(chan account.Event, 256)

	eng, err := engine.NewBuilder().
		WithDataSource(ds).
		WithAccount(acctCfg).
		WithMarketEventChannel(marketTx).
		WithEventChannel(events).
		WithArchive(archive).
		WithMachineID(cfg.Node.MachineID).
		WithFundingInterval(int64(cfg.Account.FundingIntervalMin / 1000)). // time.Duration ns -> us, the clock's unit
		WithLogger(logger).
		Initiate()
	if err != nil {
		logger.Fatal("engine init failed", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go eng.Run(ctx)
	go drainEvents(ctx, events, logger)
	go drainMarketEvents(ctx, marketTx, logger)

	http.Handle("/metrics", promhttp.Handler())
	go func() {
		if err := http.ListenAndServe(":2112", nil); err != nil {
			logger.Warn("metrics server stopped", zap.Error(err))
		}
	}()

	for {
		if err := eng.LetItRoll(ctx); err != nil {
			logger.Info("stream ended", zap.Error(err))
			return
		}
		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}

func buildDataSource(cfg params.Config, instruments map[market.Instrument]struct{}, log *zap.Logger) (datasource.DataSource, error) {
	if cfg.Data.Mode == params.ModeLive {
		symbols := make(map[string]market.Instrument, len(instruments))
		for inst := range instruments {
			symbols[inst.Symbol()] = inst
		}
		return datasource.NewLive(cfg.Data.LiveURL, symbols, log)
	}
	// Backtest mode with an empty slice is a deliberate smoke-test default;
	// a real run wires a query result in here instead.
	return datasource.NewBacktest(nil)
}

func drainEvents(ctx context.Context, events <-chan account.Event, log *zap.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case e := <-events:
			log.Debug("account event", zap.Int("kind", int(e.Kind)))
		}
	}
}

func drainMarketEvents(ctx context.Context, marketTx <-chan engine.MarketEvent, log *zap.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case e := <-marketTx:
			log.Debug("market tick", zap.String("instrument", e.Instrument.Symbol()), zap.Int64("ts", e.Timestamp))
		}
	}
}

func parseSymbol(sym string) market.Instrument {
	base, quote := splitSymbol(sym)
	return market.New(base, quote, market.Perpetual)
}

func splitSymbol(sym string) (string, string) {
	for i := 0; i < len(sym); i++ {
		if sym[i] == '-' {
			return sym[:i], sym[i+1:]
		}
	}
	return sym, "USDT"
}

func mustDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		log.Fatalf("invalid decimal config value %q: %v", s, err)
	}
	return d
}
