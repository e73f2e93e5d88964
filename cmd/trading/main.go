package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/quantrail/quantrail-trading/internal/broker"
	"github.com/quantrail/quantrail-trading/internal/config"
	"github.com/quantrail/quantrail-trading/internal/engine/entry"
	"github.com/quantrail/quantrail-trading/internal/engine/exit"
	"github.com/quantrail/quantrail-trading/internal/engine/monitor"
	"github.com/quantrail/quantrail-trading/internal/engine/order"
	"github.com/quantrail/quantrail-trading/internal/indicator"
	"github.com/quantrail/quantrail-trading/internal/logger"
	"github.com/quantrail/quantrail-trading/internal/risk"
	"github.com/quantrail/quantrail-trading/internal/strategy"
	"github.com/quantrail/quantrail-trading/internal/types"
	"github.com/urfave/cli/v3"
	"go.uber.org/zap"
)

// tradingAction wires the engine from config and runs the position monitor
// until interrupted.
func tradingAction(ctx context.Context, cmd *cli.Command) error {
	configPath := cmd.String("config")
	gatewayFlag := cmd.String("gateway")
	testnet := cmd.Bool("testnet")
	interval := cmd.String("interval")

	log, err := logger.NewLogger()
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	registry := strategy.NewRegistry()
	for _, policy := range cfg.Strategies {
		if err := registry.Register(policy); err != nil {
			return fmt.Errorf("failed to register strategy: %w", err)
		}
	}

	var gateway broker.Gateway

	switch gatewayFlag {
	case "paper":
		gateway = broker.NewPaperGateway(cmd.Float("paper-balance"))
	case "binance":
		gateway = broker.NewBinanceGateway(broker.BinanceGatewayConfig{
			ApiKey:    os.Getenv("BINANCE_API_KEY"),
			SecretKey: os.Getenv("BINANCE_SECRET_KEY"),
			BaseURL:   "",
			Interval:  interval,
		}, testnet)
	default:
		return fmt.Errorf("unsupported gateway: %s", gatewayFlag)
	}

	if err := gateway.Connect(ctx); err != nil {
		return fmt.Errorf("failed to connect gateway: %w", err)
	}
	defer func() { _ = gateway.Disconnect() }()

	indicators := indicator.NewRegistry()

	atr, err := indicator.NewATR(cfg.ATRPeriod)
	if err != nil {
		return err
	}

	rsi, err := indicator.NewRSI(cfg.RSIPeriod)
	if err != nil {
		return err
	}

	if err := indicators.Register(atr); err != nil {
		return err
	}

	if err := indicators.Register(rsi); err != nil {
		return err
	}

	orders := order.NewManager(gateway, log, order.RetryPolicy{
		MaxAttempts: cfg.OrderRetry.MaxAttempts,
		BaseDelay:   cfg.OrderRetry.BaseDelay(),
	})

	exits := exit.NewEngine(log, registry, exit.Config{
		EmergencyImmediatePct: cfg.EmergencyImmediatePct,
		EmergencyConfirmPct:   cfg.EmergencyConfirmPct,
		EmergencyConfirmBars:  cfg.EmergencyConfirmBars,
	}, loc)

	mon := monitor.NewMonitor(log, gateway, orders, exits, indicators, monitor.Config{
		Capacity:             cfg.MonitorCapacity,
		HistorySize:          cfg.HistorySize,
		ReconnectMaxAttempts: cfg.StreamReconnect.MaxAttempts,
		ReconnectBaseDelay:   cfg.StreamReconnect.BaseDelay(),
		Location:             loc,
	})

	mon.RegisterExitCallback(func(symbol string, reason types.ExitReason, fillPrice, realizedPnL float64) {
		log.Info("Exit observed",
			zap.String("symbol", symbol),
			zap.String("reason", string(reason)),
			zap.Float64("fill_price", fillPrice),
			zap.Float64("realized_pnl", realizedPnL),
		)
	})

	entries := entry.NewManager(log, registry, orders, mon, exits, risk.NewBasicManager(0), risk.NewVolatilityAllocator(0.01, 0.2, 10), entry.Config{
		MaxEntriesPerDay:         cfg.MaxEntriesPerDay,
		MaxPositionsPerDirection: cfg.MaxPositionsPerDirection,
		ConfirmationTolerance:    cfg.ConfirmationTolerance,
		Location:                 loc,
	})

	entries.OnNewTradingDay(time.Now())

	runCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	mon.Start(runCtx)

	log.Info("Position lifecycle engine started",
		zap.String("gateway", gatewayFlag),
		zap.Strings("strategies", registry.Names()),
	)

	<-runCtx.Done()

	mon.Stop()
	log.Info("Position lifecycle engine stopped")

	return nil
}

func main() {
	cmd := &cli.Command{
		Name:  "trading",
		Usage: "Run the position lifecycle execution engine",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "config",
				Aliases:  []string{"c"},
				Usage:    "Path to the engine YAML config",
				Required: true,
			},
			&cli.StringFlag{
				Name:     "gateway",
				Aliases:  []string{"g"},
				Usage:    "Broker gateway to use (paper, binance)",
				Value:    "paper",
				Required: false,
			},
			&cli.BoolFlag{
				Name:     "testnet",
				Usage:    "Use the Binance testnet",
				Value:    false,
				Required: false,
			},
			&cli.StringFlag{
				Name:     "interval",
				Aliases:  []string{"i"},
				Usage:    "Streaming kline interval",
				Value:    "1m",
				Required: false,
			},
			&cli.FloatFlag{
				Name:     "paper-balance",
				Usage:    "Starting balance for the paper gateway",
				Value:    100000,
				Required: false,
			},
		},
		Action: tradingAction,
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		log.Fatal(err)
	}
}
