package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"

	"atr-trading-bot/internal/broker/brokerobs"
	"atr-trading-bot/internal/broker/paper"
	"atr-trading-bot/internal/broker/session"
	"atr-trading-bot/internal/broker/zerodha"
	"atr-trading-bot/internal/engine"
	"atr-trading-bot/internal/engine/engineobs"
	"atr-trading-bot/internal/eod"
	"atr-trading-bot/internal/eod/eodobs"
	"atr-trading-bot/internal/execution"
	"atr-trading-bot/internal/interfaces"
	"atr-trading-bot/internal/logger"
	"atr-trading-bot/internal/marketdata"
	"atr-trading-bot/internal/metrics"
	"atr-trading-bot/internal/notify"
	"atr-trading-bot/internal/risk"
	"atr-trading-bot/internal/statestore"
	"atr-trading-bot/internal/store"
	"atr-trading-bot/internal/strategy"
	"atr-trading-bot/internal/trace"
	"atr-trading-bot/internal/tradelog"
)

// bot holds the wired components main runs and tears down.
type bot struct {
	cfg      *store.Config
	loop     *engine.Loop
	session  *session.Manager
	gateway  interfaces.Gateway
	monitor  *risk.DrawdownMonitor
	executor *execution.Executor
	eod      interfaces.EodSummarizer
	state    *statestore.Store
	telegram *notify.Telegram
}

// initializeSystem loads .env and sets up logging and tracing.
func initializeSystem() error {
	_ = godotenv.Load()

	if err := logger.Init(); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	if err := trace.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize tracer: %v\n", err)
	}
	return nil
}

func loadConfig(ctx context.Context, path string) (*store.Config, error) {
	cfg, err := store.LoadConfig(path)
	if err != nil {
		logger.ErrorWithErr(ctx, "Failed to load config", err, "path", path)
		return nil, err
	}
	logger.Info(ctx, "Config loaded",
		"mode", cfg.Mode,
		"broker", cfg.Broker,
		"symbols", cfg.Symbols,
		"timezone", cfg.Timezone,
	)
	return cfg, nil
}

func compressOldLogs(ctx context.Context, j *tradelog.Journal, retentionDays int) {
	if retentionDays <= 0 {
		return
	}
	if err := j.CompressOlder(retentionDays); err != nil {
		logger.Warn(ctx, "Failed to compress old logs", "error", err)
	}
}

// venue is one broker implementation seen through every role it plays.
type venue interface {
	interfaces.Gateway
	interfaces.CandleSource
	session.Connector
}

func initializeBroker(ctx context.Context, cfg *store.Config, tf time.Duration) (venue, error) {
	switch cfg.Broker {
	case "KITE":
		logger.Info(ctx, "Using Kite Connect venue", "exchange", cfg.Kite.Exchange, "product", cfg.Kite.Product)
		return zerodha.New(zerodha.Config{
			APIKey:      cfg.Kite.APIKey,
			AccessToken: cfg.Kite.AccessToken,
			Exchange:    cfg.Kite.Exchange,
			Product:     cfg.Kite.Product,
			VolumeMax:   cfg.Kite.VolumeMax,
			Symbols:     cfg.Symbols,
			Timeframe:   tf,
			Stream:      true,
		})
	default:
		logger.Warn(ctx, "Running against the PAPER venue - orders are simulated")
		return paper.New(paper.Config{
			Balance:   cfg.Paper.Balance,
			Leverage:  cfg.Paper.Leverage,
			Seed:      cfg.Paper.Seed,
			Timeframe: tf,
			Symbols:   cfg.Paper.Symbols,
		})
	}
}

func initializeNotifier(ctx context.Context, cfg *store.Config) (interfaces.Notifier, *notify.Telegram) {
	n := notify.Multi{notify.Log{}}
	if !cfg.Notifications.TelegramEnabled {
		return n, nil
	}
	tg, err := notify.NewTelegram(cfg.Notifications.TelegramToken, cfg.Notifications.TelegramChatID)
	if err != nil {
		logger.Warn(ctx, "Telegram disabled", "error", err)
		return n, nil
	}
	return append(n, tg), tg
}

// initializeEOD wraps the journal summarizer with observability.
func initializeEOD(cfg *store.Config, j *tradelog.Journal) interfaces.EodSummarizer {
	return eodobs.Wrap(eod.NewSummarizer(j, cfg.Schedule.EODSummaryHour, cfg.Schedule.EODSummaryMinute))
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

func buildBot(ctx context.Context, cfg *store.Config, mt *metrics.Metrics) (*bot, error) {
	loc := cfg.Location()
	tf, err := cfg.Timeframe()
	if err != nil {
		return nil, err
	}

	state, err := statestore.Open(cfg.State.SQLitePath)
	if err != nil {
		return nil, err
	}
	monitor := risk.NewDrawdownMonitor(cfg.Risk.MaxDailyDrawdownPercent,
		risk.WithStateStore(state),
		risk.WithLocation(loc),
		risk.WithMetrics(mt),
	)
	if err := monitor.Restore(ctx, time.Now()); err != nil {
		logger.Warn(ctx, "Could not restore daily risk state", "error", err)
	}

	journal := tradelog.New(tradelog.LogDir(), loc)
	compressOldLogs(ctx, journal, cfg.Schedule.LogRetentionDays)

	v, err := initializeBroker(ctx, cfg, tf)
	if err != nil {
		state.Close()
		return nil, fmt.Errorf("failed to initialize broker: %w", err)
	}
	gw := brokerobs.Wrap(v)
	sess := session.New(v, cfg.Connection.MaxAttempts, seconds(cfg.Connection.RetryDelaySeconds), session.WithMetrics(mt))

	data := marketdata.NewHandler(v, marketdata.Config{
		BufferSize: marketdata.DefaultBufferSize,
		ATRPeriod:  cfg.Strategy.ATRPeriod,
		EMAPeriod:  cfg.Strategy.EMAPeriod,
		RSIPeriod:  cfg.Strategy.RSIPeriod,
	})

	strat := engineobs.Wrap(strategy.NewATRTrend(strategy.ATRTrendConfig{
		ATRMultiplier:  cfg.Strategy.ATRMultiplier,
		RSIOversold:    cfg.Strategy.RSIOversold,
		RSIOverbought:  cfg.Strategy.RSIOverbought,
		MinBars:        cfg.Strategy.MinBars,
		SignalStrength: strategy.DefaultATRTrendConfig().SignalStrength,
	}, gw))

	notifier, tg := initializeNotifier(ctx, cfg)

	execCfg := execution.DefaultConfig()
	execCfg.MaxAttempts = cfg.Execution.MaxAttempts
	execCfg.RequoteDelay = time.Duration(cfg.Execution.RequoteDelayMs) * time.Millisecond
	execCfg.Deviation = cfg.Execution.Deviation
	execCfg.Magic = cfg.Execution.Magic
	execCfg.ClosePacing = time.Duration(cfg.Execution.ClosePacingMs) * time.Millisecond
	exec := execution.New(gw, execCfg,
		execution.WithJournal(journal),
		execution.WithJournal(state),
		execution.WithMetrics(mt),
	)

	gate := risk.NewGate(gw, monitor, risk.Limits{
		MinFreeMarginPercent: cfg.Risk.MinFreeMarginPercent,
		MaxSpreadPoints:      cfg.Risk.MaxSpreadPoints,
		MaxPositions:         cfg.Risk.MaxPositions,
		TradingStartHour:     cfg.Schedule.TradingStartHour,
		TradingEndHour:       cfg.Schedule.TradingEndHour,
	}, risk.WithGateLocation(loc), risk.WithGateMetrics(mt))

	loopCfg := engine.DefaultLoopConfig(cfg.Symbols)
	loopCfg.PollInterval = cfg.PollInterval()
	loopCfg.DataRefreshInterval = cfg.DataRefreshInterval()
	loopCfg.ErrorDelay = seconds(cfg.Loop.ErrorDelaySeconds)
	loopCfg.ReconnectWait = seconds(cfg.Connection.ReconnectWaitSeconds)
	loopCfg.BreakerCooldown = seconds(cfg.Loop.BreakerCooldownSeconds)
	loopCfg.MaxPositions = cfg.Risk.MaxPositions
	loopCfg.CloseAllOnShutdown = cfg.Schedule.CloseAllAtEndOfDay
	loopCfg.FlattenAtEndOfDay = cfg.Schedule.CloseAllAtEndOfDay
	loopCfg.EndOfDayHour = cfg.Schedule.EODSummaryHour
	loopCfg.EndOfDayMinute = cfg.Schedule.EODSummaryMinute
	loopCfg.Location = loc

	loop, err := engine.NewLoop(loopCfg, engine.Deps{
		Session:  sess,
		Gateway:  gw,
		Data:     data,
		Strategy: strat,
		Notifier: notifier,
		Monitor:  monitor,
		Gate:     gate,
		Sizer:    risk.NewSizer(cfg.Risk.RiskPerTradePercent),
		Executor: exec,
		Stops:    engine.NewTrailingStopTracker(cfg.Strategy.ATRMultiplier),
		Metrics:  mt,
	})
	if err != nil {
		state.Close()
		return nil, err
	}

	return &bot{
		cfg:      cfg,
		loop:     loop,
		session:  sess,
		gateway:  gw,
		monitor:  monitor,
		executor: exec,
		eod:      initializeEOD(cfg, journal),
		state:    state,
		telegram: tg,
	}, nil
}

// close flushes pending notifications and releases the state database.
func (b *bot) close(ctx context.Context) {
	if b.telegram != nil {
		b.telegram.Wait()
	}
	if err := b.state.Close(); err != nil {
		logger.Warn(ctx, "Failed to close state store", "error", err)
	}
}
