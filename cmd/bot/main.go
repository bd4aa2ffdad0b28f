package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"atr-trading-bot/internal/broker/session"
	"atr-trading-bot/internal/logger"
	"atr-trading-bot/internal/metrics"
	"atr-trading-bot/internal/trace"
)

const (
	eodCheckInterval  = time.Minute
	recentTradesLimit = 50
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "bot: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	if err := initializeSystem(); err != nil {
		return err
	}
	defer trace.Shutdown(context.Background())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	path := os.Getenv("TRADER_CONFIG")
	if path == "" {
		path = "config.yaml"
	}
	cfg, err := loadConfig(ctx, path)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	mt := metrics.New(reg)

	b, err := buildBot(ctx, cfg, mt)
	if err != nil {
		return err
	}
	defer b.close(context.Background())

	if err := b.session.Connect(ctx); err != nil {
		if errors.Is(err, session.ErrAuthentication) {
			return err
		}
		logger.Warn(ctx, "Initial connection failed, the loop will keep retrying", "error", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return b.loop.Run(gctx) })
	g.Go(func() error { return serveHTTP(gctx, cfg.Metrics.ListenAddr, b.handler(reg)) })
	g.Go(func() error { return b.runEOD(gctx) })
	err = g.Wait()

	if p, serr := b.eod.SummarizeDay(context.Background(), time.Now()); serr == nil && p != "" {
		logger.Info(context.Background(), "EOD CSV written", "path", p)
	}
	return err
}

// runEOD writes the daily summary once the close time passes. Flattening
// happens inside the trading loop.
func (b *bot) runEOD(ctx context.Context) error {
	t := time.NewTicker(eodCheckInterval)
	defer t.Stop()

	var done string
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-t.C:
			day := now.In(b.cfg.Location()).Format("2006-01-02")
			if day == done {
				continue
			}
			if ok, _ := b.eod.ShouldRunNow(now); !ok {
				continue
			}
			done = day
			if _, err := b.eod.SummarizeDay(ctx, now); err != nil {
				logger.Warn(ctx, "EOD summary failed", "error", err)
			}
		}
	}
}

func (b *bot) handler(reg *prometheus.Registry) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if !b.session.Connected(r.Context()) {
			http.Error(w, "venue disconnected", http.StatusServiceUnavailable)
			return
		}
		fmt.Fprintln(w, "ok")
	})
	mux.HandleFunc("/risk", func(w http.ResponseWriter, r *http.Request) {
		acct, err := b.gateway.AccountInfo(r.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		open, err := b.gateway.PositionsTotal(r.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, b.monitor.Metrics(acct, open, b.cfg.Risk.MaxPositions))
	})
	mux.HandleFunc("/positions", func(w http.ResponseWriter, r *http.Request) {
		positions, err := b.executor.OpenPositions(r.Context(), r.URL.Query().Get("symbol"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, positions)
	})
	mux.HandleFunc("/trades", func(w http.ResponseWriter, r *http.Request) {
		trades, err := b.state.RecentTrades(r.Context(), recentTradesLimit)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, trades)
	})
	return mux
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// serveHTTP runs the observability server until ctx ends. An empty addr
// disables it.
func serveHTTP(ctx context.Context, addr string, h http.Handler) error {
	if addr == "" {
		return nil
	}
	srv := &http.Server{Addr: addr, Handler: h, ReadHeaderTimeout: 5 * time.Second}
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	logger.Info(ctx, "Metrics server listening", "addr", addr)

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("metrics server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
