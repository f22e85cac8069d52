package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"tradepost.gg/internal/ledger"
	"tradepost.gg/internal/ledger/snapshot"
	"tradepost.gg/internal/logging"
	"tradepost.gg/internal/metrics"
	"tradepost.gg/internal/trade"
	"tradepost.gg/internal/transport/ws"
	"tradepost.gg/internal/tuning"
)

func main() {
	var (
		addr       = flag.String("addr", ":8080", "http listen address")
		dataDir    = flag.String("data", "./data", "runtime data directory")
		tuningPath = flag.String("tuning", "", "path to tuning.yaml (default: <data>/tuning.yaml)")
		seedPath   = flag.String("seed_balances", "", "yaml fixtures loaded into an empty ledger (optional)")
		restore    = flag.String("restore_snapshot", "", "balances snapshot to restore into the ledger (optional)")
	)
	flag.Parse()

	log := logging.New("server")

	tp := strings.TrimSpace(*tuningPath)
	if tp == "" {
		tp = filepath.Join(*dataDir, "tuning.yaml")
	}
	tune, err := tuning.Load(tp)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Fatal().Err(err).Msg("load tuning")
		}
		log.Info().Str("path", tp).Msg("tuning not found; using defaults")
		tune = tuning.Defaults()
	}
	holder := tuning.NewHolder(tune)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if _, err := os.Stat(tp); err == nil {
		if err := tuning.Watch(ctx, tp, holder, log); err != nil {
			log.Warn().Err(err).Msg("tuning watch disabled")
		}
	}

	store, err := ledger.OpenSQLite(filepath.Join(*dataDir, "ledger.db"))
	if err != nil {
		log.Fatal().Err(err).Msg("open ledger")
	}
	defer store.Close()

	if p := strings.TrimSpace(*restore); p != "" {
		if err := snapshot.Restore(p, store); err != nil {
			log.Fatal().Err(err).Str("path", p).Msg("restore snapshot")
		}
		log.Info().Str("path", p).Msg("ledger restored from snapshot")
	}
	if p := strings.TrimSpace(*seedPath); p != "" {
		if err := seedBalances(store, p); err != nil {
			log.Fatal().Err(err).Str("path", p).Msg("seed balances")
		}
		log.Info().Str("path", p).Msg("ledger seeded")
	}

	m := metrics.New(prometheus.DefaultRegisterer)
	registry := trade.NewRegistry(trade.Config{
		Store:   store,
		Log:     log,
		Metrics: m,
		Tuning:  holder,
	})
	go registry.Run(ctx)

	snapDir := filepath.Join(*dataDir, "snapshots")
	go snapshotLoop(ctx, store, snapDir, holder, log)

	server := ws.NewServer(registry, log, m, tune.OutQueue)

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/ws", server.Handler())
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	httpSrv := &http.Server{Addr: *addr, Handler: mux}
	go func() {
		log.Info().Str("addr", *addr).Msg("listening")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http server")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	registry.Shutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = httpSrv.Shutdown(shutdownCtx)

	if err := snapshot.Write(snapshot.Path(snapDir, time.Now()), store, time.Now()); err != nil {
		log.Error().Err(err).Msg("final snapshot")
	} else {
		log.Info().Msg("final snapshot written")
	}
}

// snapshotLoop writes periodic balance exports. Interval changes picked up
// by the tuning watcher apply on the next tick.
func snapshotLoop(ctx context.Context, store ledger.Dumper, dir string, holder *tuning.Holder, log zerolog.Logger) {
	for {
		every := holder.Current().SnapshotEvery()
		if every <= 0 {
			every = 10 * time.Minute
		}
		select {
		case <-ctx.Done():
			return
		case now := <-time.After(every):
			if err := snapshot.Write(snapshot.Path(dir, now), store, now); err != nil {
				log.Error().Err(err).Msg("periodic snapshot")
				continue
			}
			log.Debug().Msg("snapshot written")
		}
	}
}

type seedFile struct {
	Players []ledger.PlayerBalance `yaml:"players"`
}

func seedBalances(store ledger.Seeder, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var f seedFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return err
	}
	return store.Seed(f.Players)
}
