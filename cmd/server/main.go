// cmd/server/main.go

// 本服務提供帳戶開立、驗證、存提款、轉帳等 RESTful API。
// 此檔案負責組裝模組（config, logging, storage, bank, server），
// 啟動時載入上次的快照，收到 SIGINT/SIGTERM 時優雅關閉並做最後一次保存。

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gopkg.in/urfave/cli.v1"

	"ledger/internal/bank"
	"ledger/internal/config"
	"ledger/internal/logging"
	promcollector "ledger/internal/metrics/prometheus"
	"ledger/internal/server"
	"ledger/internal/storage"
)

func main() {
	app := cli.NewApp()
	app.Name = filepath.Base(os.Args[0])
	app.Usage = "in-memory account ledger with snapshot persistence"
	app.Flags = mergeFlags(httpFlags, storeFlags, logFlags, metricsFlags)
	app.Action = run

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	if args := c.Args(); len(args) > 0 {
		return fmt.Errorf("invalid command: %q", args[0])
	}
	cfg := configFrom(c)
	if err := cfg.Validate(); err != nil {
		return errors.Wrap(err, "invalid configuration")
	}

	logger, err := logging.NewLogger(cfg.Log)
	if err != nil {
		return errors.Wrap(err, "init logger")
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	backend, err := openStore(ctx, cfg.Store)
	if err != nil {
		return err
	}
	store := storage.NewResilientStore(backend, cfg.Store.Resilient(), logger)
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("close store", zap.Error(err))
		}
	}()

	opts := []bank.Option{bank.WithLogger(logger)}
	var metricsHandler http.Handler
	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		collector := promcollector.NewCollector(cfg.Metrics.Namespace)
		if err := collector.Register(reg); err != nil {
			return errors.Wrap(err, "register metrics")
		}
		opts = append(opts, bank.WithMetrics(collector))
		metricsHandler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	}

	ledger, err := bank.Open(ctx, store, opts...)
	if err != nil {
		return errors.Wrap(err, "open ledger")
	}

	srv := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      server.NewServer(ledger, logger, metricsHandler).Router(),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("ledger server listening",
			zap.String("addr", cfg.HTTP.Addr),
			zap.String("store", cfg.Store.Backend),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "http server")
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		sctx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		err := srv.Shutdown(sctx)
		// 停止接受請求後再保存，確保最後的變更都已落地
		if ferr := ledger.Flush(sctx); ferr != nil {
			logger.Error("final save failed", zap.Error(ferr))
			err = multierr.Append(err, ferr)
		}
		return err
	})
	return g.Wait()
}

// openStore 依設定開啟持久化後端。
func openStore(ctx context.Context, cfg config.Store) (storage.Store, error) {
	switch cfg.Backend {
	case config.BackendLevelDB:
		s, err := storage.OpenLevelDBStore(cfg.Path)
		return s, errors.Wrap(err, "open leveldb store")
	case config.BackendPostgres:
		s, err := storage.OpenPostgresStore(ctx, cfg.PostgresDSN, cfg.Name)
		return s, errors.Wrap(err, "open postgres store")
	default:
		return storage.NewFileStore(cfg.Path), nil
	}
}
