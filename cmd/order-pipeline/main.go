// Package main runs one order-processing pass: producers read the order
// files, a single consumer applies them to the inventory, and the updated
// inventory and transaction log are written out.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/fairyhunter13/order-pipeline/internal/config"
	httpapi "github.com/fairyhunter13/order-pipeline/internal/http"
	"github.com/fairyhunter13/order-pipeline/internal/ledger"
	"github.com/fairyhunter13/order-pipeline/internal/obs"
	"github.com/fairyhunter13/order-pipeline/internal/pipeline"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	cfg, err := config.Load(args)
	if err != nil {
		fmt.Fprintln(stderr, "Error:", err)
		return 1
	}
	obs.InitLogger(cfg.LogLevel)
	obs.Logger.Info("run_starting", "producers", cfg.Producers, "buffer", cfg.BufferCapacity)

	ctx := context.Background()
	shutdownTracing, err := obs.InitTracing(ctx, cfg.OtelEndpoint)
	if err != nil {
		obs.Logger.Warn("tracing_init_failed", "error", err)
	}
	defer func() {
		ctxShut, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(ctxShut); err != nil {
			obs.Logger.Warn("tracing_shutdown_failed", "error", err)
		}
	}()

	txlog, err := ledger.OpenTransactionLog(cfg.LogPath)
	if err != nil {
		fmt.Fprintln(stderr, "Error:", err)
		return 1
	}

	files := ledger.FileOpener{Dir: cfg.OrdersDir, Prefix: cfg.OrdersPrefix}
	opener := pipeline.OpenerFunc(func(sourceID int) (pipeline.OrderSource, error) {
		f, err := files.Open(sourceID)
		if err != nil {
			return nil, err
		}
		return f, nil
	})

	sup := pipeline.NewSupervisor(
		pipeline.Options{Producers: cfg.Producers, BufferCapacity: cfg.BufferCapacity},
		ledger.InventoryFiles{In: cfg.InventoryIn, Out: cfg.InventoryOut},
		opener,
		txlog,
	)

	if cfg.StatusAddr != "" {
		srv := &http.Server{
			Addr:              cfg.StatusAddr,
			Handler:           httpapi.NewRouter(httpapi.NewApp(sup)),
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       10 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		}
		go func() {
			obs.Logger.Info("http_listen", "addr", cfg.StatusAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				obs.Logger.Error("http_server_error", "error", err)
			}
		}()
		defer func() {
			ctxSrv, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(ctxSrv); err != nil {
				obs.Logger.Error("http_shutdown_error", "error", err)
			}
		}()
	}

	res, err := sup.Run(ctx)
	if err != nil {
		_ = txlog.Close()
		fmt.Fprintln(stderr, "Error:", err)
		return 1
	}
	obs.Logger.Info("transaction_log_written", "records", txlog.Count(), "run_id", res.RunID.String())
	if err := res.Err(); err != nil {
		fmt.Fprintln(stderr, "Error:", err)
		return 1
	}
	fmt.Fprintln(stdout, "Processing finished successfully, inventory and logs have been updated.")
	return 0
}
