package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/j5272000/campus-imaotai/internal/accounts"
	"github.com/j5272000/campus-imaotai/internal/auth"
	"github.com/j5272000/campus-imaotai/internal/cache"
	"github.com/j5272000/campus-imaotai/internal/catalog"
	"github.com/j5272000/campus-imaotai/internal/clock"
	"github.com/j5272000/campus-imaotai/internal/config"
	"github.com/j5272000/campus-imaotai/internal/db"
	"github.com/j5272000/campus-imaotai/internal/logbook"
	"github.com/j5272000/campus-imaotai/internal/migrate"
	"github.com/j5272000/campus-imaotai/internal/moutai"
	"github.com/j5272000/campus-imaotai/internal/outlets"
	"github.com/j5272000/campus-imaotai/internal/pool"
	"github.com/j5272000/campus-imaotai/internal/scheduler"
	"github.com/j5272000/campus-imaotai/internal/web"
	"github.com/j5272000/campus-imaotai/internal/workflow"
)

func newServerCmd() *cobra.Command {
	var migrateUp bool

	cmd := &cobra.Command{
		Use:   "server",
		Short: "Run the scheduler + control surface",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			log := newLogger(cfg.LogLevel)

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			d, err := db.Open(ctx, cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer d.Close()
			if err := d.Ping(ctx); err != nil {
				return fmt.Errorf("db ping: %w", err)
			}
			if migrateUp {
				if err := migrate.Up(ctx, d); err != nil {
					return err
				}
			}

			store, err := openCache(ctx, cfg, log)
			if err != nil {
				return err
			}

			hashKey, blockKey, err := sessionKeys(cfg)
			if err != nil {
				return err
			}
			authStore := auth.NewStore(d, hashKey, blockKey)

			clk := clock.NewRealClock()
			workers := pool.New(log)
			defer workers.Shutdown(cfg.PoolDrain)

			acctRepo := accounts.NewRepo(d)
			outletRepo := outlets.NewRepo(d)
			book := logbook.New(d)

			client := moutai.New(moutai.Config{})
			cat := catalog.NewService(client, store, outletRepo, clk, log)
			engine := workflow.NewEngine(workflow.Config{
				API:      client,
				Catalog:  cat,
				Accounts: acctRepo,
				Logbook:  book,
				Tasks:    workers,
				Clock:    clk,
				Log:      log,
			})

			// Warm the caches so the first window does not pay the scrape
			// cost; failure here is logged, not fatal.
			workers.Submit(func() {
				if err := cat.RefreshAll(ctx); err != nil {
					log.Warn("startup catalog refresh incomplete", "error", err)
				}
			})

			sched := scheduler.New(workers, clk, log)
			scheduler.Register(sched, engine, acctRepo, cat, clk)
			go sched.Run(ctx)

			srv := web.NewServer(authStore, acctRepo, engine, cat, outletRepo, book, log)
			httpSrv := &http.Server{Addr: cfg.HTTPAddr, Handler: srv.Router()}

			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownWait)
				defer cancel()
				_ = httpSrv.Shutdown(shutdownCtx)
			}()

			log.Info("server listening", "addr", cfg.HTTPAddr)
			if err := httpSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&migrateUp, "migrate", true, "run database migrations on startup")
	return cmd
}

func openCache(ctx context.Context, cfg config.Config, log *slog.Logger) (cache.Cache, error) {
	if cfg.RedisAddr == "" {
		log.Info("no redis configured, using in-process cache")
		return cache.NewMemory(), nil
	}
	return cache.Open(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
}

func newLogger(level string) *slog.Logger {
	var lv slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lv = slog.LevelDebug
	case "warn":
		lv = slog.LevelWarn
	case "error":
		lv = slog.LevelError
	default:
		lv = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lv}))
}
