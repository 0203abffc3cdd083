package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/prospector/internal/api"
	"github.com/sells-group/prospector/internal/lock"
	"github.com/sells-group/prospector/internal/monitoring"
)

const shutdownTimeout = 15 * time.Second

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the workflow API server",
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		if err := cfg.Validate("serve"); err != nil {
			return err
		}
		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		single, err := lock.NewSingleton(cfg.Singleton.Dir, cfg.Singleton.Name)
		if err != nil {
			return err
		}
		running, err := single.IsAnotherInstanceRunning()
		if err != nil {
			return err
		}
		if running {
			info, _ := single.RunningInstanceInfo()
			if info != nil {
				return eris.Wrapf(lock.ErrAlreadyRunning, "pid %d on port %d since %s",
					info.PID, info.Port, info.StartTime.Format(time.RFC3339))
			}
			return lock.ErrAlreadyRunning
		}
		if err := single.CreateLock(port); err != nil {
			return err
		}
		// The PID file goes away on every exit path out of this function,
		// panics included.
		defer func() {
			p := recover()
			if rmErr := single.RemoveLock(); rmErr != nil {
				zap.L().Warn("remove instance lock", zap.Error(rmErr))
			}
			if p != nil {
				panic(p)
			}
		}()

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		locks, err := campaignLocks(cfg)
		if err != nil {
			return err
		}
		defer func() {
			if n := locks.ReleaseOwned(); n > 0 {
				zap.L().Info("released campaign locks on shutdown", zap.Int("count", n))
			}
		}()

		e, err := initEnv(cfg)
		if err != nil {
			return err
		}
		defer e.Close()

		mon := cfg.Monitoring
		collector := monitoring.NewCollector(e.Store, locks,
			monitoring.WithStuckAfter(minutes(mon.StuckAfterMins, 90*time.Minute)))

		handler := api.New(e.Orchestrator, locks,
			api.WithSingleton(single),
			api.WithMetrics(collector, minutes(mon.LookbackMins, 2*time.Hour)),
			api.WithAdminToken(cfg.Server.AdminToken),
			api.WithCORSOrigins(cfg.Server.CORSOrigins),
		).Handler()
		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		}

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			zap.L().Info("starting server", zap.Int("port", port), zap.String("pid_file", single.Path()))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return eris.Wrap(err, "server listen")
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
		g.Go(func() error {
			e.Store.RunSweeper(gctx, minutes(cfg.Workflow.SweepIntervalMins, 5*time.Minute))
			return nil
		})
		if mon.WebhookURL != "" {
			checker := monitoring.NewChecker(collector, monitoring.NewAlerter(mon), mon)
			g.Go(func() error {
				checker.Run(gctx)
				return nil
			})
		}
		return g.Wait()
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
