package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"coach-planner/internal/api"
	"coach-planner/internal/bot"
	"coach-planner/internal/config"
	"coach-planner/internal/repository"
	"coach-planner/internal/service"
)

func serveCmd() *cobra.Command {
	var noBot bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the sweep scheduler, the HTTP API and the Telegram bot",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("config: %w", err)
			}
			return runServe(cmd.Context(), cfg, !noBot)
		},
	}
	cmd.Flags().BoolVar(&noBot, "no-bot", false, "do not poll Telegram for commands")
	return cmd
}

func runServe(parent context.Context, cfg config.Config, withBot bool) error {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(cfg, true)
	if err != nil {
		return err
	}
	defer a.close()

	loc, err := cfg.Location()
	if err != nil {
		return err
	}
	scheduler := service.NewSchedulerService(loc)
	if err := scheduler.RegisterSweeps(a.sweeps, a.cadence()); err != nil {
		return fmt.Errorf("schedule sweeps: %w", err)
	}
	scheduler.Start()
	defer scheduler.Stop()

	gin.SetMode(gin.ReleaseMode)
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.NewRouter(api.NewHandler(a.tasks, a.remind, a.sweeps)),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Printf("[info] http listening on %s", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("[api][err] %v", err)
			stop()
		}
	}()

	if withBot && a.tgAPI != nil {
		telegramBot := bot.New(a.tgAPI, a.users, a.tasks)
		go func() {
			if err := telegramBot.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("[bot][err] stopped: %v", err)
			}
		}()
	}

	log.Println("Coach planner started.")
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("[api][err] shutdown: %v", err)
	}
	log.Println("Shutdown complete.")
	return nil
}

func sweepCmd() *cobra.Command {
	var at string
	cmd := &cobra.Command{
		Use:   "sweep <name>",
		Short: "Run one sweep now and print its report",
		Long: `Run a single sweep outside the scheduler.

Sweeps: escalation, reminders, recurrence, streaks, maintenance.

Examples:
  coachplanner sweep escalation
  coachplanner sweep streaks --at 2026-05-13T00:05:00Z`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("config: %w", err)
			}
			a, err := newApp(cfg, true)
			if err != nil {
				return err
			}
			defer a.close()

			now := time.Now().UTC()
			if at != "" {
				parsed, err := time.Parse(time.RFC3339, at)
				if err != nil {
					return fmt.Errorf("--at must be RFC3339: %w", err)
				}
				now = parsed.UTC()
			}
			if _, ok := a.sweeps[args[0]]; !ok {
				return fmt.Errorf("unknown sweep %q (known: %s)", args[0], strings.Join(a.sweeps.Names(), ", "))
			}

			ctx := cmd.Context()
			if cfg.SweepTimeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, cfg.SweepTimeout)
				defer cancel()
			}
			report, err := a.sweeps.Run(ctx, args[0], now)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), report.String())
			return nil
		},
	}
	cmd.Flags().StringVar(&at, "at", "", "sweep instant (RFC3339), defaults to now")
	return cmd
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("config: %w", err)
			}
			db, err := repository.NewDB(cfg.DatabaseDriver, cfg.DatabaseURL)
			if err != nil {
				return err
			}
			if sqlDB, err := db.DB(); err == nil {
				defer sqlDB.Close()
			}
			fmt.Fprintf(cmd.OutOrStdout(), "schema up to date (%s)\n", cfg.DatabaseDriver)
			return nil
		},
	}
}
