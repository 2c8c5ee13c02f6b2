package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/zerolg/sessiontier/pkg/config"
	"github.com/zerolg/sessiontier/pkg/session"
	"github.com/zerolg/sessiontier/pkg/tasks"
)

var (
	configPath string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "sessiontier",
	Short: "Tiered conversational session store with autonomous archival",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return initLogger(logLevel)
	},
}

func initLogger(level string) error {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return err
	}
	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		Level(lvl).
		With().Timestamp().Logger()
	return nil
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the scheduler and the session event consumer until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		a, err := newApp(cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		sched, err := tasks.NewScheduler(a.archiver, a.checker, a.dlq, tasks.Intervals{
			ArchivalScan:     cfg.ScanInterval.Std(),
			ConsistencyCheck: cfg.ConsistencyInterval.Std(),
			DLQMonitor:       cfg.DLQInterval.Std(),
		})
		if err != nil {
			return err
		}

		consumer, err := session.NewEventConsumer(a.rdb,
			cfg.Stream.Topic, cfg.Stream.Group, cfg.Stream.Consumer, cfg.Stream.DLQKey)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			return consumer.Run(gctx)
		})

		sched.Start()
		log.Info().
			Str("redis", cfg.Redis.Addr).
			Str("sqlite", cfg.SQLitePath).
			Dur("idle_threshold", cfg.IdleThreshold.Std()).
			Msg("sessiontier started")

		<-gctx.Done()
		log.Info().Msg("shutting down")
		sched.Stop()
		_ = consumer.Close()
		return g.Wait()
	},
}

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Run one archival scan over idle conversations",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app) error {
			return a.archiver.RunOnce(ctx)
		})
	},
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Run one cross-tier consistency check",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app) error {
			report, err := a.checker.RunOnce(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("scanned %d conversations, %d dual-existence, %d missing logs, %d missing metadata\n",
				report.Scanned, len(report.DualExistence), len(report.MissingLogs), len(report.MissingMeta))
			return nil
		})
	},
}

var dlqCmd = &cobra.Command{
	Use:   "dlq",
	Short: "Run one dead-letter-queue backlog check",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app) error {
			if err := a.dlq.RunOnce(ctx); err != nil {
				return err
			}
			fmt.Printf("backlog: %d, consumer lag: %d\n",
				a.dlq.BacklogSize(ctx), a.dlq.ConsumerLag(ctx))
			return nil
		})
	},
}

var dashboardCmd = &cobra.Command{
	Use:   "dashboard",
	Short: "Print the monitoring snapshot as JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app) error {
			snap := a.dlq.Snapshot(ctx)
			b, err := json.MarshalIndent(snap, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(b))
			return nil
		})
	},
}

func withApp(fn func(context.Context, *app) error) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(context.Background(), a)
}

func main() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to YAML config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (trace, debug, info, warn, error)")
	rootCmd.AddCommand(serveCmd, scanCmd, checkCmd, dlqCmd, dashboardCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
