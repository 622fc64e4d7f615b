package commands

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/piwi3910/kvbench/internal/api"
	"github.com/piwi3910/kvbench/internal/codec"
	"github.com/piwi3910/kvbench/internal/config"
	"github.com/piwi3910/kvbench/internal/kvdb"
	"github.com/piwi3910/kvbench/internal/kvs/emulator"
	"github.com/piwi3910/kvbench/internal/metrics"
	"github.com/piwi3910/kvbench/internal/report"
	"github.com/piwi3910/kvbench/internal/shutdown"
	"github.com/piwi3910/kvbench/internal/workload"
)

type runFlags struct {
	configPath string
	opts       config.Options
	debug      bool
	linger     time.Duration
}

// NewRunCmd creates the run command
func NewRunCmd() *cobra.Command {
	f := &runFlags{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the benchmark",
		Long: `Open the configured databases on the device, drive the workload and print
a throughput and latency report.

While the run is in progress, statistics, health probes and Prometheus
metrics are served on --listen when set.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if f.debug {
				f.opts.LogLevel = "debug"
			}
			return run(cmd, f)
		},
	}

	cmd.Flags().StringVarP(&f.configPath, "config", "c", "", "Path to configuration file")
	cmd.Flags().StringVar(&f.opts.DevicePath, "device", "", "Device path")
	cmd.Flags().StringVar(&f.opts.WriteMode, "write-mode", "", "I/O mode: sync or async")
	cmd.Flags().StringVar(&f.opts.API, "api", "", "Driver API variant: direct or keyspace")
	cmd.Flags().IntVarP(&f.opts.Operations, "ops", "n", 0, "Number of keys per database")
	cmd.Flags().StringVar(&f.opts.LogLevel, "log-level", "", "Log level")
	cmd.Flags().StringVar(&f.opts.Listen, "listen", "", "Stats endpoint address, e.g. :9100")
	cmd.Flags().BoolVar(&f.debug, "debug", false, "Enable debug logging")
	cmd.Flags().DurationVar(&f.linger, "linger", 0, "Keep serving stats for this long after the run")

	return cmd
}

func run(cmd *cobra.Command, f *runFlags) (err error) {
	cfg, err := config.Load(f.configPath, f.opts)
	if err != nil {
		return err
	}
	if err := setupLogging(cfg.LogLevel); err != nil {
		return err
	}

	log.Info().
		Str("run_id", cfg.RunID).
		Str("version", metrics.Version).
		Str("device", cfg.Device.Path).
		Msg("Starting kvbench")

	metrics.Init(cfg.RunID, cfg.Device.Path)

	alg, err := codec.Parse(cfg.Device.Emulator.Codec)
	if err != nil {
		return err
	}
	drv := emulator.New(emulator.Config{
		Codec:               alg,
		Latency:             cfg.Device.Emulator.Latency,
		CompletionQueueSize: cfg.Device.Emulator.CompletionQueueSize,
	})

	env, err := kvdb.SetupDevice(cfg, drv)
	if err != nil {
		return err
	}

	var (
		dbs     []*kvdb.Database
		servers []shutdown.HTTPServerShutdown
	)
	defer func() {
		if terr := teardown(env, dbs, servers); terr != nil {
			log.Error().Err(terr).Msg("Teardown finished with errors")
			if err == nil {
				err = terr
			}
		}
	}()

	for id := 0; id < cfg.Workload.Databases; id++ {
		db, err := env.Open(cfg.Device.Path, id)
		if err != nil {
			return err
		}
		dbs = append(dbs, db)
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if cfg.Stats.Listen != "" {
		srv := api.New(cfg, env)
		servers = append(servers, srv)
		go func() {
			if err := srv.Start(ctx); err != nil {
				log.Error().Err(err).Msg("Stats server stopped")
			}
		}()
	}

	runner, err := workload.New(cfg)
	if err != nil {
		return err
	}

	res, err := runner.Run(ctx, dbs)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			log.Info().Msg("Run interrupted")
		}
		return err
	}

	if err := report.Write(cmd.OutOrStdout(), res.Phases, report.FromSet(env.LatencyStats(), cfg.Latency.Percentiles)); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}

	if cfg.Stats.Listen != "" && f.linger > 0 {
		log.Info().Dur("linger", f.linger).Msg("Serving stats after run")
		select {
		case <-time.After(f.linger):
		case <-ctx.Done():
		}
	}

	log.Info().Int64("completions", env.Completions()).Msg("kvbench complete")
	return nil
}

// teardown drains in-flight I/O, stops the stats server, closes the
// databases and exits the device environment, in that order.
func teardown(env *kvdb.Env, dbs []*kvdb.Database, servers []shutdown.HTTPServerShutdown) error {
	closers := make([]shutdown.Closeable, len(dbs))
	for i, db := range dbs {
		closers[i] = db
	}

	coord := shutdown.NewCoordinator(shutdown.DefaultConfig())
	return coord.Shutdown(context.Background(), shutdown.Components{
		InFlight:    env,
		HTTPServers: servers,
		Databases:   closers,
		Environment: env,
	})
}
