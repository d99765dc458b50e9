package server

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/nspcc-dev/chainmux/cli/cmdargs"
	"github.com/nspcc-dev/chainmux/cli/options"
	"github.com/nspcc-dev/chainmux/internal/fakechain"
	"github.com/nspcc-dev/chainmux/pkg/config"
	"github.com/nspcc-dev/chainmux/pkg/core/storage"
	"github.com/nspcc-dev/chainmux/pkg/services/metrics"
	"github.com/nspcc-dev/chainmux/pkg/services/monitor"
	"github.com/nspcc-dev/chainmux/pkg/services/tracestore"
	"github.com/nspcc-dev/chainmux/pkg/services/wsfeed"
	"github.com/nspcc-dev/chainmux/pkg/signalmux"
	"github.com/nspcc-dev/chainmux/pkg/signalmux/feed"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/urfave/cli"
	"go.uber.org/zap"
)

// NewCommands returns 'simulate' and 'dump' commands.
func NewCommands() []cli.Command {
	var cfgFlags = []cli.Flag{options.ConfigFile, options.RelativePath, options.Debug}
	var cfgWithBlocks = make([]cli.Flag, len(cfgFlags))
	copy(cfgWithBlocks, cfgFlags)
	cfgWithBlocks = append(cfgWithBlocks,
		cli.UintFlag{
			Name:  "blocks, b",
			Usage: "number of blocks to produce (overrides configuration)",
		},
		cli.BoolFlag{
			Name:  "exit",
			Usage: "exit after producing all blocks instead of waiting for a signal",
		},
	)
	var cfgDumpFlags = make([]cli.Flag, len(cfgFlags))
	copy(cfgDumpFlags, cfgFlags)
	cfgDumpFlags = append(cfgDumpFlags,
		cli.UintFlag{
			Name:  "start, s",
			Usage: "index of the first block to dump",
		},
		cli.UintFlag{
			Name:  "count, c",
			Usage: "number of blocks to dump (all by default)",
		},
		cli.StringFlag{
			Name:  "out, o",
			Usage: "output file (stdout if not given)",
		},
	)
	return []cli.Command{
		{
			Name:      "simulate",
			Usage:     "run the fake engine feeding the multiplexer and its consumers",
			UsageText: "chainmux simulate [--config-file file] [--relative-path path] [--debug] [--blocks N] [--exit]",
			Action:    startSimulation,
			Flags:     cfgWithBlocks,
		},
		{
			Name:      "dump",
			Usage:     "dump stored transaction batches as JSON",
			UsageText: "chainmux dump [--config-file file] [--relative-path path] [--start N] [--count N] [--out file]",
			Action:    dumpTraces,
			Flags:     cfgDumpFlags,
		},
	}
}

// newGraceContext returns a context cancelled on SIGINT or SIGTERM.
func newGraceContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, sigterm)
}

func initStore(cfg config.TraceStore, log *zap.Logger) (*tracestore.Service, error) {
	store, err := storage.NewStore(cfg.DBConfiguration)
	if err != nil {
		return nil, fmt.Errorf("could not open trace store: %w", err)
	}
	ts, err := tracestore.New(tracestore.Config{
		Store:     store,
		CacheSize: cfg.CacheSize,
		Log:       log,
	})
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	return ts, nil
}

func startSimulation(ctx *cli.Context) error {
	if err := cmdargs.EnsureNone(ctx); err != nil {
		return err
	}

	cfg, err := options.GetConfigFromContext(ctx)
	if err != nil {
		return cli.NewExitError(err, 1)
	}
	if ctx.IsSet("blocks") {
		cfg.Simulation.Blocks = uint32(ctx.Uint("blocks"))
	}
	var logDebug = ctx.Bool("debug")
	log, logLevel, logCloser, err := options.HandleLoggingParams(logDebug, cfg.ApplicationConfiguration)
	if err != nil {
		return cli.NewExitError(err, 1)
	}
	defer func() { _ = log.Sync() }()
	if logCloser != nil {
		defer func() { _ = logCloser() }()
	}

	grace, cancel := newGraceContext()
	defer cancel()

	app := cfg.ApplicationConfiguration
	mux := signalmux.New(signalmux.Config{
		AlternateInterface: app.SignalMux.AlternateInterface,
		Log:                log,
	})

	if app.TraceStore.Enabled {
		ts, err := initStore(app.TraceStore, log)
		if err != nil {
			return cli.NewExitError(err, 1)
		}
		defer func() {
			if err := ts.Close(); err != nil {
				log.Error("failed to close trace store", zap.Error(err))
			}
		}()
		mux.Register(ts)
	}

	// Chain metrics are kept separate from the process-wide multiplexer
	// metrics, both are served by the Prometheus service.
	reg := prometheus.NewRegistry()
	if app.Monitor.Enabled {
		mon, err := monitor.New(reg, log)
		if err != nil {
			return cli.NewExitError(fmt.Errorf("failed to create monitor: %w", err), 1)
		}
		mux.Register(mon)
	}

	if app.Feed.Enabled {
		f := feed.New(app.Feed.Capacity, log)
		f.Start()
		defer f.Shutdown()
		mux.Register(f)

		ws := wsfeed.New(app.WSFeed, f, log)
		if err := ws.Start(); err != nil {
			return cli.NewExitError(fmt.Errorf("failed to start WebSocket feed: %w", err), 1)
		}
		defer ws.Shutdown()
	}

	promServer := metrics.NewPrometheusServiceFor(prometheus.Gatherers{prometheus.DefaultGatherer, reg}, app.Prometheus, log)
	pprof := metrics.NewPprofService(app.Pprof, log)
	for _, s := range []*metrics.Service{promServer, pprof} {
		if err := s.Start(); err != nil {
			return cli.NewExitError(err, 1)
		}
		defer s.ShutDown()
	}

	engine, err := fakechain.New(cfg.Simulation, mux, log)
	if err != nil {
		return cli.NewExitError(err, 1)
	}
	log.Info("starting simulation",
		zap.Uint32("blocks", cfg.Simulation.Blocks),
		zap.Bool("direct", mux.Direct()),
		zap.Int("subscribers", mux.Subscribers()))

	var (
		runCh = make(chan error, 1)
		errCh = (<-chan error)(runCh)
	)
	go func() { runCh <- engine.Run(grace) }()

	sighupCh := make(chan os.Signal, 1)
	signal.Notify(sighupCh, sighup)
	defer signal.Stop(sighupCh)

	var graceCh = grace.Done()
	for {
		select {
		case err := <-errCh:
			if err != nil && !errors.Is(err, context.Canceled) {
				return cli.NewExitError(fmt.Errorf("simulation failed: %w", err), 1)
			}
			if ctx.Bool("exit") || grace.Err() != nil {
				return nil
			}
			log.Info("simulation is over, waiting for a signal to exit")
			errCh = nil
		case <-graceCh:
			if errCh == nil {
				log.Info("shutting down")
				return nil
			}
			// The engine stops between blocks, wait for it before closing
			// consumers.
			graceCh = nil
		case sig := <-sighupCh:
			log.Info("signal received", zap.Stringer("name", sig))
			newCfg, err := options.GetConfigFromContext(ctx)
			if err != nil {
				log.Warn("can't reread the config file, signal ignored", zap.Error(err))
				break
			}
			level, err := options.GetLogLevel(logDebug, newCfg.ApplicationConfiguration)
			if err != nil {
				log.Warn("wrong LogLevel in ApplicationConfiguration, signal ignored", zap.Error(err))
				break
			}
			logLevel.SetLevel(level)
		}
	}
}
