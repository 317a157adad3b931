package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"
	"github.com/wudi/apigw/internal/catalog"
	"github.com/wudi/apigw/internal/config"
	"github.com/wudi/apigw/internal/gateway"
	"github.com/wudi/apigw/internal/logging"
	"github.com/wudi/apigw/internal/metrics"
	"go.uber.org/zap"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "apigw: %v\n", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	app := cli.NewApp()
	app.Name = "apigw"
	app.HelpName = "apigw"
	app.Usage = "API gateway with delegated authorization and merged API docs"
	app.Version = version

	app.Commands = []*cli.Command{
		serveCommand(),
		docsCommand(),
		versionCommand(),
	}
	return app
}

func configFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Value:   "configs/gateway.yaml",
		Usage:   "path to configuration file",
		EnvVars: []string{"APIGW_CONFIG"},
	}
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:   "serve",
		Usage:  "Run the gateway",
		Action: serveAction,
		Flags: []cli.Flag{
			configFlag(),
			&cli.BoolFlag{Name: "validate", Usage: "validate configuration and exit"},
			&cli.BoolFlag{Name: "merge-docs", Usage: "merge and publish API docs before serving"},
		},
	}
}

func serveAction(ctx *cli.Context) error {
	cfg, err := config.NewLoader().Load(ctx.String("config"))
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if ctx.Bool("validate") {
		fmt.Fprintln(ctx.App.Writer, "Configuration is valid")
		return nil
	}

	collector := metrics.NewCollector()
	logger, closer, bus, err := setupLogging(cfg, collector)
	if err != nil {
		return err
	}
	defer closer.Close()

	if ctx.Bool("merge-docs") {
		if _, err := catalog.NewMerger(catalog.OptionsFromConfig(cfg), logger).Run(); err != nil {
			logger.Error("Failed to merge API documentation", zap.Error(err))
			return err
		}
	}

	logger.Info("Starting API Gateway",
		zap.String("version", version),
		zap.String("build_time", buildTime),
		zap.String("config", ctx.String("config")),
		zap.Int("services", len(cfg.Services)),
		zap.String("correlation", cfg.Correlation),
	)

	opts := gateway.ServerOptions{
		Options: gateway.Options{Logger: logger, Metrics: collector},
	}
	if bus != nil {
		opts.BusStats = bus.Stats
	}
	server, err := gateway.NewServer(cfg, opts)
	if err != nil {
		logger.Error("Failed to create gateway", zap.Error(err))
		return err
	}

	if err := server.Run(ctx.Context); err != nil {
		logger.Error("Server error", zap.Error(err))
		return err
	}
	return nil
}

// setupLogging builds the process logger from config, including the
// optional event bus sink, and installs it as the global logger.
func setupLogging(cfg *config.Config, collector *metrics.Collector) (*zap.Logger, io.Closer, *logging.Bus, error) {
	lc := cfg.Logging

	var bus *logging.Bus
	if lc.Bus.Enabled {
		pub, err := logging.NewPublisher(lc.Bus.Type, lc.Bus.URL, lc.Bus.Topic, lc.Bus.Exchange)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to initialize log bus: %w", err)
		}
		bus = logging.NewBus(pub, lc.Bus.QueueSize, lc.Bus.AckTimeout)
		collector.RegisterLogBus(
			func() int64 { return bus.Stats().Published },
			func() int64 { return bus.Stats().Dropped },
		)
	}

	logger, closer, err := logging.New(logging.Config{
		Level:      lc.Level,
		OutFile:    lc.OutFile,
		ErrFile:    lc.ErrFile,
		MaxSize:    lc.Rotation.MaxSize,
		MaxBackups: lc.Rotation.MaxBackups,
		MaxAge:     lc.Rotation.MaxAge,
		Compress:   lc.Rotation.Compress,
		LocalTime:  lc.Rotation.LocalTime,
		Bus:        bus,
	})
	if err != nil {
		if bus != nil {
			bus.Close()
		}
		return nil, nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	logging.SetGlobal(logger)
	return logger, closer, bus, nil
}

func docsCommand() *cli.Command {
	return &cli.Command{
		Name:   "docs",
		Usage:  "Merge per-service OpenAPI documents and publish the docs page",
		Action: docsAction,
		Flags: []cli.Flag{
			configFlag(),
			&cli.BoolFlag{Name: "watch", Aliases: []string{"w"}, Usage: "re-merge whenever a spec file changes"},
		},
	}
}

func docsAction(ctx *cli.Context) error {
	cfg, err := config.NewLoader().Load(ctx.String("config"))
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	logger, closer, _, err := setupLogging(cfg, metrics.NewCollector())
	if err != nil {
		return err
	}
	defer closer.Close()

	merger := catalog.NewMerger(catalog.OptionsFromConfig(cfg), logger)
	res, err := merger.Run()
	if err != nil {
		logger.Error("Failed to merge API documentation", zap.Error(err))
		return err
	}
	fmt.Fprintf(ctx.App.Writer, "Merged %d services into %s\n", len(res.Services), cfg.Docs.OpenAPIPath)

	if !ctx.Bool("watch") {
		return nil
	}

	w, err := catalog.NewWatcher(merger)
	if err != nil {
		return err
	}
	w.OnMerge(func(res *catalog.Result, err error) {
		if err == nil {
			fmt.Fprintf(ctx.App.Writer, "Merged %d services into %s\n", len(res.Services), cfg.Docs.OpenAPIPath)
		}
	})

	runCtx, stop := signal.NotifyContext(ctx.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return w.Run(runCtx)
}

func versionCommand() *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "Show version information",
		Action: func(ctx *cli.Context) error {
			fmt.Fprintf(ctx.App.Writer, "apigw %s (built %s)\n", version, buildTime)
			return nil
		},
	}
}
