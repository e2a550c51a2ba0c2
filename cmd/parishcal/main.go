package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"golang.org/x/sync/errgroup"

	"parishcal/internal/config"
	appLog "parishcal/internal/log"
	"parishcal/internal/refresh"
	"parishcal/internal/store"
	"parishcal/internal/web"
)

// flagConfig holds CLI flag values.
type flagConfig struct {
	configPath string
	listen     string
	once       bool
}

func main() {
	flags := parseFlags()

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}

	// CLI --listen overrides config file listen if provided.
	if flags.listen != "" {
		conf.Listen = flags.listen
	}

	appLog.Setup(conf.Environment, appLog.ParseLevel(conf.LogLevel))
	appLog.Info("parishcal starting", "version", "0.1.0")

	if err := conf.Validate(); err != nil {
		appLog.Error("invalid config", err, "config_path", flags.configPath)
		os.Exit(1)
	}

	appLog.Info("effective config",
		"listen", conf.Listen,
		"timezone", conf.Timezone,
		"events_file", conf.EventsFile,
		"refresh", conf.RefreshCron,
		"horizon_days", conf.HorizonDays,
		"past_limit", conf.PastLimit,
		"ics_count", len(conf.ICS),
		"once", flags.once,
	)

	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, conf, flags.once); err != nil {
		appLog.Error("parishcal stopped with error", err)
		os.Exit(1)
	}
	appLog.Info("parishcal exiting")
}

func run(ctx context.Context, conf *config.Config, once bool) error {
	// The watcher needs the directory to exist before the first write.
	if err := os.MkdirAll(filepath.Dir(conf.EventsFile), 0o700); err != nil {
		return err
	}
	st, err := store.Open(conf.EventsFile)
	if err != nil {
		return err
	}

	refresher := refresh.New(conf, st, nil)
	if once {
		return refresher.RunOnce(ctx)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return st.Watch(ctx) })
	g.Go(func() error { return refresher.Run(ctx) })
	g.Go(func() error { return web.StartServer(ctx, conf, st) })
	return g.Wait()
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "./config.yaml", "Path to config file")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.BoolVar(&cfg.once, "once", false, "Run one ICS import and exit")

	flag.Parse()

	return cfg
}
