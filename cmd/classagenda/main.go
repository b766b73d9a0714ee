package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"classagenda/internal/agenda"
	"classagenda/internal/config"
	"classagenda/internal/ics"
	appLog "classagenda/internal/log"
	"classagenda/internal/service"
	"classagenda/internal/store"
	"classagenda/internal/store/postgres"
	"classagenda/internal/web"
)

// flagConfig holds CLI flag values.
type flagConfig struct {
	configPath string
	envPath    string
	listen     string
	once       bool
	showAll    bool
	day        string
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout))
}

// run is the whole program; it returns the process exit code so that deferred
// cleanup (store handles, scheduler, signal handler) always runs.
func run(args []string, stdout io.Writer) int {
	flags, err := parseFlags(args)
	if err != nil {
		return 2
	}

	if err := config.LoadDotEnv(flags.envPath); err != nil {
		appLog.Error("failed to load env file", err, "path", flags.envPath)
		return 1
	}

	conf, err := config.Load(flags.configPath)
	if err != nil {
		if conf == nil {
			appLog.Error("failed to load config", err, "config_path", flags.configPath)
			return 1
		}
		appLog.Warn("could not write default config, continuing with defaults", "config_path", flags.configPath, "err", err)
	}
	appLog.SetLevel(appLog.ParseLevel(conf.LogLevel))
	appLog.Info("classagenda starting", "version", "0.1.0")

	// CLI --listen overrides config file listen if provided.
	if flags.listen != "" {
		conf.Listen = flags.listen
	}

	loc, err := time.LoadLocation(conf.Timezone)
	if err != nil {
		appLog.Warn("unknown timezone, using local time", "timezone", conf.Timezone, "err", err)
		loc = time.Local
	}

	appLog.Info("effective config",
		"listen", conf.Listen,
		"timezone", loc.String(),
		"locale", conf.Locale,
		"refresh", conf.RefreshCron,
		"backend", conf.Store.Backend,
		"show_past", conf.ShowPast,
		"max_items", conf.MaxItems,
		"ics_count", len(conf.ICS),
		"once", flags.once,
	)

	initial, err := initialFilter(conf, flags)
	if err != nil {
		appLog.Error("invalid -day", err, "day", flags.day)
		return 2
	}

	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case sig := <-sigCh:
			appLog.Info("signal received, shutting down", "signal", sig.String())
			cancel()
		case <-ctx.Done():
		}
	}()

	st, closeStore, err := openStore(ctx, conf, flags.configPath)
	if err != nil {
		appLog.Error("failed to open item store", err, "backend", conf.Store.Backend)
		return 1
	}
	defer closeStore()

	opts := []service.Option{
		service.WithAgendaOptions(
			agenda.WithLocation(loc),
			agenda.WithLabeler(agenda.LabelerFor(conf.Locale)),
		),
		service.WithInitialFilter(initial),
		service.WithPolicy(service.PolicyFor(conf.MaxItems)),
	}
	if len(conf.ICS) > 0 {
		opts = append(opts, service.WithImporter(ics.NewImporter(
			subscriptions(conf.ICS),
			ics.WithWindow(conf.BackfillDays, conf.HorizonDays),
		)))
	}
	svc := service.New(st, opts...)

	if err := svc.Load(ctx); err != nil {
		appLog.Warn("initial load failed; serving what is known", "err", err)
	}

	if flags.once {
		printAgenda(stdout, svc.Current(), loc)
		if svc.LastError() != nil {
			return 1
		}
		return 0
	}

	if err := svc.Start(ctx, conf.RefreshCron, loc); err != nil {
		appLog.Error("failed to start refresh scheduler", err, "schedule", conf.RefreshCron)
		return 1
	}
	defer svc.Stop()

	if err := web.NewServer(conf, svc).Run(ctx); err != nil {
		appLog.Error("HTTP server failed", err)
		return 1
	}

	appLog.Info("classagenda exiting")
	return 0
}

func parseFlags(args []string) (flagConfig, error) {
	var cfg flagConfig

	fs := flag.NewFlagSet("classagenda", flag.ContinueOnError)
	fs.StringVar(&cfg.configPath, "config", "/etc/classagenda/config.yaml", "Path to config file")
	fs.StringVar(&cfg.envPath, "env", ".env", "Path to an optional .env file")
	fs.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	fs.BoolVar(&cfg.once, "once", false, "Load once, print the agenda to stdout and exit")
	fs.BoolVar(&cfg.showAll, "show-all", false, "Include past days")
	fs.StringVar(&cfg.day, "day", "", "Show only this day (YYYY-MM-DD)")

	err := fs.Parse(args)
	return cfg, err
}

func openStore(ctx context.Context, conf *config.Config, configPath string) (store.ItemStore, func(), error) {
	noop := func() {}
	switch conf.Store.Backend {
	case config.BackendMemory:
		return store.NewMemory(), noop, nil
	case config.BackendPostgres:
		openCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		db, err := postgres.Open(openCtx, conf.Store.Postgres.DSN)
		if err != nil {
			return nil, noop, err
		}
		return postgres.NewItemRepository(db), func() { db.Close() }, nil
	case config.BackendRemote:
		if conf.Store.Remote.BaseURL == "" {
			return nil, noop, fmt.Errorf("store.remote.base_url is empty: set it in %s or via %s, or use store.backend: %s",
				configPath, config.EnvRemoteURL, config.BackendMemory)
		}
		r, err := store.NewRemote(store.RemoteConfig{
			BaseURL:    conf.Store.Remote.BaseURL,
			Collection: conf.Store.Remote.Collection,
			Token:      conf.Store.Remote.Token,
			CacheDir:   conf.Store.Remote.CacheDir,
		})
		if err != nil {
			return nil, noop, err
		}
		appLog.Info("using remote item store", "url", appLog.RedactURL(conf.Store.Remote.BaseURL))
		return r, noop, nil
	default:
		return nil, noop, fmt.Errorf("unknown store backend %q", conf.Store.Backend)
	}
}

func initialFilter(conf *config.Config, flags flagConfig) (agenda.Filter, error) {
	var day *agenda.Date
	if flags.day != "" {
		d, err := agenda.ParseDate(flags.day)
		if err != nil {
			return agenda.Filter{}, err
		}
		day = &d
	}
	return agenda.ResolveFilter(conf.ShowPast || flags.showAll, day), nil
}

func subscriptions(cfgs []config.ICSConfig) []ics.Subscription {
	subs := make([]ics.Subscription, 0, len(cfgs))
	for _, c := range cfgs {
		subs = append(subs, ics.Subscription{ID: c.ID, Name: c.Name, URL: c.URL, Kind: c.Kind})
	}
	return subs
}

func printAgenda(w io.Writer, v service.View, loc *time.Location) {
	if v.Empty {
		if v.ExactDayActive {
			fmt.Fprintf(w, "Nada marcado para %s.\n", v.Filter.Day)
		} else {
			fmt.Fprintln(w, "Nenhum item na agenda.")
		}
		return
	}
	for _, r := range v.Rows {
		if r.Kind == agenda.RowHeader {
			fmt.Fprintf(w, "\n%s\n", r.Label)
			continue
		}
		it := r.Item
		start, end := it.Span()
		fmt.Fprintf(w, "  %s-%s  [%s] %s\n", start.In(loc).Format("15:04"), end.In(loc).Format("15:04"), it.Kind, it.Title)
	}
	if v.FromCache {
		fmt.Fprintln(w, "\n(offline: cached copy)")
	}
}
