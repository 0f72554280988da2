package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"fennec/internal/catalog"
	"fennec/internal/contentdir"
	"fennec/internal/daemon"
	"fennec/internal/events"
	"fennec/internal/feeds"
	"fennec/internal/httpd"
	"fennec/internal/metadata"
	"fennec/internal/scanner"
	"fennec/internal/ssdp"
	"fennec/internal/transcode"
	"fennec/internal/vfolder"
	"fennec/internal/watcher"
)

func main() {
	var (
		configPath string
		listen     string
		dbPath     string
		logLevel   string
		logFormat  string
		dryRun     bool
	)

	flag.StringVar(&configPath, "config", daemon.DefaultConfigPath(), "config file path")
	flag.StringVar(&listen, "listen", "", "streaming listen address override")
	flag.StringVar(&dbPath, "db", "", "catalog database path override")
	flag.StringVar(&logLevel, "log-level", "", "log level override")
	flag.StringVar(&logFormat, "log-format", "", "log format override (console|json)")
	flag.BoolVar(&dryRun, "dry-run", false, "validate config and exit")
	flag.Parse()

	cfg, err := daemon.LoadConfig(configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	applyOverrides(cfg, listen, dbPath, logLevel, logFormat)
	if dryRun {
		return
	}

	logger, err := daemon.NewLogger(cfg.Log)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cancel, logger, cfg); err != nil {
		logger.Error("fennecd failed", zap.Error(err))
		os.Exit(1)
	}
}

func applyOverrides(cfg *daemon.Config, listen, dbPath, logLevel, logFormat string) {
	if listen != "" {
		cfg.Server.Listen = listen
	}
	if dbPath != "" {
		cfg.Database.Path = dbPath
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if logFormat != "" {
		cfg.Log.Format = logFormat
	}
}

func run(ctx context.Context, cancel context.CancelFunc, logger *zap.Logger, cfg *daemon.Config) error {
	store, err := catalog.Open(logger, catalog.Config{Path: cfg.Database.Path})
	if err != nil {
		return err
	}
	defer store.Close()

	directory := contentdir.NewService(logger, store, contentdir.Config{})
	registry := metadata.NewRegistry(logger)

	var modules []daemon.ModuleRunner

	publisher, err := buildEvents(ctx, logger, cfg, cancel)
	if err != nil {
		return err
	}
	if publisher != nil {
		defer publisher.Close()
	}

	builder, err := buildScanner(logger, cfg, store, registry, directory, publisher)
	if err != nil {
		return err
	}

	vfolderRebuild, err := buildVFolders(logger, cfg, store, builder, directory)
	if err != nil {
		return err
	}

	trans := transcode.NewManager(logger, transcode.Config{
		Enabled:     cfg.Transcode.Enabled,
		Extensions:  cfg.Transcode.Extensions,
		BitrateKbit: cfg.Transcode.Bitrate,
	})

	var server *httpd.Server
	router := httpd.NewRouter(logger, httpd.RouterConfig{
		Directory:      directory,
		Rebuilder:      builder,
		Transcoder:     trans,
		Stats:          store.Stat,
		SessionCount:   func() int { return server.SessionCount() },
		VFolderRebuild: vfolderRebuild,
	})
	server, err = httpd.NewServer(logger, router, httpd.Config{
		Listen:     cfg.Server.Listen,
		AllowedIPs: cfg.Server.AllowedIPs,
	})
	if err != nil {
		return err
	}
	modules = append(modules, daemon.ModuleRunner{Name: "httpd", Run: server.Run})

	if cfg.Watcher.Enabled {
		w, err := watcher.New(logger, watcher.Config{Roots: cfg.Scanner.Shares})
		if err != nil {
			return err
		}
		reconciler := scanner.NewReconciler(logger, store, builder, func() {
			directory.Invalidate()
			if publisher != nil {
				publisher.ContentChanged()
			}
		})
		modules = append(modules, daemon.ModuleRunner{Name: "watcher", Run: w.Run})
		modules = append(modules, daemon.ModuleRunner{
			Name: "reconciler",
			Run: func(ctx context.Context) error {
				return reconciler.Run(ctx, w.Events())
			},
		})
	}

	if cfg.SSDP.Enabled {
		location := cfg.SSDP.Location
		if location == "" {
			location = guessLocation(cfg.Server.Listen)
		}
		announcer, err := ssdp.NewAnnouncer(logger, ssdp.Config{
			UUID:     cfg.SSDP.UUID,
			Location: location,
			MaxAge:   time.Duration(cfg.SSDP.MaxAgeS) * time.Second,
		})
		if err != nil {
			return err
		}
		modules = append(modules, daemon.ModuleRunner{Name: "ssdp", Run: announcer.Run})
	}

	if cfg.Scanner.ScanOnStartup {
		if err := builder.Start(ctx, scanner.ModeAddNew); err != nil &&
			!errors.Is(err, scanner.ErrRebuildRunning) {
			return err
		}
	}

	supervisor := daemon.Supervisor{Logger: logger}
	return supervisor.Run(ctx, modules)
}

func buildScanner(logger *zap.Logger, cfg *daemon.Config, store *catalog.Store,
	registry *metadata.Registry, directory *contentdir.Service, publisher *events.Publisher) (*scanner.Builder, error) {

	opts := []scanner.Option{
		scanner.WithOnChange(directory.Invalidate),
	}
	if publisher != nil {
		opts = append(opts, scanner.WithNotifier(publisher))
	}
	if len(cfg.Feeds.URLs) > 0 {
		imp := feeds.NewImporter(logger, feeds.Config{
			URLs:           cfg.Feeds.URLs,
			ContainerTitle: cfg.Feeds.Title,
			MaxEpisodes:    cfg.Feeds.MaxEpisodes,
		})
		opts = append(opts, scanner.WithImporters(imp))
	}
	return scanner.New(logger, store, registry, scanner.Config{Shares: cfg.Scanner.Shares}, opts...)
}

func buildVFolders(logger *zap.Logger, cfg *daemon.Config, store *catalog.Store,
	scan *scanner.Builder, directory *contentdir.Service) (func(ctx context.Context) error, error) {

	if cfg.VFolders.Layout == "" {
		return nil, nil
	}
	layout, err := vfolder.LoadLayout(cfg.VFolders.Layout)
	if err != nil {
		return nil, err
	}
	builder := vfolder.NewBuilder(logger, store)
	return func(ctx context.Context) error {
		err := scan.RunExclusive(func() error {
			return builder.Rebuild(ctx, layout)
		})
		if err != nil {
			return err
		}
		directory.Invalidate()
		return nil
	}, nil
}

func buildEvents(ctx context.Context, logger *zap.Logger, cfg *daemon.Config,
	cancel context.CancelFunc) (*events.Publisher, error) {

	if !cfg.Events.Enabled {
		return nil, nil
	}

	brokerURL := cfg.Events.BrokerURL
	if cfg.Events.Embedded {
		broker, err := events.NewBroker(logger, events.BrokerConfig{
			Listen:         cfg.Events.Listen,
			AllowAnonymous: cfg.Events.AllowAnonymous,
			Username:       cfg.Events.Username,
			Password:       cfg.Events.Password,
		})
		if err != nil {
			return nil, err
		}
		brokerURL = broker.URL()

		// The publisher connects at startup, so the broker must be up
		// before the supervisor starts the other modules.
		go func() {
			if err := broker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("embedded broker exited", zap.Error(err))
				cancel()
			}
		}()
		if err := waitForListen(brokerURL, 3*time.Second); err != nil {
			return nil, err
		}
	}

	publisher, err := events.NewPublisher(logger, events.Config{
		BrokerURL:   brokerURL,
		Username:    cfg.Events.Username,
		Password:    cfg.Events.Password,
		TopicPrefix: cfg.Events.TopicPrefix,
	})
	if err != nil {
		return nil, err
	}
	return publisher, nil
}

func guessLocation(listen string) string {
	host, port, err := net.SplitHostPort(listen)
	if err != nil {
		return "http://127.0.0.1:5080/"
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return fmt.Sprintf("http://%s/", net.JoinHostPort(host, port))
}

func waitForListen(brokerURL string, timeout time.Duration) error {
	addr := brokerURL
	if i := len("mqtt://"); len(addr) > i && addr[:i] == "mqtt://" {
		addr = addr[i:]
	}
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", addr, 200*time.Millisecond)
		if err == nil {
			_ = conn.Close()
			return nil
		}
		time.Sleep(50 * time.Millisecond)
	}
	return fmt.Errorf("embedded broker not ready at %s", addr)
}
