package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"tamo-bridge/internal/activity"
	"tamo-bridge/internal/bridge"
	"tamo-bridge/internal/config"
	"tamo-bridge/internal/realtime"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath  string
		imageAddr   string
		commandAddr string
		listenAddr  string
		watchDir    string
		staticDir   string
		verbose     bool
		waitReady   bool
	)

	flagSet := pflag.NewFlagSet("tamo-bridge", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "path to a YAML config file")
	flagSet.StringVar(&imageAddr, "image-addr", "", "backend frame stream address (host:port)")
	flagSet.StringVar(&commandAddr, "command-addr", "", "backend command address (host:port)")
	flagSet.StringVar(&listenAddr, "listen", "", "websocket/REST listen address")
	flagSet.StringVar(&watchDir, "watch-dir", "", "directory whose changes count as typing activity")
	flagSet.StringVar(&staticDir, "static-dir", "", "directory served at /")
	flagSet.BoolVarP(&verbose, "verbose", "v", false, "log at debug level")
	flagSet.BoolVar(&waitReady, "wait-ready", false, "do not connect until the backend is reported running via POST /backend")

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	// Flags win over the file and the environment, but only when given.
	overrides := map[string]struct {
		dst *string
		val string
	}{
		"image-addr":   {&cfg.ImageAddr, imageAddr},
		"command-addr": {&cfg.CommandAddr, commandAddr},
		"listen":       {&cfg.ListenAddr, listenAddr},
		"watch-dir":    {&cfg.WatchDir, watchDir},
		"static-dir":   {&cfg.StaticDir, staticDir},
	}
	for name, o := range overrides {
		if flagSet.Changed(name) {
			*o.dst = o.val
		}
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// The hub is both the frame sink and the channel observer, so it is
	// created first and attached to the bridge afterwards.
	rtServer := realtime.New(cfg.StaticDir, logger)

	b := bridge.New(ctx, bridge.Config{
		Image: bridge.ChannelConfig{
			Addr:          cfg.ImageAddr,
			Policy:        cfg.ImageRetry,
			DialTimeout:   cfg.DialTimeout,
			MaxFrameBytes: cfg.MaxFrameBytes,
			Logger:        logger,
		},
		Command: bridge.ChannelConfig{
			Addr:        cfg.CommandAddr,
			Policy:      cfg.CommandRetry,
			DialTimeout: cfg.DialTimeout,
			Logger:      logger,
		},
		Logger: logger,
	}, rtServer, rtServer)

	monitor := activity.NewMonitor(activity.Config{
		Debounce:    cfg.TypingDebounce,
		StartedLine: cfg.TypingStartedLine,
		IdleLine:    cfg.TypingIdleLine,
		Logger:      logger,
	}, activity.SenderFunc(b.SendCommand))

	rtServer.Attach(b, monitor)

	var fileWatch *activity.Watcher
	if cfg.WatchDir != "" {
		fileWatch = activity.NewWatcher(func(string) { monitor.Touch() }, logger)
		if err := fileWatch.Watch(cfg.WatchDir); err != nil {
			b.Stop()
			return fmt.Errorf("watch %s: %w", cfg.WatchDir, err)
		}
	}

	if !waitReady {
		if err := b.SetBackendState(bridge.BackendRunning); err != nil {
			return err
		}
	}

	httpServer := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: rtServer.Handler(),
	}

	go func() {
		<-ctx.Done()
		logger.Info("shutting down")
		if fileWatch != nil {
			fileWatch.Shutdown()
		}
		monitor.Stop()
		b.Stop()
		rtServer.Close()
		httpServer.Close()
	}()

	logger.Info("bridge running",
		"listen", cfg.ListenAddr,
		"image_addr", cfg.ImageAddr,
		"command_addr", cfg.CommandAddr,
		"wait_ready", waitReady,
	)
	if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}
