// Package main is the entry point for the fedihook plugin host.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/dshills/fedihook/internal/admin"
	"github.com/dshills/fedihook/internal/app"
	"github.com/dshills/fedihook/internal/config"
)

// Version information (set via ldflags during build).
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const shutdownTimeout = 10 * time.Second

type options struct {
	configPath string
	check      bool
	logLevel   string
	pluginDirs []string
}

func main() {
	os.Exit(run())
}

func run() int {
	opts := parseFlags()

	cfg, err := config.Load(opts.configPath, opts.configPath != config.DefaultPath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	if opts.logLevel != "" {
		cfg.Log.Level = opts.logLevel
	}
	if len(opts.pluginDirs) > 0 {
		cfg.Plugins.Paths = opts.pluginDirs
	}
	if opts.check {
		cfg.Plugins.Watch = false
		cfg.Metrics.Addr = ""
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, cfg, app.Options{})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to initialize: %v\n", err)
		return 1
	}
	logger := application.Logger()

	// Ensure cleanup on all exit paths
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := application.Close(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("shutdown")
		}
	}()

	loadErr := application.Start(ctx)
	if opts.check {
		printPlugins(application)
		if loadErr != nil {
			return 1
		}
		return 0
	}

	var server *http.Server
	if cfg.Metrics.Addr != "" {
		handler := admin.New(application.Plugins(), application.Auditor(), application.Metrics().Handler(), logger)
		server = admin.NewServer(cfg.Metrics.Addr, handler.Routes())
		go func() {
			logger.Info().Str("addr", cfg.Metrics.Addr).Msg("admin server listening")
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error().Err(err).Msg("admin server")
				stop()
			}
		}()
	}

	logger.Info().Str("version", version).Msg("fedihook running")
	<-ctx.Done()
	logger.Info().Msg("shutting down")

	if server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("admin server shutdown")
		}
	}
	return 0
}

func printPlugins(application *app.Application) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tVERSION\tSTATE\tERROR")
	for _, info := range application.Plugins().List() {
		msg := ""
		if info.Err != nil {
			msg = info.Err.Error()
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", info.ID, info.Version, info.State, msg)
	}
	_ = w.Flush()
}

type stringList []string

func (s *stringList) String() string { return fmt.Sprint([]string(*s)) }

func (s *stringList) Set(v string) error {
	*s = append(*s, v)
	return nil
}

func parseFlags() options {
	var opts options
	var dirs stringList
	var showVersion bool

	flag.StringVar(&opts.configPath, "config", config.DefaultPath(), "Path to configuration file")
	flag.StringVar(&opts.configPath, "c", config.DefaultPath(), "Path to configuration file (shorthand)")
	flag.StringVar(&opts.logLevel, "log-level", "", "Override log level (debug, info, warn, error)")
	flag.Var(&dirs, "plugins", "Plugin search path (repeatable, replaces configured paths)")
	flag.BoolVar(&opts.check, "check", false, "Load plugins, print their state and exit")
	flag.BoolVar(&showVersion, "version", false, "Show version information")
	flag.BoolVar(&showVersion, "v", false, "Show version information (shorthand)")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "fedihook - plugin event host for federated social services\n\n")
		fmt.Fprintf(os.Stderr, "Usage: fedihook [options]\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nEnvironment overrides use the FEDIHOOK_ prefix, e.g. FEDIHOOK_LOG_LEVEL=debug.\n")
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  fedihook -c fedihook.toml         Run with a config file\n")
		fmt.Fprintf(os.Stderr, "  fedihook -plugins ./plugins -check  Validate plugins and exit\n")
	}

	flag.Parse()

	if showVersion {
		fmt.Printf("fedihook %s\n", version)
		fmt.Printf("Commit: %s\n", commit)
		fmt.Printf("Built: %s\n", date)
		os.Exit(0)
	}
	opts.pluginDirs = dirs
	return opts
}
