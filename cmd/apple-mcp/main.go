// Copyright 2025 Joseph Cumines
//
// MCP server exposing Apple Mail, Contacts, Notes, Messages and Reminders over stdio

package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joeycumines/apple-mcp/internal/automation"
	"github.com/joeycumines/apple-mcp/internal/config"
	"github.com/joeycumines/apple-mcp/internal/contacts"
	"github.com/joeycumines/apple-mcp/internal/guard"
	"github.com/joeycumines/apple-mcp/internal/loader"
	"github.com/joeycumines/apple-mcp/internal/mail"
	"github.com/joeycumines/apple-mcp/internal/messages"
	"github.com/joeycumines/apple-mcp/internal/notes"
	"github.com/joeycumines/apple-mcp/internal/reminders"
	"github.com/joeycumines/apple-mcp/internal/server"
	"github.com/joeycumines/apple-mcp/internal/transport"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// shutdownGrace bounds how long a graceful shutdown waits for the request
// in flight.
const shutdownGrace = 5 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	client := flag.String("client", "", "client profile: default, desktop, cli, or a name from APPLE_MCP_PROFILES_FILE")
	showVersion := flag.Bool("version", false, "print the version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Fprintln(os.Stderr, "apple-mcp", version)
		return 0
	}

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "apple-mcp: failed to load configuration: %v\n", err)
		return 1
	}

	level, _ := config.ParseLogLevel(cfg.LogLevel)
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(log)

	profiles, err := config.LoadProfiles(cfg.ProfilesFile)
	if err != nil {
		log.Error("failed to load client profiles", slog.Any("error", err))
		return 1
	}
	selector := cfg.Client
	if *client != "" {
		selector = *client
	}
	profile := profiles.Resolve(selector)
	if s := strings.TrimSpace(selector); s != "" && !strings.EqualFold(s, profile.Name) {
		log.Warn("unknown client profile, using default",
			slog.String("client", selector),
			slog.Any("available", profiles.Names()),
		)
	}

	// Everything written to os.Stdout from here on passes through the guard.
	out := guard.New(os.Stdout, profile, log)
	captureR, captureW, err := os.Pipe()
	if err != nil {
		log.Error("failed to redirect stdout", slog.Any("error", err))
		return 1
	}
	os.Stdout = captureW
	captured := make(chan struct{})
	go func() {
		defer close(captured)
		if err := out.Capture(captureR); err != nil {
			log.Warn("stdout capture stopped", slog.Any("error", err))
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bridge := automation.New(&automation.OsascriptExecutor{
		Path:    cfg.Osascript,
		Timeout: cfg.ScriptTimeout,
	}, automation.Options{
		Log:         log,
		SettleDelay: settleDelay(cfg.SettleDelay),
	})

	names := &contactNames{}
	modules := loader.New(loader.Config{
		Importers: importers(cfg, bridge, names, log),
		Timeout:   cfg.EagerTimeout,
		Log:       log,
	})
	names.modules = modules
	state := modules.Start(ctx, profile.ForceSafeMode)

	audit, err := server.NewAuditLogger(cfg.AuditLogFile)
	if err != nil {
		log.Error("failed to open audit log", slog.Any("error", err))
		return 1
	}
	defer audit.Close()

	metrics := server.NewMetrics()
	defer func() {
		// stray writes still in the pipe reach the guard before its stats
		// are read
		_ = captureW.Close()
		select {
		case <-captured:
		case <-time.After(time.Second):
		}
		writeMetrics(log, metrics, out, cfg.MetricsFile)
	}()

	mcpServer := server.NewMCPServer(server.Options{
		Loader:  modules,
		Profile: profile,
		Log:     log,
		Audit:   audit,
		Metrics: metrics,
		Version: version,
	})

	log.Info("apple-mcp ready",
		slog.String("version", version),
		slog.String("profile", profile.Name),
		slog.String("loader", state.String()),
	)

	tr := transport.NewStdioTransport(os.Stdin, out, log)

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	errChan := make(chan error, 1)
	go func() {
		errChan <- mcpServer.Serve(ctx, tr)
	}()

	// Wait for shutdown signal or end of input
	select {
	case sig := <-sigChan:
		if profile.ExitOnSignal {
			log.Info("received signal, exiting", slog.String("signal", sig.String()))
			return 0
		}
		log.Info("received signal, shutting down", slog.String("signal", sig.String()))
		cancel()
		select {
		case <-errChan:
			log.Info("server shutdown complete")
		case <-sigChan:
			log.Warn("forced shutdown")
		case <-time.After(shutdownGrace):
			log.Warn("shutdown timed out waiting for stdin")
		}
		return 0

	case err := <-errChan:
		if err != nil {
			log.Error("transport failed", slog.Any("error", err))
			return 1
		}
		return 0
	}
}

// importers builds the collaborator modules. Each import returns a new
// handle. Messages resolves sender names through resolver.
func importers(cfg *config.Config, bridge *automation.Bridge, resolver messages.Resolver, log *slog.Logger) map[loader.Name]loader.Importer {
	return map[loader.Name]loader.Importer{
		loader.Contacts: func(context.Context) (any, error) {
			return contacts.New(bridge, 0), nil
		},
		loader.Notes: func(context.Context) (any, error) {
			return notes.New(bridge, cfg.PreviewLength), nil
		},
		loader.Messages: func(context.Context) (any, error) {
			store, err := messages.OpenStore(cfg.MessagesDB)
			if err != nil {
				return nil, err
			}
			return messages.New(bridge, store, resolver, log), nil
		},
		loader.Mail: func(context.Context) (any, error) {
			return mail.New(bridge, cfg.PreviewLength), nil
		},
		loader.Reminders: func(context.Context) (any, error) {
			return reminders.New(bridge), nil
		},
	}
}

// contactNames resolves sender names through the contacts handle the loader
// currently holds, importing it on demand.
type contactNames struct {
	modules *loader.Loader
}

func (r *contactNames) FindContactByPhone(ctx context.Context, phone string) (string, error) {
	c, err := loader.Get[*contacts.Client](ctx, r.modules, loader.Contacts)
	if err != nil {
		return "", err
	}
	return c.FindContactByPhone(ctx, phone)
}

// settleDelay maps the configured delay onto automation.Options, where zero
// selects the default.
func settleDelay(d time.Duration) time.Duration {
	if d == 0 {
		return -1
	}
	return d
}

func writeMetrics(log *slog.Logger, metrics *server.Metrics, out *guard.Guard, path string) {
	stats := out.Stats()
	metrics.SetGuardStats(stats)
	log.Info("output guard totals",
		slog.Uint64("passed", stats.Passed),
		slog.Uint64("suppressed", stats.Suppressed),
		slog.Uint64("truncated", stats.Truncated),
		slog.Uint64("oversized", stats.Oversized),
	)
	if path == "" {
		return
	}
	if err := metrics.WriteFile(path); err != nil {
		log.Warn("failed to write metrics", slog.String("path", path), slog.Any("error", err))
	}
}
