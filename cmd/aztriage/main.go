// Aztriage diagnoses Azure infrastructure errors through a bounded
// autonomous investigation loop.
//
// It exposes an HTTP API for login and investigation submission, plus a
// CLI for one-shot investigations and quick smoke tests. Configuration
// is loaded from a single YAML file discovered automatically (see
// [config.DefaultSearchPaths]).
//
// Usage:
//
//	aztriage serve                  Start the API server
//	aztriage investigate <error>    Run a one-shot investigation
//	aztriage version                Print version and build information
//	aztriage -o json version        Output version information as JSON
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/aztriage/aztriage/internal/agent"
	"github.com/aztriage/aztriage/internal/api"
	"github.com/aztriage/aztriage/internal/auth"
	"github.com/aztriage/aztriage/internal/azure"
	"github.com/aztriage/aztriage/internal/buildinfo"
	"github.com/aztriage/aztriage/internal/config"
	"github.com/aztriage/aztriage/internal/llm"
	"github.com/aztriage/aztriage/internal/safety"
	"github.com/aztriage/aztriage/internal/session"
	"github.com/aztriage/aztriage/internal/tools"
)

// main is intentionally minimal. It constructs the OS-level environment
// (context, stdio, argv) and delegates immediately to [run]. This keeps
// os.Exit, os.Stdout, and os.Args out of the application logic so that
// the full startup-to-shutdown lifecycle can be driven from tests.
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run is the real entry point for the aztriage command. All OS-level
// dependencies are injected as parameters:
//
//   - ctx controls the lifetime of the process. Cancelling it triggers
//     graceful shutdown of the server.
//   - stdout and stderr receive all program output. Structured logs go
//     to stdout; fatal error messages go to stderr.
//   - args is os.Args[1:]. We parse these manually rather than using
//     the flag package to avoid global state that interferes with
//     parallel tests.
func run(ctx context.Context, stdout io.Writer, stderr io.Writer, args []string) error {
	// Secrets may live in a local .env during development. Absence is
	// not an error.
	_ = godotenv.Load()

	var configPath string
	var outputFmt string // "text" (default) or "json"
	var command string
	var cmdArgs []string

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-config" && i+1 < len(args):
			configPath = args[i+1]
			i++ // skip the value
		case strings.HasPrefix(args[i], "-config="):
			configPath = strings.TrimPrefix(args[i], "-config=")
		case (args[i] == "-o" || args[i] == "--output") && i+1 < len(args):
			outputFmt = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-o="):
			outputFmt = strings.TrimPrefix(args[i], "-o=")
		case strings.HasPrefix(args[i], "--output="):
			outputFmt = strings.TrimPrefix(args[i], "--output=")
		case args[i] == "-h" || args[i] == "-help" || args[i] == "--help":
			return printUsage(stdout)
		case !strings.HasPrefix(args[i], "-") && command == "":
			command = args[i]
		default:
			if command != "" {
				cmdArgs = append(cmdArgs, args[i])
			} else {
				return fmt.Errorf("unknown flag: %s", args[i])
			}
		}
	}

	if outputFmt == "" {
		outputFmt = "text"
	}
	if outputFmt != "text" && outputFmt != "json" {
		return fmt.Errorf("unknown output format: %q (expected text or json)", outputFmt)
	}

	switch command {
	case "serve":
		return runServe(ctx, stdout, configPath)
	case "investigate":
		if len(cmdArgs) == 0 {
			return fmt.Errorf("usage: aztriage investigate <error description>")
		}
		return runInvestigate(ctx, stdout, configPath, strings.Join(cmdArgs, " "))
	case "version":
		return runVersion(stdout, outputFmt)
	case "":
		return printUsage(stdout)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

// runVersion prints build metadata in the requested output format.
func runVersion(w io.Writer, outputFmt string) error {
	info := buildinfo.Info()
	if outputFmt == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}
	fmt.Fprintln(w, buildinfo.String())
	for _, k := range []string{"version", "git_commit", "git_branch", "build_time", "go_version", "os", "arch"} {
		if v, ok := info[k]; ok {
			fmt.Fprintf(w, "  %-12s %s\n", k+":", v)
		}
	}
	return nil
}

// printUsage writes the top-level help text to w.
func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "aztriage - Azure error investigation service")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: aztriage [flags] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  serve              Start the API server")
	fmt.Fprintln(w, "  investigate <err>  Run a one-shot investigation from the CLI")
	fmt.Fprintln(w, "  version            Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>    Path to config file (default: auto-discover)")
	fmt.Fprintln(w, "  -o, --output fmt  Output format: text (default) or json")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Config search order:")
	fmt.Fprintln(w, "  ./aztriage.yaml, ~/.config/aztriage/aztriage.yaml, /etc/aztriage/aztriage.yaml")
	return nil
}

// runInvestigate handles the "aztriage investigate <error>" subcommand.
// It boots a minimal agent (in-memory store, no HTTP server) and runs a
// single investigation, printing the result as JSON. An Azure token in
// AZURE_ACCESS_TOKEN enables the live investigation functions;
// without it the Azure-backed functions report themselves unavailable.
func runInvestigate(ctx context.Context, stdout io.Writer, configPath, description string) error {
	logger := newLogger(stdout, slog.LevelWarn)

	cfg := config.Default()
	if path, err := config.FindConfig(configPath); err == nil {
		loaded, err := config.Load(path)
		if err != nil {
			return fmt.Errorf("load config %s: %w", path, err)
		}
		cfg = loaded
	} else if configPath != "" {
		return err
	}

	client, err := llm.New(cfg.LLM, logger)
	if err != nil {
		return fmt.Errorf("create model provider: %w", err)
	}

	var arm *azure.Client
	if token := os.Getenv("AZURE_ACCESS_TOKEN"); token != "" {
		arm = newARMClient(cfg, azure.StaticToken(token), logger)
	}

	registry := tools.NewRegistry(arm, logger)
	governor := safety.NewGovernor(limitsFrom(cfg.Safety), nil, logger)
	store := session.NewStore(cfg.Sessions.MaxSessions, cfg.Sessions.IdleTimeout, nil, logger)
	ag := agent.New(client, registry, governor, store, nil, logger)

	result, err := ag.Investigate(ctx, "cli", agent.Request{ErrorDescription: description})
	if err != nil {
		return fmt.Errorf("investigate: %w", err)
	}

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

// runServe handles the "aztriage serve" subcommand: load config, wire
// the agent and its dependencies, start the API server, and block until
// a shutdown signal arrives.
func runServe(ctx context.Context, stdout io.Writer, configPath string) error {
	logger := newLogger(stdout, slog.LevelInfo)
	logger.Info("starting aztriage", "version", buildinfo.Version, "commit", buildinfo.GitCommit, "built", buildinfo.BuildTime)

	cfgPath, err := config.FindConfig(configPath)
	if err != nil {
		return err
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config %s: %w", cfgPath, err)
	}

	if cfg.LogLevel != "" {
		level, err := config.ParseLogLevel(cfg.LogLevel)
		if err != nil {
			return err
		}
		logger = newLogger(stdout, level)
	}
	logger.Info("config loaded", "path", cfgPath, "port", cfg.Listen.Port, "provider", cfg.LLM.Provider)

	if cfg.Auth.JWTSecret == "" {
		return errors.New("auth.jwt_secret is required to serve")
	}

	jwts, err := auth.NewJWTService(cfg.Auth.JWTSecret, time.Duration(cfg.Auth.ExpirationHours)*time.Hour, nil)
	if err != nil {
		return err
	}
	vault, err := auth.NewVault(cfg.Auth.JWTSecret, nil)
	if err != nil {
		return err
	}

	client, err := llm.New(cfg.LLM, logger)
	if err != nil {
		return fmt.Errorf("create model provider: %w", err)
	}

	// The shared ARM client resolves each caller's token from the vault
	// using the principal stamped on the request context.
	arm := newARMClient(cfg, azure.TokenFunc(func(ctx context.Context) (string, error) {
		upn := azure.PrincipalFrom(ctx)
		if upn == "" {
			return "", errors.New("no principal on request context")
		}
		return vault.Get(upn)
	}), logger)

	registry := tools.NewRegistry(arm, logger)
	governor := safety.NewGovernor(limitsFrom(cfg.Safety), nil, logger)
	store := session.NewStore(cfg.Sessions.MaxSessions, cfg.Sessions.IdleTimeout, nil, logger)
	ag := agent.New(client, registry, governor, store, nil, logger)

	server := api.NewServer(cfg.Listen.Address, cfg.Listen.Port, ag, store, governor, jwts, vault, logger)

	// NotifyContext wraps the parent context so that SIGINT/SIGTERM
	// cancel it and trigger graceful shutdown.
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start(ctx)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func newLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: config.ReplaceLogLevelNames,
	}))
}

// newARMClient applies the Azure config to a client with the given
// token source.
func newARMClient(cfg *config.Config, ts azure.TokenSource, logger *slog.Logger) *azure.Client {
	var opts []azure.Option
	if cfg.Azure.ManagementEndpoint != "" {
		opts = append(opts, azure.WithEndpoint(cfg.Azure.ManagementEndpoint))
	}
	if cfg.Azure.RequestsPerSecond > 0 {
		opts = append(opts, azure.WithRequestsPerSecond(cfg.Azure.RequestsPerSecond))
	}
	return azure.NewClient(ts, logger, opts...)
}

// limitsFrom overlays configured safety bounds onto the defaults.
func limitsFrom(cfg config.SafetyConfig) safety.Limits {
	limits := safety.DefaultLimits()
	if cfg.MaxTotalTime > 0 {
		limits.MaxTotalTime = cfg.MaxTotalTime
	}
	if cfg.MaxFunctionTime > 0 {
		limits.MaxFunctionTime = cfg.MaxFunctionTime
	}
	if cfg.MaxFunctionCalls > 0 {
		limits.MaxFunctionCalls = cfg.MaxFunctionCalls
	}
	if cfg.MaxAPICallsPerMinute > 0 {
		limits.MaxAPICallsPerMinute = cfg.MaxAPICallsPerMinute
	}
	if cfg.MaxMemoryUsageMB > 0 {
		limits.MaxMemoryUsageMB = cfg.MaxMemoryUsageMB
	}
	if cfg.MaxDepth > 0 {
		limits.MaxDepth = cfg.MaxDepth
	}
	if cfg.MaxRetryAttempts > 0 {
		limits.MaxRetryAttempts = cfg.MaxRetryAttempts
	}
	if cfg.MaxRepeatedFunctions > 0 {
		limits.MaxRepeatedFunctions = cfg.MaxRepeatedFunctions
	}
	return limits
}
