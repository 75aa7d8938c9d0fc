// TuringLab is a tool-augmented chat agent backed by a local Ollama
// model.
//
// It exposes an HTTP and WebSocket API and a CLI for one-shot queries.
// Configuration is loaded from a YAML file discovered automatically
// (see [config.DefaultSearchPaths]); without one, built-in defaults and
// the OLLAMA_URL, HOST and PORT environment variables apply.
//
// Usage:
//
//	turinglab serve                  Start the API server
//	turinglab ask <prompt>           Ask a single question with tools
//	turinglab ask -simple <prompt>   Ask without tools
//	turinglab ask -stream <prompt>   Stream a tool-less answer as it arrives
//	turinglab tools                  List the available tools
//	turinglab version                Print version and build information
//	turinglab -o json <command>      JSON output where supported
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
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/sourcegraph/conc"

	"github.com/turinglab/turinglab/internal/agent"
	"github.com/turinglab/turinglab/internal/api"
	"github.com/turinglab/turinglab/internal/buildinfo"
	"github.com/turinglab/turinglab/internal/config"
	"github.com/turinglab/turinglab/internal/connwatch"
	"github.com/turinglab/turinglab/internal/events"
	"github.com/turinglab/turinglab/internal/history"
	"github.com/turinglab/turinglab/internal/llm"
	"github.com/turinglab/turinglab/internal/mqtt"
	"github.com/turinglab/turinglab/internal/prompts"
	"github.com/turinglab/turinglab/internal/search"
	"github.com/turinglab/turinglab/internal/tools"
)

// main constructs the OS-level environment and delegates to [run], so
// the whole lifecycle can be driven from tests.
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run is the real entry point. Arguments are parsed by hand because the
// flag package's global FlagSet prevents calling run concurrently from
// tests.
func run(ctx context.Context, stdout io.Writer, stderr io.Writer, args []string) error {
	var configPath string
	var outputFmt string // "text" (default) or "json"
	var command string
	var cmdArgs []string

	for i := 0; i < len(args); i++ {
		switch {
		case command == "" && args[i] == "-config" && i+1 < len(args):
			configPath = args[i+1]
			i++
		case command == "" && strings.HasPrefix(args[i], "-config="):
			configPath = strings.TrimPrefix(args[i], "-config=")
		case command == "" && (args[i] == "-o" || args[i] == "--output") && i+1 < len(args):
			outputFmt = args[i+1]
			i++
		case command == "" && strings.HasPrefix(args[i], "-o="):
			outputFmt = strings.TrimPrefix(args[i], "-o=")
		case command == "" && strings.HasPrefix(args[i], "--output="):
			outputFmt = strings.TrimPrefix(args[i], "--output=")
		case command == "" && (args[i] == "-h" || args[i] == "-help" || args[i] == "--help"):
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
	case "ask":
		return runAsk(ctx, stdout, stderr, configPath, outputFmt, cmdArgs)
	case "tools":
		return runTools(stdout, stderr, configPath, outputFmt)
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
	info := buildinfo.BuildInfo()
	if outputFmt == "json" {
		return writeJSON(w, info)
	}
	fmt.Fprintln(w, buildinfo.String())
	for _, k := range []string{"version", "git_commit", "git_branch", "build_time", "go_version", "os", "arch"} {
		if v, ok := info[k]; ok {
			fmt.Fprintf(w, "  %-12s %s\n", k+":", v)
		}
	}
	return nil
}

func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "TuringLab - tool-augmented chat agent")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: turinglab [flags] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  serve                        Start the API server")
	fmt.Fprintln(w, "  ask [-simple] [-stream] ...  Ask a single question")
	fmt.Fprintln(w, "  tools                        List available tools")
	fmt.Fprintln(w, "  version                      Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>    Path to config file (default: auto-discover)")
	fmt.Fprintln(w, "  -o, --output fmt  Output format: text (default) or json")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Config search order:")
	fmt.Fprintln(w, "  "+strings.Join(config.DefaultSearchPaths(), ", "))
	return nil
}

// askOptions are the flags accepted after "ask".
type askOptions struct {
	simple bool
	stream bool
	prompt string
}

func parseAskArgs(args []string) (askOptions, error) {
	var opts askOptions
	var words []string
	for i, a := range args {
		switch a {
		case "-simple", "--simple":
			opts.simple = true
		case "-stream", "--stream":
			opts.stream = true
		case "--":
			words = append(words, args[i+1:]...)
			opts.prompt = strings.TrimSpace(strings.Join(words, " "))
			return opts, checkPrompt(opts)
		default:
			words = append(words, a)
		}
	}
	opts.prompt = strings.TrimSpace(strings.Join(words, " "))
	return opts, checkPrompt(opts)
}

func checkPrompt(opts askOptions) error {
	if opts.prompt == "" {
		return fmt.Errorf("usage: turinglab ask [-simple] [-stream] <prompt>")
	}
	return nil
}

// runAsk answers one prompt and exits. Logs go to stderr so stdout
// carries only the answer.
func runAsk(ctx context.Context, stdout, stderr io.Writer, configPath, outputFmt string, args []string) error {
	opts, err := parseAskArgs(args)
	if err != nil {
		return err
	}
	if opts.stream && outputFmt == "json" {
		return fmt.Errorf("-stream cannot be combined with -o json")
	}

	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logger, err := newLogger(stderr, cfg)
	if err != nil {
		return err
	}

	client := llm.NewOllamaClient(cfg.Ollama.URL, cfg.Ollama.Timeout(), logger)

	if opts.stream {
		runCfg := agent.ConfigFrom(cfg)
		prompt := prompts.Render(prompts.SimpleSystemPrompt(), prompts.Context(nil, opts.prompt))
		_, err := client.GenerateStream(ctx, prompt, llm.Options{
			Model:       runCfg.Model,
			Temperature: runCfg.Temperature,
			MaxTokens:   runCfg.MaxTokens,
		}, func(token string) {
			fmt.Fprint(stdout, token)
		})
		fmt.Fprintln(stdout)
		if err != nil {
			return fmt.Errorf("ask: %w", err)
		}
		return nil
	}

	registry, err := tools.NewDefaultRegistry(cfg.Tools, search.FromConfig(cfg.Search, logger), logger)
	if err != nil {
		return err
	}
	orch := agent.New(client, registry, agent.ConfigFrom(cfg), logger)

	runFn := orch.Run
	if opts.simple {
		runFn = orch.RunSimple
	}
	res, err := runFn(ctx, opts.prompt, nil)
	if err != nil {
		return fmt.Errorf("ask: %w", err)
	}

	if outputFmt == "json" {
		return writeJSON(stdout, res)
	}
	fmt.Fprintln(stdout, res.Response)
	if names := res.ToolNames(); len(names) > 0 {
		fmt.Fprintf(stderr, "tools used: %s (%d iterations, %s)\n",
			strings.Join(names, ", "), res.Iterations, res.Termination)
	}
	return nil
}

// runTools lists the registered tools in registration order.
func runTools(stdout, stderr io.Writer, configPath, outputFmt string) error {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logger, err := newLogger(stderr, cfg)
	if err != nil {
		return err
	}
	registry, err := tools.NewDefaultRegistry(cfg.Tools, search.FromConfig(cfg.Search, logger), logger)
	if err != nil {
		return err
	}

	descs := registry.List()
	if outputFmt == "json" {
		return writeJSON(stdout, descs)
	}
	for _, d := range descs {
		fmt.Fprintf(stdout, "%s\n  %s\n", d.Name, d.Description)
		keys := make([]string, 0, len(d.Parameters))
		for k := range d.Parameters {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(stdout, "    %-10s %s\n", k, d.Parameters[k])
		}
	}
	return nil
}

// runServe starts the API server and, when configured, the MQTT
// publisher, and blocks until SIGINT/SIGTERM or ctx cancellation.
//
// Shutdown order: the MQTT publisher announces "offline" and
// disconnects, then the HTTP server drains in-flight requests, then the
// database closes via defer.
func runServe(ctx context.Context, stdout io.Writer, configPath string) error {
	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logger, err := newLogger(stdout, cfg)
	if err != nil {
		return err
	}
	logger.Info("starting TuringLab", "version", buildinfo.Version, "commit", buildinfo.GitCommit, "branch", buildinfo.GitBranch, "built", buildinfo.BuildTime)
	if cfgPath != "" {
		logger.Info("config loaded", "path", cfgPath)
	} else {
		logger.Info("no config file found, using defaults")
	}

	client := llm.NewOllamaClient(cfg.Ollama.URL, cfg.Ollama.Timeout(), logger)

	searchMgr := search.FromConfig(cfg.Search, logger)
	registry, err := tools.NewDefaultRegistry(cfg.Tools, searchMgr, logger)
	if err != nil {
		return err
	}
	logger.Info("tools registered", "tools", registry.Names(), "search", searchMgr.Primary())

	bus := events.New()
	orch := agent.New(client, registry, agent.ConfigFrom(cfg), logger)
	orch.SetEventBus(bus)

	runCfg := orch.Config()
	server := api.NewServer(api.Config{
		Address:      cfg.Listen.Address,
		Port:         cfg.Listen.Port,
		MaxConns:     cfg.Listen.MaxConns,
		APIKeyHash:   cfg.Listen.APIKeyHash,
		HistoryLimit: cfg.Agent.HistoryLimit,
		Generate: llm.Options{
			Model:       runCfg.Model,
			Temperature: runCfg.Temperature,
			MaxTokens:   runCfg.MaxTokens,
		},
	}, orch, client, logger)
	server.SetEventBus(bus)

	var dataDir string
	if cfg.Database.Path != "" {
		dataDir = filepath.Dir(cfg.Database.Path)
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return fmt.Errorf("create data directory: %w", err)
		}
		store, db, err := history.Open(cfg.Database.Path)
		if err != nil {
			return fmt.Errorf("open history database: %w", err)
		}
		defer db.Close()
		server.SetStore(store)
		logger.Info("conversation history enabled", "path", cfg.Database.Path)
	} else {
		logger.Info("conversation history disabled (database.path not set)")
	}

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Requests fail while the backend is down; the server still starts
	// and the watcher reports the outage on /health.
	connMgr := connwatch.NewManager(logger)
	connMgr.SetEventBus(bus)
	defer connMgr.Stop()
	connMgr.Watch(ctx, connwatch.WatcherConfig{
		Name:  "ollama",
		Probe: client.Ping,
	})
	server.SetHealthSource(connMgr)

	var mqttPub *mqtt.Publisher
	if cfg.MQTT.Configured() {
		clientID, err := mqtt.ResolveClientID(cfg.MQTT.ClientID, dataDir)
		if err != nil {
			return fmt.Errorf("resolve mqtt client id: %w", err)
		}
		mqttPub = mqtt.New(cfg.MQTT, clientID, bus, logger)
		connMgr.Watch(ctx, connwatch.WatcherConfig{
			Name: "mqtt",
			Probe: func(pCtx context.Context) error {
				awaitCtx, awaitCancel := context.WithTimeout(pCtx, 2*time.Second)
				defer awaitCancel()
				return mqttPub.AwaitConnection(awaitCtx)
			},
		})
		logger.Info("mqtt publishing enabled", "broker", cfg.MQTT.Broker, "topic_prefix", cfg.MQTT.TopicPrefix)
	} else {
		logger.Info("mqtt publishing disabled (not configured)")
	}

	var wg conc.WaitGroup
	var serveErr error

	wg.Go(func() {
		if err := server.Start(ctx); err != nil {
			serveErr = fmt.Errorf("server failed: %w", err)
			cancel()
		}
	})

	if mqttPub != nil {
		wg.Go(func() {
			if err := mqttPub.Start(ctx); err != nil {
				logger.Error("mqtt publisher failed", "error", err)
			}
		})
	}

	wg.Go(func() {
		<-ctx.Done()
		logger.Info("shutdown signal received")

		if mqttPub != nil {
			offlineCtx, offlineCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer offlineCancel()
			if err := mqttPub.Stop(offlineCtx); err != nil {
				logger.Error("mqtt shutdown failed", "error", err)
			}
		}

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown failed", "error", err)
		}
	})

	wg.Wait()
	if serveErr != nil {
		return serveErr
	}
	logger.Info("TuringLab stopped")
	return nil
}

// loadConfig locates and parses the YAML configuration. With no
// explicit path and no file in the search paths, defaults plus the
// environment overrides are used and the returned path is empty.
func loadConfig(explicit string) (*config.Config, string, error) {
	cfgPath, err := config.FindConfig(explicit)
	if errors.Is(err, config.ErrNoConfig) {
		cfg := config.Default()
		if err := cfg.ApplyEnv(os.Getenv); err != nil {
			return nil, "", err
		}
		if err := cfg.Validate(); err != nil {
			return nil, "", fmt.Errorf("invalid config: %w", err)
		}
		return cfg, "", nil
	}
	if err != nil {
		return nil, "", err
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, cfgPath, fmt.Errorf("load config %s: %w", cfgPath, err)
	}
	return cfg, cfgPath, nil
}

func newLogger(w io.Writer, cfg *config.Config) (*slog.Logger, error) {
	level, err := config.ParseLogLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	return config.NewLogger(w, level, cfg.LogFormat), nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
