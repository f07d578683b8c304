// Maxd is an autonomous home AI agent.
//
// It watches the house through a camera and object detection, keeps a
// running inner monologue, speaks up on its own when something is
// worth saying, answers questions over a local HTTP API, and repairs
// its own known failure modes. Configuration is loaded from a single
// YAML file discovered automatically (see [config.DefaultSearchPaths]).
//
// Usage:
//
//	maxd serve               Start the agent daemon
//	maxd ask <question>      Ask a single question (for testing)
//	maxd version             Print version and build information
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver for database/sql

	"github.com/Pl4yer-ONE/jarvis-commander/internal/api"
	"github.com/Pl4yer-ONE/jarvis-commander/internal/brain"
	"github.com/Pl4yer-ONE/jarvis-commander/internal/buildinfo"
	"github.com/Pl4yer-ONE/jarvis-commander/internal/config"
	"github.com/Pl4yer-ONE/jarvis-commander/internal/freetalk"
	"github.com/Pl4yer-ONE/jarvis-commander/internal/heal"
	"github.com/Pl4yer-ONE/jarvis-commander/internal/llm"
	"github.com/Pl4yer-ONE/jarvis-commander/internal/memory"
	"github.com/Pl4yer-ONE/jarvis-commander/internal/mirror"
	"github.com/Pl4yer-ONE/jarvis-commander/internal/sentinel"
	"github.com/Pl4yer-ONE/jarvis-commander/internal/skills"
	"github.com/Pl4yer-ONE/jarvis-commander/internal/speech"
	"github.com/Pl4yer-ONE/jarvis-commander/internal/statebus"
	"github.com/Pl4yer-ONE/jarvis-commander/internal/thought"
	"github.com/Pl4yer-ONE/jarvis-commander/internal/worker"
)

// main constructs the OS-level environment and delegates to [run],
// keeping os.Exit, os.Stdout, and os.Args out of the application logic
// so the full lifecycle can be driven from tests.
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run parses arguments by hand. The flag package relies on global
// state (flag.CommandLine), which makes concurrent test invocations
// awkward, and the argument surface here is tiny.
func run(ctx context.Context, stdout io.Writer, stderr io.Writer, args []string) error {
	var configPath string
	var command string
	var cmdArgs []string

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-config" && i+1 < len(args):
			configPath = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-config="):
			configPath = strings.TrimPrefix(args[i], "-config=")
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

	switch command {
	case "serve":
		return runServe(ctx, stdout, configPath)
	case "ask":
		if len(cmdArgs) == 0 {
			return fmt.Errorf("usage: maxd ask <question>")
		}
		return runAsk(ctx, stdout, configPath, cmdArgs)
	case "version":
		fmt.Fprintln(stdout, buildinfo.String())
		return nil
	case "":
		return printUsage(stdout)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "Maxd - Autonomous Home AI Agent")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: maxd [flags] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  serve        Start the agent daemon")
	fmt.Fprintln(w, "  ask          Ask a single question (for testing)")
	fmt.Fprintln(w, "  version      Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>   Path to config file (default: auto-discover)")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Config search order:")
	fmt.Fprintln(w, "  ./config.yaml, ~/.config/maxd/config.yaml, /etc/maxd/config.yaml")
	return nil
}

// runAsk boots a minimal brain (no sentinel, no thought engine, no
// speech) and processes one question.
func runAsk(ctx context.Context, stdout io.Writer, configPath string, args []string) error {
	logger := newLogger(stdout, slog.LevelWarn)

	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	client, err := llm.New(llmConfig(cfg), logger)
	if err != nil {
		return err
	}

	registry := skills.NewRegistry(logger)
	skills.RegisterBuiltins(registry, skills.Deps{})

	b := brain.New(client, registry, brain.Options{
		SystemPrompt:  cfg.Brain.SystemPrompt,
		MaxHistory:    cfg.Brain.MaxHistory,
		MaxToolRounds: cfg.Brain.MaxToolRounds,
	}, logger)

	fmt.Fprintln(stdout, b.Think(ctx, strings.Join(args, " ")))
	return nil
}

// runServe is the primary operating mode. Construction order matters:
// bus first, then collaborators, then consumers, then workers, so that
// no component ever sees a half-built dependency.
func runServe(ctx context.Context, stdout io.Writer, configPath string) error {
	logger := newLogger(stdout, slog.LevelInfo)
	logger.Info("starting maxd", "version", buildinfo.Version, "commit", buildinfo.GitCommit)

	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if cfg.LogLevel != "" {
		level, err := config.ParseLogLevel(cfg.LogLevel)
		if err != nil {
			return err
		}
		logger = newLogger(stdout, level)
	}
	logger.Info("config loaded", "path", cfgPath, "backend", cfg.LLM.Backend)

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data directory %s: %w", cfg.DataDir, err)
	}

	// Reasoning backend.
	client, err := llm.New(llmConfig(cfg), logger)
	if err != nil {
		return err
	}
	if err := client.Ping(ctx); err != nil {
		logger.Warn("reasoning backend not reachable yet", "error", err)
	}

	// Long-term memory.
	mem, err := memory.Open(filepath.Join(cfg.DataDir, "memory.db"), logger)
	if err != nil {
		return fmt.Errorf("open memory database: %w", err)
	}
	defer mem.Close()

	// Speech.
	var speaker speech.Speaker = speech.Null{}
	if cfg.Speech.Enabled {
		speaker = speech.NewExecSpeaker(ctx, cfg.Speech.Command, logger)
	}

	// State bus and skills.
	bus := statebus.New(logger)
	registry := skills.NewRegistry(logger)
	skills.RegisterBuiltins(registry, skills.Deps{
		Bus:     bus,
		Memory:  mem,
		Speaker: speaker,
	})
	logger.Info("skills registered", "count", registry.Count())

	// Brain.
	b := brain.New(client, registry, brain.Options{
		SystemPrompt:  cfg.Brain.SystemPrompt,
		MaxHistory:    cfg.Brain.MaxHistory,
		MaxToolRounds: cfg.Brain.MaxToolRounds,
		LiveContext:   func() string { return sentinel.LiveContext(bus) },
		Memory:        mem,
	}, logger)

	// Thought buffer and engine.
	buffer := thought.NewBuffer()
	engine := thought.NewEngine(client, bus, buffer, thought.EngineOptions{
		History: b.History,
		Memory:  mem,
	}, logger)

	// Autonomous speech.
	minInterval := time.Duration(cfg.FreeTalk.MinIntervalSec) * time.Second
	talker := freetalk.New(buffer, speaker, minInterval, logger)

	// Supervisor for all background workers.
	sup := worker.NewSupervisor(worker.Policy{
		RestartDelay:   time.Duration(cfg.Sentinel.RestartDelaySec) * time.Second,
		MaxConsecutive: 10,
		OnEscalate: func(name string, crashes int) {
			speaker.Speak(fmt.Sprintf("My %s worker keeps crashing. Something needs attention.", name))
		},
	}, logger)

	// Sentinel producers.
	sentinelOpts := []sentinel.Option{
		sentinel.WithThoughtSync(buffer),
		sentinel.WithMirrorFile(filepath.Join(cfg.DataDir, "state.json")),
		sentinel.WithSelfChecks(
			client.Ping,
			sentinel.DiskSpaceCheck(90),
		),
	}
	if cfg.Sentinel.Camera.Enabled {
		sentinelOpts = append(sentinelOpts, sentinel.WithFrameSource(
			&sentinel.V4LFrameSource{Device: cfg.Sentinel.Camera.Device}))
	}
	if cfg.Sentinel.Detect.Enabled {
		sentinelOpts = append(sentinelOpts, sentinel.WithDetector(
			sentinel.NewHTTPDetector(cfg.Sentinel.Detect.ServiceURL)))
	}
	sent := sentinel.New(bus, cfg.Sentinel, logger, sentinelOpts...)
	sent.Start(ctx, sup)

	if cfg.Thought.Enabled {
		interval := time.Duration(cfg.Thought.IntervalSec) * time.Second
		sup.Go(ctx, "thought-engine", worker.Every(interval, engine.Cycle))
	}
	if cfg.FreeTalk.Enabled {
		sup.Go(ctx, "free-talk", worker.Every(5*time.Second, talker.Tick))
	}
	if cfg.Heal.Enabled {
		monitor := heal.NewMonitor(bus, client, speaker, cfg.Heal.LogFile, logger)
		interval := time.Duration(cfg.Heal.IntervalSec) * time.Second
		sup.Go(ctx, "self-heal", worker.Every(interval, monitor.Scan))
	}
	if cfg.MQTT.Enabled {
		sup.Go(ctx, "mqtt-mirror", mirror.NewMQTT(cfg.MQTT, bus, logger).Run)
	}

	// Observe API blocks until shutdown.
	if cfg.Listen.Enabled {
		server := api.New(bus, b, buffer, talker, logger)
		if cfg.Speech.Enabled {
			server.WithSpeaker(speaker)
		}
		addr := api.Addr(cfg.Listen.Address, cfg.Listen.Port)
		if err := server.ListenAndServe(ctx, addr); err != nil && ctx.Err() == nil {
			return fmt.Errorf("observe API: %w", err)
		}
	} else {
		<-ctx.Done()
	}

	logger.Info("shutting down")
	speaker.Interrupt()
	sup.Wait()
	logger.Info("maxd stopped")
	return nil
}

// newLogger standardizes handler configuration across subcommands.
func newLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: config.ReplaceLogLevelNames,
	}))
}

func loadConfig(explicit string) (*config.Config, string, error) {
	cfgPath, err := config.FindConfig(explicit)
	if err != nil {
		// No config anywhere: run on defaults rather than refusing to
		// start.
		return config.Default(), "(defaults)", nil
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, cfgPath, fmt.Errorf("load config %s: %w", cfgPath, err)
	}
	return cfg, cfgPath, nil
}

func llmConfig(cfg *config.Config) llm.Config {
	return llm.Config{
		Backend:     cfg.LLM.Backend,
		OllamaHost:  cfg.LLM.Ollama.Host,
		OllamaModel: cfg.LLM.Ollama.Model,
		OpenAIKey:   cfg.LLM.OpenAI.APIKey,
		OpenAIModel: cfg.LLM.OpenAI.Model,
		GeminiKey:   cfg.LLM.Gemini.APIKey,
		GeminiModel: cfg.LLM.Gemini.Model,
	}
}
