package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/civitas-io/agora/internal/config"
	"github.com/civitas-io/agora/internal/engine"
	"github.com/civitas-io/agora/internal/mcp"
	"github.com/civitas-io/agora/internal/queue"
	"github.com/civitas-io/agora/internal/store"
)

const version = "0.1.0-dev"

// globalOptions are flags accepted before or after any command.
type globalOptions struct {
	configPath string
	dbPath     string
	logLevel   string
}

func main() {
	args, globals, err := splitGlobals(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if len(args) == 0 {
		printUsage()
		os.Exit(0)
	}

	cmd, rest := args[0], args[1:]
	switch cmd {
	case "version", "--version", "-v":
		fmt.Printf("agora %s\n", version)
		return
	case "help", "--help", "-h":
		printUsage()
		return
	}

	if err := run(cmd, rest, globals); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(cmd string, args []string, globals globalOptions) error {
	resolved, err := config.ResolveConfig(config.ResolveOptions{
		ConfigPath:  globals.configPath,
		CLIDBPath:   globals.dbPath,
		CLILogLevel: globals.logLevel,
	})
	if err != nil {
		return err
	}

	setupLogging(resolved.LogLevel.Value)

	if cmd == "config" {
		return printJSON(resolved)
	}

	engCfg, err := resolved.EngineConfig()
	if err != nil {
		return err
	}

	st, err := store.NewStore(store.StoreConfig{DBPath: resolved.EffectiveDBPath().Value})
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	eng := engine.NewEngine(st, engCfg)
	svc := queue.NewService(st, eng, slog.Default())
	if maxAttempts, err := resolved.EffectiveMaxAttempts(); err != nil {
		return err
	} else if maxAttempts > 0 {
		svc.MaxAttempts = maxAttempts
	}
	ctx := context.Background()

	switch cmd {
	case "eligibility":
		return runEligibility(ctx, eng, args)
	case "compute":
		return runCompute(ctx, eng, args)
	case "landscape":
		return runLandscape(ctx, eng, args)
	case "enqueue":
		return runEnqueue(ctx, svc, args)
	case "work":
		return runWork(ctx, svc, args)
	case "queue-stats":
		return printJSONFrom(svc.Stats(ctx))
	case "cleanup":
		return runCleanup(ctx, st, svc, args)
	case "stats":
		return printJSONFrom(st.Stats(ctx))
	case "vacuum":
		if err := st.Vacuum(ctx); err != nil {
			return err
		}
		fmt.Println("Database compacted")
		return nil
	case "mcp":
		srv := mcp.NewServer(mcp.ServerConfig{
			Store:   st,
			Engine:  eng,
			Queue:   svc,
			Version: version,
		})
		slog.Info("starting MCP server on stdio", "version", version)
		return mcpserver.ServeStdio(srv)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		os.Exit(1)
		return nil
	}
}

func runEligibility(ctx context.Context, eng *engine.Engine, args []string) error {
	pollID, err := singlePollArg(args, "eligibility")
	if err != nil {
		return err
	}
	elig, err := eng.IsEligible(ctx, pollID)
	if err != nil {
		return err
	}
	return printJSON(elig)
}

func runCompute(ctx context.Context, eng *engine.Engine, args []string) error {
	pollID, err := singlePollArg(args, "compute")
	if err != nil {
		return err
	}
	landscape, err := eng.ComputeLandscape(ctx, pollID)
	if err != nil {
		return err
	}
	return printJSON(landscape)
}

func runLandscape(ctx context.Context, eng *engine.Engine, args []string) error {
	pollID, err := singlePollArg(args, "landscape")
	if err != nil {
		return err
	}
	landscape, err := eng.LatestLandscape(ctx, pollID)
	if errors.Is(err, store.ErrNoSnapshot) {
		return fmt.Errorf("no landscape computed yet for poll %s (run: agora compute %s)", pollID, pollID)
	}
	if err != nil {
		return err
	}
	return printJSON(landscape)
}

func runEnqueue(ctx context.Context, svc *queue.Service, args []string) error {
	pollID, err := singlePollArg(args, "enqueue")
	if err != nil {
		return err
	}
	enqueued, err := svc.Enqueue(ctx, pollID)
	if err != nil {
		return err
	}
	if enqueued {
		fmt.Printf("Enqueued clustering job for poll %s\n", pollID)
	} else {
		fmt.Printf("Poll %s already has a pending or processing job\n", pollID)
	}
	return nil
}

func runWork(ctx context.Context, svc *queue.Service, args []string) error {
	maxJobs := 0
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--max", "-n":
			if i+1 >= len(args) {
				return fmt.Errorf("--max requires a value")
			}
			i++
			n, err := strconv.Atoi(args[i])
			if err != nil || n <= 0 {
				return fmt.Errorf("invalid --max value %q", args[i])
			}
			maxJobs = n
		default:
			return fmt.Errorf("unknown flag: %s", args[i])
		}
	}

	report, err := svc.ProcessQueue(ctx, maxJobs)
	if err != nil {
		return err
	}
	return printJSON(report)
}

func runCleanup(ctx context.Context, st store.Store, svc *queue.Service, args []string) error {
	days := 30
	stuckAfter := time.Duration(0)
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--days":
			if i+1 >= len(args) {
				return fmt.Errorf("--days requires a value")
			}
			i++
			n, err := strconv.Atoi(args[i])
			if err != nil || n < 0 {
				return fmt.Errorf("invalid --days value %q", args[i])
			}
			days = n
		case "--requeue-stuck":
			if i+1 >= len(args) {
				return fmt.Errorf("--requeue-stuck requires a duration (e.g. 30m)")
			}
			i++
			d, err := time.ParseDuration(args[i])
			if err != nil || d <= 0 {
				return fmt.Errorf("invalid --requeue-stuck value %q", args[i])
			}
			stuckAfter = d
		default:
			return fmt.Errorf("unknown flag: %s", args[i])
		}
	}

	removed, err := svc.Cleanup(ctx, days)
	if err != nil {
		return err
	}
	fmt.Printf("Removed %d finished jobs older than %d days\n", removed, days)

	if stuckAfter > 0 {
		requeued, err := st.RequeueStuckJobs(ctx, stuckAfter)
		if err != nil {
			return err
		}
		fmt.Printf("Requeued %d jobs stuck in processing for over %s\n", requeued, stuckAfter)
	}
	return nil
}

// splitGlobals extracts --config/--db/--log-level from anywhere in the
// argument list; everything else stays in command order.
func splitGlobals(args []string) ([]string, globalOptions, error) {
	var globals globalOptions
	rest := make([]string, 0, len(args))

	for i := 0; i < len(args); i++ {
		arg := args[i]
		var dst *string
		switch {
		case arg == "--config":
			dst = &globals.configPath
		case arg == "--db":
			dst = &globals.dbPath
		case arg == "--log-level":
			dst = &globals.logLevel
		case strings.HasPrefix(arg, "--config="):
			globals.configPath = strings.TrimPrefix(arg, "--config=")
			continue
		case strings.HasPrefix(arg, "--db="):
			globals.dbPath = strings.TrimPrefix(arg, "--db=")
			continue
		case strings.HasPrefix(arg, "--log-level="):
			globals.logLevel = strings.TrimPrefix(arg, "--log-level=")
			continue
		default:
			rest = append(rest, arg)
			continue
		}
		if i+1 >= len(args) {
			return nil, globals, fmt.Errorf("%s requires a value", arg)
		}
		i++
		*dst = args[i]
	}
	return rest, globals, nil
}

func setupLogging(level string) {
	lvl := slog.LevelInfo
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})))
}

func singlePollArg(args []string, cmd string) (string, error) {
	if len(args) != 1 || strings.TrimSpace(args[0]) == "" {
		return "", fmt.Errorf("usage: agora %s <poll-id>", cmd)
	}
	return args[0], nil
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func printJSONFrom[T any](v T, err error) error {
	if err != nil {
		return err
	}
	return printJSON(v)
}

func printUsage() {
	fmt.Printf(`agora %s — Opinion clustering engine for deliberative polls

Usage:
  agora <command> [arguments]

Commands:
  eligibility <poll-id>   Check whether a poll can be clustered
  compute <poll-id>       Run the clustering pipeline synchronously
  landscape <poll-id>     Show the latest computed landscape
  enqueue <poll-id>       Queue a background clustering job
  work                    Process pending clustering jobs
  queue-stats             Show job counts by status
  cleanup                 Remove old finished jobs
  stats                   Show database statistics
  vacuum                  Compact the database file
  config                  Show resolved configuration and sources
  mcp                     Serve the MCP interface on stdio
  version                 Print version

Work Flags:
  -n, --max <n>           Process at most n jobs

Cleanup Flags:
  --days <n>              Keep finished jobs newer than n days (default 30)
  --requeue-stuck <dur>   Also requeue jobs stuck in processing longer than dur

Global Flags:
  --config <path>         Config file (default ~/.agora/config.yaml)
  --db <path>             Database file (default ~/.agora/agora.db)
  --log-level <level>     debug, info, warn, or error
  -h, --help              Show this help message
  -v, --version           Print version
`, version)
}
