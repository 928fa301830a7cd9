package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/uuid"
	"github.com/urfave/cli/v2"

	"github.com/justapithecus/setscout/adapter"
	redisadapter "github.com/justapithecus/setscout/adapter/redis"
	"github.com/justapithecus/setscout/adapter/webhook"
	"github.com/justapithecus/setscout/classify"
	"github.com/justapithecus/setscout/cli/config"
	"github.com/justapithecus/setscout/cli/tui"
	"github.com/justapithecus/setscout/credentials"
	"github.com/justapithecus/setscout/inspect"
	"github.com/justapithecus/setscout/iox"
	"github.com/justapithecus/setscout/log"
	"github.com/justapithecus/setscout/metrics"
	"github.com/justapithecus/setscout/readiness"
	"github.com/justapithecus/setscout/runtime"
	"github.com/justapithecus/setscout/soundcloud"
	"github.com/justapithecus/setscout/types"
)

// completedEventTimeout bounds the session_completed publish.
const completedEventTimeout = 10 * time.Second

// RunCommand returns the run command.
// This is the only command that starts the engine.
func RunCommand() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "Classify feed items from an interceptor (or stdin) until the stream ends",
		Flags: append(StorageFlags(),
			// Session flags
			&cli.StringFlag{
				Name:  "playlist",
				Usage: "Target playlist ID",
			},
			&cli.StringFlag{
				Name:    "client-id",
				Usage:   "API client id (default: the intercepted one)",
				EnvVars: []string{"SETSCOUT_CLIENT_ID"},
			},
			&cli.StringFlag{
				Name:  "api-base-url",
				Usage: "API base URL",
			},
			&cli.IntFlag{
				Name:  "threshold",
				Usage: "Minimum match duration in minutes",
			},
			&cli.IntFlag{
				Name:  "lookup-retries",
				Usage: "Stream lookup write cycles before an item is skipped",
			},
			&cli.BoolFlag{
				Name:  "cancel-on-navigation",
				Usage: "Abandon the in-flight lookup when the page navigates",
			},
			&cli.BoolFlag{
				Name:  "no-likes",
				Usage: "Disable the liked-collection check",
			},
			&cli.BoolFlag{
				Name:  "auto-append",
				Usage: "Append matches to the target playlist",
			},
			// Interceptor flags
			&cli.StringFlag{
				Name:  "interceptor",
				Usage: "Interceptor command (default: read frames from stdin)",
			},
			&cli.StringSliceFlag{
				Name:  "interceptor-arg",
				Usage: "Interceptor argument (repeatable)",
			},
			// Decision log flags
			&cli.IntFlag{
				Name:  "flush-count",
				Usage: "Flush the decision log after N decisions",
			},
			&cli.DurationFlag{
				Name:  "flush-interval",
				Usage: "Flush the decision log on this interval",
			},
			// Adapter flags
			&cli.StringFlag{
				Name:  "adapter",
				Usage: "Decision publisher: webhook or redis",
			},
			&cli.StringFlag{
				Name:  "adapter-url",
				Usage: "Publisher endpoint URL",
			},
			&cli.StringFlag{
				Name:  "adapter-channel",
				Usage: "Redis channel (default " + redisadapter.DefaultChannel + ")",
			},
			&cli.StringFlag{
				Name:  "adapter-stream",
				Usage: "Redis stream that also keeps every event",
			},
			&cli.StringSliceFlag{
				Name:  "adapter-header",
				Usage: "Webhook header as KEY=VALUE (repeatable)",
			},
			&cli.DurationFlag{
				Name:  "adapter-timeout",
				Usage: "Per-publish timeout",
			},
			&cli.IntFlag{
				Name:  "adapter-retries",
				Usage: "Publish retry attempts",
			},
			&cli.BoolFlag{
				Name:  "adapter-matches-only",
				Usage: "Publish matches only",
			},
			// Observability flags
			&cli.StringFlag{
				Name:  "metrics-addr",
				Usage: "Serve Prometheus metrics on this address",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "Log level: debug, info, warn, error",
			},
			&cli.StringFlag{
				Name:  "log-file",
				Usage: "Write logs to a file instead of stderr",
			},
			&cli.BoolFlag{
				Name:  "tui",
				Usage: "Show the live status board",
			},
			&cli.StringFlag{
				Name:  "report",
				Usage: "Write a JSON session report to path (- for stderr)",
			},
			&cli.BoolFlag{
				Name:  "quiet",
				Usage: "Suppress result output",
			},
		),
		Action: runAction,
	}
}

func runAction(c *cli.Context) error {
	cfg, err := resolveRunConfig(c)
	if err != nil {
		return cli.Exit(fmt.Sprintf("invalid config: %v", err), runtime.ExitCodeError)
	}
	useTUI := c.Bool("tui")
	if useTUI && cfg.Interceptor.Command == "" {
		return cli.Exit("--tui requires --interceptor: stdin carries the event stream", runtime.ExitCodeError)
	}

	session := &types.SessionMeta{
		SessionID:  uuid.NewString(),
		PlaylistID: cfg.PlaylistID,
	}

	logger, closeLog, err := buildLogger(session, cfg.LogLevel, c.String("log-file"), useTUI)
	if err != nil {
		return cli.Exit(err.Error(), runtime.ExitCodeError)
	}
	defer closeLog()

	collector := metrics.NewCollector(cfg.Storage.Backend, cfg.Adapter.Type, session.SessionID, session.PlaylistID)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	creds := credentials.NewStore()
	client, err := soundcloud.New(soundcloud.Config{
		BaseURL: cfg.APIBaseURL,
		ClientID: func() string {
			if cfg.ClientID != "" {
				return cfg.ClientID
			}
			return creds.ClientIDValue()
		},
		Authorization: creds.Authorization,
	})
	if err != nil {
		return cli.Exit(fmt.Sprintf("failed to create API client: %v", err), runtime.ExitCodeError)
	}
	defer iox.DiscardClose(client)

	presenters := classify.Presenters{}

	recorder, err := buildRecorder(ctx, cfg, *session, logger, collector)
	if err != nil {
		return cli.Exit(err.Error(), runtime.ExitCodeError)
	}
	var flush runtime.FlushFunc
	if recorder != nil {
		defer iox.DiscardClose(recorder)
		presenters = append(presenters, recorder)
		flush = recorder.Flush
	}

	pub, err := buildAdapter(cfg.Adapter)
	if err != nil {
		return cli.Exit(fmt.Sprintf("invalid adapter config: %v", err), runtime.ExitCodeError)
	}
	if pub != nil {
		defer iox.DiscardClose(pub)
		opts := []adapter.PresenterOption{
			adapter.WithLogger(logger.Named("adapter")),
			adapter.WithCollector(collector),
		}
		if cfg.Adapter.MatchesOnly {
			opts = append(opts, adapter.MatchesOnly())
		}
		presenters = append(presenters, adapter.NewPresenter(pub, *session, opts...))
	}

	var board *tui.Board
	var onReadiness func(readiness.Snapshot)
	if useTUI {
		board = tui.NewBoard(*session, tea.WithAltScreen(), tea.WithContext(ctx))
		presenters = append(presenters, board)
		onReadiness = board.Readiness
	}

	runCfg := &runtime.RunConfig{
		Engine: runtime.EngineConfig{
			Session:            session,
			ClientID:           cfg.ClientID,
			Threshold:          cfg.Threshold(),
			LookupRetries:      *cfg.LookupRetries,
			CancelOnNavigation: cfg.CancelOnNavigation,
			UseLikes:           *cfg.UseLikes,
			AutoAppend:         cfg.AutoAppend,
		},
		Deps: runtime.EngineDeps{
			Credentials: creds,
			Membership:  client,
			Confirmer:   client,
			Inspector: inspect.NewHTMLInspector(inspect.Selectors{
				Playlist: cfg.Inspector.Playlist,
				Liked:    cfg.Inspector.Liked,
				Link:     cfg.Inspector.Link,
			}),
			Presenter:   presenters,
			OnReadiness: onReadiness,
			Logger:      logger,
			Collector:   collector,
		},
		Flush: flush,
	}
	if cfg.Interceptor.Command != "" {
		runCfg.Interceptor = &runtime.InterceptorConfig{
			Command: cfg.Interceptor.Command,
			Args:    cfg.Interceptor.Args,
			Env:     envList(cfg.Interceptor.Env),
		}
	} else {
		runCfg.Engine.Source = os.Stdin
	}

	orchestrator, err := runtime.NewRunOrchestrator(runCfg)
	if err != nil {
		return cli.Exit(fmt.Sprintf("failed to create orchestrator: %v", err), runtime.ExitCodeError)
	}

	if cfg.Metrics.Addr != "" {
		go func() {
			if err := metrics.Serve(ctx, cfg.Metrics.Addr, collector); err != nil {
				logger.Warn("metrics endpoint failed", map[string]any{
					"addr":  cfg.Metrics.Addr,
					"error": err.Error(),
				})
			}
		}()
	}

	var result *runtime.RunResult
	if board != nil {
		result, err = executeWithBoard(ctx, stop, orchestrator, board, logger)
	} else {
		result, err = orchestrator.Execute(ctx)
	}
	if err != nil {
		return cli.Exit(fmt.Sprintf("execution failed: %v", err), runtime.ExitCodeError)
	}

	exitCode := result.Outcome.ExitCode()

	if pub != nil {
		publishCompleted(pub, *session, result, logger)
	}

	if reportPath := c.String("report"); reportPath != "" {
		report := runtime.BuildSessionReport(result, exitCode)
		if err := runtime.WriteSessionReport(report, reportPath); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		}
	}

	if !c.Bool("quiet") && board == nil {
		var persisted int64 = -1
		if recorder != nil {
			persisted = recorder.Persisted()
		}
		printRunResult(c.App.Writer, result, persisted)
	}

	return cli.Exit("", exitCode)
}

// executeWithBoard runs the session while the board owns the terminal.
// Quitting the board before the session ends cancels the session.
func executeWithBoard(ctx context.Context, cancel context.CancelFunc, orchestrator *runtime.RunOrchestrator, board *tui.Board, logger *log.Logger) (*runtime.RunResult, error) {
	type outcome struct {
		result *runtime.RunResult
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		result, err := orchestrator.Execute(ctx)
		switch {
		case err != nil:
			board.Done(string(runtime.OutcomeError), err.Error())
		default:
			board.Done(string(result.Outcome.Status), result.Outcome.Message)
		}
		done <- outcome{result, err}
	}()

	if err := board.Run(cancel); err != nil {
		logger.Warn("status board failed", map[string]any{"error": err.Error()})
	}
	out := <-done
	return out.result, out.err
}

func publishCompleted(pub adapter.Adapter, session types.SessionMeta, result *runtime.RunResult, logger *log.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), completedEventTimeout)
	defer cancel()

	event := adapter.NewSessionCompletedEvent(session, string(result.Outcome.Status),
		result.Stats.Matches, result.Stats.Skips, time.Now())
	if err := pub.Publish(ctx, event); err != nil {
		logger.Warn("session_completed publish failed", map[string]any{"error": err.Error()})
	}
}

// resolveRunConfig merges run flags over the config file and applies defaults.
func resolveRunConfig(c *cli.Context) (config.Config, error) {
	fileCfg, err := loadConfig(c)
	if err != nil {
		return config.Config{}, err
	}
	cfg := *fileCfg

	cfg.PlaylistID = resolveString(c, "playlist", cfg.PlaylistID)
	cfg.ClientID = resolveString(c, "client-id", cfg.ClientID)
	cfg.APIBaseURL = resolveString(c, "api-base-url", cfg.APIBaseURL)
	cfg.ThresholdMinutes = resolveIntPtr(c, "threshold", cfg.ThresholdMinutes)
	cfg.LookupRetries = resolveIntPtr(c, "lookup-retries", cfg.LookupRetries)
	cfg.CancelOnNavigation = resolveBool(c, "cancel-on-navigation", cfg.CancelOnNavigation)
	cfg.AutoAppend = resolveBool(c, "auto-append", cfg.AutoAppend)
	if c.IsSet("no-likes") {
		useLikes := !c.Bool("no-likes")
		cfg.UseLikes = &useLikes
	}
	cfg.LogLevel = resolveString(c, "log-level", cfg.LogLevel)

	cfg.Interceptor.Command = resolveString(c, "interceptor", cfg.Interceptor.Command)
	if c.IsSet("interceptor-arg") {
		cfg.Interceptor.Args = c.StringSlice("interceptor-arg")
	}

	applyStorageFlags(c, &cfg)
	cfg.Storage.FlushCount = resolveInt(c, "flush-count", cfg.Storage.FlushCount)
	cfg.Storage.FlushInterval.Duration = resolveDuration(c, "flush-interval", cfg.Storage.FlushInterval.Duration)

	if err := applyAdapterFlags(c, &cfg.Adapter); err != nil {
		return config.Config{}, err
	}
	cfg.Metrics.Addr = resolveString(c, "metrics-addr", cfg.Metrics.Addr)

	full := cfg.WithDefaults()
	if err := full.Validate(); err != nil {
		return config.Config{}, err
	}
	return full, nil
}

func applyAdapterFlags(c *cli.Context, a *config.AdapterConfig) error {
	a.Type = resolveString(c, "adapter", a.Type)
	a.URL = resolveString(c, "adapter-url", a.URL)
	a.Channel = resolveString(c, "adapter-channel", a.Channel)
	a.Stream = resolveString(c, "adapter-stream", a.Stream)
	a.Timeout.Duration = resolveDuration(c, "adapter-timeout", a.Timeout.Duration)
	a.Retries = resolveIntPtr(c, "adapter-retries", a.Retries)
	a.MatchesOnly = resolveBool(c, "adapter-matches-only", a.MatchesOnly)

	headers, err := parseHeaders(c.StringSlice("adapter-header"))
	if err != nil {
		return err
	}
	if len(headers) > 0 {
		merged := make(map[string]string, len(a.Headers)+len(headers))
		for k, v := range a.Headers {
			merged[k] = v
		}
		for k, v := range headers {
			merged[k] = v
		}
		a.Headers = merged
	}
	return nil
}

// parseHeaders parses KEY=VALUE pairs.
func parseHeaders(values []string) (map[string]string, error) {
	headers := make(map[string]string, len(values))
	for _, h := range values {
		k, v, ok := strings.Cut(h, "=")
		if !ok || strings.TrimSpace(k) == "" {
			return nil, fmt.Errorf("malformed --adapter-header %q (expected KEY=VALUE)", h)
		}
		headers[strings.TrimSpace(k)] = v
	}
	return headers, nil
}

// buildAdapter creates the configured publisher, or nil when none is set.
func buildAdapter(a config.AdapterConfig) (adapter.Adapter, error) {
	switch a.Type {
	case "":
		return nil, nil
	case "webhook":
		retries := webhook.DefaultRetries
		if a.Retries != nil {
			retries = *a.Retries
		}
		return webhook.New(webhook.Config{
			URL:     a.URL,
			Headers: a.Headers,
			Timeout: a.Timeout.Duration,
			Retries: retries,
		})
	case "redis":
		retries := redisadapter.DefaultRetries
		if a.Retries != nil {
			retries = *a.Retries
		}
		return redisadapter.New(redisadapter.Config{
			URL:     a.URL,
			Channel: a.Channel,
			Stream:  a.Stream,
			Timeout: a.Timeout.Duration,
			Retries: retries,
		})
	default:
		return nil, fmt.Errorf("unknown adapter type: %s (must be webhook or redis)", a.Type)
	}
}

// buildLogger creates the session logger. The status board owns the
// terminal, so without a log file its logs are discarded.
func buildLogger(session *types.SessionMeta, level, path string, tuiMode bool) (*log.Logger, func(), error) {
	logger := log.NewLogger(session)
	lvl, err := log.ParseLevel(level)
	if err != nil {
		return nil, nil, err
	}
	logger.SetLevel(lvl)

	switch {
	case path != "":
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("cannot open log file: %w", err)
		}
		return logger.WithOutput(f), func() {
			_ = logger.Sync()
			iox.DiscardClose(f)
		}, nil
	case tuiMode:
		return logger.WithOutput(io.Discard), func() {}, nil
	default:
		return logger, func() { _ = logger.Sync() }, nil
	}
}

// envList renders interceptor env as sorted KEY=VALUE entries.
func envList(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	slices.Sort(out)
	return out
}

// printRunResult writes the human summary. persisted is -1 without storage.
func printRunResult(w io.Writer, result *runtime.RunResult, persisted int64) {
	s := result.Stats
	fmt.Fprintf(w, "\nsession_id=%s, outcome=%s, duration=%s\n",
		result.Session.SessionID,
		result.Outcome.Status,
		result.Duration.Round(time.Millisecond),
	)

	fmt.Fprintf(w, "\n=== Session Result ===\n")
	fmt.Fprintf(w, "Session ID:   %s\n", result.Session.SessionID)
	fmt.Fprintf(w, "Playlist:     %s\n", result.Session.PlaylistID)
	fmt.Fprintf(w, "Outcome:      %s\n", result.Outcome.Status)
	fmt.Fprintf(w, "Message:      %s\n", result.Outcome.Message)
	fmt.Fprintf(w, "Members:      %d\n", result.Members)
	fmt.Fprintf(w, "Readiness:    %s\n", result.Readiness.Summary())

	fmt.Fprintf(w, "\n=== Decisions ===\n")
	fmt.Fprintf(w, "Matches:      %d\n", s.Matches)
	fmt.Fprintf(w, "Skips:        %d\n", s.Skips)
	reasons := make([]string, 0, len(s.SkipsByReason))
	for r := range s.SkipsByReason {
		reasons = append(reasons, r)
	}
	slices.Sort(reasons)
	for _, r := range reasons {
		fmt.Fprintf(w, "  %-24s %d\n", r+":", s.SkipsByReason[r])
	}
	if s.AppendSuccess > 0 || s.AppendFailure > 0 {
		fmt.Fprintf(w, "Appended:     %d (%d failed)\n", s.AppendSuccess, s.AppendFailure)
	}
	if persisted >= 0 {
		fmt.Fprintf(w, "Persisted:    %d\n", persisted)
	}

	if result.StderrOutput != "" {
		fmt.Fprintf(w, "\n=== Interceptor Stderr ===\n")
		fmt.Fprintf(w, "%s", result.StderrOutput)
	}
}
