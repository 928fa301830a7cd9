package runtime

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/justapithecus/setscout/log"
	"github.com/justapithecus/setscout/metrics"
	"github.com/justapithecus/setscout/readiness"
	"github.com/justapithecus/setscout/types"
)

// InterceptorFactory creates an Interceptor. Used for test injection.
type InterceptorFactory func(config *InterceptorConfig) Interceptor

// FlushFunc drains buffered outputs at the end of a session.
type FlushFunc func(ctx context.Context) error

// flushTimeout bounds the best-effort flush on every termination path.
const flushTimeout = 30 * time.Second

// RunConfig configures a single session.
type RunConfig struct {
	// Interceptor launches the event source as a subprocess.
	// If nil, Engine.Source must be set.
	Interceptor *InterceptorConfig
	// InterceptorFactory overrides interceptor creation (for testing).
	// If nil, uses NewInterceptorManager.
	InterceptorFactory InterceptorFactory
	// Engine configures the engine. Its Session is required.
	Engine EngineConfig
	// Deps are the engine collaborators.
	Deps EngineDeps
	// Flush is called once the engine stops. May be nil.
	Flush FlushFunc
}

// RunResult represents the result of a session.
type RunResult struct {
	// Session is the session identity.
	Session *types.SessionMeta
	// Outcome is how the session ended.
	Outcome *Outcome
	// Duration is the total session duration.
	Duration time.Duration
	// Stats is the final counter snapshot.
	Stats metrics.Snapshot
	// Readiness is the final readiness record.
	Readiness readiness.Snapshot
	// Members is the target collection size, 0 if it never loaded.
	Members int
	// StderrOutput is the captured interceptor stderr.
	StderrOutput string
}

// RunOrchestrator runs one engine session end to end.
type RunOrchestrator struct {
	config    *RunConfig
	logger    *log.Logger
	startTime time.Time
}

// NewRunOrchestrator creates a new orchestrator.
func NewRunOrchestrator(config *RunConfig) (*RunOrchestrator, error) {
	if config.Engine.Session == nil || config.Engine.Session.SessionID == "" {
		return nil, errors.New("invalid session: session id is required")
	}
	if config.Interceptor == nil && config.Engine.Source == nil {
		return nil, errors.New("either an interceptor or an event source is required")
	}

	logger := config.Deps.Logger
	if logger == nil {
		logger = log.NewLogger(config.Engine.Session)
		config.Deps.Logger = logger
	}

	return &RunOrchestrator{
		config: config,
		logger: logger,
	}, nil
}

// Execute runs the session.
//
// Execution flow:
//  1. Start the interceptor process, if configured
//  2. Run the engine over its stdout (or the configured source)
//  3. Kill the interceptor on engine failure, then reap it
//  4. Flush outputs (best effort)
//  5. Determine outcome
func (r *RunOrchestrator) Execute(ctx context.Context) (*RunResult, error) {
	r.startTime = time.Now()
	collector := r.config.Deps.Collector

	var interceptor Interceptor
	if r.config.Interceptor != nil {
		if r.config.Interceptor.Session == nil {
			r.config.Interceptor.Session = r.config.Engine.Session
		}
		if r.config.InterceptorFactory != nil {
			interceptor = r.config.InterceptorFactory(r.config.Interceptor)
		} else {
			interceptor = NewInterceptorManager(r.config.Interceptor)
		}

		r.logger.Info("starting interceptor", map[string]any{
			"command": r.config.Interceptor.Command,
		})
		if err := interceptor.Start(ctx); err != nil {
			collector.IncInterceptorLaunchFailure()
			r.logger.Error("failed to start interceptor", map[string]any{
				"error": err.Error(),
			})
			r.flush(ctx)
			return r.buildResult(&Outcome{
				Status:  OutcomeInterceptorCrash,
				Message: fmt.Sprintf("failed to start interceptor: %v", err),
			}, "", nil), nil
		}
		collector.IncInterceptorLaunchSuccess()
		r.config.Engine.Source = interceptor.Stdout()
	}

	engine, err := NewEngine(r.config.Engine, r.config.Deps)
	if err != nil {
		if interceptor != nil {
			_ = interceptor.Kill()
			_, _ = interceptor.Wait()
		}
		return nil, fmt.Errorf("build engine: %w", err)
	}

	// The engine drains stdout before Wait, which closes the pipe.
	runErr := engine.Run(ctx)

	if runErr != nil && interceptor != nil {
		r.logger.Warn("killing interceptor after engine error", map[string]any{
			"error": runErr.Error(),
		})
		_ = interceptor.Kill()
	}

	var stderr string
	var exitOutcome *Outcome
	if interceptor != nil {
		res, waitErr := interceptor.Wait()
		switch {
		case waitErr != nil:
			r.logger.Error("interceptor wait failed", map[string]any{
				"error": waitErr.Error(),
			})
			exitOutcome = &Outcome{
				Status:  OutcomeInterceptorCrash,
				Message: fmt.Sprintf("interceptor wait failed: %v", waitErr),
			}
		default:
			stderr = string(res.StderrBytes)
			exitOutcome = outcomeFromExitCode(res.ExitCode)
		}
	}

	r.flush(ctx)

	outcome := DetermineOutcome(runErr)
	if runErr == nil && exitOutcome != nil && exitOutcome.Status != OutcomeCompleted {
		outcome = exitOutcome
	}

	r.logger.Info("session finished", map[string]any{
		"outcome":  outcome.Status,
		"duration": time.Since(r.startTime).String(),
	})
	return r.buildResult(outcome, stderr, engine), nil
}

// flush drains outputs, ignoring parent cancellation.
func (r *RunOrchestrator) flush(ctx context.Context) {
	if r.config.Flush == nil {
		return
	}
	flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), flushTimeout)
	defer cancel()
	if err := r.config.Flush(flushCtx); err != nil {
		r.logger.Warn("flush failed (best effort)", map[string]any{
			"error": err.Error(),
		})
	}
}

func (r *RunOrchestrator) buildResult(outcome *Outcome, stderr string, engine *Engine) *RunResult {
	result := &RunResult{
		Session:      r.config.Engine.Session,
		Outcome:      outcome,
		Duration:     time.Since(r.startTime),
		Stats:        r.config.Deps.Collector.Snapshot(),
		StderrOutput: stderr,
	}
	if engine != nil {
		result.Readiness = engine.Readiness()
		if snap := engine.Membership(); snap != nil {
			result.Members = snap.Len()
		}
	}
	return result
}
