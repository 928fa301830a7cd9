package runtime

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/justapithecus/setscout/inspect"
	"github.com/justapithecus/setscout/log"
	"github.com/justapithecus/setscout/membership"
	"github.com/justapithecus/setscout/metrics"
	"github.com/justapithecus/setscout/types"
)

// mockInterceptor simulates an interceptor process.
type mockInterceptor struct {
	stdout   io.Reader
	exitCode int
	startErr error
	waitErr  error

	mu     sync.Mutex
	killed bool
}

func newMockInterceptor(stdout []byte, exitCode int) *mockInterceptor {
	return &mockInterceptor{
		stdout:   bytes.NewReader(stdout),
		exitCode: exitCode,
	}
}

func (m *mockInterceptor) Start(_ context.Context) error {
	return m.startErr
}

func (m *mockInterceptor) Stdout() io.Reader {
	return m.stdout
}

func (m *mockInterceptor) Wait() (*InterceptorResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.waitErr != nil {
		return nil, m.waitErr
	}
	return &InterceptorResult{ExitCode: m.exitCode, StderrBytes: []byte("interceptor log")}, nil
}

func (m *mockInterceptor) Kill() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.killed = true
	return nil
}

func (m *mockInterceptor) WasKilled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.killed
}

// flushTracker records flush calls.
type flushTracker struct {
	mu      sync.Mutex
	flushed int
	err     error
}

func (f *flushTracker) Flush(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.flushed++
	return f.err
}

func (f *flushTracker) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.flushed
}

func newRunConfig(interceptor *mockInterceptor, flush *flushTracker) *RunConfig {
	return &RunConfig{
		Interceptor:        &InterceptorConfig{Command: "interceptor"},
		InterceptorFactory: func(*InterceptorConfig) Interceptor { return interceptor },
		Engine: EngineConfig{
			Session:   &types.SessionMeta{SessionID: "sess-1", PlaylistID: "806754918"},
			ClientID:  "cid",
			Threshold: 20 * time.Minute,
		},
		Deps: EngineDeps{
			Membership: &fakeMembership{collection: []membership.Track{{ID: "42"}}},
			Inspector:  inspect.NewHTMLInspector(inspect.DefaultSelectors()),
			Logger:     log.NewNop(),
			Collector:  metrics.NewCollector("memory", "", "sess-1", "806754918"),
		},
		Flush: flush.Flush,
	}
}

func validStream(t *testing.T) []byte {
	t.Helper()
	return newEventStream(t).
		emit(types.EventTypeStreamPage, streamPage(track(1, "a/1", 25*time.Minute))).
		emit(types.EventTypeItem, item("h1", "a/1")).
		bytes()
}

func TestRunOrchestrator_SuccessfulSession(t *testing.T) {
	interceptor := newMockInterceptor(validStream(t), 0)
	flush := &flushTracker{}

	orch, err := NewRunOrchestrator(newRunConfig(interceptor, flush))
	if err != nil {
		t.Fatalf("NewRunOrchestrator: %v", err)
	}
	result, err := orch.Execute(t.Context())
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if result.Outcome.Status != OutcomeCompleted {
		t.Errorf("Outcome = %+v, want completed", result.Outcome)
	}
	if result.Outcome.ExitCode() != ExitCodeCompleted {
		t.Errorf("ExitCode = %d", result.Outcome.ExitCode())
	}
	if result.Stats.Matches != 1 {
		t.Errorf("Matches = %d, want 1", result.Stats.Matches)
	}
	if result.Stats.InterceptorLaunchSuccess != 1 {
		t.Errorf("InterceptorLaunchSuccess = %d", result.Stats.InterceptorLaunchSuccess)
	}
	if result.Members != 1 {
		t.Errorf("Members = %d, want 1", result.Members)
	}
	if result.StderrOutput != "interceptor log" {
		t.Errorf("StderrOutput = %q", result.StderrOutput)
	}
	if interceptor.WasKilled() {
		t.Error("interceptor should not be killed on success")
	}
	if flush.count() != 1 {
		t.Errorf("flushed %d times, want 1", flush.count())
	}
}

func TestRunOrchestrator_InterceptorStartFailure(t *testing.T) {
	interceptor := newMockInterceptor(nil, 0)
	interceptor.startErr = errors.New("no such file")
	flush := &flushTracker{}

	orch, err := NewRunOrchestrator(newRunConfig(interceptor, flush))
	if err != nil {
		t.Fatal(err)
	}
	result, err := orch.Execute(t.Context())
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.Outcome.Status != OutcomeInterceptorCrash {
		t.Errorf("Outcome = %+v", result.Outcome)
	}
	if result.Stats.InterceptorLaunchFailure != 1 {
		t.Errorf("InterceptorLaunchFailure = %d", result.Stats.InterceptorLaunchFailure)
	}
	if flush.count() != 1 {
		t.Error("flush must run on start failure")
	}
}

func TestRunOrchestrator_KillsInterceptorOnStreamError(t *testing.T) {
	data := append(validStream(t), 0x00, 0x00, 0x01)
	interceptor := newMockInterceptor(data, 0)
	flush := &flushTracker{}

	orch, err := NewRunOrchestrator(newRunConfig(interceptor, flush))
	if err != nil {
		t.Fatal(err)
	}
	result, err := orch.Execute(t.Context())
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.Outcome.Status != OutcomeStreamError {
		t.Errorf("Outcome = %+v, want stream_error", result.Outcome)
	}
	if result.Outcome.ExitCode() != ExitCodeStreamError {
		t.Errorf("ExitCode = %d", result.Outcome.ExitCode())
	}
	if !interceptor.WasKilled() {
		t.Error("interceptor should be killed on stream error")
	}
	if flush.count() != 1 {
		t.Error("flush must run on stream error")
	}
}

func TestRunOrchestrator_NonZeroExitAfterCleanStream(t *testing.T) {
	interceptor := newMockInterceptor(validStream(t), 2)

	orch, err := NewRunOrchestrator(newRunConfig(interceptor, &flushTracker{}))
	if err != nil {
		t.Fatal(err)
	}
	result, err := orch.Execute(t.Context())
	if err != nil {
		t.Fatal(err)
	}
	if result.Outcome.Status != OutcomeInterceptorCrash {
		t.Errorf("Outcome = %+v, want interceptor_crash", result.Outcome)
	}
}

func TestRunOrchestrator_WaitFailure(t *testing.T) {
	interceptor := newMockInterceptor(validStream(t), 0)
	interceptor.waitErr = errors.New("wait: no child")

	orch, err := NewRunOrchestrator(newRunConfig(interceptor, &flushTracker{}))
	if err != nil {
		t.Fatal(err)
	}
	result, err := orch.Execute(t.Context())
	if err != nil {
		t.Fatal(err)
	}
	if result.Outcome.Status != OutcomeInterceptorCrash {
		t.Errorf("Outcome = %+v, want interceptor_crash", result.Outcome)
	}
}

func TestRunOrchestrator_SourceWithoutInterceptor(t *testing.T) {
	cfg := newRunConfig(nil, &flushTracker{})
	cfg.Interceptor = nil
	cfg.InterceptorFactory = nil
	cfg.Engine.Source = bytes.NewReader(validStream(t))

	orch, err := NewRunOrchestrator(cfg)
	if err != nil {
		t.Fatal(err)
	}
	result, err := orch.Execute(t.Context())
	if err != nil {
		t.Fatal(err)
	}
	if result.Outcome.Status != OutcomeCompleted || result.Stats.Matches != 1 {
		t.Errorf("Outcome = %+v, matches = %d", result.Outcome, result.Stats.Matches)
	}
}

func TestNewRunOrchestrator_Validation(t *testing.T) {
	if _, err := NewRunOrchestrator(&RunConfig{}); err == nil {
		t.Error("expected error without session")
	}
	cfg := &RunConfig{Engine: EngineConfig{Session: &types.SessionMeta{SessionID: "s"}}}
	if _, err := NewRunOrchestrator(cfg); err == nil {
		t.Error("expected error without interceptor or source")
	}
}
