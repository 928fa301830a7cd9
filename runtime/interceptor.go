package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"syscall"

	"github.com/justapithecus/setscout/types"
)

// SessionEnvVar carries the engine session id into the interceptor environment.
const SessionEnvVar = "SETSCOUT_SESSION_ID"

// InterceptorConfig configures the interceptor subprocess.
type InterceptorConfig struct {
	// Command is the interceptor binary.
	Command string
	// Args are passed to Command verbatim.
	Args []string
	// Session is the engine session the interceptor reports into.
	Session *types.SessionMeta
	// Env holds extra KEY=VALUE entries; they win over inherited ones.
	Env []string
}

// InterceptorResult represents the result of an interceptor process.
type InterceptorResult struct {
	// ExitCode is the process exit code.
	ExitCode int
	// StderrBytes is the captured stderr output.
	StderrBytes []byte
}

// Interceptor is a running event source process.
type Interceptor interface {
	Start(ctx context.Context) error
	Stdout() io.Reader
	Wait() (*InterceptorResult, error)
	Kill() error
}

// InterceptorManager manages the interceptor process lifecycle.
type InterceptorManager struct {
	config *InterceptorConfig
	cmd    *exec.Cmd
	stdout io.ReadCloser
	stderr io.ReadCloser
}

// NewInterceptorManager creates a new interceptor manager.
func NewInterceptorManager(config *InterceptorConfig) *InterceptorManager {
	return &InterceptorManager{
		config: config,
	}
}

// interceptorInput is the JSON structure written to interceptor stdin.
type interceptorInput struct {
	SessionID       string `json:"session_id"`
	PlaylistID      string `json:"playlist_id,omitempty"`
	ContractVersion string `json:"contract_version"`
}

// Start starts the interceptor process.
// The process reads session metadata from stdin (JSON).
// Stdout carries event frames.
// Stderr is captured for diagnostics.
func (m *InterceptorManager) Start(ctx context.Context) error {
	if m.config.Command == "" {
		return errors.New("interceptor command is empty")
	}
	m.cmd = exec.CommandContext(ctx, m.config.Command, m.config.Args...)

	env := append(os.Environ(), SessionEnvVar+"="+m.config.Session.SessionID)
	env = append(env, m.config.Env...)
	m.cmd.Env = deduplicateEnv(env)

	stdin, err := m.cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("failed to create stdin pipe: %w", err)
	}

	stdout, err := m.cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	m.stdout = stdout

	stderr, err := m.cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("failed to create stderr pipe: %w", err)
	}
	m.stderr = stderr

	if err := m.cmd.Start(); err != nil {
		return fmt.Errorf("failed to start interceptor: %w", err)
	}

	input := interceptorInput{
		SessionID:       m.config.Session.SessionID,
		PlaylistID:      m.config.Session.PlaylistID,
		ContractVersion: types.ContractVersion,
	}

	if err := json.NewEncoder(stdin).Encode(input); err != nil {
		_ = m.Kill()
		return fmt.Errorf("failed to write input: %w", err)
	}

	// Close stdin to signal input complete
	if err := stdin.Close(); err != nil {
		_ = m.Kill()
		return fmt.Errorf("failed to close stdin: %w", err)
	}

	return nil
}

// Stdout returns the stdout reader for frame reading.
func (m *InterceptorManager) Stdout() io.Reader {
	return m.stdout
}

// Stderr returns the stderr reader for diagnostic capture.
func (m *InterceptorManager) Stderr() io.Reader {
	return m.stderr
}

// Wait waits for the interceptor to exit and returns the result.
// Must be called after Start, and only once stdout has been drained.
func (m *InterceptorManager) Wait() (*InterceptorResult, error) {
	if m.cmd == nil {
		return nil, errors.New("interceptor not started")
	}

	stderrBytes, _ := io.ReadAll(m.stderr)

	err := m.cmd.Wait()

	result := &InterceptorResult{
		StderrBytes: stderrBytes,
	}

	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return nil, fmt.Errorf("interceptor wait failed: %w", err)
		}
		if status, ok := exitErr.Sys().(syscall.WaitStatus); ok {
			result.ExitCode = status.ExitStatus()
		} else {
			result.ExitCode = -1
		}
	}

	return result, nil
}

// Kill terminates the interceptor process.
func (m *InterceptorManager) Kill() error {
	if m.cmd != nil && m.cmd.Process != nil {
		return m.cmd.Process.Kill()
	}
	return nil
}

// deduplicateEnv keeps the last occurrence of each env var key.
func deduplicateEnv(env []string) []string {
	seen := make(map[string]int, len(env))
	for i, entry := range env {
		key, _, _ := strings.Cut(entry, "=")
		seen[key] = i
	}
	result := make([]string, 0, len(seen))
	for i, entry := range env {
		key, _, _ := strings.Cut(entry, "=")
		if seen[key] == i {
			result = append(result, entry)
		}
	}
	return result
}
