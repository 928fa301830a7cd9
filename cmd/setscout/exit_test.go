package main

import (
	"errors"
	"fmt"
	"testing"

	"github.com/urfave/cli/v2"

	"github.com/justapithecus/setscout/runtime"
)

func TestExitErrHandler_NilError(_ *testing.T) {
	// Should not panic or exit on nil error
	exitErrHandler(nil, nil)
}

func TestExitStatus(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
		wantMsg  string
	}{
		{"completed no message", cli.Exit("", runtime.ExitCodeCompleted), 0, ""},
		{"invalid config", cli.Exit("invalid config: threshold_minutes must be > 0", 1), 1, "invalid config: threshold_minutes must be > 0"},
		{"membership failure", cli.Exit("", runtime.ExitCodeMembershipFailure), 2, ""},
		{"stream error", cli.Exit("", runtime.ExitCodeStreamError), 3, ""},
		{"wrapped exit coder", fmt.Errorf("context: %w", cli.Exit("inner", 42)), 42, "inner"},
		{"regular error", errors.New("boom"), 1, "Error: boom"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, msg := exitStatus(tt.err)
			if code != tt.wantCode {
				t.Errorf("code = %d, want %d", code, tt.wantCode)
			}
			if msg != tt.wantMsg {
				t.Errorf("msg = %q, want %q", msg, tt.wantMsg)
			}
		})
	}
}
