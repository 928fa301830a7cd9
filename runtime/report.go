package runtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/justapithecus/setscout/metrics"
	"github.com/justapithecus/setscout/readiness"
)

// SessionReport is the structured JSON report written by --report.
type SessionReport struct {
	SessionID  string        `json:"session_id"`
	PlaylistID string        `json:"playlist_id,omitempty"`
	Outcome    OutcomeStatus `json:"outcome"`
	Message    string        `json:"message"`
	ExitCode   int           `json:"exit_code"`
	DurationMs int64         `json:"duration_ms"`
	Members    int           `json:"members"`

	Decisions *ReportDecisions   `json:"decisions"`
	Readiness readiness.Snapshot `json:"readiness"`
	Metrics   *metrics.Snapshot  `json:"metrics"`

	Stderr string `json:"stderr,omitempty"`
}

// ReportDecisions summarizes classification results in the report.
type ReportDecisions struct {
	Matches       int64            `json:"matches"`
	Skips         int64            `json:"skips"`
	SkipsByReason map[string]int64 `json:"skips_by_reason,omitempty"`
	Appended      int64            `json:"appended"`
}

// BuildSessionReport composes a SessionReport from a RunResult.
func BuildSessionReport(result *RunResult, exitCode int) *SessionReport {
	snap := result.Stats
	report := &SessionReport{
		Outcome:    result.Outcome.Status,
		Message:    result.Outcome.Message,
		ExitCode:   exitCode,
		DurationMs: result.Duration.Milliseconds(),
		Members:    result.Members,
		Decisions: &ReportDecisions{
			Matches:       snap.Matches,
			Skips:         snap.Skips,
			SkipsByReason: snap.SkipsByReason,
			Appended:      snap.AppendSuccess,
		},
		Readiness: result.Readiness,
		Metrics:   &snap,
		Stderr:    result.StderrOutput,
	}
	if result.Session != nil {
		report.SessionID = result.Session.SessionID
		report.PlaylistID = result.Session.PlaylistID
	}
	return report
}

// WriteSessionReport writes the report as JSON to the specified path.
// If path is "-", writes to stderr.
func WriteSessionReport(report *SessionReport, path string) error {
	if path == "" {
		return errors.New("report path must not be empty")
	}

	if path == "-" {
		if err := writeSessionReportTo(report, os.Stderr); err != nil {
			return fmt.Errorf("failed to write report to stderr: %w", err)
		}
		return nil
	}

	data, err := marshalReport(report)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write report to %s: %w", path, err)
	}
	return nil
}

// writeSessionReportTo writes report JSON to any writer.
func writeSessionReportTo(report *SessionReport, w io.Writer) error {
	data, err := marshalReport(report)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

func marshalReport(report *SessionReport) ([]byte, error) {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal report: %w", err)
	}
	return append(data, '\n'), nil
}
