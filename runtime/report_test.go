package runtime

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/justapithecus/setscout/metrics"
	"github.com/justapithecus/setscout/readiness"
	"github.com/justapithecus/setscout/types"
)

func newTestRunResult() *RunResult {
	return &RunResult{
		Session:  &types.SessionMeta{SessionID: "sess-001", PlaylistID: "806754918"},
		Outcome:  &Outcome{Status: OutcomeCompleted, Message: "session completed"},
		Duration: 5 * time.Second,
		Stats: metrics.Snapshot{
			Matches:       3,
			Skips:         7,
			SkipsByReason: map[string]int64{"below threshold": 5, "playlist": 2},
			AppendSuccess: 2,
		},
		Readiness: readiness.Snapshot{
			{Key: readiness.KeyLikes, Label: "Likes", Ready: true},
			{Key: readiness.KeyAuth, Label: "Auth", Ready: false},
		},
		Members: 120,
	}
}

func TestBuildSessionReport(t *testing.T) {
	report := BuildSessionReport(newTestRunResult(), 0)

	if report.SessionID != "sess-001" || report.PlaylistID != "806754918" {
		t.Errorf("identity = %s/%s", report.SessionID, report.PlaylistID)
	}
	if report.Outcome != OutcomeCompleted || report.ExitCode != 0 {
		t.Errorf("outcome = %s exit %d", report.Outcome, report.ExitCode)
	}
	if report.DurationMs != 5000 {
		t.Errorf("DurationMs = %d", report.DurationMs)
	}
	if report.Decisions.Matches != 3 || report.Decisions.Skips != 7 || report.Decisions.Appended != 2 {
		t.Errorf("Decisions = %+v", report.Decisions)
	}
	if report.Members != 120 {
		t.Errorf("Members = %d", report.Members)
	}
}

func TestWriteSessionReport_JSONShape(t *testing.T) {
	var buf bytes.Buffer
	if err := writeSessionReportTo(BuildSessionReport(newTestRunResult(), 0), &buf); err != nil {
		t.Fatalf("write: %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	for _, key := range []string{"session_id", "outcome", "exit_code", "duration_ms", "decisions", "readiness", "metrics"} {
		if _, ok := decoded[key]; !ok {
			t.Errorf("missing key %q", key)
		}
	}
	if _, ok := decoded["stderr"]; ok {
		t.Error("empty stderr should be omitted")
	}
	decisions := decoded["decisions"].(map[string]any)
	byReason := decisions["skips_by_reason"].(map[string]any)
	if byReason["below threshold"] != float64(5) {
		t.Errorf("skips_by_reason = %v", byReason)
	}
}

func TestWriteSessionReport_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.json")
	if err := WriteSessionReport(BuildSessionReport(newTestRunResult(), 2), path); err != nil {
		t.Fatalf("WriteSessionReport: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var report SessionReport
	if err := json.Unmarshal(data, &report); err != nil {
		t.Fatal(err)
	}
	if report.ExitCode != 2 {
		t.Errorf("ExitCode = %d, want 2", report.ExitCode)
	}

	if err := WriteSessionReport(&SessionReport{}, ""); err == nil {
		t.Error("expected error for empty path")
	}
}
