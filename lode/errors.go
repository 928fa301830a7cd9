// Package lode persists classification decisions to a Lode dataset.
//
// Decisions are stored as Hive-partitioned JSONL records
// (day/session_id/disposition) on a filesystem or S3 store. Storage
// failures are classified into sentinel errors so callers can use
// errors.Is rather than matching messages.
package lode

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for storage failure classification.
var (
	// ErrPermissionDenied indicates a filesystem permission failure (EACCES).
	ErrPermissionDenied = errors.New("permission denied")

	// ErrNotFound indicates the target path or object does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDiskFull indicates storage is out of space.
	ErrDiskFull = errors.New("no space left on device")

	// ErrTimeout indicates an operation timed out.
	ErrTimeout = errors.New("operation timed out")

	// ErrThrottled indicates rate limiting (429, SlowDown).
	ErrThrottled = errors.New("rate limited")

	// ErrAuth indicates missing or invalid credentials.
	ErrAuth = errors.New("authentication failed")

	// ErrAccessDenied indicates valid credentials without permission.
	ErrAccessDenied = errors.New("access denied")

	// ErrNetwork indicates a connection-level failure.
	ErrNetwork = errors.New("network error")

	// errUnclassified is the kind for anything not matched above.
	errUnclassified = errors.New("storage error")
)

// StorageError is a classified storage failure.
// The original error stays in the chain for errors.As.
type StorageError struct {
	// Kind is one of the sentinel errors above.
	Kind error
	// Op is the failed operation: "init", "write" or "read".
	Op string
	// Path is the dataset or snapshot involved, if any.
	Path string
	Err  error
}

func (e *StorageError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s %s: %v: %v", e.Op, e.Path, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// Is matches the classification sentinel.
func (e *StorageError) Is(target error) bool {
	return errors.Is(e.Kind, target)
}

func wrap(op, path string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Kind: classifyError(err), Op: op, Path: path, Err: err}
}

// WrapWriteError classifies a decision write failure. Nil stays nil.
func WrapWriteError(err error, path string) error { return wrap("write", path, err) }

// WrapReadError classifies a snapshot read failure. Nil stays nil.
func WrapReadError(err error, path string) error { return wrap("read", path, err) }

// WrapInitError classifies a dataset construction failure. Nil stays nil.
func WrapInitError(err error, dataset string) error { return wrap("init", dataset, err) }

// classificationTable is checked in order; the first matching row wins.
var classificationTable = []struct {
	kind     error
	patterns []string
}{
	{ErrDiskFull, []string{"no space left", "disk full", "enospc", "quota exceeded"}},
	{ErrTimeout, []string{"timeout", "timed out", "deadline exceeded"}},
	{ErrThrottled, []string{"slowdown", "rate exceeded", "throttl", "429", "toomanyrequests"}},
	{ErrAccessDenied, []string{"accessdenied", "access denied", "forbidden", "403"}},
	{ErrPermissionDenied, []string{"permission denied", "eacces"}},
	{ErrNotFound, []string{"no such file", "does not exist", "not found", "enoent", "404", "nosuchkey", "nosuchbucket"}},
	{ErrAuth, []string{"nocredentialproviders", "credentials", "invalidaccesskeyid",
		"signaturedoesnotmatch", "expiredtoken", "401", "unauthorized"}},
	{ErrNetwork, []string{"connection refused", "no route to host", "network unreachable", "dns", "dial tcp"}},
}

// classifyError maps an error onto a sentinel kind.
// Typed timeouts are checked first, then message patterns.
func classifyError(err error) error {
	if err == nil {
		return nil
	}

	var timeout interface{ Timeout() bool }
	if errors.As(err, &timeout) && timeout.Timeout() {
		return ErrTimeout
	}

	msg := strings.ToLower(err.Error())
	for _, row := range classificationTable {
		for _, p := range row.patterns {
			if strings.Contains(msg, p) {
				return row.kind
			}
		}
	}
	return errUnclassified
}
