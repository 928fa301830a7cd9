// Package iox provides I/O helpers for resource cleanup.
package iox

import "io"

// maxDrain bounds how much of a response body DrainClose reads.
const maxDrain = 64 << 10

// DiscardClose closes c and discards the error.
//
//	defer iox.DiscardClose(f)
func DiscardClose(c io.Closer) { _ = c.Close() }

// DrainClose reads up to 64KiB of rc before closing it so HTTP
// connections can be reused. Errors are discarded.
//
//	defer iox.DrainClose(resp.Body)
func DrainClose(rc io.ReadCloser) {
	_, _ = io.Copy(io.Discard, io.LimitReader(rc, maxDrain))
	_ = rc.Close()
}

// CloseFunc returns a cleanup function that closes c.
//
//	t.Cleanup(iox.CloseFunc(client))
func CloseFunc(c io.Closer) func() {
	return func() { _ = c.Close() }
}

// DiscardErr calls fn and discards the returned error.
//
//	defer iox.DiscardErr(logger.Sync)
func DiscardErr(fn func() error) { _ = fn() }
