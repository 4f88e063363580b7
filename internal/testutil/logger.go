// Package testutil holds helpers shared by the store, analyzer, and CLI
// tests.
package testutil

import (
	"bytes"
	"log/slog"
	"testing"
)

// NewTestLogger returns a debug-level logger routed to t.Log, so cache
// and extraction debug output shows up alongside failing assertions (or
// under -v) instead of polluting stderr.
func NewTestLogger(t testing.TB) *slog.Logger {
	t.Helper()
	return slog.New(slog.NewTextHandler(testWriter{t}, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
}

type testWriter struct {
	t testing.TB
}

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Helper()
	// The text handler terminates records with a newline; t.Log adds its
	// own, so strip it to keep the output single spaced.
	w.t.Log(string(bytes.TrimSuffix(p, []byte("\n"))))
	return len(p), nil
}
