// Package testlog provides a log handler for unit tests.
package testlog

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"sync"

	"github.com/ethereum/go-ethereum/log"
)

var useColorInTestLog = os.Getenv("OP_TESTLOG_DISABLE_COLOR") != "true"

// Testing interface to log to. Some functions are marked as Helper function to log the call site accurately.
// Standard Go testing.TB implements this.
type Testing interface {
	Logf(format string, args ...any)
	Helper()
	Cleanup(func())
}

// Logger returns a logger which logs to the unit test log of t.
// Output is flushed line by line through t.Logf, and is dropped once the test has finished.
func Logger(t Testing, level slog.Level) log.Logger {
	w := &testWriter{t: t}
	t.Cleanup(w.done)
	return log.NewLogger(&helperHandler{
		t:     t,
		inner: log.NewTerminalHandlerWithLevel(w, level, useColorInTestLog),
	})
}

type testWriter struct {
	t        Testing
	mu       sync.Mutex
	buf      bytes.Buffer
	finished bool
}

func (w *testWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.finished {
		return len(p), nil
	}
	w.buf.Write(p)
	for {
		line, err := w.buf.ReadString('\n')
		if err != nil {
			// incomplete line, keep it for the next write
			w.buf.WriteString(line)
			break
		}
		w.t.Helper()
		w.t.Logf("%s", line[:len(line)-1])
	}
	return len(p), nil
}

func (w *testWriter) done() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.finished = true
}

// helperHandler marks the logging frames as test helpers.
type helperHandler struct {
	t     Testing
	inner slog.Handler
}

func (h *helperHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *helperHandler) Handle(ctx context.Context, r slog.Record) error {
	h.t.Helper()
	return h.inner.Handle(ctx, r)
}

func (h *helperHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &helperHandler{t: h.t, inner: h.inner.WithAttrs(attrs)}
}

func (h *helperHandler) WithGroup(name string) slog.Handler {
	return &helperHandler{t: h.t, inner: h.inner.WithGroup(name)}
}
