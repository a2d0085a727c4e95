package testdb

import (
	"io"
	"strings"
	"testing"

	"github.com/charmbracelet/log"
)

// NewTestLogger returns a logger whose lines are written with tb.Log, so they
// show up next to the output of the test that produced them.
func NewTestLogger(tb testing.TB) *log.Logger {
	return log.NewWithOptions(tbWriter{tb}, log.Options{
		Prefix: "testdb",
		Level:  log.DebugLevel,
	})
}

func discardLogger() *log.Logger {
	return log.New(io.Discard)
}

type tbWriter struct {
	tb testing.TB
}

func (w tbWriter) Write(p []byte) (int, error) {
	w.tb.Helper()
	w.tb.Log(strings.TrimRight(string(p), "\n"))
	return len(p), nil
}
