package logger

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"TenderScanner/internal/logging"
)

func TestCronLoggerWritesThroughSlog(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	l := New(logging.NewWithWriter(&buf, "debug", "text"), "cron")

	l.Info("schedule", "entry", 1)
	l.Error(errors.New("boom"), "job panicked", "entry", 1)

	out := buf.String()
	if !strings.Contains(out, "component=cron") {
		t.Fatalf("component missing: %s", out)
	}
	if !strings.Contains(out, "err=boom") || !strings.Contains(out, "level=ERROR") {
		t.Fatalf("error not logged: %s", out)
	}
	if !strings.Contains(out, "level=DEBUG") {
		t.Fatalf("info should map to debug: %s", out)
	}
}
