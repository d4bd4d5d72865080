package logging

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

func TestLoggerSplitsByLevel(t *testing.T) {
	var stdout, stderr bytes.Buffer
	log, err := NewWithWriters(Options{Level: "info", JSON: true}, &stdout, &stderr)
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	log.Debug("hidden")
	log.Info("epoch done")
	log.Error("checkpoint failed")
	_ = log.Sync()

	if !strings.Contains(stdout.String(), "epoch done") {
		t.Fatalf("expected info on stdout, got %q", stdout.String())
	}
	if strings.Contains(stdout.String(), "checkpoint failed") {
		t.Fatal("error should not reach stdout")
	}
	if !strings.Contains(stderr.String(), "checkpoint failed") {
		t.Fatalf("expected error on stderr, got %q", stderr.String())
	}
	if strings.Contains(stdout.String()+stderr.String(), "hidden") {
		t.Fatal("debug should be filtered at info level")
	}
}

func TestLoggerRejectsBadLevel(t *testing.T) {
	if _, err := New(Options{Level: "loud"}); err == nil {
		t.Fatal("expected error for unknown level")
	}
}

func TestOrNop(t *testing.T) {
	if OrNop(nil) == nil {
		t.Fatal("expected a logger")
	}
}

func TestFormatDuration(t *testing.T) {
	cases := map[time.Duration]string{
		0:                                    "0:00:00",
		59 * time.Second:                     "0:00:59",
		61*time.Minute + 5*time.Second + 900: "1:01:05",
		-time.Second:                         "0:00:00",
	}
	for d, want := range cases {
		if got := FormatDuration(d); got != want {
			t.Fatalf("FormatDuration(%v): expected %s, got %s", d, want, got)
		}
	}
}

func TestStopwatchElapsed(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	sw := &Stopwatch{start: start, now: func() time.Time { return start.Add(90 * time.Second) }}
	if sw.String() != "0:01:30" {
		t.Fatalf("unexpected elapsed %s", sw)
	}
}

func TestParameterSummary(t *testing.T) {
	got := ParameterSummary(3217090)
	if !strings.HasPrefix(got, "3,217,090 parameters") {
		t.Fatalf("unexpected summary %q", got)
	}
}
