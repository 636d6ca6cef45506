package envctx

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/openvoiced/voiced/internal/config"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestDescribeWithoutProbe(t *testing.T) {
	cfg := config.Default().Context
	p, err := New(cfg, testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	p.now = func() time.Time {
		return time.Date(2025, 6, 2, 14, 30, 0, 0, time.UTC)
	}
	desc, err := p.Describe(context.Background())
	if err != nil {
		t.Fatalf("Describe: %v", err)
	}
	if !strings.Contains(desc, "Monday 14:30") {
		t.Errorf("missing time in description: %q", desc)
	}
}

func TestDescribeWithProbe(t *testing.T) {
	cfg := config.Default().Context
	cfg.Command = "echo battery at 80%"
	cfg.TimeoutMS = 1000
	p, err := New(cfg, testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	desc, err := p.Describe(context.Background())
	if err != nil {
		t.Fatalf("Describe: %v", err)
	}
	if !strings.Contains(desc, "battery at 80%") {
		t.Errorf("probe output missing: %q", desc)
	}
}

func TestProbeTimeoutDoesNotFailDescribe(t *testing.T) {
	cfg := config.Default().Context
	cfg.Command = "sleep 5"
	cfg.TimeoutMS = 50
	p, err := New(cfg, testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	start := time.Now()
	desc, err := p.Describe(context.Background())
	if err != nil {
		t.Fatalf("Describe should degrade, not fail: %v", err)
	}
	if desc == "" {
		t.Error("description should still carry the time line")
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("probe timeout did not bound Describe: %s", elapsed)
	}
}
