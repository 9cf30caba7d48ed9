package logging

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
)

func TestModuleScopingAccumulates(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	root := New(&buf, slog.LevelInfo)
	scoped := root.Module("scheduler").Module("dispatch")

	scoped.Info("dispatched chunk", "chunk_idx", 3)

	out := buf.String()
	if !strings.Contains(out, `"module":"scheduler.dispatch"`) {
		t.Fatalf("expected nested module name in output, got: %s", out)
	}
	if !strings.Contains(out, `"chunk_idx":3`) {
		t.Fatalf("expected structured field in output, got: %s", out)
	}
}

func TestWithAddsPersistentFields(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	root := New(&buf, slog.LevelInfo)
	scoped := root.With("job_id", "job-1")

	scoped.Info("started")
	scoped.Info("finished")

	out := buf.String()
	if strings.Count(out, `"job_id":"job-1"`) != 2 {
		t.Fatalf("expected job_id on both log lines, got: %s", out)
	}
}

func TestContextRoundTrip(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	l := New(&buf, slog.LevelInfo).Module("worker")
	ctx := WithContext(context.Background(), l)

	FromContext(ctx).Info("hello")

	if !strings.Contains(buf.String(), `"module":"worker"`) {
		t.Fatalf("expected logger recovered from context, got: %s", buf.String())
	}
}

func TestFromContextFallsBackToGlobal(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	prior := Global()
	defer SetGlobal(prior)
	SetGlobal(New(&buf, slog.LevelInfo))

	FromContext(context.Background()).Info("fallback")

	if !strings.Contains(buf.String(), "fallback") {
		t.Fatalf("expected fallback logger to receive message, got: %s", buf.String())
	}
}
