package logging

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func newTestLogger(t *testing.T, level slog.Level) (*SlogLogger, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	h := slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: level})
	return NewSlogLogger(slog.New(h)), &buf
}

func TestSlogLogger_Levels(t *testing.T) {
	log, buf := newTestLogger(t, slog.LevelDebug)
	ctx := context.Background()

	log.Debug(ctx, "dbg", "a", 1)
	log.Info(ctx, "inf", "b", 2)
	log.Warn(ctx, "wrn", "c", 3)
	log.Error(ctx, "err", "d", 4)

	out := buf.String()
	for _, want := range []string{
		"level=DEBUG msg=dbg a=1",
		"level=INFO msg=inf b=2",
		"level=WARN msg=wrn c=3",
		"level=ERROR msg=err d=4",
	} {
		assert.Contains(t, out, want)
	}
}

func TestSlogLogger_With(t *testing.T) {
	log, buf := newTestLogger(t, slog.LevelInfo)

	log.With("component", "drain", "device", "tablet-7").Info(context.Background(), "pass", "jobs", 2)

	out := buf.String()
	assert.Contains(t, out, "component=drain")
	assert.Contains(t, out, "device=tablet-7")
	assert.Contains(t, out, "jobs=2")
}

func TestContextWith_ScopesAttributes(t *testing.T) {
	log, buf := newTestLogger(t, slog.LevelInfo)

	ctx := ContextWith(context.Background(), "job_id", 100)
	nested := ContextWith(ctx, "entry_id", "e1")

	log.Info(nested, "synced", "op", "start")
	assert.Contains(t, buf.String(), "job_id=100 entry_id=e1 op=start")

	buf.Reset()
	log.Info(ctx, "parent")
	assert.Contains(t, buf.String(), "job_id=100")
	assert.NotContains(t, buf.String(), "entry_id")
}

func TestSlogLogger_DisabledLevelSkipped(t *testing.T) {
	log, buf := newTestLogger(t, slog.LevelWarn)

	log.Info(ContextWith(context.Background(), "job_id", 1), "hidden")
	assert.Empty(t, buf.String())
}
