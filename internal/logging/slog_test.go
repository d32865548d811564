package logging

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
)

func newBufferedLogger(level slog.Level) (*SlogLogger, *bytes.Buffer) {
	var buf bytes.Buffer
	h := slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: level})
	return NewSlogLogger(slog.New(h)), &buf
}

func TestSlogLogger_Levels(t *testing.T) {
	ctx := context.Background()

	log, buf := newBufferedLogger(slog.LevelDebug)
	log.Debug(ctx, "d")
	log.Info(ctx, "i")
	log.Warn(ctx, "w")
	log.Error(ctx, "e")

	out := buf.String()
	require.Contains(t, out, "level=DEBUG")
	require.Contains(t, out, "level=INFO")
	require.Contains(t, out, "level=WARN")
	require.Contains(t, out, "level=ERROR")
}

func TestSlogLogger_With(t *testing.T) {
	log, buf := newBufferedLogger(slog.LevelInfo)

	child := log.With("component", "vault")
	child.Info(context.Background(), "hello")

	require.Contains(t, buf.String(), "component=vault")
}

func TestNopLogger(t *testing.T) {
	// Must be safe to use with no setup at all.
	log := NewNop()
	log.Info(context.Background(), "ignored", "k", "v")
	log.With("a", 1).Error(context.Background(), "ignored")
}
