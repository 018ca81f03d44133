// Copyright (c) esat-tools 2025. All rights reserved.
// SPDX-License-Identifier: MIT

package ctxlog

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/prashantv/gostub"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoggerDefaultsWhenUnset(t *testing.T) {
	ctx := context.Background()
	assert.Same(t, DefaultLogger, Logger(ctx))
}

func TestLoggerRoundTrip(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := slog.New(slog.NewTextHandler(buf, nil))
	ctx := New(context.Background(), logger)

	assert.Same(t, logger, Logger(ctx))

	Info(ctx, "hello", "key", "value")
	assert.Contains(t, buf.String(), "hello")
	assert.Contains(t, buf.String(), "key=value")
}

func TestNewNilLoggerUsesDefault(t *testing.T) {
	ctx := New(context.Background(), nil)
	assert.Same(t, DefaultLogger, Logger(ctx))
}

func TestNewForTUIWritesToBuffer(t *testing.T) {
	buf := &bytes.Buffer{}
	ctx := NewForTUI(context.Background(), buf)

	Error(ctx, "tui error", "detail", "boom")
	assert.Contains(t, buf.String(), "tui error")
}

func TestPrettyHandlerOutput(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := slog.New(NewPrettyHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	logger.Warn("watch out", "model", 3)

	out := buf.String()
	require.NotEmpty(t, out)
	assert.Contains(t, out, "WARN:")
	assert.Contains(t, out, "watch out")
	assert.Contains(t, out, "\"model\"")
	// Not a terminal, so no escape codes.
	assert.NotContains(t, out, "\033[")
}

func TestPrettyHandlerWithAttrs(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := slog.New(NewPrettyHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	logger.With("dataset", "baton-rouge").Info("loaded")

	assert.Contains(t, buf.String(), "baton-rouge")
}

func TestLevelFromEnv(t *testing.T) {
	stubs := gostub.New()
	defer stubs.Reset()

	for env, want := range map[string]slog.Level{
		"DEBUG": slog.LevelDebug,
		"INFO": slog.LevelInfo,
		"WARN": slog.LevelWarn,
		"ERROR": slog.LevelError,
		"bogus": slog.LevelWarn,
		"": slog.LevelWarn,
	} {
		stubs.SetEnv("SABATCH_LOG_LEVEL", env)
		assert.Equal(t, want, levelFromEnv(), "SABATCH_LOG_LEVEL=%s", env)
	}
}
