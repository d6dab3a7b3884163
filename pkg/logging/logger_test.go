// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package logging

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLevelString(t *testing.T) {
	assert.Equal(t, "DEBUG", LevelDebug.String())
	assert.Equal(t, "INFO", LevelInfo.String())
	assert.Equal(t, "WARN", LevelWarn.String())
	assert.Equal(t, "ERROR", LevelError.String())
	assert.Equal(t, "UNKNOWN", Level(99).String())
}

func TestLevelToSlogLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, LevelDebug.toSlogLevel())
	assert.Equal(t, slog.LevelInfo, LevelInfo.toSlogLevel())
	assert.Equal(t, slog.LevelWarn, LevelWarn.toSlogLevel())
	assert.Equal(t, slog.LevelError, LevelError.toSlogLevel())
	assert.Equal(t, slog.LevelInfo, Level(99).toSlogLevel())
}

func TestDefaultLogger(t *testing.T) {
	logger := Default()
	require.NotNil(t, logger)
	defer logger.Close()

	assert.Equal(t, "lensmap", logger.config.Service)
	assert.Equal(t, LevelInfo, logger.config.Level)
	assert.NotNil(t, logger.Slog())
}

func TestLoggerLevelFiltering(t *testing.T) {
	exporter := NewBufferedExporter()
	logger := New(Config{Level: LevelWarn, Quiet: true, Exporter: exporter})
	defer logger.Close()

	logger.Debug("dropped")
	logger.Info("dropped")
	logger.Warn("kept warn")
	logger.Error("kept error")

	entries := exporter.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, "kept warn", entries[0].Message)
	assert.Equal(t, LevelWarn, entries[0].Level)
	assert.Equal(t, "kept error", entries[1].Message)
	assert.Equal(t, LevelError, entries[1].Level)
}

func TestLoggerExporterAttrs(t *testing.T) {
	exporter := NewBufferedExporter()
	logger := New(Config{Quiet: true, Service: "test", Exporter: exporter})
	defer logger.Close()

	logger.Info("measured", "maps", 128, "smoothing_arcmin", 1.0)

	entries := exporter.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, "test", entries[0].Service)
	assert.Equal(t, 128, entries[0].Attrs["maps"])
	assert.Equal(t, 1.0, entries[0].Attrs["smoothing_arcmin"])
	assert.WithinDuration(t, time.Now(), entries[0].Timestamp, 5*time.Second)
}

func TestLoggerWith(t *testing.T) {
	exporter := NewBufferedExporter()
	logger := New(Config{Quiet: true, Exporter: exporter})
	defer logger.Close()

	child := logger.With("realization", 7)
	child.Info("processed")

	entries := exporter.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, "processed", entries[0].Message)
}

func TestLoggerFileOutput(t *testing.T) {
	dir := t.TempDir()
	logger := New(Config{Quiet: true, LogDir: dir, Service: "lensmap"})

	logger.Info("spectrum binned", "bins", 128)
	require.NoError(t, logger.Close())

	name := "lensmap_" + time.Now().Format("2006-01-02") + ".log"
	data, err := os.ReadFile(filepath.Join(dir, name))
	require.NoError(t, err)
	assert.Contains(t, string(data), "spectrum binned")
	assert.Contains(t, string(data), `"bins":128`)
	assert.Contains(t, string(data), `"service":"lensmap"`)
}

func TestLoggerCloseIdempotent(t *testing.T) {
	logger := New(Config{Quiet: true, LogDir: t.TempDir()})
	require.NoError(t, logger.Close())
	require.NoError(t, logger.Close())
}

func TestMultiHandlerFanOut(t *testing.T) {
	var a, b bytes.Buffer
	handler := &multiHandler{handlers: []slog.Handler{
		slog.NewTextHandler(&a, nil),
		slog.NewJSONHandler(&b, nil),
	}}

	log := slog.New(handler)
	log.Info("fan out")

	assert.Contains(t, a.String(), "fan out")
	assert.Contains(t, b.String(), "fan out")
}

func TestMultiHandlerEnabled(t *testing.T) {
	var buf bytes.Buffer
	handler := &multiHandler{handlers: []slog.Handler{
		slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelError}),
	}}

	assert.False(t, handler.Enabled(context.Background(), slog.LevelInfo))
	assert.True(t, handler.Enabled(context.Background(), slog.LevelError))
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(home, "logs"), expandPath("~/logs"))
	assert.Equal(t, "/var/log/lensmap", expandPath("/var/log/lensmap"))
	assert.Equal(t, "relative/logs", expandPath("relative/logs"))
}

func TestArgsToMap(t *testing.T) {
	attrs := argsToMap([]any{"bins", 10, "norm", true})
	assert.Equal(t, 10, attrs["bins"])
	assert.Equal(t, true, attrs["norm"])

	assert.Nil(t, argsToMap(nil))

	// Trailing key without a value is skipped.
	attrs = argsToMap([]any{"bins", 10, "dangling"})
	assert.Len(t, attrs, 1)

	// Non-string keys are skipped.
	attrs = argsToMap([]any{42, "value", "ok", 1})
	assert.Len(t, attrs, 1)
	assert.Equal(t, 1, attrs["ok"])
}

func TestWriterExporter(t *testing.T) {
	var buf bytes.Buffer
	exporter := NewWriterExporter(&buf)

	err := exporter.Export(context.Background(), LogEntry{
		Timestamp: time.Now(),
		Level:     LevelInfo,
		Service:   "lensmap",
		Message:   "fit converged",
	})
	require.NoError(t, err)
	require.NoError(t, exporter.Flush(context.Background()))
	require.NoError(t, exporter.Close())

	line := buf.String()
	assert.True(t, strings.HasSuffix(line, "fit converged\n"))
	assert.Contains(t, line, "[INFO]")
	assert.Contains(t, line, "lensmap")
}

func TestNopExporter(t *testing.T) {
	exporter := &NopExporter{}
	assert.NoError(t, exporter.Export(context.Background(), LogEntry{}))
	assert.NoError(t, exporter.Flush(context.Background()))
	assert.NoError(t, exporter.Close())
}
