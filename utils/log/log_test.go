package log_test

import (
	"context"
	"testing"

	"github.com/jrife/kvault/utils/log"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestFields(t *testing.T) {
	ctx := log.WithFields(context.Background(), zap.String("a", "1"))
	ctx = log.WithFields(ctx, zap.Int("b", 2))

	fields := log.Fields(ctx)

	if len(fields) != 2 || fields[0].Key != "a" || fields[1].Key != "b" {
		t.Fatalf("expected fields a and b, got %v", fields)
	}

	if len(log.Fields(context.Background())) != 0 {
		t.Fatalf("expected no fields on an empty context")
	}
}

func TestLoggerFromContext(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	defaultLogger := zap.New(core)
	ctx := log.WithFields(context.Background(), zap.String("request", "r1"))

	if log.Logger(ctx) != nil {
		t.Fatalf("expected no logger in the context")
	}

	logger, ctx := log.LoggerFromContext(ctx, defaultLogger)

	if log.Logger(ctx) != defaultLogger {
		t.Fatalf("expected the default logger to be attached to the context")
	}

	logger.Info("hello")

	entries := logs.All()

	if len(entries) != 1 || entries[0].ContextMap()["request"] != "r1" {
		t.Fatalf("expected one entry carrying the context fields, got %v", entries)
	}
}
