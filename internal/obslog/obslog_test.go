package obslog

import (
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestReplaceRestores(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	restore := Replace(zap.New(core))
	L().Info("duel_test", zap.String("duel_id", "d1"))
	restore()
	L().Info("dropped")

	if logs.Len() != 1 {
		t.Fatalf("entries=%d want 1", logs.Len())
	}
	if got := logs.All()[0].ContextMap()["duel_id"]; got != "d1" {
		t.Fatalf("duel_id=%v", got)
	}
}

func TestParseLevel(t *testing.T) {
	if parseLevel(" DEBUG ") != zapcore.DebugLevel {
		t.Fatalf("debug not parsed")
	}
	if parseLevel("nonsense") != zapcore.InfoLevel {
		t.Fatalf("unknown level must fall back to info")
	}
}
