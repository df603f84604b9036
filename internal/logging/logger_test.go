package logging

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"voxelstrike/netcore/internal/config"
)

func TestNewWritesJSONLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "netcore.log")
	logger, err := New(config.LoggingConfig{Level: "debug", Path: path, MaxSizeMB: 1, MaxBackups: 1})
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	defer ReplaceGlobals(NewTestLogger())

	logger.With(String("component", "test")).Info("tick stalled", Uint32("client", 4), Int("ticks", 11))
	if err := logger.Sync(); err != nil && !strings.Contains(err.Error(), "sync") {
		t.Fatalf("sync: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	var entry map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(string(data))), &entry); err != nil {
		t.Fatalf("decode entry %q: %v", data, err)
	}
	if entry["message"] != "tick stalled" || entry["component"] != "test" || entry["service"] != "netcore" {
		t.Fatalf("unexpected entry %+v", entry)
	}
	if entry["client"].(float64) != 4 {
		t.Fatalf("expected client field, got %+v", entry)
	}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	if _, err := New(config.LoggingConfig{Path: ""}); err == nil {
		t.Fatalf("expected error for empty path")
	}
	if _, err := New(config.LoggingConfig{Path: filepath.Join(t.TempDir(), "x.log"), Level: "loud", MaxSizeMB: 1}); err == nil {
		t.Fatalf("expected error for unknown level")
	}
	if _, err := New(config.LoggingConfig{Path: filepath.Join(t.TempDir(), "x.log"), MaxSizeMB: 0}); err == nil {
		t.Fatalf("expected error for zero size")
	}
}

func TestRotatingWriterRotatesAndCompresses(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rotate.log")
	writer, err := newRotatingWriter(config.LoggingConfig{Path: path, MaxSizeMB: 1, MaxBackups: 2, Compress: true})
	if err != nil {
		t.Fatalf("new writer: %v", err)
	}
	writer.maxSize = 16
	for i := 0; i < 3; i++ {
		if _, err := writer.Write([]byte("0123456789abcdef\n")); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	compressed := 0
	for _, entry := range entries {
		if strings.HasSuffix(entry.Name(), ".gz") {
			compressed++
		}
	}
	if compressed == 0 {
		t.Fatalf("expected compressed rotations, got %v", entries)
	}
}

func TestContextLoggerAndTraceMiddleware(t *testing.T) {
	base := NewTestLogger()
	ctx := ContextWithLogger(context.Background(), base)
	if LoggerFromContext(ctx) != base {
		t.Fatalf("expected context logger")
	}
	if LoggerFromContext(context.Background()) != L() {
		t.Fatalf("expected global fallback")
	}
	var seen string
	handler := HTTPTraceMiddleware(base)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = TraceIDFromContext(r.Context())
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/livez", nil))
	if seen == "" || rec.Header().Get(TraceIDHeader) != seen {
		t.Fatalf("expected propagated trace id, got %q / %q", seen, rec.Header().Get(TraceIDHeader))
	}
	if len(GenerateTraceID()) != 32 {
		t.Fatalf("expected 32 hex chars")
	}
	if base.Logr().GetSink() == nil {
		t.Fatalf("expected logr sink")
	}
}
