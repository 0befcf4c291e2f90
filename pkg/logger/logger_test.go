package logger

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// captureHook 记录写入的日志条目
type captureHook struct {
	mu      sync.Mutex
	entries []zapcore.Entry
	fields  [][]zapcore.Field
}

func (h *captureHook) OnWrite(entry zapcore.Entry, fields []zapcore.Field) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = append(h.entries, entry)
	h.fields = append(h.fields, fields)
	return nil
}

func (h *captureHook) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.entries)
}

func newCaptured(t *testing.T, level Level) (Logger, *captureHook) {
	t.Helper()
	hook := &captureHook{}
	l, err := NewWithOptions(
		WithLevel(level),
		WithFileOutput(filepath.Join(t.TempDir(), "test.log")),
		WithHook(hook),
	)
	require.NoError(t, err)
	return l, hook
}

func TestNew(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name    string
		config  *Config
		wantErr bool
	}{
		{name: "nil config", config: nil},
		{name: "console output", config: &Config{Level: InfoLevel, Format: JSONFormat, Console: true}},
		{name: "file output", config: &Config{File: filepath.Join(dir, "a.log")}},
		{name: "rotate output", config: &Config{Rotate: &RotateConfig{Filename: filepath.Join(dir, "b.log")}}},
		{name: "rotate without filename", config: &Config{Rotate: &RotateConfig{}}, wantErr: true},
		{name: "invalid format", config: &Config{Format: "xml", Console: true}, wantErr: true},
		{name: "upper case format", config: &Config{Format: "CONSOLE", Console: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, err := New(tt.config)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, l)
		})
	}
}

func TestPresets(t *testing.T) {
	prod, err := NewProduction()
	require.NoError(t, err)
	assert.Equal(t, InfoLevel, prod.Level())

	dev, err := NewDevelopment()
	require.NoError(t, err)
	assert.Equal(t, DebugLevel, dev.Level())
}

func TestSetLevel(t *testing.T) {
	l, hook := newCaptured(t, InfoLevel)

	l.Debug("hidden")
	assert.Equal(t, 0, hook.count())

	// 子 Logger 共享级别
	child := l.With(zap.String("room", "lobby"))
	l.SetLevel(DebugLevel)
	child.Debug("visible")
	assert.Equal(t, 1, hook.count())
	assert.Equal(t, DebugLevel, child.Level())
}

func TestContextFields(t *testing.T) {
	l, hook := newCaptured(t, DebugLevel)

	ctx := WithConnID(WithTraceID(context.Background(), "trace-1"), "conn-1")
	l.InfoContext(ctx, "frame dispatched", zap.String("event", "chat"))

	require.Equal(t, 1, hook.count())
	keys := make(map[string]string)
	for _, f := range hook.fields[0] {
		keys[f.Key] = f.String
	}
	assert.Equal(t, "trace-1", keys["trace_id"])
	assert.Equal(t, "conn-1", keys["conn_id"])
	assert.Equal(t, "chat", keys["event"])
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    Level
		wantErr bool
	}{
		{"debug", DebugLevel, false},
		{"INFO", InfoLevel, false},
		{" warn ", WarnLevel, false},
		{"error", ErrorLevel, false},
		{"verbose", InfoLevel, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNop(t *testing.T) {
	l := Nop()
	l.Error("dropped")
	l.With(zap.Int("n", 1)).Named("x").Info("dropped")
	assert.NoError(t, l.Sync())
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    Format
		wantErr bool
	}{
		{"", JSONFormat, false},
		{"json", JSONFormat, false},
		{" Console ", ConsoleFormat, false},
		{"xml", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseFormat(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFixedFields(t *testing.T) {
	file := filepath.Join(t.TempDir(), "fields.log")
	l, err := NewWithOptions(
		WithFileOutput(file),
		WithName("socket"),
		WithFields(zap.String("node", "n1")),
		WithFields(zap.String("service", "qio-chat")),
	)
	require.NoError(t, err)

	l.Info("connected")
	require.NoError(t, l.Sync())

	data, err := os.ReadFile(file)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"node":"n1"`)
	assert.Contains(t, string(data), `"service":"qio-chat"`)
	assert.Contains(t, string(data), `"logger":"socket"`)
}
