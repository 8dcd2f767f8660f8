package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// capture routes logs to a buffer in text format without color and
// restores the defaults afterwards.
func capture(t *testing.T, lvl string) *bytes.Buffer {
	t.Helper()
	buf := new(bytes.Buffer)
	InitWithWriter(buf, lvl, "text", false)
	t.Cleanup(func() {
		InitWithWriter(os.Stderr, "INFO", "text", false)
	})
	return buf
}

func jsonLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		var entry map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &entry), line)
		out = append(out, entry)
	}
	return out
}

func TestLevelFiltering(t *testing.T) {
	tests := []struct {
		level string
		want  []string
		skip  []string
	}{
		{"DEBUG", []string{"debug msg", "info msg", "warn msg", "error msg"}, nil},
		{"INFO", []string{"info msg", "warn msg", "error msg"}, []string{"debug msg"}},
		{"warning", []string{"warn msg", "error msg"}, []string{"debug msg", "info msg"}},
		{"ERROR", []string{"error msg"}, []string{"debug msg", "info msg", "warn msg"}},
	}
	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			buf := capture(t, tt.level)

			Debug("debug msg")
			Info("info msg")
			Warn("warn msg")
			Error("error msg")

			for _, s := range tt.want {
				assert.Contains(t, buf.String(), s)
			}
			for _, s := range tt.skip {
				assert.NotContains(t, buf.String(), s)
			}
		})
	}
}

func TestSetLevelIgnoresUnknown(t *testing.T) {
	capture(t, "WARN")
	SetLevel("verbose")
	assert.Equal(t, slog.LevelWarn, Level())
	SetLevel("")
	assert.Equal(t, slog.LevelWarn, Level())
}

func TestConsoleFormat(t *testing.T) {
	buf := capture(t, "DEBUG")

	Info("kinit from keytab",
		KeyPrincipal, "nova/compute-0.example.com@EXAMPLE.COM",
		KeyAttempt, 2,
		KeyError, errors.New("preauth failed"),
		KeyDuration, 1.5,
		"empty", "",
	)

	line := strings.TrimSpace(buf.String())
	assert.Regexp(t, `^\d{2}:\d{2}:\d{2}\.\d{3} INFO  kinit from keytab`, line)
	assert.Contains(t, line, " principal=nova/compute-0.example.com@EXAMPLE.COM")
	assert.Contains(t, line, " attempt=2")
	assert.Contains(t, line, ` error="preauth failed"`)
	assert.Contains(t, line, " duration_ms=1.500")
	assert.Contains(t, line, ` empty=""`)
	assert.NotContains(t, line, "\033[")
}

func TestConsoleColor(t *testing.T) {
	buf := new(bytes.Buffer)
	InitWithWriter(buf, "INFO", "text", true)
	t.Cleanup(func() { InitWithWriter(os.Stderr, "INFO", "text", false) })

	Warn("retrying", KeyAttempt, 1)
	assert.Contains(t, buf.String(), ansiYellow+"WARN "+ansiReset)
	assert.Contains(t, buf.String(), ansiCyan+"attempt"+ansiReset+"=1")
}

func TestConsoleGroupsAndAttrs(t *testing.T) {
	buf := new(bytes.Buffer)
	h := newConsoleHandler(buf, nil, false)
	l := slog.New(h).With(KeyHost, "compute-0").WithGroup("ipa")

	l.Info("call", slog.Group("req", "op", "host_show"), "count", 1)
	l.Debug("hidden")

	line := strings.TrimSpace(buf.String())
	assert.Contains(t, line, " host=compute-0 ipa.req.op=host_show ipa.count=1")
	assert.NotContains(t, buf.String(), "hidden", "default threshold is INFO")
}

func TestJSONFormat(t *testing.T) {
	buf := capture(t, "INFO")
	SetFormat("json")

	Info("connected", KeyServer, "ipa.example.com", KeyAttempt, 1)

	entries := jsonLines(t, buf)
	require.Len(t, entries, 1)
	assert.Equal(t, "INFO", entries[0]["level"])
	assert.Equal(t, "connected", entries[0]["msg"])
	assert.Equal(t, "ipa.example.com", entries[0][KeyServer])
	assert.Equal(t, 1.0, entries[0][KeyAttempt])

	SetFormat("xml")
	buf.Reset()
	Info("still json")
	assert.True(t, strings.HasPrefix(buf.String(), "{"))
}

func TestContextLogging(t *testing.T) {
	buf := capture(t, "DEBUG")
	SetFormat("json")

	lc := NewLogContext("nova/compute-0.example.com@EXAMPLE.COM").
		WithOperation("host_show").
		WithTrace("abc123", "")
	ctx := WithContext(context.Background(), lc)

	DebugCtx(ctx, "call succeeded", KeyCount, 1)
	InfoCtx(context.Background(), "no context fields")
	WarnCtx(nil, "nil context")

	entries := jsonLines(t, buf)
	require.Len(t, entries, 3)

	assert.Equal(t, "abc123", entries[0][KeyTraceID])
	assert.NotContains(t, entries[0], KeySpanID, "empty ids are omitted")
	assert.Equal(t, "host_show", entries[0][KeyOperation])
	assert.Equal(t, "nova/compute-0.example.com@EXAMPLE.COM", entries[0][KeyPrincipal])
	assert.Equal(t, 1.0, entries[0][KeyCount])

	assert.NotContains(t, entries[1], KeyOperation)
	assert.Equal(t, "nil context", entries[2]["msg"])
}

func TestLogContextCopies(t *testing.T) {
	base := NewLogContext("nova/a@EXAMPLE.COM")
	op := base.WithOperation("ping")
	traced := op.WithTrace("t", "s")

	assert.Empty(t, base.Operation)
	assert.Equal(t, "ping", op.Operation)
	assert.Empty(t, op.TraceID)
	assert.Equal(t, "ping", traced.Operation)
	assert.Equal(t, "s", traced.SpanID)

	assert.Nil(t, FromContext(context.Background()))
	assert.Nil(t, FromContext(nil))
}

func TestInit(t *testing.T) {
	t.Cleanup(func() { InitWithWriter(os.Stderr, "INFO", "text", false) })

	path := filepath.Join(t.TempDir(), "joincheck.log")
	require.NoError(t, Init(Config{Level: "DEBUG", Format: "json", Output: path}))
	Debug("to file")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"to file"`)

	require.NoError(t, Init(Config{}), "empty config keeps current settings")
	assert.Equal(t, slog.LevelDebug, Level())

	err = Init(Config{Output: filepath.Join(t.TempDir(), "missing", "x.log")})
	assert.Error(t, err)
}

func TestConcurrentLogging(t *testing.T) {
	buf := new(bytes.Buffer)
	var bufMu sync.Mutex
	InitWithWriter(writerFunc(func(p []byte) (int, error) {
		bufMu.Lock()
		defer bufMu.Unlock()
		return buf.Write(p)
	}), "INFO", "text", false)
	t.Cleanup(func() { InitWithWriter(os.Stderr, "INFO", "text", false) })

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				Info("poll", KeyAttempt, j, "worker", i)
				if j == 25 {
					SetFormat("text")
				}
			}
		}(i)
	}
	wg.Wait()

	bufMu.Lock()
	defer bufMu.Unlock()
	assert.Len(t, strings.Split(strings.TrimSpace(buf.String()), "\n"), 400)
}

func TestDuration(t *testing.T) {
	assert.GreaterOrEqual(t, Duration(time.Now().Add(-10*time.Millisecond)), 10.0)
}

type writerFunc func([]byte) (int, error)

func (f writerFunc) Write(p []byte) (int, error) { return f(p) }
