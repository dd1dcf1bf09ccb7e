package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"igharvest/pkg/config"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		cfg     *config.LoggingConfig
		wantErr bool
	}{
		{"info console", &config.LoggingConfig{Level: "info", Format: "console"}, false},
		{"debug json", &config.LoggingConfig{Level: "debug", Format: "json"}, false},
		{"invalid level", &config.LoggingConfig{Level: "invalid"}, true},
		{"file output", &config.LoggingConfig{Level: "info", File: filepath.Join(t.TempDir(), "logs", "app.log")}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, err := New(tt.cfg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, l)
		})
	}
	zerolog.SetGlobalLevel(zerolog.DebugLevel)
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		level    string
		expected zerolog.Level
		wantErr  bool
	}{
		{"debug", zerolog.DebugLevel, false},
		{"INFO", zerolog.InfoLevel, false},
		{"warning", zerolog.WarnLevel, false},
		{"error", zerolog.ErrorLevel, false},
		{"disabled", zerolog.Disabled, false},
		{"verbose", zerolog.InfoLevel, true},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			level, err := parseLogLevel(tt.level)
			assert.Equal(t, tt.wantErr, err != nil)
			assert.Equal(t, tt.expected, level)
		})
	}
}

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]interface{} {
	t.Helper()
	var out []map[string]interface{}
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(line), &m))
		out = append(out, m)
	}
	return out
}

func TestFieldsAreScopedToDerivedLoggers(t *testing.T) {
	zerolog.SetGlobalLevel(zerolog.DebugLevel)
	var buf bytes.Buffer
	base := NewWithWriter(&buf)

	child := base.WithField("target", "shop_one").WithError(errors.New("boom"))
	child.InfoWithFields("item failed", map[string]interface{}{"index": 2, "took": 3 * time.Millisecond})
	base.Info("batch done")

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 2)

	assert.Equal(t, "item failed", lines[0]["message"])
	assert.Equal(t, "shop_one", lines[0]["target"])
	assert.Equal(t, "boom", lines[0]["error"])
	assert.EqualValues(t, 2, lines[0]["index"])
	assert.Equal(t, "igharvest", lines[0]["app"])

	assert.Equal(t, "batch done", lines[1]["message"])
	assert.NotContains(t, lines[1], "target")
	assert.NotContains(t, lines[1], "error")
}

func TestLogRequestLevels(t *testing.T) {
	tl := NewTestLogger()
	LogRequest(tl, "GET", "/profile/x", 200, time.Millisecond)
	LogRequest(tl, "GET", "/stories/x", 401, time.Millisecond)
	LogRequest(tl, "POST", "/login", 500, time.Millisecond)

	msgs := tl.GetMessages()
	require.Len(t, msgs, 3)
	assert.Equal(t, "INFO", msgs[0].Level)
	assert.Equal(t, "WARN", msgs[1].Level)
	assert.Equal(t, "ERROR", msgs[2].Level)
	assert.Equal(t, "/stories/x", msgs[1].Fields["path"])
}

func TestTestLoggerSharesSink(t *testing.T) {
	tl := NewTestLogger()
	derived := tl.WithField("component", "session").WithError(errors.New("x"))
	derived.Warn("login superseded")

	require.True(t, tl.HasMessage("login superseded"))
	msg := tl.GetMessagesByLevel("WARN")[0]
	assert.Equal(t, "session", msg.Fields["component"])
	assert.EqualError(t, msg.Error, "x")
	assert.False(t, tl.HasError())

	tl.Clear()
	assert.Empty(t, tl.GetMessages())
}

func TestGlobalLogger(t *testing.T) {
	tl := NewTestLogger()
	SetLogger(tl)
	defer SetLogger(NewNopLogger())

	WithField("k", "v").Info("hello")
	assert.True(t, tl.HasMessage("hello"))
	assert.Same(t, tl, GetLogger())
}
