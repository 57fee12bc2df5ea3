package logx

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &m))
		out = append(out, m)
	}
	return out
}

func TestJSONFields(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "debug", Format: "json", Output: &buf}).With(String("comp", "worker"))

	log.Info("task.completed",
		String("task_id", "t-1"),
		Int("retry_count", 2),
		Duration("dur", 1500*time.Millisecond),
		Err(errors.New("boom")),
		Bool("ok", false),
	)

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	got := lines[0]
	assert.Equal(t, "info", got["level"])
	assert.Equal(t, "task.completed", got["message"])
	assert.Equal(t, "worker", got["comp"])
	assert.Equal(t, "t-1", got["task_id"])
	assert.EqualValues(t, 2, got["retry_count"])
	assert.EqualValues(t, 1500, got["dur"])
	assert.Equal(t, "boom", got["err"])
	assert.Equal(t, false, got["ok"])
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "warn", Format: "json", Output: &buf})

	log.Debug("hidden")
	log.Info("hidden")
	log.Warn("shown")
	log.Error("shown too")

	assert.Len(t, decodeLines(t, &buf), 2)
}

func TestZeroAndNop(t *testing.T) {
	var zero Logger
	assert.True(t, zero.IsZero())
	assert.NotPanics(t, func() { zero.Info("nothing", String("k", "v")) })

	nop := Nop()
	assert.False(t, nop.IsZero())
	assert.NotPanics(t, func() { nop.Error("nothing") })
}

func TestWithDoesNotAlias(t *testing.T) {
	var buf bytes.Buffer
	root := New(Config{Format: "json", Output: &buf})
	a := root.With(String("who", "a"))
	b := root.With(String("who", "b"))

	a.Info("x")
	b.Info("y")

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 2)
	assert.Equal(t, "a", lines[0]["who"])
	assert.Equal(t, "b", lines[1]["who"])
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zerolog.DebugLevel, ParseLevel("DEBUG"))
	assert.Equal(t, zerolog.WarnLevel, ParseLevel(" warning "))
	assert.Equal(t, zerolog.ErrorLevel, ParseLevel("error"))
	assert.Equal(t, zerolog.TraceLevel, ParseLevel("trace"))
	assert.Equal(t, zerolog.InfoLevel, ParseLevel("bogus"))
}

func TestNewLeavesZerologGlobalsAlone(t *testing.T) {
	assert.Equal(t, "err", zerolog.ErrorFieldName)

	prev := zerolog.ErrorFieldName
	zerolog.ErrorFieldName = "error"
	defer func() { zerolog.ErrorFieldName = prev }()

	_ = New(Config{Format: "json", Output: io.Discard})
	assert.Equal(t, "error", zerolog.ErrorFieldName)
}
