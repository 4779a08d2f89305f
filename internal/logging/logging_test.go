package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ppiankov/rebutqc/internal/model"
)

func TestNew_JSON(t *testing.T) {
	var buf bytes.Buffer
	log := New(model.LogConfig{Level: "info", Format: "json"}, &buf)

	log.Debug("hidden")
	log.Info("batch done", "batch", 2)

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "batch done", rec["msg"])
	assert.Equal(t, float64(2), rec["batch"])
}

func TestNew_TextDebug(t *testing.T) {
	var buf bytes.Buffer
	log := New(model.LogConfig{Level: "debug", Format: "text"}, &buf)

	log.Debug("visible")
	assert.Contains(t, buf.String(), "msg=visible")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel(""))
}

func TestOrDiscard(t *testing.T) {
	assert.NotNil(t, OrDiscard(nil))
	l := Discard()
	assert.Same(t, l, OrDiscard(l))
}
