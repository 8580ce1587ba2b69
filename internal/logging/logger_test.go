package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNew(t *testing.T) {
	t.Run("should write structured json by default", func(t *testing.T) {
		var buf bytes.Buffer
		logger, err := New(Config{}, &buf)
		require.NoError(t, err)

		logger.Info("transaction rejected", zap.Uint16("client", 7))
		require.NoError(t, logger.Sync())

		var line map[string]any
		require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
		assert.Equal(t, "transaction rejected", line["msg"])
		assert.Equal(t, "info", line["level"])
		assert.EqualValues(t, 7, line["client"])
	})

	t.Run("should respect the configured level", func(t *testing.T) {
		var buf bytes.Buffer
		logger, err := New(Config{Level: "warn"}, &buf)
		require.NoError(t, err)

		logger.Info("hidden")
		logger.Warn("shown")

		assert.NotContains(t, buf.String(), "hidden")
		assert.Contains(t, buf.String(), "shown")
	})

	t.Run("should support console output", func(t *testing.T) {
		var buf bytes.Buffer
		logger, err := New(Config{Format: "console"}, &buf)
		require.NoError(t, err)

		logger.Info("hello")

		assert.Contains(t, buf.String(), "hello")
	})

	t.Run("should reject unknown settings", func(t *testing.T) {
		_, err := New(Config{Level: "loud"}, &bytes.Buffer{})
		assert.Error(t, err)

		_, err = New(Config{Format: "xml"}, &bytes.Buffer{})
		assert.Error(t, err)
	})
}
