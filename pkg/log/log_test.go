package log

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithRecordIDKeepsParentFields(t *testing.T) {
	var buf bytes.Buffer
	parent := zerolog.New(&buf).With().
		Str("component", "dispatch").
		Str("tenant_id", "acme").
		Logger()

	logger := WithRecordID(parent, "order-17")
	logger.Info().Msg("sent")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "dispatch", line["component"])
	assert.Equal(t, "acme", line["tenant_id"])
	assert.Equal(t, "order-17", line["record_id"])
	assert.Equal(t, "sent", line["message"])
}

func TestInitJSONOutput(t *testing.T) {
	old, oldLevel := Logger, zerolog.GlobalLevel()
	defer func() {
		Logger = old
		zerolog.SetGlobalLevel(oldLevel)
	}()

	var buf bytes.Buffer
	Init(Config{Level: WarnLevel, JSONOutput: true, Output: &buf})

	logger := WithBoard("reconciler", "acme", "order")
	logger.Info().Msg("dropped")
	assert.Zero(t, buf.Len())

	logger = WithBoard("reconciler", "acme", "order")
	logger.Warn().Msg("kept")
	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "reconciler", line["component"])
	assert.Equal(t, "order", line["kind"])
}
