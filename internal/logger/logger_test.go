package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewParsesLevel(t *testing.T) {
	assert.Equal(t, zerolog.DebugLevel, New("debug", "json").GetLevel())
	assert.Equal(t, zerolog.WarnLevel, New("WARN", "json").GetLevel())
	// An unknown level falls back to info.
	assert.Equal(t, zerolog.InfoLevel, New("verbose", "json").GetLevel())
}

func logFields(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	var fields map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &fields))
	return fields
}

func TestForRequestCarriesCorrelationFields(t *testing.T) {
	var buf bytes.Buffer
	root := zerolog.New(&buf)

	l := ForRequest(root, "corr-1", "t1", "u1")
	l.Info().Msg("request")

	fields := logFields(t, &buf)
	assert.Equal(t, "corr-1", fields["correlation_id"])
	assert.Equal(t, "t1", fields["tenant_id"])
	assert.Equal(t, "u1", fields["user_id"])
}

func TestForRequestOmitsEmptyFields(t *testing.T) {
	var buf bytes.Buffer
	root := zerolog.New(&buf)

	l := ForRequest(root, "corr-1", "", "")
	l.Info().Msg("request")

	fields := logFields(t, &buf)
	assert.Equal(t, "corr-1", fields["correlation_id"])
	assert.NotContains(t, fields, "tenant_id")
	assert.NotContains(t, fields, "user_id")
}
