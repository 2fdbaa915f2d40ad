package log

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &m))
	return m
}

func TestWithContextEnrichesCorrelationFields(t *testing.T) {
	var buf bytes.Buffer
	base := zerolog.New(&buf)

	ctx := ContextWithCorrelationID(context.Background(), "abc-123")
	ctx = ContextWithJobName(ctx, "queue-processor")
	ctx = ContextWithConnectorID(ctx, 7)

	logger := WithContext(ctx, base)
	logger.Info().Msg("hello")

	m := decodeLine(t, &buf)
	assert.Equal(t, "abc-123", m[FieldCorrelationID])
	assert.Equal(t, "queue-processor", m[FieldJob])
	assert.Equal(t, float64(7), m[FieldConnectorID])
}

func TestWithContextNoFieldsReturnsLoggerUnchanged(t *testing.T) {
	var buf bytes.Buffer
	base := zerolog.New(&buf)

	logger := WithContext(context.Background(), base)
	logger.Info().Msg("plain")

	m := decodeLine(t, &buf)
	_, ok := m[FieldCorrelationID]
	assert.False(t, ok)
}

// The component helpers return a logger by value; callers bind it to a
// local before chaining a level call.
func TestComponentLoggerBindsToLocal(t *testing.T) {
	ctx := ContextWithConnectorID(context.Background(), 3)
	logger := WithComponentFromContext(ctx, "catalog")
	logger.Debug().Str("k", "v").Msg("bound")

	plain := WithComponent("catalog")
	plain.Debug().Msg("bound")

	id, ok := ConnectorIDFromContext(ctx)
	assert.True(t, ok)
	assert.Equal(t, int64(3), id)
}
