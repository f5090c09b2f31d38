package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoggerWritesJSONWithRequestID(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter(&buf, "test-service", "debug")
	t.Cleanup(func() { Init("upscale-go", "info") })

	ctx := WithRequestID(context.Background(), "req-123")
	Error(ctx, "something failed", errors.New("boom"), Fields{"file": "a.png"})

	var entry map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry))

	assert.Equal(t, "ERROR", entry["level"])
	assert.Equal(t, "something failed", entry["msg"])
	assert.Equal(t, "test-service", entry["service"])
	assert.Equal(t, "req-123", entry["request_id"])
	assert.Equal(t, "boom", entry["error"])
	fields, ok := entry["fields"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "a.png", fields["file"])
}

func TestLoggerRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter(&buf, "test-service", "warn")
	t.Cleanup(func() { Init("upscale-go", "info") })

	Info(context.Background(), "hidden")
	Debug(context.Background(), "hidden too")
	Warn(context.Background(), "visible")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Equal(t, 1, strings.Count(out, "\n"))
	assert.Contains(t, out, "visible")
}

func TestRequestIDFromContext(t *testing.T) {
	assert.Equal(t, "", RequestIDFromContext(context.Background()))
	assert.Equal(t, "abc", RequestIDFromContext(WithRequestID(context.Background(), "abc")))
}
