package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONOutputCarriesFields(t *testing.T) {
	var buf bytes.Buffer
	l := newWithOutput("debug", "json", &buf)

	ctx := WithRequestID(context.Background(), "req-1")
	ctx = WithEntry(ctx, l.WithField("request_id", RequestID(ctx)))
	FromContext(ctx).WithField("path", "/events").Info("handled")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "req-1", line["request_id"])
	assert.Equal(t, "/events", line["path"])
	assert.Equal(t, "handled", line["msg"])
}

func TestBadLevelFallsBackToInfo(t *testing.T) {
	l := newWithOutput("loud", "text", &bytes.Buffer{})
	assert.Equal(t, logrus.InfoLevel, l.GetLevel())
}

func TestFromContextWithoutEntry(t *testing.T) {
	ctx := WithRequestID(context.Background(), "abc")
	e := FromContext(ctx)
	assert.Equal(t, "abc", e.Data["request_id"])
}
