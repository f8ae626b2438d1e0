package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/icanbwell/credcache/pkg/env"
)

func TestUnstructuredLogsWithEnv(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		value string
		want  bool
	}{
		{name: "unset defaults to unstructured", value: "", want: true},
		{name: "explicit true", value: "true", want: true},
		{name: "explicit false", value: "false", want: false},
		{name: "garbage defaults to unstructured", value: "not-a-bool", want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			reader := &env.MapReader{Values: map[string]string{"UNSTRUCTURED_LOGS": tt.value}}
			assert.Equal(t, tt.want, unstructuredLogsWithEnv(reader))
		})
	}
}

func TestSetAndGet(t *testing.T) { //nolint:paralleltest // mutates the singleton
	var buf bytes.Buffer
	original := Get()
	t.Cleanup(func() { Set(original) })

	Set(slog.New(slog.NewJSONHandler(&buf, nil)))
	Infow("cache populated", "provider", "acme")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "cache populated", entry["msg"])
	assert.Equal(t, "acme", entry["provider"])
}
