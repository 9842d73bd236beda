package logging

import (
	"bytes"
	"encoding/json"
	"log"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInstallRenamesKeys(t *testing.T) {
	prevDefault := slog.Default()
	prevOut := log.Writer()
	t.Cleanup(func() {
		slog.SetDefault(prevDefault)
		log.SetOutput(prevOut)
	})

	var buf bytes.Buffer
	logger := install(&buf, "escrow-api", "test")
	logger.Info("job created", "job_id", "0xabc")

	var line map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line))
	require.Equal(t, "job created", line["message"])
	require.Equal(t, "INFO", line["severity"])
	require.Equal(t, "escrow-api", line["service"])
	require.Equal(t, "test", line["env"])
	require.Contains(t, line, "timestamp")
	require.NotContains(t, line, "msg")
}
