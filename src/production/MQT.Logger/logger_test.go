package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	config "github.com/cornellpepper/CuWatch-server/src/production/MQT.Config"
	"github.com/stretchr/testify/require"
)

func TestWithDeviceAndError(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf).WithComponent("ingestor").WithDevice("det-7")

	l.WarnWithError(errors.New("bad payload"), "message dropped")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	require.Equal(t, "ingestor", line["component"])
	require.Equal(t, "det-7", line["device_id"])
	require.Equal(t, "bad payload", line["error"])
	require.Equal(t, "message dropped", line["message"])
	require.Equal(t, "warn", line["level"])
}

func TestNewLoggerWritesToFileAndCloses(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ingestor.log")
	l := NewLogger(&config.LoggingConfig{Level: "info", Format: "json", Output: path})
	svc := l.WithService("ingestor")

	svc.Info("started")
	require.NoError(t, svc.Close())
	require.NoError(t, l.Close(), "closing twice is harmless")

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	var line map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(b), &line))
	require.Equal(t, "ingestor", line["service"])
	require.Equal(t, "started", line["message"])
}

func TestOpenOutputFallsBackToStdout(t *testing.T) {
	w, closer, err := openOutput(filepath.Join(t.TempDir(), "missing", "x.log"))
	require.Error(t, err)
	require.Same(t, os.Stdout, w)
	require.Nil(t, closer)

	w, closer, err = openOutput("stderr")
	require.NoError(t, err)
	require.Same(t, os.Stderr, w)
	require.Nil(t, closer)
}

func TestNopLoggerClose(t *testing.T) {
	require.NoError(t, Nop().Close())
	require.NoError(t, Nop().WithComponent("x").Close())
}
