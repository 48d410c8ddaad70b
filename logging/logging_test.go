package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"cubesync/config"
	"cubesync/protocol"
	"cubesync/server"
	"cubesync/transport"
)

func TestNew_Console(t *testing.T) {
	log, err := New(config.LoggingConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, log)
}

func TestNew_InvalidLevel(t *testing.T) {
	_, err := New(config.LoggingConfig{Level: "trace", Format: "json"})
	assert.Error(t, err)
}

func TestNew_InvalidFormat(t *testing.T) {
	_, err := New(config.LoggingConfig{Level: "info", Format: "xml"})
	assert.Error(t, err)
}

func TestBuild_JSONFields(t *testing.T) {
	var buf bytes.Buffer
	log, err := build(config.LoggingConfig{Level: "info", Format: "json"}, zapcore.AddSync(&buf))
	require.NoError(t, err)

	log.Debugw("hidden")
	log.Infow("player joined", "client_id", 3)
	require.NoError(t, log.Sync())

	var line map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line))
	assert.Equal(t, "INFO", line["level"])
	assert.Equal(t, "player joined", line["msg"])
	assert.EqualValues(t, 3, line["client_id"])
	assert.Contains(t, line, "caller")
	assert.Contains(t, line, "ts")
}

func TestBuild_VerboseTracingAtDefaultLevel(t *testing.T) {
	var buf bytes.Buffer
	log, err := build(config.Default().Logging, zapcore.AddSync(&buf))
	require.NoError(t, err)

	n := transport.NewMemoryNetwork()
	driver, err := n.Listen()
	require.NoError(t, err)
	session := server.NewSession(driver, server.DefaultOptions(), log)
	session.SetVerbose(true)

	cl := n.Dial()
	now := time.Unix(0, 0)
	session.Tick(now)
	b, err := protocol.Encode(protocol.Ping{})
	require.NoError(t, err)
	require.NoError(t, cl.Send(b))
	session.Tick(now)

	assert.Contains(t, buf.String(), "message received")
	assert.Contains(t, buf.String(), "message sent")
}

func TestNew_RollingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cubesync.log")
	log, err := New(config.LoggingConfig{
		Level:      "info",
		Format:     "console",
		File:       path,
		MaxSizeMB:  1,
		MaxBackups: 1,
		MaxAgeDays: 1,
	})
	require.NoError(t, err)

	log.Info("written to file")
	_ = log.Sync()

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(b), "written to file")
}
