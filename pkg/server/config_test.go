package server

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zboyco/gt06hub/pkg/gt06"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)

	require.Equal(t, "5000", cfg.TCPPort)
	require.Equal(t, "8081", cfg.HTTPPort)
	require.Equal(t, "INFO", cfg.LogLevel)
	require.Equal(t, "console", cfg.LogFormat)
	require.Equal(t, 300*time.Second, cfg.IdleTimeout)
	require.Equal(t, 5*time.Second, cfg.DrainTimeout)
	require.Equal(t, 0, cfg.QueueCap)
	require.Equal(t, gt06.CoordSigned, cfg.CoordinateMode)
	require.Empty(t, cfg.RedisAddr)
	require.Empty(t, cfg.RabbitURL)
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("TCP_PORT", "6000")
	t.Setenv("HTTP_PORT", "9090")
	t.Setenv("IDLE_TIMEOUT", "60")
	t.Setenv("QUEUE_CAP", "500")
	t.Setenv("COORDINATE_MODE", "flags")
	t.Setenv("LOG_FORMAT", "json")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, "6000", cfg.TCPPort)
	require.Equal(t, "9090", cfg.HTTPPort)
	require.Equal(t, 60*time.Second, cfg.IdleTimeout)
	require.Equal(t, 500, cfg.QueueCap)
	require.Equal(t, gt06.CoordFlags, cfg.CoordinateMode)
	require.Equal(t, "json", cfg.LogFormat)
}

func TestLoadConfigRejectsBadValues(t *testing.T) {
	t.Setenv("QUEUE_CAP", "lots")
	_, err := LoadConfig()
	require.Error(t, err)
}

func TestLoadConfigRejectsBadCoordinateMode(t *testing.T) {
	t.Setenv("COORDINATE_MODE", "magnitude")
	_, err := LoadConfig()
	require.Error(t, err)
}
