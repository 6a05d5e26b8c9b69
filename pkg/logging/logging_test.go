package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/itohio/noisr/pkg/config"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		raw     string
		want    zerolog.Level
		wantErr bool
	}{
		{"", zerolog.InfoLevel, false},
		{"trace", zerolog.TraceLevel, false},
		{"DEBUG", zerolog.DebugLevel, false},
		{" info ", zerolog.InfoLevel, false},
		{"warning", zerolog.WarnLevel, false},
		{"error", zerolog.ErrorLevel, false},
		{"off", zerolog.Disabled, false},
		{"loud", zerolog.InfoLevel, true},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := ParseLevel(tt.raw)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNew_Errors(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.LogConfig
	}{
		{"bad level", config.LogConfig{Level: "loud"}},
		{"bad format", config.LogConfig{Format: "xml"}},
		{"bad output", config.LogConfig{Output: "printer"}},
		{"file without path", config.LogConfig{Output: "file"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.cfg)
			assert.Error(t, err)
		})
	}
}

func TestNew_FileJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "noisr.log")
	logger, err := New(config.LogConfig{
		Level:     "debug",
		Format:    "json",
		Output:    "file",
		FilePath:  path,
		MaxSizeMB: 1,
	})
	require.NoError(t, err)

	logger.Info().Str("port", "/dev/ttyACM0").Msg("handshake complete")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"port":"/dev/ttyACM0"`)
	assert.Contains(t, string(data), `"app":"noisr"`)
	assert.Contains(t, string(data), "handshake complete")
}

func TestNew_Level(t *testing.T) {
	logger, err := New(config.LogConfig{Level: "warn", Format: "json", Output: "stderr"})
	require.NoError(t, err)
	assert.Equal(t, zerolog.WarnLevel, logger.GetLevel())
}
