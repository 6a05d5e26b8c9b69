package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/itohio/noisr/pkg/config"
	"github.com/itohio/noisr/pkg/noisr"
	"github.com/itohio/noisr/pkg/protocol"
	"github.com/itohio/noisr/pkg/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(io.Discard)
	rootCmd.SetArgs(append(args, "--config", filepath.Join(t.TempDir(), "missing.yaml"), "--log-level", "disabled"))
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestHandshakeCommand_Mock(t *testing.T) {
	out, err := run(t, "handshake", "--mock", "--channel", "7")
	require.NoError(t, err)
	assert.Contains(t, out, "channel 7 token 7 (0x07)")
}

func TestHandshakeCommand_InvalidChannel(t *testing.T) {
	_, err := run(t, "handshake", "--mock", "--channel", "300")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "out of range")
}

func TestStreamCommand_Mock(t *testing.T) {
	out, err := run(t, "stream", "--mock", "--rate", "100", "--duration", "500ms")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.NotEmpty(t, lines)
	for i, line := range lines {
		fields := strings.Split(line, ",")
		require.Len(t, fields, 3, "line %q", line)
		assert.Equal(t, strconv.Itoa(i+1), fields[0])
		_, err := strconv.ParseFloat(fields[2], 64)
		assert.NoError(t, err, "line %q", line)
	}
}

func TestConfigCommand_Save(t *testing.T) {
	path := filepath.Join(t.TempDir(), "noisr.yaml")
	_, err := run(t, "config", "--save", path, "--port", "/dev/ttyACM3")
	require.NoError(t, err)

	saved, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/dev/ttyACM3", saved.Serial.Port)
}

func TestFrameErrorPrinter(t *testing.T) {
	_, decodeErr := protocol.DecodeSample("abc")
	require.Error(t, decodeErr)

	tests := []struct {
		name string
		err  error
		want string
	}{
		{
			name: "malformed frame",
			err:  decodeErr,
			want: "malformed frame \"abc\" skipped\n",
		},
		{
			name: "terminal decode failure",
			err:  fmt.Errorf("%w: 3 in a row: %w", noisr.ErrTooManyDecodeErrors, decodeErr),
		},
		{
			name: "transport failure",
			err:  fmt.Errorf("stream: poll: %w", noisr.ErrTransport),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			frameErrorPrinter(&out)(tt.err)
			assert.Equal(t, tt.want, out.String())
		})
	}
}

func TestPortsTable(t *testing.T) {
	data := portsTable([]transport.Port{
		{Name: "/dev/ttyACM0", Description: "Arduino Uno"},
		{Name: "/dev/ttyACM1"},
	})

	require.Len(t, data, 3)
	assert.Equal(t, []string{"Port", "Description"}, data[0])
	assert.Equal(t, []string{"/dev/ttyACM0", "Arduino Uno"}, data[1])
	assert.Equal(t, []string{"/dev/ttyACM1", "-"}, data[2])
}
