// Package config_test tests the configuration loading for the voice toolkit.
package config_test

import (
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/book-expert/voice-toolkit/internal/config"
	"github.com/pelletier/go-toml/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleTOML = `
[server]
executable_path = "server/main.py"
interpreter = "python3"
log_path = "logs/server.log"
host = "127.0.0.1"
port_range_start = 9000
port_range_end = 9010
startup_timeout_seconds = 60
request_timeout_seconds = 3600

[paths]
base_logs_dir = "logs"

[nats]
url = "nats://127.0.0.1:4222"
jobs_subject = "evt.jobs"
artifact_bucket = "EVT"

[metrics]
addr = ":9100"
`

func TestUnmarshalConfig(t *testing.T) {
	t.Parallel()

	var cfg config.Config

	err := toml.Unmarshal([]byte(sampleTOML), &cfg)
	require.NoError(t, err)

	assert.Equal(t, "server/main.py", cfg.Server.ExecutablePath)
	assert.Equal(t, "python3", cfg.Server.Interpreter)
	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, 9000, cfg.Server.PortRangeStart)
	assert.Equal(t, 9010, cfg.Server.PortRangeEnd)
	assert.Equal(t, "nats://127.0.0.1:4222", cfg.NATS.URL)
	assert.Equal(t, "evt.jobs", cfg.NATS.JobsSubject)
	assert.Equal(t, ":9100", cfg.Metrics.Addr)
}

func TestLoadFileAppliesDefaults(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "project.toml")
	require.NoError(t, os.WriteFile(path, []byte("[server]\nexecutable_path = \"srv.py\"\n"), 0o600))

	cfg, err := config.LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, config.DefaultHost, cfg.Server.Host)
	assert.Equal(t, config.DefaultInterpreter, cfg.Server.Interpreter)
	assert.Equal(t, config.DefaultPortRangeStart, cfg.Server.PortRangeStart)
	assert.Equal(t, config.DefaultPortRangeEnd, cfg.Server.PortRangeEnd)
	assert.Equal(t, config.DefaultJobsSubject, cfg.NATS.JobsSubject)
	assert.Equal(t, config.DefaultArtifactBucket, cfg.NATS.ArtifactBucket)
	assert.Equal(t, config.DefaultMetricsNamespace, cfg.Metrics.Namespace)
	assert.Positive(t, cfg.Server.StartupTimeout())
	assert.Positive(t, cfg.Server.RequestTimeout())
	assert.Positive(t, cfg.Server.ShutdownTimeout())
	assert.Equal(t, 200*time.Millisecond, cfg.Server.OutputGrace())
	assert.NotEmpty(t, cfg.NATS.WorkDir)
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		cfg     config.Config
		wantErr error
	}{
		{
			name:    "missing executable",
			cfg:     config.Config{},
			wantErr: config.ErrExecutablePathEmpty,
		},
		{
			name: "inverted port range",
			cfg: config.Config{Server: config.ServerConfig{
				ExecutablePath: "srv", PortRangeStart: 9000, PortRangeEnd: 8000,
			}},
			wantErr: config.ErrInvalidPortRange,
		},
		{
			name: "negative timeout",
			cfg: config.Config{Server: config.ServerConfig{
				ExecutablePath: "srv", StartupTimeoutSeconds: -1,
			}},
			wantErr: config.ErrNegativeTimeout,
		},
		{
			name: "negative output grace",
			cfg: config.Config{Server: config.ServerConfig{
				ExecutablePath: "srv", OutputGraceMillis: -5,
			}},
			wantErr: config.ErrNegativeTimeout,
		},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			err := testCase.cfg.Validate()
			require.ErrorIs(t, err, testCase.wantErr)
		})
	}
}

func TestServerEnvReadsEnvFile(t *testing.T) {
	t.Parallel()

	envPath := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(envPath, []byte("HF_HOME=/models/hf\n"), 0o600))

	cfg := config.Config{Server: config.ServerConfig{ExecutablePath: "srv", EnvFile: envPath}}

	env, err := cfg.ServerEnv()
	require.NoError(t, err)
	assert.True(t, slices.Contains(env, "HF_HOME=/models/hf"))
}

func TestServerEnvMissingFile(t *testing.T) {
	t.Parallel()

	cfg := config.Config{Server: config.ServerConfig{
		ExecutablePath: "srv",
		EnvFile:        filepath.Join(t.TempDir(), "missing.env"),
	}}

	_, err := cfg.ServerEnv()
	require.Error(t, err)
}
