package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.validate("default"))
	assert.Equal(t, 1000, cfg.Limits.MaxTasks)
	assert.Equal(t, 10000, cfg.Limits.MaxChainDepth)
	assert.Equal(t, "kotlin.coroutines.jvm.internal.BaseContinuationImpl", cfg.Profile.BaseContinuation)
	assert.Len(t, cfg.Profile.SuspendLambdas, 2)
}

func TestParseConfigOverridesOnlyNamedKeys(t *testing.T) {
	data := []byte(`
limits:
  max_tasks: 25
log:
  level: debug
  format: json
profile:
  task_wrapper:
    type: example.Wrapper
`)
	cfg, err := ParseConfig(data, "coroscope.yaml")
	require.NoError(t, err)

	assert.Equal(t, 25, cfg.Limits.MaxTasks)
	assert.Equal(t, DefaultMaxChainDepth, cfg.Limits.MaxChainDepth)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "example.Wrapper", cfg.Profile.TaskWrapper.Type)
	assert.Equal(t, "continuation", cfg.Profile.TaskWrapper.ContinuationField)
	assert.Equal(t, "invokeSuspend", cfg.Profile.EntryMethod.Name)
}

func TestParseConfigRejectsInvalidValues(t *testing.T) {
	testCases := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "Negative task limit",
			yaml: "limits:\n  max_tasks: -1\n",
			want: "limits.max_tasks must be positive",
		},
		{
			name: "Zero chain depth",
			yaml: "limits:\n  max_chain_depth: 0\n",
			want: "limits.max_chain_depth must be positive",
		},
		{
			name: "Unknown log format",
			yaml: "log:\n  format: xml\n",
			want: `log.format "xml" is not text or json`,
		},
		{
			name: "Unknown dump compression",
			yaml: "dump:\n  compression: lz4\n",
			want: `dump.compression "lz4" is not none or zstd`,
		},
		{
			name: "Bad redaction pattern",
			yaml: "dump:\n  redact: [\"(\"]\n",
			want: "dump.redact",
		},
		{
			name: "Blank base continuation",
			yaml: "profile:\n  base_continuation: \"\"\n",
			want: "profile.base_continuation is required",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseConfig([]byte(tc.yaml), "bad.yaml")
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
			assert.Contains(t, err.Error(), "bad.yaml")
		})
	}
}

func TestParseConfigSyntaxError(t *testing.T) {
	_, err := ParseConfig([]byte("limits: ["), "broken.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parsing broken.yaml")
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "coroscope.yaml")
	require.NoError(t, os.WriteFile(path, []byte("delve:\n  address: localhost:4040\n"), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "localhost:4040", cfg.Delve.Address)
	assert.Equal(t, "dlv", cfg.Delve.Binary)

	_, err = LoadConfig(filepath.Join(dir, "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reading config")
}
