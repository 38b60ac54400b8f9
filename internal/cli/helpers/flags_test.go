package helpers

import (
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coral-mesh/jitcov/internal/config"
)

func TestConfigFlags_ApplyOnlyChanged(t *testing.T) {
	f := NewConfigFlags()
	require.NoError(t, f.FlagSet().Parse([]string{"--modules", "A.dll,B.dll", "--quiet"}))

	cfg := config.Default()
	f.Apply(cfg)

	assert.Equal(t, config.AllowList("A.dll,B.dll"), cfg.Modules)
	assert.False(t, cfg.Report.Console)
	assert.Equal(t, config.Default().Report.Path, cfg.Report.Path)
	assert.Equal(t, config.Default().Logging.Level, cfg.Logging.Level)
}

func TestConfigFlags_LoadOverridesEnvironment(t *testing.T) {
	t.Setenv("JITCOV_CONFIG", "")
	t.Setenv("JITCOV_REPORT_PATH", "env.csv")

	f := NewConfigFlags()
	require.NoError(t, f.FlagSet().Parse([]string{"--report", "flag.csv", "--log-level", "debug"}))

	cfg, err := f.Load()
	require.NoError(t, err)
	assert.Equal(t, "flag.csv", cfg.Report.Path)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestConfigFlags_LoadValidates(t *testing.T) {
	t.Setenv("JITCOV_CONFIG", "")

	f := NewConfigFlags()
	require.NoError(t, f.FlagSet().Parse([]string{"--log-level", "loud"}))

	_, err := f.Load()
	assert.ErrorIs(t, err, config.ErrInvalid)
}

func TestAddFormatFlag(t *testing.T) {
	var format string
	cmd := &cobra.Command{Use: "x"}
	AddFormatFlag(cmd, &format, FormatTable, []OutputFormat{FormatTable, FormatCSV})

	fl := cmd.Flags().Lookup("format")
	require.NotNil(t, fl)
	assert.Equal(t, "o", fl.Shorthand)
	assert.Equal(t, "table", fl.DefValue)
	assert.Contains(t, fl.Usage, "table, csv")
}
