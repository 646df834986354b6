package main

import (
	"bytes"
	"testing"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/limiquantix/vmplacer/internal/config"
)

func TestPrintValue(t *testing.T) {
	t.Parallel()

	v := map[string]int{"placed": 2}

	var buf bytes.Buffer
	require.NoError(t, printValue(&buf, "json", v))
	assert.JSONEq(t, `{"placed": 2}`, buf.String())

	buf.Reset()
	require.NoError(t, printValue(&buf, "yaml", v))
	assert.Equal(t, "placed: 2\n", buf.String())

	assert.Error(t, printValue(&buf, "xml", v))
}

func TestSetupLogger(t *testing.T) {
	t.Parallel()

	logger, err := setupLogger(config.LoggingConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(-1))

	logger, err = setupLogger(config.LoggingConfig{Level: "bogus"})
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(-1))
}

func TestVersionCommand(t *testing.T) {
	t.Parallel()

	cmd := (&cmdVersion{}).Command()
	var buf bytes.Buffer
	cmd.SetOut(&buf)
	cmd.SetArgs([]string{})
	require.NoError(t, cmd.Execute())
	assert.Contains(t, buf.String(), "Version: dev")
}

func TestBindFlags(t *testing.T) {
	t.Parallel()

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("engine", "", "")
	v := viper.New()
	v.SetDefault("placement.engine", "roundrobin")

	require.NoError(t, bindFlags(v, flags, map[string]string{"placement.engine": "engine"}))
	assert.Equal(t, "roundrobin", v.GetString("placement.engine"))

	require.NoError(t, flags.Parse([]string{"--engine", "weighted"}))
	assert.Equal(t, "weighted", v.GetString("placement.engine"))

	assert.Error(t, bindFlags(v, flags, map[string]string{"x": "missing"}))
}
