package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}

	for _, name := range []string{"serve", "refresh", "score", "shard", "runs"} {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "site-scorer", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
}

func TestServeCommand_Flags(t *testing.T) {
	flag := serveCmd.Flags().Lookup("port")
	require.NotNil(t, flag, "serve command should have --port flag")
	assert.Equal(t, "0", flag.DefValue)
}

func TestRefreshCommand_Flags(t *testing.T) {
	flag := refreshCmd.Flags().Lookup("date")
	require.NotNil(t, flag, "refresh command should have --date flag")
	assert.Equal(t, "", flag.DefValue)
}

func TestScoreCommand_Flags(t *testing.T) {
	for _, name := range []string{"input", "format", "output", "refresh"} {
		assert.NotNil(t, scoreCmd.Flags().Lookup(name), "score command should have --%s flag", name)
	}
	assert.Equal(t, "table", scoreCmd.Flags().Lookup("format").DefValue)
}

func TestShardBuildCommand_Flags(t *testing.T) {
	for _, name := range []string{"input", "week", "upload", "out", "lat-col", "lon-col"} {
		assert.NotNil(t, shardBuildCmd.Flags().Lookup(name), "shard build should have --%s flag", name)
	}
	assert.Equal(t, "latitude", shardBuildCmd.Flags().Lookup("lat-col").DefValue)
}

func TestRunsCommand_Subcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range runsCmd.Commands() {
		names[c.Name()] = true
	}
	assert.True(t, names["list"])
	assert.True(t, names["show"])
	assert.True(t, names["stats"])

	flag := runsListCmd.Flags().Lookup("limit")
	require.NotNil(t, flag)
	assert.Equal(t, "50", flag.DefValue)
}

func TestRootCommand_LogLevelFlag(t *testing.T) {
	flag := rootCmd.PersistentFlags().Lookup("log-level")
	require.NotNil(t, flag, "root command should have --log-level flag")
	assert.Equal(t, "", flag.DefValue)
}
