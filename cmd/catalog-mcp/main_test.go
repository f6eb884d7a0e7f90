package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommandTree(t *testing.T) {
	want := []string{"version", "serve", "search", "cost", "import", "embed", "migrate"}
	for _, name := range want {
		cmd, _, err := rootCmd.Find([]string{name})
		require.NoError(t, err, name)
		assert.Equal(t, name, cmd.Name())
	}

	flag := rootCmd.PersistentFlags().Lookup("config")
	require.NotNil(t, flag)
	assert.Equal(t, "c", flag.Shorthand)
	assert.NotNil(t, serveCmd.Flags().Lookup("metrics-addr"))
	assert.NotNil(t, migrateCmd.Flags().Lookup("rollback"))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "Bàn", truncate("Bàn", 5))
	assert.Equal(t, "Bàn l…", truncate("Bàn làm việc", 6))
}
