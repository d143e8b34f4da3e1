// -- cmd/root_test.go --
package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommandWiring(t *testing.T) {
	assert.Equal(t, "domlens", rootCmd.Use)
	assert.Equal(t, Version, rootCmd.Version)

	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	assert.True(t, names["snapshot"], "snapshot subcommand registered")
}

func TestSnapshotCommandFlags(t *testing.T) {
	require.NotNil(t, snapshotCmd.Flags().Lookup("json"))
	require.NotNil(t, snapshotCmd.Flags().Lookup("watch"))
	assert.Equal(t, "0s", snapshotCmd.Flags().Lookup("watch").DefValue)
}

func TestSnapshotRequiresURL(t *testing.T) {
	err := snapshotCmd.Args(snapshotCmd, []string{})
	assert.Error(t, err)
	assert.NoError(t, snapshotCmd.Args(snapshotCmd, []string{"https://example.com"}))
}
