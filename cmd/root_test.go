package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand_Version(t *testing.T) {
	resetForTest(t)

	out, err := execute(t, "", "--version")

	require.NoError(t, err)
	assert.Equal(t, "webpilot version "+Version+"\n", out)
}

func TestRootCommand_Subcommands(t *testing.T) {
	root := NewRootCommand()
	run, _, err := root.Find([]string{"run"})
	require.NoError(t, err)
	assert.Equal(t, "run", run.Name())
	for name := range flagKeys {
		assert.NotNil(t, run.Flags().Lookup(name), "flag %q must exist for its config binding", name)
	}
}

func TestConfigFromContext_Missing(t *testing.T) {
	_, err := configFromContext(t.Context())
	assert.Error(t, err)
}
