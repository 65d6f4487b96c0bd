package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestForwardedArgs_OnlyChangedFlags(t *testing.T) {
	cmd := launchCmd // flags are registered on the real command
	require.NoError(t, cmd.Flags().Set("prd", "docs/prd.md"))
	require.NoError(t, cmd.Flags().Set("skip-verify", "true"))
	require.NoError(t, cmd.Flags().Set("depth", "quick"))

	args := forwardedArgs(cmd, &launchFlags)

	assert.Contains(t, args, "--prd")
	assert.Contains(t, args, "docs/prd.md")
	assert.Contains(t, args, "--skip-verify")
	assert.Contains(t, args, "--depth")
	assert.Contains(t, args, "quick")

	// Unset flags are not forwarded; the port decision stays with the
	// launcher.
	assert.NotContains(t, args, "--phases")
	assert.NotContains(t, args, "--port")
	assert.NotContains(t, args, "--webhook-url")
}
