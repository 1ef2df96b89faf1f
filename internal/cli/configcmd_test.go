package cli

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigCommands(t *testing.T) {
	t.Run("validate reports offline warning", func(t *testing.T) {
		path, _ := writeTestConfig(t)

		out, err := execute(t, "--config", path, "config", "validate")
		require.NoError(t, err)
		assert.Contains(t, out, "warning: provider is offline")
		assert.Contains(t, out, "Configuration is valid")
	})

	t.Run("show prints the effective config", func(t *testing.T) {
		path, dir := writeTestConfig(t)

		out, err := execute(t, "--config", path, "config", "show")
		require.NoError(t, err)
		assert.Contains(t, out, `"name": "offline"`)
		assert.Contains(t, out, dir)
	})

	t.Run("init writes once", func(t *testing.T) {
		t.Setenv("GEMINI_API_KEY", "")
		path := filepath.Join(t.TempDir(), "conf", "advisor.json")

		out, err := execute(t, "--config", path, "config", "init", "--force=false")
		require.NoError(t, err)
		assert.Contains(t, out, "Configuration saved to: "+path)
		assert.FileExists(t, path)

		_, err = execute(t, "--config", path, "config", "init", "--force=false")
		assert.ErrorContains(t, err, "already exists")

		_, err = execute(t, "--config", path, "config", "init", "--force")
		assert.NoError(t, err)
	})
}
