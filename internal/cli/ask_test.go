package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAskAndMemoryCommands(t *testing.T) {
	path, dir := writeTestConfig(t)

	out, err := execute(t, "--config", path, "ask", "--user", "u1", "What", "should", "I", "study?")
	require.NoError(t, err)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "(mock) Academic advice for: What should I study?\nBased on memories: []", resp["academic"])
	assert.Equal(t, "(mock) Career advice for: What should I study?\nBased on memories: []", resp["career"])
	assert.Equal(t, []interface{}{}, resp["memories"])

	out, err = execute(t, "--config", path, "ask", "--user", "u1", "--context", "year=2", "Any internships?")
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, []interface{}{"What should I study?"}, resp["memories"])

	out, err = execute(t, "--config", path, "memory", "show", "--user", "u1")
	require.NoError(t, err)
	assert.Equal(t, "1. What should I study?\n2. Any internships?\n", out)

	out, err = execute(t, "--config", path, "memory", "show", "--user=")
	require.NoError(t, err)
	assert.Equal(t, "u1\t2\n", out)

	out, err = execute(t, "--config", path, "memory", "snapshot")
	require.NoError(t, err)
	assert.Contains(t, out, "Snapshot written to")
	snapshots, err := filepath.Glob(filepath.Join(dir, "snapshots", "memory-*.json"))
	require.NoError(t, err)
	assert.Len(t, snapshots, 1)

	out, err = execute(t, "--config", path, "memory", "forget", "--user", "u1")
	require.NoError(t, err)
	assert.Contains(t, out, "Removed 2 memories for u1")

	data, err := os.ReadFile(filepath.Join(dir, "memory.json"))
	require.NoError(t, err)
	assert.JSONEq(t, `{}`, string(data))

	out, err = execute(t, "--config", path, "memory", "show", "--user", "u1")
	require.NoError(t, err)
	assert.Equal(t, "No memories stored for u1\n", out)
}

func TestAskRequiresQuestion(t *testing.T) {
	path, _ := writeTestConfig(t)

	_, err := execute(t, "--config", path, "ask", "--user", "u1")
	assert.Error(t, err)
}
