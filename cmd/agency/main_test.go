package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aixgo-dev/agency/agent"
)

const testConfig = `
name: test-agency
agents:
  - name: CEO
  - name: Analyst
flows:
  - from: CEO
    to: Analyst
llm:
  provider: echo
`

func writeConfig(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "agency.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testConfig), 0o600))
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestVersion(t *testing.T) {
	out, err := run(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "agency dev\n", out)
}

func TestChat(t *testing.T) {
	cfg := writeConfig(t)

	out, err := run(t, "--config", cfg, "chat", "status", "report")
	require.NoError(t, err)
	assert.Contains(t, out, "CEO: CEO received: status report")

	out, err = run(t, "--config", cfg, "chat", "--agent", "Analyst", "--json", "numbers?")
	require.NoError(t, err)
	var envs []agent.Envelope
	require.NoError(t, json.Unmarshal([]byte(out), &envs))
	require.Len(t, envs, 1)
	assert.Equal(t, "Analyst", envs[0].Agent)

	_, err = run(t, "--config", cfg, "chat", "--agent", "Nobody", "hi")
	assert.Error(t, err)
}

func TestChat_MissingConfig(t *testing.T) {
	_, err := run(t, "--config", filepath.Join(t.TempDir(), "missing.yaml"), "chat", "hi")
	assert.Error(t, err)
}

func TestAgents(t *testing.T) {
	out, err := run(t, "--config", writeConfig(t), "agents")
	require.NoError(t, err)
	assert.Contains(t, out, "CEO *")
	assert.Contains(t, out, "Analyst")
}

func TestRepl_Handle(t *testing.T) {
	opts := &rootOptions{configFile: writeConfig(t)}
	a, cleanup, err := start(context.Background(), opts, true)
	require.NoError(t, err)
	t.Cleanup(cleanup)

	var out bytes.Buffer
	r := &repl{app: a, out: &out}
	cmd := &cobra.Command{}
	cmd.SetContext(context.Background())

	assert.Equal(t, "CEO> ", r.prompt())
	assert.False(t, r.handle(cmd, "hello"))
	assert.Contains(t, out.String(), "CEO: CEO received: hello")

	assert.False(t, r.handle(cmd, "/to Analyst"))
	assert.Equal(t, "Analyst> ", r.prompt())
	assert.False(t, r.handle(cmd, "numbers"))
	assert.Contains(t, out.String(), "Analyst: Analyst received: numbers")

	out.Reset()
	assert.False(t, r.handle(cmd, "/to Nobody"))
	assert.Contains(t, out.String(), `unknown agent "Nobody"`)

	out.Reset()
	assert.False(t, r.handle(cmd, "/history 1"))
	assert.Contains(t, out.String(), "Analyst received: numbers")
	assert.NotContains(t, out.String(), "CEO received")

	assert.False(t, r.handle(cmd, "/clear"))
	n, err := a.Agency.History().Len(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)

	out.Reset()
	assert.False(t, r.handle(cmd, "/bogus"))
	assert.Contains(t, out.String(), "unknown command")

	assert.True(t, r.handle(cmd, "/quit"))
}
