package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChamsBouzaiene/cvagent/internal/config"
	"github.com/ChamsBouzaiene/cvagent/internal/engine"
)

func TestRootCommands(t *testing.T) {
	root := newRootCmd()
	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	for _, want := range []string{"serve", "ask", "ingest", "answer", "version"} {
		assert.Contains(t, names, want)
	}
}

func TestVersion(t *testing.T) {
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"version"})
	require.NoError(t, root.Execute())
	assert.Equal(t, "cvagent version: unknown\n", out.String())
}

func TestArgsValidation(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"ask without question", []string{"ask"}},
		{"answer without text", []string{"answer", "s1"}},
		{"ingest without files", []string{"ingest"}},
		{"serve with args", []string{"serve", "extra"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := newRootCmd()
			root.SetOut(&bytes.Buffer{})
			root.SetErr(&bytes.Buffer{})
			root.SetArgs(tt.args)
			assert.Error(t, root.Execute())
		})
	}
}

func TestLoadBindsFlagsAndFile(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "cvagent.yaml")
	require.NoError(t, os.WriteFile(file, []byte(strings.Join([]string{
		"llm:",
		"  provider: anthropic",
		"  model: claude-test",
		"agent:",
		"  retry_cap: 1",
	}, "\n")), 0o644))

	c := &cli{v: config.NewViper()}
	root := c.rootCmd()
	require.NoError(t, root.PersistentFlags().Parse([]string{"--config", file, "--debug"}))

	cfg, logger, err := c.load()
	require.NoError(t, err)
	require.NotNil(t, logger)
	assert.Equal(t, file, c.cfgFile)
	assert.True(t, cfg.Log.Debug)
	assert.Equal(t, "anthropic", cfg.LLM.Provider)
	assert.Equal(t, "claude-test", cfg.LLM.Model)
	assert.Equal(t, 1, cfg.Agent.RetryCap)
	assert.Equal(t, 8, cfg.Agent.MaxActTurns)
}

func TestPrintResult(t *testing.T) {
	var out bytes.Buffer
	printResult(&out, &engine.Result{SessionID: "s1", RunID: "r1", Status: engine.StatusCompleted, Answer: "Ada fits."})
	assert.Equal(t, "Ada fits.\n\nsession: s1  run: r1\n", out.String())

	out.Reset()
	printResult(&out, &engine.Result{SessionID: "s2", RunID: "r2", Status: engine.StatusAwaitingHuman, Question: "Remote only?"})
	assert.Contains(t, out.String(), "Question: Remote only?")
	assert.Contains(t, out.String(), "cvagent answer s2")
}
