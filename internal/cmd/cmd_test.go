package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeWorkflow(t *testing.T, content string) string {
	t.Helper()
	file := filepath.Join(t.TempDir(), "flow.yaml")
	require.NoError(t, os.WriteFile(file, []byte(content), 0600))
	return file
}

func TestValidateCommand(t *testing.T) {
	file := writeWorkflow(t, `
cycling: integer
initialPoint: "1"
finalPoint: "3"
graph:
  P1: |
    a => b
`)
	cmd := CmdValidate()
	cmd.SetArgs([]string{"--horizon", "P5", file})
	require.NoError(t, cmd.Execute())
}

func TestValidateCommandCycle(t *testing.T) {
	file := writeWorkflow(t, `
cycling: integer
initialPoint: "1"
finalPoint: "3"
graph:
  P1: |
    a => b
    b => a
`)
	cmd := CmdValidate()
	cmd.SetArgs([]string{file})
	err := cmd.Execute()
	require.Error(t, err)
	require.Contains(t, err.Error(), "circular edges detected")
}

func TestRunCommand(t *testing.T) {
	outDir := t.TempDir()
	file := writeWorkflow(t, `
cycling: integer
initialPoint: "1"
finalPoint: "2"
graph:
  P1: |
    produce => consume
tasks:
  produce:
    script: "touch $OUT_DIR/produced.$CYCLEFLOW_POINT"
    env:
      OUT_DIR: "`+outDir+`"
  consume:
    script: "touch $OUT_DIR/consumed.$CYCLEFLOW_POINT"
    env:
      OUT_DIR: "`+outDir+`"
`)
	cmd := CmdRun()
	cmd.SetArgs([]string{"--run-id", "test-run", file})
	require.NoError(t, cmd.Execute())

	for _, name := range []string{"produced.1", "produced.2", "consumed.1", "consumed.2"} {
		require.FileExists(t, filepath.Join(outDir, name))
	}
}
