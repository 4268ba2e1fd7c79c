package tools

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/ollamagate/pkg/protocol"
)

type fakeRunner struct {
	commands []string
	cwds     []string
	fail     bool
}

func (f *fakeRunner) Run(_ context.Context, command, cwd string) (string, error) {
	f.commands = append(f.commands, command)
	f.cwds = append(f.cwds, cwd)
	if f.fail {
		return "", errors.New("boom")
	}
	return "ok", nil
}

func newTestEngine(t *testing.T) (*Engine, *fakeRunner, string) {
	t.Helper()
	root := t.TempDir()
	runner := &fakeRunner{}
	return NewEngine(root, WithRunner(runner)), runner, root
}

func TestCreateFile(t *testing.T) {
	engine, _, root := newTestEngine(t)

	result, err := engine.Execute(context.Background(), Spec{
		Name:   ToolCreateFile,
		Params: map[string]any{"path": "src/app.js", "content": "console.log('hi')"},
	})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.True(t, result.Critical)

	data, err := os.ReadFile(filepath.Join(root, "src", "app.js"))
	require.NoError(t, err)
	assert.Equal(t, "console.log('hi')", string(data))
}

func TestCreateFileNormalizesPaths(t *testing.T) {
	engine, _, root := newTestEngine(t)

	tests := []struct {
		name string
		path string
		want string
	}{
		{"absolute path confined to root", "/etc/app.js", "etc/app.js"},
		{"extensionless gets js default", "server", "server.js"},
		{"traversal cleaned", "a/../b.txt", "b.txt"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := engine.Execute(context.Background(), Spec{
				Name:   ToolCreateFile,
				Params: map[string]any{"path": tt.path, "content": "x"},
			})
			require.NoError(t, err)
			require.True(t, result.Success, result.Error)
			_, statErr := os.Stat(filepath.Join(root, tt.want))
			assert.NoError(t, statErr)
		})
	}
}

func TestEditFileRequiresExisting(t *testing.T) {
	engine, _, root := newTestEngine(t)

	result, err := engine.Execute(context.Background(), Spec{
		Name:   ToolEditFile,
		Params: map[string]any{"path": "missing.js", "content": "x"},
	})
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "does not exist")

	require.NoError(t, os.WriteFile(filepath.Join(root, "present.js"), []byte("old"), 0o644))
	result, err = engine.Execute(context.Background(), Spec{
		Name:   ToolEditFile,
		Params: map[string]any{"path": "present.js", "content": "new"},
	})
	require.NoError(t, err)
	assert.True(t, result.Success)

	data, _ := os.ReadFile(filepath.Join(root, "present.js"))
	assert.Equal(t, "new", string(data))
}

func TestMissingParams(t *testing.T) {
	engine, _, _ := newTestEngine(t)

	tests := []struct {
		tool   string
		params map[string]any
	}{
		{ToolCreateFile, map[string]any{"content": "x"}},
		{ToolEditFile, map[string]any{"path": "a.js"}},
		{ToolCreateDirectory, map[string]any{}},
		{ToolRunTerminal, map[string]any{}},
		{ToolGitOperation, map[string]any{}},
		{ToolGitOperation, map[string]any{"operation": "commit"}},
		{ToolInstallDependency, map[string]any{}},
		{ToolSearchFiles, map[string]any{}},
	}
	for _, tt := range tests {
		t.Run(tt.tool, func(t *testing.T) {
			result, err := engine.Execute(context.Background(), Spec{Name: tt.tool, Params: tt.params})
			require.NoError(t, err)
			assert.False(t, result.Success)
		})
	}
}

func TestUnknownToolRejected(t *testing.T) {
	engine, _, _ := newTestEngine(t)

	_, err := engine.Execute(context.Background(), Spec{Name: "delete_everything"})
	require.Error(t, err)
	assert.Equal(t, protocol.KindNotFound, protocol.KindOf(err))
}

func TestCommandToolsDispatchThroughRunner(t *testing.T) {
	engine, runner, _ := newTestEngine(t)

	specs := []Spec{
		{Name: ToolGitOperation, Params: map[string]any{"operation": "commit", "commit_message": "first"}},
		{Name: ToolInstallDependency, Params: map[string]any{"package": "express", "dev": true}},
		{Name: ToolRunTests, Params: map[string]any{"language": "python"}},
		{Name: ToolSearchFiles, Params: map[string]any{"pattern": "TODO"}},
	}
	for _, spec := range specs {
		result, err := engine.Execute(context.Background(), spec)
		require.NoError(t, err)
		require.True(t, result.Success, result.Error)
	}

	require.Len(t, runner.commands, 4)
	assert.Contains(t, runner.commands[0], "git commit -m 'first'")
	assert.Equal(t, "npm install --save-dev express", runner.commands[1])
	assert.Equal(t, "pytest", runner.commands[2])
	assert.Contains(t, runner.commands[3], "grep -rn 'TODO'")
}

func TestRunTerminalFireAndForget(t *testing.T) {
	engine := NewEngine(t.TempDir())

	// A nonzero exit is the command's business, not the tool's: dispatch
	// already succeeded.
	result, err := engine.Execute(context.Background(), Spec{
		Name:   ToolRunTerminal,
		Params: map[string]any{"command": "false"},
	})
	require.NoError(t, err)
	assert.True(t, result.Success, result.Error)
	assert.Contains(t, result.Output, "dispatched")

	// Dispatch returns without waiting for the command to finish.
	start := time.Now()
	result, err = engine.Execute(context.Background(), Spec{
		Name:   ToolRunTerminal,
		Params: map[string]any{"command": "sleep 30"},
	})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestExecutePhaseOrdersByPriority(t *testing.T) {
	engine, runner, _ := newTestEngine(t)

	specs := []Spec{
		{Name: ToolRunTests, Priority: 3},
		{Name: ToolRunTerminal, Priority: 1, Params: map[string]any{"command": "echo first"}},
		{Name: ToolGitOperation, Priority: 2, Params: map[string]any{"operation": "init"}},
	}
	results, criticalFailed, err := engine.ExecutePhase(context.Background(), specs)
	require.NoError(t, err)
	assert.False(t, criticalFailed)
	require.Len(t, results, 3)
	assert.Equal(t, []string{"echo first", "git init", "npm test"}, runner.commands)
}

func TestExecutePhaseDependencyGating(t *testing.T) {
	engine, runner, _ := newTestEngine(t)
	runner.fail = true

	specs := []Spec{
		{Name: ToolRunTerminal, Priority: 1, Params: map[string]any{"command": "false"}},
		{Name: ToolRunTests, Priority: 2, Dependencies: []string{ToolRunTerminal}},
	}
	results, criticalFailed, err := engine.ExecutePhase(context.Background(), specs)
	require.NoError(t, err)
	assert.True(t, criticalFailed)
	require.Len(t, results, 2)
	assert.False(t, results[0].Success)
	assert.False(t, results[1].Success)
	assert.Contains(t, results[1].Error, "unmet dependencies")
	// Only the first command reached the runner; the dependent was skipped.
	assert.Len(t, runner.commands, 1)
}

func TestCriticalOverride(t *testing.T) {
	no := false
	yes := true

	assert.True(t, (&Spec{Name: ToolCreateFile}).IsCritical())
	assert.False(t, (&Spec{Name: ToolRunTests}).IsCritical())
	assert.False(t, (&Spec{Name: ToolCreateFile, Critical: &no}).IsCritical())
	assert.True(t, (&Spec{Name: ToolRunTests, Critical: &yes}).IsCritical())
}

func TestVocabularyCoversDispatch(t *testing.T) {
	for _, info := range Vocabulary() {
		assert.True(t, IsKnown(info.Name))
	}
	assert.False(t, IsKnown("format_disk"))
}
