package tools

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/kadirpekel/ollamagate/pkg/logger"
	"github.com/kadirpekel/ollamagate/pkg/protocol"
)

// TerminalRunner executes a shell command on behalf of the engine. The
// engine never shells out directly; every command-shaped tool funnels
// through this interface so callers can confine or fake execution.
type TerminalRunner interface {
	Run(ctx context.Context, command, cwd string) (string, error)
}

// Engine executes planned tool invocations against a workspace root.
// Filesystem tools are confined to the root; command tools are delegated
// to the configured TerminalRunner.
type Engine struct {
	root   string
	runner TerminalRunner
	logger *slog.Logger
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithRunner overrides the terminal runner.
func WithRunner(r TerminalRunner) EngineOption {
	return func(e *Engine) { e.runner = r }
}

// NewEngine creates an engine rooted at the given workspace directory.
func NewEngine(root string, opts ...EngineOption) *Engine {
	e := &Engine{
		root:   root,
		logger: logger.GetLogger(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.runner == nil {
		e.runner = &ShellRunner{Root: root}
	}
	return e
}

// Execute runs a single tool invocation and reports its result. Validation
// failures and handler errors are folded into the Result; Execute itself
// only errors when the tool name is outside the vocabulary.
func (e *Engine) Execute(ctx context.Context, spec Spec) (*Result, error) {
	if !IsKnown(spec.Name) {
		return nil, protocol.Errorf(protocol.KindNotFound, "unknown tool %q", spec.Name)
	}

	output, err := e.dispatch(ctx, spec)
	result := &Result{
		Name:     spec.Name,
		Success:  err == nil,
		Output:   output,
		Critical: spec.IsCritical(),
	}
	if err != nil {
		result.Error = err.Error()
		e.logger.Warn("tool failed", "tool", spec.Name, "error", err)
	} else {
		e.logger.Debug("tool executed", "tool", spec.Name)
	}
	return result, nil
}

// ExecutePhase runs a batch of tool invocations in priority order (lower
// numbers first, stable for ties). A tool whose declared dependencies did
// not all succeed within the phase is skipped and recorded as failed. The
// second return value reports whether any critical tool failed.
func (e *Engine) ExecutePhase(ctx context.Context, specs []Spec) ([]Result, bool, error) {
	ordered := make([]Spec, len(specs))
	copy(ordered, specs)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Priority < ordered[j].Priority
	})

	succeeded := make(map[string]bool, len(ordered))
	results := make([]Result, 0, len(ordered))
	criticalFailed := false

	for _, spec := range ordered {
		if unmet := unmetDeps(spec, succeeded); len(unmet) > 0 {
			result := Result{
				Name:     spec.Name,
				Success:  false,
				Error:    fmt.Sprintf("skipped: unmet dependencies %v", unmet),
				Critical: spec.IsCritical(),
			}
			results = append(results, result)
			if result.Critical {
				criticalFailed = true
			}
			continue
		}

		result, err := e.Execute(ctx, spec)
		if err != nil {
			return results, criticalFailed, err
		}
		results = append(results, *result)
		if result.Success {
			succeeded[spec.Name] = true
		} else if result.Critical {
			criticalFailed = true
		}
	}
	return results, criticalFailed, nil
}

func unmetDeps(spec Spec, succeeded map[string]bool) []string {
	var unmet []string
	for _, dep := range spec.Dependencies {
		if !succeeded[dep] {
			unmet = append(unmet, dep)
		}
	}
	return unmet
}

func (e *Engine) dispatch(ctx context.Context, spec Spec) (string, error) {
	switch spec.Name {
	case ToolCreateFile:
		var p CreateFileParams
		if err := decodeParams(spec.Name, spec.Params, &p); err != nil {
			return "", err
		}
		if err := p.validate(); err != nil {
			return "", err
		}
		return e.createFile(&p)
	case ToolEditFile:
		var p EditFileParams
		if err := decodeParams(spec.Name, spec.Params, &p); err != nil {
			return "", err
		}
		if err := p.validate(); err != nil {
			return "", err
		}
		return e.editFile(&p)
	case ToolCreateDirectory:
		var p CreateDirectoryParams
		if err := decodeParams(spec.Name, spec.Params, &p); err != nil {
			return "", err
		}
		if err := p.validate(); err != nil {
			return "", err
		}
		return e.createDirectory(&p)
	case ToolRunTerminal:
		var p RunTerminalParams
		if err := decodeParams(spec.Name, spec.Params, &p); err != nil {
			return "", err
		}
		if err := p.validate(); err != nil {
			return "", err
		}
		return e.runner.Run(ctx, p.Command, e.resolveCwd(p.Cwd))
	case ToolGitOperation:
		var p GitOperationParams
		if err := decodeParams(spec.Name, spec.Params, &p); err != nil {
			return "", err
		}
		if err := p.validate(); err != nil {
			return "", err
		}
		return e.runner.Run(ctx, gitCommand(&p), e.resolveCwd(p.Cwd))
	case ToolInstallDependency:
		var p InstallDependencyParams
		if err := decodeParams(spec.Name, spec.Params, &p); err != nil {
			return "", err
		}
		if err := p.validate(); err != nil {
			return "", err
		}
		return e.runner.Run(ctx, installCommand(&p), e.resolveCwd(p.Cwd))
	case ToolRunTests:
		var p RunTestsParams
		if err := decodeParams(spec.Name, spec.Params, &p); err != nil {
			return "", err
		}
		return e.runner.Run(ctx, testCommand(&p), e.resolveCwd(p.Cwd))
	case ToolConfigureLinter:
		var p ConfigureLinterParams
		if err := decodeParams(spec.Name, spec.Params, &p); err != nil {
			return "", err
		}
		return e.runner.Run(ctx, linterCommand(&p), e.resolveCwd(p.Cwd))
	case ToolSearchFiles:
		var p SearchFilesParams
		if err := decodeParams(spec.Name, spec.Params, &p); err != nil {
			return "", err
		}
		if err := p.validate(); err != nil {
			return "", err
		}
		return e.runner.Run(ctx, searchCommand(&p), e.root)
	default:
		return "", protocol.Errorf(protocol.KindNotFound, "unknown tool %q", spec.Name)
	}
}

// normalizePath maps a model-provided path into the workspace. Absolute
// paths are reinterpreted relative to the root rather than rejected, since
// models routinely emit "/src/app.js" meaning "src/app.js".
func (e *Engine) normalizePath(path string) string {
	path = strings.TrimSpace(path)
	path = strings.TrimPrefix(path, "/")
	return filepath.Join(e.root, filepath.Clean(path))
}

func (e *Engine) resolveCwd(cwd string) string {
	if cwd == "" {
		return e.root
	}
	return e.normalizePath(cwd)
}

func (e *Engine) createFile(p *CreateFileParams) (string, error) {
	target := p.target()
	// Extensionless names that don't look like directories get a .js
	// default, matching what plan output most often intends.
	if filepath.Ext(target) == "" && !strings.HasSuffix(target, "/") && !looksLikeDirectory(target) {
		target += ".js"
	}
	full := e.normalizePath(target)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", protocol.NewError(protocol.KindWriteFailure, "failed to create parent directory", err)
	}
	if err := os.WriteFile(full, []byte(p.Content), 0o644); err != nil {
		return "", protocol.NewError(protocol.KindWriteFailure, "failed to write file", err)
	}
	return "created " + target, nil
}

func (e *Engine) editFile(p *EditFileParams) (string, error) {
	full := e.normalizePath(p.Path)
	if _, err := os.Stat(full); err != nil {
		return "", protocol.NewError(protocol.KindNotFound, "file does not exist: "+p.Path, err)
	}
	if err := os.WriteFile(full, []byte(p.Content), 0o644); err != nil {
		return "", protocol.NewError(protocol.KindWriteFailure, "failed to write file", err)
	}
	return "edited " + p.Path, nil
}

func (e *Engine) createDirectory(p *CreateDirectoryParams) (string, error) {
	full := e.normalizePath(p.Path)
	if err := os.MkdirAll(full, 0o755); err != nil {
		return "", protocol.NewError(protocol.KindWriteFailure, "failed to create directory", err)
	}
	return "created " + p.Path, nil
}

// looksLikeDirectory guesses directory intent from common project folder
// names so create_file doesn't turn "src" into "src.js".
func looksLikeDirectory(path string) bool {
	base := filepath.Base(path)
	switch strings.ToLower(base) {
	case "src", "lib", "test", "tests", "bin", "docs", "config", "public", "dist", "build", "assets":
		return true
	}
	return false
}

func gitCommand(p *GitOperationParams) string {
	switch p.Operation {
	case "init":
		return "git init"
	case "add":
		return "git add -A"
	case "commit":
		return "git add -A && git commit -m " + shellQuote(p.CommitMessage)
	case "status":
		return "git status --porcelain"
	default:
		return "git " + p.Operation
	}
}

func installCommand(p *InstallDependencyParams) string {
	pkgs := strings.Join(p.packageList(), " ")
	switch p.Language {
	case "python":
		return "pip install " + pkgs
	case "ruby":
		return "gem install " + pkgs
	default:
		if p.Dev {
			return "npm install --save-dev " + pkgs
		}
		return "npm install " + pkgs
	}
}

func testCommand(p *RunTestsParams) string {
	switch p.Language {
	case "python":
		return "pytest"
	case "go":
		return "go test ./..."
	case "ruby":
		return "rake test"
	default:
		return "npm test"
	}
}

func linterCommand(p *ConfigureLinterParams) string {
	linter := p.Linter
	if linter == "" {
		switch p.Language {
		case "python":
			linter = "ruff"
		default:
			linter = "eslint"
		}
	}
	switch linter {
	case "eslint":
		return "npm install --save-dev eslint && npx eslint --init || true"
	case "ruff":
		return "pip install ruff"
	default:
		return "npm install --save-dev " + shellQuote(linter)
	}
}

func searchCommand(p *SearchFilesParams) string {
	dir := "."
	if p.Path != "" {
		dir = p.Path
	}
	return "grep -rn " + shellQuote(p.Pattern) + " " + shellQuote(dir) + " || true"
}
