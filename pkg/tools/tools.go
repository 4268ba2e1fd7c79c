// Package tools executes the gateway's closed tool vocabulary: filesystem,
// shell, and version-control actions planned by the tool generator. Params
// arrive as loose maps from model output and are decoded into per-tool
// typed structs at the dispatcher edge; nothing downstream touches an
// untyped map.
package tools

import (
	"strings"

	"github.com/mitchellh/mapstructure"

	"github.com/kadirpekel/ollamagate/pkg/protocol"
)

// Tool names. The vocabulary is closed: anything else is rejected at
// validation time.
const (
	ToolCreateFile        = "create_file"
	ToolEditFile          = "edit_file"
	ToolCreateDirectory   = "create_directory"
	ToolRunTerminal       = "run_terminal"
	ToolGitOperation      = "git_operation"
	ToolInstallDependency = "install_dependency"
	ToolRunTests          = "run_tests"
	ToolConfigureLinter   = "configure_linter"
	ToolSearchFiles       = "search_files"
)

// criticalByName marks tools whose failure always fails the phase.
var criticalByName = map[string]bool{
	ToolCreateDirectory: true,
	ToolCreateFile:      true,
	ToolRunTerminal:     true,
}

// Spec is one planned tool invocation as emitted by the generator.
type Spec struct {
	Name         string         `json:"name"`
	Params       map[string]any `json:"params"`
	Critical     *bool          `json:"critical,omitempty"`
	Priority     int            `json:"priority,omitempty"`
	Dependencies []string       `json:"dependencies,omitempty"`
}

// IsCritical reports whether a failure of this tool fails its phase.
func (s *Spec) IsCritical() bool {
	if s.Critical != nil {
		return *s.Critical
	}
	return criticalByName[s.Name]
}

// Result is the outcome of one tool execution.
type Result struct {
	Name     string `json:"name"`
	Success  bool   `json:"success"`
	Output   string `json:"output,omitempty"`
	Error    string `json:"error,omitempty"`
	Critical bool   `json:"critical"`
}

// Per-tool parameter variants. Each declares exactly the fields its handler
// consumes; required fields are enforced by the validate methods.

type CreateFileParams struct {
	Path    string `mapstructure:"path"`
	Name    string `mapstructure:"name"`
	Content string `mapstructure:"content"`
}

func (p *CreateFileParams) validate() error {
	if p.Path == "" && p.Name == "" {
		return missingParam(ToolCreateFile, "path")
	}
	return nil
}

func (p *CreateFileParams) target() string {
	if p.Path != "" {
		return p.Path
	}
	return p.Name
}

type EditFileParams struct {
	Path    string `mapstructure:"path"`
	Content string `mapstructure:"content"`
}

func (p *EditFileParams) validate() error {
	if p.Path == "" {
		return missingParam(ToolEditFile, "path")
	}
	if p.Content == "" {
		return missingParam(ToolEditFile, "content")
	}
	return nil
}

type CreateDirectoryParams struct {
	Path string `mapstructure:"path"`
}

func (p *CreateDirectoryParams) validate() error {
	if p.Path == "" {
		return missingParam(ToolCreateDirectory, "path")
	}
	return nil
}

type RunTerminalParams struct {
	Command string `mapstructure:"command"`
	Cwd     string `mapstructure:"cwd"`
}

func (p *RunTerminalParams) validate() error {
	if p.Command == "" {
		return missingParam(ToolRunTerminal, "command")
	}
	return nil
}

type GitOperationParams struct {
	Operation     string `mapstructure:"operation"`
	CommitMessage string `mapstructure:"commit_message"`
	Cwd           string `mapstructure:"cwd"`
}

func (p *GitOperationParams) validate() error {
	if p.Operation == "" {
		return missingParam(ToolGitOperation, "operation")
	}
	if p.Operation == "commit" && p.CommitMessage == "" {
		return missingParam(ToolGitOperation, "commit_message")
	}
	return nil
}

type InstallDependencyParams struct {
	Language string   `mapstructure:"language"`
	Package  string   `mapstructure:"package"`
	Packages []string `mapstructure:"packages"`
	Dev      bool     `mapstructure:"dev"`
	Cwd      string   `mapstructure:"cwd"`
}

func (p *InstallDependencyParams) validate() error {
	if p.Package == "" && len(p.Packages) == 0 {
		return missingParam(ToolInstallDependency, "package")
	}
	return nil
}

func (p *InstallDependencyParams) packageList() []string {
	if p.Package != "" {
		return append([]string{p.Package}, p.Packages...)
	}
	return p.Packages
}

type RunTestsParams struct {
	Language  string `mapstructure:"language"`
	Framework string `mapstructure:"framework"`
	Cwd       string `mapstructure:"cwd"`
}

func (p *RunTestsParams) validate() error { return nil }

type ConfigureLinterParams struct {
	Language string `mapstructure:"language"`
	Linter   string `mapstructure:"linter"`
	Cwd      string `mapstructure:"cwd"`
}

func (p *ConfigureLinterParams) validate() error { return nil }

type SearchFilesParams struct {
	Pattern string `mapstructure:"pattern"`
	Path    string `mapstructure:"path"`
}

func (p *SearchFilesParams) validate() error {
	if p.Pattern == "" {
		return missingParam(ToolSearchFiles, "pattern")
	}
	return nil
}

// ParamInfo describes one tool's required and optional parameters for the
// GET /api/tools listing.
type ParamInfo struct {
	Name     string   `json:"name"`
	Required []string `json:"required"`
	Optional []string `json:"optional,omitempty"`
}

// Vocabulary lists every supported tool with its parameter contract.
func Vocabulary() []ParamInfo {
	return []ParamInfo{
		{Name: ToolCreateFile, Required: []string{"path"}, Optional: []string{"content"}},
		{Name: ToolEditFile, Required: []string{"path", "content"}},
		{Name: ToolCreateDirectory, Required: []string{"path"}},
		{Name: ToolRunTerminal, Required: []string{"command"}, Optional: []string{"cwd"}},
		{Name: ToolGitOperation, Required: []string{"operation"}, Optional: []string{"commit_message", "cwd"}},
		{Name: ToolInstallDependency, Required: []string{"package"}, Optional: []string{"language", "dev", "cwd"}},
		{Name: ToolRunTests, Required: nil, Optional: []string{"language", "framework", "cwd"}},
		{Name: ToolConfigureLinter, Required: nil, Optional: []string{"language", "linter", "cwd"}},
		{Name: ToolSearchFiles, Required: []string{"pattern"}, Optional: []string{"path"}},
	}
}

// IsKnown reports whether name belongs to the closed vocabulary.
func IsKnown(name string) bool {
	for _, info := range Vocabulary() {
		if info.Name == name {
			return true
		}
	}
	return false
}

// decodeParams decodes a loose param map into a typed variant.
func decodeParams(tool string, raw map[string]any, out any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return protocol.NewError(protocol.KindInternal, "failed to build param decoder", err)
	}
	if err := decoder.Decode(raw); err != nil {
		return protocol.Errorf(protocol.KindMissingParam, "invalid params for %s: %v", tool, err)
	}
	return nil
}

func missingParam(tool, param string) error {
	return protocol.Errorf(protocol.KindMissingParam, "%s requires %q", tool, param)
}

// shellQuote wraps a value in single quotes for safe interpolation into a
// generated shell command.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
