// Package toolgen synthesizes tool plans for workflow phases by prompting
// the backend and parsing its output into validated tool specs. Model
// output is untrusted: parsing is layered (JSON first, then a numbered
// text format) and a deterministic fallback plan covers the case where
// the model produces nothing usable.
package toolgen

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kadirpekel/ollamagate/pkg/logger"
	"github.com/kadirpekel/ollamagate/pkg/protocol"
	"github.com/kadirpekel/ollamagate/pkg/tools"
)

// Backend is the slice of the Ollama client the generator needs.
type Backend interface {
	Generate(ctx context.Context, payload any) (json.RawMessage, error)
}

// ProjectContext carries the defaults applied to every generated tool.
type ProjectContext struct {
	ProjectName string `json:"projectName,omitempty"`
	TargetDir   string `json:"targetDir,omitempty"`
	Language    string `json:"language,omitempty"`
	Framework   string `json:"framework,omitempty"`
	Description string `json:"description,omitempty"`
}

// Generator produces tool plans for a phase description.
type Generator struct {
	backend Backend
	model   string
	logger  *slog.Logger
}

// New creates a generator that plans with the given model.
func New(backend Backend, model string) *Generator {
	return &Generator{
		backend: backend,
		model:   model,
		logger:  logger.GetLogger(),
	}
}

// GeneratePlan asks the backend for a tool plan covering the phase and
// returns validated specs. When the backend output cannot be parsed, a
// deterministic fallback plan keyed on the phase description is used; the
// InvalidPlan error surfaces only when even the fallback has nothing to
// offer.
func (g *Generator) GeneratePlan(ctx context.Context, phase string, pctx ProjectContext) ([]tools.Spec, error) {
	prompt := buildPrompt(phase, pctx)
	payload := map[string]any{
		"model":  g.model,
		"prompt": prompt,
		"stream": false,
	}

	raw, err := g.backend.Generate(ctx, payload)
	if err != nil {
		g.logger.Warn("plan generation call failed, using fallback", "phase", phase, "error", err)
		return g.fallback(phase, pctx)
	}

	var envelope struct {
		Response string `json:"response"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil || envelope.Response == "" {
		g.logger.Warn("plan response unreadable, using fallback", "phase", phase)
		return g.fallback(phase, pctx)
	}

	specs, err := ParsePlan(envelope.Response)
	if err != nil {
		g.logger.Warn("plan parse failed, using fallback", "phase", phase, "error", err)
		return g.fallback(phase, pctx)
	}

	specs = applyDefaults(specs, pctx)
	if err := validatePlan(specs, pctx); err != nil {
		g.logger.Warn("plan validation failed, using fallback", "phase", phase, "error", err)
		return g.fallback(phase, pctx)
	}
	return specs, nil
}

func (g *Generator) fallback(phase string, pctx ProjectContext) ([]tools.Spec, error) {
	specs := FallbackPlan(phase, pctx)
	if len(specs) == 0 {
		return nil, protocol.Errorf(protocol.KindInvalidPlan, "no usable plan for phase %q", phase)
	}
	return specs, nil
}

func buildPrompt(phase string, pctx ProjectContext) string {
	var b strings.Builder
	b.WriteString("You are a build planner. Produce the tool calls needed for this phase.\n\n")
	fmt.Fprintf(&b, "Phase: %s\n", phase)
	if pctx.ProjectName != "" {
		fmt.Fprintf(&b, "Project: %s\n", pctx.ProjectName)
	}
	if pctx.Language != "" {
		fmt.Fprintf(&b, "Language: %s\n", pctx.Language)
	}
	if pctx.Framework != "" {
		fmt.Fprintf(&b, "Framework: %s\n", pctx.Framework)
	}
	if pctx.Description != "" {
		fmt.Fprintf(&b, "Details: %s\n", pctx.Description)
	}
	b.WriteString("\nAvailable tools: ")
	for i, info := range tools.Vocabulary() {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(info.Name)
	}
	b.WriteString("\n\nRespond with a JSON array of objects {\"name\", \"params\", \"priority\"}.\n")
	b.WriteString("If you cannot produce JSON, use this format instead:\n")
	b.WriteString("1. Tool: create_directory\n- path: myapp/src\n")
	return b.String()
}

// applyDefaults fills project-derived defaults into each spec: relative
// paths are rooted under the project name, and commands without a cwd run
// in the project directory.
func applyDefaults(specs []tools.Spec, pctx ProjectContext) []tools.Spec {
	root := pctx.ProjectName
	if pctx.TargetDir != "" {
		root = pctx.TargetDir
	}
	if root == "" {
		return specs
	}

	for i := range specs {
		if specs[i].Params == nil {
			specs[i].Params = map[string]any{}
		}
		params := specs[i].Params
		if path, ok := params["path"].(string); ok && path != "" && !strings.HasPrefix(path, "/") {
			if !strings.HasPrefix(path, root+"/") && path != root {
				params["path"] = root + "/" + path
			}
		}
		if _, hasCwd := params["cwd"]; !hasCwd {
			switch specs[i].Name {
			case tools.ToolRunTerminal, tools.ToolGitOperation, tools.ToolInstallDependency,
				tools.ToolRunTests, tools.ToolConfigureLinter:
				params["cwd"] = root
			}
		}
	}
	return specs
}

// validatePlan enforces the vocabulary and workspace containment. Absolute
// paths are rejected outright: the engine reinterprets them, but a plan
// that asks for them was not following instructions and is not trusted.
func validatePlan(specs []tools.Spec, pctx ProjectContext) error {
	if len(specs) == 0 {
		return protocol.Errorf(protocol.KindInvalidPlan, "plan contains no tools")
	}
	for _, spec := range specs {
		if !tools.IsKnown(spec.Name) {
			return protocol.Errorf(protocol.KindInvalidPlan, "plan references unknown tool %q", spec.Name)
		}
		if path, ok := spec.Params["path"].(string); ok {
			if strings.HasPrefix(path, "/") || strings.Contains(path, "..") {
				return protocol.Errorf(protocol.KindInvalidPlan, "plan path escapes workspace: %s", path)
			}
		}
	}
	return nil
}
