package toolgen

import (
	"strings"

	"github.com/kadirpekel/ollamagate/pkg/tools"
)

// FallbackPlan builds a deterministic plan keyed on keywords in the phase
// description. It trades ambition for predictability: a minimal but valid
// project scaffold beats an unparseable model plan.
func FallbackPlan(phase string, pctx ProjectContext) []tools.Spec {
	name := pctx.ProjectName
	if name == "" {
		name = "project"
	}
	lower := strings.ToLower(phase + " " + pctx.Language + " " + pctx.Description)

	switch {
	case containsAny(lower, "node", "express", "javascript", "react", "api"):
		return nodePlan(name)
	case containsAny(lower, "python", "flask", "django", "fastapi"):
		return pythonPlan(name)
	case containsAny(lower, "ruby", "rails", "sinatra"):
		return rubyPlan(name)
	case containsAny(lower, "perl"):
		return scriptPlan(name, "script.pl", "#!/usr/bin/env perl\nuse strict;\nuse warnings;\n\nprint \"hello\\n\";\n")
	case containsAny(lower, "arduino", "sketch", "esp32", "microcontroller"):
		return scriptPlan(name, name+".ino", "void setup() {\n}\n\nvoid loop() {\n}\n")
	case containsAny(lower, "file", "create", "write", "setup", "scaffold"):
		return scriptPlan(name, "main.js", "// entry point\n")
	default:
		return nil
	}
}

func containsAny(s string, keywords ...string) bool {
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}

func nodePlan(name string) []tools.Spec {
	return []tools.Spec{
		{Name: tools.ToolCreateDirectory, Priority: 1, Params: map[string]any{"path": name}},
		{Name: tools.ToolCreateFile, Priority: 2, Params: map[string]any{
			"path":    name + "/package.json",
			"content": `{"name": "` + name + `", "version": "1.0.0", "main": "index.js", "scripts": {"start": "node index.js", "test": "jest"}}`,
		}},
		{Name: tools.ToolCreateFile, Priority: 3, Params: map[string]any{
			"path":    name + "/index.js",
			"content": "const express = require('express');\nconst app = express();\n\napp.get('/', (req, res) => res.json({ok: true}));\n\napp.listen(3000);\n",
		}},
		{Name: tools.ToolInstallDependency, Priority: 4, Params: map[string]any{
			"package": "express", "cwd": name,
		}, Dependencies: []string{tools.ToolCreateFile}},
	}
}

func pythonPlan(name string) []tools.Spec {
	return []tools.Spec{
		{Name: tools.ToolCreateDirectory, Priority: 1, Params: map[string]any{"path": name}},
		{Name: tools.ToolCreateFile, Priority: 2, Params: map[string]any{
			"path":    name + "/main.py",
			"content": "def main():\n    print(\"hello\")\n\n\nif __name__ == \"__main__\":\n    main()\n",
		}},
		{Name: tools.ToolCreateFile, Priority: 3, Params: map[string]any{
			"path":    name + "/requirements.txt",
			"content": "",
		}},
	}
}

func rubyPlan(name string) []tools.Spec {
	return []tools.Spec{
		{Name: tools.ToolCreateDirectory, Priority: 1, Params: map[string]any{"path": name}},
		{Name: tools.ToolCreateFile, Priority: 2, Params: map[string]any{
			"path":    name + "/main.rb",
			"content": "puts 'hello'\n",
		}},
		{Name: tools.ToolCreateFile, Priority: 3, Params: map[string]any{
			"path":    name + "/Gemfile",
			"content": "source 'https://rubygems.org'\n",
		}},
	}
}

func scriptPlan(name, filename, content string) []tools.Spec {
	return []tools.Spec{
		{Name: tools.ToolCreateDirectory, Priority: 1, Params: map[string]any{"path": name}},
		{Name: tools.ToolCreateFile, Priority: 2, Params: map[string]any{
			"path":    name + "/" + filename,
			"content": content,
		}},
	}
}
