// Package classifier derives routing decisions from request text. Given the
// last user message and the daemon's model inventory it emits a task type,
// complexity, language, and a concrete model recommendation. Classification
// is a pure function of (prompt, inventory, catalog); the only network call
// is an optional embedding tie-break that degrades gracefully.
package classifier

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"
)

// TaskTypeRule matches a task category by keyword presence. Categories are
// evaluated in catalog order, first match wins.
type TaskTypeRule struct {
	Name      string   `yaml:"name" mapstructure:"name"`
	Keywords  []string `yaml:"keywords" mapstructure:"keywords"`
	Prototype string   `yaml:"prototype" mapstructure:"prototype"`
}

// ComplexityRule defines one complexity tier by its keyword set.
type ComplexityRule struct {
	Level    string   `yaml:"level" mapstructure:"level"`
	Keywords []string `yaml:"keywords" mapstructure:"keywords"`
}

// LanguageRule detects a programming language by keyword lists.
type LanguageRule struct {
	Name     string   `yaml:"name" mapstructure:"name"`
	Keywords []string `yaml:"keywords" mapstructure:"keywords"`
}

// Catalog is the fixed category catalog driving classification. A catalog
// never changes mid-request; hot reloads swap the whole value atomically.
type Catalog struct {
	TaskTypes  []TaskTypeRule   `yaml:"task_types" mapstructure:"task_types"`
	Complexity []ComplexityRule `yaml:"complexity" mapstructure:"complexity"`
	Languages  []LanguageRule   `yaml:"languages" mapstructure:"languages"`

	// CodingVerbs guards the coding category: a coding keyword only counts
	// when an action verb is also present, so "my python broke" does not
	// route to a code model.
	CodingVerbs []string `yaml:"coding_verbs" mapstructure:"coding_verbs"`

	// PlanningTerms force the planning flag regardless of complexity.
	PlanningTerms []string `yaml:"planning_terms" mapstructure:"planning_terms"`

	// ModelPreferences maps a task type to an ordered model preference list.
	ModelPreferences map[string][]string `yaml:"model_preferences" mapstructure:"model_preferences"`

	// LanguagePreferences overrides the coding preference list per language.
	LanguagePreferences map[string][]string `yaml:"language_preferences" mapstructure:"language_preferences"`

	// LargeCodingModels, in preference order, are tried first at very_high
	// complexity for coding tasks.
	LargeCodingModels []string `yaml:"large_coding_models" mapstructure:"large_coding_models"`
}

// DefaultCatalog returns the built-in category catalog.
func DefaultCatalog() *Catalog {
	return &Catalog{
		TaskTypes: []TaskTypeRule{
			{
				Name: TaskCoding,
				Keywords: []string{
					"code", "function", "bug", "script", "class", "method",
					"api", "algorithm", "compile", "refactor", "unit test",
					"regex", "snippet", "syntax", "exception", "stack trace",
				},
				Prototype: "write a function that implements an algorithm in code",
			},
			{
				Name: TaskTechnicalAnalysis,
				Keywords: []string{
					"analyze", "analysis", "compare", "benchmark", "evaluate",
					"trade-off", "tradeoff", "architecture review", "profiling",
					"performance", "explain why", "root cause",
				},
				Prototype: "analyze and compare the performance characteristics of a system",
			},
			{
				Name: TaskEmbeddings,
				Keywords: []string{
					"embedding", "embeddings", "vector", "similarity",
					"semantic search", "cosine",
				},
				Prototype: "compute an embedding vector for semantic similarity search",
			},
			{
				Name:      TaskGeneral,
				Keywords:  nil,
				Prototype: "answer a general question in conversation",
			},
		},
		Complexity: []ComplexityRule{
			{
				Level: ComplexityVeryHigh,
				Keywords: []string{
					"architecture", "microservice", "distributed", "scalable",
					"end-to-end", "full application", "entire system",
					"production-ready", "multi-phase",
				},
			},
			{
				Level: ComplexityHigh,
				Keywords: []string{
					"complex", "optimize", "concurrency", "async", "database",
					"authentication", "integration", "deploy", "migration",
				},
			},
			{
				// Scope words only. Bare action verbs ("write", "create")
				// describe any request and would lift one-liners out of low.
				Level: ComplexityMedium,
				Keywords: []string{
					"refactor", "modify", "update", "multiple", "several",
					"module", "endpoint", "integrate", "validate",
				},
			},
		},
		Languages: []LanguageRule{
			{Name: "python", Keywords: []string{"python", "django", "flask", "pandas", "numpy", "pip ", ".py"}},
			{Name: "javascript", Keywords: []string{"javascript", "node.js", "nodejs", "express", "npm ", ".js"}},
			{Name: "typescript", Keywords: []string{"typescript", "tsx", ".ts", "angular"}},
			{Name: "java", Keywords: []string{"java ", "spring boot", "maven", "gradle", ".java"}},
			{Name: "cpp", Keywords: []string{"c++", "cpp", "stl", "cmake"}},
			{Name: "rust", Keywords: []string{"rust", "cargo", "borrow checker", ".rs"}},
			{Name: "go", Keywords: []string{"golang", "go module", "goroutine", ".go"}},
			{Name: "sql", Keywords: []string{"sql", "query", "postgres", "mysql", "sqlite", "select "}},
			{Name: "bash", Keywords: []string{"bash", "shell script", "zsh", ".sh"}},
			{Name: "docker", Keywords: []string{"docker", "dockerfile", "container", "compose"}},
		},
		CodingVerbs: []string{
			"write", "implement", "create", "build", "fix", "debug",
			"refactor", "generate", "convert", "optimize", "add",
		},
		PlanningTerms: []string{
			"design", "architecture", "plan", "strategy", "roadmap", "blueprint",
		},
		ModelPreferences: map[string][]string{
			TaskCoding: {
				"qwen2.5-coder:7b", "codellama:13b", "codellama:7b",
				"deepseek-coder:6.7b", "llama3.1:8b",
			},
			TaskTechnicalAnalysis: {
				"llama3.1:70b", "llama3.1:8b", "mistral:7b",
			},
			TaskEmbeddings: {
				"nomic-embed-text:latest", "mxbai-embed-large:latest",
			},
			TaskGeneral: {
				"llama3.1:8b", "llama3.2:3b", "mistral:7b",
			},
		},
		LanguagePreferences: map[string][]string{
			"python":     {"qwen2.5-coder:7b", "deepseek-coder:6.7b", "codellama:13b"},
			"javascript": {"qwen2.5-coder:7b", "codellama:13b"},
			"typescript": {"qwen2.5-coder:7b", "codellama:13b"},
			"rust":       {"qwen2.5-coder:7b", "deepseek-coder:6.7b"},
			"go":         {"qwen2.5-coder:7b", "deepseek-coder:6.7b"},
			"sql":        {"sqlcoder:7b", "qwen2.5-coder:7b"},
		},
		LargeCodingModels: []string{
			"qwen2.5-coder:32b", "codellama:34b", "deepseek-coder:33b",
		},
	}
}

// LoadCatalog reads a YAML catalog override. Fields absent from the file
// keep their built-in defaults.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog: %w", err)
	}

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}

	catalog := DefaultCatalog()
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           catalog,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(raw); err != nil {
		return nil, fmt.Errorf("failed to decode catalog: %w", err)
	}
	return catalog, nil
}

// CatalogHolder provides atomic access to the current catalog so a reload
// never tears a classification in progress.
type CatalogHolder struct {
	current atomic.Pointer[Catalog]
}

// NewCatalogHolder creates a holder seeded with the given catalog.
func NewCatalogHolder(catalog *Catalog) *CatalogHolder {
	h := &CatalogHolder{}
	h.current.Store(catalog)
	return h
}

// Get returns the current catalog.
func (h *CatalogHolder) Get() *Catalog {
	return h.current.Load()
}

// Set swaps the catalog atomically.
func (h *CatalogHolder) Set(catalog *Catalog) {
	h.current.Store(catalog)
}

// Watch reloads the catalog whenever the file changes. Blocks until ctx is
// cancelled. A bad reload keeps the previous catalog.
func (h *CatalogHolder) Watch(ctx context.Context, path string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to start catalog watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the directory: editors replace files rather than write in place.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("failed to watch catalog directory: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != filepath.Clean(path) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			catalog, err := LoadCatalog(path)
			if err != nil {
				slog.Warn("Catalog reload failed, keeping previous", "path", path, "error", err)
				continue
			}
			h.Set(catalog)
			slog.Info("Routing catalog reloaded", "path", path)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Warn("Catalog watcher error", "error", err)
		}
	}
}
