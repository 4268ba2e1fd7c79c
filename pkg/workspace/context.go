// Package workspace assembles filesystem context for a request: explicitly
// referenced files, a sample of the project structure, dependency manifests,
// and version-control status. Gathering is best-effort by contract; the
// manager never propagates an error, it returns a fallback context instead.
package workspace

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/kadirpekel/ollamagate/pkg/classifier"
)

// File origins.
const (
	OriginExplicitReference      = "explicit_reference"
	OriginProjectStructure       = "project_structure"
	OriginParentProjectStructure = "parent_project_structure"
)

// Context assembly methods.
const (
	MethodHeuristic = "heuristic"
	MethodHybrid    = "hybrid"
	MethodFallback  = "fallback"
)

const (
	cacheSize       = 100
	maxProjectFiles = 5
	maxParentFiles  = 3
	maxRuntimeDeps  = 5
	maxDevDeps      = 3
	maxGitSample    = 3
)

// FileRef is one workspace file attached to a request.
type FileRef struct {
	Path   string `json:"path"`
	Origin string `json:"origin"`
}

// Dependencies summarizes the project manifest.
type Dependencies struct {
	Runtime []string `json:"runtime"`
	Dev     []string `json:"dev"`
}

// GitStatus summarizes the working tree.
type GitStatus struct {
	ChangedCount int      `json:"changedCount"`
	Sample       []string `json:"sample"`
}

// Context is the retrieved workspace facts for one request.
type Context struct {
	Files        []FileRef     `json:"files"`
	Dependencies *Dependencies `json:"dependencies"`
	GitStatus    *GitStatus    `json:"gitStatus"`
	Reasoning    string        `json:"reasoning"`
	Method       string        `json:"method"`
}

// Summary renders the context as a compact system-message block, or ""
// when there is nothing worth telling the model.
func (c *Context) Summary() string {
	if c == nil {
		return ""
	}
	var parts []string
	if len(c.Files) > 0 {
		paths := make([]string, len(c.Files))
		for i, f := range c.Files {
			paths[i] = f.Path
		}
		parts = append(parts, "Relevant files: "+strings.Join(paths, ", "))
	}
	if c.Dependencies != nil && len(c.Dependencies.Runtime) > 0 {
		parts = append(parts, "Project dependencies: "+strings.Join(c.Dependencies.Runtime, ", "))
	}
	if c.GitStatus != nil && c.GitStatus.ChangedCount > 0 {
		parts = append(parts, fmt.Sprintf("Uncommitted changes: %d files", c.GitStatus.ChangedCount))
	}
	if len(parts) == 0 {
		return ""
	}
	return "Workspace context:\n" + strings.Join(parts, "\n")
}

// Enhancer is the AI-refinement hook. It may extend Files and Reasoning and
// switch Method to hybrid; it must be idempotent and side-effect free.
type Enhancer interface {
	Enhance(ctx context.Context, content string, heuristic *Context) (*Context, error)
}

// Manager gathers and caches request context.
type Manager struct {
	root     string
	cache    *lru.Cache[string, *Context]
	enhancer Enhancer
}

// sourcePatterns match the file extensions the structure scan picks up.
var sourcePatterns = []string{
	"*.{go,py,js,jsx,ts,tsx,java,rb,rs,c,cc,cpp,h,hpp,cs,php,sql,sh}",
}

// fileRefPatterns extract explicit file references from prompt text.
var fileRefPatterns = []*regexp.Regexp{
	regexp.MustCompile("`([\\w./-]+\\.[A-Za-z]{1,10})`"),
	regexp.MustCompile(`(?:^|\s)((?:\./|/|[\w-]+/)[\w./-]*\.[A-Za-z]{1,10})\b`),
	regexp.MustCompile(`(?i)(?:file|in|open|edit|read)\s+([\w-]+\.[A-Za-z]{1,10})\b`),
}

var codingKeywords = []string{
	"code", "function", "file", "class", "implement", "refactor", "debug", "script",
}

var gitKeywords = []string{"git", "commit", "branch", "diff", "merge", "rebase"}

// NewManager creates a context manager rooted at the given directory.
// enhancer may be nil to disable AI refinement.
func NewManager(root string, enhancer Enhancer) *Manager {
	cache, _ := lru.New[string, *Context](cacheSize)
	return &Manager{
		root:     root,
		cache:    cache,
		enhancer: enhancer,
	}
}

// cacheKey hashes the first 100 characters of the prompt with the task type.
func cacheKey(content, taskType string) string {
	head := content
	if len(head) > 100 {
		head = head[:100]
	}
	sum := sha256.Sum256([]byte(head + "|" + taskType))
	return hex.EncodeToString(sum[:8])
}

// GetSmartContext assembles context for a request. It never returns an
// error: any gathering failure degrades to the fallback context.
func (m *Manager) GetSmartContext(ctx context.Context, content, taskType, complexity string) *Context {
	key := cacheKey(content, taskType)
	if cached, ok := m.cache.Get(key); ok {
		return cached
	}

	result := m.gather(ctx, content, taskType)

	if m.enhancer != nil && wantsEnhancement(content, taskType, complexity) {
		enhanced, err := m.enhancer.Enhance(ctx, content, result)
		if err != nil {
			slog.Debug("Context enhancement failed, keeping heuristic result", "error", err)
		} else if enhanced != nil {
			result = enhanced
		}
	}

	m.cache.Add(key, result)
	return result
}

// gather runs the fast heuristic pass. Panics from pathological inputs are
// contained here so the caller always gets a well-formed context.
func (m *Manager) gather(ctx context.Context, content, taskType string) (result *Context) {
	defer func() {
		if r := recover(); r != nil {
			slog.Warn("Context gathering panicked, using fallback", "cause", r)
			result = Fallback()
		}
	}()

	lower := strings.ToLower(content)
	isCoding := taskType == classifier.TaskCoding || containsAny(lower, codingKeywords)

	result = &Context{Method: MethodHeuristic}

	if isCoding {
		refs := m.explicitFileRefs(content)
		if len(refs) > 0 {
			result.Files = refs
			result.Reasoning = "explicit file references resolved on disk"
		} else {
			result.Files = m.scanStructure()
			result.Reasoning = "sampled project structure"
		}
	}

	if deps := m.readManifest(); deps != nil {
		result.Dependencies = deps
	}

	if isCoding || containsAny(lower, gitKeywords) {
		if status := m.gitStatus(ctx); status != nil {
			result.GitStatus = status
		}
	}

	if result.Reasoning == "" {
		result.Reasoning = "non-coding request; manifest and VCS context only"
	}
	return result
}

// explicitFileRefs extracts referenced paths and keeps only those that
// resolve on the filesystem.
func (m *Manager) explicitFileRefs(content string) []FileRef {
	seen := make(map[string]bool)
	var refs []FileRef
	for _, pattern := range fileRefPatterns {
		for _, match := range pattern.FindAllStringSubmatch(content, -1) {
			path := strings.TrimSpace(match[1])
			if path == "" || seen[path] {
				continue
			}
			seen[path] = true
			full := path
			if !filepath.IsAbs(full) {
				full = filepath.Join(m.root, path)
			}
			if info, err := os.Stat(full); err == nil && !info.IsDir() {
				refs = append(refs, FileRef{Path: path, Origin: OriginExplicitReference})
			}
		}
	}
	return refs
}

// scanStructure samples up to 5 source files from the workspace root and,
// best-effort, 3 from its parent.
func (m *Manager) scanStructure() []FileRef {
	refs := listSourceFiles(m.root, maxProjectFiles, OriginProjectStructure)
	parent := filepath.Dir(m.root)
	if parent != m.root {
		refs = append(refs, listSourceFiles(parent, maxParentFiles, OriginParentProjectStructure)...)
	}
	return refs
}

func listSourceFiles(dir string, limit int, origin string) []FileRef {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		for _, pattern := range sourcePatterns {
			if ok, _ := doublestar.Match(pattern, entry.Name()); ok {
				names = append(names, entry.Name())
				break
			}
		}
	}
	sort.Strings(names)
	if len(names) > limit {
		names = names[:limit]
	}

	refs := make([]FileRef, 0, len(names))
	for _, name := range names {
		refs = append(refs, FileRef{Path: name, Origin: origin})
	}
	return refs
}

// readManifest reads the node-style manifest when present and records a
// bounded sample of dependency names.
func (m *Manager) readManifest() *Dependencies {
	data, err := os.ReadFile(filepath.Join(m.root, "package.json"))
	if err != nil {
		return nil
	}

	var manifest struct {
		Dependencies    map[string]string `json:"dependencies"`
		DevDependencies map[string]string `json:"devDependencies"`
	}
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil
	}

	return &Dependencies{
		Runtime: sortedKeys(manifest.Dependencies, maxRuntimeDeps),
		Dev:     sortedKeys(manifest.DevDependencies, maxDevDeps),
	}
}

// gitStatus runs porcelain status and keeps the change count plus the
// first few lines as a sample.
func (m *Manager) gitStatus(ctx context.Context) *GitStatus {
	cmd := exec.CommandContext(ctx, "git", "status", "--porcelain")
	cmd.Dir = m.root
	output, err := cmd.Output()
	if err != nil {
		return nil
	}

	lines := strings.Split(strings.TrimRight(string(output), "\n"), "\n")
	if len(lines) == 1 && lines[0] == "" {
		lines = nil
	}

	status := &GitStatus{ChangedCount: len(lines)}
	sample := lines
	if len(sample) > maxGitSample {
		sample = sample[:maxGitSample]
	}
	status.Sample = append(status.Sample, sample...)
	return status
}

// wantsEnhancement gates the AI refinement pass to requests that justify
// its cost.
func wantsEnhancement(content, taskType, complexity string) bool {
	if complexity == classifier.ComplexityVeryHigh {
		return true
	}
	if taskType == classifier.TaskCoding && len(content) > 200 {
		return true
	}
	lower := strings.ToLower(content)
	return strings.Contains(lower, "architecture") || strings.Contains(lower, "design")
}

// Fallback is the well-formed empty context used when gathering fails.
func Fallback() *Context {
	return &Context{
		Reasoning: "context gathering failed; proceeding without workspace facts",
		Method:    MethodFallback,
	}
}

func sortedKeys(m map[string]string, limit int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	if len(keys) > limit {
		keys = keys[:limit]
	}
	return keys
}

func containsAny(haystack string, needles []string) bool {
	for _, needle := range needles {
		if strings.Contains(haystack, needle) {
			return true
		}
	}
	return false
}
