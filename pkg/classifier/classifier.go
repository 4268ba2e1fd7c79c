package classifier

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/pkoukk/tiktoken-go"
)

// Task types.
const (
	TaskCoding            = "coding"
	TaskTechnicalAnalysis = "technical_analysis"
	TaskGeneral           = "general"
	TaskEmbeddings        = "embeddings"
)

// Complexity tiers.
const (
	ComplexityLow      = "low"
	ComplexityMedium   = "medium"
	ComplexityHigh     = "high"
	ComplexityVeryHigh = "very_high"
)

// LanguageGeneral is the language bucket when no language is detected.
const LanguageGeneral = "general"

// Classification is the derived tuple driving model selection and planning.
type Classification struct {
	TaskType         string   `json:"taskType"`
	Complexity       string   `json:"complexity"`
	Language         string   `json:"language"`
	RecommendedModel string   `json:"recommendedModel"`
	EstimatedTokens  int      `json:"estimatedTokens"`
	NeedsPlanning    bool     `json:"needsPlanning"`
	PlanningSteps    []string `json:"planningSteps,omitempty"`
	Reasoning        string   `json:"reasoning"`
}

// Embedder is the slice of the backend the classifier needs for its
// tie-break. Failure to embed falls back to pure keyword matching.
type Embedder interface {
	Embeddings(ctx context.Context, model, prompt string) ([]float64, error)
}

// Classifier turns request text into a Classification.
type Classifier struct {
	catalog        *CatalogHolder
	embedder       Embedder
	embeddingModel string
	defaultModel   string
	encoder        *tiktoken.Tiktoken
}

// New creates a classifier. embedder may be nil to disable the embedding
// tie-break entirely.
func New(catalog *CatalogHolder, embedder Embedder, embeddingModel, defaultModel string) *Classifier {
	encoder, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		slog.Warn("Token encoder unavailable, falling back to length estimate", "error", err)
	}
	return &Classifier{
		catalog:        catalog,
		embedder:       embedder,
		embeddingModel: embeddingModel,
		defaultModel:   defaultModel,
		encoder:        encoder,
	}
}

// Default returns the classification used when there is nothing to classify.
func (c *Classifier) Default() Classification {
	return Classification{
		TaskType:         TaskGeneral,
		Complexity:       ComplexityMedium,
		Language:         LanguageGeneral,
		RecommendedModel: c.defaultModel,
		Reasoning:        "no user content; default classification",
	}
}

// Classify derives the classification for the given user content against
// the daemon's model inventory.
func (c *Classifier) Classify(ctx context.Context, content string, inventory []string) Classification {
	if strings.TrimSpace(content) == "" {
		return c.Default()
	}

	catalog := c.catalog.Get()
	lower := strings.ToLower(content)

	taskType, taskReason := c.detectTaskType(ctx, catalog, lower)
	complexity := detectComplexity(catalog, lower)
	language := detectLanguage(catalog, lower)

	model := c.recommendModel(catalog, taskType, language, complexity, inventory)

	needsPlanning := complexity == ComplexityVeryHigh ||
		(taskType == TaskCoding && complexity == ComplexityHigh) ||
		containsAny(lower, catalog.PlanningTerms)

	cls := Classification{
		TaskType:         taskType,
		Complexity:       complexity,
		Language:         language,
		RecommendedModel: model,
		EstimatedTokens:  c.estimateTokens(content),
		NeedsPlanning:    needsPlanning,
		Reasoning: fmt.Sprintf("%s; complexity %s; language %s; model %s",
			taskReason, complexity, language, model),
	}
	if needsPlanning {
		cls.PlanningSteps = planningSteps(taskType)
	}
	return cls
}

// detectTaskType walks the catalog in order, first match wins. When more
// than one category matches, embeddings break the tie; on any embedding
// failure the first match stands.
func (c *Classifier) detectTaskType(ctx context.Context, catalog *Catalog, lower string) (string, string) {
	var matches []TaskTypeRule
	for _, rule := range catalog.TaskTypes {
		if rule.Name == TaskGeneral {
			continue
		}
		if !containsAny(lower, rule.Keywords) {
			continue
		}
		if rule.Name == TaskCoding && !containsAny(lower, catalog.CodingVerbs) {
			continue
		}
		matches = append(matches, rule)
	}

	switch len(matches) {
	case 0:
		return TaskGeneral, "no category keywords matched"
	case 1:
		return matches[0].Name, fmt.Sprintf("matched %s keywords", matches[0].Name)
	}

	if best, ok := c.embeddingTieBreak(ctx, lower, matches); ok {
		return best, fmt.Sprintf("embedding tie-break chose %s among %d matches", best, len(matches))
	}
	return matches[0].Name, fmt.Sprintf("keyword order chose %s among %d matches", matches[0].Name, len(matches))
}

// embeddingTieBreak picks the category whose prototype sits closest to the
// prompt in embedding space.
func (c *Classifier) embeddingTieBreak(ctx context.Context, content string, matches []TaskTypeRule) (string, bool) {
	if c.embedder == nil {
		return "", false
	}

	promptVec, err := c.embedder.Embeddings(ctx, c.embeddingModel, content)
	if err != nil || len(promptVec) == 0 {
		slog.Debug("Embedding tie-break unavailable", "error", err)
		return "", false
	}

	best := ""
	bestScore := math.Inf(-1)
	for _, rule := range matches {
		protoVec, err := c.embedder.Embeddings(ctx, c.embeddingModel, rule.Prototype)
		if err != nil || len(protoVec) != len(promptVec) {
			return "", false
		}
		if score := cosine(promptVec, protoVec); score > bestScore {
			bestScore = score
			best = rule.Name
		}
	}
	return best, best != ""
}

func detectComplexity(catalog *Catalog, lower string) string {
	for _, rule := range catalog.Complexity {
		if containsAny(lower, rule.Keywords) {
			return rule.Level
		}
	}
	return ComplexityLow
}

func detectLanguage(catalog *Catalog, lower string) string {
	for _, rule := range catalog.Languages {
		if containsAny(lower, rule.Keywords) {
			return rule.Name
		}
	}
	return LanguageGeneral
}

// recommendModel applies the preference lists against the inventory.
func (c *Classifier) recommendModel(catalog *Catalog, taskType, language, complexity string, inventory []string) string {
	available := make(map[string]bool, len(inventory))
	for _, name := range inventory {
		available[name] = true
	}

	// Very complex coding work goes to the largest coding model on hand.
	if taskType == TaskCoding && complexity == ComplexityVeryHigh {
		for _, name := range catalog.LargeCodingModels {
			if available[name] {
				return name
			}
		}
	}

	if taskType == TaskCoding && language != LanguageGeneral {
		if prefs, ok := catalog.LanguagePreferences[language]; ok {
			for _, name := range prefs {
				if available[name] {
					return name
				}
			}
		}
	}

	for _, name := range catalog.ModelPreferences[taskType] {
		if available[name] {
			return name
		}
	}

	// Nothing from the preference lists is installed.
	if available[c.defaultModel] || len(inventory) == 0 {
		return c.defaultModel
	}
	return inventory[0]
}

func (c *Classifier) estimateTokens(content string) int {
	if c.encoder != nil {
		return len(c.encoder.Encode(content, nil, nil))
	}
	return len(content) / 4
}

func planningSteps(taskType string) []string {
	switch taskType {
	case TaskCoding:
		return []string{
			"clarify requirements and constraints",
			"outline module and data structure design",
			"implement incrementally with tests",
			"review edge cases and error handling",
		}
	case TaskTechnicalAnalysis:
		return []string{
			"gather relevant facts and metrics",
			"compare alternatives against criteria",
			"summarize trade-offs and recommend",
		}
	default:
		return []string{
			"break the request into sub-goals",
			"address each sub-goal in order",
			"synthesize a final answer",
		}
	}
}

func containsAny(haystack string, needles []string) bool {
	for _, needle := range needles {
		if needle != "" && strings.Contains(haystack, needle) {
			return true
		}
	}
	return false
}

func cosine(a, b []float64) float64 {
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
