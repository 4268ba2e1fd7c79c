package classifier

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSelectModel(t *testing.T) {
	inventory := []string{"llama3.1:8b", "qwen2.5-coder:7b", "mistral:7b"}

	tests := []struct {
		name      string
		requested string
		cls       Classification
		want      string
	}{
		{
			name:      "requested in inventory, general task honored",
			requested: "mistral:7b",
			cls:       Classification{TaskType: TaskGeneral, RecommendedModel: "llama3.1:8b"},
			want:      "mistral:7b",
		},
		{
			name:      "coding task overrides chat model",
			requested: "llama3.1:8b",
			cls:       Classification{TaskType: TaskCoding, RecommendedModel: "qwen2.5-coder:7b"},
			want:      "qwen2.5-coder:7b",
		},
		{
			name:      "coding task keeps a requested coding model",
			requested: "qwen2.5-coder:7b",
			cls:       Classification{TaskType: TaskCoding, RecommendedModel: "codellama:13b"},
			want:      "qwen2.5-coder:7b",
		},
		{
			name:      "tag drift resolves via base name",
			requested: "llama3.1:latest",
			cls:       Classification{TaskType: TaskGeneral, RecommendedModel: "mistral:7b"},
			want:      "llama3.1:8b",
		},
		{
			name:      "unknown requested model falls back to recommendation",
			requested: "never-pulled:1b",
			cls:       Classification{TaskType: TaskGeneral, RecommendedModel: "llama3.1:8b"},
			want:      "llama3.1:8b",
		},
		{
			name:      "recommendation drifts to inventory tag via base name",
			requested: "never-pulled:1b",
			cls:       Classification{TaskType: TaskGeneral, RecommendedModel: "llama3.1:70b"},
			want:      "llama3.1:8b",
		},
		{
			name:      "recommendation missing from inventory passes through",
			requested: "never-pulled:1b",
			cls:       Classification{TaskType: TaskGeneral, RecommendedModel: "deepseek-coder:6.7b"},
			want:      "deepseek-coder:6.7b",
		},
		{
			name:      "coding override skipped when recommendation unavailable",
			requested: "mistral:7b",
			cls:       Classification{TaskType: TaskCoding, RecommendedModel: "deepseek-coder:33b"},
			want:      "mistral:7b",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SelectModel(tt.requested, tt.cls, inventory))
		})
	}
}

func TestIsCodingModel(t *testing.T) {
	assert.True(t, isCodingModel("qwen2.5-coder:7b"))
	assert.True(t, isCodingModel("sqlcoder:7b"))
	assert.True(t, isCodingModel("codellama:13b"))
	assert.False(t, isCodingModel("llama3.1:8b"))
	assert.False(t, isCodingModel("mistral:7b"))
}
