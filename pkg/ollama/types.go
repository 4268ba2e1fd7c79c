package ollama

// ModelInfo describes one model in the daemon's local inventory.
type ModelInfo struct {
	Name       string `json:"name"`
	Model      string `json:"model"`
	ModifiedAt string `json:"modified_at"`
	Size       int64  `json:"size"`
	Digest     string `json:"digest"`
	Details    struct {
		Family            string `json:"family"`
		ParameterSize     string `json:"parameter_size"`
		QuantizationLevel string `json:"quantization_level"`
	} `json:"details"`
}

// TagsResponse is the daemon's /api/tags payload.
type TagsResponse struct {
	Models []ModelInfo `json:"models"`
}

// EmbeddingsResponse is the daemon's /api/embeddings payload.
type EmbeddingsResponse struct {
	Embedding []float64 `json:"embedding"`
}
