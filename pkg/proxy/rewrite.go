package proxy

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/kadirpekel/ollamagate/pkg/ollama"
	"github.com/kadirpekel/ollamagate/pkg/protocol"
)

// ChunkRewriter rewrites the model field of the first chunk it sees and
// passes every later chunk through untouched. The rewrite is a single
// textual substitution so relayed bytes are otherwise exactly the daemon's.
type ChunkRewriter struct {
	model   string
	applied bool
}

// NewChunkRewriter creates a rewriter targeting the selected model name.
func NewChunkRewriter(selectedModel string) *ChunkRewriter {
	return &ChunkRewriter{model: selectedModel}
}

// Rewrite transforms one raw NDJSON line.
func (r *ChunkRewriter) Rewrite(line []byte) []byte {
	if r.applied {
		return line
	}
	r.applied = true

	chunk, err := ollama.DecodeChunk(line)
	if err != nil || chunk.Model == "" {
		return line
	}

	old, _ := json.Marshal(chunk.Model)
	replacement, _ := json.Marshal(r.model + ModelSuffix)
	rewritten := strings.Replace(string(line), `"model":`+string(old), `"model":`+string(replacement), 1)
	if rewritten == string(line) {
		// The daemon printed the field with a space after the colon.
		rewritten = strings.Replace(string(line), `"model": `+string(old), `"model": `+string(replacement), 1)
	}
	return []byte(rewritten)
}

// Relay copies a stream to the client with the first-chunk rewrite applied,
// flushing after every chunk so writes back-pressure the upstream read. It
// returns the accumulated assistant text and whether the daemon's terminal
// chunk was seen.
func Relay(w http.ResponseWriter, stream *ollama.Stream, rewriter *ChunkRewriter) (string, bool, error) {
	flusher, _ := w.(http.Flusher)
	var reply strings.Builder
	sawDone := false

	for {
		line, err := stream.Next()
		if err == io.EOF {
			return reply.String(), sawDone, nil
		}
		if err != nil {
			return reply.String(), sawDone, err
		}

		if chunk, decodeErr := ollama.DecodeChunk(line); decodeErr == nil {
			if chunk.Error != "" {
				return reply.String(), sawDone, protocol.Errorf(protocol.KindUpstreamFailure, "daemon error: %s", chunk.Error)
			}
			reply.WriteString(chunk.Message.Content)
			reply.WriteString(chunk.Response)
			if chunk.Done {
				sawDone = true
			}
		}

		if _, err := w.Write(rewriter.Rewrite(line)); err != nil {
			return reply.String(), sawDone, protocol.NewError(protocol.KindTransportFailure, "client write failed", err)
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
}
