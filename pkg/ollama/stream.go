package ollama

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"

	"github.com/kadirpekel/ollamagate/pkg/protocol"
)

// Stream is a lazy reader over the daemon's NDJSON response. Each call to
// Next returns one newline-terminated chunk exactly as the daemon sent it,
// so a proxy can relay bytes without re-encoding.
type Stream struct {
	body   io.ReadCloser
	reader *bufio.Reader
	done   bool
}

// NewStream wraps a response body as a chunk stream. Exposed so pipeline
// tests can feed canned NDJSON without a live daemon.
func NewStream(body io.ReadCloser) *Stream {
	return &Stream{
		body:   body,
		reader: bufio.NewReader(body),
	}
}

// Next returns the next raw NDJSON line including its trailing newline.
// It returns io.EOF once the stream is exhausted.
func (s *Stream) Next() ([]byte, error) {
	if s.done {
		return nil, io.EOF
	}

	for {
		line, err := s.reader.ReadBytes('\n')
		if err != nil {
			if err == io.EOF {
				s.done = true
				if len(bytes.TrimSpace(line)) > 0 {
					return line, nil
				}
				return nil, io.EOF
			}
			return nil, protocol.NewError(protocol.KindTransportFailure, "failed to read stream", err)
		}
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		return line, nil
	}
}

// Close releases the underlying response body. Closing mid-stream aborts
// the upstream call.
func (s *Stream) Close() error {
	s.done = true
	return s.body.Close()
}

// Chunk is the decoded form of one stream line. Only the fields the gateway
// inspects are declared; relayed bytes are never rebuilt from this struct.
type Chunk struct {
	Model   string `json:"model"`
	Message struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"message"`
	Response string `json:"response"`
	Done     bool   `json:"done"`
	Error    string `json:"error,omitempty"`
}

// DecodeChunk parses a raw stream line.
func DecodeChunk(line []byte) (*Chunk, error) {
	var chunk Chunk
	if err := json.Unmarshal(bytes.TrimSpace(line), &chunk); err != nil {
		return nil, err
	}
	return &chunk, nil
}
