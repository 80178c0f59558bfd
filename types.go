package kioku

import "context"

// EmbeddingProvider generates vector embeddings from text. Implement it
// to replace the auto-detected provider (Ollama/OpenAI/noop). Vector
// length must match the configured embedding dimensions.
type EmbeddingProvider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimensions() int
}

// Statement is one numbered input to a contradiction Detector. Index
// identifies the statement and is echoed back in findings.
type Statement struct {
	Index int
	Text  string
}

// Finding is a detected contradiction between two statements.
type Finding struct {
	IndexA      int
	IndexB      int
	Explanation string
}

// Detector classifies which statement pairs in a topic contradict each
// other. Implement it to replace the auto-detected LLM backend. Errors
// are absorbed: a failing detector degrades to "no contradictions".
type Detector interface {
	Detect(ctx context.Context, topic string, statements []Statement) ([]Finding, error)
}
