package contradiction

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// OllamaDetector detects contradictions using a local Ollama chat model.
// The model should be a text generation model (e.g., qwen2.5:3b), not an
// embedding model.
type OllamaDetector struct {
	baseURL    string
	model      string
	httpClient *http.Client
}

// NewOllamaDetector creates a detector that calls Ollama's chat API.
func NewOllamaDetector(baseURL, model string) *OllamaDetector {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	return &OllamaDetector{
		baseURL: baseURL,
		model:   model,
		httpClient: &http.Client{
			Timeout: perCallTimeout + 5*time.Second, // HTTP timeout slightly beyond per-call context timeout.
		},
	}
}

type ollamaChatRequest struct {
	Model    string              `json:"model"`
	Messages []ollamaChatMessage `json:"messages"`
	Stream   bool                `json:"stream"`
	Format   string              `json:"format,omitempty"`
}

type ollamaChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaChatResponse struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
}

func (d *OllamaDetector) Detect(ctx context.Context, topic string, statements []Statement) ([]Finding, error) {
	if len(statements) < 2 {
		return []Finding{}, nil
	}

	callCtx, cancel := context.WithTimeout(ctx, perCallTimeout)
	defer cancel()

	body, err := json.Marshal(ollamaChatRequest{
		Model: d.model,
		Messages: []ollamaChatMessage{
			{Role: "user", Content: formatPrompt(topic, statements)},
		},
		Stream: false,
		Format: "json",
	})
	if err != nil {
		return nil, fmt.Errorf("ollama detector: marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, d.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("ollama detector: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ollama detector: request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("ollama detector: status %d: %s", resp.StatusCode, string(respBody))
	}

	var result ollamaChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("ollama detector: decode response: %w", err)
	}

	return ParseFindings(result.Message.Content, statements)
}
