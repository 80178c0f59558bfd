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

// OpenAIDetector detects contradictions using the OpenAI chat API.
// Defaults to gpt-4o-mini for cost efficiency.
type OpenAIDetector struct {
	apiKey     string
	model      string
	httpClient *http.Client
}

// NewOpenAIDetector creates a detector that calls the OpenAI chat
// completions API.
func NewOpenAIDetector(apiKey, model string) *OpenAIDetector {
	if model == "" {
		model = "gpt-4o-mini"
	}
	return &OpenAIDetector{
		apiKey: apiKey,
		model:  model,
		httpClient: &http.Client{
			Timeout: perCallTimeout + 5*time.Second,
		},
	}
}

type openAIChatRequest struct {
	Model    string              `json:"model"`
	Messages []openAIChatMessage `json:"messages"`
}

type openAIChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIChatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func (d *OpenAIDetector) Detect(ctx context.Context, topic string, statements []Statement) ([]Finding, error) {
	if len(statements) < 2 {
		return []Finding{}, nil
	}

	callCtx, cancel := context.WithTimeout(ctx, perCallTimeout)
	defer cancel()

	body, err := json.Marshal(openAIChatRequest{
		Model: d.model,
		Messages: []openAIChatMessage{
			{Role: "user", Content: formatPrompt(topic, statements)},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("openai detector: marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, "https://api.openai.com/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("openai detector: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+d.apiKey)

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("openai detector: request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("openai detector: status %d: %s", resp.StatusCode, string(respBody))
	}

	var result openAIChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("openai detector: decode response: %w", err)
	}
	if len(result.Choices) == 0 {
		return nil, fmt.Errorf("openai detector: no choices in response")
	}

	return ParseFindings(result.Choices[0].Message.Content, statements)
}
