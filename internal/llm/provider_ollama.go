package llm

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/reflective-memory-kernel/internal/jsonx"
)

var errEmptyResponse = errors.New("empty response from model")

// ollamaProvider talks to a local Ollama instance over its raw chat
// API — there is no official Go SDK for Ollama, so this is hand-rolled
// HTTP in the same shape as the teacher's makeRequest/extractContent
// helpers, kept as the one deliberately stdlib-backed provider arm.
type ollamaProvider struct {
	baseURL string
	client  *http.Client
}

func newOllamaProvider(baseURL string) *ollamaProvider {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	return &ollamaProvider{baseURL: baseURL, client: &http.Client{Timeout: 60 * time.Second}}
}

func (p *ollamaProvider) chat(ctx context.Context, system, user, model string) (string, error) {
	body := map[string]interface{}{
		"model": model,
		"messages": []map[string]string{
			{"role": "system", "content": system},
			{"role": "user", "content": user},
		},
		"stream": false,
	}

	jsonBody, err := jsonx.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("marshal ollama request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/chat", bytes.NewReader(jsonBody))
	if err != nil {
		return "", fmt.Errorf("build ollama request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("ollama request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read ollama response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("ollama error (status %d): %s", resp.StatusCode, string(respBody))
	}

	var result map[string]interface{}
	if err := jsonx.Unmarshal(respBody, &result); err != nil {
		return "", fmt.Errorf("parse ollama response: %w", err)
	}
	return extractContent(result)
}

func extractContent(result map[string]interface{}) (string, error) {
	if choices, ok := result["choices"].([]interface{}); ok && len(choices) > 0 {
		if choice, ok := choices[0].(map[string]interface{}); ok {
			if message, ok := choice["message"].(map[string]interface{}); ok {
				if content, ok := message["content"].(string); ok {
					return content, nil
				}
			}
		}
	}
	if message, ok := result["message"].(map[string]interface{}); ok {
		if content, ok := message["content"].(string); ok {
			return content, nil
		}
	}
	if content, ok := result["content"].(string); ok {
		return content, nil
	}
	return "", fmt.Errorf("could not extract content from ollama response")
}
