package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	openAIEmbeddingURL = "https://api.openai.com/v1/embeddings"
	openAIModel        = "text-embedding-3-small"

	requestTimeout = 30 * time.Second

	// Cap on how much of a non-200 body ends up in the error message.
	maxErrorBodyBytes = 2048
)

// OpenAIClient calls the OpenAI embeddings endpoint. Errors are surfaced to
// the caller, which records the memory with a failed embedding status
// instead of rejecting the write.
type OpenAIClient struct {
	apiKey     string
	model      string
	endpoint   string
	httpClient *http.Client
}

func NewOpenAIClient(apiKey string) *OpenAIClient {
	return &OpenAIClient{
		apiKey:     apiKey,
		model:      openAIModel,
		endpoint:   openAIEmbeddingURL,
		httpClient: &http.Client{Timeout: requestTimeout},
	}
}

type embeddingRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type embeddingVector struct {
	Embedding []float32 `json:"embedding"`
}

type embeddingAPIError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

type embeddingResponse struct {
	Data  []embeddingVector  `json:"data"`
	Error *embeddingAPIError `json:"error,omitempty"`
}

func (c *OpenAIClient) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("embed: empty input")
	}

	payload, err := json.Marshal(embeddingRequest{Model: c.model, Input: text})
	if err != nil {
		return nil, fmt.Errorf("embed: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("embed: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		return nil, fmt.Errorf("embed: provider returned %d: %s",
			resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var parsed embeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("embed: decode response: %w", err)
	}
	if parsed.Error != nil {
		return nil, fmt.Errorf("embed: provider error (%s): %s", parsed.Error.Type, parsed.Error.Message)
	}
	if len(parsed.Data) == 0 || len(parsed.Data[0].Embedding) == 0 {
		return nil, fmt.Errorf("embed: provider returned no vector")
	}
	return parsed.Data[0].Embedding, nil
}
