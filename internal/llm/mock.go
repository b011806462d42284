package llm

import (
	"context"
	"fmt"
	"strings"
)

// MockClient returns canned generations for tests and local development.
type MockClient struct {
	// Response overrides the default canned output when non-empty.
	Response string
	// Err, when set, is returned by every call.
	Err error
	// Calls records the prompts seen, in order.
	Calls []string
}

func NewMockClient() *MockClient {
	return &MockClient{}
}

func (c *MockClient) Generate(ctx context.Context, prompt, system string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	c.Calls = append(c.Calls, prompt)
	if c.Err != nil {
		return "", c.Err
	}
	if c.Response != "" {
		return c.Response, nil
	}
	// Derive a short deterministic summary from the prompt.
	line := prompt
	if idx := strings.IndexByte(line, '\n'); idx > 0 {
		line = line[:idx]
	}
	if len(line) > 80 {
		line = line[:80]
	}
	return fmt.Sprintf("Summary: %s", strings.TrimSpace(line)), nil
}
