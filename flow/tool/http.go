package tool

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// HTTPTool invokes a fixed HTTP endpoint with a JSON body.
//
// Unlike a general-purpose request tool, HTTPTool binds one named tool
// to one URL at construction time. The call input is marshaled as the
// JSON request body and the JSON response body is decoded into the
// result map. This makes remote services usable anywhere a Tool is
// accepted: tool execution steps, agent steps, and context providers.
//
// Output on a non-JSON or empty response body:
//   - status_code: HTTP status code
//   - body: raw response body as string
type HTTPTool struct {
	name   string
	url    string
	client *http.Client
}

// NewHTTPTool creates an HTTP tool that POSTs its input to the given URL.
// Timeouts are handled through the call context.
func NewHTTPTool(name, url string) *HTTPTool {
	return &HTTPTool{
		name:   name,
		url:    url,
		client: &http.Client{},
	}
}

// Name returns the tool identifier.
func (h *HTTPTool) Name() string {
	return h.name
}

// Call sends the input as a JSON POST and decodes the JSON response.
func (h *HTTPTool) Call(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error) {
	if input == nil {
		input = map[string]interface{}{}
	}
	payload, err := json.Marshal(input)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("tool %s returned HTTP %d: %s", h.name, resp.StatusCode, string(respBody))
	}

	var result map[string]interface{}
	if err := json.Unmarshal(respBody, &result); err != nil {
		// Non-JSON responses are surfaced raw rather than failing the call.
		return map[string]interface{}{
			"status_code": resp.StatusCode,
			"body":        string(respBody),
		}, nil
	}
	return result, nil
}
