package llm

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	anthropicURL     = "https://api.anthropic.com/v1/messages"
	anthropicVersion = "2023-06-01"

	// responseToolName is the forced tool whose input carries the structured
	// response.
	responseToolName = "record_response"
)

// Anthropic implements Provider using the Anthropic Messages API. Structured
// output is obtained by forcing a single tool call whose input schema is the
// requested response schema.
type Anthropic struct {
	apiKey   string
	model    string
	endpoint string
	client   *http.Client
}

// NewAnthropic creates a new Anthropic provider instance.
func NewAnthropic(model, apiKey string) (*Anthropic, error) {
	return newAnthropic(model, apiKey, anthropicURL)
}

// NewAnthropicWithEndpoint creates a provider pointing at a custom API
// endpoint (for testing).
func NewAnthropicWithEndpoint(model, apiKey, endpoint string) (*Anthropic, error) {
	return newAnthropic(model, apiKey, endpoint)
}

func newAnthropic(model, apiKey, endpoint string) (*Anthropic, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("anthropic api key is required")
	}
	if model == "" {
		model = "claude-3-5-sonnet-20241022"
	}

	return &Anthropic{
		apiKey:   apiKey,
		model:    model,
		endpoint: endpoint,
		client:   &http.Client{Timeout: 120 * time.Second},
	}, nil
}

// Complete sends the transcript and returns the forced tool call's input.
func (a *Anthropic) Complete(ctx context.Context, transcript Transcript, schema map[string]any) ([]byte, error) {
	system, messages := buildAnthropicMessages(transcript)

	reqBody := map[string]any{
		"model":      a.model,
		"max_tokens": 8192,
		"messages":   messages,
		"tools": []map[string]any{{
			"name":         responseToolName,
			"description":  "Record the structured response.",
			"input_schema": schema,
		}},
		"tool_choice": map[string]any{"type": "tool", "name": responseToolName},
	}
	if system != "" {
		reqBody["system"] = system
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", a.apiKey)
	req.Header.Set("anthropic-version", anthropicVersion)

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling anthropic API: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		baseErr := fmt.Errorf("anthropic API error (status %d): %s", resp.StatusCode, string(respBody))
		if resp.StatusCode == http.StatusTooManyRequests {
			return nil, &RateLimitError{
				Provider:   "anthropic",
				RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
				Err:        baseErr,
			}
		}
		return nil, baseErr
	}

	return parseAnthropicResponse(respBody)
}

// buildAnthropicMessages lifts system turns into the top-level system field
// and converts the rest into user/assistant messages with image and text
// content blocks.
func buildAnthropicMessages(transcript Transcript) (string, []map[string]any) {
	var systemParts []string
	var messages []map[string]any

	for _, turn := range transcript {
		if turn.Role == RoleSystem {
			systemParts = append(systemParts, turn.Text)
			continue
		}

		role := "user"
		if turn.Role == RoleAssistant {
			role = "assistant"
		}

		var blocks []map[string]any
		if turn.Image != nil {
			blocks = append(blocks, map[string]any{
				"type": "image",
				"source": map[string]any{
					"type":       "base64",
					"media_type": turn.Image.MIME,
					"data":       base64.StdEncoding.EncodeToString(turn.Image.Data),
				},
			})
		}
		if turn.Text != "" {
			blocks = append(blocks, map[string]any{
				"type": "text",
				"text": turn.Text,
			})
		}

		messages = append(messages, map[string]any{
			"role":    role,
			"content": blocks,
		})
	}

	return strings.Join(systemParts, "\n\n"), messages
}

// anthropicResponse models the Messages API response.
type anthropicResponse struct {
	Content []struct {
		Type  string          `json:"type"`
		Text  string          `json:"text"`
		Input json.RawMessage `json:"input"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
}

func parseAnthropicResponse(body []byte) ([]byte, error) {
	var resp anthropicResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("unmarshaling response: %w", err)
	}

	if len(resp.Content) == 0 {
		return nil, fmt.Errorf("empty response from API")
	}
	if resp.StopReason == "max_tokens" {
		return nil, fmt.Errorf("output truncated (stop_reason: max_tokens)")
	}

	for _, block := range resp.Content {
		if block.Type == "tool_use" && len(block.Input) > 0 {
			return block.Input, nil
		}
	}

	// Some models answer in text even when a tool is forced
	for _, block := range resp.Content {
		if block.Type == "text" && block.Text != "" {
			return extractJSONObject(block.Text)
		}
	}

	return nil, fmt.Errorf("no usable content block in response")
}

// Close is a no-op for the HTTP client.
func (a *Anthropic) Close() error {
	return nil
}
