package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// Gemini implements Provider using Google Gemini. The transcript is replayed
// as chat history; schema conformance is requested through the system
// instruction plus the JSON response MIME type, then enforced by the caller.
type Gemini struct {
	client *genai.Client
	model  string
}

// NewGemini creates a new Gemini provider instance.
func NewGemini(model, apiKey string) (*Gemini, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	if model == "" {
		model = "gemini-2.5-pro"
	}

	ctx := context.Background()
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}

	return &Gemini{client: client, model: model}, nil
}

// Complete replays the transcript as a chat session and sends the final
// human turn.
func (g *Gemini) Complete(ctx context.Context, transcript Transcript, schema map[string]any) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, 120*time.Second)
	defer cancel()

	if len(transcript) == 0 {
		return nil, fmt.Errorf("empty transcript")
	}
	last := transcript[len(transcript)-1]
	if last.Role != RoleHuman {
		return nil, fmt.Errorf("last transcript turn must be a human turn, got %q", last.Role)
	}

	schemaJSON, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("marshaling schema: %w", err)
	}

	model := g.client.GenerativeModel(g.model)
	model.GenerationConfig.ResponseMIMEType = "application/json"

	instruction := fmt.Sprintf(
		"%s\n\nRespond with a single JSON object conforming to this JSON Schema:\n%s",
		collectSystemText(transcript), schemaJSON,
	)
	model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(instruction)}}

	session := model.StartChat()
	session.History = buildGeminiHistory(transcript[:len(transcript)-1])

	resp, err := session.SendMessage(ctx, turnParts(last)...)
	if err != nil {
		return nil, fmt.Errorf("generating content: %w", err)
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return nil, fmt.Errorf("no response from gemini")
	}

	// Extract text response
	var responseText strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			responseText.WriteString(string(text))
		}
	}

	return extractJSONObject(responseText.String())
}

func collectSystemText(transcript Transcript) string {
	var parts []string
	for _, turn := range transcript {
		if turn.Role == RoleSystem {
			parts = append(parts, turn.Text)
		}
	}
	return strings.Join(parts, "\n\n")
}

func buildGeminiHistory(transcript Transcript) []*genai.Content {
	var history []*genai.Content
	for _, turn := range transcript {
		if turn.Role == RoleSystem {
			continue
		}
		role := "user"
		if turn.Role == RoleAssistant {
			role = "model"
		}
		history = append(history, &genai.Content{Role: role, Parts: turnParts(turn)})
	}
	return history
}

func turnParts(turn Turn) []genai.Part {
	var parts []genai.Part
	if turn.Image != nil {
		// genai.ImageData expects just the format suffix (e.g. "png"), not
		// the full MIME type
		parts = append(parts, genai.ImageData(imageFormat(turn.Image.MIME), turn.Image.Data))
	}
	if turn.Text != "" {
		parts = append(parts, genai.Text(turn.Text))
	}
	return parts
}

func imageFormat(mime string) string {
	format := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(mime)), "image/")
	if format == "" {
		format = "png"
	}
	return format
}

// Close closes the Gemini client.
func (g *Gemini) Close() error {
	return g.client.Close()
}
