package llm

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/genai"

	"github.com/PabloGalante/secretary-agent/internal/domain"
)

// GenAIClient calls Gemini, either on Vertex AI or through the Gemini API.
type GenAIClient struct {
	client *genai.Client
}

var _ domain.CompletionClient = (*GenAIClient)(nil)

// NewVertexClient creates a client on Vertex AI using application default credentials.
func NewVertexClient(ctx context.Context, projectID, location string) (*GenAIClient, error) {
	if projectID == "" || location == "" {
		return nil, fmt.Errorf("vertex: project and location are required")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		Project:  projectID,
		Location: location,
		Backend:  genai.BackendVertexAI,
	})
	if err != nil {
		return nil, fmt.Errorf("creating Vertex AI client: %w", err)
	}
	return &GenAIClient{client: client}, nil
}

// NewGeminiClient creates a client on the Gemini API. baseURL may be empty.
func NewGeminiClient(ctx context.Context, apiKey, baseURL string) (*GenAIClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini: api key is required")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:      apiKey,
		Backend:     genai.BackendGeminiAPI,
		HTTPOptions: genai.HTTPOptions{BaseURL: baseURL},
	})
	if err != nil {
		return nil, fmt.Errorf("creating Gemini client: %w", err)
	}
	return &GenAIClient{client: client}, nil
}

// Complete implements domain.CompletionClient.
func (g *GenAIClient) Complete(ctx context.Context, req domain.CompletionRequest) (*domain.Completion, error) {
	contents := make([]*genai.Content, 0, len(req.Turns))
	for _, t := range req.Turns {
		role := genai.Role(genai.RoleUser)
		if t.Role == domain.RoleAssistant {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(t.Content, role))
	}

	cfg := &genai.GenerateContentConfig{
		MaxOutputTokens: int32(req.MaxTokens),
	}
	if req.System != "" {
		// The system instruction is sent with the user role.
		cfg.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}

	res, err := g.client.Models.GenerateContent(ctx, req.Model, contents, cfg)
	if err != nil {
		var apiErr genai.APIError
		if errors.As(err, &apiErr) {
			return nil, providerError(apiErr.Code, err)
		}
		return nil, providerError(0, err)
	}

	out := &domain.Completion{
		Text:  res.Text(),
		Model: req.Model,
	}
	if res.ModelVersion != "" {
		out.Model = res.ModelVersion
	}
	if res.UsageMetadata != nil {
		out.InputTokens = int(res.UsageMetadata.PromptTokenCount)
		out.OutputTokens = int(res.UsageMetadata.CandidatesTokenCount)
	}
	if err := validate(out); err != nil {
		return nil, err
	}
	return out, nil
}
