// Package llm adapts the Gemini SDK to the domain.ModelClient port.
package llm

import (
	"context"
	"fmt"
	"os"

	"google.golang.org/genai"

	"github.com/backstage-ai/backstage-agent/internal/config"
	"github.com/backstage-ai/backstage-agent/internal/domain"
)

type GeminiClient struct {
	client *genai.Client
}

// NewGeminiClient builds a client against Vertex AI when the config
// names a GCP project, otherwise against the Gemini API using
// GEMINI_API_KEY.
func NewGeminiClient(ctx context.Context, cfg *config.Config) (*GeminiClient, error) {
	var cc genai.ClientConfig
	if cfg.Mode == config.ModeGCP {
		if cfg.GCPProjectID == "" || cfg.GCPLocation == "" {
			return nil, fmt.Errorf("gcp mode requires a project id and location")
		}
		cc = genai.ClientConfig{
			Project:  cfg.GCPProjectID,
			Location: cfg.GCPLocation,
			Backend:  genai.BackendVertexAI,
		}
	} else {
		apiKey := os.Getenv("GEMINI_API_KEY")
		if apiKey == "" {
			return nil, fmt.Errorf("GEMINI_API_KEY must be set outside gcp mode")
		}
		cc = genai.ClientConfig{
			APIKey:  apiKey,
			Backend: genai.BackendGeminiAPI,
		}
	}

	client, err := genai.NewClient(ctx, &cc)
	if err != nil {
		return nil, fmt.Errorf("creating genai client: %w", err)
	}
	return &GeminiClient{client: client}, nil
}

func (g *GeminiClient) GenerateContent(ctx context.Context, req domain.GenerateRequest) (*domain.ModelResponse, error) {
	contents, cfg := buildRequest(req)

	res, err := g.client.Models.GenerateContent(ctx, req.Model, contents, cfg)
	if err != nil {
		return nil, domain.ClassifyProviderError(fmt.Errorf("generate content: %w", err))
	}

	out := &domain.ModelResponse{Text: res.Text()}
	for _, call := range res.FunctionCalls() {
		out.Calls = append(out.Calls, domain.FunctionCall{
			Name: call.Name,
			Args: call.Args,
		})
	}
	if res.UsageMetadata != nil {
		out.InputTokens = int(res.UsageMetadata.PromptTokenCount)
		out.OutputTokens = int(res.UsageMetadata.CandidatesTokenCount)
	}
	return out, nil
}

func (g *GeminiClient) GenerateStream(ctx context.Context, req domain.GenerateRequest, onChunk func(text string)) (*domain.ModelResponse, error) {
	contents, cfg := buildRequest(req)

	out := &domain.ModelResponse{}
	var text string
	for res, err := range g.client.Models.GenerateContentStream(ctx, req.Model, contents, cfg) {
		if err != nil {
			return nil, domain.ClassifyProviderError(fmt.Errorf("generate content stream: %w", err))
		}

		if chunk := res.Text(); chunk != "" {
			text += chunk
			if onChunk != nil {
				onChunk(chunk)
			}
		}
		for _, call := range res.FunctionCalls() {
			out.Calls = append(out.Calls, domain.FunctionCall{
				Name: call.Name,
				Args: call.Args,
			})
		}
		if res.UsageMetadata != nil {
			out.InputTokens = int(res.UsageMetadata.PromptTokenCount)
			out.OutputTokens = int(res.UsageMetadata.CandidatesTokenCount)
		}
	}
	out.Text = text
	return out, nil
}

func buildRequest(req domain.GenerateRequest) ([]*genai.Content, *genai.GenerateContentConfig) {
	var contents []*genai.Content
	for _, c := range req.Contents {
		var role genai.Role = genai.RoleUser
		if c.Role == domain.RoleModel {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(c.Text, role))
	}

	cfg := &genai.GenerateContentConfig{
		Temperature:     req.Config.Temperature,
		TopP:            req.Config.TopP,
		MaxOutputTokens: req.Config.MaxOutputTokens,
	}
	if req.System != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}
	if req.Config.ThinkingBudget != nil {
		cfg.ThinkingConfig = &genai.ThinkingConfig{
			ThinkingBudget: req.Config.ThinkingBudget,
		}
	}
	if len(req.Tools) > 0 {
		decls := make([]*genai.FunctionDeclaration, 0, len(req.Tools))
		for _, t := range req.Tools {
			decls = append(decls, &genai.FunctionDeclaration{
				Name:                 t.Name,
				Description:          t.Description,
				ParametersJsonSchema: t.Parameters,
			})
		}
		cfg.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
	}
	return contents, cfg
}
