package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

type GeminiProvider struct {
	client *genai.Client
	model  string
}

func NewGeminiProvider(ctx context.Context, apiKey, model string) (*GeminiProvider, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("gemini: api key is required")
	}
	if model == "" {
		model = "gemini-2.5-flash"
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}
	return &GeminiProvider{client: client, model: model}, nil
}

// geminiContents maps chat roles onto Gemini's: system messages become the
// system instruction, assistant turns become "model" turns.
func geminiContents(messages []Message) ([]*genai.Content, *genai.GenerateContentConfig) {
	var (
		contents []*genai.Content
		system   []string
	)
	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			system = append(system, m.Content)
		case RoleAssistant:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleModel))
		default:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleUser))
		}
	}
	var cfg *genai.GenerateContentConfig
	if len(system) > 0 {
		cfg = &genai.GenerateContentConfig{
			SystemInstruction: genai.NewContentFromText(strings.Join(system, "\n\n"), genai.RoleUser),
		}
	}
	return contents, cfg
}

func (p *GeminiProvider) Chat(ctx context.Context, messages []Message) (string, error) {
	contents, cfg := geminiContents(messages)
	resp, err := p.client.Models.GenerateContent(ctx, p.model, contents, cfg)
	if err != nil {
		return "", fmt.Errorf("gemini: %w", err)
	}
	if resp == nil {
		return "", errors.New("gemini: empty response")
	}
	return resp.Text(), nil
}

func (p *GeminiProvider) StreamChat(ctx context.Context, messages []Message) (<-chan string, <-chan error) {
	chunks := make(chan string, 16)
	errs := make(chan error, 1)

	go func() {
		defer close(chunks)
		defer close(errs)

		contents, cfg := geminiContents(messages)
		for resp, err := range p.client.Models.GenerateContentStream(ctx, p.model, contents, cfg) {
			if err != nil {
				errs <- fmt.Errorf("gemini: %w", err)
				return
			}
			if resp == nil {
				continue
			}
			if text := resp.Text(); text != "" && !send(ctx, chunks, text) {
				errs <- ctx.Err()
				return
			}
		}
	}()

	return chunks, errs
}
