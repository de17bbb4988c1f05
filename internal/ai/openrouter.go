package ai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"
)

// OpenRouterProvider talks to any OpenAI-compatible chat completions API.
type OpenRouterProvider struct {
	BaseURL string
	APIKey  string
	Model   string
	SiteURL string
	AppName string
	Client  *http.Client
}

type openRouterChatReq struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
	Stream   bool      `json:"stream"`
}

type openRouterError struct {
	Message string `json:"message"`
}

type openRouterChatResp struct {
	Choices []struct {
		Message Message `json:"message"`
		Delta   struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
	Error *openRouterError `json:"error,omitempty"`
}

func NewOpenRouterProvider(baseURL, apiKey, model, siteURL, appName string) *OpenRouterProvider {
	if baseURL == "" {
		baseURL = "https://openrouter.ai/api/v1"
	}
	return &OpenRouterProvider{
		BaseURL: strings.TrimRight(baseURL, "/"),
		APIKey:  apiKey,
		Model:   model,
		SiteURL: siteURL,
		AppName: appName,
		Client:  &http.Client{Transport: http.DefaultTransport},
	}
}

func (p *OpenRouterProvider) validate() error {
	switch {
	case p.Client == nil:
		return errors.New("openrouter: http client is nil")
	case strings.TrimSpace(p.APIKey) == "":
		return errors.New("openrouter: api key is required")
	case strings.TrimSpace(p.Model) == "":
		return errors.New("openrouter: model is required")
	}
	return nil
}

func (p *OpenRouterProvider) headers() map[string]string {
	return map[string]string{
		"Authorization": "Bearer " + p.APIKey,
		"HTTP-Referer":  p.SiteURL,
		"X-Title":       p.AppName,
	}
}

func (p *OpenRouterProvider) Chat(ctx context.Context, messages []Message) (string, error) {
	if err := p.validate(); err != nil {
		return "", err
	}
	ctx, cancel := context.WithTimeout(ctx, 90*time.Second)
	defer cancel()

	body := openRouterChatReq{Model: strings.TrimSpace(p.Model), Messages: messages}
	resp, err := postJSON(ctx, p.Client, p.BaseURL+"/chat/completions", p.headers(), body, "openrouter")
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var decoded openRouterChatResp
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", err
	}
	if decoded.Error != nil && decoded.Error.Message != "" {
		return "", errors.New(decoded.Error.Message)
	}
	if len(decoded.Choices) == 0 {
		return "", errors.New("openrouter: empty response")
	}
	return decoded.Choices[0].Message.Content, nil
}

// StreamChat reads the SSE stream ("data: {...}" lines, ending with
// "data: [DONE]").
func (p *OpenRouterProvider) StreamChat(ctx context.Context, messages []Message) (<-chan string, <-chan error) {
	chunks := make(chan string, 16)
	errs := make(chan error, 1)

	go func() {
		defer close(chunks)
		defer close(errs)

		if err := p.validate(); err != nil {
			errs <- err
			return
		}

		body := openRouterChatReq{Model: strings.TrimSpace(p.Model), Messages: messages, Stream: true}
		resp, err := postJSON(ctx, p.Client, p.BaseURL+"/chat/completions", p.headers(), body, "openrouter")
		if err != nil {
			errs <- err
			return
		}
		defer resp.Body.Close()

		err = scanLines(resp.Body, func(line string) (bool, error) {
			if !strings.HasPrefix(line, "data:") {
				return false, nil
			}
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if data == "[DONE]" {
				return true, nil
			}
			var decoded openRouterChatResp
			if err := json.Unmarshal([]byte(data), &decoded); err != nil {
				return false, err
			}
			if decoded.Error != nil && decoded.Error.Message != "" {
				return false, errors.New(decoded.Error.Message)
			}
			if len(decoded.Choices) == 0 || decoded.Choices[0].Delta.Content == "" {
				return false, nil
			}
			if !send(ctx, chunks, decoded.Choices[0].Delta.Content) {
				return false, ctx.Err()
			}
			return false, nil
		})
		if err != nil {
			errs <- err
		}
	}()

	return chunks, errs
}
