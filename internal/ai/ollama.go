package ai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"
)

type OllamaProvider struct {
	BaseURL string
	Model   string
	Client  *http.Client
}

func NewOllamaProvider(baseURL, model string) *OllamaProvider {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if model == "" {
		model = "llama3:latest"
	}
	// no client timeout: generation length varies, ctx bounds the call
	return &OllamaProvider{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Model:   model,
		Client:  &http.Client{Transport: http.DefaultTransport},
	}
}

type ollamaChatReq struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
	Stream   bool      `json:"stream"`
}

type ollamaChatResp struct {
	Message Message `json:"message"`
	Done    bool    `json:"done"`
	Error   string  `json:"error,omitempty"`
}

func (p *OllamaProvider) request(stream bool, messages []Message) ollamaChatReq {
	return ollamaChatReq{Model: p.Model, Stream: stream, Messages: messages}
}

func (p *OllamaProvider) Chat(ctx context.Context, messages []Message) (string, error) {
	if p.Client == nil {
		return "", errors.New("ollama: http client is nil")
	}
	ctx, cancel := context.WithTimeout(ctx, 90*time.Second)
	defer cancel()

	resp, err := postJSON(ctx, p.Client, p.BaseURL+"/api/chat", nil, p.request(false, messages), "ollama")
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var decoded ollamaChatResp
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", err
	}
	if decoded.Error != "" {
		return "", errors.New(decoded.Error)
	}
	return decoded.Message.Content, nil
}

// StreamChat reads Ollama's NDJSON stream.
func (p *OllamaProvider) StreamChat(ctx context.Context, messages []Message) (<-chan string, <-chan error) {
	chunks := make(chan string, 16)
	errs := make(chan error, 1)

	go func() {
		defer close(chunks)
		defer close(errs)

		if p.Client == nil {
			errs <- errors.New("ollama: http client is nil")
			return
		}

		resp, err := postJSON(ctx, p.Client, p.BaseURL+"/api/chat", nil, p.request(true, messages), "ollama")
		if err != nil {
			errs <- err
			return
		}
		defer resp.Body.Close()

		err = scanLines(resp.Body, func(line string) (bool, error) {
			var decoded ollamaChatResp
			if err := json.Unmarshal([]byte(line), &decoded); err != nil {
				return false, err
			}
			if decoded.Error != "" {
				return false, errors.New(decoded.Error)
			}
			if decoded.Message.Content != "" && !send(ctx, chunks, decoded.Message.Content) {
				return false, ctx.Err()
			}
			return decoded.Done, nil
		})
		if err != nil {
			errs <- err
		}
	}()

	return chunks, errs
}
