// Package apiclient calls the interview HTTP API on behalf of one user.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/suPer8Hu/ai-interview/internal/interview"
	"github.com/suPer8Hu/ai-interview/internal/question"
)

type Client struct {
	baseURL string
	token   string
	hc      *http.Client
}

func New(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		hc:      &http.Client{Timeout: 2 * time.Minute},
	}
}

type actionResponse struct {
	Error   bool   `json:"error"`
	Message string `json:"message"`
	ID      string `json:"id"`
}

func (c *Client) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, r)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

// action performs an interview action and turns {error:true} answers
// back into interview.ActionError values.
func (c *Client) action(ctx context.Context, method, path string, body any) (*actionResponse, error) {
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return nil, err
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	var out actionResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%s %s: status %d: decode: %w", method, path, resp.StatusCode, err)
	}
	if out.Error || resp.StatusCode/100 != 2 {
		kind, ok := interview.KindForStatus(resp.StatusCode)
		if !ok {
			return nil, fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, out.Message)
		}
		return nil, interview.Restore(kind, out.Message)
	}
	return &out, nil
}

func (c *Client) CreateInterview(ctx context.Context, jobInfoID string) (string, error) {
	out, err := c.action(ctx, http.MethodPost, "/interviews", map[string]string{"jobInfoId": jobInfoID})
	if err != nil {
		return "", err
	}
	return out.ID, nil
}

func (c *Client) UpdateInterview(ctx context.Context, id string, in interview.UpdateInterviewInput) error {
	_, err := c.action(ctx, http.MethodPatch, "/interviews/"+url.PathEscape(id), in)
	return err
}

func (c *Client) GenerateInterviewFeedback(ctx context.Context, id string) error {
	_, err := c.action(ctx, http.MethodPost, "/interviews/"+url.PathEscape(id)+"/feedback", nil)
	return err
}

// StatusError is a non-2xx answer from a plain-text endpoint.
type StatusError struct {
	Status  int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("status %d: %s", e.Status, e.Message)
}

// GenerateQuestion streams a question, calling onChunk for every piece of
// text as it arrives, and returns the full text and the stored question's
// id. The id is empty when the server did not send one.
func (c *Client) GenerateQuestion(ctx context.Context, jobInfoID string, difficulty question.Difficulty, onChunk func(string)) (string, string, error) {
	req, err := c.newRequest(ctx, http.MethodPost, "/generate-question", map[string]string{
		"prompt":    string(difficulty),
		"jobInfoId": jobInfoID,
	})
	if err != nil {
		return "", "", err
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return "", "", fmt.Errorf("generate question: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", "", &StatusError{Status: resp.StatusCode, Message: strings.TrimSpace(string(b))}
	}

	var body strings.Builder
	buf := make([]byte, 4096)
	for {
		n, err := resp.Body.Read(buf)
		if n > 0 {
			chunk := string(buf[:n])
			body.WriteString(chunk)
			if onChunk != nil {
				onChunk(chunk)
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", "", fmt.Errorf("generate question: read: %w", err)
		}
	}

	content, id, _ := question.SplitTrailer(body.String())
	return content, id, nil
}

func (c *Client) LatestQuestionID(ctx context.Context, jobInfoID string) (string, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/latest-question?jobInfoId="+url.QueryEscape(jobInfoID), nil)
	if err != nil {
		return "", err
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return "", fmt.Errorf("latest question: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", &StatusError{Status: resp.StatusCode, Message: strings.TrimSpace(string(b))}
	}
	var out struct {
		QuestionID string `json:"questionId"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("latest question: decode: %w", err)
	}
	return out.QuestionID, nil
}
