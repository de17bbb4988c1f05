// Package hume talks to Hume's empathic voice interface: chat history over
// REST and live calls over a websocket.
package hume

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

const defaultPageSize = 100

type ChatEvent struct {
	ID              string  `json:"id"`
	ChatID          string  `json:"chat_id"`
	Timestamp       int64   `json:"timestamp"`
	Role            string  `json:"role"`
	Type            string  `json:"type"`
	MessageText     *string `json:"message_text"`
	EmotionFeatures *string `json:"emotion_features"`
}

type chatEventsPage struct {
	PageNumber int         `json:"page_number"`
	PageSize   int         `json:"page_size"`
	TotalPages int         `json:"total_pages"`
	EventsPage []ChatEvent `json:"events_page"`
}

type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("hume: status %d: %s", e.Status, e.Body)
}

type Client struct {
	baseURL  string
	apiKey   string
	pageSize int
	hc       *http.Client
}

func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		apiKey:   apiKey,
		pageSize: defaultPageSize,
		hc:       &http.Client{Timeout: 30 * time.Second},
	}
}

// ListChatEvents returns every event of a chat in the order Hume stores
// them, following pagination.
func (c *Client) ListChatEvents(ctx context.Context, chatID string) ([]ChatEvent, error) {
	var all []ChatEvent
	for page := 0; ; page++ {
		p, err := c.chatEventsPage(ctx, chatID, page)
		if err != nil {
			return nil, err
		}
		all = append(all, p.EventsPage...)
		if len(p.EventsPage) == 0 || page+1 >= p.TotalPages {
			return all, nil
		}
	}
}

func (c *Client) chatEventsPage(ctx context.Context, chatID string, page int) (*chatEventsPage, error) {
	q := url.Values{}
	q.Set("page_number", strconv.Itoa(page))
	q.Set("page_size", strconv.Itoa(c.pageSize))
	q.Set("ascending_order", "true")
	u := c.baseURL + "/v0/evi/chats/" + url.PathEscape(chatID) + "?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-Hume-Api-Key", c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("hume: list chat events: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &APIError{Status: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}

	var out chatEventsPage
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("hume: decode chat events: %w", err)
	}
	return &out, nil
}

// Transcript returns the chat's spoken messages condensed to one JSON
// object per line.
func (c *Client) Transcript(ctx context.Context, chatID string) (string, error) {
	events, err := c.ListChatEvents(ctx, chatID)
	if err != nil {
		return "", err
	}
	return CondenseTranscript(events), nil
}

type TranscriptLine struct {
	Speaker  string   `json:"speaker"`
	Text     string   `json:"text"`
	Emotions []string `json:"emotions,omitempty"`
}

const topEmotions = 3

// CondenseTranscript keeps user and agent messages, labels their speakers
// and keeps the strongest emotions of each candidate message.
func CondenseTranscript(events []ChatEvent) string {
	var b strings.Builder
	enc := json.NewEncoder(&b)
	for _, ev := range events {
		if ev.MessageText == nil || strings.TrimSpace(*ev.MessageText) == "" {
			continue
		}
		var line TranscriptLine
		switch ev.Type {
		case "USER_MESSAGE":
			line = TranscriptLine{Speaker: "interviewee", Text: *ev.MessageText, Emotions: strongest(ev.EmotionFeatures, topEmotions)}
		case "AGENT_MESSAGE":
			line = TranscriptLine{Speaker: "interviewer", Text: *ev.MessageText}
		default:
			continue
		}
		_ = enc.Encode(line)
	}
	return b.String()
}

func strongest(features *string, n int) []string {
	if features == nil || *features == "" {
		return nil
	}
	var scores map[string]float64
	if err := json.Unmarshal([]byte(*features), &scores); err != nil {
		return nil
	}
	names := make([]string, 0, len(scores))
	for k := range scores {
		names = append(names, k)
	}
	sort.Slice(names, func(i, j int) bool {
		if scores[names[i]] != scores[names[j]] {
			return scores[names[i]] > scores[names[j]]
		}
		return names[i] < names[j]
	})
	if len(names) > n {
		names = names[:n]
	}
	return names
}
