package hume

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func str(s string) *string { return &s }

func TestListChatEvents_FollowsPagination(t *testing.T) {
	var (
		mu    sync.Mutex
		pages []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v0/evi/chats/chat_1", r.URL.Path)
		assert.Equal(t, "secret", r.Header.Get("X-Hume-Api-Key"))
		assert.Equal(t, "2", r.URL.Query().Get("page_size"))

		page, _ := strconv.Atoi(r.URL.Query().Get("page_number"))
		mu.Lock()
		pages = append(pages, r.URL.Query().Get("page_number"))
		mu.Unlock()
		events := []ChatEvent{
			{ID: "e" + strconv.Itoa(page*2), Type: "AGENT_MESSAGE", MessageText: str("q")},
			{ID: "e" + strconv.Itoa(page*2+1), Type: "USER_MESSAGE", MessageText: str("a")},
		}
		if page == 2 {
			events = events[:1]
		}
		_ = json.NewEncoder(w).Encode(chatEventsPage{PageNumber: page, PageSize: 2, TotalPages: 3, EventsPage: events})
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/", "secret")
	c.pageSize = 2

	events, err := c.ListChatEvents(context.Background(), "chat_1")
	require.NoError(t, err)
	mu.Lock()
	assert.Equal(t, []string{"0", "1", "2"}, pages)
	mu.Unlock()
	require.Len(t, events, 5)
	assert.Equal(t, "e4", events[4].ID)
}

func TestListChatEvents_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "invalid api key", http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, "bad").Transcript(context.Background(), "chat_1")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)
	assert.Contains(t, apiErr.Body, "invalid api key")
}

func TestCondenseTranscript(t *testing.T) {
	events := []ChatEvent{
		{Type: "SYSTEM_PROMPT", MessageText: str("be nice")},
		{Type: "AGENT_MESSAGE", MessageText: str("Tell me about yourself.")},
		{Type: "USER_MESSAGE", MessageText: str("I build backends."),
			EmotionFeatures: str(`{"Calmness":0.4,"Joy":0.2,"Anxiety":0.7,"Interest":0.5}`)},
		{Type: "USER_MESSAGE", MessageText: str("  ")},
		{Type: "CHAT_END_MESSAGE"},
	}

	lines := strings.Split(strings.TrimSpace(CondenseTranscript(events)), "\n")
	require.Len(t, lines, 2)

	var first, second TranscriptLine
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &second))
	assert.Equal(t, TranscriptLine{Speaker: "interviewer", Text: "Tell me about yourself."}, first)
	assert.Equal(t, "interviewee", second.Speaker)
	assert.Equal(t, []string{"Anxiety", "Interest", "Calmness"}, second.Emotions)
}
