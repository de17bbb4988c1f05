package apiclient

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/suPer8Hu/ai-interview/internal/interview"
	"github.com/suPer8Hu/ai-interview/internal/question"
	"github.com/suPer8Hu/ai-interview/internal/session"
)

var _ session.Actions = (*Client)(nil)

func TestCreateAndUpdateInterview(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/interviews":
			var body map[string]string
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "job_1", body["jobInfoId"])
			_, _ = io.WriteString(w, `{"error":false,"id":"iv_1"}`)
		case r.Method == http.MethodPatch && r.URL.Path == "/interviews/iv_1":
			var in interview.UpdateInterviewInput
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&in))
			if in.Duration != nil && *in.Duration == "bad" {
				w.WriteHeader(http.StatusBadRequest)
				_, _ = io.WriteString(w, `{"error":true,"message":"Duration must be formatted as HH:MM:SS"}`)
				return
			}
			_, _ = io.WriteString(w, `{"error":false}`)
		default:
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = io.WriteString(w, `{"error":true,"message":"Woah! Slow down. Please try again later."}`)
		}
	}))
	defer srv.Close()

	c := New(srv.URL, "tok")
	ctx := context.Background()

	id, err := c.CreateInterview(ctx, "job_1")
	require.NoError(t, err)
	assert.Equal(t, "iv_1", id)

	chat := "chat_1"
	require.NoError(t, c.UpdateInterview(ctx, "iv_1", interview.UpdateInterviewInput{HumeChatID: &chat}))

	bad := "bad"
	err = c.UpdateInterview(ctx, "iv_1", interview.UpdateInterviewInput{Duration: &bad})
	kind, ok := interview.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, interview.InvalidInput, kind)

	err = c.GenerateInterviewFeedback(ctx, "iv_1")
	kind, _ = interview.KindOf(err)
	assert.Equal(t, interview.RateLimited, kind)
	assert.Equal(t, interview.MsgRateLimited, interview.MessageOf(err))
}

func TestGenerateQuestionAndLatest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/generate-question":
			f := w.(http.Flusher)
			_, _ = io.WriteString(w, "Design a ")
			f.Flush()
			_, _ = io.WriteString(w, "rate limiter."+question.Trailer("q_1"))
		case "/latest-question":
			if r.URL.Query().Get("jobInfoId") != "job_1" {
				http.Error(w, "No question found", http.StatusNotFound)
				return
			}
			_, _ = io.WriteString(w, `{"questionId":"q_1"}`)
		}
	}))
	defer srv.Close()

	c := New(srv.URL, "tok")
	ctx := context.Background()

	var streamed string
	content, id, err := c.GenerateQuestion(ctx, "job_1", question.Hard, func(s string) { streamed += s })
	require.NoError(t, err)
	assert.Equal(t, "Design a rate limiter.", content)
	assert.Equal(t, "q_1", id)
	assert.Contains(t, streamed, "Design a ")

	latest, err := c.LatestQuestionID(ctx, "job_1")
	require.NoError(t, err)
	assert.Equal(t, id, latest)

	_, err = c.LatestQuestionID(ctx, "job_2")
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusNotFound, se.Status)
}
