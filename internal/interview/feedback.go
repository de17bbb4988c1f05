package interview

import (
	"context"
	"fmt"
	"strings"

	"github.com/suPer8Hu/ai-interview/internal/ai"
	"github.com/suPer8Hu/ai-interview/internal/jobinfo"
)

// TranscriptSource returns the condensed transcript of a finished voice call.
type TranscriptSource interface {
	Transcript(ctx context.Context, chatID string) (string, error)
}

type FeedbackRequest struct {
	Transcript string
	JobInfo    jobinfo.JobInfo
	UserName   string
}

// FeedbackGenerator writes the post-interview report. An empty result
// means nothing usable was produced.
type FeedbackGenerator interface {
	Feedback(ctx context.Context, req FeedbackRequest) (string, error)
}

// AIFeedback generates feedback with a chat model.
type AIFeedback struct {
	Provider ai.Provider
}

func (g AIFeedback) Feedback(ctx context.Context, req FeedbackRequest) (string, error) {
	if g.Provider == nil {
		return "", fmt.Errorf("feedback: no provider configured")
	}
	reply, err := g.Provider.Chat(ctx, []ai.Message{
		{Role: ai.RoleSystem, Content: feedbackSystemPrompt(req)},
		{Role: ai.RoleUser, Content: req.Transcript},
	})
	if err != nil {
		return "", fmt.Errorf("feedback: %w", err)
	}
	return strings.TrimSpace(reply), nil
}

func feedbackSystemPrompt(req FeedbackRequest) string {
	var b strings.Builder
	b.WriteString("You are an expert interview coach. You will receive the transcript of a mock job interview ")
	b.WriteString("between an AI interviewer and a candidate named ")
	b.WriteString(req.UserName)
	b.WriteString(".\n\n")
	b.WriteString("Job description:\n")
	b.WriteString(req.JobInfo.Description)
	b.WriteString("\n\nJob title: ")
	b.WriteString(req.JobInfo.DisplayTitle())
	b.WriteString("\nExperience level: ")
	b.WriteString(string(req.JobInfo.ExperienceLevel))
	b.WriteString("\n\n")
	b.WriteString("Each transcript line is a JSON object with the speaker, the text, and for the candidate ")
	b.WriteString("the strongest detected emotions. Grade the candidate from 1 to 10 on communication clarity, ")
	b.WriteString("confidence and emotional state, response quality, pacing and timing, engagement, ")
	b.WriteString("and role fit. For each category give the score, what went well, and concrete improvements, ")
	b.WriteString("quoting the transcript where helpful. Finish with an overall rating and a short summary. ")
	b.WriteString("Address the candidate directly as \"you\". Respond in markdown.")
	return b.String()
}
