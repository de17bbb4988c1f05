package session

import (
	"context"

	"github.com/suPer8Hu/ai-interview/internal/interview"
)

// Actions is the server side the controller writes through.
type Actions interface {
	CreateInterview(ctx context.Context, jobInfoID string) (string, error)
	UpdateInterview(ctx context.Context, id string, in interview.UpdateInterviewInput) error
}

// Sink receives events from the voice transport. Controller implements it.
type Sink interface {
	ReadyStateChanged(s ReadyState)
	ChatMetadata(chatID string)
	DurationChanged(timestamp string)
}

type ConnectOptions struct {
	// Variables are handed to the voice agent as session settings.
	Variables map[string]string
}

// Transport is the real-time voice connection. Connect starts connecting
// and returns; progress is reported to the Sink.
type Transport interface {
	Connect(ctx context.Context, opts ConnectOptions) error
	Disconnect()
	ReadyState() ReadyState
}

type Navigator interface {
	Push(path string)
	Refresh()
}

type Notifier interface {
	Error(message string)
}

func InterviewsPath(jobInfoID string) string {
	return "/app/job-infos/" + jobInfoID + "/interviews"
}

func InterviewPath(jobInfoID, interviewID string) string {
	return InterviewsPath(jobInfoID) + "/" + interviewID
}
