package ai

import "context"

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Provider produces a complete reply for a conversation.
type Provider interface {
	Chat(ctx context.Context, messages []Message) (string, error)
}

// StreamProvider is optional. The returned channels are both closed when
// the stream ends; at most one error is sent.
type StreamProvider interface {
	StreamChat(ctx context.Context, messages []Message) (<-chan string, <-chan error)
}

// Stream streams from p when it supports streaming and otherwise delivers
// the whole Chat reply as one chunk.
func Stream(ctx context.Context, p Provider, messages []Message) (<-chan string, <-chan error) {
	if sp, ok := p.(StreamProvider); ok {
		return sp.StreamChat(ctx, messages)
	}

	chunks := make(chan string, 1)
	errs := make(chan error, 1)
	go func() {
		defer close(chunks)
		defer close(errs)
		reply, err := p.Chat(ctx, messages)
		if err != nil {
			errs <- err
			return
		}
		if reply != "" {
			chunks <- reply
		}
	}()
	return chunks, errs
}
