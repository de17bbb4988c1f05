package question

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/suPer8Hu/ai-interview/internal/ai"
	"github.com/suPer8Hu/ai-interview/internal/jobinfo"
	"github.com/suPer8Hu/ai-interview/internal/quota"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	ErrInvalidRequest = errors.New("question: invalid request")
	ErrQuotaExceeded  = errors.New("question: quota exceeded")
	ErrForbidden      = errors.New("question: job info not owned")
	ErrNotFound       = errors.New("question: not found")
)

const persistTimeout = 10 * time.Second

type Service struct {
	repo     *Repo
	jobs     *jobinfo.Repo
	quota    quota.Checker
	provider ai.Provider
	log      *zap.Logger
}

func NewService(repo *Repo, jobs *jobinfo.Repo, q quota.Checker, provider ai.Provider, log *zap.Logger) *Service {
	if q == nil {
		q = quota.Unlimited{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{repo: repo, jobs: jobs, quota: q, provider: provider, log: log}
}

// Generation is a question being streamed. Chunks closes when the model
// is done. Err then yields at most one error and closes. QuestionID yields
// the stored question's id once it is persisted; it closes without a value
// when nothing was stored.
type Generation struct {
	Chunks     <-chan string
	Err        <-chan error
	QuestionID <-chan string
}

// Generate checks the caller may generate for jobInfoID and starts
// streaming a new question of the given difficulty.
func (s *Service) Generate(ctx context.Context, userID, jobInfoID string, difficulty Difficulty) (*Generation, error) {
	if jobInfoID == "" || !difficulty.Valid() {
		return nil, ErrInvalidRequest
	}

	allowed, err := s.quota.CanCreateQuestion(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("check quota: %w", err)
	}
	if !allowed {
		return nil, ErrQuotaExceeded
	}

	job, err := s.jobs.GetOwned(ctx, jobInfoID, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrForbidden
		}
		return nil, fmt.Errorf("load job info: %w", err)
	}

	previous, err := s.repo.ListByJobInfo(ctx, jobInfoID)
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}

	chunks := make(chan string, 16)
	errs := make(chan error, 1)
	ids := make(chan string, 1)

	go func() {
		defer close(ids)

		text, err := s.stream(ctx, buildMessages(job, previous, difficulty), chunks)
		close(chunks)
		if err != nil {
			errs <- err
			close(errs)
			return
		}
		close(errs)

		text = strings.TrimSpace(text)
		if text == "" {
			s.log.Warn("empty question generated", zap.String("job_info_id", jobInfoID))
			return
		}

		// the caller may have gone away; the question is still stored
		pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
		defer cancel()
		q := &Question{JobInfoID: jobInfoID, Difficulty: difficulty, Text: text}
		if err := s.repo.Insert(pctx, q); err != nil {
			s.log.Error("question save failed", zap.String("job_info_id", jobInfoID), zap.Error(err))
			return
		}
		ids <- q.ID
	}()

	return &Generation{Chunks: chunks, Err: errs, QuestionID: ids}, nil
}

func (s *Service) stream(ctx context.Context, msgs []ai.Message, out chan<- string) (string, error) {
	if s.provider == nil {
		return "", errors.New("question: no provider configured")
	}
	in, errs := ai.Stream(ctx, s.provider, msgs)

	var b strings.Builder
	for in != nil || errs != nil {
		select {
		case chunk, ok := <-in:
			if !ok {
				in = nil
				continue
			}
			b.WriteString(chunk)
			select {
			case out <- chunk:
			case <-ctx.Done():
				// caller gone; the provider stops on the same context
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			if err != nil {
				return b.String(), err
			}
		}
	}
	return b.String(), nil
}

// LatestID returns the id of the newest question for one of the
// caller's job infos.
func (s *Service) LatestID(ctx context.Context, userID, jobInfoID string) (string, error) {
	if _, err := s.jobs.GetOwned(ctx, jobInfoID, userID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("load job info: %w", err)
	}
	q, err := s.repo.Latest(ctx, jobInfoID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", ErrNotFound
		}
		return "", err
	}
	return q.ID, nil
}

func buildMessages(job *jobinfo.JobInfo, previous []Question, difficulty Difficulty) []ai.Message {
	msgs := make([]ai.Message, 0, 2*len(previous)+2)
	msgs = append(msgs, ai.Message{Role: ai.RoleSystem, Content: systemPrompt(job)})
	for _, q := range previous {
		msgs = append(msgs,
			ai.Message{Role: ai.RoleUser, Content: string(q.Difficulty)},
			ai.Message{Role: ai.RoleAssistant, Content: q.Text},
		)
	}
	return append(msgs, ai.Message{Role: ai.RoleUser, Content: string(difficulty)})
}

func systemPrompt(job *jobinfo.JobInfo) string {
	var b strings.Builder
	b.WriteString("You are an AI assistant that writes technical interview questions for the job below.\n\n")
	b.WriteString("Job title: ")
	b.WriteString(job.DisplayTitle())
	b.WriteString("\nExperience level: ")
	b.WriteString(string(job.ExperienceLevel))
	b.WriteString("\nJob description:\n")
	b.WriteString(job.Description)
	b.WriteString("\n\nEach user message is a difficulty: easy, medium or hard. Reply with exactly one new question ")
	b.WriteString("of that difficulty that tests skills relevant to the job. Do not repeat earlier questions. ")
	b.WriteString("Return only the question in markdown, without the answer or any preamble.")
	return b.String()
}
