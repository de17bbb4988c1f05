// Command call runs a mock interview from the terminal: it creates the
// interview through the API, holds the voice session open and links it,
// and prints where the interview ended up.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/suPer8Hu/ai-interview/internal/apiclient"
	"github.com/suPer8Hu/ai-interview/internal/config"
	"github.com/suPer8Hu/ai-interview/internal/hume"
	"github.com/suPer8Hu/ai-interview/internal/logging"
	"github.com/suPer8Hu/ai-interview/internal/question"
	"github.com/suPer8Hu/ai-interview/internal/session"
	"go.uber.org/zap"
)

type terminalNav struct {
	once sync.Once
	done chan struct{}
	path string
}

func (n *terminalNav) Push(path string) {
	n.once.Do(func() {
		n.path = path
		close(n.done)
	})
}

func (n *terminalNav) Refresh() {}

type terminalNotifier struct{}

func (terminalNotifier) Error(msg string) { fmt.Fprintln(os.Stderr, "error:", msg) }

var (
	apiURL     string
	token      string
	jobID      string
	title      string
	desc       string
	level      string
	userName   string
	difficulty string
)

func main() {
	cfg := config.Load()

	rootCmd := &cobra.Command{
		Use:          "call",
		Short:        "Hold a mock interview voice call",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCall(cmd.Context(), cfg)
		},
	}
	rootCmd.PersistentFlags().StringVar(&apiURL, "api", envOr("INTERVIEW_API_URL", "http://localhost"+cfg.HTTPAddr), "API base URL")
	rootCmd.PersistentFlags().StringVar(&token, "token", os.Getenv("INTERVIEW_TOKEN"), "bearer token")
	rootCmd.PersistentFlags().StringVar(&jobID, "job", "", "job info id")
	_ = rootCmd.MarkPersistentFlagRequired("job")
	rootCmd.Flags().StringVar(&title, "title", "", "job title")
	rootCmd.Flags().StringVar(&desc, "description", "", "job description")
	rootCmd.Flags().StringVar(&level, "level", "", "experience level")
	rootCmd.Flags().StringVar(&userName, "name", "", "your name")

	questionCmd := &cobra.Command{
		Use:   "question",
		Short: "Stream a generated interview question",
		RunE: func(cmd *cobra.Command, args []string) error {
			return askQuestion(cmd.Context(), apiclient.New(apiURL, token), jobID, question.Difficulty(difficulty))
		},
	}
	questionCmd.Flags().StringVarP(&difficulty, "difficulty", "d", string(question.Medium), "easy, medium or hard")
	rootCmd.AddCommand(questionCmd)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

func runCall(ctx context.Context, cfg config.Config) error {
	log, err := logging.New(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	client := apiclient.New(apiURL, token)
	tr := hume.NewTransport(cfg.HumeWSURL, cfg.HumeAPIKey, cfg.HumeConfigID, log)
	nav := &terminalNav{done: make(chan struct{})}
	ctrl := session.New(client, tr, nav, terminalNotifier{}, log, session.Options{
		Job: session.JobContext{
			ID:              jobID,
			Title:           title,
			Description:     desc,
			ExperienceLevel: level,
		},
		UserName: userName,
	})
	tr.SetSink(ctrl)
	tr.OnMessage(func(m hume.Message) {
		fmt.Printf("[%s] %s: %s\n", ctrl.Duration(), m.Role, m.Text)
	})

	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go ctrl.Run(runCtx)
	ctrl.Start()

	fmt.Println("connecting... type to talk, /end to finish")
	go readInput(tr, log)

	select {
	case <-nav.done:
	case <-ctx.Done():
		tr.Disconnect()
		select {
		case <-nav.done:
		case <-time.After(session.DefaultFlushTimeout + time.Second):
		}
	}
	ctrl.Close()

	select {
	case <-nav.done:
		fmt.Println("interview:", nav.path)
	default:
	}
	return ctrl.Err()
}

func readInput(tr *hume.Transport, log *zap.Logger) {
	sc := bufio.NewScanner(os.Stdin)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		switch line {
		case "":
			continue
		case "/end":
			tr.Disconnect()
			return
		}
		if err := tr.SendText(line); err != nil {
			log.Warn("send failed", zap.Error(err))
		}
	}
}

func askQuestion(ctx context.Context, client *apiclient.Client, jobID string, d question.Difficulty) error {
	_, id, err := client.GenerateQuestion(ctx, jobID, d, func(chunk string) {
		fmt.Print(chunk)
	})
	fmt.Println()
	if err != nil {
		return err
	}
	if id == "" {
		// the stream ended before the id arrived; ask for it directly
		if id, err = client.LatestQuestionID(ctx, jobID); err != nil {
			return err
		}
	}
	fmt.Println("question:", id)
	return nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
