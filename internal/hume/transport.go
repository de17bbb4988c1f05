package hume

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/suPer8Hu/ai-interview/internal/session"
	"go.uber.org/zap"
)

const (
	dialTimeout   = 15 * time.Second
	writeTimeout  = 5 * time.Second
	durationTick  = time.Second
	closeDeadline = 2 * time.Second
)

var ErrAlreadyConnected = errors.New("hume: transport already used")

// Message is a spoken or typed turn relayed by the voice agent.
type Message struct {
	Role string
	Text string
}

type serverFrame struct {
	Type    string          `json:"type"`
	ChatID  string          `json:"chat_id"`
	Message json.RawMessage `json:"message"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type errorFrame struct {
	Code    string `json:"code"`
	Slug    string `json:"slug"`
	Message string `json:"message"`
}

type sessionSettings struct {
	Type      string            `json:"type"`
	Variables map[string]string `json:"variables,omitempty"`
}

type userInput struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Transport is one live EVI call. It reports its progress to a
// session.Sink and is not reusable after it closes.
type Transport struct {
	wsURL    string
	apiKey   string
	configID string
	dialer   *websocket.Dialer
	log      *zap.Logger

	sink      session.Sink
	onMessage func(Message)

	state   atomic.Int32
	used    atomic.Bool
	writeMu sync.Mutex

	mu     sync.Mutex
	conn   *websocket.Conn
	cancel context.CancelFunc
	done   chan struct{}

	closeOnce sync.Once
}

func NewTransport(wsURL, apiKey, configID string, log *zap.Logger) *Transport {
	if log == nil {
		log = zap.NewNop()
	}
	return &Transport{
		wsURL:    wsURL,
		apiKey:   apiKey,
		configID: configID,
		dialer:   &websocket.Dialer{HandshakeTimeout: dialTimeout},
		log:      log,
		done:     make(chan struct{}),
	}
}

// SetSink must be called before Connect.
func (t *Transport) SetSink(s session.Sink) { t.sink = s }

// OnMessage registers a callback for conversation turns. It must be set
// before Connect.
func (t *Transport) OnMessage(fn func(Message)) { t.onMessage = fn }

func (t *Transport) ReadyState() session.ReadyState {
	return session.ReadyState(t.state.Load())
}

func (t *Transport) setState(s session.ReadyState) {
	t.state.Store(int32(s))
	if t.sink != nil {
		t.sink.ReadyStateChanged(s)
	}
}

func (t *Transport) endpoint() (string, error) {
	u, err := url.Parse(t.wsURL)
	if err != nil {
		return "", fmt.Errorf("hume: websocket url: %w", err)
	}
	if t.configID != "" {
		q := u.Query()
		q.Set("config_id", t.configID)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// Connect starts dialing and returns. Open and Closed are reported to the
// sink as they happen.
func (t *Transport) Connect(ctx context.Context, opts session.ConnectOptions) error {
	endpoint, err := t.endpoint()
	if err != nil {
		return err
	}
	if !t.used.CompareAndSwap(false, true) {
		return ErrAlreadyConnected
	}

	dctx, cancel := context.WithCancel(ctx)
	t.mu.Lock()
	t.cancel = cancel
	t.mu.Unlock()

	t.setState(session.Connecting)
	go t.run(dctx, endpoint, opts)
	return nil
}

func (t *Transport) run(ctx context.Context, endpoint string, opts session.ConnectOptions) {
	defer t.finish()

	headers := make(http.Header)
	headers.Set("X-Hume-Api-Key", t.apiKey)

	dctx, cancel := context.WithTimeout(ctx, dialTimeout)
	conn, resp, err := t.dialer.DialContext(dctx, endpoint, headers)
	cancel()
	if err != nil {
		if resp != nil {
			err = fmt.Errorf("websocket dial failed (status %d): %w", resp.StatusCode, err)
		}
		t.log.Error("hume dial failed", zap.Error(err))
		return
	}

	t.mu.Lock()
	if ctx.Err() != nil {
		t.mu.Unlock()
		_ = conn.Close()
		return
	}
	t.conn = conn
	t.mu.Unlock()

	if err := t.writeJSON(sessionSettings{Type: "session_settings", Variables: opts.Variables}); err != nil {
		t.log.Error("hume session settings failed", zap.Error(err))
		return
	}

	t.setState(session.Open)
	go t.clock(ctx)
	t.readLoop()
}

// clock reports the elapsed call time once a second.
func (t *Transport) clock(ctx context.Context) {
	start := time.Now()
	tk := time.NewTicker(durationTick)
	defer tk.Stop()
	for {
		select {
		case <-tk.C:
			if t.sink != nil {
				t.sink.DurationChanged(FormatDuration(time.Since(start)))
			}
		case <-ctx.Done():
			return
		case <-t.done:
			return
		}
	}
}

func (t *Transport) readLoop() {
	for {
		_, data, err := t.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) && t.ReadyState() == session.Open {
				t.log.Warn("hume connection lost", zap.Error(err))
			}
			return
		}

		var f serverFrame
		if err := json.Unmarshal(data, &f); err != nil {
			t.log.Warn("hume frame undecodable", zap.Error(err))
			continue
		}
		switch f.Type {
		case "chat_metadata":
			if t.sink != nil {
				t.sink.ChatMetadata(f.ChatID)
			}
		case "user_message", "assistant_message":
			var m chatMessage
			if t.onMessage != nil && json.Unmarshal(f.Message, &m) == nil {
				t.onMessage(Message{Role: m.Role, Text: m.Content})
			}
		case "error":
			var e errorFrame
			_ = json.Unmarshal(data, &e)
			t.log.Error("hume error", zap.String("code", e.Code), zap.String("slug", e.Slug), zap.String("message", e.Message))
		}
	}
}

// SendText sends a typed user turn.
func (t *Transport) SendText(text string) error {
	if t.ReadyState() != session.Open {
		return errors.New("hume: not connected")
	}
	return t.writeJSON(userInput{Type: "user_input", Text: text})
}

func (t *Transport) writeJSON(v any) error {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return errors.New("hume: not connected")
	}
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteJSON(v)
}

// Disconnect ends the call. Closed is reported once the connection is
// gone.
func (t *Transport) Disconnect() {
	t.mu.Lock()
	conn, cancel := t.conn, t.cancel
	t.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		t.writeMu.Lock()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(closeDeadline))
		t.writeMu.Unlock()
		_ = conn.Close()
	}
}

// Done is closed after the transport has reported Closed.
func (t *Transport) Done() <-chan struct{} { return t.done }

func (t *Transport) finish() {
	t.closeOnce.Do(func() {
		t.mu.Lock()
		if t.conn != nil {
			_ = t.conn.Close()
		}
		if t.cancel != nil {
			t.cancel()
		}
		t.mu.Unlock()
		t.setState(session.Closed)
		close(t.done)
	})
}

// FormatDuration renders d as HH:MM:SS.
func FormatDuration(d time.Duration) string {
	s := int64(d / time.Second)
	return fmt.Sprintf("%02d:%02d:%02d", s/3600, (s/60)%60, s%60)
}
