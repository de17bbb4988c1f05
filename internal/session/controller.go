// Package session drives one voice interview from the client side. A
// Controller owns the connection state machine and keeps the persisted
// Interview in step with the live call: it links the remote chat id once,
// syncs the duration periodically and flushes it when the call ends.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/suPer8Hu/ai-interview/internal/interview"
	"go.uber.org/zap"
)

const (
	DefaultConnectTimeout  = 30 * time.Second
	DefaultSyncInterval    = 10 * time.Second
	DefaultMaxSyncFailures = 3
	DefaultFlushTimeout    = 10 * time.Second
)

const (
	MsgConnectionTimeout = "Connection timeout. Please check your network and try again."
	MsgLinkFailed        = "Failed to link interview session. Please try again."
	MsgStartFailed       = "Failed to start interview. Please try again."
)

var (
	ErrConnectionTimeout = errors.New("session: connection timeout")
	ErrLinkFailed        = errors.New("session: chat link failed")
)

// JobContext describes the job the candidate is interviewing for.
type JobContext struct {
	ID              string
	Title           string
	Description     string
	ExperienceLevel string
}

type Options struct {
	Job      JobContext
	UserName string

	ConnectTimeout  time.Duration
	SyncInterval    time.Duration
	MaxSyncFailures int
	FlushTimeout    time.Duration
}

func (o Options) withDefaults() Options {
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = DefaultConnectTimeout
	}
	if o.SyncInterval <= 0 {
		o.SyncInterval = DefaultSyncInterval
	}
	if o.MaxSyncFailures <= 0 {
		o.MaxSyncFailures = DefaultMaxSyncFailures
	}
	if o.FlushTimeout <= 0 {
		o.FlushTimeout = DefaultFlushTimeout
	}
	return o
}

// Controller is driven by Start, by the transport through Sink, and by its
// own timers. All of them post events to a single loop goroutine (Run),
// which owns the mutable state below. Remote calls run off the loop and
// post their completion back.
type Controller struct {
	actions   Actions
	transport Transport
	nav       Navigator
	notify    Notifier
	log       *zap.Logger
	opts      Options

	events    chan func()
	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once

	// cancels remote calls on teardown
	ctx    context.Context
	cancel context.CancelFunc

	// readable from any goroutine
	interviewID  Cell[string]
	duration     Cell[string]
	readyState   Cell[ReadyState]
	establishing Cell[bool]
	err          Cell[error]
	navigated    Latch

	// loop only
	starting     bool
	state        ReadyState
	chatID       string
	linked       Latch
	timeout      *time.Timer
	timeoutSeq   int
	tickerStop   chan struct{}
	syncInFlight bool
	syncFailures int
	flushPending bool
	closed       bool
}

func New(actions Actions, transport Transport, nav Navigator, notify Notifier, log *zap.Logger, opts Options) *Controller {
	if log == nil {
		log = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Controller{
		actions:   actions,
		transport: transport,
		nav:       nav,
		notify:    notify,
		log:       log,
		opts:      opts.withDefaults(),
		events:    make(chan func(), 64),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Run processes events until ctx is done or Close is called, then tears
// the controller down.
func (c *Controller) Run(ctx context.Context) {
	defer close(c.done)
	defer c.teardown()
	for {
		select {
		case fn := <-c.events:
			fn()
		case <-c.stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Close stops the loop and waits for teardown. Late timer fires and call
// completions are dropped.
func (c *Controller) Close() {
	c.closeOnce.Do(func() { close(c.stop) })
	<-c.done
}

func (c *Controller) post(fn func()) {
	select {
	case c.events <- fn:
	case <-c.stop:
	case <-c.done:
	}
}

func (c *Controller) teardown() {
	c.disarmTimeout()
	c.stopSync()
	c.cancel()
}

func (c *Controller) InterviewID() string    { return c.interviewID.Load() }
func (c *Controller) Duration() string       { return c.duration.Load() }
func (c *Controller) ReadyState() ReadyState { return c.readyState.Load() }

// Establishing reports whether a start is in progress and the call is not
// open yet.
func (c *Controller) Establishing() bool { return c.establishing.Load() }

// Err returns why the session ended abnormally, if it did.
func (c *Controller) Err() error { return c.err.Load() }

// Start creates the interview and connects the call. Starts while one is
// in flight, or after the call has connected, are ignored.
func (c *Controller) Start() { c.post(c.handleStart) }

func (c *Controller) ReadyStateChanged(s ReadyState) { c.post(func() { c.handleReadyState(s) }) }
func (c *Controller) ChatMetadata(chatID string)     { c.post(func() { c.handleChatMetadata(chatID) }) }

// DurationChanged only refreshes the snapshot read by the sync tick.
func (c *Controller) DurationChanged(timestamp string) { c.duration.Store(timestamp) }

func (c *Controller) handleStart() {
	if c.starting || c.state != Idle {
		c.log.Debug("start ignored", zap.Bool("starting", c.starting), zap.Stringer("state", c.state))
		return
	}
	c.starting = true
	c.establishing.Store(true)

	jobID := c.opts.Job.ID
	go func() {
		id, err := c.actions.CreateInterview(c.ctx, jobID)
		c.post(func() { c.handleCreated(id, err) })
	}()
}

func (c *Controller) handleCreated(id string, err error) {
	if err != nil {
		c.log.Error("create interview failed", zap.Error(err))
		c.starting = false
		c.establishing.Store(false)
		c.notify.Error(interview.MessageOf(err))
		return
	}

	// the id is in place before the transport can report a chat id
	c.interviewID.Store(id)
	c.armTimeout()

	if err := c.transport.Connect(c.ctx, c.connectOptions()); err != nil {
		c.log.Error("connect failed", zap.String("interview_id", id), zap.Error(err))
		c.disarmTimeout()
		c.starting = false
		c.establishing.Store(false)
		c.notify.Error(MsgStartFailed)
		return
	}
	c.tryLink()
}

func (c *Controller) connectOptions() ConnectOptions {
	title := c.opts.Job.Title
	if title == "" {
		title = "Not Specified"
	}
	return ConnectOptions{Variables: map[string]string{
		"userName":        c.opts.UserName,
		"title":           title,
		"description":     c.opts.Job.Description,
		"experienceLevel": c.opts.Job.ExperienceLevel,
	}}
}

func (c *Controller) armTimeout() {
	c.disarmTimeout()
	seq := c.timeoutSeq
	c.timeout = time.AfterFunc(c.opts.ConnectTimeout, func() {
		c.post(func() { c.handleTimeout(seq) })
	})
}

func (c *Controller) disarmTimeout() {
	if c.timeout != nil {
		c.timeout.Stop()
		c.timeout = nil
	}
	// a fire already queued carries an old seq and is dropped
	c.timeoutSeq++
}

func (c *Controller) handleTimeout(seq int) {
	if seq != c.timeoutSeq || c.timeout == nil {
		return
	}
	c.timeout = nil
	if c.state == Open {
		return
	}

	c.log.Error("connection timeout", zap.String("interview_id", c.interviewID.Load()), zap.Duration("after", c.opts.ConnectTimeout))
	c.err.Store(ErrConnectionTimeout)
	c.starting = false
	c.establishing.Store(false)
	c.notify.Error(MsgConnectionTimeout)
	if c.transport.ReadyState() == Connecting {
		c.transport.Disconnect()
	}
	c.navigate(InterviewsPath(c.opts.Job.ID), false)
}

func (c *Controller) handleReadyState(s ReadyState) {
	if c.closed {
		return
	}
	c.state = s
	c.readyState.Store(s)

	switch s {
	case Open:
		c.disarmTimeout()
		c.starting = false
		c.establishing.Store(false)
		c.startSync()
	case Closed:
		c.closed = true
		c.handleClosed()
	}
}

func (c *Controller) handleChatMetadata(chatID string) {
	if chatID == "" {
		return
	}
	c.chatID = chatID
	c.tryLink()
}

func (c *Controller) tryLink() {
	id := c.interviewID.Load()
	if id == "" || c.chatID == "" {
		return
	}
	if !c.linked.TrySet() {
		return
	}

	chatID := c.chatID
	go func() {
		err := c.actions.UpdateInterview(c.ctx, id, interview.UpdateInterviewInput{HumeChatID: &chatID})
		c.post(func() { c.handleLinked(id, chatID, err) })
	}()
}

func (c *Controller) handleLinked(id, chatID string, err error) {
	if err == nil {
		c.log.Info("interview linked", zap.String("interview_id", id), zap.String("chat_id", chatID))
		return
	}
	c.log.Error("link chat id failed", zap.String("interview_id", id), zap.String("chat_id", chatID), zap.Error(err))
	c.linked.Reset()
	c.err.Store(ErrLinkFailed)
	c.notify.Error(MsgLinkFailed)
	c.transport.Disconnect()
}

func (c *Controller) startSync() {
	if c.tickerStop != nil {
		return
	}
	stop := make(chan struct{})
	c.tickerStop = stop
	t := time.NewTicker(c.opts.SyncInterval)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-t.C:
				c.post(c.handleSyncTick)
			case <-stop:
				return
			}
		}
	}()
}

func (c *Controller) stopSync() {
	if c.tickerStop != nil {
		close(c.tickerStop)
		c.tickerStop = nil
	}
}

func (c *Controller) handleSyncTick() {
	if c.tickerStop == nil || c.syncInFlight {
		return
	}
	id, d := c.interviewID.Load(), c.duration.Load()
	if id == "" || d == "" {
		return
	}

	c.syncInFlight = true
	go func() {
		err := c.actions.UpdateInterview(c.ctx, id, interview.UpdateInterviewInput{Duration: &d})
		c.post(func() { c.handleSynced(id, err) })
	}()
}

func (c *Controller) handleSynced(id string, err error) {
	c.syncInFlight = false
	if err == nil {
		c.syncFailures = 0
	} else if c.syncFailures < c.opts.MaxSyncFailures {
		c.syncFailures++
		c.log.Warn("duration sync failed",
			zap.String("interview_id", id),
			zap.Int("attempt", c.syncFailures),
			zap.Error(err),
		)
		if c.syncFailures == c.opts.MaxSyncFailures {
			c.log.Error("max duration sync attempts reached", zap.String("interview_id", id))
		}
	}

	if c.flushPending {
		c.flush()
	}
}

func (c *Controller) handleClosed() {
	c.disarmTimeout()
	c.stopSync()
	c.starting = false
	c.establishing.Store(false)

	if c.interviewID.Load() == "" {
		c.navigate(InterviewsPath(c.opts.Job.ID), false)
		return
	}
	c.flushPending = true
	if !c.syncInFlight {
		c.flush()
	}
}

// flush writes the last duration once and then leaves for the interview
// page whatever the write returned.
func (c *Controller) flush() {
	c.flushPending = false
	id, d := c.interviewID.Load(), c.duration.Load()
	path := InterviewPath(c.opts.Job.ID, id)

	go func() {
		if d != "" {
			ctx, cancel := context.WithTimeout(c.ctx, c.opts.FlushTimeout)
			err := c.actions.UpdateInterview(ctx, id, interview.UpdateInterviewInput{Duration: &d})
			cancel()
			if err != nil {
				c.log.Warn("final duration flush failed", zap.String("interview_id", id), zap.Error(err))
			}
		}
		c.navigate(path, true)
	}()
}

// navigate performs the controller's single terminal navigation.
func (c *Controller) navigate(path string, refresh bool) {
	if !c.navigated.TrySet() {
		return
	}
	if refresh {
		c.nav.Refresh()
	}
	c.nav.Push(path)
}
