package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/loqalabs/loqa-bridge/internal/audio"
	"github.com/loqalabs/loqa-bridge/internal/realtime"
)

// MinCycleDelay bounds the pause after each silence cycle from below.
const MinCycleDelay = 20 * time.Millisecond

// ErrInvalidTransition is returned when an operation does not fit the current state.
var ErrInvalidTransition = errors.New("invalid session state transition")

// Client is the transport a Controller drives; *realtime.Client satisfies it.
type Client interface {
	Connect(ctx context.Context) error
	UpdateSession(opts realtime.SessionOptions) error
	AppendAudio(encoded string) error
	AppendText(text string) error
	Finish() error
	Close() error
}

// Dialer creates an unconnected client for model that reports to cb.
type Dialer func(model string, cb realtime.Callback) Client

// DrainConfig tunes the end of a session.
type DrainConfig struct {
	// SilenceCycles of SilenceChunk are sent by recognition sessions before waiting.
	SilenceCycles int
	SilenceChunk  []byte
	// CycleDelay follows every silence cycle.
	CycleDelay time.Duration
	// Grace bounds the wait for the terminal event.
	Grace time.Duration
}

// CycleDelay is max(MinCycleDelay, chunkMS).
func CycleDelay(chunkMS int) time.Duration {
	d := time.Duration(chunkMS) * time.Millisecond
	if d < MinCycleDelay {
		return MinCycleDelay
	}
	return d
}

// Options configures a Controller.
type Options struct {
	Direction Direction
	Model     string
	// Terminal is fired by the terminal-event handler.
	Terminal *Signal
	// Closed is fired when the connection reports closure; it ends the grace wait early.
	Closed *Signal
	Drain  DrainConfig
	Logger *slog.Logger
}

// Controller owns the lifecycle of one session:
// Created → Connected → Configured → Streaming → Draining → Finished | TimedOut.
// Close may be called in any state and runs once.
type Controller struct {
	id     string
	opts   Options
	client Client
	logger *slog.Logger
	sleep  func(context.Context, time.Duration) error

	mu    sync.Mutex
	state State

	closeOnce sync.Once
	closeErr  error
}

func NewController(client Client, opts Options) *Controller {
	if opts.Terminal == nil {
		opts.Terminal = NewSignal()
	}
	if opts.Closed == nil {
		opts.Closed = NewSignal()
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	id := uuid.NewString()
	return &Controller{
		id:     id,
		opts:   opts,
		client: client,
		logger: opts.Logger.With(slog.String("component", "session"), slog.String("session_id", id), slog.String("direction", string(opts.Direction))),
		sleep:  audio.Sleep,
		state:  StateCreated,
	}
}

func (c *Controller) ID() string { return c.id }

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) transition(to State, from ...State) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, allowed := range from {
		if c.state == allowed {
			c.state = to
			return nil
		}
	}
	return fmt.Errorf("%w: %s → %s", ErrInvalidTransition, c.state, to)
}

func (c *Controller) requireState(want State) error {
	if got := c.State(); got != want {
		return fmt.Errorf("%w: operation needs %s, session is %s", ErrInvalidTransition, want, got)
	}
	return nil
}

// Connect opens the transport.
func (c *Controller) Connect(ctx context.Context) error {
	if err := c.requireState(StateCreated); err != nil {
		return err
	}
	if err := c.client.Connect(ctx); err != nil {
		return err
	}
	return c.transition(StateConnected, StateCreated)
}

// Configure sends the session parameters.
func (c *Controller) Configure(opts realtime.SessionOptions) error {
	if err := c.requireState(StateConnected); err != nil {
		return err
	}
	if err := c.client.UpdateSession(opts); err != nil {
		return err
	}
	return c.transition(StateConfigured, StateConnected)
}

// Stream marks the session ready for appends.
func (c *Controller) Stream() error {
	return c.transition(StateStreaming, StateConfigured)
}

// AppendAudio submits one encoded chunk.
func (c *Controller) AppendAudio(encoded string) error {
	if err := c.requireState(StateStreaming); err != nil {
		return err
	}
	if err := c.client.AppendAudio(encoded); err != nil {
		return err
	}
	recordChunk(c.opts.Direction)
	return nil
}

// AppendText submits one text chunk.
func (c *Controller) AppendText(text string) error {
	if err := c.requireState(StateStreaming); err != nil {
		return err
	}
	if err := c.client.AppendText(text); err != nil {
		return err
	}
	recordChunk(c.opts.Direction)
	return nil
}

// Drain ends the input side, waits at most the grace period for the terminal event
// and closes the client. Errors while draining are logged and absorbed; the returned
// state is Finished or TimedOut.
func (c *Controller) Drain(ctx context.Context) State {
	if err := c.transition(StateDraining, StateStreaming); err != nil {
		c.logger.Debug("drain skipped", slog.String("error", err.Error()))
		c.Close()
		return c.State()
	}
	defer c.Close()

	switch c.opts.Direction {
	case Recognition:
		c.padWithSilence(ctx)
	case Synthesis:
		if err := c.client.Finish(); err != nil {
			c.logger.Debug("finish failed", slog.String("error", err.Error()))
		}
	}

	final := c.await(ctx)
	c.mu.Lock()
	c.state = final
	c.mu.Unlock()
	recordOutcome(c.opts.Direction, final)
	c.logger.Debug("session drained", slog.String("state", final.String()))
	return final
}

func (c *Controller) padWithSilence(ctx context.Context) {
	if c.opts.Drain.SilenceCycles <= 0 || len(c.opts.Drain.SilenceChunk) == 0 {
		return
	}
	encoded := audio.Encode(c.opts.Drain.SilenceChunk)
	delay := max(c.opts.Drain.CycleDelay, MinCycleDelay)
	for i := 0; i < c.opts.Drain.SilenceCycles; i++ {
		if c.opts.Closed.Fired() {
			return
		}
		if err := c.client.AppendAudio(encoded); err != nil {
			c.logger.Debug("silence append failed", slog.Int("cycle", i), slog.String("error", err.Error()))
			return
		}
		if err := c.sleep(ctx, delay); err != nil {
			return
		}
	}
}

func (c *Controller) await(ctx context.Context) State {
	if c.opts.Terminal.Fired() {
		return StateFinished
	}
	timer := time.NewTimer(c.opts.Drain.Grace)
	defer timer.Stop()
	select {
	case <-c.opts.Terminal.Done():
		return StateFinished
	case <-c.opts.Closed.Done():
	case <-timer.C:
	case <-ctx.Done():
	}
	if c.opts.Terminal.Fired() {
		return StateFinished
	}
	return StateTimedOut
}

// Close releases the client exactly once.
func (c *Controller) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.client.Close()
		if c.closeErr != nil {
			c.logger.Debug("close failed", slog.String("error", c.closeErr.Error()))
		}
	})
	return c.closeErr
}
