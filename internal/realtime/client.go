// Package realtime is a thin JSON-over-websocket client for the DashScope realtime API.
package realtime

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	DefaultDialTimeout      = 10 * time.Second
	DefaultWriteWait        = 10 * time.Second
	DefaultMaxMessageSize   = 16 * 1024 * 1024
	DefaultCloseGracePeriod = 2 * time.Second
)

// Callback receives connection notifications. All methods run on the client's
// reader goroutine, in arrival order.
type Callback interface {
	OnOpen()
	OnEvent(Event)
	OnClose(code int, reason string)
}

// Config configures a Client.
type Config struct {
	URL              string
	Model            string
	APIKey           string
	Headers          http.Header
	DialTimeout      time.Duration
	WriteWait        time.Duration
	CloseGracePeriod time.Duration
	MaxMessageSize   int64
	Logger           *slog.Logger
}

func (c *Config) defaults() {
	if c.DialTimeout <= 0 {
		c.DialTimeout = DefaultDialTimeout
	}
	if c.WriteWait <= 0 {
		c.WriteWait = DefaultWriteWait
	}
	if c.CloseGracePeriod <= 0 {
		c.CloseGracePeriod = DefaultCloseGracePeriod
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = DefaultMaxMessageSize
	}
	if c.Logger == nil {
		c.Logger = slog.New(slog.DiscardHandler)
	}
}

// ConnectionError reports a failure to reach or talk to the service.
type ConnectionError struct {
	Op  string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("realtime %s: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// ErrClosed is returned by sends after Close.
var ErrClosed = errors.New("realtime connection closed")

// Client owns one websocket session. It is single use.
type Client struct {
	cfg    Config
	cb     Callback
	logger *slog.Logger

	mu      sync.Mutex
	writeMu sync.Mutex
	conn    *websocket.Conn
	closed  bool
	done    chan struct{}

	closeOnce sync.Once
	closeErr  error
}

func NewClient(cfg Config, cb Callback) *Client {
	cfg.defaults()
	return &Client{
		cfg:    cfg,
		cb:     cb,
		logger: cfg.Logger.With(slog.String("component", "realtime"), slog.String("model", cfg.Model)),
		done:   make(chan struct{}),
	}
}

// endpoint is the websocket URL including the model query parameter.
func (c *Client) endpoint() (string, error) {
	u, err := url.Parse(c.cfg.URL)
	if err != nil {
		return "", err
	}
	if c.cfg.Model != "" {
		q := u.Query()
		q.Set("model", c.cfg.Model)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// Connect dials the service and starts the reader goroutine.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return &ConnectionError{Op: "connect", Err: ErrClosed}
	}
	if c.conn != nil {
		return nil
	}

	endpoint, err := c.endpoint()
	if err != nil {
		return &ConnectionError{Op: "connect", Err: err}
	}
	headers := http.Header{}
	for k, v := range c.cfg.Headers {
		headers[k] = append([]string(nil), v...)
	}
	if c.cfg.APIKey != "" {
		headers.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: c.cfg.DialTimeout,
		TLSClientConfig:  &tls.Config{MinVersion: tls.VersionTLS12},
		Proxy:            http.ProxyFromEnvironment,
	}
	conn, resp, err := dialer.DialContext(ctx, endpoint, headers)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			return &ConnectionError{Op: "connect", Err: fmt.Errorf("%w (status %d)", err, resp.StatusCode)}
		}
		return &ConnectionError{Op: "connect", Err: err}
	}
	conn.SetReadLimit(c.cfg.MaxMessageSize)
	c.conn = conn
	c.logger.Debug("realtime connected")

	go c.readLoop(conn)
	return nil
}

func (c *Client) readLoop(conn *websocket.Conn) {
	defer close(c.done)
	c.cb.OnOpen()
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			code, reason := c.closeDetails(err)
			c.logger.Debug("realtime reader stopped", slog.Int("code", code), slog.String("reason", reason))
			c.cb.OnClose(code, reason)
			return
		}
		if msgType != websocket.TextMessage && msgType != websocket.BinaryMessage {
			continue
		}
		evt, err := DecodeEvent(data)
		if err != nil {
			c.logger.Debug("dropping undecodable message", slog.String("error", err.Error()))
			continue
		}
		c.cb.OnEvent(evt)
	}
}

func (c *Client) closeDetails(err error) (int, string) {
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		return closeErr.Code, closeErr.Text
	}
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return websocket.CloseNormalClosure, "closed by client"
	}
	return websocket.CloseAbnormalClosure, err.Error()
}

// UpdateSession sends session.update with the given options.
func (c *Client) UpdateSession(opts SessionOptions) error {
	return c.send(sessionUpdateEvent{clientEvent: c.event(EventSessionUpdate), Session: opts.config()})
}

// AppendAudio appends one base64-encoded PCM chunk to the input buffer.
func (c *Client) AppendAudio(encoded string) error {
	return c.send(audioAppendEvent{clientEvent: c.event(EventAudioAppend), Audio: encoded})
}

// AppendText appends one text chunk for synthesis.
func (c *Client) AppendText(text string) error {
	return c.send(textAppendEvent{clientEvent: c.event(EventTextAppend), Text: text})
}

// Finish asks the service to flush pending output and end the session.
func (c *Client) Finish() error {
	return c.send(c.event(EventSessionFinish))
}

func (c *Client) event(typ string) clientEvent {
	return clientEvent{EventID: "event_" + uuid.NewString(), Type: typ}
}

func (c *Client) send(msg any) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal client event: %w", err)
	}

	c.mu.Lock()
	if c.closed || c.conn == nil {
		c.mu.Unlock()
		return &ConnectionError{Op: "send", Err: ErrClosed}
	}
	conn := c.conn
	c.mu.Unlock()

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait)); err != nil {
		return &ConnectionError{Op: "send", Err: err}
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return &ConnectionError{Op: "send", Err: err}
	}
	return nil
}

// Close sends a close frame, waits briefly for the reader to finish and releases the
// connection. Repeated calls return the first result.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		conn := c.conn
		c.mu.Unlock()
		if conn == nil {
			return
		}

		c.writeMu.Lock()
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = conn.SetWriteDeadline(time.Now().Add(c.cfg.CloseGracePeriod))
		_ = conn.WriteMessage(websocket.CloseMessage, msg)
		c.writeMu.Unlock()

		timer := time.NewTimer(c.cfg.CloseGracePeriod)
		defer timer.Stop()
		select {
		case <-c.done:
		case <-timer.C:
		}
		c.closeErr = conn.Close()
		if errors.Is(c.closeErr, net.ErrClosed) {
			c.closeErr = nil
		}
		select {
		case <-c.done:
		case <-time.After(c.cfg.CloseGracePeriod):
			c.logger.Warn("realtime reader did not stop after close")
		}
	})
	return c.closeErr
}
