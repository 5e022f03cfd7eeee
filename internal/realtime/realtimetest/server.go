// Package realtimetest provides a scripted realtime endpoint for tests.
package realtimetest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Message is one client event as seen by the server.
type Message struct {
	Type   string
	Fields map[string]any
}

// String returns a string field of the message.
func (m Message) String(key string) string {
	value, _ := m.Fields[key].(string)
	return value
}

// Server accepts websocket sessions and runs Handler for each of them.
type Server struct {
	*httptest.Server

	mu       sync.Mutex
	messages []Message
	header   http.Header
	query    string
	handler  func(*Session)
}

// Session is the server side of one connection.
type Session struct {
	conn   *websocket.Conn
	server *Server
}

// NewServer starts a server; handler returns when the session should end.
func NewServer(handler func(*Session)) *Server {
	s := &Server{handler: handler}
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		s.mu.Lock()
		s.header = r.Header.Clone()
		s.query = r.URL.RawQuery
		s.mu.Unlock()

		s.handler(&Session{conn: conn, server: s})
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	}))
	return s
}

// WSURL is the websocket form of the server URL.
func (s *Server) WSURL() string {
	return "ws" + strings.TrimPrefix(s.Server.URL, "http")
}

// Messages returns every client event received so far.
func (s *Server) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Message(nil), s.messages...)
}

// Types lists the received event types in order.
func (s *Server) Types() []string {
	var types []string
	for _, m := range s.Messages() {
		types = append(types, m.Type)
	}
	return types
}

// Header is the handshake header of the last session.
func (s *Server) Header() http.Header {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.header
}

// RawQuery is the handshake query string of the last session.
func (s *Server) RawQuery() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.query
}

// Receive blocks for the next client event. Close frames surface as errors.
func (s *Session) Receive() (Message, error) {
	_, data, err := s.conn.ReadMessage()
	if err != nil {
		return Message{}, err
	}
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		return Message{}, err
	}
	typ, _ := fields["type"].(string)
	msg := Message{Type: typ, Fields: fields}
	s.server.mu.Lock()
	s.server.messages = append(s.server.messages, msg)
	s.server.mu.Unlock()
	return msg, nil
}

// Send writes one server event.
func (s *Session) Send(typ string, fields map[string]any) error {
	payload := map[string]any{"type": typ}
	for k, v := range fields {
		payload[k] = v
	}
	return s.conn.WriteJSON(payload)
}

// Drain reads client events until the client closes the connection.
func (s *Session) Drain(onMessage func(Message)) {
	for {
		msg, err := s.Receive()
		if err != nil {
			return
		}
		if onMessage != nil {
			onMessage(msg)
		}
	}
}
