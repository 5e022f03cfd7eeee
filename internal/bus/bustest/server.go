// Package bustest runs an in-process NATS server with JetStream for tests.
package bustest

import (
	"errors"
	"time"

	"github.com/nats-io/nats-server/v2/server"
)

// Server is an embedded broker listening on a random local port.
type Server struct {
	ns *server.Server
}

// Start boots the broker and waits until it accepts clients. storeDir holds
// JetStream data and is usually t.TempDir().
func Start(storeDir string) (*Server, error) {
	opts := &server.Options{
		Host:      "127.0.0.1",
		Port:      server.RANDOM_PORT,
		JetStream: true,
		StoreDir:  storeDir,
		NoLog:     true,
		NoSigs:    true,
	}
	ns, err := server.NewServer(opts)
	if err != nil {
		return nil, err
	}
	go ns.Start()
	if !ns.ReadyForConnections(5 * time.Second) {
		ns.Shutdown()
		return nil, errors.New("embedded NATS server failed to start within 5 seconds")
	}
	return &Server{ns: ns}, nil
}

func (s *Server) URL() string {
	return s.ns.ClientURL()
}

func (s *Server) Shutdown() {
	s.ns.Shutdown()
	s.ns.WaitForShutdown()
}
