package bus

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/loqalabs/loqa-bridge/internal/bus/bustest"
	"github.com/loqalabs/loqa-bridge/internal/config"
	"github.com/loqalabs/loqa-bridge/internal/protocol"
	"github.com/nats-io/nats.go"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestConnectRequiresServers(t *testing.T) {
	if _, err := Connect(context.Background(), config.BusConfig{}, newLogger()); err == nil {
		t.Fatal("expected error without servers")
	}
}

func TestConnectUnreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	cfg := config.BusConfig{Servers: []string{"nats://127.0.0.1:1"}, ConnectTimeout: 200}
	if _, err := Connect(ctx, cfg, newLogger()); err == nil {
		t.Fatal("expected connection error")
	}
}

func TestNilClientIsNoop(t *testing.T) {
	var c *Client
	if err := c.Publish(context.Background(), "bridge.asr.result", map[string]string{"text": "hi"}); err != nil {
		t.Fatalf("expected nil client publish to succeed, got %v", err)
	}
	if c.Healthy() {
		t.Fatal("nil client must not report healthy")
	}
	c.Close()
}

func startServer(t *testing.T) *bustest.Server {
	t.Helper()
	srv, err := bustest.Start(t.TempDir())
	if err != nil {
		t.Fatalf("start nats: %v", err)
	}
	t.Cleanup(srv.Shutdown)
	return srv
}

func TestPublishCoreNATS(t *testing.T) {
	srv := startServer(t)
	ctx := context.Background()

	client, err := Connect(ctx, config.BusConfig{Servers: []string{srv.URL()}, ConnectTimeout: 2000}, newLogger())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer client.Close()
	if !client.Healthy() {
		t.Fatal("expected healthy connection")
	}

	sub, err := client.conn.SubscribeSync(protocol.SubjectASRResult)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	want := protocol.Transcript{SessionID: "s1", Text: "你好", Outcome: "timed_out"}
	if err := client.Publish(ctx, protocol.SubjectASRResult, want); err != nil {
		t.Fatalf("publish: %v", err)
	}
	msg, err := sub.NextMsg(2 * time.Second)
	if err != nil {
		t.Fatalf("next message: %v", err)
	}
	var got protocol.Transcript
	if err := json.Unmarshal(msg.Data, &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.SessionID != "s1" || got.Text != "你好" || got.Outcome != "timed_out" {
		t.Fatalf("unexpected payload %+v", got)
	}
}

func TestPublishJetStream(t *testing.T) {
	srv := startServer(t)
	ctx := context.Background()

	client, err := Connect(ctx, config.BusConfig{Servers: []string{srv.URL()}, ConnectTimeout: 2000, JetStream: true}, newLogger())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer client.Close()

	if _, err := client.js.AddStream(&nats.StreamConfig{Name: "BRIDGE", Subjects: []string{"bridge.>"}}); err != nil {
		t.Fatalf("add stream: %v", err)
	}
	if err := client.Publish(ctx, protocol.SubjectTTSResult, protocol.SpeechResult{SessionID: "s2", Bytes: 4800}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	info, err := client.js.StreamInfo("BRIDGE")
	if err != nil {
		t.Fatalf("stream info: %v", err)
	}
	if info.State.Msgs != 1 {
		t.Fatalf("expected 1 stored message, got %d", info.State.Msgs)
	}
}

func TestPublishJetStreamWithoutStream(t *testing.T) {
	srv := startServer(t)
	client, err := Connect(context.Background(), config.BusConfig{Servers: []string{srv.URL()}, JetStream: true}, newLogger())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := client.Publish(ctx, protocol.SubjectChatResult, protocol.ChatResult{Text: "hi"}); err == nil {
		t.Fatal("expected error when no stream captures the subject")
	}
}
