package main

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/loqalabs/loqa-bridge/internal/config"
	"github.com/loqalabs/loqa-bridge/internal/realtime"
	"github.com/loqalabs/loqa-bridge/internal/realtime/realtimetest"
)

func setTestEnv(t *testing.T) {
	t.Helper()
	t.Setenv("LOQA_DOTENV_PATH", filepath.Join(t.TempDir(), "missing.env"))
	t.Setenv(config.APIKeyEnv, "sk-test")
	t.Setenv("LOQA_TELEMETRY_LOG_LEVEL", "error")
	t.Setenv("LOQA_REALTIME_CLOSE_GRACE_MS", "500")
}

func runCommand(stdin string, args ...string) (int, string, string) {
	var stdout, stderr bytes.Buffer
	code := run(args, strings.NewReader(stdin), &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestRunUsage(t *testing.T) {
	if code, _, _ := runCommand(""); code != 2 {
		t.Fatalf("expected exit 2 without command, got %d", code)
	}
	if code, _, stderr := runCommand("", "bogus"); code != 2 || !strings.Contains(stderr, "unknown command") {
		t.Fatalf("expected unknown command error, got %d %q", code, stderr)
	}
	if code, _, _ := runCommand("", "speak"); code != 2 {
		t.Fatalf("expected exit 2 for speak without output path, got %d", code)
	}
}

func TestRunVersion(t *testing.T) {
	code, stdout, _ := runCommand("", "version")
	if code != 0 || strings.TrimSpace(stdout) != version {
		t.Fatalf("unexpected version output %d %q", code, stdout)
	}
}

func TestMissingAPIKeyIsFatal(t *testing.T) {
	setTestEnv(t)
	t.Setenv(config.APIKeyEnv, "")
	out := filepath.Join(t.TempDir(), "out.wav")
	for _, args := range [][]string{
		{"transcribe"},
		{"chat"},
		{"speak", out, "你好"},
		{"asr", "-duration", "0.1"},
	} {
		cmd := args[0]
		code, stdout, stderr := runCommand("", args...)
		if code != 1 {
			t.Fatalf("%s: expected exit 1, got %d", cmd, code)
		}
		if stdout != "" {
			t.Fatalf("%s: expected no stdout, got %q", cmd, stdout)
		}
		if !strings.Contains(stderr, config.APIKeyEnv) {
			t.Fatalf("%s: expected key name in stderr, got %q", cmd, stderr)
		}
	}
	if _, err := os.Stat(out); !os.IsNotExist(err) {
		t.Fatalf("speak must not write audio without a key, stat err %v", err)
	}
}

func TestTranscribeMalformedInputPrintsEmptyLine(t *testing.T) {
	setTestEnv(t)
	t.Setenv("LOQA_REALTIME_URL", "ws://127.0.0.1:1/realtime")
	code, stdout, _ := runCommand("%%% not base64 %%%", "transcribe")
	if code != 0 || stdout != "\n" {
		t.Fatalf("expected empty line, got %d %q", code, stdout)
	}
}

func TestTranscribeEndToEnd(t *testing.T) {
	srv := realtimetest.NewServer(func(s *realtimetest.Session) {
		sent := false
		s.Drain(func(msg realtimetest.Message) {
			if msg.Type == realtime.EventAudioAppend && !sent {
				sent = true
				_ = s.Send(realtime.EventTranscriptionCompleted, map[string]any{"transcript": "“你好世界”"})
			}
		})
	})
	defer srv.Close()

	setTestEnv(t)
	t.Setenv("LOQA_REALTIME_URL", srv.WSURL())
	t.Setenv("LOQA_ASR_PACE_FACTOR", "0")
	t.Setenv("LOQA_ASR_GRACE_MS", "200")

	payload := base64.StdEncoding.EncodeToString(make([]byte, 6400))
	code, stdout, stderr := runCommand(payload+"\n", "transcribe", "-language", "zh")
	if code != 0 {
		t.Fatalf("unexpected exit %d: %s", code, stderr)
	}
	if stdout != "你好世界\n" {
		t.Fatalf("unexpected transcript %q", stdout)
	}
	msgs := srv.Messages()
	if len(msgs) == 0 || msgs[0].Type != realtime.EventSessionUpdate {
		t.Fatalf("expected session.update first, got %v", srv.Types())
	}
}

func TestSpeakWritesWav(t *testing.T) {
	delta := base64.StdEncoding.EncodeToString(make([]byte, 4800))
	srv := realtimetest.NewServer(func(s *realtimetest.Session) {
		s.Drain(func(msg realtimetest.Message) {
			if msg.Type == realtime.EventSessionFinish {
				_ = s.Send(realtime.EventAudioDelta, map[string]any{"delta": delta})
				_ = s.Send(realtime.EventSessionFinished, nil)
			}
		})
	})
	defer srv.Close()

	setTestEnv(t)
	t.Setenv("LOQA_REALTIME_URL", srv.WSURL())
	t.Setenv("LOQA_TTS_MODELS", "qwen3-tts-flash-realtime")
	t.Setenv("LOQA_TTS_TEXT_INTERVAL_MS", "0")

	out := filepath.Join(t.TempDir(), "out.wav")
	code, stdout, stderr := runCommand("", "speak", out, "你好。再见！")
	if code != 0 {
		t.Fatalf("unexpected exit %d: %s", code, stderr)
	}
	if stdout != out+"\n" {
		t.Fatalf("expected wav path on stdout, got %q", stdout)
	}
	info, err := os.Stat(out)
	if err != nil {
		t.Fatalf("stat wav: %v", err)
	}
	if info.Size() != 44+4800 {
		t.Fatalf("unexpected wav size %d", info.Size())
	}
	types := srv.Types()
	if len(types) != 4 || types[1] != realtime.EventTextAppend || types[2] != realtime.EventTextAppend {
		t.Fatalf("unexpected client events %v", types)
	}
}

func TestChatMissingMessages(t *testing.T) {
	setTestEnv(t)
	code, stdout, _ := runCommand("{}", "chat")
	if code != 0 || stdout != "{\"error\":\"Missing messages\"}\n" {
		t.Fatalf("unexpected output %d %q", code, stdout)
	}
}

func TestChatEndToEnd(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"<b>你好</b>\"}}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[],\"usage\":{\"total_tokens\":5}}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	setTestEnv(t)
	t.Setenv("DASHSCOPE_COMPAT_BASE_URL", srv.URL)
	code, stdout, stderr := runCommand(`{"messages":[{"role":"user","content":"hi"}]}`, "chat")
	if code != 0 {
		t.Fatalf("unexpected exit %d: %s", code, stderr)
	}
	want := "{\"text\":\"<b>你好</b>\",\"usage\":{\"total_tokens\":5}}\n"
	if stdout != want {
		t.Fatalf("expected %q, got %q", want, stdout)
	}
}
