package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/loqalabs/loqa-bridge/internal/config"
	"github.com/loqalabs/loqa-bridge/internal/runtime"
)

var version = "0.1.0-dev"

const usage = `usage: loqa-bridge <command> [flags]

commands:
  asr                               recognize live microphone audio
  transcribe                        recognize base64 PCM16 read from stdin
  speak <output.wav> [text|file]    synthesize speech into a WAV file
  chat                              stream a chat completion for JSON read from stdin
  version                           print the version
`

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		fmt.Fprint(stderr, usage)
		return 2
	}
	cmd := &command{stdin: stdin, stdout: stdout, stderr: stderr}
	switch args[0] {
	case "asr":
		return cmd.asr(args[1:])
	case "transcribe":
		return cmd.transcribe(args[1:])
	case "speak":
		return cmd.speak(args[1:])
	case "chat":
		return cmd.chat(args[1:])
	case "version":
		fmt.Fprintln(stdout, version)
		return 0
	case "help", "-h", "--help":
		fmt.Fprint(stdout, usage)
		return 0
	default:
		fmt.Fprintf(stderr, "unknown command %q\n", args[0])
		fmt.Fprint(stderr, usage)
		return 2
	}
}

type command struct {
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
}

// bridge is the state shared by one command invocation.
type bridge struct {
	cfg    config.Config
	rt     *runtime.Runtime
	logger *slog.Logger
	apiKey string
}

func (c *command) flagSet(name string, configPath *string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(c.stderr)
	fs.StringVar(configPath, "config", os.Getenv("LOQA_BRIDGE_CONFIG"), "Path to configuration file")
	return fs
}

// start loads configuration and the credential, then brings up the runtime. A
// failure here is the only fatal error class: nothing is printed on stdout.
func (c *command) start(ctx context.Context, configPath string) (*bridge, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger := runtime.NewLogger(cfg.Telemetry, c.stderr)
	apiKey, err := config.APIKey()
	if err != nil {
		return nil, err
	}
	rt := runtime.New(cfg, logger)
	if err := rt.Start(ctx); err != nil {
		return nil, err
	}
	return &bridge{cfg: cfg, rt: rt, logger: logger, apiKey: apiKey}, nil
}

func (b *bridge) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := b.rt.Close(ctx); err != nil {
		b.logger.Warn("runtime shutdown error", slog.String("error", err.Error()))
	}
}

func (c *command) fatal(err error) int {
	if errors.Is(err, config.ErrMissingAPIKey) {
		fmt.Fprintf(c.stderr, "loqa-bridge: %s is not set\n", config.APIKeyEnv)
		return 1
	}
	fmt.Fprintf(c.stderr, "loqa-bridge: %v\n", err)
	return 1
}

func (c *command) println(line string) {
	fmt.Fprintln(c.stdout, line)
}

func (c *command) printJSON(v any) {
	enc := json.NewEncoder(c.stdout)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		fmt.Fprintln(c.stdout, "{}")
	}
}
