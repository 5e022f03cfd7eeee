package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"

	"github.com/mattn/go-shellwords"
)

// Source produces fixed-size PCM buffers. Read returns io.EOF once the source is
// exhausted; a final short buffer may accompany it.
type Source interface {
	Read(ctx context.Context) ([]byte, error)
	Close() error
}

type readerSource struct {
	r    io.Reader
	size int
}

// NewReaderSource reads size-byte buffers from r.
func NewReaderSource(r io.Reader, size int) Source {
	if size < 1 {
		size = 1
	}
	return &readerSource{r: r, size: size}
}

func (s *readerSource) Read(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	buf := make([]byte, s.size)
	n, err := io.ReadFull(s.r, buf)
	switch {
	case err == nil:
		return buf, nil
	case errors.Is(err, io.ErrUnexpectedEOF):
		return buf[:n], io.EOF
	default:
		return buf[:n], err
	}
}

func (s *readerSource) Close() error {
	if closer, ok := s.r.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

// CommandSource captures raw PCM from an external recorder's stdout, for example
// `arecord -q -t raw -f S16_LE -r 16000 -c 1`.
type CommandSource struct {
	cmd    *exec.Cmd
	reader Source
	once   sync.Once
	err    error
}

// StartCommand parses command with shell quoting rules and starts it.
func StartCommand(ctx context.Context, command string, size int) (*CommandSource, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse capture command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("capture command is empty")
	}
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("capture stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start capture command: %w", err)
	}
	return &CommandSource{cmd: cmd, reader: NewReaderSource(stdout, size)}, nil
}

func (s *CommandSource) Read(ctx context.Context) ([]byte, error) {
	return s.reader.Read(ctx)
}

// Close stops the recorder. It is safe to call more than once.
func (s *CommandSource) Close() error {
	s.once.Do(func() {
		if s.cmd.ProcessState == nil && s.cmd.Process != nil {
			_ = s.cmd.Process.Kill()
		}
		if err := s.cmd.Wait(); err != nil {
			var exitErr *exec.ExitError
			if !errors.As(err, &exitErr) {
				s.err = err
			}
		}
	})
	return s.err
}
