//go:build portaudio

package device

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"
	"github.com/loqalabs/loqa-bridge/internal/audio"
)

type microphone struct {
	stream *portaudio.Stream
	buf    []int16
	once   sync.Once
	err    error
}

func open(format audio.Format, chunkMS int) (audio.Source, error) {
	frames := format.ChunkSize(chunkMS) / format.FrameSize()
	if frames < 1 {
		frames = 1
	}
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("initialize portaudio: %w", err)
	}
	buf := make([]int16, frames*format.Channels)
	stream, err := portaudio.OpenDefaultStream(format.Channels, 0, float64(format.SampleRate), frames, buf)
	if err != nil {
		portaudio.Terminate()
		return nil, fmt.Errorf("open input stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		portaudio.Terminate()
		return nil, fmt.Errorf("start input stream: %w", err)
	}
	return &microphone{stream: stream, buf: buf}, nil
}

// Read blocks until one buffer has been captured.
func (m *microphone) Read(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := m.stream.Read(); err != nil {
		return nil, fmt.Errorf("read input stream: %w", err)
	}
	var out bytes.Buffer
	out.Grow(len(m.buf) * audio.BytesPerSample)
	if err := binary.Write(&out, binary.LittleEndian, m.buf); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

func (m *microphone) Close() error {
	m.once.Do(func() {
		if err := m.stream.Stop(); err != nil {
			m.err = err
		}
		if err := m.stream.Close(); err != nil && m.err == nil {
			m.err = err
		}
		if err := portaudio.Terminate(); err != nil && m.err == nil {
			m.err = err
		}
	})
	return m.err
}
