package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"
)

// Sink receives one encoded chunk; it is the session's audio append.
type Sink func(encoded string) error

// Pacer hands chunks to a Sink in source order, one at a time.
type Pacer struct {
	format   Format
	size     int
	interval time.Duration
	now      func() time.Time
	sleep    func(context.Context, time.Duration) error
}

// NewPacer builds a pacer for chunkMS chunks. Buffered payloads are paced at
// paceFactor times the chunk duration; zero sends them back to back.
func NewPacer(format Format, chunkMS int, paceFactor float64) *Pacer {
	size := format.ChunkSize(chunkMS)
	var interval time.Duration
	if paceFactor > 0 {
		interval = time.Duration(float64(format.Duration(size)) * paceFactor)
	}
	return &Pacer{
		format:   format,
		size:     size,
		interval: interval,
		now:      time.Now,
		sleep:    Sleep,
	}
}

// Interval is the delay between buffered chunks.
func (p *Pacer) Interval() time.Duration { return p.interval }

// SendBuffer slices pcm into chunks and submits them in order. It returns the number
// of chunks the sink accepted.
func (p *Pacer) SendBuffer(ctx context.Context, pcm []byte, sink Sink) (int, error) {
	chunks := Split(pcm, p.size)
	sent := 0
	for i, chunk := range chunks {
		if err := sink(Encode(chunk)); err != nil {
			return sent, fmt.Errorf("append chunk %d: %w", i, err)
		}
		sent++
		if i < len(chunks)-1 && p.interval > 0 {
			if err := p.sleep(ctx, p.interval); err != nil {
				return sent, err
			}
		}
	}
	return sent, nil
}

type readResult struct {
	chunk []byte
	err   error
}

// Stream forwards buffers from src until stop is closed, duration elapses (zero means
// no limit) or src is exhausted. Reads block for about one chunk, which sets the pace.
// A read still pending when stop or the duration fires is abandoned; the caller
// closes src to release it.
func (p *Pacer) Stream(ctx context.Context, src Source, stop <-chan struct{}, duration time.Duration, sink Sink) (int, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var limit <-chan time.Time
	if duration > 0 {
		timer := time.NewTimer(duration)
		defer timer.Stop()
		limit = timer.C
	}

	start := p.now()
	reads := make(chan readResult, 1)
	sent := 0
	for {
		select {
		case <-stop:
			return sent, nil
		case <-limit:
			return sent, nil
		case <-ctx.Done():
			return sent, ctx.Err()
		default:
		}
		if duration > 0 && p.now().Sub(start) >= duration {
			return sent, nil
		}

		go func() {
			chunk, err := src.Read(ctx)
			reads <- readResult{chunk: chunk, err: err}
		}()
		var res readResult
		select {
		case res = <-reads:
		case <-stop:
			return sent, nil
		case <-limit:
			return sent, nil
		case <-ctx.Done():
			return sent, ctx.Err()
		}

		if len(res.chunk) > 0 {
			if sinkErr := sink(Encode(res.chunk)); sinkErr != nil {
				return sent, fmt.Errorf("append chunk %d: %w", sent, sinkErr)
			}
			sent++
		}
		if errors.Is(res.err, io.EOF) {
			return sent, nil
		}
		if res.err != nil {
			return sent, fmt.Errorf("read audio: %w", res.err)
		}
	}
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
