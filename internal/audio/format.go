// Package audio turns PCM payloads and capture sources into paced, base64-encoded chunks.
package audio

import (
	"encoding/base64"
	"time"
)

// BytesPerSample is fixed: every payload is signed 16-bit little-endian PCM.
const BytesPerSample = 2

// Format describes a PCM stream.
type Format struct {
	SampleRate int
	Channels   int
}

// FrameSize is the byte size of one sample across all channels.
func (f Format) FrameSize() int {
	return f.Channels * BytesPerSample
}

// ChunkSize returns the byte length of chunkMS of audio, never less than one byte.
// The size is rounded down to whole frames.
func (f Format) ChunkSize(chunkMS int) int {
	frames := f.SampleRate * chunkMS / 1000
	size := frames * f.FrameSize()
	if size < 1 {
		return 1
	}
	return size
}

// Duration reports how long n bytes of audio play for.
func (f Format) Duration(n int) time.Duration {
	bytesPerSecond := f.SampleRate * f.FrameSize()
	if bytesPerSecond <= 0 {
		return 0
	}
	return time.Duration(n) * time.Second / time.Duration(bytesPerSecond)
}

// Split slices pcm into consecutive chunks of size bytes; the last one may be short.
func Split(pcm []byte, size int) [][]byte {
	if size < 1 {
		size = 1
	}
	chunks := make([][]byte, 0, (len(pcm)+size-1)/size)
	for start := 0; start < len(pcm); start += size {
		end := min(start+size, len(pcm))
		chunks = append(chunks, pcm[start:end])
	}
	return chunks
}

// Silence returns size bytes of digital silence.
func Silence(size int) []byte {
	return make([]byte, size)
}

// Encode is the wire encoding used for every audio append.
func Encode(chunk []byte) string {
	return base64.StdEncoding.EncodeToString(chunk)
}
