// Package device opens the default microphone as an audio.Source.
package device

import (
	"errors"

	"github.com/loqalabs/loqa-bridge/internal/audio"
)

// ErrUnsupported is returned by Open in builds without the portaudio tag.
var ErrUnsupported = errors.New("microphone capture requires a build with -tags portaudio")

// Open starts capturing chunkMS buffers from the default input device.
func Open(format audio.Format, chunkMS int) (audio.Source, error) {
	return open(format, chunkMS)
}
