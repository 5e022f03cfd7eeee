//go:build !portaudio

package device

import "github.com/loqalabs/loqa-bridge/internal/audio"

func open(audio.Format, int) (audio.Source, error) {
	return nil, ErrUnsupported
}
