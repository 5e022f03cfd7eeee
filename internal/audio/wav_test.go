package audio

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/go-audio/wav"
)

func TestWriteWAV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "speech.wav")
	pcm := make([]byte, 4801)
	for i := range pcm {
		pcm[i] = byte(i)
	}
	format := Format{SampleRate: 24000, Channels: 1}
	if err := WriteWAV(path, pcm, format); err != nil {
		t.Fatalf("write wav: %v", err)
	}

	file, err := os.Open(path)
	if err != nil {
		t.Fatalf("open wav: %v", err)
	}
	defer file.Close()

	dec := wav.NewDecoder(file)
	if !dec.IsValidFile() {
		t.Fatal("expected a valid wav file")
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		t.Fatalf("decode wav: %v", err)
	}
	if int(dec.SampleRate) != 24000 || int(dec.NumChans) != 1 || int(dec.BitDepth) != 16 {
		t.Fatalf("unexpected header: rate=%d chans=%d depth=%d", dec.SampleRate, dec.NumChans, dec.BitDepth)
	}
	if len(buf.Data) != 2400 {
		t.Fatalf("expected 2400 samples, got %d", len(buf.Data))
	}
}

func TestWriteWAVRejectsInvalidFormat(t *testing.T) {
	if err := WriteWAV(filepath.Join(t.TempDir(), "x.wav"), nil, Format{}); err == nil {
		t.Fatal("expected error for zero format")
	}
}
