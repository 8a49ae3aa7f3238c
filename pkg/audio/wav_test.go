package audio

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
)

func TestNewWAVBufferHeader(t *testing.T) {
	pcm := make([]byte, 320)
	wav := NewWAVBuffer(pcm, 16000)

	if len(wav) != 44+len(pcm) {
		t.Fatalf("wav length = %d, want %d", len(wav), 44+len(pcm))
	}
	if !bytes.Equal(wav[0:4], []byte("RIFF")) || !bytes.Equal(wav[8:12], []byte("WAVE")) {
		t.Error("missing RIFF/WAVE markers")
	}
	if got := binary.LittleEndian.Uint32(wav[24:28]); got != 16000 {
		t.Errorf("sample rate = %d", got)
	}
	if got := binary.LittleEndian.Uint32(wav[28:32]); got != 32000 {
		t.Errorf("byte rate = %d", got)
	}
	if got := binary.LittleEndian.Uint16(wav[34:36]); got != 16 {
		t.Errorf("bits per sample = %d", got)
	}
	if got := binary.LittleEndian.Uint32(wav[40:44]); got != uint32(len(pcm)) {
		t.Errorf("data size = %d", got)
	}
}

func TestWAVRecorderWritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "call.wav")
	rec := NewWAVRecorder(path, 16000)
	rec.Write([]byte{1, 2, 3, 4})
	rec.Write([]byte{5, 6})
	if err := rec.Close(); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(data) != 44+6 {
		t.Fatalf("file length = %d", len(data))
	}
	if !bytes.Equal(data[44:], []byte{1, 2, 3, 4, 5, 6}) {
		t.Errorf("pcm payload = %v", data[44:])
	}
}
