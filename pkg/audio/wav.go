package audio

import (
	"bytes"
	"encoding/binary"
	"os"
	"sync"
)

// NewWAVBuffer wraps raw S16LE mono PCM in a WAV container.
func NewWAVBuffer(pcm []byte, sampleRate int) []byte {
	buf := new(bytes.Buffer)

	buf.WriteString("RIFF")
	binary.Write(buf, binary.LittleEndian, uint32(36+len(pcm)))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	binary.Write(buf, binary.LittleEndian, uint32(16))
	binary.Write(buf, binary.LittleEndian, uint16(1))
	binary.Write(buf, binary.LittleEndian, uint16(1))
	binary.Write(buf, binary.LittleEndian, uint32(sampleRate))
	binary.Write(buf, binary.LittleEndian, uint32(sampleRate*2))
	binary.Write(buf, binary.LittleEndian, uint16(2))
	binary.Write(buf, binary.LittleEndian, uint16(16))

	buf.WriteString("data")
	binary.Write(buf, binary.LittleEndian, uint32(len(pcm)))
	buf.Write(pcm)

	return buf.Bytes()
}

// WAVRecorder accumulates PCM during a call and writes one WAV file on
// Close. Used for debugging capture quality; not part of the pipeline.
type WAVRecorder struct {
	path       string
	sampleRate int

	mu  sync.Mutex
	pcm []byte
}

func NewWAVRecorder(path string, sampleRate int) *WAVRecorder {
	return &WAVRecorder{path: path, sampleRate: sampleRate}
}

func (r *WAVRecorder) Write(pcm []byte) {
	r.mu.Lock()
	r.pcm = append(r.pcm, pcm...)
	r.mu.Unlock()
}

func (r *WAVRecorder) Close() error {
	r.mu.Lock()
	data := NewWAVBuffer(r.pcm, r.sampleRate)
	r.mu.Unlock()
	return os.WriteFile(r.path, data, 0o644)
}
