package audio

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/gen2brain/malgo"

	"github.com/viva-ai/viva-orchestrator/pkg/orchestrator"
)

// Capture owns the microphone for one call. It encodes the capture
// stream into fixed-duration S16LE slices and hands each one to the sink
// in production order; the transcription channel depends on that order.
type Capture struct {
	sampleRate int
	channels   int
	slice      time.Duration
	logger     orchestrator.Logger

	// OnLevel, when set, receives the RMS level of each raw capture
	// callback. Used for mic meters; not part of the pipeline.
	OnLevel func(rms float64)

	mu      sync.Mutex
	mctx    *malgo.AllocatedContext
	device  *malgo.Device
	started bool
	buf     []byte
	seq     uint64
}

func NewCapture(sampleRate, channels int, slice time.Duration, logger orchestrator.Logger) *Capture {
	if logger == nil {
		logger = &orchestrator.NoOpLogger{}
	}
	return &Capture{
		sampleRate: sampleRate,
		channels:   channels,
		slice:      slice,
		logger:     logger,
	}
}

// Start acquires the microphone and begins slicing. The sink runs on the
// device callback goroutine and must not block for long.
func (c *Capture) Start(ctx context.Context, sink func(orchestrator.AudioFragment) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.started {
		return fmt.Errorf("capture already started")
	}

	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return fmt.Errorf("failed to init audio context: %w", err)
	}

	sliceBytes := int(float64(c.sampleRate*c.channels*2) * c.slice.Seconds())

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = uint32(c.channels)
	deviceConfig.SampleRate = uint32(c.sampleRate)
	deviceConfig.Alsa.NoMMap = 1 // Better compatibility on some systems

	onSamples := func(pOutput, pInput []byte, frameCount uint32) {
		if pInput == nil {
			return
		}
		if c.OnLevel != nil {
			c.OnLevel(rms(pInput))
		}

		c.mu.Lock()
		if !c.started {
			c.mu.Unlock()
			return
		}
		c.buf = append(c.buf, pInput...)
		var slices []orchestrator.AudioFragment
		for len(c.buf) >= sliceBytes {
			out := make([]byte, sliceBytes)
			copy(out, c.buf[:sliceBytes])
			c.buf = c.buf[sliceBytes:]
			c.seq++
			slices = append(slices, orchestrator.AudioFragment{Bytes: out, Seq: c.seq})
		}
		c.mu.Unlock()

		for _, frag := range slices {
			if ctx.Err() != nil {
				return
			}
			if err := sink(frag); err != nil {
				c.logger.Warn("capture sink rejected slice", "seq", frag.Seq, "error", err)
				return
			}
		}
	}

	device, err := malgo.InitDevice(mctx.Context, deviceConfig, malgo.DeviceCallbacks{Data: onSamples})
	if err != nil {
		_ = mctx.Uninit()
		mctx.Free()
		return fmt.Errorf("failed to init capture device: %w", err)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		_ = mctx.Uninit()
		mctx.Free()
		return fmt.Errorf("failed to start capture device: %w", err)
	}

	c.mctx = mctx
	c.device = device
	c.started = true
	c.logger.Info("audio capture started", "sampleRate", c.sampleRate, "sliceBytes", sliceBytes)
	return nil
}

// Stop releases the microphone. Idempotent; an in-flight slice is dropped.
func (c *Capture) Stop() error {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return nil
	}
	c.started = false
	device := c.device
	mctx := c.mctx
	c.device = nil
	c.mctx = nil
	c.buf = nil
	c.mu.Unlock()

	device.Uninit()
	_ = mctx.Uninit()
	mctx.Free()
	c.logger.Info("audio capture stopped")
	return nil
}

func rms(chunk []byte) float64 {
	if len(chunk) < 2 {
		return 0
	}
	var sum float64
	for i := 0; i < len(chunk)-1; i += 2 {
		sample := int16(chunk[i]) | (int16(chunk[i+1]) << 8)
		f := float64(sample) / 32768.0
		sum += f * f
	}
	return math.Sqrt(sum / float64(len(chunk)/2))
}
