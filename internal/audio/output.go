package audio

import (
	"bytes"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/ebitengine/oto/v3"

	"github.com/dgnsrekt/chaptervoice/internal/ttypes"
)

// DeviceSampleRate is the fixed sample rate of the output device
// context. File audio at other rates is resampled on the way in.
const DeviceSampleRate = 44100

// watchInterval is how often the completion monitor polls the device.
const watchInterval = 100 * time.Millisecond

// The process gets exactly one oto context; creating a second fails on
// most platforms.
var (
	otoOnce sync.Once
	otoCtx  *oto.Context
	otoErr  error
)

func deviceContext() (*oto.Context, error) {
	otoOnce.Do(func() {
		op := &oto.NewContextOptions{
			SampleRate:   DeviceSampleRate,
			ChannelCount: 1,
			Format:       oto.FormatSignedInt16LE,
			BufferSize:   platformBufferSize(),
		}
		ctx, ready, err := oto.NewContext(op)
		if err != nil {
			otoErr = fmt.Errorf("create audio context: %w", err)
			return
		}
		<-ready
		otoCtx = ctx
	})
	return otoCtx, otoErr
}

// platformBufferSize picks a device buffer per platform. macOS needs a
// larger buffer to avoid crackle; smaller elsewhere keeps latency low.
func platformBufferSize() time.Duration {
	switch runtime.GOOS {
	case "darwin":
		return 100 * time.Millisecond
	default:
		return 50 * time.Millisecond
	}
}

// Output plays cached WAV files on the default audio device. It
// implements the AudioOutput contract: one file at a time, completed
// and error events on a channel, cooperative with pause/resume/stop.
type Output struct {
	events chan ttypes.OutputEvent

	mu        sync.Mutex
	player    *oto.Player
	data      []byte // keeps the stream alive while the device reads it
	rate      float64
	volume    float64
	paused    bool
	closed    bool
	watchStop chan struct{}
}

// NewOutput opens the audio device and returns a ready output.
func NewOutput() (*Output, error) {
	if _, err := deviceContext(); err != nil {
		return nil, err
	}
	return &Output{
		events: make(chan ttypes.OutputEvent, 16),
		rate:   1.0,
		volume: 1.0,
	}, nil
}

// PlayFile decodes the WAV file, scales it for the current device rate
// and the requested playback rate, and starts playback. Any file
// already playing is stopped first.
func (o *Output) PlayFile(path string, rate float64) error {
	pcm, fileRate, err := DecodeWAVFile(path)
	if err != nil {
		return err
	}
	if len(pcm) == 0 {
		return fmt.Errorf("wav file %s has no samples", path)
	}

	rate = ttypes.ClampRate(rate)

	// One interpolation pass covers both device-rate conversion and
	// playback-rate scaling.
	factor := float64(DeviceSampleRate) / (float64(fileRate) * rate)
	pcm = stretch(pcm, factor)

	ctx, err := deviceContext()
	if err != nil {
		return err
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return errors.New("audio output closed")
	}
	o.stopLocked()

	o.data = pcm
	o.rate = rate
	o.paused = false
	o.player = ctx.NewPlayer(bytes.NewReader(o.data))
	o.player.SetVolume(o.volume)
	o.player.Play()

	o.watchStop = make(chan struct{})
	go o.watch(o.watchStop)

	log.Debug("playback started", "path", path, "rate", rate,
		"duration", Duration(o.data, DeviceSampleRate))
	return nil
}

// watch polls the device until the current file drains, then emits a
// completed event. Stops silently when playback is replaced or stopped.
func (o *Output) watch(stop chan struct{}) {
	ticker := time.NewTicker(watchInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			o.mu.Lock()
			p := o.player
			paused := o.paused
			o.mu.Unlock()
			if p == nil {
				return
			}
			if !paused && !p.IsPlaying() {
				o.mu.Lock()
				if o.player == p {
					p.Close()
					o.player = nil
					o.data = nil
				}
				o.mu.Unlock()
				o.emit(ttypes.OutputEvent{Kind: ttypes.OutputCompleted})
				return
			}
		}
	}
}

func (o *Output) emit(ev ttypes.OutputEvent) {
	select {
	case o.events <- ev:
	default:
		log.Warn("audio event dropped, consumer not keeping up", "kind", ev.Kind)
	}
}

// Pause pauses the current file. Pausing with nothing playing is a
// no-op.
func (o *Output) Pause() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.player == nil {
		return nil
	}
	o.player.Pause()
	o.paused = true
	return nil
}

// Resume continues a paused file. A no-op when nothing is loaded.
func (o *Output) Resume() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.player == nil {
		return nil
	}
	o.player.Play()
	o.paused = false
	return nil
}

// Stop discards the current file without emitting a completed event.
func (o *Output) Stop() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.stopLocked()
	return nil
}

func (o *Output) stopLocked() {
	if o.watchStop != nil {
		close(o.watchStop)
		o.watchStop = nil
	}
	if o.player != nil {
		o.player.Pause()
		o.player.Close()
		o.player = nil
	}
	o.data = nil
	o.paused = false
}

// SetSpeed records the playback rate for subsequent files. The stream
// already on the device keeps its rate; segments are short enough that
// the change lands within a few seconds of listening.
func (o *Output) SetSpeed(rate float64) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.rate = ttypes.ClampRate(rate)
	return nil
}

// SetVolume adjusts the device volume for current and future files.
func (o *Output) SetVolume(v float64) error {
	if v < 0 || v > 2.0 {
		return fmt.Errorf("volume must be between 0.0 and 2.0, got %.2f", v)
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.volume = v
	if o.player != nil {
		o.player.SetVolume(v)
	}
	return nil
}

// Events returns the completed/error event stream.
func (o *Output) Events() <-chan ttypes.OutputEvent {
	return o.events
}

// Close stops playback and releases the device player. The shared
// context stays open for the life of the process; oto has no context
// close in v3.
func (o *Output) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return nil
	}
	o.stopLocked()
	o.closed = true
	close(o.events)
	return nil
}

var _ ttypes.AudioOutput = (*Output)(nil)
