// Package ttypes contains shared types and interfaces for the synthesis
// and playback pipeline. This package is used to break import cycles
// between the cache, engine, synth, prefetch, player, and guard packages.
package ttypes

import (
	"context"
	"fmt"
)

// EngineType identifies a synthesis engine variant.
type EngineType string

const (
	// EnginePiper is the Piper subprocess engine.
	EnginePiper EngineType = "piper"

	// EngineKokoro is the Kokoro local-server engine.
	EngineKokoro EngineType = "kokoro"

	// EngineSupertonic is the Supertonic ONNX runner engine.
	EngineSupertonic EngineType = "supertonic"

	// EngineMock is the deterministic in-memory engine used in tests
	// and dry runs.
	EngineMock EngineType = "mock"

	// EngineNone means no engine selected.
	EngineNone EngineType = ""
)

// Priority orders synthesis jobs. Higher values preempt lower ones in
// the coordinator's effective ordering.
type Priority int

const (
	// PriorityLow for opportunistic background prefetch.
	PriorityLow Priority = iota

	// PriorityNormal for standard look-ahead prefetch.
	PriorityNormal

	// PriorityHigh for user-initiated navigation targets.
	PriorityHigh

	// PriorityImmediate for the currently playing segment.
	PriorityImmediate
)

// String returns the string representation of the priority.
func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	case PriorityImmediate:
		return "immediate"
	default:
		return "unknown"
	}
}

// Playback rate bounds. Rates outside the range are clamped, never
// rejected.
const (
	// MinRate is the slowest supported playback rate.
	MinRate = 0.5

	// MaxRate is the fastest supported playback rate.
	MaxRate = 3.0

	// CanonicalRate is the rate all synthesis happens at under the
	// rate-independent policy. The player scales speed at output time.
	CanonicalRate = 1.0
)

// ClampRate bounds a playback rate to the supported range.
func ClampRate(rate float64) float64 {
	if rate < MinRate {
		return MinRate
	}
	if rate > MaxRate {
		return MaxRate
	}
	return rate
}

// Segment is a unit of text to synthesize. Immutable once produced by
// the text pipeline. Segments are ordered within a chapter; order is
// playback order.
type Segment struct {
	// BookID identifies the book the segment belongs to.
	BookID string

	// ChapterIndex is the chapter's position within the book.
	ChapterIndex int

	// SegmentIndex is the segment's position within the chapter.
	SegmentIndex int

	// Text is the content to synthesize.
	Text string
}

// Ref returns a compact human-readable reference for logs.
func (s Segment) Ref() string {
	return fmt.Sprintf("%s/ch%d/seg%d", s.BookID, s.ChapterIndex, s.SegmentIndex)
}

// CacheKey is a deterministic fingerprint of (voice, normalized text,
// rate). Two requests with the same key are interchangeable.
type CacheKey string

// String returns the key as a plain string.
func (k CacheKey) String() string { return string(k) }

// AudioTrack is a playback-queue entry.
type AudioTrack struct {
	// ID uniquely identifies the track within its queue.
	ID string

	// Segment is the text content backing this track.
	Segment Segment
}

// ChapterIndex returns the chapter position of the backing segment.
func (t AudioTrack) ChapterIndex() int { return t.Segment.ChapterIndex }

// SegmentIndex returns the segment position within the chapter.
func (t AudioTrack) SegmentIndex() int { return t.Segment.SegmentIndex }

// SynthesisRequest is the engine-facing request for one segment.
type SynthesisRequest struct {
	// OpID identifies this request for cooperative cancellation.
	OpID string

	// VoiceID selects the voice model.
	VoiceID string

	// Text is the normalized text to synthesize.
	Text string

	// Rate is the synthesis speed multiplier. Under the default
	// rate-independent policy this is always CanonicalRate.
	Rate float64
}

// SynthesisResult is a decoded synthesis product: raw PCM samples plus
// enough format information to encode or play them.
type SynthesisResult struct {
	// PCM is 16-bit little-endian signed mono audio.
	PCM []byte

	// SampleRate of the PCM data in Hz.
	SampleRate int

	// DurationMs is the audio duration in milliseconds.
	DurationMs int64
}

// VoiceReadiness describes whether a voice's assets are usable.
type VoiceReadiness int

const (
	// VoiceUnknown means readiness has not been determined.
	VoiceUnknown VoiceReadiness = iota

	// VoiceReady means the voice assets are present and loadable.
	VoiceReady

	// VoiceMissing means the voice assets are not installed.
	VoiceMissing
)

// String returns the string representation of the readiness state.
func (v VoiceReadiness) String() string {
	switch v {
	case VoiceReady:
		return "ready"
	case VoiceMissing:
		return "missing"
	default:
		return "unknown"
	}
}

// PressureLevel is a typed memory-pressure input. The core consumes
// these; producing them is the platform's job.
type PressureLevel int

const (
	// PressureNone means memory is ample.
	PressureNone PressureLevel = iota

	// PressureModerate means the system is asking for restraint.
	PressureModerate

	// PressureCritical means allocations should stop growing now.
	PressureCritical
)

// String returns the string representation of the pressure level.
func (p PressureLevel) String() string {
	switch p {
	case PressureNone:
		return "none"
	case PressureModerate:
		return "moderate"
	case PressureCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// BatteryState is a typed battery input consulted by the prefetch
// window sizing.
type BatteryState int

const (
	// BatteryUnknown means no battery signal is available.
	BatteryUnknown BatteryState = iota

	// BatteryAmple means charge is plentiful or the device is plugged in.
	BatteryAmple

	// BatteryLow means the prefetch window should stay conservative.
	BatteryLow
)

// EngineInfo describes an engine's fixed capabilities.
type EngineInfo struct {
	Name        string // engine name, e.g. "piper"
	Version     string // engine or protocol version if known
	SampleRate  int    // native output sample rate in Hz
	Channels    int    // 1=mono, 2=stereo
	BitDepth    int    // bits per sample, typically 16
	MaxTextSize int    // maximum text size per request in characters
	IsOnline    bool   // whether the engine needs a network/server
}

// SynthesisEngine is the contract every engine adapter implements. The
// core treats implementations as black boxes: the same (voiceID, text,
// rate) is assumed to produce equivalent audio, which is what makes
// cache-key reuse sound.
type SynthesisEngine interface {
	// Probe reports whether the engine's runtime is usable at all.
	// A nil error means available.
	Probe(ctx context.Context) error

	// EnsureCoreReady prepares the engine runtime for the given model
	// selector, loading whatever it needs. Must be time-bounded by the
	// caller's context.
	EnsureCoreReady(ctx context.Context, selector string) error

	// CheckVoiceReady reports whether a voice's assets are usable.
	CheckVoiceReady(ctx context.Context, voiceID string) (VoiceReadiness, error)

	// SynthesizeSegment converts one request into PCM audio.
	SynthesizeSegment(ctx context.Context, req SynthesisRequest) (SynthesisResult, error)

	// WarmUp primes the voice so the first real request is fast.
	// Best effort; returns whether the warm-up succeeded.
	WarmUp(ctx context.Context, voiceID string) bool

	// CancelSynth asks the engine to stop the identified operation.
	// Cooperative: the coordinator tolerates late completions.
	CancelSynth(opID string)

	// Info returns the engine's fixed capabilities.
	Info() EngineInfo

	// Close releases the engine's resources and unloads its models.
	Close() error
}

// AudioCache is the content-addressed store for synthesized audio.
// Absence is the normal "needs synthesis" signal, never an error.
type AudioCache interface {
	// IsReady reports whether playable audio exists for the key.
	IsReady(key CacheKey) bool

	// Path returns the on-disk path for a ready key.
	Path(key CacheKey) (string, bool)

	// Store writes synthesized audio under the key. Idempotent: storing
	// the same key twice must not corrupt or duplicate content.
	Store(key CacheKey, wavData []byte, durationMs int64) error

	// Duration returns the stored audio duration for a ready key.
	Duration(key CacheKey) (int64, bool)

	// MarkUsed touches the key's LRU metadata. Cheap; called on every
	// hot-path lookup.
	MarkUsed(key CacheKey)

	// Clear removes every entry.
	Clear() error
}

// OutputEventKind discriminates audio output events.
type OutputEventKind int

const (
	// OutputCompleted means the current file finished playing.
	OutputCompleted OutputEventKind = iota

	// OutputError means playback failed mid-file.
	OutputError
)

// OutputEvent is emitted by an AudioOutput as playback progresses.
type OutputEvent struct {
	Kind OutputEventKind
	Err  error
}

// AudioOutput is a thin wrapper over the platform's media playback.
// The playback state machine reacts only to these events plus user
// commands.
type AudioOutput interface {
	// PlayFile starts playing the audio file at the given rate.
	PlayFile(path string, rate float64) error

	// Pause pauses the current playback.
	Pause() error

	// Resume resumes paused playback.
	Resume() error

	// Stop stops playback and discards the current file.
	Stop() error

	// SetSpeed changes the playback rate of current and future files.
	SetSpeed(rate float64) error

	// Events emits completed/error events for started files.
	Events() <-chan OutputEvent

	// Close releases the audio device.
	Close() error
}
