package player

import "github.com/dgnsrekt/chaptervoice/internal/ttypes"

// Mode is the coarse lifecycle position of the playback machine.
type Mode int

const (
	// ModeIdle means no chapter is active.
	ModeIdle Mode = iota

	// ModeLoading means a freshly loaded chapter is bringing up its
	// first track. It ends at the first ready, failure, or user
	// transport action.
	ModeLoading

	// ModeActive means the chapter is being played, paused, or buffered.
	ModeActive

	// ModePreview is structurally active with a separate viewing
	// position: playback continues at Current while View browses.
	ModePreview
)

// String returns the string representation of the mode.
func (m Mode) String() string {
	switch m {
	case ModeIdle:
		return "idle"
	case ModeLoading:
		return "loading"
	case ModeActive:
		return "active"
	case ModePreview:
		return "preview"
	default:
		return "unknown"
	}
}

// State is the complete, immutable playback snapshot. The invariant
// IsPlaying && IsBuffering never holds: buffering is the wait for audio,
// playing is audio moving through the device.
type State struct {
	Mode Mode

	// IsPlaying means the output device is actively playing Current.
	IsPlaying bool

	// IsBuffering means the machine wants to play Current and is
	// waiting for its audio to become ready.
	IsBuffering bool

	// Queue is the chapter's track list in playback order.
	Queue []ttypes.AudioTrack

	// Current is the playback position within Queue. The single source
	// of truth for "where we are".
	Current int

	// View is the browsing position. Equal to Current except in
	// ModePreview.
	View int

	// Loaded means the output device holds Current's audio, so a
	// resume is enough to continue.
	Loaded bool

	// BookID identifies the loaded chapter's book.
	BookID string

	// Rate is the playback speed multiplier applied at the output.
	Rate float64

	// Err is the last user-relevant failure. Cleared implicitly by the
	// next successful operation.
	Err error

	// Epoch counts queue generations: chapter loads and reloads.
	// Asynchronous results stamped with an older epoch are ignored.
	Epoch uint64
}

// CurrentTrack returns the track at the playback position.
func (s State) CurrentTrack() (ttypes.AudioTrack, bool) {
	if s.Current < 0 || s.Current >= len(s.Queue) {
		return ttypes.AudioTrack{}, false
	}
	return s.Queue[s.Current], true
}

// ViewTrack returns the track at the browsing position.
func (s State) ViewTrack() (ttypes.AudioTrack, bool) {
	if s.View < 0 || s.View >= len(s.Queue) {
		return ttypes.AudioTrack{}, false
	}
	return s.Queue[s.View], true
}

// Active reports whether playback is engaged at all.
func (s State) Active() bool {
	return s.Mode == ModeActive || s.Mode == ModePreview
}

func clampTrackIndex(i, n int) int {
	if i < 0 {
		return 0
	}
	if n > 0 && i >= n {
		return n - 1
	}
	return i
}
