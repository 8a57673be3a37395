package player

import "github.com/dgnsrekt/chaptervoice/internal/ttypes"

// Event is a sealed input to the transition function: either a user
// command or an environment fact. Events carry everything the machine
// needs; it never reaches out to ask.
type Event interface{ isEvent() }

// EvLoadChapter replaces the queue with a new chapter. Latest load
// wins: the epoch bump makes every in-flight result from the previous
// chapter stale.
type EvLoadChapter struct {
	BookID     string
	Tracks     []ttypes.AudioTrack
	StartIndex int
	AutoPlay   bool
}

// EvPlay starts or resumes playback at Current.
type EvPlay struct{}

// EvPause pauses playback, or stops waiting when buffering.
type EvPause struct{}

// EvStop disengages playback entirely.
type EvStop struct{}

// EvNext advances to the following track.
type EvNext struct{}

// EvPrevious steps back one track.
type EvPrevious struct{}

// EvSeekCommit jumps to a track. The controller debounces raw seeks;
// only the coalesced target reaches the machine.
type EvSeekCommit struct{ Index int }

// EvReload re-resolves Current under the present environment. Emitted
// after a voice change, or a rate change under rate-dependent keying.
type EvReload struct{}

// EvBrowse moves the viewing position without touching playback.
type EvBrowse struct{ Index int }

// EvBrowseCommit merges the viewing position back into playback.
type EvBrowseCommit struct{}

// EvBrowseClose abandons the viewing position.
type EvBrowseClose struct{}

// EvRateChange updates the playback speed.
type EvRateChange struct{ Rate float64 }

// EvTrackReady reports that a resolve effect produced playable audio.
type EvTrackReady struct {
	Epoch uint64
	Index int
	Path  string
}

// EvTrackFailed reports that a resolve effect failed.
type EvTrackFailed struct {
	Epoch uint64
	Index int
	Err   error
}

// EvTrackDone reports that the output finished playing a track.
type EvTrackDone struct{ Index int }

// EvOutputError reports a device failure mid-playback.
type EvOutputError struct{ Err error }

func (EvLoadChapter) isEvent()  {}
func (EvPlay) isEvent()         {}
func (EvPause) isEvent()        {}
func (EvStop) isEvent()         {}
func (EvNext) isEvent()         {}
func (EvPrevious) isEvent()     {}
func (EvSeekCommit) isEvent()   {}
func (EvReload) isEvent()       {}
func (EvBrowse) isEvent()       {}
func (EvBrowseCommit) isEvent() {}
func (EvBrowseClose) isEvent()  {}
func (EvRateChange) isEvent()   {}
func (EvTrackReady) isEvent()   {}
func (EvTrackFailed) isEvent()  {}
func (EvTrackDone) isEvent()    {}
func (EvOutputError) isEvent()  {}
