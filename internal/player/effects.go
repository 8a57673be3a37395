package player

// Effect is a sealed instruction from the transition function to the
// outside world. The machine decides, the controller executes.
type Effect interface{ isEffect() }

// FxResolve asks for playable audio for the track at Index. The
// answer comes back as EvTrackReady or EvTrackFailed stamped with
// Epoch.
type FxResolve struct {
	Epoch uint64
	Index int
}

// FxCancelResolve withdraws an outstanding resolve.
type FxCancelResolve struct{}

// FxPlayFile hands a verified file to the output device.
type FxPlayFile struct {
	Path string
	Rate float64
}

// FxPause pauses the output device.
type FxPause struct{}

// FxResume resumes the output device from pause.
type FxResume struct{}

// FxStop halts the output device and discards its position.
type FxStop struct{}

// FxSetSpeed adjusts the output device's playback speed.
type FxSetSpeed struct{ Rate float64 }

// FxPlayheadMoved announces that the playback position settled on a
// new track, for prefetch to follow.
type FxPlayheadMoved struct{ Index int }

// FxChapterDone announces that the final track finished naturally.
type FxChapterDone struct{}

func (FxResolve) isEffect()       {}
func (FxCancelResolve) isEffect() {}
func (FxPlayFile) isEffect()      {}
func (FxPause) isEffect()         {}
func (FxResume) isEffect()        {}
func (FxStop) isEffect()          {}
func (FxSetSpeed) isEffect()      {}
func (FxPlayheadMoved) isEffect() {}
func (FxChapterDone) isEffect()   {}
