package player

import "github.com/dgnsrekt/chaptervoice/internal/ttypes"

// Transition applies one event to the state and returns the next
// state plus the effects the controller must execute. It is a pure
// function in the Update(msg) shape: no locks, no IO, no time.
//
// Unrecognized or stale events leave the state unchanged.
func Transition(s State, ev Event) (State, []Effect) {
	switch ev := ev.(type) {
	case EvLoadChapter:
		return loadChapter(s, ev)
	case EvPlay:
		return play(s)
	case EvPause:
		return pause(s)
	case EvStop:
		return stop(s)
	case EvNext:
		if s.Mode == ModeIdle || s.Current+1 >= len(s.Queue) {
			return s, nil
		}
		return seekTo(s, s.Current+1)
	case EvPrevious:
		if s.Mode == ModeIdle || s.Current == 0 {
			return s, nil
		}
		return seekTo(s, s.Current-1)
	case EvSeekCommit:
		if s.Mode == ModeIdle {
			return s, nil
		}
		return seekTo(s, clampTrackIndex(ev.Index, len(s.Queue)))
	case EvReload:
		return reload(s)
	case EvBrowse:
		if s.Mode == ModeIdle {
			return s, nil
		}
		s.Mode = ModePreview
		s.View = clampTrackIndex(ev.Index, len(s.Queue))
		return s, nil
	case EvBrowseCommit:
		if s.Mode != ModePreview {
			return s, nil
		}
		if s.View == s.Current {
			s.Mode = ModeActive
			return s, nil
		}
		next, fx := seekTo(s, s.View)
		next.Mode = ModeActive
		next.View = next.Current
		return next, fx
	case EvBrowseClose:
		if s.Mode != ModePreview {
			return s, nil
		}
		s.Mode = ModeActive
		s.View = s.Current
		return s, nil
	case EvRateChange:
		s.Rate = ttypes.ClampRate(ev.Rate)
		if s.IsPlaying || s.Loaded {
			return s, []Effect{FxSetSpeed{Rate: s.Rate}}
		}
		return s, nil
	case EvTrackReady:
		return trackReady(s, ev)
	case EvTrackFailed:
		return trackFailed(s, ev)
	case EvTrackDone:
		return trackDone(s, ev)
	case EvOutputError:
		if s.Mode == ModeIdle {
			return s, nil
		}
		s.IsPlaying = false
		s.IsBuffering = false
		s.Loaded = false
		s.Err = ev.Err
		return s, nil
	}
	return s, nil
}

func loadChapter(s State, ev EvLoadChapter) (State, []Effect) {
	var fx []Effect
	if s.IsPlaying || s.Loaded {
		fx = append(fx, FxStop{})
	}
	fx = append(fx, FxCancelResolve{})

	s.Epoch++
	s.BookID = ev.BookID
	s.Queue = ev.Tracks
	s.Err = nil
	s.IsPlaying = false
	s.IsBuffering = false
	s.Loaded = false

	if len(ev.Tracks) == 0 {
		s.Mode = ModeIdle
		s.Current = 0
		s.View = 0
		return s, fx
	}

	s.Current = clampTrackIndex(ev.StartIndex, len(ev.Tracks))
	s.View = s.Current
	fx = append(fx, FxPlayheadMoved{Index: s.Current})

	if ev.AutoPlay {
		s.Mode = ModeLoading
		s.IsBuffering = true
		fx = append(fx, FxResolve{Epoch: s.Epoch, Index: s.Current})
	} else {
		s.Mode = ModeActive
	}
	return s, fx
}

func play(s State) (State, []Effect) {
	if s.Mode == ModeIdle || s.IsPlaying || s.IsBuffering {
		return s, nil
	}
	if s.Loaded {
		s.IsPlaying = true
		return s, []Effect{FxResume{}}
	}
	s.IsBuffering = true
	return s, []Effect{FxResolve{Epoch: s.Epoch, Index: s.Current}}
}

func pause(s State) (State, []Effect) {
	if s.IsPlaying {
		s.IsPlaying = false
		return s, []Effect{FxPause{}}
	}
	if s.IsBuffering {
		// Stop waiting, but let the resolve finish for the cache.
		// A late ready will not restart playback on its own.
		s.IsBuffering = false
		if s.Mode == ModeLoading {
			s.Mode = ModeActive
		}
		return s, nil
	}
	return s, nil
}

func stop(s State) (State, []Effect) {
	if s.Mode == ModeIdle {
		return s, nil
	}
	var fx []Effect
	if s.IsPlaying || s.Loaded {
		fx = append(fx, FxStop{})
	}
	fx = append(fx, FxCancelResolve{})
	s.IsPlaying = false
	s.IsBuffering = false
	s.Loaded = false
	if s.Mode == ModeLoading {
		s.Mode = ModeActive
	}
	return s, fx
}

// seekTo moves the playhead, carrying the intent to play across the
// jump: a playing or buffering player keeps working toward sound at
// the new position, a paused one stays paused.
func seekTo(s State, target int) (State, []Effect) {
	if target == s.Current {
		return s, nil
	}
	wantPlay := s.IsPlaying || s.IsBuffering

	var fx []Effect
	if s.IsPlaying || s.Loaded {
		fx = append(fx, FxStop{})
	}
	fx = append(fx, FxCancelResolve{})

	s.Current = target
	if s.Mode != ModePreview {
		s.View = target
	}
	s.IsPlaying = false
	s.Loaded = false
	if s.Mode == ModeLoading {
		s.Mode = ModeActive
	}
	fx = append(fx, FxPlayheadMoved{Index: target})

	if wantPlay {
		s.IsBuffering = true
		fx = append(fx, FxResolve{Epoch: s.Epoch, Index: s.Current})
	} else {
		s.IsBuffering = false
	}
	return s, fx
}

// reload re-resolves the current track under a fresh epoch. Used when
// the environment changed underneath the queue, such as a voice
// switch.
func reload(s State) (State, []Effect) {
	if s.Mode == ModeIdle {
		return s, nil
	}
	wantPlay := s.IsPlaying || s.IsBuffering

	var fx []Effect
	if s.IsPlaying || s.Loaded {
		fx = append(fx, FxStop{})
	}
	fx = append(fx, FxCancelResolve{})

	s.Epoch++
	s.IsPlaying = false
	s.Loaded = false

	if wantPlay {
		s.IsBuffering = true
		fx = append(fx, FxResolve{Epoch: s.Epoch, Index: s.Current})
	} else {
		s.IsBuffering = false
	}
	return s, fx
}

func trackReady(s State, ev EvTrackReady) (State, []Effect) {
	if s.Mode == ModeIdle || ev.Epoch != s.Epoch || ev.Index != s.Current {
		return s, nil
	}
	s.Err = nil
	if s.Mode == ModeLoading {
		s.Mode = ModeActive
	}
	if !s.IsBuffering {
		// The user paused while this track was resolving. The audio
		// is cached now; playback waits for an explicit play.
		return s, nil
	}
	s.IsBuffering = false
	s.IsPlaying = true
	s.Loaded = true
	return s, []Effect{FxPlayFile{Path: ev.Path, Rate: s.Rate}}
}

func trackFailed(s State, ev EvTrackFailed) (State, []Effect) {
	if s.Mode == ModeIdle || ev.Epoch != s.Epoch || ev.Index != s.Current {
		return s, nil
	}
	s.IsBuffering = false
	s.IsPlaying = false
	s.Err = ev.Err
	if s.Mode == ModeLoading {
		s.Mode = ModeActive
	}
	return s, nil
}

func trackDone(s State, ev EvTrackDone) (State, []Effect) {
	if s.Mode == ModeIdle || !s.IsPlaying || ev.Index != s.Current {
		return s, nil
	}
	s.IsPlaying = false
	s.Loaded = false

	if s.Current+1 >= len(s.Queue) {
		return s, []Effect{FxChapterDone{}}
	}

	s.Current++
	if s.Mode != ModePreview {
		s.View = s.Current
	}
	s.IsBuffering = true
	return s, []Effect{
		FxPlayheadMoved{Index: s.Current},
		FxResolve{Epoch: s.Epoch, Index: s.Current},
	}
}
