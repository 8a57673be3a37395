package player

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/dgnsrekt/chaptervoice/internal/ttypes"
)

func sampleQueue(n int) []ttypes.AudioTrack {
	tracks := make([]ttypes.AudioTrack, n)
	for i := range tracks {
		tracks[i] = ttypes.AudioTrack{
			ID: fmt.Sprintf("t%d", i),
			Segment: ttypes.Segment{
				BookID:       "book",
				ChapterIndex: 1,
				SegmentIndex: i,
				Text:         fmt.Sprintf("Track number %d reporting in.", i),
			},
		}
	}
	return tracks
}

func activeState(n int) State {
	return State{
		Mode:    ModeActive,
		Queue:   sampleQueue(n),
		Rate:    1.0,
		Epoch:   1,
		Current: 0,
		View:    0,
	}
}

func playingState(n, at int) State {
	s := activeState(n)
	s.Current = at
	s.View = at
	s.IsPlaying = true
	s.Loaded = true
	return s
}

func fxNames(fx []Effect) string {
	names := make([]string, 0, len(fx))
	for _, f := range fx {
		switch f.(type) {
		case FxResolve:
			names = append(names, "resolve")
		case FxCancelResolve:
			names = append(names, "cancel")
		case FxPlayFile:
			names = append(names, "play")
		case FxPause:
			names = append(names, "pause")
		case FxResume:
			names = append(names, "resume")
		case FxStop:
			names = append(names, "stop")
		case FxSetSpeed:
			names = append(names, "speed")
		case FxPlayheadMoved:
			names = append(names, "playhead")
		case FxChapterDone:
			names = append(names, "done")
		default:
			names = append(names, "unknown")
		}
	}
	return strings.Join(names, ",")
}

func wantFx(t *testing.T, fx []Effect, want string) {
	t.Helper()
	if got := fxNames(fx); got != want {
		t.Fatalf("effects = %q, want %q", got, want)
	}
}

func TestLoadChapter(t *testing.T) {
	t.Run("autoplay buffers the first track", func(t *testing.T) {
		s, fx := Transition(State{Mode: ModeIdle, Rate: 1.0}, EvLoadChapter{
			BookID:   "book",
			Tracks:   sampleQueue(3),
			AutoPlay: true,
		})
		wantFx(t, fx, "cancel,playhead,resolve")
		if s.Mode != ModeLoading {
			t.Fatalf("mode = %v, want loading", s.Mode)
		}
		if !s.IsBuffering || s.IsPlaying {
			t.Fatalf("buffering=%v playing=%v, want buffering only", s.IsBuffering, s.IsPlaying)
		}
		if s.Epoch != 1 {
			t.Fatalf("epoch = %d, want 1", s.Epoch)
		}
		r := fx[2].(FxResolve)
		if r.Epoch != s.Epoch || r.Index != 0 {
			t.Fatalf("resolve = %+v, want epoch %d index 0", r, s.Epoch)
		}
	})

	t.Run("without autoplay stays idle at position", func(t *testing.T) {
		s, fx := Transition(State{Mode: ModeIdle, Rate: 1.0}, EvLoadChapter{
			BookID:     "book",
			Tracks:     sampleQueue(5),
			StartIndex: 2,
		})
		wantFx(t, fx, "cancel,playhead")
		if s.Mode != ModeActive || s.IsBuffering || s.IsPlaying {
			t.Fatalf("state = %+v, want active and quiet", s)
		}
		if s.Current != 2 || s.View != 2 {
			t.Fatalf("position = %d/%d, want 2/2", s.Current, s.View)
		}
	})

	t.Run("empty queue lands in idle", func(t *testing.T) {
		s, _ := Transition(playingState(3, 1), EvLoadChapter{BookID: "other"})
		if s.Mode != ModeIdle || s.IsPlaying {
			t.Fatalf("state = %+v, want idle", s)
		}
	})

	t.Run("load over playback stops the output", func(t *testing.T) {
		prev := playingState(3, 1)
		s, fx := Transition(prev, EvLoadChapter{
			BookID:   "next",
			Tracks:   sampleQueue(2),
			AutoPlay: true,
		})
		wantFx(t, fx, "stop,cancel,playhead,resolve")
		if s.Epoch != prev.Epoch+1 {
			t.Fatalf("epoch = %d, want %d", s.Epoch, prev.Epoch+1)
		}
	})

	t.Run("start index clamps into range", func(t *testing.T) {
		s, _ := Transition(State{Mode: ModeIdle, Rate: 1.0}, EvLoadChapter{
			BookID:     "book",
			Tracks:     sampleQueue(3),
			StartIndex: 99,
		})
		if s.Current != 2 {
			t.Fatalf("current = %d, want 2", s.Current)
		}
	})
}

func TestPlayPause(t *testing.T) {
	t.Run("play from cold buffers", func(t *testing.T) {
		s, fx := Transition(activeState(3), EvPlay{})
		wantFx(t, fx, "resolve")
		if !s.IsBuffering || s.IsPlaying {
			t.Fatalf("buffering=%v playing=%v", s.IsBuffering, s.IsPlaying)
		}
	})

	t.Run("play while playing is a no-op", func(t *testing.T) {
		s, fx := Transition(playingState(3, 0), EvPlay{})
		wantFx(t, fx, "")
		if !s.IsPlaying {
			t.Fatal("stopped playing")
		}
	})

	t.Run("play with loaded track resumes", func(t *testing.T) {
		paused := playingState(3, 0)
		paused.IsPlaying = false
		s, fx := Transition(paused, EvPlay{})
		wantFx(t, fx, "resume")
		if !s.IsPlaying {
			t.Fatal("not playing after resume")
		}
	})

	t.Run("pause while playing", func(t *testing.T) {
		s, fx := Transition(playingState(3, 0), EvPause{})
		wantFx(t, fx, "pause")
		if s.IsPlaying {
			t.Fatal("still playing")
		}
		if !s.Loaded {
			t.Fatal("pause should keep the track loaded")
		}
	})

	t.Run("pause while buffering keeps the resolve alive", func(t *testing.T) {
		buf := activeState(3)
		buf.IsBuffering = true
		s, fx := Transition(buf, EvPause{})
		wantFx(t, fx, "")
		if s.IsBuffering {
			t.Fatal("still buffering")
		}

		// The resolve finishes later; playback must not restart on
		// its own.
		s2, fx2 := Transition(s, EvTrackReady{Epoch: s.Epoch, Index: s.Current, Path: "a.wav"})
		wantFx(t, fx2, "")
		if s2.IsPlaying || s2.Loaded {
			t.Fatalf("late ready auto-played: %+v", s2)
		}
		if s2.Err != nil {
			t.Fatalf("err = %v", s2.Err)
		}
	})

	t.Run("stop clears the loaded track", func(t *testing.T) {
		s, fx := Transition(playingState(3, 1), EvStop{})
		wantFx(t, fx, "stop,cancel")
		if s.IsPlaying || s.Loaded || s.IsBuffering {
			t.Fatalf("state = %+v", s)
		}
		if s.Current != 1 {
			t.Fatal("stop moved the playhead")
		}
	})
}

func TestTrackReady(t *testing.T) {
	t.Run("ready while buffering starts playback", func(t *testing.T) {
		buf := activeState(3)
		buf.IsBuffering = true
		buf.Err = errors.New("old failure")
		s, fx := Transition(buf, EvTrackReady{Epoch: buf.Epoch, Index: 0, Path: "seg0.wav"})
		wantFx(t, fx, "play")
		if !s.IsPlaying || s.IsBuffering || !s.Loaded {
			t.Fatalf("state = %+v", s)
		}
		if s.Err != nil {
			t.Fatal("success did not clear the error")
		}
		pf := fx[0].(FxPlayFile)
		if pf.Path != "seg0.wav" || pf.Rate != 1.0 {
			t.Fatalf("playfile = %+v", pf)
		}
	})

	t.Run("loading becomes active on first ready", func(t *testing.T) {
		s0, _ := Transition(State{Mode: ModeIdle, Rate: 1.0}, EvLoadChapter{
			BookID: "book", Tracks: sampleQueue(2), AutoPlay: true,
		})
		s, _ := Transition(s0, EvTrackReady{Epoch: s0.Epoch, Index: 0, Path: "a.wav"})
		if s.Mode != ModeActive {
			t.Fatalf("mode = %v, want active", s.Mode)
		}
	})

	t.Run("stale epoch is ignored", func(t *testing.T) {
		buf := activeState(3)
		buf.IsBuffering = true
		s, fx := Transition(buf, EvTrackReady{Epoch: buf.Epoch - 1, Index: 0, Path: "old.wav"})
		wantFx(t, fx, "")
		if !s.IsBuffering || s.IsPlaying {
			t.Fatalf("stale ready changed state: %+v", s)
		}
	})

	t.Run("wrong index is ignored", func(t *testing.T) {
		buf := activeState(3)
		buf.IsBuffering = true
		s, fx := Transition(buf, EvTrackReady{Epoch: buf.Epoch, Index: 2, Path: "wrong.wav"})
		wantFx(t, fx, "")
		if !s.IsBuffering {
			t.Fatalf("mismatched ready changed state: %+v", s)
		}
	})
}

func TestTrackFailed(t *testing.T) {
	buf := activeState(3)
	buf.IsBuffering = true
	failure := errors.New("engine exploded")

	s, fx := Transition(buf, EvTrackFailed{Epoch: buf.Epoch, Index: 0, Err: failure})
	wantFx(t, fx, "")
	if s.IsBuffering || s.IsPlaying {
		t.Fatalf("state = %+v", s)
	}
	if !errors.Is(s.Err, failure) {
		t.Fatalf("err = %v, want %v", s.Err, failure)
	}

	// Play retries the same track.
	s2, fx2 := Transition(s, EvPlay{})
	wantFx(t, fx2, "resolve")
	if !s2.IsBuffering {
		t.Fatal("retry did not buffer")
	}
}

func TestSeek(t *testing.T) {
	t.Run("seek while playing carries intent", func(t *testing.T) {
		s, fx := Transition(playingState(5, 1), EvSeekCommit{Index: 3})
		wantFx(t, fx, "stop,cancel,playhead,resolve")
		if s.Current != 3 || s.View != 3 {
			t.Fatalf("position = %d/%d, want 3/3", s.Current, s.View)
		}
		if !s.IsBuffering || s.IsPlaying || s.Loaded {
			t.Fatalf("state = %+v", s)
		}
	})

	t.Run("seek while paused stays paused", func(t *testing.T) {
		paused := activeState(5)
		paused.Current, paused.View = 1, 1
		s, fx := Transition(paused, EvSeekCommit{Index: 4})
		wantFx(t, fx, "cancel,playhead")
		if s.IsBuffering || s.IsPlaying {
			t.Fatalf("state = %+v", s)
		}
		if s.Current != 4 {
			t.Fatalf("current = %d, want 4", s.Current)
		}
	})

	t.Run("seek to the same track does nothing", func(t *testing.T) {
		s, fx := Transition(playingState(5, 2), EvSeekCommit{Index: 2})
		wantFx(t, fx, "")
		if !s.IsPlaying {
			t.Fatal("same-track seek disturbed playback")
		}
	})

	t.Run("next and previous respect the edges", func(t *testing.T) {
		_, fx := Transition(playingState(3, 2), EvNext{})
		wantFx(t, fx, "")
		_, fx = Transition(playingState(3, 0), EvPrevious{})
		wantFx(t, fx, "")
	})

	t.Run("next advances while playing", func(t *testing.T) {
		s, fx := Transition(playingState(3, 0), EvNext{})
		wantFx(t, fx, "stop,cancel,playhead,resolve")
		if s.Current != 1 || !s.IsBuffering {
			t.Fatalf("state = %+v", s)
		}
	})
}

func TestTrackDone(t *testing.T) {
	t.Run("completion advances and buffers the next track", func(t *testing.T) {
		s, fx := Transition(playingState(3, 0), EvTrackDone{Index: 0})
		wantFx(t, fx, "playhead,resolve")
		if s.Current != 1 || !s.IsBuffering || s.IsPlaying || s.Loaded {
			t.Fatalf("state = %+v", s)
		}
	})

	t.Run("last track finishes the chapter", func(t *testing.T) {
		s, fx := Transition(playingState(3, 2), EvTrackDone{Index: 2})
		wantFx(t, fx, "done")
		if s.IsPlaying || s.IsBuffering {
			t.Fatalf("state = %+v", s)
		}
		if s.Current != 2 {
			t.Fatal("chapter end moved the playhead")
		}
	})

	t.Run("completion for a dropped track is ignored", func(t *testing.T) {
		s, fx := Transition(playingState(5, 3), EvTrackDone{Index: 1})
		wantFx(t, fx, "")
		if s.Current != 3 || !s.IsPlaying {
			t.Fatalf("state = %+v", s)
		}
	})

	t.Run("completion while paused is ignored", func(t *testing.T) {
		paused := playingState(3, 0)
		paused.IsPlaying = false
		s, fx := Transition(paused, EvTrackDone{Index: 0})
		wantFx(t, fx, "")
		if s.Current != 0 {
			t.Fatal("paused completion advanced")
		}
	})
}

func TestPreview(t *testing.T) {
	t.Run("browse moves only the view", func(t *testing.T) {
		s, fx := Transition(playingState(5, 1), EvBrowse{Index: 4})
		wantFx(t, fx, "")
		if s.Mode != ModePreview || s.View != 4 || s.Current != 1 {
			t.Fatalf("state = %+v", s)
		}
		if !s.IsPlaying {
			t.Fatal("browsing interrupted playback")
		}
	})

	t.Run("commit merges the view into playback", func(t *testing.T) {
		s0, _ := Transition(playingState(5, 1), EvBrowse{Index: 4})
		s, fx := Transition(s0, EvBrowseCommit{})
		wantFx(t, fx, "stop,cancel,playhead,resolve")
		if s.Mode != ModeActive || s.Current != 4 || s.View != 4 {
			t.Fatalf("state = %+v", s)
		}
		if !s.IsBuffering {
			t.Fatal("commit dropped the intent to play")
		}
	})

	t.Run("commit at the playing track only leaves preview", func(t *testing.T) {
		s0, _ := Transition(playingState(5, 1), EvBrowse{Index: 1})
		s, fx := Transition(s0, EvBrowseCommit{})
		wantFx(t, fx, "")
		if s.Mode != ModeActive || !s.IsPlaying {
			t.Fatalf("state = %+v", s)
		}
	})

	t.Run("close restores the view", func(t *testing.T) {
		s0, _ := Transition(playingState(5, 1), EvBrowse{Index: 4})
		s, fx := Transition(s0, EvBrowseClose{})
		wantFx(t, fx, "")
		if s.Mode != ModeActive || s.View != 1 {
			t.Fatalf("state = %+v", s)
		}
	})

	t.Run("playback continues advancing under preview", func(t *testing.T) {
		s0, _ := Transition(playingState(5, 1), EvBrowse{Index: 4})
		s, fx := Transition(s0, EvTrackDone{Index: 1})
		wantFx(t, fx, "playhead,resolve")
		if s.Current != 2 || s.View != 4 || s.Mode != ModePreview {
			t.Fatalf("state = %+v", s)
		}
	})
}

func TestRateChange(t *testing.T) {
	t.Run("playing rate change reaches the output", func(t *testing.T) {
		s, fx := Transition(playingState(3, 0), EvRateChange{Rate: 1.5})
		wantFx(t, fx, "speed")
		if s.Rate != 1.5 {
			t.Fatalf("rate = %v", s.Rate)
		}
	})

	t.Run("rate clamps to the supported range", func(t *testing.T) {
		s, _ := Transition(activeState(3), EvRateChange{Rate: 99})
		if s.Rate != 3.0 {
			t.Fatalf("rate = %v, want 3.0", s.Rate)
		}
	})

	t.Run("idle rate change is stored silently", func(t *testing.T) {
		s, fx := Transition(State{Mode: ModeIdle, Rate: 1.0}, EvRateChange{Rate: 2.0})
		wantFx(t, fx, "")
		if s.Rate != 2.0 {
			t.Fatalf("rate = %v", s.Rate)
		}
	})
}

func TestOutputErrorEvent(t *testing.T) {
	failure := errors.New("device lost")
	s, fx := Transition(playingState(3, 1), EvOutputError{Err: failure})
	wantFx(t, fx, "")
	if s.IsPlaying || s.Loaded {
		t.Fatalf("state = %+v", s)
	}
	if !errors.Is(s.Err, failure) {
		t.Fatalf("err = %v", s.Err)
	}

	// Play recovers by resolving again.
	s2, fx2 := Transition(s, EvPlay{})
	wantFx(t, fx2, "resolve")
	if !s2.IsBuffering {
		t.Fatal("recovery did not buffer")
	}
}

// TestTransitionInvariants sweeps every event over representative
// states and checks the properties that must hold everywhere.
func TestTransitionInvariants(t *testing.T) {
	bufferingState := func() State {
		s := activeState(4)
		s.IsBuffering = true
		return s
	}
	pausedLoaded := func() State {
		s := playingState(4, 2)
		s.IsPlaying = false
		return s
	}
	previewState := func() State {
		s, _ := Transition(playingState(4, 1), EvBrowse{Index: 3})
		return s
	}
	loadingState := func() State {
		s, _ := Transition(State{Mode: ModeIdle, Rate: 1.0}, EvLoadChapter{
			BookID: "book", Tracks: sampleQueue(4), AutoPlay: true,
		})
		return s
	}

	states := map[string]func() State{
		"idle":          func() State { return State{Mode: ModeIdle, Rate: 1.0} },
		"loading":       loadingState,
		"active-quiet":  func() State { return activeState(4) },
		"buffering":     bufferingState,
		"playing":       func() State { return playingState(4, 1) },
		"paused-loaded": pausedLoaded,
		"preview":       previewState,
	}

	events := []Event{
		EvLoadChapter{BookID: "b", Tracks: sampleQueue(2), AutoPlay: true},
		EvLoadChapter{},
		EvPlay{},
		EvPause{},
		EvStop{},
		EvNext{},
		EvPrevious{},
		EvSeekCommit{Index: 3},
		EvSeekCommit{Index: -7},
		EvReload{},
		EvBrowse{Index: 2},
		EvBrowseCommit{},
		EvBrowseClose{},
		EvRateChange{Rate: 2.0},
		EvRateChange{Rate: -1},
		EvTrackReady{Epoch: 1, Index: 1, Path: "x.wav"},
		EvTrackFailed{Epoch: 1, Index: 1, Err: errors.New("x")},
		EvTrackDone{Index: 1},
		EvOutputError{Err: errors.New("y")},
	}

	for name, mk := range states {
		for _, ev := range events {
			s, _ := Transition(mk(), ev)
			if s.IsPlaying && s.IsBuffering {
				t.Fatalf("%s + %T: playing and buffering at once", name, ev)
			}
			if len(s.Queue) > 0 && (s.Current < 0 || s.Current >= len(s.Queue)) {
				t.Fatalf("%s + %T: current %d out of range", name, ev, s.Current)
			}
			if len(s.Queue) > 0 && (s.View < 0 || s.View >= len(s.Queue)) {
				t.Fatalf("%s + %T: view %d out of range", name, ev, s.View)
			}
			if s.IsPlaying && !s.Loaded {
				t.Fatalf("%s + %T: playing without a loaded track", name, ev)
			}
			if s.Mode != ModePreview && s.View != s.Current {
				t.Fatalf("%s + %T: view %d drifted from current %d", name, ev, s.View, s.Current)
			}
		}
	}
}
