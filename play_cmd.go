package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/term"

	"github.com/dgnsrekt/chaptervoice/internal/audio"
	"github.com/dgnsrekt/chaptervoice/internal/cache"
	"github.com/dgnsrekt/chaptervoice/internal/engine"
	"github.com/dgnsrekt/chaptervoice/internal/guard"
	"github.com/dgnsrekt/chaptervoice/internal/player"
	"github.com/dgnsrekt/chaptervoice/internal/prefetch"
	"github.com/dgnsrekt/chaptervoice/internal/segment"
	"github.com/dgnsrekt/chaptervoice/internal/synth"
	"github.com/dgnsrekt/chaptervoice/internal/ttypes"
	"github.com/dgnsrekt/chaptervoice/internal/tune"
	"github.com/dgnsrekt/chaptervoice/utils"
)

// rateStep is the playback rate change per keypress.
const rateStep = 0.25

var (
	playStart int
	playMute  bool

	playCmd = &cobra.Command{
		Use:   "play FILE",
		Short: "Read a chapter aloud",
		Long: paragraph(
			fmt.Sprintf("\n%s a markdown or plain-text chapter: the file is split into sentences, synthesized ahead of the playhead, and streamed to the default audio device.", keyword("Play")),
		),
		Example: paragraph("chaptervoice play chapter1.md\nchaptervoice play --voice piper:en_US-lessac-medium --rate 1.25 chapter1.md"),
		Args:    cobra.ExactArgs(1),
		RunE:    runPlay,
	}
)

func init() {
	playCmd.Flags().StringP("voice", "v", "", "voice id, as engine:name or a bare name for the default engine")
	playCmd.Flags().Float64P("rate", "r", 0, "playback rate (0.5 to 3.0)")
	playCmd.Flags().String("engine", "", "engine namespace for bare voice names (mock/piper/kokoro/supertonic)")
	playCmd.Flags().IntVar(&playStart, "start", 0, "segment index to start from")
	playCmd.Flags().BoolVar(&playMute, "mute", false, "run the full pipeline without an audio device, advancing as tracks become ready")

	_ = viper.BindPFlag("voice", playCmd.Flags().Lookup("voice"))
	_ = viper.BindPFlag("rate", playCmd.Flags().Lookup("rate"))
	_ = viper.BindPFlag("engine", playCmd.Flags().Lookup("engine"))
}

func runPlay(_ *cobra.Command, args []string) error {
	text, bookID, err := readChapter(args[0])
	if err != nil {
		return err
	}

	voice := qualifyVoice(viper.GetString("voice"))
	rate := ttypes.ClampRate(viper.GetFloat64("rate"))
	keyWithRate := viper.GetBool("prefetch.key_with_rate")

	segs := segment.New().Split(bookID, 0, text)
	if len(segs) == 0 {
		return fmt.Errorf("no speakable text in %s", args[0])
	}
	start := playStart
	if start < 0 || start >= len(segs) {
		start = 0
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close() //nolint:errcheck

	reg := buildRegistry()
	defer reg.Close() //nolint:errcheck

	readyCtx, cancel := context.WithTimeout(ctx, engine.DefaultReadinessTimeout)
	err = reg.EnsureVoiceReady(readyCtx, voice)
	cancel()
	if err != nil {
		return err
	}

	conc, maxConc, rtf := concurrencyFor(voice)

	coord := synth.NewCoordinator(store, reg, synth.Config{Concurrency: conc})
	defer coord.Close() //nolint:errcheck

	gov := tune.NewGovernor(coord, maxConc, tune.GovernorConfig{})

	sched := prefetch.New(coord, store, prefetch.Config{
		LowWatermarkSec:  viper.GetFloat64("prefetch.low_watermark_sec"),
		HighWatermarkSec: viper.GetFloat64("prefetch.high_watermark_sec"),
		Ahead:            viper.GetInt("prefetch.ahead"),
		KeyWithRate:      keyWithRate,
	})
	defer sched.Close() //nolint:errcheck
	sched.SetVoice(voice)
	sched.SetRate(rate)
	if rtf > 0 {
		sched.SetRTF(rtf)
	}

	out, err := openOutput()
	if err != nil {
		return err
	}

	chapterDone := make(chan struct{})
	ctrl := player.New(coord, out, player.Config{
		VoiceID:       voice,
		Rate:          rate,
		KeyWithRate:   keyWithRate,
		OnAdvance:     sched.Advance,
		OnChapterDone: func() { close(chapterDone) },
	})
	defer ctrl.Close() //nolint:errcheck

	mem := guard.NewMemoryMonitor(sched, coord, store, guard.MemoryConfig{})
	mem.Start()
	defer mem.Close() //nolint:errcheck

	rateGuard := guard.NewRateGuard(rate, guard.DefaultRateDebounce, func(r float64) {
		ctrl.SetRate(r)
		sched.SetRate(r)
	})
	defer rateGuard.Close()

	// Raw mode turns single keypresses into transport commands. Ctrl-C
	// arrives as a byte in raw mode, so quitting goes through stop.
	interactive := term.IsTerminal(int(os.Stdin.Fd())) && !playMute
	if interactive {
		oldState, rawErr := term.MakeRaw(int(os.Stdin.Fd()))
		if rawErr != nil {
			interactive = false
		} else {
			defer term.Restore(int(os.Stdin.Fd()), oldState) //nolint:errcheck
			go readKeys(ctrl, rateGuard, stop)
		}
	}
	printf := newPrinter(interactive)

	var underruns atomic.Int64
	startedAt := time.Now()
	go renderStates(ctrl.Subscribe(), printf, len(segs), &underruns)
	go steer(ctx, chapterDone, gov, coord, sched, rateGuard, &underruns, startedAt, printf)

	printf("%s %s", keyword("Playing"), args[0])
	printf("%s", subtle(fmt.Sprintf("voice %s, %d segments, rate %.2fx, concurrency %d", voice, len(segs), rate, conc)))
	if interactive {
		printf("%s", subtle("space pause/resume, n/p skip, +/- rate, q quit"))
	}

	sched.SetChapter(segs, start)
	ctrl.LoadChapter(bookID, tracksFor(segs), start, true)

	select {
	case <-ctx.Done():
		printf("interrupted")
	case <-chapterDone:
		printf("%s", keyword("Chapter complete"))
	}

	logSummary(coord, store)
	return nil
}

// readChapter loads a chapter file and derives a book id from its
// name. Markdown frontmatter is dropped; the segmenter handles the
// rest of the syntax.
func readChapter(arg string) (text, bookID string, err error) {
	path := utils.ExpandPath(arg)
	b, err := os.ReadFile(path) //nolint:gosec
	if err != nil {
		return "", "", fmt.Errorf("unable to open file: %w", err)
	}
	if utils.IsMarkdownFile(path) {
		b = utils.RemoveFrontmatter(b)
	}
	base := filepath.Base(path)
	return string(b), strings.TrimSuffix(base, filepath.Ext(base)), nil
}

func tracksFor(segs []ttypes.Segment) []ttypes.AudioTrack {
	tracks := make([]ttypes.AudioTrack, len(segs))
	for i, seg := range segs {
		tracks[i] = ttypes.AudioTrack{ID: seg.Ref(), Segment: seg}
	}
	return tracks
}

// concurrencyFor resolves the starting concurrency and the governor
// ceiling: explicit config first, then the calibrated profile, then a
// conservative single worker.
func concurrencyFor(voice string) (conc, max int, rtf float64) {
	if n := viper.GetInt("synthesis.concurrency"); n > 0 {
		return n, n, 0
	}
	profiles := tune.NewProfileStore(profilesPath())
	p, ok, err := profiles.Load(voice)
	if err != nil {
		log.Warn("could not read calibration profiles", "err", err)
	}
	if !ok {
		log.Info("no calibration profile for voice, starting single-threaded", "voice", voice)
		return 1, 1, 0
	}
	return p.Concurrency, p.Concurrency, p.RTF
}

// openOutput picks the audio device, or a discard sink with --mute.
func openOutput() (ttypes.AudioOutput, error) {
	if playMute {
		out := audio.NewMockOutput()
		out.AutoComplete = 50 * time.Millisecond
		return out, nil
	}
	out, err := audio.NewOutput()
	if err != nil {
		return nil, fmt.Errorf("unable to open audio device: %w", err)
	}
	return out, nil
}

// newPrinter returns a line printer. Raw terminal mode needs explicit
// carriage returns.
func newPrinter(interactive bool) func(format string, a ...any) {
	return func(format string, a ...any) {
		if interactive {
			fmt.Print(fmt.Sprintf(format, a...) + "\r\n")
			return
		}
		fmt.Printf(format+"\n", a...)
	}
}

// readKeys maps single keypresses to transport commands. Runs until
// stdin closes or the user quits.
func readKeys(ctrl *player.Controller, rateGuard *guard.RateGuard, quit func()) {
	buf := make([]byte, 1)
	for {
		n, err := os.Stdin.Read(buf)
		if err != nil || n == 0 {
			return
		}
		switch buf[0] {
		case ' ':
			ctrl.TogglePlay()
		case 'n':
			ctrl.Next()
		case 'p':
			ctrl.Previous()
		case '+', '=':
			rateGuard.Request(rateGuard.Current() + rateStep)
		case '-', '_':
			rateGuard.Request(rateGuard.Current() - rateStep)
		case 'q', 3: // 3 is ctrl-c in raw mode
			quit()
			return
		}
	}
}

// renderStates prints transport transitions from the controller's
// state stream and counts underruns: stalls into buffering after
// playback had started.
func renderStates(sub <-chan player.State, printf func(string, ...any), total int, underruns *atomic.Int64) {
	var prev player.State
	have := false
	for st := range sub {
		switch {
		case st.Err != nil && (!have || prev.Err == nil):
			printf("%s track %d: %v", keyword("failed"), st.Current+1, st.Err)
		case st.IsBuffering && (!have || !prev.IsBuffering):
			if have && prev.IsPlaying {
				underruns.Add(1)
			}
			printf("%s %d/%d", subtle("buffering"), st.Current+1, total)
		case st.IsPlaying && (!have || !prev.IsPlaying || prev.Current != st.Current):
			if tr, ok := st.CurrentTrack(); ok {
				printf("%s %d/%d %s", keyword("playing"), st.Current+1, total, subtle(snippet(tr.Segment.Text, 60)))
			}
		case have && prev.IsPlaying && !st.IsPlaying && !st.IsBuffering && st.Mode != player.ModeIdle:
			printf("%s", subtle("paused"))
		}
		if have && prev.Rate != st.Rate {
			printf("%s %.2fx", subtle("rate"), st.Rate)
		}
		prev, have = st, true
	}
}

// steer runs the feedback loops: the governor follows buffered lead
// every second, and the auto-tuner records adopted tunings and rolls
// back regressions.
func steer(ctx context.Context, done <-chan struct{}, gov *tune.Governor, coord *synth.Coordinator, sched *prefetch.Scheduler, rateGuard *guard.RateGuard, underruns *atomic.Int64, startedAt time.Time, printf func(string, ...any)) {
	tuner := tune.NewAutoTune(pipelineTuning{coord: coord, sched: sched})
	tuner.Record(tune.Snapshot{Concurrency: coord.Concurrency(), PrefetchAhead: sched.Ahead()})

	rate := func() float64 {
		mins := time.Since(startedAt).Minutes()
		if mins <= 0 {
			return 0
		}
		return float64(underruns.Load()) / mins
	}

	tick := time.NewTicker(time.Second)
	defer tick.Stop()
	lastConc, lastAhead := coord.Concurrency(), sched.Ahead()
	n := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case <-tick.C:
		}

		gov.Observe(sched.BufferedLeadSeconds(), rateGuard.Current())

		conc, ahead := coord.Concurrency(), sched.Ahead()
		if conc != lastConc || ahead != lastAhead {
			st := coord.Stats()
			tuner.Record(tune.Snapshot{
				Concurrency:   conc,
				PrefetchAhead: ahead,
				FailureRate:   st.FailureRate(),
				UnderrunRate:  rate(),
			})
			lastConc, lastAhead = conc, ahead
		}
		if n++; n%30 == 0 {
			if snap, ok := tuner.Evaluate(coord.Stats().FailureRate(), rate()); ok {
				printf("%s reverting to concurrency %d", subtle("tuning regressed,"), snap.Concurrency)
				lastConc, lastAhead = snap.Concurrency, snap.PrefetchAhead
			}
		}
	}
}

// pipelineTuning fans a restored tuning out to both knobs.
type pipelineTuning struct {
	coord *synth.Coordinator
	sched *prefetch.Scheduler
}

func (p pipelineTuning) SetConcurrency(n int) { p.coord.SetConcurrency(n) }
func (p pipelineTuning) SetAhead(n int)       { p.sched.SetAhead(n) }

func snippet(text string, max int) string {
	text = strings.Join(strings.Fields(text), " ")
	r := []rune(text)
	if len(r) <= max {
		return text
	}
	return string(r[:max]) + "…"
}

func logSummary(coord *synth.Coordinator, store *cache.Store) {
	st := coord.Stats()
	cs := store.Stats()
	log.Info("session summary",
		"engine_calls", st.EngineCalls,
		"cache_hits", st.CacheHits,
		"dedup_joins", st.DedupJoins,
		"failures", st.Failures,
		"cache_size", humanize.IBytes(uint64(cs.Size)), //nolint:gosec
		"cache_items", cs.ItemCount)
}
