package tune

import (
	"context"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"github.com/dgnsrekt/chaptervoice/internal/ttypes"
)

// FastEnoughRTF is the real-time factor under which extra concurrency
// stops mattering: synthesis at half of real time keeps any buffer
// full on its own. Calibration stops escalating once a level gets
// under it.
const FastEnoughRTF = 0.5

const (
	// minGainOverBaseline is the throughput improvement over level 1 a
	// level must show to be adopted at all.
	minGainOverBaseline = 0.10

	// minGainOverPrevious is the additional improvement over the last
	// adopted level required to keep escalating.
	minGainOverPrevious = 0.05

	// maxCalibrationFailureRate stops escalation: a level that makes
	// the engine fail is overload, not speedup.
	maxCalibrationFailureRate = 0.10
)

// defaultCorpus is a small mixed-length sample. Real chapter text
// varies the same way: short connective sentences between longer
// descriptive ones.
var defaultCorpus = []string{
	"The door opened.",
	"Nobody had expected an answer that quickly, least of all the person who asked.",
	"Rain kept falling through the afternoon and into the evening without any sign of letting up.",
	"She waited.",
	"The committee reviewed the proposal for a third time before admitting that nobody understood it.",
	"Far below the bridge the river churned gray and cold against the pilings.",
	"He wrote the number down, folded the paper twice, and put it in his coat pocket.",
	"It was enough.",
}

// LevelResult is the measurement of one concurrency level.
type LevelResult struct {
	Concurrency   int
	WallClock     time.Duration
	AudioDuration time.Duration
	RTF           float64
	Requests      int
	Failures      int
}

// FailureRate is the fraction of requests that failed at this level.
func (r LevelResult) FailureRate() float64 {
	if r.Requests == 0 {
		return 0
	}
	return float64(r.Failures) / float64(r.Requests)
}

// Result is a full calibration outcome.
type Result struct {
	VoiceID string
	Levels  []LevelResult
	Chosen  int
	Speedup float64
	RTF     float64
	Warning string
}

// Profile converts the result into its persistable form.
func (r Result) Profile(engine ttypes.EngineType) Profile {
	return Profile{
		VoiceID:     r.VoiceID,
		Engine:      string(engine),
		Concurrency: r.Chosen,
		Speedup:     r.Speedup,
		RTF:         r.RTF,
		Warning:     r.Warning,
		MeasuredAt:  time.Now(),
	}
}

// CalibratorConfig tunes a calibration run.
type CalibratorConfig struct {
	// Corpus overrides the default sample sentences.
	Corpus []string

	// TargetRate is the playback rate calibration optimizes for.
	// Faster playback consumes audio faster, so thresholds tighten
	// proportionally. Defaults to 1.0.
	TargetRate float64

	// FastEnoughRTF overrides the early-exit threshold.
	FastEnoughRTF float64
}

// Calibrator measures a voice's synthesis throughput at increasing
// concurrency levels and picks the lowest level that is fast enough.
// It talks to the engine directly: calibration wants raw engine
// parallelism, not queue behavior.
type Calibrator struct {
	eng ttypes.SynthesisEngine
	cfg CalibratorConfig
}

// NewCalibrator returns a calibrator for one engine.
func NewCalibrator(eng ttypes.SynthesisEngine, cfg CalibratorConfig) *Calibrator {
	if len(cfg.Corpus) == 0 {
		cfg.Corpus = defaultCorpus
	}
	if cfg.TargetRate <= 0 {
		cfg.TargetRate = ttypes.CanonicalRate
	}
	if cfg.FastEnoughRTF <= 0 {
		cfg.FastEnoughRTF = FastEnoughRTF
	}
	return &Calibrator{eng: eng, cfg: cfg}
}

// Run calibrates the voice at levels 1, 2 and 3, stopping early when a
// level is already fast enough or when escalation stops paying.
func (c *Calibrator) Run(ctx context.Context, voiceID string) (Result, error) {
	// First-request model load would otherwise be charged to level 1.
	c.eng.WarmUp(ctx, voiceID)

	res := Result{VoiceID: voiceID, Chosen: 1}

	baseline, err := c.runLevel(ctx, voiceID, 1)
	if err != nil {
		return res, err
	}
	res.Levels = append(res.Levels, baseline)
	res.Speedup = 1.0
	res.RTF = baseline.RTF
	log.Debug("calibration level done", "voice", voiceID, "level", 1,
		"wall", baseline.WallClock, "rtf", fmt.Sprintf("%.3f", baseline.RTF))

	if baseline.FailureRate() > maxCalibrationFailureRate {
		res.Warning = fmt.Sprintf("baseline failure rate %.0f%%, keeping concurrency 1", baseline.FailureRate()*100)
		return res, nil
	}
	// RTF thresholds tighten with the target playback rate: audio
	// consumed at 2x leaves half the wall-clock time to produce it.
	if baseline.RTF*c.cfg.TargetRate < c.cfg.FastEnoughRTF {
		return res, nil
	}

	chosen := baseline
	for _, level := range []int{2, 3} {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		lr, err := c.runLevel(ctx, voiceID, level)
		if err != nil {
			return res, err
		}
		res.Levels = append(res.Levels, lr)
		log.Debug("calibration level done", "voice", voiceID, "level", level,
			"wall", lr.WallClock, "rtf", fmt.Sprintf("%.3f", lr.RTF),
			"failures", lr.Failures)

		if lr.FailureRate() > maxCalibrationFailureRate {
			res.Warning = fmt.Sprintf("concurrency %d failure rate %.0f%%, keeping %d",
				level, lr.FailureRate()*100, chosen.Concurrency)
			break
		}
		overBaseline := gain(baseline.WallClock, lr.WallClock)
		overPrevious := gain(chosen.WallClock, lr.WallClock)
		if overBaseline <= minGainOverBaseline || overPrevious <= minGainOverPrevious {
			// Diminishing returns; higher levels only burn battery.
			break
		}
		chosen = lr
		if lr.RTF*c.cfg.TargetRate < c.cfg.FastEnoughRTF {
			break
		}
	}

	res.Chosen = chosen.Concurrency
	res.RTF = chosen.RTF
	if chosen.WallClock > 0 {
		res.Speedup = float64(baseline.WallClock) / float64(chosen.WallClock)
	}
	return res, nil
}

// gain is the fractional throughput improvement going from the old
// wall time to the new one.
func gain(old, cur time.Duration) float64 {
	if cur <= 0 {
		return 0
	}
	return float64(old)/float64(cur) - 1
}

// runLevel synthesizes the whole corpus at the given parallelism and
// measures it. Individual failures are counted, not fatal.
func (c *Calibrator) runLevel(ctx context.Context, voiceID string, concurrency int) (LevelResult, error) {
	var (
		g        errgroup.Group
		failures atomic.Int64
		audioMs  atomic.Int64
	)
	g.SetLimit(concurrency)

	start := time.Now()
	for i, text := range c.cfg.Corpus {
		text := text // per-iteration copy; required while go.mod targets go < 1.22
		opID := fmt.Sprintf("calibrate-%d-%d", concurrency, i)
		g.Go(func() error {
			sr, err := c.eng.SynthesizeSegment(ctx, ttypes.SynthesisRequest{
				OpID:    opID,
				VoiceID: voiceID,
				Text:    text,
				Rate:    ttypes.CanonicalRate,
			})
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				failures.Add(1)
				return nil
			}
			audioMs.Add(sr.DurationMs)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return LevelResult{}, err
	}
	wall := time.Since(start)

	lr := LevelResult{
		Concurrency:   concurrency,
		WallClock:     wall,
		AudioDuration: time.Duration(audioMs.Load()) * time.Millisecond,
		Requests:      len(c.cfg.Corpus),
		Failures:      int(failures.Load()),
	}
	if lr.AudioDuration > 0 {
		lr.RTF = float64(wall) / float64(lr.AudioDuration)
	} else {
		lr.RTF = math.Inf(1)
	}
	return lr, nil
}
