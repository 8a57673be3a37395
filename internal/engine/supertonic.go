package engine

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/dgnsrekt/chaptervoice/internal/audio"
	"github.com/dgnsrekt/chaptervoice/internal/ttypes"
)

const (
	supertonicSampleRate     = 44100
	supertonicRequestTimeout = 45 * time.Second
	supertonicMaxTextSize    = 4000
)

// coreAssets are the files the supertonic runner needs regardless of
// voice. Voice styles live next to them under voice_styles/.
var coreAssets = []string{
	filepath.Join("onnx", "duration_predictor.onnx"),
	filepath.Join("onnx", "text_encoder.onnx"),
	filepath.Join("onnx", "vector_estimator.onnx"),
	filepath.Join("onnx", "vocoder.onnx"),
	"tts.json",
	"unicode_indexer.json",
}

// SupertonicConfig configures the Supertonic ONNX runner engine.
type SupertonicConfig struct {
	// BinaryPath is the supertonic runner executable.
	BinaryPath string

	// AssetsDir holds the onnx/ model directory, tokenizer configs and
	// voice_styles/<name>.json files.
	AssetsDir string

	// RequestTimeout bounds a single synthesis subprocess.
	RequestTimeout time.Duration
}

// Supertonic drives the supertonic ONNX runner as a subprocess: text
// on stdin, WAV on stdout. Model weights stay on disk between runs;
// the runner loads them per invocation, which keeps this adapter
// stateless and crash-isolated at the cost of startup latency.
type Supertonic struct {
	cfg SupertonicConfig

	mu      sync.Mutex
	running map[string]*exec.Cmd
	closed  bool
}

// NewSupertonic returns a Supertonic engine rooted at cfg.AssetsDir.
func NewSupertonic(cfg SupertonicConfig) *Supertonic {
	if cfg.BinaryPath == "" {
		cfg.BinaryPath = "supertonic"
	}
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = supertonicRequestTimeout
	}
	return &Supertonic{cfg: cfg, running: make(map[string]*exec.Cmd)}
}

func (s *Supertonic) stylePath(voice string) string {
	return filepath.Join(s.cfg.AssetsDir, "voice_styles", voice+".json")
}

// missingCoreAssets returns the core files not present on disk.
func (s *Supertonic) missingCoreAssets() []string {
	var missing []string
	for _, rel := range coreAssets {
		if _, err := os.Stat(filepath.Join(s.cfg.AssetsDir, rel)); err != nil {
			missing = append(missing, rel)
		}
	}
	return missing
}

// Probe implements ttypes.SynthesisEngine.
func (s *Supertonic) Probe(context.Context) error {
	if _, err := exec.LookPath(s.cfg.BinaryPath); err != nil {
		return fmt.Errorf("%w: supertonic binary %q not on PATH", ttypes.ErrEngineNotAvailable, s.cfg.BinaryPath)
	}
	return nil
}

// EnsureCoreReady implements ttypes.SynthesisEngine.
func (s *Supertonic) EnsureCoreReady(ctx context.Context, _ string) error {
	if err := s.Probe(ctx); err != nil {
		return err
	}
	if missing := s.missingCoreAssets(); len(missing) > 0 {
		return fmt.Errorf("%w: supertonic assets missing: %v", ttypes.ErrEngineNotAvailable, missing)
	}
	return ctx.Err()
}

// CheckVoiceReady implements ttypes.SynthesisEngine. Ready means the
// shared ONNX stack and the voice's style file are all present.
func (s *Supertonic) CheckVoiceReady(_ context.Context, voiceID string) (ttypes.VoiceReadiness, error) {
	name := voiceName(voiceID)
	if name == "" {
		return ttypes.VoiceUnknown, fmt.Errorf("empty voice id")
	}
	if len(s.missingCoreAssets()) > 0 {
		return ttypes.VoiceMissing, nil
	}
	if _, err := os.Stat(s.stylePath(name)); err != nil {
		if os.IsNotExist(err) {
			return ttypes.VoiceMissing, nil
		}
		return ttypes.VoiceUnknown, fmt.Errorf("stat voice style: %w", err)
	}
	return ttypes.VoiceReady, nil
}

// SynthesizeSegment implements ttypes.SynthesisEngine.
func (s *Supertonic) SynthesizeSegment(ctx context.Context, req ttypes.SynthesisRequest) (ttypes.SynthesisResult, error) {
	if req.Text == "" {
		return ttypes.SynthesisResult{}, fmt.Errorf("empty text")
	}
	if len(req.Text) > supertonicMaxTextSize {
		return ttypes.SynthesisResult{}, fmt.Errorf("text too long: %d characters (max %d)", len(req.Text), supertonicMaxTextSize)
	}
	name := voiceName(req.VoiceID)
	if _, err := os.Stat(s.stylePath(name)); err != nil {
		return ttypes.SynthesisResult{}, &ttypes.VoiceNotAvailableError{VoiceID: req.VoiceID}
	}

	rate := req.Rate
	if rate <= 0 {
		rate = ttypes.CanonicalRate
	}
	args := []string{
		"--assets-dir", s.cfg.AssetsDir,
		"--voice-style", s.stylePath(name),
		"--output", "-",
	}
	if rate != ttypes.CanonicalRate {
		args = append(args, "--speed", fmt.Sprintf("%.2f", rate))
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.RequestTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, s.cfg.BinaryPath, args...)
	stdinPipe, err := cmd.StdinPipe()
	if err != nil {
		return ttypes.SynthesisResult{}, fmt.Errorf("supertonic stdin pipe: %w", err)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ttypes.SynthesisResult{}, ttypes.ErrEngineNotAvailable
	}
	s.mu.Unlock()

	if err := cmd.Start(); err != nil {
		return ttypes.SynthesisResult{}, fmt.Errorf("supertonic start: %w", err)
	}
	s.mu.Lock()
	s.running[req.OpID] = cmd
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.running, req.OpID)
		s.mu.Unlock()
	}()

	// Write stdin in a goroutine so a full pipe buffer cannot deadlock
	// against an engine that writes before it finishes reading.
	var wg sync.WaitGroup
	var stdinErr error
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer stdinPipe.Close()
		_, stdinErr = stdinPipe.Write([]byte(req.Text))
	}()
	wg.Wait()
	if stdinErr != nil {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		return ttypes.SynthesisResult{}, fmt.Errorf("supertonic write stdin: %w", stdinErr)
	}

	if err := cmd.Wait(); err != nil {
		if ctx.Err() != nil {
			return ttypes.SynthesisResult{}, fmt.Errorf("supertonic synthesis: %w", ctx.Err())
		}
		return ttypes.SynthesisResult{}, fmt.Errorf("supertonic exited: %w, stderr: %s", err, truncate(stderr.String(), 512))
	}

	wav := stdout.Bytes()
	if len(wav) == 0 {
		return ttypes.SynthesisResult{}, fmt.Errorf("supertonic produced no audio, stderr: %s", truncate(stderr.String(), 512))
	}
	pcm, sampleRate, err := audio.DecodeWAV(bytes.NewReader(wav))
	if err != nil {
		return ttypes.SynthesisResult{}, fmt.Errorf("decoding supertonic output: %w", err)
	}
	if sampleRate == 0 {
		sampleRate = supertonicSampleRate
	}
	return ttypes.SynthesisResult{
		PCM:        pcm,
		SampleRate: sampleRate,
		DurationMs: audio.DurationMs(pcm, sampleRate),
	}, nil
}

// WarmUp implements ttypes.SynthesisEngine.
func (s *Supertonic) WarmUp(ctx context.Context, voiceID string) bool {
	ctx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()
	_, err := s.SynthesizeSegment(ctx, ttypes.SynthesisRequest{
		OpID:    "warmup-" + voiceName(voiceID),
		VoiceID: voiceID,
		Text:    "Ready.",
		Rate:    ttypes.CanonicalRate,
	})
	if err != nil {
		log.Debug("supertonic warmup failed", "voice", voiceID, "error", err)
		return false
	}
	return true
}

// CancelSynth implements ttypes.SynthesisEngine.
func (s *Supertonic) CancelSynth(opID string) {
	s.mu.Lock()
	cmd := s.running[opID]
	s.mu.Unlock()
	if cmd == nil || cmd.Process == nil {
		return
	}
	_ = cmd.Process.Signal(os.Interrupt)
	go func() {
		time.Sleep(100 * time.Millisecond)
		_ = cmd.Process.Kill()
	}()
}

// Info implements ttypes.SynthesisEngine.
func (s *Supertonic) Info() ttypes.EngineInfo {
	return ttypes.EngineInfo{
		Name:        "supertonic",
		SampleRate:  supertonicSampleRate,
		Channels:    1,
		BitDepth:    16,
		MaxTextSize: supertonicMaxTextSize,
		IsOnline:    false,
	}
}

// Close implements ttypes.SynthesisEngine.
func (s *Supertonic) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for opID, cmd := range s.running {
		if cmd.Process != nil {
			_ = cmd.Process.Kill()
		}
		delete(s.running, opID)
	}
	return nil
}

var _ ttypes.SynthesisEngine = (*Supertonic)(nil)
