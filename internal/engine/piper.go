package engine

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/dgnsrekt/chaptervoice/internal/audio"
	"github.com/dgnsrekt/chaptervoice/internal/ttypes"
)

const (
	piperDefaultSampleRate = 22050
	piperRequestTimeout    = 30 * time.Second
	piperMaxTextSize       = 5000
	piperMaxAudioSize      = 32 * 1024 * 1024
)

// PiperConfig configures the Piper subprocess engine.
type PiperConfig struct {
	// BinaryPath is the piper executable. Defaults to "piper" on PATH.
	BinaryPath string

	// VoicesDir holds voice models as <name>.onnx plus <name>.onnx.json.
	VoicesDir string

	// SampleRate of raw output. Piper voices declare theirs in the model
	// config; 22050 covers the medium-quality voices.
	SampleRate int

	// RequestTimeout bounds a single synthesis subprocess.
	RequestTimeout time.Duration
}

// Piper runs the piper binary once per request. A fresh process with
// stdin pre-configured before start sidesteps the race where piper
// reads stdin before the writer is attached, and means a cancelled or
// wedged request never poisons later ones.
type Piper struct {
	cfg PiperConfig

	mu      sync.Mutex
	running map[string]*exec.Cmd
	closed  bool
}

// NewPiper returns a Piper engine rooted at cfg.VoicesDir.
func NewPiper(cfg PiperConfig) *Piper {
	if cfg.BinaryPath == "" {
		cfg.BinaryPath = "piper"
	}
	if cfg.SampleRate == 0 {
		cfg.SampleRate = piperDefaultSampleRate
	}
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = piperRequestTimeout
	}
	return &Piper{cfg: cfg, running: make(map[string]*exec.Cmd)}
}

func (p *Piper) modelPath(voice string) string {
	return filepath.Join(p.cfg.VoicesDir, voice+".onnx")
}

// voiceName strips the namespace if the caller passed a full voice id.
func voiceName(voiceID string) string {
	if _, name, ok := strings.Cut(voiceID, ":"); ok {
		return name
	}
	return voiceID
}

// Probe implements ttypes.SynthesisEngine.
func (p *Piper) Probe(ctx context.Context) error {
	if _, err := exec.LookPath(p.cfg.BinaryPath); err != nil {
		return fmt.Errorf("%w: piper binary %q not on PATH", ttypes.ErrEngineNotAvailable, p.cfg.BinaryPath)
	}
	cmd := exec.CommandContext(ctx, p.cfg.BinaryPath, "--version")
	cmd.Stdout = nil
	cmd.Stderr = nil
	if err := cmd.Run(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("%w: cannot execute piper: %v", ttypes.ErrEngineNotAvailable, err)
	}
	return ctx.Err()
}

// EnsureCoreReady implements ttypes.SynthesisEngine. Piper has no
// long-lived core; readiness is binary presence plus model presence.
func (p *Piper) EnsureCoreReady(ctx context.Context, selector string) error {
	if err := p.Probe(ctx); err != nil {
		return err
	}
	if selector == "" {
		return nil
	}
	if _, err := os.Stat(p.modelPath(voiceName(selector))); err != nil {
		return &ttypes.VoiceNotAvailableError{VoiceID: selector}
	}
	return nil
}

// CheckVoiceReady implements ttypes.SynthesisEngine.
func (p *Piper) CheckVoiceReady(_ context.Context, voiceID string) (ttypes.VoiceReadiness, error) {
	name := voiceName(voiceID)
	if name == "" {
		return ttypes.VoiceUnknown, fmt.Errorf("empty voice id")
	}
	if _, err := os.Stat(p.modelPath(name)); err != nil {
		if os.IsNotExist(err) {
			return ttypes.VoiceMissing, nil
		}
		return ttypes.VoiceUnknown, fmt.Errorf("stat voice model: %w", err)
	}
	return ttypes.VoiceReady, nil
}

// SynthesizeSegment implements ttypes.SynthesisEngine.
func (p *Piper) SynthesizeSegment(ctx context.Context, req ttypes.SynthesisRequest) (ttypes.SynthesisResult, error) {
	if req.Text == "" {
		return ttypes.SynthesisResult{}, fmt.Errorf("empty text")
	}
	if len(req.Text) > piperMaxTextSize {
		return ttypes.SynthesisResult{}, fmt.Errorf("text too long: %d characters (max %d)", len(req.Text), piperMaxTextSize)
	}

	name := voiceName(req.VoiceID)
	modelPath := p.modelPath(name)
	if _, err := os.Stat(modelPath); err != nil {
		return ttypes.SynthesisResult{}, &ttypes.VoiceNotAvailableError{VoiceID: req.VoiceID}
	}
	configPath := modelPath + ".json"

	rate := req.Rate
	if rate <= 0 {
		rate = ttypes.CanonicalRate
	}
	args := []string{
		"--model", modelPath,
		"--output-raw",
	}
	if _, err := os.Stat(configPath); err == nil {
		args = append(args, "--config", configPath)
	}
	// Piper takes a length scale, the inverse of speed.
	if rate != ttypes.CanonicalRate {
		args = append(args, "--length-scale", fmt.Sprintf("%.2f", 1.0/rate))
	}

	ctx, cancel := context.WithTimeout(ctx, p.cfg.RequestTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, p.cfg.BinaryPath, args...)
	// Stdin must be attached before the process starts or piper can
	// observe a closed pipe and emit nothing.
	cmd.Stdin = strings.NewReader(req.Text)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ttypes.SynthesisResult{}, ttypes.ErrEngineNotAvailable
	}
	p.running[req.OpID] = cmd
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		delete(p.running, req.OpID)
		p.mu.Unlock()
	}()

	done := make(chan error, 1)
	go func() { done <- cmd.Run() }()

	select {
	case err := <-done:
		if err != nil {
			if ctx.Err() != nil {
				return ttypes.SynthesisResult{}, fmt.Errorf("piper synthesis: %w", ctx.Err())
			}
			return ttypes.SynthesisResult{}, fmt.Errorf("piper failed: %w, stderr: %s", err, truncate(stderr.String(), 512))
		}
	case <-ctx.Done():
		interruptThenKill(cmd, done)
		return ttypes.SynthesisResult{}, fmt.Errorf("piper synthesis: %w", ctx.Err())
	}

	pcm := stdout.Bytes()
	if len(pcm) == 0 {
		return ttypes.SynthesisResult{}, fmt.Errorf("piper produced no audio, stderr: %s", truncate(stderr.String(), 512))
	}
	if len(pcm) > piperMaxAudioSize {
		return ttypes.SynthesisResult{}, fmt.Errorf("piper output too large: %d bytes", len(pcm))
	}
	pcm = audio.EnsureEven(pcm)
	return ttypes.SynthesisResult{
		PCM:        pcm,
		SampleRate: p.cfg.SampleRate,
		DurationMs: audio.DurationMs(pcm, p.cfg.SampleRate),
	}, nil
}

// WarmUp implements ttypes.SynthesisEngine. A throwaway short synthesis
// pulls the model into the OS page cache.
func (p *Piper) WarmUp(ctx context.Context, voiceID string) bool {
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	_, err := p.SynthesizeSegment(ctx, ttypes.SynthesisRequest{
		OpID:    "warmup-" + voiceName(voiceID),
		VoiceID: voiceID,
		Text:    "Ready.",
		Rate:    ttypes.CanonicalRate,
	})
	if err != nil {
		log.Debug("piper warmup failed", "voice", voiceID, "error", err)
		return false
	}
	return true
}

// CancelSynth implements ttypes.SynthesisEngine. Kills the subprocess
// for the op if it is still running; the in-flight Run returns an exit
// error which the coordinator maps to cancellation.
func (p *Piper) CancelSynth(opID string) {
	p.mu.Lock()
	cmd := p.running[opID]
	p.mu.Unlock()
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
func (p *Piper) Info() ttypes.EngineInfo {
	return ttypes.EngineInfo{
		Name:        "piper",
		SampleRate:  p.cfg.SampleRate,
		Channels:    1,
		BitDepth:    16,
		MaxTextSize: piperMaxTextSize,
		IsOnline:    false,
	}
}

// Close implements ttypes.SynthesisEngine. Any running subprocesses are
// killed; their waiters see an exit error.
func (p *Piper) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	for opID, cmd := range p.running {
		if cmd.Process != nil {
			_ = cmd.Process.Kill()
		}
		delete(p.running, opID)
	}
	return nil
}

func interruptThenKill(cmd *exec.Cmd, done <-chan error) {
	if cmd.Process == nil {
		return
	}
	_ = cmd.Process.Signal(os.Interrupt)
	select {
	case <-done:
	case <-time.After(100 * time.Millisecond):
		_ = cmd.Process.Kill()
		<-done
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

var _ ttypes.SynthesisEngine = (*Piper)(nil)
