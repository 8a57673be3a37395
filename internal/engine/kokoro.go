package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/time/rate"

	"github.com/dgnsrekt/chaptervoice/internal/audio"
	"github.com/dgnsrekt/chaptervoice/internal/ttypes"
)

const (
	kokoroDefaultBaseURL = "http://127.0.0.1:8880"
	kokoroDefaultModel   = "kokoro"
	kokoroRequestTimeout = 60 * time.Second
	kokoroMaxTextSize    = 4096
)

// KokoroConfig configures the Kokoro server engine.
type KokoroConfig struct {
	// BaseURL of the local Kokoro server (OpenAI-compatible API).
	BaseURL string

	// Model name sent in speech requests.
	Model string

	// RequestsPerMinute caps request rate against the server. Zero
	// disables limiting; a local server rarely needs one but a shared
	// instance does.
	RequestsPerMinute int

	// RequestTimeout bounds a single speech request.
	RequestTimeout time.Duration
}

// Kokoro talks to a locally running Kokoro server over its
// OpenAI-compatible speech API. The server owns the model lifecycle;
// this adapter only shapes requests and decodes responses.
type Kokoro struct {
	cfg     KokoroConfig
	client  *http.Client
	limiter *rate.Limiter

	mu       sync.Mutex
	inflight map[string]context.CancelFunc
	voices   []string // cached voice listing
	closed   bool
}

// NewKokoro returns a Kokoro adapter for the server at cfg.BaseURL.
func NewKokoro(cfg KokoroConfig) *Kokoro {
	if cfg.BaseURL == "" {
		cfg.BaseURL = kokoroDefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Model == "" {
		cfg.Model = kokoroDefaultModel
	}
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = kokoroRequestTimeout
	}
	var limiter *rate.Limiter
	if cfg.RequestsPerMinute > 0 {
		limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RequestsPerMinute)), 1)
	}
	return &Kokoro{
		cfg:      cfg,
		client:   &http.Client{Timeout: cfg.RequestTimeout},
		limiter:  limiter,
		inflight: make(map[string]context.CancelFunc),
	}
}

type speechRequest struct {
	Model          string  `json:"model"`
	Input          string  `json:"input"`
	Voice          string  `json:"voice"`
	ResponseFormat string  `json:"response_format"`
	Speed          float64 `json:"speed"`
}

// Probe implements ttypes.SynthesisEngine. The models listing doubles
// as a liveness check.
func (k *Kokoro) Probe(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, k.cfg.BaseURL+"/v1/models", nil)
	if err != nil {
		return err
	}
	resp, err := k.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: kokoro server at %s: %v", ttypes.ErrEngineNotAvailable, k.cfg.BaseURL, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body) //nolint:errcheck
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: kokoro server returned %s", ttypes.ErrEngineNotAvailable, resp.Status)
	}
	return nil
}

// EnsureCoreReady implements ttypes.SynthesisEngine. The server loads
// the model on first request; polling the models endpoint until it
// answers is the closest thing to a readiness barrier.
func (k *Kokoro) EnsureCoreReady(ctx context.Context, _ string) error {
	var lastErr error
	for {
		if lastErr = k.Probe(ctx); lastErr == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return lastErr
		case <-time.After(500 * time.Millisecond):
		}
	}
}

// CheckVoiceReady implements ttypes.SynthesisEngine. Consults the
// server's voice listing, cached after the first successful fetch.
func (k *Kokoro) CheckVoiceReady(ctx context.Context, voiceID string) (ttypes.VoiceReadiness, error) {
	name := voiceName(voiceID)
	voices, err := k.listVoices(ctx)
	if err != nil {
		return ttypes.VoiceUnknown, err
	}
	for _, v := range voices {
		if v == name {
			return ttypes.VoiceReady, nil
		}
	}
	return ttypes.VoiceMissing, nil
}

func (k *Kokoro) listVoices(ctx context.Context) ([]string, error) {
	k.mu.Lock()
	if k.voices != nil {
		cached := k.voices
		k.mu.Unlock()
		return cached, nil
	}
	k.mu.Unlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, k.cfg.BaseURL+"/v1/audio/voices", nil)
	if err != nil {
		return nil, err
	}
	resp, err := k.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("listing kokoro voices: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("listing kokoro voices: %s", resp.Status)
	}
	var payload struct {
		Voices []string `json:"voices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decoding kokoro voice list: %w", err)
	}

	k.mu.Lock()
	k.voices = payload.Voices
	k.mu.Unlock()
	return payload.Voices, nil
}

// InvalidateVoices drops the cached voice listing so the next
// readiness check hits the server again.
func (k *Kokoro) InvalidateVoices() {
	k.mu.Lock()
	k.voices = nil
	k.mu.Unlock()
}

// SynthesizeSegment implements ttypes.SynthesisEngine.
func (k *Kokoro) SynthesizeSegment(ctx context.Context, req ttypes.SynthesisRequest) (ttypes.SynthesisResult, error) {
	if req.Text == "" {
		return ttypes.SynthesisResult{}, fmt.Errorf("empty text")
	}
	if len(req.Text) > kokoroMaxTextSize {
		return ttypes.SynthesisResult{}, fmt.Errorf("text too long: %d characters (max %d)", len(req.Text), kokoroMaxTextSize)
	}
	if k.limiter != nil {
		if err := k.limiter.Wait(ctx); err != nil {
			return ttypes.SynthesisResult{}, err
		}
	}

	speed := req.Rate
	if speed <= 0 {
		speed = ttypes.CanonicalRate
	}
	body, err := json.Marshal(speechRequest{
		Model:          k.cfg.Model,
		Input:          req.Text,
		Voice:          voiceName(req.VoiceID),
		ResponseFormat: "wav",
		Speed:          speed,
	})
	if err != nil {
		return ttypes.SynthesisResult{}, err
	}

	reqCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	k.mu.Lock()
	if k.closed {
		k.mu.Unlock()
		return ttypes.SynthesisResult{}, ttypes.ErrEngineNotAvailable
	}
	k.inflight[req.OpID] = cancel
	k.mu.Unlock()
	defer func() {
		k.mu.Lock()
		delete(k.inflight, req.OpID)
		k.mu.Unlock()
	}()

	httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodPost, k.cfg.BaseURL+"/v1/audio/speech", bytes.NewReader(body))
	if err != nil {
		return ttypes.SynthesisResult{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := k.client.Do(httpReq)
	if err != nil {
		if reqCtx.Err() != nil {
			return ttypes.SynthesisResult{}, reqCtx.Err()
		}
		return ttypes.SynthesisResult{}, fmt.Errorf("kokoro speech request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return ttypes.SynthesisResult{}, fmt.Errorf("kokoro returned %s: %s", resp.Status, strings.TrimSpace(string(msg)))
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		if reqCtx.Err() != nil {
			return ttypes.SynthesisResult{}, reqCtx.Err()
		}
		return ttypes.SynthesisResult{}, fmt.Errorf("reading kokoro response: %w", err)
	}

	pcm, sampleRate, err := decodeSpeechBody(raw, resp.Header.Get("Content-Type"))
	if err != nil {
		return ttypes.SynthesisResult{}, err
	}
	log.Debug("kokoro synthesis",
		"voice", req.VoiceID,
		"chars", len(req.Text),
		"bytes", len(raw),
		"elapsed", time.Since(start))

	return ttypes.SynthesisResult{
		PCM:        pcm,
		SampleRate: sampleRate,
		DurationMs: audio.DurationMs(pcm, sampleRate),
	}, nil
}

// decodeSpeechBody picks the decoder by content type, falling back to
// container sniffing when the server is vague about it.
func decodeSpeechBody(raw []byte, contentType string) ([]byte, int, error) {
	ct := strings.ToLower(contentType)
	switch {
	case strings.Contains(ct, "mpeg") || strings.Contains(ct, "mp3"):
		return audio.DecodeMP3(bytes.NewReader(raw))
	case strings.Contains(ct, "wav"):
		return audio.DecodeWAV(bytes.NewReader(raw))
	default:
		if bytes.HasPrefix(raw, []byte("RIFF")) {
			return audio.DecodeWAV(bytes.NewReader(raw))
		}
		return audio.DecodeMP3(bytes.NewReader(raw))
	}
}

// WarmUp implements ttypes.SynthesisEngine.
func (k *Kokoro) WarmUp(ctx context.Context, voiceID string) bool {
	ctx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()
	_, err := k.SynthesizeSegment(ctx, ttypes.SynthesisRequest{
		OpID:    "warmup-" + voiceName(voiceID),
		VoiceID: voiceID,
		Text:    "Ready.",
		Rate:    ttypes.CanonicalRate,
	})
	if err != nil {
		log.Debug("kokoro warmup failed", "voice", voiceID, "error", err)
		return false
	}
	return true
}

// CancelSynth implements ttypes.SynthesisEngine. Cancels the in-flight
// HTTP request for the op.
func (k *Kokoro) CancelSynth(opID string) {
	k.mu.Lock()
	cancel := k.inflight[opID]
	k.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Info implements ttypes.SynthesisEngine.
func (k *Kokoro) Info() ttypes.EngineInfo {
	return ttypes.EngineInfo{
		Name:        "kokoro",
		SampleRate:  24000,
		Channels:    1,
		BitDepth:    16,
		MaxTextSize: kokoroMaxTextSize,
		IsOnline:    true,
	}
}

// Close implements ttypes.SynthesisEngine. In-flight requests are
// cancelled; the server itself stays up, it is not ours.
func (k *Kokoro) Close() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.closed = true
	for opID, cancel := range k.inflight {
		cancel()
		delete(k.inflight, opID)
	}
	k.client.CloseIdleConnections()
	return nil
}

var _ ttypes.SynthesisEngine = (*Kokoro)(nil)
