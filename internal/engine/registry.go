package engine

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/dgnsrekt/chaptervoice/internal/ttypes"
)

// DefaultReadinessTimeout bounds voice readiness checks and core warm-up.
// A check that exceeds it fails with a ttypes.TimeoutError instead of
// hanging the caller.
const DefaultReadinessTimeout = 60 * time.Second

// routes is the static voice namespace table. Routing is a pure string
// lookup; no engine is consulted to decide where a voice lives.
var routes = map[string]ttypes.EngineType{
	"piper":      ttypes.EnginePiper,
	"kokoro":     ttypes.EngineKokoro,
	"supertonic": ttypes.EngineSupertonic,
	"mock":       ttypes.EngineMock,
}

// ParseVoiceID splits a namespaced voice id ("piper:en_US-amy-medium")
// into its engine type and bare voice name.
func ParseVoiceID(voiceID string) (ttypes.EngineType, string, error) {
	ns, name, ok := strings.Cut(voiceID, ":")
	if !ok || ns == "" || name == "" {
		return ttypes.EngineNone, "", fmt.Errorf("malformed voice id %q (want engine:name)", voiceID)
	}
	et, ok := routes[ns]
	if !ok {
		return ttypes.EngineNone, "", fmt.Errorf("unknown engine namespace %q in voice id %q", ns, voiceID)
	}
	return et, name, nil
}

// RouteVoice returns the engine type a voice id belongs to.
func RouteVoice(voiceID string) (ttypes.EngineType, error) {
	et, _, err := ParseVoiceID(voiceID)
	return et, err
}

// Factory constructs an engine on first use. Construction should be
// cheap; expensive model loading belongs in EnsureCoreReady.
type Factory func() (ttypes.SynthesisEngine, error)

type loadedEngine struct {
	engine   ttypes.SynthesisEngine
	lastUsed time.Time
	hits     int64
}

// Registry owns engine lifecycles. At most maxLoaded engines are kept
// alive; resolving a voice for an unloaded engine evicts the least
// recently used one first. Unloading can fail (a subprocess that will
// not die, a server that refuses shutdown); the registry logs it,
// counts it, and keeps going rather than wedging playback.
type Registry struct {
	mu        sync.Mutex
	factories map[ttypes.EngineType]Factory
	loaded    map[ttypes.EngineType]*loadedEngine
	maxLoaded int

	unloadFailures int64
}

// NewRegistry returns a registry keeping at most maxLoaded engines in
// memory. Values below 1 are clamped to 1.
func NewRegistry(maxLoaded int) *Registry {
	if maxLoaded < 1 {
		maxLoaded = 1
	}
	return &Registry{
		factories: make(map[ttypes.EngineType]Factory),
		loaded:    make(map[ttypes.EngineType]*loadedEngine),
		maxLoaded: maxLoaded,
	}
}

// Register installs the factory for an engine type. Registering the
// same type twice replaces the factory but leaves a loaded instance
// alone.
func (r *Registry) Register(t ttypes.EngineType, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[t] = f
}

// Registered reports the engine types with an installed factory, in a
// stable order.
func (r *Registry) Registered() []ttypes.EngineType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ttypes.EngineType, 0, len(r.factories))
	for t := range r.factories {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Resolve routes a voice id to its engine, loading the engine if
// needed and marking it as recently used.
func (r *Registry) Resolve(voiceID string) (ttypes.SynthesisEngine, error) {
	et, _, err := ParseVoiceID(voiceID)
	if err != nil {
		return nil, err
	}
	return r.EngineFor(et)
}

// EngineFor returns a live engine of the given type, constructing it
// through its factory on first use.
func (r *Registry) EngineFor(t ttypes.EngineType) (ttypes.SynthesisEngine, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if le, ok := r.loaded[t]; ok {
		le.lastUsed = time.Now()
		le.hits++
		return le.engine, nil
	}

	f, ok := r.factories[t]
	if !ok {
		return nil, fmt.Errorf("engine %s: %w", t, ttypes.ErrNoEngineConfigured)
	}

	if len(r.loaded) >= r.maxLoaded {
		if err := r.unloadLeastUsedLocked(); err != nil {
			// Degraded but continuing: the stuck engine stays
			// loaded and we run over budget rather than refuse
			// the new voice.
			r.unloadFailures++
			log.Warn("engine unload failed, continuing over budget", "error", err)
		}
	}

	eng, err := f()
	if err != nil {
		return nil, fmt.Errorf("constructing engine %s: %w", t, err)
	}
	r.loaded[t] = &loadedEngine{engine: eng, lastUsed: time.Now(), hits: 1}
	log.Debug("engine loaded", "engine", t, "loaded", len(r.loaded), "max", r.maxLoaded)
	return eng, nil
}

// LoadedCount reports how many engines are currently held in memory.
func (r *Registry) LoadedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.loaded)
}

// UnloadFailures reports how many unload attempts have failed since
// the registry was created.
func (r *Registry) UnloadFailures() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.unloadFailures
}

// UnloadLeastUsed evicts the engine idle the longest. The error from
// the engine's Close is returned to the caller; the engine is only
// dropped from the table when Close succeeds.
func (r *Registry) UnloadLeastUsed() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.unloadLeastUsedLocked()
}

func (r *Registry) unloadLeastUsedLocked() error {
	var (
		victim ttypes.EngineType
		oldest time.Time
		found  bool
	)
	for t, le := range r.loaded {
		if !found || le.lastUsed.Before(oldest) {
			victim, oldest, found = t, le.lastUsed, true
		}
	}
	if !found {
		return nil
	}
	le := r.loaded[victim]
	if err := le.engine.Close(); err != nil {
		return fmt.Errorf("%w: engine %s: %v", ttypes.ErrUnloadFailed, victim, err)
	}
	delete(r.loaded, victim)
	log.Debug("engine unloaded", "engine", victim, "hits", le.hits)
	return nil
}

// CheckVoiceReady routes the voice and asks its engine whether the
// assets to speak with it are present.
func (r *Registry) CheckVoiceReady(ctx context.Context, voiceID string) (ttypes.VoiceReadiness, error) {
	eng, err := r.Resolve(voiceID)
	if err != nil {
		return ttypes.VoiceUnknown, err
	}
	return eng.CheckVoiceReady(ctx, voiceID)
}

// EnsureVoiceReady blocks until the voice's engine core is up and the
// voice assets are confirmed present, bounded by DefaultReadinessTimeout
// unless the caller's context is tighter.
func (r *Registry) EnsureVoiceReady(ctx context.Context, voiceID string) error {
	eng, err := r.Resolve(voiceID)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, DefaultReadinessTimeout)
	defer cancel()

	if err := eng.EnsureCoreReady(ctx, voiceID); err != nil {
		if ctx.Err() != nil {
			return &ttypes.TimeoutError{Op: "ensure core ready", Limit: DefaultReadinessTimeout}
		}
		return err
	}
	readiness, err := eng.CheckVoiceReady(ctx, voiceID)
	if err != nil {
		if ctx.Err() != nil {
			return &ttypes.TimeoutError{Op: "check voice ready", Limit: DefaultReadinessTimeout}
		}
		return err
	}
	if readiness != ttypes.VoiceReady {
		return &ttypes.VoiceNotAvailableError{VoiceID: voiceID}
	}
	return nil
}

// Close unloads every engine, returning the first error encountered
// while closing all of them.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var firstErr error
	for t, le := range r.loaded {
		if err := le.engine.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("closing engine %s: %w", t, err)
		}
		delete(r.loaded, t)
	}
	return firstErr
}
