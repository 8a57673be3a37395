package ttypes

import (
	"errors"
	"fmt"
	"time"
)

// Common pipeline errors
var (
	// ErrCanceled indicates a request was canceled by its requester.
	// Never surfaced to the user; waiters that asked for cancellation
	// discard it silently.
	ErrCanceled = errors.New("operation canceled")

	// ErrTimeout indicates an operation exceeded its time bound.
	ErrTimeout = errors.New("operation timed out")

	// ErrEngineNotAvailable indicates the selected engine's runtime is
	// not usable on this device.
	ErrEngineNotAvailable = errors.New("synthesis engine not available")

	// ErrNoEngineConfigured indicates no engine was selected for a voice.
	ErrNoEngineConfigured = errors.New("no synthesis engine configured for voice")

	// ErrVoiceChangeInProgress indicates a voice change arrived while a
	// previous one was still transitioning. The second request is
	// rejected, not queued.
	ErrVoiceChangeInProgress = errors.New("voice change already in progress")

	// ErrUnloadFailed indicates the engine LRU could not release a
	// loaded model. Degraded but continuing; never fatal.
	ErrUnloadFailed = errors.New("failed to unload engine model")

	// ErrCoordinatorClosed indicates an enqueue after shutdown.
	ErrCoordinatorClosed = errors.New("synthesis coordinator closed")
)

// SynthesisError means the engine failed to produce audio for a
// request. Recoverable: surfaced in PlaybackState.Err and retryable by
// re-issuing the same job.
type SynthesisError struct {
	VoiceID string
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *SynthesisError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("synthesis failed (voice %s): %s: %v", e.VoiceID, e.Message, e.Cause)
	}
	return fmt.Sprintf("synthesis failed (voice %s): %s", e.VoiceID, e.Message)
}

// Unwrap returns the underlying engine error.
func (e *SynthesisError) Unwrap() error { return e.Cause }

// VoiceNotAvailableError means the voice's assets are missing or not
// downloaded. Surfaced distinctly so the application can prompt a
// download instead of a generic retry.
type VoiceNotAvailableError struct {
	VoiceID string
}

// Error implements the error interface.
func (e *VoiceNotAvailableError) Error() string {
	return fmt.Sprintf("voice %s is not available on this device", e.VoiceID)
}

// TimeoutError means model load or voice readiness exceeded its bound.
// Requires an explicit user retry; the controller never spins on it.
type TimeoutError struct {
	Op    string
	Limit time.Duration
}

// Error implements the error interface.
func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s timed out after %s", e.Op, e.Limit)
}

// Is lets errors.Is(err, ErrTimeout) match typed timeouts.
func (e *TimeoutError) Is(target error) bool { return target == ErrTimeout }

// IsRecoverable reports whether an error can be cleared by retrying
// the same job. Cancellation is not a failure at all and reports false.
func IsRecoverable(err error) bool {
	if err == nil || errors.Is(err, ErrCanceled) {
		return false
	}
	var synthErr *SynthesisError
	if errors.As(err, &synthErr) {
		return true
	}
	return errors.Is(err, ErrTimeout)
}

// IsSilent reports whether an error should never reach the user.
func IsSilent(err error) bool {
	return errors.Is(err, ErrCanceled)
}
