// Package guard holds the runtime resilience handlers: memory
// pressure monitoring, rate-change debouncing, and serialized voice
// switching. Each guard owns one class of disruption and translates
// it into calls on the synthesis and playback components, which stay
// unaware of where the signal came from.
package guard
