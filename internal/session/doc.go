// Package session provides streaming transcription session management.
// It owns the per-session remote link lifecycle, routes audio chunks and
// decoded events, fans events out to subscribers with bounded buffering,
// and guarantees idempotent teardown through a concurrent registry.
package session
