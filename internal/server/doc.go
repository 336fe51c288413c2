// Package server implements the HTTP and WebSocket API surface: session
// control endpoints, audio ingestion, transcript event streams (SSE and
// WebSocket), batch transcription, and monitoring endpoints.
package server
