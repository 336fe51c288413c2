// Package token obtains short-lived authentication tokens for realtime
// transcription links, so the long-lived API key never leaves the server.
package token
