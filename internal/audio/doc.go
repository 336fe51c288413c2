// Package audio provides WAV container utilities for the batch
// transcription path, which requires self-describing audio files rather
// than the raw PCM used on the streaming path.
package audio
