// Package config provides configuration loading and validation for the speech-to-text service.
// It handles YAML-based configuration with struct validation covering the HTTP API,
// the remote transcription endpoint, session management, and batch transcription.
package config
