// Package codec implements the message codec for the remote transcription protocol.
// It decodes inbound text frames into tagged transcript events keyed on the
// message_type discriminant, and serializes outbound audio and control frames.
package codec
