package codec

import (
	"encoding/json"
	"fmt"
)

// Message type discriminants used by the remote transcription endpoint
const (
	MessageTypePartial = "PartialTranscript"
	MessageTypeFinal   = "FinalTranscript"
	MessageTypeError   = "Error"
)

// Kind classifies a decoded transcript event
type Kind uint8

const (
	KindUnknown Kind = iota
	KindPartial
	KindFinal
	KindError
)

// String returns the wire-level name of the event kind
func (k Kind) String() string {
	switch k {
	case KindPartial:
		return MessageTypePartial
	case KindFinal:
		return MessageTypeFinal
	case KindError:
		return MessageTypeError
	default:
		return "Unknown"
	}
}

// MarshalJSON encodes the kind as its wire-level name
func (k Kind) MarshalJSON() ([]byte, error) {
	return json.Marshal(k.String())
}

// UnmarshalJSON decodes a wire-level kind name; unrecognized names map to
// KindUnknown rather than failing
func (k *Kind) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}

	switch name {
	case MessageTypePartial:
		*k = KindPartial
	case MessageTypeFinal:
		*k = KindFinal
	case MessageTypeError:
		*k = KindError
	default:
		*k = KindUnknown
	}

	return nil
}

// TranscriptEvent is a decoded unit of remote transcription output.
// Immutable once constructed; produced only by Decode.
type TranscriptEvent struct {
	SessionID string `json:"session_id"`
	Kind      Kind   `json:"kind"`
	Text      string `json:"text,omitempty"`
	Error     string `json:"error,omitempty"`

	// Raw preserves the original frame payload for diagnostics on
	// unknown or malformed frames.
	Raw []byte `json:"-"`
}

// inboundFrame is the shape of a text frame from the remote endpoint
type inboundFrame struct {
	MessageType string `json:"message_type"`
	Text        string `json:"text"`
	Error       string `json:"error"`
}

// sessionConfigFrame is the control frame sent immediately after a link opens
type sessionConfigFrame struct {
	SampleRate int    `json:"sample_rate"`
	SessionID  string `json:"session_id"`
}

// terminateFrame is the control frame sent when closing a session
type terminateFrame struct {
	TerminateSession bool `json:"terminate_session"`
}

// Decode parses an inbound text frame into a TranscriptEvent. It classifies
// frames by the message_type discriminant; malformed or unrecognized frames
// yield a KindUnknown event with the raw payload preserved. Decode never
// fails: a bad frame must not be able to take down the link.
func Decode(raw []byte) TranscriptEvent {
	var frame inboundFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return TranscriptEvent{Kind: KindUnknown, Raw: cloneBytes(raw)}
	}

	switch frame.MessageType {
	case MessageTypePartial:
		return TranscriptEvent{Kind: KindPartial, Text: frame.Text}
	case MessageTypeFinal:
		return TranscriptEvent{Kind: KindFinal, Text: frame.Text}
	case MessageTypeError:
		msg := frame.Error
		if msg == "" {
			msg = frame.Text
		}
		return TranscriptEvent{Kind: KindError, Error: msg}
	default:
		return TranscriptEvent{Kind: KindUnknown, Raw: cloneBytes(raw)}
	}
}

// EncodeAudio produces a binary frame carrying raw PCM audio. No
// transformation of sample data occurs in this layer.
func EncodeAudio(pcm []byte) []byte {
	return pcm
}

// EncodeSessionConfig produces the control frame sent at connection start
func EncodeSessionConfig(sampleRate int, sessionID string) ([]byte, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", sampleRate)
	}

	return json.Marshal(sessionConfigFrame{
		SampleRate: sampleRate,
		SessionID:  sessionID,
	})
}

// EncodeTerminate produces the control frame sent at connection end
func EncodeTerminate() []byte {
	data, _ := json.Marshal(terminateFrame{TerminateSession: true})
	return data
}

// cloneBytes copies a frame payload so decoded events do not alias
// transport read buffers
func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
