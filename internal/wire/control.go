package wire

import (
	"encoding/json"
	"fmt"
)

// Control message type discriminants (client → server).
const (
	TypeAudioStart      = "audio_start"
	TypeAudioEnd        = "audio_end"
	TypeTextMessage     = "text_message"
	TypeImageMessage    = "image_message"
	TypeInterrupt       = "interrupt"
	TypeSelectWorkspace = "select_workspace"
	TypePing            = "ping"
)

// Control is a marker interface implemented by all outbound control messages.
// Each implementation serializes to a JSON object whose "type" field carries
// the discriminant. Control values are immutable once constructed.
type Control interface {
	controlType() string
}

// AudioStart announces the beginning of a microphone audio stream and its
// encoding parameters. Binary mic frames follow until AudioEnd.
type AudioStart struct {
	Type       string `json:"type"`
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
	Encoding   string `json:"encoding"`
}

// NewAudioStart returns an AudioStart for 16 kHz mono pcm_s16le, the only
// capture format the client produces.
func NewAudioStart() AudioStart {
	return AudioStart{
		Type:       TypeAudioStart,
		SampleRate: 16000,
		Channels:   1,
		Encoding:   "pcm_s16le",
	}
}

// AudioEnd marks the end of the current microphone audio stream.
type AudioEnd struct {
	Type string `json:"type"`
}

// NewAudioEnd returns an AudioEnd message.
func NewAudioEnd() AudioEnd { return AudioEnd{Type: TypeAudioEnd} }

// TextMessage carries a typed user message.
type TextMessage struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// NewTextMessage returns a TextMessage with the given text.
func NewTextMessage(text string) TextMessage {
	return TextMessage{Type: TypeTextMessage, Text: text}
}

// ImageMessage carries a base64-encoded image attachment with optional
// accompanying text.
type ImageMessage struct {
	Type      string `json:"type"`
	Data      string `json:"data"`
	MediaType string `json:"media_type"`
	Text      string `json:"text,omitempty"`
}

// NewImageMessage returns an ImageMessage. An empty mediaType defaults to
// "image/jpeg".
func NewImageMessage(data, mediaType, text string) ImageMessage {
	if mediaType == "" {
		mediaType = "image/jpeg"
	}
	return ImageMessage{Type: TypeImageMessage, Data: data, MediaType: mediaType, Text: text}
}

// Interrupt requests cancellation of the in-flight assistant response.
type Interrupt struct {
	Type string `json:"type"`
}

// NewInterrupt returns an Interrupt message.
func NewInterrupt() Interrupt { return Interrupt{Type: TypeInterrupt} }

// SelectWorkspace switches the server's workspace context.
type SelectWorkspace struct {
	Type string `json:"type"`
	Name string `json:"name"`
}

// NewSelectWorkspace returns a SelectWorkspace for the named workspace.
func NewSelectWorkspace(name string) SelectWorkspace {
	return SelectWorkspace{Type: TypeSelectWorkspace, Name: name}
}

// Ping is an application-level liveness probe answered by Pong.
type Ping struct {
	Type string `json:"type"`
}

// NewPing returns a Ping message.
func NewPing() Ping { return Ping{Type: TypePing} }

func (m AudioStart) controlType() string      { return m.Type }
func (m AudioEnd) controlType() string        { return m.Type }
func (m TextMessage) controlType() string     { return m.Type }
func (m ImageMessage) controlType() string    { return m.Type }
func (m Interrupt) controlType() string       { return m.Type }
func (m SelectWorkspace) controlType() string { return m.Type }
func (m Ping) controlType() string            { return m.Type }

// EncodeControl marshals a control message to its JSON text-frame payload.
func EncodeControl(m Control) ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("wire: marshal %s: %w", m.controlType(), err)
	}
	return data, nil
}
