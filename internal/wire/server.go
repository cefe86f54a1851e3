package wire

import (
	"encoding/json"
	"fmt"
)

// Server message type discriminants (server → client).
const (
	TypeTranscription     = "transcription"
	TypeResponseDelta     = "response_delta"
	TypeResponseEnd       = "response_end"
	TypeToolUse           = "tool_use"
	TypeToolResult        = "tool_result"
	TypeTTSStart          = "tts_start"
	TypeTTSEnd            = "tts_end"
	TypeError             = "error"
	TypePong              = "pong"
	TypeWorkspaceList     = "workspace_list"
	TypeWorkspaceSelected = "workspace_selected"
)

// ServerMessage is a marker interface implemented by all inbound message
// variants, including the Unknown catch-all.
type ServerMessage interface {
	serverType() string
}

// Transcription carries recognised user speech. Non-final transcriptions are
// provisional and may be replaced by later ones.
type Transcription struct {
	Text    string `json:"text"`
	IsFinal bool   `json:"is_final"`
}

// ResponseDelta carries an incremental piece of the assistant's text response.
type ResponseDelta struct {
	Text string `json:"text"`
}

// ResponseEnd marks the end of the assistant's text response.
type ResponseEnd struct{}

// ToolUse announces a tool invocation by the assistant.
type ToolUse struct {
	ToolName string         `json:"tool_name"`
	ToolID   string         `json:"tool_id"`
	Input    map[string]any `json:"input"`
}

// ToolResult reports the outcome of a previously announced tool invocation.
type ToolResult struct {
	ToolID   string `json:"tool_id"`
	ToolName string `json:"tool_name"`
	Success  bool   `json:"success"`
	Output   string `json:"output"`
}

// TTSStart announces the beginning of a synthesized speech stream. Binary TTS
// frames follow until TTSEnd.
type TTSStart struct {
	Format string `json:"format"`
}

// TTSEnd marks the end of the current synthesized speech stream.
type TTSEnd struct{}

// ServerError is a non-fatal error notice from the server.
type ServerError struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}

// Pong answers an application-level Ping.
type Pong struct{}

// WorkspaceEntry is one selectable workspace.
type WorkspaceEntry struct {
	Name string `json:"name"`
	Path string `json:"path"`
}

// WorkspaceList advertises the workspaces available on the server.
type WorkspaceList struct {
	Workspaces []WorkspaceEntry `json:"workspaces"`
}

// WorkspaceSelected confirms a workspace switch.
type WorkspaceSelected struct {
	Name string `json:"name"`
	Path string `json:"path"`
}

// Unknown is the forward-compatibility catch-all for unrecognised
// discriminants. It carries the raw type string and payload so callers can
// log it.
type Unknown struct {
	Type string
	Raw  json.RawMessage
}

func (Transcription) serverType() string     { return TypeTranscription }
func (ResponseDelta) serverType() string     { return TypeResponseDelta }
func (ResponseEnd) serverType() string       { return TypeResponseEnd }
func (ToolUse) serverType() string           { return TypeToolUse }
func (ToolResult) serverType() string        { return TypeToolResult }
func (TTSStart) serverType() string          { return TypeTTSStart }
func (TTSEnd) serverType() string            { return TypeTTSEnd }
func (ServerError) serverType() string       { return TypeError }
func (Pong) serverType() string              { return TypePong }
func (WorkspaceList) serverType() string     { return TypeWorkspaceList }
func (WorkspaceSelected) serverType() string { return TypeWorkspaceSelected }
func (u Unknown) serverType() string         { return u.Type }

// ParseServer decodes an inbound JSON text frame into its typed variant.
// Unrecognised discriminants decode to [Unknown] — only malformed JSON or a
// payload that does not match the recognised variant's shape returns an
// error. A returned error means "drop this message", never "drop the
// connection".
func ParseServer(data []byte) (ServerMessage, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("wire: parse envelope: %w", err)
	}

	var (
		msg ServerMessage
		err error
	)
	switch envelope.Type {
	case TypeTranscription:
		var m Transcription
		err = json.Unmarshal(data, &m)
		msg = m
	case TypeResponseDelta:
		var m ResponseDelta
		err = json.Unmarshal(data, &m)
		msg = m
	case TypeResponseEnd:
		msg = ResponseEnd{}
	case TypeToolUse:
		var m ToolUse
		err = json.Unmarshal(data, &m)
		msg = m
	case TypeToolResult:
		var m ToolResult
		err = json.Unmarshal(data, &m)
		msg = m
	case TypeTTSStart:
		var m TTSStart
		err = json.Unmarshal(data, &m)
		msg = m
	case TypeTTSEnd:
		msg = TTSEnd{}
	case TypeError:
		var m ServerError
		err = json.Unmarshal(data, &m)
		if m.Code == "" {
			m.Code = "unknown"
		}
		msg = m
	case TypePong:
		msg = Pong{}
	case TypeWorkspaceList:
		var m WorkspaceList
		err = json.Unmarshal(data, &m)
		msg = m
	case TypeWorkspaceSelected:
		var m WorkspaceSelected
		err = json.Unmarshal(data, &m)
		msg = m
	default:
		msg = Unknown{Type: envelope.Type, Raw: append(json.RawMessage(nil), data...)}
	}
	if err != nil {
		return nil, fmt.Errorf("wire: parse %s: %w", envelope.Type, err)
	}
	return msg, nil
}
