// Package relay is the signaling and chat relay behind /socket.
//
// Every websocket message is a Frame: {"event": "...", "data": ...}.
// A Relay owns the participant registry and the call table; connections
// hand it decoded frames and receive frames through Conn.Send.
package relay

import (
	"encoding/json"

	"go.uber.org/zap"

	"astro_chat_server/pkg/errorx"
)

// Client to server events.
const (
	EventJoinRoom      = "join-room"
	EventCallUser      = "callUser"
	EventAnswerCall    = "answerCall"
	EventICECandidate  = "ice-candidate"
	EventEndCall       = "endCall"
	EventChatMessage   = "chat:message"
	EventChatDelivered = "chat:delivered"
	EventChatRead      = "chat:read"
)

// Server to client events. callUser, ice-candidate and chat:message are reused.
const (
	EventJoined          = "joined"
	EventCallAccepted    = "callAccepted"
	EventCallEnded       = "callEnded"
	EventChatSent        = "chat:sent"
	EventChatReceipt     = "chat:receipt"
	EventSessionReplaced = "session:replaced"
	EventError           = "error"
)

// Frame is the wire envelope.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// NewFrame marshals data into a frame. Raw JSON is embedded untouched.
func NewFrame(event string, data any) (Frame, error) {
	if raw, ok := data.(json.RawMessage); ok {
		return Frame{Event: event, Data: raw}, nil
	}
	if data == nil {
		return Frame{Event: event}, nil
	}
	b, err := json.Marshal(data)
	if err != nil {
		return Frame{}, errorx.Wrapf(err, errorx.CodeServerBusy, "encode %s frame", event)
	}
	return Frame{Event: event, Data: b}, nil
}

// mustFrame is NewFrame for payloads built from our own structs.
func mustFrame(event string, data any) Frame {
	f, err := NewFrame(event, data)
	if err != nil {
		zap.L().Error("encode frame", zap.String("event", event), zap.Error(err))
		return Frame{Event: event}
	}
	return f
}

// DecodeFrame parses one websocket text message.
func DecodeFrame(raw []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return Frame{}, errorx.Wrap(err, errorx.CodeInvalidParam, "malformed frame")
	}
	if f.Event == "" {
		return Frame{}, errorx.New(errorx.CodeInvalidParam, "frame without event")
	}
	return f, nil
}

// Bind decodes the frame payload into v.
func (f Frame) Bind(v any) error {
	if len(f.Data) == 0 {
		return errorx.Newf(errorx.CodeInvalidParam, "%s without payload", f.Event)
	}
	if err := json.Unmarshal(f.Data, v); err != nil {
		return errorx.Wrapf(err, errorx.CodeInvalidParam, "malformed %s payload", f.Event)
	}
	return nil
}
