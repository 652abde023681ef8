package respond

import "encoding/json"

// CallUserRespond is the "callUser" event forwarded to the callee.
type CallUserRespond struct {
	Signal json.RawMessage `json:"signal"`
	From   string          `json:"from"`
	Name   string          `json:"name"`
	CallId string          `json:"callId"`
}

// ICECandidateRespond is the "ice-candidate" event forwarded to the peer.
type ICECandidateRespond struct {
	From      string          `json:"from"`
	Candidate json.RawMessage `json:"candidate"`
}

// CallEndedRespond is the "callEnded" event.
type CallEndedRespond struct {
	From   string `json:"from"`
	Reason string `json:"reason"`
	CallId string `json:"callId,omitempty"`
}

// ChatMessageRespond is the "chat:message" event pushed to the receiver.
// Pending marks messages replayed on join that are still awaiting a delivery receipt.
type ChatMessageRespond struct {
	MessageId  string `json:"messageId"`
	SessionId  string `json:"sessionId"`
	SenderId   string `json:"senderId"`
	ReceiverId string `json:"receiverId"`
	RoomId     string `json:"roomId,omitempty"`
	Type       string `json:"type"`
	Text       string `json:"text,omitempty"`
	MediaUrl   string `json:"mediaUrl,omitempty"`
	Delivered  bool   `json:"delivered"`
	Read       bool   `json:"read"`
	CreatedAt  string `json:"createdAt"`
	Pending    bool   `json:"pending,omitempty"`
}

// ChatSentRespond acknowledges a "chat:message" to its sender.
type ChatSentRespond struct {
	MessageId string `json:"messageId"`
	ClientId  string `json:"clientId,omitempty"`
	Live      bool   `json:"live"`      // receiver was reachable
	Persisted bool   `json:"persisted"` // row stored
}

// ChatReceiptRespond is the "chat:receipt" event sent to the original sender.
type ChatReceiptRespond struct {
	MessageId string `json:"messageId"`
	Status    string `json:"status"` // delivered or read
	At        string `json:"at"`
}

// JoinedRespond confirms a "join-room".
type JoinedRespond struct {
	Id string `json:"id"`
}

// SessionReplacedRespond tells a connection it lost its id to a newer one.
type SessionReplacedRespond struct {
	Id string `json:"id"`
}

// ErrorRespond is the "error" event; Reason is a stable snake_case code.
type ErrorRespond struct {
	Code   int    `json:"code"`
	Reason string `json:"reason"`
	Msg    string `json:"msg"`
	Event  string `json:"event,omitempty"`
	Target string `json:"target,omitempty"`
}
