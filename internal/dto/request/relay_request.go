package request

import "encoding/json"

// CallUserRequest payload of the "callUser" event.
// SignalData is the caller's SDP offer, forwarded untouched.
type CallUserRequest struct {
	UserToCall string          `json:"userToCall"`
	SignalData json.RawMessage `json:"signalData"`
	From       string          `json:"from"`
	Name       string          `json:"name"`
}

// AnswerCallRequest payload of the "answerCall" event, To is the caller.
type AnswerCallRequest struct {
	Signal json.RawMessage `json:"signal"`
	To     string          `json:"to"`
}

// ICECandidateRequest payload of the "ice-candidate" event.
type ICECandidateRequest struct {
	To        string          `json:"to"`
	Candidate json.RawMessage `json:"candidate"`
}

// EndCallRequest payload of the "endCall" event. Missing or unknown reasons become "hangup".
type EndCallRequest struct {
	To     string `json:"to"`
	Reason string `json:"reason"` // hangup, declined, busy, timeout, cancelled or failed
}

// ChatMessageRequest payload of the "chat:message" event.
// ClientId is echoed back in "chat:sent" so the sender can match its optimistic copy.
type ChatMessageRequest struct {
	ClientId   string `json:"clientId"`
	SessionId  string `json:"sessionId"`
	SenderId   string `json:"senderId"`
	ReceiverId string `json:"receiverId"`
	RoomId     string `json:"roomId"`
	Text       string `json:"text"`
	MediaUrl   string `json:"mediaUrl"`
	Type       string `json:"type"`
}

// ChatReceiptRequest payload of "chat:delivered" and "chat:read".
type ChatReceiptRequest struct {
	MessageId string `json:"messageId"`
}
