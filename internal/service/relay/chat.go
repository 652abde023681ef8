package relay

import (
	"context"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"astro_chat_server/internal/dto/request"
	"astro_chat_server/internal/dto/respond"
	"astro_chat_server/internal/infrastructure/audit"
	"astro_chat_server/internal/infrastructure/metrics"
	"astro_chat_server/internal/model"
	"astro_chat_server/pkg/constants"
	"astro_chat_server/pkg/errorx"
	"astro_chat_server/pkg/util/snowflake"
)

const (
	receiptDelivered = "delivered"
	receiptRead      = "read"

	maxChatTextLen = 4000
	cacheTimeout   = 2 * time.Second
)

func (r *Relay) handleChatMessage(ctx context.Context, conn Conn, frame Frame) error {
	var req request.ChatMessageRequest
	if err := frame.Bind(&req); err != nil {
		return err
	}
	sender, err := r.senderID(conn, strings.TrimSpace(req.SenderId))
	if err != nil {
		return err
	}
	msg, err := newChatMessage(sender, req)
	if err != nil {
		return err
	}

	persisted := false
	if r.messages != nil {
		if err := r.messages.Create(msg); err != nil {
			// delivered live anyway, the row is lost
			metrics.IncPersistError()
			zap.L().Error("persist chat message",
				zap.Int64("message", msg.Uuid), zap.String("session", msg.SessionId), zap.Error(err))
		} else {
			persisted = true
			r.invalidateHistory(msg.SessionId)
		}
	}

	live := true
	out := mustFrame(EventChatMessage, toChatRespond(msg, false))
	if err := r.deliver(ctx, msg.ReceiverId, out, Envelope{From: sender}); err != nil {
		if !isCode(err, errorx.CodeTargetUnavailable) {
			return err
		}
		live = false
	}

	messageID := strconv.FormatInt(msg.Uuid, 10)
	if err := conn.Send(mustFrame(EventChatSent, respond.ChatSentRespond{
		MessageId: messageID,
		ClientId:  req.ClientId,
		Live:      live,
		Persisted: persisted,
	})); err != nil {
		zap.L().Debug("chat:sent not delivered", zap.String("conn", conn.ID()), zap.Error(err))
	}

	r.publishAudit(audit.KeyChatSent, sender, msg.ReceiverId, map[string]any{
		"message_id": messageID,
		"session_id": msg.SessionId,
		"type":       msg.Type,
		"live":       live,
	})
	return nil
}

// newChatMessage validates req and builds the row to store.
func newChatMessage(sender string, req request.ChatMessageRequest) (*model.ChatMessage, error) {
	receiver := strings.TrimSpace(req.ReceiverId)
	if receiver == "" {
		return nil, errorx.New(errorx.CodeInvalidParam, "receiverId is required")
	}
	if receiver == sender {
		return nil, errorx.New(errorx.CodeInvalidParam, "cannot message yourself")
	}
	msgType := req.Type
	if msgType == "" {
		msgType = model.ChatTypeText
	}
	if !model.ValidChatType(msgType) {
		return nil, errorx.Newf(errorx.CodeInvalidParam, "unknown message type %q", req.Type)
	}

	text := strings.TrimSpace(req.Text)
	mediaURL := strings.TrimSpace(req.MediaUrl)
	switch msgType {
	case model.ChatTypeText, model.ChatTypeEmoji:
		if text == "" {
			return nil, errorx.Newf(errorx.CodeInvalidParam, "%s message needs text", msgType)
		}
	case model.ChatTypeImage, model.ChatTypeAudio:
		if mediaURL == "" {
			return nil, errorx.Newf(errorx.CodeInvalidParam, "%s message needs mediaUrl", msgType)
		}
	}
	if len(text) > maxChatTextLen {
		return nil, errorx.Newf(errorx.CodeInvalidParam, "text longer than %d bytes", maxChatTextLen)
	}

	sessionID := strings.TrimSpace(req.SessionId)
	if sessionID == "" {
		sessionID = strings.TrimSpace(req.RoomId)
	}

	return &model.ChatMessage{
		Uuid:       snowflake.GenerateID(),
		SessionId:  sessionID,
		RoomId:     strings.TrimSpace(req.RoomId),
		SenderId:   sender,
		ReceiverId: receiver,
		Type:       msgType,
		Text:       text,
		MediaUrl:   mediaURL,
	}, nil
}

// handleReceipt applies chat:delivered or chat:read from the message's receiver
// and tells the sender.
func (r *Relay) handleReceipt(ctx context.Context, conn Conn, frame Frame, status string) error {
	var req request.ChatReceiptRequest
	if err := frame.Bind(&req); err != nil {
		return err
	}
	uuid, err := strconv.ParseInt(strings.TrimSpace(req.MessageId), 10, 64)
	if err != nil {
		return errorx.Newf(errorx.CodeInvalidParam, "invalid messageId %q", req.MessageId)
	}
	if r.messages == nil {
		return errorx.New(errorx.CodeNotFound, "message history is disabled")
	}

	msg, err := r.messages.FindByUuid(uuid)
	if err != nil {
		return err
	}
	if !r.registry.Owns(conn, msg.ReceiverId) {
		return errorx.New(errorx.CodeForbidden, "only the receiver can acknowledge a message")
	}

	at := r.now()
	if status == receiptRead {
		err = r.messages.MarkRead(uuid, at)
	} else {
		err = r.messages.MarkDelivered(uuid, at)
	}
	if err != nil {
		return err
	}
	r.invalidateHistory(msg.SessionId)

	out := mustFrame(EventChatReceipt, respond.ChatReceiptRespond{
		MessageId: req.MessageId,
		Status:    status,
		At:        at.UTC().Format(time.RFC3339),
	})
	if err := r.deliver(ctx, msg.SenderId, out, Envelope{From: msg.ReceiverId}); err != nil {
		zap.L().Debug("chat:receipt not delivered", zap.String("sender", msg.SenderId), zap.Error(err))
	}

	r.publishAudit(audit.KeyChatReceipt, msg.ReceiverId, msg.SenderId, map[string]any{
		"message_id": req.MessageId,
		"status":     status,
	})
	return nil
}

// pushPending replays undelivered messages to a participant that just joined.
// The delivered flag only changes on an explicit chat:delivered.
func (r *Relay) pushPending(conn Conn, participantID string) {
	if r.messages == nil {
		return
	}
	pending, err := r.messages.FindUndelivered(participantID, r.pendingLimit)
	if err != nil {
		zap.L().Warn("load pending messages", zap.String("participant", participantID), zap.Error(err))
		return
	}
	for i := range pending {
		if err := conn.Send(mustFrame(EventChatMessage, toChatRespond(&pending[i], true))); err != nil {
			zap.L().Debug("push pending message", zap.String("participant", participantID), zap.Error(err))
			return
		}
	}
	if len(pending) > 0 {
		zap.L().Info("pushed pending messages", zap.String("participant", participantID), zap.Int("count", len(pending)))
	}
}

func (r *Relay) invalidateHistory(sessionID string) {
	if r.cache == nil || sessionID == "" {
		return
	}
	key := constants.ChatHistoryPrefix + sessionID
	r.cache.SubmitTask(func() {
		ctx, cancel := context.WithTimeout(context.Background(), cacheTimeout)
		defer cancel()
		if err := r.cache.Delete(ctx, key); err != nil {
			zap.L().Warn("invalidate chat history", zap.String("key", key), zap.Error(err))
		}
	})
}

func toChatRespond(msg *model.ChatMessage, pending bool) respond.ChatMessageRespond {
	created := msg.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	return respond.ChatMessageRespond{
		MessageId:  strconv.FormatInt(msg.Uuid, 10),
		SessionId:  msg.SessionId,
		SenderId:   msg.SenderId,
		ReceiverId: msg.ReceiverId,
		RoomId:     msg.RoomId,
		Type:       msg.Type,
		Text:       msg.Text,
		MediaUrl:   msg.MediaUrl,
		Delivered:  msg.Delivered,
		Read:       msg.Read,
		CreatedAt:  created.UTC().Format(time.RFC3339),
		Pending:    pending,
	}
}
