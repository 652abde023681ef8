// Package history serves stored chat messages of a consultation session.
package history

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"go.uber.org/zap"

	"astro_chat_server/internal/dao/mysql/repository"
	myredis "astro_chat_server/internal/dao/redis"
	"astro_chat_server/internal/dto/respond"
	"astro_chat_server/pkg/constants"
	"astro_chat_server/pkg/errorx"
)

type historyService struct {
	repos *repository.Repositories
	cache myredis.CacheService
}

func NewHistoryService(repos *repository.Repositories, cache myredis.CacheService) *historyService {
	return &historyService{repos: repos, cache: cache}
}

// SessionMessages returns the newest limit messages of sessionId, oldest first.
// Access is granted when requesterID sent or received a message in the
// cached newest page; older messages are not consulted.
// The cached copy always holds the newest page and is dropped by the relay on
// every new message or receipt.
func (h *historyService) SessionMessages(ctx context.Context, requesterID, sessionID string, limit int) ([]respond.ChatMessageRespond, error) {
	if limit <= 0 || limit > constants.HISTORY_PAGE_LIMIT {
		limit = constants.HISTORY_PAGE_LIMIT
	}

	page, err := h.page(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if len(page) > 0 && !participates(page, requesterID) {
		return nil, errorx.New(errorx.CodeForbidden, "not a participant of this session")
	}
	if len(page) > limit {
		page = page[len(page)-limit:]
	}
	return page, nil
}

func (h *historyService) page(ctx context.Context, sessionID string) ([]respond.ChatMessageRespond, error) {
	key := constants.ChatHistoryPrefix + sessionID

	cached, err := h.cache.Get(ctx, key)
	if err != nil {
		zap.L().Warn("history cache get", zap.String("key", key), zap.Error(err))
	} else if cached != "" {
		var rsp []respond.ChatMessageRespond
		if err := json.Unmarshal([]byte(cached), &rsp); err == nil {
			return rsp, nil
		}
		zap.L().Warn("history cache corrupt", zap.String("key", key))
	}

	messages, err := h.repos.Message.FindBySessionId(sessionID, constants.HISTORY_PAGE_LIMIT)
	if err != nil {
		zap.L().Error("load session messages", zap.String("session", sessionID), zap.Error(err))
		return nil, errorx.ErrServerBusy
	}

	rsp := make([]respond.ChatMessageRespond, 0, len(messages))
	for _, m := range messages {
		rsp = append(rsp, respond.ChatMessageRespond{
			MessageId:  strconv.FormatInt(m.Uuid, 10),
			SessionId:  m.SessionId,
			SenderId:   m.SenderId,
			ReceiverId: m.ReceiverId,
			RoomId:     m.RoomId,
			Type:       m.Type,
			Text:       m.Text,
			MediaUrl:   m.MediaUrl,
			Delivered:  m.Delivered,
			Read:       m.Read,
			CreatedAt:  m.CreatedAt.UTC().Format(time.RFC3339),
		})
	}

	if b, err := json.Marshal(rsp); err == nil {
		if err := h.cache.Set(ctx, key, string(b), constants.HISTORY_CACHE_MINUTES*time.Minute); err != nil {
			zap.L().Warn("history cache set", zap.String("key", key), zap.Error(err))
		}
	}
	return rsp, nil
}

// participates checks only the messages in page, not the full session.
func participates(page []respond.ChatMessageRespond, id string) bool {
	for _, m := range page {
		if m.SenderId == id || m.ReceiverId == id {
			return true
		}
	}
	return false
}
