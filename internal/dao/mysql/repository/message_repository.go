package repository

import (
	"time"

	"astro_chat_server/internal/model"

	"gorm.io/gorm"
)

type messageRepository struct {
	db *gorm.DB
}

func NewMessageRepository(db *gorm.DB) MessageRepository {
	return &messageRepository{db: db}
}

func (r *messageRepository) Create(message *model.ChatMessage) error {
	if err := r.db.Create(message).Error; err != nil {
		return wrapDBErrorf(err, "create message uuid=%d", message.Uuid)
	}
	return nil
}

func (r *messageRepository) FindByUuid(uuid int64) (*model.ChatMessage, error) {
	var message model.ChatMessage
	if err := r.db.Where("uuid = ?", uuid).First(&message).Error; err != nil {
		return nil, wrapDBErrorf(err, "find message uuid=%d", uuid)
	}
	return &message, nil
}

func (r *messageRepository) FindBySessionId(sessionId string, limit int) ([]model.ChatMessage, error) {
	limit = normalizeLimit(limit)
	var messages []model.ChatMessage
	if err := r.db.Where("session_id = ?", sessionId).
		Order("id DESC").Limit(limit).Find(&messages).Error; err != nil {
		return nil, wrapDBErrorf(err, "find messages session_id=%s", sessionId)
	}
	// newest first from the query, callers want chronological order
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

func (r *messageRepository) FindUndelivered(receiverId string, limit int) ([]model.ChatMessage, error) {
	limit = normalizeLimit(limit)
	var messages []model.ChatMessage
	if err := r.db.Where("receiver_id = ? AND is_delivered = ?", receiverId, false).
		Order("id ASC").Limit(limit).Find(&messages).Error; err != nil {
		return nil, wrapDBErrorf(err, "find undelivered receiver_id=%s", receiverId)
	}
	return messages, nil
}

func (r *messageRepository) MarkDelivered(uuid int64, at time.Time) error {
	if err := r.exists(uuid); err != nil {
		return err
	}
	err := r.db.Model(&model.ChatMessage{}).
		Where("uuid = ? AND is_delivered = ?", uuid, false).
		Updates(map[string]any{"is_delivered": true, "delivered_at": at}).Error
	return wrapDBErrorf(err, "mark delivered uuid=%d", uuid)
}

func (r *messageRepository) MarkRead(uuid int64, at time.Time) error {
	if err := r.exists(uuid); err != nil {
		return err
	}
	err := r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&model.ChatMessage{}).
			Where("uuid = ? AND is_delivered = ?", uuid, false).
			Updates(map[string]any{"is_delivered": true, "delivered_at": at}).Error; err != nil {
			return err
		}
		return tx.Model(&model.ChatMessage{}).
			Where("uuid = ? AND is_read = ?", uuid, false).
			Updates(map[string]any{"is_read": true, "read_at": at}).Error
	})
	return wrapDBErrorf(err, "mark read uuid=%d", uuid)
}

func (r *messageRepository) exists(uuid int64) error {
	var count int64
	if err := r.db.Model(&model.ChatMessage{}).Where("uuid = ?", uuid).Count(&count).Error; err != nil {
		return wrapDBErrorf(err, "count message uuid=%d", uuid)
	}
	if count == 0 {
		return wrapDBErrorf(gorm.ErrRecordNotFound, "message uuid=%d", uuid)
	}
	return nil
}
