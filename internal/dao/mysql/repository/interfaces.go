// Package repository is the data access layer.
// Interfaces live here, gorm implementations in their own files.
package repository

import (
	"errors"
	"time"

	"astro_chat_server/internal/model"
	"astro_chat_server/pkg/errorx"

	"gorm.io/gorm"
)

// wrapDBError maps gorm.ErrRecordNotFound to CodeNotFound and the rest to CodeDBError.
func wrapDBError(err error, msg string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return errorx.Wrap(err, errorx.CodeNotFound, msg)
	}
	return errorx.Wrap(err, errorx.CodeDBError, msg)
}

func wrapDBErrorf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return errorx.Wrapf(err, errorx.CodeNotFound, format, args...)
	}
	return errorx.Wrapf(err, errorx.CodeDBError, format, args...)
}

// normalizeLimit turns a non-positive limit into gorm's "no limit".
func normalizeLimit(limit int) int {
	if limit <= 0 {
		return -1
	}
	return limit
}

// MessageRepository stores chat messages and their receipt flags.
type MessageRepository interface {
	Create(message *model.ChatMessage) error
	FindByUuid(uuid int64) (*model.ChatMessage, error)
	// FindBySessionId returns the newest limit messages of a session, oldest first.
	FindBySessionId(sessionId string, limit int) ([]model.ChatMessage, error)
	// FindUndelivered returns messages still waiting for a delivery receipt, oldest first.
	FindUndelivered(receiverId string, limit int) ([]model.ChatMessage, error)
	MarkDelivered(uuid int64, at time.Time) error
	// MarkRead also marks the message delivered when it was not yet.
	MarkRead(uuid int64, at time.Time) error
}

// CallRepository stores call lifecycles.
type CallRepository interface {
	Create(call *model.CallSession) error
	FindByUuid(uuid string) (*model.CallSession, error)
	UpdateByUuid(uuid string, updates map[string]any) error
	FindByParticipant(participantId string, limit int) ([]model.CallSession, error)
}

// SettingRepository stores admin settings.
type SettingRepository interface {
	FindAll() ([]model.Setting, error)
	FindByKey(key string) (*model.Setting, error)
	Upsert(setting *model.Setting) error
	EnsureDefaults(defaults []model.Setting) error
}

// Repositories aggregates every repository for injection into services.
type Repositories struct {
	db      *gorm.DB
	Message MessageRepository
	Call    CallRepository
	Setting SettingRepository
}

func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		db:      db,
		Message: NewMessageRepository(db),
		Call:    NewCallRepository(db),
		Setting: NewSettingRepository(db),
	}
}

// Transaction runs fn with repositories bound to one transaction.
// Any error returned by fn rolls everything back.
func (r *Repositories) Transaction(fn func(txRepos *Repositories) error) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		return fn(NewRepositories(tx))
	})
}
