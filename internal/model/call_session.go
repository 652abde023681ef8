package model

import (
	"database/sql"

	"gorm.io/gorm"
)

// Persisted call statuses.
const (
	CallStatusRequested = "requested"
	CallStatusActive    = "active"
	CallStatusEnded     = "ended"
)

// MaxEndReasonLen is the width of call_session.end_reason.
const MaxEndReasonLen = 32

// CallSession records the lifecycle of one audio/video call between two participants.
type CallSession struct {
	gorm.Model
	Uuid       string       `gorm:"column:uuid;uniqueIndex;type:varchar(32);not null;comment:call id"`
	CallerId   string       `gorm:"column:caller_id;index;type:varchar(64);not null"`
	CalleeId   string       `gorm:"column:callee_id;index;type:varchar(64);not null"`
	CallerName string       `gorm:"column:caller_name;type:varchar(64)"`
	Status     string       `gorm:"column:status;type:varchar(16);not null;comment:requested|active|ended"`
	EndReason  string       `gorm:"column:end_reason;type:varchar(32)"`
	StartedAt  sql.NullTime `gorm:"column:started_at"`
	AnsweredAt sql.NullTime `gorm:"column:answered_at"`
	EndedAt    sql.NullTime `gorm:"column:ended_at"`
}

func (CallSession) TableName() string {
	return "call_session"
}
