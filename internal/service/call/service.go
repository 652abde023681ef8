// Package call persists call lifecycles reported by the relay and lists them.
package call

import (
	"database/sql"
	"time"

	"go.uber.org/zap"

	"astro_chat_server/internal/dao/mysql/repository"
	"astro_chat_server/internal/dto/respond"
	"astro_chat_server/internal/model"
	"astro_chat_server/internal/service/relay"
	"astro_chat_server/pkg/errorx"
)

const defaultListLimit = 50

type callService struct {
	repos *repository.Repositories
}

func NewCallService(repos *repository.Repositories) *callService {
	return &callService{repos: repos}
}

// RecordCall implements relay.CallRecorder. The offer creates the row,
// later states update it.
func (s *callService) RecordCall(c relay.Call) error {
	if c.State == relay.CallOffered {
		return s.repos.Call.Create(&model.CallSession{
			Uuid:       c.ID,
			CallerId:   c.CallerID,
			CalleeId:   c.CalleeID,
			CallerName: c.CallerName,
			Status:     model.CallStatusRequested,
			StartedAt:  nullTime(c.OfferedAt),
		})
	}

	updates := map[string]any{}
	switch c.State {
	case relay.CallAnswered:
		updates["answered_at"] = nullTime(c.AnsweredAt)
	case relay.CallActive:
		updates["status"] = model.CallStatusActive
	case relay.CallEnded:
		updates["status"] = model.CallStatusEnded
		updates["end_reason"] = clipReason(c.EndReason)
		updates["ended_at"] = nullTime(c.EndedAt)
	default:
		return nil
	}

	err := s.repos.Call.UpdateByUuid(c.ID, updates)
	if errorx.IsNotFound(err) {
		// offered on another instance, keep what we know
		zap.L().Debug("call row missing, creating", zap.String("call", c.ID), zap.String("state", string(c.State)))
		row := &model.CallSession{
			Uuid:       c.ID,
			CallerId:   c.CallerID,
			CalleeId:   c.CalleeID,
			CallerName: c.CallerName,
			Status:     model.CallStatusRequested,
			StartedAt:  nullTime(c.OfferedAt),
			AnsweredAt: nullTime(c.AnsweredAt),
			EndedAt:    nullTime(c.EndedAt),
			EndReason:  clipReason(c.EndReason),
		}
		switch c.State {
		case relay.CallActive:
			row.Status = model.CallStatusActive
		case relay.CallEnded:
			row.Status = model.CallStatusEnded
		}
		return s.repos.Call.Create(row)
	}
	return err
}

// ListByParticipant returns the newest calls of participantID.
func (s *callService) ListByParticipant(participantID string, limit int) ([]respond.CallSessionRespond, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	calls, err := s.repos.Call.FindByParticipant(participantID, limit)
	if err != nil {
		zap.L().Error("list calls", zap.String("participant", participantID), zap.Error(err))
		return nil, errorx.ErrServerBusy
	}
	out := make([]respond.CallSessionRespond, 0, len(calls))
	for _, c := range calls {
		out = append(out, respond.CallSessionRespond{
			CallId:     c.Uuid,
			CallerId:   c.CallerId,
			CalleeId:   c.CalleeId,
			CallerName: c.CallerName,
			Status:     c.Status,
			EndReason:  c.EndReason,
			StartedAt:  formatNullTime(c.StartedAt),
			AnsweredAt: formatNullTime(c.AnsweredAt),
			EndedAt:    formatNullTime(c.EndedAt),
		})
	}
	return out, nil
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}

func formatNullTime(t sql.NullTime) string {
	if !t.Valid {
		return ""
	}
	return t.Time.UTC().Format(time.RFC3339)
}

// clipReason keeps end_reason within its column so the ended row is never rejected.
func clipReason(reason string) string {
	if len(reason) > model.MaxEndReasonLen {
		return reason[:model.MaxEndReasonLen]
	}
	return reason
}
