package repository

import (
	"astro_chat_server/internal/model"

	"gorm.io/gorm"
)

type callRepository struct {
	db *gorm.DB
}

func NewCallRepository(db *gorm.DB) CallRepository {
	return &callRepository{db: db}
}

func (r *callRepository) Create(call *model.CallSession) error {
	if err := r.db.Create(call).Error; err != nil {
		return wrapDBErrorf(err, "create call uuid=%s", call.Uuid)
	}
	return nil
}

func (r *callRepository) FindByUuid(uuid string) (*model.CallSession, error) {
	var call model.CallSession
	if err := r.db.Where("uuid = ?", uuid).First(&call).Error; err != nil {
		return nil, wrapDBErrorf(err, "find call uuid=%s", uuid)
	}
	return &call, nil
}

func (r *callRepository) UpdateByUuid(uuid string, updates map[string]any) error {
	res := r.db.Model(&model.CallSession{}).Where("uuid = ?", uuid).Updates(updates)
	if res.Error != nil {
		return wrapDBErrorf(res.Error, "update call uuid=%s", uuid)
	}
	if res.RowsAffected == 0 {
		return wrapDBErrorf(gorm.ErrRecordNotFound, "update call uuid=%s", uuid)
	}
	return nil
}

// FindByParticipant lists calls where the participant is caller or callee, newest first.
func (r *callRepository) FindByParticipant(participantId string, limit int) ([]model.CallSession, error) {
	limit = normalizeLimit(limit)
	var calls []model.CallSession
	if err := r.db.Where("caller_id = ? OR callee_id = ?", participantId, participantId).
		Order("id DESC").Limit(limit).Find(&calls).Error; err != nil {
		return nil, wrapDBErrorf(err, "find calls participant=%s", participantId)
	}
	return calls, nil
}
