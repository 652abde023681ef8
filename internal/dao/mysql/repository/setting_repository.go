package repository

import (
	"astro_chat_server/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type settingRepository struct {
	db *gorm.DB
}

func NewSettingRepository(db *gorm.DB) SettingRepository {
	return &settingRepository{db: db}
}

func (r *settingRepository) FindAll() ([]model.Setting, error) {
	var settings []model.Setting
	if err := r.db.Order("setting_key ASC").Find(&settings).Error; err != nil {
		return nil, wrapDBError(err, "find settings")
	}
	return settings, nil
}

func (r *settingRepository) FindByKey(key string) (*model.Setting, error) {
	var setting model.Setting
	if err := r.db.Where("setting_key = ?", key).First(&setting).Error; err != nil {
		return nil, wrapDBErrorf(err, "find setting key=%s", key)
	}
	return &setting, nil
}

// Upsert inserts the setting or overwrites the value of an existing key.
// An empty description keeps the stored one.
func (r *settingRepository) Upsert(setting *model.Setting) error {
	columns := []string{"setting_value", "updated_at"}
	if setting.Description != "" {
		columns = append(columns, "description")
	}
	err := r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "setting_key"}},
		DoUpdates: clause.AssignmentColumns(columns),
	}).Create(setting).Error
	return wrapDBErrorf(err, "upsert setting key=%s", setting.Key)
}

// EnsureDefaults inserts the missing keys and leaves existing values untouched.
func (r *settingRepository) EnsureDefaults(defaults []model.Setting) error {
	if len(defaults) == 0 {
		return nil
	}
	rows := make([]model.Setting, len(defaults))
	copy(rows, defaults)
	err := r.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&rows).Error
	return wrapDBError(err, "insert default settings")
}
