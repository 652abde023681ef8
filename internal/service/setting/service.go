// Package setting serves the admin managed key/value settings
// (per-minute rates, commission) with a Redis cache in front.
package setting

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"astro_chat_server/internal/dao/mysql/repository"
	myredis "astro_chat_server/internal/dao/redis"
	"astro_chat_server/internal/dto/request"
	"astro_chat_server/internal/dto/respond"
	"astro_chat_server/internal/model"
	"astro_chat_server/pkg/constants"
	"astro_chat_server/pkg/errorx"
)

type settingService struct {
	repos   *repository.Repositories
	cache   myredis.AsyncCacheService
	sfGroup singleflight.Group // collapses concurrent misses of one key
}

func NewSettingService(repos *repository.Repositories, cache myredis.AsyncCacheService) *settingService {
	return &settingService{repos: repos, cache: cache}
}

func cacheKey(key string) string {
	return constants.SettingCachePrefix + key
}

// List reads straight from the database, admins want fresh values.
func (s *settingService) List(ctx context.Context) ([]respond.SettingRespond, error) {
	settings, err := s.repos.Setting.FindAll()
	if err != nil {
		zap.L().Error("list settings", zap.Error(err))
		return nil, errorx.ErrServerBusy
	}
	out := make([]respond.SettingRespond, 0, len(settings))
	for i := range settings {
		out = append(out, toRespond(&settings[i]))
	}
	return out, nil
}

// Get is cache-aside: Redis first, then one database query per key however many callers miss.
func (s *settingService) Get(ctx context.Context, key string) (*respond.SettingRespond, error) {
	if cached, err := s.cache.Get(ctx, cacheKey(key)); err != nil {
		zap.L().Warn("setting cache get", zap.String("key", key), zap.Error(err))
	} else if cached != "" {
		var rsp respond.SettingRespond
		if err := json.Unmarshal([]byte(cached), &rsp); err == nil {
			return &rsp, nil
		}
		zap.L().Warn("setting cache corrupt", zap.String("key", key))
	}

	val, err, _ := s.sfGroup.Do(key, func() (any, error) {
		setting, err := s.repos.Setting.FindByKey(key)
		if err != nil {
			return nil, err
		}
		rsp := toRespond(setting)
		if b, err := json.Marshal(rsp); err == nil {
			if err := s.cache.Set(ctx, cacheKey(key), string(b), constants.SETTING_CACHE_MINUTES*time.Minute); err != nil {
				zap.L().Warn("setting cache set", zap.String("key", key), zap.Error(err))
			}
		}
		return &rsp, nil
	})
	if err != nil {
		if errorx.IsNotFound(err) {
			return nil, errorx.Newf(errorx.CodeNotFound, "setting %s not found", key)
		}
		zap.L().Error("get setting", zap.String("key", key), zap.Error(err))
		return nil, errorx.ErrServerBusy
	}
	return val.(*respond.SettingRespond), nil
}

// Update upserts every item in one transaction, then drops the cached copies.
func (s *settingService) Update(ctx context.Context, items []request.SettingItem) ([]respond.SettingRespond, error) {
	err := s.repos.Transaction(func(tx *repository.Repositories) error {
		for _, item := range items {
			if err := tx.Setting.Upsert(&model.Setting{
				Key:         item.Key,
				Value:       item.Value,
				Description: item.Description,
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		zap.L().Error("update settings", zap.Error(err))
		return nil, errorx.ErrServerBusy
	}

	s.cache.SubmitTask(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := s.cache.DeleteByPattern(ctx, constants.SettingCachePrefix+"*"); err != nil {
			zap.L().Warn("invalidate settings cache", zap.Error(err))
		}
	})
	zap.L().Info("settings updated", zap.Int("count", len(items)))
	return s.List(ctx)
}

func toRespond(s *model.Setting) respond.SettingRespond {
	return respond.SettingRespond{
		Key:         s.Key,
		Value:       s.Value,
		Description: s.Description,
		UpdatedAt:   s.UpdatedAt.Format("2006-01-02 15:04:05"),
	}
}
