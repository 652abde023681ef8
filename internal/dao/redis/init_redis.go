package redis

import (
	"context"
	"strconv"
	"time"

	"astro_chat_server/internal/config"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Init connects to Redis and starts the cache worker pool.
func Init() (*redis.Client, *RedisCache) {
	conf := config.GetConfig()
	addr := conf.RedisConfig.Host + ":" + strconv.Itoa(conf.RedisConfig.Port)

	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     conf.RedisConfig.Password,
		DB:           conf.RedisConfig.Db,
		PoolSize:     50,
		MinIdleConns: 15, // matches the worker count
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		zap.L().Fatal("redis ping", zap.String("addr", addr), zap.Error(err))
	}

	return client, NewRedisCache(client, 15, 3000)
}
