package database

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/AnshRaj112/medconsult-backend/pkg/logger"
)

var RedisClient *redis.Client

// ConnectRedis connects the client shared by sessions, presence, the actor
// cache and directory change notifications.
func ConnectRedis(redisURI string) error {
	opt, err := redis.ParseURL(redisURI)
	if err != nil {
		return err
	}

	opt.PoolSize = 10
	opt.MinIdleConns = 5
	opt.MaxRetries = 3
	opt.DialTimeout = 5 * time.Second
	opt.ReadTimeout = 3 * time.Second
	opt.WriteTimeout = 3 * time.Second
	opt.PoolTimeout = 4 * time.Second
	opt.ConnMaxIdleTime = 5 * time.Minute

	RedisClient = redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := RedisClient.Ping(ctx).Err(); err != nil {
		return err
	}

	log := logger.Component("redis")
	log.Info().Str("addr", opt.Addr).Msg("connected to Redis")
	return nil
}

func DisconnectRedis() error {
	if RedisClient != nil {
		return RedisClient.Close()
	}
	return nil
}
