package ratelimit

import (
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/hongbao/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

func newLocker(cfg config.Config, log *zap.Logger) *Locker {
	if cfg.RedisAddr == "" {
		log.Named("ratelimit").Info("redis not configured, distributed locking disabled")
		return nil
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	return NewLocker(client)
}

var Module = fx.Module("ratelimit",
	fx.Provide(newLocker),
)
