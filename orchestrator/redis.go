package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/redis/go-redis/v9"
)

var ErrRedisEnv = errors.New("REDIS_ADDRESS and REDIS_PORT must be set")

// RedisOptionsFromEnv reads REDIS_ADDRESS, REDIS_PORT, REDIS_PASSWORD and the optional REDIS_DB.
func RedisOptionsFromEnv() (*redis.Options, error) {
	host := os.Getenv("REDIS_ADDRESS")
	port := os.Getenv("REDIS_PORT")
	if host == "" || port == "" {
		return nil, ErrRedisEnv
	}
	db := 0
	if raw := os.Getenv("REDIS_DB"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("REDIS_DB: %w", err)
		}
		db = parsed
	}
	return &redis.Options{
		Addr:     fmt.Sprintf("%s:%s", host, port),
		Password: os.Getenv("REDIS_PASSWORD"),
		DB:       db,
		Protocol: 3,
	}, nil
}

func ConnectToRedis(ctx context.Context) (*redis.Client, error) {
	opts, err := RedisOptionsFromEnv()
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("pinging redis at %s: %w", opts.Addr, err)
	}
	return rdb, nil
}
