package experiment

import (
	"context"
	"fmt"
	"slices"
	"sort"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/zaporter/logic-grpo/orchestrator"
)

// checkParams rejects anything that is not a router key before redis is touched.
func checkParams(params map[string]any) ([]string, error) {
	keys := make([]string, 0, len(params))
	for key := range params {
		if !slices.Contains(orchestrator.AllRouterKeys, orchestrator.RedisKey(key)) {
			return nil, fmt.Errorf("key %s not found in router keys", key)
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys, nil
}

func setParams(ctx context.Context, params map[string]any) error {
	keys, err := checkParams(params)
	if err != nil {
		return err
	}
	rdb, err := orchestrator.ConnectToRedis(ctx)
	if err != nil {
		return err
	}
	defer rdb.Close()
	return writeParams(ctx, rdb, keys, params)
}

func writeParams(ctx context.Context, rdb redis.Cmdable, keys []string, params map[string]any) error {
	logger := zerolog.Ctx(ctx)
	pipe := rdb.TxPipeline()
	for _, key := range keys {
		pipe.Set(ctx, key, params[key], 0)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("setting router params: %w", err)
	}
	for _, key := range keys {
		logger.Info().Msgf("%s = %v", key, params[key])
	}
	return nil
}
