package orchestrator

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/urfave/cli/v3"

	"github.com/zaporter/logic-grpo/grpo"
)

// RedisKey is a runtime parameter shared with the workers through redis.
type RedisKey string

const (
	RedisInferenceEnabled RedisKey = "inference:enabled"

	RedisPolicyBaseModel    RedisKey = "policy:base_model"
	RedisPolicyAdapter      RedisKey = "policy:adapter"
	RedisPolicyBatchSize    RedisKey = "policy:batch_size"
	RedisPolicyMaxModelLen  RedisKey = "policy:max_model_len"
	RedisPolicyMaxNewTokens RedisKey = "policy:max_new_tokens"
	RedisPolicyTemperature  RedisKey = "policy:temperature"

	RedisSyntaxEnabled RedisKey = "syntax:enabled"
	RedisSyntaxGrammar RedisKey = "syntax:grammar"

	RedisTrainingAdapter         RedisKey = "training:adapter"
	RedisTrainingDoUpdateAdapter RedisKey = "training:do_update_adapter"

	// trainer overrides, applied on top of the config file at startup
	RedisGRPOGroupSize    RedisKey = "grpo:group_size"
	RedisGRPOClipRatio    RedisKey = "grpo:clip_ratio"
	RedisGRPOLearningRate RedisKey = "grpo:learning_rate"
	RedisGRPOMaxGradNorm  RedisKey = "grpo:max_grad_norm"
	RedisGRPONumWorkers   RedisKey = "grpo:num_workers"
	RedisGRPOEvalEvery    RedisKey = "grpo:eval_every"
	RedisGRPOMaxSteps     RedisKey = "grpo:max_steps"
)

var AllRouterKeys = []RedisKey{
	RedisInferenceEnabled,

	RedisPolicyBaseModel,
	RedisPolicyAdapter,
	RedisPolicyBatchSize,
	RedisPolicyMaxModelLen,
	RedisPolicyMaxNewTokens,
	RedisPolicyTemperature,

	RedisSyntaxEnabled,
	RedisSyntaxGrammar,

	RedisTrainingAdapter,
	RedisTrainingDoUpdateAdapter,

	RedisGRPOGroupSize,
	RedisGRPOClipRatio,
	RedisGRPOLearningRate,
	RedisGRPOMaxGradNorm,
	RedisGRPONumWorkers,
	RedisGRPOEvalEvery,
	RedisGRPOMaxSteps,
}

// grpo:* keys are left unset so the config file wins unless someone overrides it.
var defaultRouterParams = map[RedisKey]string{
	RedisInferenceEnabled: "true",

	RedisPolicyBaseModel:    "Qwen/Qwen2.5-1.5B-Instruct",
	RedisPolicyAdapter:      "lora_init",
	RedisPolicyBatchSize:    "32",
	RedisPolicyMaxModelLen:  "512",
	RedisPolicyMaxNewTokens: "128",
	RedisPolicyTemperature:  "1.0",

	RedisSyntaxEnabled: "true",
	RedisSyntaxGrammar: "english_core",

	RedisTrainingAdapter:         "lora_init",
	RedisTrainingDoUpdateAdapter: "true",
}

func isRouterKey(key string) bool {
	for _, k := range AllRouterKeys {
		if string(k) == key {
			return true
		}
	}
	return false
}

func setRouterParam(ctx context.Context, rdb *redis.Client, key RedisKey, val string) error {
	return rdb.Set(ctx, string(key), val, 0).Err()
}

// readRouterParams returns the keys that are set. Missing keys are left out.
func readRouterParams(ctx context.Context, rdb *redis.Client) (map[RedisKey]string, error) {
	keys := make([]string, len(AllRouterKeys))
	for i, k := range AllRouterKeys {
		keys[i] = string(k)
	}
	vals, err := rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}
	params := make(map[RedisKey]string, len(vals))
	for i, val := range vals {
		if s, ok := val.(string); ok {
			params[AllRouterKeys[i]] = s
		}
	}
	return params, nil
}

func intOverride(field func(*grpo.Config) *int) func(*grpo.Config, string) error {
	return func(c *grpo.Config, raw string) error {
		v, err := strconv.Atoi(raw)
		if err != nil {
			return err
		}
		*field(c) = v
		return nil
	}
}

func floatOverride(field func(*grpo.Config) *float64) func(*grpo.Config, string) error {
	return func(c *grpo.Config, raw string) error {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return err
		}
		*field(c) = v
		return nil
	}
}

var configOverrides = map[RedisKey]func(*grpo.Config, string) error{
	RedisGRPOGroupSize:    intOverride(func(c *grpo.Config) *int { return &c.GroupSize }),
	RedisGRPOClipRatio:    floatOverride(func(c *grpo.Config) *float64 { return &c.ClipRatio }),
	RedisGRPOLearningRate: floatOverride(func(c *grpo.Config) *float64 { return &c.LearningRate }),
	RedisGRPOMaxGradNorm:  floatOverride(func(c *grpo.Config) *float64 { return &c.MaxGradNorm }),
	RedisGRPONumWorkers:   intOverride(func(c *grpo.Config) *int { return &c.NumWorkers }),
	RedisGRPOEvalEvery:    intOverride(func(c *grpo.Config) *int { return &c.EvalEvery }),
	RedisGRPOMaxSteps:     intOverride(func(c *grpo.Config) *int { return &c.MaxSteps }),
}

// ApplyConfigOverrides applies the grpo:* params to config and re-validates it.
// Empty values are treated as unset.
func ApplyConfigOverrides(config grpo.Config, params map[RedisKey]string) (grpo.Config, error) {
	for key, apply := range configOverrides {
		raw := strings.TrimSpace(params[key])
		if raw == "" {
			continue
		}
		if err := apply(&config, raw); err != nil {
			return config, fmt.Errorf("router param %s=%q: %w", key, raw, err)
		}
	}
	if err := config.Validate(); err != nil {
		return config, fmt.Errorf("config after router overrides: %w", err)
	}
	return config, nil
}

// ApplyPolicyOverrides fills generation settings from the policy:* params.
func ApplyPolicyOverrides(options RemotePolicyOptions, params map[RedisKey]string) (RemotePolicyOptions, error) {
	if raw := params[RedisPolicyMaxNewTokens]; raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v <= 0 {
			return options, fmt.Errorf("router param %s=%q: must be a positive integer", RedisPolicyMaxNewTokens, raw)
		}
		options.MaxNewTokens = v
	}
	if raw := params[RedisPolicyTemperature]; raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil || v < 0 {
			return options, fmt.Errorf("router param %s=%q: must be a non-negative number", RedisPolicyTemperature, raw)
		}
		options.Temperature = v
	}
	return options, nil
}

// syntaxEngineEnabled defaults to true when the key is missing.
func syntaxEngineEnabled(params map[RedisKey]string) bool {
	raw, ok := params[RedisSyntaxEnabled]
	if !ok || raw == "" {
		return true
	}
	enabled, err := strconv.ParseBool(raw)
	return err != nil || enabled
}

func createRouterParamsCli() *cli.Command {
	set := false
	read := false
	toSet := ""
	valToSet := ""
	action := func(ctx context.Context, _ *cli.Command) error {
		logger := zerolog.Ctx(ctx)
		rdb, err := ConnectToRedis(ctx)
		if err != nil {
			return err
		}
		defer rdb.Close()
		switch {
		case set:
			if toSet == "" {
				return errors.New("key is required")
			}
			if valToSet == "" {
				return errors.New("value is required")
			}
			if !isRouterKey(toSet) {
				return fmt.Errorf("invalid key %q", toSet)
			}
			// "_" clears a value
			if valToSet == "_" {
				valToSet = ""
			}
			if err := setRouterParam(ctx, rdb, RedisKey(toSet), valToSet); err != nil {
				return err
			}
			logger.Info().Msgf("set %s=%s", toSet, valToSet)
		case read:
			if toSet != "" {
				return errors.New("list with key is not supported")
			}
			params, err := readRouterParams(ctx, rdb)
			if err != nil {
				return err
			}
			for _, key := range AllRouterKeys {
				val, ok := params[key]
				if !ok {
					val = "(unset)"
				}
				logger.Info().Msgf("%s: %s", key, val)
			}
		default:
			return errors.New("no action specified")
		}
		return nil
	}

	return &cli.Command{
		Name:   "params",
		Usage:  "get or set router params",
		Action: action,
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Aliases:     []string{"s"},
				Name:        "set",
				Usage:       "set a router param",
				Destination: &set,
			},
			&cli.BoolFlag{
				Aliases:     []string{"l"},
				Name:        "list",
				Usage:       "list router params",
				Destination: &read,
			},
		},
		ArgsUsage: "[key] [value]",
		Aliases:   []string{"p"},
		Arguments: []cli.Argument{
			&cli.StringArg{
				Name:        "key",
				Destination: &toSet,
				Max:         1,
			},
			&cli.StringArg{
				Name:        "value",
				Destination: &valToSet,
				Max:         1,
			},
		},
	}
}

func askForConfirmation(ctx context.Context, msg string) bool {
	reader := bufio.NewReader(os.Stdin)
	zerolog.Ctx(ctx).Info().Msgf("%s (y/n): ", msg)
	response, _ := reader.ReadString('\n')
	return strings.TrimSpace(strings.ToLower(response)) == "y"
}

func createInitializeRouterParamsCli() *cli.Command {
	var yes bool
	action := func(ctx context.Context, _ *cli.Command) error {
		if !yes && !askForConfirmation(ctx, "Initialize the router params? This overwrites existing values.") {
			return nil
		}
		logger := zerolog.Ctx(ctx)
		rdb, err := ConnectToRedis(ctx)
		if err != nil {
			return err
		}
		defer rdb.Close()
		pipe := rdb.TxPipeline()
		for key, val := range defaultRouterParams {
			pipe.Set(ctx, string(key), val, 0)
		}
		if _, err := pipe.Exec(ctx); err != nil {
			return err
		}
		for key, val := range defaultRouterParams {
			logger.Info().Msgf("set %s=%s", key, val)
		}
		return nil
	}
	return &cli.Command{
		Name:   "init",
		Usage:  "initialize router params",
		Action: action,
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:        "yes",
				Aliases:     []string{"y"},
				Usage:       "skip the confirmation prompt",
				Destination: &yes,
			},
		},
	}
}

func CreateRouterCli() *cli.Command {
	return &cli.Command{
		Name:    "router",
		Usage:   "runtime params shared with the workers",
		Aliases: []string{"r"},
		Commands: []*cli.Command{
			createRouterParamsCli(),
			createInitializeRouterParamsCli(),
		},
	}
}
