package orchestrator

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/zaporter/logic-grpo/grpo"
)

const (
	RedisTrainingTxChan  = "training:data-chan"
	RedisTrainingRxChan  = "training:request-chan"
	RedisTrainingAdvList = "training:advertisement-list"
)

// ErrNoTrainingRequest is returned by NextRequest when nothing arrived before the poll timeout.
var ErrNoTrainingRequest = errors.New("no training request")

// TrainingSample is one episode as the trainer worker needs it to rebuild the clipped objective.
type TrainingSample struct {
	EpisodeID       grpo.EpisodeID `json:"episode_id"`
	Tokens          []int          `json:"tokens"`
	AttentionMask   []int          `json:"attention_mask"`
	BehaviorLogProb float64        `json:"behavior_log_prob"`
	// precomputed so the worker never needs rewards
	Advantage float64 `json:"advantage"`
	Ratio     float64 `json:"ratio"`
}

type TrainingHyperparameters struct {
	LearningRate float64 `json:"learning_rate"`
	MaxGradNorm  float64 `json:"max_grad_norm"`
	ClipRatio    float64 `json:"clip_ratio"`
}

// TrainingDataGroup is the payload served for one advertised group ID.
type TrainingDataGroup struct {
	GroupID         grpo.GroupID            `json:"group_id"`
	Loss            float64                 `json:"loss"`
	Hyperparameters TrainingHyperparameters `json:"hyperparameters"`
	Samples         []TrainingSample        `json:"samples"`
}

func NewTrainingDataGroup(update grpo.GroupUpdate, request grpo.UpdateRequest) TrainingDataGroup {
	samples := make([]TrainingSample, len(update.Episodes))
	for i, episode := range update.Episodes {
		samples[i] = TrainingSample{
			EpisodeID:       episode.ID,
			Tokens:          episode.TokenSequence,
			AttentionMask:   episode.AttentionMask,
			BehaviorLogProb: episode.BehaviorLogProb,
			Advantage:       update.Advantages[i],
			Ratio:           update.Ratios[i],
		}
	}
	return TrainingDataGroup{
		GroupID: update.GroupID,
		Loss:    update.Loss,
		Hyperparameters: TrainingHyperparameters{
			LearningRate: request.LearningRate,
			MaxGradNorm:  request.MaxGradNorm,
			ClipRatio:    request.ClipRatio,
		},
		Samples: samples,
	}
}

// TrainingBus is the redis side of the update handshake:
//
//  1. group IDs are pushed onto the advertisement list,
//  2. inference is disabled, which tells the trainer worker the advertisement is complete,
//  3. the worker requests each group by ID and the payload is pushed onto the data chan,
//  4. the worker re-enables inference once the new weights are loaded.
type TrainingBus interface {
	Advertise(ctx context.Context, groupID string) error
	// NextRequest blocks for at most the poll timeout.
	NextRequest(ctx context.Context) (string, error)
	SendGroup(ctx context.Context, payload string) error
	SetInferenceEnabled(ctx context.Context, enabled bool) error
	InferenceEnabled(ctx context.Context) (bool, error)
	// Reset drops all three training lists.
	Reset(ctx context.Context) error
}

type RedisTrainingBus struct {
	rdb         *redis.Client
	pollTimeout time.Duration
}

func NewRedisTrainingBus(rdb *redis.Client, pollTimeout time.Duration) *RedisTrainingBus {
	if pollTimeout <= 0 {
		pollTimeout = 3 * time.Second
	}
	return &RedisTrainingBus{rdb: rdb, pollTimeout: pollTimeout}
}

// Lpushed with the expectation that the worker scans from the right.
func (b *RedisTrainingBus) Advertise(ctx context.Context, groupID string) error {
	return b.rdb.LPush(ctx, RedisTrainingAdvList, groupID).Err()
}

func (b *RedisTrainingBus) NextRequest(ctx context.Context) (string, error) {
	request, err := b.rdb.BRPop(ctx, b.pollTimeout, RedisTrainingRxChan).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNoTrainingRequest
	}
	if err != nil {
		return "", err
	}
	return request[1], nil
}

func (b *RedisTrainingBus) SendGroup(ctx context.Context, payload string) error {
	return b.rdb.LPush(ctx, RedisTrainingTxChan, payload).Err()
}

func (b *RedisTrainingBus) SetInferenceEnabled(ctx context.Context, enabled bool) error {
	return setRouterParam(ctx, b.rdb, RedisInferenceEnabled, strconv.FormatBool(enabled))
}

func (b *RedisTrainingBus) InferenceEnabled(ctx context.Context) (bool, error) {
	val, err := b.rdb.Get(ctx, string(RedisInferenceEnabled)).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return val == "true", nil
}

func (b *RedisTrainingBus) Reset(ctx context.Context) error {
	return b.rdb.Del(ctx, RedisTrainingTxChan, RedisTrainingRxChan, RedisTrainingAdvList).Err()
}
