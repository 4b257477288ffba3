package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/zaporter/logic-grpo/grpo"
)

var ErrUpdateTimeout = errors.New("trainer worker did not re-enable inference in time")

type RemotePolicyOptions struct {
	MaxNewTokens int
	Temperature  float64
	// per generate or score task
	RequestTimeout time.Duration
	// whole advertise -> train -> re-enable handshake
	UpdateTimeout time.Duration
}

func DefaultRemotePolicyOptions() RemotePolicyOptions {
	return RemotePolicyOptions{
		MaxNewTokens:   128,
		Temperature:    1.0,
		RequestTimeout: 5 * time.Minute,
		UpdateTimeout:  30 * time.Minute,
	}
}

// RemotePolicy implements grpo.Policy on top of the policy engine and the training bus.
// Generate and Score are policy-engine tasks. Update advertises the step's groups and
// waits for the trainer worker to finish.
type RemotePolicy struct {
	submitter TaskSubmitter
	bus       TrainingBus
	options   RemotePolicyOptions
	ads       *AdvertisementList

	// one update handshake at a time
	updateMu sync.Mutex
}

var _ grpo.Policy = (*RemotePolicy)(nil)

func NewRemotePolicy(submitter TaskSubmitter, bus TrainingBus, options RemotePolicyOptions) *RemotePolicy {
	return &RemotePolicy{
		submitter: submitter,
		bus:       bus,
		options:   options,
		ads:       NewAdvertisementList(),
	}
}

func (p *RemotePolicy) run(ctx context.Context, task PolicyTask) (PolicyTaskResponse, error) {
	if p.options.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.options.RequestTimeout)
		defer cancel()
	}
	raw, err := p.submitter.Submit(ctx, task.ToJSON())
	if err != nil {
		return PolicyTaskResponse{}, fmt.Errorf("%s task: %w", task.Kind, err)
	}
	return PolicyTaskResponseFromJSON(raw)
}

func (p *RemotePolicy) Generate(ctx context.Context, prompt string) (grpo.Generation, error) {
	resp, err := p.run(ctx, PolicyTask{
		Kind:         PolicyTaskGenerate,
		Prompt:       prompt,
		MaxNewTokens: p.options.MaxNewTokens,
		Temperature:  p.options.Temperature,
	})
	if err != nil {
		return grpo.Generation{}, err
	}
	if resp.Generation == nil {
		return grpo.Generation{}, fmt.Errorf("%w: generate response without a generation", ErrRemote)
	}
	return *resp.Generation, nil
}

func (p *RemotePolicy) Score(ctx context.Context, tokens []int, attentionMask []int) (float64, error) {
	if len(tokens) == 0 {
		return 0, grpo.ErrEmptySequence
	}
	resp, err := p.run(ctx, PolicyTask{
		Kind:          PolicyTaskScore,
		Tokens:        tokens,
		AttentionMask: attentionMask,
	})
	if err != nil {
		return 0, err
	}
	return resp.LogProb, nil
}

// Update blocks until the trainer worker has consumed every group and re-enabled inference.
// Whatever the outcome, the training lists are dropped and inference is left enabled.
func (p *RemotePolicy) Update(ctx context.Context, request grpo.UpdateRequest) error {
	p.updateMu.Lock()
	defer p.updateMu.Unlock()
	logger := zerolog.Ctx(ctx).With().Str("component", "remote policy").Logger()
	start := time.Now()

	if p.options.UpdateTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.options.UpdateTimeout)
		defer cancel()
	}
	defer func() {
		p.ads.Clear()
		cleanup := context.WithoutCancel(ctx)
		if err := p.bus.Reset(cleanup); err != nil {
			logger.Error().Err(err).Msg("dropping training lists")
		}
		if err := p.bus.SetInferenceEnabled(cleanup, true); err != nil {
			logger.Error().Err(err).Msg("re-enabling inference")
		}
	}()

	if err := p.bus.Reset(ctx); err != nil {
		return fmt.Errorf("dropping stale training lists: %w", err)
	}
	for _, group := range request.Groups {
		payload := NewTrainingDataGroup(group, request)
		if err := p.ads.Advertise(ctx, p.bus, string(group.GroupID), payload); err != nil {
			return err
		}
	}
	if err := p.bus.SetInferenceEnabled(ctx, false); err != nil {
		return fmt.Errorf("disabling inference: %w", err)
	}
	logger.Info().Int("groups", len(request.Groups)).Float64("loss", request.Loss).Msg("advertised update, waiting for trainer")

	served := 0
	for {
		enabled, err := p.bus.InferenceEnabled(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return p.updateErr(ctx)
			}
			return fmt.Errorf("reading inference flag: %w", err)
		}
		if enabled {
			break
		}
		key, err := p.bus.NextRequest(ctx)
		switch {
		case errors.Is(err, ErrNoTrainingRequest):
			continue
		case err != nil:
			if ctx.Err() != nil {
				return p.updateErr(ctx)
			}
			logger.Error().Err(err).Msg("reading training request")
			continue
		}
		payload, ok := p.ads.Get(key)
		if !ok {
			logger.Error().Str("group_id", key).Msg("request for a group that was not advertised")
			continue
		}
		if err := p.bus.SendGroup(ctx, payload); err != nil {
			return fmt.Errorf("sending group %s: %w", key, err)
		}
		served++
	}

	policyUpdateSeconds.Observe(time.Since(start).Seconds())
	if served < len(request.Groups) {
		logger.Warn().Int("served", served).Int("advertised", len(request.Groups)).Msg("trainer finished without requesting every group")
	}
	logger.Info().Int("served", served).Dur("took", time.Since(start)).Msg("policy update finished")
	return nil
}

func (p *RemotePolicy) updateErr(ctx context.Context) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w after %s", ErrUpdateTimeout, p.options.UpdateTimeout)
	}
	return ctx.Err()
}
