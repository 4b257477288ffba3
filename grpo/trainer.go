package grpo

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/zaporter/logic-grpo/logic"
)

type StepResult struct {
	Loss   float64 `json:"loss"`
	Groups int     `json:"groups"`
	// episodes in the buffer when groups were formed
	Episodes    int  `json:"episodes"`
	Attempts    int  `json:"attempts"`
	TotalTokens int  `json:"total_tokens"`
	Updated     bool `json:"updated"`
	// episodes collected during this step, in completion order
	Collected []Episode `json:"-"`
}

type StopReason string

const (
	StopReasonMaxSteps    StopReason = "max_steps"
	StopReasonCriteriaMet StopReason = "stopping_criteria_met"
	StopReasonCancelled   StopReason = "cancelled"
	StopReasonStepFailed  StopReason = "step_failed"
	StopReasonEvalFailed  StopReason = "evaluation_failed"
)

type RunResult struct {
	Steps          int                `json:"steps"`
	Reason         StopReason         `json:"reason"`
	Stats          TrainingStats      `json:"stats"`
	LastEvaluation *EvaluationSummary `json:"last_evaluation,omitempty"`
}

type TrainerOption func(*Trainer)

func WithEvaluator(evaluator Evaluator) TrainerOption {
	return func(t *Trainer) { t.evaluator = evaluator }
}

func WithEvaluationSink(sink EvaluationSink) TrainerOption {
	return func(t *Trainer) { t.sink = sink }
}

func WithRunID(id RunID) TrainerOption {
	return func(t *Trainer) { t.runID = id }
}

// Trainer runs the GRPO loop: collect episodes until the token budget is met,
// group them, score the groups, and hand one update to the policy.
// Step and Run must not be called concurrently; Stats and LastEvaluation may be read from anywhere.
type Trainer struct {
	config    Config
	policy    Policy
	verifier  *logic.Verifier
	buffer    *EpisodeBuffer
	plateau   *PlateauDetector
	envs      []*logic.Environment
	evaluator Evaluator
	sink      EvaluationSink
	runID     RunID

	stats          atomic.Pointer[TrainingStats]
	lastEvaluation atomic.Pointer[EvaluationSummary]
}

func NewTrainer(config Config, policy Policy, verifier *logic.Verifier, opts ...TrainerOption) (*Trainer, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if policy == nil {
		return nil, errors.New("trainer needs a policy")
	}
	if verifier == nil {
		verifier = logic.NewVerifier(nil)
	}
	t := &Trainer{
		config:   config,
		policy:   policy,
		verifier: verifier,
		buffer:   NewEpisodeBuffer(config.BufferCapacity),
		plateau:  NewPlateauDetector(config.PlateauPatience, config.PlateauThreshold, config.MinSuccessRate),
		runID:    NewRunID(),
	}
	for _, opt := range opts {
		opt(t)
	}
	// one environment (and rng stream) per rollout worker
	for w := 0; w < config.NumWorkers; w++ {
		rng := rand.New(rand.NewPCG(config.Seed, uint64(w)+1))
		env, err := logic.NewEnvironment(config.EnvironmentConfig(), verifier, rng)
		if err != nil {
			return nil, err
		}
		t.envs = append(t.envs, env)
	}
	t.stats.Store(&TrainingStats{})
	return t, nil
}

func (t *Trainer) RunID() RunID {
	return t.runID
}

func (t *Trainer) Config() Config {
	return t.config
}

func (t *Trainer) Buffer() *EpisodeBuffer {
	return t.buffer
}

func (t *Trainer) Stats() TrainingStats {
	return *t.stats.Load()
}

func (t *Trainer) LastEvaluation() (EvaluationSummary, bool) {
	summary := t.lastEvaluation.Load()
	if summary == nil {
		return EvaluationSummary{}, false
	}
	return *summary, true
}

// Step performs one collect → group → score → update cycle.
// When no group can be formed the buffer is kept and no update is sent,
// since the policy has not changed and the episodes are still on-policy.
func (t *Trainer) Step(ctx context.Context) (StepResult, error) {
	logger := zerolog.Ctx(ctx).With().Str("component", "trainer").Logger()

	collected, attempts, err := t.collect(ctx)
	result := StepResult{Collected: collected, Attempts: attempts}
	if err != nil {
		return result, fmt.Errorf("collecting episodes: %w", err)
	}

	var groups [][]Episode
	if t.config.StratifiedGrouping {
		groups = t.buffer.StratifiedGroups(t.config.GroupSize)
	} else {
		groups = t.buffer.Groups(t.config.GroupSize)
	}
	result.Episodes = t.buffer.Len()
	result.TotalTokens = t.buffer.TotalTokens()
	bufferTokens.Set(float64(result.TotalTokens))

	if len(groups) == 0 {
		logger.Info().Int("episodes", result.Episodes).Msg("no groups formed, skipping update")
		t.publish(result)
		return result, nil
	}

	losses := make([]GroupLoss, 0, len(groups))
	updates := make([]GroupUpdate, 0, len(groups))
	for _, group := range groups {
		current := t.rescore(ctx, group)
		groupLoss, err := ComputeGroupLoss(group, current, t.config.ClipRatio)
		if err != nil {
			return result, err
		}
		clippedRatiosTotal.Add(float64(groupLoss.Clipped))
		losses = append(losses, groupLoss)
		updates = append(updates, GroupUpdate{
			GroupID:   NewGroupID(),
			Episodes:  group,
			GroupLoss: groupLoss,
		})
	}
	result.Loss = MeanLoss(losses)
	result.Groups = len(groups)

	err = t.policy.Update(ctx, UpdateRequest{
		Loss:         result.Loss,
		Groups:       updates,
		LearningRate: t.config.LearningRate,
		MaxGradNorm:  t.config.MaxGradNorm,
		ClipRatio:    t.config.ClipRatio,
	})
	if err != nil {
		// the buffer is kept so the next step can retry with the same episodes
		return result, fmt.Errorf("policy update: %w", err)
	}
	result.Updated = true
	policyUpdatesTotal.Inc()
	stepLoss.Set(result.Loss)
	stepGroups.Set(float64(result.Groups))
	t.buffer.Clear()

	logger.Info().
		Float64("loss", result.Loss).
		Int("groups", result.Groups).
		Int("episodes", result.Episodes).
		Int("tokens", result.TotalTokens).
		Msg("policy updated")
	t.publish(result)
	return result, nil
}

func (t *Trainer) publish(result StepResult) {
	next := t.Stats().withStep(result)
	t.stats.Store(&next)
}

// collect fills the buffer until it holds TargetBatchTokens or MaxEpisodesPerStep attempts were made.
func (t *Trainer) collect(ctx context.Context) ([]Episode, int, error) {
	var (
		attempts  atomic.Int64
		mu        sync.Mutex
		collected []Episode
	)
	limit := int64(t.config.MaxEpisodesPerStep)
	g, gctx := errgroup.WithContext(ctx)
	for _, env := range t.envs {
		g.Go(func() error {
			for t.buffer.TotalTokens() < t.config.TargetBatchTokens {
				if attempts.Add(1) > limit {
					return nil
				}
				if err := gctx.Err(); err != nil {
					return err
				}
				episode, err := t.collectEpisode(gctx, env)
				if err != nil {
					return err
				}
				t.buffer.Add(episode)
				mu.Lock()
				collected = append(collected, episode)
				mu.Unlock()
			}
			return nil
		})
	}
	err := g.Wait()
	return collected, int(min(attempts.Load(), limit)), err
}

func (t *Trainer) collectEpisode(ctx context.Context, env *logic.Environment) (Episode, error) {
	logger := zerolog.Ctx(ctx)
	obs, err := env.Reset()
	if err != nil {
		return Episode{}, err
	}
	generation, err := t.policy.Generate(ctx, CreatePrompt(obs, t.config.PromptStyle))
	if err == nil {
		err = generation.Validate()
	}
	if err != nil {
		if ctx.Err() != nil {
			return Episode{}, ctx.Err()
		}
		logger.Warn().Err(err).Str("task_type", obs.TaskType.String()).Msg("generation failed, recording degenerate response")
		degenerateGenerationsTotal.Inc()
		generation = Generation{Text: "Error: " + err.Error()}
	}
	action := ParseAction(generation.Text)
	step, err := env.Step(action)
	if err != nil {
		return Episode{}, err
	}
	state, _ := env.CurrentState()
	episode, err := NewEpisode(state, action, step.Reward, generation.SequenceLogProb(), generation.Tokens, generation.AttentionMask)
	if err != nil {
		return Episode{}, err
	}
	episodesTotal.WithLabelValues(state.TaskType.String()).Inc()
	episodeReward.WithLabelValues(state.TaskType.String()).Observe(step.Reward)
	logger.Debug().
		Str("episode", string(episode.ID)).
		Str("task_type", state.TaskType.String()).
		Int("difficulty", state.Difficulty).
		Float64("reward", step.Reward).
		Str("explanation", step.Info.Explanation).
		Msg("episode collected")
	return episode, nil
}

// rescore asks the current policy for each episode's log-prob.
// Episodes without tokens, or whose scoring fails, keep their behavior log-prob (ratio 1).
func (t *Trainer) rescore(ctx context.Context, group []Episode) []float64 {
	logger := zerolog.Ctx(ctx)
	current := make([]float64, len(group))
	for i, episode := range group {
		current[i] = episode.BehaviorLogProb
		if episode.TokenCount() == 0 {
			scoreFallbacksTotal.Inc()
			continue
		}
		logProb, err := t.policy.Score(ctx, episode.TokenSequence, episode.AttentionMask)
		if err != nil {
			logger.Warn().Err(err).Str("episode", string(episode.ID)).Msg("scoring failed, using behavior log-prob")
			scoreFallbacksTotal.Inc()
			continue
		}
		current[i] = logProb
	}
	return current
}

// Run steps until MaxSteps, the stopping criteria, or cancellation.
// Cancellation is only observed between steps: a started step always finishes.
func (t *Trainer) Run(ctx context.Context) (RunResult, error) {
	logger := zerolog.Ctx(ctx).With().Str("component", "trainer").Str("run", string(t.runID)).Logger()
	stepCtx := context.WithoutCancel(ctx)
	result := RunResult{}
	finish := func(reason StopReason) RunResult {
		result.Reason = reason
		result.Stats = t.Stats()
		if summary, ok := t.LastEvaluation(); ok {
			result.LastEvaluation = &summary
		}
		return result
	}

	for step := 1; t.config.MaxSteps == 0 || step <= t.config.MaxSteps; step++ {
		select {
		case <-ctx.Done():
			logger.Info().Int("steps", result.Steps).Msg("training cancelled")
			return finish(StopReasonCancelled), ctx.Err()
		default:
		}
		if _, err := t.Step(stepCtx); err != nil {
			return finish(StopReasonStepFailed), err
		}
		result.Steps = step

		if t.evaluator == nil || t.config.EvalEvery == 0 || step%t.config.EvalEvery != 0 {
			continue
		}
		status, err := t.evaluate(stepCtx, step)
		if err != nil {
			return finish(StopReasonEvalFailed), err
		}
		if status.Stop {
			logger.Info().Int("steps", step).Floats64("window", status.Window).Msg("stopping criteria met")
			return finish(StopReasonCriteriaMet), nil
		}
	}
	return finish(StopReasonMaxSteps), nil
}

func (t *Trainer) evaluate(ctx context.Context, step int) (PlateauStatus, error) {
	logger := zerolog.Ctx(ctx).With().Str("component", "trainer").Int("step", step).Logger()
	summary, results, err := t.evaluator.Evaluate(ctx, t.policy)
	if err != nil {
		return PlateauStatus{}, fmt.Errorf("evaluation at step %d: %w", step, err)
	}
	status := t.plateau.Observe(summary.OverallSuccessRate)
	summary.PlateauDetected = status.Plateau
	summary.StoppingCriteriaMet = status.Stop

	evalSuccessRate.Set(summary.OverallSuccessRate)
	evalFormalCorrectness.Set(summary.FormalCorrectnessRate)
	plateauDetected.Set(boolGauge(status.Plateau))
	t.lastEvaluation.Store(&summary)
	next := t.Stats().withEvaluation(summary)
	t.stats.Store(&next)

	logger.Info().
		Float64("success_rate", summary.OverallSuccessRate).
		Bool("plateau", status.Plateau).
		Bool("stop", status.Stop).
		Msg("evaluation recorded")
	if t.sink != nil {
		if err := t.sink.RecordEvaluation(ctx, t.runID, step, summary, results); err != nil {
			logger.Error().Err(err).Msg("failed to persist evaluation")
		}
	}
	return status, nil
}
