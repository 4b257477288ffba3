package orchestrator

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"github.com/rs/zerolog"
	"github.com/urfave/cli/v3"

	"github.com/zaporter/logic-grpo/grpo"
	"github.com/zaporter/logic-grpo/logic"
)

func parseTaskTypeFlag(raw string, rng *rand.Rand) (logic.TaskType, error) {
	if raw == "" {
		return logic.AllTaskTypes[rng.IntN(len(logic.AllTaskTypes))], nil
	}
	return logic.ParseTaskType(raw)
}

func createPlaygroundSampleCli() *cli.Command {
	var (
		taskType   string
		difficulty int64
		count      int64
		seed       int64
		style      string
	)
	action := func(ctx context.Context, _ *cli.Command) error {
		logger := zerolog.Ctx(ctx)
		rng := rand.New(rand.NewPCG(uint64(seed), 0))
		for i := range count {
			t, err := parseTaskTypeFlag(taskType, rng)
			if err != nil {
				return err
			}
			state, err := logic.SampleTask(rng, t, int(difficulty))
			if err != nil {
				return err
			}
			logger.Info().
				Int64("index", i).
				Str("task_type", state.TaskType.String()).
				Int("difficulty", state.Difficulty).
				Str("ground_truth", state.GroundTruth).
				Interface("metadata", state.Metadata).
				Msg("sampled task")
			logger.Info().Msg("\n" + grpo.CreatePrompt(state.Observation(), grpo.PromptStyle(style)))
		}
		return nil
	}
	return &cli.Command{
		Name:   "sample",
		Usage:  "sample tasks and print their prompts",
		Action: action,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "type", Aliases: []string{"t"}, Usage: "task type (random when unset)", Destination: &taskType},
			&cli.IntFlag{Name: "difficulty", Aliases: []string{"d"}, Value: 1, Destination: &difficulty},
			&cli.IntFlag{Name: "count", Aliases: []string{"n"}, Value: 1, Destination: &count},
			&cli.IntFlag{Name: "seed", Value: time.Now().UnixNano(), Destination: &seed},
			&cli.StringFlag{Name: "style", Usage: "prompt style: plain or xml", Value: string(grpo.PromptStylePlain), Destination: &style},
		},
	}
}

func createPlaygroundVerifyCli() *cli.Command {
	var (
		taskType    string
		question    string
		groundTruth string
		validity    string
		response    string
	)
	action := func(ctx context.Context, _ *cli.Command) error {
		logger := zerolog.Ctx(ctx)
		if response == "" {
			return errors.New("response is required")
		}
		t, err := logic.ParseTaskType(taskType)
		if err != nil {
			return err
		}
		state := logic.LogicState{
			Question:    question,
			GroundTruth: groundTruth,
			TaskType:    t,
			Difficulty:  1,
		}
		if validity != "" {
			state.Metadata = map[string]string{logic.MetadataValidity: validity}
		}
		action := grpo.ParseAction(response)
		reward, explanation := logic.NewVerifier(nil).Verify(state, action)
		logger.Info().
			Str("answer", action.Answer).
			Str("reasoning", action.Reasoning).
			Float64("reward", reward).
			Str("explanation", explanation).
			Msg("verified")
		return nil
	}
	return &cli.Command{
		Name:   "verify",
		Usage:  "verify a model response locally with the reference grammar",
		Action: action,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "type", Aliases: []string{"t"}, Required: true, Destination: &taskType},
			&cli.StringFlag{Name: "question", Aliases: []string{"q"}, Destination: &question},
			&cli.StringFlag{Name: "ground-truth", Aliases: []string{"g"}, Required: true, Destination: &groundTruth},
			&cli.StringFlag{Name: "validity", Usage: "propositional validity metadata", Destination: &validity},
		},
		ArgsUsage: "<response>",
		Arguments: []cli.Argument{
			&cli.StringArg{Name: "response", Destination: &response, Max: 1},
		},
	}
}

// generate pushes one sampled prompt through the policy workers and verifies the answer.
func createPlaygroundGenerateCli() *cli.Command {
	var (
		taskType   string
		difficulty int64
		seed       int64
		timeout    time.Duration
	)
	action := func(ctx context.Context, _ *cli.Command) error {
		logger := zerolog.Ctx(ctx)
		rng := rand.New(rand.NewPCG(uint64(seed), 0))
		t, err := parseTaskTypeFlag(taskType, rng)
		if err != nil {
			return err
		}
		state, err := logic.SampleTask(rng, t, int(difficulty))
		if err != nil {
			return err
		}

		rdb, err := ConnectToRedis(ctx)
		if err != nil {
			return err
		}
		defer rdb.Close()
		params, err := readRouterParams(ctx, rdb)
		if err != nil {
			return err
		}
		options, err := ApplyPolicyOverrides(DefaultRemotePolicyOptions(), params)
		if err != nil {
			return err
		}
		options.RequestTimeout = timeout

		engineCtx, stop := context.WithCancel(ctx)
		engine := NewEngine(engineCtx, EngineJobNamePolicy, rdb, DefaultSchedulingParams(timeout))
		if err := engine.Start(engineCtx); err != nil {
			stop()
			return err
		}
		dispatcher := NewDispatcher(engineCtx, engine)
		dispatcher.Start(engineCtx)
		defer func() {
			stop()
			dispatcher.WaitForStop()
			engine.TriggerStop()
			engine.WaitForStop()
		}()

		policy := NewRemotePolicy(dispatcher, NewRedisTrainingBus(rdb, 0), options)
		prompt := grpo.CreatePrompt(state.Observation(), grpo.PromptStylePlain)
		logger.Info().Msg("\n" + prompt)
		start := time.Now()
		generation, err := policy.Generate(ctx, prompt)
		if err != nil {
			return err
		}
		action := grpo.ParseAction(generation.Text)
		reward, explanation := logic.NewVerifier(nil).Verify(state, action)
		logger.Info().
			Dur("took", time.Since(start)).
			Int("tokens", len(generation.Tokens)).
			Float64("log_prob", generation.SequenceLogProb()).
			Str("response", generation.Text).
			Str("ground_truth", state.GroundTruth).
			Float64("reward", reward).
			Str("explanation", explanation).
			Msg("generated")
		return nil
	}
	return &cli.Command{
		Name:   "generate",
		Usage:  "send one sampled prompt to the policy workers",
		Action: action,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "type", Aliases: []string{"t"}, Usage: "task type (random when unset)", Destination: &taskType},
			&cli.IntFlag{Name: "difficulty", Aliases: []string{"d"}, Value: 1, Destination: &difficulty},
			&cli.IntFlag{Name: "seed", Value: time.Now().UnixNano(), Destination: &seed},
			&cli.DurationFlag{Name: "timeout", Value: 2 * time.Minute, Destination: &timeout},
		},
	}
}

func CreatePlaygroundCli() *cli.Command {
	return &cli.Command{
		Name:    "playground",
		Aliases: []string{"pg"},
		Usage:   "poke at the environment and the workers by hand",
		Commands: []*cli.Command{
			createPlaygroundSampleCli(),
			createPlaygroundVerifyCli(),
			createPlaygroundGenerateCli(),
		},
	}
}
