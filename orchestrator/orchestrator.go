package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/urfave/cli/v3"

	"github.com/zaporter/logic-grpo/grpo"
	"github.com/zaporter/logic-grpo/logic"
	"github.com/zaporter/logic-grpo/store"
)

type OrchestratorParams struct {
	Config grpo.Config
	// "" disables the evaluation history
	DBPath string
	// problems generated per (task type, difficulty) for the holdout set
	HoldoutCellSize int
	HoldoutSeed     uint64
	// evaluate every cell instead of a mixed sample
	FullEvaluation bool
	// optional, a fresh one is generated otherwise
	RunID grpo.RunID
}

func DefaultOrchestratorParams() OrchestratorParams {
	return OrchestratorParams{
		Config:          grpo.DefaultConfig(),
		DBPath:          "lgrpo.db",
		HoldoutCellSize: 1000,
		HoldoutSeed:     grpo.DefaultHoldoutConfig().Seed,
	}
}

// Orchestrator wires the trainer to the redis workers: a policy engine behind the RemotePolicy,
// an optional grammar engine behind the verifier, the training bus, and the SQLite history.
type Orchestrator struct {
	OrchestratorParams
	rdb    *redis.Client
	logger *zerolog.Logger

	// engines and dispatchers outlive a cancelled training ctx so the last step can finish
	infraCtx    context.Context
	stopInfra   context.CancelFunc
	engines     []*Engine
	dispatchers []*Dispatcher

	Bus     *RedisTrainingBus
	Policy  *RemotePolicy
	Store   *store.Store
	Trainer *grpo.Trainer
}

// NewOrchestrator applies the router overrides, starts the engines and builds the trainer.
// Call Close when done, even if Run was never called.
func NewOrchestrator(ctx context.Context, rdb *redis.Client, params OrchestratorParams) (_ *Orchestrator, err error) {
	logger := zerolog.Ctx(ctx).With().Str("component", "orchestrator").Logger()
	infraCtx, stopInfra := context.WithCancel(context.WithoutCancel(ctx))
	o := &Orchestrator{
		OrchestratorParams: params,
		rdb:                rdb,
		logger:             &logger,
		infraCtx:           infraCtx,
		stopInfra:          stopInfra,
	}
	defer func() {
		if err != nil {
			o.Close()
		}
	}()

	routerParams, err := readRouterParams(ctx, rdb)
	if err != nil {
		return nil, fmt.Errorf("reading router params: %w", err)
	}
	config, err := ApplyConfigOverrides(params.Config, routerParams)
	if err != nil {
		return nil, err
	}
	o.Config = config
	policyOptions, err := ApplyPolicyOverrides(DefaultRemotePolicyOptions(), routerParams)
	if err != nil {
		return nil, err
	}

	o.Bus = NewRedisTrainingBus(rdb, 3*time.Second)
	if err := o.Bus.Reset(ctx); err != nil {
		return nil, fmt.Errorf("dropping training lists: %w", err)
	}
	if err := o.Bus.SetInferenceEnabled(ctx, true); err != nil {
		return nil, err
	}

	policyDispatcher, err := o.startEngine(EngineJobNamePolicy, DefaultSchedulingParams(5*time.Minute))
	if err != nil {
		return nil, err
	}
	o.Policy = NewRemotePolicy(policyDispatcher, o.Bus, policyOptions)

	var syntax logic.SyntaxValidator = logic.NewReferenceValidator()
	if syntaxEngineEnabled(routerParams) {
		syntaxDispatcher, err := o.startEngine(EngineJobNameSyntax, DefaultSchedulingParams(30*time.Second))
		if err != nil {
			return nil, err
		}
		syntax = NewRemoteSyntaxValidator(o.infraCtx, syntaxDispatcher, DefaultSyntaxTimeout)
	} else {
		logger.Info().Msg("grammar engine disabled, verifying with the reference validator")
	}
	verifier := logic.NewVerifier(syntax)

	trainerOpts := []grpo.TrainerOption{}
	if params.RunID != "" {
		trainerOpts = append(trainerOpts, grpo.WithRunID(params.RunID))
	}
	if config.EvalEvery > 0 {
		evaluator, err := o.newHoldoutEvaluator(verifier)
		if err != nil {
			return nil, err
		}
		trainerOpts = append(trainerOpts, grpo.WithEvaluator(evaluator))
	}
	if params.DBPath != "" {
		o.Store, err = store.NewStore(params.DBPath)
		if err != nil {
			return nil, err
		}
		trainerOpts = append(trainerOpts, grpo.WithEvaluationSink(o.Store))
	}
	o.Trainer, err = grpo.NewTrainer(config, o.Policy, verifier, trainerOpts...)
	if err != nil {
		return nil, err
	}
	logger.Info().Str("run", string(o.Trainer.RunID())).Str("config", config.ToJSON()).Msg("orchestrator ready")
	return o, nil
}

func (o *Orchestrator) startEngine(job EngineJobName, scheduling SchedulingParams) (*Dispatcher, error) {
	engine := NewEngine(o.infraCtx, job, o.rdb, scheduling)
	if err := engine.Start(o.infraCtx); err != nil {
		return nil, err
	}
	o.engines = append(o.engines, engine)
	dispatcher := NewDispatcher(o.infraCtx, engine)
	dispatcher.Start(o.infraCtx)
	o.dispatchers = append(o.dispatchers, dispatcher)
	return dispatcher, nil
}

// The holdout set only covers the task types being trained.
func (o *Orchestrator) newHoldoutEvaluator(verifier *logic.Verifier) (*grpo.HoldoutEvaluator, error) {
	holdout := grpo.DefaultHoldoutConfig()
	holdout.TaskTypes = o.Config.TaskTypes
	holdout.SizePerCell = o.HoldoutCellSize
	holdout.Seed = o.HoldoutSeed
	testSet, err := grpo.NewHoldoutTestSet(holdout)
	if err != nil {
		return nil, fmt.Errorf("building holdout set: %w", err)
	}
	options := grpo.DefaultHoldoutEvaluatorOptions()
	options.Quick = !o.FullEvaluation
	options.PromptStyle = o.Config.PromptStyle
	return grpo.NewHoldoutEvaluator(testSet, verifier, options), nil
}

func (o *Orchestrator) RegisterHandlers(mux *http.ServeMux) {
	var history EvaluationHistory
	if o.Store != nil {
		history = o.Store
	}
	NewStatusServer(o.infraCtx, o.Trainer, history).RegisterHandlers(mux)
}

// Run trains until the trainer stops. Cancelling ctx lets the current step finish.
func (o *Orchestrator) Run(ctx context.Context) (grpo.RunResult, error) {
	result, err := o.Trainer.Run(ctx)
	o.logger.Info().
		Str("reason", string(result.Reason)).
		Int("steps", result.Steps).
		Float64("success_rate", result.Stats.SuccessRate).
		Float64("eval_success_rate", result.Stats.EvalSuccessRate).
		Msg("training finished")
	return result, err
}

// PolicyRef names the adapter the trainer worker last wrote.
func (o *Orchestrator) PolicyRef(ctx context.Context) string {
	ref, err := o.rdb.Get(ctx, string(RedisTrainingAdapter)).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			o.logger.Error().Err(err).Msg("reading policy ref")
		}
		return ""
	}
	return ref
}

func (o *Orchestrator) Close() {
	o.stopInfra()
	for _, d := range o.dispatchers {
		d.WaitForStop()
	}
	for _, e := range o.engines {
		e.TriggerStop()
	}
	for _, e := range o.engines {
		e.WaitForStop()
	}
	if o.Store != nil {
		if err := o.Store.Close(); err != nil {
			o.logger.Error().Err(err).Msg("closing store")
		}
	}
}

func CreateTrainCli() *cli.Command {
	var (
		webServerPort  int64
		configPath     string
		dbPath         string
		holdoutSize    int64
		fullEvaluation bool
		runID          string
	)
	action := func(ctx context.Context, _ *cli.Command) error {
		logger := zerolog.Ctx(ctx)
		params := DefaultOrchestratorParams()
		if configPath != "" {
			config, err := grpo.LoadConfig(configPath)
			if err != nil {
				return err
			}
			params.Config = config
		}
		params.DBPath = dbPath
		params.HoldoutCellSize = int(holdoutSize)
		params.FullEvaluation = fullEvaluation
		params.RunID = grpo.RunID(runID)

		rdb, err := ConnectToRedis(ctx)
		if err != nil {
			return err
		}
		defer rdb.Close()

		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(sigChan)
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()
		go func() {
			select {
			case <-sigChan:
				logger.Info().Msg("signal received, stopping after the current step")
				cancel()
			case <-ctx.Done():
			}
		}()

		orchestrator, err := NewOrchestrator(ctx, rdb, params)
		if err != nil {
			return err
		}
		defer orchestrator.Close()

		mux := http.NewServeMux()
		orchestrator.RegisterHandlers(mux)
		server := &http.Server{
			Addr:    fmt.Sprintf(":%d", webServerPort),
			Handler: mux,
		}
		logger.Info().Msgf("starting web server on port %d", webServerPort)
		go func() {
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error().Err(err).Msg("web server failed")
				cancel()
			}
		}()

		_, runErr := orchestrator.Run(ctx)

		shutdownCtx, shutdownCancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("shutting down web server")
		}
		if errors.Is(runErr, context.Canceled) {
			return nil
		}
		return runErr
	}
	return &cli.Command{
		Name:   "train",
		Usage:  "train the policy against the redis workers",
		Action: action,
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:        "port",
				Usage:       "port to serve the status API on",
				Value:       8080,
				Destination: &webServerPort,
			},
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "trainer config (.yaml, .yml or .json). Defaults are used when unset",
				Destination: &configPath,
			},
			&cli.StringFlag{
				Name:        "db",
				Usage:       "sqlite file for evaluation history. Empty disables it",
				Value:       "lgrpo.db",
				Destination: &dbPath,
			},
			&cli.IntFlag{
				Name:        "holdout-size",
				Usage:       "holdout problems generated per task type and difficulty",
				Value:       1000,
				Destination: &holdoutSize,
			},
			&cli.BoolFlag{
				Name:        "full-eval",
				Usage:       "evaluate every holdout cell instead of a mixed sample",
				Destination: &fullEvaluation,
			},
			&cli.StringFlag{
				Name:        "run-id",
				Usage:       "run id to record evaluations under",
				Destination: &runID,
			},
		},
	}
}

