package experiment

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/zaporter/logic-grpo/grpo"
	"github.com/zaporter/logic-grpo/orchestrator"
)

type GrpoTrainExecutorConfig struct {
	Config          grpo.Config `json:"config"`
	DBPath          string      `json:"db_path"`
	HoldoutCellSize int         `json:"holdout_cell_size"`
	HoldoutSeed     uint64      `json:"holdout_seed"`
	FullEvaluation  bool        `json:"full_evaluation"`
}

func defaultGrpoTrainExecutorConfig() GrpoTrainExecutorConfig {
	params := orchestrator.DefaultOrchestratorParams()
	return GrpoTrainExecutorConfig{
		Config:          params.Config,
		DBPath:          params.DBPath,
		HoldoutCellSize: params.HoldoutCellSize,
		HoldoutSeed:     params.HoldoutSeed,
	}
}

// CheckpointBundle is everything the Go side knows about a finished run.
// The weights live with the trainer worker under PolicyRef.
type CheckpointBundle struct {
	RunID          grpo.RunID              `json:"run_id"`
	Reason         grpo.StopReason         `json:"reason"`
	Steps          int                     `json:"steps"`
	Stats          grpo.TrainingStats      `json:"stats"`
	LastEvaluation *grpo.EvaluationSummary `json:"last_evaluation,omitempty"`
	Config         grpo.Config             `json:"config"`
	PolicyRef      string                  `json:"policy_ref"`
}

func checkpointPath(config *experimentConfig) string {
	return filepath.Join(config.FullPath, "checkpoint.json")
}

func (b *CheckpointBundle) WriteTo(config *experimentConfig) error {
	return writeJSONFile(checkpointPath(config), b)
}

func ReadCheckpointBundle(config *experimentConfig) (*CheckpointBundle, error) {
	var bundle CheckpointBundle
	if err := readJSONFile(checkpointPath(config), &bundle); err != nil {
		return nil, err
	}
	return &bundle, nil
}

type GrpoTrainExecutor struct{}

var _ ExperimentExecutor = &GrpoTrainExecutor{}

// Execute implements ExperimentExecutor.
// SIGINT/SIGTERM stop the run after the current step and the bundle is still written.
func (e *GrpoTrainExecutor) Execute(ctx context.Context, config *experimentConfig) error {
	parsedConfig := defaultGrpoTrainExecutorConfig()
	if err := readExperimentConfigInto(config, &parsedConfig); err != nil {
		return err
	}
	logger := zerolog.Ctx(ctx).With().Str("experiment", config.FullPath).Logger()
	ctx = logger.WithContext(ctx)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		select {
		case <-sigChan:
			logger.Info().Msg("signal received, stopping after the current step")
			cancel()
		case <-ctx.Done():
		}
	}()

	rdb, err := orchestrator.ConnectToRedis(ctx)
	if err != nil {
		return err
	}
	defer rdb.Close()

	params := orchestrator.DefaultOrchestratorParams()
	params.Config = parsedConfig.Config
	params.DBPath = parsedConfig.DBPath
	params.HoldoutCellSize = parsedConfig.HoldoutCellSize
	params.HoldoutSeed = parsedConfig.HoldoutSeed
	params.FullEvaluation = parsedConfig.FullEvaluation
	if params.DBPath != "" && !filepath.IsAbs(params.DBPath) {
		params.DBPath = filepath.Join(config.FullPath, params.DBPath)
	}

	o, err := orchestrator.NewOrchestrator(ctx, rdb, params)
	if err != nil {
		return err
	}
	defer o.Close()

	result, runErr := o.Run(ctx)
	bundle := &CheckpointBundle{
		RunID:          o.Trainer.RunID(),
		Reason:         result.Reason,
		Steps:          result.Steps,
		Stats:          result.Stats,
		LastEvaluation: result.LastEvaluation,
		Config:         o.Trainer.Config(),
		PolicyRef:      o.PolicyRef(context.WithoutCancel(ctx)),
	}
	if err := bundle.WriteTo(config); err != nil {
		return errors.Join(runErr, err)
	}
	if errors.Is(runErr, context.Canceled) {
		return nil
	}
	return runErr
}

// GetStats implements ExperimentExecutor.
func (e *GrpoTrainExecutor) GetStats(ctx context.Context, config *experimentConfig) (map[string]any, error) {
	bundle, err := ReadCheckpointBundle(config)
	if err != nil {
		return nil, err
	}
	stats := map[string]any{
		"run_id":            bundle.RunID,
		"reason":            bundle.Reason,
		"steps":             bundle.Steps,
		"episodes":          bundle.Stats.Episodes,
		"avg_reward":        bundle.Stats.AvgReward,
		"success_rate":      bundle.Stats.SuccessRate,
		"eval_success_rate": bundle.Stats.EvalSuccessRate,
		"last_loss":         bundle.Stats.LastLoss,
		"policy_ref":        bundle.PolicyRef,
	}
	if bundle.LastEvaluation != nil {
		stats["eval_success_by_task"] = bundle.LastEvaluation.SuccessByTask
		stats["eval_success_by_difficulty"] = bundle.LastEvaluation.SuccessByDifficulty
	}
	return stats, nil
}
