package experiment

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/zaporter/logic-grpo/grpo"
)

type HoldoutExecutorConfig struct {
	Holdout grpo.HoldoutConfig `json:"holdout"`
}

// HoldoutExecutor exports a seeded holdout set so other runs and tools evaluate on the same problems.
type HoldoutExecutor struct{}

var _ ExperimentExecutor = &HoldoutExecutor{}

func holdoutPath(config *experimentConfig) string {
	return filepath.Join(config.FullPath, "holdout.json")
}

// Execute implements ExperimentExecutor.
func (h *HoldoutExecutor) Execute(ctx context.Context, config *experimentConfig) error {
	parsedConfig := HoldoutExecutorConfig{Holdout: grpo.DefaultHoldoutConfig()}
	if err := readExperimentConfigInto(config, &parsedConfig); err != nil {
		return err
	}
	testSet, err := grpo.NewHoldoutTestSet(parsedConfig.Holdout)
	if err != nil {
		return err
	}
	file, err := os.Create(holdoutPath(config))
	if err != nil {
		return err
	}
	if err := testSet.WriteJSON(file); err != nil {
		file.Close()
		return err
	}
	zerolog.Ctx(ctx).Info().
		Int("task_types", len(parsedConfig.Holdout.TaskTypes)).
		Int("difficulties", len(parsedConfig.Holdout.DifficultyLevels)).
		Int("size_per_cell", parsedConfig.Holdout.SizePerCell).
		Msgf("wrote %s", holdoutPath(config))
	return file.Close()
}

// GetStats implements ExperimentExecutor.
func (h *HoldoutExecutor) GetStats(ctx context.Context, config *experimentConfig) (map[string]any, error) {
	var exported map[string]map[string][]json.RawMessage
	if err := readJSONFile(holdoutPath(config), &exported); err != nil {
		return nil, err
	}
	perTask := map[string]int{}
	total := 0
	for taskType, byDifficulty := range exported {
		for _, problems := range byDifficulty {
			perTask[taskType] += len(problems)
			total += len(problems)
		}
	}
	return map[string]any{
		"problems":          total,
		"problems_per_task": perTask,
	}, nil
}
