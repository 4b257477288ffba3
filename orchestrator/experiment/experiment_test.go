package experiment

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zaporter/logic-grpo/grpo"
	"github.com/zaporter/logic-grpo/logic"
)

func writeFile(t *testing.T, path, contents string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(contents), 0644))
}

// newGroup lays out experiments/<group>/experiment.json and one override.json per experiment.
func newGroup(t *testing.T, base string, overrides map[string]string) string {
	t.Helper()
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "g", "experiment.json"), base)
	for name, override := range overrides {
		writeFile(t, filepath.Join(root, "g", name, "override.json"), override)
	}
	return root
}

func TestMergeMap(t *testing.T) {
	base := map[string]any{
		"executor": "grpo_train",
		"config": map[string]any{
			"group_size":    4.0,
			"learning_rate": 1e-5,
		},
		"redis_params": map[string]any{"policy:temperature": 1.0},
	}
	mergeMap(base, map[string]any{
		"config":       map[string]any{"group_size": 8.0},
		"redis_params": "replaced",
		"db_path":      "x.db",
	})
	require.Equal(t, map[string]any{
		"executor": "grpo_train",
		"config": map[string]any{
			"group_size":    8.0,
			"learning_rate": 1e-5,
		},
		"redis_params": "replaced",
		"db_path":      "x.db",
	}, base)
}

func TestReadExperimentConfigKeepsDefaults(t *testing.T) {
	root := newGroup(t,
		`{"executor":"grpo_train","config":{"group_size":4,"task_types":["syllogism"]},"redis_params":{"policy:temperature":0.7}}`,
		map[string]string{"small": `{"config":{"group_size":6}}`},
	)
	config := newExperimentConfig(root, "g", "small")

	base, err := readExperimentConfig[BaseExperimentConfig](config)
	require.NoError(t, err)
	require.Equal(t, "grpo_train", base.Executor)
	require.Equal(t, map[string]any{"policy:temperature": 0.7}, base.RedisParams)

	parsed := defaultGrpoTrainExecutorConfig()
	require.NoError(t, readExperimentConfigInto(config, &parsed))
	require.Equal(t, 6, parsed.Config.GroupSize)
	require.Equal(t, []logic.TaskType{logic.TaskTypeSyllogism}, parsed.Config.TaskTypes)
	require.Equal(t, grpo.DefaultConfig().ClipRatio, parsed.Config.ClipRatio)
	require.Equal(t, "lgrpo.db", parsed.DBPath)
}

func TestReadExperimentConfigMissingOverride(t *testing.T) {
	root := newGroup(t, `{"executor":"holdout"}`, nil)
	_, err := readExperimentConfig[BaseExperimentConfig](newExperimentConfig(root, "g", "absent"))
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestCheckParams(t *testing.T) {
	keys, err := checkParams(map[string]any{"policy:temperature": 0.7, "grpo:group_size": 8})
	require.NoError(t, err)
	require.Equal(t, []string{"grpo:group_size", "policy:temperature"}, keys)

	_, err = checkParams(map[string]any{"policy:temprature": 0.7})
	require.ErrorContains(t, err, "policy:temprature")
}

func TestHoldoutExecutor(t *testing.T) {
	root := newGroup(t,
		`{"executor":"holdout","holdout":{"task_types":["syllogism","propositional"],"difficulty_levels":[1,2],"size_per_cell":3}}`,
		map[string]string{"seed7": `{"holdout":{"seed":7}}`},
	)
	config := newExperimentConfig(root, "g", "seed7")
	require.NoError(t, runExperiment(context.Background(), config, true))
	require.FileExists(t, filepath.Join(config.FullPath, "result.json"))

	stats, err := (&HoldoutExecutor{}).GetStats(context.Background(), config)
	require.NoError(t, err)
	require.Equal(t, 12, stats["problems"])
	require.Equal(t, map[string]int{"syllogism": 6, "propositional": 6}, stats["problems_per_task"])

	group, err := groupStats(context.Background(), root, "g")
	require.NoError(t, err)
	require.Contains(t, group, "seed7")
}

func TestUnknownExecutor(t *testing.T) {
	root := newGroup(t, `{"executor":"lean_compile"}`, map[string]string{"a": `{}`})
	err := runExperiment(context.Background(), newExperimentConfig(root, "g", "a"), true)
	require.ErrorContains(t, err, "lean_compile")
}

func TestGrpoTrainStatsFromBundle(t *testing.T) {
	root := newGroup(t, `{"executor":"grpo_train"}`, map[string]string{"a": `{}`})
	config := newExperimentConfig(root, "g", "a")
	bundle := &CheckpointBundle{
		RunID:  "run-1",
		Reason: grpo.StopReasonCriteriaMet,
		Steps:  40,
		Stats:  grpo.TrainingStats{Episodes: 1280, SuccessRate: 0.9, EvalSuccessRate: 0.87},
		LastEvaluation: &grpo.EvaluationSummary{
			SuccessByTask: map[logic.TaskType]float64{logic.TaskTypeSyllogism: 0.87},
		},
		Config:    grpo.DefaultConfig(),
		PolicyRef: "lora_step_40",
	}
	require.NoError(t, bundle.WriteTo(config))

	stats, err := (&GrpoTrainExecutor{}).GetStats(context.Background(), config)
	require.NoError(t, err)
	require.Equal(t, grpo.StopReasonCriteriaMet, stats["reason"])
	require.Equal(t, 40, stats["steps"])
	require.Equal(t, 0.87, stats["eval_success_rate"])
	require.Equal(t, "lora_step_40", stats["policy_ref"])
	require.Contains(t, stats, "eval_success_by_task")
}
