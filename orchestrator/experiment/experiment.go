package experiment

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/urfave/cli/v3"
)

/*
Experiments are organized via the filesystem.
Each experiment group is a directory holding:
- a README.md that explains the purpose of the group
- an experiment.json with the shared configuration. Its required field is
  "executor": the name of the executor that runs every experiment in the group.
Each experiment is a subdirectory of the group holding:
- an optional README.md
- an override.json with the subset of the group configuration this experiment changes.
Overrides are deep merged into experiment.json. Changing the executor in an override works
but makes group stats hard to compare.

Executors write their artifacts next to override.json and a result.json with the merged
config and the wall clock times.
*/

func CreateExperimentCli() *cli.Command {
	return &cli.Command{
		Name:    "experiment",
		Aliases: []string{"ex"},
		Usage:   "run and summarize GRPO experiments",
		Commands: []*cli.Command{
			createExperimentRunCli(),
			createExperimentStatsCli(),
		},
	}
}

var executors = map[string]ExperimentExecutor{
	"grpo_train": &GrpoTrainExecutor{},
	"holdout":    &HoldoutExecutor{},
}

// listExperiments returns the experiment directories of a group, skipping hidden ones.
func listExperiments(experimentsFolder, group string) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(experimentsFolder, group))
	if err != nil {
		return nil, err
	}
	names := []string{}
	for _, entry := range entries {
		if entry.IsDir() && !strings.HasPrefix(entry.Name(), ".") {
			names = append(names, entry.Name())
		}
	}
	return names, nil
}

func newExperimentConfig(experimentsFolder, group, name string) *experimentConfig {
	return &experimentConfig{
		ExperimentsFolder: experimentsFolder,
		GroupFolder:       group,
		ExperimentName:    name,
		FullPath:          filepath.Join(experimentsFolder, group, name),
	}
}

func runExperiment(ctx context.Context, config *experimentConfig, noSetParams bool) error {
	logger := zerolog.Ctx(ctx)
	fullConfig, err := readExperimentConfig[map[string]any](config)
	if err != nil {
		return err
	}
	logger.Info().Msgf("running experiment %s with config %v", config.FullPath, fullConfig)
	result := &executionResult{
		StartTime: time.Now(),
		Config:    fullConfig,
	}
	if err := result.WriteTo(config); err != nil {
		return err
	}
	baseConfig, err := readExperimentConfig[BaseExperimentConfig](config)
	if err != nil {
		return err
	}
	executor, ok := executors[baseConfig.Executor]
	if !ok {
		return fmt.Errorf("executor %q not found", baseConfig.Executor)
	}

	if !noSetParams && len(baseConfig.RedisParams) > 0 {
		if err := setParams(ctx, baseConfig.RedisParams); err != nil {
			return err
		}
	}

	if err := executor.Execute(ctx, config); err != nil {
		result.Error = err.Error()
		result.EndTime = time.Now()
		if writeErr := result.WriteTo(config); writeErr != nil {
			logger.Error().Err(writeErr).Msg("writing result")
		}
		return err
	}
	result.EndTime = time.Now()
	logger.Info().Msgf("experiment %s finished in %s", config.FullPath, time.Since(result.StartTime))
	return result.WriteTo(config)
}

func createExperimentRunCli() *cli.Command {
	var (
		experimentsFolder string
		experimentGroup   string
		experiment        string
		noSetParams       bool
	)
	action := func(ctx context.Context, _ *cli.Command) error {
		if experiment != "all" {
			return runExperiment(ctx, newExperimentConfig(experimentsFolder, experimentGroup, experiment), noSetParams)
		}
		names, err := listExperiments(experimentsFolder, experimentGroup)
		if err != nil {
			return err
		}
		for _, name := range names {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := runExperiment(ctx, newExperimentConfig(experimentsFolder, experimentGroup, name), noSetParams); err != nil {
				return fmt.Errorf("experiment %s: %w", name, err)
			}
		}
		return nil
	}
	return &cli.Command{
		Name:    "run",
		Aliases: []string{"r"},
		Usage:   "run an experiment",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "experiments",
				Usage:       "the parent folder for the experiment groups",
				Destination: &experimentsFolder,
				Value:       "experiments",
			},
			&cli.StringFlag{
				Name:        "group",
				Aliases:     []string{"g"},
				Usage:       "the experiment group to run",
				Destination: &experimentGroup,
				Required:    true,
			},
			&cli.StringFlag{
				Name:        "experiment",
				Aliases:     []string{"e"},
				Usage:       "the experiment to run. Set to 'all' to run all experiments in the group",
				Destination: &experiment,
				Required:    true,
			},
			&cli.BoolFlag{
				Name:        "no-set-params",
				Usage:       "don't set params in redis",
				Destination: &noSetParams,
				Value:       false,
			},
		},
		Action: action,
	}
}

func experimentStats(ctx context.Context, config *experimentConfig) (map[string]any, error) {
	baseConfig, err := readExperimentConfig[BaseExperimentConfig](config)
	if err != nil {
		return nil, err
	}
	executor, ok := executors[baseConfig.Executor]
	if !ok {
		return nil, fmt.Errorf("executor %q not found", baseConfig.Executor)
	}
	return executor.GetStats(ctx, config)
}

// groupStats collects the stats of every experiment in a group that has a result.json.
func groupStats(ctx context.Context, experimentsFolder, group string) (map[string]any, error) {
	logger := zerolog.Ctx(ctx)
	names, err := listExperiments(experimentsFolder, group)
	if err != nil {
		return nil, err
	}
	statsMap := make(map[string]any)
	for _, name := range names {
		config := newExperimentConfig(experimentsFolder, group, name)
		// no result.json means it hasn't been run yet
		if _, err := os.Stat(filepath.Join(config.FullPath, "result.json")); os.IsNotExist(err) {
			logger.Warn().Msgf("experiment %s has no result.json, skipping", name)
			continue
		}
		stats, err := experimentStats(ctx, config)
		if err != nil {
			return nil, fmt.Errorf("experiment %s: %w", name, err)
		}
		statsMap[name] = stats
	}
	return statsMap, nil
}

func createExperimentStatsCli() *cli.Command {
	var (
		experimentsFolder string
		experimentGroup   string
		experiment        string
	)
	action := func(ctx context.Context, _ *cli.Command) error {
		logger := zerolog.Ctx(ctx)
		if experiment != "" {
			stats, err := experimentStats(ctx, newExperimentConfig(experimentsFolder, experimentGroup, experiment))
			if err != nil {
				return err
			}
			return json.NewEncoder(os.Stdout).Encode(stats)
		}
		statsMap, err := groupStats(ctx, experimentsFolder, experimentGroup)
		if err != nil {
			return err
		}
		logger.Info().Msgf("got stats for %d experiments. Writing to stats.json", len(statsMap))
		outputPath := filepath.Join(experimentsFolder, experimentGroup, "stats.json")
		bytes, err := json.MarshalIndent(statsMap, "", "\t")
		if err != nil {
			return err
		}
		if err := os.WriteFile(outputPath, bytes, 0644); err != nil {
			return err
		}
		logger.Info().Msgf("wrote stats to %s", outputPath)
		return nil
	}
	return &cli.Command{
		Name:    "stats",
		Aliases: []string{"s"},
		Usage:   "get stats for an experiment",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "experiments",
				Usage:       "the parent folder for the experiment groups",
				Destination: &experimentsFolder,
				Value:       "experiments",
			},
			&cli.StringFlag{
				Name:        "group",
				Aliases:     []string{"g"},
				Usage:       "the experiment group to summarize",
				Destination: &experimentGroup,
				Required:    true,
			},
			&cli.StringFlag{
				Name:        "experiment",
				Aliases:     []string{"e"},
				Usage:       "a single experiment to print. Leave unset to write stats.json for the whole group",
				Destination: &experiment,
			},
		},
		Action: action,
	}
}

type executionResult struct {
	StartTime time.Time      `json:"start_time"`
	EndTime   time.Time      `json:"end_time"`
	Config    map[string]any `json:"config"`
	Error     string         `json:"error,omitempty"`
}

func (e *executionResult) WriteTo(config *experimentConfig) error {
	return writeJSONFile(filepath.Join(config.FullPath, "result.json"), e)
}

type experimentConfig struct {
	ExperimentsFolder string
	GroupFolder       string
	ExperimentName    string
	FullPath          string
}

type ExperimentExecutor interface {
	Execute(ctx context.Context, config *experimentConfig) error
	GetStats(ctx context.Context, config *experimentConfig) (map[string]any, error)
}

type BaseExperimentConfig struct {
	Executor string `json:"executor"`
	// written to the router keys before the executor starts
	RedisParams map[string]any `json:"redis_params"`
}

func readExperimentConfig[T any](config *experimentConfig) (T, error) {
	var experimentConfig T
	err := readExperimentConfigInto(config, &experimentConfig)
	return experimentConfig, err
}

// readExperimentConfigInto merges override.json into experiment.json and decodes the result
// over into, so fields missing from both files keep their current values.
func readExperimentConfigInto[T any](config *experimentConfig, into *T) error {
	mainExperimentConfigPath := filepath.Join(config.ExperimentsFolder, config.GroupFolder, "experiment.json")
	experimentOverridePath := filepath.Join(config.FullPath, "override.json")

	var baseConfig map[string]any
	if err := readJSONFile(mainExperimentConfigPath, &baseConfig); err != nil {
		return err
	}
	var overrideConfig map[string]any
	if err := readJSONFile(experimentOverridePath, &overrideConfig); err != nil {
		return err
	}
	if baseConfig == nil {
		baseConfig = map[string]any{}
	}
	mergeMap(baseConfig, overrideConfig)

	mergedBytes, err := json.Marshal(baseConfig)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(mergedBytes, into); err != nil {
		return fmt.Errorf("decoding merged config for %s: %w", config.FullPath, err)
	}
	return nil
}

// mergeMap recursively merges override into base
func mergeMap(base, override map[string]any) {
	for key, overrideVal := range override {
		if baseVal, ok := base[key]; ok {
			// If both values are maps, merge them recursively
			if baseMap, isBaseMap := baseVal.(map[string]any); isBaseMap {
				if overrideMap, isOverrideMap := overrideVal.(map[string]any); isOverrideMap {
					mergeMap(baseMap, overrideMap)
					continue
				}
			}
		}
		// For all other cases, override the value
		base[key] = overrideVal
	}
}

func readJSONFile(path string, into any) error {
	bytes, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(bytes, into); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	return nil
}

func writeJSONFile(path string, val any) error {
	bytes, err := json.MarshalIndent(val, "", "\t")
	if err != nil {
		return err
	}
	return os.WriteFile(path, bytes, 0644)
}
