package grpo

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/zaporter/logic-grpo/logic"
)

// Config holds every trainer hyper-parameter. Zero values are not meaningful; start from DefaultConfig.
type Config struct {
	TaskTypes       []logic.TaskType       `json:"task_types" yaml:"task_types" validate:"required,min=1"`
	DifficultyRange logic.DifficultyRange  `json:"difficulty_range" yaml:"difficulty_range"`
	TaskWeights     map[logic.TaskType]int `json:"task_weights,omitempty" yaml:"task_weights,omitempty" validate:"omitempty,dive,gte=0"`

	GroupSize          int         `json:"group_size" yaml:"group_size" validate:"gte=2"`
	StratifiedGrouping bool        `json:"stratified_grouping" yaml:"stratified_grouping"`
	ClipRatio          float64     `json:"clip_ratio" yaml:"clip_ratio" validate:"gt=0,lt=1"`
	LearningRate       float64     `json:"learning_rate" yaml:"learning_rate" validate:"gt=0"`
	MaxGradNorm        float64     `json:"max_grad_norm" yaml:"max_grad_norm" validate:"gt=0"`
	PromptStyle        PromptStyle `json:"prompt_style" yaml:"prompt_style" validate:"oneof=plain xml"`

	// collection stops at TargetBatchTokens; MaxEpisodesPerStep only guards against short or empty generations
	TargetBatchTokens  int `json:"target_batch_tokens" yaml:"target_batch_tokens" validate:"gt=0"`
	MaxEpisodesPerStep int `json:"max_episodes_per_step" yaml:"max_episodes_per_step" validate:"gt=0"`
	BufferCapacity     int `json:"buffer_capacity" yaml:"buffer_capacity" validate:"gte=2"`
	NumWorkers         int `json:"num_workers" yaml:"num_workers" validate:"gte=1"`

	// evaluate every EvalEvery steps. 0 disables evaluation (and therefore plateau stopping)
	EvalEvery        int     `json:"eval_every" yaml:"eval_every" validate:"gte=0"`
	PlateauPatience  int     `json:"plateau_patience" yaml:"plateau_patience" validate:"gte=1"`
	PlateauThreshold float64 `json:"plateau_threshold" yaml:"plateau_threshold" validate:"gte=0"`
	MinSuccessRate   float64 `json:"min_success_rate" yaml:"min_success_rate" validate:"gte=0,lte=1"`

	// 0 means run until the stopping criteria are met
	MaxSteps int    `json:"max_steps" yaml:"max_steps" validate:"gte=0"`
	Seed     uint64 `json:"seed" yaml:"seed"`
}

func DefaultConfig() Config {
	return Config{
		TaskTypes:          []logic.TaskType{logic.TaskTypeSyllogism, logic.TaskTypePropositional, logic.TaskTypeAgreement},
		DifficultyRange:    logic.DifficultyRange{Min: 1, Max: 3},
		GroupSize:          6,
		ClipRatio:          0.2,
		LearningRate:       1e-5,
		MaxGradNorm:        1.0,
		PromptStyle:        PromptStylePlain,
		TargetBatchTokens:  4096,
		MaxEpisodesPerStep: 64,
		BufferCapacity:     DefaultBufferCapacity,
		NumWorkers:         1,
		EvalEvery:          10,
		PlateauPatience:    5,
		PlateauThreshold:   0.01,
		MinSuccessRate:     0.8,
		Seed:               42,
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if err := c.DifficultyRange.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	for _, t := range c.TaskTypes {
		if !t.Valid() {
			return fmt.Errorf("invalid config: %w: %d", logic.ErrUnknownTaskType, int(t))
		}
	}
	for t := range c.TaskWeights {
		if !slices.Contains(c.TaskTypes, t) {
			return fmt.Errorf("invalid config: task weight given for %s, which is not in task_types", t)
		}
	}
	if c.MaxEpisodesPerStep > c.BufferCapacity {
		return fmt.Errorf("invalid config: max_episodes_per_step (%d) exceeds buffer_capacity (%d)", c.MaxEpisodesPerStep, c.BufferCapacity)
	}
	return nil
}

func (c Config) EnvironmentConfig() logic.EnvironmentConfig {
	return logic.EnvironmentConfig{
		TaskTypes:       slices.Clone(c.TaskTypes),
		DifficultyRange: c.DifficultyRange,
		TaskWeights:     c.TaskWeights,
	}
}

// LoadConfig reads a .json, .yaml or .yml file on top of DefaultConfig, so files only need the fields they change.
func LoadConfig(path string) (Config, error) {
	bytes, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	config := DefaultConfig()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(bytes, &config)
	case ".json":
		err = json.Unmarshal(bytes, &config)
	default:
		return Config{}, fmt.Errorf("unsupported config file extension %q", filepath.Ext(path))
	}
	if err != nil {
		return Config{}, fmt.Errorf("parsing %s: %w", path, err)
	}
	if err := config.Validate(); err != nil {
		return Config{}, err
	}
	return config, nil
}

func (c Config) ToJSON() string {
	bytes, err := json.Marshal(c)
	if err != nil {
		panic(err)
	}
	return string(bytes)
}
