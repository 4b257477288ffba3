package grpo

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand/v2"
	"slices"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/zaporter/logic-grpo/logic"
)

type EvaluationResult struct {
	TaskType       logic.TaskType `json:"task_type"`
	Difficulty     int            `json:"difficulty"`
	Question       string         `json:"question"`
	GroundTruth    string         `json:"ground_truth"`
	ModelAnswer    string         `json:"model_answer"`
	ModelReasoning string         `json:"model_reasoning"`
	Reward         float64        `json:"reward"`
	// only the top reward tier counts as correct, so a 0.5 agreement answer is not a success.
	// Partial credit shows up in FormalCorrectnessRate instead.
	IsCorrect    bool          `json:"is_correct"`
	Explanation  string        `json:"verification_explanation"`
	ResponseTime time.Duration `json:"response_time"`
}

type EvaluationSummary struct {
	Timestamp           time.Time                  `json:"timestamp"`
	TotalProblems       int                        `json:"total_problems"`
	OverallSuccessRate  float64                    `json:"overall_success_rate"`
	SuccessByTask       map[logic.TaskType]float64 `json:"success_by_task"`
	SuccessByDifficulty map[int]float64            `json:"success_by_difficulty"`
	AvgResponseTime     time.Duration              `json:"avg_response_time"`
	// fraction of answers with reward > 0
	FormalCorrectnessRate float64 `json:"formal_correctness_rate"`
	PlateauDetected       bool    `json:"plateau_detected"`
	StoppingCriteriaMet   bool    `json:"stopping_criteria_met"`
}

// Evaluator scores a policy on problems it is not trained on.
type Evaluator interface {
	Evaluate(ctx context.Context, policy Policy) (EvaluationSummary, []EvaluationResult, error)
}

// EvaluationSink persists evaluations as the trainer produces them.
type EvaluationSink interface {
	RecordEvaluation(ctx context.Context, runID RunID, step int, summary EvaluationSummary, results []EvaluationResult) error
}

// Summarize aggregates per-problem results. An empty result set gives zero rates.
func Summarize(results []EvaluationResult, timestamp time.Time) EvaluationSummary {
	summary := EvaluationSummary{
		Timestamp:           timestamp,
		TotalProblems:       len(results),
		SuccessByTask:       map[logic.TaskType]float64{},
		SuccessByDifficulty: map[int]float64{},
	}
	if len(results) == 0 {
		return summary
	}
	type tally struct{ correct, total int }
	byTask := map[logic.TaskType]*tally{}
	byDifficulty := map[int]*tally{}
	correct, formal := 0, 0
	var totalTime time.Duration
	for _, r := range results {
		if byTask[r.TaskType] == nil {
			byTask[r.TaskType] = &tally{}
		}
		if byDifficulty[r.Difficulty] == nil {
			byDifficulty[r.Difficulty] = &tally{}
		}
		byTask[r.TaskType].total++
		byDifficulty[r.Difficulty].total++
		if r.IsCorrect {
			correct++
			byTask[r.TaskType].correct++
			byDifficulty[r.Difficulty].correct++
		}
		if r.Reward > 0 {
			formal++
		}
		totalTime += r.ResponseTime
	}
	n := float64(len(results))
	summary.OverallSuccessRate = float64(correct) / n
	summary.FormalCorrectnessRate = float64(formal) / n
	summary.AvgResponseTime = totalTime / time.Duration(len(results))
	for t, c := range byTask {
		summary.SuccessByTask[t] = float64(c.correct) / float64(c.total)
	}
	for d, c := range byDifficulty {
		summary.SuccessByDifficulty[d] = float64(c.correct) / float64(c.total)
	}
	return summary
}

type HoldoutConfig struct {
	TaskTypes        []logic.TaskType `json:"task_types"`
	DifficultyLevels []int            `json:"difficulty_levels"`
	SizePerCell      int              `json:"size_per_cell"`
	Seed             uint64           `json:"seed"`
}

func DefaultHoldoutConfig() HoldoutConfig {
	return HoldoutConfig{
		TaskTypes:        slices.Clone(logic.AllTaskTypes),
		DifficultyLevels: []int{1, 2, 3, 4, 5},
		SizePerCell:      5000,
		Seed:             42,
	}
}

type holdoutCell struct {
	taskType   logic.TaskType
	difficulty int
}

// HoldoutTestSet is a fixed pool of problems per (task type, difficulty), generated once from a seed.
// The same seed always yields the same problems and the same sub-samples.
type HoldoutTestSet struct {
	config HoldoutConfig
	cells  map[holdoutCell][]logic.LogicState
}

func NewHoldoutTestSet(config HoldoutConfig) (*HoldoutTestSet, error) {
	if config.SizePerCell < 1 {
		return nil, fmt.Errorf("holdout size per cell must be positive, got %d", config.SizePerCell)
	}
	rng := rand.New(rand.NewPCG(config.Seed, config.Seed^0x5eed))
	cells := map[holdoutCell][]logic.LogicState{}
	for _, t := range config.TaskTypes {
		for _, d := range config.DifficultyLevels {
			problems := make([]logic.LogicState, 0, config.SizePerCell)
			for i := 0; i < config.SizePerCell; i++ {
				state, err := logic.SampleTask(rng, t, d)
				if err != nil {
					return nil, err
				}
				problems = append(problems, state)
			}
			cells[holdoutCell{t, d}] = problems
		}
	}
	return &HoldoutTestSet{config: config, cells: cells}, nil
}

func (h *HoldoutTestSet) Config() HoldoutConfig {
	return h.config
}

// TestSet returns up to size problems from one cell (all of them when size <= 0).
func (h *HoldoutTestSet) TestSet(t logic.TaskType, difficulty int, size int) ([]logic.LogicState, error) {
	if !slices.Contains(h.config.TaskTypes, t) {
		return nil, fmt.Errorf("%w: %s is not in the holdout set", logic.ErrUnknownTaskType, t)
	}
	problems, ok := h.cells[holdoutCell{t, difficulty}]
	if !ok {
		return nil, fmt.Errorf("%w: %d is not in the holdout set", logic.ErrUnknownDifficulty, difficulty)
	}
	if size <= 0 || size >= len(problems) {
		return slices.Clone(problems), nil
	}
	rng := rand.New(rand.NewPCG(h.config.Seed, uint64(t)<<32|uint64(difficulty)))
	return samplePrefix(rng, problems, size), nil
}

// MixedTestSet samples across every cell.
func (h *HoldoutTestSet) MixedTestSet(size int) []logic.LogicState {
	all := []logic.LogicState{}
	for _, t := range h.config.TaskTypes {
		for _, d := range h.config.DifficultyLevels {
			all = append(all, h.cells[holdoutCell{t, d}]...)
		}
	}
	if size <= 0 || size >= len(all) {
		return all
	}
	rng := rand.New(rand.NewPCG(h.config.Seed, 0xa11))
	return samplePrefix(rng, all, size)
}

func samplePrefix(rng *rand.Rand, problems []logic.LogicState, size int) []logic.LogicState {
	out := make([]logic.LogicState, 0, size)
	for _, i := range rng.Perm(len(problems))[:size] {
		out = append(out, problems[i])
	}
	return out
}

type holdoutProblem struct {
	Question    string         `json:"question"`
	GroundTruth string         `json:"ground_truth"`
	TaskType    logic.TaskType `json:"task_type"`
	Difficulty  int            `json:"difficulty"`
}

// WriteJSON exports the full set as {task type: {difficulty: [problem...]}} so a run can be reproduced elsewhere.
func (h *HoldoutTestSet) WriteJSON(w io.Writer) error {
	out := map[string]map[string][]holdoutProblem{}
	for cell, problems := range h.cells {
		byDifficulty, ok := out[cell.taskType.String()]
		if !ok {
			byDifficulty = map[string][]holdoutProblem{}
			out[cell.taskType.String()] = byDifficulty
		}
		serialized := make([]holdoutProblem, 0, len(problems))
		for _, p := range problems {
			serialized = append(serialized, holdoutProblem{
				Question:    p.Question,
				GroundTruth: p.GroundTruth,
				TaskType:    p.TaskType,
				Difficulty:  p.Difficulty,
			})
		}
		byDifficulty[strconv.Itoa(cell.difficulty)] = serialized
	}
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(out)
}

type HoldoutEvaluatorOptions struct {
	// Quick evaluates QuickSize mixed problems instead of every cell
	Quick       bool
	QuickSize   int
	PerCellSize int
	PromptStyle PromptStyle
}

func DefaultHoldoutEvaluatorOptions() HoldoutEvaluatorOptions {
	return HoldoutEvaluatorOptions{
		QuickSize:   100,
		PerCellSize: 100,
		PromptStyle: PromptStylePlain,
	}
}

// HoldoutEvaluator runs a policy over a HoldoutTestSet and verifies every answer.
type HoldoutEvaluator struct {
	testSet  *HoldoutTestSet
	verifier *logic.Verifier
	options  HoldoutEvaluatorOptions
	now      func() time.Time
}

var _ Evaluator = &HoldoutEvaluator{}

func NewHoldoutEvaluator(testSet *HoldoutTestSet, verifier *logic.Verifier, options HoldoutEvaluatorOptions) *HoldoutEvaluator {
	if verifier == nil {
		verifier = logic.NewVerifier(nil)
	}
	return &HoldoutEvaluator{
		testSet:  testSet,
		verifier: verifier,
		options:  options,
		now:      time.Now,
	}
}

func (e *HoldoutEvaluator) problems() ([]logic.LogicState, error) {
	if e.options.Quick {
		return e.testSet.MixedTestSet(e.options.QuickSize), nil
	}
	problems := []logic.LogicState{}
	config := e.testSet.Config()
	for _, t := range config.TaskTypes {
		for _, d := range config.DifficultyLevels {
			cell, err := e.testSet.TestSet(t, d, e.options.PerCellSize)
			if err != nil {
				return nil, err
			}
			problems = append(problems, cell...)
		}
	}
	return problems, nil
}

func (e *HoldoutEvaluator) Evaluate(ctx context.Context, policy Policy) (EvaluationSummary, []EvaluationResult, error) {
	logger := zerolog.Ctx(ctx).With().Str("component", "holdout-evaluator").Logger()
	problems, err := e.problems()
	if err != nil {
		return EvaluationSummary{}, nil, err
	}
	env, err := logic.NewEnvironment(logic.DefaultEnvironmentConfig(), e.verifier, nil)
	if err != nil {
		return EvaluationSummary{}, nil, err
	}
	logger.Info().Int("problems", len(problems)).Bool("quick", e.options.Quick).Msg("starting evaluation")
	results := make([]EvaluationResult, 0, len(problems))
	for i, problem := range problems {
		if err := ctx.Err(); err != nil {
			return EvaluationSummary{}, nil, err
		}
		if i > 0 && i%100 == 0 {
			logger.Debug().Msgf("evaluated %d/%d problems", i, len(problems))
		}
		start := e.now()
		var text string
		generation, err := policy.Generate(ctx, CreatePrompt(problem.Observation(), e.options.PromptStyle))
		if err != nil {
			text = "Error: " + err.Error()
		} else {
			text = generation.Text
		}
		elapsed := e.now().Sub(start)

		action := ParseAction(text)
		env.ResetTo(problem)
		step, err := env.Step(action)
		if err != nil {
			return EvaluationSummary{}, nil, err
		}
		results = append(results, EvaluationResult{
			TaskType:       problem.TaskType,
			Difficulty:     problem.Difficulty,
			Question:       problem.Question,
			GroundTruth:    problem.GroundTruth,
			ModelAnswer:    action.Answer,
			ModelReasoning: action.Reasoning,
			Reward:         step.Reward,
			IsCorrect:      step.Reward == logic.RewardCorrect,
			Explanation:    step.Info.Explanation,
			ResponseTime:   elapsed,
		})
	}
	summary := Summarize(results, e.now())
	logger.Info().
		Float64("success_rate", summary.OverallSuccessRate).
		Float64("formal_correctness_rate", summary.FormalCorrectnessRate).
		Msg("evaluation finished")
	return summary, results, nil
}
