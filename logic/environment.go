package logic

import (
	"errors"
	"fmt"
	legacyrand "math/rand"
	"math/rand/v2"
	"slices"
	"strings"

	"github.com/mroth/weightedrand/v2"
)

type EnvironmentPhase int

const (
	PhaseUninitialized EnvironmentPhase = iota
	PhaseReady
	PhaseDone
)

func (p EnvironmentPhase) String() string {
	switch p {
	case PhaseUninitialized:
		return "uninitialized"
	case PhaseReady:
		return "ready"
	case PhaseDone:
		return "done"
	}
	return "unknown"
}

type EnvironmentConfig struct {
	TaskTypes       []TaskType
	DifficultyRange DifficultyRange
	// optional. Missing types get weight 1, so an empty map is a uniform draw.
	TaskWeights map[TaskType]int
}

func DefaultEnvironmentConfig() EnvironmentConfig {
	return EnvironmentConfig{
		TaskTypes:       slices.Clone(AllTaskTypes),
		DifficultyRange: DifficultyRange{Min: 1, Max: 3},
	}
}

// StepInfo is for logging & analysis. GroundTruth must never be fed back to the policy.
type StepInfo struct {
	Explanation string   `json:"explanation"`
	TaskType    TaskType `json:"task_type"`
	Difficulty  int      `json:"difficulty"`
	StepCount   int      `json:"step_count"`
	GroundTruth string   `json:"ground_truth"`
}

type StepResult struct {
	Reward float64
	Done   bool
	Info   StepInfo
}

// Environment wraps the sampler & verifier behind a reset/step protocol.
// Every episode is a single step.
// It is NOT safe for concurrent use; give each rollout worker its own instance.
type Environment struct {
	config   EnvironmentConfig
	verifier *Verifier
	rng      *rand.Rand
	chooser  *weightedrand.Chooser[TaskType, int]
	// weightedrand takes a math/rand source; seeded from rng so the task type draw follows it
	pickRng *legacyrand.Rand

	phase     EnvironmentPhase
	current   LogicState
	stepCount int
}

func NewEnvironment(config EnvironmentConfig, verifier *Verifier, rng *rand.Rand) (*Environment, error) {
	if len(config.TaskTypes) == 0 {
		return nil, errors.New("environment needs at least one task type")
	}
	if err := config.DifficultyRange.Validate(); err != nil {
		return nil, err
	}
	choices := make([]weightedrand.Choice[TaskType, int], 0, len(config.TaskTypes))
	for _, t := range config.TaskTypes {
		if !t.Valid() {
			return nil, fmt.Errorf("%w: %d", ErrUnknownTaskType, int(t))
		}
		weight := 1
		if w, ok := config.TaskWeights[t]; ok {
			weight = w
		}
		if weight < 0 {
			return nil, fmt.Errorf("negative weight %d for task type %s", weight, t)
		}
		choices = append(choices, weightedrand.NewChoice(t, weight))
	}
	chooser, err := weightedrand.NewChooser(choices...)
	if err != nil {
		return nil, fmt.Errorf("building task type chooser: %w", err)
	}
	if verifier == nil {
		verifier = NewVerifier(nil)
	}
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &Environment{
		config:   config,
		verifier: verifier,
		rng:      rng,
		chooser:  chooser,
		pickRng:  legacyrand.New(legacyrand.NewSource(int64(rng.Uint64()))),
		phase:    PhaseUninitialized,
	}, nil
}

func (e *Environment) Phase() EnvironmentPhase {
	return e.phase
}

// Reset samples a fresh problem and returns what the policy may see of it.
func (e *Environment) Reset() (Observation, error) {
	taskType := e.chooser.PickSource(e.pickRng)
	r := e.config.DifficultyRange
	difficulty := r.Min + e.rng.IntN(r.Max-r.Min+1)
	state, err := SampleTask(e.rng, taskType, difficulty)
	if err != nil {
		return Observation{}, err
	}
	e.ResetTo(state)
	return state.Observation(), nil
}

// ResetTo starts an episode on a fixed problem (e.g. one from a holdout set).
func (e *Environment) ResetTo(state LogicState) {
	e.current = state
	e.stepCount = 0
	e.phase = PhaseReady
}

func (e *Environment) Step(action LogicAction) (StepResult, error) {
	switch e.phase {
	case PhaseUninitialized:
		return StepResult{}, ErrNotInitialized
	case PhaseDone:
		return StepResult{}, fmt.Errorf("%w: episode already finished", ErrNotInitialized)
	}
	reward, explanation := e.verifier.Verify(e.current, action)
	e.stepCount++
	e.phase = PhaseDone
	return StepResult{
		Reward: reward,
		Done:   true,
		Info: StepInfo{
			Explanation: explanation,
			TaskType:    e.current.TaskType,
			Difficulty:  e.current.Difficulty,
			StepCount:   e.stepCount,
			GroundTruth: e.current.GroundTruth,
		},
	}, nil
}

// CurrentState is for the orchestrator's episode record, not for the policy.
func (e *Environment) CurrentState() (LogicState, bool) {
	if e.phase == PhaseUninitialized {
		return LogicState{}, false
	}
	return e.current, true
}

func (e *Environment) Observation() (Observation, bool) {
	if e.phase == PhaseUninitialized {
		return Observation{}, false
	}
	return e.current.Observation(), true
}

// Render is a debugging view. Like Observation it leaves the ground truth out.
func (e *Environment) Render() string {
	if e.phase == PhaseUninitialized {
		return "Environment not initialized"
	}
	lines := []string{
		"Logic Environment State:",
		fmt.Sprintf("\tTask Type: %s", e.current.TaskType),
		fmt.Sprintf("\tDifficulty: %d", e.current.Difficulty),
		fmt.Sprintf("\tQuestion: %s", e.current.Question),
		fmt.Sprintf("\tStep Count: %d", e.stepCount),
		fmt.Sprintf("\tPhase: %s", e.phase),
	}
	return strings.Join(lines, "\n")
}
