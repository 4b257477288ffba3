package logic

import "fmt"

// LogicState is one sampled problem. It is passed by value and never mutated after sampling.
type LogicState struct {
	Question    string            `json:"question"`
	GroundTruth string            `json:"ground_truth"`
	TaskType    TaskType          `json:"task_type"`
	Difficulty  int               `json:"difficulty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// Observation is the part of a state the policy is allowed to see.
type Observation struct {
	Question   string   `json:"question"`
	TaskType   TaskType `json:"task_type"`
	Difficulty int      `json:"difficulty"`
}

func (s LogicState) Observation() Observation {
	return Observation{
		Question:   s.Question,
		TaskType:   s.TaskType,
		Difficulty: s.Difficulty,
	}
}

type LogicAction struct {
	Reasoning  string  `json:"reasoning"`
	Answer     string  `json:"answer"`
	Confidence float64 `json:"confidence"`
}

func NewLogicAction(reasoning, answer string) LogicAction {
	return LogicAction{Reasoning: reasoning, Answer: answer, Confidence: 1.0}
}

type DifficultyRange struct {
	Min int `json:"min" yaml:"min"`
	Max int `json:"max" yaml:"max"`
}

func (r DifficultyRange) Validate() error {
	if r.Min < 1 {
		return fmt.Errorf("%w: difficulty range min %d must be >= 1", ErrUnknownDifficulty, r.Min)
	}
	if r.Max < r.Min {
		return fmt.Errorf("%w: difficulty range max %d is below min %d", ErrUnknownDifficulty, r.Max, r.Min)
	}
	return nil
}

func (r DifficultyRange) Contains(difficulty int) bool {
	return difficulty >= r.Min && difficulty <= r.Max
}
