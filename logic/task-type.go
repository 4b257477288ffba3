package logic

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrUnknownTaskType   = errors.New("unknown task type")
	ErrUnknownDifficulty = errors.New("unknown difficulty")
	ErrNotInitialized    = errors.New("environment not initialized. Call Reset first")
)

// TaskType is the closed set of problem families the verifier understands.
// Adding a family means adding a constant here and a case to every switch on it.
type TaskType int

const (
	TaskTypeSyllogism TaskType = iota
	TaskTypePropositional
	TaskTypeAgreement
	TaskTypeMovement
)

var AllTaskTypes = []TaskType{
	TaskTypeSyllogism,
	TaskTypePropositional,
	TaskTypeAgreement,
	TaskTypeMovement,
}

func (t TaskType) String() string {
	switch t {
	case TaskTypeSyllogism:
		return "syllogism"
	case TaskTypePropositional:
		return "propositional"
	case TaskTypeAgreement:
		return "agreement"
	case TaskTypeMovement:
		return "movement"
	}
	return fmt.Sprintf("task-type(%d)", int(t))
}

func (t TaskType) Valid() bool {
	return t >= TaskTypeSyllogism && t <= TaskTypeMovement
}

func ParseTaskType(s string) (TaskType, error) {
	for _, t := range AllTaskTypes {
		if strings.EqualFold(strings.TrimSpace(s), t.String()) {
			return t, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownTaskType, s)
}

func ParseTaskTypes(names []string) ([]TaskType, error) {
	out := make([]TaskType, 0, len(names))
	for _, name := range names {
		t, err := ParseTaskType(name)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// MarshalText lets task types appear by name in json & yaml configs and in map keys.
func (t TaskType) MarshalText() ([]byte, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownTaskType, int(t))
	}
	return []byte(t.String()), nil
}

func (t *TaskType) UnmarshalText(text []byte) error {
	parsed, err := ParseTaskType(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}
