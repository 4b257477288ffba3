package orchestrator

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/zaporter/logic-grpo/grpo"
)

// ErrRemote wraps an error string reported by a worker.
var ErrRemote = errors.New("remote worker error")

type PolicyTaskKind string

const (
	PolicyTaskGenerate PolicyTaskKind = "generate"
	PolicyTaskScore    PolicyTaskKind = "score"
)

// PolicyTask is the payload of one policy-engine task.
// Generate tasks carry a prompt; score tasks carry a token sequence.
type PolicyTask struct {
	Kind          PolicyTaskKind `json:"kind"`
	Prompt        string         `json:"prompt,omitempty"`
	Tokens        []int          `json:"tokens,omitempty"`
	AttentionMask []int          `json:"attention_mask,omitempty"`
	MaxNewTokens  int            `json:"max_new_tokens,omitempty"`
	Temperature   float64        `json:"temperature,omitempty"`
}

type PolicyTaskResponse struct {
	Generation *grpo.Generation `json:"generation,omitempty"`
	LogProb    float64          `json:"log_prob"`
	Error      string           `json:"error,omitempty"`
}

func (t PolicyTask) ToJSON() string {
	out, err := json.Marshal(t)
	if err != nil {
		panic(err)
	}
	return string(out)
}

func PolicyTaskResponseFromJSON(val string) (PolicyTaskResponse, error) {
	var resp PolicyTaskResponse
	if err := json.Unmarshal([]byte(val), &resp); err != nil {
		return PolicyTaskResponse{}, fmt.Errorf("decoding policy response: %w", err)
	}
	if resp.Error != "" {
		return resp, fmt.Errorf("%w: %s", ErrRemote, resp.Error)
	}
	return resp, nil
}

type SyntaxTask struct {
	Sentence string `json:"sentence"`
}

type SyntaxTaskResponse struct {
	WellFormed bool   `json:"well_formed"`
	Error      string `json:"error,omitempty"`
}

func (t SyntaxTask) ToJSON() string {
	out, err := json.Marshal(t)
	if err != nil {
		panic(err)
	}
	return string(out)
}

func SyntaxTaskResponseFromJSON(val string) (SyntaxTaskResponse, error) {
	var resp SyntaxTaskResponse
	if err := json.Unmarshal([]byte(val), &resp); err != nil {
		return SyntaxTaskResponse{}, fmt.Errorf("decoding syntax response: %w", err)
	}
	if resp.Error != "" {
		return resp, fmt.Errorf("%w: %s", ErrRemote, resp.Error)
	}
	return resp, nil
}
