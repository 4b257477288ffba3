package grpo

import (
	"context"
	"errors"
	"fmt"
)

var ErrEmptySequence = errors.New("empty token sequence")

// Generation is one sampled response. Tokens and AttentionMask cover prompt + response,
// which is the sequence the policy re-scores later. LogProbs are per generated token.
type Generation struct {
	Text          string    `json:"text"`
	Tokens        []int     `json:"tokens"`
	AttentionMask []int     `json:"attention_mask"`
	LogProbs      []float64 `json:"log_probs"`
}

// SequenceLogProb is the behavior log-probability recorded on the episode.
func (g Generation) SequenceLogProb() float64 {
	total := 0.0
	for _, lp := range g.LogProbs {
		total += lp
	}
	return total
}

func (g Generation) Validate() error {
	if len(g.Tokens) != len(g.AttentionMask) {
		return fmt.Errorf("%w: %d tokens, %d mask entries", ErrMaskLength, len(g.Tokens), len(g.AttentionMask))
	}
	return nil
}

// GroupUpdate is what the policy worker needs to apply one group's contribution to the gradient.
type GroupUpdate struct {
	GroupID  GroupID   `json:"group_id"`
	Episodes []Episode `json:"episodes"`
	GroupLoss
}

// UpdateRequest carries one optimizer step. Loss is the mean of the group losses;
// the worker recomputes the differentiable objective from Advantages & Ratios and then
// clips gradients to MaxGradNorm before stepping at LearningRate.
type UpdateRequest struct {
	Loss         float64       `json:"loss"`
	Groups       []GroupUpdate `json:"groups"`
	LearningRate float64       `json:"learning_rate"`
	MaxGradNorm  float64       `json:"max_grad_norm"`
	ClipRatio    float64       `json:"clip_ratio"`
}

// Policy is the language model being trained. Parameters, tokenizer & optimizer state live behind it.
type Policy interface {
	Generate(ctx context.Context, prompt string) (Generation, error)
	// Score returns the summed log-probability of a token sequence under the current parameters.
	// It must sum over the same positions as Generation.LogProbs, so that scoring with
	// unchanged parameters gives an importance ratio of 1.
	Score(ctx context.Context, tokens []int, attentionMask []int) (float64, error)
	Update(ctx context.Context, request UpdateRequest) error
}
