package grpo

import (
	"errors"
	"fmt"

	"github.com/zaporter/logic-grpo/logic"
)

var ErrMaskLength = errors.New("token sequence and attention mask differ in length")

// Episode is one complete interaction: the problem, what the policy answered, and how it scored.
// BehaviorLogProb is the summed log-probability of the response under the policy that generated it.
type Episode struct {
	ID              EpisodeID         `json:"id"`
	State           logic.LogicState  `json:"state"`
	Action          logic.LogicAction `json:"action"`
	Reward          float64           `json:"reward"`
	BehaviorLogProb float64           `json:"behavior_log_prob"`
	TokenSequence   []int             `json:"token_sequence"`
	AttentionMask   []int             `json:"attention_mask"`
}

func NewEpisode(state logic.LogicState, action logic.LogicAction, reward, behaviorLogProb float64, tokens, mask []int) (Episode, error) {
	if len(tokens) != len(mask) {
		return Episode{}, fmt.Errorf("%w: %d tokens, %d mask entries", ErrMaskLength, len(tokens), len(mask))
	}
	return Episode{
		ID:              NewEpisodeID(),
		State:           state,
		Action:          action,
		Reward:          reward,
		BehaviorLogProb: behaviorLogProb,
		TokenSequence:   tokens,
		AttentionMask:   mask,
	}, nil
}

func (e Episode) TokenCount() int {
	return len(e.TokenSequence)
}

func (e Episode) Succeeded() bool {
	return e.Reward == logic.RewardCorrect
}
