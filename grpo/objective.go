package grpo

import (
	"errors"
	"fmt"
	"math"
)

// added to the group standard deviation so a near-constant group doesn't blow up
const advantageEpsilon = 1e-8

var ErrLogProbCount = errors.New("one current log-probability is needed per episode")

// GroupAdvantages normalizes rewards within a group: (r - mean) / (std + 1e-8),
// with std the sample standard deviation (n-1).
// Groups with fewer than two rewards or with identical rewards get all-zero advantages.
func GroupAdvantages(rewards []float64) []float64 {
	n := len(rewards)
	advantages := make([]float64, n)
	if n < 2 {
		return advantages
	}
	mean := 0.0
	for _, r := range rewards {
		mean += r
	}
	mean /= float64(n)

	allSame := true
	variance := 0.0
	for _, r := range rewards {
		if r != rewards[0] {
			allSame = false
		}
		variance += (r - mean) * (r - mean)
	}
	if allSame {
		return advantages
	}
	std := math.Sqrt(variance / float64(n-1))
	for i, r := range rewards {
		advantages[i] = (r - mean) / (std + advantageEpsilon)
	}
	return advantages
}

// ImportanceRatio converts a pair of sequence log-probabilities into pi_current / pi_behavior.
func ImportanceRatio(currentLogProb, behaviorLogProb float64) float64 {
	return math.Exp(currentLogProb - behaviorLogProb)
}

// ClippedSurrogate is the pessimistic PPO-style objective term for one episode.
func ClippedSurrogate(ratio, advantage, clipRatio float64) float64 {
	clipped := math.Max(1-clipRatio, math.Min(ratio, 1+clipRatio))
	return math.Min(ratio*advantage, clipped*advantage)
}

type GroupLoss struct {
	Loss       float64   `json:"loss"`
	Advantages []float64 `json:"advantages"`
	Ratios     []float64 `json:"ratios"`
	// number of episodes whose ratio fell outside [1-clip, 1+clip]
	Clipped int `json:"clipped"`
}

// ComputeGroupLoss returns the negated mean clipped surrogate over the group.
// currentLogProbs[i] is episode i re-scored under the current policy.
func ComputeGroupLoss(group []Episode, currentLogProbs []float64, clipRatio float64) (GroupLoss, error) {
	if len(currentLogProbs) != len(group) {
		return GroupLoss{}, fmt.Errorf("%w: %d episodes, %d log-probs", ErrLogProbCount, len(group), len(currentLogProbs))
	}
	if len(group) < 2 {
		return GroupLoss{
			Advantages: make([]float64, len(group)),
			Ratios:     make([]float64, len(group)),
		}, nil
	}
	rewards := make([]float64, len(group))
	for i, ep := range group {
		rewards[i] = ep.Reward
	}
	result := GroupLoss{
		Advantages: GroupAdvantages(rewards),
		Ratios:     make([]float64, len(group)),
	}
	total := 0.0
	for i, ep := range group {
		ratio := ImportanceRatio(currentLogProbs[i], ep.BehaviorLogProb)
		result.Ratios[i] = ratio
		if ratio < 1-clipRatio || ratio > 1+clipRatio {
			result.Clipped++
		}
		total += ClippedSurrogate(ratio, result.Advantages[i], clipRatio)
	}
	result.Loss = -total / float64(len(group))
	return result, nil
}

// MeanLoss averages group losses into the step loss. No groups means zero loss.
func MeanLoss(losses []GroupLoss) float64 {
	if len(losses) == 0 {
		return 0
	}
	total := 0.0
	for _, l := range losses {
		total += l.Loss
	}
	return total / float64(len(losses))
}
