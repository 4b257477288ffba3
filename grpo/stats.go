package grpo

import "github.com/zaporter/logic-grpo/logic"

// TrainingStats is a snapshot. The trainer replaces it after every step & evaluation
// instead of mutating it, so readers can hold one without locking.
type TrainingStats struct {
	Steps       int     `json:"steps"`
	Episodes    int     `json:"episodes"`
	Updates     int     `json:"updates"`
	Successes   int     `json:"successes"`
	TotalReward float64 `json:"total_reward"`
	AvgReward   float64 `json:"avg_reward"`
	// fraction of collected training episodes that scored the top reward tier
	SuccessRate float64 `json:"success_rate"`
	// OverallSuccessRate of the latest evaluation
	EvalSuccessRate float64 `json:"eval_success_rate"`
	Evaluations     int     `json:"evaluations"`
	LastLoss        float64 `json:"last_loss"`
	LastGroups      int     `json:"last_groups"`
	TotalTokens     int     `json:"total_tokens"`
}

func (s TrainingStats) withEpisodes(episodes []Episode) TrainingStats {
	for _, ep := range episodes {
		s.Episodes++
		s.TotalReward += ep.Reward
		s.TotalTokens += ep.TokenCount()
		if ep.Reward == logic.RewardCorrect {
			s.Successes++
		}
	}
	if s.Episodes > 0 {
		s.AvgReward = s.TotalReward / float64(s.Episodes)
		s.SuccessRate = float64(s.Successes) / float64(s.Episodes)
	}
	return s
}

func (s TrainingStats) withStep(result StepResult) TrainingStats {
	s = s.withEpisodes(result.Collected)
	s.Steps++
	s.LastLoss = result.Loss
	s.LastGroups = result.Groups
	if result.Updated {
		s.Updates++
	}
	return s
}

func (s TrainingStats) withEvaluation(summary EvaluationSummary) TrainingStats {
	s.Evaluations++
	s.EvalSuccessRate = summary.OverallSuccessRate
	return s
}
