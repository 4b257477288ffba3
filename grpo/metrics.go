package grpo

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	episodesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lgrpo_episodes_total",
		Help: "Episodes collected, by task type",
	}, []string{"task_type"})

	episodeReward = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "lgrpo_episode_reward",
		Help:    "Verifier reward per collected episode",
		Buckets: []float64{-1, -0.5, 0, 0.5, 1},
	}, []string{"task_type"})

	degenerateGenerationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lgrpo_degenerate_generations_total",
		Help: "Generations that failed and were replaced by an error response",
	})

	scoreFallbacksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lgrpo_score_fallbacks_total",
		Help: "Episodes re-scored with their behavior log-prob because scoring failed or the sequence was empty",
	})

	stepLoss = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "lgrpo_step_loss",
		Help: "Mean GRPO group loss of the latest step",
	})

	stepGroups = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "lgrpo_step_groups",
		Help: "Number of groups formed in the latest step",
	})

	clippedRatiosTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lgrpo_clipped_ratios_total",
		Help: "Episodes whose importance ratio fell outside the clip range",
	})

	policyUpdatesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lgrpo_policy_updates_total",
		Help: "Parameter updates sent to the policy",
	})

	bufferTokens = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "lgrpo_buffer_tokens",
		Help: "Tokens held in the episode buffer after collection",
	})

	evalSuccessRate = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "lgrpo_eval_success_rate",
		Help: "Overall success rate of the latest holdout evaluation",
	})

	evalFormalCorrectness = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "lgrpo_eval_formal_correctness_rate",
		Help: "Fraction of evaluation answers with positive reward",
	})

	plateauDetected = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "lgrpo_plateau_detected",
		Help: "1 when the latest evaluation window is a plateau",
	})
)

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
