package grpo

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zaporter/logic-grpo/logic"
)

func smallHoldout(t *testing.T) *HoldoutTestSet {
	t.Helper()
	testSet, err := NewHoldoutTestSet(HoldoutConfig{
		TaskTypes:        logic.AllTaskTypes,
		DifficultyLevels: []int{1, 2},
		SizePerCell:      5,
		Seed:             42,
	})
	require.NoError(t, err)
	return testSet
}

func TestSummarize(t *testing.T) {
	results := []EvaluationResult{
		{TaskType: logic.TaskTypeSyllogism, Difficulty: 1, Reward: 1, IsCorrect: true, ResponseTime: time.Second},
		{TaskType: logic.TaskTypeSyllogism, Difficulty: 2, Reward: -0.5, ResponseTime: 3 * time.Second},
		{TaskType: logic.TaskTypeAgreement, Difficulty: 1, Reward: 0.5, ResponseTime: 2 * time.Second},
		{TaskType: logic.TaskTypeAgreement, Difficulty: 1, Reward: 1, IsCorrect: true, ResponseTime: 2 * time.Second},
	}
	now := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	summary := Summarize(results, now)
	require.Equal(t, now, summary.Timestamp)
	require.Equal(t, 4, summary.TotalProblems)
	require.Equal(t, 0.5, summary.OverallSuccessRate)
	require.Equal(t, 0.75, summary.FormalCorrectnessRate)
	require.Equal(t, 2*time.Second, summary.AvgResponseTime)
	require.Equal(t, map[logic.TaskType]float64{logic.TaskTypeSyllogism: 0.5, logic.TaskTypeAgreement: 0.5}, summary.SuccessByTask)
	require.InDelta(t, 2.0/3.0, summary.SuccessByDifficulty[1], 1e-12)
	require.Equal(t, 0.0, summary.SuccessByDifficulty[2])

	empty := Summarize(nil, now)
	require.Zero(t, empty.TotalProblems)
	require.Zero(t, empty.OverallSuccessRate)
}

func TestHoldoutTestSetIsReproducible(t *testing.T) {
	a := smallHoldout(t)
	b := smallHoldout(t)
	for _, taskType := range logic.AllTaskTypes {
		setA, err := a.TestSet(taskType, 2, 0)
		require.NoError(t, err)
		setB, err := b.TestSet(taskType, 2, 0)
		require.NoError(t, err)
		require.Equal(t, setA, setB)
		require.Len(t, setA, 5)

		subA, err := a.TestSet(taskType, 1, 3)
		require.NoError(t, err)
		subB, err := b.TestSet(taskType, 1, 3)
		require.NoError(t, err)
		require.Equal(t, subA, subB)
		require.Len(t, subA, 3)
	}
	require.Equal(t, a.MixedTestSet(7), b.MixedTestSet(7))
	require.Len(t, a.MixedTestSet(0), 40)
}

func TestHoldoutTestSetLookupErrors(t *testing.T) {
	testSet, err := NewHoldoutTestSet(HoldoutConfig{
		TaskTypes:        []logic.TaskType{logic.TaskTypeSyllogism},
		DifficultyLevels: []int{1},
		SizePerCell:      2,
	})
	require.NoError(t, err)

	_, err = testSet.TestSet(logic.TaskTypeMovement, 1, 0)
	require.ErrorIs(t, err, logic.ErrUnknownTaskType)
	_, err = testSet.TestSet(logic.TaskTypeSyllogism, 4, 0)
	require.ErrorIs(t, err, logic.ErrUnknownDifficulty)

	_, err = NewHoldoutTestSet(HoldoutConfig{TaskTypes: logic.AllTaskTypes, DifficultyLevels: []int{0}, SizePerCell: 1})
	require.ErrorIs(t, err, logic.ErrUnknownDifficulty)
}

func TestHoldoutWriteJSON(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, smallHoldout(t).WriteJSON(&out))
	decoded := map[string]map[string][]holdoutProblem{}
	require.NoError(t, json.Unmarshal(out.Bytes(), &decoded))
	require.Len(t, decoded, 4)
	require.Len(t, decoded["movement"]["2"], 5)
	require.Equal(t, logic.TaskTypeMovement, decoded["movement"]["2"][0].TaskType)
}

func TestHoldoutEvaluatorWithOracle(t *testing.T) {
	testSet := smallHoldout(t)
	answers := map[string]string{}
	for _, problem := range testSet.MixedTestSet(0) {
		answers[CreatePrompt(problem.Observation(), PromptStylePlain)] = problem.GroundTruth
	}
	oracle := newFakePolicy(3, func(_ int, prompt string) (string, error) {
		return answers[prompt], nil
	})

	options := DefaultHoldoutEvaluatorOptions()
	options.PerCellSize = 2
	evaluator := NewHoldoutEvaluator(testSet, logic.NewVerifier(nil), options)
	summary, results, err := evaluator.Evaluate(context.Background(), oracle)
	require.NoError(t, err)
	require.Len(t, results, 4*2*2)
	require.Equal(t, 16, summary.TotalProblems)
	require.Equal(t, 1.0, summary.OverallSuccessRate)
	require.Equal(t, 1.0, summary.FormalCorrectnessRate)
	for _, taskType := range logic.AllTaskTypes {
		require.Equal(t, 1.0, summary.SuccessByTask[taskType])
	}
}

func TestPartialAgreementIsNotASuccess(t *testing.T) {
	testSet, err := NewHoldoutTestSet(HoldoutConfig{
		TaskTypes:        []logic.TaskType{logic.TaskTypeAgreement},
		DifficultyLevels: []int{1},
		SizePerCell:      4,
		Seed:             1,
	})
	require.NoError(t, err)
	// well formed, never the expected sentence
	policy := newFakePolicy(3, func(int, string) (string, error) {
		return "The zebra sleeps.", nil
	})
	options := DefaultHoldoutEvaluatorOptions()
	options.PerCellSize = 4
	summary, results, err := NewHoldoutEvaluator(testSet, logic.NewVerifier(nil), options).Evaluate(context.Background(), policy)
	require.NoError(t, err)
	require.Len(t, results, 4)
	for _, r := range results {
		require.Equal(t, logic.RewardAgreementValid, r.Reward)
		require.False(t, r.IsCorrect)
	}
	require.Zero(t, summary.OverallSuccessRate)
	require.Equal(t, 1.0, summary.FormalCorrectnessRate)
}

func TestHoldoutEvaluatorRecordsGenerationErrors(t *testing.T) {
	broken := newFakePolicy(3, func(int, string) (string, error) {
		return "", errors.New("worker unreachable")
	})
	options := DefaultHoldoutEvaluatorOptions()
	options.Quick = true
	options.QuickSize = 6
	evaluator := NewHoldoutEvaluator(smallHoldout(t), nil, options)
	summary, results, err := evaluator.Evaluate(context.Background(), broken)
	require.NoError(t, err)
	require.Len(t, results, 6)
	for _, r := range results {
		require.Equal(t, "Error: worker unreachable", r.ModelAnswer)
		require.Equal(t, logic.RewardInvalid, r.Reward)
		require.False(t, r.IsCorrect)
	}
	require.Zero(t, summary.OverallSuccessRate)
}

func TestHoldoutEvaluatorStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	evaluator := NewHoldoutEvaluator(smallHoldout(t), nil, DefaultHoldoutEvaluatorOptions())
	_, _, err := evaluator.Evaluate(ctx, newFakePolicy(1, alternating("a", "b")))
	require.ErrorIs(t, err, context.Canceled)
}
