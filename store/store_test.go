package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zaporter/logic-grpo/grpo"
	"github.com/zaporter/logic-grpo/logic"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "evaluations.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRecordAndReadHistory(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	results := []grpo.EvaluationResult{
		{TaskType: logic.TaskTypeSyllogism, Difficulty: 1, Question: "q1", GroundTruth: "g1", ModelAnswer: "g1",
			Reward: 1, IsCorrect: true, Explanation: "Correct syllogistic conclusion", ResponseTime: 1500 * time.Millisecond},
		{TaskType: logic.TaskTypeMovement, Difficulty: 3, Question: "q2", GroundTruth: "g2", ModelAnswer: "nope",
			ModelReasoning: "guess", Reward: -1, Explanation: "Invalid movement violates syntax", ResponseTime: time.Second},
	}
	summary := grpo.Summarize(results, time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))
	summary.PlateauDetected = true

	require.NoError(t, s.RecordEvaluation(ctx, "run-a", 10, summary, results))
	require.NoError(t, s.RecordEvaluation(ctx, "run-a", 20, summary, nil))
	require.NoError(t, s.RecordEvaluation(ctx, "run-b", 5, summary, results[:1]))

	history, err := s.History(ctx, "run-a", 0)
	require.NoError(t, err)
	require.Len(t, history, 2)
	require.Equal(t, 20, history[0].Step)
	require.Equal(t, 10, history[1].Step)
	require.Equal(t, grpo.RunID("run-a"), history[1].RunID)
	require.Equal(t, 0.5, history[1].Summary.OverallSuccessRate)
	require.True(t, history[1].Summary.PlateauDetected)
	require.True(t, summary.Timestamp.Equal(history[1].Summary.Timestamp))
	require.Equal(t, 1.0, history[1].Summary.SuccessByTask[logic.TaskTypeSyllogism])

	all, err := s.History(ctx, "", 2)
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.Equal(t, grpo.RunID("run-b"), all[0].RunID)

	stored, err := s.Results(ctx, history[1].ID)
	require.NoError(t, err)
	require.Equal(t, results, stored)

	empty, err := s.Results(ctx, history[0].ID)
	require.NoError(t, err)
	require.Empty(t, empty)
}

func TestStoreReopens(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "evaluations.db")
	s, err := NewStore(path)
	require.NoError(t, err)
	require.NoError(t, s.RecordEvaluation(ctx, "run-a", 1, grpo.Summarize(nil, time.Now()), nil))
	require.NoError(t, s.Close())

	s, err = NewStore(path)
	require.NoError(t, err)
	defer s.Close()
	history, err := s.History(ctx, "", 0)
	require.NoError(t, err)
	require.Len(t, history, 1)
}
