package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zaporter/logic-grpo/logic"
)

func TestRemoteSyntaxValidatorMemoises(t *testing.T) {
	var calls atomic.Int32
	submitter := submitterFunc(func(ctx context.Context, task string) (string, error) {
		calls.Add(1)
		var req SyntaxTask
		if err := json.Unmarshal([]byte(task), &req); err != nil {
			return "", err
		}
		// the grammar engine here only accepts sentences starting with "The"
		return mustJSON(SyntaxTaskResponse{WellFormed: strings.HasPrefix(req.Sentence, "The")}), nil
	})
	v := NewRemoteSyntaxValidator(context.Background(), submitter, time.Second)

	require.True(t, v.IsWellFormed("The student left."))
	require.True(t, v.IsWellFormed("The student left."))
	require.False(t, v.IsWellFormed("A student left."))
	require.Equal(t, int32(2), calls.Load())
	require.Equal(t, 2, v.Len())
}

func TestRemoteSyntaxValidatorFallsBack(t *testing.T) {
	var calls atomic.Int32
	var fail atomic.Bool
	fail.Store(true)
	submitter := submitterFunc(func(ctx context.Context, task string) (string, error) {
		calls.Add(1)
		if fail.Load() {
			return "", errors.New("redis down")
		}
		return mustJSON(SyntaxTaskResponse{WellFormed: false}), nil
	})
	v := NewRemoteSyntaxValidator(context.Background(), submitter, time.Second)

	reference := logic.NewReferenceValidator()
	for _, s := range []string{"The student left.", "42 + 17"} {
		require.Equal(t, reference.IsWellFormed(s), v.IsWellFormed(s), s)
	}
	require.Equal(t, 2, v.Len())

	// the engine is back but disagrees; answers given during the outage stand
	fail.Store(false)
	require.True(t, v.IsWellFormed("The student left."))
	require.Equal(t, int32(2), calls.Load())
	require.False(t, v.IsWellFormed("The teacher left."))
	require.Equal(t, int32(3), calls.Load())
}

func TestVerifierStableAcrossGrammarOutage(t *testing.T) {
	var fail atomic.Bool
	fail.Store(true)
	submitter := submitterFunc(func(ctx context.Context, task string) (string, error) {
		if fail.Load() {
			return "", errors.New("redis down")
		}
		return mustJSON(SyntaxTaskResponse{WellFormed: false}), nil
	})
	verifier := logic.NewVerifier(NewRemoteSyntaxValidator(context.Background(), submitter, time.Second))
	state := logic.LogicState{
		Question:    "All students are mortal. Some books are students. Therefore, some books are mortal.",
		GroundTruth: "some books are mortal.",
		TaskType:    logic.TaskTypeSyllogism,
		Difficulty:  1,
	}
	action := logic.NewLogicAction("", "some books are useful.")

	firstReward, firstExplanation := verifier.Verify(state, action)
	fail.Store(false)
	secondReward, secondExplanation := verifier.Verify(state, action)
	require.Equal(t, firstReward, secondReward)
	require.Equal(t, firstExplanation, secondExplanation)
}

func TestRemoteSyntaxValidatorWorkerError(t *testing.T) {
	submitter := submitterFunc(func(ctx context.Context, task string) (string, error) {
		return mustJSON(SyntaxTaskResponse{Error: "grammar not loaded"}), nil
	})
	v := NewRemoteSyntaxValidator(context.Background(), submitter, time.Second)
	require.True(t, v.IsWellFormed("The student left."))
	require.Equal(t, 1, v.Len())
}

func TestRemoteSyntaxValidatorTimeout(t *testing.T) {
	submitter := submitterFunc(func(ctx context.Context, task string) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})
	v := NewRemoteSyntaxValidator(context.Background(), submitter, 10*time.Millisecond)
	start := time.Now()
	require.False(t, v.IsWellFormed("$$$"))
	require.Less(t, time.Since(start), time.Second)
}

func TestVerifierUsesRemoteValidator(t *testing.T) {
	submitter := submitterFunc(func(ctx context.Context, task string) (string, error) {
		return mustJSON(SyntaxTaskResponse{WellFormed: true}), nil
	})
	verifier := logic.NewVerifier(NewRemoteSyntaxValidator(context.Background(), submitter, time.Second))
	state := logic.LogicState{
		GroundTruth: "The student left.",
		TaskType:    logic.TaskTypeMovement,
		Difficulty:  1,
	}
	// rejected by the reference grammar, accepted by the remote one
	reward, _ := verifier.Verify(state, logic.NewLogicAction("", "42 + 17"))
	require.Equal(t, logic.RewardMovementValid, reward)
}
