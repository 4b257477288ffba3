package logic

import (
	"testing"

	"github.com/stretchr/testify/require"
)

var (
	alwaysWellFormed = SyntaxValidatorFunc(func(string) bool { return true })
	neverWellFormed  = SyntaxValidatorFunc(func(string) bool { return false })
)

func TestVerifySyllogism(t *testing.T) {
	state := LogicState{
		Question:    "All students are people. All people are mortal. Therefore, all students are mortal.",
		GroundTruth: "all students are mortal.",
		TaskType:    TaskTypeSyllogism,
		Difficulty:  1,
	}

	reward, _ := NewVerifier(neverWellFormed).Verify(state, NewLogicAction("", "  ALL students are MORTAL. "))
	require.Equal(t, RewardCorrect, reward)

	reward, explanation := NewVerifier(alwaysWellFormed).Verify(state, NewLogicAction("", "Some students are mortal."))
	require.Equal(t, RewardSyllogismValid, reward)
	require.Contains(t, explanation, "incorrect")

	reward, _ = NewVerifier(neverWellFormed).Verify(state, NewLogicAction("", "students mortal are all"))
	require.Equal(t, RewardInvalid, reward)
}

func TestVerifyPropositional(t *testing.T) {
	state := LogicState{
		Question:    "If it rains then the ground is wet. it rains. Therefore, the ground is wet.",
		GroundTruth: "the ground is wet.",
		TaskType:    TaskTypePropositional,
		Difficulty:  1,
		Metadata:    map[string]string{MetadataValidity: "valid"},
	}
	v := NewVerifier(alwaysWellFormed)

	cases := []struct {
		answer string
		reward float64
	}{
		{"The ground is wet.", RewardCorrect},
		{"valid", RewardCorrect},
		{" VALID ", RewardCorrect},
		{"invalid", RewardInvalid},
		{"false", RewardInvalid},
		{"maybe", RewardInvalid},
	}
	for _, tc := range cases {
		reward, _ := v.Verify(state, NewLogicAction("", tc.answer))
		require.Equal(t, tc.reward, reward, tc.answer)
	}

	tokenTruth := state
	tokenTruth.GroundTruth = "true"
	reward, _ := v.Verify(tokenTruth, NewLogicAction("", "true"))
	require.Equal(t, RewardCorrect, reward)
	reward, _ = v.Verify(tokenTruth, NewLogicAction("", "valid"))
	require.Equal(t, RewardInvalid, reward)
}

func TestVerifyAgreement(t *testing.T) {
	state := LogicState{
		Question:    "The smart student left",
		GroundTruth: "The smart student left",
		TaskType:    TaskTypeAgreement,
		Difficulty:  2,
	}

	reward, _ := NewVerifier(neverWellFormed).Verify(state, NewLogicAction("", "the  smart student   LEFT"))
	require.Equal(t, RewardCorrect, reward)

	reward, _ = NewVerifier(alwaysWellFormed).Verify(state, NewLogicAction("", "The smart students leave"))
	require.Equal(t, RewardAgreementValid, reward)

	reward, _ = NewVerifier(neverWellFormed).Verify(state, NewLogicAction("", "students smart The leave"))
	require.Equal(t, RewardInvalid, reward)
}

func TestVerifyMovement(t *testing.T) {
	state := LogicState{
		Question:    "Who did the student praise?",
		GroundTruth: "The student praised someone.",
		TaskType:    TaskTypeMovement,
		Difficulty:  2,
	}

	reward, _ := NewVerifier(neverWellFormed).Verify(state, NewLogicAction("", "the student praised someone."))
	require.Equal(t, RewardCorrect, reward)

	reward, _ = NewVerifier(alwaysWellFormed).Verify(state, NewLogicAction("", "The teacher smiled."))
	require.Equal(t, RewardMovementValid, reward)

	reward, _ = NewVerifier(neverWellFormed).Verify(state, NewLogicAction("", "praised praised"))
	require.Equal(t, RewardInvalid, reward)
}

func TestVerifyEmptyAnswer(t *testing.T) {
	v := NewVerifier(alwaysWellFormed)
	for _, taskType := range AllTaskTypes {
		state, err := SampleTask(testRng(), taskType, 1)
		require.NoError(t, err)
		reward, explanation := v.Verify(state, NewLogicAction("some reasoning", "   "))
		require.Equal(t, RewardInvalid, reward)
		require.Equal(t, "Empty answer", explanation)
	}
}

func TestVerifyUnknownTaskType(t *testing.T) {
	reward, _ := NewVerifier(nil).Verify(LogicState{TaskType: TaskType(99), GroundTruth: "x"}, NewLogicAction("", "x"))
	require.Equal(t, RewardInvalid, reward)
}

func TestVerifyIsDeterministic(t *testing.T) {
	v := NewVerifier(nil)
	rng := testRng()
	for _, taskType := range AllTaskTypes {
		for difficulty := 1; difficulty <= 3; difficulty++ {
			state, err := SampleTask(rng, taskType, difficulty)
			require.NoError(t, err)
			for _, answer := range []string{state.GroundTruth, "valid", "The cat sat.", "$$$"} {
				action := NewLogicAction("", answer)
				r1, e1 := v.Verify(state, action)
				r2, e2 := v.Verify(state, action)
				require.Equal(t, r1, r2)
				require.Equal(t, e1, e2)
			}
		}
	}
}

func TestRewardTiersAreOrdered(t *testing.T) {
	rng := testRng()
	for _, taskType := range AllTaskTypes {
		state, err := SampleTask(rng, taskType, 1)
		require.NoError(t, err)

		correct, _ := NewVerifier(neverWellFormed).Verify(state, NewLogicAction("", state.GroundTruth))
		wellFormedWrong, _ := NewVerifier(alwaysWellFormed).Verify(state, NewLogicAction("", "nothing matches this answer"))
		malformed, _ := NewVerifier(neverWellFormed).Verify(state, NewLogicAction("", "nothing matches this answer"))

		require.Equal(t, RewardCorrect, correct, taskType.String())
		require.GreaterOrEqual(t, correct, wellFormedWrong, taskType.String())
		require.GreaterOrEqual(t, wellFormedWrong, malformed, taskType.String())
		require.Equal(t, RewardInvalid, malformed, taskType.String())
	}
}

func TestVerifierFallsBackToReferenceValidator(t *testing.T) {
	state := LogicState{
		GroundTruth: "The student left.",
		TaskType:    TaskTypeMovement,
		Difficulty:  1,
	}
	v := NewVerifier(nil)

	reward, _ := v.Verify(state, NewLogicAction("", "The teacher smiled."))
	require.Equal(t, RewardMovementValid, reward)

	reward, _ = v.Verify(state, NewLogicAction("", "42 + 17"))
	require.Equal(t, RewardInvalid, reward)
}
