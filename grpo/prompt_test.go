package grpo

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zaporter/logic-grpo/logic"
)

func TestCreatePrompt(t *testing.T) {
	obs := logic.Observation{Question: "All A are B.", TaskType: logic.TaskTypeSyllogism, Difficulty: 1}
	require.Equal(t, "Solve this syllogism:\nAll A are B.\n\nReasoning:", CreatePrompt(obs, PromptStylePlain))

	obs.TaskType = logic.TaskTypeMovement
	require.Equal(t, "Transform this sentence:\nAll A are B.\n\nResult:", CreatePrompt(obs, PromptStylePlain))

	obs.TaskType = logic.TaskType(40)
	require.Equal(t, "Solve: All A are B.\nAnswer:", CreatePrompt(obs, PromptStylePlain))

	obs.TaskType = logic.TaskTypeAgreement
	xmlPrompt := CreatePrompt(obs, PromptStyleXML)
	require.Contains(t, xmlPrompt, "<think>step-by-step reasoning</think>")
	require.True(t, strings.HasSuffix(xmlPrompt, "Fix the agreement in this sentence:\nAll A are B.\n\nCorrected:"))
}

func TestParseActionFirstLine(t *testing.T) {
	action := ParseAction("\n  all students are mortal.  \nbecause A is B\n\nand B is C\n")
	require.Equal(t, "all students are mortal.", action.Answer)
	require.Equal(t, "because A is B and B is C", action.Reasoning)
	require.Equal(t, 1.0, action.Confidence)

	require.Equal(t, "", ParseAction("   \n ").Answer)
}

func TestParseActionXML(t *testing.T) {
	action := ParseAction("sure!\n<response>\n\t<think>A is B, B is C</think>\n\t<answer> all A are C. </answer>\n\t<confidence>1.7</confidence>\n</response> trailing")
	require.Equal(t, "all A are C.", action.Answer)
	require.Equal(t, "A is B, B is C", action.Reasoning)
	require.Equal(t, 1.0, action.Confidence)

	action = ParseAction("<think>hmm</think><answer>valid</answer>")
	require.Equal(t, "valid", action.Answer)
	require.Equal(t, "hmm", action.Reasoning)

	// without a <response> wrapper nothing after </answer> is read
	action = ParseAction("<answer>valid</answer><confidence>-2</confidence>")
	require.Equal(t, "valid", action.Answer)
	require.Equal(t, 1.0, action.Confidence)

	action = ParseAction("<response><answer>x</answer><confidence>0.25</confidence></response>")
	require.Equal(t, 0.25, action.Confidence)

	action = ParseAction("<response><answer>x</answer><confidence>-2</confidence></response>")
	require.Equal(t, 0.0, action.Confidence)

	// unbalanced xml falls back to line parsing
	action = ParseAction("<answer>valid\nmore")
	require.Equal(t, "<answer>valid", action.Answer)
}

func TestResponseExampleRoundTrips(t *testing.T) {
	action := ParseAction(responseExample)
	require.Equal(t, "step-by-step reasoning", action.Reasoning)
	require.Equal(t, "the final answer on its own", action.Answer)
}
