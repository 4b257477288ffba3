package logic

import (
	"slices"
	"strings"
)

// Reward tiers. Every reward the verifier emits is one of these.
const (
	RewardCorrect        = 1.0
	RewardAgreementValid = 0.5
	RewardMovementValid  = 0.0
	RewardSyllogismValid = -0.5
	RewardInvalid        = -1.0
)

const (
	propositionalTokenTrue    = "true"
	propositionalTokenFalse   = "false"
	propositionalTokenValid   = "valid"
	propositionalTokenInvalid = "invalid"
)

var propositionalTokens = []string{
	propositionalTokenTrue,
	propositionalTokenFalse,
	propositionalTokenValid,
	propositionalTokenInvalid,
}

// Verifier scores actions against ground truth. It holds no mutable state.
type Verifier struct {
	syntax SyntaxValidator
}

// NewVerifier uses the reference validator when syntax is nil.
func NewVerifier(syntax SyntaxValidator) *Verifier {
	if syntax == nil {
		syntax = NewReferenceValidator()
	}
	return &Verifier{syntax: syntax}
}

// Verify never fails: malformed or empty answers land on the lowest tier with an explanation.
func (v *Verifier) Verify(state LogicState, action LogicAction) (float64, string) {
	if strings.TrimSpace(action.Answer) == "" {
		return RewardInvalid, "Empty answer"
	}
	switch state.TaskType {
	case TaskTypeSyllogism:
		return v.verifySyllogism(state, action)
	case TaskTypePropositional:
		return v.verifyPropositional(state, action)
	case TaskTypeAgreement:
		return v.verifyAgreement(state, action)
	case TaskTypeMovement:
		return v.verifyMovement(state, action)
	}
	return RewardInvalid, "Unknown task type: " + state.TaskType.String()
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func (v *Verifier) wellFormed(answer string) bool {
	return v.syntax.IsWellFormed(strings.TrimSpace(answer))
}

func (v *Verifier) verifySyllogism(state LogicState, action LogicAction) (float64, string) {
	if normalize(action.Answer) == normalize(state.GroundTruth) {
		return RewardCorrect, "Correct syllogistic conclusion"
	}
	if v.wellFormed(action.Answer) {
		return RewardSyllogismValid, "Syntactically valid but incorrect conclusion"
	}
	return RewardInvalid, "Invalid syntax and incorrect conclusion"
}

func (v *Verifier) verifyPropositional(state LogicState, action LogicAction) (float64, string) {
	answer := normalize(action.Answer)
	if answer == normalize(state.GroundTruth) {
		return RewardCorrect, "Correct propositional conclusion"
	}
	if !slices.Contains(propositionalTokens, answer) {
		return RewardInvalid, "Invalid propositional answer format"
	}
	if answer == expectedPropositionalToken(state) {
		return RewardCorrect, "Correct propositional evaluation"
	}
	return RewardInvalid, "Incorrect propositional evaluation"
}

func expectedPropositionalToken(state LogicState) string {
	gt := normalize(state.GroundTruth)
	if slices.Contains(propositionalTokens, gt) {
		return gt
	}
	if verdict, ok := state.Metadata[MetadataValidity]; ok {
		return normalize(verdict)
	}
	return propositionalTokenValid
}

func (v *Verifier) verifyAgreement(state LogicState, action LogicAction) (float64, string) {
	if slices.Equal(strings.Fields(normalize(action.Answer)), strings.Fields(normalize(state.GroundTruth))) {
		return RewardCorrect, "Correct agreement and syntax"
	}
	if v.wellFormed(action.Answer) {
		return RewardAgreementValid, "Valid syntax but incorrect agreement"
	}
	return RewardInvalid, "Invalid syntax violates agreement"
}

func (v *Verifier) verifyMovement(state LogicState, action LogicAction) (float64, string) {
	if normalize(action.Answer) == normalize(state.GroundTruth) {
		return RewardCorrect, "Correct movement transformation"
	}
	if v.wellFormed(action.Answer) {
		return RewardMovementValid, "Valid syntax but incorrect movement"
	}
	return RewardInvalid, "Invalid movement violates syntax"
}
