package logic

import (
	"fmt"
	"math/rand/v2"
	"regexp"
	"strconv"
	"strings"
)

// Variants are ordered by difficulty: difficulty d uses variant min(d-1, len-1).
var taskTemplates = map[TaskType][]string{
	TaskTypeSyllogism: {
		"All {A} are {B}. All {B} are {C}. Therefore, all {A} are {C}.",
		"Some {A} are {B}. All {B} are {C}. Therefore, some {A} are {C}.",
		"No {A} are {B}. All {C} are {A}. Therefore, no {C} are {B}.",
	},
	TaskTypePropositional: {
		"If {P} then {Q}. {P}. Therefore, {Q}.",
		"If {P} then {Q}. Not {Q}. Therefore, not {P}.",
		"{P} or {Q}. Not {P}. Therefore, {Q}.",
	},
	TaskTypeAgreement: {
		"The {noun} {verb}",
		"The {adj} {noun} {verb}",
		"{det} {noun} who {verb} {verb2}",
	},
	TaskTypeMovement: {
		"{obj} the {subj} {verb}",
		"Who did the {subj} {verb}?",
		"What {verb} the {subj}?",
	},
}

// every propositional variant above is a valid inference form
// (modus ponens, modus tollens, disjunctive syllogism).
var propositionalValidity = []string{"valid", "valid", "valid"}

var slotVocabulary = map[string][]string{
	"A":     {"students", "teachers", "books"},
	"B":     {"people", "objects", "things"},
	"C":     {"mortal", "useful", "valuable"},
	"P":     {"it rains", "it's sunny", "it's cold"},
	"Q":     {"the ground is wet", "it's warm", "I wear a coat"},
	"noun":  {"student", "teacher", "book", "class"},
	"verb":  {"left", "arrived", "smiled", "praised"},
	"verb2": {"stayed", "departed", "laughed"},
	"adj":   {"smart", "new", "old", "good"},
	"det":   {"the", "a"},
	"subj":  {"student", "teacher"},
	"obj":   {"who", "what", "which book"},
}

var slotPattern = regexp.MustCompile(`\{(\w+)\}`)

const (
	MetadataTemplateIndex = "template_index"
	MetadataValidity      = "validity"
	metadataSlotPrefix    = "slot."
)

// VariantCount returns the number of templates available for a task type.
func VariantCount(t TaskType) int {
	return len(taskTemplates[t])
}

// SampleTask instantiates a problem of the given family & difficulty.
// Difficulties past the last template clamp to it.
// The only state touched is rng, so callers that own their rng may call this concurrently.
func SampleTask(rng *rand.Rand, t TaskType, difficulty int) (LogicState, error) {
	variants, ok := taskTemplates[t]
	if !ok || len(variants) == 0 {
		return LogicState{}, fmt.Errorf("%w: %s", ErrUnknownTaskType, t)
	}
	if difficulty < 1 {
		return LogicState{}, fmt.Errorf("%w: %d (must be >= 1)", ErrUnknownDifficulty, difficulty)
	}
	idx := min(difficulty-1, len(variants)-1)
	question, fills := instantiateTemplate(rng, variants[idx])

	metadata := map[string]string{
		MetadataTemplateIndex: strconv.Itoa(idx),
	}
	for slot, value := range fills {
		metadata[metadataSlotPrefix+slot] = value
	}
	if t == TaskTypePropositional {
		metadata[MetadataValidity] = propositionalValidity[idx]
	}

	return LogicState{
		Question:    question,
		GroundTruth: groundTruthFor(t, question, fills),
		TaskType:    t,
		Difficulty:  difficulty,
		Metadata:    metadata,
	}, nil
}

func instantiateTemplate(rng *rand.Rand, template string) (string, map[string]string) {
	fills := map[string]string{}
	for _, match := range slotPattern.FindAllStringSubmatch(template, -1) {
		slot := match[1]
		if _, done := fills[slot]; done {
			continue
		}
		vocab, ok := slotVocabulary[slot]
		if !ok {
			fills[slot] = "<" + slot + ">"
			continue
		}
		fills[slot] = vocab[rng.IntN(len(vocab))]
	}
	question := slotPattern.ReplaceAllStringFunc(template, func(m string) string {
		return fills[m[1:len(m)-1]]
	})
	return question, fills
}

func groundTruthFor(t TaskType, question string, fills map[string]string) string {
	switch t {
	case TaskTypeSyllogism, TaskTypePropositional:
		if _, conclusion, ok := strings.Cut(question, "Therefore, "); ok {
			return strings.TrimSpace(conclusion)
		}
		return "valid"
	case TaskTypeAgreement:
		return strings.TrimSpace(question)
	case TaskTypeMovement:
		if strings.Contains(question, "Who") {
			return fmt.Sprintf("The %s %s %s.",
				fillOr(fills, "subj", "person"),
				fillOr(fills, "verb", "acted"),
				fillOr(fills, "obj", "someone"))
		}
		return strings.TrimSpace(question)
	}
	return "unknown"
}

func fillOr(fills map[string]string, slot, fallback string) string {
	if v, ok := fills[slot]; ok {
		return v
	}
	return fallback
}

// SlotFill returns the vocabulary word drawn for a slot when the state was sampled.
func (s LogicState) SlotFill(slot string) (string, bool) {
	v, ok := s.Metadata[metadataSlotPrefix+slot]
	return v, ok
}
