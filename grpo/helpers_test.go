package grpo

import (
	"context"
	"sync"

	"github.com/zaporter/logic-grpo/logic"
)

const fakeTokenLogProb = -0.1

// fakePolicy answers prompts through respond and scores sequences consistently with
// the log-probs it generated, so an untouched policy always yields ratio 1.
type fakePolicy struct {
	mu         sync.Mutex
	tokens     int
	calls      int
	respond    func(call int, prompt string) (string, error)
	scoreShift float64
	scoreErr   error
	updateErr  error
	updates    []UpdateRequest
	prompts    []string
}

func newFakePolicy(tokens int, respond func(call int, prompt string) (string, error)) *fakePolicy {
	return &fakePolicy{tokens: tokens, respond: respond}
}

func (p *fakePolicy) Generate(ctx context.Context, prompt string) (Generation, error) {
	p.mu.Lock()
	call := p.calls
	p.calls++
	p.prompts = append(p.prompts, prompt)
	p.mu.Unlock()

	text, err := p.respond(call, prompt)
	if err != nil {
		return Generation{}, err
	}
	gen := Generation{Text: text}
	for i := 0; i < p.tokens; i++ {
		gen.Tokens = append(gen.Tokens, i+1)
		gen.AttentionMask = append(gen.AttentionMask, 1)
		gen.LogProbs = append(gen.LogProbs, fakeTokenLogProb)
	}
	return gen, nil
}

func (p *fakePolicy) Score(ctx context.Context, tokens []int, attentionMask []int) (float64, error) {
	if p.scoreErr != nil {
		return 0, p.scoreErr
	}
	return float64(len(tokens))*fakeTokenLogProb + p.scoreShift, nil
}

func (p *fakePolicy) Update(ctx context.Context, request UpdateRequest) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.updateErr != nil {
		return p.updateErr
	}
	p.updates = append(p.updates, request)
	return nil
}

func (p *fakePolicy) Updates() []UpdateRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]UpdateRequest{}, p.updates...)
}

func alternating(first, second string) func(int, string) (string, error) {
	return func(call int, _ string) (string, error) {
		if call%2 == 0 {
			return first, nil
		}
		return second, nil
	}
}

func episodeWithReward(t logic.TaskType, reward float64, tokens int) Episode {
	seq := make([]int, tokens)
	mask := make([]int, tokens)
	for i := range mask {
		mask[i] = 1
	}
	return Episode{
		ID:              NewEpisodeID(),
		State:           logic.LogicState{TaskType: t, Difficulty: 1},
		Reward:          reward,
		BehaviorLogProb: float64(tokens) * fakeTokenLogProb,
		TokenSequence:   seq,
		AttentionMask:   mask,
	}
}

func episodesWithRewards(rewards ...float64) []Episode {
	out := make([]Episode, len(rewards))
	for i, r := range rewards {
		out[i] = episodeWithReward(logic.TaskTypeSyllogism, r, 4)
	}
	return out
}
