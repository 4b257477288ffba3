package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/zaporter/logic-grpo/logic"
)

const DefaultSyntaxTimeout = 10 * time.Second

// RemoteSyntaxValidator asks the grammar engine workers whether a sentence is well formed.
// The first answer for a sentence is final for the life of the validator so the verifier stays
// deterministic. When the engine errors or times out the reference validator answers instead,
// and that answer is memoised like a remote one.
type RemoteSyntaxValidator struct {
	ctx       context.Context
	submitter TaskSubmitter
	timeout   time.Duration
	fallback  logic.SyntaxValidator

	mu   sync.Mutex
	memo map[string]bool
}

func NewRemoteSyntaxValidator(ctx context.Context, submitter TaskSubmitter, timeout time.Duration) *RemoteSyntaxValidator {
	if timeout <= 0 {
		timeout = DefaultSyntaxTimeout
	}
	return &RemoteSyntaxValidator{
		ctx:       ctx,
		submitter: submitter,
		timeout:   timeout,
		fallback:  logic.NewReferenceValidator(),
		memo:      make(map[string]bool),
	}
}

func (v *RemoteSyntaxValidator) IsWellFormed(sentence string) bool {
	v.mu.Lock()
	known, ok := v.memo[sentence]
	v.mu.Unlock()
	if ok {
		syntaxCacheHits.Inc()
		return known
	}

	logger := zerolog.Ctx(v.ctx)
	ctx, cancel := context.WithTimeout(v.ctx, v.timeout)
	defer cancel()
	raw, err := v.submitter.Submit(ctx, SyntaxTask{Sentence: sentence}.ToJSON())
	var resp SyntaxTaskResponse
	if err == nil {
		resp, err = SyntaxTaskResponseFromJSON(raw)
	}
	if err != nil {
		logger.Warn().Err(err).Str("component", "syntax").Msg("grammar engine unavailable, using reference validator")
		syntaxFallbacks.Inc()
		return v.remember(sentence, v.fallback.IsWellFormed(sentence))
	}
	return v.remember(sentence, resp.WellFormed)
}

// remember keeps the first answer stored for sentence, even when a concurrent call raced it.
func (v *RemoteSyntaxValidator) remember(sentence string, wellFormed bool) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	if known, ok := v.memo[sentence]; ok {
		return known
	}
	v.memo[sentence] = wellFormed
	return wellFormed
}

func (v *RemoteSyntaxValidator) Len() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.memo)
}
