package orchestrator

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

type submitterFunc func(ctx context.Context, task string) (string, error)

func (f submitterFunc) Submit(ctx context.Context, task string) (string, error) {
	return f(ctx, task)
}

func mustJSON(v any) string {
	out, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return string(out)
}

// fakeEngine echoes every task back through a worker func on its own goroutine.
type fakeEngine struct {
	input  chan EngineTaskMsg
	output chan EngineTaskResultMsg
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		input:  make(chan EngineTaskMsg, 16),
		output: make(chan EngineTaskResultMsg, 16),
	}
}

func (e *fakeEngine) Job() EngineJobName                    { return "fake-engine" }
func (e *fakeEngine) GetInput() chan<- EngineTaskMsg        { return e.input }
func (e *fakeEngine) GetOutput() <-chan EngineTaskResultMsg { return e.output }

// fakeBus plays the trainer worker. With autoTrain set, disabling inference makes the worker
// request every advertised group and re-enable inference once all of them were sent.
type fakeBus struct {
	mu         sync.Mutex
	autoTrain  bool
	advertised []string
	requests   []string
	sent       []string
	enabled    bool
	resets     int
	toggles    []bool
}

func (b *fakeBus) Advertise(ctx context.Context, groupID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.advertised = append(b.advertised, groupID)
	return nil
}

func (b *fakeBus) NextRequest(ctx context.Context) (string, error) {
	b.mu.Lock()
	if len(b.requests) > 0 {
		next := b.requests[0]
		b.requests = b.requests[1:]
		b.mu.Unlock()
		return next, nil
	}
	if b.autoTrain && !b.enabled && len(b.sent) >= len(b.advertised) {
		b.enabled = true
	}
	b.mu.Unlock()
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-time.After(time.Millisecond):
		return "", ErrNoTrainingRequest
	}
}

func (b *fakeBus) SendGroup(ctx context.Context, payload string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sent = append(b.sent, payload)
	return nil
}

func (b *fakeBus) SetInferenceEnabled(ctx context.Context, enabled bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.enabled = enabled
	b.toggles = append(b.toggles, enabled)
	if !enabled && b.autoTrain {
		b.requests = append(b.requests, b.advertised...)
	}
	return nil
}

func (b *fakeBus) InferenceEnabled(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.enabled, nil
}

func (b *fakeBus) Reset(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.resets++
	return nil
}

func (b *fakeBus) sentGroups() []TrainingDataGroup {
	b.mu.Lock()
	defer b.mu.Unlock()
	groups := make([]TrainingDataGroup, len(b.sent))
	for i, payload := range b.sent {
		if err := json.Unmarshal([]byte(payload), &groups[i]); err != nil {
			panic(err)
		}
	}
	return groups
}
