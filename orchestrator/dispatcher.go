package orchestrator

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"
)

var ErrDispatcherStopped = errors.New("dispatcher stopped")

// TaskEngine is the channel pair an Engine exposes.
type TaskEngine interface {
	Job() EngineJobName
	GetInput() chan<- EngineTaskMsg
	GetOutput() <-chan EngineTaskResultMsg
}

// TaskSubmitter runs one task remotely and blocks for its raw result.
type TaskSubmitter interface {
	Submit(ctx context.Context, task string) (string, error)
}

// Dispatcher turns an engine's fire-and-forget channels into request/response calls.
// Results are routed back to the waiting caller by task ID; results whose caller has
// already given up are dropped.
type Dispatcher struct {
	engine TaskEngine
	logger *zerolog.Logger
	wg     sync.WaitGroup
	done   chan struct{}

	mu      sync.Mutex
	waiting map[EngineTaskID]chan string
}

func NewDispatcher(ctx context.Context, engine TaskEngine) *Dispatcher {
	logger := zerolog.Ctx(ctx).With().Str("component", "dispatcher").Str("job", string(engine.Job())).Logger()
	return &Dispatcher{
		engine:  engine,
		logger:  &logger,
		done:    make(chan struct{}),
		waiting: make(map[EngineTaskID]chan string),
	}
}

// Start routes results until ctx is cancelled.
func (d *Dispatcher) Start(ctx context.Context) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer close(d.done)
		output := d.engine.GetOutput()
		for {
			select {
			case <-ctx.Done():
				d.logger.Info().Msg("result router closing")
				return
			case result, ok := <-output:
				if !ok {
					d.logger.Error().Msg("engine output closed")
					return
				}
				d.route(result)
			}
		}
	}()
}

func (d *Dispatcher) WaitForStop() {
	d.wg.Wait()
}

func (d *Dispatcher) route(result EngineTaskResultMsg) {
	d.mu.Lock()
	ch, ok := d.waiting[result.ID]
	delete(d.waiting, result.ID)
	d.mu.Unlock()
	if !ok {
		dispatcherDroppedResults.WithLabelValues(string(d.engine.Job())).Inc()
		d.logger.Debug().Str("task_id", string(result.ID)).Msg("dropping result with no waiting caller")
		return
	}
	// buffered 1, never blocks
	ch <- result.Result
}

func (d *Dispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.waiting)
}

func (d *Dispatcher) Submit(ctx context.Context, task string) (string, error) {
	msg := EngineTaskMsg{ID: NewEngineTaskID(), Task: task}
	ch := make(chan string, 1)
	d.mu.Lock()
	d.waiting[msg.ID] = ch
	d.mu.Unlock()
	forget := func() {
		d.mu.Lock()
		delete(d.waiting, msg.ID)
		d.mu.Unlock()
	}

	select {
	case <-ctx.Done():
		forget()
		return "", ctx.Err()
	case <-d.done:
		forget()
		return "", ErrDispatcherStopped
	case d.engine.GetInput() <- msg:
	}

	select {
	case <-ctx.Done():
		forget()
		return "", ctx.Err()
	case <-d.done:
		forget()
		return "", ErrDispatcherStopped
	case result := <-ch:
		return result, nil
	}
}
