package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Engine hands tasks to out-of-process workers through three redis lists:
//
//   - {job}:tasks      written by the engine, read by workers with BRPOPLPUSH into {job}:processing
//   - {job}:processing written by workers, drained by the engine to learn when a task was picked up
//   - {job}:results    written by workers (exactly one result per task, errors included), read by the engine
//
// Tasks come in on GetInput and results go out on GetOutput.
// Only one engine may own a job's queues; any number of workers may serve them.
// A task whose worker dies is pushed again after TaskProcessingTimeout, so results can be
// reordered and, rarely, duplicated. Duplicates are dropped here.
//
// The camshaft does not feed new tasks while results are waiting on the output channel.
type Engine struct {
	job    EngineJobName
	rdb    *redis.Client
	logger *zerolog.Logger
	params SchedulingParams

	wg       sync.WaitGroup
	stop     chan struct{}
	stopOnce sync.Once

	// only read by the camshaft
	taskInput chan EngineTaskMsg
	// only written by the crankshaft
	taskOutput chan EngineTaskResultMsg

	mu     sync.Mutex
	queued map[EngineTaskID]queuedTask
	// tasks whose LPUSH failed. Retried first on the next camshaft tick.
	unpushed []EngineTaskMsg
}

type EngineTaskMsg struct {
	ID   EngineTaskID `json:"task_id"`
	Task string       `json:"task"`
}

type EngineTaskResultMsg struct {
	ID     EngineTaskID `json:"task_id"`
	Result string       `json:"result"`
}

type queuedTask struct {
	msg             EngineTaskMsg
	created         time.Time
	processingSince *time.Time
}

type EngineJobName string

const (
	EngineJobNamePolicy EngineJobName = "policy-engine"
	EngineJobNameSyntax EngineJobName = "syntax-engine"
)

type SchedulingParams struct {
	MinTaskQueueSize int
	MaxTaskQueueSize int
	// how long a task may be processing before it is pushed again
	TaskProcessingTimeout time.Duration

	// keep these well below the time a task takes
	CamShaftInterval   time.Duration
	CrankShaftInterval time.Duration
	TimingBeltInterval time.Duration
	OBDInterval        time.Duration

	InputChanSize  int
	OutputChanSize int
}

func DefaultSchedulingParams(processingTimeout time.Duration) SchedulingParams {
	return SchedulingParams{
		MinTaskQueueSize:      32,
		MaxTaskQueueSize:      64,
		TaskProcessingTimeout: processingTimeout,
		CamShaftInterval:      250 * time.Millisecond,
		CrankShaftInterval:    250 * time.Millisecond,
		TimingBeltInterval:    500 * time.Millisecond,
		OBDInterval:           30 * time.Second,
		InputChanSize:         64,
		OutputChanSize:        64,
	}
}

func NewEngine(ctx context.Context, job EngineJobName, rdb *redis.Client, params SchedulingParams) *Engine {
	logger := zerolog.Ctx(ctx).With().Str("job", string(job)).Logger()
	return &Engine{
		job:        job,
		rdb:        rdb,
		logger:     &logger,
		params:     params,
		stop:       make(chan struct{}),
		taskInput:  make(chan EngineTaskMsg, params.InputChanSize),
		taskOutput: make(chan EngineTaskResultMsg, params.OutputChanSize),
		queued:     make(map[EngineTaskID]queuedTask),
	}
}

func (e *Engine) Job() EngineJobName {
	return e.job
}

// Start clears the job's queues and launches the four loops.
func (e *Engine) Start(ctx context.Context) error {
	e.logger.Debug().Msg("starting engine")
	if err := e.rdb.Del(ctx, e.TasksQueueName(), e.ProcessingQueueName(), e.ResultsQueueName()).Err(); err != nil {
		return fmt.Errorf("clearing %s queues: %w", e.job, err)
	}
	e.wg.Add(4)
	go e.runLoop("camshaft", e.params.CamShaftInterval, e.camshaft)
	go e.runLoop("crankshaft", e.params.CrankShaftInterval, e.crankshaft)
	go e.runLoop("timing belt", e.params.TimingBeltInterval, e.timingBelt)
	go e.runLoop("obd", e.params.OBDInterval, e.obd)
	return nil
}

func (e *Engine) TriggerStop() {
	e.stopOnce.Do(func() { close(e.stop) })
}

func (e *Engine) WaitForStop() {
	e.logger.Info().Msg("waiting for engine to stop")
	e.wg.Wait()
}

func (e *Engine) TasksQueueName() string {
	return fmt.Sprintf("%s:tasks", e.job)
}

func (e *Engine) ProcessingQueueName() string {
	return fmt.Sprintf("%s:processing", e.job)
}

func (e *Engine) ResultsQueueName() string {
	return fmt.Sprintf("%s:results", e.job)
}

func (e *Engine) GetInput() chan<- EngineTaskMsg {
	return e.taskInput
}

func (e *Engine) GetOutput() <-chan EngineTaskResultMsg {
	return e.taskOutput
}

// runLoop calls tick every interval until the engine stops or tick returns false.
// The ctx handed to tick is cancelled on stop so blocking redis calls return promptly.
func (e *Engine) runLoop(component string, interval time.Duration, tick func(context.Context, *zerolog.Logger) bool) {
	defer e.wg.Done()
	logger := e.logger.With().Str("component", component).Logger()
	ctx, cancel := context.WithCancel(logger.WithContext(context.Background()))
	defer cancel()
	go func() {
		select {
		case <-e.stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-e.stop:
			logger.Debug().Msg("stopping")
			return
		case <-ticker.C:
		}
		if !tick(ctx, &logger) {
			logger.Debug().Msg("stopping mid-tick")
			return
		}
	}
}

// camshaft: requeue overdue tasks, then top the tasks queue up from the input channel.
func (e *Engine) camshaft(ctx context.Context, logger *zerolog.Logger) bool {
	e.requeueOverdue(ctx, logger, time.Now())

	size, err := e.rdb.LLen(ctx, e.TasksQueueName()).Result()
	if err != nil {
		logger.Error().Err(err).Msg("reading tasks queue length")
		return true
	}
	if size > int64(e.params.MinTaskQueueSize) {
		return true
	}
	if len(e.taskOutput) > 0 {
		engineBackpressure.WithLabelValues(string(e.job)).Inc()
		return true
	}

	e.mu.Lock()
	tasks := e.unpushed
	e.unpushed = nil
	e.mu.Unlock()

	want := e.params.MaxTaskQueueSize - int(size)
	for len(tasks) < want {
		select {
		case <-e.stop:
			e.mu.Lock()
			e.unpushed = append(e.unpushed, tasks...)
			e.mu.Unlock()
			return false
		case task := <-e.taskInput:
			if task.ID == "" {
				task.ID = NewEngineTaskID()
			}
			tasks = append(tasks, task)
			continue
		default:
		}
		break
	}
	if len(tasks) == 0 {
		return true
	}

	now := time.Now()
	e.mu.Lock()
	for _, task := range tasks {
		if _, ok := e.queued[task.ID]; !ok {
			e.queued[task.ID] = queuedTask{msg: task, created: now}
		}
	}
	e.mu.Unlock()

	pushed := 0
	for i, task := range tasks {
		if err := e.rdb.LPush(ctx, e.TasksQueueName(), task.toJSON()).Err(); err != nil {
			logger.Error().Err(err).Int("remaining", len(tasks)-i).Msg("pushing tasks, will retry")
			e.mu.Lock()
			e.unpushed = append(e.unpushed, tasks[i:]...)
			e.mu.Unlock()
			break
		}
		pushed++
	}
	engineTasksSubmitted.WithLabelValues(string(e.job)).Add(float64(pushed))
	logger.Debug().Int("pushed", pushed).Int64("queue_size", size+int64(pushed)).Msg("fed tasks queue")
	return true
}

func (e *Engine) requeueOverdue(ctx context.Context, logger *zerolog.Logger, now time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	requeued := 0
	for _, id := range overdueTasks(e.queued, now, e.params.TaskProcessingTimeout) {
		task := e.queued[id]
		if err := e.rdb.LPush(ctx, e.TasksQueueName(), task.msg.toJSON()).Err(); err != nil {
			logger.Error().Err(err).Str("task_id", string(id)).Msg("requeueing timed out task")
			continue
		}
		task.processingSince = nil
		e.queued[id] = task
		requeued++
	}
	if requeued > 0 {
		engineTasksRequeued.WithLabelValues(string(e.job)).Add(float64(requeued))
		logger.Warn().Int("requeued", requeued).Msg("requeued timed out tasks")
	}
}

// overdueTasks lists tasks that have been processing for longer than timeout, oldest first.
func overdueTasks(queued map[EngineTaskID]queuedTask, now time.Time, timeout time.Duration) []EngineTaskID {
	var overdue []EngineTaskID
	for id, task := range queued {
		if task.processingSince != nil && now.Sub(*task.processingSince) > timeout {
			overdue = append(overdue, id)
		}
	}
	slices.SortFunc(overdue, func(a, b EngineTaskID) int {
		return queued[a].processingSince.Compare(*queued[b].processingSince)
	})
	return overdue
}

// crankshaft: results queue -> output channel.
func (e *Engine) crankshaft(ctx context.Context, logger *zerolog.Logger) bool {
	size, err := e.rdb.LLen(ctx, e.ResultsQueueName()).Result()
	if err != nil {
		logger.Error().Err(err).Msg("reading results queue length")
		return true
	}
	if size == 0 {
		return true
	}
	results := make([]EngineTaskResultMsg, 0, size)
	for range size {
		raw, err := e.rdb.RPop(ctx, e.ResultsQueueName()).Result()
		if err != nil {
			if !errors.Is(err, redis.Nil) {
				logger.Error().Err(err).Msg("popping result")
			}
			break
		}
		msg, err := engineTaskResultMsgFromJSON(raw)
		if err != nil {
			logger.Error().Err(err).Msg("dropping malformed result")
			continue
		}
		results = append(results, msg)
	}

	now := time.Now()
	toSend := make([]EngineTaskResultMsg, 0, len(results))
	e.mu.Lock()
	for _, result := range results {
		task, ok := e.queued[result.ID]
		if !ok {
			logger.Warn().Str("task_id", string(result.ID)).Msg("dropping result for unknown or already finished task")
			continue
		}
		if task.processingSince != nil {
			engineProcessing.WithLabelValues(string(e.job)).Observe(now.Sub(*task.processingSince).Seconds())
		}
		delete(e.queued, result.ID)
		toSend = append(toSend, result)
	}
	e.mu.Unlock()
	engineTasksFinished.WithLabelValues(string(e.job)).Add(float64(len(toSend)))

	for _, result := range toSend {
		select {
		case <-e.stop:
			logger.Warn().Msg("stopping before all results were delivered")
			return false
		case e.taskOutput <- result:
		}
	}
	return true
}

// timingBelt: processing queue -> processingSince, which is what the camshaft's requeue reads.
func (e *Engine) timingBelt(ctx context.Context, logger *zerolog.Logger) bool {
	start := time.Now()
	size, err := e.rdb.LLen(ctx, e.ProcessingQueueName()).Result()
	if err != nil {
		logger.Error().Err(err).Msg("reading processing queue length")
		return true
	}
	if size == 0 {
		return true
	}
	picked := make([]EngineTaskMsg, 0, size)
	for range size {
		raw, err := e.rdb.RPop(ctx, e.ProcessingQueueName()).Result()
		if err != nil {
			if !errors.Is(err, redis.Nil) {
				logger.Error().Err(err).Msg("popping processing message")
			}
			break
		}
		msg, err := engineTaskMsgFromJSON(raw)
		if err != nil {
			logger.Error().Err(err).Msg("dropping malformed processing message")
			continue
		}
		picked = append(picked, msg)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for _, msg := range picked {
		task, ok := e.queued[msg.ID]
		if !ok {
			// result already read
			continue
		}
		engineQueueWait.WithLabelValues(string(e.job)).Observe(start.Sub(task.created).Seconds())
		task.processingSince = &start
		e.queued[msg.ID] = task
	}
	return true
}

// obd logs queue health.
func (e *Engine) obd(ctx context.Context, logger *zerolog.Logger) bool {
	now := time.Now()
	e.mu.Lock()
	inFlight := len(e.queued)
	processing := 0
	var oldest time.Duration
	for _, task := range e.queued {
		if task.processingSince != nil {
			processing++
		}
		oldest = max(oldest, now.Sub(task.created))
	}
	unpushed := len(e.unpushed)
	e.mu.Unlock()
	engineInFlight.WithLabelValues(string(e.job)).Set(float64(inFlight))

	pending, err := e.rdb.LLen(ctx, e.TasksQueueName()).Result()
	if err != nil {
		logger.Error().Err(err).Msg("reading tasks queue length")
	}
	logger.Debug().
		Int("in_flight", inFlight).
		Int("processing", processing).
		Int("unpushed", unpushed).
		Int64("tasks_queue", pending).
		Int("output_backlog", len(e.taskOutput)).
		Dur("oldest", oldest).
		Msg("engine stats")
	return true
}

func (t EngineTaskMsg) toJSON() string {
	msg, err := json.Marshal(t)
	if err != nil {
		panic(err)
	}
	return string(msg)
}

func engineTaskMsgFromJSON(input string) (EngineTaskMsg, error) {
	var msg EngineTaskMsg
	if err := json.Unmarshal([]byte(input), &msg); err != nil {
		return EngineTaskMsg{}, err
	}
	if !IsValidEngineTaskID(msg.ID) {
		return EngineTaskMsg{}, fmt.Errorf("invalid engine task id: %q", msg.ID)
	}
	return msg, nil
}

func engineTaskResultMsgFromJSON(input string) (EngineTaskResultMsg, error) {
	var msg EngineTaskResultMsg
	if err := json.Unmarshal([]byte(input), &msg); err != nil {
		return EngineTaskResultMsg{}, err
	}
	if !IsValidEngineTaskID(msg.ID) {
		return EngineTaskResultMsg{}, fmt.Errorf("invalid engine task id: %q", msg.ID)
	}
	return msg, nil
}
