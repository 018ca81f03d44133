// Copyright (c) esat-tools 2025. All rights reserved.
// SPDX-License-Identifier: MIT

package batchrun

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"

	"github.com/esat-tools/sabatch/internal/ctxlog"
	"github.com/esat-tools/sabatch/internal/engine"
	"github.com/esat-tools/sabatch/internal/progress"
)

var (
	// ErrAlreadyRunning is returned by Submit when a batch is already in
	// flight for the same dataset.
	ErrAlreadyRunning = errors.New("a batch is already running for this dataset")
	// ErrBatchErrored is returned by Handle.Result when every model failed.
	ErrBatchErrored = errors.New("batch errored")
	// ErrCanceled is returned by Handle.Result when the batch was canceled.
	ErrCanceled = errors.New("batch canceled")
	// ErrStillRunning is returned by Handle.Result before the batch reaches
	// a terminal state.
	ErrStillRunning = errors.New("batch has not finished")
	// ErrCancellationTimeout is logged when workers do not wind down within
	// the grace period and termination is forced.
	ErrCancellationTimeout = errors.New("cancellation grace period elapsed")
)

// DefaultCancelGrace is how long Cancel waits for workers to wind down
// before escalating.
const DefaultCancelGrace = 5 * time.Second

// DatasetProvider supplies the concentration and uncertainty matrices for a
// dataset ID. Submit consults it before launching anything so a missing
// dataset is a synchronous rejection, not a batch of failed workers.
type DatasetProvider interface {
	Matrices(datasetID string) (v, u [][]float64, err error)
}

// Listener receives events for one batch. Nil fields are skipped. OnProgress
// runs on the relay goroutine, so per-model envelope ordering is preserved;
// terminal callbacks fire at most once each, and exactly one of them fires
// per accepted submission.
type Listener struct {
	OnProgress func(e progress.Envelope)
	OnFinished func(datasetID string)
	OnCanceled func()
	OnErrored  func(datasetID string, err error)
}

// CoordinatorOption customizes a Coordinator.
type CoordinatorOption func(*Coordinator)

// WithCancelGrace overrides the cancellation grace period.
func WithCancelGrace(d time.Duration) CoordinatorOption {
	return func(c *Coordinator) {
		c.grace = d
	}
}

// WithQueueBuffer overrides the envelope queue depth for new batches.
func WithQueueBuffer(n int) CoordinatorOption {
	return func(c *Coordinator) {
		c.queueBuffer = n
	}
}

// Coordinator accepts batch submissions, enforces at most one in-flight
// batch per dataset, and owns the results cache the finished batches land
// in. Batches for distinct datasets run concurrently.
type Coordinator struct {
	engine      engine.Engine
	datasets    DatasetProvider
	cache       *Cache
	grace       time.Duration
	queueBuffer int

	mu     sync.Mutex
	active map[string]*Handle
}

// NewCoordinator creates a coordinator running fits on the given engine. A
// nil cache gets a fresh one.
func NewCoordinator(eng engine.Engine, datasets DatasetProvider, cache *Cache, opts ...CoordinatorOption) *Coordinator {
	if cache == nil {
		cache = NewCache()
	}

	c := &Coordinator{
		engine:   eng,
		datasets: datasets,
		cache:    cache,
		grace:    DefaultCancelGrace,
		active:   make(map[string]*Handle),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Cache returns the coordinator's results cache.
func (c *Coordinator) Cache() *Cache {
	return c.cache
}

// Result returns the latest completed result for the dataset.
func (c *Coordinator) Result(datasetID string) (*Result, error) {
	return c.cache.Get(datasetID)
}

// Batch returns the in-flight handle for the dataset, if any.
func (c *Coordinator) Batch(datasetID string) (*Handle, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	h, ok := c.active[datasetID]

	return h, ok
}

// Submit validates the configuration, resolves the batch seed, and launches
// one worker per model slot. It returns as soon as the workers are
// dispatched; completion is observed through the handle.
//
// Canceling ctx cancels the batch. Rejections leave no trace: no workers
// start, no events fire, and the dataset stays available for resubmission.
func (c *Coordinator) Submit(ctx context.Context, cfg RunConfig) (*Handle, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	v, u, err := c.datasets.Matrices(cfg.DatasetID)
	if err != nil {
		return nil, fmt.Errorf("%w: dataset %q: %w", ErrInvalidConfiguration, cfg.DatasetID, err)
	}

	cfg.Seed = cfg.resolveSeed()

	h := &Handle{
		id:       uuid.NewString(),
		cfg:      cfg,
		coord:    c,
		started:  time.Now(),
		state:    StateCreated,
		statuses: make(map[int]*ModelStatus, cfg.Models),
		failures: make(map[int]string),
		done:     make(chan struct{}),
	}

	for i := 1; i <= cfg.Models; i++ {
		h.statuses[i] = &ModelStatus{
			ModelIndex:    i,
			State:         ModelPending,
			MaxIterations: cfg.MaxIterations,
		}
	}

	c.mu.Lock()

	if _, ok := c.active[cfg.DatasetID]; ok {
		c.mu.Unlock()

		return nil, fmt.Errorf("%w: %s", ErrAlreadyRunning, cfg.DatasetID)
	}

	c.active[cfg.DatasetID] = h
	c.mu.Unlock()

	ctxlog.Info(ctx, "batch accepted",
		"batchId", h.id,
		"dataset", cfg.DatasetID,
		"models", cfg.Models,
		"factors", cfg.Factors,
		"method", cfg.Method,
		"seed", cfg.Seed)

	h.launch(ctx, v, u)

	return h, nil
}

func (c *Coordinator) unregister(datasetID string, h *Handle) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.active[datasetID] == h {
		delete(c.active, datasetID)
	}
}

// Handle is the caller's view of one accepted batch: state, per-model
// statuses, events, cancellation, and the final result.
type Handle struct {
	id      string
	cfg     RunConfig
	coord   *Coordinator
	started time.Time

	cancel context.CancelFunc
	queue  *progress.Queue
	relay  *progress.Relay
	done   chan struct{}

	mu        sync.Mutex
	state     BatchState
	statuses  map[int]*ModelStatus
	listeners []*Listener
	models    []*engine.FittedModel
	failures  map[int]string
	canceled  bool
	result    *Result
	err       error
}

// ID returns the batch run ID.
func (h *Handle) ID() string {
	return h.id
}

// DatasetID returns the dataset this batch fits.
func (h *Handle) DatasetID() string {
	return h.cfg.DatasetID
}

// Config returns the submitted configuration with the seed resolved.
func (h *Handle) Config() RunConfig {
	return h.cfg
}

// State returns the current batch state.
func (h *Handle) State() BatchState {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.state
}

// Statuses returns a snapshot of every model slot, ordered by model index.
func (h *Handle) Statuses() []ModelStatus {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]ModelStatus, 0, len(h.statuses))
	for _, st := range h.statuses {
		out = append(out, *st)
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].ModelIndex < out[j].ModelIndex
	})

	return out
}

// Done is closed once the batch reaches a terminal state and all events have
// fired.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Result returns the batch result once the batch finished. It returns
// ErrStillRunning before a terminal state, ErrCanceled after cancellation,
// and the aggregated failure after an errored batch.
func (h *Handle) Result() (*Result, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	switch h.state {
	case StateFinished:
		return h.result, nil
	case StateCanceled:
		return nil, ErrCanceled
	case StateErrored:
		return nil, h.err
	default:
		return nil, ErrStillRunning
	}
}

// Subscribe registers a listener for this batch. It reports false when the
// batch is already terminal, in which case no callbacks will ever fire;
// listeners are torn down automatically at the terminal transition.
func (h *Handle) Subscribe(l *Listener) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.state.Terminal() {
		return false
	}

	h.listeners = append(h.listeners, l)

	return true
}

// Cancel stops the batch: worker contexts are canceled, which interrupts
// each in-flight solver and force-kills it after its own grace period.
// Cancel is idempotent; repeat calls wait for the same teardown and no
// duplicate canceled event fires.
//
// When the batch does not wind down within the coordinator's grace period,
// the escalation is logged and Cancel keeps waiting, bounded by ctx. An
// already-terminal batch is a no-op.
func (h *Handle) Cancel(ctx context.Context) error {
	h.mu.Lock()

	if h.state.Terminal() {
		h.mu.Unlock()

		return nil
	}

	h.canceled = true
	h.mu.Unlock()

	h.cancel()

	timer := time.NewTimer(h.coord.grace)
	defer timer.Stop()

	select {
	case <-h.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		ctxlog.Warn(ctx, "forcing batch termination",
			"batchId", h.id,
			"dataset", h.cfg.DatasetID,
			"error", ErrCancellationTimeout)
		h.queue.Close()
	}

	select {
	case <-h.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// launch transitions the batch through Launching into Running: it wires the
// queue and relay, dispatches one worker goroutine per slot, and starts the
// supervisor that drives the terminal transition.
func (h *Handle) launch(ctx context.Context, v, u [][]float64) {
	bctx, cancel := context.WithCancel(ctx)
	h.cancel = cancel

	h.queue = progress.NewQueue(bctx, h.coord.queueBuffer)
	h.relay = progress.NewRelay(h.queue)
	h.relay.Start(bctx, progress.SubscriberFunc(h.onEnvelope))

	h.setState(StateLaunching)

	var wg sync.WaitGroup

	for i := 1; i <= h.cfg.Models; i++ {
		job := engine.Job{
			ModelIndex:    i,
			V:             v,
			U:             u,
			Factors:       h.cfg.Factors,
			Method:        string(h.cfg.Method),
			Seed:          modelSeed(h.cfg.Seed, i),
			MaxIterations: h.cfg.MaxIterations,
			InitMethod:    h.cfg.InitMethod,
			InitNorm:      h.cfg.InitNorm,
			ConvergeDelta: h.cfg.ConvergeDelta,
			ConvergeN:     h.cfg.ConvergeN,
		}

		wg.Add(1)

		go func() {
			defer wg.Done()

			h.runSlot(bctx, job)
		}()
	}

	h.setState(StateRunning)

	// Supervisor: the sentinel goes in only after every worker has
	// returned, and the terminal transition only after the relay has
	// drained everything before the sentinel.
	go func() {
		wg.Wait()
		h.queue.Finish()
		<-h.relay.Done()
		h.finalize(ctx)
		cancel()
	}()
}

func (h *Handle) setState(s BatchState) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.state = s
}

// runSlot runs one worker to completion and records the outcome on the slot.
// Worker errors terminate the slot, never the batch.
func (h *Handle) runSlot(ctx context.Context, job engine.Job) {
	h.markRunning(job.ModelIndex)

	w := &fitWorker{
		job:      job,
		engine:   h.coord.engine,
		reporter: h.queue,
	}

	model, err := w.run(ctx)

	h.mu.Lock()
	defer h.mu.Unlock()

	st := h.statuses[job.ModelIndex]

	if err != nil {
		if h.canceled || ctx.Err() != nil {
			st.State = ModelCanceled
			st.Err = err

			return
		}

		st.State = ModelFailed
		st.Err = err
		h.failures[job.ModelIndex] = err.Error()

		return
	}

	h.models = append(h.models, model)
	st.State = ModelCompleted
	st.Iteration = model.Iterations
	st.LossTrue = model.LossTrue
	st.LossRobust = model.LossRobust
	st.MSE = model.MSE
	st.Converged = model.Converged
}

func (h *Handle) markRunning(modelIndex int) {
	h.mu.Lock()
	defer h.mu.Unlock()

	st := h.statuses[modelIndex]
	if st.State == ModelPending {
		st.State = ModelRunning
	}
}

// onEnvelope is the relay subscriber: per-model bookkeeping, then fan-out.
// It runs on the relay goroutine, so subscribers observe the same per-model
// ordering the workers produced.
func (h *Handle) onEnvelope(e progress.Envelope) {
	h.mu.Lock()

	if st, ok := h.statuses[e.ModelIndex]; ok {
		st.Iteration = e.Iteration
		st.MaxIterations = e.MaxIterations
		st.LossTrue = e.LossTrue
		st.LossRobust = e.LossRobust
		st.MSE = e.MSE

		switch {
		case e.Completed:
			st.State = ModelCompleted
			st.Converged = e.Converged()
		case st.State == ModelPending:
			st.State = ModelRunning
		}
	}

	listeners := h.listeners
	h.mu.Unlock()

	for _, l := range listeners {
		if l.OnProgress != nil {
			l.OnProgress(e)
		}
	}
}

// finalize performs the single terminal transition: it decides the terminal
// state, assembles and caches the result, releases the dataset for new
// submissions, fires the terminal event, and closes Done. Runs exactly once,
// on the supervisor goroutine.
func (h *Handle) finalize(ctx context.Context) {
	h.mu.Lock()

	finished := time.Now()

	var state BatchState

	// Parent context cancellation (a signal, say) counts as cancellation
	// even when nobody called Cancel.
	switch {
	case h.canceled || ctx.Err() != nil:
		state = StateCanceled

		for _, st := range h.statuses {
			if !st.State.terminal() {
				st.State = ModelCanceled
			}
		}
	case len(h.models) == 0:
		state = StateErrored

		var agg *multierror.Error

		for _, idx := range sortedKeys(h.failures) {
			agg = multierror.Append(agg, fmt.Errorf("model %d: %s", idx, h.failures[idx]))
		}

		h.err = ErrBatchErrored
		if aggErr := agg.ErrorOrNil(); aggErr != nil {
			h.err = fmt.Errorf("%w: %w", ErrBatchErrored, aggErr)
		}
	default:
		state = StateFinished

		models := make([]*engine.FittedModel, len(h.models))
		copy(models, h.models)
		sort.Slice(models, func(i, j int) bool {
			return models[i].ModelIndex < models[j].ModelIndex
		})

		h.result = &Result{
			ID:        h.id,
			DatasetID: h.cfg.DatasetID,
			Config:    h.cfg,
			Models:    models,
			Failures:  h.failures,
			BestModel: bestModelIndex(models),
			Started:   h.started,
			Finished:  finished,
		}
	}

	h.state = state
	listeners := h.listeners
	h.listeners = nil
	result := h.result
	err := h.err
	h.mu.Unlock()

	// Store before firing so a finished listener can read the cache.
	if result != nil {
		h.coord.cache.Put(result)
	}

	h.coord.unregister(h.cfg.DatasetID, h)

	for _, l := range listeners {
		switch state {
		case StateFinished:
			if l.OnFinished != nil {
				l.OnFinished(h.cfg.DatasetID)
			}
		case StateCanceled:
			if l.OnCanceled != nil {
				l.OnCanceled()
			}
		case StateErrored:
			if l.OnErrored != nil {
				l.OnErrored(h.cfg.DatasetID, err)
			}
		}
	}

	ctxlog.Info(ctx, "batch terminal",
		"batchId", h.id,
		"dataset", h.cfg.DatasetID,
		"state", state.String(),
		"models", len(h.statuses),
		"failures", len(h.failures),
		"duration", finished.Sub(h.started).String())

	close(h.done)
}

func sortedKeys(m map[int]string) []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}

	sort.Ints(keys)

	return keys
}
