// Package scheduler implements the Batched Inference Scheduler: bounded
// per-priority queues, a CRITICAL short-circuit bypass, and a batch-formation
// loop that groups requests by model and dispatches them against the runtime
// subject to thermal and model-availability constraints.
//
// Grounded on the teacher's internal/infra/scheduler.Scheduler (per-priority
// queue classes, back-pressure-style full-queue rejection, lock discipline
// around a small fixed array of queues) restructured from work-stealing
// deques into spec.md's N bounded FIFOs plus a single batch-formation
// goroutine, and internal/infra/engine.Pool's handle-with-Release pattern,
// adapted here into a one-shot completion handle delivered over a channel.
package scheduler

import (
	"container/list"
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/tutu-network/tutu/internal/domain"
	"github.com/tutu-network/tutu/internal/events"
	"github.com/tutu-network/tutu/internal/infra/metrics"
)

// ModelProvider is the narrow slice of the Model Manager the scheduler
// depends on: resolving a task to a model and ensuring it is loaded.
type ModelProvider interface {
	Resolve(ctx context.Context, taskDescription string, contextLength int) (string, bool)
	Load(ctx context.Context, name string) bool
	Get(name string) (domain.LoadedModel, bool)
	ConfigFor(name string) (domain.ModelConfig, bool)
}

// ThermalProvider is the narrow slice of the Thermal Guard the scheduler
// depends on: the current batching recommendation.
type ThermalProvider interface {
	Recommendation() domain.Recommendation
}

// Config configures the scheduler's queues and batch-formation timing.
type Config struct {
	QueueCapacityTotal int           // global bound split evenly across priority levels, default 4000
	BatchWaitTimeout   time.Duration // max wait per batch-formation pass, default 100ms
	CompletionTimeout  time.Duration // default await timeout for a submitted handle, default 30s
}

func (c Config) withDefaults() Config {
	if c.QueueCapacityTotal <= 0 {
		c.QueueCapacityTotal = 4000
	}
	if c.BatchWaitTimeout <= 0 {
		c.BatchWaitTimeout = 100 * time.Millisecond
	}
	if c.CompletionTimeout <= 0 {
		c.CompletionTimeout = 30 * time.Second
	}
	return c
}

// queuedRequest pairs a Request with its completion handle and cancellation
// state.
type queuedRequest struct {
	req       domain.Request
	handle    *Handle
	cancelled atomic.Bool
}

// Handle is returned by Submit and may be awaited for the Response.
type Handle struct {
	done        chan domain.Response
	once        sync.Once
	reqID       string
	enqueueTime time.Time
	onTimeout   func()
}

func newHandle() *Handle {
	return &Handle{done: make(chan domain.Response, 1)}
}

func (h *Handle) complete(resp domain.Response) {
	h.once.Do(func() { h.done <- resp })
}

// Await blocks until the request completes or ctx is cancelled, whichever
// comes first. On caller cancellation it sets cancelled, when non-nil; the
// handle holds no reference to its queued request, so the scheduler still
// dispatches that request and its Response goes unread. On timeout it still
// returns a populated Response carrying ErrorKind TIMEOUT, satisfying the
// invariant that every failed request yields a Response with a populated
// error kind.
func (h *Handle) Await(ctx context.Context, cancelled *atomic.Bool) (domain.Response, error) {
	select {
	case resp := <-h.done:
		return resp, nil
	case <-ctx.Done():
		if cancelled != nil {
			cancelled.Store(true)
		}
		if h.onTimeout != nil {
			h.onTimeout()
		}
		return domain.Response{
			RequestID:    h.reqID,
			ErrorKind:    domain.ErrTimeout,
			ErrorMessage: "caller-side wait exceeded the request timeout",
			QueueTime:    time.Since(h.enqueueTime),
			TotalTime:    time.Since(h.enqueueTime),
		}, ctx.Err()
	}
}

// Scheduler accepts requests, forms priority- and thermal-aware batches, and
// invokes the runtime through the Model Manager's loaded handles.
type Scheduler struct {
	cfg      Config
	models   ModelProvider
	thermal  ThermalProvider
	runtime  domain.Runtime
	perQueue int

	mu      sync.Mutex
	queues  map[domain.Priority]*list.List
	closed  bool
	stopCh  chan struct{}
	doneCh  chan struct{}
	started bool
	pub     atomic.Value // events.Publisher

	// stats
	totalRequests atomic.Int64
	totalBatches  atomic.Int64
	failed        atomic.Int64
	timedOut      atomic.Int64
	byPriority    sync.Map // domain.Priority -> *atomic.Int64
	batchSizeSum  atomic.Int64
	batchSizeN    atomic.Int64
	procTimeSumMs atomic.Int64
	procTimeN     atomic.Int64
	inFlight      atomic.Int64
}

// New builds a Scheduler with one bounded FIFO per priority level, the
// global capacity split evenly across levels.
func New(cfg Config, models ModelProvider, thermal ThermalProvider, rt domain.Runtime) *Scheduler {
	cfg = cfg.withDefaults()
	perQueue := cfg.QueueCapacityTotal / len(domain.Priorities)
	if perQueue < 1 {
		perQueue = 1
	}
	queues := make(map[domain.Priority]*list.List, len(domain.Priorities))
	for _, p := range domain.Priorities {
		queues[p] = list.New()
	}
	s := &Scheduler{
		cfg:      cfg,
		models:   models,
		thermal:  thermal,
		runtime:  rt,
		perQueue: perQueue,
		queues:   queues,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
	s.pub.Store(events.Publisher(events.NoopPublisher{}))
	return s
}

// SetPublisher attaches an optional outbound event publisher for
// batch-dispatch notifications. nil restores the no-op default.
func (s *Scheduler) SetPublisher(pub events.Publisher) {
	if pub == nil {
		pub = events.NoopPublisher{}
	}
	s.pub.Store(pub)
}

func (s *Scheduler) publisher() events.Publisher {
	return s.pub.Load().(events.Publisher)
}

// Start launches the batch-formation loop. Idempotent.
func (s *Scheduler) Start() {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.mu.Unlock()

	go s.formationLoop()
}

// Stop closes new submissions, drains formed batches, then fails any
// still-pending request with SHUTTING_DOWN. Blocks until the formation loop
// has exited (bounded by a 5s grace period, after which it force-returns).
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	started := s.started
	s.closed = true
	s.mu.Unlock()

	close(s.stopCh)
	if started {
		select {
		case <-s.doneCh:
		case <-time.After(5 * time.Second):
			log.Printf("scheduler: Stop() timed out waiting for formation loop to exit")
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range domain.Priorities {
		q := s.queues[p]
		for e := q.Front(); e != nil; e = e.Next() {
			qr := e.Value.(*queuedRequest)
			qr.handle.complete(domain.Response{
				RequestID:    qr.req.ID,
				ErrorKind:    domain.ErrShuttingDown,
				ErrorMessage: "scheduler is shutting down",
			})
		}
		q.Init()
	}
}

// Submit enqueues a request and returns a handle for its eventual Response.
// A CRITICAL request bypasses the queues entirely and is dispatched at once
// on its own goroutine.
func (s *Scheduler) Submit(ctx context.Context, req domain.Request) *Handle {
	if req.ID == "" {
		req.ID = newRequestID()
	}
	req.EnqueueTime = time.Now()
	if req.Priority == "" {
		req.Priority = domain.PriorityNormal
	}
	handle := newHandle()
	handle.reqID = req.ID
	handle.enqueueTime = req.EnqueueTime
	handle.onTimeout = func() {
		s.timedOut.Add(1)
		metrics.RequestsTimedOut.Inc()
	}

	s.totalRequests.Add(1)
	s.bumpPriorityCounter(req.Priority)
	metrics.RequestsTotal.WithLabelValues(string(req.Priority)).Inc()

	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		metrics.RequestsFailed.WithLabelValues(string(domain.ErrShuttingDown)).Inc()
		handle.complete(domain.Response{RequestID: req.ID, ErrorKind: domain.ErrShuttingDown, ErrorMessage: "scheduler is shutting down"})
		return handle
	}

	if req.Priority == domain.PriorityCritical {
		go s.dispatchGroup(ctx, []*queuedRequest{{req: req, handle: handle}})
		return handle
	}

	s.mu.Lock()
	q := s.queues[req.Priority]
	if q.Len() >= s.perQueue {
		s.mu.Unlock()
		metrics.RequestsFailed.WithLabelValues(string(domain.ErrQueueFull)).Inc()
		handle.complete(domain.Response{RequestID: req.ID, ErrorKind: domain.ErrQueueFull, ErrorMessage: "queue full for priority " + string(req.Priority)})
		return handle
	}
	q.PushBack(&queuedRequest{req: req, handle: handle})
	metrics.QueueDepth.WithLabelValues(string(req.Priority)).Set(float64(q.Len()))
	s.mu.Unlock()
	return handle
}

// QueueStats reports current queue occupancy.
func (s *Scheduler) QueueStats() domain.QueueStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	sizes := make(map[domain.Priority]int, len(domain.Priorities))
	total := 0
	for _, p := range domain.Priorities {
		n := s.queues[p].Len()
		sizes[p] = n
		total += n
	}
	return domain.QueueStats{PerPrioritySize: sizes, Pending: total, InFlightBatch: int(s.inFlight.Load())}
}

// PerfStats reports lifetime throughput counters.
func (s *Scheduler) PerfStats() domain.PerfStats {
	total := s.totalRequests.Load()
	failed := s.failed.Load()
	success := total - failed
	successRate := 0.0
	if total > 0 {
		successRate = float64(success) / float64(total)
	}
	avgBatch := 0.0
	if n := s.batchSizeN.Load(); n > 0 {
		avgBatch = float64(s.batchSizeSum.Load()) / float64(n)
	}
	avgProc := 0.0
	if n := s.procTimeN.Load(); n > 0 {
		avgProc = float64(s.procTimeSumMs.Load()) / float64(n)
	}
	byPriority := make(map[domain.Priority]int64, len(domain.Priorities))
	for _, p := range domain.Priorities {
		if v, ok := s.byPriority.Load(p); ok {
			byPriority[p] = v.(*atomic.Int64).Load()
		}
	}
	return domain.PerfStats{
		TotalRequests:       total,
		TotalBatches:        s.totalBatches.Load(),
		Failed:              failed,
		TimedOut:            s.timedOut.Load(),
		SuccessRate:         successRate,
		AvgBatchSize:        avgBatch,
		AvgProcessingTimeMs: avgProc,
		ByPriority:          byPriority,
	}
}

func (s *Scheduler) bumpPriorityCounter(p domain.Priority) {
	v, _ := s.byPriority.LoadOrStore(p, &atomic.Int64{})
	v.(*atomic.Int64).Add(1)
}

// formationLoop implements the batch-formation algorithm from the highest
// priority down, respecting the thermal-derived batch size hint.
func (s *Scheduler) formationLoop() {
	defer close(s.doneCh)
	for {
		select {
		case <-s.stopCh:
			return
		default:
		}

		batch := s.formBatch()
		if len(batch) == 0 {
			continue
		}

		s.totalBatches.Add(1)
		s.batchSizeSum.Add(int64(len(batch)))
		s.batchSizeN.Add(1)
		metrics.BatchesTotal.Inc()
		metrics.BatchSize.Observe(float64(len(batch)))
		metrics.BatchSizeHint.Set(float64(s.thermal.Recommendation().BatchSizeHint))

		s.inFlight.Add(1)
		groups := groupByModelHint(batch)
		for _, group := range groups {
			s.dispatchGroup(context.Background(), group)
		}
		s.inFlight.Add(-1)
		s.publisher().Publish(context.Background(), "tutu.batch.dispatched", map[string]any{
			"batch_size": len(batch),
			"groups":     len(groups),
		})

		delay := s.thermal.Recommendation().PostInferenceDelayMs
		if delay > 0 {
			select {
			case <-time.After(time.Duration(delay) * time.Millisecond):
			case <-s.stopCh:
				return
			}
		}
	}
}

// formBatch pops requests from highest to lowest priority until the
// thermal-derived size hint is reached, blocking on the highest-priority
// non-empty level for at most BatchWaitTimeout. If the batch already
// contains a CRITICAL or HIGH request, it stops waiting and dispatches
// immediately.
func (s *Scheduler) formBatch() []*queuedRequest {
	rec := s.thermal.Recommendation()
	size := rec.BatchSizeHint
	if size <= 0 {
		size = 1
	}

	deadline := time.Now().Add(s.cfg.BatchWaitTimeout)
	var batch []*queuedRequest
	for len(batch) < size {
		popped := s.popHighestLocked()
		if popped != nil {
			if popped.cancelled.Load() {
				continue
			}
			batch = append(batch, popped)
			if popped.req.Priority == domain.PriorityCritical || popped.req.Priority == domain.PriorityHigh {
				break
			}
			continue
		}
		if time.Now().After(deadline) {
			break
		}
		select {
		case <-s.stopCh:
			return batch
		case <-time.After(2 * time.Millisecond):
		}
	}
	return batch
}

func (s *Scheduler) popHighestLocked() *queuedRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(domain.Priorities) - 1; i >= 0; i-- {
		q := s.queues[domain.Priorities[i]]
		if e := q.Front(); e != nil {
			q.Remove(e)
			metrics.QueueDepth.WithLabelValues(string(domain.Priorities[i])).Set(float64(q.Len()))
			return e.Value.(*queuedRequest)
		}
	}
	return nil
}

// groupByModelHint groups a formed batch by its requested model name,
// leaving empty names to be resolved individually at dispatch time.
func groupByModelHint(batch []*queuedRequest) [][]*queuedRequest {
	order := []string{}
	groups := map[string][]*queuedRequest{}
	for _, qr := range batch {
		key := qr.req.ModelName
		if _, ok := groups[key]; !ok {
			order = append(order, key)
		}
		groups[key] = append(groups[key], qr)
	}
	result := make([][]*queuedRequest, 0, len(order))
	for _, k := range order {
		result = append(result, groups[k])
	}
	return result
}

// dispatchGroup runs the group's requests one after another, resolving a
// model per request when none is named. A runtime error fails only the
// request it came from, with INFERENCE_FAILED; the rest of the group and
// other groups still run.
func (s *Scheduler) dispatchGroup(ctx context.Context, group []*queuedRequest) {
	dispatchStart := time.Now()

	for _, qr := range group {
		if qr.cancelled.Load() {
			continue
		}

		if !s.thermal.Recommendation().CanLoadLarge && s.needsLargeModel(qr.req) {
			s.failed.Add(1)
			metrics.RequestsFailed.WithLabelValues(string(domain.ErrThermalEmergency)).Inc()
			qr.handle.complete(domain.Response{
				RequestID:    qr.req.ID,
				ErrorKind:    domain.ErrThermalEmergency,
				ErrorMessage: "thermal state forbids loading a non-ALWAYS_ON model",
				QueueTime:    dispatchStart.Sub(qr.req.EnqueueTime),
				TotalTime:    dispatchStart.Sub(qr.req.EnqueueTime),
			})
			continue
		}

		name := qr.req.ModelName
		if name == "" {
			resolved, ok := s.models.Resolve(ctx, qr.req.Prompt, len(qr.req.Prompt))
			if !ok {
				s.failed.Add(1)
				metrics.RequestsFailed.WithLabelValues(string(domain.ErrNoModelAvailable)).Inc()
				qr.handle.complete(domain.Response{
					RequestID:    qr.req.ID,
					ErrorKind:    domain.ErrNoModelAvailable,
					ErrorMessage: "model manager could not resolve or load a model",
					QueueTime:    dispatchStart.Sub(qr.req.EnqueueTime),
					TotalTime:    dispatchStart.Sub(qr.req.EnqueueTime),
				})
				continue
			}
			name = resolved
		} else if !s.models.Load(ctx, name) {
			s.failed.Add(1)
			metrics.RequestsFailed.WithLabelValues(string(domain.ErrNoModelAvailable)).Inc()
			qr.handle.complete(domain.Response{
				RequestID:    qr.req.ID,
				ErrorKind:    domain.ErrNoModelAvailable,
				ErrorMessage: "requested model unavailable",
				QueueTime:    dispatchStart.Sub(qr.req.EnqueueTime),
				TotalTime:    dispatchStart.Sub(qr.req.EnqueueTime),
			})
			continue
		}

		lm, ok := s.models.Get(name)
		if !ok {
			s.failed.Add(1)
			metrics.RequestsFailed.WithLabelValues(string(domain.ErrNoModelAvailable)).Inc()
			qr.handle.complete(domain.Response{
				RequestID:    qr.req.ID,
				ErrorKind:    domain.ErrNoModelAvailable,
				ErrorMessage: "resolved model is not loaded",
				QueueTime:    dispatchStart.Sub(qr.req.EnqueueTime),
				TotalTime:    dispatchStart.Sub(qr.req.EnqueueTime),
			})
			continue
		}

		infStart := time.Now()
		text, err := s.runtime.Generate(ctx, lm.Handle, lm.TokenizerHandle, qr.req.Prompt, domain.GenerateParams{
			MaxTokens:   qr.req.MaxTokens,
			Temperature: qr.req.Temperature,
		})
		infEnd := time.Now()
		s.procTimeSumMs.Add(infEnd.Sub(infStart).Milliseconds())
		s.procTimeN.Add(1)
		metrics.InferenceLatency.WithLabelValues(name).Observe(infEnd.Sub(infStart).Seconds())
		metrics.QueueLatency.Observe(infStart.Sub(qr.req.EnqueueTime).Seconds())

		if qr.cancelled.Load() {
			continue
		}
		if err != nil {
			s.failed.Add(1)
			metrics.RequestsFailed.WithLabelValues(string(domain.ErrInferenceFailed)).Inc()
			qr.handle.complete(domain.Response{
				RequestID:    qr.req.ID,
				ErrorKind:    domain.ErrInferenceFailed,
				ErrorMessage: err.Error(),
				QueueTime:    infStart.Sub(qr.req.EnqueueTime),
				InferenceTime: infEnd.Sub(infStart),
				TotalTime:    infEnd.Sub(qr.req.EnqueueTime),
				ModelUsed:    name,
				BatchSize:    len(group),
			})
			continue
		}

		qr.handle.complete(domain.Response{
			RequestID:     qr.req.ID,
			Text:          text,
			QueueTime:     infStart.Sub(qr.req.EnqueueTime),
			InferenceTime: infEnd.Sub(infStart),
			TotalTime:     infEnd.Sub(qr.req.EnqueueTime),
			ModelUsed:     name,
			BatchSize:     len(group),
		})
	}
}

// needsLargeModel reports whether req would resolve to a non-ALWAYS_ON
// model, without actually loading or resolving one. An explicit ModelName is
// checked against the catalog directly; otherwise the same complexity-based
// bucket selection the Model Manager's Resolve uses is replayed to predict
// the tier.
func (s *Scheduler) needsLargeModel(req domain.Request) bool {
	if req.ModelName != "" {
		cfg, ok := s.models.ConfigFor(req.ModelName)
		return ok && cfg.Tier != domain.TierAlwaysOn
	}
	bucket := domain.SelectBucket(domain.ComplexityScore(req.Prompt, len(req.Prompt)))
	return domain.Tier(bucket) != domain.TierAlwaysOn
}

// newRequestID generates an id for requests submitted without one, which
// includes every request from the HTTP API and direct Submit callers such as
// tests.
func newRequestID() string {
	return uuid.NewString()
}
