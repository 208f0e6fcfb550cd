// Package orderqueue dispatches order executions with bounded concurrency,
// a start-rate ceiling, per-order exclusivity and exponential retry.
package orderqueue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tidwall/btree"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/Aidin1998/orderflow/pkg/errors"
	"github.com/Aidin1998/orderflow/pkg/metrics"
)

// MaxPriority is the highest accepted priority
const MaxPriority = 100

// Processor runs orders to a terminal outcome
type Processor interface {
	RunToCompletion(ctx context.Context, orderID string) error
	// RecordAttempt persists the number of failed attempts so far
	RecordAttempt(ctx context.Context, orderID string, attempts int) error
	// MarkFailed finalizes an order once no further attempt will be made
	MarkFailed(ctx context.Context, orderID, reason string, attempts int) error
}

// Options configure a Queue
type Options struct {
	Concurrency int
	MaxAttempts int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
	RateLimit   int
	RateWindow  time.Duration
	// Journal persists unacknowledged jobs; nil keeps the queue in memory only
	Journal *Journal
}

// DefaultOptions returns the stock queue settings
func DefaultOptions() Options {
	return Options{
		Concurrency: 10,
		MaxAttempts: 3,
		BaseBackoff: time.Second,
		MaxBackoff:  30 * time.Second,
		RateLimit:   100,
		RateWindow:  time.Minute,
	}
}

// JobRecord is the journaled form of a job
type JobRecord struct {
	OrderID    string    `json:"order_id"`
	Priority   int       `json:"priority"`
	Seq        uint64    `json:"seq"`
	Attempts   int       `json:"attempts"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

type job struct {
	JobRecord
	key   string // btree key while waiting, empty while delayed
	timer *time.Timer
}

// Stats is a snapshot of queue counters
type Stats struct {
	Waiting   int    `json:"waiting"`
	Active    int    `json:"active"`
	Delayed   int    `json:"delayed"`
	Completed uint64 `json:"completed"`
	Failed    uint64 `json:"failed"`
	Paused    bool   `json:"paused"`
	Total     uint64 `json:"total"`
}

// Queue is a keyed work queue: at most one job per order id is waiting,
// delayed or active at any time.
type Queue struct {
	opts    Options
	proc    Processor
	logger  *zap.Logger
	limiter *rate.Limiter

	mu        sync.Mutex
	waiting   *btree.Map[string, *job]
	jobs      map[string]*job // waiting or delayed
	active    map[string]*job
	rerun     map[string]int // priority of a resubmission made while active
	seq       uint64
	completed uint64
	failed    uint64
	paused    bool
	closed    bool
	started   bool

	wake chan struct{}
	sem  chan struct{}
	wg   sync.WaitGroup

	stopDispatch context.CancelFunc
	dispatchDone chan struct{}
	runCtx       context.Context
	cancelRuns   context.CancelFunc
}

// New creates a queue. Start must be called before jobs are dispatched.
func New(proc Processor, opts Options, logger *zap.Logger) *Queue {
	def := DefaultOptions()
	if opts.Concurrency <= 0 {
		opts.Concurrency = def.Concurrency
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = def.MaxAttempts
	}
	if opts.BaseBackoff <= 0 {
		opts.BaseBackoff = def.BaseBackoff
	}
	if opts.MaxBackoff < opts.BaseBackoff {
		opts.MaxBackoff = opts.BaseBackoff
	}
	if opts.RateLimit <= 0 {
		opts.RateLimit = def.RateLimit
	}
	if opts.RateWindow <= 0 {
		opts.RateWindow = def.RateWindow
	}

	// burst 1 spaces starts RateWindow/RateLimit apart, so no window of
	// length RateWindow ever holds more than RateLimit starts
	perSecond := float64(opts.RateLimit) / opts.RateWindow.Seconds()
	runCtx, cancelRuns := context.WithCancel(context.Background())

	return &Queue{
		opts:       opts,
		proc:       proc,
		logger:     logger,
		limiter:    rate.NewLimiter(rate.Limit(perSecond), 1),
		waiting:    btree.NewMap[string, *job](32),
		jobs:       make(map[string]*job),
		active:     make(map[string]*job),
		rerun:      make(map[string]int),
		wake:       make(chan struct{}, 1),
		sem:        make(chan struct{}, opts.Concurrency),
		runCtx:     runCtx,
		cancelRuns: cancelRuns,
	}
}

// waitingKey orders by priority descending, then enqueue sequence ascending
func waitingKey(priority int, seq uint64) string {
	return fmt.Sprintf("%03d:%020d", MaxPriority-priority, seq)
}

func clampPriority(p int) int {
	if p < 0 {
		return 0
	}
	if p > MaxPriority {
		return MaxPriority
	}
	return p
}

func (q *Queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *Queue) persist(rec JobRecord) {
	if q.opts.Journal == nil {
		return
	}
	if err := q.opts.Journal.Put(rec); err != nil {
		q.logger.Error("Failed to journal job", zap.String("order_id", rec.OrderID), zap.Error(err))
	}
}

func (q *Queue) ack(orderID string) {
	if q.opts.Journal == nil {
		return
	}
	if err := q.opts.Journal.Delete(orderID); err != nil {
		q.logger.Error("Failed to acknowledge job", zap.String("order_id", orderID), zap.Error(err))
	}
}

// Enqueue schedules orderID. A job already waiting has its priority replaced;
// a job already running is re-run once after the current run finishes.
func (q *Queue) Enqueue(_ context.Context, orderID string, priority int) error {
	priority = clampPriority(priority)

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return errors.QueueClosed.Explain("queue is closed")
	}
	q.enqueueLocked(JobRecord{OrderID: orderID, Priority: priority, EnqueuedAt: time.Now().UTC()})
	return nil
}

func (q *Queue) enqueueLocked(rec JobRecord) {
	id := rec.OrderID

	if _, ok := q.active[id]; ok {
		q.rerun[id] = rec.Priority
		q.logger.Debug("Order already running, rerun requested", zap.String("order_id", id))
		return
	}

	if j, ok := q.jobs[id]; ok {
		j.Priority = rec.Priority
		if j.key != "" {
			q.waiting.Delete(j.key)
			j.key = waitingKey(j.Priority, j.Seq)
			q.waiting.Set(j.key, j)
		}
		q.persist(j.JobRecord)
		return
	}

	if rec.Seq == 0 {
		q.seq++
		rec.Seq = q.seq
	} else if rec.Seq > q.seq {
		q.seq = rec.Seq
	}
	j := &job{JobRecord: rec}
	j.key = waitingKey(j.Priority, j.Seq)
	q.waiting.Set(j.key, j)
	q.jobs[id] = j
	q.persist(j.JobRecord)
	q.updateGauges()
	q.signal()
}

// Start replays the journal and begins dispatching
func (q *Queue) Start(ctx context.Context) error {
	q.mu.Lock()
	if q.started {
		q.mu.Unlock()
		return nil
	}
	q.started = true
	q.mu.Unlock()

	if q.opts.Journal != nil {
		records, err := q.opts.Journal.Replay()
		if err != nil {
			return fmt.Errorf("replaying queue journal: %w", err)
		}
		q.mu.Lock()
		for _, rec := range records {
			q.enqueueLocked(rec)
		}
		q.mu.Unlock()
		if len(records) > 0 {
			q.logger.Info("Replayed journaled jobs", zap.Int("count", len(records)))
		}
	}

	dctx, cancel := context.WithCancel(ctx)
	q.stopDispatch = cancel
	q.dispatchDone = make(chan struct{})
	go q.dispatch(dctx)
	return nil
}

func (q *Queue) dispatch(ctx context.Context) {
	defer close(q.dispatchDone)
	for {
		select {
		case <-ctx.Done():
			return
		case q.sem <- struct{}{}:
		}

		j := q.next(ctx)
		if j == nil {
			<-q.sem
			return
		}

		if err := q.limiter.Wait(ctx); err != nil {
			q.mu.Lock()
			delete(q.active, j.OrderID)
			q.enqueueLocked(j.JobRecord)
			q.mu.Unlock()
			<-q.sem
			return
		}

		q.wg.Add(1)
		go q.run(j)
	}
}

// next blocks until a job can be dispatched and marks it active
func (q *Queue) next(ctx context.Context) *job {
	for {
		q.mu.Lock()
		if !q.paused && !q.closed {
			if _, j, ok := q.waiting.PopMin(); ok {
				j.key = ""
				delete(q.jobs, j.OrderID)
				q.active[j.OrderID] = j
				q.updateGauges()
				q.mu.Unlock()
				return j
			}
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil
		case <-q.wake:
		}
	}
}

func (q *Queue) run(j *job) {
	defer func() {
		<-q.sem
		q.wg.Done()
	}()

	j.Attempts++
	q.persist(j.JobRecord)

	log := q.logger.With(zap.String("order_id", j.OrderID), zap.Int("attempt", j.Attempts))
	log.Debug("Running order")

	err := q.proc.RunToCompletion(q.runCtx, j.OrderID)
	q.finish(j, err, log)
}

func (q *Queue) finish(j *job, err error, log *zap.Logger) {
	// bookkeeping writes must land even when Close has cancelled the run
	ctx := context.WithoutCancel(q.runCtx)
	id := j.OrderID

	if err == nil {
		metrics.QueueJobs.WithLabelValues("completed").Inc()
		q.ack(id)
		q.mu.Lock()
		q.completed++
		delete(q.active, id)
		if p, ok := q.rerun[id]; ok {
			delete(q.rerun, id)
			q.enqueueLocked(JobRecord{OrderID: id, Priority: p, EnqueuedAt: time.Now().UTC()})
		}
		q.updateGauges()
		q.mu.Unlock()
		q.signal()
		return
	}

	retriable := errors.IsRetriable(err)
	if !retriable || j.Attempts >= q.opts.MaxAttempts {
		metrics.QueueJobs.WithLabelValues("failed").Inc()
		log.Warn("Order failed permanently",
			zap.Bool("retriable", retriable),
			zap.String("kind", errors.KindOf(err)),
			zap.Error(err))
		if mfErr := q.proc.MarkFailed(ctx, id, err.Error(), j.Attempts); mfErr != nil {
			log.Error("Failed to finalize order", zap.Error(mfErr))
		}
		q.ack(id)
		q.mu.Lock()
		q.failed++
		delete(q.active, id)
		delete(q.rerun, id)
		q.updateGauges()
		q.mu.Unlock()
		q.signal()
		return
	}

	metrics.QueueJobs.WithLabelValues("retried").Inc()
	if raErr := q.proc.RecordAttempt(ctx, id, j.Attempts); raErr != nil {
		log.Error("Failed to record attempt", zap.Error(raErr))
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.active, id)

	if p, ok := q.rerun[id]; ok {
		// explicit resubmission skips the backoff
		delete(q.rerun, id)
		j.Priority = p
		j.key = waitingKey(j.Priority, j.Seq)
		q.waiting.Set(j.key, j)
		q.jobs[id] = j
		q.persist(j.JobRecord)
		q.updateGauges()
		q.signal()
		return
	}

	delay := Backoff(q.opts.BaseBackoff, q.opts.MaxBackoff, j.Attempts)
	log.Info("Order attempt failed, retrying",
		zap.Duration("backoff", delay),
		zap.String("kind", errors.KindOf(err)),
		zap.Error(err))

	q.jobs[id] = j
	q.persist(j.JobRecord)
	if !q.closed {
		j.timer = time.AfterFunc(delay, func() { q.promote(id) })
	}
	q.updateGauges()
}

// promote moves a delayed job back to waiting
func (q *Queue) promote(orderID string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	j, ok := q.jobs[orderID]
	if !ok || j.key != "" {
		return
	}
	j.timer = nil
	j.key = waitingKey(j.Priority, j.Seq)
	q.waiting.Set(j.key, j)
	q.updateGauges()
	q.signal()
}

// Pause stops dispatching new jobs; running jobs continue
func (q *Queue) Pause() {
	q.mu.Lock()
	q.paused = true
	q.mu.Unlock()
	q.logger.Info("Queue paused")
}

// Resume restarts dispatching
func (q *Queue) Resume() {
	q.mu.Lock()
	q.paused = false
	q.mu.Unlock()
	q.signal()
	q.logger.Info("Queue resumed")
}

// Stats returns a snapshot of queue counters
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.statsLocked()
}

func (q *Queue) statsLocked() Stats {
	s := Stats{
		Waiting:   q.waiting.Len(),
		Active:    len(q.active),
		Delayed:   len(q.jobs) - q.waiting.Len(),
		Completed: q.completed,
		Failed:    q.failed,
		Paused:    q.paused,
	}
	s.Total = uint64(s.Waiting+s.Active+s.Delayed) + s.Completed + s.Failed
	return s
}

func (q *Queue) updateGauges() {
	s := q.statsLocked()
	metrics.QueueDepth.WithLabelValues("waiting").Set(float64(s.Waiting))
	metrics.QueueDepth.WithLabelValues("active").Set(float64(s.Active))
	metrics.QueueDepth.WithLabelValues("delayed").Set(float64(s.Delayed))
}

// Close stops dispatching and waits for running jobs until ctx is done, after
// which their contexts are cancelled. Waiting and delayed jobs stay journaled.
func (q *Queue) Close(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	for _, j := range q.jobs {
		if j.timer != nil {
			j.timer.Stop()
		}
	}
	q.mu.Unlock()

	if q.stopDispatch != nil {
		q.stopDispatch()
		<-q.dispatchDone
	}

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		q.cancelRuns()
		return nil
	case <-ctx.Done():
		q.cancelRuns()
		<-done
		return ctx.Err()
	}
}
