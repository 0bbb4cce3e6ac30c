// Package offline records writes made while the API is unreachable and
// replays them, in order per resource, once connectivity returns.
package offline

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
	"k8s.io/utils/clock"

	"github.com/ecofleet-io/ecofleet/internal/apiclient"
	"github.com/ecofleet-io/ecofleet/internal/pkg/kv"
	"github.com/ecofleet-io/ecofleet/internal/pkg/metrics"
	"github.com/ecofleet-io/ecofleet/pkg/log"
	"github.com/ecofleet-io/ecofleet/pkg/options"
)

// Transport sends a replayed request. *apiclient.Client implements it.
type Transport interface {
	Request(ctx context.Context, method, path string, body []byte) (*apiclient.Response, error)
}

// Connectivity reports whether the API is currently reachable.
type Connectivity interface {
	Online() bool
}

// FailedItem describes an intent that needs the user's attention.
type FailedItem struct {
	ID        string `json:"id"`
	Kind      Kind   `json:"kind"`
	Target    string `json:"target"`
	Attempts  int    `json:"attempts"`
	LastError string `json:"last_error"`
	// Requeued is set in a FlushReport when the intent is pending again and
	// will be retried without user action.
	Requeued bool `json:"requeued,omitempty"`
}

func failedItemOf(it *PendingWriteIntent) FailedItem {
	return FailedItem{
		ID:        it.ID,
		Kind:      it.Kind,
		Target:    it.Target,
		Attempts:  it.Attempts,
		LastError: it.LastError,
	}
}

// QueueState is the summary shown as badges in the UI.
type QueueState struct {
	Pending  int          `json:"pending"`
	Flushing bool         `json:"flushing"`
	Failed   []FailedItem `json:"failed"`
}

// FlushReport lists what one Flush did. Committed holds the ids of the
// intents the server accepted; Failed holds every failed replay.
type FlushReport struct {
	Committed []string     `json:"committed"`
	Failed    []FailedItem `json:"failed"`
	Skipped   bool         `json:"skipped"`
}

func newFlushReport() FlushReport {
	return FlushReport{Committed: []string{}, Failed: []FailedItem{}}
}

func (r *FlushReport) add(o FlushReport) {
	r.Committed = append(r.Committed, o.Committed...)
	r.Failed = append(r.Failed, o.Failed...)
}

// Terminal returns the number of failed intents that now need a manual
// retry or discard.
func (r FlushReport) Terminal() int {
	n := 0
	for _, f := range r.Failed {
		if !f.Requeued {
			n++
		}
	}
	return n
}

// Option configures a Queue.
type Option func(*Queue)

// WithClock replaces the wall clock, mostly for tests.
func WithClock(c clock.WithTicker) Option {
	return func(q *Queue) { q.clock = c }
}

// WithReconciler registers r to be told about temp id replacements.
func WithReconciler(r Reconciler) Option {
	return func(q *Queue) { q.reconcilers = append(q.reconcilers, r) }
}

// WithConnectivity lets Submit and the retry loop see whether the API is reachable.
func WithConnectivity(c Connectivity) Option {
	return func(q *Queue) { q.conn = c }
}

// WithLogger sets the queue logger.
func WithLogger(l log.Logger) Option {
	return func(q *Queue) { q.logger = l }
}

// Queue is the offline write queue. All state is guarded by mu and written
// through to the kv store before a mutation is acknowledged.
type Queue struct {
	store       kv.Store
	transport   Transport
	opts        *options.QueueOptions
	clock       clock.WithTicker
	lc          *lifecycle
	limiter     *rate.Limiter
	logger      log.Logger
	conn        Connectivity
	reconcilers []Reconciler

	mu       sync.Mutex
	items    []*PendingWriteIntent
	idMap    map[string]string
	flushing bool

	subMu   sync.Mutex
	subs    map[int]chan QueueState
	nextSub int

	wg sync.WaitGroup
}

// NewQueue restores the queue from store.
func NewQueue(ctx context.Context, store kv.Store, transport Transport, opts *options.QueueOptions, opt ...Option) (*Queue, error) {
	q := &Queue{
		store:     store,
		transport: transport,
		opts:      opts,
		clock:     clock.RealClock{},
		logger:    log.WithName("offline"),
		subs:      make(map[int]chan QueueState),
	}
	for _, o := range opt {
		o(q)
	}

	q.lc = newLifecycle(opts.MaxAttempts, q.clock.Now)

	q.limiter = rate.NewLimiter(rate.Inf, 0)
	if opts.ReplayRate > 0 {
		q.limiter = rate.NewLimiter(rate.Limit(opts.ReplayRate), opts.ReplayBurst)
	}

	if err := q.load(ctx); err != nil {
		return nil, err
	}
	q.publish()
	return q, nil
}

// Enqueue validates in, assigns its id and timestamps and appends it. The
// intent is durable when Enqueue returns. The caller's value is not modified.
func (q *Queue) Enqueue(ctx context.Context, in *PendingWriteIntent) (*PendingWriteIntent, error) {
	if in == nil {
		return nil, fmt.Errorf("%w: missing intent", ErrInvalidIntent)
	}

	it := in.clone()
	if it.Kind == KindCreate && it.TempID == "" {
		it.TempID = "tmp-" + uuid.NewString()
	}
	if err := normalize(it); err != nil {
		return nil, err
	}

	now := q.clock.Now()
	it.ID = uuid.NewString()
	it.Phase = PhasePending
	it.Attempts = 0
	it.LastError = ""
	it.EnqueuedAt = now
	it.UpdatedAt = now

	q.mu.Lock()
	q.applyKnownIDsLocked(it)
	q.items = append(q.items, it)
	if err := q.persistLocked(ctx); err != nil {
		q.items = q.items[:len(q.items)-1]
		q.mu.Unlock()
		return nil, fmt.Errorf("failed to persist write intent: %w", err)
	}
	out := it.clone()
	q.mu.Unlock()

	q.publish()
	q.logger.Debug("Enqueued write intent", "intent", out.ID, "kind", out.Kind, "target", out.Target)
	return out, nil
}

// OnConnectivityRestored starts a flush in the background. Calling it while a
// flush is running does nothing.
func (q *Queue) OnConnectivityRestored(ctx context.Context) {
	q.triggerFlush(ctx, "connectivity restored")
}

func (q *Queue) triggerFlush(ctx context.Context, reason string) {
	q.mu.Lock()
	busy := q.flushing
	q.mu.Unlock()
	if busy {
		return
	}

	q.wg.Add(1)
	go func() {
		defer q.wg.Done()

		report := q.Flush(ctx)
		if !report.Skipped {
			q.logger.Info("Write queue flushed", "reason", reason,
				"committed", len(report.Committed), "failed", len(report.Failed), "terminal", report.Terminal())
		}
	}()
}

// Flush replays every pending intent. Intents of one resource are sent one at
// a time in queue order; resources are replayed concurrently up to the
// configured limit. A second Flush while one is running returns a skipped
// report.
func (q *Queue) Flush(ctx context.Context) FlushReport {
	q.mu.Lock()
	if q.flushing {
		q.mu.Unlock()
		r := newFlushReport()
		r.Skipped = true
		return r
	}
	q.flushing = true
	groups := q.groupsLocked()
	q.mu.Unlock()
	q.publish()

	ctx = log.IntoContext(ctx, q.logger.WithValues("flush", uuid.NewString()))

	var (
		report   = newFlushReport()
		reportMu sync.Mutex
	)

	g := new(errgroup.Group)
	g.SetLimit(q.opts.Concurrency)
	for _, ids := range groups {
		g.Go(func() error {
			r := q.replayGroup(ctx, ids)

			reportMu.Lock()
			report.add(r)
			reportMu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	q.mu.Lock()
	q.flushing = false
	q.mu.Unlock()
	q.publish()

	return report
}

// groupsLocked returns the ids of replayable intents grouped by replay key
// (see replayKeysLocked), in order of first appearance. A group whose oldest
// intent is not pending (for example a terminal failure) is blocked until
// that intent is retried or discarded.
func (q *Queue) groupsLocked() [][]string {
	var (
		keys    = q.replayKeysLocked()
		order   []string
		groups  = make(map[string][]string)
		blocked = make(map[string]bool)
	)

	for _, it := range q.items {
		key := keys[it.ID]
		if blocked[key] {
			continue
		}
		if it.Phase != PhasePending {
			blocked[key] = true
			continue
		}
		if _, ok := groups[key]; !ok {
			order = append(order, key)
		}
		groups[key] = append(groups[key], it.ID)
	}

	out := make([][]string, 0, len(order))
	for _, k := range order {
		out = append(out, groups[k])
	}
	return out
}

// replayKeysLocked maps every queued intent id to the key of the group it
// replays in. Intents of one resource share a key. An intent whose target or
// payload holds the temp id of a queued create shares the create's key, so
// it is sent only after the create committed and the id was rewritten.
func (q *Queue) replayKeysLocked() map[string]string {
	parent := make(map[string]string)
	var find func(string) string
	find = func(r string) string {
		p, ok := parent[r]
		if !ok || p == r {
			return r
		}
		root := find(p)
		parent[r] = root
		return root
	}

	creates := make(map[string]string) // temp id -> resource of the create
	for _, it := range q.items {
		for tempID, resource := range creates {
			if !referencesTempID(it, tempID) {
				continue
			}
			if a, b := find(resource), find(it.Resource); a != b {
				parent[b] = a
			}
		}
		if it.Kind == KindCreate && it.TempID != "" {
			creates[it.TempID] = it.Resource
		}
	}

	keys := make(map[string]string, len(q.items))
	for _, it := range q.items {
		keys[it.ID] = find(it.Resource)
	}
	return keys
}

// replayGroup sends the intents of one group in order and stops at the
// first failure so later writes never overtake an earlier one.
func (q *Queue) replayGroup(ctx context.Context, ids []string) FlushReport {
	logger := log.FromContext(ctx)
	report := newFlushReport()

	for _, id := range ids {
		if ctx.Err() != nil {
			return report
		}

		q.mu.Lock()
		it := q.findLocked(id)
		if it == nil || it.Phase != PhasePending {
			q.mu.Unlock()
			continue
		}
		if err := q.lc.fire(ctx, it, EventFlush, nil); err != nil {
			q.mu.Unlock()
			logger.Error(err, "Cannot start replay", "intent", id)
			return report
		}
		req := it.clone()
		q.persistOrWarnLocked(ctx)
		q.mu.Unlock()
		q.publish()

		if err := q.limiter.Wait(ctx); err != nil {
			q.interrupt(ctx, id)
			return report
		}

		start := q.clock.Now()
		resp, err := q.send(ctx, req)
		metrics.ReplayLatency.WithLabelValues(string(req.Kind)).Observe(q.clock.Since(start).Seconds())

		if err != nil && ctx.Err() != nil {
			// The flush itself was cancelled; the attempt does not count.
			q.interrupt(ctx, id)
			return report
		}

		switch {
		case err == nil:
			q.commit(ctx, req, resp)
			report.Committed = append(report.Committed, id)
			logger.V(1).Info("Replayed write intent", "intent", id, "target", req.Target)

		case retryable(err):
			report.Failed = append(report.Failed, q.failRetryable(ctx, req, err))
			logger.Info("Replay failed, will retry", "intent", id, "target", req.Target, "error", err.Error())
			return report

		default:
			report.Failed = append(report.Failed, q.reject(ctx, req, err))
			logger.Info("Replay rejected by server", "intent", id, "target", req.Target, "error", err.Error())
			return report
		}
	}

	return report
}

func (q *Queue) send(ctx context.Context, it *PendingWriteIntent) (*apiclient.Response, error) {
	ctx, cancel := context.WithTimeout(ctx, q.opts.RequestTimeout)
	defer cancel()

	return q.transport.Request(ctx, it.Method, it.Target, it.Payload)
}

// retryable reports whether a replay error may succeed later: network
// errors, timeouts and 5xx responses. Everything else is terminal.
func retryable(err error) bool {
	return apiclient.IsRetryable(err) || errors.Is(err, context.DeadlineExceeded)
}

func (q *Queue) commit(ctx context.Context, sent *PendingWriteIntent, resp *apiclient.Response) {
	var tempID, serverID string

	q.mu.Lock()
	if it := q.findLocked(sent.ID); it != nil {
		if err := q.lc.fire(ctx, it, EventCommit, nil); err != nil {
			q.logger.Error(err, "Unexpected lifecycle error on commit", "intent", it.ID)
		}
		q.removeLocked(it.ID)
	}

	if sent.Kind == KindCreate && sent.TempID != "" && resp != nil {
		if id, ok := extractServerID(resp.Body); ok {
			tempID, serverID = sent.TempID, id
			q.rememberIDLocked(tempID, serverID)
		} else {
			q.logger.Warn("Create response carried no id, temp id kept", "intent", sent.ID, "temp_id", sent.TempID)
		}
	}
	q.persistOrWarnLocked(ctx)
	q.mu.Unlock()

	q.publish()
	metrics.ReplayTotal.WithLabelValues("committed").Inc()

	if serverID != "" {
		q.notifyReconcilers(ctx, tempID, serverID)
	}
}

// failRetryable records a retryable failure. Below the attempt ceiling every
// intent replaying in the same group moves to the back of the queue in its
// current order, including intents enqueued while the flush ran.
func (q *Queue) failRetryable(ctx context.Context, sent *PendingWriteIntent, cause error) FailedItem {
	q.mu.Lock()
	defer func() {
		q.mu.Unlock()
		q.publish()
	}()

	failed := failedItemOf(sent)
	failed.LastError = cause.Error()

	it := q.findLocked(sent.ID)
	if it == nil {
		return failed
	}

	if err := q.lc.fire(ctx, it, EventFail, cause); err != nil {
		q.logger.Error(err, "Unexpected lifecycle error on failure", "intent", it.ID)
		return failedItemOf(it)
	}

	pending, err := q.lc.requeueOrGiveUp(ctx, it)
	if err != nil {
		q.logger.Error(err, "Unexpected lifecycle error on requeue", "intent", it.ID)
	}

	if pending {
		metrics.ReplayTotal.WithLabelValues("retryable").Inc()
		q.moveGroupToBackLocked(it.ID)
	} else {
		metrics.ReplayTotal.WithLabelValues("terminal").Inc()
		q.logger.Warn("Giving up on write intent", "intent", it.ID, "attempts", it.Attempts, "error", it.LastError)
	}

	q.persistOrWarnLocked(ctx)

	failed = failedItemOf(it)
	failed.Requeued = pending
	return failed
}

func (q *Queue) reject(ctx context.Context, sent *PendingWriteIntent, cause error) FailedItem {
	failed := failedItemOf(sent)
	failed.LastError = cause.Error()

	q.mu.Lock()
	if it := q.findLocked(sent.ID); it != nil {
		if err := q.lc.fire(ctx, it, EventReject, cause); err != nil {
			q.logger.Error(err, "Unexpected lifecycle error on reject", "intent", it.ID)
		}
		failed = failedItemOf(it)
	}
	q.persistOrWarnLocked(ctx)
	q.mu.Unlock()

	q.publish()
	metrics.ReplayTotal.WithLabelValues("terminal").Inc()
	return failed
}

// interrupt returns an intent to pending after the flush was cancelled.
func (q *Queue) interrupt(ctx context.Context, id string) {
	q.mu.Lock()
	if it := q.findLocked(id); it != nil && it.Phase == PhaseFlushing {
		if err := q.lc.fire(ctx, it, EventRecover, nil); err != nil {
			q.logger.Error(err, "Unexpected lifecycle error on interrupt", "intent", id)
		}
	}
	q.persistOrWarnLocked(ctx)
	q.mu.Unlock()

	q.publish()
}

// Retry moves a terminal failure back to pending with its attempts reset.
// It keeps its place so intents of the same resource queued behind it stay
// behind it.
func (q *Queue) Retry(ctx context.Context, id string) error {
	q.mu.Lock()
	it := q.findLocked(id)
	if it == nil {
		q.mu.Unlock()
		return ErrIntentNotFound
	}
	if err := q.lc.fire(ctx, it, EventRetry, nil); err != nil {
		q.mu.Unlock()
		return fmt.Errorf("%w: intent %s is %s: %v", ErrIntentNotFailed, id, it.Phase, err)
	}
	err := q.persistLocked(ctx)
	q.mu.Unlock()

	q.publish()
	if err != nil {
		return fmt.Errorf("failed to persist write queue: %w", err)
	}
	return nil
}

// Discard drops an intent that is not currently being replayed.
func (q *Queue) Discard(ctx context.Context, id string) error {
	q.mu.Lock()
	it := q.findLocked(id)
	if it == nil {
		q.mu.Unlock()
		return ErrIntentNotFound
	}
	if it.Phase == PhaseFlushing {
		q.mu.Unlock()
		return ErrIntentBusy
	}
	q.removeLocked(id)
	err := q.persistLocked(ctx)
	q.mu.Unlock()

	q.publish()
	if err != nil {
		return fmt.Errorf("failed to persist write queue: %w", err)
	}
	q.logger.Info("Discarded write intent", "intent", id)
	return nil
}

// List returns copies of the queued intents in replay order.
func (q *Queue) List() []*PendingWriteIntent {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]*PendingWriteIntent, 0, len(q.items))
	for _, it := range q.items {
		out = append(out, it.clone())
	}
	return out
}

// State returns the current summary.
func (q *Queue) State() QueueState {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.stateLocked()
}

func (q *Queue) stateLocked() QueueState {
	st := QueueState{Flushing: q.flushing, Failed: []FailedItem{}}
	for _, it := range q.items {
		if it.Phase == PhaseFailedTerminal {
			st.Failed = append(st.Failed, failedItemOf(it))
			continue
		}
		st.Pending++
	}
	return st
}

// Subscribe returns a channel that always holds the latest state. Slow
// readers miss intermediate states, never the last one. cancel closes the
// channel.
func (q *Queue) Subscribe() (<-chan QueueState, func()) {
	ch := make(chan QueueState, 1)

	q.subMu.Lock()
	id := q.nextSub
	q.nextSub++
	q.subs[id] = ch
	ch <- q.State()
	q.subMu.Unlock()

	cancel := sync.OnceFunc(func() {
		q.subMu.Lock()
		delete(q.subs, id)
		close(ch)
		q.subMu.Unlock()
	})
	return ch, cancel
}

// publish sends the current state to every subscriber. It must not be called
// with q.mu held.
func (q *Queue) publish() {
	q.subMu.Lock()
	defer q.subMu.Unlock()

	st := q.State()
	metrics.QueueDepth.Set(float64(st.Pending))
	metrics.QueueFailedTerminal.Set(float64(len(st.Failed)))

	for _, ch := range q.subs {
		select {
		case ch <- st:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- st
		}
	}
}

// Run flushes periodically while online and intents are pending, until ctx
// is done. It then waits for background flushes to return.
func (q *Queue) Run(ctx context.Context) error {
	defer q.wg.Wait()

	if q.opts.RetryInterval <= 0 {
		<-ctx.Done()
		return nil
	}

	ticker := q.clock.NewTicker(q.opts.RetryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C():
			if q.online() && q.State().Pending > 0 {
				q.triggerFlush(ctx, "retry interval")
			}
		}
	}
}

// Wait blocks until background flushes started by OnConnectivityRestored return.
func (q *Queue) Wait() {
	q.wg.Wait()
}

func (q *Queue) online() bool {
	return q.conn == nil || q.conn.Online()
}

func (q *Queue) notifyReconcilers(ctx context.Context, tempID, serverID string) {
	for _, r := range q.reconcilers {
		if err := r.Reconcile(ctx, tempID, serverID); err != nil {
			q.logger.Error(err, "Failed to reconcile temp id", "temp_id", tempID, "server_id", serverID)
		}
	}
}

func (q *Queue) rememberIDLocked(tempID, serverID string) {
	q.idMap[tempID] = serverID
	for _, other := range q.items {
		rewriteTempID(other, tempID, serverID)
	}
}

func (q *Queue) applyKnownIDsLocked(it *PendingWriteIntent) {
	for tempID, serverID := range q.idMap {
		rewriteTempID(it, tempID, serverID)
	}
}

func (q *Queue) hasResourceLocked(resource string) bool {
	for _, it := range q.items {
		if it.Resource == resource {
			return true
		}
	}
	return false
}

// dependsOnQueuedCreateLocked reports whether it refers to the temp id of a
// create that is still queued.
func (q *Queue) dependsOnQueuedCreateLocked(it *PendingWriteIntent) bool {
	for _, other := range q.items {
		if other.Kind == KindCreate && other.TempID != "" && referencesTempID(it, other.TempID) {
			return true
		}
	}
	return false
}

func (q *Queue) findLocked(id string) *PendingWriteIntent {
	for _, it := range q.items {
		if it.ID == id {
			return it
		}
	}
	return nil
}

func (q *Queue) removeLocked(id string) {
	for i, it := range q.items {
		if it.ID == id {
			q.items = append(q.items[:i], q.items[i+1:]...)
			return
		}
	}
}

// moveGroupToBackLocked moves every intent that replays in the same group as
// id to the end of the queue, keeping their current relative order.
func (q *Queue) moveGroupToBackLocked(id string) {
	keys := q.replayKeysLocked()
	key := keys[id]

	kept := make([]*PendingWriteIntent, 0, len(q.items))
	var tail []*PendingWriteIntent
	for _, it := range q.items {
		if keys[it.ID] == key {
			tail = append(tail, it)
			continue
		}
		kept = append(kept, it)
	}
	q.items = append(kept, tail...)
}
