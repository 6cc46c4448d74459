package services

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/yeremiapane/restaurant-sync/localcache"
	"github.com/yeremiapane/restaurant-sync/models"
	"github.com/yeremiapane/restaurant-sync/signal"
)

// Engine defaults
const (
	DefaultPollInterval       = 2 * time.Second
	DefaultCreateConfirmPolls = 3
	DefaultRetryBudget        = 3
	DefaultCallTimeout        = 5 * time.Second
)

// SyncEngine keeps one client instance's order list converged on the store.
// It polls on a fixed interval, merges with store-wins, re-sends pending
// optimistic changes and reports everything through the sink.
//
// Exported fields are read at Start and must not change afterwards.
type SyncEngine struct {
	Interval           time.Duration
	CreateConfirmPolls int
	RetryBudget        int
	CallTimeout        time.Duration
	Logger             logrus.FieldLogger
	Metrics            *SyncMetrics

	store  OrderStore
	cache  *localcache.Cache
	sink   Sink
	origin string

	polling atomic.Bool
	again   atomic.Bool
	trigger chan struct{}

	lifeMu  sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	signals []signal.ChangeSignal
	unsubs  []func()

	mu        sync.Mutex
	remote    []models.Order
	loaded    bool
	delayed   bool
	seq       uint64
	creates   map[string]*pendingCreate
	mutations map[mutationKey]*pendingMutation
	deletes   map[string]*pendingDelete
	confirmed map[string]*confirmedWrite

	// notifyMu orders notifications and guards the last notified view.
	notifyMu sync.Mutex
	view     []Entry
	notified bool

	// outbox holds notifications until flush hands them to the sink with
	// no lock held.
	outMu    sync.Mutex
	outbox   []Notification
	draining bool
}

// NewSyncEngine wires an engine. cache and sink may be nil.
func NewSyncEngine(store OrderStore, cache *localcache.Cache, sink Sink) *SyncEngine {
	origin := uuid.NewString()
	if cache != nil {
		origin = cache.Origin()
	}
	return &SyncEngine{
		Interval:           DefaultPollInterval,
		CreateConfirmPolls: DefaultCreateConfirmPolls,
		RetryBudget:        DefaultRetryBudget,
		CallTimeout:        DefaultCallTimeout,
		Logger:             logrus.StandardLogger().WithField("component", "sync_engine"),
		Metrics:            NewSyncMetrics(nil),
		store:              store,
		cache:              cache,
		sink:               sink,
		origin:             origin,
		trigger:            make(chan struct{}, 1),
		creates:            make(map[string]*pendingCreate),
		mutations:          make(map[mutationKey]*pendingMutation),
		deletes:            make(map[string]*pendingDelete),
		confirmed:          make(map[string]*confirmedWrite),
	}
}

// Origin identifies this instance on change signals.
func (e *SyncEngine) Origin() string {
	return e.origin
}

// Watch makes every change arriving on sig trigger an immediate poll. The
// payload is ignored; the store stays the only data source.
func (e *SyncEngine) Watch(sig signal.ChangeSignal) {
	unsub := sig.Subscribe(e.origin, func(signal.Change) { e.Trigger() })
	e.lifeMu.Lock()
	e.signals = append(e.signals, sig)
	e.unsubs = append(e.unsubs, unsub)
	e.lifeMu.Unlock()
}

// Announce tells the watched signals that this instance changed the store.
func (e *SyncEngine) Announce() {
	e.lifeMu.Lock()
	signals := append([]signal.ChangeSignal(nil), e.signals...)
	e.lifeMu.Unlock()
	for _, sig := range signals {
		sig.Publish(signal.Change{Origin: e.origin})
	}
}

// Start shows the cached snapshot, then polls immediately and on every tick
// until ctx is done or Stop is called.
func (e *SyncEngine) Start(ctx context.Context) error {
	defer e.flush()
	e.lifeMu.Lock()
	defer e.lifeMu.Unlock()
	if e.cancel != nil {
		return errors.New("sync engine already started")
	}

	e.loadSnapshot()

	ctx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	if e.cache != nil {
		e.unsubs = append(e.unsubs, e.cache.Subscribe(func(signal.Change) { e.Trigger() }))
	}

	e.wg.Add(1)
	go e.loop(ctx)

	e.Logger.WithFields(logrus.Fields{
		"interval": e.Interval,
		"origin":   e.origin,
	}).Info("sync engine started")
	return nil
}

// Stop cancels the loop, unsubscribes from signals and waits for in-flight
// calls to return.
func (e *SyncEngine) Stop() {
	e.lifeMu.Lock()
	cancel := e.cancel
	unsubs := e.unsubs
	e.unsubs = nil
	e.lifeMu.Unlock()

	for _, unsub := range unsubs {
		unsub()
	}
	if cancel != nil {
		cancel()
	}
	e.wg.Wait()
}

// Trigger asks for an out-of-cycle poll. It never blocks; triggers arriving
// while one is queued collapse into it.
func (e *SyncEngine) Trigger() {
	select {
	case e.trigger <- struct{}{}:
	default:
	}
}

// SyncNow runs one poll cycle on the caller's goroutine. When a poll is
// already in flight it returns false and that poll runs once more instead.
func (e *SyncEngine) SyncNow(ctx context.Context) bool {
	if !e.polling.CompareAndSwap(false, true) {
		e.again.Store(true)
		return false
	}
	e.runPolls(ctx)
	return true
}

// Orders returns the current visible list.
func (e *SyncEngine) Orders() []Entry {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.buildView()
}

// Lookup returns the visible version of one order.
func (e *SyncEngine) Lookup(id string) (Entry, bool) {
	for _, entry := range e.Orders() {
		if entry.ID == id {
			return entry, true
		}
	}
	return Entry{}, false
}

// Delayed reports whether the last poll failed.
func (e *SyncEngine) Delayed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.delayed
}

func (e *SyncEngine) loop(ctx context.Context) {
	defer e.wg.Done()

	interval := e.Interval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	e.tick(ctx, true)
	for {
		select {
		case <-ctx.Done():
			e.Logger.Info("sync engine stopped")
			return
		case <-ticker.C:
			e.tick(ctx, false)
		case <-e.trigger:
			e.tick(ctx, true)
		}
	}
}

// tick starts a poll unless one is in flight. A busy timer tick is dropped;
// a busy trigger is remembered and runs right after the current poll.
func (e *SyncEngine) tick(ctx context.Context, forced bool) {
	if !e.polling.CompareAndSwap(false, true) {
		if forced {
			e.again.Store(true)
		} else {
			e.Metrics.SkippedTicks.Inc()
		}
		return
	}
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.runPolls(ctx)
	}()
}

// runPolls owns the polling flag on entry and releases it on return.
func (e *SyncEngine) runPolls(ctx context.Context) {
	for {
		e.poll(ctx)
		if ctx.Err() == nil && e.again.Swap(false) {
			continue
		}
		e.polling.Store(false)
		if ctx.Err() != nil || !e.again.Swap(false) {
			return
		}
		if !e.polling.CompareAndSwap(false, true) {
			return
		}
	}
}

func (e *SyncEngine) poll(ctx context.Context) {
	defer e.flush()
	if ctx.Err() != nil {
		return
	}
	callCtx, cancel := e.callContext(ctx)
	orders, err := e.store.List(callCtx)
	cancel()
	if ctx.Err() != nil {
		return
	}

	if err != nil {
		e.Metrics.Polls.WithLabelValues("error").Inc()
		e.mu.Lock()
		first := !e.delayed
		e.delayed = true
		e.mu.Unlock()
		if first {
			e.Logger.WithError(err).Warn("order store unreachable, sync delayed")
			e.emit(Notification{Kind: KindSyncDelayed, Err: err})
		}
		return
	}
	e.Metrics.Polls.WithLabelValues("ok").Inc()

	notes, jobs := e.reconcile(orders)
	e.emit(notes...)
	e.refresh(true)
	e.flush()

	if len(jobs) == 0 {
		return
	}
	for _, job := range jobs {
		if ctx.Err() != nil {
			return
		}
		job(ctx)
	}
	e.refresh(true)
}

func (e *SyncEngine) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.CallTimeout > 0 {
		return context.WithTimeout(ctx, e.CallTimeout)
	}
	return context.WithCancel(ctx)
}

func (e *SyncEngine) loadSnapshot() {
	if e.cache == nil {
		return
	}
	orders, ok, err := e.cache.Read()
	if err != nil {
		e.Logger.WithError(err).Warn("ignoring unreadable order cache")
		return
	}
	if !ok {
		return
	}
	e.mu.Lock()
	if !e.loaded {
		e.remote = orders
	}
	e.mu.Unlock()
	e.refresh(false)
}

// refresh recomputes the view and notifies when it differs from the last
// notified one. write persists it to the cache.
func (e *SyncEngine) refresh(write bool) {
	e.notifyMu.Lock()
	defer e.notifyMu.Unlock()

	e.mu.Lock()
	view := e.buildView()
	pending := len(e.creates) + len(e.mutations) + len(e.deletes)
	e.mu.Unlock()
	e.Metrics.Pending.Set(float64(pending))

	if e.notified && sameView(e.view, view) {
		return
	}
	e.view = view
	e.notified = true

	if write && e.cache != nil {
		if err := e.cache.Write(Orders(view)); err != nil {
			e.Logger.WithError(err).Warn("write order cache")
		}
	}
	e.enqueue(Notification{Kind: KindChanged, Orders: append([]Entry(nil), view...), At: time.Now()})
}

func (e *SyncEngine) emit(notes ...Notification) {
	if len(notes) == 0 {
		return
	}
	e.notifyMu.Lock()
	defer e.notifyMu.Unlock()
	for i := range notes {
		if notes[i].At.IsZero() {
			notes[i].At = time.Now()
		}
	}
	e.enqueue(notes...)
}

// enqueue must be called with notifyMu held so the outbox keeps the order in
// which views were computed.
func (e *SyncEngine) enqueue(notes ...Notification) {
	if e.sink == nil {
		return
	}
	e.outMu.Lock()
	e.outbox = append(e.outbox, notes...)
	e.outMu.Unlock()
}

// flush delivers queued notifications in order. Only one goroutine drains at
// a time; a sink that calls back into the engine or the façade only queues
// more, and the running drain delivers them.
func (e *SyncEngine) flush() {
	e.outMu.Lock()
	if e.draining {
		e.outMu.Unlock()
		return
	}
	e.draining = true
	for len(e.outbox) > 0 {
		batch := e.outbox
		e.outbox = nil
		e.outMu.Unlock()
		for _, n := range batch {
			e.sink.Notify(n)
		}
		e.outMu.Lock()
	}
	e.draining = false
	e.outMu.Unlock()
}

func sameView(a, b []Entry) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		x, y := a[i], b[i]
		if x.ID != y.ID ||
			!x.UpdatedAt.Equal(y.UpdatedAt) ||
			x.Status != y.Status ||
			x.Payment != y.Payment ||
			x.PaymentMethod != y.PaymentMethod ||
			x.Total != y.Total ||
			x.State != y.State {
			return false
		}
	}
	return true
}
