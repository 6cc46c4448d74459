package services

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"
	"github.com/yeremiapane/restaurant-sync/access"
	"github.com/yeremiapane/restaurant-sync/models"
)

type mutationKind string

const (
	mutationStatus  mutationKind = "status"
	mutationPayment mutationKind = "payment"
)

type mutationKey struct {
	id   string
	kind mutationKind
}

// pendingCreate is an order created here and not yet seen in a store list.
type pendingCreate struct {
	order    models.Order
	draft    models.Draft
	misses   int
	failed   bool
	inflight bool
}

// pendingMutation is an absolute status or payment write waiting to be
// reflected by the store.
type pendingMutation struct {
	key      mutationKey
	seq      uint64
	status   models.Status
	payment  models.PaymentUpdate
	attempts int
	inflight bool
}

func (m *pendingMutation) reflected(o models.Order) bool {
	if m.key.kind == mutationStatus {
		return o.Status == m.status
	}
	return m.payment.Reflected(o)
}

func (m *pendingMutation) apply(o *models.Order) {
	if m.key.kind == mutationStatus {
		o.Status = m.status
		return
	}
	o.Payment = m.payment.State
	if m.payment.Method != "" {
		o.PaymentMethod = m.payment.Method
	}
}

// confirmedWrite is a store answer newer than any list seen since. A list
// read before the write landed must not bring the older record back.
type confirmedWrite struct {
	order models.Order
	polls int
}

type pendingDelete struct {
	seq      uint64
	attempts int
	inflight bool
}

// rejected reports errors that must never be retried.
func rejected(err error) bool {
	return models.IsValidation(err) || errors.Is(err, access.ErrForbidden)
}

// reconcile merges a fresh store list. It returns the notifications to send
// and the re-sends to run once the lock is released.
func (e *SyncEngine) reconcile(orders []models.Order) ([]Notification, []func(context.Context)) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var (
		notes []Notification
		jobs  []func(context.Context)
	)
	if e.delayed {
		e.delayed = false
		e.Logger.Info("order store reachable again")
		notes = append(notes, Notification{Kind: KindSyncRestored})
	}

	orders = e.keepConfirmed(orders)
	e.remote = orders
	e.loaded = true
	byID := make(map[string]models.Order, len(orders))
	for _, o := range orders {
		byID[o.ID] = o
	}

	for _, id := range sortedKeys(e.creates) {
		c := e.creates[id]
		if _, ok := byID[id]; ok {
			delete(e.creates, id)
			continue
		}
		c.misses++
		if c.misses >= e.confirmPolls() {
			delete(e.creates, id)
			e.dropMutations(id)
			e.Metrics.Unconfirmed.Inc()
			e.Logger.WithFields(logrus.Fields{"order_id": id, "polls": c.misses}).Warn("sync-timeout: create not confirmed by the store")
			order := c.order
			notes = append(notes, Notification{
				Kind:  KindUnconfirmed,
				Order: &order,
				Err:   fmt.Errorf("order %s: sync-timeout after %d polls", id, c.misses),
			})
			continue
		}
		if c.failed && !c.inflight {
			c.inflight = true
			jobs = append(jobs, e.resendCreate(id, c.draft))
		}
	}

	keys := make([]mutationKey, 0, len(e.mutations))
	for k := range e.mutations {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].id != keys[j].id {
			return keys[i].id < keys[j].id
		}
		return keys[i].kind < keys[j].kind
	})
	for _, key := range keys {
		m := e.mutations[key]
		o, ok := byID[key.id]
		if !ok {
			if _, creating := e.creates[key.id]; !creating {
				delete(e.mutations, key)
			}
			continue
		}
		if m.reflected(o) {
			delete(e.mutations, key)
			continue
		}
		if m.inflight {
			continue
		}
		if m.attempts >= e.retryBudget() {
			delete(e.mutations, key)
			e.Metrics.Conflicts.Inc()
			e.Logger.WithFields(logrus.Fields{"order_id": key.id, "change": key.kind, "attempts": m.attempts}).
				Warn("optimistic change rolled back to store value")
			stored := o
			notes = append(notes, Notification{
				Kind:  KindConflict,
				Order: &stored,
				Err:   fmt.Errorf("%s change of order %s: %w", key.kind, key.id, ErrConflictTimeout),
			})
			continue
		}
		m.attempts++
		m.inflight = true
		jobs = append(jobs, e.resendMutation(*m))
	}

	for _, id := range sortedKeys(e.deletes) {
		d := e.deletes[id]
		o, ok := byID[id]
		if !ok {
			delete(e.deletes, id)
			continue
		}
		if d.inflight {
			continue
		}
		if d.attempts >= e.retryBudget() {
			delete(e.deletes, id)
			e.Metrics.Conflicts.Inc()
			e.Logger.WithFields(logrus.Fields{"order_id": id, "attempts": d.attempts}).Warn("delete not confirmed, order restored")
			stored := o
			notes = append(notes, Notification{
				Kind:  KindConflict,
				Order: &stored,
				Err:   fmt.Errorf("delete of order %s: %w", id, ErrConflictTimeout),
			})
			continue
		}
		d.attempts++
		d.inflight = true
		jobs = append(jobs, e.resendDelete(id, d.seq))
	}

	return notes, jobs
}

func (e *SyncEngine) resendCreate(id string, draft models.Draft) func(context.Context) {
	return func(ctx context.Context) {
		e.Metrics.Resends.WithLabelValues("create").Inc()
		callCtx, cancel := e.callContext(ctx)
		order, err := e.store.Create(callCtx, draft)
		cancel()
		if e.finishCreate(id, order, err) {
			e.rejectedNotice(id, "create", err)
		}
	}
}

func (e *SyncEngine) resendMutation(m pendingMutation) func(context.Context) {
	return func(ctx context.Context) {
		e.Metrics.Resends.WithLabelValues(string(m.key.kind)).Inc()
		callCtx, cancel := e.callContext(ctx)
		var (
			order models.Order
			err   error
		)
		if m.key.kind == mutationStatus {
			order, err = e.store.UpdateStatus(callCtx, m.key.id, m.status)
		} else {
			order, err = e.store.UpdatePayment(callCtx, m.key.id, m.payment)
		}
		cancel()
		if e.finishMutation(m.key, m.seq, order, err) {
			e.rejectedNotice(m.key.id, string(m.key.kind), err)
		}
	}
}

func (e *SyncEngine) resendDelete(id string, seq uint64) func(context.Context) {
	return func(ctx context.Context) {
		e.Metrics.Resends.WithLabelValues("delete").Inc()
		callCtx, cancel := e.callContext(ctx)
		err := e.store.Delete(callCtx, id)
		cancel()
		if e.finishDelete(id, seq, err) {
			e.rejectedNotice(id, "delete", err)
		}
	}
}

// rejectedNotice reports a re-send the store refused outright. The overlay
// is already gone so the store value shows again.
func (e *SyncEngine) rejectedNotice(id, change string, err error) {
	e.Logger.WithError(err).WithFields(logrus.Fields{"order_id": id, "change": change}).Warn("store rejected pending change")
	n := Notification{Kind: KindConflict, Err: fmt.Errorf("%s change of order %s: %w", change, id, err)}
	if entry, ok := e.Lookup(id); ok {
		n.Order = &entry.Order
	}
	e.emit(n)
}

// trackCreate registers an optimistic create and shows it.
func (e *SyncEngine) trackCreate(order models.Order, draft models.Draft) {
	e.mu.Lock()
	e.creates[order.ID] = &pendingCreate{order: order, draft: draft, inflight: true}
	e.mu.Unlock()
	e.refresh(true)
}

// finishCreate records the outcome of a create call and reports whether the
// store rejected it.
func (e *SyncEngine) finishCreate(id string, order models.Order, err error) bool {
	e.mu.Lock()
	c, ok := e.creates[id]
	if !ok {
		e.mu.Unlock()
		return false
	}
	c.inflight = false
	rejectedErr := false
	switch {
	case err == nil:
		c.order = order
		c.failed = false
	case rejected(err):
		delete(e.creates, id)
		e.dropMutations(id)
		rejectedErr = true
	default:
		c.failed = true
	}
	e.mu.Unlock()
	e.refresh(true)
	return rejectedErr
}

// trackMutation overlays an absolute change. It supersedes an older pending
// change of the same kind and returns the sequence the result must carry.
func (e *SyncEngine) trackMutation(id string, kind mutationKind, status models.Status, payment models.PaymentUpdate) uint64 {
	e.mu.Lock()
	e.seq++
	key := mutationKey{id: id, kind: kind}
	e.mutations[key] = &pendingMutation{
		key:      key,
		seq:      e.seq,
		status:   status,
		payment:  payment,
		attempts: 1,
		inflight: true,
	}
	seq := e.seq
	e.mu.Unlock()
	e.refresh(true)
	return seq
}

func (e *SyncEngine) finishMutation(key mutationKey, seq uint64, order models.Order, err error) bool {
	e.mu.Lock()
	m, ok := e.mutations[key]
	if !ok || m.seq != seq {
		e.mu.Unlock()
		return false
	}
	m.inflight = false
	rejectedErr := false
	switch {
	case err == nil:
		e.patchRemote(order)
		if m.reflected(order) {
			delete(e.mutations, key)
		}
	case errors.Is(err, models.ErrNotFound):
		if _, creating := e.creates[key.id]; !creating {
			e.purge(key.id)
		}
	case rejected(err):
		delete(e.mutations, key)
		rejectedErr = true
	}
	e.mu.Unlock()
	e.refresh(true)
	return rejectedErr
}

// trackDeletes hides orders until the store confirms they are gone. The
// returned sequences line up with ids.
func (e *SyncEngine) trackDeletes(ids ...string) []uint64 {
	seqs := make([]uint64, len(ids))
	e.mu.Lock()
	for i, id := range ids {
		e.seq++
		e.deletes[id] = &pendingDelete{seq: e.seq, attempts: 1, inflight: true}
		delete(e.creates, id)
		e.dropMutations(id)
		seqs[i] = e.seq
	}
	e.mu.Unlock()
	e.refresh(true)
	return seqs
}

func (e *SyncEngine) finishDelete(id string, seq uint64, err error) bool {
	e.mu.Lock()
	d, ok := e.deletes[id]
	if !ok || d.seq != seq {
		e.mu.Unlock()
		return false
	}
	d.inflight = false
	rejectedErr := false
	switch {
	case err == nil, errors.Is(err, models.ErrNotFound):
		e.removeRemote(id)
	case rejected(err):
		delete(e.deletes, id)
		rejectedErr = true
	}
	e.mu.Unlock()
	e.refresh(true)
	return rejectedErr
}

// knownIDs lists every order currently visible.
func (e *SyncEngine) knownIDs() []string {
	view := e.Orders()
	ids := make([]string, len(view))
	for i, entry := range view {
		ids[i] = entry.ID
	}
	return ids
}

// buildView must be called with mu held.
func (e *SyncEngine) buildView() []Entry {
	creates := make([]*pendingCreate, 0, len(e.creates))
	for _, c := range e.creates {
		creates = append(creates, c)
	}
	sort.Slice(creates, func(i, j int) bool {
		a, b := creates[i].order, creates[j].order
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID > b.ID
	})

	inRemote := make(map[string]bool, len(e.remote))
	for _, o := range e.remote {
		inRemote[o.ID] = true
	}

	view := make([]Entry, 0, len(e.remote)+len(creates))
	for _, c := range creates {
		if inRemote[c.order.ID] || e.deletes[c.order.ID] != nil {
			continue
		}
		view = append(view, e.overlay(c.order, StateSyncing))
	}
	for _, o := range e.remote {
		if e.deletes[o.ID] != nil {
			continue
		}
		view = append(view, e.overlay(o, StateSynced))
	}
	return view
}

func (e *SyncEngine) overlay(o models.Order, state SyncState) Entry {
	for _, kind := range []mutationKind{mutationStatus, mutationPayment} {
		if m, ok := e.mutations[mutationKey{id: o.ID, kind: kind}]; ok {
			m.apply(&o)
			state = StateSyncing
		}
	}
	return Entry{Order: o, State: state}
}

// keepConfirmed swaps list entries older than a confirmed write for the
// confirmed record. A list that keeps disagreeing for confirmPolls polls
// wins, as does one that no longer has the order.
func (e *SyncEngine) keepConfirmed(orders []models.Order) []models.Order {
	if len(e.confirmed) == 0 {
		return orders
	}
	out := make([]models.Order, len(orders))
	seen := make(map[string]bool, len(orders))
	for i, o := range orders {
		out[i] = o
		seen[o.ID] = true
		c, ok := e.confirmed[o.ID]
		if !ok {
			continue
		}
		if o.UpdatedAt.Before(c.order.UpdatedAt) && c.polls < e.confirmPolls() {
			c.polls++
			out[i] = c.order
			e.Logger.WithField("order_id", o.ID).Debug("list older than confirmed write, keeping confirmed record")
			continue
		}
		delete(e.confirmed, o.ID)
	}
	for id := range e.confirmed {
		if !seen[id] {
			delete(e.confirmed, id)
		}
	}
	return out
}

// patchRemote replaces the stored copy with a newer store answer and
// remembers it until a list catches up. An order still waiting for its first
// list is patched in place.
func (e *SyncEngine) patchRemote(order models.Order) {
	if prev, ok := e.confirmed[order.ID]; !ok || !order.UpdatedAt.Before(prev.order.UpdatedAt) {
		e.confirmed[order.ID] = &confirmedWrite{order: order}
	}
	if c, ok := e.creates[order.ID]; ok && !order.UpdatedAt.Before(c.order.UpdatedAt) {
		c.order = order
	}
	for i, o := range e.remote {
		if o.ID != order.ID {
			continue
		}
		if !order.UpdatedAt.Before(o.UpdatedAt) {
			remote := append([]models.Order(nil), e.remote...)
			remote[i] = order
			e.remote = remote
		}
		return
	}
}

func (e *SyncEngine) removeRemote(id string) {
	delete(e.confirmed, id)
	remote := make([]models.Order, 0, len(e.remote))
	for _, o := range e.remote {
		if o.ID != id {
			remote = append(remote, o)
		}
	}
	e.remote = remote
}

// purge forgets everything about an order the store no longer has.
func (e *SyncEngine) purge(id string) {
	e.removeRemote(id)
	e.dropMutations(id)
	delete(e.creates, id)
	delete(e.deletes, id)
	e.Logger.WithField("order_id", id).Debug("order gone from store, purged")
}

func (e *SyncEngine) dropMutations(id string) {
	delete(e.mutations, mutationKey{id: id, kind: mutationStatus})
	delete(e.mutations, mutationKey{id: id, kind: mutationPayment})
}

func (e *SyncEngine) confirmPolls() int {
	if e.CreateConfirmPolls <= 0 {
		return DefaultCreateConfirmPolls
	}
	return e.CreateConfirmPolls
}

func (e *SyncEngine) retryBudget() int {
	if e.RetryBudget <= 0 {
		return DefaultRetryBudget
	}
	return e.RetryBudget
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
