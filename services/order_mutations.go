package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/yeremiapane/restaurant-sync/access"
	"github.com/yeremiapane/restaurant-sync/models"
)

// OrderMutations is what a client UI calls to change orders. Every change is
// shown optimistically through the engine before the store call, and the
// call's outcome is handed back to the engine. Only validation and
// authorization errors are returned; transient failures surface as engine
// notifications. Notifications raised by a call reach the sink after the
// call has released its locks, so a sink may call back in.
type OrderMutations struct {
	store  OrderStore
	engine *SyncEngine
	auth   access.Authorizer
	log    logrus.FieldLogger
	now    func() time.Time

	// mu keeps this instance's mutations in submission order.
	mu sync.Mutex
}

// NewOrderMutations wires the façade. A nil auth permits everything.
func NewOrderMutations(store OrderStore, engine *SyncEngine, auth access.Authorizer) *OrderMutations {
	if auth == nil {
		auth = access.AllowAll
	}
	return &OrderMutations{
		store:  store,
		engine: engine,
		auth:   auth,
		log:    engine.Logger.WithField("component", "order_mutations"),
		now:    time.Now,
	}
}

// CreateOrder validates the draft, shows the order as syncing and sends it.
// It returns the store's record, or the optimistic one when the store could
// not be reached.
func (m *OrderMutations) CreateOrder(ctx context.Context, draft models.Draft) (models.Order, error) {
	defer m.engine.flush()
	if err := m.authorize(access.OpCreate); err != nil {
		return models.Order{}, err
	}
	if err := draft.Validate(); err != nil {
		return models.Order{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	order := models.NewOrder(draft, m.now())
	draft.ID = order.ID
	draft.CreatedAt = order.CreatedAt
	draft.Source = order.Source
	m.engine.trackCreate(order, draft)

	callCtx, cancel := m.engine.callContext(ctx)
	stored, err := m.store.Create(callCtx, draft)
	cancel()
	if m.engine.finishCreate(order.ID, stored, err) {
		return models.Order{}, err
	}
	if err != nil {
		m.absorbed(order.ID, "create", err)
		return order, nil
	}
	m.landed()
	return stored, nil
}

// AdvanceStatus moves an order one step along
// pending, preparing, ready, delivered and back to pending. A cancelled
// order does not move.
func (m *OrderMutations) AdvanceStatus(ctx context.Context, id string) error {
	defer m.engine.flush()
	if err := m.authorize(access.OpStatus); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, err := m.lookup(id)
	if err != nil {
		return err
	}
	next, ok := entry.Status.Next()
	if !ok {
		return nil
	}
	return m.writeStatus(ctx, id, next)
}

// SetStatus writes an absolute status. Setting cancelled is a Cancel.
func (m *OrderMutations) SetStatus(ctx context.Context, id string, status models.Status) error {
	defer m.engine.flush()
	if !status.Valid() {
		return &models.ValidationError{Field: "status", Reason: fmt.Sprintf("unknown status %q", status)}
	}
	if status == models.StatusCancelled {
		return m.Cancel(ctx, id)
	}
	if err := m.authorize(access.OpStatus); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, err := m.lookup(id)
	if err != nil {
		return err
	}
	if entry.Status == status {
		return nil
	}
	if entry.Status == models.StatusCancelled {
		return &models.ValidationError{Field: "status", Reason: "order is cancelled"}
	}
	return m.writeStatus(ctx, id, status)
}

// Cancel moves a pending, preparing or ready order to cancelled.
func (m *OrderMutations) Cancel(ctx context.Context, id string) error {
	defer m.engine.flush()
	if err := m.authorize(access.OpCancel); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, err := m.lookup(id)
	if err != nil {
		return err
	}
	if entry.Status == models.StatusCancelled {
		return nil
	}
	if !entry.Status.Cancellable() {
		return &models.ValidationError{Field: "status", Reason: fmt.Sprintf("cannot cancel a %s order", entry.Status)}
	}
	return m.writeStatus(ctx, id, models.StatusCancelled)
}

// MarkPaid sets the order paid. An empty method keeps the stored one.
func (m *OrderMutations) MarkPaid(ctx context.Context, id string, method models.PaymentMethod) error {
	defer m.engine.flush()
	if err := m.authorize(access.OpPayment); err != nil {
		return err
	}
	if method != "" && !method.Valid() {
		return &models.ValidationError{Field: "payment_method", Reason: fmt.Sprintf("unknown payment method %q", method)}
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, err := m.lookup(id)
	if err != nil {
		return err
	}
	update := models.PaymentUpdate{State: models.PaymentPaid, Method: method}
	if update.Reflected(entry.Order) {
		return nil
	}

	seq := m.engine.trackMutation(id, mutationPayment, "", update)
	callCtx, cancel := m.engine.callContext(ctx)
	stored, err := m.store.UpdatePayment(callCtx, id, update)
	cancel()
	return m.settle(mutationKey{id: id, kind: mutationPayment}, seq, stored, err)
}

// DeleteOrder removes an order everywhere. Deleting an order the store no
// longer has is not an error.
func (m *OrderMutations) DeleteOrder(ctx context.Context, id string) error {
	defer m.engine.flush()
	if err := m.authorize(access.OpDelete); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	seq := m.engine.trackDeletes(id)[0]
	callCtx, cancel := m.engine.callContext(ctx)
	err := m.store.Delete(callCtx, id)
	cancel()
	if m.engine.finishDelete(id, seq, err) {
		return err
	}
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		m.absorbed(id, "delete", err)
		return nil
	}
	m.landed()
	return nil
}

// DeleteAll clears the store. Orders visible here stay hidden until the
// store confirms they are gone.
func (m *OrderMutations) DeleteAll(ctx context.Context) error {
	defer m.engine.flush()
	if err := m.authorize(access.OpDeleteAll); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := m.engine.knownIDs()
	seqs := m.engine.trackDeletes(ids...)
	callCtx, cancel := m.engine.callContext(ctx)
	err := m.store.DeleteAll(callCtx)
	cancel()

	refused := false
	for i, id := range ids {
		if m.engine.finishDelete(id, seqs[i], err) {
			refused = true
		}
	}
	if refused || rejected(err) {
		return err
	}
	if err != nil {
		m.absorbed("", "delete_all", err)
		return nil
	}
	m.landed()
	return nil
}

func (m *OrderMutations) writeStatus(ctx context.Context, id string, status models.Status) error {
	seq := m.engine.trackMutation(id, mutationStatus, status, models.PaymentUpdate{})
	callCtx, cancel := m.engine.callContext(ctx)
	stored, err := m.store.UpdateStatus(callCtx, id, status)
	cancel()
	return m.settle(mutationKey{id: id, kind: mutationStatus}, seq, stored, err)
}

func (m *OrderMutations) settle(key mutationKey, seq uint64, stored models.Order, err error) error {
	if m.engine.finishMutation(key, seq, stored, err) {
		return err
	}
	if err != nil {
		m.absorbed(key.id, string(key.kind), err)
		return nil
	}
	m.landed()
	return nil
}

// landed wakes this engine and every watcher after a confirmed write.
func (m *OrderMutations) landed() {
	m.engine.Trigger()
	m.engine.Announce()
}

func (m *OrderMutations) absorbed(id, change string, err error) {
	entry := m.log.WithError(err).WithFields(logrus.Fields{
		"order_id": id,
		"change":   change,
	})
	if errors.Is(err, models.ErrNotFound) {
		entry.Debug("order no longer in store")
		return
	}
	entry.Warn("store write failed, will retry on next poll")
}

func (m *OrderMutations) lookup(id string) (Entry, error) {
	entry, ok := m.engine.Lookup(id)
	if !ok {
		return Entry{}, &models.ValidationError{Field: "id", Reason: fmt.Sprintf("unknown order %q", id)}
	}
	return entry, nil
}

func (m *OrderMutations) authorize(op access.Operation) error {
	if !m.auth.Allow(op) {
		return fmt.Errorf("%s: %w", op, access.ErrForbidden)
	}
	return nil
}
