package services

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/yeremiapane/restaurant-sync/access"
	"github.com/yeremiapane/restaurant-sync/database"
	"github.com/yeremiapane/restaurant-sync/localcache"
	"github.com/yeremiapane/restaurant-sync/models"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newRepo(t *testing.T) *database.OrderRepository {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", name)), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	require.NoError(t, database.Migrate(db))
	return database.NewOrderRepository(db)
}

// faultyStore wraps a real store and injects failures per operation.
type faultyStore struct {
	OrderStore

	mu      sync.Mutex
	calls   []string
	fail    map[string]error
	swallow map[string]bool
	block   chan struct{}
	// when hold is set, List reads the store, reports on listed and then
	// waits on hold before answering with what it read
	hold    chan struct{}
	listed  chan struct{}
	active  int
	maxSeen int
}

func newFaultyStore(inner OrderStore) *faultyStore {
	return &faultyStore{
		OrderStore: inner,
		fail:       make(map[string]error),
		swallow:    make(map[string]bool),
	}
}

func (f *faultyStore) setFail(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.fail, op)
		return
	}
	f.fail[op] = err
}

func (f *faultyStore) setSwallow(op string, on bool) {
	f.mu.Lock()
	f.swallow[op] = on
	f.mu.Unlock()
}

func (f *faultyStore) record(op string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, op)
	return f.swallow[op], f.fail[op]
}

func (f *faultyStore) count(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if op == "" || c == op {
			n++
		}
	}
	return n
}

func unavailableErr() error {
	return fmt.Errorf("injected: %w", models.ErrUnavailable)
}

func (f *faultyStore) List(ctx context.Context) ([]models.Order, error) {
	if _, err := f.record("list"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	block, hold, listed := f.block, f.hold, f.listed
	f.active++
	if f.active > f.maxSeen {
		f.maxSeen = f.active
	}
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		f.active--
		f.mu.Unlock()
	}()
	if block != nil {
		<-block
	}
	if hold == nil {
		return f.OrderStore.List(ctx)
	}
	orders, err := f.OrderStore.List(ctx)
	select {
	case listed <- struct{}{}:
	default:
	}
	<-hold
	return orders, err
}

func (f *faultyStore) Create(ctx context.Context, d models.Draft) (models.Order, error) {
	swallow, err := f.record("create")
	if err != nil {
		return models.Order{}, err
	}
	if swallow {
		return models.NewOrder(d, time.Now()), nil
	}
	return f.OrderStore.Create(ctx, d)
}

func (f *faultyStore) UpdateStatus(ctx context.Context, id string, s models.Status) (models.Order, error) {
	if _, err := f.record("status"); err != nil {
		return models.Order{}, err
	}
	return f.OrderStore.UpdateStatus(ctx, id, s)
}

func (f *faultyStore) UpdatePayment(ctx context.Context, id string, p models.PaymentUpdate) (models.Order, error) {
	if _, err := f.record("payment"); err != nil {
		return models.Order{}, err
	}
	return f.OrderStore.UpdatePayment(ctx, id, p)
}

func (f *faultyStore) Delete(ctx context.Context, id string) error {
	if _, err := f.record("delete"); err != nil {
		return err
	}
	return f.OrderStore.Delete(ctx, id)
}

func (f *faultyStore) DeleteAll(ctx context.Context) error {
	if _, err := f.record("delete_all"); err != nil {
		return err
	}
	return f.OrderStore.DeleteAll(ctx)
}

// sinkRecorder keeps every notification.
type sinkRecorder struct {
	mu    sync.Mutex
	notes []Notification
}

func (s *sinkRecorder) Notify(n Notification) {
	s.mu.Lock()
	s.notes = append(s.notes, n)
	s.mu.Unlock()
}

func (s *sinkRecorder) kind(k Kind) []Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Notification
	for _, n := range s.notes {
		if n.Kind == k {
			out = append(out, n)
		}
	}
	return out
}

func (s *sinkRecorder) lastView() []Entry {
	changed := s.kind(KindChanged)
	if len(changed) == 0 {
		return nil
	}
	return changed[len(changed)-1].Orders
}

// client is one independent client instance.
type client struct {
	engine    *SyncEngine
	mutations *OrderMutations
	sink      *sinkRecorder
}

func newClient(t *testing.T, store OrderStore, cache *localcache.Cache, auth access.Authorizer) *client {
	t.Helper()
	sink := &sinkRecorder{}
	engine := NewSyncEngine(store, cache, sink)
	engine.CallTimeout = 2 * time.Second
	return &client{
		engine:    engine,
		mutations: NewOrderMutations(store, engine, auth),
		sink:      sink,
	}
}

func (c *client) sync(t *testing.T) {
	t.Helper()
	require.True(t, c.engine.SyncNow(context.Background()))
}

func (c *client) entry(t *testing.T, id string) Entry {
	t.Helper()
	e, ok := c.engine.Lookup(id)
	require.True(t, ok, "order %s not visible", id)
	return e
}

func juan() models.Draft {
	total := 10.0
	return models.Draft{
		Client: "Juan",
		Items:  []models.OrderItem{{Name: "Soup", Quantity: 1, Price: 10}},
		Total:  &total,
	}
}

func draftFor(client string) models.Draft {
	return models.Draft{
		Client: client,
		Items:  []models.OrderItem{{Name: "Tea", Quantity: 2, Price: 1.5}},
	}
}
