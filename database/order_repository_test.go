package database

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yeremiapane/restaurant-sync/models"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	require.NoError(t, Migrate(db))
	return db
}

func draft(client string) models.Draft {
	return models.Draft{
		Client: client,
		Items:  []models.OrderItem{{Name: "Soup", Quantity: 2, Price: 7.5}},
	}
}

func TestCreateAndList(t *testing.T) {
	repo := NewOrderRepository(setupTestDB(t))
	ctx := context.Background()

	first, err := repo.Create(ctx, draft("Ana"))
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)
	second, err := repo.Create(ctx, draft("Luis"))
	require.NoError(t, err)

	assert.Equal(t, 15.0, first.Total)
	assert.Equal(t, models.StatusPending, first.Status)
	assert.Equal(t, models.PaymentUnpaid, first.Payment)

	orders, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, orders, 2)
	assert.Equal(t, second.ID, orders[0].ID, "newest first")
	assert.Equal(t, first.ID, orders[1].ID)
	assert.Len(t, orders[1].Items, 1)
	assert.Equal(t, "Soup", orders[1].Items[0].Name)
}

func TestListEmptyIsNotNil(t *testing.T) {
	repo := NewOrderRepository(setupTestDB(t))
	orders, err := repo.List(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, orders)
	assert.Empty(t, orders)
}

func TestCreateIsIdempotentByID(t *testing.T) {
	repo := NewOrderRepository(setupTestDB(t))
	ctx := context.Background()

	d := draft("Juan")
	d.ID = "client-1"
	first, err := repo.Create(ctx, d)
	require.NoError(t, err)

	d.Client = "Someone else"
	again, err := repo.Create(ctx, d)
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)
	assert.Equal(t, "Juan", again.Client)

	orders, err := repo.List(ctx)
	require.NoError(t, err)
	assert.Len(t, orders, 1)
}

func TestCreateRejectsInvalidDraft(t *testing.T) {
	repo := NewOrderRepository(setupTestDB(t))
	_, err := repo.Create(context.Background(), models.Draft{Client: "X"})
	assert.True(t, models.IsValidation(err))
}

func TestUpdateStatusRules(t *testing.T) {
	repo := NewOrderRepository(setupTestDB(t))
	ctx := context.Background()
	order, err := repo.Create(ctx, draft("Ana"))
	require.NoError(t, err)

	updated, err := repo.UpdateStatus(ctx, order.ID, models.StatusPreparing)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPreparing, updated.Status)

	same, err := repo.UpdateStatus(ctx, order.ID, models.StatusPreparing)
	require.NoError(t, err)
	assert.True(t, same.UpdatedAt.Equal(updated.UpdatedAt), "same value is a no-op")

	_, err = repo.UpdateStatus(ctx, order.ID, "served")
	assert.True(t, models.IsValidation(err))

	_, err = repo.UpdateStatus(ctx, order.ID, models.StatusCancelled)
	require.NoError(t, err)
	_, err = repo.UpdateStatus(ctx, order.ID, models.StatusPending)
	assert.True(t, models.IsValidation(err), "cancelled never leaves cancelled")

	_, err = repo.UpdateStatus(ctx, "missing", models.StatusReady)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestCannotCancelDelivered(t *testing.T) {
	repo := NewOrderRepository(setupTestDB(t))
	ctx := context.Background()
	order, err := repo.Create(ctx, draft("Ana"))
	require.NoError(t, err)

	_, err = repo.UpdateStatus(ctx, order.ID, models.StatusDelivered)
	require.NoError(t, err)
	_, err = repo.UpdateStatus(ctx, order.ID, models.StatusCancelled)
	assert.True(t, models.IsValidation(err))
}

func TestUpdatePayment(t *testing.T) {
	repo := NewOrderRepository(setupTestDB(t))
	ctx := context.Background()
	order, err := repo.Create(ctx, draft("Ana"))
	require.NoError(t, err)

	paid, err := repo.UpdatePayment(ctx, order.ID, models.PaymentUpdate{State: models.PaymentPaid, Method: models.MethodYape})
	require.NoError(t, err)
	assert.Equal(t, models.PaymentPaid, paid.Payment)
	assert.Equal(t, models.MethodYape, paid.PaymentMethod)

	// empty method keeps the stored one
	paid, err = repo.UpdatePayment(ctx, order.ID, models.PaymentUpdate{State: models.PaymentPaid})
	require.NoError(t, err)
	assert.Equal(t, models.MethodYape, paid.PaymentMethod)

	_, err = repo.UpdatePayment(ctx, order.ID, models.PaymentUpdate{State: "partial"})
	assert.True(t, models.IsValidation(err))
	_, err = repo.UpdatePayment(ctx, order.ID, models.PaymentUpdate{State: models.PaymentPaid, Method: "gold"})
	assert.True(t, models.IsValidation(err))
	_, err = repo.UpdatePayment(ctx, "missing", models.PaymentUpdate{State: models.PaymentPaid})
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestDeleteAndDeleteAll(t *testing.T) {
	repo := NewOrderRepository(setupTestDB(t))
	ctx := context.Background()
	a, err := repo.Create(ctx, draft("Ana"))
	require.NoError(t, err)
	_, err = repo.Create(ctx, draft("Luis"))
	require.NoError(t, err)

	require.NoError(t, repo.Delete(ctx, a.ID))
	assert.ErrorIs(t, repo.Delete(ctx, a.ID), models.ErrNotFound)
	_, err = repo.Get(ctx, a.ID)
	assert.ErrorIs(t, err, models.ErrNotFound)

	require.NoError(t, repo.DeleteAll(ctx))
	orders, err := repo.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, orders)
}

func TestClosedDatabaseIsUnavailable(t *testing.T) {
	db := setupTestDB(t)
	repo := NewOrderRepository(db)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())

	_, err = repo.List(context.Background())
	assert.ErrorIs(t, err, models.ErrUnavailable)
}

func TestSeedAdmin(t *testing.T) {
	db := setupTestDB(t)
	require.NoError(t, SeedAdmin(db, "admin@test.local", "secret"))
	require.NoError(t, SeedAdmin(db, "admin@test.local", "other"))

	var users []models.User
	require.NoError(t, db.Find(&users).Error)
	require.Len(t, users, 1)
	assert.Equal(t, models.RoleAdmin, users[0].Role)
	assert.NotEqual(t, "secret", users[0].Password)
}
