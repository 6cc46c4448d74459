package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/yeremiapane/restaurant-sync/models"
	"gorm.io/gorm"
)

// OrderRepository is the authoritative order collection backed by gorm.
// It satisfies the same contract as the remote store client so a device can
// run against it directly.
type OrderRepository struct {
	DB *gorm.DB
}

func NewOrderRepository(db *gorm.DB) *OrderRepository {
	return &OrderRepository{DB: db}
}

// List -> all orders, newest first
func (r *OrderRepository) List(ctx context.Context) ([]models.Order, error) {
	var orders []models.Order
	if err := r.DB.WithContext(ctx).Order("created_at DESC").Find(&orders).Error; err != nil {
		return nil, unavailable("list orders", err)
	}
	if orders == nil {
		orders = []models.Order{}
	}
	return orders, nil
}

// Get -> one order by id
func (r *OrderRepository) Get(ctx context.Context, id string) (models.Order, error) {
	var order models.Order
	if err := r.DB.WithContext(ctx).First(&order, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.Order{}, fmt.Errorf("order %s: %w", id, models.ErrNotFound)
		}
		return models.Order{}, unavailable("get order", err)
	}
	return order, nil
}

// Create stores a new order. A draft carrying an id that already exists
// returns the stored record unchanged, so re-sending a create is harmless.
func (r *OrderRepository) Create(ctx context.Context, draft models.Draft) (models.Order, error) {
	if err := draft.Validate(); err != nil {
		return models.Order{}, err
	}
	order := models.NewOrder(draft, time.Now())

	err := r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.Order
		err := tx.First(&existing, "id = ?", order.ID).Error
		if err == nil {
			order = existing
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		return tx.Create(&order).Error
	})
	if err != nil {
		return models.Order{}, unavailable("create order", err)
	}
	return order, nil
}

// UpdateStatus sets an absolute status. Writing the current value again is a
// no-op. A cancelled order never leaves cancelled and a delivered one cannot
// be cancelled.
func (r *OrderRepository) UpdateStatus(ctx context.Context, id string, status models.Status) (models.Order, error) {
	if !status.Valid() {
		return models.Order{}, &models.ValidationError{Field: "status", Reason: fmt.Sprintf("unknown status %q", status)}
	}
	return r.update(ctx, id, func(order *models.Order) error {
		if order.Status == status {
			return errUnchanged
		}
		if order.Status == models.StatusCancelled {
			return &models.ValidationError{Field: "status", Reason: "order is cancelled"}
		}
		if status == models.StatusCancelled && !order.Status.Cancellable() {
			return &models.ValidationError{Field: "status", Reason: fmt.Sprintf("cannot cancel a %s order", order.Status)}
		}
		order.Status = status
		return nil
	})
}

// UpdatePayment sets the payment state and, when given, the method.
func (r *OrderRepository) UpdatePayment(ctx context.Context, id string, p models.PaymentUpdate) (models.Order, error) {
	if !p.State.Valid() {
		return models.Order{}, &models.ValidationError{Field: "payment", Reason: fmt.Sprintf("unknown payment state %q", p.State)}
	}
	if p.Method != "" && !p.Method.Valid() {
		return models.Order{}, &models.ValidationError{Field: "payment_method", Reason: fmt.Sprintf("unknown payment method %q", p.Method)}
	}
	return r.update(ctx, id, func(order *models.Order) error {
		if p.Reflected(*order) {
			return errUnchanged
		}
		order.Payment = p.State
		if p.Method != "" {
			order.PaymentMethod = p.Method
		}
		return nil
	})
}

// Delete removes one order permanently.
func (r *OrderRepository) Delete(ctx context.Context, id string) error {
	res := r.DB.WithContext(ctx).Delete(&models.Order{}, "id = ?", id)
	if res.Error != nil {
		return unavailable("delete order", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("order %s: %w", id, models.ErrNotFound)
	}
	return nil
}

// DeleteAll clears the collection.
func (r *OrderRepository) DeleteAll(ctx context.Context) error {
	if err := r.DB.WithContext(ctx).Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&models.Order{}).Error; err != nil {
		return unavailable("delete all orders", err)
	}
	return nil
}

var errUnchanged = errors.New("unchanged")

func (r *OrderRepository) update(ctx context.Context, id string, apply func(*models.Order) error) (models.Order, error) {
	var order models.Order
	err := r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&order, "id = ?", id).Error; err != nil {
			return err
		}
		if err := apply(&order); err != nil {
			return err
		}
		order.UpdatedAt = time.Now()
		if err := tx.Save(&order).Error; err != nil {
			return err
		}
		// answer with what a later List will read, timestamp precision included
		return tx.First(&order, "id = ?", id).Error
	})
	switch {
	case err == nil, errors.Is(err, errUnchanged):
		return order, nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return models.Order{}, fmt.Errorf("order %s: %w", id, models.ErrNotFound)
	case models.IsValidation(err):
		return models.Order{}, err
	default:
		return models.Order{}, unavailable("update order", err)
	}
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %v", op, models.ErrUnavailable, err)
}
