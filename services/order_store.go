package services

import (
	"context"
	"errors"

	"github.com/yeremiapane/restaurant-sync/models"
)

// OrderStore is the authoritative order collection as seen by a client
// instance. Implementations return models.ErrUnavailable for transient
// failures, models.ErrNotFound for stale ids and *models.ValidationError for
// rejected input.
type OrderStore interface {
	List(ctx context.Context) ([]models.Order, error)
	Create(ctx context.Context, draft models.Draft) (models.Order, error)
	UpdateStatus(ctx context.Context, id string, status models.Status) (models.Order, error)
	UpdatePayment(ctx context.Context, id string, p models.PaymentUpdate) (models.Order, error)
	Delete(ctx context.Context, id string) error
	DeleteAll(ctx context.Context) error
}

// ErrConflictTimeout is carried by a conflict notification when an optimistic
// change was not confirmed by the store within the retry budget.
var ErrConflictTimeout = errors.New("optimistic change not confirmed by the store")
