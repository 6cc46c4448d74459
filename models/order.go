package models

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// Order sources
const (
	SourceStaff        = "staff"
	SourceCustomerMenu = "customer_menu"
)

// Order is the shared record every client replicates. ID is the merge key.
type Order struct {
	ID            string                         `gorm:"primaryKey;type:varchar(64)" json:"id"`
	Client        string                         `gorm:"type:varchar(255);not null" json:"client"`
	Phone         string                         `gorm:"type:varchar(50)" json:"phone,omitempty"`
	TableID       string                         `gorm:"type:varchar(50);index" json:"table_id,omitempty"`
	Items         datatypes.JSONSlice[OrderItem] `json:"items"`
	Total         float64                        `gorm:"type:decimal(10,2);not null;default:0.00" json:"total"`
	Status        Status                         `gorm:"type:varchar(20);not null;default:'pending';index" json:"status"`
	Payment       PaymentState                   `gorm:"type:varchar(20);not null;default:'unpaid'" json:"payment"`
	PaymentMethod PaymentMethod                  `gorm:"type:varchar(20)" json:"payment_method,omitempty"`
	Source        string                         `gorm:"type:varchar(30)" json:"source,omitempty"`
	CreatedAt     time.Time                      `gorm:"not null" json:"created_at"`
	UpdatedAt     time.Time                      `gorm:"not null" json:"updated_at"`
}

// Draft is the input of a create. ID, CreatedAt and Total are optional.
type Draft struct {
	ID            string        `json:"id,omitempty"`
	Client        string        `json:"client"`
	Phone         string        `json:"phone,omitempty"`
	TableID       string        `json:"table_id,omitempty"`
	Items         []OrderItem   `json:"items"`
	Total         *float64      `json:"total,omitempty"`
	PaymentMethod PaymentMethod `json:"payment_method,omitempty"`
	Source        string        `json:"source,omitempty"`
	CreatedAt     time.Time     `json:"created_at,omitempty"`
}

// Validate checks the caller-side contract of a create.
func (d Draft) Validate() error {
	if strings.TrimSpace(d.Client) == "" {
		return &ValidationError{Field: "client", Reason: "client name is required"}
	}
	if len(d.Items) == 0 {
		return &ValidationError{Field: "items", Reason: "order has no items"}
	}
	for i, item := range d.Items {
		if err := item.Validate(); err != nil {
			return &ValidationError{Field: fmt.Sprintf("items[%d]", i), Reason: err.Error()}
		}
	}
	if d.Total != nil && *d.Total < 0 {
		return &ValidationError{Field: "total", Reason: "total cannot be negative"}
	}
	if d.PaymentMethod != "" && !d.PaymentMethod.Valid() {
		return &ValidationError{Field: "payment_method", Reason: fmt.Sprintf("unknown payment method %q", d.PaymentMethod)}
	}
	return nil
}

// NewOrder builds the initial record of a draft: pending, unpaid, with an id
// and creation time when the draft does not carry them.
func NewOrder(d Draft, now time.Time) Order {
	order := Order{
		ID:            d.ID,
		Client:        strings.TrimSpace(d.Client),
		Phone:         d.Phone,
		TableID:       d.TableID,
		Items:         append([]OrderItem(nil), d.Items...),
		Status:        StatusPending,
		Payment:       PaymentUnpaid,
		PaymentMethod: d.PaymentMethod,
		Source:        d.Source,
		CreatedAt:     d.CreatedAt,
		UpdatedAt:     now,
	}
	if order.ID == "" {
		order.ID = NewOrderID()
	}
	if order.CreatedAt.IsZero() {
		order.CreatedAt = now
	}
	if order.Source == "" {
		order.Source = SourceStaff
	}
	if d.Total != nil {
		order.Total = *d.Total
	} else {
		order.Total = ComputeTotal(d.Items)
	}
	return order
}

// ComputeTotal -> Σ quantity*price rounded to cents
func ComputeTotal(items []OrderItem) float64 {
	sum := decimal.Zero
	for _, item := range items {
		sum = sum.Add(decimal.NewFromFloat(item.Price).Mul(decimal.NewFromInt(int64(item.Quantity))))
	}
	total, _ := sum.Round(2).Float64()
	return total
}

var (
	idMu   sync.Mutex
	lastID int64
)

// NewOrderID returns a nanosecond timestamp, strictly increasing within the
// process, plus a random suffix so ids from different devices never collide.
func NewOrderID() string {
	idMu.Lock()
	ts := time.Now().UnixNano()
	if ts <= lastID {
		ts = lastID + 1
	}
	lastID = ts
	idMu.Unlock()

	return fmt.Sprintf("%d-%s", ts, uuid.NewString()[:8])
}

// FilterByStatus -> orders in the given status, order preserved
func FilterByStatus(orders []Order, status Status) []Order {
	var out []Order
	for _, o := range orders {
		if o.Status == status {
			out = append(out, o)
		}
	}
	return out
}

// Revenue sums the totals of delivered orders.
func Revenue(orders []Order) float64 {
	sum := decimal.Zero
	for _, o := range orders {
		if o.Status == StatusDelivered {
			sum = sum.Add(decimal.NewFromFloat(o.Total))
		}
	}
	total, _ := sum.Round(2).Float64()
	return total
}
