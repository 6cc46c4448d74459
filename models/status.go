package models

// Status is the kitchen lifecycle of an order.
type Status string

const (
	StatusPending   Status = "pending"
	StatusPreparing Status = "preparing"
	StatusReady     Status = "ready"
	StatusDelivered Status = "delivered"
	StatusCancelled Status = "cancelled"
)

// cycle is the order walked by the advance action.
var cycle = []Status{StatusPending, StatusPreparing, StatusReady, StatusDelivered}

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusPreparing, StatusReady, StatusDelivered, StatusCancelled:
		return true
	}
	return false
}

// Next returns the status after one advance. Delivered wraps to pending.
// Cancelled never advances and reports false.
func (s Status) Next() (Status, bool) {
	if s == StatusCancelled {
		return s, false
	}
	for i, st := range cycle {
		if st == s {
			return cycle[(i+1)%len(cycle)], true
		}
	}
	return StatusPending, true
}

// Cancellable reports whether an explicit cancel may move s to cancelled.
func (s Status) Cancellable() bool {
	return s == StatusPending || s == StatusPreparing || s == StatusReady
}

// PaymentState is paid/unpaid; the method is tracked separately.
type PaymentState string

const (
	PaymentUnpaid PaymentState = "unpaid"
	PaymentPaid   PaymentState = "paid"
)

func (p PaymentState) Valid() bool {
	return p == PaymentUnpaid || p == PaymentPaid
}

type PaymentMethod string

const (
	MethodCash PaymentMethod = "efectivo"
	MethodCard PaymentMethod = "tarjeta"
	MethodYape PaymentMethod = "yape"
	MethodPlin PaymentMethod = "plin"
)

func (m PaymentMethod) Valid() bool {
	switch m {
	case MethodCash, MethodCard, MethodYape, MethodPlin:
		return true
	}
	return false
}

// PaymentUpdate is the body of a payment change. An empty Method keeps the
// stored one.
type PaymentUpdate struct {
	State  PaymentState  `json:"payment"`
	Method PaymentMethod `json:"payment_method,omitempty"`
}

// Reflected reports whether o already carries this update.
func (p PaymentUpdate) Reflected(o Order) bool {
	if o.Payment != p.State {
		return false
	}
	return p.Method == "" || o.PaymentMethod == p.Method
}
