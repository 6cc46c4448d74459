// Package access decides which role may run which order operation. The store
// service enforces it per route and the client façade consults it before
// touching anything.
package access

import (
	"errors"

	"github.com/yeremiapane/restaurant-sync/models"
)

type Operation string

const (
	OpCreate    Operation = "create"
	OpStatus    Operation = "status"
	OpPayment   Operation = "payment"
	OpCancel    Operation = "cancel"
	OpDelete    Operation = "delete"
	OpDeleteAll Operation = "delete_all"
)

// ErrForbidden is returned when the current role may not run an operation.
var ErrForbidden = errors.New("operation not permitted for role")

// ErrUnauthorized is returned when the store does not accept the caller's
// credentials, typically an expired token. A fresh login clears it.
var ErrUnauthorized = errors.New("credentials not accepted")

// Authorizer answers allow/deny for one operation.
type Authorizer interface {
	Allow(op Operation) bool
}

var permissions = map[string]map[Operation]bool{
	models.RoleAdmin: {
		OpCreate: true, OpStatus: true, OpPayment: true,
		OpCancel: true, OpDelete: true, OpDeleteAll: true,
	},
	models.RoleCashier: {
		OpCreate: true, OpStatus: true, OpPayment: true, OpCancel: true,
	},
	models.RolePacker: {
		OpStatus: true,
	},
}

// Permitted reports whether role may run op. Unknown roles get nothing.
func Permitted(role string, op Operation) bool {
	return permissions[role][op]
}

// RolePolicy authorizes with the fixed table above.
type RolePolicy struct {
	Role string
}

func (p RolePolicy) Allow(op Operation) bool {
	return Permitted(p.Role, op)
}

type allowAll struct{}

func (allowAll) Allow(Operation) bool { return true }

// AllowAll permits every operation. Used by embedded single-user setups.
var AllowAll Authorizer = allowAll{}
