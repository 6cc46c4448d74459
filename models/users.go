package models

import "time"

// Roles carried in the bearer token
const (
	RoleAdmin   = "admin"
	RoleCashier = "cashier"
	RolePacker  = "packer"
)

type User struct {
	ID        uint   `gorm:"primaryKey"`
	Name      string `gorm:"type:varchar(255); not null"`
	Email     string `gorm:"type:varchar(255); unique;not null"`
	Password  string `gorm:"type:varchar(255); not null"`
	Role      string `gorm:"type:varchar(20); not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func ValidRole(role string) bool {
	return role == RoleAdmin || role == RoleCashier || role == RolePacker
}
