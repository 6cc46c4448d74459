package models

import "errors"

type OrderItem struct {
	Name     string  `json:"name"`
	Quantity int     `json:"quantity"`
	Price    float64 `json:"price"`
}

func (i OrderItem) Validate() error {
	if i.Name == "" {
		return errors.New("item name is required")
	}
	if i.Quantity <= 0 {
		return errors.New("quantity must be greater than zero")
	}
	if i.Price < 0 {
		return errors.New("price cannot be negative")
	}
	return nil
}
