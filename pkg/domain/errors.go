package domain

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrValidation        = errors.New("validation error")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrTransient         = errors.New("transient infrastructure error")
	ErrPoisonMessage     = errors.New("poison message")
)
