package common

import "errors"

// Общие ошибки для всех репозиториев
var (
	ErrInvalidAmount = errors.New("amount must be positive")
	ErrInvalidInput  = errors.New("invalid input")
)
