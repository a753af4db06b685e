package models

import (
	"errors"
	"fmt"
)

// Бизнес-ошибки — это ожидаемые исходы, клиент по ним ветвится.
// Инфраструктурные ошибки оборачиваются pkg/errors и уходят наверх как 5xx.
var (
	ErrNotFound            = errors.New("not found")
	ErrValidation          = errors.New("validation failed")
	ErrAlreadyAssigned     = errors.New("order already assigned")
	ErrConflict            = errors.New("concurrent state change")
	ErrUnauthorized        = errors.New("actor does not own the resource")
	ErrInsufficientBalance = errors.New("balance allowance exceeded")
	// ErrRateLimited is not part of the business taxonomy; the transport maps
	// it to 429 and the caller just slows down.
	ErrRateLimited = errors.New("too many requests")
)

// InvalidTransitionError carries the attempted edge for diagnostics.
type InvalidTransitionError struct {
	From string
	To   string
	Role string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition %s -> %s by %s", e.From, e.To, e.Role)
}

// CodeMismatchError reports how many attempts were consumed so far.
type CodeMismatchError struct {
	Attempts int32
}

func (e *CodeMismatchError) Error() string {
	return fmt.Sprintf("delivery code mismatch (attempt %d)", e.Attempts)
}
