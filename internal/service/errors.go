package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/linemk/naijahub/internal/auth"
	"github.com/linemk/naijahub/internal/cache"
)

var (
	ErrAuthRequired         = errors.New("authentication required")
	ErrConfirmationRequired = errors.New("confirmation required")
	ErrNotFound             = errors.New("not found")
	// ErrDuplicateCheckout возвращают guard'ы идемпотентности для уже занятого ключа.
	ErrDuplicateCheckout = errors.New("checkout already submitted")
)

// ValidationError ошибки полей, найденные до любого удалённого вызова.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	names := make([]string, 0, len(e.Fields))
	for name := range e.Fields {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, len(names))
	for i, name := range names {
		parts[i] = name + " " + e.Fields[name]
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func fieldError(field, msg string) *ValidationError {
	return &ValidationError{Fields: map[string]string{field: msg}}
}

// PartialWriteError оформление, остановившееся после записи заказа.
// Записанное до Step не откатывается.
type PartialWriteError struct {
	Step    CheckoutState
	OrderID string
	Err     error
}

func (e *PartialWriteError) Error() string {
	return fmt.Sprintf("checkout stopped at %s after order %s was created: %v", e.Step, e.OrderID, e.Err)
}

func (e *PartialWriteError) Unwrap() error { return e.Err }

// StaleError сопровождает прежние данные из кэша после неудачной перезагрузки.
type StaleError struct {
	Err error
}

func (e *StaleError) Error() string { return "serving previous data: " + e.Err.Error() }

func (e *StaleError) Unwrap() error { return e.Err }

func resolve[T any](res cache.Result[T]) (T, error) {
	if res.Err == nil {
		return res.Data, nil
	}
	if res.Stale {
		return res.Data, &StaleError{Err: res.Err}
	}
	var zero T
	return zero, res.Err
}

func caller(ctx context.Context) (auth.Identity, error) {
	id, ok := auth.FromContext(ctx)
	if !ok {
		return auth.Identity{}, ErrAuthRequired
	}
	return id, nil
}

// callerID возвращает id вызывающего, пустой для анонимов.
func callerID(ctx context.Context) (string, bool) {
	id, err := caller(ctx)
	if err != nil {
		return "", false
	}
	return id.UserID, true
}
