package gateway

import (
	"errors"
	"fmt"
)

// Kind классифицирует ошибки шлюза.
type Kind int

const (
	KindQuery Kind = iota
	KindNetwork
	KindAuth
)

func (k Kind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindAuth:
		return "auth"
	default:
		return "query"
	}
}

// Error возвращают все реализации шлюза.
type Error struct {
	Kind    Kind
	Op      string
	Status  int
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Code != "" {
		return fmt.Sprintf("%s: %s error (%s): %s", e.Op, e.Kind, e.Code, msg)
	}
	return fmt.Sprintf("%s: %s error: %s", e.Op, e.Kind, msg)
}

func (e *Error) Unwrap() error { return e.Err }

// ErrUnfilteredWrite запрещает update и delete по всей таблице.
var ErrUnfilteredWrite = errors.New("update or delete requires a filter")

// KindOf возвращает вид первой ошибки шлюза в цепочке err.
func KindOf(err error) (Kind, bool) {
	var gerr *Error
	if errors.As(err, &gerr) {
		return gerr.Kind, true
	}
	return 0, false
}

func IsKind(err error, k Kind) bool {
	got, ok := KindOf(err)
	return ok && got == k
}

// IsTransient сообщает, сетевая ли это ошибка, которая может пройти
// при повторе. Ошибки запроса, доступа и прочие ошибки окончательные.
func IsTransient(err error) bool {
	return IsKind(err, KindNetwork)
}

// NewQueryError создаёт ошибку запроса, оборачивающую cause.
func NewQueryError(op string, cause error) *Error {
	return &Error{Kind: KindQuery, Op: op, Err: cause}
}
