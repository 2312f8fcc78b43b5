package mikrotik

import (
	"errors"
	"fmt"
	"strings"
)

// ErrSessionClosed — операция на уже закрытой сессии.
var ErrSessionClosed = errors.New("mikrotik: session closed")

// AuthError — роутер отверг учётные данные.
type AuthError struct {
	Address string
	Err     error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("mikrotik: auth rejected by %s: %v", e.Address, e.Err)
}
func (e *AuthError) Unwrap() error { return e.Err }

// ProtocolError — неожиданный/битый ответ устройства.
type ProtocolError struct {
	Command string
	Detail  string
	Err     error
}

func (e *ProtocolError) Error() string {
	msg := fmt.Sprintf("mikrotik: protocol error on %s: %s", e.Command, e.Detail)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}
func (e *ProtocolError) Unwrap() error { return e.Err }

// BatchLimitError — batch превысил жёсткий лимит устройства.
// Возвращается ДО каких-либо сетевых вызовов.
type BatchLimitError struct {
	Size  int
	Limit int
}

func (e *BatchLimitError) Error() string {
	return fmt.Sprintf("mikrotik: batch of %d exceeds limit of %d", e.Size, e.Limit)
}

// Attempt — результат одной попытки подключения (стратегия + причина отказа).
type Attempt struct {
	Strategy string
	Address  string
	Err      error
}

// ConnectError — все стратегии исчерпаны. Несёт упорядоченный список причин,
// чтобы вызывающий мог отличить "неверный пароль" от "недоступен".
type ConnectError struct {
	Host     string
	Attempts []Attempt
}

func (e *ConnectError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "mikrotik: all strategies failed for %s:", e.Host)
	for _, a := range e.Attempts {
		fmt.Fprintf(&b, " [%s %s: %v]", a.Strategy, a.Address, a.Err)
	}
	return b.String()
}

// AuthRejected — true, если хотя бы одна стратегия упала на авторизации.
func (e *ConnectError) AuthRejected() bool {
	for _, a := range e.Attempts {
		var ae *AuthError
		if errors.As(a.Err, &ae) {
			return true
		}
	}
	return false
}
