package mikrotik

import (
	"context"
	"crypto/tls"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-routeros/routeros/v3"
)

// Reply — распакованный ответ устройства: строки-записи плюс =ret= финального
// предложения (id созданной записи для команд add).
type Reply struct {
	Rows []map[string]string
	Ret  string
}

// CommandChannel — один канал управления устройством. Предложение — путь
// команды плюс слова "=key=value" / "?key=value" (см. протокол RouterOS API).
// Реализуется снаружи протокольной библиотекой, здесь не переизобретается.
type CommandChannel interface {
	Exec(ctx context.Context, sentence ...string) (*Reply, error)
	Close() error
}

// DialFunc — открывает канал к address за timeout. Подменяется в тестах.
type DialFunc func(address, username, password string, useTLS bool, timeout time.Duration) (CommandChannel, error)

// DialRouterOS — боевой dialer поверх go-routeros.
func DialRouterOS(tlsSkipVerify bool) DialFunc {
	return func(address, username, password string, useTLS bool, timeout time.Duration) (CommandChannel, error) {
		var (
			c   *routeros.Client
			err error
		)
		if useTLS {
			tlsCfg := &tls.Config{InsecureSkipVerify: tlsSkipVerify} //nolint:gosec // self-signed по умолчанию на роутерах
			c, err = routeros.DialTLSTimeout(address, username, password, tlsCfg, timeout)
		} else {
			c, err = routeros.DialTimeout(address, username, password, timeout)
		}
		if err != nil {
			if isAuthFailure(err) {
				return nil, &AuthError{Address: address, Err: err}
			}
			return nil, err
		}
		return &routerosChannel{c: c}, nil
	}
}

type routerosChannel struct {
	c *routeros.Client
}

func (ch *routerosChannel) Exec(ctx context.Context, sentence ...string) (*Reply, error) {
	// Таймаут задаётся на уровне соединения; ctx проверяем до отправки,
	// уже отправленная команда доживает сама.
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(sentence) == 0 {
		return nil, &ProtocolError{Command: "", Detail: "empty sentence"}
	}
	r, err := ch.c.RunArgs(sentence)
	if err != nil {
		return nil, err
	}
	out := &Reply{Rows: make([]map[string]string, 0, len(r.Re))}
	for _, s := range r.Re {
		row := make(map[string]string, len(s.Map))
		for k, v := range s.Map {
			row[k] = v
		}
		out.Rows = append(out.Rows, row)
	}
	if r.Done != nil {
		out.Ret = r.Done.Map["ret"]
	}
	return out, nil
}

func (ch *routerosChannel) Close() error {
	ch.c.Close()
	return nil
}

func isAuthFailure(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	// формулировки RouterOS v6/v7
	return strings.Contains(msg, "invalid user name or password") ||
		strings.Contains(msg, "login failure") ||
		strings.Contains(msg, "not logged in")
}

// Words — сборка слов предложения из карты атрибутов ("=key=value").
// Ключи сортируются: порядок слов устройству безразличен, а логи и тесты
// становятся детерминированными.
func Words(command string, attrs map[string]string) []string {
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	sentence := make([]string, 0, 1+len(attrs))
	sentence = append(sentence, command)
	for _, k := range keys {
		sentence = append(sentence, fmt.Sprintf("=%s=%s", k, attrs[k]))
	}
	return sentence
}
