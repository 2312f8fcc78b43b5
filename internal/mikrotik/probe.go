package mikrotik

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"hotspotd/internal/logs"
	"hotspotd/internal/models"
)

const (
	defaultAPIPort = 8728
	apiSSLPort     = 8729
	winboxPort     = 8291
	defaultDialSec = 10
	identityCmd    = "/system/identity/print"
)

// Strategy — одна комбинация транспорта: имя + порт + TLS.
type Strategy struct {
	Name string
	Port int
	TLS  bool
}

// Probe перебирает стратегии строго по порядку с ограниченным таймаутом на
// попытку. Первая рабочая побеждает; при полном провале — *ConnectError со
// всеми причинами. Никакого состояния между вызовами не сохраняется.
type Probe struct {
	dial    DialFunc
	timeout time.Duration
}

func NewProbe(dial DialFunc, timeout time.Duration) *Probe {
	if timeout <= 0 {
		timeout = defaultDialSec * time.Second
	}
	return &Probe{dial: dial, timeout: timeout}
}

// StrategiesFor — порядок попыток по предпочтению роутера.
// В auto-режиме перебираем стандартные порты 8728/8729/8291, включая
// API-SSL: прошивки v7 часто закрывают plaintext API.
func StrategiesFor(r models.Router) []Strategy {
	port := r.Port
	if port == 0 {
		port = defaultAPIPort
	}
	switch r.ConnectionType {
	case models.ConnectAPI:
		return []Strategy{{Name: "api", Port: port}}
	case models.ConnectWinbox:
		return []Strategy{{Name: "api-winbox", Port: winboxPort}}
	default: // auto
		all := []Strategy{
			{Name: "api", Port: port},
			{Name: "api-ssl", Port: apiSSLPort, TLS: true},
			{Name: "api", Port: defaultAPIPort},
			{Name: "api-winbox", Port: winboxPort},
		}
		seen := map[string]bool{}
		out := make([]Strategy, 0, len(all))
		for _, s := range all {
			key := strconv.Itoa(s.Port) + "/" + strconv.FormatBool(s.TLS)
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, s)
		}
		return out
	}
}

// Connect — открыть рабочую сессию к роутеру. Каждая попытка проверяется
// командой /system/identity/print: открытый порт без работающего API — не успех.
func (p *Probe) Connect(ctx context.Context, r models.Router) (*Session, error) {
	return p.ConnectStrategies(ctx, r, StrategiesFor(r))
}

// ConnectStrategies — то же с явным списком стратегий.
func (p *Probe) ConnectStrategies(ctx context.Context, r models.Router, strategies []Strategy) (*Session, error) {
	attempts := make([]Attempt, 0, len(strategies))
	log := logs.Logger.WithField("router", r.Address)

	for _, s := range strategies {
		if err := ctx.Err(); err != nil {
			attempts = append(attempts, Attempt{Strategy: s.Name, Err: err})
			break
		}
		addr := net.JoinHostPort(r.Address, strconv.Itoa(s.Port))

		ch, err := p.dial(addr, r.Username, r.Password, s.TLS, p.timeout)
		if err != nil {
			log.Debugf("strategy %s (%s) failed: %v", s.Name, addr, err)
			attempts = append(attempts, Attempt{Strategy: s.Name, Address: addr, Err: err})
			continue
		}

		identity, err := verifyIdentity(ctx, ch)
		if err != nil {
			_ = ch.Close()
			log.Debugf("strategy %s (%s): identity check failed: %v", s.Name, addr, err)
			attempts = append(attempts, Attempt{Strategy: s.Name, Address: addr, Err: err})
			continue
		}

		log.Infof("connected via %s (%s), identity %q", s.Name, addr, identity)
		return newSession(ch, s, addr, identity), nil
	}

	return nil, &ConnectError{Host: r.Address, Attempts: attempts}
}

func verifyIdentity(ctx context.Context, ch CommandChannel) (string, error) {
	reply, err := ch.Exec(ctx, identityCmd)
	if err != nil {
		return "", err
	}
	if len(reply.Rows) == 0 {
		return "", &ProtocolError{Command: identityCmd, Detail: "empty reply"}
	}
	name, ok := reply.Rows[0]["name"]
	if !ok {
		return "", &ProtocolError{Command: identityCmd, Detail: fmt.Sprintf("no name field in %v", reply.Rows[0])}
	}
	return name, nil
}
