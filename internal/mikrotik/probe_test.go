package mikrotik

import (
	"context"
	"errors"
	"testing"
	"time"

	"hotspotd/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func identityChannel() *fakeChannel {
	return &fakeChannel{
		script: func(int, []string) (*Reply, error) {
			return &Reply{Rows: []map[string]string{{"name": "gw-1"}}}, nil
		},
	}
}

// scriptedDial — dialer по таблице address -> результат, с записью порядка попыток.
func scriptedDial(t *testing.T, results map[string]error, ok map[string]*fakeChannel) (DialFunc, *[]string) {
	t.Helper()
	var dialed []string
	return func(address, _, _ string, _ bool, _ time.Duration) (CommandChannel, error) {
		dialed = append(dialed, address)
		if err, bad := results[address]; bad {
			return nil, err
		}
		if ch, good := ok[address]; good {
			return ch, nil
		}
		return nil, errors.New("unexpected address " + address)
	}, &dialed
}

func TestConnectFirstWorkingStrategyWins(t *testing.T) {
	dial, dialed := scriptedDial(t,
		map[string]error{"192.0.2.1:8728": errors.New("connection refused")},
		map[string]*fakeChannel{"192.0.2.1:8729": identityChannel()},
	)
	p := NewProbe(dial, time.Second)

	strategies := []Strategy{
		{Name: "api", Port: 8728},
		{Name: "api-ssl", Port: 8729, TLS: true},
		{Name: "api-winbox", Port: 8291}, // не должна пробоваться
	}
	sess, err := p.ConnectStrategies(context.Background(), models.Router{Address: "192.0.2.1"}, strategies)
	require.NoError(t, err)
	defer sess.Close()

	assert.Equal(t, "api-ssl", sess.Strategy().Name)
	assert.Equal(t, "gw-1", sess.Identity())
	assert.Equal(t, []string{"192.0.2.1:8728", "192.0.2.1:8729"}, *dialed)
}

func TestConnectAggregatesFailures(t *testing.T) {
	dial, dialed := scriptedDial(t,
		map[string]error{
			"192.0.2.1:8728": errors.New("connection refused"),
			"192.0.2.1:8729": &AuthError{Address: "192.0.2.1:8729", Err: errors.New("invalid user name or password")},
			"192.0.2.1:8291": errors.New("i/o timeout"),
		},
		nil,
	)
	p := NewProbe(dial, time.Second)

	strategies := []Strategy{
		{Name: "api", Port: 8728},
		{Name: "api-ssl", Port: 8729, TLS: true},
		{Name: "api-winbox", Port: 8291},
	}
	_, err := p.ConnectStrategies(context.Background(), models.Router{Address: "192.0.2.1"}, strategies)

	var ce *ConnectError
	require.ErrorAs(t, err, &ce)
	require.Len(t, ce.Attempts, 3)
	assert.Len(t, *dialed, 3)
	// причины сохраняются в порядке попыток — вызывающий отличит
	// "неверный пароль" от "недоступен"
	assert.Equal(t, "api", ce.Attempts[0].Strategy)
	assert.True(t, ce.AuthRejected())
}

func TestConnectRejectsChannelWithoutIdentity(t *testing.T) {
	// порт открыт, но identity не отвечает — не успех, канал закрывается
	broken := &fakeChannel{
		script: func(int, []string) (*Reply, error) { return &Reply{}, nil },
	}
	dial, _ := scriptedDial(t, nil, map[string]*fakeChannel{"192.0.2.1:8728": broken})
	p := NewProbe(dial, time.Second)

	_, err := p.ConnectStrategies(context.Background(), models.Router{Address: "192.0.2.1"},
		[]Strategy{{Name: "api", Port: 8728}})

	var ce *ConnectError
	require.ErrorAs(t, err, &ce)
	var pe *ProtocolError
	assert.ErrorAs(t, ce.Attempts[0].Err, &pe)
	assert.Equal(t, 1, broken.closed)
}

func TestStrategiesForAuto(t *testing.T) {
	got := StrategiesFor(models.Router{ConnectionType: models.ConnectAuto, Port: 8728})
	require.Len(t, got, 3) // дубль 8728 схлопнут
	assert.Equal(t, Strategy{Name: "api", Port: 8728}, got[0])
	assert.Equal(t, Strategy{Name: "api-ssl", Port: 8729, TLS: true}, got[1])
	assert.Equal(t, Strategy{Name: "api-winbox", Port: 8291}, got[2])

	custom := StrategiesFor(models.Router{Port: 9999})
	require.Len(t, custom, 4)
	assert.Equal(t, 9999, custom[0].Port)
}

func TestStrategiesForExplicitType(t *testing.T) {
	api := StrategiesFor(models.Router{ConnectionType: models.ConnectAPI, Port: 8730})
	require.Len(t, api, 1)
	assert.Equal(t, 8730, api[0].Port)

	wb := StrategiesFor(models.Router{ConnectionType: models.ConnectWinbox})
	require.Len(t, wb, 1)
	assert.Equal(t, 8291, wb[0].Port)
}

func TestConnectHonoursContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	dial, dialed := scriptedDial(t, map[string]error{}, nil)
	p := NewProbe(dial, time.Second)
	_, err := p.ConnectStrategies(ctx, models.Router{Address: "192.0.2.1"},
		[]Strategy{{Name: "api", Port: 8728}})

	var ce *ConnectError
	require.ErrorAs(t, err, &ce)
	assert.Empty(t, *dialed)
}
