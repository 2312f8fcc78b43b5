package mikrotik

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"hotspotd/internal/logs"
)

// BatchLimit — жёсткий потолок одного batch-вызова. Проверяется до любого
// сетевого I/O.
const BatchLimit = 200

// UserSpec — типизированное описание hotspot-записи; строковые ключи вида
// "limit-uptime" наружу не выставляются.
type UserSpec struct {
	Name               string
	Password           string
	Profile            string
	LimitUptimeMinutes int   // 0 — без ограничения времени
	LimitBytesIn       int64 // 0 — без квоты
	LimitBytesOut      int64
	Disabled           bool
	Comment            string
}

func (u UserSpec) attrs() map[string]string {
	a := map[string]string{"name": u.Name}
	if u.Password != "" {
		a["password"] = u.Password
	}
	if u.Profile != "" {
		a["profile"] = u.Profile
	}
	if u.LimitUptimeMinutes > 0 {
		a["limit-uptime"] = fmt.Sprintf("%dm", u.LimitUptimeMinutes)
	}
	if u.LimitBytesIn > 0 {
		a["limit-bytes-in"] = strconv.FormatInt(u.LimitBytesIn, 10)
	}
	if u.LimitBytesOut > 0 {
		a["limit-bytes-out"] = strconv.FormatInt(u.LimitBytesOut, 10)
	}
	if u.Disabled {
		a["disabled"] = "yes"
	}
	if u.Comment != "" {
		a["comment"] = u.Comment
	}
	return a
}

// BatchItem — исход одного элемента batch-а.
type BatchItem struct {
	Name     string
	RemoteID string
}

// BatchResult — принятые устройством записи.
type BatchResult struct {
	Created []BatchItem
}

// Session — одна установленная сессия к одному устройству. Владелец обязан
// вызвать Close на каждом пути выхода; Close идемпотентен.
type Session struct {
	mu       sync.Mutex
	ch       CommandChannel
	closed   bool
	strategy Strategy
	address  string
	identity string
}

func newSession(ch CommandChannel, s Strategy, address, identity string) *Session {
	return &Session{ch: ch, strategy: s, address: address, identity: identity}
}

// Strategy — стратегия, которой удалось подключиться.
func (s *Session) Strategy() Strategy { return s.strategy }

// Address — адрес, на котором подключились.
func (s *Session) Address() string { return s.address }

// Identity — имя устройства, снятое при подключении.
func (s *Session) Identity() string { return s.identity }

func (s *Session) channel() (CommandChannel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrSessionClosed
	}
	return s.ch, nil
}

// Close — идемпотентное закрытие канала. Ошибка закрытия никогда не должна
// маскировать исход основной операции: глотаем, но логируем.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if err := s.ch.Close(); err != nil {
		logs.Logger.Warnf("mikrotik: close %s: %v", s.address, err)
	}
	return nil
}

// CreateUser — одна hotspot-запись. Возвращает remote id (.id) созданной записи.
func (s *Session) CreateUser(ctx context.Context, u UserSpec) (string, error) {
	ch, err := s.channel()
	if err != nil {
		return "", err
	}
	if u.Name == "" {
		return "", &ProtocolError{Command: "/ip/hotspot/user/add", Detail: "empty user name"}
	}
	reply, err := ch.Exec(ctx, Words("/ip/hotspot/user/add", u.attrs())...)
	if err != nil {
		return "", err
	}
	return reply.Ret, nil
}

// CreateUsersBatch — до BatchLimit записей за один вызов. Для вызывающего —
// всё или ничего: при первом отказе устройства прерываемся и возвращаем
// ошибку; откат на стороне устройства не предпринимается.
func (s *Session) CreateUsersBatch(ctx context.Context, specs []UserSpec) (*BatchResult, error) {
	if len(specs) > BatchLimit {
		return nil, &BatchLimitError{Size: len(specs), Limit: BatchLimit}
	}
	ch, err := s.channel()
	if err != nil {
		return nil, err
	}

	res := &BatchResult{Created: make([]BatchItem, 0, len(specs))}
	for i, u := range specs {
		reply, err := ch.Exec(ctx, Words("/ip/hotspot/user/add", u.attrs())...)
		if err != nil {
			return nil, fmt.Errorf("batch item %d (%s): %w", i, u.Name, err)
		}
		res.Created = append(res.Created, BatchItem{Name: u.Name, RemoteID: reply.Ret})
	}
	return res, nil
}

// Run — generic escape hatch для ad-hoc команд.
func (s *Session) Run(ctx context.Context, command string, params map[string]string) ([]map[string]string, error) {
	ch, err := s.channel()
	if err != nil {
		return nil, err
	}
	reply, err := ch.Exec(ctx, Words(command, params)...)
	if err != nil {
		return nil, err
	}
	return reply.Rows, nil
}

// SystemInfo — identity + resource; license опционален (на CHR его нет),
// его отказ не считается ошибкой.
type SystemInfo struct {
	Identity map[string]string
	Resource map[string]string
	License  map[string]string
}

func (s *Session) SystemInfo(ctx context.Context) (*SystemInfo, error) {
	ch, err := s.channel()
	if err != nil {
		return nil, err
	}
	info := &SystemInfo{}

	identity, err := ch.Exec(ctx, identityCmd)
	if err != nil {
		return nil, err
	}
	if len(identity.Rows) == 0 {
		return nil, &ProtocolError{Command: identityCmd, Detail: "empty reply"}
	}
	info.Identity = identity.Rows[0]

	resource, err := ch.Exec(ctx, "/system/resource/print")
	if err != nil {
		return nil, err
	}
	if len(resource.Rows) > 0 {
		info.Resource = resource.Rows[0]
	}

	if lic, err := ch.Exec(ctx, "/system/license/print"); err == nil && len(lic.Rows) > 0 {
		info.License = lic.Rows[0]
	}
	return info, nil
}

// HotspotUsers — все hotspot-пользователи устройства.
func (s *Session) HotspotUsers(ctx context.Context) ([]map[string]string, error) {
	return s.Run(ctx, "/ip/hotspot/user/print", nil)
}

// ActiveUsers — активные hotspot-сессии.
func (s *Session) ActiveUsers(ctx context.Context) ([]map[string]string, error) {
	return s.Run(ctx, "/ip/hotspot/active/print", nil)
}

// RemoveUserByName — найти запись по имени и удалить. Если записи нет —
// считается успехом (идемпотентность нужна для best-effort удаления).
func (s *Session) RemoveUserByName(ctx context.Context, name string) error {
	ch, err := s.channel()
	if err != nil {
		return err
	}
	reply, err := ch.Exec(ctx, "/ip/hotspot/user/print", "?name="+name)
	if err != nil {
		return err
	}
	for _, row := range reply.Rows {
		id, ok := row[".id"]
		if !ok {
			return &ProtocolError{Command: "/ip/hotspot/user/print", Detail: "row without .id"}
		}
		if _, err := ch.Exec(ctx, "/ip/hotspot/user/remove", "=.id="+id); err != nil {
			return err
		}
	}
	return nil
}
