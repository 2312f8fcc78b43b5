package voucher

import (
	"context"
	"fmt"

	"hotspotd/internal/logs"
	"hotspotd/internal/mikrotik"
	"hotspotd/internal/models"

	"github.com/sirupsen/logrus"
)

const (
	// MaxQuantity — защитный потолок одного запроса генерации (не лимит устройства).
	MaxQuantity = 1000
	// batchThreshold — с какого количества переключаемся на batch-путь.
	batchThreshold = 50
)

// DeviceSession — то, что провижионеру нужно от сессии (узкий контракт,
// чтобы подставлять фейк в тестах).
type DeviceSession interface {
	CreateUser(ctx context.Context, u mikrotik.UserSpec) (string, error)
	CreateUsersBatch(ctx context.Context, specs []mikrotik.UserSpec) (*mikrotik.BatchResult, error)
	RemoveUserByName(ctx context.Context, name string) error
	Close() error
}

// Connector — открывает сессию к роутеру.
type Connector interface {
	Connect(ctx context.Context, r models.Router) (DeviceSession, error)
}

// ProbeConnector — адаптер mikrotik.Probe под Connector.
type ProbeConnector struct{ Probe *mikrotik.Probe }

func (c ProbeConnector) Connect(ctx context.Context, r models.Router) (DeviceSession, error) {
	s, err := c.Probe.Connect(ctx, r)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// PartialError — создано меньше, чем запрошено. Несёт счётчики для
// сообщения "N of M vouchers created" и первопричину.
type PartialError struct {
	Requested int
	Created   int
	Err       error
}

func (e *PartialError) Error() string {
	return fmt.Sprintf("voucher: created %d of %d: %v", e.Created, e.Requested, e.Err)
}
func (e *PartialError) Unwrap() error { return e.Err }

// GenerateResult — ваучеры, получившие строку в ledger. Вызывающий сравнивает
// len(Vouchers) с Requested, чтобы заметить частичный успех.
type GenerateResult struct {
	Requested int
	Vouchers  []models.Voucher
}

// Provisioner — оркестратор: лимиты тарифа -> коды -> push на устройство ->
// строки ledger. Никакого внутреннего параллелизма: последовательность
// нужна, чтобы частичный успех был префиксом запрошенной партии.
type Provisioner struct {
	ledger    *Ledger
	connector Connector
	log       *logrus.Entry
}

func NewProvisioner(ledger *Ledger, connector Connector) *Provisioner {
	return &Provisioner{
		ledger:    ledger,
		connector: connector,
		log:       logs.Logger.WithField("component", "provisioner"),
	}
}

// GenerateBatch — создать quantity ваучеров тарифа pkg на роутере router.
//
// Путь выбора: quantity <= batchThreshold — по одному (push + insert на
// каждый, частичный успех явный); иначе — batch-путь: все коды вперёд, push
// кусками не больше mikrotik.BatchLimit, строки ledger вставляются на каждый
// принятый кусок. Ни при каком исходе не появляется строки ledger для
// записи, которую не пытались запушить.
func (p *Provisioner) GenerateBatch(ctx context.Context, pkg models.VoucherPackage, router models.Router, quantity int, autoGenerate bool) (*GenerateResult, error) {
	if quantity < 1 || quantity > MaxQuantity {
		return nil, fmt.Errorf("voucher: quantity must be 1..%d, got %d", MaxQuantity, quantity)
	}

	res := &GenerateResult{Requested: quantity}

	sess, err := p.connector.Connect(ctx, router)
	if err != nil {
		return res, err
	}
	defer func() {
		if cerr := sess.Close(); cerr != nil {
			p.log.Warnf("close session to %s: %v", router.Address, cerr)
		}
	}()

	var codes []string
	if autoGenerate {
		codes = generateCodes(quantity)
	} else {
		codes = manualCodes("VOUCHER", quantity)
	}

	if quantity > batchThreshold {
		return p.generateBatched(ctx, res, pkg, router, sess, codes)
	}
	return p.generateOneByOne(ctx, res, pkg, router, sess, codes)
}

func (p *Provisioner) spec(pkg models.VoucherPackage, code string) mikrotik.UserSpec {
	return mikrotik.UserSpec{
		Name:               code,
		Password:           code,
		LimitUptimeMinutes: pkg.TotalMinutes(),
		LimitBytesIn:       pkg.LimitBytes(),
		LimitBytesOut:      pkg.LimitBytes(),
		Comment:            fmt.Sprintf("voucher pkg=%d", pkg.ID),
	}
}

func (p *Provisioner) row(pkg models.VoucherPackage, router models.Router, code string) models.Voucher {
	return models.Voucher{
		Code:                 code,
		RouterID:             router.ID,
		PackageID:            pkg.ID,
		Status:               models.VoucherUnused,
		RemainingDataGB:      pkg.DataLimitGB,
		RemainingTimeMinutes: pkg.TotalMinutes(),
	}
}

// generateOneByOne — push и insert по одному; обрыв посреди партии оставляет
// уже созданный префикс в ledger.
func (p *Provisioner) generateOneByOne(ctx context.Context, res *GenerateResult, pkg models.VoucherPackage, router models.Router, sess DeviceSession, codes []string) (*GenerateResult, error) {
	for _, code := range codes {
		if _, err := sess.CreateUser(ctx, p.spec(pkg, code)); err != nil {
			p.log.Warnf("push %s to %s failed after %d/%d: %v",
				code, router.Address, len(res.Vouchers), res.Requested, err)
			return res, &PartialError{Requested: res.Requested, Created: len(res.Vouchers), Err: err}
		}
		rows, err := p.ledger.Insert([]models.Voucher{p.row(pkg, router, code)})
		if err != nil {
			// запись на устройстве уже есть, строки в ledger нет — дальше не идём
			return res, &PartialError{Requested: res.Requested, Created: len(res.Vouchers), Err: err}
		}
		res.Vouchers = append(res.Vouchers, rows...)
	}
	return res, nil
}

// generateBatched — push кусками <= mikrotik.BatchLimit, insert на каждый
// принятый кусок; первый отказ устройства прерывает остаток партии.
func (p *Provisioner) generateBatched(ctx context.Context, res *GenerateResult, pkg models.VoucherPackage, router models.Router, sess DeviceSession, codes []string) (*GenerateResult, error) {
	for start := 0; start < len(codes); start += mikrotik.BatchLimit {
		end := min(start+mikrotik.BatchLimit, len(codes))
		chunk := codes[start:end]

		specs := make([]mikrotik.UserSpec, 0, len(chunk))
		for _, code := range chunk {
			specs = append(specs, p.spec(pkg, code))
		}
		if _, err := sess.CreateUsersBatch(ctx, specs); err != nil {
			p.log.Warnf("batch push to %s failed after %d/%d: %v",
				router.Address, len(res.Vouchers), res.Requested, err)
			return res, &PartialError{Requested: res.Requested, Created: len(res.Vouchers), Err: err}
		}

		rows := make([]models.Voucher, 0, len(chunk))
		for _, code := range chunk {
			rows = append(rows, p.row(pkg, router, code))
		}
		inserted, err := p.ledger.Insert(rows)
		if err != nil {
			return res, &PartialError{Requested: res.Requested, Created: len(res.Vouchers), Err: err}
		}
		res.Vouchers = append(res.Vouchers, inserted...)
	}
	return res, nil
}

// DeleteVoucher — строка ledger удаляется безусловно; удаление hotspot-записи
// на устройстве best-effort: её провал логируется и не заваливает операцию.
func (p *Provisioner) DeleteVoucher(ctx context.Context, id uint, router models.Router) error {
	v, err := p.ledger.Get(id)
	if err != nil {
		return err
	}
	if err := p.ledger.Delete(id); err != nil {
		return err
	}

	sess, err := p.connector.Connect(ctx, router)
	if err != nil {
		p.log.Warnf("delete %s: device unreachable, remote entry left behind: %v", v.Code, err)
		return nil
	}
	defer func() {
		if cerr := sess.Close(); cerr != nil {
			p.log.Warnf("close session to %s: %v", router.Address, cerr)
		}
	}()
	if err := sess.RemoveUserByName(ctx, v.Code); err != nil {
		p.log.Warnf("delete %s: remote removal failed: %v", v.Code, err)
	}
	return nil
}
