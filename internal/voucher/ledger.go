package voucher

import (
	"errors"
	"fmt"
	"time"

	"hotspotd/internal/models"

	"gorm.io/gorm"
)

// InvalidTransitionError — запрещённый переход статуса ваучера.
type InvalidTransitionError struct {
	From models.VoucherStatus
	To   models.VoucherStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("voucher: invalid status transition %s -> %s", e.From, e.To)
}

// canTransition — таблица переходов статусов ваучера:
//
//	unused    -> active | suspended
//	active    -> suspended | unused (административный reissue)
//	suspended -> unused (reissue)
//	любой     -> expired
//
// Переход в тот же статус — no-op (идемпотентность повторных запросов UI).
func canTransition(from, to models.VoucherStatus) bool {
	if from == to {
		return true
	}
	if to == models.VoucherExpired {
		return true
	}
	switch from {
	case models.VoucherUnused:
		return to == models.VoucherActive || to == models.VoucherSuspended
	case models.VoucherActive:
		return to == models.VoucherSuspended || to == models.VoucherUnused
	case models.VoucherSuspended:
		return to == models.VoucherUnused
	default: // expired — терминальный, кроме ветки выше
		return false
	}
}

// Ledger — локальная запись о ваучерах и их жизненном цикле.
// Строка появляется только после успешного push на устройство.
type Ledger struct {
	db *gorm.DB
}

func NewLedger(db *gorm.DB) *Ledger { return &Ledger{db: db} }

func (l *Ledger) DB() *gorm.DB { return l.db }

// Insert — вставить строки для успешно запушенных ваучеров.
func (l *Ledger) Insert(vs []models.Voucher) ([]models.Voucher, error) {
	if len(vs) == 0 {
		return nil, nil
	}
	if err := l.db.Create(&vs).Error; err != nil {
		return nil, err
	}
	return vs, nil
}

func (l *Ledger) Get(id uint) (*models.Voucher, error) {
	var v models.Voucher
	if err := l.db.Preload("Package").First(&v, id).Error; err != nil {
		return nil, err
	}
	return &v, nil
}

// List — все ваучеры роутера (0 — все роутеры), новые сверху.
func (l *Ledger) List(routerID uint) ([]models.Voucher, error) {
	q := l.db.Preload("Package").Order("id desc")
	if routerID != 0 {
		q = q.Where("router_id = ?", routerID)
	}
	var out []models.Voucher
	return out, q.Find(&out).Error
}

// transition — load -> guard -> update в одной транзакции.
// extra — дополнительные поля для обновления вместе со статусом.
func (l *Ledger) transition(id uint, to models.VoucherStatus, extra map[string]any) (*models.Voucher, error) {
	var v models.Voucher
	err := l.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&v, id).Error; err != nil {
			return err
		}
		if !canTransition(v.Status, to) {
			return &InvalidTransitionError{From: v.Status, To: to}
		}
		if v.Status == to && len(extra) == 0 {
			return nil // no-op
		}
		updates := map[string]any{"status": to}
		for k, val := range extra {
			updates[k] = val
		}
		if err := tx.Model(&v).Updates(updates).Error; err != nil {
			return err
		}
		// перечитываем: вызывающему нужны свежие значения
		return tx.First(&v, id).Error
	})
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// UpdateStatus — прямая смена статуса (например, expiry sweep снаружи).
func (l *Ledger) UpdateStatus(id uint, to models.VoucherStatus) (*models.Voucher, error) {
	return l.transition(id, to, nil)
}

// Activate — клиент привязался: unused -> active, фиксируем MAC и время.
func (l *Ledger) Activate(id uint, clientMAC string) (*models.Voucher, error) {
	now := time.Now()
	return l.transition(id, models.VoucherActive, map[string]any{
		"used_by": clientMAC,
		"used_at": &now,
	})
}

// Sell — продажа: строка в sales + перевод в suspended.
func (l *Ledger) Sell(id uint, paymentMethod, notes string) (*models.Sale, error) {
	var sale models.Sale
	err := l.db.Transaction(func(tx *gorm.DB) error {
		var v models.Voucher
		if err := tx.Preload("Package").First(&v, id).Error; err != nil {
			return err
		}
		if !canTransition(v.Status, models.VoucherSuspended) {
			return &InvalidTransitionError{From: v.Status, To: models.VoucherSuspended}
		}
		now := time.Now()
		sale = models.Sale{
			VoucherID:     v.ID,
			PackageID:     v.PackageID,
			RouterID:      v.RouterID,
			Amount:        v.Package.Price,
			PaymentMethod: paymentMethod,
			Notes:         notes,
			SoldAt:        now,
		}
		if err := tx.Create(&sale).Error; err != nil {
			return err
		}
		return tx.Model(&v).Updates(map[string]any{
			"status":  models.VoucherSuspended,
			"used_at": &now,
		}).Error
	})
	if err != nil {
		return nil, err
	}
	return &sale, nil
}

// Reset — административный reissue: active/suspended -> unused, usage очищается.
func (l *Ledger) Reset(id uint) (*models.Voucher, error) {
	return l.transition(id, models.VoucherUnused, map[string]any{
		"used_by": "",
		"used_at": nil,
	})
}

// Delete — удалить строку безусловно. Удаление записи на устройстве —
// ответственность Provisioner (best-effort, см. DeleteVoucher).
func (l *Ledger) Delete(id uint) error {
	res := l.db.Delete(&models.Voucher{}, id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// IsNotFound — удобство для HTTP-слоя.
func IsNotFound(err error) bool { return errors.Is(err, gorm.ErrRecordNotFound) }
