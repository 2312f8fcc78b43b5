package models

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ConnectionType — предпочтительный транспорт роутера.
const (
	ConnectAuto   = "auto"
	ConnectAPI    = "api"
	ConnectWinbox = "winbox"
)

// Router — точка доступа MikroTik, на которой продаются ваучеры.
type Router struct {
	gorm.Model
	Name           string `gorm:"uniqueIndex"`
	Address        string `gorm:"type:varchar(64)"`
	Port           int    `gorm:"default:8728"`
	Username       string
	Password       string
	ConnectionType string `gorm:"type:varchar(16);default:'auto'"`
	Status         string `gorm:"type:varchar(16)"` // online | offline | unknown

	// LastIdentity — последний ответ /system/identity/print (сырой JSON).
	LastIdentity datatypes.JSON `gorm:"type:json"`
	LastSeenAt   *time.Time
	LastError    string `gorm:"type:text"`
}

// VoucherPackage — тариф: цена + квота + срок.
// Срок задаётся тремя независимыми компонентами, они суммируются.
type VoucherPackage struct {
	gorm.Model
	Name            string `gorm:"uniqueIndex"`
	Description     string
	Price           float64
	DataLimitGB     float64 // 0 — без квоты
	DurationDays    int
	DurationHours   int
	DurationMinutes int
	IsActive        bool `gorm:"default:true"`
}

// TotalMinutes — суммарный срок тарифа в минутах. Никакая ненулевая
// компонента не теряется.
func (p VoucherPackage) TotalMinutes() int {
	return p.DurationDays*24*60 + p.DurationHours*60 + p.DurationMinutes
}

// LimitBytes — лимит трафика в байтах на каждое направление (0 — без лимита).
func (p VoucherPackage) LimitBytes() int64 {
	if p.DataLimitGB <= 0 {
		return 0
	}
	return int64(p.DataLimitGB * float64(1<<30))
}

// VoucherStatus — состояние ваучера в ledger.
type VoucherStatus string

const (
	VoucherUnused    VoucherStatus = "unused"
	VoucherActive    VoucherStatus = "active"
	VoucherSuspended VoucherStatus = "suspended" // продан/снят с продажи
	VoucherExpired   VoucherStatus = "expired"
)

// Voucher — строка ledger. Появляется только после успешного push на роутер.
type Voucher struct {
	gorm.Model
	Code      string        `gorm:"type:varchar(64);uniqueIndex:ux_vouchers_code_router,priority:1"`
	RouterID  uint          `gorm:"uniqueIndex:ux_vouchers_code_router,priority:2;index"`
	PackageID uint          `gorm:"index"`
	Status    VoucherStatus `gorm:"type:varchar(16);index;default:'unused'"`

	RemainingDataGB      float64
	RemainingTimeMinutes int

	UsedBy string `gorm:"type:varchar(64)"` // MAC клиента
	UsedAt *time.Time

	Package VoucherPackage `gorm:"foreignKey:PackageID"`
}

// Sale — факт продажи ваучера.
type Sale struct {
	gorm.Model
	VoucherID     uint `gorm:"index"`
	PackageID     uint `gorm:"index"`
	RouterID      uint `gorm:"index"`
	Amount        float64
	PaymentMethod string `gorm:"type:varchar(32)"`
	Notes         string
	SoldAt        time.Time
}
