package voucher

import (
	"testing"

	"hotspotd/internal/db"
	"hotspotd/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newTestLedger(t *testing.T) *Ledger {
	t.Helper()
	d, err := db.Open("sqlite", ":memory:")
	require.NoError(t, err)
	require.NoError(t, d.AutoMigrate(
		&models.Router{},
		&models.VoucherPackage{},
		&models.Voucher{},
		&models.Sale{},
	))
	return NewLedger(d)
}

func seedVoucher(t *testing.T, l *Ledger, status models.VoucherStatus) *models.Voucher {
	t.Helper()
	pkg := models.VoucherPackage{Name: "basic-" + string(status), Price: 50, DurationDays: 1}
	require.NoError(t, l.DB().Create(&pkg).Error)
	v := models.Voucher{
		Code:                 "1234" + string(status),
		RouterID:             1,
		PackageID:            pkg.ID,
		Status:               status,
		RemainingTimeMinutes: pkg.TotalMinutes(),
	}
	require.NoError(t, l.DB().Create(&v).Error)
	return &v
}

func TestTransitionTable(t *testing.T) {
	cases := []struct {
		from, to models.VoucherStatus
		ok       bool
	}{
		{models.VoucherUnused, models.VoucherActive, true},
		{models.VoucherUnused, models.VoucherSuspended, true},
		{models.VoucherActive, models.VoucherSuspended, true},
		{models.VoucherActive, models.VoucherUnused, true},    // reissue
		{models.VoucherSuspended, models.VoucherUnused, true}, // reissue
		{models.VoucherUnused, models.VoucherExpired, true},
		{models.VoucherActive, models.VoucherExpired, true},
		{models.VoucherSuspended, models.VoucherExpired, true},
		{models.VoucherActive, models.VoucherActive, true}, // no-op
		{models.VoucherExpired, models.VoucherActive, false},
		{models.VoucherExpired, models.VoucherUnused, false},
		{models.VoucherSuspended, models.VoucherActive, false},
	}
	for _, c := range cases {
		assert.Equalf(t, c.ok, canTransition(c.from, c.to), "%s -> %s", c.from, c.to)
	}
}

func TestActivateRecordsClient(t *testing.T) {
	l := newTestLedger(t)
	v := seedVoucher(t, l, models.VoucherUnused)

	got, err := l.Activate(v.ID, "AA:BB:CC:DD:EE:FF")
	require.NoError(t, err)
	assert.Equal(t, models.VoucherActive, got.Status)

	stored, err := l.Get(v.ID)
	require.NoError(t, err)
	assert.Equal(t, "AA:BB:CC:DD:EE:FF", stored.UsedBy)
	require.NotNil(t, stored.UsedAt)
}

func TestActivateExpiredFails(t *testing.T) {
	l := newTestLedger(t)
	v := seedVoucher(t, l, models.VoucherExpired)

	_, err := l.Activate(v.ID, "AA:BB:CC:DD:EE:FF")
	var te *InvalidTransitionError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, models.VoucherExpired, te.From)
	assert.Equal(t, models.VoucherActive, te.To)

	stored, err := l.Get(v.ID)
	require.NoError(t, err)
	assert.Equal(t, models.VoucherExpired, stored.Status)
}

func TestSellCreatesSaleAndSuspends(t *testing.T) {
	l := newTestLedger(t)
	v := seedVoucher(t, l, models.VoucherUnused)

	sale, err := l.Sell(v.ID, "cash", "walk-in")
	require.NoError(t, err)
	assert.Equal(t, 50.0, sale.Amount)
	assert.Equal(t, v.ID, sale.VoucherID)

	stored, err := l.Get(v.ID)
	require.NoError(t, err)
	assert.Equal(t, models.VoucherSuspended, stored.Status)
}

func TestSellExpiredFails(t *testing.T) {
	l := newTestLedger(t)
	v := seedVoucher(t, l, models.VoucherExpired)

	_, err := l.Sell(v.ID, "cash", "")
	var te *InvalidTransitionError
	require.ErrorAs(t, err, &te)

	// транзакция откатилась: sale не записан
	var count int64
	require.NoError(t, l.DB().Model(&models.Sale{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestResetClearsUsage(t *testing.T) {
	l := newTestLedger(t)
	v := seedVoucher(t, l, models.VoucherUnused)

	_, err := l.Activate(v.ID, "AA:BB:CC:DD:EE:FF")
	require.NoError(t, err)

	_, err = l.Reset(v.ID)
	require.NoError(t, err)

	stored, err := l.Get(v.ID)
	require.NoError(t, err)
	assert.Equal(t, models.VoucherUnused, stored.Status)
	assert.Empty(t, stored.UsedBy)
	assert.Nil(t, stored.UsedAt)
}

func TestDeleteRemovesRow(t *testing.T) {
	l := newTestLedger(t)
	v := seedVoucher(t, l, models.VoucherUnused)

	require.NoError(t, l.Delete(v.ID))

	_, err := l.Get(v.ID)
	assert.True(t, IsNotFound(err))

	err = l.Delete(v.ID)
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}
