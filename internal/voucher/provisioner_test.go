package voucher

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"testing"

	"hotspotd/internal/mikrotik"
	"hotspotd/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSession struct {
	created     []mikrotik.UserSpec
	batchCalls  [][]mikrotik.UserSpec
	failAt      int // с какого по счёту CreateUser падать (0 — не падать)
	batchFailAt int // с какого по счёту batch-вызова падать
	removeErr   error
	removed     []string
	closed      int
}

func (f *fakeSession) CreateUser(_ context.Context, u mikrotik.UserSpec) (string, error) {
	if f.failAt > 0 && len(f.created)+1 >= f.failAt {
		return "", errors.New("timeout while pushing user")
	}
	f.created = append(f.created, u)
	return fmt.Sprintf("*%d", len(f.created)), nil
}

func (f *fakeSession) CreateUsersBatch(_ context.Context, specs []mikrotik.UserSpec) (*mikrotik.BatchResult, error) {
	if f.batchFailAt > 0 && len(f.batchCalls)+1 >= f.batchFailAt {
		return nil, errors.New("device rejected batch")
	}
	f.batchCalls = append(f.batchCalls, specs)
	res := &mikrotik.BatchResult{}
	for i, s := range specs {
		res.Created = append(res.Created, mikrotik.BatchItem{Name: s.Name, RemoteID: fmt.Sprintf("*%d", i)})
	}
	return res, nil
}

func (f *fakeSession) RemoveUserByName(_ context.Context, name string) error {
	if f.removeErr != nil {
		return f.removeErr
	}
	f.removed = append(f.removed, name)
	return nil
}

func (f *fakeSession) Close() error {
	f.closed++
	return nil
}

type fakeConnector struct {
	sess     *fakeSession
	err      error
	connects int
}

func (c *fakeConnector) Connect(context.Context, models.Router) (DeviceSession, error) {
	c.connects++
	if c.err != nil {
		return nil, c.err
	}
	return c.sess, nil
}

func testSetup(t *testing.T) (*Provisioner, *Ledger, *fakeConnector, models.VoucherPackage, models.Router) {
	t.Helper()
	l := newTestLedger(t)
	conn := &fakeConnector{sess: &fakeSession{}}
	p := NewProvisioner(l, conn)

	pkg := models.VoucherPackage{Name: "day-5gb", Price: 100, DataLimitGB: 5, DurationDays: 1}
	require.NoError(t, l.DB().Create(&pkg).Error)
	router := models.Router{Name: "gw", Address: "192.0.2.1"}
	require.NoError(t, l.DB().Create(&router).Error)
	return p, l, conn, pkg, router
}

func TestGenerateQuantityBounds(t *testing.T) {
	p, _, conn, pkg, router := testSetup(t)

	for _, q := range []int{0, -1, MaxQuantity + 1} {
		_, err := p.GenerateBatch(context.Background(), pkg, router, q, true)
		require.Error(t, err, "quantity %d", q)
	}
	// валидация срабатывает до какого-либо подключения
	assert.Zero(t, conn.connects)
}

func TestGenerateDerivesLimits(t *testing.T) {
	p, l, conn, _, router := testSetup(t)

	pkg := models.VoucherPackage{
		Name: "mixed", Price: 10,
		DataLimitGB: 5, DurationDays: 1, DurationHours: 2, DurationMinutes: 30,
	}
	require.NoError(t, l.DB().Create(&pkg).Error)

	res, err := p.GenerateBatch(context.Background(), pkg, router, 2, true)
	require.NoError(t, err)
	require.Len(t, res.Vouchers, 2)

	// все три компоненты срока суммируются, ничего не теряется
	wantMinutes := 1*24*60 + 2*60 + 30
	for _, spec := range conn.sess.created {
		assert.Equal(t, wantMinutes, spec.LimitUptimeMinutes)
		assert.Equal(t, int64(5)<<30, spec.LimitBytesIn)
		assert.Equal(t, int64(5)<<30, spec.LimitBytesOut)
		assert.Equal(t, spec.Name, spec.Password)
	}
	for _, v := range res.Vouchers {
		assert.Equal(t, wantMinutes, v.RemainingTimeMinutes)
		assert.Equal(t, 5.0, v.RemainingDataGB)
		assert.Equal(t, models.VoucherUnused, v.Status)
	}
}

func TestGenerateAutoCodesFormat(t *testing.T) {
	p, _, conn, pkg, router := testSetup(t)

	res, err := p.GenerateBatch(context.Background(), pkg, router, 10, true)
	require.NoError(t, err)

	numeric := regexp.MustCompile(`^\d{8}$`)
	seen := map[string]bool{}
	for _, v := range res.Vouchers {
		assert.Regexp(t, numeric, v.Code)
		assert.False(t, seen[v.Code], "duplicate code %s inside batch", v.Code)
		seen[v.Code] = true
	}
	assert.Equal(t, 1, conn.sess.closed)
}

func TestGenerateManualScheme(t *testing.T) {
	p, _, _, pkg, router := testSetup(t)

	res, err := p.GenerateBatch(context.Background(), pkg, router, 3, false)
	require.NoError(t, err)
	for _, v := range res.Vouchers {
		assert.Regexp(t, `^VOUCHER-\d+-\d$`, v.Code)
	}
}

// Сценарий из жизни: маленькая партия, устройство приняло 1 и 2, на третьем
// таймаут. В ledger ровно 2 строки, вызывающий видит count=2, requested=3.
func TestGenerateSmallBatchPartialFailure(t *testing.T) {
	p, l, conn, pkg, router := testSetup(t)
	conn.sess.failAt = 3

	res, err := p.GenerateBatch(context.Background(), pkg, router, 3, true)

	var pe *PartialError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, 3, pe.Requested)
	assert.Equal(t, 2, pe.Created)
	assert.Len(t, res.Vouchers, 2)

	rows, lerr := l.List(router.ID)
	require.NoError(t, lerr)
	assert.Len(t, rows, 2)
	// сессия закрыта несмотря на ошибку
	assert.Equal(t, 1, conn.sess.closed)
}

func TestGenerateLargeBatchUsesBatchPath(t *testing.T) {
	p, l, conn, pkg, router := testSetup(t)

	res, err := p.GenerateBatch(context.Background(), pkg, router, 60, true)
	require.NoError(t, err)
	assert.Len(t, res.Vouchers, 60)

	// один batch-вызов, поштучный путь не использовался
	require.Len(t, conn.sess.batchCalls, 1)
	assert.Len(t, conn.sess.batchCalls[0], 60)
	assert.Empty(t, conn.sess.created)

	rows, lerr := l.List(router.ID)
	require.NoError(t, lerr)
	assert.Len(t, rows, 60)
}

func TestGenerateLargeBatchChunksAtDeviceLimit(t *testing.T) {
	p, _, conn, pkg, router := testSetup(t)

	res, err := p.GenerateBatch(context.Background(), pkg, router, 450, true)
	require.NoError(t, err)
	assert.Len(t, res.Vouchers, 450)

	require.Len(t, conn.sess.batchCalls, 3)
	assert.Len(t, conn.sess.batchCalls[0], mikrotik.BatchLimit)
	assert.Len(t, conn.sess.batchCalls[1], mikrotik.BatchLimit)
	assert.Len(t, conn.sess.batchCalls[2], 50)
}

func TestGenerateLargeBatchFailedChunkAborts(t *testing.T) {
	p, l, conn, pkg, router := testSetup(t)
	conn.sess.batchFailAt = 2

	res, err := p.GenerateBatch(context.Background(), pkg, router, 450, true)

	var pe *PartialError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, 450, pe.Requested)
	assert.Equal(t, mikrotik.BatchLimit, pe.Created)
	assert.Len(t, res.Vouchers, mikrotik.BatchLimit)

	// строки только за принятый кусок
	rows, lerr := l.List(router.ID)
	require.NoError(t, lerr)
	assert.Len(t, rows, mikrotik.BatchLimit)
}

func TestGenerateConnectFailure(t *testing.T) {
	p, l, conn, pkg, router := testSetup(t)
	conn.err = errors.New("all strategies failed")

	res, err := p.GenerateBatch(context.Background(), pkg, router, 3, true)
	require.Error(t, err)
	assert.Empty(t, res.Vouchers)

	rows, lerr := l.List(router.ID)
	require.NoError(t, lerr)
	assert.Empty(t, rows)
}

// Удаление всегда сносит строку ledger, даже если удаление на устройстве
// провалилось (канал, который всегда ошибается на remove).
func TestDeleteVoucherRemoteFailureIgnored(t *testing.T) {
	p, l, conn, pkg, router := testSetup(t)
	conn.sess.removeErr = errors.New("device exploded")

	res, err := p.GenerateBatch(context.Background(), pkg, router, 1, true)
	require.NoError(t, err)
	id := res.Vouchers[0].ID

	require.NoError(t, p.DeleteVoucher(context.Background(), id, router))

	_, err = l.Get(id)
	assert.True(t, IsNotFound(err))
}

func TestDeleteVoucherUnreachableDeviceIgnored(t *testing.T) {
	p, l, conn, pkg, router := testSetup(t)

	res, err := p.GenerateBatch(context.Background(), pkg, router, 1, true)
	require.NoError(t, err)
	id := res.Vouchers[0].ID

	conn.err = errors.New("unreachable")
	require.NoError(t, p.DeleteVoucher(context.Background(), id, router))

	_, err = l.Get(id)
	assert.True(t, IsNotFound(err))
}

func TestDeleteVoucherRemovesRemoteEntry(t *testing.T) {
	p, _, conn, pkg, router := testSetup(t)

	res, err := p.GenerateBatch(context.Background(), pkg, router, 1, true)
	require.NoError(t, err)
	v := res.Vouchers[0]

	require.NoError(t, p.DeleteVoucher(context.Background(), v.ID, router))
	assert.Equal(t, []string{v.Code}, conn.sess.removed)
}
