package sqlpool

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

// fakeDriver is a minimal database/sql/driver implementation so these
// tests exercise Pool's acquire/release bookkeeping without a real
// network dependency. Registered once under a fixed name.
type fakeDriver struct{}

func (fakeDriver) Open(name string) (driver.Conn, error) { return &fakeConn{}, nil }

type fakeConn struct{ closed bool }

func (c *fakeConn) Prepare(query string) (driver.Stmt, error) { return nil, driver.ErrSkip }
func (c *fakeConn) Close() error                              { c.closed = true; return nil }
func (c *fakeConn) Begin() (driver.Tx, error)                 { return nil, driver.ErrSkip }
func (c *fakeConn) Ping(ctx context.Context) error            { return nil }

var registerOnce sync.Once

func registerFakeDriver() {
	registerOnce.Do(func() { sql.Register("sqlpool_fake", fakeDriver{}) })
}

func TestOpenFillsFreeQueueToSize(t *testing.T) {
	registerFakeDriver()
	p, err := Open(context.Background(), Config{Driver: "sqlpool_fake", Size: 3})
	require.NoError(t, err)
	defer p.ClosePool()

	require.Equal(t, 3, p.FreeCount())
}

func TestAcquireDrainsFreeCount(t *testing.T) {
	registerFakeDriver()
	p, err := Open(context.Background(), Config{Driver: "sqlpool_fake", Size: 2})
	require.NoError(t, err)
	defer p.ClosePool()

	h, err := p.Acquire(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, p.FreeCount())

	p.Release(h)
	require.Equal(t, 2, p.FreeCount())
}

func TestAcquireBlocksWhenExhausted(t *testing.T) {
	registerFakeDriver()
	p, err := Open(context.Background(), Config{Driver: "sqlpool_fake", Size: 1})
	require.NoError(t, err)
	defer p.ClosePool()

	h, err := p.Acquire(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 0)
	defer cancel()
	_, err = p.Acquire(ctx)
	require.Error(t, err)

	p.Release(h)
}
