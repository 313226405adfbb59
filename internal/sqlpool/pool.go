// Package sqlpool implements the bounded SQL connection pool spec.md §6
// names as the server's SQL collaborator. It mirrors
// original_source/pool/sql_connect_pool.cpp's semaphore-guarded free
// queue exactly, substituting golang.org/x/sync/semaphore.Weighted for
// the POSIX sem_t and a *sql.DB-backed Handle for the raw MYSQL*.
package sqlpool

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/pkg/errors"
	"golang.org/x/sync/semaphore"
)

// Config names the same fields spec.md §6's configuration record
// reserves for SQL connectivity.
type Config struct {
	Driver string // e.g. "mysql"; left to the caller to register
	Host   string
	Port   int
	User   string
	Pwd    string
	DB     string
	Size   int
}

// Handle is the opaque resource spec.md's glossary describes: callers
// treat it as a token to pass to queries, not something to inspect.
type Handle struct {
	conn *sql.Conn
}

// Conn exposes the underlying *sql.Conn for issuing queries. Named
// distinctly from Handle itself so misuse (holding the handle past
// Release) is visible in code review.
func (h Handle) Conn() *sql.Conn { return h.conn }

// Pool hands out Handles bounded by Config.Size, exactly as the
// original's sem_id bounded MAX_CONNECT concurrent checkouts.
type Pool struct {
	db  *sql.DB
	sem *semaphore.Weighted

	mu    sync.Mutex
	free  []Handle
	total int
}

// Open dials Config.Size connections up front via database/sql and
// returns a ready Pool. The driver named by cfg.Driver must already be
// registered by the caller (a blank import of the chosen driver
// package), matching how mysql_real_connect is handed a pre-selected
// client library in the original.
func Open(ctx context.Context, cfg Config) (*Pool, error) {
	if cfg.Size <= 0 {
		return nil, errors.New("sqlpool: size must be positive")
	}
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s", cfg.User, cfg.Pwd, cfg.Host, cfg.Port, cfg.DB)
	db, err := sql.Open(cfg.Driver, dsn)
	if err != nil {
		return nil, errors.Wrap(err, "sqlpool: open")
	}
	db.SetMaxOpenConns(cfg.Size)

	p := &Pool{db: db, sem: semaphore.NewWeighted(int64(cfg.Size))}
	for i := 0; i < cfg.Size; i++ {
		conn, err := db.Conn(ctx)
		if err != nil {
			p.ClosePool()
			return nil, errors.Wrap(err, "sqlpool: dial")
		}
		p.free = append(p.free, Handle{conn: conn})
		p.total++
	}
	return p, nil
}

// Acquire blocks on the semaphore until a handle is free or ctx is
// cancelled, mirroring sem_wait's blocking acquire.
func (p *Pool) Acquire(ctx context.Context) (Handle, error) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return Handle{}, err
	}
	p.mu.Lock()
	h := p.free[len(p.free)-1]
	p.free = p.free[:len(p.free)-1]
	p.mu.Unlock()
	return h, nil
}

// Release returns a handle to the free queue. If a health check on the
// underlying connection fails, Release reconnects it with
// cenkalti/backoff before making it available again, rather than handing
// a dead connection to the next Acquire caller. If the retry budget runs
// out, the closed handle goes back on the queue.
func (p *Pool) Release(h Handle) {
	if err := h.conn.PingContext(context.Background()); err != nil {
		h = p.reconnect(h)
	}
	p.mu.Lock()
	p.free = append(p.free, h)
	p.mu.Unlock()
	p.sem.Release(1)
}

func (p *Pool) reconnect(stale Handle) Handle {
	stale.conn.Close()

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 5 * time.Second

	var fresh *sql.Conn
	backoff.Retry(func() error {
		c, err := p.db.Conn(context.Background())
		if err != nil {
			return err
		}
		fresh = c
		return nil
	}, bo)

	if fresh == nil {
		// Out of retry budget; hand back a closed handle so the caller's
		// next PingContext fails fast instead of hanging.
		fresh = stale.conn
	}
	return Handle{conn: fresh}
}

// FreeCount reports the number of handles currently idle, for the
// admin/metrics surface.
func (p *Pool) FreeCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.free)
}

// ClosePool closes every handle and the underlying *sql.DB.
func (p *Pool) ClosePool() error {
	p.mu.Lock()
	for _, h := range p.free {
		h.conn.Close()
	}
	p.free = nil
	p.mu.Unlock()
	return p.db.Close()
}
