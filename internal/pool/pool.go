// Package pool provides admission control over the single embedded engine
// instance. It owns a bounded set of engine sessions; callers borrow at most
// one session at a time and waiters are served FIFO.
package pool

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/duckbench/duckbench/internal/observability"
	"github.com/duckbench/duckbench/internal/query"
)

const (
	defaultSessionRetries = 3
	defaultRetryBackoff   = 250 * time.Millisecond
)

type Config struct {
	MaxConnections      int
	SessionRetries      int
	SessionRetryBackoff time.Duration
}

// Conn is an exclusive handle to one engine session. It is owned by the pool
// and borrowed by at most one caller at a time.
type Conn struct {
	session query.Session

	mu     sync.Mutex
	failed bool
}

func (c *Conn) Query(ctx context.Context, sql string) (query.Result, error) {
	return c.session.Query(ctx, sql)
}

// Fail flags the session as unhealthy. The pool discards it on release and
// backfills capacity lazily on the next Acquire.
func (c *Conn) Fail() {
	c.mu.Lock()
	c.failed = true
	c.mu.Unlock()
}

func (c *Conn) isFailed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.failed
}

type Pool struct {
	opener  query.SessionOpener
	sem     *semaphore.Weighted
	retries int
	backoff time.Duration
	logger  *slog.Logger
	clock   func() time.Time

	mu     sync.Mutex
	idle   []*Conn
	closed bool
}

func New(opener query.SessionOpener, cfg Config, logger *slog.Logger) (*Pool, error) {
	if opener == nil {
		return nil, fmt.Errorf("session opener is required")
	}
	if cfg.MaxConnections <= 0 {
		return nil, fmt.Errorf("max connections must be positive")
	}
	if cfg.SessionRetries <= 0 {
		cfg.SessionRetries = defaultSessionRetries
	}
	if cfg.SessionRetryBackoff <= 0 {
		cfg.SessionRetryBackoff = defaultRetryBackoff
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Pool{
		opener:  opener,
		sem:     semaphore.NewWeighted(int64(cfg.MaxConnections)),
		retries: cfg.SessionRetries,
		backoff: cfg.SessionRetryBackoff,
		logger:  logger,
		clock:   time.Now,
	}, nil
}

// Acquire blocks until a session is available. Waiters are served in FIFO
// order. Session creation is retried with backoff; exhausting the retry
// budget fails this acquire with a ConnectionError and does not consume a
// pool slot.
func (p *Pool) Acquire(ctx context.Context) (*Conn, error) {
	waitStart := p.clock()
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return nil, &query.ConnectionError{Op: "acquire", Err: err}
	}
	observability.ObservePoolAcquireWait(p.clock().Sub(waitStart))

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.sem.Release(1)
		return nil, &query.ConnectionError{Op: "acquire", Err: fmt.Errorf("pool is closed")}
	}
	if n := len(p.idle); n > 0 {
		conn := p.idle[n-1]
		p.idle = p.idle[:n-1]
		p.mu.Unlock()
		observability.PoolConnectionBorrowed()
		return conn, nil
	}
	p.mu.Unlock()

	session, err := p.openWithRetry(ctx)
	if err != nil {
		p.sem.Release(1)
		return nil, &query.ConnectionError{Op: "open session", Err: err}
	}
	observability.PoolConnectionBorrowed()
	return &Conn{session: session}, nil
}

// Release returns a borrowed session. Healthy sessions go back to the idle
// list; sessions flagged via Fail are closed and discarded.
func (p *Pool) Release(conn *Conn) {
	if conn == nil {
		return
	}
	if conn.isFailed() {
		if err := conn.session.Close(); err != nil {
			p.logger.Warn("close failed session", slog.Any("error", err))
		}
		observability.IncrementDiscardedSession()
	} else {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			_ = conn.session.Close()
		} else {
			p.idle = append(p.idle, conn)
			p.mu.Unlock()
		}
	}
	observability.PoolConnectionReturned()
	p.sem.Release(1)
}

// WithConnection performs scoped acquisition with guaranteed release on every
// exit path, so a cancelled query never leaks a held session.
func (p *Pool) WithConnection(ctx context.Context, fn func(ctx context.Context, conn *Conn) error) error {
	conn, err := p.Acquire(ctx)
	if err != nil {
		return err
	}
	defer p.Release(conn)
	return fn(ctx, conn)
}

// Close shuts down idle sessions. Borrowed sessions are closed as they come
// back.
func (p *Pool) Close() {
	p.mu.Lock()
	idle := p.idle
	p.idle = nil
	p.closed = true
	p.mu.Unlock()
	for _, conn := range idle {
		_ = conn.session.Close()
	}
}

func (p *Pool) openWithRetry(ctx context.Context) (query.Session, error) {
	var lastErr error
	for attempt := 1; attempt <= p.retries; attempt++ {
		session, err := p.opener.OpenSession(ctx)
		if err == nil {
			return session, nil
		}
		lastErr = err
		observability.IncrementSessionCreateFailure()
		p.logger.Warn("open engine session",
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", p.retries),
			slog.Any("error", err),
		)
		if attempt == p.retries {
			break
		}
		backoff := p.backoff * time.Duration(1<<(attempt-1))
		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
	return nil, fmt.Errorf("session creation failed after %d attempts: %w", p.retries, lastErr)
}
