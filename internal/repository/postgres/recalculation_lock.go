package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"bar-crm/internal/repository"
)

// recalculationLockKey is the pg_advisory_lock key for batch recalculation.
const recalculationLockKey int64 = 0x706f696e7473 // "points"

type recalculationLocker struct {
	pool *pgxpool.Pool
}

func NewRecalculationLocker(pool *pgxpool.Pool) repository.RecalculationLocker {
	return &recalculationLocker{pool: pool}
}

var _ repository.RecalculationLocker = (*recalculationLocker)(nil)

// TryLock pins a pooled connection for as long as the lock is held; advisory
// locks belong to the session that took them.
func (l *recalculationLocker) TryLock(ctx context.Context) (func(), error) {
	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	session := pooledSession{conn: conn}

	var acquired bool
	if err := conn.QueryRow(ctx, `SELECT pg_try_advisory_lock($1)`, recalculationLockKey).Scan(&acquired); err != nil {
		// The lock may have been granted before the read failed.
		discardSession(session)
		return nil, err
	}
	if !acquired {
		conn.Release()
		return nil, repository.ErrRecalculationLocked
	}

	return func() { releaseSession(session) }, nil
}

type advisorySession interface {
	unlock(ctx context.Context) (bool, error)
	close(ctx context.Context) error
	release()
}

type pooledSession struct {
	conn *pgxpool.Conn
}

func (s pooledSession) unlock(ctx context.Context) (bool, error) {
	var released bool
	err := s.conn.QueryRow(ctx, `SELECT pg_advisory_unlock($1)`, recalculationLockKey).Scan(&released)
	return released, err
}

func (s pooledSession) close(ctx context.Context) error { return s.conn.Conn().Close(ctx) }

func (s pooledSession) release() { s.conn.Release() }

// releaseSession hands the connection back only once the lock is known to be
// gone. Any other outcome ends the session, which drops its locks; the pool
// destroys closed connections on release.
func releaseSession(session advisorySession) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if released, err := session.unlock(ctx); err != nil || !released {
		discardSession(session)
		return
	}
	session.release()
}

func discardSession(session advisorySession) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_ = session.close(ctx)
	session.release()
}
