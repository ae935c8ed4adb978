package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/lib/pq"

	"github.com/example/dede-rides/internal/models"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const pgChannel = "kv_changes"

// Postgres backs the store with one row per leaf path. Multi-path batches
// run in one SQL transaction, subtree transactions lock the prefix with
// FOR UPDATE under serializable isolation, and change fan-out uses
// LISTEN/NOTIFY so notifications fire only on commit.
type Postgres struct {
	db  *sql.DB
	dsn string

	subMu    sync.Mutex
	subs     map[int]*pgSub
	nextSub  int
	listener *pq.Listener
}

type pgSub struct {
	path string
	fn   func(any)
	mu   sync.Mutex
}

func NewPostgres(dsn string) (*Postgres, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &Postgres{db: db, dsn: dsn, subs: map[int]*pgSub{}}, nil
}

func (p *Postgres) Close() error {
	p.subMu.Lock()
	if p.listener != nil {
		_ = p.listener.Close()
		p.listener = nil
	}
	p.subMu.Unlock()
	return p.db.Close()
}

// Migrate applies the embedded schema migrations; already-current is not
// an error.
func Migrate(databaseURL string) error {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("migration source: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", source, databaseURL)
	if err != nil {
		return fmt.Errorf("migrator: %w", err)
	}
	defer m.Close()
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

type pgQuerier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (p *Postgres) Get(ctx context.Context, path string) (any, error) {
	return pgRead(ctx, p.db, path, false)
}

func pgRead(ctx context.Context, q pgQuerier, path string, forUpdate bool) (any, error) {
	var raw []byte
	leafQuery := `SELECT value FROM kv_entries WHERE path = $1`
	if forUpdate {
		leafQuery += ` FOR UPDATE`
	}
	err := q.QueryRowContext(ctx, leafQuery, path).Scan(&raw)
	if err == nil {
		return decodeLeaf(string(raw)), nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("pg get %s: %w", path, err)
	}

	treeQuery := `SELECT path, value FROM kv_entries WHERE path LIKE $1 || '/%'`
	if forUpdate {
		treeQuery += ` FOR UPDATE`
	}
	rows, err := q.QueryContext(ctx, treeQuery, path)
	if err != nil {
		return nil, fmt.Errorf("pg scan %s: %w", path, err)
	}
	defer rows.Close()

	tree := map[string]any{}
	for rows.Next() {
		var leafPath string
		var value []byte
		if err := rows.Scan(&leafPath, &value); err != nil {
			return nil, err
		}
		rel := leafPath[len(path)+1:]
		insertLeaf(tree, splitPath(rel), decodeLeaf(string(value)))
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(tree) == 0 {
		return nil, nil
	}
	return tree, nil
}

func (p *Postgres) Update(ctx context.Context, updates map[string]any) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	paths := make([]string, 0, len(updates))
	for path, v := range updates {
		paths = append(paths, path)
		if err := pgWrite(ctx, tx, path, v); err != nil {
			return err
		}
	}
	if err := pgNotify(ctx, tx, paths); err != nil {
		return err
	}
	return tx.Commit()
}

func pgWrite(ctx context.Context, tx *sql.Tx, path string, v any) error {
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM kv_entries WHERE path = $1 OR path LIKE $1 || '/%'`, path); err != nil {
		return fmt.Errorf("pg delete %s: %w", path, err)
	}
	if v == nil {
		return nil
	}
	for leafPath, leaf := range flattenLeaves(path, v) {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO kv_entries(path, value) VALUES($1, $2)
			 ON CONFLICT (path) DO UPDATE SET value = EXCLUDED.value`,
			leafPath, encodeLeaf(leaf)); err != nil {
			return fmt.Errorf("pg upsert %s: %w", leafPath, err)
		}
	}
	return nil
}

func pgNotify(ctx context.Context, tx *sql.Tx, paths []string) error {
	payload, _ := json.Marshal(paths)
	_, err := tx.ExecContext(ctx, `SELECT pg_notify($1, $2)`, pgChannel, string(payload))
	return err
}

func (p *Postgres) Transact(ctx context.Context, path string, fn func(any) (any, error)) error {
	for attempt := 0; attempt < transactAttempts; attempt++ {
		err := p.transactOnce(ctx, path, fn)
		if err == nil || !pgRetryable(err) {
			return err
		}
	}
	return fmt.Errorf("transact %s: %w", path, models.ErrConflict)
}

func (p *Postgres) transactOnce(ctx context.Context, path string, fn func(any) (any, error)) error {
	tx, err := p.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer tx.Rollback()

	cur, err := pgRead(ctx, tx, path, true)
	if err != nil {
		return err
	}
	next, err := fn(cur)
	if err != nil {
		return err
	}
	if err := pgWrite(ctx, tx, path, next); err != nil {
		return err
	}
	if err := pgNotify(ctx, tx, []string{path}); err != nil {
		return err
	}
	return tx.Commit()
}

func pgRetryable(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		// serialization_failure, deadlock_detected
		return pqErr.Code == "40001" || pqErr.Code == "40P01"
	}
	return false
}

func (p *Postgres) Subscribe(path string, fn func(any)) (func(), error) {
	initial, err := p.Get(context.Background(), path)
	if err != nil {
		return nil, err
	}

	p.subMu.Lock()
	if p.listener == nil {
		l := pq.NewListener(p.dsn, 200*time.Millisecond, 10*time.Second, nil)
		if err := l.Listen(pgChannel); err != nil {
			p.subMu.Unlock()
			_ = l.Close()
			return nil, fmt.Errorf("pg listen: %w", err)
		}
		p.listener = l
		go p.dispatch(l)
	}
	id := p.nextSub
	p.nextSub++
	sub := &pgSub{path: path, fn: fn}
	p.subs[id] = sub
	p.subMu.Unlock()

	sub.mu.Lock()
	sub.fn(initial)
	sub.mu.Unlock()

	return func() {
		p.subMu.Lock()
		delete(p.subs, id)
		p.subMu.Unlock()
	}, nil
}

func (p *Postgres) dispatch(l *pq.Listener) {
	for n := range l.Notify {
		if n == nil {
			continue // reconnect marker
		}
		var changed []string
		if err := json.Unmarshal([]byte(n.Extra), &changed); err != nil {
			continue
		}
		p.subMu.Lock()
		targets := make([]*pgSub, 0, len(p.subs))
		for _, sub := range p.subs {
			if overlapsAny(sub.path, changed) {
				targets = append(targets, sub)
			}
		}
		p.subMu.Unlock()

		for _, sub := range targets {
			v, err := p.Get(context.Background(), sub.path)
			if err != nil {
				continue
			}
			sub.mu.Lock()
			sub.fn(v)
			sub.mu.Unlock()
		}
	}
}
