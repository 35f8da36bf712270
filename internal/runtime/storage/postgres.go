package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/lib/pq"

	"github.com/drblury/hermes/internal/runtime/logging"

	herrors "github.com/drblury/hermes/internal/runtime/errors"
)

const (
	// DefaultPostgresTable holds the slots.
	DefaultPostgresTable = "hermes_slots"

	// MaxNotifyPayload is the largest event PostgreSQL accepts in NOTIFY.
	MaxNotifyPayload = 8000

	listenerMinReconnect = 10 * time.Second
	listenerMaxReconnect = time.Minute
)

// Postgres keeps slots in a table and announces every mutation with
// pg_notify inside the mutating transaction, so listeners observe events in
// commit order.
type Postgres struct {
	db      *sql.DB
	dsn     string
	channel string
	origin  string
	logger  logging.ServiceLogger

	mu       sync.Mutex
	listener *pq.Listener
}

var (
	_ Store   = (*Postgres)(nil)
	_ Claimer = (*Postgres)(nil)
)

// OpenPostgres connects to dsn and creates the slot table if needed.
func OpenPostgres(ctx context.Context, dsn, channel, origin string, logger logging.ServiceLogger) (*Postgres, error) {
	if dsn == "" {
		return nil, fmt.Errorf("PostgreSQL connection string is required")
	}
	if logger == nil {
		logger = logging.NewDiscardLogger()
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open PostgreSQL database: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}

	p := &Postgres{
		db:      db,
		dsn:     dsn,
		channel: channel,
		origin:  origin,
		logger:  logger.With(logging.LogFields{"store": "postgres", "channel": channel}),
	}
	if err := p.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return p, nil
}

func (p *Postgres) initSchema(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
	CREATE TABLE IF NOT EXISTS `+DefaultPostgresTable+` (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at TIMESTAMPTZ DEFAULT NOW()
	)`)
	return err
}

func (p *Postgres) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := p.db.QueryRowContext(ctx, `SELECT value FROM `+DefaultPostgresTable+` WHERE key = $1`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get %q: %w", key, err)
	}
	return value, true, nil
}

func (p *Postgres) Set(ctx context.Context, key, value string) error {
	return p.inTx(ctx, func(tx *sql.Tx) error {
		var old sql.NullString
		err := tx.QueryRowContext(ctx, `SELECT value FROM `+DefaultPostgresTable+` WHERE key = $1 FOR UPDATE`, key).Scan(&old)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("failed to read %q: %w", key, err)
		}
		if old.Valid && old.String == value {
			return nil
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO `+DefaultPostgresTable+` (key, value, updated_at) VALUES ($1, $2, NOW())
			ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()`, key, value)
		if err != nil {
			return fmt.Errorf("failed to write %q: %w", key, err)
		}

		ev := Event{Key: key, NewValue: ptr(value)}
		if old.Valid {
			ev.OldValue = ptr(old.String)
		}
		return p.notify(ctx, tx, ev)
	})
}

func (p *Postgres) SetIfAbsent(ctx context.Context, key, value string) (bool, error) {
	claimed := false
	err := p.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO `+DefaultPostgresTable+` (key, value, updated_at) VALUES ($1, $2, NOW())
			ON CONFLICT (key) DO NOTHING`, key, value)
		if err != nil {
			return fmt.Errorf("failed to claim %q: %w", key, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return nil
		}
		claimed = true
		return p.notify(ctx, tx, Event{Key: key, NewValue: ptr(value)})
	})
	if err != nil {
		return false, err
	}
	return claimed, nil
}

func (p *Postgres) Remove(ctx context.Context, key string) error {
	return p.inTx(ctx, func(tx *sql.Tx) error {
		var old string
		err := tx.QueryRowContext(ctx, `DELETE FROM `+DefaultPostgresTable+` WHERE key = $1 RETURNING value`, key).Scan(&old)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to remove %q: %w", key, err)
		}
		return p.notify(ctx, tx, Event{Key: key, OldValue: ptr(old)})
	})
}

func (p *Postgres) notify(ctx context.Context, tx *sql.Tx, ev Event) error {
	body, err := encodeEvent(p.origin, ev)
	if err != nil {
		return fmt.Errorf("failed to encode store event: %w", err)
	}
	if len(body) >= MaxNotifyPayload {
		return fmt.Errorf("%w: store event for %q is %d bytes", herrors.ErrMessageTooLarge, ev.Key, len(body))
	}
	if _, err := tx.ExecContext(ctx, `SELECT pg_notify($1, $2)`, p.channel, string(body)); err != nil {
		return fmt.Errorf("failed to notify store event: %w", err)
	}
	return nil
}

func (p *Postgres) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			p.logger.Error("failed to rollback transaction", err, nil)
		}
	}()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (p *Postgres) Watch(fn func(Event)) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.listener != nil {
		return fmt.Errorf("hermes: postgres store is already watched")
	}

	listener := pq.NewListener(p.dsn, listenerMinReconnect, listenerMaxReconnect, p.listenerEvent)
	if err := listener.Listen(p.channel); err != nil {
		_ = listener.Close()
		return fmt.Errorf("failed to listen on %q: %w", p.channel, err)
	}
	p.listener = listener
	go p.consume(listener.Notify, fn)
	return nil
}

func (p *Postgres) listenerEvent(event pq.ListenerEventType, err error) {
	switch event {
	case pq.ListenerEventDisconnected:
		p.logger.Error("Store listener disconnected", err, nil)
	case pq.ListenerEventReconnected:
		// Notifications sent while disconnected are lost.
		p.logger.Warn("Store listener reconnected", nil)
	case pq.ListenerEventConnectionAttemptFailed:
		p.logger.Error("Store listener reconnect failed", err, nil)
	}
}

func (p *Postgres) consume(notifications <-chan *pq.Notification, fn func(Event)) {
	for n := range notifications {
		// A nil notification marks a re-established connection.
		if n == nil {
			continue
		}
		ev, origin, err := decodeEvent([]byte(n.Extra))
		if err != nil {
			p.logger.Error("Discarding undecodable store event", err, nil)
			continue
		}
		if origin == p.origin {
			continue
		}
		fn(ev)
	}
}

func (p *Postgres) Close() error {
	p.mu.Lock()
	listener := p.listener
	p.listener = nil
	p.mu.Unlock()

	var errs []error
	if listener != nil {
		errs = append(errs, listener.Close())
	}
	errs = append(errs, p.db.Close())
	return errors.Join(errs...)
}
