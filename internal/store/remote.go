package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const remoteSchema = `
CREATE TABLE IF NOT EXISTS user_printers (
	user_id             TEXT NOT NULL,
	device_mac          TEXT NOT NULL,
	device_name         TEXT NOT NULL DEFAULT '',
	is_default          BOOLEAN NOT NULL DEFAULT FALSE,
	last_connected      TIMESTAMPTZ,
	service_uuid        TEXT NOT NULL DEFAULT '',
	characteristic_uuid TEXT NOT NULL DEFAULT '',
	updated_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (user_id, device_mac)
)`

// PgxIface is the subset of *pgxpool.Pool the remote store needs
type PgxIface interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// RemoteConfig configures the per-user Postgres store
type RemoteConfig struct {
	DSN             string
	UserID          string
	MaxConns        int32
	MaxConnIdleTime time.Duration
	DialTimeout     time.Duration
}

// Remote stores printers per user in Postgres, keyed by (user_id, device_mac)
type Remote struct {
	db     PgxIface
	pool   *pgxpool.Pool
	userID string
}

// OpenRemote connects to Postgres and ensures the table exists
func OpenRemote(ctx context.Context, cfg RemoteConfig, logger *slog.Logger) (*Remote, error) {
	if cfg.UserID == "" {
		return nil, errors.New("remote store requires a user id")
	}
	logger.Info("connecting to remote printer store")

	pc, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parsing dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		pc.MaxConns = cfg.MaxConns
	}
	if cfg.MaxConnIdleTime > 0 {
		pc.MaxConnIdleTime = cfg.MaxConnIdleTime
	}
	pc.ConnConfig.RuntimeParams["application_name"] = "receipt-print"

	if cfg.DialTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.DialTimeout)
		defer cancel()
	}
	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		return nil, fmt.Errorf("connecting: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging: %w", err)
	}

	r := NewRemote(pool, cfg.UserID)
	r.pool = pool
	if _, err := pool.Exec(ctx, remoteSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}

	logger.Info("connected to remote printer store", "user", cfg.UserID)
	return r, nil
}

func NewRemote(db PgxIface, userID string) *Remote {
	return &Remote{db: db, userID: userID}
}

func (r *Remote) Close() error {
	if r.pool != nil {
		r.pool.Close()
	}
	return nil
}

func (r *Remote) Upsert(ctx context.Context, p PrinterIdentity) error {
	return pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		if p.IsDefault {
			_, err := tx.Exec(ctx,
				`UPDATE user_printers SET is_default = FALSE, updated_at = now() WHERE user_id = $1 AND device_mac <> $2`,
				r.userID, p.DeviceID)
			if err != nil {
				return fmt.Errorf("clearing default: %w", err)
			}
		}
		_, err := tx.Exec(ctx, `
INSERT INTO user_printers (user_id, device_mac, device_name, is_default, last_connected, service_uuid, characteristic_uuid)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (user_id, device_mac) DO UPDATE SET
	device_name = EXCLUDED.device_name,
	is_default = EXCLUDED.is_default,
	last_connected = EXCLUDED.last_connected,
	service_uuid = EXCLUDED.service_uuid,
	characteristic_uuid = EXCLUDED.characteristic_uuid,
	updated_at = now()`,
			r.userID, p.DeviceID, p.DisplayName, p.IsDefault, nullTime(p.LastConnected), p.ServiceUUID, p.CharacteristicUUID)
		if err != nil {
			return fmt.Errorf("upserting printer: %w", err)
		}
		return nil
	})
}

// Default returns the user's default printer, or the most recent one
func (r *Remote) Default(ctx context.Context) (*PrinterIdentity, error) {
	var (
		p    PrinterIdentity
		last *time.Time
	)
	err := r.db.QueryRow(ctx, `
SELECT device_mac, device_name, is_default, last_connected, service_uuid, characteristic_uuid
FROM user_printers WHERE user_id = $1
ORDER BY is_default DESC, last_connected DESC NULLS LAST LIMIT 1`, r.userID).
		Scan(&p.DeviceID, &p.DisplayName, &p.IsDefault, &last, &p.ServiceUUID, &p.CharacteristicUUID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading default printer: %w", err)
	}
	if last != nil {
		p.LastConnected = last.UTC()
	}
	return &p, nil
}

func (r *Remote) Delete(ctx context.Context, deviceID string) error {
	_, err := r.db.Exec(ctx, `DELETE FROM user_printers WHERE user_id = $1 AND device_mac = $2`, r.userID, deviceID)
	return err
}

func (r *Remote) DeleteAll(ctx context.Context) error {
	_, err := r.db.Exec(ctx, `DELETE FROM user_printers WHERE user_id = $1`, r.userID)
	return err
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
