package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS printers (
	device_id           TEXT PRIMARY KEY,
	display_name        TEXT NOT NULL DEFAULT '',
	last_connected      INTEGER NOT NULL DEFAULT 0,
	is_default          INTEGER NOT NULL DEFAULT 0,
	service_uuid        TEXT NOT NULL DEFAULT '',
	characteristic_uuid TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_printers_device_id ON printers (device_id);
CREATE INDEX IF NOT EXISTS idx_printers_is_default ON printers (is_default);
`

const printerColumns = `device_id, display_name, last_connected, is_default, service_uuid, characteristic_uuid`

// Durable is the structured local store of every known printer
type Durable struct {
	db *sql.DB
}

// OpenDurable opens the SQLite database at path and applies the schema
func OpenDurable(ctx context.Context, path string) (*Durable, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite: %w", err)
	}
	// a single connection keeps transactions and :memory: databases coherent
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}
	return &Durable{db: db}, nil
}

func (d *Durable) Close() error {
	return d.db.Close()
}

// Upsert inserts or updates p. When p.IsDefault is set every other printer
// loses its default flag in the same transaction.
func (d *Durable) Upsert(ctx context.Context, p PrinterIdentity) error {
	return d.tx(ctx, func(tx *sql.Tx) error {
		if p.IsDefault {
			if _, err := tx.ExecContext(ctx, `UPDATE printers SET is_default = 0 WHERE device_id <> ?`, p.DeviceID); err != nil {
				return fmt.Errorf("clearing default: %w", err)
			}
		}
		_, err := tx.ExecContext(ctx, `
INSERT INTO printers (`+printerColumns+`) VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT (device_id) DO UPDATE SET
	display_name = excluded.display_name,
	last_connected = excluded.last_connected,
	is_default = excluded.is_default,
	service_uuid = excluded.service_uuid,
	characteristic_uuid = excluded.characteristic_uuid`,
			p.DeviceID, p.DisplayName, p.LastConnected.UnixMilli(), boolInt(p.IsDefault), p.ServiceUUID, p.CharacteristicUUID)
		if err != nil {
			return fmt.Errorf("upserting printer: %w", err)
		}
		return nil
	})
}

func (d *Durable) Get(ctx context.Context, deviceID string) (*PrinterIdentity, error) {
	row := d.db.QueryRowContext(ctx, `SELECT `+printerColumns+` FROM printers WHERE device_id = ?`, deviceID)
	return scanPrinter(row)
}

// Default returns the default printer, or the most recently connected one
// when none is marked
func (d *Durable) Default(ctx context.Context) (*PrinterIdentity, error) {
	row := d.db.QueryRowContext(ctx, `SELECT `+printerColumns+` FROM printers ORDER BY is_default DESC, last_connected DESC LIMIT 1`)
	return scanPrinter(row)
}

func (d *Durable) List(ctx context.Context) ([]PrinterIdentity, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT `+printerColumns+` FROM printers ORDER BY last_connected DESC`)
	if err != nil {
		return nil, fmt.Errorf("listing printers: %w", err)
	}
	defer rows.Close()

	printers := make([]PrinterIdentity, 0)
	for rows.Next() {
		p, err := scanPrinter(rows)
		if err != nil {
			return nil, err
		}
		printers = append(printers, *p)
	}
	return printers, rows.Err()
}

func (d *Durable) Delete(ctx context.Context, deviceID string) error {
	_, err := d.db.ExecContext(ctx, `DELETE FROM printers WHERE device_id = ?`, deviceID)
	return err
}

func (d *Durable) DeleteAll(ctx context.Context) error {
	_, err := d.db.ExecContext(ctx, `DELETE FROM printers`)
	return err
}

func (d *Durable) tx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanPrinter(s scanner) (*PrinterIdentity, error) {
	var (
		p         PrinterIdentity
		lastMilli int64
		isDefault int
	)
	err := s.Scan(&p.DeviceID, &p.DisplayName, &lastMilli, &isDefault, &p.ServiceUUID, &p.CharacteristicUUID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning printer: %w", err)
	}
	if lastMilli > 0 {
		p.LastConnected = time.UnixMilli(lastMilli).UTC()
	}
	p.IsDefault = isDefault != 0
	return &p, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
