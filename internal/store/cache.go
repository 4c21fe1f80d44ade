package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

const (
	settingsBucket = "settings"
	printerKey     = "thermal_printer"
)

// Cache keeps the last used printer under a single well-known key
type Cache struct {
	db *bbolt.DB
}

// OpenCache opens or creates the bolt file at path
func OpenCache(path string) (*Cache, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening boltdb: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(settingsBucket))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating buckets: %w", err)
	}

	return &Cache{db: db}, nil
}

func (c *Cache) Load(_ context.Context) (*PrinterIdentity, error) {
	var p *PrinterIdentity
	err := c.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(settingsBucket)).Get([]byte(printerKey))
		if data == nil {
			return ErrNotFound
		}
		if err := json.Unmarshal(data, &p); err != nil {
			return fmt.Errorf("unmarshaling printer: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (c *Cache) Store(_ context.Context, p PrinterIdentity) error {
	return c.db.Update(func(tx *bbolt.Tx) error {
		data, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("marshaling printer: %w", err)
		}
		return tx.Bucket([]byte(settingsBucket)).Put([]byte(printerKey), data)
	})
}

// Clear removes the cached printer. With a non-empty deviceID only that
// device is removed.
func (c *Cache) Clear(_ context.Context, deviceID string) error {
	return c.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(settingsBucket))
		if deviceID != "" {
			data := bucket.Get([]byte(printerKey))
			if data == nil {
				return nil
			}
			var p PrinterIdentity
			if err := json.Unmarshal(data, &p); err == nil && p.DeviceID != deviceID {
				return nil
			}
		}
		return bucket.Delete([]byte(printerKey))
	})
}

func (c *Cache) Close() error {
	return c.db.Close()
}
