package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// Registry writes printer identities through every tier and reads them back
// in precedence order: cache, durable store, then remote store.
type Registry struct {
	cache   *Cache
	durable *Durable
	remote  *Remote
	logger  *slog.Logger
}

// NewRegistry wires the tiers together. remote may be nil.
func NewRegistry(cache *Cache, durable *Durable, remote *Remote, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{cache: cache, durable: durable, remote: remote, logger: logger}
}

// Save persists p to all tiers. The durable store is authoritative; cache
// and remote failures are logged and do not fail the save.
func (r *Registry) Save(ctx context.Context, p PrinterIdentity) error {
	if p.IsZero() {
		return errors.New("printer identity has no device id")
	}
	if err := r.durable.Upsert(ctx, p); err != nil {
		return fmt.Errorf("saving printer: %w", err)
	}
	if err := r.cache.Store(ctx, p); err != nil {
		r.logger.Warn("caching printer", "device", p.DeviceID, "error", err)
	}
	if r.remote != nil {
		if err := r.remote.Upsert(ctx, p); err != nil {
			r.logger.Warn("syncing printer to remote store", "device", p.DeviceID, "error", err)
		}
	}
	return nil
}

// Last returns the printer to reconnect to
func (r *Registry) Last(ctx context.Context) (*PrinterIdentity, error) {
	p, err := r.cache.Load(ctx)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, ErrNotFound) {
		r.logger.Warn("reading printer cache", "error", err)
	}

	p, err = r.durable.Default(ctx)
	if err == nil {
		r.backfillCache(ctx, *p)
		return p, nil
	}
	if !errors.Is(err, ErrNotFound) {
		r.logger.Warn("reading printer database", "error", err)
	}

	if r.remote == nil {
		return nil, ErrNotFound
	}
	p, err = r.remote.Default(ctx)
	if err != nil {
		return nil, err
	}
	if err := r.durable.Upsert(ctx, *p); err != nil {
		r.logger.Warn("restoring printer from remote store", "device", p.DeviceID, "error", err)
	}
	r.backfillCache(ctx, *p)
	return p, nil
}

func (r *Registry) backfillCache(ctx context.Context, p PrinterIdentity) {
	if err := r.cache.Store(ctx, p); err != nil {
		r.logger.Warn("caching printer", "device", p.DeviceID, "error", err)
	}
}

// Authorized reports whether deviceID was paired before
func (r *Registry) Authorized(ctx context.Context, deviceID string) bool {
	if deviceID == "" {
		return false
	}
	if _, err := r.durable.Get(ctx, deviceID); err == nil {
		return true
	}
	p, err := r.cache.Load(ctx)
	return err == nil && p.DeviceID == deviceID
}

// Touch updates the connection time of a known printer without changing
// its default flag
func (r *Registry) Touch(ctx context.Context, p PrinterIdentity) error {
	existing, err := r.durable.Get(ctx, p.DeviceID)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	p.IsDefault = existing.IsDefault
	return r.Save(ctx, p)
}

// List returns every saved printer, most recently connected first
func (r *Registry) List(ctx context.Context) ([]PrinterIdentity, error) {
	return r.durable.List(ctx)
}

// SetDefault marks a known printer as the only default
func (r *Registry) SetDefault(ctx context.Context, deviceID string) error {
	p, err := r.durable.Get(ctx, deviceID)
	if err != nil {
		return err
	}
	p.IsDefault = true
	return r.Save(ctx, *p)
}

// Forget removes one printer from every tier
func (r *Registry) Forget(ctx context.Context, deviceID string) error {
	var errs []error
	if err := r.cache.Clear(ctx, deviceID); err != nil {
		errs = append(errs, fmt.Errorf("clearing cache: %w", err))
	}
	if err := r.durable.Delete(ctx, deviceID); err != nil {
		errs = append(errs, fmt.Errorf("deleting printer: %w", err))
	}
	if r.remote != nil {
		if err := r.remote.Delete(ctx, deviceID); err != nil {
			errs = append(errs, fmt.Errorf("deleting remote printer: %w", err))
		}
	}
	return errors.Join(errs...)
}

// ForgetAll removes every printer from every tier
func (r *Registry) ForgetAll(ctx context.Context) error {
	var errs []error
	if err := r.cache.Clear(ctx, ""); err != nil {
		errs = append(errs, fmt.Errorf("clearing cache: %w", err))
	}
	if err := r.durable.DeleteAll(ctx); err != nil {
		errs = append(errs, fmt.Errorf("deleting printers: %w", err))
	}
	if r.remote != nil {
		if err := r.remote.DeleteAll(ctx); err != nil {
			errs = append(errs, fmt.Errorf("deleting remote printers: %w", err))
		}
	}
	return errors.Join(errs...)
}

func (r *Registry) Close() error {
	var errs []error
	if r.remote != nil {
		errs = append(errs, r.remote.Close())
	}
	errs = append(errs, r.durable.Close(), r.cache.Close())
	return errors.Join(errs...)
}
