// Package pipeline builds the printing stack from a Config.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"receipt-print/internal/config"
	"receipt-print/internal/events"
	"receipt-print/internal/imaging"
	"receipt-print/internal/printer"
	"receipt-print/internal/printing"
	"receipt-print/internal/receipt"
	"receipt-print/internal/store"
)

// Pipeline holds the wired components. Manager and Registry are nil when
// printing to a serial port or a dry-run file.
type Pipeline struct {
	Service  *printing.Service
	Manager  *printer.Manager
	Registry *store.Registry
	Direct   *printer.Direct

	closers []func() error
}

// New wires the stack described by cfg. chooser may be nil for front ends
// that never pair new printers.
func New(ctx context.Context, cfg *config.Config, chooser printer.Chooser, logger *slog.Logger) (*Pipeline, error) {
	if logger == nil {
		logger = slog.Default()
	}
	imaging.RegisterScriptFont(cfg.ScriptFont, logger)

	p := &Pipeline{}
	transport := printer.NewTransport(cfg.ChunkSize, cfg.ChunkDelay)
	composer := receipt.NewComposer(cfg.Columns, cfg.Merchant)

	if sink, err := directSink(cfg); err != nil {
		return nil, err
	} else if sink != nil {
		logger.Info("printing without bluetooth", "sink", sink.Name())
		p.closers = append(p.closers, sink.Close)
		p.Direct = printer.NewDirect(sink, transport)
		p.Service = printing.NewService(composer, cfg.Imaging, p.Direct, logger)
		return p, nil
	}

	registry, err := openRegistry(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	p.Registry = registry
	p.closers = append(p.closers, registry.Close)

	adapter, err := printer.NewGATTAdapter(cfg.DialTimeout, logger)
	if err != nil {
		p.Close()
		return nil, fmt.Errorf("opening bluetooth: %w", err)
	}
	p.closers = append(p.closers, adapter.Stop)

	p.Manager = printer.NewManager(cfg.Printer, adapter, chooser, registry, events.NewBus(), transport, logger)
	p.closers = append(p.closers, func() error {
		p.Manager.Close()
		return nil
	})
	p.Service = printing.NewService(composer, cfg.Imaging, p.Manager, logger)
	return p, nil
}

type closingSink interface {
	printer.NamedSink
	Close() error
}

func directSink(cfg *config.Config) (closingSink, error) {
	switch {
	case cfg.DryRunPath != "":
		s, err := printer.CreateFileSink(cfg.DryRunPath)
		if err != nil {
			return nil, fmt.Errorf("opening dry-run file: %w", err)
		}
		return s, nil
	case cfg.SerialPort != "":
		s, err := printer.OpenSerial(cfg.SerialPort, cfg.SerialBaud)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
	return nil, nil
}

func openRegistry(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*store.Registry, error) {
	cache, err := store.OpenCache(cfg.CachePath)
	if err != nil {
		return nil, err
	}
	durable, err := store.OpenDurable(ctx, cfg.DBPath)
	if err != nil {
		cache.Close()
		return nil, err
	}

	var remote *store.Remote
	if cfg.RemoteDSN != "" {
		remote, err = store.OpenRemote(ctx, store.RemoteConfig{
			DSN:         cfg.RemoteDSN,
			UserID:      cfg.UserID,
			DialTimeout: cfg.DialTimeout,
		}, logger)
		if err != nil {
			// local tiers keep working without the remote store
			logger.Warn("remote printer store unavailable", "error", err)
			remote = nil
		}
	}
	return store.NewRegistry(cache, durable, remote, logger), nil
}

// Close releases everything New opened, newest first
func (p *Pipeline) Close() error {
	var errs []error
	for i := len(p.closers) - 1; i >= 0; i-- {
		if err := p.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	p.closers = nil
	return errors.Join(errs...)
}
