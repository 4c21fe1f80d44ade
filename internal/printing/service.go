// Package printing turns invoices into receipt jobs and sends them to a printer.
package printing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"receipt-print/internal/escpos"
	"receipt-print/internal/imaging"
	"receipt-print/internal/invoice"
	"receipt-print/internal/receipt"
	"receipt-print/internal/store"
)

var ErrNoInvoice = errors.New("no invoice to print")

// Connector is a printer that can be made ready and sent jobs
type Connector interface {
	EnsureConnected(ctx context.Context) (store.PrinterIdentity, error)
	Send(ctx context.Context, job [][]byte) error
}

// Service prints invoices as raster receipts
type Service struct {
	composer *receipt.Composer
	options  imaging.Options
	printer  Connector
	logger   *slog.Logger
}

func NewService(composer *receipt.Composer, options imaging.Options, printer Connector, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{composer: composer, options: options, printer: printer, logger: logger}
}

// Render composes and rasterizes a receipt without printing it
func (s *Service) Render(inv *invoice.Invoice, party invoice.Party) (receipt.Receipt, []imaging.Band, error) {
	if inv == nil {
		return receipt.Receipt{}, nil, ErrNoInvoice
	}
	r := s.composer.Compose(inv, party)

	opts := s.options
	opts.Enlarged = r.Enlarged
	bands, err := imaging.Rasterize(r.Lines, opts)
	if err != nil {
		return r, nil, fmt.Errorf("rasterizing receipt: %w", err)
	}
	return r, bands, nil
}

// PrintReceipt prints inv, with party overriding the invoice's customer
// fields. It returns true once every byte of the job has been written.
func (s *Service) PrintReceipt(ctx context.Context, inv *invoice.Invoice, party invoice.Party) (bool, error) {
	job := uuid.NewString()
	logger := s.logger.With("job", job)
	started := time.Now()

	r, bands, err := s.Render(inv, party)
	if err != nil {
		logger.Error("rendering receipt", "error", err)
		return false, err
	}
	logger.Debug("receipt rendered", "lines", len(r.Lines), "bands", len(bands))

	printer, err := s.printer.EnsureConnected(ctx)
	if err != nil {
		logger.Warn("no printer available", "error", err)
		return false, err
	}

	if err := s.printer.Send(ctx, escpos.BuildPrintJob(bands)); err != nil {
		logger.Error("printing receipt", "device", printer.DeviceID, "error", err)
		return false, err
	}

	logger.Info("receipt printed",
		"device", printer.DeviceID,
		"invoice", inv.Number,
		"bands", len(bands),
		"duration", time.Since(started))
	return true, nil
}
