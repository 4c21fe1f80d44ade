package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"receipt-print/internal/config"
	"receipt-print/internal/events"
	"receipt-print/internal/invoice"
	"receipt-print/internal/pipeline"
	"receipt-print/internal/printer"
	"receipt-print/internal/server"
)

const usageText = `receipt-printd [flags] [command]

Commands:
  serve               print invoices posted over HTTP (default)
  print FILE...       print invoice JSON files and exit
  pair                scan, pick a printer and make it the default
  forget [DEVICE]     forget one printer, or all of them
  ports               list serial ports`

func main() {
	cfg, err := config.Parse("receipt-printd", os.Args[1:])
	if err != nil {
		var ue *config.UsageError
		if errors.As(err, &ue) {
			fmt.Fprintf(os.Stderr, "%s\n%s\n", usageText, ue.Usage)
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	logger := cfg.Logger(os.Stderr)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("receipt-printd failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	command, args := "serve", []string(nil)
	if len(cfg.Args) > 0 {
		command, args = cfg.Args[0], cfg.Args[1:]
	}

	if command == "ports" {
		ports, err := printer.ListSerialPorts()
		if err != nil {
			return err
		}
		for _, p := range ports {
			fmt.Println(p)
		}
		return nil
	}

	p, err := pipeline.New(ctx, cfg, chooserFor(command, os.Stdin, os.Stderr), logger)
	if err != nil {
		return err
	}
	defer p.Close()

	switch command {
	case "serve":
		return serve(ctx, cfg, p, logger)
	case "print":
		return printFiles(ctx, p, args)
	case "pair":
		if p.Manager == nil {
			return errors.New("pairing needs bluetooth; drop --serial and --dry-run")
		}
		ident, err := p.Manager.ConnectNew(ctx, true)
		if err != nil {
			return err
		}
		fmt.Printf("paired with %s\n", ident.Name())
		return nil
	case "forget":
		if p.Manager == nil {
			return errors.New("no bluetooth printers in this mode")
		}
		if len(args) > 0 {
			return p.Manager.ForgetPrinter(ctx, args[0])
		}
		return p.Manager.ForgetAllPrinters(ctx)
	}
	return fmt.Errorf("unknown command %q", command)
}

// chooserFor returns the terminal prompt for pairing. Other commands get no
// chooser, so a request needing a new printer fails with ErrNotSupported
// instead of waiting on stdin.
func chooserFor(command string, in io.Reader, out io.Writer) printer.Chooser {
	if command == "pair" {
		return printer.NewPromptChooser(in, out)
	}
	return nil
}

func serve(ctx context.Context, cfg *config.Config, p *pipeline.Pipeline, logger *slog.Logger) error {
	var conn server.Connection
	var saved server.SavedPrinters
	if p.Registry != nil {
		saved = p.Registry
	}
	if p.Manager != nil {
		conn = p.Manager
		p.Manager.AddConnectionListener(func(s events.Status) {
			logger.Info("printer status", "device", s.DeviceID, "name", s.DeviceName, "state", s.State)
		})
		p.Manager.Start()
		go p.Manager.AutoReconnect(ctx, true)
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           server.New(p.Service, conn, saved, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		errc <- srv.ListenAndServe()
	}()
	logger.Info("Server started", "address", cfg.HTTPAddr)

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func printFiles(ctx context.Context, p *pipeline.Pipeline, paths []string) error {
	if len(paths) == 0 {
		return errors.New("print needs at least one invoice file")
	}
	for _, path := range paths {
		inv, err := loadInvoice(path)
		if err != nil {
			return err
		}
		if _, err := p.Service.PrintReceipt(ctx, inv, invoice.Party{}); err != nil {
			return fmt.Errorf("printing %s: %w", path, err)
		}
	}
	return nil
}

func loadInvoice(path string) (*invoice.Invoice, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	inv, err := invoice.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return inv, nil
}
