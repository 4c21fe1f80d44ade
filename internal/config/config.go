// Package config reads settings from flags and RECEIPT_PRINT_* environment variables.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"

	"receipt-print/internal/imaging"
	"receipt-print/internal/invoice"
	"receipt-print/internal/printer"
	"receipt-print/internal/receipt"
)

const EnvPrefix = "RECEIPT_PRINT"

// Config is everything the front ends need to build the pipeline
type Config struct {
	Columns    int
	Imaging    imaging.Options
	ScriptFont string

	ChunkSize   int
	ChunkDelay  time.Duration
	DialTimeout time.Duration
	Printer     printer.Config

	CachePath string
	DBPath    string
	RemoteDSN string
	UserID    string

	Merchant invoice.Merchant

	HTTPAddr   string
	SerialPort string
	SerialBaud int
	DryRunPath string

	LogLevel slog.Level

	// Args are the positional arguments left after flags
	Args []string
}

// UsageError carries the flag help alongside a parse failure
type UsageError struct {
	Usage string
	Err   error
}

func (e *UsageError) Error() string {
	return e.Err.Error()
}

func (e *UsageError) Unwrap() error {
	return e.Err
}

// Parse reads args, falling back to environment variables
func Parse(name string, args []string) (*Config, error) {
	fs := ff.NewFlagSet(name)
	pd := printer.DefaultConfig()
	var (
		columns      = fs.IntLong("columns", receipt.DefaultWidth, "receipt width in characters")
		dotWidth     = fs.IntLong("dot-width", imaging.DefaultDotWidth, "printable width in dots")
		fontSize     = fs.IntLong("font-size", imaging.DefaultFontSize, "base font size in pixels")
		enlargedSize = fs.IntLong("enlarged-font-size", imaging.DefaultEnlargedSize, "font size for the shop name and total")
		lineHeight   = fs.IntLong("line-height", 0, "fixed line height in pixels, 0 uses font metrics")
		threshold    = fs.IntLong("threshold", imaging.DefaultThreshold, "luminance below which a pixel is printed")
		bandHeight   = fs.IntLong("band-height", imaging.MaxBandRows, "rows per raster command, at most 128")
		scriptFont   = fs.StringLong("script-font", "", "TTF used for Gujarati text")

		chunkSize   = fs.IntLong("chunk-size", printer.DefaultChunkSize, "bytes per characteristic write")
		chunkDelay  = fs.DurationLong("chunk-delay", printer.DefaultChunkDelay, "pause after each write")
		dialTimeout = fs.DurationLong("dial-timeout", 10*time.Second, "GATT connect timeout")
		heartbeat   = fs.DurationLong("heartbeat", pd.HeartbeatInterval, "link check interval, 0 disables")
		backoffBase = fs.DurationLong("backoff-base", pd.BackoffBase, "first reconnect delay")
		backoffMax  = fs.DurationLong("backoff-max", pd.BackoffMax, "longest reconnect delay")
		attempts    = fs.IntLong("reconnect-attempts", pd.ReconnectAttempts, "reconnects tried after a drop")
		idlePoll    = fs.DurationLong("idle-poll", pd.IdlePoll, "how often to look for a dropped printer")
		scanTimeout = fs.DurationLong("scan-timeout", pd.ScanTimeout, "how long to scan for printers")

		cachePath = fs.StringLong("cache", "receipt-print-cache.db", "fast printer cache file")
		dbPath    = fs.StringLong("db", "receipt-print.db", "printer database file")
		remoteDSN = fs.StringLong("remote-dsn", "", "Postgres DSN for per-user printer sync (optional)")
		userID    = fs.StringLong("user", "", "user id for the remote store")

		shopName      = fs.StringLong("shop-name", "", "shop name printed at the top")
		shopAddress   = fs.StringLong("shop-address", "", "shop address")
		shopMobile    = fs.StringLong("shop-mobile", "", "shop mobile number")
		shopTagline   = fs.StringLong("shop-tagline", "", "line printed under the address")
		signatureName = fs.StringLong("signature-name", "", "name printed in the footer")

		httpAddr   = fs.StringLong("http", ":8080", "daemon listen address")
		serialPort = fs.StringLong("serial", "", "print to this serial port instead of Bluetooth")
		serialBaud = fs.IntLong("baud", 115200, "serial baud rate")
		dryRun     = fs.StringLong("dry-run", "", "write print jobs to this file instead of a printer")

		logLevel = fs.StringLong("log-level", "info", "debug, info, warn or error")
	)

	if err := ff.Parse(fs, args, ff.WithEnvVarPrefix(EnvPrefix)); err != nil {
		return nil, &UsageError{Usage: usage(fs), Err: err}
	}

	cfg := &Config{
		Columns: *columns,
		Imaging: imaging.Options{
			DotWidth:     *dotWidth,
			FontSize:     *fontSize,
			EnlargedSize: *enlargedSize,
			LineHeight:   *lineHeight,
			Threshold:    uint8(*threshold),
			BandHeight:   *bandHeight,
		},
		ScriptFont:  *scriptFont,
		ChunkSize:   *chunkSize,
		ChunkDelay:  *chunkDelay,
		DialTimeout: *dialTimeout,
		Printer: printer.Config{
			HeartbeatInterval: *heartbeat,
			BackoffBase:       *backoffBase,
			BackoffMax:        *backoffMax,
			ReconnectAttempts: *attempts,
			IdlePoll:          *idlePoll,
			ScanTimeout:       *scanTimeout,
		},
		CachePath: *cachePath,
		DBPath:    *dbPath,
		RemoteDSN: *remoteDSN,
		UserID:    *userID,
		Merchant: invoice.Merchant{
			Name:          *shopName,
			Address:       *shopAddress,
			Mobile:        *shopMobile,
			Tagline:       *shopTagline,
			SignatureName: *signatureName,
		},
		HTTPAddr:   *httpAddr,
		SerialPort: *serialPort,
		SerialBaud: *serialBaud,
		DryRunPath: *dryRun,
		Args:       fs.GetArgs(),
	}
	if err := cfg.LogLevel.UnmarshalText([]byte(*logLevel)); err != nil {
		return nil, &UsageError{Usage: usage(fs), Err: fmt.Errorf("log level: %w", err)}
	}
	if *threshold < 1 || *threshold > 255 {
		return nil, &UsageError{Usage: usage(fs), Err: errors.New("threshold must be between 1 and 255")}
	}
	if err := cfg.Validate(); err != nil {
		return nil, &UsageError{Usage: usage(fs), Err: err}
	}
	return cfg, nil
}

func usage(fs *ff.FlagSet) string {
	return fmt.Sprint(ffhelp.Flags(fs))
}

func (c *Config) Validate() error {
	var errs []error
	if c.Columns < 8 {
		errs = append(errs, errors.New("columns must be at least 8"))
	}
	if c.Imaging.DotWidth <= 0 || c.Imaging.DotWidth%8 != 0 {
		errs = append(errs, errors.New("dot width must be a positive multiple of 8"))
	}
	if c.Imaging.BandHeight < 1 || c.Imaging.BandHeight > imaging.MaxBandRows {
		errs = append(errs, fmt.Errorf("band height must be between 1 and %d", imaging.MaxBandRows))
	}
	if c.ChunkSize < 1 {
		errs = append(errs, errors.New("chunk size must be positive"))
	}
	if c.Printer.ReconnectAttempts < 0 {
		errs = append(errs, errors.New("reconnect attempts cannot be negative"))
	}
	if c.RemoteDSN != "" && c.UserID == "" {
		errs = append(errs, errors.New("remote store needs --user"))
	}
	return errors.Join(errs...)
}

// Logger builds the process logger
func (c *Config) Logger(w io.Writer) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: c.LogLevel}))
}
