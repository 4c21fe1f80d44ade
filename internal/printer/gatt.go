package printer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/go-ble/ble"
)

// Adapter finds and dials printers
type Adapter interface {
	// Scan returns printers advertising one of the known services
	Scan(ctx context.Context, timeout time.Duration) ([]Device, error)
	Dial(ctx context.Context, address string) (Link, error)
}

// Link is an open GATT connection
type Link interface {
	// Resolve finds the characteristic of p, or errPairNotFound
	Resolve(ctx context.Context, p Pair) (Sink, error)
	// Disconnected is closed when the connection drops or is closed
	Disconnected() <-chan struct{}
	Close() error
}

// Chooser asks the user to pick a printer
type Chooser interface {
	// Choose returns ErrUserCancelled if the user dismisses the prompt
	Choose(ctx context.Context, devices []Device) (Device, error)
}

// GATTAdapter talks to printers through the host Bluetooth controller
type GATTAdapter struct {
	dialTimeout time.Duration
	services    []ble.UUID
	logger      *slog.Logger
}

// NewGATTAdapter opens the default HCI device
func NewGATTAdapter(dialTimeout time.Duration, logger *slog.Logger) (*GATTAdapter, error) {
	if logger == nil {
		logger = slog.Default()
	}
	d, err := newHCIDevice()
	if err != nil {
		return nil, fmt.Errorf("can't create device: %w", err)
	}
	ble.SetDefaultDevice(d)

	services := make([]ble.UUID, 0, len(Pairs))
	for _, s := range ServiceUUIDs() {
		services = append(services, ble.MustParse(s))
	}
	return &GATTAdapter{dialTimeout: dialTimeout, services: services, logger: logger}, nil
}

func (a *GATTAdapter) Stop() error {
	return ble.Stop()
}

func (a *GATTAdapter) Scan(ctx context.Context, timeout time.Duration) ([]Device, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var (
		mu      sync.Mutex
		devices []Device
		seen    = make(map[string]int)
	)
	handler := func(adv ble.Advertisement) {
		mu.Lock()
		defer mu.Unlock()

		addr := strings.ToUpper(adv.Addr().String())
		if i, ok := seen[addr]; ok {
			if devices[i].Name == "" {
				devices[i].Name = adv.LocalName()
			}
			return
		}
		seen[addr] = len(devices)
		devices = append(devices, Device{Name: adv.LocalName(), Address: addr, RSSI: adv.RSSI()})
	}

	err := ble.Scan(ctx, false, handler, a.advertisesPrinterService)
	if err != nil && !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled) {
		return nil, fmt.Errorf("scanning: %w", err)
	}

	mu.Lock()
	defer mu.Unlock()
	a.logger.Debug("scan finished", "found", len(devices))
	return devices, nil
}

func (a *GATTAdapter) advertisesPrinterService(adv ble.Advertisement) bool {
	for _, s := range adv.Services() {
		for _, known := range a.services {
			if s.Equal(known) {
				return true
			}
		}
	}
	return false
}

func (a *GATTAdapter) Dial(ctx context.Context, address string) (Link, error) {
	if a.dialTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.dialTimeout)
		defer cancel()
	}
	client, err := ble.Dial(ctx, ble.NewAddr(address))
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}
	return &gattLink{client: client}, nil
}

type gattLink struct {
	client ble.Client
}

func (l *gattLink) Resolve(_ context.Context, p Pair) (Sink, error) {
	svcUUID, err := ble.Parse(p.Service)
	if err != nil {
		return nil, err
	}
	chrUUID, err := ble.Parse(p.Characteristic)
	if err != nil {
		return nil, err
	}

	services, err := l.client.DiscoverServices([]ble.UUID{svcUUID})
	if err != nil {
		return nil, fmt.Errorf("discovering services: %w", err)
	}
	for _, s := range services {
		if !s.UUID.Equal(svcUUID) {
			continue
		}
		chars, err := l.client.DiscoverCharacteristics([]ble.UUID{chrUUID}, s)
		if err != nil {
			return nil, fmt.Errorf("discovering characteristics: %w", err)
		}
		for _, c := range chars {
			if c.UUID.Equal(chrUUID) {
				noRsp := c.Property&ble.CharWriteNR != 0 && c.Property&ble.CharWrite == 0
				return &gattSink{client: l.client, char: c, noRsp: noRsp}, nil
			}
		}
	}
	return nil, errPairNotFound
}

func (l *gattLink) Disconnected() <-chan struct{} {
	return l.client.Disconnected()
}

func (l *gattLink) Close() error {
	return l.client.CancelConnection()
}

type gattSink struct {
	client ble.Client
	char   *ble.Characteristic
	noRsp  bool
}

func (s *gattSink) Send(chunk []byte) error {
	return s.client.WriteCharacteristic(s.char, chunk, s.noRsp)
}
