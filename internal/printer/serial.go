package printer

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"go.bug.st/serial"

	"receipt-print/internal/store"
)

// SerialSink writes chunks to a serial port such as a USB or RFCOMM bridge
type SerialSink struct {
	port     serial.Port
	portName string
}

// OpenSerial opens a connection to a printer on the given serial port
func OpenSerial(portName string, baud int) (*SerialSink, error) {
	if baud <= 0 {
		baud = 115200
	}
	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(portName, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open port %s: %w", portName, err)
	}
	port.SetReadTimeout(3 * time.Second)

	return &SerialSink{port: port, portName: portName}, nil
}

// ListSerialPorts returns the serial ports present on this machine
func ListSerialPorts() ([]string, error) {
	return serial.GetPortsList()
}

func (s *SerialSink) Send(chunk []byte) error {
	if s.port == nil {
		return ErrNotConnected
	}
	_, err := s.port.Write(chunk)
	return err
}

func (s *SerialSink) Close() error {
	if s.port != nil {
		return s.port.Close()
	}
	return nil
}

func (s *SerialSink) Name() string {
	return s.portName
}

// FileSink appends raw job bytes to a writer, for dry runs
type FileSink struct {
	w    io.Writer
	name string
}

func CreateFileSink(path string) (*FileSink, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("creating %s: %w", path, err)
	}
	return &FileSink{w: f, name: path}, nil
}

func (f *FileSink) Send(chunk []byte) error {
	_, err := f.w.Write(chunk)
	return err
}

func (f *FileSink) Close() error {
	if c, ok := f.w.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

func (f *FileSink) Name() string {
	return f.name
}

// NamedSink is a sink with a display name
type NamedSink interface {
	Sink
	Name() string
}

// Direct prints straight to a wired sink with no connection management
type Direct struct {
	sink      NamedSink
	transport *Transport
	mu        sync.Mutex
}

func NewDirect(sink NamedSink, transport *Transport) *Direct {
	return &Direct{sink: sink, transport: transport}
}

func (d *Direct) EnsureConnected(context.Context) (store.PrinterIdentity, error) {
	return store.PrinterIdentity{DeviceID: d.sink.Name(), DisplayName: d.sink.Name()}, nil
}

func (d *Direct) Send(ctx context.Context, job [][]byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.transport.WriteJob(ctx, d.sink, job)
}
