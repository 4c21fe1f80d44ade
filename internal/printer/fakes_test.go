package printer

import (
	"context"
	"errors"
	"sync"
	"time"

	"receipt-print/internal/store"
)

type fakeSink struct {
	mu     sync.Mutex
	writes [][]byte
	failAt int
	err    error
}

func newFakeSink() *fakeSink {
	return &fakeSink{failAt: -1}
}

func (s *fakeSink) Send(chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAt >= 0 && len(s.writes) >= s.failAt {
		return s.err
	}
	s.writes = append(s.writes, append([]byte(nil), chunk...))
	return nil
}

func (s *fakeSink) failFrom(n int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failAt, s.err = n, err
}

func (s *fakeSink) sizes() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []int
	for _, w := range s.writes {
		out = append(out, len(w))
	}
	return out
}

func (s *fakeSink) all() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]byte(nil), s.writes...)
}

type fakeLink struct {
	address  string
	supports []Pair
	sink     *fakeSink

	mu       sync.Mutex
	resolved []Pair
	done     chan struct{}
	once     sync.Once
}

func (l *fakeLink) Resolve(_ context.Context, p Pair) (Sink, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.resolved = append(l.resolved, p)
	for _, s := range l.supports {
		if s.Equal(p) {
			return l.sink, nil
		}
	}
	return nil, errPairNotFound
}

func (l *fakeLink) Disconnected() <-chan struct{} {
	return l.done
}

func (l *fakeLink) Close() error {
	l.once.Do(func() { close(l.done) })
	return nil
}

func (l *fakeLink) closed() bool {
	select {
	case <-l.done:
		return true
	default:
		return false
	}
}

func (l *fakeLink) tried() []Pair {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Pair(nil), l.resolved...)
}

type fakeAdapter struct {
	mu       sync.Mutex
	devices  []Device
	supports []Pair
	dialErr  error
	gate     chan struct{}
	dropped  bool
	scans    int
	dials    int
	links    []*fakeLink
}

func (a *fakeAdapter) Scan(context.Context, time.Duration) ([]Device, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.scans++
	return append([]Device(nil), a.devices...), nil
}

func (a *fakeAdapter) Dial(ctx context.Context, address string) (Link, error) {
	a.mu.Lock()
	gate := a.gate
	a.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.dials++
	if a.dialErr != nil {
		return nil, a.dialErr
	}
	l := &fakeLink{address: address, supports: a.supports, sink: newFakeSink(), done: make(chan struct{})}
	if a.dropped {
		l.Close()
	}
	a.links = append(a.links, l)
	return l, nil
}

func (a *fakeAdapter) setDialErr(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.dialErr = err
}

func (a *fakeAdapter) dialCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.dials
}

func (a *fakeAdapter) scanCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.scans
}

func (a *fakeAdapter) lastLink() *fakeLink {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.links) == 0 {
		return nil
	}
	return a.links[len(a.links)-1]
}

type fakeChooser struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (c *fakeChooser) Choose(_ context.Context, devices []Device) (Device, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.err != nil {
		return Device{}, c.err
	}
	return devices[0], nil
}

func (c *fakeChooser) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

type fakeRegistry struct {
	mu       sync.Mutex
	printers map[string]store.PrinterIdentity
	last     string
	forgot   []string
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{printers: make(map[string]store.PrinterIdentity)}
}

func (r *fakeRegistry) Save(_ context.Context, p store.PrinterIdentity) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p.IsDefault {
		for id, other := range r.printers {
			other.IsDefault = false
			r.printers[id] = other
		}
	}
	r.printers[p.DeviceID] = p
	r.last = p.DeviceID
	return nil
}

func (r *fakeRegistry) Last(context.Context) (*store.PrinterIdentity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.printers[r.last]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &p, nil
}

func (r *fakeRegistry) Authorized(_ context.Context, id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.printers[id]
	return ok
}

func (r *fakeRegistry) Touch(ctx context.Context, p store.PrinterIdentity) error {
	r.mu.Lock()
	existing, ok := r.printers[p.DeviceID]
	r.mu.Unlock()
	if !ok {
		return nil
	}
	p.IsDefault = existing.IsDefault
	return r.Save(ctx, p)
}

func (r *fakeRegistry) Forget(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.printers, id)
	r.forgot = append(r.forgot, id)
	return nil
}

func (r *fakeRegistry) ForgetAll(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.printers = make(map[string]store.PrinterIdentity)
	r.forgot = append(r.forgot, "*")
	return nil
}

func (r *fakeRegistry) get(id string) (store.PrinterIdentity, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.printers[id]
	return p, ok
}

var errOutOfRange = errors.New("device out of range")
