package printer

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"receipt-print/internal/escpos"
	"receipt-print/internal/events"
	"receipt-print/internal/store"
)

// Config holds the manager's timings
type Config struct {
	HeartbeatInterval time.Duration
	BackoffBase       time.Duration
	BackoffMax        time.Duration
	ReconnectAttempts int
	IdlePoll          time.Duration
	ScanTimeout       time.Duration
}

func DefaultConfig() Config {
	return Config{
		HeartbeatInterval: 30 * time.Second,
		BackoffBase:       time.Second,
		BackoffMax:        30 * time.Second,
		ReconnectAttempts: 3,
		IdlePoll:          10 * time.Second,
		ScanTimeout:       5 * time.Second,
	}
}

// Registry persists printer identities
type Registry interface {
	Save(ctx context.Context, p store.PrinterIdentity) error
	Last(ctx context.Context) (*store.PrinterIdentity, error)
	Authorized(ctx context.Context, deviceID string) bool
	Touch(ctx context.Context, p store.PrinterIdentity) error
	Forget(ctx context.Context, deviceID string) error
	ForgetAll(ctx context.Context) error
}

// Snapshot is the active printer and its connection state
type Snapshot struct {
	Printer store.PrinterIdentity
	State   events.State
}

// Manager owns the link to the one active printer
type Manager struct {
	cfg       Config
	adapter   Adapter
	chooser   Chooser
	registry  Registry
	bus       *events.Bus
	transport *Transport
	logger    *slog.Logger
	now       func() time.Time

	group    singleflight.Group
	inFlight atomic.Bool

	// writeMu keeps heartbeats out of the middle of a job
	writeMu sync.Mutex

	mu        sync.Mutex
	state     events.State
	identity  store.PrinterIdentity
	link      Link
	sink      Sink
	attempt   int
	heartbeat *time.Timer
	backoff   *time.Timer
	idlePoll  *time.Timer
	// gen changes on Disconnect so stale reconnect timers stand down
	gen    uint64
	closed bool

	// pending holds statuses in the order the state changed; one flusher
	// at a time delivers them
	pending  []events.Status
	flushing bool
}

func NewManager(cfg Config, adapter Adapter, chooser Chooser, registry Registry, bus *events.Bus, transport *Transport, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if bus == nil {
		bus = events.NewBus()
	}
	if transport == nil {
		transport = NewTransport(DefaultChunkSize, DefaultChunkDelay)
	}
	return &Manager{
		cfg:       cfg,
		adapter:   adapter,
		chooser:   chooser,
		registry:  registry,
		bus:       bus,
		transport: transport,
		logger:    logger,
		now:       time.Now,
		state:     events.StateDisconnected,
	}
}

func (m *Manager) AddConnectionListener(fn events.Listener) events.Subscription {
	return m.bus.Subscribe(fn)
}

func (m *Manager) RemoveConnectionListener(id events.Subscription) {
	m.bus.Unsubscribe(id)
}

// CurrentPrinter returns the active printer and state
func (m *Manager) CurrentPrinter() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Snapshot{Printer: m.identity, State: m.state}
}

// Start begins the idle poll that reconnects printers dropped silently
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.armIdlePollLocked()
}

// Close stops every timer and disconnects
func (m *Manager) Close() {
	m.Disconnect()
	m.mu.Lock()
	m.closed = true
	stopTimer(&m.idlePoll)
	m.mu.Unlock()
}

// ConnectNew lets the user pick a printer, connects to it and, when
// markDefault is set, saves it as the default printer
func (m *Manager) ConnectNew(ctx context.Context, markDefault bool) (store.PrinterIdentity, error) {
	return m.do(func() (store.PrinterIdentity, error) {
		if m.chooser == nil {
			return store.PrinterIdentity{}, ErrNotSupported
		}
		devices, err := m.adapter.Scan(ctx, m.cfg.ScanTimeout)
		if err != nil {
			return store.PrinterIdentity{}, err
		}
		if len(devices) == 0 {
			return store.PrinterIdentity{}, ErrNoDevicesFound
		}

		dev, err := m.chooser.Choose(ctx, devices)
		if err != nil {
			m.logger.Info("printer selection ended", "error", err)
			return store.PrinterIdentity{}, err
		}

		ident, err := m.connect(ctx, store.PrinterIdentity{DeviceID: dev.Address, DisplayName: dev.Name})
		if err != nil {
			return store.PrinterIdentity{}, err
		}

		if markDefault {
			ident.IsDefault = true
			if err := m.registry.Save(ctx, ident); err != nil {
				m.logger.Error("saving printer", "device", ident.DeviceID, "error", err)
			}
		} else if err := m.registry.Touch(ctx, ident); err != nil {
			m.logger.Warn("updating printer", "device", ident.DeviceID, "error", err)
		}
		return ident, nil
	})
}

// AutoReconnect reconnects to the last used printer without prompting.
// It reports whether a printer is connected afterwards.
func (m *Manager) AutoReconnect(ctx context.Context, silent bool) bool {
	_, err := m.do(func() (store.PrinterIdentity, error) {
		saved, err := m.registry.Last(ctx)
		if err != nil {
			return store.PrinterIdentity{}, errNoSavedPrinter
		}

		m.mu.Lock()
		same := m.state == events.StateConnected && m.identity.DeviceID == saved.DeviceID
		current := m.identity
		m.mu.Unlock()
		if same {
			return current, nil
		}

		if !m.registry.Authorized(ctx, saved.DeviceID) {
			return store.PrinterIdentity{}, errNotAuthorized
		}
		if !m.inRange(ctx, saved.DeviceID) {
			return store.PrinterIdentity{}, errNotInRange
		}

		ident, err := m.connect(ctx, *saved)
		if err != nil {
			return store.PrinterIdentity{}, err
		}
		if err := m.registry.Touch(ctx, ident); err != nil {
			m.logger.Warn("updating printer", "device", ident.DeviceID, "error", err)
		}
		return ident, nil
	})
	if err != nil {
		level := slog.LevelInfo
		if silent {
			level = slog.LevelDebug
		}
		m.logger.Log(ctx, level, "auto reconnect failed", "error", err)
		return false
	}
	return true
}

// EnsureConnected returns the connected printer, reconnecting silently or
// prompting for a new one when needed
func (m *Manager) EnsureConnected(ctx context.Context) (store.PrinterIdentity, error) {
	if snap := m.CurrentPrinter(); snap.State == events.StateConnected {
		return snap.Printer, nil
	}
	if m.AutoReconnect(ctx, true) {
		return m.CurrentPrinter().Printer, nil
	}
	return m.ConnectNew(ctx, true)
}

// Disconnect closes the link and cancels pending reconnects. Safe to call
// when already disconnected.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	stopTimer(&m.heartbeat)
	stopTimer(&m.backoff)
	link := m.link
	m.link, m.sink = nil, nil
	m.attempt = 0
	m.gen++
	changed := m.state != events.StateDisconnected
	m.state = events.StateDisconnected
	if changed {
		m.publishLocked()
	}
	device := m.identity.DeviceID
	m.mu.Unlock()

	if link != nil {
		if err := link.Close(); err != nil {
			m.logger.Debug("closing link", "error", err)
		}
	}
	if changed {
		m.logger.Info("printer disconnected", "device", device)
		m.flush()
	}
}

// ForgetPrinter removes a printer from every store, disconnecting first if
// it is the active one
func (m *Manager) ForgetPrinter(ctx context.Context, deviceID string) error {
	m.mu.Lock()
	active := m.identity.DeviceID == deviceID
	m.mu.Unlock()

	if active {
		m.Disconnect()
		m.mu.Lock()
		m.identity = store.PrinterIdentity{}
		m.mu.Unlock()
	}
	return m.registry.Forget(ctx, deviceID)
}

// ForgetAllPrinters disconnects and removes every saved printer
func (m *Manager) ForgetAllPrinters(ctx context.Context) error {
	m.Disconnect()
	m.mu.Lock()
	m.identity = store.PrinterIdentity{}
	m.mu.Unlock()
	return m.registry.ForgetAll(ctx)
}

// Send writes a print job to the active printer. A rejected write is
// treated as a dropped link.
func (m *Manager) Send(ctx context.Context, job [][]byte) error {
	m.mu.Lock()
	link, sink := m.link, m.sink
	connected := m.state == events.StateConnected
	m.mu.Unlock()
	if !connected || sink == nil {
		return ErrNotConnected
	}

	m.writeMu.Lock()
	err := m.transport.WriteJob(ctx, sink, job)
	m.writeMu.Unlock()

	var we *WriteError
	if errors.As(err, &we) {
		m.logger.Warn("print write failed", "error", err)
		m.linkLost(link)
	}
	return err
}

// Poke re-checks the link from a foreground or focus hook
func (m *Manager) Poke() {
	go m.passive(context.Background())
}

func (m *Manager) passive(ctx context.Context) {
	m.mu.Lock()
	skip := m.closed || m.state == events.StateConnected || m.backoff != nil
	m.mu.Unlock()
	if skip || m.inFlight.Load() {
		return
	}
	m.AutoReconnect(ctx, true)
}

func (m *Manager) armIdlePollLocked() {
	stopTimer(&m.idlePoll)
	if m.closed || m.cfg.IdlePoll <= 0 {
		return
	}
	m.idlePoll = time.AfterFunc(m.cfg.IdlePoll, func() {
		m.passive(context.Background())
		m.mu.Lock()
		m.armIdlePollLocked()
		m.mu.Unlock()
	})
}

// do runs one connection attempt at a time; concurrent callers share the
// outcome of the attempt in flight
func (m *Manager) do(fn func() (store.PrinterIdentity, error)) (store.PrinterIdentity, error) {
	v, err, _ := m.group.Do("connect", func() (any, error) {
		m.inFlight.Store(true)
		defer m.inFlight.Store(false)
		return fn()
	})
	ident, _ := v.(store.PrinterIdentity)
	return ident, err
}

func (m *Manager) inRange(ctx context.Context, deviceID string) bool {
	devices, err := m.adapter.Scan(ctx, m.cfg.ScanTimeout)
	if err != nil {
		m.logger.Debug("scan failed", "error", err)
		return false
	}
	for _, d := range devices {
		if d.Address == deviceID {
			return true
		}
	}
	return false
}

// connect dials ident and adopts the first pair that resolves
func (m *Manager) connect(ctx context.Context, ident store.PrinterIdentity) (store.PrinterIdentity, error) {
	m.mu.Lock()
	stopTimer(&m.heartbeat)
	old := m.link
	m.link, m.sink = nil, nil
	m.identity = ident
	m.state = events.StateConnecting
	gen := m.gen
	m.publishLocked()
	m.mu.Unlock()

	if old != nil {
		old.Close()
	}
	m.logger.Info("connecting to printer", "device", ident.DeviceID)
	m.flush()

	link, err := m.adapter.Dial(ctx, ident.DeviceID)
	if err != nil {
		m.fail(ident, err)
		return store.PrinterIdentity{}, err
	}

	sink, pair, err := m.resolvePair(ctx, link, Pair{Service: ident.ServiceUUID, Characteristic: ident.CharacteristicUUID})
	if err != nil {
		link.Close()
		m.fail(ident, err)
		return store.PrinterIdentity{}, err
	}

	ident.ServiceUUID = pair.Service
	ident.CharacteristicUUID = pair.Characteristic
	ident.LastConnected = m.now().UTC()

	m.mu.Lock()
	if m.closed || m.gen != gen {
		// disconnected while dialing
		m.mu.Unlock()
		link.Close()
		return store.PrinterIdentity{}, ErrNotConnected
	}
	m.link, m.sink = link, sink
	m.identity = ident
	m.state = events.StateConnected
	m.attempt = 0
	stopTimer(&m.backoff)
	m.armHeartbeatLocked()
	m.publishLocked()
	// watch starts after connected is queued so a drop is reported after it
	go m.watch(link)
	m.mu.Unlock()

	m.logger.Info("printer connected", "device", ident.DeviceID, "service", pair.Service)
	m.flush()
	return ident, nil
}

func (m *Manager) resolvePair(ctx context.Context, link Link, known Pair) (Sink, Pair, error) {
	for _, p := range resolveOrder(known) {
		sink, err := link.Resolve(ctx, p)
		if err == nil {
			return sink, p, nil
		}
		m.logger.Debug("pair did not resolve", "service", p.Service, "error", err)
	}
	return nil, Pair{}, ErrNoCompatibleService
}

// fail reports a failed connecting attempt, then settles in disconnected
func (m *Manager) fail(ident store.PrinterIdentity, cause error) {
	m.logger.Warn("printer connection failed", "device", ident.DeviceID, "error", cause)

	m.mu.Lock()
	m.state = events.StateError
	m.publishLocked()
	m.state = events.StateDisconnected
	m.publishLocked()
	m.mu.Unlock()
	m.flush()
}

func (m *Manager) watch(link Link) {
	<-link.Disconnected()
	m.linkLost(link)
}

// linkLost handles a link that dropped without Disconnect being called
func (m *Manager) linkLost(link Link) {
	m.mu.Lock()
	if link == nil || m.link != link || m.closed {
		m.mu.Unlock()
		return
	}
	stopTimer(&m.heartbeat)
	m.link, m.sink = nil, nil
	m.state = events.StateDisconnected
	m.attempt = 0
	m.scheduleReconnectLocked()
	m.publishLocked()
	device := m.identity.DeviceID
	m.mu.Unlock()

	link.Close()
	m.logger.Warn("printer link lost", "device", device)
	m.flush()
}

func (m *Manager) scheduleReconnectLocked() {
	stopTimer(&m.backoff)
	if m.attempt >= m.cfg.ReconnectAttempts {
		m.logger.Info("giving up on reconnect", "device", m.identity.DeviceID, "attempts", m.attempt)
		return
	}
	delay := backoffDelay(m.cfg.BackoffBase, m.cfg.BackoffMax, m.attempt)
	gen := m.gen
	m.backoff = time.AfterFunc(delay, func() { m.retry(gen) })
}

func (m *Manager) retry(gen uint64) {
	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return
	}
	m.backoff = nil
	if m.closed || m.link != nil || m.identity.IsZero() {
		m.mu.Unlock()
		return
	}
	m.attempt++
	attempt := m.attempt
	ident := m.identity
	m.mu.Unlock()

	m.logger.Info("reconnecting", "device", ident.DeviceID, "attempt", attempt)
	if err := m.reconnect(context.Background(), ident); err == nil {
		return
	}

	m.mu.Lock()
	if gen == m.gen && m.link == nil && !m.closed && m.state == events.StateDisconnected {
		m.scheduleReconnectLocked()
	}
	m.mu.Unlock()
}

// reconnect re-dials a known device without scanning
func (m *Manager) reconnect(ctx context.Context, ident store.PrinterIdentity) error {
	_, err := m.do(func() (store.PrinterIdentity, error) {
		m.mu.Lock()
		connected := m.state == events.StateConnected
		m.mu.Unlock()
		if connected {
			return m.CurrentPrinter().Printer, nil
		}
		return m.connect(ctx, ident)
	})
	return err
}

func (m *Manager) armHeartbeatLocked() {
	stopTimer(&m.heartbeat)
	if m.cfg.HeartbeatInterval <= 0 {
		return
	}
	m.heartbeat = time.AfterFunc(m.cfg.HeartbeatInterval, m.beat)
}

func (m *Manager) beat() {
	m.mu.Lock()
	link, sink := m.link, m.sink
	m.mu.Unlock()
	if sink == nil {
		return
	}

	m.writeMu.Lock()
	err := sink.Send(escpos.Heartbeat())
	m.writeMu.Unlock()

	if err != nil {
		m.logger.Warn("heartbeat failed", "error", err)
		m.linkLost(link)
		return
	}

	m.mu.Lock()
	if m.link == link {
		m.armHeartbeatLocked()
	}
	m.mu.Unlock()
}

func (m *Manager) statusLocked() events.Status {
	return events.Status{
		DeviceID:   m.identity.DeviceID,
		DeviceName: m.identity.DisplayName,
		State:      m.state,
	}
}

// publishLocked queues the current status for flush
func (m *Manager) publishLocked() {
	m.pending = append(m.pending, m.statusLocked())
}

// flush delivers queued statuses outside the lock. A flush already running
// on another goroutine, or further up this one's stack, delivers ours too.
func (m *Manager) flush() {
	m.mu.Lock()
	if m.flushing {
		m.mu.Unlock()
		return
	}
	m.flushing = true
	for len(m.pending) > 0 {
		s := m.pending[0]
		m.pending = m.pending[1:]
		m.mu.Unlock()
		m.bus.Publish(s)
		m.mu.Lock()
	}
	m.pending = nil
	m.flushing = false
	m.mu.Unlock()
}

// timersPending reports whether a heartbeat or reconnect timer is armed
func (m *Manager) timersPending() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.heartbeat != nil || m.backoff != nil
}

func backoffDelay(base, max time.Duration, attempt int) time.Duration {
	d := base << attempt
	if d <= 0 || d > max {
		return max
	}
	return d
}

func stopTimer(t **time.Timer) {
	if *t != nil {
		(*t).Stop()
		*t = nil
	}
}
