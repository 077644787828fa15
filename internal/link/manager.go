package link

import (
	"context"
	"strings"
	"sync"
	"time"

	"codeberg.org/mutker/treadlink/internal/errors"
	"codeberg.org/mutker/treadlink/internal/logger"
	"codeberg.org/mutker/treadlink/internal/protocol"
	"codeberg.org/mutker/treadlink/internal/store"
)

const (
	// Depth of the in-flight query queue. Responses are matched FIFO; if
	// the console stops answering, old entries are dropped rather than
	// letting the queue grow without bound.
	pendingQueueDepth = 10

	maxBackoff = 30 * time.Second
)

var (
	errForget = errors.New().WithMessage(errors.ErrInvalidOperation, "device forgotten")
	errRetry  = errors.New().WithMessage(errors.ErrInvalidOperation, "manual retry")
)

type Config struct {
	DeviceFilter      string
	ScanTimeout       time.Duration
	ConnectTimeout    time.Duration
	HandshakeDelay    time.Duration
	PollInterval      time.Duration
	ReconnectAttempts int
	SilentThreshold   int
	// A connection that drops within this window counts toward the
	// silent-link heuristic; one that lived longer resets the run.
	RapidDropWindow time.Duration
	BackoffBase     time.Duration
}

func DefaultConfig() Config {
	return Config{
		DeviceFilter:      "LifeSpan",
		ScanTimeout:       30 * time.Second,
		ConnectTimeout:    10 * time.Second,
		HandshakeDelay:    100 * time.Millisecond,
		PollInterval:      300 * time.Millisecond,
		ReconnectAttempts: 5,
		SilentThreshold:   3,
		RapidDropWindow:   10 * time.Second,
		BackoffBase:       time.Second,
	}
}

// Manager owns the connection state machine: discovery, handshake, the
// polling loop, disconnect/backoff/reconnect and the silent-link
// heuristic. Callbacks fire from the manager's single goroutine, so
// consumers observe transitions and samples in order.
type Manager struct {
	cfg       Config
	transport Transport
	codec     *protocol.Codec
	repo      store.Repository

	onState  func(Status)
	onSample func(protocol.Frame)

	mu          sync.Mutex
	status      Status
	pending     []protocol.Query
	attempts    int
	rapidDrops  int
	cancelCycle context.CancelCauseFunc

	wake chan struct{}
}

func NewManager(cfg Config, transport Transport, codec *protocol.Codec, repo store.Repository) *Manager {
	return &Manager{
		cfg:       cfg,
		transport: transport,
		codec:     codec,
		repo:      repo,
		status:    Status{State: StateDisconnected},
		wake:      make(chan struct{}, 1),
	}
}

// Notify registers the state and sample callbacks. Must be called before
// Start.
func (m *Manager) Notify(onState func(Status), onSample func(protocol.Frame)) {
	m.onState = onState
	m.onSample = onSample
}

// Start launches the manager goroutine and begins scanning.
func (m *Manager) Start(ctx context.Context) {
	go m.run(ctx)
	m.StartScanning()
}

func (m *Manager) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.wake:
		}
		m.cycle(ctx)
	}
}

// StartScanning wakes the manager if it is idle in a terminal state.
func (m *Manager) StartScanning() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

// Retry resets the reconnect counters and re-enters scanning. This is the
// only way out of the silent-link state.
func (m *Manager) Retry() {
	m.mu.Lock()
	m.attempts = 0
	m.rapidDrops = 0
	cancel := m.cancelCycle
	m.mu.Unlock()

	m.StartScanning()
	if cancel != nil {
		cancel(errRetry)
	}
}

// Forget clears the persisted device identity, cancels any in-flight
// scan/connect/backoff timer and returns to Disconnected. No automatic
// rescan follows.
func (m *Manager) Forget() {
	if err := m.repo.Delete(context.Background(), store.KeyDeviceIdentity); err != nil {
		logger.Warn().Err(err).Msg("Failed to clear device identity")
	}

	m.mu.Lock()
	cancel := m.cancelCycle
	m.mu.Unlock()

	if cancel != nil {
		cancel(errForget)
	} else {
		m.setStatus(StateDisconnected, "")
	}
}

// Status returns the current state snapshot.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.status
}

// cycle runs one scan/connect/poll/reconnect sequence until a terminal
// state is reached or the cycle is cancelled.
func (m *Manager) cycle(ctx context.Context) {
	cctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	m.mu.Lock()
	m.cancelCycle = cancel
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		m.cancelCycle = nil
		m.mu.Unlock()
	}()

	var device *Advertisement

	for {
		if device == nil {
			m.setStatus(StateScanning, "")
			found, err := m.scan(cctx)
			if err != nil {
				m.finish(cctx, err)
				return
			}
			device = found
		}

		m.setStatus(StateConnecting, "")
		conn, err := m.connect(cctx, device)
		if err != nil {
			if cctx.Err() != nil {
				m.finish(cctx, err)
				return
			}
			logger.Warn().Err(err).Msg("Connect attempt failed")
			if !m.nextAttempt(cctx) {
				return
			}
			continue
		}

		m.mu.Lock()
		m.attempts = 0
		m.mu.Unlock()
		m.setStatus(StateConnected, "")

		started := time.Now()
		err = m.poll(cctx, conn)
		conn.Close()
		m.clearPending()

		if cctx.Err() != nil {
			m.finish(cctx, err)
			return
		}

		logger.Info().Err(err).Dur("lifetime", time.Since(started)).Msg("Link dropped")

		m.mu.Lock()
		if time.Since(started) < m.cfg.RapidDropWindow {
			m.rapidDrops++
		} else {
			m.rapidDrops = 1
		}
		drops := m.rapidDrops
		m.mu.Unlock()

		if drops >= m.cfg.SilentThreshold {
			// The console's radio was almost certainly switched off
			// without a clean disconnect. Retrying automatically
			// would loop forever against a dead radio.
			m.setStatus(StateSilentlyOff, "console radio appears to be off")
			return
		}

		if !m.nextAttempt(cctx) {
			return
		}
	}
}

// nextAttempt counts a reconnect attempt and sleeps the backoff. Returns
// false when the cycle should stop.
func (m *Manager) nextAttempt(cctx context.Context) bool {
	m.mu.Lock()
	m.attempts++
	attempts := m.attempts
	m.mu.Unlock()

	if attempts > m.cfg.ReconnectAttempts {
		m.setStatus(StateError, "connection lost")
		return false
	}

	backoff := time.Duration(1<<uint(attempts)) * m.cfg.BackoffBase
	if backoff > maxBackoff {
		backoff = maxBackoff
	}
	logger.Debug().Int("attempt", attempts).Dur("backoff", backoff).Msg("Reconnecting")

	select {
	case <-cctx.Done():
		m.finish(cctx, context.Cause(cctx))
		return false
	case <-time.After(backoff):
		return true
	}
}

// finish resolves a cancelled or failed cycle into its terminal state.
func (m *Manager) finish(cctx context.Context, err error) {
	switch context.Cause(cctx) {
	case errForget:
		m.setStatus(StateDisconnected, "")
		return
	case errRetry:
		// The run loop restarts scanning immediately.
		return
	}
	if cctx.Err() != nil {
		// Process shutdown.
		m.setStatus(StateDisconnected, "")
		return
	}

	reason := "connection failed"
	if err != nil {
		reason = err.Error()
	}
	m.setStatus(StateError, reason)
}

func (m *Manager) scan(cctx context.Context) (*Advertisement, error) {
	errFactory := errors.New()

	sctx, cancel := context.WithTimeout(cctx, m.cfg.ScanTimeout)
	defer cancel()

	ads, err := m.transport.Scan(sctx)
	if err != nil {
		return nil, errFactory.Wrap(ErrScanFailed, err)
	}

	remembered := m.rememberedIdentity()
	if remembered != "" {
		logger.Debug().Str("identity", remembered).Msg("Scanning for remembered device")
	}

	for {
		select {
		case <-sctx.Done():
			if cctx.Err() != nil {
				return nil, context.Cause(cctx)
			}
			return nil, errFactory.WithMessage(ErrDeviceNotFound, "device not found")
		case ad, ok := <-ads:
			if !ok {
				if cctx.Err() != nil {
					return nil, context.Cause(cctx)
				}
				return nil, errFactory.WithMessage(ErrDeviceNotFound, "device not found")
			}
			if ad.ID == remembered || m.matchesFilter(ad.Name) {
				logger.Info().Str("name", ad.Name).Str("id", ad.ID).Msg("Found console")
				return &ad, nil
			}
			logger.Debug().Str("name", ad.Name).Msg("Ignoring device")
		}
	}
}

func (m *Manager) matchesFilter(name string) bool {
	return name != "" && strings.Contains(name, m.cfg.DeviceFilter)
}

func (m *Manager) connect(cctx context.Context, device *Advertisement) (Conn, error) {
	errFactory := errors.New()

	ctx, cancel := context.WithTimeout(cctx, m.cfg.ConnectTimeout)
	defer cancel()

	conn, err := m.transport.Connect(ctx, device.ID)
	if err != nil {
		return nil, errFactory.Wrap(ErrConnectFailed, err)
	}

	for _, cmd := range protocol.Handshake {
		if err := conn.Write(cmd); err != nil {
			conn.Close()
			return nil, errFactory.Wrap(ErrHandshake, err)
		}

		select {
		case <-ctx.Done():
			conn.Close()
			return nil, errFactory.Wrap(ErrHandshake, ctx.Err())
		case <-time.After(m.cfg.HandshakeDelay):
		}
	}

	m.bond(device)

	return conn, nil
}

// bond persists the device identity on first successful handshake with a
// plausibly named device, so later launches skip the name heuristic.
func (m *Manager) bond(device *Advertisement) {
	if m.rememberedIdentity() != "" || !m.matchesFilter(device.Name) {
		return
	}

	if err := m.repo.Put(context.Background(), store.KeyDeviceIdentity, []byte(device.ID)); err != nil {
		logger.Warn().Err(err).Msg("Failed to persist device identity")
		return
	}
	logger.Info().Str("id", device.ID).Str("name", device.Name).Msg("Bonded device")
}

func (m *Manager) rememberedIdentity() string {
	value, err := m.repo.Get(context.Background(), store.KeyDeviceIdentity)
	if err != nil {
		return ""
	}

	return string(value)
}

// poll cycles the five queries in fixed order with the configured
// inter-query delay, matching responses FIFO against the pending queue.
// Returns when the link drops or the cycle is cancelled.
func (m *Manager) poll(cctx context.Context, conn Conn) error {
	errFactory := errors.New()
	cycle := protocol.Cycle()
	idx := 0

	timer := time.NewTimer(m.cfg.PollInterval)
	defer timer.Stop()

	for {
		select {
		case <-cctx.Done():
			return context.Cause(cctx)

		case buf, ok := <-conn.Notifications():
			if !ok {
				return errFactory.New(ErrConnectionLost)
			}
			m.handleNotification(buf)

		case <-timer.C:
			query := cycle[idx%len(cycle)]
			idx++

			// Queue before sending so the response cannot race the
			// bookkeeping.
			m.enqueue(query)
			cmd, err := m.codec.Encode(query)
			if err != nil {
				return err
			}
			if err := conn.Write(cmd); err != nil {
				return errFactory.Wrap(ErrConnectionLost, err)
			}
			timer.Reset(m.cfg.PollInterval)
		}
	}
}

func (m *Manager) handleNotification(buf []byte) {
	query, ok := m.dequeue()
	if !ok {
		logger.Debug().Int("len", len(buf)).Msg("Response with no pending query, dropping")
		return
	}

	frame, err := m.codec.Decode(query, buf)
	if err != nil {
		// Absorbed: a bad frame never becomes a link failure.
		logger.Debug().Str("query", query.String()).Err(err).Msg("Undecodable response")
		return
	}
	if frame.IsZero() {
		return
	}

	if m.onSample != nil {
		m.onSample(frame)
	}
}

func (m *Manager) enqueue(query protocol.Query) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.pending) >= pendingQueueDepth {
		m.pending = m.pending[1:]
	}
	m.pending = append(m.pending, query)
}

func (m *Manager) dequeue() (protocol.Query, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.pending) == 0 {
		return 0, false
	}
	query := m.pending[0]
	m.pending = m.pending[1:]

	return query, true
}

func (m *Manager) clearPending() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.pending = nil
}

func (m *Manager) setStatus(state State, reason string) {
	m.mu.Lock()
	changed := m.status.State != state || m.status.Reason != reason
	m.status = Status{State: state, Reason: reason}
	status := m.status
	m.mu.Unlock()

	if !changed {
		return
	}

	logger.Info().Str("state", state.String()).Str("reason", reason).Msg("Link state")
	if m.onState != nil {
		m.onState(status)
	}
}
