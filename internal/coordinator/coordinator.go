// Package coordinator ties the link layer to the session aggregator: it
// turns connection lifecycle into segment boundaries, feeds decoded
// samples into the daily totals, pauses segments after sustained
// idleness and drives the confirm-then-clear save flow.
package coordinator

import (
	"context"
	"sync"
	"time"

	"codeberg.org/mutker/treadlink/internal/errors"
	"codeberg.org/mutker/treadlink/internal/events"
	"codeberg.org/mutker/treadlink/internal/link"
	"codeberg.org/mutker/treadlink/internal/logger"
	"codeberg.org/mutker/treadlink/internal/protocol"
	"codeberg.org/mutker/treadlink/internal/session"
	"codeberg.org/mutker/treadlink/internal/sink"
)

// Belt speeds below this are jitter, not walking.
const motionSpeedFloor = 0.1 // m/s

type Config struct {
	IdleWindow        time.Duration
	IdleCheckInterval time.Duration
}

func DefaultConfig() Config {
	return Config{
		IdleWindow:        5 * time.Minute,
		IdleCheckInterval: 30 * time.Second,
	}
}

type Coordinator struct {
	cfg  Config
	agg  *session.Aggregator
	sink sink.Sink
	bus  *events.Bus

	mu         sync.Mutex
	connected  bool
	autoPaused bool
	lastMotion time.Time
	lastSample protocol.Frame

	// Per-segment average of the nonzero belt speed samples.
	speedSum   float64
	speedCount int
}

func New(cfg Config, agg *session.Aggregator, snk sink.Sink, bus *events.Bus) *Coordinator {
	return &Coordinator{
		cfg:  cfg,
		agg:  agg,
		sink: snk,
		bus:  bus,
	}
}

// Run drives the idle checker until the context is cancelled.
func (c *Coordinator) Run(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.IdleCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.shutdown(time.Now())
			return
		case <-ticker.C:
			c.checkIdle(time.Now())
		}
	}
}

// HandleState receives link state transitions. Wire it to the link
// manager's state callback.
func (c *Coordinator) HandleState(status link.Status) {
	c.handleState(status, time.Now())
}

func (c *Coordinator) handleState(status link.Status, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	wasConnected := c.connected
	c.connected = status.State == link.StateConnected

	if c.connected && !wasConnected {
		c.beginSegment(now)
	}
	if !c.connected && wasConnected {
		c.endSegment(now, "link dropped")
	}

	c.bus.Emit(events.Event{
		Type:      events.EventLinkStateChanged,
		Timestamp: now,
		Payload:   events.LinkStateEvent{State: status.State.String(), Reason: status.Reason},
	})
}

// HandleSample receives decoded frames. Wire it to the link manager's
// sample callback.
func (c *Coordinator) HandleSample(frame protocol.Frame) {
	c.handleSample(frame, time.Now())
}

func (c *Coordinator) handleSample(frame protocol.Frame, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.lastSample.Merge(frame)

	res := c.agg.Ingest(frame, now)
	if res.RolledOver {
		c.bus.Emit(events.Event{
			Type:      events.EventSessionRolledOver,
			Timestamp: now,
			Payload:   c.sessionEvent(),
		})
	}

	moving := res.Forward || (frame.Speed != nil && *frame.Speed > motionSpeedFloor)
	if moving {
		c.lastMotion = now
		if c.autoPaused || (c.connected && !c.agg.SegmentActive()) {
			// Motion after a pause opens a fresh segment rather than
			// stretching the paused one across the gap.
			c.autoPaused = false
			c.beginSegment(now)
		}
	}

	if frame.Speed != nil && *frame.Speed > motionSpeedFloor && c.agg.SegmentActive() {
		c.speedSum += *frame.Speed
		c.speedCount++
	}

	c.bus.Emit(events.Event{
		Type:      events.EventSampleDecoded,
		Timestamp: now,
		Payload:   events.SampleEvent{Frame: frame},
	})
	c.bus.Emit(events.Event{
		Type:      events.EventSessionUpdated,
		Timestamp: now,
		Payload:   c.sessionEvent(),
	})
}

// checkIdle auto-pauses the open segment once no forward motion has been
// seen for the idle window. The segment ends at the last motion, not at
// the moment the pause is noticed.
func (c *Coordinator) checkIdle(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.agg.SegmentActive() || c.autoPaused || c.lastMotion.IsZero() {
		return
	}
	if now.Sub(c.lastMotion) < c.cfg.IdleWindow {
		return
	}

	logger.Info().Time("last_motion", c.lastMotion).Msg("Auto-pausing idle segment")
	c.endSegment(c.lastMotion, "auto-pause")
	c.autoPaused = true
}

// SaveSession finalizes the current day: closes the open segment,
// validates the totals, delivers to the sink and only then resets. On
// any failure the session is left in place.
func (c *Coordinator) SaveSession(ctx context.Context, now time.Time) (session.DailySession, error) {
	errFactory := errors.New()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.agg.Session().Steps == 0 {
		return session.DailySession{}, errFactory.WithMessage(ErrNothingToSave, "no steps recorded today")
	}

	c.endSegment(now, "save requested")

	if err := c.agg.Validate(); err != nil {
		logger.Warn().Err(err).Msg("Session failed validation, not saving")
		return session.DailySession{}, errFactory.Wrap(ErrSessionInvalid, err)
	}

	snapshot := c.agg.Session()
	if err := c.sink.Save(ctx, &snapshot); err != nil {
		logger.Warn().Err(err).Msg("Sink rejected session, keeping local state")
		return session.DailySession{}, errFactory.Wrap(ErrSaveFailed, err)
	}

	c.agg.Reset(now)
	c.autoPaused = false
	if c.connected {
		c.beginSegment(now)
	}

	c.bus.Emit(events.Event{
		Type:      events.EventSessionSaved,
		Timestamp: now,
		Payload:   events.SessionEvent{SessionID: snapshot.ID, Steps: snapshot.Steps},
	})
	logger.Info().Str("session_id", snapshot.ID).Uint64("steps", snapshot.Steps).Msg("Session saved")

	return snapshot, nil
}

// Session returns a snapshot of the current daily session.
func (c *Coordinator) Session() session.DailySession {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.agg.Session()
}

// LastSample returns the most recent reading per metric, merged across
// frames.
func (c *Coordinator) LastSample() protocol.Frame {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.lastSample
}

func (c *Coordinator) shutdown(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.endSegment(now, "shutting down")
}

// beginSegment and endSegment are called with c.mu held.
func (c *Coordinator) beginSegment(now time.Time) {
	c.agg.BeginSegment(now)
	c.speedSum = 0
	c.speedCount = 0
	c.lastMotion = now

	c.bus.Emit(events.Event{
		Type:      events.EventSegmentStarted,
		Timestamp: now,
		Payload:   events.SegmentEvent{SessionID: c.agg.Session().ID, Start: now},
	})
}

func (c *Coordinator) endSegment(now time.Time, reason string) {
	var avg *float64
	if c.speedCount > 0 {
		v := c.speedSum / float64(c.speedCount)
		avg = &v
	}

	if !c.agg.EndSegment(now, avg) {
		return
	}

	logger.Debug().Str("reason", reason).Msg("Segment closed")
	c.bus.Emit(events.Event{
		Type:      events.EventSegmentEnded,
		Timestamp: now,
		Payload:   events.SegmentEvent{SessionID: c.agg.Session().ID, End: now},
	})
}

func (c *Coordinator) sessionEvent() events.SessionEvent {
	s := c.agg.Session()

	return events.SessionEvent{SessionID: s.ID, Steps: s.Steps}
}
