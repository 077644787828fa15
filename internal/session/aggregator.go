package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"codeberg.org/mutker/treadlink/internal/errors"
	"codeberg.org/mutker/treadlink/internal/logger"
	"codeberg.org/mutker/treadlink/internal/protocol"
	"codeberg.org/mutker/treadlink/internal/store"
	"github.com/google/uuid"
)

// Save-time plausibility ceilings, per hour of elapsed session time.
const (
	maxSessionLength = 24 * time.Hour
	stepsPerHour     = 15000
	caloriesPerHour  = 1200
	metersPerHour    = 10 * 1609.34 // walking-pad top speed sustained

	// Short sessions get the ceiling of this much elapsed time, so a
	// two-minute walk is not rejected for out-pacing its own duration.
	ceilingFloor = 15 * time.Minute
)

// Result reports what a single ingested frame contributed.
type Result struct {
	StepsDelta    uint64
	DistanceDelta float64
	CaloriesDelta uint64
	RolledOver    bool
	Forward       bool // any cumulative counter moved forward
}

// Aggregator converts a stream of cumulative frames, sampled across many
// connect/disconnect cycles, into exactly-once daily totals and activity
// segments. It owns the DailySession and its persistence; callers are
// expected to invoke it from a single goroutine.
type Aggregator struct {
	repo    store.Repository
	session DailySession
	lastRaw protocol.Frame
	active  *ActivitySegment
}

// NewAggregator restores the persisted session if it belongs to today's
// calendar day, otherwise starts fresh. A missing or corrupt snapshot is not
// fatal.
func NewAggregator(repo store.Repository, now time.Time) *Aggregator {
	a := &Aggregator{repo: repo}

	if !a.restore(now) {
		a.session = newSession(now)
	}

	return a
}

func newSession(now time.Time) DailySession {
	return DailySession{
		ID:          uuid.NewString(),
		StartDate:   dayOf(now),
		StartedAt:   now,
		LastUpdated: now,
	}
}

func (a *Aggregator) restore(now time.Time) bool {
	raw, err := a.repo.Get(context.Background(), store.KeySessionState)
	if err != nil {
		if errors.CodeOf(err) != store.ErrKeyNotFound {
			logger.Warn().Err(err).Msg("Failed to read persisted session")
		}
		return false
	}

	var state PersistedState
	if err := json.Unmarshal(raw, &state); err != nil {
		logger.Warn().Err(err).Msg("Discarding corrupt persisted session")
		return false
	}

	if state.Session.StartDate != dayOf(now) {
		logger.Info().
			Str("persisted_day", state.Session.StartDate).
			Str("today", dayOf(now)).
			Msg("Persisted session is stale, starting fresh")
		return false
	}

	a.session = state.Session
	if state.LastRawSample != nil {
		a.lastRaw = *state.LastRawSample
	}
	logger.Info().
		Str("session_id", a.session.ID).
		Uint64("steps", a.session.Steps).
		Msg("Restored today's session")

	return true
}

// Ingest applies one decoded frame at the given time. Cumulative counters
// contribute their increase since the previous sample; a counter below its
// baseline is treated as a device-side reset and contributes zero while the
// lower value becomes the new baseline. A frame from a different calendar
// day first rolls the session over.
func (a *Aggregator) Ingest(frame protocol.Frame, now time.Time) Result {
	var res Result

	if dayOf(now) != a.session.StartDate {
		a.rollOver(now)
		res.RolledOver = true
	}

	res.StepsDelta = counterDelta(frame.Steps, &a.lastRaw.Steps)
	res.CaloriesDelta = counterDelta(frame.Calories, &a.lastRaw.Calories)
	res.DistanceDelta = distanceDelta(frame.Distance, &a.lastRaw.Distance)

	a.session.Steps += res.StepsDelta
	a.session.Calories += res.CaloriesDelta
	a.session.Distance += res.DistanceDelta
	a.session.LastUpdated = now

	if a.active != nil {
		a.active.Steps += res.StepsDelta
		a.active.Calories += res.CaloriesDelta
		a.active.Distance += res.DistanceDelta
	}

	res.Forward = res.StepsDelta > 0 || res.CaloriesDelta > 0 || res.DistanceDelta > 0

	a.persist()

	return res
}

// counterDelta applies the delta rule to one cumulative uint32 counter and
// advances its baseline in place.
func counterDelta(current *uint32, baseline **uint32) uint64 {
	if current == nil {
		return 0
	}
	prev := *baseline
	value := *current
	*baseline = &value

	if prev == nil || value < *prev {
		return 0
	}

	return uint64(value - *prev)
}

func distanceDelta(current *float64, baseline **float64) float64 {
	if current == nil {
		return 0
	}
	prev := *baseline
	value := *current
	*baseline = &value

	if prev == nil || value < *prev {
		return 0
	}

	return value - *prev
}

func (a *Aggregator) rollOver(now time.Time) {
	logger.Info().
		Str("session_id", a.session.ID).
		Str("day", a.session.StartDate).
		Msg("Day rollover, finalizing session")

	a.active = nil
	a.session = newSession(now)
	a.persist()
}

// BeginSegment opens a new activity segment. An already-open segment is kept.
func (a *Aggregator) BeginSegment(now time.Time) {
	if a.active != nil {
		return
	}

	a.active = &ActivitySegment{Start: now}
	logger.Debug().Time("start", now).Msg("Segment started")
}

// EndSegment closes the open segment. A segment that accrued no steps is
// discarded; nothing is recorded. Returns whether a segment was recorded.
func (a *Aggregator) EndSegment(now time.Time, avgSpeed *float64) bool {
	if a.active == nil {
		return false
	}

	seg := *a.active
	a.active = nil

	if seg.Steps == 0 {
		logger.Debug().Msg("Discarding segment with no steps")
		return false
	}

	seg.End = now
	if !seg.End.After(seg.Start) {
		seg.End = seg.Start.Add(time.Second)
	}
	seg.AvgSpeed = avgSpeed

	a.session.Segments = append(a.session.Segments, seg)
	if now.After(a.session.LastUpdated) {
		a.session.LastUpdated = now
	}
	a.persist()

	logger.Info().
		Uint64("steps", seg.Steps).
		Float64("distance", seg.Distance).
		Msg("Segment recorded")

	return true
}

// SegmentActive reports whether a segment is currently open.
func (a *Aggregator) SegmentActive() bool {
	return a.active != nil
}

// Session returns a snapshot of the current session.
func (a *Aggregator) Session() DailySession {
	snapshot := a.session
	snapshot.Segments = append([]ActivitySegment(nil), a.session.Segments...)

	return snapshot
}

// Reset replaces the session with a fresh one for the same day. The delta
// baseline is kept: it tracks the device's counters, not the session.
func (a *Aggregator) Reset(now time.Time) {
	a.active = nil
	a.session = newSession(now)
	a.persist()
}

// Validate checks the current session against the rules a sink is entitled
// to rely on. A failure carries a descriptive reason and leaves the session
// unmodified.
func (a *Aggregator) Validate() error {
	errFactory := errors.New()
	s := a.session

	if !s.LastUpdated.After(s.StartedAt) {
		return errFactory.WithData(ErrValidationFailed, "session has no elapsed time")
	}

	elapsed := s.LastUpdated.Sub(s.StartedAt)
	if elapsed >= maxSessionLength {
		return errFactory.WithData(ErrValidationFailed,
			fmt.Sprintf("session spans %s, exceeding 24h", elapsed))
	}

	hours := elapsed.Hours()
	if floor := ceilingFloor.Hours(); hours < floor {
		hours = floor
	}
	if float64(s.Steps) > hours*stepsPerHour {
		return errFactory.WithData(ErrValidationFailed,
			fmt.Sprintf("%d steps implausible for %s", s.Steps, elapsed))
	}
	if float64(s.Calories) > hours*caloriesPerHour {
		return errFactory.WithData(ErrValidationFailed,
			fmt.Sprintf("%d kcal implausible for %s", s.Calories, elapsed))
	}
	if s.Distance > hours*metersPerHour {
		return errFactory.WithData(ErrValidationFailed,
			fmt.Sprintf("%.0fm implausible for %s", s.Distance, elapsed))
	}

	var prevEnd time.Time
	for i, seg := range s.Segments {
		if !seg.End.After(seg.Start) {
			return errFactory.WithData(ErrValidationFailed,
				fmt.Sprintf("segment %d ends before it starts", i))
		}
		if seg.Start.Before(s.StartedAt) || seg.End.After(s.LastUpdated) {
			return errFactory.WithData(ErrValidationFailed,
				fmt.Sprintf("segment %d lies outside session bounds", i))
		}
		if i > 0 && seg.Start.Before(prevEnd) {
			return errFactory.WithData(ErrValidationFailed,
				fmt.Sprintf("segment %d overlaps its predecessor", i))
		}
		prevEnd = seg.End
	}

	return nil
}

// persist writes the snapshot after every mutation. Failures are logged and
// swallowed: in-memory state stays authoritative until the next write lands.
func (a *Aggregator) persist() {
	state := PersistedState{Session: a.session}
	if !a.lastRaw.IsZero() {
		raw := a.lastRaw
		state.LastRawSample = &raw
	}

	blob, err := json.Marshal(state)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to encode session state")
		return
	}

	if err := a.repo.Put(context.Background(), store.KeySessionState, blob); err != nil {
		logger.Warn().Err(err).Msg("Failed to persist session state")
	}
}
