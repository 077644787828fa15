package session_test

import (
	"path/filepath"
	"testing"
	"time"

	"codeberg.org/mutker/treadlink/internal/logger"
	"codeberg.org/mutker/treadlink/internal/protocol"
	"codeberg.org/mutker/treadlink/internal/session"
	"codeberg.org/mutker/treadlink/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	logger.Init(false, false, true)
}

var day0 = time.Date(2026, 3, 14, 8, 0, 0, 0, time.UTC)

func openRepo(t *testing.T) store.Repository {
	t.Helper()

	repo, err := store.NewRepository(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })

	return repo
}

func stepsFrame(n uint32) protocol.Frame {
	return protocol.Frame{Steps: &n}
}

func fullFrame(steps, calories uint32, meters float64) protocol.Frame {
	return protocol.Frame{Steps: &steps, Calories: &calories, Distance: &meters}
}

func TestFirstSampleAdoptsBaseline(t *testing.T) {
	agg := session.NewAggregator(openRepo(t), day0)

	// The console reports counters accumulated since power-on; the first
	// sample must not be double counted into the fresh session.
	res := agg.Ingest(fullFrame(4000, 120, 3200), day0)
	assert.Zero(t, res.StepsDelta)
	assert.Zero(t, res.CaloriesDelta)
	assert.Zero(t, res.DistanceDelta)
	assert.False(t, res.Forward)
	assert.Zero(t, agg.Session().Steps)
}

func TestTotalsEqualSumOfIncreases(t *testing.T) {
	agg := session.NewAggregator(openRepo(t), day0)

	now := day0
	agg.Ingest(fullFrame(1000, 30, 800), now)
	for i, steps := range []uint32{1100, 1250, 1600} {
		now = now.Add(time.Duration(i+1) * time.Minute)
		agg.Ingest(fullFrame(steps, 30+uint32(i)*5, 800+float64(i)*100), now)
	}

	s := agg.Session()
	assert.Equal(t, uint64(600), s.Steps)
	assert.Equal(t, uint64(10), s.Calories)
	assert.InDelta(t, 200.0, s.Distance, 0.001)
}

func TestNoDoubleCountingAcrossReconnects(t *testing.T) {
	agg := session.NewAggregator(openRepo(t), day0)

	agg.Ingest(stepsFrame(500), day0)
	agg.Ingest(stepsFrame(800), day0.Add(time.Minute))

	// Disconnect and reconnect: the console resends the same cumulative
	// counter, which must contribute nothing.
	agg.Ingest(stepsFrame(800), day0.Add(5*time.Minute))
	agg.Ingest(stepsFrame(900), day0.Add(6*time.Minute))

	assert.Equal(t, uint64(400), agg.Session().Steps)
}

func TestCounterDecreaseContributesZeroAndRebases(t *testing.T) {
	agg := session.NewAggregator(openRepo(t), day0)

	agg.Ingest(stepsFrame(2000), day0)
	agg.Ingest(stepsFrame(2500), day0.Add(time.Minute))

	// Device-side reset: counter dropped below the baseline.
	res := agg.Ingest(stepsFrame(40), day0.Add(2*time.Minute))
	assert.Zero(t, res.StepsDelta)
	assert.Equal(t, uint64(500), agg.Session().Steps)

	// The lower value is the new baseline.
	res = agg.Ingest(stepsFrame(100), day0.Add(3*time.Minute))
	assert.Equal(t, uint64(60), res.StepsDelta)
	assert.Equal(t, uint64(560), agg.Session().Steps)
}

func TestAbsentMetricDoesNotUpdate(t *testing.T) {
	agg := session.NewAggregator(openRepo(t), day0)

	agg.Ingest(fullFrame(100, 10, 50), day0)
	speed := 1.2
	agg.Ingest(protocol.Frame{Speed: &speed}, day0.Add(time.Minute))
	agg.Ingest(fullFrame(200, 20, 150), day0.Add(2*time.Minute))

	s := agg.Session()
	assert.Equal(t, uint64(100), s.Steps)
	assert.Equal(t, uint64(10), s.Calories)
	assert.InDelta(t, 100.0, s.Distance, 0.001)
}

func TestPersistAndReloadSameDay(t *testing.T) {
	repo := openRepo(t)

	agg := session.NewAggregator(repo, day0)
	agg.BeginSegment(day0)
	agg.Ingest(stepsFrame(100), day0)
	agg.Ingest(stepsFrame(350), day0.Add(10*time.Minute))
	agg.EndSegment(day0.Add(11*time.Minute), nil)
	want := agg.Session()

	reloaded := session.NewAggregator(repo, day0.Add(time.Hour))
	assert.Equal(t, want, reloaded.Session())

	// The baseline survives the restart: the same counter value must not
	// be re-counted.
	res := reloaded.Ingest(stepsFrame(350), day0.Add(time.Hour))
	assert.Zero(t, res.StepsDelta)
	res = reloaded.Ingest(stepsFrame(400), day0.Add(time.Hour+time.Minute))
	assert.Equal(t, uint64(50), res.StepsDelta)
}

func TestReloadOnNewDayStartsFresh(t *testing.T) {
	repo := openRepo(t)

	agg := session.NewAggregator(repo, day0)
	agg.Ingest(stepsFrame(100), day0)
	agg.Ingest(stepsFrame(900), day0.Add(time.Minute))
	stale := agg.Session()
	require.Equal(t, uint64(800), stale.Steps)

	nextWeek := day0.AddDate(0, 0, 7)
	fresh := session.NewAggregator(repo, nextWeek)
	s := fresh.Session()
	assert.Zero(t, s.Steps)
	assert.Empty(t, s.Segments)
	assert.NotEqual(t, stale.ID, s.ID)
	assert.Equal(t, "2026-03-21", s.StartDate)
}

func TestDayRolloverMidStream(t *testing.T) {
	agg := session.NewAggregator(openRepo(t), day0)

	agg.BeginSegment(day0)
	agg.Ingest(stepsFrame(100), day0)
	agg.Ingest(stepsFrame(500), day0.Add(time.Minute))
	oldID := agg.Session().ID

	midnight := time.Date(2026, 3, 15, 0, 0, 5, 0, time.UTC)
	res := agg.Ingest(stepsFrame(520), midnight)
	require.True(t, res.RolledOver)

	s := agg.Session()
	assert.NotEqual(t, oldID, s.ID)
	assert.Equal(t, "2026-03-15", s.StartDate)
	// The baseline carried over, so only the overnight increase counts.
	assert.Equal(t, uint64(20), s.Steps)
	assert.False(t, agg.SegmentActive())
}

func TestSegmentPerCycleWithMotion(t *testing.T) {
	agg := session.NewAggregator(openRepo(t), day0)

	now := day0
	steps := uint32(0)
	for cycle := 0; cycle < 3; cycle++ {
		agg.BeginSegment(now)
		agg.Ingest(stepsFrame(steps), now)
		steps += 300
		now = now.Add(5 * time.Minute)
		agg.Ingest(stepsFrame(steps), now)
		agg.EndSegment(now, nil)
		now = now.Add(time.Minute)
	}

	s := agg.Session()
	require.Len(t, s.Segments, 3)
	for _, seg := range s.Segments {
		assert.Equal(t, uint64(300), seg.Steps)
		assert.True(t, seg.End.After(seg.Start))
	}
}

func TestSegmentWithoutMotionIsDiscarded(t *testing.T) {
	agg := session.NewAggregator(openRepo(t), day0)

	agg.Ingest(stepsFrame(100), day0)
	agg.BeginSegment(day0.Add(time.Minute))
	agg.Ingest(stepsFrame(100), day0.Add(2*time.Minute))
	recorded := agg.EndSegment(day0.Add(3*time.Minute), nil)

	assert.False(t, recorded)
	assert.Empty(t, agg.Session().Segments)
}

func TestValidateAcceptsPlausibleSession(t *testing.T) {
	agg := session.NewAggregator(openRepo(t), day0)

	agg.BeginSegment(day0)
	agg.Ingest(stepsFrame(0), day0)
	agg.Ingest(fullFrame(2500, 90, 1800), day0.Add(30*time.Minute))
	agg.EndSegment(day0.Add(31*time.Minute), nil)

	require.NoError(t, agg.Validate())
}

func TestValidateRejectsNoElapsedTime(t *testing.T) {
	agg := session.NewAggregator(openRepo(t), day0)

	err := agg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "elapsed")
}

func TestValidateRejectsImplausibleSteps(t *testing.T) {
	agg := session.NewAggregator(openRepo(t), day0)

	agg.Ingest(stepsFrame(0), day0)
	agg.Ingest(stepsFrame(20000), day0.Add(20*time.Minute))

	err := agg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "implausible")
}

func TestReset(t *testing.T) {
	agg := session.NewAggregator(openRepo(t), day0)

	agg.Ingest(stepsFrame(100), day0)
	agg.Ingest(stepsFrame(400), day0.Add(time.Minute))
	oldID := agg.Session().ID

	agg.Reset(day0.Add(2 * time.Minute))
	s := agg.Session()
	assert.Zero(t, s.Steps)
	assert.NotEqual(t, oldID, s.ID)

	// Baseline is preserved, so the device's counter is not re-counted.
	res := agg.Ingest(stepsFrame(450), day0.Add(3*time.Minute))
	assert.Equal(t, uint64(50), res.StepsDelta)
}
