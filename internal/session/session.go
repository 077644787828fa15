package session

import (
	"time"

	"codeberg.org/mutker/treadlink/internal/protocol"
)

const dateLayout = "2006-01-02"

// DailySession is one rolling day's accumulated activity. Totals only grow
// within the day; a new session replaces the old one on day rollover or
// after a successful save.
type DailySession struct {
	ID          string            `json:"id"`
	StartDate   string            `json:"start_date"` // calendar day, YYYY-MM-DD
	StartedAt   time.Time         `json:"started_at"`
	LastUpdated time.Time         `json:"last_updated"`
	Steps       uint64            `json:"steps"`
	Distance    float64           `json:"distance"` // meters
	Calories    uint64            `json:"calories"`
	Segments    []ActivitySegment `json:"segments"`
}

// ActivitySegment is a contiguous block of activity within one
// connect/disconnect or idle-pause cycle.
type ActivitySegment struct {
	Start    time.Time `json:"start"`
	End      time.Time `json:"end"`
	Steps    uint64    `json:"steps"`
	Distance float64   `json:"distance"` // meters
	Calories uint64    `json:"calories"`
	AvgSpeed *float64  `json:"avg_speed,omitempty"` // m/s
}

// PersistedState is the snapshot written after every mutation. LastRawSample
// is the delta baseline, carried independently of segment boundaries.
type PersistedState struct {
	Session       DailySession    `json:"session"`
	LastRawSample *protocol.Frame `json:"last_raw_sample,omitempty"`
}

func dayOf(t time.Time) string {
	return t.Format(dateLayout)
}
