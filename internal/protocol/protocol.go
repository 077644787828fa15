package protocol

import "time"

// Query identifies one of the five metric requests understood by the console.
// The set is closed: encode and decode are exhaustive over these values.
type Query int

const (
	QuerySteps Query = iota
	QueryDistance
	QueryCalories
	QuerySpeed
	QueryTime
)

func (q Query) String() string {
	switch q {
	case QuerySteps:
		return "steps"
	case QueryDistance:
		return "distance"
	case QueryCalories:
		return "calories"
	case QuerySpeed:
		return "speed"
	case QueryTime:
		return "time"
	default:
		return "unknown"
	}
}

// Command returns the fixed 5-byte request frame for the query.
func (q Query) Command() []byte {
	switch q {
	case QuerySteps:
		return []byte{0xA1, 0x88, 0x00, 0x00, 0x00}
	case QueryDistance:
		return []byte{0xA1, 0x85, 0x00, 0x00, 0x00}
	case QueryCalories:
		return []byte{0xA1, 0x87, 0x00, 0x00, 0x00}
	case QuerySpeed:
		return []byte{0xA1, 0x82, 0x00, 0x00, 0x00}
	case QueryTime:
		return []byte{0xA1, 0x89, 0x00, 0x00, 0x00}
	default:
		return nil
	}
}

// Cycle is the fixed polling order. Time last, so a full cycle ends on the
// metric that changes every second.
func Cycle() []Query {
	return []Query{QuerySteps, QueryDistance, QueryCalories, QuerySpeed, QueryTime}
}

// Handshake is the command sequence the console requires after subscribing
// to notifications, before it will answer metric queries.
var Handshake = [][]byte{
	{0x02, 0x00, 0x00, 0x00, 0x00},
	{0xC2, 0x00, 0x00, 0x00, 0x00},
	{0xE9, 0xFF, 0x00, 0x00, 0x00},
	{0xE4, 0x00, 0xF4, 0x00, 0x00},
}

// Frame is one decoded reading. Every field is optional: each metric is
// fetched by a separate query and validated independently, so a frame
// normally carries exactly one populated field and the aggregator merges.
type Frame struct {
	Speed    *float64       `json:"speed,omitempty"`    // m/s
	Distance *float64       `json:"distance,omitempty"` // cumulative meters
	Steps    *uint32        `json:"steps,omitempty"`    // cumulative count
	Calories *uint32        `json:"calories,omitempty"` // cumulative kcal
	Elapsed  *time.Duration `json:"elapsed,omitempty"`
}

// IsZero reports whether no field is populated.
func (f Frame) IsZero() bool {
	return f.Speed == nil && f.Distance == nil && f.Steps == nil && f.Calories == nil && f.Elapsed == nil
}

// Merge copies populated fields of other into f.
func (f *Frame) Merge(other Frame) {
	if other.Speed != nil {
		f.Speed = other.Speed
	}
	if other.Distance != nil {
		f.Distance = other.Distance
	}
	if other.Steps != nil {
		f.Steps = other.Steps
	}
	if other.Calories != nil {
		f.Calories = other.Calories
	}
	if other.Elapsed != nil {
		f.Elapsed = other.Elapsed
	}
}
