package protocol

import (
	"time"

	"codeberg.org/mutker/treadlink/internal/errors"
	"codeberg.org/mutker/treadlink/internal/logger"
)

const (
	maxDailySteps    = 50000
	maxDailyCalories = 5000
	maxDailyMiles    = 50.0
	maxWalkingMPH    = 10.0

	metersPerMile = 1609.34
	mphToMS       = 0.44704

	// Largest single-sample increase considered plausible between two
	// accepted step readings. Diagnostic only.
	stepJumpCeiling = 2000
)

// Codec encodes query commands and decodes console responses into typed
// frames. It keeps a per-query last-good cache used as fallback when a
// response is short or implausible; a transient bad frame must never reach
// the aggregator.
type Codec struct {
	lastGood map[Query]Frame
}

func NewCodec() *Codec {
	return &Codec{
		lastGood: make(map[Query]Frame),
	}
}

// Encode returns the wire command for the query.
func (c *Codec) Encode(q Query) ([]byte, error) {
	cmd := q.Command()
	if cmd == nil {
		return nil, errors.New().WithData(ErrUnknownQuery, int(q))
	}

	return cmd, nil
}

// Decode turns a raw response buffer into a frame for the query that
// provoked it. Responses shorter than 3 bytes (4 for time) and values
// failing their plausibility range fall back to the last accepted value for
// that query; with no cached value the frame is empty and an error reports
// why. Decode never fabricates data.
func (c *Codec) Decode(q Query, buf []byte) (Frame, error) {
	minLen := 3
	if q == QueryTime {
		minLen = 4
	}
	if len(buf) < minLen {
		return c.fallback(q, errors.New().WithData(ErrFrameTooShort, len(buf)))
	}

	switch q {
	case QuerySteps:
		steps := uint32(buf[1])<<8 | uint32(buf[2])
		if steps > maxDailySteps {
			return c.fallback(q, errors.New().WithData(ErrOutOfRange, steps))
		}
		c.noteStepJump(steps)

		return c.accept(q, Frame{Steps: &steps})

	case QueryCalories:
		calories := uint32(buf[1])<<8 | uint32(buf[2])
		if calories > maxDailyCalories {
			return c.fallback(q, errors.New().WithData(ErrOutOfRange, calories))
		}

		return c.accept(q, Frame{Calories: &calories})

	case QueryDistance:
		miles := float64(buf[1]) + float64(buf[2])/100
		if miles < 0 || miles > maxDailyMiles {
			return c.fallback(q, errors.New().WithData(ErrOutOfRange, miles))
		}
		meters := miles * metersPerMile

		return c.accept(q, Frame{Distance: &meters})

	case QuerySpeed:
		mph := float64(buf[1]) + float64(buf[2])/100
		if mph < 0 || mph > maxWalkingMPH {
			return c.fallback(q, errors.New().WithData(ErrOutOfRange, mph))
		}
		ms := mph * mphToMS

		return c.accept(q, Frame{Speed: &ms})

	case QueryTime:
		h, m, s := buf[1], buf[2], buf[3]
		if h >= 24 || m >= 60 || s >= 60 {
			return c.fallback(q, errors.New().WithData(ErrOutOfRange, []byte{h, m, s}))
		}
		elapsed := time.Duration(h)*time.Hour + time.Duration(m)*time.Minute + time.Duration(s)*time.Second

		return c.accept(q, Frame{Elapsed: &elapsed})

	default:
		return Frame{}, errors.New().WithData(ErrUnknownQuery, int(q))
	}
}

func (c *Codec) accept(q Query, frame Frame) (Frame, error) {
	c.lastGood[q] = frame

	return frame, nil
}

func (c *Codec) fallback(q Query, cause errors.Error) (Frame, error) {
	if cached, ok := c.lastGood[q]; ok {
		logger.Debug().
			Str("query", q.String()).
			Str("cause", cause.Error()).
			Msg("Bad response, using last accepted value")

		return cached, nil
	}

	return Frame{}, cause
}

func (c *Codec) noteStepJump(steps uint32) {
	cached, ok := c.lastGood[QuerySteps]
	if !ok || cached.Steps == nil {
		return
	}
	if steps > *cached.Steps && steps-*cached.Steps > stepJumpCeiling {
		logger.Warn().
			Uint32("previous", *cached.Steps).
			Uint32("current", steps).
			Msg("Implausible single-sample step jump")
	}
}
