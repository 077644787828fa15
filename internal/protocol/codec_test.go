package protocol_test

import (
	"testing"
	"time"

	"codeberg.org/mutker/treadlink/internal/logger"
	"codeberg.org/mutker/treadlink/internal/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	logger.Init(false, false, true)
}

func TestQueryCommands(t *testing.T) {
	assert.Equal(t, []byte{0xA1, 0x88, 0x00, 0x00, 0x00}, protocol.QuerySteps.Command())
	assert.Equal(t, []byte{0xA1, 0x85, 0x00, 0x00, 0x00}, protocol.QueryDistance.Command())
	assert.Equal(t, []byte{0xA1, 0x87, 0x00, 0x00, 0x00}, protocol.QueryCalories.Command())
	assert.Equal(t, []byte{0xA1, 0x82, 0x00, 0x00, 0x00}, protocol.QuerySpeed.Command())
	assert.Equal(t, []byte{0xA1, 0x89, 0x00, 0x00, 0x00}, protocol.QueryTime.Command())
}

func TestEncodeUnknownQuery(t *testing.T) {
	codec := protocol.NewCodec()
	_, err := codec.Encode(protocol.Query(42))
	require.Error(t, err)
}

// The console reports the step counter with the high byte at offset 1. A
// codec reading the bytes the other way around decodes the frame below as
// 43520, which still passes the plausibility check and pins the session to a
// bogus total; the correct reading is 0x00AA = 170.
func TestDecodeStepsByteOrder(t *testing.T) {
	codec := protocol.NewCodec()

	frame, err := codec.Decode(protocol.QuerySteps, []byte{0xA1, 0x00, 0xAA, 0x00, 0x00})
	require.NoError(t, err)
	require.NotNil(t, frame.Steps)
	assert.Equal(t, uint32(170), *frame.Steps)
}

func TestDecodeSteps(t *testing.T) {
	codec := protocol.NewCodec()

	frame, err := codec.Decode(protocol.QuerySteps, []byte{0xA1, 0x27, 0x10, 0x00, 0x00})
	require.NoError(t, err)
	require.NotNil(t, frame.Steps)
	assert.Equal(t, uint32(10000), *frame.Steps)
}

func TestDecodeCalories(t *testing.T) {
	codec := protocol.NewCodec()

	frame, err := codec.Decode(protocol.QueryCalories, []byte{0xA1, 0x01, 0xF4, 0x00, 0x00})
	require.NoError(t, err)
	require.NotNil(t, frame.Calories)
	assert.Equal(t, uint32(500), *frame.Calories)
}

func TestDecodeDistanceConvertsToMeters(t *testing.T) {
	codec := protocol.NewCodec()

	// 1.50 miles
	frame, err := codec.Decode(protocol.QueryDistance, []byte{0xA1, 0x01, 0x32, 0x00, 0x00})
	require.NoError(t, err)
	require.NotNil(t, frame.Distance)
	assert.InDelta(t, 1.5*1609.34, *frame.Distance, 0.01)
}

func TestDecodeSpeedConvertsToMetersPerSecond(t *testing.T) {
	codec := protocol.NewCodec()

	// 2.50 mph
	frame, err := codec.Decode(protocol.QuerySpeed, []byte{0xA1, 0x02, 0x32, 0x00, 0x00})
	require.NoError(t, err)
	require.NotNil(t, frame.Speed)
	assert.InDelta(t, 2.5*0.44704, *frame.Speed, 0.0001)
}

func TestDecodeTime(t *testing.T) {
	codec := protocol.NewCodec()

	frame, err := codec.Decode(protocol.QueryTime, []byte{0xA1, 0x01, 0x30, 0x15, 0x00})
	require.NoError(t, err)
	require.NotNil(t, frame.Elapsed)
	assert.Equal(t, time.Hour+48*time.Minute+21*time.Second, *frame.Elapsed)
}

func TestDecodeTimeRequiresFourBytes(t *testing.T) {
	codec := protocol.NewCodec()

	_, err := codec.Decode(protocol.QueryTime, []byte{0xA1, 0x01, 0x30})
	require.Error(t, err)
}

func TestDecodeShortFrameWithoutCache(t *testing.T) {
	codec := protocol.NewCodec()

	frame, err := codec.Decode(protocol.QuerySteps, []byte{0xA1, 0x00})
	require.Error(t, err)
	assert.True(t, frame.IsZero(), "short frame with no cache must not fabricate data")
}

func TestDecodeShortFrameFallsBackToLastGood(t *testing.T) {
	codec := protocol.NewCodec()

	_, err := codec.Decode(protocol.QuerySteps, []byte{0xA1, 0x00, 0x64, 0x00, 0x00})
	require.NoError(t, err)

	frame, err := codec.Decode(protocol.QuerySteps, []byte{0xA1})
	require.NoError(t, err)
	require.NotNil(t, frame.Steps)
	assert.Equal(t, uint32(100), *frame.Steps)
}

func TestDecodeOutOfRangeFallsBackToLastGood(t *testing.T) {
	codec := protocol.NewCodec()

	_, err := codec.Decode(protocol.QuerySpeed, []byte{0xA1, 0x02, 0x00, 0x00, 0x00})
	require.NoError(t, err)

	// 99.00 mph is not a walking pace
	frame, err := codec.Decode(protocol.QuerySpeed, []byte{0xA1, 0x63, 0x00, 0x00, 0x00})
	require.NoError(t, err)
	require.NotNil(t, frame.Speed)
	assert.InDelta(t, 2.0*0.44704, *frame.Speed, 0.0001)
}

func TestDecodeOutOfRangeWithoutCache(t *testing.T) {
	codec := protocol.NewCodec()

	frame, err := codec.Decode(protocol.QueryTime, []byte{0xA1, 0x30, 0x30, 0x30, 0x00})
	require.Error(t, err)
	assert.True(t, frame.IsZero())
}

func TestFrameMerge(t *testing.T) {
	steps := uint32(12)
	speed := 1.5

	var frame protocol.Frame
	frame.Merge(protocol.Frame{Steps: &steps})
	frame.Merge(protocol.Frame{Speed: &speed})

	require.NotNil(t, frame.Steps)
	require.NotNil(t, frame.Speed)
	assert.Equal(t, uint32(12), *frame.Steps)
	assert.False(t, frame.IsZero())
}
