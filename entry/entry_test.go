package entry

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPackPayloadRoundTrip(t *testing.T) {
	cases := []CountAndGameOffset{
		{Count: 1, GameOffset: 42, OffsetValid: true},
		{Count: 1, GameOffset: 0, OffsetValid: true},
		{Count: 7, GameOffset: 123456, OffsetValid: true},
		{Count: 1 << 40, GameOffset: 0, OffsetValid: false},
	}
	for _, c := range cases {
		got := UnpackPayload(PackPayload(c))
		require.Equal(t, c.Count, got.Count)
		require.Equal(t, c.OffsetValid, got.OffsetValid)
		if c.OffsetValid {
			require.Equal(t, c.GameOffset, got.GameOffset)
		}
	}
}

func TestPackPayloadOversizedOffsetBecomesInvalid(t *testing.T) {
	// a huge count leaves almost no bits for the offset.
	c := CountAndGameOffset{Count: 1 << 50, GameOffset: 1 << 20, OffsetValid: true}
	got := UnpackPayload(PackPayload(c))
	require.Equal(t, c.Count, got.Count)
	require.False(t, got.OffsetValid)
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	e := Entry{
		Key:     [16]byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16},
		Payload: CountAndGameOffset{Count: 3, GameOffset: 99, OffsetValid: true},
	}
	buf := Encode(e)
	require.Len(t, buf, Size)

	got := Decode(buf)
	require.Equal(t, e.Key, got.Key)
	require.Equal(t, e.Payload, got.Payload)
}

func TestMinimalCountUsesOneBit(t *testing.T) {
	c := CountAndGameOffset{Count: 1, GameOffset: (1 << 50) - 2, OffsetValid: true}
	got := UnpackPayload(PackPayload(c))
	require.Equal(t, uint64(1), got.Count)
	require.True(t, got.OffsetValid)
	require.Equal(t, c.GameOffset, got.GameOffset)
}
