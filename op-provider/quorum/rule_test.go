package quorum

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRequiredWeight(t *testing.T) {
	weights := []uint64{1, 2, 3, 4}
	require.Equal(t, uint64(6), Majority().RequiredWeight(weights))
	require.Equal(t, uint64(2), Majority().RequiredWeight([]uint64{1, 1, 1}))
	require.Equal(t, uint64(2), Majority().RequiredWeight([]uint64{1, 1}))
	require.Equal(t, uint64(10), All().RequiredWeight(weights))
	require.Equal(t, uint64(7), AtLeastPercentage(75).RequiredWeight(weights))
	require.Equal(t, uint64(3), ExactCount(2).RequiredWeight(weights))
	require.Equal(t, uint64(10), ExactCount(9).RequiredWeight(weights))
	require.Equal(t, uint64(6), Weight(6).RequiredWeight(weights))
	require.Equal(t, Majority(), Rule{})
}

func TestParseRule(t *testing.T) {
	for _, s := range []string{"majority", "all", "percentage:60", "count:2", "weight:3"} {
		r, err := ParseRule(s)
		require.NoError(t, err, s)
		require.Equal(t, s, r.String())
	}
	r, err := ParseRule(" Majority ")
	require.NoError(t, err)
	require.Equal(t, Majority(), r)

	for _, s := range []string{"percentage", "percentage:0", "percentage:101", "count:x", "weight:0", "all:3", "most"} {
		_, err := ParseRule(s)
		require.Error(t, err, s)
	}

	var parsed Rule
	require.NoError(t, parsed.UnmarshalText([]byte("count:3")))
	require.Equal(t, ExactCount(3), parsed)
}
