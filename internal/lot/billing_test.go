package lot

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFee(t *testing.T) {
	base := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

	cases := []struct {
		name string
		dur  time.Duration
		rate int
		unit int
		want int
	}{
		{"one second rounds up to a full unit", time.Second, 5000, 1000, 1000},
		{"exactly one hour", time.Hour, 5000, 1000, 5000},
		{"hour and a second rounds up", 3661 * time.Second, 5000, 1000, 6000},
		{"two and a half hours", 150 * time.Minute, 5000, 1000, 13000},
		{"zero duration is free", 0, 5000, 1000, 0},
		{"negative duration is free", -time.Hour, 5000, 1000, 0},
		{"zero rate is free", time.Hour, 0, 1000, 0},
		{"unit one keeps exact charge", 30 * time.Minute, 5000, 1, 2500},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, Fee(base, base.Add(tc.dur), tc.rate, tc.unit))
		})
	}
}

func TestSettle(t *testing.T) {
	paid, shortfall, remaining := Settle(10000, 20000)
	require.Equal(t, 10000, paid)
	require.Equal(t, 0, shortfall)
	require.Equal(t, 10000, remaining)

	paid, shortfall, remaining = Settle(10000, 4000)
	require.Equal(t, 4000, paid)
	require.Equal(t, 6000, shortfall)
	require.Equal(t, 0, remaining)

	paid, shortfall, remaining = Settle(0, 5000)
	require.Equal(t, 0, paid)
	require.Equal(t, 0, shortfall)
	require.Equal(t, 5000, remaining)
}
