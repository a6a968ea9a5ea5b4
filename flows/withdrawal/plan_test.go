package withdrawal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlan(t *testing.T) {
	tests := []struct {
		name    string
		balance float64
		lastWin float64
		want    int
		ok      bool
	}{
		{"balance rule only", 10000, 0, 3000, true},
		{"win rule is smaller", 10000, 2000, 1000, true},
		{"balance rule is smaller", 10000, 8000, 3000, true},
		{"negative win ignored", 10000, -50, 3000, true},
		{"fraction truncated", 3333, 0, 999, true},
		{"just above minimum", 2000, 0, 600, true},
		{"balance too small", 1000, 0, 0, false},
		{"win too small", 10000, 900, 0, false},
		{"empty account", 0, 0, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Plan(tt.balance, tt.lastWin)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseAmount(t *testing.T) {
	tests := []struct {
		in   string
		want float64
	}{
		{"NGN 12,345.67", 12345.67},
		{"1,000", 1000},
		{"  500 ", 500},
		{"Balance: -20.5", -20.5},
		{"₦3,000.00", 3000},
	}
	for _, tt := range tests {
		got, err := ParseAmount(tt.in)
		require.NoError(t, err, tt.in)
		assert.InDelta(t, tt.want, got, 1e-9, tt.in)
	}

	_, err := ParseAmount("N/A")
	assert.Error(t, err)
}
