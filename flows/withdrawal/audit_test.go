package withdrawal

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuditLogWritesHeaderOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "DB", "withdrawals.csv")
	log := NewAuditLog(path)

	first := Record{
		Time:          time.Date(2026, 10, 17, 9, 30, 0, 0, time.UTC),
		Amount:        "3,000",
		Bank:          "Opay",
		AccountNumber: "0123456789",
		AccountName:   "ADA OBI",
		BalanceBefore: 10000,
		BalanceAfter:  7000,
		Reason:        "weekly",
	}
	second := first
	second.Amount = "500"
	second.Reason = "with, comma"

	require.NoError(t, log.Append(first))
	require.NoError(t, log.Append(second))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	lines, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)

	require.Len(t, lines, 3)
	assert.Equal(t, AuditHeader, lines[0])
	assert.Equal(t, []string{"2026-10-17 09:30:00", "3,000", "Opay", "0123456789", "ADA OBI", "10000", "7000", "weekly"}, lines[1])
	assert.Equal(t, "with, comma", lines[2][7])
}
