package withdrawal

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"
)

// AuditHeader is the column order of the audit file.
var AuditHeader = []string{
	"timestamp", "amount", "bank", "account_number",
	"account_name", "balance_before", "balance_after", "reason",
}

// Record is one completed withdrawal.
type Record struct {
	Time          time.Time
	Amount        string // as shown in the confirmation dialog
	Bank          string
	AccountNumber string
	AccountName   string
	BalanceBefore float64
	BalanceAfter  float64
	Reason        string
}

func (r Record) fields() []string {
	return []string{
		r.Time.Format(time.DateTime),
		r.Amount,
		r.Bank,
		r.AccountNumber,
		r.AccountName,
		strconv.FormatFloat(r.BalanceBefore, 'f', -1, 64),
		strconv.FormatFloat(r.BalanceAfter, 'f', -1, 64),
		r.Reason,
	}
}

// AuditLog appends records to a CSV file. The header is written when the
// file is created.
type AuditLog struct {
	Path string
	mu   sync.Mutex
}

// NewAuditLog returns a log writing to path.
func NewAuditLog(path string) *AuditLog {
	return &AuditLog{Path: path}
}

// Append writes rec as one line.
func (a *AuditLog) Append(rec Record) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(a.Path), 0o755); err != nil {
		return fmt.Errorf("create audit dir: %w", err)
	}
	_, statErr := os.Stat(a.Path)
	isNew := os.IsNotExist(statErr)

	f, err := os.OpenFile(a.Path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}

	w := csv.NewWriter(f)
	if isNew {
		_ = w.Write(AuditHeader)
	}
	_ = w.Write(rec.fields())
	w.Flush()
	if err := w.Error(); err != nil {
		_ = f.Close()
		return fmt.Errorf("write audit log: %w", err)
	}
	return f.Close()
}
