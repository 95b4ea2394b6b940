// Package journal keeps executed trades in memory for the life of the process
// and writes them out as one CSV file at shutdown.
package journal

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/go-gota/gota/dataframe"
	"github.com/shopspring/decimal"
)

// TradeRecord is one submitted order. Notional is in the quote currency.
type TradeRecord struct {
	Timestamp time.Time
	Symbol    string
	Side      string
	Notional  decimal.Decimal
}

type row struct {
	Timestamp string `dataframe:"timestamp,string"`
	Symbol    string `dataframe:"symbol,string"`
	Side      string `dataframe:"side,string"`
	Notional  string `dataframe:"notional,string"`
}

type Journal struct {
	mu      sync.Mutex
	path    string
	records []TradeRecord
}

func New(path string) *Journal {
	return &Journal{path: path}
}

func (j *Journal) Path() string {
	return j.path
}

func (j *Journal) Append(record TradeRecord) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.records = append(j.records, record)
}

func (j *Journal) Len() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.records)
}

func (j *Journal) Records() []TradeRecord {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]TradeRecord, len(j.records))
	copy(out, j.records)
	return out
}

// Flush rewrites the journal file with every record appended so far and
// returns how many rows were written. An empty journal writes no file.
func (j *Journal) Flush() (int, error) {
	records := j.Records()
	if len(records) == 0 {
		return 0, nil
	}

	file, err := os.Create(j.path)
	if err != nil {
		return 0, fmt.Errorf("create trade journal: %w", err)
	}
	if err := WriteCSV(file, records); err != nil {
		_ = file.Close()
		return 0, err
	}
	if err := file.Close(); err != nil {
		return 0, fmt.Errorf("close trade journal: %w", err)
	}
	return len(records), nil
}

// WriteCSV writes records with a timestamp,symbol,side,notional header.
func WriteCSV(w io.Writer, records []TradeRecord) error {
	rows := make([]row, 0, len(records))
	for _, r := range records {
		rows = append(rows, row{
			Timestamp: r.Timestamp.UTC().Format(time.RFC3339),
			Symbol:    r.Symbol,
			Side:      r.Side,
			Notional:  r.Notional.StringFixed(2),
		})
	}

	df := dataframe.LoadStructs(rows)
	if df.Err != nil {
		return fmt.Errorf("build trade journal frame: %w", df.Err)
	}
	if err := df.WriteCSV(w); err != nil {
		return fmt.Errorf("write trade journal: %w", err)
	}
	return nil
}
