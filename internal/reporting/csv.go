package reporting

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/gocarina/gocsv"
)

// WriteTradesCSV writes trades as CSV with a header row.
func WriteTradesCSV(w io.Writer, r *Report) error {
	rows := TradeRows(r.Trades)
	if err := gocsv.Marshal(&rows, w); err != nil {
		return fmt.Errorf("marshal trades csv: %w", err)
	}
	return nil
}

// WriteEquityCSV writes the equity curve as CSV with a header row.
func WriteEquityCSV(w io.Writer, r *Report) error {
	rows := EquityRows(r.Equity)
	if err := gocsv.Marshal(&rows, w); err != nil {
		return fmt.Errorf("marshal equity csv: %w", err)
	}
	return nil
}

// ExportCSV writes trades.csv and equity.csv into dir, creating it if needed.
func ExportCSV(dir string, r *Report) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create export dir: %w", err)
	}
	for name, write := range map[string]func(io.Writer, *Report) error{
		"trades.csv": WriteTradesCSV,
		"equity.csv": WriteEquityCSV,
	} {
		if err := writeFile(filepath.Join(dir, name), r, write); err != nil {
			return err
		}
	}
	return nil
}

func writeFile(path string, r *Report, write func(io.Writer, *Report) error) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := write(f, r); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
