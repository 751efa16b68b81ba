// Package marketdata loads OHLCV bars from CSV and generates synthetic series.
package marketdata

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/gocarina/gocsv"

	"futures-risk-lab/internal/domain"
)

// ErrInvalidData is returned for rows that cannot form a valid bar.
var ErrInvalidData = errors.New("invalid market data")

// barRow is the CSV layout: timestamp,open,high,low,close,volume,funding_rate.
type barRow struct {
	Timestamp   string  `csv:"timestamp"`
	Open        float64 `csv:"open"`
	High        float64 `csv:"high"`
	Low         float64 `csv:"low"`
	Close       float64 `csv:"close"`
	Volume      float64 `csv:"volume"`
	FundingRate float64 `csv:"funding_rate,omitempty"`
}

var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// LoadCSV reads bars from r. Rows are returned sorted by timestamp.
// Timestamps may be RFC3339, "2006-01-02 15:04:05", a date, or unix
// seconds/milliseconds.
func LoadCSV(r io.Reader) ([]domain.Bar, error) {
	var rows []*barRow
	if err := gocsv.Unmarshal(r, &rows); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidData, err)
	}

	bars := make([]domain.Bar, 0, len(rows))
	seen := make(map[int64]struct{}, len(rows))
	for i, row := range rows {
		ts, err := parseTimestamp(row.Timestamp)
		if err != nil {
			return nil, fmt.Errorf("%w: row %d: %v", ErrInvalidData, i+1, err)
		}
		b := domain.Bar{
			Timestamp:   ts,
			Open:        row.Open,
			High:        row.High,
			Low:         row.Low,
			Close:       row.Close,
			Volume:      row.Volume,
			FundingRate: row.FundingRate,
		}
		if err := validateBar(b); err != nil {
			return nil, fmt.Errorf("%w: row %d: %v", ErrInvalidData, i+1, err)
		}
		key := ts.UnixNano()
		if _, dup := seen[key]; dup {
			return nil, fmt.Errorf("%w: row %d: duplicate timestamp %s", ErrInvalidData, i+1, ts.Format(time.RFC3339))
		}
		seen[key] = struct{}{}
		bars = append(bars, b)
	}

	sort.Slice(bars, func(i, j int) bool { return bars[i].Timestamp.Before(bars[j].Timestamp) })
	return bars, nil
}

// LoadCSVFile opens path and reads bars from it.
func LoadCSVFile(path string) ([]domain.Bar, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	return LoadCSV(f)
}

// WriteCSV writes bars with RFC3339 UTC timestamps.
func WriteCSV(w io.Writer, bars []domain.Bar) error {
	rows := make([]*barRow, len(bars))
	for i, b := range bars {
		rows[i] = &barRow{
			Timestamp:   b.Timestamp.UTC().Format(time.RFC3339),
			Open:        b.Open,
			High:        b.High,
			Low:         b.Low,
			Close:       b.Close,
			Volume:      b.Volume,
			FundingRate: b.FundingRate,
		}
	}
	if err := gocsv.Marshal(&rows, w); err != nil {
		return fmt.Errorf("marshal bars: %w", err)
	}
	return nil
}

// WriteCSVFile creates path and writes bars to it.
func WriteCSVFile(path string, bars []domain.Bar) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := WriteCSV(f, bars); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func parseTimestamp(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, errors.New("empty timestamp")
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		// Anything past year 2286 in seconds is treated as milliseconds.
		if n > 1e10 {
			return time.UnixMilli(n).UTC(), nil
		}
		return time.Unix(n, 0).UTC(), nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

func validateBar(b domain.Bar) error {
	switch {
	case b.Open <= 0 || b.High <= 0 || b.Low <= 0 || b.Close <= 0:
		return errors.New("prices must be positive")
	case b.High < b.Low:
		return errors.New("high below low")
	case b.High < b.Open || b.High < b.Close:
		return errors.New("high below open/close")
	case b.Low > b.Open || b.Low > b.Close:
		return errors.New("low above open/close")
	case b.Volume < 0:
		return errors.New("negative volume")
	}
	return nil
}
