package market

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Feed yields bars one at a time.
// Implementations return (ok=false, err=nil) at EOF.
type Feed interface {
	Next() (b Bar, ok bool, err error)
	Close() error
}

// SliceFeed replays an in-memory slice of bars.
type SliceFeed struct {
	bars []Bar
	idx  int
}

func NewSliceFeed(bars []Bar) *SliceFeed {
	return &SliceFeed{bars: bars}
}

func (f *SliceFeed) Next() (Bar, bool, error) {
	if f.idx >= len(f.bars) {
		return Bar{}, false, nil
	}
	b := f.bars[f.idx]
	f.idx++
	return b, true, nil
}

func (f *SliceFeed) Close() error { return nil }

// CSVFeed reads bar CSV rows:
//
//	time,open,high,low,close[,volume]
//
// where time is RFC3339 or RFC3339Nano.
//
// It optionally filters bars to [From, To) if provided.
// A header row ("time,...") is allowed and empty rows are skipped.
// Ordering is not checked here; the engine rejects out-of-order bars.
type CSVFeed struct {
	f    *os.File
	r    *csv.Reader
	from time.Time
	to   time.Time

	line     int
	sawFirst bool
}

func NewCSVFeed(path string, from, to time.Time) (*CSVFeed, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	return &CSVFeed{f: f, r: r, from: from, to: to}, nil
}

func (f *CSVFeed) Close() error {
	if f.f != nil {
		return f.f.Close()
	}
	return nil
}

func (f *CSVFeed) Next() (Bar, bool, error) {
	for {
		row, err := f.r.Read()
		if err == io.EOF {
			return Bar{}, false, nil
		}
		if err != nil {
			return Bar{}, false, err
		}
		f.line++
		if len(row) == 0 {
			continue
		}

		if !f.sawFirst {
			f.sawFirst = true
			if strings.EqualFold(strings.TrimSpace(row[0]), "time") {
				continue
			}
		}

		b, ok, err := parseBarRow(row)
		if err != nil {
			return Bar{}, false, fmt.Errorf("line %d: %w", f.line, err)
		}
		if !ok {
			continue
		}
		if !inRange(b.Time, f.from, f.to) {
			continue
		}
		return b, true, nil
	}
}

func parseBarRow(row []string) (Bar, bool, error) {
	if len(row) < 5 {
		return Bar{}, false, nil
	}

	ts := strings.TrimSpace(row[0])
	if ts == "" {
		return Bar{}, false, nil
	}
	t, err := time.Parse(time.RFC3339, ts)
	if err != nil {
		t2, err2 := time.Parse(time.RFC3339Nano, ts)
		if err2 != nil {
			return Bar{}, false, fmt.Errorf("bad time %q: %w", ts, err)
		}
		t = t2
	}

	var px [4]decimal.Decimal
	for i := range px {
		px[i], err = decimal.NewFromString(strings.TrimSpace(row[i+1]))
		if err != nil {
			return Bar{}, false, fmt.Errorf("bad price %q: %w", row[i+1], err)
		}
	}

	b := Bar{Time: t, Open: px[0], High: px[1], Low: px[2], Close: px[3]}
	if len(row) > 5 && strings.TrimSpace(row[5]) != "" {
		v, err := decimal.NewFromString(strings.TrimSpace(row[5]))
		if err != nil {
			return Bar{}, false, fmt.Errorf("bad volume %q: %w", row[5], err)
		}
		b.Volume = decimal.NewNullDecimal(v)
	}
	return b, true, nil
}

func inRange(t, from, to time.Time) bool {
	if !from.IsZero() && t.Before(from) {
		return false
	}
	if !to.IsZero() && !t.Before(to) {
		return false
	}
	return true
}

// LoadCSV reads every bar of a CSV file into memory.
func LoadCSV(path string, from, to time.Time) ([]Bar, error) {
	feed, err := NewCSVFeed(path, from, to)
	if err != nil {
		return nil, err
	}
	defer feed.Close()

	var bars []Bar
	for {
		b, ok, err := feed.Next()
		if err != nil {
			return nil, err
		}
		if !ok {
			return bars, nil
		}
		bars = append(bars, b)
	}
}
