// Package series builds one chronologically ordered observation table per
// station by driving repeated fetch+decode cycles across a date range at
// the source's native cadence, reconciling corrected late-arriving
// records along the way.
package series

import (
	"time"

	"github.com/mzy2240/cloudside/internal/table"
)

// Status reports the outcome of building one station series or decoding
// one chunk.
type Status string

const (
	// StatusOK means at least one usable row resulted.
	StatusOK Status = "ok"
	// StatusMissing means the raw data never became available.
	StatusMissing Status = "missing"
	// StatusBad means raw data existed but decoding yielded no usable rows.
	StatusBad Status = "bad"
)

// Cadence is a source's native chunking interval.
type Cadence int

const (
	// Monthly chunks, used by the fixed-format report archive.
	Monthly Cadence = iota
	// Daily chunks, used by the CSV tabular service.
	Daily
)

// Periods enumerates the chunk period starts spanning [start, end].
func (c Cadence) Periods(start, end time.Time) []time.Time {
	start = start.UTC()
	end = end.UTC()
	var out []time.Time
	switch c {
	case Monthly:
		t := time.Date(start.Year(), start.Month(), 1, 0, 0, 0, 0, time.UTC)
		for !t.After(end) {
			out = append(out, t)
			t = t.AddDate(0, 1, 0)
		}
	case Daily:
		t := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, time.UTC)
		for !t.After(end) {
			out = append(out, t)
			t = t.AddDate(0, 0, 1)
		}
	}
	return out
}

// Stamp formats a period start for cache file names.
func (c Cadence) Stamp(t time.Time) string {
	if c == Monthly {
		return t.Format("200601")
	}
	return t.Format("20060102")
}

// Source abstracts one upstream data provider: where a station's chunk
// for a period lives, and how its raw text decodes into rows. Decoded
// chunks may carry lat/lon columns; the aggregator strips them into
// station metadata later.
type Source interface {
	Name() string
	Cadence() Cadence
	ChunkURL(station string, period time.Time) string
	DecodeChunk(station string, period time.Time, raw string) (*table.Series, error)
}

// ChunkFields is the column set decoded chunks produce.
var ChunkFields = append(append([]table.Field(nil), table.ObservedFields...),
	table.FieldLat, table.FieldLon)
