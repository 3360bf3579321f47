// Package table holds the tabular time-series types the pipeline is built
// around: a per-station Series and the wide multi-station join. Missing
// values are nil cells, never zeroes.
package table

import (
	"fmt"
	"sort"
	"time"
)

// Field identifies one observed physical quantity. The short names follow
// the upstream ASOS field vocabulary.
type Field string

const (
	FieldTemperature   Field = "tmpf"
	FieldDewPoint      Field = "dwpf"
	FieldWindSpeed     Field = "sped"
	FieldWindDirection Field = "drct"
	FieldCloudCover    Field = "skyc"
	FieldPressure      Field = "pres"
	FieldPrecip        Field = "p01i"
	FieldIrradiance    Field = "ghi"

	// Coordinate columns ride along in decoded chunks and are stripped
	// into StationMeta during aggregation.
	FieldLat Field = "lat"
	FieldLon Field = "lon"
)

// ObservedFields are the quantities every decoded chunk reports.
// FieldIrradiance is only spliced in later by the augmenter.
var ObservedFields = []Field{
	FieldTemperature,
	FieldDewPoint,
	FieldWindSpeed,
	FieldWindDirection,
	FieldCloudCover,
	FieldPressure,
	FieldPrecip,
}

// Float returns a pointer cell for v.
func Float(v float64) *float64 { return &v }

// Series is a time-ordered table for a single station: one timestamp per
// row, one column per field. Cells are nil where no value was observed.
type Series struct {
	fields []Field
	times  []time.Time
	cols   map[Field][]*float64
}

// NewSeries creates an empty series with the given column set.
func NewSeries(fields []Field) *Series {
	cols := make(map[Field][]*float64, len(fields))
	for _, f := range fields {
		cols[f] = nil
	}
	return &Series{fields: append([]Field(nil), fields...), cols: cols}
}

// Fields returns the column set in declaration order.
func (s *Series) Fields() []Field { return s.fields }

// Len returns the number of rows.
func (s *Series) Len() int { return len(s.times) }

// Times returns the row timestamps.
func (s *Series) Times() []time.Time { return s.times }

// Append adds one row. Fields absent from vals become nil cells.
func (s *Series) Append(t time.Time, vals map[Field]*float64) {
	s.times = append(s.times, t)
	for _, f := range s.fields {
		s.cols[f] = append(s.cols[f], vals[f])
	}
}

// Extend appends every row of other. Column sets must match; extra columns
// in other are ignored, columns missing from other become nil cells.
func (s *Series) Extend(other *Series) {
	for i, t := range other.times {
		s.times = append(s.times, t)
		for _, f := range s.fields {
			col, ok := other.cols[f]
			if !ok {
				s.cols[f] = append(s.cols[f], nil)
				continue
			}
			s.cols[f] = append(s.cols[f], col[i])
		}
	}
}

// Column returns the cells for one field, or nil if the field is absent.
func (s *Series) Column(f Field) []*float64 { return s.cols[f] }

// Cell returns the value at (row, field).
func (s *Series) Cell(i int, f Field) *float64 {
	col, ok := s.cols[f]
	if !ok || i >= len(col) {
		return nil
	}
	return col[i]
}

// SetColumn attaches (or replaces) a whole column. The length must match
// the row count exactly; a mismatched column would silently misalign rows.
func (s *Series) SetColumn(f Field, cells []*float64) error {
	if len(cells) != len(s.times) {
		return fmt.Errorf("column %s has %d cells, series has %d rows", f, len(cells), len(s.times))
	}
	if _, ok := s.cols[f]; !ok {
		s.fields = append(s.fields, f)
	}
	s.cols[f] = cells
	return nil
}

// WithoutColumns returns a copy of the series lacking the given columns.
func (s *Series) WithoutColumns(drop ...Field) *Series {
	skip := make(map[Field]bool, len(drop))
	for _, f := range drop {
		skip[f] = true
	}
	kept := make([]Field, 0, len(s.fields))
	for _, f := range s.fields {
		if !skip[f] {
			kept = append(kept, f)
		}
	}
	out := NewSeries(kept)
	out.times = append(out.times, s.times...)
	for _, f := range kept {
		out.cols[f] = append([]*float64(nil), s.cols[f]...)
	}
	return out
}

// FirstValue returns the first non-nil cell of a column.
func (s *Series) FirstValue(f Field) *float64 {
	for _, c := range s.cols[f] {
		if c != nil {
			return c
		}
	}
	return nil
}

// FloorHours truncates every row timestamp to the start of its hour.
func (s *Series) FloorHours() {
	for i, t := range s.times {
		s.times[i] = t.UTC().Truncate(time.Hour)
	}
}

// GroupLast reconciles duplicate timestamps: rows are grouped by timestamp
// and only the last-ingested row per group survives, then the result is
// sorted chronologically. Corrected reports are appended after the originals
// by the upstream QA process, so last-ingested wins.
func (s *Series) GroupLast() *Series {
	last := make(map[time.Time]int, len(s.times))
	for i, t := range s.times {
		last[t] = i
	}
	keys := make([]time.Time, 0, len(last))
	for t := range last {
		keys = append(keys, t)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Before(keys[j]) })

	out := NewSeries(s.fields)
	for _, t := range keys {
		i := last[t]
		row := make(map[Field]*float64, len(s.fields))
		for _, f := range s.fields {
			row[f] = s.cols[f][i]
		}
		out.Append(t, row)
	}
	return out
}

// ResampleHourly re-expresses the series on a strict hourly grid spanning
// [start, end]. Rows are matched by exact timestamp; hours with no source
// row become all-nil rows. No interpolation is performed.
func (s *Series) ResampleHourly(start, end time.Time) *Series {
	start = start.UTC().Truncate(time.Hour)
	end = end.UTC().Truncate(time.Hour)

	index := make(map[time.Time]int, len(s.times))
	for i, t := range s.times {
		index[t] = i
	}

	out := NewSeries(s.fields)
	for t := start; !t.After(end); t = t.Add(time.Hour) {
		row := make(map[Field]*float64, len(s.fields))
		if i, ok := index[t]; ok {
			for _, f := range s.fields {
				row[f] = s.cols[f][i]
			}
		}
		out.Append(t, row)
	}
	return out
}

// MissingFraction reports the fraction of nil cells across all columns.
// An empty series counts as fully missing.
func (s *Series) MissingFraction() float64 {
	if len(s.times) == 0 || len(s.fields) == 0 {
		return 1.0
	}
	total := len(s.times) * len(s.fields)
	missing := 0
	for _, f := range s.fields {
		for _, c := range s.cols[f] {
			if c == nil {
				missing++
			}
		}
	}
	return float64(missing) / float64(total)
}

// ColumnKey addresses one column of a Wide table.
type ColumnKey struct {
	Station string
	Field   Field
}

// Wide is the horizontal concatenation of per-station series, column-keyed
// by (station, field). All joined series must share the same hourly grid.
type Wide struct {
	Times    []time.Time
	Stations []string
	Fields   map[string][]Field
	Columns  map[ColumnKey][]*float64
}

// Join concatenates the series horizontally, preserving the given station
// order. Series must already be resampled onto identical grids.
func Join(order []string, series map[string]*Series) (*Wide, error) {
	w := &Wide{
		Fields:  make(map[string][]Field, len(order)),
		Columns: make(map[ColumnKey][]*float64),
	}
	for _, sta := range order {
		s, ok := series[sta]
		if !ok {
			return nil, fmt.Errorf("no series for station %s", sta)
		}
		if w.Times == nil {
			w.Times = s.times
		} else if len(w.Times) != len(s.times) {
			return nil, fmt.Errorf("station %s has %d rows, grid has %d", sta, len(s.times), len(w.Times))
		}
		w.Stations = append(w.Stations, sta)
		w.Fields[sta] = s.fields
		for _, f := range s.fields {
			w.Columns[ColumnKey{Station: sta, Field: f}] = s.cols[f]
		}
	}
	return w, nil
}
