// Package export writes aggregation results as a zip archive of
// per-quantity tables, one column per station.
package export

import (
	"archive/zip"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/mzy2240/cloudside/internal/aggregate"
	"github.com/mzy2240/cloudside/internal/table"
)

// DefaultSentinel replaces absent cells in exported tables.
const DefaultSentinel = -9999

// ArchiveName is the file name the pipeline publishes results under.
const ArchiveName = "weather_data.zip"

// timeHeader labels the timestamp column.
const timeHeader = "Date and Time (UTC, ISO8601 Format)"

// preambleCell is the marker consumers expect in the first cell of the
// first row, above the header.
const preambleCell = "PWOPFTimePoint"

// quantity maps one export file to its source field.
type quantity struct {
	name     string
	field    table.Field
	optional bool
}

var quantities = []quantity{
	{name: "temperature", field: table.FieldTemperature},
	{name: "wind_speed", field: table.FieldWindSpeed},
	{name: "wind_direction", field: table.FieldWindDirection},
	{name: "dew_point", field: table.FieldDewPoint},
	{name: "cloud_coverage", field: table.FieldCloudCover},
	{name: "solar_radiation", field: table.FieldIrradiance, optional: true},
}

// Options adjust archive contents.
type Options struct {
	// Sentinel replaces absent cells. Zero means DefaultSentinel.
	Sentinel float64
	// CategoricalCloudCover re-encodes cloud coverage fractions on the
	// 0..4 categorical scale instead of emitting raw fractions.
	// Indefinite ceilings have no category and fall to the sentinel.
	CategoricalCloudCover bool
}

// cloudCategories maps coverage fractions to the categorical scale.
var cloudCategories = map[float64]float64{
	0.0000: 0,
	0.1785: 1,
	0.4375: 2,
	0.7500: 3,
	1.0000: 4,
}

func (o Options) sentinel() string {
	s := o.Sentinel
	if s == 0 {
		s = DefaultSentinel
	}
	return strconv.FormatFloat(s, 'g', -1, 64)
}

// WriteArchive writes one table file per quantity into a zip stream.
// Station columns carry a K prefix. The irradiance file is skipped
// entirely when no station carries that column.
func WriteArchive(w io.Writer, res *aggregate.Result, opts Options) error {
	if res.Empty() {
		return fmt.Errorf("export: no stations to export")
	}
	zw := zip.NewWriter(w)
	for _, q := range quantities {
		if q.optional && !anyStationHas(res, q.field) {
			continue
		}
		f, err := zw.Create(q.name + ".csv")
		if err != nil {
			return fmt.Errorf("export: creating %s: %w", q.name, err)
		}
		if err := writeQuantity(f, res, q, opts); err != nil {
			return fmt.Errorf("export: writing %s: %w", q.name, err)
		}
	}
	return zw.Close()
}

func anyStationHas(res *aggregate.Result, f table.Field) bool {
	for _, s := range res.Series {
		for _, have := range s.Fields() {
			if have == f {
				return true
			}
		}
	}
	return false
}

func writeQuantity(w io.Writer, res *aggregate.Result, q quantity, opts Options) error {
	sentinel := opts.sentinel()
	cw := csv.NewWriter(w)

	preamble := make([]string, len(res.Order)+1)
	preamble[0] = preambleCell
	if err := cw.Write(preamble); err != nil {
		return err
	}

	header := []string{timeHeader}
	for _, station := range res.Order {
		header = append(header, "K"+station)
	}
	if err := cw.Write(header); err != nil {
		return err
	}

	times := res.Series[res.Order[0]].Times()
	for i, at := range times {
		rec := []string{formatTime(at)}
		for _, station := range res.Order {
			v := res.Series[station].Cell(i, q.field)
			if v != nil && q.field == table.FieldCloudCover && opts.CategoricalCloudCover {
				cat, ok := cloudCategories[*v]
				if !ok {
					v = nil
				} else {
					v = &cat
				}
			}
			if v == nil {
				rec = append(rec, sentinel)
			} else {
				rec = append(rec, strconv.FormatFloat(*v, 'f', 1, 64))
			}
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// formatTime renders a timestamp with millisecond precision and an
// explicit Zulu suffix.
func formatTime(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000") + "Z"
}
