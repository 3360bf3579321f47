package sources

import (
	"encoding/csv"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/mzy2240/cloudside/internal/metar"
	"github.com/mzy2240/cloudside/internal/series"
	"github.com/mzy2240/cloudside/internal/table"
)

// DefaultIEMBaseURL is the tabular download endpoint of the mesonet
// archive.
const DefaultIEMBaseURL = "https://mesonet.agron.iastate.edu/cgi-bin/request/asos.py"

// iemColumns are the observation columns requested from the service, in
// request order.
var iemColumns = []string{"tmpf", "dwpf", "drct", "sped", "skyc1", "p01i", "alti"}

// IEM serves comma-separated daily extracts with a five-line comment
// preamble. Missing and trace values arrive as the literal "null", and
// each row carries the station's coordinates.
type IEM struct {
	base string
}

// NewIEM returns the tabular source. baseURL may be empty to use the
// default.
func NewIEM(baseURL string) *IEM {
	if baseURL == "" {
		baseURL = DefaultIEMBaseURL
	}
	return &IEM{base: baseURL}
}

func (m *IEM) Name() string            { return "iem" }
func (m *IEM) Cadence() series.Cadence { return series.Daily }

// ChunkURL requests one UTC day of observations for a station.
func (m *IEM) ChunkURL(station string, period time.Time) string {
	day := time.Date(period.Year(), period.Month(), period.Day(), 0, 0, 0, 0, time.UTC)
	next := day.AddDate(0, 0, 1)

	q := url.Values{}
	for _, c := range iemColumns {
		q.Add("data", c)
	}
	q.Set("tz", "UTC")
	q.Set("format", "comma")
	q.Set("latlon", "yes")
	q.Set("missing", "null")
	q.Set("trace", "null")
	q.Set("year1", strconv.Itoa(day.Year()))
	q.Set("month1", strconv.Itoa(int(day.Month())))
	q.Set("day1", strconv.Itoa(day.Day()))
	q.Set("hour1", "0")
	q.Set("year2", strconv.Itoa(next.Year()))
	q.Set("month2", strconv.Itoa(int(next.Month())))
	q.Set("day2", strconv.Itoa(next.Day()))
	q.Set("hour2", "0")
	q.Set("station", station)
	return m.base + "?" + q.Encode()
}

// preambleLines is the comment header the service prepends to every
// extract.
const preambleLines = 5

// DecodeChunk reads the CSV payload past its preamble. Columns are
// located by header name so field order changes upstream stay harmless.
func (m *IEM) DecodeChunk(station string, period time.Time, raw string) (*table.Series, error) {
	body := skipLines(raw, preambleLines)
	cr := csv.NewReader(strings.NewReader(body))
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err == io.EOF {
		return table.NewSeries(series.ChunkFields), nil
	}
	if err != nil {
		return nil, fmt.Errorf("iem: reading header: %w", err)
	}
	col := make(map[string]int, len(header))
	for i, h := range header {
		col[strings.TrimSpace(h)] = i
	}
	timeIdx, ok := col["valid"]
	if !ok {
		return nil, fmt.Errorf("iem: payload missing valid column")
	}

	out := table.NewSeries(series.ChunkFields)
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("iem: reading record: %w", err)
		}
		if timeIdx >= len(rec) {
			continue
		}
		at, err := time.Parse("2006-01-02 15:04", strings.TrimSpace(rec[timeIdx]))
		if err != nil {
			continue
		}
		out.Append(at.UTC(), map[table.Field]*float64{
			table.FieldTemperature:   iemValue(rec, col, "tmpf"),
			table.FieldDewPoint:      iemValue(rec, col, "dwpf"),
			table.FieldWindDirection: iemValue(rec, col, "drct"),
			table.FieldWindSpeed:     iemValue(rec, col, "sped"),
			table.FieldCloudCover:    iemCover(rec, col),
			table.FieldPrecip:        iemValue(rec, col, "p01i"),
			table.FieldPressure:      iemValue(rec, col, "alti"),
			table.FieldLat:           iemValue(rec, col, "lat"),
			table.FieldLon:           iemValue(rec, col, "lon"),
		})
	}
	return out, nil
}

func skipLines(s string, n int) string {
	for i := 0; i < n; i++ {
		idx := strings.IndexByte(s, '\n')
		if idx < 0 {
			return ""
		}
		s = s[idx+1:]
	}
	return s
}

func iemValue(rec []string, col map[string]int, name string) *float64 {
	i, ok := col[name]
	if !ok || i >= len(rec) {
		return nil
	}
	cell := strings.TrimSpace(rec[i])
	if cell == "" || cell == "null" || cell == "M" {
		return nil
	}
	v, err := strconv.ParseFloat(cell, 64)
	if err != nil {
		return nil
	}
	return table.Float(v)
}

func iemCover(rec []string, col map[string]int) *float64 {
	i, ok := col["skyc1"]
	if !ok || i >= len(rec) {
		return nil
	}
	code := strings.TrimSpace(rec[i])
	if code == "" || code == "null" || code == "M" {
		return nil
	}
	frac, ok := metar.CoverFraction(code)
	if !ok {
		return nil
	}
	return table.Float(frac)
}
