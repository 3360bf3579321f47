// Package sources holds the upstream data providers the series builder
// draws from.
package sources

import (
	"bufio"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/mzy2240/cloudside/internal/metar"
	"github.com/mzy2240/cloudside/internal/metrics"
	"github.com/mzy2240/cloudside/internal/series"
	"github.com/mzy2240/cloudside/internal/table"
)

// DefaultASOSBaseURL is the public five-minute report archive.
const DefaultASOSBaseURL = "https://www.ncei.noaa.gov/pub/data/asos-fivemin"

// ASOS serves monthly files of five-minute surface reports. Each line
// carries a fixed-position timestamp followed by a standard coded
// report; precipitation arrives as within-hour cumulative totals that
// need differencing back to per-interval amounts.
type ASOS struct {
	base    string
	metrics *metrics.Collector
}

// NewASOS returns the archive source. baseURL may be empty to use the
// default; collector may be nil.
func NewASOS(baseURL string, collector *metrics.Collector) *ASOS {
	if baseURL == "" {
		baseURL = DefaultASOSBaseURL
	}
	return &ASOS{base: strings.TrimRight(baseURL, "/"), metrics: collector}
}

func (a *ASOS) Name() string            { return "asos" }
func (a *ASOS) Cadence() series.Cadence { return series.Monthly }

// ChunkURL points at 6401-<year>/64010<station><year><month>.dat.
func (a *ASOS) ChunkURL(station string, period time.Time) string {
	return fmt.Sprintf("%s/6401-%d/64010%s%d%02d.dat",
		a.base, period.Year(), station, period.Year(), int(period.Month()))
}

// Fixed column offsets of the timestamp embedded in each archive line.
const (
	asosYearLo   = 13
	asosYearHi   = 17
	asosMonthLo  = 17
	asosMonthHi  = 19
	asosDayLo    = 19
	asosDayHi    = 21
	asosHourLo   = 37
	asosHourHi   = 39
	asosMinuteLo = 40
	asosMinuteHi = 42
)

// reportMarker separates the archive line prefix from the coded report.
const reportMarker = " 5-MIN "

// DecodeChunk parses every line of a monthly archive file. Lines whose
// timestamps cannot be sliced out are skipped; report decode failures
// still yield a row with whatever groups did parse.
func (a *ASOS) DecodeChunk(station string, period time.Time, raw string) (*table.Series, error) {
	parser := metar.NewParser(period)
	out := table.NewSeries(series.ChunkFields)

	var times []time.Time
	var rains []float64

	sc := bufio.NewScanner(strings.NewReader(raw))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Text()
		at, ok := asosLineTime(line)
		if !ok {
			continue
		}
		report := line
		if idx := strings.Index(line, reportMarker); idx >= 0 {
			report = line[idx+len(reportMarker):]
		}
		obs := parser.Parse(report)
		if a.metrics != nil {
			a.metrics.ObservationsParsedTotal.Inc()
			if n := len(obs.UnparsedGroups) + len(obs.UnparsedRemarks); n > 0 {
				a.metrics.ParseDiagnosticsTotal.Add(float64(n))
			}
		}

		rain := 0.0
		if obs.Precip1h != nil {
			rain = *obs.Precip1h
		}
		times = append(times, at)
		rains = append(rains, rain)

		out.Append(at, map[table.Field]*float64{
			table.FieldTemperature:   obs.Temperature,
			table.FieldDewPoint:      obs.DewPoint,
			table.FieldWindSpeed:     obs.WindSpeed,
			table.FieldWindDirection: obs.WindDir,
			table.FieldPressure:      obs.Pressure,
			table.FieldCloudCover:    obs.MaxCover(),
		})
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("asos: scanning chunk: %w", err)
	}
	if out.Len() == 0 {
		return out, nil
	}

	precip := processPrecip(times, rains)
	cells := make([]*float64, len(precip))
	for i := range precip {
		cells[i] = table.Float(precip[i])
	}
	if err := out.SetColumn(table.FieldPrecip, cells); err != nil {
		return nil, err
	}
	return out, nil
}

func asosLineTime(line string) (time.Time, bool) {
	if len(line) < asosMinuteHi {
		return time.Time{}, false
	}
	yr, err1 := strconv.Atoi(strings.TrimSpace(line[asosYearLo:asosYearHi]))
	mo, err2 := strconv.Atoi(strings.TrimSpace(line[asosMonthLo:asosMonthHi]))
	da, err3 := strconv.Atoi(strings.TrimSpace(line[asosDayLo:asosDayHi]))
	hr, err4 := strconv.Atoi(strings.TrimSpace(line[asosHourLo:asosHourHi]))
	mi, err5 := strconv.Atoi(strings.TrimSpace(line[asosMinuteLo:asosMinuteHi]))
	for _, err := range []error{err1, err2, err3, err4, err5} {
		if err != nil {
			return time.Time{}, false
		}
	}
	if mo < 1 || mo > 12 || da < 1 || da > 31 || hr > 23 || mi > 59 {
		return time.Time{}, false
	}
	return time.Date(yr, time.Month(mo), da, hr, mi, 0, 0, time.UTC), true
}

// determineResetTime finds the minute within the hour at which the
// cumulative precipitation counter most often resets, judged over a
// whole chunk.
func determineResetTime(times []time.Time, precip []float64) int {
	var bins [12]float64
	for n := 1; n < len(times); n++ {
		if precip[n] < precip[n-1] {
			bins[times[n].Minute()/5]++
		}
	}
	best := 0
	for i := range bins {
		if bins[i] > bins[best] {
			best = i
		}
	}
	return best * 5
}

// processPrecip converts cumulative within-hour precipitation to
// per-interval totals. Values at the reset minute, decreases, and rows
// following a gap in the five-minute spacing pass through unchanged.
func processPrecip(times []time.Time, p1 []float64) []float64 {
	rt := determineResetTime(times, p1)
	p2 := make([]float64, len(p1))
	if len(p1) == 0 {
		return p2
	}
	p2[0] = p1[0]
	for n := 1; n < len(p1); n++ {
		step := times[n].Sub(times[n-1])
		if p1[n] < p1[n-1] || times[n].Minute() == rt || step != 5*time.Minute {
			p2[n] = p1[n]
		} else {
			p2[n] = p1[n] - p1[n-1]
		}
	}
	return p2
}
