// Package aggregate builds per-station hourly series across a station
// set and joins them into one multi-station result.
package aggregate

import (
	"context"
	"log"
	"math/rand"
	"sync"
	"time"

	"github.com/mzy2240/cloudside/internal/metrics"
	"github.com/mzy2240/cloudside/internal/series"
	"github.com/mzy2240/cloudside/internal/stations"
	"github.com/mzy2240/cloudside/internal/table"
)

// SeriesBuilder produces one station's raw series over a date range.
type SeriesBuilder interface {
	Build(ctx context.Context, station string, start, end time.Time) (*table.Series, series.Status)
}

// DropPolicy randomly skips stations before any download happens, used
// to thin out very large station sets. A nil Rand falls back to the
// shared source.
type DropPolicy struct {
	Rate float64
	Rand *rand.Rand
}

// Drop reports whether the next station should be skipped.
func (p DropPolicy) Drop() bool {
	if p.Rate <= 0 {
		return false
	}
	if p.Rand != nil {
		return p.Rand.Float64() < p.Rate
	}
	return rand.Float64() < p.Rate
}

// Options control one aggregation pass.
type Options struct {
	Start time.Time
	End   time.Time
	Drop  DropPolicy
	// MissingThreshold disqualifies stations whose fraction of absent
	// cells reaches it. The fraction is measured over the observed
	// rows, before gaps from hourly resampling are counted. The zero
	// value means 1.0: only fully empty stations are removed.
	MissingThreshold float64
	// Concurrency bounds simultaneous station builds. Zero or negative
	// means sequential.
	Concurrency int
}

func (o Options) missingThreshold() float64 {
	if o.MissingThreshold <= 0 {
		return 1.0
	}
	return o.MissingThreshold
}

// StationMeta is the sidecar coordinate record kept per surviving
// station.
type StationMeta struct {
	Lat *float64
	Lon *float64
}

// Result holds the surviving stations in their original order, each
// with an hourly resampled series and coordinate metadata. Degraded is
// set by later stages that had to stop augmenting.
type Result struct {
	Order    []string
	Series   map[string]*table.Series
	Meta     map[string]StationMeta
	Degraded bool
}

// Empty reports whether no station survived.
func (r *Result) Empty() bool { return len(r.Order) == 0 }

// Single reports whether exactly one station survived; its series is
// returned bare rather than joined.
func (r *Result) Single() (*table.Series, bool) {
	if len(r.Order) != 1 {
		return nil, false
	}
	return r.Series[r.Order[0]], true
}

// Wide joins the surviving stations into one station-keyed table.
func (r *Result) Wide() (*table.Wide, error) {
	return table.Join(r.Order, r.Series)
}

// Remove drops a station from the result, keeping order, series and
// metadata consistent.
func (r *Result) Remove(station string) {
	for i, id := range r.Order {
		if id == station {
			r.Order = append(r.Order[:i], r.Order[i+1:]...)
			break
		}
	}
	delete(r.Series, station)
	delete(r.Meta, station)
}

// Aggregator runs station builds and qualification.
type Aggregator struct {
	builder SeriesBuilder
	metrics *metrics.Collector
}

// NewAggregator wires a station series builder. collector may be nil.
func NewAggregator(builder SeriesBuilder, collector *metrics.Collector) *Aggregator {
	return &Aggregator{builder: builder, metrics: collector}
}

// Run builds every station in stas over [opts.Start, opts.End],
// disqualifying sampled-out, missing, bad and too-sparse stations, and
// returns the survivors in input order. Coordinates found in the data
// rows override metadata coordinates and are stripped into Meta.
func (a *Aggregator) Run(ctx context.Context, stas []stations.Station, opts Options) *Result {
	res := &Result{
		Series: make(map[string]*table.Series, len(stas)),
		Meta:   make(map[string]StationMeta, len(stas)),
	}

	kept := make([]stations.Station, 0, len(stas))
	for _, sta := range stas {
		if opts.Drop.Drop() {
			log.Printf("DEBUG: station %s sampled out", sta.ID)
			a.countDrop("sampled")
			continue
		}
		kept = append(kept, sta)
	}

	type built struct {
		station stations.Station
		s       *table.Series
		status  series.Status
	}
	out := make([]built, len(kept))

	limit := opts.Concurrency
	if limit <= 0 {
		limit = 1
	}
	var wg sync.WaitGroup
	sem := make(chan struct{}, limit)
	for i, sta := range kept {
		i, sta := i, sta
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			s, status := a.builder.Build(ctx, sta.ID, opts.Start, opts.End)
			out[i] = built{station: sta, s: s, status: status}
		}()
	}
	wg.Wait()

	threshold := opts.missingThreshold()
	for _, b := range out {
		if b.status != series.StatusOK {
			log.Printf("DEBUG: station %s dropped, build status %s", b.station.ID, b.status)
			a.countDrop(string(b.status))
			continue
		}
		s := b.s
		meta := StationMeta{Lat: b.station.Lat, Lon: b.station.Lon}
		if lat := s.FirstValue(table.FieldLat); lat != nil {
			meta.Lat = lat
		}
		if lon := s.FirstValue(table.FieldLon); lon != nil {
			meta.Lon = lon
		}
		s = s.WithoutColumns(table.FieldLat, table.FieldLon)
		s.FloorHours()
		s = s.GroupLast()
		if frac := s.MissingFraction(); frac >= threshold {
			log.Printf("DEBUG: station %s dropped, %.0f%% of cells missing", b.station.ID, frac*100)
			a.countDrop("missing")
			continue
		}
		s = s.ResampleHourly(opts.Start, opts.End)

		res.Order = append(res.Order, b.station.ID)
		res.Series[b.station.ID] = s
		res.Meta[b.station.ID] = meta
	}
	return res
}

func (a *Aggregator) countDrop(reason string) {
	if a.metrics != nil {
		a.metrics.StationsDroppedTotal.WithLabelValues(reason).Inc()
	}
}
