package irradiance

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/skypies/geo"

	"github.com/mzy2240/cloudside/internal/aggregate"
	"github.com/mzy2240/cloudside/internal/metrics"
	"github.com/mzy2240/cloudside/internal/table"
)

// sampleStride halves the archive's native half-hourly resolution down
// to the hourly grid the station series use.
const sampleStride = 2

// Augmenter splices irradiance columns onto an aggregation result.
type Augmenter struct {
	grid    GridSource
	metrics *metrics.Collector
}

// NewAugmenter wires a grid source. collector may be nil.
func NewAugmenter(grid GridSource, collector *metrics.Collector) *Augmenter {
	return &Augmenter{grid: grid, metrics: collector}
}

// Augment adds an irradiance column to every surviving station in res.
// Stations without coordinates, or farther from their nearest grid
// point than the source's distance threshold, are removed from the
// result entirely, as are stations whose sample count does not line up
// with their series length. A quota rejection stops augmentation and
// marks the result degraded, keeping the series built so far.
func (a *Augmenter) Augment(ctx context.Context, res *aggregate.Result, start time.Time) error {
	if res.Empty() {
		return nil
	}
	coords, err := a.grid.Coordinates(ctx)
	if err != nil {
		return a.quotaOrErr(res, err, "loading grid coordinates")
	}
	if len(coords) == 0 {
		return fmt.Errorf("irradiance: grid has no coordinates")
	}

	threshold := a.grid.DistanceThresholdKM()
	var keptStations []string
	var gids []int
	for _, station := range append([]string(nil), res.Order...) {
		meta := res.Meta[station]
		if meta.Lat == nil || meta.Lon == nil {
			log.Printf("DEBUG: station %s removed, no coordinates for grid lookup", station)
			res.Remove(station)
			a.countDrop("geo")
			continue
		}
		gid, dist := nearest(coords, geo.Latlong{Lat: *meta.Lat, Long: *meta.Lon})
		if dist > threshold {
			log.Printf("DEBUG: station %s removed, %.1f km from nearest grid point (threshold %.1f)", station, dist, threshold)
			res.Remove(station)
			a.countDrop("geo")
			continue
		}
		keptStations = append(keptStations, station)
		gids = append(gids, gid)
	}
	if len(keptStations) == 0 {
		return nil
	}

	index, err := a.grid.TimeIndex(ctx)
	if err != nil {
		return a.quotaOrErr(res, err, "loading grid time index")
	}
	// Every surviving series shares the same hourly grid, so the slice
	// bound comes from the series length: the last sampled index is
	// lo + stride*(rows-1), and the half-open bound sits one past it.
	rows := res.Series[keptStations[0]].Len()
	lo := searchTime(index, start)
	hi := lo + sampleStride*(rows-1) + 1
	if hi > len(index) {
		hi = len(index)
	}

	data, err := a.grid.Samples(ctx, string(table.FieldIrradiance), lo, hi, sampleStride, gids)
	if err != nil {
		return a.quotaOrErr(res, err, "sampling irradiance")
	}

	for i, station := range keptStations {
		s := res.Series[station]
		col := make([]*float64, len(data))
		for row := range data {
			if i >= len(data[row]) {
				col = nil
				break
			}
			col[row] = table.Float(data[row][i])
		}
		if col == nil || len(col) != s.Len() {
			log.Printf("DEBUG: station %s removed, %d irradiance samples for %d rows", station, len(data), s.Len())
			res.Remove(station)
			a.countDrop("misaligned")
			continue
		}
		if err := s.SetColumn(table.FieldIrradiance, col); err != nil {
			res.Remove(station)
			a.countDrop("misaligned")
		}
	}
	return nil
}

// quotaOrErr converts quota rejections into a degraded result and
// passes every other error through.
func (a *Augmenter) quotaOrErr(res *aggregate.Result, err error, doing string) error {
	if errors.Is(err, ErrQuotaExceeded) {
		log.Printf("ERROR: %s: %v, keeping series without irradiance", doing, err)
		res.Degraded = true
		if a.metrics != nil {
			a.metrics.QuotaAbortsTotal.Inc()
		}
		return nil
	}
	return fmt.Errorf("irradiance: %s: %w", doing, err)
}

func nearest(coords []geo.Latlong, p geo.Latlong) (int, float64) {
	best := 0
	bestDist := p.DistKM(coords[0])
	for i := 1; i < len(coords); i++ {
		if d := p.DistKM(coords[i]); d < bestDist {
			best = i
			bestDist = d
		}
	}
	return best, bestDist
}

// searchTime returns the first index whose timestamp is not before t.
func searchTime(index []time.Time, t time.Time) int {
	return sort.Search(len(index), func(i int) bool {
		return !index[i].Before(t)
	})
}

func (a *Augmenter) countDrop(reason string) {
	if a.metrics != nil {
		a.metrics.StationsDroppedTotal.WithLabelValues(reason).Inc()
	}
}
