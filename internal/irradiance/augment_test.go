package irradiance

import (
	"context"
	"testing"
	"time"

	"github.com/skypies/geo"

	"github.com/mzy2240/cloudside/internal/aggregate"
	"github.com/mzy2240/cloudside/internal/table"
)

type fakeGrid struct {
	coords    []geo.Latlong
	times     []time.Time
	threshold float64
	// values holds one row per time index, one cell per grid point.
	values    [][]float64
	sampleErr error

	gotLo, gotHi, gotStride int
	gotGids                 []int
}

func (f *fakeGrid) Coordinates(ctx context.Context) ([]geo.Latlong, error) { return f.coords, nil }
func (f *fakeGrid) TimeIndex(ctx context.Context) ([]time.Time, error)     { return f.times, nil }
func (f *fakeGrid) DistanceThresholdKM() float64                           { return f.threshold }

func (f *fakeGrid) Samples(ctx context.Context, field string, lo, hi, stride int, gids []int) ([][]float64, error) {
	f.gotLo, f.gotHi, f.gotStride, f.gotGids = lo, hi, stride, gids
	if f.sampleErr != nil {
		return nil, f.sampleErr
	}
	var out [][]float64
	for i := lo; i < hi && i < len(f.values); i += stride {
		row := make([]float64, 0, len(gids))
		for _, g := range gids {
			row = append(row, f.values[i][g])
		}
		out = append(out, row)
	}
	return out, nil
}

var augStart = time.Date(2020, 6, 1, 0, 0, 0, 0, time.UTC)

func hourlySeries(n int) *table.Series {
	s := table.NewSeries([]table.Field{table.FieldTemperature})
	for i := 0; i < n; i++ {
		s.Append(augStart.Add(time.Duration(i)*time.Hour), map[table.Field]*float64{
			table.FieldTemperature: table.Float(25),
		})
	}
	return s
}

func resultWith(stations map[string][2]float64, rows int) *aggregate.Result {
	res := &aggregate.Result{
		Series: make(map[string]*table.Series),
		Meta:   make(map[string]aggregate.StationMeta),
	}
	// Deterministic order for assertions.
	for _, id := range []string{"AMA", "LBB", "MAF"} {
		ll, ok := stations[id]
		if !ok {
			continue
		}
		lat, lon := ll[0], ll[1]
		res.Order = append(res.Order, id)
		res.Series[id] = hourlySeries(rows)
		res.Meta[id] = aggregate.StationMeta{Lat: &lat, Lon: &lon}
	}
	return res
}

func halfHourly(n int) []time.Time {
	out := make([]time.Time, n)
	for i := range out {
		out[i] = augStart.Add(time.Duration(i) * 30 * time.Minute)
	}
	return out
}

func TestAugmentSplicesIrradianceColumn(t *testing.T) {
	grid := &fakeGrid{
		coords:    []geo.Latlong{{Lat: 35.2, Long: -101.7}, {Lat: 33.6, Long: -101.8}},
		times:     halfHourly(6),
		threshold: 50,
		values: [][]float64{
			{512, 430}, {506, 420}, {500, 410}, {494, 400}, {488, 390}, {482, 380},
		},
	}
	res := resultWith(map[string][2]float64{
		"AMA": {35.2194, -101.7057},
		"LBB": {33.6636, -101.8227},
	}, 2)

	if err := NewAugmenter(grid, nil).Augment(context.Background(), res, augStart); err != nil {
		t.Fatalf("Augment: %v", err)
	}
	if grid.gotStride != 2 {
		t.Fatalf("stride = %d, want 2", grid.gotStride)
	}
	if len(grid.gotGids) != 2 || grid.gotGids[0] != 0 || grid.gotGids[1] != 1 {
		t.Fatalf("gids = %v, want nearest grid points [0 1]", grid.gotGids)
	}
	if grid.gotLo != 0 || grid.gotHi != 3 {
		t.Fatalf("slice = [%d:%d], want [0:3]", grid.gotLo, grid.gotHi)
	}
	s := res.Series["AMA"]
	if v := s.Cell(0, table.FieldIrradiance); v == nil || *v != 512 {
		t.Fatalf("AMA irradiance[0] = %v, want 512", v)
	}
	if v := res.Series["LBB"].Cell(1, table.FieldIrradiance); v == nil || *v != 410 {
		t.Fatalf("LBB irradiance[1] = %v, want 410", v)
	}
	if res.Degraded {
		t.Fatal("successful augmentation marked degraded")
	}
}

func TestAugmentRemovesDistantStations(t *testing.T) {
	grid := &fakeGrid{
		coords:    []geo.Latlong{{Lat: 35.2, Long: -101.7}},
		times:     halfHourly(6),
		threshold: 5,
		values:    [][]float64{{512}, {506}, {500}, {494}, {488}, {482}},
	}
	res := resultWith(map[string][2]float64{
		"AMA": {35.2194, -101.7057},
		"LBB": {33.6636, -101.8227}, // ~180 km from the only grid point
	}, 2)

	if err := NewAugmenter(grid, nil).Augment(context.Background(), res, augStart); err != nil {
		t.Fatalf("Augment: %v", err)
	}
	if len(res.Order) != 1 || res.Order[0] != "AMA" {
		t.Fatalf("order = %v, want distant LBB removed", res.Order)
	}
	if _, ok := res.Meta["LBB"]; ok {
		t.Fatal("removed station metadata kept")
	}
}

func TestAugmentRemovesStationsWithoutCoordinates(t *testing.T) {
	grid := &fakeGrid{
		coords:    []geo.Latlong{{Lat: 35.2, Long: -101.7}},
		times:     halfHourly(6),
		threshold: 50,
		values:    [][]float64{{512}, {506}, {500}, {494}, {488}, {482}},
	}
	res := resultWith(map[string][2]float64{"AMA": {35.2194, -101.7057}}, 2)
	res.Order = append(res.Order, "MAF")
	res.Series["MAF"] = hourlySeries(2)
	res.Meta["MAF"] = aggregate.StationMeta{}

	if err := NewAugmenter(grid, nil).Augment(context.Background(), res, augStart); err != nil {
		t.Fatalf("Augment: %v", err)
	}
	if len(res.Order) != 1 || res.Order[0] != "AMA" {
		t.Fatalf("order = %v, want coordinate-less MAF removed", res.Order)
	}
}

func TestAugmentRemovesMisalignedStations(t *testing.T) {
	// The archive only covers one index, so two hourly rows cannot be
	// filled.
	grid := &fakeGrid{
		coords:    []geo.Latlong{{Lat: 35.2, Long: -101.7}},
		times:     halfHourly(1),
		threshold: 50,
		values:    [][]float64{{512}},
	}
	res := resultWith(map[string][2]float64{"AMA": {35.2194, -101.7057}}, 2)

	if err := NewAugmenter(grid, nil).Augment(context.Background(), res, augStart); err != nil {
		t.Fatalf("Augment: %v", err)
	}
	if !res.Empty() {
		t.Fatalf("order = %v, want misaligned station removed", res.Order)
	}
}

func TestAugmentCoversFullDayWindow(t *testing.T) {
	values := make([][]float64, 50)
	for i := range values {
		values[i] = []float64{float64(i)}
	}
	grid := &fakeGrid{
		coords:    []geo.Latlong{{Lat: 35.2, Long: -101.7}},
		times:     halfHourly(50),
		threshold: 50,
		values:    values,
	}
	// A day-long run resamples to 25 hourly rows, midnight to midnight
	// inclusive.
	res := resultWith(map[string][2]float64{"AMA": {35.2194, -101.7057}}, 25)

	if err := NewAugmenter(grid, nil).Augment(context.Background(), res, augStart); err != nil {
		t.Fatalf("Augment: %v", err)
	}
	if len(res.Order) != 1 || res.Order[0] != "AMA" {
		t.Fatalf("order = %v, want station kept over a full day", res.Order)
	}
	if grid.gotLo != 0 || grid.gotHi != 49 {
		t.Fatalf("slice = [%d:%d], want [0:49]", grid.gotLo, grid.gotHi)
	}
	s := res.Series["AMA"]
	if v := s.Cell(24, table.FieldIrradiance); v == nil || *v != 48 {
		t.Fatalf("last irradiance cell = %v, want 48", v)
	}
}

func TestAugmentQuotaKeepsSeriesAndDegrades(t *testing.T) {
	grid := &fakeGrid{
		coords:    []geo.Latlong{{Lat: 35.2, Long: -101.7}},
		times:     halfHourly(6),
		threshold: 50,
		sampleErr: ErrQuotaExceeded,
	}
	res := resultWith(map[string][2]float64{"AMA": {35.2194, -101.7057}}, 2)

	if err := NewAugmenter(grid, nil).Augment(context.Background(), res, augStart); err != nil {
		t.Fatalf("Augment: %v", err)
	}
	if !res.Degraded {
		t.Fatal("quota rejection did not mark the result degraded")
	}
	if len(res.Order) != 1 {
		t.Fatalf("order = %v, want station kept without irradiance", res.Order)
	}
	for _, f := range res.Series["AMA"].Fields() {
		if f == table.FieldIrradiance {
			t.Fatal("irradiance column added despite quota rejection")
		}
	}
}

func TestAugmentEmptyResultIsNoop(t *testing.T) {
	res := &aggregate.Result{
		Series: map[string]*table.Series{},
		Meta:   map[string]aggregate.StationMeta{},
	}
	if err := NewAugmenter(&fakeGrid{}, nil).Augment(context.Background(), res, augStart); err != nil {
		t.Fatalf("Augment: %v", err)
	}
}
