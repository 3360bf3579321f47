package series

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/mzy2240/cloudside/internal/table"
)

type fakeSource struct {
	name    string
	cadence Cadence
	chunks  map[string]*table.Series
}

func (f *fakeSource) Name() string     { return f.name }
func (f *fakeSource) Cadence() Cadence { return f.cadence }

func (f *fakeSource) ChunkURL(station string, period time.Time) string {
	return fmt.Sprintf("https://example.test/%s/%s", station, f.cadence.Stamp(period))
}

func (f *fakeSource) DecodeChunk(station string, period time.Time, raw string) (*table.Series, error) {
	s := table.NewSeries(ChunkFields)
	for _, line := range strings.Split(strings.TrimSpace(raw), "\n") {
		if line == "" {
			continue
		}
		parts := strings.Split(line, ",")
		at, err := time.Parse(time.RFC3339, parts[0])
		if err != nil {
			return nil, err
		}
		v, err := strconv.ParseFloat(parts[1], 64)
		if err != nil {
			return nil, err
		}
		s.Append(at, map[table.Field]*float64{table.FieldTemperature: table.Float(v)})
	}
	return s, nil
}

type fakeFetcher struct {
	bodies map[string]string
	calls  int
}

func (f *fakeFetcher) Fetch(ctx context.Context, uri string) (string, bool) {
	f.calls++
	body, ok := f.bodies[uri]
	return body, ok
}

func TestBuildKeepsLastIngestedDuplicate(t *testing.T) {
	src := &fakeSource{name: "fake", cadence: Daily}
	ff := &fakeFetcher{bodies: map[string]string{
		"https://example.test/KABI/20200601": "2020-06-01T10:00:00Z,20\n2020-06-01T11:00:00Z,21\n",
		"https://example.test/KABI/20200602": "2020-06-01T11:00:00Z,25\n2020-06-02T10:00:00Z,22\n",
	}}
	b := NewBuilder(src, ff, nil, nil)

	start := time.Date(2020, 6, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2020, 6, 2, 0, 0, 0, 0, time.UTC)
	s, status := b.Build(context.Background(), "KABI", start, end)
	if status != StatusOK {
		t.Fatalf("status = %q, want %q", status, StatusOK)
	}
	if s.Len() != 3 {
		t.Fatalf("len = %d, want 3", s.Len())
	}
	at := time.Date(2020, 6, 1, 11, 0, 0, 0, time.UTC)
	for i, ts := range s.Times() {
		if !ts.Equal(at) {
			continue
		}
		v := s.Cell(i, table.FieldTemperature)
		if v == nil || *v != 25 {
			t.Fatalf("duplicate row value = %v, want 25 (corrected record wins)", v)
		}
		return
	}
	t.Fatalf("timestamp %s missing from built series", at)
}

func TestBuildReportsMissingWhenNothingDownloads(t *testing.T) {
	src := &fakeSource{name: "fake", cadence: Daily}
	b := NewBuilder(src, &fakeFetcher{bodies: map[string]string{}}, nil, nil)

	day := time.Date(2020, 6, 1, 0, 0, 0, 0, time.UTC)
	s, status := b.Build(context.Background(), "KABI", day, day)
	if status != StatusMissing {
		t.Fatalf("status = %q, want %q", status, StatusMissing)
	}
	if s.Len() != 0 {
		t.Fatalf("len = %d, want 0", s.Len())
	}
}

func TestBuildReportsBadWhenDataDecodesEmpty(t *testing.T) {
	src := &fakeSource{name: "fake", cadence: Daily}
	ff := &fakeFetcher{bodies: map[string]string{
		"https://example.test/KABI/20200601": "\n",
	}}
	b := NewBuilder(src, ff, nil, nil)

	day := time.Date(2020, 6, 1, 0, 0, 0, 0, time.UTC)
	_, status := b.Build(context.Background(), "KABI", day, day)
	if status != StatusBad {
		t.Fatalf("status = %q, want %q", status, StatusBad)
	}
}

func TestBuildShortCircuitsOnFlatCache(t *testing.T) {
	src := &fakeSource{name: "fake", cadence: Daily}
	ff := &fakeFetcher{bodies: map[string]string{
		"https://example.test/KABI/20200601": "2020-06-01T10:00:00Z,20\n",
	}}
	cache := NewCache(t.TempDir())
	day := time.Date(2020, 6, 1, 0, 0, 0, 0, time.UTC)

	first, status := NewBuilder(src, ff, cache, nil).Build(context.Background(), "KABI", day, day)
	if status != StatusOK || ff.calls != 1 {
		t.Fatalf("first build: status=%q calls=%d", status, ff.calls)
	}

	second, status := NewBuilder(src, ff, cache, nil).Build(context.Background(), "KABI", day, day)
	if status != StatusOK {
		t.Fatalf("second build status = %q", status)
	}
	if ff.calls != 1 {
		t.Fatalf("second build fetched %d times, want flat-file short circuit", ff.calls-1)
	}
	if second.Len() != first.Len() {
		t.Fatalf("cached rebuild len = %d, want %d", second.Len(), first.Len())
	}
	v := second.Cell(0, table.FieldTemperature)
	if v == nil || *v != 20 {
		t.Fatalf("cached value = %v, want 20", v)
	}
}

func TestCadencePeriodsAndStamps(t *testing.T) {
	start := time.Date(2020, 11, 15, 6, 0, 0, 0, time.UTC)
	end := time.Date(2021, 1, 10, 0, 0, 0, 0, time.UTC)

	months := Monthly.Periods(start, end)
	if len(months) != 3 {
		t.Fatalf("monthly periods = %d, want 3", len(months))
	}
	stamps := []string{
		Monthly.Stamp(months[0]), Monthly.Stamp(months[1]), Monthly.Stamp(months[2]),
	}
	want := []string{"202011", "202012", "202101"}
	for i := range want {
		if stamps[i] != want[i] {
			t.Fatalf("stamp[%d] = %q, want %q", i, stamps[i], want[i])
		}
	}

	days := Daily.Periods(start, start.AddDate(0, 0, 2))
	if len(days) != 3 {
		t.Fatalf("daily periods = %d, want 3", len(days))
	}
	if got := Daily.Stamp(days[0]); got != "20201115" {
		t.Fatalf("daily stamp = %q, want 20201115", got)
	}
}

func TestCacheRejectsPathTraversal(t *testing.T) {
	cache := NewCache(t.TempDir())
	if err := cache.WriteRaw("../evil", "fake", "20200601", "x"); err == nil {
		t.Fatal("expected error for traversing station name")
	}
	if _, err := cache.path("KABI", "fake", "unknown-step", "20200601"); err == nil {
		t.Fatal("expected error for unknown step")
	}
}
