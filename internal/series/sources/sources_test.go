package sources

import (
	"strings"
	"testing"
	"time"

	"github.com/mzy2240/cloudside/internal/table"
)

func pad(prefix string, width int) string {
	if len(prefix) >= width {
		return prefix[:width]
	}
	return prefix + strings.Repeat(" ", width-len(prefix))
}

// asosLine builds a fixed-width archive line carrying a timestamp at the
// documented offsets and a coded report after the 5-MIN marker.
func asosLine(t *testing.T, at time.Time, report string) string {
	t.Helper()
	line := make([]byte, 42)
	for i := range line {
		line[i] = ' '
	}
	copy(line[0:13], pad("24229KABI ABI", 13))
	copy(line[13:17], at.Format("2006"))
	copy(line[17:19], at.Format("01"))
	copy(line[19:21], at.Format("02"))
	copy(line[37:39], at.Format("15"))
	line[39] = ':'
	copy(line[40:42], at.Format("04"))
	return string(line) + " 5-MIN " + report
}

func TestASOSChunkURL(t *testing.T) {
	src := NewASOS("", nil)
	got := src.ChunkURL("KABI", time.Date(2020, 6, 1, 0, 0, 0, 0, time.UTC))
	want := DefaultASOSBaseURL + "/6401-2020/64010KABI202006.dat"
	if got != want {
		t.Fatalf("url = %q, want %q", got, want)
	}
}

func TestASOSDecodeChunk(t *testing.T) {
	period := time.Date(2020, 6, 1, 0, 0, 0, 0, time.UTC)
	lines := []string{
		asosLine(t, period.Add(5*time.Minute), "KABI 010005Z 24016KT 10SM BKN025 28/23 A3002"),
		"short garbage line",
		asosLine(t, period.Add(10*time.Minute), "KABI 010010Z 24014KT 10SM OVC030 27/22 A3003"),
	}
	src := NewASOS("", nil)
	s, err := src.DecodeChunk("KABI", period, strings.Join(lines, "\n"))
	if err != nil {
		t.Fatalf("DecodeChunk: %v", err)
	}
	if s.Len() != 2 {
		t.Fatalf("len = %d, want 2 (garbage line skipped)", s.Len())
	}
	if v := s.Cell(0, table.FieldTemperature); v == nil || *v != 28 {
		t.Fatalf("temperature = %v, want 28", v)
	}
	if v := s.Cell(0, table.FieldCloudCover); v == nil || *v != 0.75 {
		t.Fatalf("cloud cover = %v, want 0.75", v)
	}
	if v := s.Cell(1, table.FieldCloudCover); v == nil || *v != 1.0 {
		t.Fatalf("cloud cover = %v, want 1.0", v)
	}
	if v := s.Cell(0, table.FieldLat); v != nil {
		t.Fatalf("lat = %v, want nil (archive carries no coordinates)", v)
	}
}

func TestProcessPrecipDifferencesCumulativeTotals(t *testing.T) {
	base := time.Date(2020, 6, 1, 10, 0, 0, 0, time.UTC)
	var times []time.Time
	for i := 0; i < 6; i++ {
		times = append(times, base.Add(time.Duration(i)*5*time.Minute))
	}
	// Counter accumulates through the hour, then resets at minute 25.
	p1 := []float64{0.01, 0.03, 0.06, 0.06, 0.10, 0.02}

	got := processPrecip(times, p1)
	want := []float64{0.01, 0.02, 0.03, 0.00, 0.04, 0.02}
	for i := range want {
		if diff := got[i] - want[i]; diff > 1e-9 || diff < -1e-9 {
			t.Fatalf("precip[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestProcessPrecipPassesThroughAfterGaps(t *testing.T) {
	times := []time.Time{
		time.Date(2020, 6, 1, 10, 0, 0, 0, time.UTC),
		time.Date(2020, 6, 1, 10, 30, 0, 0, time.UTC),
	}
	p1 := []float64{0.01, 0.05}
	got := processPrecip(times, p1)
	if got[1] != 0.05 {
		t.Fatalf("precip after gap = %v, want pass-through 0.05", got[1])
	}
}

func TestIEMChunkURL(t *testing.T) {
	src := NewIEM("")
	got := src.ChunkURL("AMA", time.Date(2020, 6, 1, 12, 0, 0, 0, time.UTC))
	for _, frag := range []string{
		"data=tmpf", "data=skyc1", "tz=UTC", "format=comma",
		"missing=null", "trace=null", "latlon=yes",
		"year1=2020", "month1=6", "day1=1", "hour1=0",
		"year2=2020", "month2=6", "day2=2", "hour2=0",
		"station=AMA",
	} {
		if !strings.Contains(got, frag) {
			t.Fatalf("url %q missing %q", got, frag)
		}
	}
}

func TestIEMDecodeChunk(t *testing.T) {
	raw := strings.Join([]string{
		"#DEBUG: preamble 1",
		"#DEBUG: preamble 2",
		"#DEBUG: preamble 3",
		"#DEBUG: preamble 4",
		"#DEBUG: preamble 5",
		"station,valid,lon,lat,tmpf,dwpf,drct,sped,skyc1,p01i,alti",
		"AMA,2020-06-01 10:15,-101.7057,35.2194,82.4,55.0,240.0,12.7,SCT,null,30.02",
		"AMA,2020-06-01 10:35,-101.7057,35.2194,null,56.1,250.0,11.5,OVC,0.01,30.01",
	}, "\n")

	src := NewIEM("")
	s, err := src.DecodeChunk("AMA", time.Date(2020, 6, 1, 0, 0, 0, 0, time.UTC), raw)
	if err != nil {
		t.Fatalf("DecodeChunk: %v", err)
	}
	if s.Len() != 2 {
		t.Fatalf("len = %d, want 2", s.Len())
	}
	want := time.Date(2020, 6, 1, 10, 15, 0, 0, time.UTC)
	if !s.Times()[0].Equal(want) {
		t.Fatalf("time = %s, want %s", s.Times()[0], want)
	}
	if v := s.Cell(0, table.FieldTemperature); v == nil || *v != 82.4 {
		t.Fatalf("temperature = %v, want 82.4", v)
	}
	if v := s.Cell(1, table.FieldTemperature); v != nil {
		t.Fatalf("temperature = %v, want nil for null cell", v)
	}
	if v := s.Cell(0, table.FieldCloudCover); v == nil || *v != 0.4375 {
		t.Fatalf("cloud cover = %v, want 0.4375", v)
	}
	if v := s.Cell(1, table.FieldCloudCover); v == nil || *v != 1.0 {
		t.Fatalf("cloud cover = %v, want 1.0", v)
	}
	if v := s.Cell(0, table.FieldLat); v == nil || *v != 35.2194 {
		t.Fatalf("lat = %v, want 35.2194", v)
	}
	if v := s.Cell(0, table.FieldPressure); v == nil || *v != 30.02 {
		t.Fatalf("pressure = %v, want 30.02", v)
	}
}

func TestIEMDecodeEmptyPayload(t *testing.T) {
	src := NewIEM("")
	s, err := src.DecodeChunk("AMA", time.Date(2020, 6, 1, 0, 0, 0, 0, time.UTC), "nothing here")
	if err != nil {
		t.Fatalf("DecodeChunk: %v", err)
	}
	if s.Len() != 0 {
		t.Fatalf("len = %d, want 0", s.Len())
	}
}
