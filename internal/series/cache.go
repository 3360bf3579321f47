package series

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/mzy2240/cloudside/internal/table"
)

// Cache steps. Raw holds upstream payloads verbatim, flat holds decoded
// per-chunk row tables so re-runs skip both download and parse.
const (
	stepRaw  = "raw"
	stepFlat = "flat"
)

var validSteps = map[string]string{
	stepRaw:  ".dat",
	stepFlat: ".csv",
}

// Cache lays chunk files out as
// <root>/<station>/<source>/<step>/<station>_<stamp>.<ext>.
type Cache struct {
	root string
}

// NewCache returns a cache rooted at dir. An empty dir disables caching.
func NewCache(dir string) *Cache {
	return &Cache{root: dir}
}

func (c *Cache) enabled() bool { return c != nil && c.root != "" }

func (c *Cache) path(station, source, step, stamp string) (string, error) {
	ext, ok := validSteps[step]
	if !ok {
		return "", fmt.Errorf("cache: unknown step %q", step)
	}
	if station == "" || source == "" {
		return "", fmt.Errorf("cache: empty station or source name")
	}
	for _, part := range []string{station, source} {
		if strings.ContainsAny(part, `/\`) || part == "." || part == ".." {
			return "", fmt.Errorf("cache: invalid path component %q", part)
		}
	}
	dir := filepath.Join(c.root, station, source, step)
	return filepath.Join(dir, fmt.Sprintf("%s_%s%s", station, stamp, ext)), nil
}

// ReadRaw returns the cached upstream payload for a chunk, if present.
func (c *Cache) ReadRaw(station, source, stamp string) (string, bool) {
	if !c.enabled() {
		return "", false
	}
	p, err := c.path(station, source, stepRaw, stamp)
	if err != nil {
		return "", false
	}
	b, err := os.ReadFile(p)
	if err != nil {
		return "", false
	}
	return string(b), true
}

// WriteRaw stores an upstream payload for later runs.
func (c *Cache) WriteRaw(station, source, stamp, body string) error {
	if !c.enabled() {
		return nil
	}
	p, err := c.path(station, source, stepRaw, stamp)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}
	return os.WriteFile(p, []byte(body), 0o644)
}

// ReadFlat loads a previously decoded chunk, short-circuiting both the
// download and the parse.
func (c *Cache) ReadFlat(station, source, stamp string) (*table.Series, bool) {
	if !c.enabled() {
		return nil, false
	}
	p, err := c.path(station, source, stepFlat, stamp)
	if err != nil {
		return nil, false
	}
	f, err := os.Open(p)
	if err != nil {
		return nil, false
	}
	defer f.Close()
	s, err := decodeFlat(f)
	if err != nil {
		return nil, false
	}
	return s, true
}

// WriteFlat stores a decoded chunk.
func (c *Cache) WriteFlat(station, source, stamp string, s *table.Series) error {
	if !c.enabled() {
		return nil
	}
	p, err := c.path(station, source, stepFlat, stamp)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}
	f, err := os.Create(p)
	if err != nil {
		return err
	}
	if err := encodeFlat(f, s); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func encodeFlat(w *os.File, s *table.Series) error {
	cw := csv.NewWriter(w)
	header := []string{"time"}
	for _, f := range s.Fields() {
		header = append(header, string(f))
	}
	if err := cw.Write(header); err != nil {
		return err
	}
	times := s.Times()
	for i := range times {
		rec := []string{times[i].UTC().Format(time.RFC3339)}
		for _, f := range s.Fields() {
			v := s.Cell(i, f)
			if v == nil {
				rec = append(rec, "")
			} else {
				rec = append(rec, strconv.FormatFloat(*v, 'g', -1, 64))
			}
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func decodeFlat(f *os.File) (*table.Series, error) {
	cr := csv.NewReader(f)
	recs, err := cr.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, fmt.Errorf("cache: empty flat file")
	}
	header := recs[0]
	if len(header) < 1 || header[0] != "time" {
		return nil, fmt.Errorf("cache: malformed flat header")
	}
	fields := make([]table.Field, 0, len(header)-1)
	for _, h := range header[1:] {
		fields = append(fields, table.Field(h))
	}
	s := table.NewSeries(fields)
	for _, rec := range recs[1:] {
		t, err := time.Parse(time.RFC3339, rec[0])
		if err != nil {
			return nil, fmt.Errorf("cache: bad timestamp %q: %w", rec[0], err)
		}
		vals := make(map[table.Field]*float64, len(fields))
		for i, fld := range fields {
			cell := rec[i+1]
			if cell == "" {
				continue
			}
			v, err := strconv.ParseFloat(cell, 64)
			if err != nil {
				return nil, fmt.Errorf("cache: bad value %q: %w", cell, err)
			}
			vals[fld] = table.Float(v)
		}
		s.Append(t.UTC(), vals)
	}
	return s, nil
}
