package series

import (
	"context"
	"log"
	"time"

	"github.com/mzy2240/cloudside/internal/metrics"
	"github.com/mzy2240/cloudside/internal/table"
)

// Fetcher downloads one chunk. The boolean reports whether a usable body
// was obtained; exhausted retries yield ("", false) rather than an error.
type Fetcher interface {
	Fetch(ctx context.Context, uri string) (string, bool)
}

// Builder assembles complete per-station series from a chunked source.
type Builder struct {
	source  Source
	fetcher Fetcher
	cache   *Cache
	metrics *metrics.Collector
}

// NewBuilder wires a source to its fetcher and chunk cache. cache and
// collector may be nil.
func NewBuilder(source Source, fetcher Fetcher, cache *Cache, collector *metrics.Collector) *Builder {
	return &Builder{source: source, fetcher: fetcher, cache: cache, metrics: collector}
}

// Build fetches, decodes and concatenates every chunk for station in
// [start, end], then deduplicates corrected duplicate timestamps keeping
// the last ingested row and sorts chronologically. Individual chunk
// failures degrade the result instead of aborting it; the Status tells
// the caller whether anything usable came back.
func (b *Builder) Build(ctx context.Context, station string, start, end time.Time) (*table.Series, Status) {
	out := table.NewSeries(ChunkFields)
	anyRaw := false
	for _, period := range b.source.Cadence().Periods(start, end) {
		if ctx.Err() != nil {
			break
		}
		stamp := b.source.Cadence().Stamp(period)
		if flat, ok := b.cache.ReadFlat(station, b.source.Name(), stamp); ok {
			anyRaw = true
			out.Extend(flat)
			b.countChunk("cached")
			continue
		}
		raw, ok := b.cache.ReadRaw(station, b.source.Name(), stamp)
		if !ok {
			raw, ok = b.fetcher.Fetch(ctx, b.source.ChunkURL(station, period))
			if !ok || raw == "" {
				b.countChunk("missing")
				continue
			}
			if err := b.cache.WriteRaw(station, b.source.Name(), stamp, raw); err != nil {
				log.Printf("ERROR: caching raw chunk %s/%s: %v", station, stamp, err)
			}
		}
		anyRaw = true
		chunk, err := b.source.DecodeChunk(station, period, raw)
		if err != nil || chunk == nil || chunk.Len() == 0 {
			if err != nil {
				log.Printf("ERROR: decoding chunk %s/%s from %s: %v", station, stamp, b.source.Name(), err)
			}
			b.countChunk("bad")
			continue
		}
		if err := b.cache.WriteFlat(station, b.source.Name(), stamp, chunk); err != nil {
			log.Printf("ERROR: caching flat chunk %s/%s: %v", station, stamp, err)
		}
		out.Extend(chunk)
		b.countChunk("decoded")
	}
	out = out.GroupLast()
	switch {
	case out.Len() > 0:
		return out, StatusOK
	case anyRaw:
		return out, StatusBad
	default:
		return out, StatusMissing
	}
}

func (b *Builder) countChunk(status string) {
	if b.metrics != nil {
		b.metrics.ChunksTotal.WithLabelValues(b.source.Name(), status).Inc()
	}
}
