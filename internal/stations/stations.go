// Package stations resolves the set of observation sites a run covers,
// either from network metadata published by the mesonet archive or from
// a plain station list file.
package stations

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/kelvins/geocoder"
)

// Station is one observation site. Coordinates are nil until known,
// either from network metadata or from the geocoding fallback.
type Station struct {
	ID   string
	Name string
	Lat  *float64
	Lon  *float64
}

// Fetcher downloads a metadata document.
type Fetcher interface {
	Fetch(ctx context.Context, uri string) (string, bool)
}

// DefaultNetworkURLPattern locates a network's geojson metadata. The
// single %s receives the network identifier.
const DefaultNetworkURLPattern = "https://mesonet.agron.iastate.edu/geojson/network/%s.geojson"

// Lister pulls station inventories out of network metadata.
type Lister struct {
	fetcher    Fetcher
	urlPattern string
}

// NewLister wires a fetcher to the metadata endpoint. urlPattern may be
// empty to use the default.
func NewLister(fetcher Fetcher, urlPattern string) *Lister {
	if urlPattern == "" {
		urlPattern = DefaultNetworkURLPattern
	}
	return &Lister{fetcher: fetcher, urlPattern: urlPattern}
}

type networkDocument struct {
	Features []struct {
		Geometry struct {
			Coordinates []float64 `json:"coordinates"`
		} `json:"geometry"`
		Properties struct {
			SID   string `json:"sid"`
			SName string `json:"sname"`
		} `json:"properties"`
	} `json:"features"`
}

// FromNetworks lists every station in the ASOS networks of the given
// whitespace-separated state codes, e.g. "TX" or "TX OK NM".
func (l *Lister) FromNetworks(ctx context.Context, states string) ([]Station, error) {
	var out []Station
	for _, state := range strings.Fields(states) {
		network := fmt.Sprintf("%s_ASOS", strings.ToUpper(state))
		uri := fmt.Sprintf(l.urlPattern, network)
		body, ok := l.fetcher.Fetch(ctx, uri)
		if !ok {
			return nil, fmt.Errorf("stations: metadata for network %s unavailable", network)
		}
		var doc networkDocument
		if err := json.Unmarshal([]byte(body), &doc); err != nil {
			return nil, fmt.Errorf("stations: decoding network %s metadata: %w", network, err)
		}
		for _, f := range doc.Features {
			sta := Station{ID: f.Properties.SID, Name: f.Properties.SName}
			if len(f.Geometry.Coordinates) >= 2 {
				lon, lat := f.Geometry.Coordinates[0], f.Geometry.Coordinates[1]
				sta.Lon = &lon
				sta.Lat = &lat
			}
			out = append(out, sta)
		}
	}
	return out, nil
}

// FromFile reads one station identifier per line. Blank lines and lines
// starting with # are skipped.
func FromFile(path string) ([]Station, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("stations: opening list file: %w", err)
	}
	defer f.Close()

	var out []Station
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		id := strings.TrimSpace(sc.Text())
		if id == "" || strings.HasPrefix(id, "#") {
			continue
		}
		out = append(out, Station{ID: id})
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("stations: reading list file: %w", err)
	}
	return out, nil
}

// Resolver fills in coordinates for stations whose metadata carried
// none, using an external geocoding service.
type Resolver struct {
	enabled bool
}

// NewResolver configures the geocoding fallback. An empty API key
// disables it.
func NewResolver(apiKey string) *Resolver {
	if apiKey == "" {
		return &Resolver{}
	}
	geocoder.ApiKey = apiKey
	return &Resolver{enabled: true}
}

// Resolve backfills missing coordinates in place. Stations that still
// cannot be located keep nil coordinates; callers decide whether that
// disqualifies them.
func (r *Resolver) Resolve(stations []Station, state string) {
	if r == nil || !r.enabled {
		return
	}
	for i := range stations {
		sta := &stations[i]
		if sta.Lat != nil && sta.Lon != nil {
			continue
		}
		name := sta.Name
		if name == "" {
			name = sta.ID
		}
		loc, err := geocoder.Geocoding(geocoder.Address{
			City:    name,
			State:   state,
			Country: "USA",
		})
		if err != nil {
			log.Printf("ERROR: geocoding station %s: %v", sta.ID, err)
			continue
		}
		lat, lon := loc.Latitude, loc.Longitude
		sta.Lat = &lat
		sta.Lon = &lon
	}
}
