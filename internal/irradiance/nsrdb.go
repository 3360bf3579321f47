// Package irradiance joins solar radiation samples from a gridded
// archive onto station series by nearest grid point.
package irradiance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/skypies/geo"
)

// ErrQuotaExceeded means the archive refused further requests for the
// current API key. The pipeline treats it as a degraded run, not a
// failure.
var ErrQuotaExceeded = errors.New("irradiance: request quota exceeded")

// GridSource is a gridded irradiance archive: fixed grid point
// coordinates, a fixed time index, and bulk sampling of one field over
// a timestep slice for a set of grid point ids.
type GridSource interface {
	Coordinates(ctx context.Context) ([]geo.Latlong, error)
	TimeIndex(ctx context.Context) ([]time.Time, error)
	DistanceThresholdKM() float64
	// Samples returns rows indexed by timestep, columns following the
	// order of gids.
	Samples(ctx context.Context, field string, lo, hi, stride int, gids []int) ([][]float64, error)
}

// DefaultHSDSEndpoint is the public highly scalable data service proxy
// in front of the solar radiation database.
const DefaultHSDSEndpoint = "https://developer.nrel.gov/api/hsds"

// DefaultFilePattern names the archive domain for a year. The %d
// receives the year.
const DefaultFilePattern = "/nrel/nsrdb/v3/nsrdb_%d.h5"

// DefaultDistanceThresholdKM disqualifies stations too far from any
// grid point.
const DefaultDistanceThresholdKM = 5.0

// HSDSClient reads one year's archive domain over the data service's
// REST API.
type HSDSClient struct {
	http        *http.Client
	endpoint    string
	apiKey      string
	domain      string
	distanceKM  float64
	rootID      string
	datasetIDs  map[string]string
	coordinates []geo.Latlong
	timeIndex   []time.Time
}

// HSDSOptions configure an HSDSClient. Zero values use defaults; APIKey
// is required.
type HSDSOptions struct {
	Endpoint            string
	APIKey              string
	FilePattern         string
	DistanceThresholdKM float64
	HTTPClient          *http.Client
}

// NewHSDSClient returns a client for the archive domain of year.
func NewHSDSClient(year int, opts HSDSOptions) *HSDSClient {
	if opts.Endpoint == "" {
		opts.Endpoint = DefaultHSDSEndpoint
	}
	if opts.FilePattern == "" {
		opts.FilePattern = DefaultFilePattern
	}
	if opts.DistanceThresholdKM <= 0 {
		opts.DistanceThresholdKM = DefaultDistanceThresholdKM
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 120 * time.Second}
	}
	return &HSDSClient{
		http:       opts.HTTPClient,
		endpoint:   strings.TrimRight(opts.Endpoint, "/"),
		apiKey:     opts.APIKey,
		domain:     fmt.Sprintf(opts.FilePattern, year),
		distanceKM: opts.DistanceThresholdKM,
		datasetIDs: make(map[string]string),
	}
}

func (c *HSDSClient) DistanceThresholdKM() float64 { return c.distanceKM }

// getJSON issues one GET with retry. Throttling and auth rejections are
// quota conditions and stop the retry loop immediately.
func (c *HSDSClient) getJSON(ctx context.Context, path string, query url.Values, out interface{}) error {
	if query == nil {
		query = url.Values{}
	}
	query.Set("domain", c.domain)
	if c.apiKey != "" {
		query.Set("api_key", c.apiKey)
	}
	uri := c.endpoint + path + "?" + query.Encode()

	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Accept", "application/json")
		resp, err := c.http.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		switch {
		case resp.StatusCode == http.StatusTooManyRequests,
			resp.StatusCode == http.StatusForbidden:
			return backoff.Permanent(ErrQuotaExceeded)
		case resp.StatusCode >= 500:
			return fmt.Errorf("irradiance: %s returned %d", path, resp.StatusCode)
		case resp.StatusCode != http.StatusOK:
			return backoff.Permanent(fmt.Errorf("irradiance: %s returned %d", path, resp.StatusCode))
		}
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		if err := json.Unmarshal(body, out); err != nil {
			return backoff.Permanent(fmt.Errorf("irradiance: decoding %s response: %w", path, err))
		}
		return nil
	}
	return backoff.Retry(op, backoff.WithContext(backoff.NewExponentialBackOff(), ctx))
}

func (c *HSDSClient) root(ctx context.Context) (string, error) {
	if c.rootID != "" {
		return c.rootID, nil
	}
	var doc struct {
		Root string `json:"root"`
	}
	if err := c.getJSON(ctx, "/", nil, &doc); err != nil {
		return "", err
	}
	if doc.Root == "" {
		return "", fmt.Errorf("irradiance: domain %s has no root group", c.domain)
	}
	c.rootID = doc.Root
	return c.rootID, nil
}

func (c *HSDSClient) dataset(ctx context.Context, name string) (string, error) {
	if id, ok := c.datasetIDs[name]; ok {
		return id, nil
	}
	root, err := c.root(ctx)
	if err != nil {
		return "", err
	}
	var doc struct {
		Link struct {
			ID string `json:"id"`
		} `json:"link"`
	}
	if err := c.getJSON(ctx, "/groups/"+root+"/links/"+name, nil, &doc); err != nil {
		return "", err
	}
	if doc.Link.ID == "" {
		return "", fmt.Errorf("irradiance: dataset %s not found in %s", name, c.domain)
	}
	c.datasetIDs[name] = doc.Link.ID
	return doc.Link.ID, nil
}

// Coordinates lists every grid point, cached after the first call.
func (c *HSDSClient) Coordinates(ctx context.Context) ([]geo.Latlong, error) {
	if c.coordinates != nil {
		return c.coordinates, nil
	}
	id, err := c.dataset(ctx, "coordinates")
	if err != nil {
		return nil, err
	}
	var doc struct {
		Value [][]float64 `json:"value"`
	}
	if err := c.getJSON(ctx, "/datasets/"+id+"/value", nil, &doc); err != nil {
		return nil, err
	}
	out := make([]geo.Latlong, 0, len(doc.Value))
	for _, pair := range doc.Value {
		if len(pair) < 2 {
			return nil, fmt.Errorf("irradiance: malformed coordinate row in %s", c.domain)
		}
		out = append(out, geo.Latlong{Lat: pair[0], Long: pair[1]})
	}
	c.coordinates = out
	return out, nil
}

// hsdsTimeLayouts cover the timestamp encodings the archive has used.
var hsdsTimeLayouts = []string{
	"2006-01-02 15:04:05-07:00",
	"2006-01-02T15:04:05-07:00",
	"2006-01-02 15:04:05",
}

// TimeIndex lists the sample timestamps, cached after the first call.
func (c *HSDSClient) TimeIndex(ctx context.Context) ([]time.Time, error) {
	if c.timeIndex != nil {
		return c.timeIndex, nil
	}
	id, err := c.dataset(ctx, "time_index")
	if err != nil {
		return nil, err
	}
	var doc struct {
		Value []string `json:"value"`
	}
	if err := c.getJSON(ctx, "/datasets/"+id+"/value", nil, &doc); err != nil {
		return nil, err
	}
	out := make([]time.Time, 0, len(doc.Value))
	for _, raw := range doc.Value {
		t, err := parseHSDSTime(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	c.timeIndex = out
	return out, nil
}

func parseHSDSTime(raw string) (time.Time, error) {
	for _, layout := range hsdsTimeLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("irradiance: unparseable timestamp %q", raw)
}

// Samples reads field over [lo, hi) with the given timestep stride for
// each grid point id, unscaling stored integers via the dataset's scale
// factor attribute when present.
func (c *HSDSClient) Samples(ctx context.Context, field string, lo, hi, stride int, gids []int) ([][]float64, error) {
	if len(gids) == 0 {
		return nil, nil
	}
	id, err := c.dataset(ctx, field)
	if err != nil {
		return nil, err
	}

	cols := make([]string, len(gids))
	for i, gid := range gids {
		cols[i] = fmt.Sprintf("%d", gid)
	}
	q := url.Values{}
	q.Set("select", fmt.Sprintf("[%d:%d:%d,[%s]]", lo, hi, stride, strings.Join(cols, ",")))

	var doc struct {
		Value [][]float64 `json:"value"`
	}
	if err := c.getJSON(ctx, "/datasets/"+id+"/value", q, &doc); err != nil {
		return nil, err
	}

	scale := c.scaleFactor(ctx, id)
	if scale != 1 {
		for _, row := range doc.Value {
			for i := range row {
				row[i] /= scale
			}
		}
	}
	return doc.Value, nil
}

func (c *HSDSClient) scaleFactor(ctx context.Context, datasetID string) float64 {
	var doc struct {
		Value float64 `json:"value"`
	}
	err := c.getJSON(ctx, "/datasets/"+datasetID+"/attributes/psm_scale_factor", nil, &doc)
	if err != nil || doc.Value == 0 {
		return 1
	}
	return doc.Value
}
