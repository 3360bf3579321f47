// Package pipeline orchestrates a complete acquisition run: resolve the
// station set, build and qualify per-station series, splice irradiance,
// and publish the export archive.
package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/mzy2240/cloudside/internal/aggregate"
	"github.com/mzy2240/cloudside/internal/export"
	"github.com/mzy2240/cloudside/internal/irradiance"
	"github.com/mzy2240/cloudside/internal/metrics"
	"github.com/mzy2240/cloudside/internal/stations"
)

// RunStatus is a run's lifecycle state.
type RunStatus string

const (
	StatusPending   RunStatus = "pending"
	StatusRunning   RunStatus = "running"
	StatusSucceeded RunStatus = "succeeded"
	StatusFailed    RunStatus = "failed"
)

// RunParams describe one acquisition request. Either States or Stations
// must be set; when both are, the explicit station list wins.
type RunParams struct {
	// States is a whitespace-separated list of state codes whose ASOS
	// networks supply the station set.
	States string
	// Stations is an explicit station id list.
	Stations []string
	Start    time.Time
	End      time.Time
	// Source names the series source to build from.
	Source string
	// Irradiance requests grid augmentation.
	Irradiance bool
}

// RunSummary captures what survived a run.
type RunSummary struct {
	RequestedStations int      `json:"requested_stations"`
	KeptStations      int      `json:"kept_stations"`
	DroppedStations   int      `json:"dropped_stations"`
	Stations          []string `json:"stations"`
}

// Run is one pipeline execution and its outcome.
type Run struct {
	ID         string
	CreatedAt  time.Time
	FinishedAt time.Time
	Status     RunStatus
	Degraded   bool
	Params     RunParams
	Summary    RunSummary
	Archive    []byte
	Err        string
}

// GridFactory returns an irradiance source for the archive year. A nil
// factory disables augmentation even when a run requests it.
type GridFactory func(year int) irradiance.GridSource

// Options tune run behaviour.
type Options struct {
	DropRate              float64
	MissingThreshold      float64
	Concurrency           int
	Sentinel              float64
	CategoricalCloudCover bool
}

// Service runs the pipeline and records run outcomes.
type Service struct {
	store    *RunStore
	lister   *stations.Lister
	resolver *stations.Resolver
	builders map[string]aggregate.SeriesBuilder
	grid     GridFactory
	metrics  *metrics.Collector
	opts     Options
}

// NewService wires the pipeline stages together. resolver, grid and
// collector may be nil.
func NewService(store *RunStore, lister *stations.Lister, resolver *stations.Resolver,
	builders map[string]aggregate.SeriesBuilder, grid GridFactory,
	collector *metrics.Collector, opts Options) *Service {
	return &Service{
		store:    store,
		lister:   lister,
		resolver: resolver,
		builders: builders,
		grid:     grid,
		metrics:  collector,
		opts:     opts,
	}
}

// Sources lists the series sources the service can build from.
func (s *Service) Sources() []string {
	out := make([]string, 0, len(s.builders))
	for name := range s.builders {
		out = append(out, name)
	}
	return out
}

// Submit registers a run and executes it in the background.
func (s *Service) Submit(params RunParams) (*Run, error) {
	if err := s.checkParams(params); err != nil {
		return nil, err
	}
	run := &Run{
		ID:        uuid.New().String(),
		CreatedAt: time.Now().UTC(),
		Status:    StatusPending,
		Params:    params,
	}
	// The goroutine keeps mutating run; the caller gets its own copy,
	// taken before the goroutine starts.
	s.store.Save(snapshot(run))
	accepted := snapshot(run)
	go func() {
		s.execute(context.Background(), run)
	}()
	return accepted, nil
}

// Execute runs synchronously and returns the finished run. Used by the
// scheduler and by callers that want to block.
func (s *Service) Execute(ctx context.Context, params RunParams) (*Run, error) {
	if err := s.checkParams(params); err != nil {
		return nil, err
	}
	run := &Run{
		ID:        uuid.New().String(),
		CreatedAt: time.Now().UTC(),
		Status:    StatusPending,
		Params:    params,
	}
	s.store.Save(snapshot(run))
	s.execute(ctx, run)
	return s.store.Get(run.ID)
}

// Get returns a recorded run.
func (s *Service) Get(id string) (*Run, error) { return s.store.Get(id) }

// Latest returns the most recently submitted run.
func (s *Service) Latest() (*Run, error) { return s.store.Latest() }

// List returns all retained runs, oldest first.
func (s *Service) List() []*Run { return s.store.List() }

func (s *Service) checkParams(params RunParams) error {
	if params.Start.IsZero() || params.End.IsZero() || params.End.Before(params.Start) {
		return fmt.Errorf("pipeline: invalid date range")
	}
	if params.States == "" && len(params.Stations) == 0 {
		return fmt.Errorf("pipeline: no states or stations given")
	}
	if _, ok := s.builders[params.Source]; !ok {
		return fmt.Errorf("pipeline: unknown source %q", params.Source)
	}
	return nil
}

func (s *Service) execute(ctx context.Context, run *Run) {
	started := time.Now()
	run.Status = StatusRunning
	s.store.Save(snapshot(run))
	log.Printf("DEBUG: run %s started, source=%s range=%s..%s",
		run.ID, run.Params.Source, run.Params.Start.Format("2006-01-02"), run.Params.End.Format("2006-01-02"))

	err := s.run(ctx, run)

	run.FinishedAt = time.Now().UTC()
	if err != nil {
		run.Status = StatusFailed
		run.Err = err.Error()
		log.Printf("ERROR: run %s failed: %v", run.ID, err)
	} else {
		run.Status = StatusSucceeded
		log.Printf("DEBUG: run %s finished, kept %d of %d stations",
			run.ID, run.Summary.KeptStations, run.Summary.RequestedStations)
	}
	s.store.Save(snapshot(run))
	if s.metrics != nil {
		s.metrics.RunDuration.Observe(time.Since(started).Seconds())
	}
}

func (s *Service) run(ctx context.Context, run *Run) error {
	params := run.Params

	var stas []stations.Station
	if len(params.Stations) > 0 {
		for _, id := range params.Stations {
			stas = append(stas, stations.Station{ID: id})
		}
	} else {
		listed, err := s.lister.FromNetworks(ctx, params.States)
		if err != nil {
			return err
		}
		stas = listed
	}
	s.resolver.Resolve(stas, params.States)
	run.Summary.RequestedStations = len(stas)

	agg := aggregate.NewAggregator(s.builders[params.Source], s.metrics)
	res := agg.Run(ctx, stas, aggregate.Options{
		Start:            params.Start,
		End:              params.End,
		Drop:             aggregate.DropPolicy{Rate: s.opts.DropRate},
		MissingThreshold: s.opts.MissingThreshold,
		Concurrency:      s.opts.Concurrency,
	})

	if params.Irradiance && s.grid != nil && !res.Empty() {
		aug := irradiance.NewAugmenter(s.grid(params.Start.Year()), s.metrics)
		if err := aug.Augment(ctx, res, params.Start); err != nil {
			return err
		}
	}

	run.Degraded = res.Degraded
	run.Summary.KeptStations = len(res.Order)
	run.Summary.DroppedStations = run.Summary.RequestedStations - len(res.Order)
	run.Summary.Stations = append([]string(nil), res.Order...)
	if res.Empty() {
		return fmt.Errorf("pipeline: no station survived qualification")
	}

	var buf bytes.Buffer
	if err := export.WriteArchive(&buf, res, export.Options{
		Sentinel:              s.opts.Sentinel,
		CategoricalCloudCover: s.opts.CategoricalCloudCover,
	}); err != nil {
		return err
	}
	run.Archive = buf.Bytes()
	return nil
}

// snapshot copies a run so stored state never races with the executing
// goroutine.
func snapshot(run *Run) *Run {
	c := *run
	c.Summary.Stations = append([]string(nil), run.Summary.Stations...)
	return &c
}
