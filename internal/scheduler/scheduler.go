package scheduler

import (
	"context"
	"log"
	"time"

	"github.com/go-co-op/gocron"

	"github.com/mzy2240/cloudside/internal/pipeline"
)

// Refresh describes the recurring acquisition the scheduler performs:
// the configured station set over a rolling window ending now.
type Refresh struct {
	States     string
	Stations   []string
	Source     string
	Irradiance bool
	// Window is how far back each refresh reaches.
	Window time.Duration
}

func (r Refresh) enabled() bool {
	return r.States != "" || len(r.Stations) > 0
}

// Scheduler periodically re-runs the pipeline for the configured
// station set.
type Scheduler struct {
	scheduler *gocron.Scheduler
	service   *pipeline.Service
	refresh   Refresh
	interval  time.Duration
}

// New creates a new Scheduler.
func New(refresh Refresh, interval time.Duration, service *pipeline.Service) *Scheduler {
	s := gocron.NewScheduler(time.UTC)
	return &Scheduler{
		scheduler: s,
		service:   service,
		refresh:   refresh,
		interval:  interval,
	}
}

// Start schedules the periodic job and starts the underlying scheduler.
func (s *Scheduler) Start() error {
	if !s.refresh.enabled() {
		log.Println("scheduler: no refresh station set configured; nothing to schedule")
		return nil
	}

	minutes := int(s.interval.Minutes())
	if minutes <= 0 {
		minutes = 60
	}

	_, err := s.scheduler.Every(minutes).Minutes().Do(func() {
		log.Println("scheduler: running refresh job")

		end := time.Now().UTC().Truncate(time.Hour)
		window := s.refresh.Window
		if window <= 0 {
			window = 24 * time.Hour
		}

		ctx, cancel := context.WithTimeout(context.Background(), time.Duration(minutes)*time.Minute)
		defer cancel()

		run, err := s.service.Execute(ctx, pipeline.RunParams{
			States:     s.refresh.States,
			Stations:   s.refresh.Stations,
			Start:      end.Add(-window),
			End:        end,
			Source:     s.refresh.Source,
			Irradiance: s.refresh.Irradiance,
		})
		if err != nil {
			log.Printf("scheduler: refresh failed: %v", err)
			return
		}
		log.Printf("scheduler: completed refresh run %s, status %s", run.ID, run.Status)
	})
	if err != nil {
		return err
	}

	s.scheduler.StartAsync()
	return nil
}

// Stop stops the scheduler and cancels any future jobs.
func (s *Scheduler) Stop() {
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
}
