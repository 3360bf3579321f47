package httpapi

import (
	"bytes"
	"errors"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/adaptor/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mzy2240/cloudside/internal/pipeline"
)

var validate = validator.New()

// RegisterRoutes wires the HTTP handlers into the Fiber app.
func RegisterRoutes(app *fiber.App, service *pipeline.Service, registry *prometheus.Registry) {
	v1 := app.Group("/api/v1")

	v1.Post("/runs", func(c *fiber.Ctx) error {
		var req runRequest
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		if err := validate.Struct(req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		params, err := req.toParams()
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		run, err := service.Submit(params)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		return c.Status(fiber.StatusAccepted).JSON(runResponse(run))
	})

	v1.Get("/runs", func(c *fiber.Ctx) error {
		runs := service.List()
		out := make([]fiber.Map, 0, len(runs))
		for _, run := range runs {
			out = append(out, runResponse(run))
		}
		return c.JSON(fiber.Map{"runs": out})
	})

	v1.Get("/runs/latest", func(c *fiber.Ctx) error {
		run, err := service.Latest()
		if err != nil {
			if errors.Is(err, pipeline.ErrNotFound) {
				return fiber.NewError(fiber.StatusNotFound, "no runs recorded yet")
			}
			return fiber.NewError(fiber.StatusInternalServerError, "failed to load run")
		}
		return c.JSON(runResponse(run))
	})

	v1.Get("/runs/:id", func(c *fiber.Ctx) error {
		run, err := service.Get(c.Params("id"))
		if err != nil {
			if errors.Is(err, pipeline.ErrNotFound) {
				return fiber.NewError(fiber.StatusNotFound, "no run with that id")
			}
			return fiber.NewError(fiber.StatusInternalServerError, "failed to load run")
		}
		return c.JSON(runResponse(run))
	})

	v1.Get("/runs/:id/archive", func(c *fiber.Ctx) error {
		run, err := service.Get(c.Params("id"))
		if err != nil {
			if errors.Is(err, pipeline.ErrNotFound) {
				return fiber.NewError(fiber.StatusNotFound, "no run with that id")
			}
			return fiber.NewError(fiber.StatusInternalServerError, "failed to load run")
		}
		if run.Status != pipeline.StatusSucceeded || len(run.Archive) == 0 {
			return fiber.NewError(fiber.StatusNotFound, "run has no archive")
		}
		c.Set(fiber.HeaderContentType, "application/zip")
		c.Set(fiber.HeaderContentDisposition, `attachment; filename="`+run.ID+`.zip"`)
		return c.SendStream(bytes.NewReader(run.Archive), len(run.Archive))
	})

	if registry != nil {
		app.Get("/metrics", adaptor.HTTPHandler(
			promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))
	}
}

// runRequest is the POST /runs body.
type runRequest struct {
	States     string   `json:"states" validate:"required_without=Stations"`
	Stations   []string `json:"stations" validate:"required_without=States"`
	Start      string   `json:"start" validate:"required"`
	End        string   `json:"end" validate:"required"`
	Source     string   `json:"source" validate:"required"`
	Irradiance bool     `json:"irradiance"`
}

func (r runRequest) toParams() (pipeline.RunParams, error) {
	start, err := parseTime(r.Start)
	if err != nil {
		return pipeline.RunParams{}, err
	}
	end, err := parseTime(r.End)
	if err != nil {
		return pipeline.RunParams{}, err
	}
	return pipeline.RunParams{
		States:     r.States,
		Stations:   r.Stations,
		Start:      start,
		End:        end,
		Source:     r.Source,
		Irradiance: r.Irradiance,
	}, nil
}

func runResponse(run *pipeline.Run) fiber.Map {
	out := fiber.Map{
		"id":         run.ID,
		"status":     run.Status,
		"degraded":   run.Degraded,
		"created_at": run.CreatedAt,
		"summary":    run.Summary,
	}
	if !run.FinishedAt.IsZero() {
		out["finished_at"] = run.FinishedAt
	}
	if run.Err != "" {
		out["error"] = run.Err
	}
	return out
}

// parseTime tries RFC3339, a bare date, or Unix seconds.
func parseTime(s string) (time.Time, error) {
	if ts, err := time.Parse(time.RFC3339, s); err == nil {
		return ts, nil
	}
	if ts, err := time.Parse("2006-01-02", s); err == nil {
		return ts.UTC(), nil
	}
	if unix, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(unix, 0).UTC(), nil
	}
	return time.Time{}, errors.New("invalid time format; use RFC3339, YYYY-MM-DD or unix seconds")
}
