package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/mzy2240/cloudside/internal/aggregate"
	"github.com/mzy2240/cloudside/internal/pipeline"
	"github.com/mzy2240/cloudside/internal/series"
	"github.com/mzy2240/cloudside/internal/table"
)

type okBuilder struct{}

func (okBuilder) Build(ctx context.Context, station string, start, end time.Time) (*table.Series, series.Status) {
	s := table.NewSeries(series.ChunkFields)
	s.Append(start, map[table.Field]*float64{table.FieldTemperature: table.Float(25)})
	return s, series.StatusOK
}

func testApp() (*fiber.App, *pipeline.Service) {
	svc := pipeline.NewService(pipeline.NewRunStore(0, 0), nil, nil,
		map[string]aggregate.SeriesBuilder{"iem": okBuilder{}}, nil, nil, pipeline.Options{})
	app := fiber.New()
	RegisterRoutes(app, svc, nil)
	return app, svc
}

func TestSubmitRunValidation(t *testing.T) {
	app, _ := testApp()

	// Missing date range should return 400.
	body := `{"stations": ["AMA"], "source": "iem"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/runs", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected status %d, got %d", http.StatusBadRequest, resp.StatusCode)
	}

	// Neither states nor stations should also return 400.
	body = `{"start": "2020-06-01", "end": "2020-06-02", "source": "iem"}`
	req = httptest.NewRequest(http.MethodPost, "/api/v1/runs", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err = app.Test(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected status %d, got %d", http.StatusBadRequest, resp.StatusCode)
	}
}

func TestSubmitRunAccepted(t *testing.T) {
	app, _ := testApp()

	body := `{"stations": ["AMA"], "start": "2020-06-01", "end": "2020-06-02", "source": "iem"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/runs", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected status %d, got %d", http.StatusAccepted, resp.StatusCode)
	}

	var got struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if got.ID == "" {
		t.Fatal("response missing run id")
	}
}

func TestGetRunNotFound(t *testing.T) {
	app, _ := testApp()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/runs/does-not-exist", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected status %d, got %d", http.StatusNotFound, resp.StatusCode)
	}
}

func TestLatestRun(t *testing.T) {
	app, svc := testApp()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/runs/latest", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected status %d, got %d", http.StatusNotFound, resp.StatusCode)
	}

	run, err := svc.Execute(context.Background(), pipeline.RunParams{
		Stations: []string{"AMA"},
		Start:    time.Date(2020, 6, 1, 0, 0, 0, 0, time.UTC),
		End:      time.Date(2020, 6, 1, 2, 0, 0, 0, time.UTC),
		Source:   "iem",
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/runs/latest", nil)
	resp, err = app.Test(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, resp.StatusCode)
	}
	var got struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if got.ID != run.ID {
		t.Fatalf("latest run id = %q, want %q", got.ID, run.ID)
	}
}

func TestArchiveDownload(t *testing.T) {
	app, svc := testApp()

	run, err := svc.Execute(context.Background(), pipeline.RunParams{
		Stations: []string{"AMA"},
		Start:    time.Date(2020, 6, 1, 0, 0, 0, 0, time.UTC),
		End:      time.Date(2020, 6, 1, 2, 0, 0, 0, time.UTC),
		Source:   "iem",
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if run.Status != pipeline.StatusSucceeded {
		t.Fatalf("run status = %q (err %q)", run.Status, run.Err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/runs/"+run.ID+"/archive", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/zip" {
		t.Fatalf("content type = %q, want application/zip", ct)
	}
}
