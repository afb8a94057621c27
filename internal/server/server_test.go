package server

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"pan360/internal/config"
	"pan360/internal/pipeline"
	"pan360/internal/storage"
)

type queueStub struct {
	submitted []pipeline.Job
	submitErr error
}

func (q *queueStub) Submit(job pipeline.Job) error {
	if q.submitErr != nil {
		return q.submitErr
	}
	q.submitted = append(q.submitted, job)
	return nil
}

func (q *queueStub) Subscribe() (<-chan pipeline.Result, func()) {
	ch := make(chan pipeline.Result)
	return ch, func() {}
}

func newTestServer(t *testing.T, queue *queueStub) (*Server, *storage.Store) {
	t.Helper()
	store, err := storage.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("storage.New: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	cfg := config.Server{
		Addr:        ":0",
		UploadDir:   t.TempDir(),
		ResultsDir:  t.TempDir(),
		MaxUploadMB: 64,
	}
	return New(cfg, slog.Default(), queue, store), store
}

func multipartUpload(t *testing.T, frames []string, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	for _, name := range frames {
		fw, err := mw.CreateFormFile("frames", name)
		if err != nil {
			t.Fatal(err)
		}
		fw.Write([]byte("jpegdata"))
	}
	for k, v := range fields {
		mw.WriteField(k, v)
	}
	mw.Close()
	return body, mw.FormDataContentType()
}

func TestHealthEndpoint(t *testing.T) {
	s, _ := newTestServer(t, &queueStub{})
	req := httptest.NewRequest("GET", "/healthz", nil)
	rr := httptest.NewRecorder()
	s.routes().ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
}

func TestStrategiesEndpoint(t *testing.T) {
	s, _ := newTestServer(t, &queueStub{})
	req := httptest.NewRequest("GET", "/api/v1/strategies", nil)
	rr := httptest.NewRecorder()
	s.routes().ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	var entries []struct {
		Name        string `json:"name"`
		Description string `json:"description"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&entries); err != nil {
		t.Fatal(err)
	}
	if len(entries) != 4 {
		t.Fatalf("got %d strategies, want 4", len(entries))
	}
	for _, e := range entries {
		if e.Description == "" {
			t.Fatalf("strategy %q missing description", e.Name)
		}
	}
}

func TestUploadEnqueuesStitchJob(t *testing.T) {
	queue := &queueStub{}
	s, _ := newTestServer(t, queue)

	frames := []string{"frame_angle_000.jpg", "frame_angle_045.jpg", "frame_angle_090.jpg"}
	body, contentType := multipartUpload(t, frames, map[string]string{
		"algorithm": "simple_angle",
		"hfov":      "62.5",
	})
	req := httptest.NewRequest("POST", "/api/v1/panoramas", body)
	req.Header.Set("Content-Type", contentType)
	rr := httptest.NewRecorder()
	s.routes().ServeHTTP(rr, req)

	if rr.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202: %s", rr.Code, rr.Body.String())
	}
	if len(queue.submitted) != 1 {
		t.Fatalf("submitted %d jobs, want 1", len(queue.submitted))
	}
	job := queue.submitted[0]
	if job.Type != pipeline.JobStitch {
		t.Fatalf("job type = %s", job.Type)
	}
	if job.Options["algorithm"] != "simple_angle" || job.Options["hfov"] != 62.5 {
		t.Fatalf("options = %v", job.Options)
	}
	if job.Options["preview"] != true {
		t.Fatalf("preview not requested by default: %v", job.Options)
	}

	entries, err := os.ReadDir(job.InputPath)
	if err != nil {
		t.Fatalf("reading job dir: %v", err)
	}
	if len(entries) != len(frames) {
		t.Fatalf("stored %d frames, want %d", len(entries), len(frames))
	}
}

func TestUploadRejectsSingleFrame(t *testing.T) {
	queue := &queueStub{}
	s, _ := newTestServer(t, queue)

	body, contentType := multipartUpload(t, []string{"frame_angle_000.jpg"}, nil)
	req := httptest.NewRequest("POST", "/api/v1/panoramas", body)
	req.Header.Set("Content-Type", contentType)
	rr := httptest.NewRecorder()
	s.routes().ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rr.Code)
	}
	if len(queue.submitted) != 0 {
		t.Fatal("job should not have been submitted")
	}
}

func TestUploadRejectsUnknownAlgorithm(t *testing.T) {
	s, _ := newTestServer(t, &queueStub{})

	body, contentType := multipartUpload(t, []string{"a.jpg", "b.jpg"}, map[string]string{"algorithm": "bogus"})
	req := httptest.NewRequest("POST", "/api/v1/panoramas", body)
	req.Header.Set("Content-Type", contentType)
	rr := httptest.NewRecorder()
	s.routes().ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rr.Code)
	}
}

func TestJobStatusReflectsStore(t *testing.T) {
	s, store := newTestServer(t, &queueStub{})

	rec := storage.JobRecord{ID: "job-9", JobType: "stitch", Status: "queued", Algorithm: "sensor_aided"}
	if err := store.RecordJobQueued(rec); err != nil {
		t.Fatal(err)
	}
	if err := store.RecordJobStart("job-9"); err != nil {
		t.Fatal(err)
	}
	if err := store.RecordJobResult("job-9", "completed", map[string]any{"width": 4267.0}, ""); err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest("GET", "/api/v1/jobs/job-9", nil)
	rr := httptest.NewRecorder()
	s.routes().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	var body map[string]any
	if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body["status"] != "completed" || body["algorithm"] != "sensor_aided" {
		t.Fatalf("body = %v", body)
	}
	result, ok := body["result"].(map[string]any)
	if !ok || result["width"] != 4267.0 {
		t.Fatalf("result meta = %v", body["result"])
	}
}

func TestJobStatusUnknownID(t *testing.T) {
	s, _ := newTestServer(t, &queueStub{})
	req := httptest.NewRequest("GET", "/api/v1/jobs/nope", nil)
	rr := httptest.NewRecorder()
	s.routes().ServeHTTP(rr, req)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rr.Code)
	}
}

func TestDownloadRequiresCompletedJob(t *testing.T) {
	s, store := newTestServer(t, &queueStub{})

	if err := store.RecordJobQueued(storage.JobRecord{ID: "job-10", JobType: "stitch", Status: "queued"}); err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest("GET", "/api/v1/jobs/job-10/download", nil)
	rr := httptest.NewRecorder()
	s.routes().ServeHTTP(rr, req)
	if rr.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rr.Code)
	}
}

func TestDownloadServesMosaic(t *testing.T) {
	s, store := newTestServer(t, &queueStub{})

	out := filepath.Join(t.TempDir(), "mosaic.jpg")
	if err := os.WriteFile(out, []byte("mosaicbytes"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := store.RecordJobQueued(storage.JobRecord{ID: "job-11", JobType: "stitch", Status: "queued", OutputPath: out}); err != nil {
		t.Fatal(err)
	}
	if err := store.RecordJobResult("job-11", "completed", nil, ""); err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest("GET", "/api/v1/jobs/job-11/download", nil)
	rr := httptest.NewRecorder()
	s.routes().ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	if rr.Body.String() != "mosaicbytes" {
		t.Fatalf("body = %q", rr.Body.String())
	}
}
