// Package server exposes the stitching pipeline over HTTP: uploads, job
// status, mosaic downloads and live result streams.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"pan360/internal/config"
	"pan360/internal/fsutil"
	"pan360/internal/pipeline"
	"pan360/internal/stitch"
	"pan360/internal/storage"
	"pan360/internal/tasks"
)

// jobQueue is the slice of the pipeline the server needs.
type jobQueue interface {
	Submit(job pipeline.Job) error
	Subscribe() (<-chan pipeline.Result, func())
}

// Server is the REST job-queue frontend for the stitching pipeline.
type Server struct {
	cfg      config.Server
	log      *slog.Logger
	queue    jobQueue
	store    *storage.Store
	upgrader websocket.Upgrader
	hub      *resultHub
}

func New(cfg config.Server, logger *slog.Logger, queue jobQueue, store *storage.Store) *Server {
	return &Server{
		cfg:   cfg,
		log:   logger,
		queue: queue,
		store: store,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		hub: newResultHub(logger),
	}
}

// Start serves until the context is cancelled.
func (s *Server) Start(ctx context.Context) error {
	for _, dir := range []string{s.cfg.UploadDir, s.cfg.ResultsDir} {
		if err := fsutil.EnsureDir(dir); err != nil {
			return err
		}
	}

	go s.hub.run(ctx)
	go s.pumpResults(ctx)

	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.log.Info("stitch server listening", "addr", s.cfg.Addr)
	err := srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.handleHealth).Methods("GET")
	r.HandleFunc("/api/v1/strategies", s.handleStrategies).Methods("GET")
	r.HandleFunc("/api/v1/panoramas", s.handleUpload).Methods("POST")
	r.HandleFunc("/api/v1/jobs", s.handleJobs).Methods("GET")
	r.HandleFunc("/api/v1/jobs/{id}", s.handleJob).Methods("GET")
	r.HandleFunc("/api/v1/jobs/{id}/placements", s.handlePlacements).Methods("GET")
	r.HandleFunc("/api/v1/jobs/{id}/download", s.handleDownload).Methods("GET")
	r.HandleFunc("/api/v1/jobs/{id}/preview", s.handlePreview).Methods("GET")
	r.HandleFunc("/api/v1/stream", s.handleStream).Methods("GET")
	r.HandleFunc("/ws", s.handleWebSocket).Methods("GET")
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "time": time.Now().UTC()})
}

func (s *Server) handleStrategies(w http.ResponseWriter, r *http.Request) {
	type entry struct {
		Name        string `json:"name"`
		Description string `json:"description"`
	}
	var out []entry
	for _, kind := range stitch.Kinds() {
		out = append(out, entry{Name: string(kind), Description: stitch.Describe(kind)})
	}
	writeJSON(w, http.StatusOK, out)
}

// handleUpload accepts a multipart batch of frames and enqueues a stitch
// job over them. Frame filenames carry the bearings (frame_angle_045.jpg).
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	maxBytes := s.cfg.MaxUploadMB << 20
	if maxBytes <= 0 {
		maxBytes = 256 << 20
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("parse upload: %v", err))
		return
	}

	files := r.MultipartForm.File["frames"]
	if len(files) < 2 {
		writeError(w, http.StatusBadRequest, "need at least 2 frames")
		return
	}

	jobID := uuid.NewString()
	jobDir := filepath.Join(s.cfg.UploadDir, jobID)
	if err := fsutil.EnsureDir(jobDir); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	for _, fh := range files {
		if err := saveUpload(fh, jobDir); err != nil {
			writeError(w, http.StatusInternalServerError, fmt.Sprintf("store frame: %v", err))
			return
		}
	}

	options := map[string]any{"preview": true, "source": "upload"}
	if v := r.FormValue("algorithm"); v != "" {
		if _, err := stitch.ParseKind(v); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		options["algorithm"] = v
	}
	for _, key := range []string{"hfov", "totalAngle", "angleIncrement"} {
		if v := r.FormValue(key); v != "" {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				writeError(w, http.StatusBadRequest, fmt.Sprintf("bad %s: %v", key, err))
				return
			}
			options[key] = f
		}
	}
	if v := r.FormValue("detector"); v != "" {
		options["detector"] = v
	}

	job := pipeline.Job{
		ID:        jobID,
		Type:      pipeline.JobStitch,
		InputPath: jobDir,
		Output:    filepath.Join(s.cfg.ResultsDir, jobID+".jpg"),
		Options:   options,
	}
	if err := s.queue.Submit(job); err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}

	s.log.Info("upload accepted", "job", jobID, "frames", len(files))
	writeJSON(w, http.StatusAccepted, map[string]any{
		"id":     jobID,
		"frames": len(files),
		"status": "queued",
	})
}

func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	jobs, err := s.store.RecentJobs(limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, jobsResponse(jobs))
}

func (s *Server) handleJob(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	job, err := s.store.Job(id)
	if err != nil {
		writeError(w, http.StatusNotFound, "unknown job")
		return
	}
	body := jobResponse(job)
	if meta, err := s.store.JobMeta(id); err == nil {
		body["result"] = meta
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handlePlacements(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	rows, err := s.store.Placements(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	s.serveJobFile(w, r, func(output string) string { return output })
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	s.serveJobFile(w, r, tasks.PreviewPath)
}

func (s *Server) serveJobFile(w http.ResponseWriter, r *http.Request, pathFn func(string) string) {
	id := mux.Vars(r)["id"]
	job, err := s.store.Job(id)
	if err != nil {
		writeError(w, http.StatusNotFound, "unknown job")
		return
	}
	if job.Status != "completed" {
		writeError(w, http.StatusConflict, fmt.Sprintf("job is %s", job.Status))
		return
	}
	path := pathFn(job.OutputPath)
	if _, err := os.Stat(path); err != nil {
		writeError(w, http.StatusNotFound, "output not available")
		return
	}
	http.ServeFile(w, r, path)
}

// handleStream sends pipeline results as server-sent events.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	results, unsubscribe := s.queue.Subscribe()
	defer unsubscribe()

	for {
		select {
		case <-r.Context().Done():
			return
		case res, ok := <-results:
			if !ok {
				return
			}
			payload, err := json.Marshal(resultEvent(res))
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: job\ndata: %s\n\n", payload)
			flusher.Flush()
		}
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "error", err)
		return
	}
	s.hub.register <- conn

	// Reader loop detects client disconnects; inbound messages are ignored.
	go func() {
		defer func() { s.hub.unregister <- conn }()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// pumpResults feeds pipeline results into the websocket hub.
func (s *Server) pumpResults(ctx context.Context) {
	results, unsubscribe := s.queue.Subscribe()
	defer unsubscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case res, ok := <-results:
			if !ok {
				return
			}
			if payload, err := json.Marshal(resultEvent(res)); err == nil {
				s.hub.broadcast <- payload
			}
		}
	}
}

func resultEvent(res pipeline.Result) map[string]any {
	event := map[string]any{
		"id":     res.Job.ID,
		"type":   string(res.Job.Type),
		"status": "completed",
		"meta":   res.Meta,
	}
	if res.Error != nil {
		event["status"] = "failed"
		event["error"] = res.Error.Error()
		var fail *stitch.Failure
		if errors.As(res.Error, &fail) {
			event["failureKind"] = string(fail.Kind)
		}
	}
	return event
}

func jobsResponse(jobs []storage.JobRecord) []map[string]any {
	out := make([]map[string]any, 0, len(jobs))
	for _, job := range jobs {
		out = append(out, jobResponse(job))
	}
	return out
}

func jobResponse(job storage.JobRecord) map[string]any {
	body := map[string]any{
		"id":        job.ID,
		"type":      job.JobType,
		"status":    job.Status,
		"algorithm": job.Algorithm,
		"createdAt": job.CreatedAt,
	}
	if job.Error != "" {
		body["error"] = job.Error
	}
	if job.CompletedAt != nil {
		body["completedAt"] = job.CompletedAt
	}
	return body
}

func saveUpload(fh *multipart.FileHeader, dir string) error {
	src, err := fh.Open()
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.Create(filepath.Join(dir, filepath.Base(fh.Filename)))
	if err != nil {
		return err
	}
	defer dst.Close()

	_, err = io.Copy(dst, src)
	return err
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
