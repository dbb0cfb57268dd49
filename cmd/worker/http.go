package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"

	"github.com/google/uuid"
	"github.com/julienschmidt/httprouter"

	"github.com/openpodcast/episode-ingest-worker/cache"
	"github.com/openpodcast/episode-ingest-worker/clients"
	"github.com/openpodcast/episode-ingest-worker/config"
	"github.com/openpodcast/episode-ingest-worker/errors"
	"github.com/openpodcast/episode-ingest-worker/middleware"
	"github.com/openpodcast/episode-ingest-worker/pipeline"
)

// Server bundles the dependencies the HTTP surface needs, grounded on the
// teacher's StartCatalystAPIRouter wiring shape (cmd/http-server/http-server.go).
type Server struct {
	// BaseCtx outlives any single request; it's canceled only on process
	// shutdown. Background pipeline runs use it instead of a request's
	// context, which net/http cancels the instant the handler returns.
	BaseCtx      context.Context
	Orchestrator *pipeline.Orchestrator
	Tracker      *pipeline.JobTracker
	Protection   *pipeline.ProtectionController
	Mode         config.CapacityMode
	Jobs         *cache.Cache[*pipeline.JobInfo]
}

// backgroundCtx returns the server's long-lived context, falling back to
// context.Background() for servers built without one (e.g. in tests).
func (s *Server) backgroundCtx() context.Context {
	if s.BaseCtx != nil {
		return s.BaseCtx
	}
	return context.Background()
}

var youtubeURLPattern = regexp.MustCompile(`^https?://(www\.)?(youtube\.com/watch\?v=|youtu\.be/)[\w-]+`)

func NewRouter(s *Server) *httprouter.Router {
	router := httprouter.New()

	router.POST("/api/download", middleware.LogRequest()(s.handleDownload))
	router.POST("/api/download-video-existing", middleware.LogRequest()(s.handleDownloadExisting))
	router.GET("/api/job/:id", middleware.LogRequest()(s.handleGetJob))
	router.GET("/health", middleware.LogRequest()(s.handleHealth))

	return router
}

type downloadRequest struct {
	URL string `json:"url"`
}

type downloadResponse struct {
	Success bool   `json:"success"`
	JobID   string `json:"jobId"`
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req downloadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errors.WriteHTTPBadRequest(w, "invalid request body", err)
		return
	}
	if !youtubeURLPattern.MatchString(req.URL) {
		errors.WriteHTTPBadRequest(w, "url is not a recognized YouTube video URL", nil)
		return
	}

	jobID := uuid.NewString()
	if !s.Tracker.StartJob(jobID) {
		errors.WriteHTTPInternalServerError(w, "at capacity, try again later", nil)
		return
	}

	job := pipeline.NewJobInfo(jobID, req.URL, "")
	s.Jobs.Store(jobID, job)

	msg := clients.IngestMessage{
		Kind:        clients.MessageNewEntry,
		OriginalURI: req.URL,
		JobID:       jobID,
	}

	go func() {
		defer s.Tracker.CompleteJob(jobID)
		s.Orchestrator.Run(s.backgroundCtx(), job, msg)
	}()

	writeJSON(w, http.StatusAccepted, downloadResponse{Success: true, JobID: jobID})
}

type downloadExistingRequest struct {
	EpisodeID string `json:"episodeId"`
	VideoURL  string `json:"videoUrl"`
}

func (s *Server) handleDownloadExisting(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req downloadExistingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errors.WriteHTTPBadRequest(w, "invalid request body", err)
		return
	}
	if req.EpisodeID == "" || req.VideoURL == "" {
		errors.WriteHTTPBadRequest(w, "episodeId and videoUrl are required", nil)
		return
	}

	jobID := uuid.NewString()
	if !s.Tracker.StartJob(jobID) {
		errors.WriteHTTPInternalServerError(w, "at capacity, try again later", nil)
		return
	}

	job := pipeline.NewJobInfo(jobID, req.VideoURL, "")
	s.Jobs.Store(jobID, job)

	go func() {
		defer s.Tracker.CompleteJob(jobID)
		s.Orchestrator.RunExistingEpisode(s.backgroundCtx(), job, req.EpisodeID, req.VideoURL)
	}()

	writeJSON(w, http.StatusAccepted, downloadResponse{Success: true, JobID: jobID})
}

func (s *Server) handleGetJob(w http.ResponseWriter, _ *http.Request, ps httprouter.Params) {
	id := ps.ByName("id")
	job := s.Jobs.Get(id)
	if job == nil {
		errors.WriteHTTPNotFound(w, fmt.Sprintf("no job with id %q", id), nil)
		return
	}
	writeJSON(w, http.StatusOK, job.Snapshot())
}

type healthResponse struct {
	Status           string `json:"status"`
	CapacityMode     string `json:"capacityMode"`
	ActiveJobs       int    `json:"activeJobs"`
	ProtectionActive bool   `json:"protectionActive"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:           "ok",
		CapacityMode:     string(s.Mode),
		ActiveJobs:       s.Tracker.ActiveCount(),
		ProtectionActive: s.Protection.IsActive(),
	})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
