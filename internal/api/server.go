package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sitescope/scanner/internal/config"
	"github.com/sitescope/scanner/internal/jobs"
	"github.com/sitescope/scanner/internal/metrics"
	"github.com/sitescope/scanner/internal/scan"
)

// Scanner runs one scan to completion; failures degrade inside the report.
type Scanner interface {
	Scan(ctx context.Context, req scan.Request, screenshotPrefix string) scan.Report
}

// JobSubmitter hands scan requests to the async worker pool.
type JobSubmitter interface {
	Submit(ctx context.Context, req scan.Request) (jobs.Job, error)
}

// JobReader reads job state for polling.
type JobReader interface {
	Get(ctx context.Context, id string) (jobs.Job, error)
}

// Server wires HTTP handlers to the scan coordinator and job store.
type Server struct {
	router    chi.Router
	scanner   Scanner
	submitter JobSubmitter
	reader    JobReader
	cfg       config.Config
	logger    *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	cfg config.Config,
	scanner Scanner,
	submitter JobSubmitter,
	reader JobReader,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()

	s := &Server{
		scanner:   scanner,
		submitter: submitter,
		reader:    reader,
		cfg:       cfg,
		logger:    logger.Named("api"),
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(scan.MaxTotalBudget + 30*time.Second))
	if cfg.Auth.Enabled {
		r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
	}

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Post("/scans", s.runScan)
		r.Route("/jobs", func(r chi.Router) {
			r.Post("/", s.submitJob)
			r.Get("/{job_id}", s.getJob)
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// scanRequest is the wire shape shared by the sync and async endpoints.
// `url` and `budgetSeconds` are accepted as aliases of `startUrl` and
// `totalBudgetMs` for older clients.
type scanRequest struct {
	StartURL           string `json:"startUrl"`
	URL                string `json:"url"`
	Mode               string `json:"mode"`
	MaxPages           int    `json:"maxPages"`
	TotalBudgetMs      int    `json:"totalBudgetMs"`
	BudgetSeconds      int    `json:"budgetSeconds"`
	IncludeScreenshots bool   `json:"includeScreenshots"`
	RulesetProfile     string `json:"rulesetProfile"`
	BestPractice       bool   `json:"bestPractice"`
	Experimental       bool   `json:"experimental"`
	PSIStrategy        string `json:"psiStrategy"`
}

func (in scanRequest) startURL() string {
	if in.StartURL != "" {
		return in.StartURL
	}
	return in.URL
}

// runScan handles the synchronous endpoint. The response is always HTTP 200;
// invalid input produces a failed report in the body rather than a 4xx.
func (s *Server) runScan(w http.ResponseWriter, r *http.Request) {
	var in scanRequest
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeJSON(w, http.StatusOK, failedReport("", "invalid request body: malformed JSON"))
		return
	}
	req, err := s.normalize(in)
	if err != nil {
		writeJSON(w, http.StatusOK, failedReport(in.startURL(), err.Error()))
		return
	}

	prefix, err := newRequestPrefix()
	if err != nil {
		writeJSON(w, http.StatusOK, failedReport(in.startURL(), "could not allocate scan id"))
		return
	}

	metrics.IncActiveScans()
	started := time.Now()
	report := s.scanner.Scan(r.Context(), req, prefix)
	metrics.DecActiveScans()
	metrics.ObserveReport(report, string(req.Mode), time.Since(started))

	writeJSON(w, http.StatusOK, report)
}

func (s *Server) submitJob(w http.ResponseWriter, r *http.Request) {
	var in scanRequest
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	req, err := s.normalize(in)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	job, err := s.submitter.Submit(r.Context(), req)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"jobId":   job.ID,
		"status":  string(job.Status),
		"pollUrl": "/v1/jobs/" + job.ID,
	})
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	job, err := s.reader.Get(r.Context(), jobID)
	if err != nil {
		if jobs.IsNotFound(err) {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to load job")
		return
	}
	writeJSON(w, http.StatusOK, jobStatusResponse{
		JobID:    job.ID,
		Status:   string(job.Status),
		Progress: job.Progress,
		Result:   job.Report,
		Error:    job.Error,
	})
}

type jobStatusResponse struct {
	JobID    string        `json:"jobId"`
	Status   string        `json:"status"`
	Progress jobs.Progress `json:"progress"`
	Result   *scan.Report  `json:"result"`
	Error    string        `json:"error,omitempty"`
}

// normalize builds a scan request from the wire shape, fills configured
// defaults, and defers structural validation to Request.Normalize.
func (s *Server) normalize(in scanRequest) (scan.Request, error) {
	startURL := in.startURL()
	if startURL == "" {
		return scan.Request{}, errors.New("startUrl is required")
	}

	budget := s.cfg.DefaultBudget()
	switch {
	case in.TotalBudgetMs > 0:
		budget = time.Duration(in.TotalBudgetMs) * time.Millisecond
	case in.BudgetSeconds > 0:
		budget = time.Duration(in.BudgetSeconds) * time.Second
	}

	profile := in.RulesetProfile
	if profile == "" {
		profile = s.cfg.Rules.Profile
	}

	req := scan.Request{
		StartURL:           startURL,
		Mode:               scan.Mode(in.Mode),
		MaxPages:           in.MaxPages,
		IncludeScreenshots: in.IncludeScreenshots && s.cfg.Scan.IncludeScreenshots,
		Profile:            scan.Profile(profile),
		BestPractice:       in.BestPractice,
		Experimental:       in.Experimental,
		Strategy:           scan.Strategy(in.PSIStrategy),
		TotalBudget:        budget,
	}
	if err := req.Normalize(); err != nil {
		return scan.Request{}, err
	}
	return req, nil
}

// failedReport wraps an input failure as a terminal report body.
func failedReport(url string, msg string) scan.Report {
	return scan.Report{
		StartURL: url,
		Status:   scan.ReportFailed,
		Message:  msg,
		Pages:    []scan.PageResult{},
		Metadata: scan.ReportMetadata{
			ErrorsSummary: scan.ErrorsSummary{Messages: []string{msg}},
		},
	}
}

func newRequestPrefix() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate request id: %w", err)
	}
	return id.String(), nil
}
