package main

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/Namchee/tanyaaja/pkg/clientip"
	"github.com/Namchee/tanyaaja/pkg/httpx"
	"github.com/Namchee/tanyaaja/pkg/metrics"
	"github.com/Namchee/tanyaaja/pkg/models"
	"github.com/Namchee/tanyaaja/pkg/submission"
	"github.com/Namchee/tanyaaja/pkg/telemetry"
)

const (
	msgSubmitted   = "New question submitted"
	msgRateLimited = "The request has been rate limited"
	msgBlocked     = "The request have been blocked by captcha"
	msgRejected    = "Failed while submitting new question, it is being blocked by captcha."
	msgNotFound    = "Owner of this page can not be found"
	msgServerError = "Error while submitting new question"
	msgInvalid     = "Invalid request body"
)

type submitter interface {
	Submit(ctx context.Context, req models.SubmissionRequest, identity string) submission.Result
}

type Server struct {
	Pipeline            submitter
	Resolver            *clientip.Resolver
	Metrics             *metrics.Registry
	CORSAllowedOrigins  []string
	MaxRequestBodyBytes int64
	ServiceName         string
}

type rateLimitData struct {
	Success   bool  `json:"success"`
	Limit     int   `json:"limit"`
	Remaining int   `json:"remaining"`
	Reset     int64 `json:"reset"`
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(httpx.CORSMiddleware(strings.Join(s.CORSAllowedOrigins, ",")))
	r.Use(httpx.SecurityHeadersMiddleware)
	r.Use(s.Metrics.Middleware)
	r.Use(telemetry.HTTPMiddleware(s.ServiceName))
	r.Use(httpx.LimitBody(s.MaxRequestBodyBytes))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "tanyaaja"})
	})
	r.Get("/metrics", s.Metrics.PrometheusHandler())
	r.Get("/metrics.json", s.Metrics.Handler())
	r.Post("/api/question/submit", s.handleSubmit)
	return r
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req models.SubmissionRequest
	if err := httpx.DecodeJSON(r.Body, &req); err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, httpx.ErrBodyTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		s.Metrics.IncOutcome(string(submission.OutcomeInvalid))
		httpx.Message(w, status, msgInvalid)
		return
	}
	identity := s.Resolver.FromRequest(r)
	writeResult(w, s.Pipeline.Submit(r.Context(), req, identity))
}

// writeResult is the only place a submission outcome becomes HTTP.
func writeResult(w http.ResponseWriter, res submission.Result) {
	if d := res.Decision; d != nil {
		httpx.SetRateLimitHeaders(w, d.Limit, d.Remaining)
	}
	switch res.Outcome {
	case submission.OutcomeAccepted:
		httpx.Message(w, http.StatusOK, msgSubmitted)
	case submission.OutcomeRateLimited:
		data := rateLimitData{}
		if d := res.Decision; d != nil {
			data = rateLimitData{Success: d.Allowed, Limit: d.Limit, Remaining: d.Remaining}
			if !d.ResetAt.IsZero() {
				data.Reset = d.ResetAt.UnixMilli()
			}
		}
		httpx.WriteJSON(w, http.StatusOK, map[string]any{"message": msgRateLimited, "data": data})
	case submission.OutcomeBlocked:
		httpx.Message(w, http.StatusForbidden, msgBlocked)
	case submission.OutcomeRejected:
		httpx.WriteJSON(w, http.StatusBadRequest, map[string]any{"message": msgRejected, "data": res.Score})
	case submission.OutcomeNotFound:
		httpx.Message(w, http.StatusBadRequest, msgNotFound)
	case submission.OutcomeInvalid:
		httpx.Message(w, http.StatusBadRequest, msgInvalid)
	default:
		httpx.Message(w, http.StatusInternalServerError, msgServerError)
	}
}
