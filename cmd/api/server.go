package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"reviewescrow/app"
	"reviewescrow/auth"
	"reviewescrow/escrow"
)

type callerKey struct{}
type requestIDKey struct{}

// Server is the HTTP front of the escrow services.
type Server struct {
	app       *app.App
	logger    *slog.Logger
	metrics   http.Handler
	router    http.Handler
	authLimit *rateLimiter
}

func NewServer(a *app.App, logger *slog.Logger, metrics http.Handler) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{app: a, logger: logger, metrics: metrics}
	s.router = s.buildRouter()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(s.requestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(s.accessLog)

	r.Get("/healthz", s.handleHealth)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics)
	}

	r.With(s.limitAuth).Post("/auth/register", s.handleRegister)
	r.With(s.limitAuth).Post("/auth/login", s.handleLogin)

	r.Get("/jobs", s.handleListJobs)
	r.Get("/jobs/{id}", s.handleJob)
	r.Get("/jobs/{id}/events", s.handleJobEvents)
	r.Get("/jobs/{id}/dispute", s.handleDispute)
	r.Get("/jobs/{id}/dispute/votes/{arbitrator}", s.handleDisputeVote)
	r.Get("/jobs/{id}/dispute/splits/{bps}", s.handleSplitCount)
	r.Get("/clients/{client}/next-job-id", s.handlePredictJobID)
	r.Get("/balances/{account}", s.handleBalance)
	r.Get("/params", s.handleParams)
	r.Get("/arbitrators", s.handleArbitrators)
	r.Get("/registry/{account}", s.handleMembership)

	r.Group(func(protected chi.Router) {
		protected.Use(s.authenticate)

		protected.Post("/jobs", s.handleCreateJob)
		protected.Post("/jobs/{id}/accept", s.handleAccept)
		protected.Post("/jobs/{id}/cancel", s.handleCancel)
		protected.Post("/jobs/{id}/submit", s.handleSubmit)
		protected.Post("/jobs/{id}/reclaim", s.handleReclaim)
		protected.Post("/jobs/{id}/approve", s.handleApprove)
		protected.Post("/jobs/{id}/auto-release", s.handleAutoRelease)

		protected.Post("/jobs/{id}/dispute", s.handleOpenDispute)
		protected.Post("/jobs/{id}/dispute/deposit", s.handlePostDeposit)
		protected.Post("/jobs/{id}/dispute/vote", s.handleVote)
		protected.Post("/jobs/{id}/dispute/resolve", s.handleResolve)
		protected.Post("/jobs/{id}/dispute/resolve-timeout", s.handleResolveTimeout)

		protected.Post("/withdraw", s.handleWithdraw)

		protected.Put("/params", s.handleUpdateParams)
		protected.Post("/params/owner", s.handleTransferOwnership)
		protected.Put("/registry/reviewers/{account}", s.handleSetReviewer)
		protected.Put("/registry/arbitrators/{account}", s.handleSetArbitrator)
	})

	return r
}

func (s *Server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id)))
	})
}

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		id, _ := r.Context().Value(requestIDKey{}).(string)
		s.logger.InfoContext(r.Context(), "http request",
			"request_id", id,
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

// authenticate resolves the bearer token to the caller address.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			writeError(w, http.StatusUnauthorized, "unauthenticated", "missing bearer token")
			return
		}
		caller, err := s.app.Auth.VerifyToken(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unauthenticated", "invalid token")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), callerKey{}, caller)))
	})
}

func callerFrom(ctx context.Context) common.Address {
	caller, _ := ctx.Value(callerKey{}).(common.Address)
	return caller
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]errorBody{"error": {Code: code, Message: message}})
}

var kindStatus = map[escrow.Kind]int{
	escrow.KindUnauthorized:  http.StatusForbidden,
	escrow.KindInvalidStatus: http.StatusConflict,
	escrow.KindTooEarly:      http.StatusTooEarly,
	escrow.KindTooLate:       http.StatusGone,
	escrow.KindInvalidInput:  http.StatusBadRequest,
	escrow.KindNotFound:      http.StatusNotFound,
	escrow.KindTransfer:      http.StatusBadGateway,
}

// writeServiceError maps a service error onto its HTTP status.
func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	kind := escrow.KindOf(err)
	status, ok := kindStatus[kind]
	if !ok {
		s.logger.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "error", err)
		writeError(w, http.StatusInternalServerError, kind.String(), "internal error")
		return
	}
	writeError(w, status, kind.String(), err.Error())
}

func (s *Server) writeAuthError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, auth.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, "invalid_credentials", err.Error())
	case errors.Is(err, auth.ErrDuplicateAccount):
		writeError(w, http.StatusConflict, "duplicate_account", err.Error())
	case errors.Is(err, auth.ErrWeakSecret), errors.Is(err, auth.ErrBadSignature), errors.Is(err, auth.ErrInvalidAccount):
		writeError(w, http.StatusBadRequest, "invalid_input", err.Error())
	default:
		s.logger.ErrorContext(r.Context(), "auth request failed", "path", r.URL.Path, "error", err)
		writeError(w, http.StatusInternalServerError, "internal", "internal error")
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", "invalid JSON body: "+err.Error())
		return false
	}
	return true
}
