package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"

	"escrowflow/auth"
	"escrowflow/dispute"
	"escrowflow/milestone"
)

type authAPI interface {
	Register(ctx context.Context, req auth.RegisterRequest) (*auth.User, error)
	Login(ctx context.Context, req auth.LoginRequest) (auth.LoginResult, error)
	VerifyToken(token string) (auth.Actor, error)
}

type milestoneAPI interface {
	Start(ctx context.Context, jobID, milestoneID string, actor auth.Actor) (milestone.Milestone, error)
	Submit(ctx context.Context, jobID, milestoneID string, actor auth.Actor) (milestone.Milestone, error)
	Approve(ctx context.Context, jobID, milestoneID string, actor auth.Actor) (milestone.Milestone, error)
	RequestRefund(ctx context.Context, jobID, milestoneID string, actor auth.Actor, req milestone.RefundRequest) (milestone.Milestone, error)
	RefundStatus(ctx context.Context, jobID, milestoneID string, actor auth.Actor) (milestone.RefundStatus, error)
}

type disputeAPI interface {
	Resolve(ctx context.Context, jobID, milestoneID string, actor auth.Actor, params dispute.ResolveParams) (milestone.Milestone, error)
}

type server struct {
	auth       authAPI
	milestones milestoneAPI
	disputes   disputeAPI
	logger     *slog.Logger
}

func newRouter(s *server) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Post("/auth/register", s.handleRegister)
	r.Post("/auth/login", s.handleLogin)

	r.Route("/jobs/{jobID}/milestones/{milestoneID}", func(r chi.Router) {
		r.Use(s.requireActor)
		r.Post("/start", s.handleStart)
		r.Post("/submit", s.handleSubmit)
		r.Post("/approve", s.handleApprove)
		r.Post("/refund-request", s.handleRequestRefund)
		r.Post("/resolve", s.handleResolve)
		r.Get("/refund-status", s.handleRefundStatus)
	})

	return r
}

type actorKey struct{}

func (s *server) requireActor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			writeJSON(w, http.StatusUnauthorized, errorBody("missing bearer token"))
			return
		}
		actor, err := s.auth.VerifyToken(strings.TrimPrefix(header, "Bearer "))
		if err != nil {
			writeJSON(w, http.StatusUnauthorized, errorBody("invalid token"))
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), actorKey{}, actor)))
	})
}

func actorFrom(r *http.Request) auth.Actor {
	actor, _ := r.Context().Value(actorKey{}).(auth.Actor)
	return actor
}

func (s *server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req auth.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	user, err := s.auth.Register(r.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrWeakPassword), errors.Is(err, auth.ErrDuplicateEmail):
			writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		default:
			s.writeServiceError(w, err)
		}
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"id":        user.ID,
		"email":     user.Email,
		"full_name": user.FullName,
		"role":      user.Role,
	})
}

func (s *server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req auth.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	result, err := s.auth.Login(r.Context(), req)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			writeJSON(w, http.StatusUnauthorized, errorBody("invalid credentials"))
			return
		}
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"token": result.Token,
		"user": map[string]any{
			"id":        result.User.ID,
			"email":     result.User.Email,
			"full_name": result.User.FullName,
			"role":      result.User.Role,
		},
	})
}

func (s *server) handleStart(w http.ResponseWriter, r *http.Request) {
	s.handleTransition(w, r, s.milestones.Start)
}

func (s *server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	s.handleTransition(w, r, s.milestones.Submit)
}

func (s *server) handleApprove(w http.ResponseWriter, r *http.Request) {
	s.handleTransition(w, r, s.milestones.Approve)
}

func (s *server) handleTransition(w http.ResponseWriter, r *http.Request, op func(context.Context, string, string, auth.Actor) (milestone.Milestone, error)) {
	m, err := op(r.Context(), chi.URLParam(r, "jobID"), chi.URLParam(r, "milestoneID"), actorFrom(r))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, milestoneBody(m))
}

type refundRequestBody struct {
	Reason   string               `json:"reason"`
	Amount   *string              `json:"amount,omitempty"`
	Evidence []milestone.Evidence `json:"evidence,omitempty"`
}

func (s *server) handleRequestRefund(w http.ResponseWriter, r *http.Request) {
	var body refundRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}

	req := milestone.RefundRequest{Reason: body.Reason, Evidence: body.Evidence}
	if body.Amount != nil {
		amount, err := decimal.NewFromString(*body.Amount)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody("amount must be a decimal string"))
			return
		}
		req.Amount = &amount
	}

	m, err := s.milestones.RequestRefund(r.Context(), chi.URLParam(r, "jobID"), chi.URLParam(r, "milestoneID"), actorFrom(r), req)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  m.Status,
		"dispute": m.Dispute,
	})
}

type resolveBody struct {
	Action string  `json:"action"`
	Amount *string `json:"amount,omitempty"`
	Note   string  `json:"note,omitempty"`
}

func (s *server) handleResolve(w http.ResponseWriter, r *http.Request) {
	var body resolveBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}

	action, err := dispute.ParseAction(body.Action)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	params := dispute.ResolveParams{Action: action, Note: body.Note}
	if body.Amount != nil {
		amount, err := decimal.NewFromString(*body.Amount)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody("amount must be a decimal string"))
			return
		}
		params.Amount = &amount
	}

	m, err := s.disputes.Resolve(r.Context(), chi.URLParam(r, "jobID"), chi.URLParam(r, "milestoneID"), actorFrom(r), params)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	var resolution *milestone.Resolution
	if m.Dispute != nil {
		resolution = m.Dispute.Resolution
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     m.Status,
		"resolution": resolution,
	})
}

func (s *server) handleRefundStatus(w http.ResponseWriter, r *http.Request) {
	rs, err := s.milestones.RefundStatus(r.Context(), chi.URLParam(r, "jobID"), chi.URLParam(r, "milestoneID"), actorFrom(r))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rs)
}

// writeServiceError maps the domain error taxonomy onto HTTP statuses.
func (s *server) writeServiceError(w http.ResponseWriter, err error) {
	var (
		ve  *milestone.ValidationError
		ae  *milestone.AuthorizationError
		sce *milestone.StateConflictError
	)
	switch {
	case errors.As(err, &ve):
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": ve.Reason, "field": ve.Field})
	case errors.As(err, &ae):
		writeJSON(w, http.StatusForbidden, errorBody(ae.Error()))
	case errors.As(err, &sce):
		writeJSON(w, http.StatusConflict, map[string]any{"error": sce.Error(), "current_status": sce.Current})
	case errors.Is(err, milestone.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody("job or milestone not found"))
	default:
		s.logger.Error("request failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
	}
}

func milestoneBody(m milestone.Milestone) map[string]any {
	return map[string]any{
		"id":     m.ID,
		"job_id": m.JobID,
		"status": m.Status,
		"amount": m.Amount.StringFixed(2),
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func errorBody(msg string) map[string]string {
	return map[string]string{"error": msg}
}
