package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"verification-service/internal/service"
	"verification-service/internal/util"
)

// GateHandler exposes the daily access gate. The token travels in the
// X-Gate-Token header after a successful authorize.
type GateHandler struct {
	gateService *service.GateService
	logger      *zap.Logger
}

func NewGateHandler(gateService *service.GateService, logger *zap.Logger) *GateHandler {
	return &GateHandler{
		gateService: gateService,
		logger:      logger,
	}
}

type authorizeRequest struct {
	Value string `json:"value"`
}

type authorizeResponse struct {
	Granted bool   `json:"granted"`
	Token   string `json:"token,omitempty"`
}

// RegisterRoutes registers the gate routes.
func (h *GateHandler) RegisterRoutes(router chi.Router) {
	router.Route("/gate", func(r chi.Router) {
		r.Post("/authorize", h.Authorize)
		r.Get("/session", h.Check)
		r.Delete("/session", h.Revoke)
	})
}

func (h *GateHandler) Authorize(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req authorizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}

	session, err := h.gateService.Authorize(ctx, util.SanitizeInput(req.Value), time.Now())
	if err != nil {
		respondWithError(w, statusCode(err), err, "Failed to authorize session")
		return
	}

	respondWithJSON(w, http.StatusOK, successResponse(authorizeResponse{
		Granted: session.Granted,
		Token:   session.Token,
	}, ""))
}

func (h *GateHandler) Check(w http.ResponseWriter, r *http.Request) {
	granted, err := h.gateService.Check(r.Context(), r.Header.Get("X-Gate-Token"))
	if err != nil {
		respondWithError(w, statusCode(err), err, "Failed to check session")
		return
	}

	respondWithJSON(w, http.StatusOK, successResponse(authorizeResponse{Granted: granted}, ""))
}

func (h *GateHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	if err := h.gateService.Revoke(r.Context(), r.Header.Get("X-Gate-Token")); err != nil {
		respondWithError(w, statusCode(err), err, "Failed to revoke session")
		return
	}

	respondWithJSON(w, http.StatusOK, successResponse(nil, "Session revoked"))
}
