package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"verification-service/internal/models"
	"verification-service/internal/service"
	"verification-service/internal/util"
)

// CodeHandler exposes the code-lifecycle operations over HTTP.
type CodeHandler struct {
	codeService *service.CodeService
	logger      *zap.Logger
}

func NewCodeHandler(codeService *service.CodeService, logger *zap.Logger) *CodeHandler {
	return &CodeHandler{
		codeService: codeService,
		logger:      logger,
	}
}

type issueRequest struct {
	Subject string `json:"subject"`
	Channel string `json:"channel"`
}

type issueResponse struct {
	Issued    bool      `json:"issued"`
	ExpiresAt time.Time `json:"expires_at"`
}

type consumeRequest struct {
	Subject string `json:"subject"`
	Channel string `json:"channel"`
	Value   string `json:"value"`
}

type consumeResponse struct {
	Result models.ConsumeResult `json:"result"`
}

// RegisterRoutes registers the code routes.
func (h *CodeHandler) RegisterRoutes(router chi.Router) {
	router.Route("/codes", func(r chi.Router) {
		r.Post("/issue", h.Issue)
		r.Post("/consume", h.Consume)
		r.Post("/resend", h.Resend)
	})
}

func (h *CodeHandler) Issue(w http.ResponseWriter, r *http.Request) {
	h.issue(w, r, "Issue")
}

// Resend shares issue semantics: a fresh code, superseding the old one.
func (h *CodeHandler) Resend(w http.ResponseWriter, r *http.Request) {
	h.issue(w, r, "Resend")
}

func (h *CodeHandler) issue(w http.ResponseWriter, r *http.Request, method string) {
	ctx := r.Context()
	startTime := time.Now()

	var req issueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}

	channel, err := models.ParseChannel(req.Channel)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err, "Unknown channel")
		return
	}

	code, err := h.codeService.Issue(ctx, req.Subject, channel, time.Now().UTC())
	if err != nil {
		respondWithError(w, statusCode(err), err, "Failed to issue code")
		return
	}

	respondWithJSON(w, http.StatusOK, successResponse(issueResponse{
		Issued:    true,
		ExpiresAt: code.ExpiresAt,
	}, "Code issued"))

	h.logger.Info("Code issued via HTTP",
		util.String("channel", string(channel)),
		util.Duration("duration", time.Since(startTime)),
		util.String("method", method),
	)
}

// Consume reports all five outcomes as data, not errors: the presentation
// layer decides what to collapse.
func (h *CodeHandler) Consume(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req consumeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}

	channel, err := models.ParseChannel(req.Channel)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err, "Unknown channel")
		return
	}

	result, err := h.codeService.Consume(ctx, req.Subject, channel, req.Value, time.Now().UTC())
	if err != nil {
		respondWithError(w, statusCode(err), err, "Failed to consume code")
		return
	}

	respondWithJSON(w, http.StatusOK, successResponse(consumeResponse{Result: result}, "Code processed"))
}
