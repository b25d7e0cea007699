package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"verification-service/internal/service"
	"verification-service/internal/util"
)

// AccountHandler exposes the tier state machine over HTTP.
type AccountHandler struct {
	accountService *service.AccountService
	logger         *zap.Logger
}

func NewAccountHandler(accountService *service.AccountService, logger *zap.Logger) *AccountHandler {
	return &AccountHandler{
		accountService: accountService,
		logger:         logger,
	}
}

type registerRequest struct {
	Email          string `json:"email"`
	Phone          string `json:"phone,omitempty"`
	PromoterIntent bool   `json:"promoter_intent"`
}

type completeRegistrationRequest struct {
	Email string `json:"email"`
	Value string `json:"value"`
}

type valueRequest struct {
	Value string `json:"value"`
}

type emailChangeRequest struct {
	NewEmail string `json:"new_email"`
	Value    string `json:"value,omitempty"`
}

// RegisterRoutes registers the account routes.
func (h *AccountHandler) RegisterRoutes(router chi.Router) {
	router.Route("/accounts", func(r chi.Router) {
		r.Post("/", h.Register)
		r.Post("/complete-registration", h.CompleteRegistration)

		r.Route("/{accountID}", func(r chi.Router) {
			r.Get("/", h.Get)
			r.Post("/validate-phone", h.ValidatePhone)
			r.Post("/promote", h.Promote)
			r.Post("/downgrade", h.Downgrade)
			r.Post("/invalidate-phone", h.InvalidatePhone)
			r.Post("/email-change/request", h.RequestEmailChange)
			r.Post("/email-change/confirm", h.ConfirmEmailChange)
			r.Post("/deletion/request", h.RequestDeletion)
			r.Post("/deletion/confirm", h.ConfirmDeletion)
		})
	})
}

func (h *AccountHandler) Register(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	startTime := time.Now()

	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}

	account, err := h.accountService.Register(ctx, req.Email, req.Phone, req.PromoterIntent, time.Now().UTC())
	if err != nil {
		respondWithError(w, statusCode(err), err, "Failed to register account")
		return
	}

	respondWithJSON(w, http.StatusCreated, successResponse(account, "Account registered"))
	h.logger.Info("Account registered via HTTP",
		util.String("account_id", account.AccountID),
		util.Duration("duration", time.Since(startTime)),
	)
}

func (h *AccountHandler) CompleteRegistration(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req completeRegistrationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}

	account, err := h.accountService.CompleteRegistration(ctx, req.Email, req.Value, time.Now().UTC())
	if err != nil {
		respondWithError(w, statusCode(err), err, "Failed to complete registration")
		return
	}

	respondWithJSON(w, http.StatusOK, successResponse(account, "Registration completed"))
}

func (h *AccountHandler) Get(w http.ResponseWriter, r *http.Request) {
	account, err := h.accountService.Get(r.Context(), chi.URLParam(r, "accountID"))
	if err != nil {
		respondWithError(w, statusCode(err), err, "Failed to get account")
		return
	}

	respondWithJSON(w, http.StatusOK, successResponse(account, ""))
}

func (h *AccountHandler) ValidatePhone(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	accountID := chi.URLParam(r, "accountID")

	var req valueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}

	account, err := h.accountService.ValidatePhone(ctx, accountID, req.Value, time.Now().UTC())
	if err != nil {
		respondWithError(w, statusCode(err), err, "Failed to validate phone")
		return
	}

	respondWithJSON(w, http.StatusOK, successResponse(account, "Phone validated"))
}

func (h *AccountHandler) Promote(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	accountID := chi.URLParam(r, "accountID")

	account, err := h.accountService.Promote(ctx, accountID, time.Now().UTC())
	if err != nil {
		if errors.Is(err, service.ErrPhoneValidationRequired) {
			respondWithError(w, statusCode(err), err, "Phone validation required before promotion")
			return
		}
		respondWithError(w, statusCode(err), err, "Failed to promote account")
		return
	}

	respondWithJSON(w, http.StatusOK, successResponse(account, "Account promoted"))
}

func (h *AccountHandler) Downgrade(w http.ResponseWriter, r *http.Request) {
	account, err := h.accountService.Downgrade(r.Context(), chi.URLParam(r, "accountID"), time.Now().UTC())
	if err != nil {
		respondWithError(w, statusCode(err), err, "Failed to downgrade account")
		return
	}

	respondWithJSON(w, http.StatusOK, successResponse(account, "Account downgraded"))
}

func (h *AccountHandler) InvalidatePhone(w http.ResponseWriter, r *http.Request) {
	account, err := h.accountService.InvalidatePhone(r.Context(), chi.URLParam(r, "accountID"), time.Now().UTC())
	if err != nil {
		respondWithError(w, statusCode(err), err, "Failed to invalidate phone")
		return
	}

	respondWithJSON(w, http.StatusOK, successResponse(account, "Phone verification cleared"))
}

func (h *AccountHandler) RequestEmailChange(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	accountID := chi.URLParam(r, "accountID")

	var req emailChangeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}

	if err := h.accountService.RequestEmailChange(ctx, accountID, req.NewEmail, time.Now().UTC()); err != nil {
		respondWithError(w, statusCode(err), err, "Failed to request email change")
		return
	}

	respondWithJSON(w, http.StatusOK, successResponse(nil, "Confirmation code sent to new address"))
}

func (h *AccountHandler) ConfirmEmailChange(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	accountID := chi.URLParam(r, "accountID")

	var req emailChangeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}

	account, err := h.accountService.ConfirmEmailChange(ctx, accountID, req.NewEmail, req.Value, time.Now().UTC())
	if err != nil {
		respondWithError(w, statusCode(err), err, "Failed to confirm email change")
		return
	}

	respondWithJSON(w, http.StatusOK, successResponse(account, "Email updated"))
}

func (h *AccountHandler) RequestDeletion(w http.ResponseWriter, r *http.Request) {
	if err := h.accountService.RequestDeletion(r.Context(), chi.URLParam(r, "accountID"), time.Now().UTC()); err != nil {
		respondWithError(w, statusCode(err), err, "Failed to request deletion")
		return
	}

	respondWithJSON(w, http.StatusOK, successResponse(nil, "Deletion confirmation code sent"))
}

func (h *AccountHandler) ConfirmDeletion(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	accountID := chi.URLParam(r, "accountID")

	var req valueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}

	if err := h.accountService.ConfirmDeletion(ctx, accountID, req.Value, time.Now().UTC()); err != nil {
		respondWithError(w, statusCode(err), err, "Failed to confirm deletion")
		return
	}

	respondWithJSON(w, http.StatusOK, successResponse(nil, "Deletion confirmed"))
}
