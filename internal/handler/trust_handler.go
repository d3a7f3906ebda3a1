package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"sshwatch/internal/models"
	"sshwatch/internal/repository/postgres"
	"sshwatch/internal/service"
	"sshwatch/internal/trust"
	"sshwatch/internal/util"
)

// TrustHandler serves trust lookups and manual trust grants.
type TrustHandler struct {
	trustRepo postgres.TrustRepository
	checker   *trust.Checker
	logger    *zap.Logger
}

func NewTrustHandler(trustRepo postgres.TrustRepository, checker *trust.Checker, logger *zap.Logger) *TrustHandler {
	return &TrustHandler{
		trustRepo: trustRepo,
		checker:   checker,
		logger:    logger,
	}
}

// RegisterRoutes registers trust routes.
func (h *TrustHandler) RegisterRoutes(router chi.Router) {
	router.Route("/trust", func(r chi.Router) {
		r.Get("/{ip}", h.GetTrust)
		r.Put("/{ip}", h.SetManualTrust)
	})
}

type trustStatus struct {
	IP      string              `json:"ip"`
	Trusted bool                `json:"trusted"`
	Record  *models.TrustRecord `json:"record,omitempty"`
}

// GetTrust reports the effective trust decision for an address, with the
// exact record when one exists.
func (h *TrustHandler) GetTrust(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	ipText, _, err := util.NormalizeIP(chi.URLParam(r, "ip"))
	if err != nil {
		respondWithError(w, h.logger, http.StatusBadRequest,
			fmt.Errorf("%w: %v", service.ErrInvalidInput, err), "Invalid IP address")
		return
	}

	trusted, err := h.checker.IsTrusted(ctx, ipText)
	if err != nil {
		respondWithError(w, h.logger, getStatusCode(err), err, "Failed to check trust")
		return
	}

	status := trustStatus{IP: ipText, Trusted: trusted}
	if record, err := h.trustRepo.GetBySubject(ctx, ipText); err == nil {
		status.Record = record
	}

	respondWithJSON(w, h.logger, http.StatusOK, successResponse(status, "Trust status retrieved"))
}

type manualTrustRequest struct {
	Reason string `json:"reason"`
}

// SetManualTrust grants operator trust to an address. Manual records are
// never downgraded by the trust learner.
func (h *TrustHandler) SetManualTrust(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	ipText, _, err := util.NormalizeIP(chi.URLParam(r, "ip"))
	if err != nil {
		respondWithError(w, h.logger, http.StatusBadRequest,
			fmt.Errorf("%w: %v", service.ErrInvalidInput, err), "Invalid IP address")
		return
	}

	var req manualTrustRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, h.logger, http.StatusBadRequest, err, "Invalid request body")
		return
	}
	if req.Reason == "" {
		respondWithError(w, h.logger, http.StatusBadRequest,
			fmt.Errorf("%w: reason is required", service.ErrInvalidInput), "Reason is required")
		return
	}

	record := &models.TrustRecord{
		Subject:           ipText,
		Kind:              models.SubjectIP,
		IsManuallyTrusted: true,
		Reason:            req.Reason,
		FirstSeen:         time.Now().UTC(),
		LastSeen:          time.Now().UTC(),
		UpdatedAt:         time.Now().UTC(),
	}
	if err := h.trustRepo.UpsertManual(ctx, record); err != nil {
		respondWithError(w, h.logger, getStatusCode(err), err, "Failed to set trust")
		return
	}

	respondWithJSON(w, h.logger, http.StatusOK, successResponse(record, "Manual trust granted"))
	h.logger.Info("Manual trust granted via HTTP",
		util.String("ip", ipText),
		util.String("reason", req.Reason),
	)
}
