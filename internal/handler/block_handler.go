package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"sshwatch/internal/blocking"
	"sshwatch/internal/models"
	"sshwatch/internal/repository/postgres"
	"sshwatch/internal/service"
	"sshwatch/internal/util"
)

const defaultListLimit = 100

// BlockHandler serves block management: listing, manual blocks, unblocks.
type BlockHandler struct {
	engine *blocking.Engine
	blocks postgres.BlockRepository
	logger *zap.Logger
}

func NewBlockHandler(engine *blocking.Engine, blocks postgres.BlockRepository, logger *zap.Logger) *BlockHandler {
	return &BlockHandler{
		engine: engine,
		blocks: blocks,
		logger: logger,
	}
}

// RegisterRoutes registers block routes.
func (h *BlockHandler) RegisterRoutes(router chi.Router) {
	router.Route("/blocks", func(r chi.Router) {
		r.Get("/active", h.ListActive)
		r.Post("/", h.CreateBlock)
		r.Delete("/{ip}", h.Unblock)
	})
}

// ListActive returns the currently active blocks.
func (h *BlockHandler) ListActive(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	limit := defaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			respondWithError(w, h.logger, http.StatusBadRequest, fmt.Errorf("invalid limit %q", raw), "Invalid limit parameter")
			return
		}
		limit = parsed
	}

	records, err := h.blocks.ListActive(ctx, limit)
	if err != nil {
		respondWithError(w, h.logger, getStatusCode(err), err, "Failed to list blocks")
		return
	}

	response := successResponse(records, "Active blocks retrieved")
	response.Meta = &Meta{Total: len(records)}
	respondWithJSON(w, h.logger, http.StatusOK, response)
}

type createBlockRequest struct {
	IP              string `json:"ip"`
	Reason          string `json:"reason"`
	DurationMinutes int    `json:"duration_minutes,omitempty"` // 0 = permanent
}

// CreateBlock creates a manual block outside rule evaluation.
func (h *BlockHandler) CreateBlock(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req createBlockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, h.logger, http.StatusBadRequest, err, "Invalid request body")
		return
	}

	ipText, _, err := util.NormalizeIP(req.IP)
	if err != nil {
		respondWithError(w, h.logger, http.StatusBadRequest,
			fmt.Errorf("%w: %v", service.ErrInvalidInput, err), "Invalid IP address")
		return
	}
	if req.Reason == "" {
		respondWithError(w, h.logger, http.StatusBadRequest,
			fmt.Errorf("%w: reason is required", service.ErrInvalidInput), "Reason is required")
		return
	}

	block, err := h.engine.BlockManually(ctx, ipText, req.Reason, models.BlockSourceManual, req.DurationMinutes)
	if err != nil {
		respondWithError(w, h.logger, getStatusCode(err), err, "Failed to create block")
		return
	}

	respondWithJSON(w, h.logger, http.StatusCreated, successResponse(block, "Block created"))
	h.logger.Info("Manual block created via HTTP",
		util.String("ip", ipText),
		util.String("reason", req.Reason),
	)
}

type unblockRequest struct {
	Reason string `json:"reason"`
}

// Unblock lifts the active block for an IP.
func (h *BlockHandler) Unblock(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	ipText, _, err := util.NormalizeIP(chi.URLParam(r, "ip"))
	if err != nil {
		respondWithError(w, h.logger, http.StatusBadRequest,
			fmt.Errorf("%w: %v", service.ErrInvalidInput, err), "Invalid IP address")
		return
	}

	var req unblockRequest
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	if req.Reason == "" {
		req.Reason = "manual unblock"
	}

	block, err := h.engine.Unblock(ctx, ipText, req.Reason, models.BlockSourceManual)
	if err != nil {
		respondWithError(w, h.logger, getStatusCode(err), err, "Failed to unblock")
		return
	}

	respondWithJSON(w, h.logger, http.StatusOK, successResponse(block, "Block lifted"))
	h.logger.Info("Manual unblock via HTTP",
		util.String("ip", ipText),
		util.String("reason", req.Reason),
	)
}
