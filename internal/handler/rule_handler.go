package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"sshwatch/internal/models"
	"sshwatch/internal/repository/postgres"
	"sshwatch/internal/service"
	"sshwatch/internal/util"
)

// RuleHandler serves blocking-rule management.
type RuleHandler struct {
	rules  postgres.RuleRepository
	logger *zap.Logger
}

func NewRuleHandler(rules postgres.RuleRepository, logger *zap.Logger) *RuleHandler {
	return &RuleHandler{rules: rules, logger: logger}
}

// RegisterRoutes registers rule routes.
func (h *RuleHandler) RegisterRoutes(router chi.Router) {
	router.Route("/rules", func(r chi.Router) {
		r.Get("/", h.ListRules)
		r.Post("/", h.CreateRule)
		r.Delete("/{ruleID}", h.DeleteRule)
	})
}

// ListRules returns all configured rules, enabled or not.
func (h *RuleHandler) ListRules(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	rules, err := h.rules.ListAll(ctx)
	if err != nil {
		respondWithError(w, h.logger, getStatusCode(err), err, "Failed to list rules")
		return
	}

	response := successResponse(rules, "Rules retrieved")
	response.Meta = &Meta{Total: len(rules)}
	respondWithJSON(w, h.logger, http.StatusOK, response)
}

type createRuleRequest struct {
	Name                 string          `json:"name"`
	RuleType             models.RuleType `json:"rule_type"`
	Priority             int             `json:"priority"`
	Conditions           json.RawMessage `json:"conditions"`
	BlockDurationMinutes int             `json:"block_duration_minutes"`
	AutoUnblock          bool            `json:"auto_unblock"`
	NotifyOnTrigger      bool            `json:"notify_on_trigger"`
}

// CreateRule validates the condition JSON against the rule type before
// storing anything.
func (h *RuleHandler) CreateRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req createRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, h.logger, http.StatusBadRequest, err, "Invalid request body")
		return
	}
	if req.Name == "" {
		respondWithError(w, h.logger, http.StatusBadRequest,
			fmt.Errorf("%w: name is required", service.ErrInvalidInput), "Name is required")
		return
	}

	condition, err := models.DecodeCondition(req.RuleType, req.Conditions)
	if err != nil {
		respondWithError(w, h.logger, http.StatusBadRequest,
			fmt.Errorf("%w: %v", service.ErrInvalidInput, err), "Invalid rule condition")
		return
	}

	rule := &models.BlockingRule{
		Name:                 req.Name,
		RuleType:             req.RuleType,
		IsEnabled:            true,
		Priority:             req.Priority,
		Conditions:           req.Conditions,
		Condition:            condition,
		BlockDurationMinutes: req.BlockDurationMinutes,
		AutoUnblock:          req.AutoUnblock,
		NotifyOnTrigger:      req.NotifyOnTrigger,
	}
	if err := h.rules.Create(ctx, rule); err != nil {
		respondWithError(w, h.logger, getStatusCode(err), err, "Failed to create rule")
		return
	}

	respondWithJSON(w, h.logger, http.StatusCreated, successResponse(rule, "Rule created"))
	h.logger.Info("Rule created via HTTP",
		util.String("name", rule.Name),
		util.String("type", string(rule.RuleType)),
		util.Int64("rule_id", rule.RuleID),
	)
}

// DeleteRule removes a rule; system rules are protected.
func (h *RuleHandler) DeleteRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	ruleID, err := strconv.ParseInt(chi.URLParam(r, "ruleID"), 10, 64)
	if err != nil {
		respondWithError(w, h.logger, http.StatusBadRequest, err, "Invalid rule ID")
		return
	}

	if err := h.rules.Delete(ctx, ruleID); err != nil {
		respondWithError(w, h.logger, getStatusCode(err), err, "Failed to delete rule")
		return
	}

	respondWithJSON(w, h.logger, http.StatusOK, successResponse(nil, "Rule deleted"))
	h.logger.Info("Rule deleted via HTTP", util.Int64("rule_id", ruleID))
}
