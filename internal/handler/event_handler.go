package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"sshwatch/internal/models"
	"sshwatch/internal/service"
	"sshwatch/internal/util"
)

// EventHandler serves event submission and escalation signals.
type EventHandler struct {
	eventService *service.EventService
	logger       *zap.Logger
}

func NewEventHandler(eventService *service.EventService, logger *zap.Logger) *EventHandler {
	return &EventHandler{
		eventService: eventService,
		logger:       logger,
	}
}

// RegisterRoutes registers event and escalation routes.
func (h *EventHandler) RegisterRoutes(router chi.Router) {
	router.Route("/events", func(r chi.Router) {
		r.Post("/", h.SubmitEvent)
		r.Post("/batch", h.SubmitBatch)
		r.Post("/raw", h.SubmitRawLine)
	})
	router.Post("/escalations", h.SubmitEscalation)
}

// SubmitEvent ingests one structured authentication event and returns
// the synchronous decision.
func (h *EventHandler) SubmitEvent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	startTime := time.Now()

	var req service.SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, h.logger, http.StatusBadRequest, err, "Invalid request body")
		return
	}

	result, err := h.eventService.Submit(ctx, req)
	if err != nil {
		respondWithError(w, h.logger, getStatusCode(err), err, "Failed to process event")
		return
	}

	respondWithJSON(w, h.logger, http.StatusCreated, successResponse(result, "Event processed"))
	h.logger.Info("Event processed via HTTP",
		util.String("event_id", result.EventID.String()),
		util.String("ip", result.Assessment.IP),
		util.Int("composite_score", result.Assessment.CompositeScore),
		util.Duration("duration", time.Since(startTime)),
	)
}

// SubmitBatch ingests up to the batch limit of events in one request.
func (h *EventHandler) SubmitBatch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	startTime := time.Now()

	var reqs []service.SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&reqs); err != nil {
		respondWithError(w, h.logger, http.StatusBadRequest, err, "Invalid request body")
		return
	}

	results, err := h.eventService.SubmitBatch(ctx, reqs)
	if err != nil {
		respondWithError(w, h.logger, getStatusCode(err), err, "Failed to process batch")
		return
	}

	accepted := 0
	for _, result := range results {
		if result != nil {
			accepted++
		}
	}
	response := successResponse(results, "Batch processed")
	response.Meta = &Meta{Total: accepted}
	respondWithJSON(w, h.logger, http.StatusCreated, response)

	h.logger.Info("Batch processed via HTTP",
		util.Int("submitted", len(reqs)),
		util.Int("accepted", accepted),
		util.Duration("duration", time.Since(startTime)),
	)
}

type rawLineRequest struct {
	Line     string             `json:"line"`
	Hostname string             `json:"hostname,omitempty"`
	Source   models.EventSource `json:"source,omitempty"`
}

// SubmitRawLine parses one raw sshd log line and runs the pipeline.
func (h *EventHandler) SubmitRawLine(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req rawLineRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, h.logger, http.StatusBadRequest, err, "Invalid request body")
		return
	}
	source := req.Source
	if source == "" {
		source = models.SourceAgent
	}

	result, err := h.eventService.SubmitRawLine(ctx, req.Line, req.Hostname, source)
	if err != nil {
		if err == service.ErrUnparsedLine {
			// Dropped lines are not an agent error.
			respondWithJSON(w, h.logger, http.StatusAccepted, successResponse(nil, "Line did not match any pattern"))
			return
		}
		respondWithError(w, h.logger, getStatusCode(err), err, "Failed to process log line")
		return
	}

	respondWithJSON(w, h.logger, http.StatusCreated, successResponse(result, "Event processed"))
}

// SubmitEscalation evaluates an external perimeter-ban signal.
func (h *EventHandler) SubmitEscalation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	startTime := time.Now()

	var ban models.PerimeterBan
	if err := json.NewDecoder(r.Body).Decode(&ban); err != nil {
		respondWithError(w, h.logger, http.StatusBadRequest, err, "Invalid request body")
		return
	}

	record, err := h.eventService.SubmitPerimeterBan(ctx, ban)
	if err != nil {
		respondWithError(w, h.logger, getStatusCode(err), err, "Failed to evaluate escalation")
		return
	}

	respondWithJSON(w, h.logger, http.StatusOK, successResponse(record, "Escalation evaluated"))
	h.logger.Info("Escalation evaluated via HTTP",
		util.String("ip", ban.IP),
		util.Int("threat_score", record.ThreatScore),
		util.Bool("auto_escalated", record.AutoEscalated),
		util.Duration("duration", time.Since(startTime)),
	)
}
