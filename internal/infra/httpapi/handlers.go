// internal/infra/httpapi/handlers.go
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"outreach_cadence_engine/internal/app"
	"outreach_cadence_engine/internal/domain/event"
	idb "outreach_cadence_engine/internal/infra/database"
)

// RegisterHandlers wires the event ingestion and run control endpoints onto
// the mux. These are the engine's external surface: the CRM webhook bridge
// posts events, the surrounding admin layer drives run control. Authentication
// is terminated upstream.
func RegisterHandlers(mux *http.ServeMux, runs *app.EnrollmentService, eventBus event.Bus, baseLogger *logrus.Entry) {
	h := &handlers{runs: runs, bus: eventBus, logger: baseLogger}

	mux.HandleFunc("POST /events/lead-assigned", h.leadAssigned)
	mux.HandleFunc("POST /events/stop-signal", h.stopSignal)
	mux.HandleFunc("POST /cadences/{cadenceID}/enrollments", h.enroll)
	mux.HandleFunc("POST /runs/{id}/stop", h.stopRun)
	mux.HandleFunc("POST /runs/{id}/pause", h.pauseRun)
	mux.HandleFunc("POST /runs/{id}/resume", h.resumeRun)
	mux.HandleFunc("GET /runs/{id}", h.getRun)
	mux.HandleFunc("GET /leads/{leadID}/runs", h.listLeadRuns)
}

type handlers struct {
	runs   *app.EnrollmentService
	bus    event.Bus
	logger *logrus.Entry
}

var knownSignalTypes = map[event.SignalType]bool{
	event.SignalLeadRepliedEmail:   true,
	event.SignalLeadRepliedSMS:     true,
	event.SignalIncomingCallLogged: true,
	event.SignalOutgoingCallLogged: true,
	event.SignalMeetingBooked:      true,
	event.SignalLeadStageChange:    true,
	event.SignalLeadUnsubscribed:   true,
}

func (h *handlers) leadAssigned(w http.ResponseWriter, r *http.Request) {
	entry := h.logger.WithField("handler", "POST /events/lead-assigned")

	var evt event.LeadAssigned
	if err := json.NewDecoder(r.Body).Decode(&evt); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if evt.LeadID == 0 {
		writeError(w, http.StatusBadRequest, "lead_id is required")
		return
	}
	if evt.OccurredAt.IsZero() {
		evt.OccurredAt = time.Now()
	}

	if err := h.bus.PublishLeadAssigned(r.Context(), evt); err != nil {
		entry.WithError(err).Error("Failed to publish lead assignment")
		writeError(w, http.StatusServiceUnavailable, "event bus unavailable")
		return
	}
	entry.WithField("lead_id", evt.LeadID).Info("Lead assignment accepted")
	w.WriteHeader(http.StatusAccepted)
}

func (h *handlers) stopSignal(w http.ResponseWriter, r *http.Request) {
	entry := h.logger.WithField("handler", "POST /events/stop-signal")

	var sig event.StopSignal
	if err := json.NewDecoder(r.Body).Decode(&sig); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if !knownSignalTypes[sig.Type] {
		writeError(w, http.StatusBadRequest, "unknown stop signal type")
		return
	}
	if sig.LeadID == 0 {
		writeError(w, http.StatusBadRequest, "lead_id is required")
		return
	}
	if sig.OccurredAt.IsZero() {
		sig.OccurredAt = time.Now()
	}

	if err := h.bus.PublishStopSignal(r.Context(), sig); err != nil {
		entry.WithError(err).Error("Failed to publish stop signal")
		writeError(w, http.StatusServiceUnavailable, "event bus unavailable")
		return
	}
	entry.WithFields(logrus.Fields{"signal_type": sig.Type, "lead_id": sig.LeadID}).Info("Stop signal accepted")
	w.WriteHeader(http.StatusAccepted)
}

type enrollRequest struct {
	LeadID   int64  `json:"lead_id"`
	Timezone string `json:"timezone,omitempty"`
}

func (h *handlers) enroll(w http.ResponseWriter, r *http.Request) {
	entry := h.logger.WithField("handler", "POST /cadences/{cadenceID}/enrollments")

	cadenceID, err := strconv.ParseInt(r.PathValue("cadenceID"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "cadence id must be numeric")
		return
	}
	var req enrollRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.LeadID == 0 {
		writeError(w, http.StatusBadRequest, "lead_id is required")
		return
	}

	entry = entry.WithFields(logrus.Fields{"cadence_id": cadenceID, "lead_id": req.LeadID})
	rn, err := h.runs.Enroll(r.Context(), cadenceID, req.LeadID, time.Now(), req.Timezone)
	if err != nil {
		var invalid *app.InvalidScheduleError
		switch {
		case errors.Is(err, app.ErrAlreadyEnrolled):
			entry.Warn("Duplicate enrollment rejected")
			writeError(w, http.StatusConflict, "lead already has a non-terminal run for this cadence")
		case errors.Is(err, app.ErrConcurrencyLimitReached):
			entry.Warn("Enrollment rejected by run cap")
			writeError(w, http.StatusConflict, "cadence concurrent run limit reached")
		case errors.Is(err, idb.ErrDefinitionNotFound):
			writeError(w, http.StatusNotFound, "cadence definition not found")
		case errors.As(err, &invalid):
			entry.WithError(err).Warn("Cadence definition rejected by schedule compiler")
			writeError(w, http.StatusUnprocessableEntity, invalid.Error())
		default:
			entry.WithError(err).Error("Enrollment failed")
			writeError(w, http.StatusInternalServerError, "enrollment failed")
		}
		return
	}

	entry.WithField("run_id", rn.ID).Info("Enrollment created")
	writeJSON(w, http.StatusCreated, runToView(rn))
}

type stopRequest struct {
	Reason string `json:"reason,omitempty"`
}

func (h *handlers) stopRun(w http.ResponseWriter, r *http.Request) {
	runID, ok := parseRunID(w, r)
	if !ok {
		return
	}
	var req stopRequest
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req) // body is optional
	}
	if req.Reason == "" {
		req.Reason = "manual"
	}

	if err := h.runs.Stop(r.Context(), runID, req.Reason); err != nil {
		h.logger.WithError(err).WithField("run_id", runID).Error("Failed to stop run")
		writeError(w, http.StatusInternalServerError, "failed to stop run")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) pauseRun(w http.ResponseWriter, r *http.Request) {
	h.transitionRun(w, r, h.runs.Pause, "pause")
}

func (h *handlers) resumeRun(w http.ResponseWriter, r *http.Request) {
	h.transitionRun(w, r, h.runs.Resume, "resume")
}

func (h *handlers) transitionRun(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, id uuid.UUID) error, name string) {
	runID, ok := parseRunID(w, r)
	if !ok {
		return
	}
	err := op(r.Context(), runID)
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, app.ErrRunFinished):
		writeError(w, http.StatusConflict, "run is already in a terminal state")
	case errors.Is(err, idb.ErrRunNotFound):
		writeError(w, http.StatusNotFound, "run not found")
	default:
		h.logger.WithError(err).WithFields(logrus.Fields{"run_id": runID, "op": name}).Error("Run transition failed")
		writeError(w, http.StatusInternalServerError, "run transition failed")
	}
}

func (h *handlers) getRun(w http.ResponseWriter, r *http.Request) {
	runID, ok := parseRunID(w, r)
	if !ok {
		return
	}
	detail, err := h.runs.GetRun(r.Context(), runID)
	if err != nil {
		if errors.Is(err, idb.ErrRunNotFound) {
			writeError(w, http.StatusNotFound, "run not found")
			return
		}
		h.logger.WithError(err).WithField("run_id", runID).Error("Failed to load run")
		writeError(w, http.StatusInternalServerError, "failed to load run")
		return
	}
	writeJSON(w, http.StatusOK, runDetailToView(detail))
}

func (h *handlers) listLeadRuns(w http.ResponseWriter, r *http.Request) {
	leadID, err := strconv.ParseInt(r.PathValue("leadID"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "lead id must be numeric")
		return
	}
	runs, err := h.runs.ListRunsForLead(r.Context(), leadID)
	if err != nil {
		h.logger.WithError(err).WithField("lead_id", leadID).Error("Failed to list runs for lead")
		writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	views := make([]runView, 0, len(runs))
	for _, rn := range runs {
		views = append(views, runToView(rn))
	}
	writeJSON(w, http.StatusOK, views)
}

func parseRunID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	runID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "run id must be a UUID")
		return uuid.UUID{}, false
	}
	return runID, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
