// Package handlers provides HTTP handlers for the concentration API.
package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/sotalya/tucuxi-core-sub004/internal/api/middleware"
	"github.com/sotalya/tucuxi-core-sub004/internal/core/intake"
	"github.com/sotalya/tucuxi-core-sub004/internal/core/pkmodel"
	"github.com/sotalya/tucuxi-core-sub004/internal/core/unit"
	"github.com/sotalya/tucuxi-core-sub004/internal/domain/treatment"
	"github.com/sotalya/tucuxi-core-sub004/internal/infrastructure/postgres"
	"github.com/sotalya/tucuxi-core-sub004/internal/observability/metrics"
)

// PredictionHandler serves predictions, intakes, treatments and estimations.
type PredictionHandler struct {
	store   *postgres.Store
	queue   *postgres.Queue
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewPredictionHandler creates a new handler.
func NewPredictionHandler(store *postgres.Store, queue *postgres.Queue, m *metrics.Metrics, logger *zap.Logger) *PredictionHandler {
	return &PredictionHandler{store: store, queue: queue, metrics: m, logger: logger}
}

// Routes returns the handler routes.
func (h *PredictionHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/predictions", h.Predict)
	r.Post("/intakes", h.ExtractIntakes)
	r.Post("/treatments", h.CreateTreatment)
	r.Get("/treatments/{id}", h.GetTreatment)
	r.Post("/treatments/{id}/samples", h.AddSamples)
	r.Post("/estimations", h.QueueEstimation)
	r.Get("/estimations/{id}", h.GetEstimation)
	return r
}

// IntakeView is one extracted intake on the wire.
type IntakeView struct {
	Time         time.Time          `json:"time"`
	Dose         float64            `json:"dose"`
	Unit         string             `json:"unit"`
	Interval     treatment.Duration `json:"interval"`
	InfusionTime treatment.Duration `json:"infusionTime,omitempty"`
	Route        string             `json:"route,omitempty"`
	Absorption   string             `json:"absorption"`
	PointsCount  int                `json:"pointsCount"`
}

// CycleView is the concentration trajectory of one dosing interval.
type CycleView struct {
	Start time.Time `json:"start"`
	// Times are hours since the intake.
	Times          []float64 `json:"times"`
	Concentrations []float64 `json:"concentrations"`
}

// PredictionResponse is the full predicted trajectory.
type PredictionResponse struct {
	Model  string      `json:"model"`
	Unit   string      `json:"unit"`
	Cycles []CycleView `json:"cycles"`
}

// Predict handles POST /predictions: extract the intakes of the window and
// integrate the model through them, carrying residuals between cycles.
func (h *PredictionHandler) Predict(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tracer := otel.Tracer("prediction-handler")
	ctx, span := tracer.Start(ctx, "predict")
	defer span.End()

	started := time.Now()

	var req treatment.PredictionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	series, doseUnit, err := h.extract(&req.History, req.Start, req.End, req.PointsPerHour, req.DoseUnit)
	if err != nil {
		h.metrics.ExtractionFailures.Inc()
		h.jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	span.SetAttributes(attribute.Int("intake_count", len(series)))

	model, err := treatment.ModelByName(req.Model)
	if err != nil {
		h.jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	calc := pkmodel.NewRK4Calculator(model)
	params := pkmodel.NewParameterSet(req.Parameters)

	resp := PredictionResponse{Model: req.Model, Unit: string(doseUnit)}
	residuals := make([]float64, calc.Compartments())
	for _, ev := range series {
		cycle, err := calc.CalculatePoints(ev, params, residuals, false)
		if err != nil {
			h.metrics.PredictionFailures.Inc()
			h.logger.Error("prediction failed",
				zap.Time("intake", ev.Time),
				zap.String("request_id", middleware.GetRequestID(ctx)),
				zap.Error(err))
			h.jsonError(w, "prediction failed: "+err.Error(), http.StatusUnprocessableEntity)
			return
		}
		resp.Cycles = append(resp.Cycles, CycleView{
			Start:          ev.Time,
			Times:          cycle.Times,
			Concentrations: cycle.Concentrations[0],
		})
		residuals = cycle.Residuals
	}

	h.metrics.PredictionsComputed.Inc()
	h.metrics.PredictionDuration.Observe(time.Since(started).Seconds())
	h.writeJSON(w, http.StatusOK, resp)
}

// ExtractIntakesRequest asks for the flattened intakes of a window.
type ExtractIntakesRequest struct {
	History       treatment.HistorySpec `json:"history"`
	Start         time.Time             `json:"start"`
	End           time.Time             `json:"end"`
	PointsPerHour float64               `json:"pointsPerHour,omitempty"`
	DoseUnit      string                `json:"doseUnit,omitempty"`
}

// ExtractIntakes handles POST /intakes.
func (h *PredictionHandler) ExtractIntakes(w http.ResponseWriter, r *http.Request) {
	var req ExtractIntakesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	series, doseUnit, err := h.extract(&req.History, req.Start, req.End, req.PointsPerHour, req.DoseUnit)
	if err != nil {
		h.metrics.ExtractionFailures.Inc()
		h.jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	views := make([]IntakeView, len(series))
	for i, ev := range series {
		views[i] = IntakeView{
			Time:         ev.Time,
			Dose:         ev.Dose,
			Unit:         string(doseUnit),
			Interval:     treatment.Duration(ev.Interval),
			InfusionTime: treatment.Duration(ev.InfusionTime),
			Route:        ev.Far.Route,
			Absorption:   string(ev.Far.Absorption),
			PointsCount:  ev.PointsCount,
		}
	}
	h.writeJSON(w, http.StatusOK, views)
}

// extract builds the history and flattens it into intakes.
func (h *PredictionHandler) extract(spec *treatment.HistorySpec, start, end time.Time, pointsPerHour float64, doseUnit string) (intake.Series, unit.Unit, error) {
	history, err := treatment.BuildHistory(*spec)
	if err != nil {
		return nil, "", err
	}
	if pointsPerHour <= 0 {
		pointsPerHour = 60
	}
	toUnit := unit.Unit(doseUnit)
	if doseUnit == "" {
		toUnit = unit.Milligram
	}

	var series intake.Series
	if err := intake.Extract(history, start, end, pointsPerHour, toUnit, &series, intake.EndOfCycle); err != nil {
		return nil, "", err
	}
	h.metrics.IntakesExtracted.Add(float64(len(series)))
	return series, toUnit, nil
}

// CreateTreatmentRequest is the body for creating a treatment.
type CreateTreatmentRequest struct {
	PatientRef string                `json:"patientRef"`
	History    treatment.HistorySpec `json:"history"`
}

// CreateTreatment handles POST /treatments.
func (h *PredictionHandler) CreateTreatment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req CreateTreatmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	// Validate before persisting.
	if _, err := treatment.BuildHistory(req.History); err != nil {
		h.jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	t := &postgres.Treatment{
		ID:         uuid.New().String(),
		PatientRef: req.PatientRef,
		History:    req.History,
	}
	if err := h.store.SaveTreatment(ctx, t); err != nil {
		h.logger.Error("save treatment failed", zap.Error(err))
		h.jsonError(w, "failed to save treatment", http.StatusInternalServerError)
		return
	}

	h.logger.Info("treatment created",
		zap.String("id", t.ID),
		zap.String("request_id", middleware.GetRequestID(ctx)))
	h.writeJSON(w, http.StatusCreated, map[string]string{"id": t.ID})
}

// GetTreatment handles GET /treatments/{id}.
func (h *PredictionHandler) GetTreatment(w http.ResponseWriter, r *http.Request) {
	t, err := h.store.GetTreatment(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.jsonError(w, "treatment not found", http.StatusNotFound)
		return
	}
	h.writeJSON(w, http.StatusOK, t)
}

// AddSamples handles POST /treatments/{id}/samples.
func (h *PredictionHandler) AddSamples(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	var samples []treatment.SampleSpec
	if err := json.NewDecoder(r.Body).Decode(&samples); err != nil {
		h.jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if len(samples) == 0 {
		h.jsonError(w, "at least one sample is required", http.StatusBadRequest)
		return
	}

	if _, err := h.store.GetTreatment(ctx, id); err != nil {
		h.jsonError(w, "treatment not found", http.StatusNotFound)
		return
	}
	if err := h.store.AddSamples(ctx, id, samples); err != nil {
		h.logger.Error("add samples failed", zap.Error(err))
		h.jsonError(w, "failed to save samples", http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, http.StatusCreated, map[string]int{"added": len(samples)})
}

// QueueEstimation handles POST /estimations: validates the request and
// enqueues it for a worker.
func (h *PredictionHandler) QueueEstimation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req treatment.EstimationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if _, err := treatment.BuildHistory(req.History); err != nil {
		h.jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if _, err := treatment.ModelByName(req.Model); err != nil {
		h.jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if _, err := treatment.BuildResidualModel(req); err != nil {
		h.jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	omega, err := treatment.BuildOmega(req.Omega)
	if err != nil {
		h.jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if omega.SymmetricDim() != len(req.TypicalValues) {
		h.jsonError(w, "omega dimension does not match typical values", http.StatusBadRequest)
		return
	}

	req.ID = uuid.New().String()
	req.RequestedAt = time.Now().UTC()

	if err := h.queue.EnqueueDirect(ctx, &req); err != nil {
		h.logger.Error("enqueue estimation failed", zap.Error(err))
		h.jsonError(w, "failed to queue estimation", http.StatusInternalServerError)
		return
	}

	h.metrics.EstimationsQueued.Inc()
	h.logger.Info("estimation queued",
		zap.String("id", req.ID),
		zap.String("treatment_id", req.TreatmentID),
		zap.String("request_id", middleware.GetRequestID(ctx)))
	h.writeJSON(w, http.StatusAccepted, map[string]string{"id": req.ID})
}

// GetEstimation handles GET /estimations/{id}.
func (h *PredictionHandler) GetEstimation(w http.ResponseWriter, r *http.Request) {
	res, err := h.store.GetResult(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.jsonError(w, "estimation not found or still running", http.StatusNotFound)
		return
	}
	h.writeJSON(w, http.StatusOK, res)
}

func (h *PredictionHandler) writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func (h *PredictionHandler) jsonError(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
