package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"passpredict/db"
	"passpredict/features"
	"passpredict/inference"
	"passpredict/ml"
	"passpredict/monitoring"
)

// PredictionLister 提供最近的预测审计记录
type PredictionLister interface {
	RecentPredictions(ctx context.Context, limit int) ([]db.PredictionLog, error)
}

// API 持有请求处理所需的只读依赖
type API struct {
	Predictor *inference.Predictor
	Metrics   *monitoring.MetricsCollector
	Audit     PredictionLister
	Logger    *zap.Logger
}

// RegisterHandlers 注册所有处理器
func RegisterHandlers(mux *http.ServeMux, api *API) {
	mux.HandleFunc("GET /health", handleHealth)
	mux.HandleFunc("POST /predict", api.handlePredict)
	mux.HandleFunc("GET /schema", api.handleSchema)
	if api.Metrics != nil {
		mux.HandleFunc("GET /metrics", api.handleMetrics)
	}
	if api.Audit != nil {
		mux.HandleFunc("GET /predictions", api.handlePredictions)
	}
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// unknownFeaturesResponse 400 响应
type unknownFeaturesResponse struct {
	Detail          string   `json:"detail"`
	UnknownFeatures []string `json:"unknown_features"`
}

func (api *API) handlePredict(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	outcome := monitoring.OutcomeOK
	defer func() {
		if api.Metrics != nil {
			api.Metrics.ObservePrediction(outcome, time.Since(start))
		}
	}()

	raw, err := inference.DecodeRequest(r.Body)
	if err != nil {
		outcome = monitoring.OutcomeInvalidPayload
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		respondError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	result, err := api.Predictor.PredictFeatures(r.Context(), raw)
	if err != nil {
		var verr *features.ValidationError
		var ierr *ml.InferenceError
		switch {
		case errors.As(err, &verr):
			outcome = monitoring.OutcomeUnknownFeature
			respondJSON(w, http.StatusBadRequest, unknownFeaturesResponse{
				Detail:          verr.Error(),
				UnknownFeatures: verr.Unknown,
			})
		case errors.As(err, &ierr):
			outcome = monitoring.OutcomeInferenceError
			api.logger().Info("inference failed",
				zap.String("request_id", inference.RequestID(r.Context())),
				zap.Error(ierr.Cause))
			respondError(w, http.StatusUnprocessableEntity, ierr.Error())
		default:
			outcome = monitoring.OutcomeInternalError
			api.logger().Error("prediction failed",
				zap.String("request_id", inference.RequestID(r.Context())),
				zap.Error(err))
			respondError(w, http.StatusInternalServerError, "internal server error")
		}
		return
	}

	respondJSON(w, http.StatusOK, result)
}

func (api *API) handleSchema(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string][]string{
		"features": api.Predictor.Schema().Names(),
	})
}

func (api *API) handleMetrics(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, api.Metrics.Snapshot())
}

func (api *API) handlePredictions(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		l, err := strconv.Atoi(limitStr)
		if err != nil || l <= 0 || l > 1000 {
			respondError(w, http.StatusBadRequest, "limit must be between 1 and 1000")
			return
		}
		limit = l
	}

	logs, err := api.Audit.RecentPredictions(r.Context(), limit)
	if err != nil {
		api.logger().Error("query predictions failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"predictions": logs,
		"count":       len(logs),
	})
}

func (api *API) logger() *zap.Logger {
	if api.Logger == nil {
		return zap.NewNop()
	}
	return api.Logger
}

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, detail string) {
	respondJSON(w, status, map[string]string{"detail": detail})
}
