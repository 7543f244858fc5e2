package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"

	"passpredict/db"
	"passpredict/features"
	"passpredict/inference"
	"passpredict/ml"
	"passpredict/monitoring"
)

type panicModel struct{}

func (panicModel) PredictLabel(ctx context.Context, record features.Record) (int, error) {
	panic("boom")
}

func (panicModel) PredictProbability(ctx context.Context, record features.Record) (float64, error) {
	panic("boom")
}

func newTestAPI(t *testing.T, opts ...inference.Option) *API {
	t.Helper()
	schema, err := features.NewSchema([]string{"age", "studytime", "absences"})
	if err != nil {
		t.Fatal(err)
	}
	tree, err := ml.NewDecisionTree([]ml.TreeNode{
		{FeatureIdx: 2, Threshold: 10, LeftChild: 1, RightChild: 2, MissingLeft: true},
		{IsLeaf: true, ClassLabel: 1, Probability: 0.8},
		{IsLeaf: true, ClassLabel: 0, Probability: 0.3},
	})
	if err != nil {
		t.Fatal(err)
	}
	encoder, err := ml.NewEncoder(schema, nil)
	if err != nil {
		t.Fatal(err)
	}
	predictor, err := inference.NewPredictor(schema, ml.NewEncodedModel(ml.TypeDecisionTree, encoder, tree), opts...)
	if err != nil {
		t.Fatal(err)
	}
	return &API{
		Predictor: predictor,
		Metrics:   monitoring.NewMetricsCollector(),
		Logger:    zap.NewNop(),
	}
}

func newTestHandler(api *API) http.Handler {
	return NewHandler(DefaultServerConfig(), api, zap.NewNop())
}

func doRequest(h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var payload map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &payload); err != nil {
		t.Fatalf("invalid json %q: %v", w.Body.String(), err)
	}
	return payload
}

func TestHealthHandler(t *testing.T) {
	req, err := http.NewRequest("GET", "/health", nil)
	if err != nil {
		t.Fatal(err)
	}

	rr := httptest.NewRecorder()
	handler := http.HandlerFunc(handleHealth)

	handler.ServeHTTP(rr, req)

	if status := rr.Code; status != http.StatusOK {
		t.Errorf("handler returned wrong status code: got %v want %v", status, http.StatusOK)
	}

	expected := `{"ok":true}`
	if rr.Body.String() != expected+"\n" && rr.Body.String() != expected {
		t.Errorf("handler returned unexpected body: got %v want %v", rr.Body.String(), expected)
	}
}

func TestHealthIgnoresModelState(t *testing.T) {
	h := newTestHandler(&API{Predictor: nil})
	w := doRequest(h, http.MethodGet, "/health", "")
	if w.Code != http.StatusOK || strings.TrimSpace(w.Body.String()) != `{"ok":true}` {
		t.Fatalf("got %d %s", w.Code, w.Body.String())
	}
}

func TestHandlePredict(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantStatus int
		check      func(t *testing.T, payload map[string]interface{})
	}{
		{
			name:       "complete features",
			body:       `{"features": {"age": 17, "studytime": 2, "absences": 5}}`,
			wantStatus: http.StatusOK,
			check: func(t *testing.T, payload map[string]interface{}) {
				if payload["prediction"] != 1.0 || payload["probability_pass"] != 0.8 {
					t.Errorf("unexpected payload %v", payload)
				}
			},
		},
		{
			name:       "many absences",
			body:       `{"features": {"absences": 30}}`,
			wantStatus: http.StatusOK,
			check: func(t *testing.T, payload map[string]interface{}) {
				if payload["prediction"] != 0.0 || payload["probability_pass"] != 0.3 {
					t.Errorf("unexpected payload %v", payload)
				}
			},
		},
		{
			name:       "empty features are all missing",
			body:       `{"features": {}}`,
			wantStatus: http.StatusOK,
		},
		{
			name:       "unknown feature",
			body:       `{"features": {"age": 17, "unknown_feat": 1}}`,
			wantStatus: http.StatusBadRequest,
			check: func(t *testing.T, payload map[string]interface{}) {
				if !strings.Contains(payload["detail"].(string), "unknown_feat") {
					t.Errorf("detail should name the feature: %v", payload["detail"])
				}
				unknown := payload["unknown_features"].([]interface{})
				if len(unknown) != 1 || unknown[0] != "unknown_feat" {
					t.Errorf("unknown_features = %v", unknown)
				}
			},
		},
		{
			name:       "wrong value type",
			body:       `{"features": {"absences": "many"}}`,
			wantStatus: http.StatusUnprocessableEntity,
			check: func(t *testing.T, payload map[string]interface{}) {
				detail := payload["detail"].(string)
				if !strings.HasPrefix(detail, "Inference failed: ") || !strings.Contains(detail, "absences") {
					t.Errorf("unexpected detail %q", detail)
				}
			},
		},
		{
			name:       "missing features field",
			body:       `{"age": 17}`,
			wantStatus: http.StatusUnprocessableEntity,
		},
		{
			name:       "malformed json",
			body:       `{"features": `,
			wantStatus: http.StatusUnprocessableEntity,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestHandler(newTestAPI(t))
			w := doRequest(h, http.MethodPost, "/predict", tt.body)
			if w.Code != tt.wantStatus {
				t.Fatalf("expected %d, got %d: %s", tt.wantStatus, w.Code, w.Body.String())
			}
			if ct := w.Header().Get("Content-Type"); ct != "application/json" {
				t.Errorf("content type = %q", ct)
			}
			payload := decodeBody(t, w)
			if tt.check != nil {
				tt.check(t, payload)
			}
		})
	}
}

func TestHandlePredictIsIdempotent(t *testing.T) {
	h := newTestHandler(newTestAPI(t, inference.WithCache(8)))
	body := `{"features": {"age": 17, "studytime": 2, "absences": 12}}`

	first := doRequest(h, http.MethodPost, "/predict", body)
	second := doRequest(h, http.MethodPost, "/predict", body)
	if first.Code != http.StatusOK || first.Body.String() != second.Body.String() {
		t.Fatalf("responses differ: %s vs %s", first.Body.String(), second.Body.String())
	}
}

func TestHandlePredictBodyTooLarge(t *testing.T) {
	config := DefaultServerConfig()
	config.MaxBodyBytes = 16
	h := NewHandler(config, newTestAPI(t), zap.NewNop())

	w := doRequest(h, http.MethodPost, "/predict", `{"features": {"age": 17, "studytime": 2}}`)
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", w.Code)
	}
}

func TestHandlePredictRecoversFromPanic(t *testing.T) {
	schema, _ := features.NewSchema([]string{"age"})
	predictor, err := inference.NewPredictor(schema, panicModel{})
	if err != nil {
		t.Fatal(err)
	}
	h := newTestHandler(&API{Predictor: predictor})

	w := doRequest(h, http.MethodPost, "/predict", `{"features": {}}`)
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}
}

func TestHandlePredictRecordsMetrics(t *testing.T) {
	api := newTestAPI(t)
	h := newTestHandler(api)

	doRequest(h, http.MethodPost, "/predict", `{"features": {"age": 17}}`)
	doRequest(h, http.MethodPost, "/predict", `{"features": {"nope": 1}}`)

	if got := api.Metrics.Counter("predict_requests_total", map[string]string{"outcome": monitoring.OutcomeOK}); got != 1 {
		t.Errorf("ok = %v", got)
	}
	if got := api.Metrics.Counter("predict_requests_total", map[string]string{"outcome": monitoring.OutcomeUnknownFeature}); got != 1 {
		t.Errorf("unknown_feature = %v", got)
	}

	w := doRequest(h, http.MethodGet, "/metrics", "")
	if w.Code != http.StatusOK {
		t.Fatalf("metrics status %d", w.Code)
	}
	if _, ok := decodeBody(t, w)["counters"]; !ok {
		t.Error("metrics response missing counters")
	}
}

func TestHandleSchema(t *testing.T) {
	h := newTestHandler(newTestAPI(t))
	w := doRequest(h, http.MethodGet, "/schema", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	names := decodeBody(t, w)["features"].([]interface{})
	if len(names) != 3 || names[0] != "age" || names[2] != "absences" {
		t.Fatalf("unexpected schema %v", names)
	}
}

func TestHandlePredictions(t *testing.T) {
	store, err := db.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	api := newTestAPI(t, inference.WithRecorder(store))
	api.Audit = store
	h := newTestHandler(api)

	doRequest(h, http.MethodPost, "/predict", `{"features": {"age": 17}}`)
	doRequest(h, http.MethodPost, "/predict", `{"features": {"age": "x"}}`)

	w := doRequest(h, http.MethodGet, "/predictions?limit=10", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	payload := decodeBody(t, w)
	if payload["count"] != 2.0 {
		t.Fatalf("expected 2 audit rows, got %v", payload["count"])
	}
	rows := payload["predictions"].([]interface{})
	if rows[0].(map[string]interface{})["request_id"] == "" {
		t.Error("request id not recorded")
	}

	if w := doRequest(h, http.MethodGet, "/predictions?limit=abc", ""); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for bad limit, got %d", w.Code)
	}
}

func TestPredictionsRouteRequiresStore(t *testing.T) {
	h := newTestHandler(newTestAPI(t))
	if w := doRequest(h, http.MethodGet, "/predictions", ""); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 without audit store, got %d", w.Code)
	}
}
