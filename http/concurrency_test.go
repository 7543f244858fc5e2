package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"testing"

	"passpredict/inference"
	"passpredict/monitoring"
)

type countingRecorder struct {
	mu    sync.Mutex
	total int
}

func (c *countingRecorder) RecordPrediction(ctx context.Context, entry inference.Entry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.total++
	return nil
}

func TestPredictConcurrentRequests(t *testing.T) {
	recorder := &countingRecorder{}
	// Cache smaller than the set of distinct bodies so entries get evicted.
	api := newTestAPI(t, inference.WithCache(4), inference.WithRecorder(recorder))
	h := newTestHandler(api)

	absences := []int{2, 4, 6, 8, 12, 14, 16, 18}
	const workers = 16
	const perWorker = 25

	var wg sync.WaitGroup
	errs := make(chan string, workers*perWorker)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				a := absences[(worker+j)%len(absences)]
				body := fmt.Sprintf(`{"features": {"age": 17, "absences": %d}}`, a)
				w := doRequest(h, http.MethodPost, "/predict", body)
				if w.Code != http.StatusOK {
					errs <- fmt.Sprintf("absences=%d: status %d", a, w.Code)
					continue
				}
				var result inference.Result
				if err := json.Unmarshal(w.Body.Bytes(), &result); err != nil {
					errs <- err.Error()
					continue
				}
				want := inference.Result{Prediction: 1, ProbabilityPass: 0.8}
				if a > 10 {
					want = inference.Result{Prediction: 0, ProbabilityPass: 0.3}
				}
				if result != want {
					errs <- fmt.Sprintf("absences=%d: got %+v want %+v", a, result, want)
				}
				if j%5 == 0 {
					if w := doRequest(h, http.MethodGet, "/metrics", ""); w.Code != http.StatusOK {
						errs <- fmt.Sprintf("metrics status %d", w.Code)
					}
				}
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for e := range errs {
		t.Error(e)
	}

	total := workers * perWorker
	if got := api.Metrics.Counter("predict_requests_total", map[string]string{"outcome": monitoring.OutcomeOK}); got != float64(total) {
		t.Errorf("ok counter = %v want %d", got, total)
	}
	recorder.mu.Lock()
	defer recorder.mu.Unlock()
	if recorder.total != total {
		t.Errorf("recorded %d predictions, want %d", recorder.total, total)
	}
}
