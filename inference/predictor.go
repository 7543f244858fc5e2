// Package inference runs aligned records through the model and shapes the
// prediction result.
package inference

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"passpredict/features"
	"passpredict/ml"
)

// Result is the response of a successful prediction.
type Result struct {
	Prediction      int     `json:"prediction"`
	ProbabilityPass float64 `json:"probability_pass"`
}

// Entry describes one completed inference for a Recorder.
type Entry struct {
	RequestID string
	Record    features.Record
	Result    Result
	Err       error
	Duration  time.Duration
	At        time.Time
	// Cached is set when the result came from the prediction cache.
	Cached bool
}

// Recorder receives every completed prediction, successful or not,
// including results served from the cache.
type Recorder interface {
	RecordPrediction(ctx context.Context, entry Entry) error
}

// Predictor owns the immutable schema and model handles.
type Predictor struct {
	schema   *features.Schema
	model    ml.Model
	cache    *lru.Cache[string, Result]
	recorder Recorder
	logger   *zap.Logger
}

type Option func(*Predictor) error

// WithCache keeps up to size successful results keyed by aligned record.
func WithCache(size int) Option {
	return func(p *Predictor) error {
		if size <= 0 {
			return nil
		}
		cache, err := lru.New[string, Result](size)
		if err != nil {
			return fmt.Errorf("create prediction cache: %w", err)
		}
		p.cache = cache
		return nil
	}
}

func WithRecorder(r Recorder) Option {
	return func(p *Predictor) error {
		p.recorder = r
		return nil
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(p *Predictor) error {
		p.logger = logger
		return nil
	}
}

func NewPredictor(schema *features.Schema, model ml.Model, opts ...Option) (*Predictor, error) {
	if schema == nil || model == nil {
		return nil, errors.New("predictor requires a schema and a model")
	}
	p := &Predictor{
		schema: schema,
		model:  model,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		if err := opt(p); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func (p *Predictor) Schema() *features.Schema {
	return p.schema
}

// PredictFeatures aligns raw against the schema and runs Predict. Unknown
// features fail with *features.ValidationError before the model is called.
func (p *Predictor) PredictFeatures(ctx context.Context, raw features.RawRecord) (Result, error) {
	record, err := p.schema.Align(raw)
	if err != nil {
		return Result{}, err
	}
	return p.Predict(ctx, record)
}

// Predict runs the model on an aligned record. Every model failure is
// returned as *ml.InferenceError.
func (p *Predictor) Predict(ctx context.Context, record features.Record) (Result, error) {
	start := time.Now()
	key, cacheable := p.cacheKey(record)
	if cacheable {
		if result, ok := p.cache.Get(key); ok {
			p.record(ctx, Entry{
				RequestID: RequestID(ctx),
				Record:    record,
				Result:    result,
				Duration:  time.Since(start),
				At:        start,
				Cached:    true,
			})
			return result, nil
		}
	}

	result, err := p.infer(ctx, record)
	p.record(ctx, Entry{
		RequestID: RequestID(ctx),
		Record:    record,
		Result:    result,
		Err:       err,
		Duration:  time.Since(start),
		At:        start,
	})
	if err != nil {
		return Result{}, err
	}
	if cacheable {
		p.cache.Add(key, result)
	}
	return result, nil
}

func (p *Predictor) infer(ctx context.Context, record features.Record) (Result, error) {
	if len(record) != p.schema.Len() {
		return Result{}, &ml.InferenceError{
			Cause: fmt.Errorf("record has %d values, schema has %d", len(record), p.schema.Len()),
		}
	}

	proba, err := p.model.PredictProbability(ctx, record)
	if err != nil {
		return Result{}, &ml.InferenceError{Cause: err}
	}
	if math.IsNaN(proba) || proba < 0 || proba > 1 {
		return Result{}, &ml.InferenceError{Cause: fmt.Errorf("probability %v outside [0, 1]", proba)}
	}

	label, err := p.model.PredictLabel(ctx, record)
	if err != nil {
		return Result{}, &ml.InferenceError{Cause: err}
	}
	if label != 0 && label != 1 {
		return Result{}, &ml.InferenceError{Cause: fmt.Errorf("label %d is not 0 or 1", label)}
	}

	return Result{Prediction: label, ProbabilityPass: proba}, nil
}

func (p *Predictor) record(ctx context.Context, entry Entry) {
	if p.recorder == nil {
		return
	}
	if err := p.recorder.RecordPrediction(ctx, entry); err != nil {
		p.logger.Warn("failed to record prediction",
			zap.String("request_id", entry.RequestID),
			zap.Error(err))
	}
}

// cacheKey encodes record as JSON; the encoding is stable for a given input
// because record order is fixed by the schema.
func (p *Predictor) cacheKey(record features.Record) (string, bool) {
	if p.cache == nil {
		return "", false
	}
	key, err := json.Marshal(record)
	if err != nil {
		return "", false
	}
	return string(key), true
}
