package ml

import (
	"context"
	"errors"
	"fmt"
	"io"

	"passpredict/features"
)

// Model is the opaque prediction capability the service runs inference
// against. Implementations must be safe for concurrent use.
type Model interface {
	PredictLabel(ctx context.Context, record features.Record) (int, error)
	PredictProbability(ctx context.Context, record features.Record) (float64, error)
}

// Classifier is a backend scoring a fixed-order numeric vector. The returned
// probability is for the positive class.
type Classifier interface {
	Predict(features []float64) (int, float64, error)
}

// InferenceError wraps any failure raised while running the model.
type InferenceError struct {
	Cause error
}

func (e *InferenceError) Error() string {
	return fmt.Sprintf("Inference failed: %v", e.Cause)
}

func (e *InferenceError) Unwrap() error {
	return e.Cause
}

// EncodedModel adapts a Classifier to Model by encoding aligned records first.
type EncodedModel struct {
	encoder    *Encoder
	classifier Classifier
	kind       string
}

func NewEncodedModel(kind string, encoder *Encoder, classifier Classifier) *EncodedModel {
	return &EncodedModel{encoder: encoder, classifier: classifier, kind: kind}
}

// Kind returns the backend type the model was loaded as.
func (m *EncodedModel) Kind() string {
	return m.kind
}

func (m *EncodedModel) PredictLabel(ctx context.Context, record features.Record) (int, error) {
	label, _, err := m.predict(ctx, record)
	return label, err
}

func (m *EncodedModel) PredictProbability(ctx context.Context, record features.Record) (float64, error) {
	_, proba, err := m.predict(ctx, record)
	return proba, err
}

func (m *EncodedModel) predict(ctx context.Context, record features.Record) (int, float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, 0, err
	}
	vector, err := m.encoder.Encode(record)
	if err != nil {
		return 0, 0, err
	}
	return m.classifier.Predict(vector)
}

// Close releases backend resources, if the backend holds any.
func (m *EncodedModel) Close() error {
	if closer, ok := m.classifier.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

var errNotTrained = errors.New("model not trained")
