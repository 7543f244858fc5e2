package ml

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
)

// LogisticRegression is a binary linear model with a sigmoid link. It cannot
// score records with missing values.
type LogisticRegression struct {
	Weights   []float64 `json:"weights"`
	Bias      float64   `json:"bias"`
	Threshold *float64  `json:"threshold,omitempty"`
}

func LoadLogisticRegression(path string) (*LogisticRegression, error) {
	payload, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var m LogisticRegression
	if err := json.Unmarshal(payload, &m); err != nil {
		return nil, fmt.Errorf("parse logistic model: %w", err)
	}
	if len(m.Weights) == 0 {
		return nil, errors.New("logistic model has no weights")
	}
	if m.Threshold != nil && (*m.Threshold < 0 || *m.Threshold > 1) {
		return nil, fmt.Errorf("logistic threshold %v outside [0, 1]", *m.Threshold)
	}
	return &m, nil
}

func (m *LogisticRegression) Predict(features []float64) (int, float64, error) {
	if len(features) != len(m.Weights) {
		return 0, 0, fmt.Errorf("expected %d features, got %d", len(m.Weights), len(features))
	}
	sum := m.Bias
	for j, v := range features {
		if math.IsNaN(v) {
			return 0, 0, fmt.Errorf("input contains NaN at feature index %d", j)
		}
		sum += m.Weights[j] * v
	}
	proba := sigmoid(sum)
	threshold := 0.5
	if m.Threshold != nil {
		threshold = *m.Threshold
	}
	label := 0
	if proba >= threshold {
		label = 1
	}
	return label, proba, nil
}

func (m *LogisticRegression) NumFeatures() int {
	return len(m.Weights)
}
