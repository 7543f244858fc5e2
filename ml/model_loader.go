package ml

import (
	"fmt"

	"passpredict/features"
)

const (
	TypeDecisionTree = "decision_tree"
	TypeXGBoost      = "xgboost"
	TypeLogistic     = "logistic"
	TypeONNX         = "onnx"
)

// LoadOptions carries backend-independent loading settings.
type LoadOptions struct {
	Categories Categories
	ONNX       ONNXOptions
}

type featureCounter interface {
	NumFeatures() int
}

// LoadModel reads the artifact at path as modelType and binds it to schema.
func LoadModel(modelType, path string, schema *features.Schema, opts LoadOptions) (*EncodedModel, error) {
	encoder, err := NewEncoder(schema, opts.Categories)
	if err != nil {
		return nil, err
	}

	var classifier Classifier
	switch modelType {
	case TypeDecisionTree:
		tree := &DecisionTree{}
		if err := tree.Load(path); err != nil {
			return nil, fmt.Errorf("load decision tree %s: %w", path, err)
		}
		if tree.NumFeatures() > encoder.Width() {
			return nil, fmt.Errorf("decision tree reads feature %d, schema has %d", tree.NumFeatures()-1, encoder.Width())
		}
		classifier = tree
	case TypeXGBoost:
		classifier, err = LoadXGBoost(path)
	case TypeLogistic:
		classifier, err = LoadLogisticRegression(path)
	case TypeONNX:
		classifier, err = LoadONNX(path, opts.ONNX)
	default:
		return nil, fmt.Errorf("unsupported model type %q", modelType)
	}
	if err != nil {
		return nil, fmt.Errorf("load %s model %s: %w", modelType, path, err)
	}

	if modelType != TypeDecisionTree {
		if fc, ok := classifier.(featureCounter); ok && fc.NumFeatures() > 0 && fc.NumFeatures() != encoder.Width() {
			model := NewEncodedModel(modelType, encoder, classifier)
			_ = model.Close()
			return nil, fmt.Errorf("%s model expects %d features, schema has %d", modelType, fc.NumFeatures(), encoder.Width())
		}
	}

	return NewEncodedModel(modelType, encoder, classifier), nil
}
