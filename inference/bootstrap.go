package inference

import (
	"passpredict/config"
	"passpredict/features"
	"passpredict/ml"
)

// LoadModel loads the feature schema and the model artifact named by cfg.
// Both are read once; callers share the returned handles.
func LoadModel(cfg *config.Config) (*features.Schema, *ml.EncodedModel, error) {
	schema, err := features.LoadSchema(cfg.Model.FeaturesPath)
	if err != nil {
		return nil, nil, err
	}
	model, err := ml.LoadModel(cfg.Model.Type, cfg.Model.Path, schema, ml.LoadOptions{
		Categories: ml.Categories(cfg.Model.Categories),
		ONNX: ml.ONNXOptions{
			LibraryPath:       cfg.Model.ONNX.LibraryPath,
			InputName:         cfg.Model.ONNX.InputName,
			LabelOutput:       cfg.Model.ONNX.LabelOutput,
			ProbabilityOutput: cfg.Model.ONNX.ProbabilityOutput,
			IntraOpThreads:    cfg.Model.ONNX.IntraOpThreads,
		},
	})
	if err != nil {
		return nil, nil, err
	}
	return schema, model, nil
}
