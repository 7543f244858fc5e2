package ml

import (
	"errors"
	"fmt"
	"math"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

// ONNXOptions configures the ONNX Runtime backend.
type ONNXOptions struct {
	LibraryPath       string
	InputName         string
	LabelOutput       string
	ProbabilityOutput string
	IntraOpThreads    int
}

// ortEnv manages process-wide ONNX Runtime initialization.
var ortEnv struct {
	once sync.Once
	err  error
}

func initORT(libPath string) error {
	ortEnv.once.Do(func() {
		if libPath != "" {
			ort.SetSharedLibraryPath(libPath)
		}
		ortEnv.err = ort.InitializeEnvironment()
	})
	return ortEnv.err
}

var (
	defaultLabelOutputs       = []string{"label", "output_label"}
	defaultProbabilityOutputs = []string{"probabilities", "output_probability"}
)

// ONNXClassifier runs a classifier exported to ONNX with a single float
// input of shape [batch, features], an int64 label output and a float
// probability output of shape [batch, 2] (zipmap disabled).
type ONNXClassifier struct {
	session     *ort.DynamicAdvancedSession
	inputName   string
	labelName   string
	probaName   string
	numFeatures int64
}

func LoadONNX(path string, opts ONNXOptions) (*ONNXClassifier, error) {
	if err := initORT(opts.LibraryPath); err != nil {
		return nil, fmt.Errorf("onnx: failed to initialize runtime: %w", err)
	}

	inputs, outputs, err := ort.GetInputOutputInfo(path)
	if err != nil {
		return nil, fmt.Errorf("onnx: failed to read model info: %w", err)
	}

	input, err := pickInput(inputs, opts.InputName)
	if err != nil {
		return nil, err
	}
	var numFeatures int64
	if len(input.Dimensions) == 2 && input.Dimensions[1] > 0 {
		numFeatures = input.Dimensions[1]
	}

	outputNames := make([]string, len(outputs))
	for i, out := range outputs {
		outputNames[i] = out.Name
	}
	labelName, err := resolveOutput(outputNames, opts.LabelOutput, defaultLabelOutputs)
	if err != nil {
		return nil, err
	}
	probaName, err := resolveOutput(outputNames, opts.ProbabilityOutput, defaultProbabilityOutputs)
	if err != nil {
		return nil, err
	}

	sessionOpts, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("onnx: failed to create session options: %w", err)
	}
	defer sessionOpts.Destroy()
	if opts.IntraOpThreads > 0 {
		if err := sessionOpts.SetIntraOpNumThreads(opts.IntraOpThreads); err != nil {
			return nil, fmt.Errorf("onnx: failed to set threads: %w", err)
		}
	}

	session, err := ort.NewDynamicAdvancedSession(path, []string{input.Name}, []string{labelName, probaName}, sessionOpts)
	if err != nil {
		return nil, fmt.Errorf("onnx: failed to create session: %w", err)
	}

	return &ONNXClassifier{
		session:     session,
		inputName:   input.Name,
		labelName:   labelName,
		probaName:   probaName,
		numFeatures: numFeatures,
	}, nil
}

func pickInput(inputs []ort.InputOutputInfo, name string) (ort.InputOutputInfo, error) {
	if name == "" {
		if len(inputs) != 1 {
			return ort.InputOutputInfo{}, fmt.Errorf("onnx: model has %d inputs, set the input name explicitly", len(inputs))
		}
		return inputs[0], nil
	}
	for _, in := range inputs {
		if in.Name == name {
			return in, nil
		}
	}
	return ort.InputOutputInfo{}, fmt.Errorf("onnx: model has no input %q", name)
}

// resolveOutput returns the configured output name when set, otherwise the
// first well-known name present in the model.
func resolveOutput(available []string, configured string, defaults []string) (string, error) {
	candidates := defaults
	if configured != "" {
		candidates = []string{configured}
	}
	for _, want := range candidates {
		for _, name := range available {
			if name == want {
				return name, nil
			}
		}
	}
	return "", fmt.Errorf("onnx: model outputs %v contain none of %v", available, candidates)
}

func (c *ONNXClassifier) Predict(features []float64) (int, float64, error) {
	if c.numFeatures > 0 && int64(len(features)) != c.numFeatures {
		return 0, 0, fmt.Errorf("onnx: expected %d features, got %d", c.numFeatures, len(features))
	}
	data := make([]float32, len(features))
	for i, v := range features {
		data[i] = float32(v)
	}

	in, err := ort.NewTensor(ort.NewShape(1, int64(len(features))), data)
	if err != nil {
		return 0, 0, fmt.Errorf("onnx: failed to create input tensor: %w", err)
	}
	defer in.Destroy()

	labelOut, err := ort.NewEmptyTensor[int64](ort.NewShape(1))
	if err != nil {
		return 0, 0, fmt.Errorf("onnx: failed to create label tensor: %w", err)
	}
	defer labelOut.Destroy()

	probaOut, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 2))
	if err != nil {
		return 0, 0, fmt.Errorf("onnx: failed to create probability tensor: %w", err)
	}
	defer probaOut.Destroy()

	if err := c.session.Run([]ort.Value{in}, []ort.Value{labelOut, probaOut}); err != nil {
		return 0, 0, fmt.Errorf("onnx: inference failed: %w", err)
	}

	return decodeONNXOutputs(labelOut.GetData(), probaOut.GetData())
}

func decodeONNXOutputs(labels []int64, probas []float32) (int, float64, error) {
	if len(labels) < 1 || len(probas) < 2 {
		return 0, 0, errors.New("onnx: unexpected output shape")
	}
	proba := float64(probas[1])
	if math.IsNaN(proba) {
		return 0, 0, errors.New("onnx: probability is NaN")
	}
	return int(labels[0]), proba, nil
}

func (c *ONNXClassifier) NumFeatures() int {
	return int(c.numFeatures)
}

func (c *ONNXClassifier) Close() error {
	return c.session.Destroy()
}
