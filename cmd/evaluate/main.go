package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"go.uber.org/zap"

	"passpredict/config"
	"passpredict/db"
	"passpredict/features"
	"passpredict/inference"
	"passpredict/logger"
)

type sample struct {
	Features json.RawMessage `json:"features"`
	Label    *int            `json:"label"`
}

type labelledRecord struct {
	raw   features.RawRecord
	label int
}

type report struct {
	Samples            int
	Correct            int
	TruePositive       int
	PredictedPositive  int
	ActualPositive     int
	ValidationFailures int
	InferenceFailures  int
}

func main() {
	flag.String("config", "config.yaml", "path to the YAML config file")
	dataPath := flag.String("data", "", "labelled JSON-lines file")
	save := flag.Bool("save", false, "store the result in the configured database")
	flag.Parse()

	if *dataPath == "" {
		fmt.Fprintln(os.Stderr, "data is required")
		os.Exit(2)
	}

	cfg, err := config.Load(config.ResolvePath(flag.CommandLine, "config"))
	if err != nil {
		zap.NewExample().Fatal("failed to load config", zap.Error(err))
	}
	log, _ := logger.New(cfg.Log)
	defer log.Sync()

	schema, model, err := inference.LoadModel(cfg)
	if err != nil {
		log.Fatal("failed to load model", zap.Error(err))
	}
	defer model.Close()

	predictor, err := inference.NewPredictor(schema, model, inference.WithLogger(log))
	if err != nil {
		log.Fatal("failed to create predictor", zap.Error(err))
	}

	file, err := os.Open(*dataPath)
	if err != nil {
		log.Fatal("failed to open data", zap.Error(err))
	}
	samples, err := readSamples(file)
	file.Close()
	if err != nil {
		log.Fatal("failed to read data", zap.Error(err))
	}

	ctx := context.Background()
	result := evaluate(ctx, predictor, samples)
	accuracy, precision, recall := result.metrics()
	fmt.Printf("samples=%d accuracy=%.4f precision=%.4f recall=%.4f validation_failures=%d inference_failures=%d\n",
		result.Samples, accuracy, precision, recall, result.ValidationFailures, result.InferenceFailures)

	if !*save {
		return
	}
	if cfg.Database.Path == "" {
		log.Fatal("save requested but database.path is not set")
	}
	store, err := db.Open(cfg.Database.Path)
	if err != nil {
		log.Fatal("failed to open database", zap.Error(err))
	}
	defer store.Close()
	err = store.SaveEvaluation(ctx, db.EvaluationLog{
		ModelType:   model.Kind(),
		ModelPath:   cfg.Model.Path,
		Accuracy:    accuracy,
		Precision:   precision,
		Recall:      recall,
		Samples:     result.Samples,
		Failures:    result.ValidationFailures + result.InferenceFailures,
		EvaluatedAt: time.Now(),
	})
	if err != nil {
		log.Error("failed to save evaluation", zap.Error(err))
	}
}

// readSamples parses one {"features": {...}, "label": 0|1} object per line.
// Blank lines are skipped.
func readSamples(r io.Reader) ([]labelledRecord, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)

	var out []labelledRecord
	line := 0
	for scanner.Scan() {
		line++
		text := scanner.Bytes()
		if len(bytes.TrimSpace(text)) == 0 {
			continue
		}
		var s sample
		if err := json.Unmarshal(text, &s); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if s.Label == nil || (*s.Label != 0 && *s.Label != 1) {
			return nil, fmt.Errorf("line %d: label must be 0 or 1", line)
		}
		raw, err := inference.ParseFeatures(s.Features)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		out = append(out, labelledRecord{raw: raw, label: *s.Label})
	}
	return out, scanner.Err()
}

func evaluate(ctx context.Context, predictor *inference.Predictor, samples []labelledRecord) report {
	var r report
	for _, s := range samples {
		r.Samples++
		if s.label == 1 {
			r.ActualPositive++
		}

		result, err := predictor.PredictFeatures(ctx, s.raw)
		if err != nil {
			var validationErr *features.ValidationError
			if errors.As(err, &validationErr) {
				r.ValidationFailures++
			} else {
				r.InferenceFailures++
			}
			continue
		}

		if result.Prediction == s.label {
			r.Correct++
		}
		if result.Prediction == 1 {
			r.PredictedPositive++
			if s.label == 1 {
				r.TruePositive++
			}
		}
	}
	return r
}

// metrics treats failed samples as wrong predictions for accuracy.
func (r report) metrics() (accuracy, precision, recall float64) {
	if r.Samples == 0 {
		return 0, 0, 0
	}
	accuracy = float64(r.Correct) / float64(r.Samples)
	if r.PredictedPositive > 0 {
		precision = float64(r.TruePositive) / float64(r.PredictedPositive)
	}
	if r.ActualPositive > 0 {
		recall = float64(r.TruePositive) / float64(r.ActualPositive)
	}
	return accuracy, precision, recall
}
