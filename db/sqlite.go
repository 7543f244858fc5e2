package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"passpredict/inference"
)

// Store is the SQLite audit log of predictions and offline evaluations.
type Store struct {
	database *sql.DB
}

// Open opens (or creates) the SQLite database at path and ensures the schema.
func Open(path string) (*Store, error) {
	database, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	query := `
    CREATE TABLE IF NOT EXISTS predictions (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        request_id TEXT,
        features TEXT NOT NULL,
        prediction INTEGER,
        probability REAL,
        error TEXT,
        duration_ms REAL,
        cached INTEGER NOT NULL DEFAULT 0,
        created_at DATETIME NOT NULL
    );
    CREATE INDEX IF NOT EXISTS idx_predictions_created_at ON predictions(created_at);
    CREATE TABLE IF NOT EXISTS evaluation_log (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        model_type VARCHAR(50),
        model_path TEXT,
        accuracy REAL,
        precision REAL,
        recall REAL,
        samples INTEGER,
        failures INTEGER,
        evaluated_at DATETIME
    );
    `

	if _, err := database.Exec(query); err != nil {
		database.Close()
		return nil, err
	}
	return &Store{database: database}, nil
}

func (s *Store) Close() error {
	return s.database.Close()
}

// RecordPrediction implements inference.Recorder.
func (s *Store) RecordPrediction(ctx context.Context, entry inference.Entry) error {
	payload, err := json.Marshal(entry.Record)
	if err != nil {
		return err
	}

	var prediction sql.NullInt64
	var probability sql.NullFloat64
	var errText sql.NullString
	if entry.Err != nil {
		errText = sql.NullString{String: entry.Err.Error(), Valid: true}
	} else {
		prediction = sql.NullInt64{Int64: int64(entry.Result.Prediction), Valid: true}
		probability = sql.NullFloat64{Float64: entry.Result.ProbabilityPass, Valid: true}
	}

	_, err = s.database.ExecContext(ctx, `
        INSERT INTO predictions (request_id, features, prediction, probability, error, duration_ms, cached, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.RequestID, string(payload), prediction, probability, errText,
		float64(entry.Duration)/float64(time.Millisecond), entry.Cached, entry.At.UTC())
	return err
}

type PredictionLog struct {
	ID              int64           `json:"id"`
	RequestID       string          `json:"request_id,omitempty"`
	Features        json.RawMessage `json:"features"`
	Prediction      *int            `json:"prediction,omitempty"`
	ProbabilityPass *float64        `json:"probability_pass,omitempty"`
	Error           string          `json:"error,omitempty"`
	DurationMs      float64         `json:"duration_ms"`
	Cached          bool            `json:"cached"`
	CreatedAt       time.Time       `json:"created_at"`
}

// RecentPredictions returns up to limit rows, newest first.
func (s *Store) RecentPredictions(ctx context.Context, limit int) ([]PredictionLog, error) {
	if limit <= 0 {
		return nil, errors.New("limit must be positive")
	}
	rows, err := s.database.QueryContext(ctx, `
        SELECT id, request_id, features, prediction, probability, error, duration_ms, cached, created_at
        FROM predictions
        ORDER BY id DESC
        LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]PredictionLog, 0)
	for rows.Next() {
		var (
			log         PredictionLog
			requestID   sql.NullString
			features    string
			prediction  sql.NullInt64
			probability sql.NullFloat64
			errText     sql.NullString
		)
		if err := rows.Scan(&log.ID, &requestID, &features, &prediction, &probability, &errText, &log.DurationMs, &log.Cached, &log.CreatedAt); err != nil {
			return nil, err
		}
		log.RequestID = requestID.String
		log.Features = json.RawMessage(features)
		if prediction.Valid {
			label := int(prediction.Int64)
			log.Prediction = &label
		}
		if probability.Valid {
			p := probability.Float64
			log.ProbabilityPass = &p
		}
		log.Error = errText.String
		logs = append(logs, log)
	}
	return logs, rows.Err()
}

type EvaluationLog struct {
	ModelType   string    `json:"model_type"`
	ModelPath   string    `json:"model_path"`
	Accuracy    float64   `json:"accuracy"`
	Precision   float64   `json:"precision"`
	Recall      float64   `json:"recall"`
	Samples     int       `json:"samples"`
	Failures    int       `json:"failures"`
	EvaluatedAt time.Time `json:"evaluated_at"`
}

func (s *Store) SaveEvaluation(ctx context.Context, log EvaluationLog) error {
	_, err := s.database.ExecContext(ctx, `
        INSERT INTO evaluation_log (model_type, model_path, accuracy, precision, recall, samples, failures, evaluated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		log.ModelType, log.ModelPath, log.Accuracy, log.Precision, log.Recall, log.Samples, log.Failures, log.EvaluatedAt.UTC())
	return err
}

func (s *Store) LoadEvaluations(ctx context.Context) ([]EvaluationLog, error) {
	rows, err := s.database.QueryContext(ctx, `
        SELECT model_type, model_path, accuracy, precision, recall, samples, failures, evaluated_at
        FROM evaluation_log
        ORDER BY id DESC
    `)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]EvaluationLog, 0)
	for rows.Next() {
		var log EvaluationLog
		if err := rows.Scan(&log.ModelType, &log.ModelPath, &log.Accuracy, &log.Precision, &log.Recall, &log.Samples, &log.Failures, &log.EvaluatedAt); err != nil {
			return nil, err
		}
		logs = append(logs, log)
	}
	return logs, rows.Err()
}
