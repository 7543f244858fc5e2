// Package config 加载服务配置（YAML文件 + 环境变量覆盖）
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/multierr"
	"gopkg.in/yaml.v2"
)

// Config 服务配置
type Config struct {
	Http struct {
		Port           int           `yaml:"port"`
		AllowedOrigins []string      `yaml:"allowed_origins"`
		ReadTimeout    time.Duration `yaml:"read_timeout"`
		WriteTimeout   time.Duration `yaml:"write_timeout"`
		MaxBodyBytes   int64         `yaml:"max_body_bytes"`
	} `yaml:"http"`
	Model struct {
		Type         string                        `yaml:"type"`
		Path         string                        `yaml:"path"`
		FeaturesPath string                        `yaml:"features_path"`
		Categories   map[string]map[string]float64 `yaml:"categories"`
		ONNX         struct {
			LibraryPath       string `yaml:"library_path"`
			InputName         string `yaml:"input_name"`
			LabelOutput       string `yaml:"label_output"`
			ProbabilityOutput string `yaml:"probability_output"`
			IntraOpThreads    int    `yaml:"intra_op_threads"`
		} `yaml:"onnx"`
	} `yaml:"model"`
	Cache struct {
		Size int `yaml:"size"`
	} `yaml:"cache"`
	Database struct {
		Path string `yaml:"path"`
	} `yaml:"database"`
	Metrics struct {
		// ExportInterval 为 0 时不导出 OpenTelemetry 指标
		ExportInterval time.Duration `yaml:"export_interval"`
	} `yaml:"metrics"`
	Log LogConfig `yaml:"log"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// Default 默认配置
func Default() *Config {
	cfg := &Config{}
	cfg.Http.Port = 8000
	cfg.Http.AllowedOrigins = []string{"http://localhost:5173"}
	cfg.Http.ReadTimeout = 15 * time.Second
	cfg.Http.WriteTimeout = 15 * time.Second
	cfg.Http.MaxBodyBytes = 1 << 20
	cfg.Model.Type = "xgboost"
	cfg.Model.Path = "student_performance_xgb.json"
	cfg.Model.FeaturesPath = "features.json"
	cfg.Cache.Size = 1024
	cfg.Log = LogConfig{Level: "info", MaxSizeMB: 100, MaxBackups: 3, MaxAgeDays: 28}
	return cfg
}

// Load 读取配置文件，path 为空时只使用默认值和环境变量
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		file, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer file.Close()

		if err := yaml.NewDecoder(file).Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	applyEnv(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.Http.Port = getenvInt("PASSPREDICT_PORT", cfg.Http.Port)
	cfg.Model.Type = getenv("PASSPREDICT_MODEL_TYPE", cfg.Model.Type)
	cfg.Model.Path = getenv("PASSPREDICT_MODEL_PATH", cfg.Model.Path)
	cfg.Model.FeaturesPath = getenv("PASSPREDICT_FEATURES_PATH", cfg.Model.FeaturesPath)
	cfg.Database.Path = getenv("PASSPREDICT_DB_PATH", cfg.Database.Path)
	cfg.Log.Level = getenv("PASSPREDICT_LOG_LEVEL", cfg.Log.Level)
	if v := os.Getenv("PASSPREDICT_ALLOWED_ORIGINS"); v != "" {
		var origins []string
		for _, origin := range strings.Split(v, ",") {
			if origin = strings.TrimSpace(origin); origin != "" {
				origins = append(origins, origin)
			}
		}
		cfg.Http.AllowedOrigins = origins
	}
}

// Validate 检查配置是否可用
func (c *Config) Validate() error {
	var err error
	if c.Http.Port <= 0 || c.Http.Port > 65535 {
		err = multierr.Append(err, fmt.Errorf("http.port %d out of range", c.Http.Port))
	}
	if c.Http.MaxBodyBytes <= 0 {
		err = multierr.Append(err, errors.New("http.max_body_bytes must be positive"))
	}
	if c.Model.Type == "" {
		err = multierr.Append(err, errors.New("model.type is required"))
	}
	if c.Model.Path == "" {
		err = multierr.Append(err, errors.New("model.path is required"))
	}
	if c.Model.FeaturesPath == "" {
		err = multierr.Append(err, errors.New("model.features_path is required"))
	}
	if c.Cache.Size < 0 {
		err = multierr.Append(err, errors.New("cache.size must not be negative"))
	}
	if c.Metrics.ExportInterval < 0 {
		err = multierr.Append(err, errors.New("metrics.export_interval must not be negative"))
	}
	return err
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
