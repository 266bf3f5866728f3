package domain

import (
	"context"
)

// LabResolver maps a free-text lab label to a canonical lab name.
type LabResolver interface {
	FindCanonical(raw string) (string, bool)
}

// Predictor runs an external model over a completed feature vector.
type Predictor interface {
	Predict(ctx context.Context, task Task, features *FeatureVector) (*Prediction, error)
}

// ConfigManager defines the interface for configuration management
type ConfigManager interface {
	GetConfig() *Config
	GetDatabaseConfig() *DatabaseConfig
	GetInferenceConfig() *InferenceConfig
	GetServerConfig() *ServerConfig
	Reload() error
	Validate() error
	GetDatabaseConnectionString() string
	GetRedisConnectionString() string
	IsProduction() bool
	IsDevelopment() bool
}
