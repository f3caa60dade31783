// Package config defines service configuration structures and loading hooks.
package config

import (
	"runtime"
	"time"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// LogFormat selects the handler: text or json.
	LogFormat string `koanf:"log_format"`

	// Addr configures the HTTP listen address, e.g. ":5000".
	Addr string `koanf:"addr"`

	// DetectorURL is the external object detector endpoint.
	DetectorURL string `koanf:"detector_url"`

	// DetectorTimeoutMS bounds one detector call.
	DetectorTimeoutMS int `koanf:"detector_timeout_ms"`

	// ConfidenceThreshold is forwarded when an upload does not carry its own.
	ConfidenceThreshold float64 `koanf:"confidence_threshold"`

	// MaxUploadBytes caps POST /api/detect bodies.
	MaxUploadBytes int64 `koanf:"max_upload_bytes"`

	// AllowedExtensions lists accepted upload extensions without dots.
	AllowedExtensions []string `koanf:"allowed_extensions"`

	// KnowledgeBasePath points at a YAML knowledge base; empty uses the built-in one.
	KnowledgeBasePath string `koanf:"knowledge_base_path"`

	// StorageBackend is one of fs, redis, s3.
	StorageBackend string `koanf:"storage_backend"`

	// UploadDir is the fs backend root.
	UploadDir string `koanf:"upload_dir"`

	RedisAddr       string `koanf:"redis_addr"`
	RedisPassword   string `koanf:"redis_password"`
	RedisDB         int    `koanf:"redis_db"`
	ImageTTLSeconds int    `koanf:"image_ttl_seconds"`

	S3Endpoint  string `koanf:"s3_endpoint"`
	S3Region    string `koanf:"s3_region"`
	S3Bucket    string `koanf:"s3_bucket"`
	S3AccessKey string `koanf:"s3_access_key"`
	S3SecretKey string `koanf:"s3_secret_key"`

	// WorkerCount sets the number of detection workers.
	WorkerCount int `koanf:"worker_count"`

	// QueueSize bounds pending detection jobs.
	QueueSize int `koanf:"queue_size"`

	// StrokeWidth is the annotation box outline width in pixels.
	StrokeWidth int `koanf:"stroke_width"`
}

// New creates a Config populated with defaults.
func New() *Config {
	return &Config{
		LogLevel:            "info",
		LogFormat:           "text",
		Addr:                ":5000",
		DetectorURL:         "http://localhost:8000/predict",
		DetectorTimeoutMS:   30_000,
		ConfidenceThreshold: 0.25,
		MaxUploadBytes:      16 << 20,
		AllowedExtensions:   []string{"png", "jpg", "jpeg"},
		StorageBackend:      "fs",
		UploadDir:           "static/uploads",
		RedisAddr:           "localhost:6379",
		ImageTTLSeconds:     86_400,
		WorkerCount:         runtime.NumCPU() * 2,
		QueueSize:           256,
		StrokeWidth:         2,
	}
}

// DetectorTimeout returns DetectorTimeoutMS as a duration.
func (c *Config) DetectorTimeout() time.Duration {
	return time.Duration(c.DetectorTimeoutMS) * time.Millisecond
}

// ImageTTL returns ImageTTLSeconds as a duration.
func (c *Config) ImageTTL() time.Duration {
	return time.Duration(c.ImageTTLSeconds) * time.Second
}
