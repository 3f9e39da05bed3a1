package config

import (
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
)

// Config holds the runtime settings for the DeepXRAY service.
type Config struct {
	Addr        string
	ModelPath   string
	DBPath      string
	UploadDir   string
	OnnxLibPath string
	Debug       bool
}

// DefaultModelFile is the fixed artifact name resolved relative to the
// application base directory.
const DefaultModelFile = "models/pneumonia.onnx"

// Load reads configuration from the environment, with a .env file honored
// when present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	base, err := os.Getwd()
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Addr:        envOr("DEEPXRAY_ADDR", "127.0.0.1:8080"),
		ModelPath:   envOr("DEEPXRAY_MODEL_PATH", filepath.Join(base, DefaultModelFile)),
		DBPath:      envOr("DEEPXRAY_DB_PATH", filepath.Join(base, "deepxray.db")),
		UploadDir:   envOr("DEEPXRAY_UPLOAD_DIR", filepath.Join(base, "xray_images")),
		OnnxLibPath: os.Getenv("ONNXRUNTIME_LIB_PATH"),
		Debug:       os.Getenv("DEBUG") == "true",
	}
	return cfg, nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
