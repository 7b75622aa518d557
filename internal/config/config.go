package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultsYAML []byte

type Config struct {
	FaceAPI    FaceAPIConfig    `yaml:"face_api"`
	Embedding  EmbeddingConfig  `yaml:"embedding"`
	Database   DatabaseConfig   `yaml:"database"`
	Storage    StorageConfig    `yaml:"storage"`
	Auth       AuthConfig       `yaml:"auth"`
	Attributes AttributesConfig `yaml:"attributes"`
	Web        WebConfig        `yaml:"web"`
	Log        LogConfig        `yaml:"log"`
}

type FaceAPIConfig struct {
	Endpoint          string        `yaml:"endpoint"`
	Key               string        `yaml:"-"`
	DetectionOnly     bool          `yaml:"detection_only"` // start with the identify capability disabled
	GroupID           string        `yaml:"group_id"`
	ConnectTimeout    time.Duration `yaml:"connect_timeout"`
	ReadTimeout       time.Duration `yaml:"read_timeout"`
	TrainPollInterval time.Duration `yaml:"train_poll_interval"`
	TrainTimeout      time.Duration `yaml:"train_timeout"`
}

// Enabled reports whether a remote face service is configured.
func (c *FaceAPIConfig) Enabled() bool {
	return c.Endpoint != "" && c.Key != ""
}

type EmbeddingConfig struct {
	ModelsDir       string `yaml:"models_dir"`       // dlib model files for the local extractor
	SelectionPolicy string `yaml:"selection_policy"` // largest or first
	Dim             int    `yaml:"dim"`
	MaxImageSize    int    `yaml:"max_image_size"`
}

type DatabaseConfig struct {
	URL           string `yaml:"-"`              // PostgreSQL connection URL, in-memory store when empty
	MaxOpenConns  int    `yaml:"max_open_conns"` // Maximum open connections (default 25)
	MaxIdleConns  int    `yaml:"max_idle_conns"` // Maximum idle connections (default 5)
	HNSWIndexPath string `yaml:"hnsw_index_path"`
}

type StorageConfig struct {
	Dir string `yaml:"dir"`
}

type AuthConfig struct {
	RemoteConfidenceThreshold float64 `yaml:"remote_confidence_threshold"`
	LocalDistanceThreshold    float64 `yaml:"local_distance_threshold"`
	LocalTopK                 int     `yaml:"local_top_k"`
	FusionIoUThreshold        float64 `yaml:"fusion_iou_threshold"`
}

type AttributesConfig struct {
	Provider     string `yaml:"provider"` // gemini, openai or none
	GeminiAPIKey string `yaml:"-"`
	OpenAIToken  string `yaml:"-"`
}

type WebConfig struct {
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	AdminToken string `yaml:"-"` // bearer token for administrative routes, open when empty

	AllowedOrigins []string `yaml:"allowed_origins"`
}

type LogConfig struct {
	Env string `yaml:"env"`
}

// envInt reads an environment variable and parses it as a positive integer.
// Returns the default value if the env var is unset, empty, or invalid.
func envInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return defaultVal
}

// envFloat reads a non-negative float, falling back to defaultVal.
func envFloat(key string, defaultVal float64) float64 {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && f >= 0 {
		return f
	}
	return defaultVal
}

// envDuration accepts Go durations ("15s") or plain seconds ("15").
func envDuration(key string, defaultVal time.Duration) time.Duration {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if d, err := time.ParseDuration(s); err == nil && d > 0 {
		return d
	}
	if n, err := strconv.ParseFloat(s, 64); err == nil && n > 0 {
		return time.Duration(n * float64(time.Second))
	}
	return defaultVal
}

func envBool(key string, defaultVal bool) bool {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if b, err := strconv.ParseBool(s); err == nil {
		return b
	}
	return defaultVal
}

func envString(key, defaultVal string) string {
	if s := strings.TrimSpace(os.Getenv(key)); s != "" {
		return s
	}
	return defaultVal
}

// envList reads a comma-separated list, dropping empty entries.
func envList(key string, defaultVal []string) []string {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	var out []string
	for item := range strings.SplitSeq(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// Defaults returns the embedded default configuration without any environment overrides.
func Defaults() *Config {
	var cfg Config
	if err := yaml.Unmarshal(defaultsYAML, &cfg); err != nil {
		// This is an embedded file so this error should never happen in practice
		panic("failed to unmarshal embedded defaults.yaml: " + err.Error())
	}
	return &cfg
}

func Load() *Config {
	d := Defaults()

	return &Config{
		FaceAPI: FaceAPIConfig{
			Endpoint:          strings.TrimSuffix(os.Getenv("FACE_API_ENDPOINT"), "/"),
			Key:               os.Getenv("FACE_API_KEY"),
			DetectionOnly:     envBool("FACE_API_DETECTION_ONLY", d.FaceAPI.DetectionOnly),
			GroupID:           envString("FACE_API_GROUP_ID", d.FaceAPI.GroupID),
			ConnectTimeout:    envDuration("FACE_API_CONNECT_TIMEOUT", d.FaceAPI.ConnectTimeout),
			ReadTimeout:       envDuration("FACE_API_READ_TIMEOUT", d.FaceAPI.ReadTimeout),
			TrainPollInterval: envDuration("FACE_API_TRAIN_POLL_INTERVAL", d.FaceAPI.TrainPollInterval),
			TrainTimeout:      envDuration("FACE_API_TRAIN_TIMEOUT", d.FaceAPI.TrainTimeout),
		},
		Embedding: EmbeddingConfig{
			ModelsDir:       envString("FACE_MODELS_DIR", d.Embedding.ModelsDir),
			SelectionPolicy: envString("FACE_SELECTION_POLICY", d.Embedding.SelectionPolicy),
			Dim:             envInt("FACE_EMBED_DIM", d.Embedding.Dim),
			MaxImageSize:    envInt("FACE_MAX_IMAGE_SIZE", d.Embedding.MaxImageSize),
		},
		Database: DatabaseConfig{
			URL:           os.Getenv("DATABASE_URL"),
			MaxOpenConns:  envInt("DATABASE_MAX_OPEN_CONNS", d.Database.MaxOpenConns),
			MaxIdleConns:  envInt("DATABASE_MAX_IDLE_CONNS", d.Database.MaxIdleConns),
			HNSWIndexPath: envString("HNSW_INDEX_PATH", d.Database.HNSWIndexPath),
		},
		Storage: StorageConfig{
			Dir: envString("STORAGE_DIR", d.Storage.Dir),
		},
		Auth: AuthConfig{
			RemoteConfidenceThreshold: envFloat("AUTH_REMOTE_CONFIDENCE_THRESHOLD", d.Auth.RemoteConfidenceThreshold),
			LocalDistanceThreshold:    envFloat("AUTH_LOCAL_DISTANCE_THRESHOLD", d.Auth.LocalDistanceThreshold),
			LocalTopK:                 envInt("AUTH_LOCAL_TOP_K", d.Auth.LocalTopK),
			FusionIoUThreshold:        envFloat("AUTH_FUSION_IOU_THRESHOLD", d.Auth.FusionIoUThreshold),
		},
		Attributes: AttributesConfig{
			Provider:     strings.ToLower(envString("ATTRIBUTES_PROVIDER", d.Attributes.Provider)),
			GeminiAPIKey: os.Getenv("GEMINI_API_KEY"),
			OpenAIToken:  os.Getenv("OPENAI_TOKEN"),
		},
		Web: WebConfig{
			Host:       envString("WEB_HOST", d.Web.Host),
			Port:       envInt("WEB_PORT", d.Web.Port),
			AdminToken: os.Getenv("WEB_ADMIN_TOKEN"),

			AllowedOrigins: envList("WEB_ALLOWED_ORIGINS", d.Web.AllowedOrigins),
		},
		Log: LogConfig{
			Env: envString("LOG_ENV", d.Log.Env),
		},
	}
}

// Validate reports configuration combinations that cannot work.
func (c *Config) Validate() error {
	var errs []error

	if c.FaceAPI.Endpoint != "" && c.FaceAPI.Key == "" {
		errs = append(errs, errors.New("FACE_API_KEY is required when FACE_API_ENDPOINT is set"))
	}
	switch c.Embedding.SelectionPolicy {
	case "largest", "first":
	default:
		errs = append(errs, fmt.Errorf("unknown FACE_SELECTION_POLICY %q (want largest or first)", c.Embedding.SelectionPolicy))
	}
	if c.Auth.RemoteConfidenceThreshold > 1 {
		errs = append(errs, fmt.Errorf("remote confidence threshold %v is above 1", c.Auth.RemoteConfidenceThreshold))
	}
	if c.Auth.LocalDistanceThreshold > 2 {
		errs = append(errs, fmt.Errorf("local distance threshold %v is above 2", c.Auth.LocalDistanceThreshold))
	}
	switch c.Attributes.Provider {
	case "none", "":
	case "gemini":
		if c.Attributes.GeminiAPIKey == "" {
			errs = append(errs, errors.New("GEMINI_API_KEY is required for the gemini attributes provider"))
		}
	case "openai":
		if c.Attributes.OpenAIToken == "" {
			errs = append(errs, errors.New("OPENAI_TOKEN is required for the openai attributes provider"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown ATTRIBUTES_PROVIDER %q", c.Attributes.Provider))
	}

	return errors.Join(errs...)
}
