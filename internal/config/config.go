package config

import (
	"log"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

type Mode string

const (
	ModeLocal Mode = "local"
	ModeGCP   Mode = "gcp"
)

type Config struct {
	Mode Mode `yaml:"mode"`

	Port string `yaml:"port"`

	GCPProjectID string `yaml:"gcp_project_id"`
	GCPLocation  string `yaml:"gcp_location"`

	ModelName       string `yaml:"model_name"`        // agent turns
	RouterModelName string `yaml:"router_model_name"` // fast classification

	StorageBackend string `yaml:"storage_backend"` // "memory", "firestore" or "sqlite"
	SQLitePath     string `yaml:"sqlite_path"`
	UseMockLLM     bool   `yaml:"use_mock_llm"`

	// UserID identifies the session owner this process serves.
	UserID string `yaml:"user_id"`
	Tier   string `yaml:"tier"`

	ContextTokenBudget int    `yaml:"context_token_budget"`
	AgentsFile         string `yaml:"agents_file"` // optional extra agent definitions (YAML)
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getBoolEnv(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if v == "1" || v == "true" || v == "TRUE" {
		return true
	}
	return false
}

func getIntEnv(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

// Load reads env vars and builds the config. If BACKSTAGE_CONFIG points
// at a YAML file, its values are applied first and env vars win.
func Load() *Config {
	cfg := &Config{
		Mode: ModeLocal,

		Port: "8080",

		GCPLocation:     "us-central1",
		ModelName:       "gemini-2.5-flash",
		RouterModelName: "gemini-2.5-flash-lite",

		StorageBackend: "memory",
		SQLitePath:     "backstage.db",

		UserID: "local",
		Tier:   "free",

		ContextTokenBudget: 8192,
	}

	if path := os.Getenv("BACKSTAGE_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			log.Fatalf("reading config file %s: %v", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			log.Fatalf("parsing config file %s: %v", path, err)
		}
	}

	switch getEnv("BACKSTAGE_MODE", string(cfg.Mode)) {
	case "gcp":
		cfg.Mode = ModeGCP
	default:
		cfg.Mode = ModeLocal
	}

	cfg.Port = getEnv("BACKSTAGE_PORT", cfg.Port)
	cfg.GCPProjectID = getEnv("BACKSTAGE_GCP_PROJECT", cfg.GCPProjectID)
	cfg.GCPLocation = getEnv("BACKSTAGE_GCP_LOCATION", cfg.GCPLocation)
	cfg.ModelName = getEnv("BACKSTAGE_MODEL_NAME", cfg.ModelName)
	cfg.RouterModelName = getEnv("BACKSTAGE_ROUTER_MODEL_NAME", cfg.RouterModelName)
	cfg.StorageBackend = getEnv("BACKSTAGE_STORAGE_BACKEND", cfg.StorageBackend)
	cfg.SQLitePath = getEnv("BACKSTAGE_SQLITE_PATH", cfg.SQLitePath)
	cfg.UseMockLLM = getBoolEnv("BACKSTAGE_USE_MOCK_LLM", cfg.UseMockLLM || cfg.Mode == ModeLocal)
	cfg.UserID = getEnv("BACKSTAGE_USER_ID", cfg.UserID)
	cfg.Tier = getEnv("BACKSTAGE_TIER", cfg.Tier)
	cfg.ContextTokenBudget = getIntEnv("BACKSTAGE_CONTEXT_TOKEN_BUDGET", cfg.ContextTokenBudget)
	cfg.AgentsFile = getEnv("BACKSTAGE_AGENTS_FILE", cfg.AgentsFile)

	// Minimal validation in GCP mode
	if cfg.Mode == ModeGCP && cfg.GCPProjectID == "" {
		log.Fatal("BACKSTAGE_GCP_PROJECT must be set in gcp mode")
	}

	return cfg
}
