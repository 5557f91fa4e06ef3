package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	MongoURI            string
	MongoDatabase       string
	PostgresURI         string
	RedisURI            string
	Port                string
	FrontendURL         string
	AllowedHost         string   // production HostCheck; empty disables it
	AllowedOrigins      []string // CORS: from ALLOWED_ORIGINS or FRONTEND_URL(s)
	CloudinaryName      string
	CloudinaryAPIKey    string
	CloudinaryAPISecret string
	UploadFolder        string
	DirectoryBackend    string // "mongo" or "memory"
	Environment         string // ENV: production, development, etc.
	PolicyFile          string
	Policy              ChatPolicy
}

// ChatPolicy holds the tunables of the conversation engine. Defaults match the
// behaviour the mobile clients were built against; CHAT_POLICY_FILE may override them.
type ChatPolicy struct {
	UnapprovedMessageLimit int           `yaml:"unapproved_message_limit"`
	MaxAttachmentBytes     int64         `yaml:"max_attachment_bytes"`
	PresenceTTL            time.Duration `yaml:"presence_ttl"`
	HistoryPageSize        int64         `yaml:"history_page_size"`
	HistoryMaxPageSize     int64         `yaml:"history_max_page_size"`
	SendRatePerMinute      int           `yaml:"send_rate_per_minute"`
	SendBurst              int           `yaml:"send_burst"`
}

// DefaultPolicy returns the built-in chat policy.
func DefaultPolicy() ChatPolicy {
	return ChatPolicy{
		UnapprovedMessageLimit: 2,
		MaxAttachmentBytes:     10 << 20,
		PresenceTTL:            90 * time.Second,
		HistoryPageSize:        50,
		HistoryMaxPageSize:     100,
		SendRatePerMinute:      30,
		SendBurst:              10,
	}
}

func Load() (*Config, error) {
	env := strings.ToLower(strings.TrimSpace(getEnv("ENV", "development")))

	allowedOrigins := parseOrigins(getEnv("ALLOWED_ORIGINS", ""))
	if len(allowedOrigins) == 0 {
		for _, u := range []string{getEnv("FRONTEND_URL", "http://localhost:3000"), getEnv("FRONTEND_URL_2", "")} {
			u = strings.TrimSpace(u)
			if u != "" && !containsOrigin(allowedOrigins, u) {
				allowedOrigins = append(allowedOrigins, u)
			}
		}
	}

	cfg := &Config{
		MongoURI:            getEnv("MONGODB_URI", getEnv("MONGO_URI", "mongodb://localhost:27017/medconsult")),
		MongoDatabase:       getEnv("MONGO_DATABASE", ""),
		PostgresURI:         getEnv("POSTGRES_URI", "postgres://localhost:5432/medconsult?sslmode=disable"),
		RedisURI:            getEnv("REDIS_URI", "redis://localhost:6379/0"),
		Environment:         env,
		Port:                getEnv("PORT", "8080"),
		FrontendURL:         getEnv("FRONTEND_URL", "http://localhost:3000"),
		AllowedHost:         getEnv("ALLOWED_HOST", ""),
		AllowedOrigins:      allowedOrigins,
		CloudinaryName:      getEnv("CLOUDINARY_CLOUD_NAME", ""),
		CloudinaryAPIKey:    getEnv("CLOUDINARY_API_KEY", ""),
		CloudinaryAPISecret: getEnv("CLOUDINARY_API_SECRET", ""),
		UploadFolder:        getEnv("UPLOAD_FOLDER", "medconsult/chat"),
		DirectoryBackend:    strings.ToLower(getEnv("DIRECTORY_BACKEND", "mongo")),
		PolicyFile:          getEnv("CHAT_POLICY_FILE", ""),
		Policy:              DefaultPolicy(),
	}

	if v := getEnv("CHAT_UNAPPROVED_MESSAGE_LIMIT", ""); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid CHAT_UNAPPROVED_MESSAGE_LIMIT: %w", err)
		}
		cfg.Policy.UnapprovedMessageLimit = n
	}

	if cfg.PolicyFile != "" {
		data, err := os.ReadFile(cfg.PolicyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read chat policy file: %w", err)
		}
		policy, err := ParsePolicy(data, cfg.Policy)
		if err != nil {
			return nil, err
		}
		cfg.Policy = policy
	}

	return cfg, nil
}

// ParsePolicy overlays the YAML document on base. Keys missing from the
// document keep their base value.
func ParsePolicy(data []byte, base ChatPolicy) (ChatPolicy, error) {
	policy := base
	if err := yaml.Unmarshal(data, &policy); err != nil {
		return base, fmt.Errorf("failed to parse chat policy: %w", err)
	}
	if err := policy.Validate(); err != nil {
		return base, err
	}
	return policy, nil
}

// Validate rejects policies the engine cannot run with.
func (p ChatPolicy) Validate() error {
	switch {
	case p.UnapprovedMessageLimit < 1:
		return fmt.Errorf("unapproved_message_limit must be at least 1, got %d", p.UnapprovedMessageLimit)
	case p.MaxAttachmentBytes <= 0:
		return fmt.Errorf("max_attachment_bytes must be positive")
	case p.HistoryPageSize <= 0 || p.HistoryMaxPageSize < p.HistoryPageSize:
		return fmt.Errorf("history page sizes are inconsistent (%d / %d)", p.HistoryPageSize, p.HistoryMaxPageSize)
	case p.PresenceTTL <= 0:
		return fmt.Errorf("presence_ttl must be positive")
	}
	return nil
}

func parseOrigins(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func containsOrigin(list []string, o string) bool {
	o = strings.TrimSpace(strings.ToLower(o))
	for _, v := range list {
		if strings.TrimSpace(strings.ToLower(v)) == o {
			return true
		}
	}
	return false
}

// IsProduction returns true when ENV is set to "production".
func (c *Config) IsProduction() bool {
	return strings.ToLower(strings.TrimSpace(c.Environment)) == "production"
}

// CloudinaryConfigured reports whether all Cloudinary credentials are present.
func (c *Config) CloudinaryConfigured() bool {
	return c.CloudinaryName != "" && c.CloudinaryAPIKey != "" && c.CloudinaryAPISecret != ""
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
