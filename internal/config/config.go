// Package config loads the control plane's environment-variable driven
// configuration, the way hyperion-coordinator-mcp/main.go reads its
// MongoDB/Qdrant/transport settings from the environment.
package config

import (
	"os"
	"strconv"
	"strings"
)

// Config holds every recognized environment variable (spec.md §6).
type Config struct {
	DatabaseType string // sqlite | postgresql | supabase | mongo
	DatabaseURL  string
	Environment  string // test | staging | production

	RedisEnabled bool
	UseCache     bool

	AuthEnabled bool

	KeycloakURL          string
	KeycloakRealm        string
	KeycloakClientID     string
	KeycloakClientSecret string

	MCPHost string
	MCPPort string

	MongoURI      string
	MongoDatabase string

	FeatureFlagsPath string

	JWTSecret string
}

// Load reads Config from the process environment, applying the same
// defaults the teacher's main.go applies for MongoDB/port settings.
func Load() *Config {
	return &Config{
		DatabaseType: getEnv("DATABASE_TYPE", "mongo"),
		DatabaseURL:  os.Getenv("DATABASE_URL"),
		Environment:  getEnv("ENVIRONMENT", "production"),

		RedisEnabled: getBool("REDIS_ENABLED", false),
		UseCache:     getBool("USE_CACHE", true),

		AuthEnabled: getBool("AUTH_ENABLED", true),

		KeycloakURL:          os.Getenv("KEYCLOAK_URL"),
		KeycloakRealm:        os.Getenv("KEYCLOAK_REALM"),
		KeycloakClientID:     os.Getenv("KEYCLOAK_CLIENT_ID"),
		KeycloakClientSecret: os.Getenv("KEYCLOAK_CLIENT_SECRET"),

		MCPHost: getEnv("MCP_HOST", "0.0.0.0"),
		MCPPort: getEnv("MCP_PORT", "7778"),

		MongoURI:      getEnv("MONGODB_URI", "mongodb://localhost:27017"),
		MongoDatabase: getEnv("MONGODB_DATABASE", "taskctl"),

		FeatureFlagsPath: getEnv("FEATURE_FLAGS_PATH", "./feature_flags.json"),

		JWTSecret: getEnv("JWT_SECRET", ""),
	}
}

// IsTest reports whether the configured environment switches repositories
// to their in-memory, deterministic test implementations (spec.md §4.8).
func (c *Config) IsTest() bool {
	return strings.EqualFold(c.Environment, "test")
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(strings.ToLower(v))
	if err != nil {
		return def
	}
	return b
}
