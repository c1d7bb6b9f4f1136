package infra

import (
	"fmt"
	"net/url"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Config represents application configuration loaded from environment variables.
//
// Secrets for the generation backend follow a fixed precedence: the
// GENERATOR_API_KEY variable wins, otherwise the key stored in the
// integration_tokens table is used (see package credentials). Clients never
// read the environment themselves; they receive values from this struct.
type Config struct {
	AppEnv           string
	LogLevel         string
	Port             string
	DatabaseURL      string
	JWTSecret        string
	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
	RateLimitPerMin  int
	AllowedOrigins   []string

	SupabaseURL        string
	SupabaseServiceKey string
	StorageBucket      string
	StoragePath        string
	StorageBaseURL     string

	ProxyBaseURL       string
	ProxyHostAllowlist []string

	GeneratorBaseURL string
	GeneratorAPIKey  string
	GeneratorModel   string

	StuckJobThreshold     time.Duration
	VideoJobThreshold     time.Duration
	GenerationConcurrency int
	MaxAssetDimension     int
	BlobCacheSize         int
	BlobCacheTTL          time.Duration
	JobCreateRetries      int
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	port := getEnv("PORT", "8080")
	cfg := &Config{
		AppEnv:           getEnv("APP_ENV", "development"),
		LogLevel:         os.Getenv("LOG_LEVEL"),
		Port:             port,
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		JWTSecret:        os.Getenv("JWT_SECRET"),
		HTTPReadTimeout:  time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout: time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 300)),
		HTTPIdleTimeout:  time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
		RateLimitPerMin:  getEnvInt("RATE_LIMIT_PER_MINUTE", 30),
		AllowedOrigins:   splitList(os.Getenv("CORS_ALLOWED_ORIGINS")),

		SupabaseURL:        strings.TrimRight(os.Getenv("SUPABASE_URL"), "/"),
		SupabaseServiceKey: os.Getenv("SUPABASE_SERVICE_KEY"),
		StorageBucket:      getEnv("STORAGE_BUCKET", "job-assets"),
		StoragePath:        getEnv("STORAGE_PATH", "./storage"),
		StorageBaseURL:     getEnv("STORAGE_BASE_URL", "http://localhost:"+port+"/static"),

		ProxyBaseURL: getEnv("PROXY_BASE_URL", "http://localhost:"+port),

		GeneratorBaseURL: os.Getenv("GENERATOR_BASE_URL"),
		GeneratorAPIKey:  strings.TrimSpace(os.Getenv("GENERATOR_API_KEY")),
		GeneratorModel:   getEnv("GENERATOR_MODEL", "imagen-3"),

		StuckJobThreshold:     time.Minute * time.Duration(getEnvInt("STUCK_JOB_THRESHOLD_MINUTES", 15)),
		VideoJobThreshold:     time.Minute * time.Duration(getEnvInt("VIDEO_JOB_THRESHOLD_MINUTES", 60)),
		GenerationConcurrency: getEnvInt("GENERATION_CONCURRENCY", 4),
		MaxAssetDimension:     getEnvInt("MAX_ASSET_DIMENSION", 2048),
		BlobCacheSize:         getEnvInt("BLOB_CACHE_SIZE", 256),
		BlobCacheTTL:          time.Minute * time.Duration(getEnvInt("BLOB_CACHE_TTL_MINUTES", 30)),
		JobCreateRetries:      getEnvInt("JOB_CREATE_RETRIES", 2),
	}

	// The generator, the hosts it serves results from and the storage project
	// are always reachable through the proxy.
	cfg.ProxyHostAllowlist = mergeHosts(
		append(splitList(os.Getenv("PROXY_HOST_ALLOWLIST")), splitList(os.Getenv("GENERATOR_RESULT_HOSTS"))...),
		cfg.GeneratorBaseURL,
		cfg.SupabaseURL,
	)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks the invariants LoadConfig cannot default.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if (c.SupabaseURL == "") != (c.SupabaseServiceKey == "") {
		return fmt.Errorf("SUPABASE_URL and SUPABASE_SERVICE_KEY must be set together")
	}
	if c.VideoJobThreshold < c.StuckJobThreshold {
		return fmt.Errorf("VIDEO_JOB_THRESHOLD_MINUTES must not be below STUCK_JOB_THRESHOLD_MINUTES")
	}
	if c.GenerationConcurrency <= 0 {
		return fmt.Errorf("GENERATION_CONCURRENCY must be positive")
	}
	return nil
}

// UsesSupabase reports whether object storage is backed by Supabase.
func (c *Config) UsesSupabase() bool {
	return c.SupabaseURL != "" && c.SupabaseServiceKey != ""
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// mergeHosts lowercases and de-duplicates hosts; URLs contribute their host.
func mergeHosts(hosts []string, urls ...string) []string {
	set := make(map[string]struct{})
	for _, h := range hosts {
		set[strings.ToLower(h)] = struct{}{}
	}
	for _, raw := range urls {
		if raw == "" {
			continue
		}
		if u, err := url.Parse(raw); err == nil && u.Hostname() != "" {
			set[strings.ToLower(u.Hostname())] = struct{}{}
		}
	}
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for h := range set {
		out = append(out, h)
	}
	sort.Strings(out)
	return out
}
