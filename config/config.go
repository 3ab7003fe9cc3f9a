package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration loaded from environment
// variables. It is constructed once in main and passed read-only into each
// component; nothing reads the environment after Load returns.
type Config struct {
	// Storage. DatabaseURL selects the PostgreSQL backend; when empty the
	// ledger falls back to a local SQLite file at SQLitePath.
	DatabaseURL string
	SQLitePath  string

	// Scraping
	Keywords        []string
	AutoKeyword     bool
	PolitenessDelay time.Duration
	PageTimeout     time.Duration
	MaxScrolls      int
	ListingCap      int
	ChromeBin       string

	// Bargain detection
	CentralStatistic  string // "mean" or "median"
	MinCohortSize     int
	DiscountThreshold float64
	PriceFloor        int
	CohortWindowDays  int

	// Notifications
	SMTPHost       string
	SMTPPort       int
	EmailUser      string
	EmailPassword  string
	EmailTo        string
	CooldownWindow time.Duration

	// Analysis report
	GeminiAPIKey     string
	GeminiModel      string
	PromptTemplate   string
	AnalysisDays     int
	SampleCap        int
	ChunkSize        int
	InterChunkDelay  time.Duration
	RateLimitBackoff time.Duration
	TokenCeiling     int
	ReportDir        string

	// Housekeeping
	RetentionDays int

	// Logging
	LogLevel  string
	LogPretty bool
}

// PromptPlaceholders is the full set of names the prompt template may use.
// It is included in the fatal-config diagnostic when the template is missing.
var PromptPlaceholders = []string{
	"total_items", "sold_items", "on_sale_items",
	"categories_count", "categories",
	"sample_data", "sample_size",
	"chunk_index", "chunk_count", "chunk_start", "chunk_end",
}

// Load reads the .env file and returns a populated Config struct.
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("[config] No .env file found, falling back to system env vars")
	}

	return &Config{
		DatabaseURL: getEnv("DATABASE_URL", ""),
		SQLitePath:  getEnv("SQLITE_PATH", "./data/radar.db"),

		Keywords:        splitCSV(getEnv("KEYWORDS", "")),
		AutoKeyword:     getEnvBool("AUTO_KEYWORD", false),
		PolitenessDelay: getEnvDur("POLITENESS_DELAY", 3*time.Second),
		PageTimeout:     getEnvDur("PAGE_TIMEOUT", 30*time.Second),
		MaxScrolls:      getEnvInt("MAX_SCROLLS", 20),
		ListingCap:      getEnvInt("LISTING_CAP", 30),
		ChromeBin:       getEnv("CHROME_BIN", ""),

		CentralStatistic:  strings.ToLower(getEnv("CENTRAL_STATISTIC", "median")),
		MinCohortSize:     getEnvInt("MIN_COHORT_SIZE", 10),
		DiscountThreshold: getEnvFloat("DISCOUNT_THRESHOLD", 0.75),
		PriceFloor:        getEnvInt("PRICE_FLOOR", 500),
		CohortWindowDays:  getEnvInt("COHORT_WINDOW_DAYS", 7),

		SMTPHost:       getEnv("SMTP_HOST", "smtp.gmail.com"),
		SMTPPort:       getEnvInt("SMTP_PORT", 587),
		EmailUser:      getEnv("EMAIL_USER", ""),
		EmailPassword:  getEnv("EMAIL_PASSWORD", ""),
		EmailTo:        getEnv("EMAIL_TO", ""),
		CooldownWindow: getEnvDur("NOTIFY_COOLDOWN", 24*time.Hour),

		GeminiAPIKey:     getEnv("GEMINI_API_KEY", ""),
		GeminiModel:      getEnv("GEMINI_MODEL", "gemini-2.0-flash-exp"),
		PromptTemplate:   getEnv("GEMINI_PROMPT", ""),
		AnalysisDays:     getEnvInt("ANALYSIS_DAYS", 7),
		SampleCap:        getEnvInt("SAMPLE_CAP", 0),
		ChunkSize:        getEnvInt("CHUNK_SIZE", 400),
		InterChunkDelay:  getEnvDur("INTER_CHUNK_DELAY", 60*time.Second),
		RateLimitBackoff: getEnvDur("RATE_LIMIT_BACKOFF", 90*time.Second),
		TokenCeiling:     getEnvInt("TOKEN_CEILING", 0),
		ReportDir:        getEnv("REPORT_DIR", "."),

		RetentionDays: getEnvInt("RETENTION_DAYS", 90),

		LogLevel:  strings.ToLower(getEnv("LOG_LEVEL", "info")),
		LogPretty: getEnvBool("LOG_PRETTY", true),
	}
}

// Validate checks the tunables every command depends on. It runs before any
// side effect so a bad configuration never reaches storage or the network.
func (c *Config) Validate() error {
	switch c.CentralStatistic {
	case "mean", "median":
	default:
		return fmt.Errorf("config: CENTRAL_STATISTIC must be \"mean\" or \"median\", got %q", c.CentralStatistic)
	}
	if c.DiscountThreshold <= 0 || c.DiscountThreshold >= 1 {
		return fmt.Errorf("config: DISCOUNT_THRESHOLD must be in (0,1), got %v", c.DiscountThreshold)
	}
	if c.MinCohortSize < 1 {
		return fmt.Errorf("config: MIN_COHORT_SIZE must be >= 1, got %d", c.MinCohortSize)
	}
	if c.PriceFloor < 0 {
		return fmt.Errorf("config: PRICE_FLOOR must be >= 0, got %d", c.PriceFloor)
	}
	if c.CohortWindowDays < 1 || c.AnalysisDays < 1 || c.RetentionDays < 1 {
		return fmt.Errorf("config: window/retention day counts must be >= 1")
	}
	if c.ChunkSize < 1 {
		return fmt.Errorf("config: CHUNK_SIZE must be >= 1, got %d", c.ChunkSize)
	}
	if c.SampleCap < 0 {
		return fmt.Errorf("config: SAMPLE_CAP must be >= 0, got %d", c.SampleCap)
	}
	return nil
}

// ValidateReport checks the configuration the report command additionally
// requires. The prompt diagnostic enumerates every recognized placeholder so
// a missing template can be authored without reading the source.
func (c *Config) ValidateReport() error {
	var missing []string
	if c.GeminiAPIKey == "" {
		missing = append(missing, "GEMINI_API_KEY")
	}
	if c.PromptTemplate == "" {
		missing = append(missing, "GEMINI_PROMPT (recognized placeholders: {{"+
			strings.Join(PromptPlaceholders, "}}, {{")+"}})")
	}
	if len(missing) > 0 {
		return fmt.Errorf("config: missing required configuration: %s", strings.Join(missing, "; "))
	}
	return nil
}

// NotifierConfigured reports whether SMTP credentials and a recipient are set.
// When false the notification gate skips sending instead of failing.
func (c *Config) NotifierConfigured() bool {
	return c.EmailUser != "" && c.EmailPassword != "" && c.EmailTo != ""
}

// Recipients returns the alert recipients parsed from EMAIL_TO.
func (c *Config) Recipients() []string {
	return splitCSV(c.EmailTo)
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		n, err := strconv.Atoi(val)
		if err == nil {
			return n
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if val := os.Getenv(key); val != "" {
		f, err := strconv.ParseFloat(val, 64)
		if err == nil {
			return f
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if val := os.Getenv(key); val != "" {
		switch strings.ToLower(val) {
		case "1", "true", "yes", "on":
			return true
		case "0", "false", "no", "off":
			return false
		}
	}
	return fallback
}

func getEnvDur(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		d, err := time.ParseDuration(val)
		if err == nil {
			return d
		}
	}
	return fallback
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}
