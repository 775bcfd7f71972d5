package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all configuration parameters taken from environment variables.
type Config struct {
	DBHost     string `envconfig:"DB_HOST" required:"true"`
	DBPort     int    `envconfig:"DB_PORT" default:"5432"`
	DBUser     string `envconfig:"DB_USER" required:"true"`
	DBPassword string `envconfig:"DB_PASSWORD" required:"true"`
	DBName     string `envconfig:"DB_NAME" required:"true"`

	HTTPPort     string `envconfig:"HTTP_PORT" default:"4242"`
	APISecretKey string `envconfig:"API_SECRET_KEY"`

	// LibraryRoot is the root directory of the local library (pdfs + tmp).
	LibraryRoot string `envconfig:"LIBRARY_ROOT" default:"./library"`

	CrossrefBaseURL string `envconfig:"CROSSREF_BASE_URL" default:"https://api.crossref.org/works"`
	OpenAlexBaseURL string `envconfig:"OPENALEX_BASE_URL" default:"https://api.openalex.org/works"`
	PubMedBaseURL   string `envconfig:"PUBMED_BASE_URL" default:"https://eutils.ncbi.nlm.nih.gov/entrez/eutils"`
	PubMedAPIKey    string `envconfig:"PUBMED_API_KEY"`

	// Unpaywall requires a contact email per API policy. The same address is
	// sent as mailto to Crossref and OpenAlex to get into their polite pools.
	UnpaywallBaseURL string `envconfig:"UNPAYWALL_BASE_URL" default:"https://api.unpaywall.org/v2"`
	ContactEmail     string `envconfig:"CONTACT_EMAIL" required:"true"`

	// Resolver chain behaviour
	ProviderOrder   string        `envconfig:"PROVIDER_ORDER" default:"crossref,openalex,pubmed"`
	ResolverMerge   bool          `envconfig:"RESOLVER_MERGE" default:"false"`
	RetryAttempts   int           `envconfig:"RETRY_ATTEMPTS" default:"3"`
	RetryBackoff    time.Duration `envconfig:"RETRY_BACKOFF" default:"500ms"`
	ProviderTimeout time.Duration `envconfig:"PROVIDER_TIMEOUT" default:"20s"`
	CooldownWindow  time.Duration `envconfig:"COOLDOWN_WINDOW" default:"60s"`

	// Ingest and verification limits
	MaxPDFBytes       int64 `envconfig:"MAX_PDF_BYTES" default:"52428800"`
	IngestConcurrency int   `envconfig:"INGEST_CONCURRENCY" default:"5"`
	VerifyConcurrency int   `envconfig:"VERIFY_CONCURRENCY" default:"5"`
	SearchConcurrency int   `envconfig:"SEARCH_CONCURRENCY" default:"3"`

	CronSchedule string `envconfig:"CRON_SCHEDULE" default:"0 3 * * *"`
}

// DSN returns the data source name for the PostgreSQL connection.
func (c *Config) DSN() string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=disable",
		c.DBHost, c.DBUser, c.DBPassword, c.DBName, c.DBPort)
}

// Providers returns the configured provider priority order as a list.
func (c *Config) Providers() []string {
	parts := strings.Split(c.ProviderOrder, ",")
	names := make([]string, 0, len(parts))
	for _, p := range parts {
		if name := strings.TrimSpace(p); name != "" {
			names = append(names, name)
		}
	}
	return names
}

// Load reads the configuration from the environment.
func Load() (*Config, error) {
	_ = godotenv.Load()
	var c Config
	err := envconfig.Process("", &c)
	return &c, err
}
