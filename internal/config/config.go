package config

import (
	"log"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	defaultTimezone     = "America/Sao_Paulo"
	configPathEnv       = "TENDER_SCANNER_CONFIG"
	databaseDSNEnv      = "DATABASE_DSN"
	httpAddrEnv         = "HTTP_ADDR"
	logLevelEnv         = "LOG_LEVEL"
	redisAddrEnv        = "REDIS_ADDR"
	classifierKeyEnv    = "CLASSIFIER_API_KEY"
	classifierModelEnv  = "CLASSIFIER_MODEL"
	classifierURLEnv    = "CLASSIFIER_ENDPOINT"
	billingKeyEnv       = "BILLING_API_KEY"
	billingURLEnv       = "BILLING_ENDPOINT"
	telegramTokenEnv    = "TELEGRAM_BOT_TOKEN"
	telegramChatIDEnv   = "TELEGRAM_CHAT_ID"
	defaultUserAgent    = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"
	defaultSystemPrompt = "Você classifica editais de licitação pública. Responda somente com JSON."
)

// Config holds high-level settings required across the application.
type Config struct {
	Logging       LoggingConfig      `yaml:"logging"`
	Database      DatabaseConfig     `yaml:"database"`
	HTTP          HTTPConfig         `yaml:"http"`
	Fetcher       FetcherConfig      `yaml:"fetcher"`
	Scrape        ScrapeConfig       `yaml:"scrape"`
	Sessions      SessionConfig      `yaml:"sessions"`
	Scheduler     SchedulerConfig    `yaml:"scheduler"`
	Credits       CreditConfig       `yaml:"credits"`
	Billing       BillingConfig      `yaml:"billing"`
	Classifier    ClassifierConfig   `yaml:"classifier"`
	Enrichment    EnrichmentConfig   `yaml:"enrichment"`
	Notifications NotificationConfig `yaml:"notifications"`
	Sites         []SiteConfig       `yaml:"sites"`
}

// LoggingConfig selects the slog level and handler format (text|json).
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DatabaseConfig describes Postgres connection details. An empty DSN keeps
// tenders in memory.
type DatabaseConfig struct {
	DSN          string `yaml:"dsn"`
	MaxOpenConns int    `yaml:"maxOpenConns"`
}

// HTTPConfig configures the API listener.
type HTTPConfig struct {
	Addr         string        `yaml:"addr"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
}

// FetcherConfig tunes outbound page retrieval.
type FetcherConfig struct {
	Timeout      time.Duration `yaml:"timeout"`
	UserAgent    string        `yaml:"userAgent"`
	Retries      int           `yaml:"retries"`
	RetryDelay   time.Duration `yaml:"retryDelay"`
	MaxRedirects int           `yaml:"maxRedirects"`
}

// ScrapeConfig controls pacing of a scraping run.
type ScrapeConfig struct {
	SourceDelay    time.Duration `yaml:"sourceDelay"`
	DetailDelay    time.Duration `yaml:"detailDelay"`
	Concurrency    int           `yaml:"concurrency"`
	MaxDetailPages int           `yaml:"maxDetailPages"`
}

// SessionConfig selects where progress logs live.
type SessionConfig struct {
	Backend       string        `yaml:"backend"`
	TTL           time.Duration `yaml:"ttl"`
	PurgeInterval time.Duration `yaml:"purgeInterval"`
	RedisAddr     string        `yaml:"redisAddr"`
}

// SchedulerConfig defines when unattended scraping runs.
type SchedulerConfig struct {
	ScrapeCron string         `yaml:"scrapeCron"`
	Timezone   string         `yaml:"timezone"`
	location   *time.Location `yaml:"-"`
}

// Location resolves the scheduler timezone string to a time.Location.
func (s SchedulerConfig) Location() *time.Location {
	if s.location != nil {
		return s.location
	}
	loc, err := time.LoadLocation(defaultTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// CreditConfig holds the admission thresholds of the credit gate.
type CreditConfig struct {
	BatchThreshold  float64 `yaml:"batchThreshold"`
	SingleThreshold float64 `yaml:"singleThreshold"`
}

// BillingConfig points at the metered service's balance endpoint.
type BillingConfig struct {
	Endpoint string        `yaml:"endpoint"`
	APIKey   string        `yaml:"apiKey"`
	Timeout  time.Duration `yaml:"timeout"`
}

// ClassifierConfig defines how to contact the classification API.
type ClassifierConfig struct {
	Endpoint     string        `yaml:"endpoint"`
	Model        string        `yaml:"model"`
	APIKey       string        `yaml:"apiKey"`
	SystemPrompt string        `yaml:"systemPrompt"`
	Timeout      time.Duration `yaml:"timeout"`
}

// EnrichmentConfig sizes and paces enrichment batches.
type EnrichmentConfig struct {
	BatchSize       int           `yaml:"batchSize"`
	CallDelay       time.Duration `yaml:"callDelay"`
	DigestRelevance float64       `yaml:"digestRelevance"`
}

// NotificationConfig encapsulates outbound channels (Telegram, etc.).
type NotificationConfig struct {
	Telegram TelegramConfig `yaml:"telegram"`
}

// TelegramConfig wires all data required to send messages.
type TelegramConfig struct {
	BotToken string `yaml:"botToken"`
	ChatID   string `yaml:"chatId"`
}

// SiteConfig describes a single procurement site with its extraction strategy.
type SiteConfig struct {
	Code        string            `yaml:"code"`
	Name        string            `yaml:"name"`
	BaseURL     string            `yaml:"baseUrl"`
	ListingURLs []string          `yaml:"listingUrls"`
	Strategy    string            `yaml:"strategy"`
	Active      *bool             `yaml:"active"`
	Options     map[string]string `yaml:"options"`
}

// IsActive treats an omitted flag as active.
func (s SiteConfig) IsActive() bool {
	return s.Active == nil || *s.Active
}

// Load reads YAML configuration (if present) and applies environment overrides.
// An empty path falls back to TENDER_SCANNER_CONFIG.
func Load(path string) Config {
	_ = godotenv.Load()

	cfg := defaultConfig()

	if path == "" {
		path = os.Getenv(configPathEnv)
	}
	if path != "" {
		if raw, err := os.ReadFile(path); err != nil {
			log.Printf("config: cannot read %s: %v (falling back to defaults)", path, err)
		} else {
			fileCfg := defaultConfig()
			fileCfg.Sites = nil
			if err := yaml.Unmarshal(raw, &fileCfg); err != nil {
				log.Printf("config: cannot parse %s: %v (falling back to defaults)", path, err)
			} else {
				cfg = mergeConfig(cfg, fileCfg)
			}
		}
	}

	cfg.applyEnvOverrides()
	cfg.bindTimezone()

	return cfg
}

func (c *Config) applyEnvOverrides() {
	overrides := []struct {
		env    string
		target *string
	}{
		{databaseDSNEnv, &c.Database.DSN},
		{httpAddrEnv, &c.HTTP.Addr},
		{logLevelEnv, &c.Logging.Level},
		{redisAddrEnv, &c.Sessions.RedisAddr},
		{classifierKeyEnv, &c.Classifier.APIKey},
		{classifierModelEnv, &c.Classifier.Model},
		{classifierURLEnv, &c.Classifier.Endpoint},
		{billingKeyEnv, &c.Billing.APIKey},
		{billingURLEnv, &c.Billing.Endpoint},
		{telegramTokenEnv, &c.Notifications.Telegram.BotToken},
		{telegramChatIDEnv, &c.Notifications.Telegram.ChatID},
	}

	for _, o := range overrides {
		if v := strings.TrimSpace(os.Getenv(o.env)); v != "" {
			*o.target = v
		}
	}

	if c.Billing.APIKey == "" {
		c.Billing.APIKey = c.Classifier.APIKey
	}
}

func (c *Config) bindTimezone() {
	tz := c.Scheduler.Timezone
	if tz == "" {
		tz = defaultTimezone
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		log.Printf("config: unknown timezone %s, reverting to UTC", tz)
		loc = time.UTC
	}
	c.Scheduler.location = loc
}

// mergeConfig keeps defaults for any numeric knob the file zeroed out and
// only replaces the site catalog when the file declares one.
func mergeConfig(base, override Config) Config {
	sites := base.Sites
	if len(override.Sites) > 0 {
		sites = override.Sites
	}

	if override.Fetcher.Timeout <= 0 {
		override.Fetcher.Timeout = base.Fetcher.Timeout
	}
	if override.Fetcher.Retries < 0 {
		override.Fetcher.Retries = base.Fetcher.Retries
	}
	if override.Enrichment.BatchSize <= 0 {
		override.Enrichment.BatchSize = base.Enrichment.BatchSize
	}
	if override.Scrape.Concurrency <= 0 {
		override.Scrape.Concurrency = 1
	}
	if override.Sessions.TTL <= 0 {
		override.Sessions.TTL = base.Sessions.TTL
	}

	override.Sites = sites
	return override
}

func defaultConfig() Config {
	return Config{
		Logging:  LoggingConfig{Level: "info"},
		Database: DatabaseConfig{DSN: "", MaxOpenConns: 10},
		HTTP: HTTPConfig{
			Addr:         ":8080",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		Fetcher: FetcherConfig{
			Timeout:      10 * time.Second,
			UserAgent:    defaultUserAgent,
			Retries:      2,
			RetryDelay:   2 * time.Second,
			MaxRedirects: 10,
		},
		Scrape: ScrapeConfig{
			SourceDelay:    time.Second,
			DetailDelay:    time.Second,
			Concurrency:    1,
			MaxDetailPages: 100,
		},
		Sessions: SessionConfig{
			Backend:       "memory",
			TTL:           time.Hour,
			PurgeInterval: 5 * time.Minute,
			RedisAddr:     "localhost:6379",
		},
		Scheduler: SchedulerConfig{ScrapeCron: "", Timezone: defaultTimezone},
		Credits: CreditConfig{
			BatchThreshold:  5,
			SingleThreshold: 0.5,
		},
		Billing: BillingConfig{
			Endpoint: "https://api.example.org/v1",
			Timeout:  10 * time.Second,
		},
		Classifier: ClassifierConfig{
			Endpoint:     "https://api.openai.com/v1/chat/completions",
			Model:        "gpt-4o-mini",
			SystemPrompt: defaultSystemPrompt,
			Timeout:      30 * time.Second,
		},
		Enrichment: EnrichmentConfig{
			BatchSize:       50,
			CallDelay:       time.Second,
			DigestRelevance: 70,
		},
		Sites: []SiteConfig{
			{
				Code:        "sme-exemplo",
				Name:        "Secretaria Municipal de Educação (exemplo)",
				BaseURL:     "https://educacao.exemplo.gov.br",
				ListingURLs: []string{"/licitacoes", "/editais"},
				Strategy:    "default",
			},
			{
				Code:        "pm-exemplo",
				Name:        "Prefeitura Municipal (exemplo)",
				BaseURL:     "https://www.exemplo.gov.br",
				ListingURLs: []string{"/transparencia/licitacoes"},
				Strategy:    "inline",
				Options:     map[string]string{"itemSelector": "table tr"},
			},
		},
	}
}
