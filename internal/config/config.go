package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App        AppConfig        `yaml:"app"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Notion     NotionConfig     `yaml:"notion"`
	Sync       SyncConfig       `yaml:"sync"`
	HTTP       HTTPConfig       `yaml:"http"`
	Logging    LoggingConfig    `yaml:"logging"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
	Exports    ExportConfig     `yaml:"exports"`
}

type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

type NotionConfig struct {
	Token         string            `yaml:"token"`
	BaseURL       string            `yaml:"base_url"`
	APIVersion    string            `yaml:"api_version"`
	WebhookSecret string            `yaml:"webhook_secret"`
	RequestsPerS  float64           `yaml:"requests_per_second"`
	DatabaseIDs   map[string]string `yaml:"database_ids"` // table -> Notion database id
}

type SyncConfig struct {
	BatchSize             int    `yaml:"batch_size"`
	PollInterval          string `yaml:"poll_interval"`
	RetentionDays         int    `yaml:"retention_days"`
	ProcessingTimeoutSecs int    `yaml:"processing_timeout_seconds"`
	// Pointer so an explicit 0 (a midnight schedule) is distinguishable
	// from an absent key.
	FullSyncHour   *int     `yaml:"full_sync_hour"`
	FullSyncTables []string `yaml:"full_sync_tables"`
}

type HTTPConfig struct {
	Port int `yaml:"port"`
}

type LoggingConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	Output   string `yaml:"output"`
	FilePath string `yaml:"file_path"`
}

type MonitoringConfig struct {
	PrometheusEnabled bool `yaml:"prometheus_enabled"`
}

type ExportConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

func Load(configPath string) (*Config, error) {
	// .env is optional; environment may already be populated.
	_ = godotenv.Load(".env")

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	// Substitute environment variables before parsing so secrets and
	// database ids never live in the YAML itself.
	expandedData := []byte(os.ExpandEnv(string(data)))

	var config Config
	if err := yaml.Unmarshal(expandedData, &config); err != nil {
		return nil, err
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func (c *Config) Validate() error {
	if c.Notion.Token == "" || c.Notion.Token == "YOUR_NOTION_TOKEN_HERE" {
		return errors.New("notion token is required")
	}

	if c.Database.Path == "" {
		return errors.New("database path is required")
	}

	if h := c.Sync.FullSyncHour; h != nil && (*h < 0 || *h > 23) {
		return fmt.Errorf("full_sync_hour %d is out of range 0-23", *h)
	}

	return ValidateDatabaseIDs(c.Notion.DatabaseIDs)
}

// ValidateDatabaseIDs rejects duplicate Notion database ids: the webhook
// router resolves tables by database id, so two tables sharing one id
// would be ambiguous.
func ValidateDatabaseIDs(ids map[string]string) error {
	seen := make(map[string]string, len(ids))
	for table, id := range ids {
		if id == "" {
			continue
		}
		if other, ok := seen[id]; ok {
			return fmt.Errorf("tables %q and %q share notion database id %s", other, table, id)
		}
		seen[id] = table
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.HTTP.Port == 0 {
		c.HTTP.Port = 8080
	}
	if c.Notion.BaseURL == "" {
		c.Notion.BaseURL = "https://api.notion.com"
	}
	if c.Notion.APIVersion == "" {
		c.Notion.APIVersion = "2022-06-28"
	}
	if c.Notion.RequestsPerS <= 0 {
		c.Notion.RequestsPerS = 3
	}
	if c.Sync.BatchSize == 0 {
		c.Sync.BatchSize = 20
	}
	if c.Sync.PollInterval == "" {
		c.Sync.PollInterval = "30s"
	}
	if c.Sync.RetentionDays == 0 {
		c.Sync.RetentionDays = 7
	}
	if c.Sync.ProcessingTimeoutSecs == 0 {
		c.Sync.ProcessingTimeoutSecs = 600
	}
	if c.Sync.FullSyncHour == nil {
		hour := 2
		c.Sync.FullSyncHour = &hour
	}
	if len(c.Sync.FullSyncTables) == 0 {
		for table := range c.Notion.DatabaseIDs {
			c.Sync.FullSyncTables = append(c.Sync.FullSyncTables, table)
		}
	}
	if c.Redis.PoolSize == 0 {
		c.Redis.PoolSize = 10
	}
}
