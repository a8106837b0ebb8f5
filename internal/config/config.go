package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server      ServerConfig
	Database    DatabaseConfig
	Redis       RedisConfig
	Auth        AuthConfig
	Health      HealthConfig
	Scheduler   SchedulerConfig
	Mimir       MimirConfig
	Providers   ProvidersConfig
	Backup      BackupConfig
	AI          AIConfig
	Remediation RemediationConfig
	Performance PerformanceConfig
}

type ServerConfig struct {
	Port           string
	Mode           string
	AllowedOrigins []string
}

type DatabaseConfig struct {
	URL            string
	MaxConnections int
	MaxIdleConns   int
	AutoMigrate    bool
}

type RedisConfig struct {
	URL string
}

type AuthConfig struct {
	JWTSecret string
	RateLimit float64
	RateBurst int
}

type HealthConfig struct {
	Concurrency  int
	ProbeTimeout time.Duration
	CheckTimeout time.Duration
	HistoryLimit int
	PageSize     int
}

type SchedulerConfig struct {
	Enabled       bool
	Interval      time.Duration
	RunOnStart    bool
	ReportWeekday string
	ReportHour    int
	// Modules refreshes individual modules on their own interval, in
	// addition to the full sweep.
	Modules map[string]time.Duration
}

type MimirConfig struct {
	URL           string
	TenantHeader  string
	TenantID      string
	BatchSize     int
	FlushInterval time.Duration
	AuthToken     string
}

// ProvidersConfig holds provider keys supplied through the environment.
// They take precedence over keys stored in the database.
type ProvidersConfig struct {
	Brevo  string
	Stripe string
	OpenAI string
}

type BackupConfig struct {
	Dir string
}

type AIConfig struct {
	HourlyLimit int64
}

type RemediationConfig struct {
	Enabled bool
	// RulesFile is a YAML rule list; the built-in rules apply when empty.
	RulesFile   string
	SettleDelay time.Duration
	Retention   time.Duration
}

type PerformanceConfig struct {
	Enabled       bool
	Interval      time.Duration
	HistoryLimit  int
	CPUPercent    float64
	MemoryMB      int
	Goroutines    int
	FailureRate   float64
	ExecutionTime time.Duration
}

// Load reads config.yaml from the working directory or ./config.
func Load() (*Config, error) {
	return LoadFile("")
}

// LoadFile reads configuration from path, or searches the default
// locations when path is empty.
func LoadFile(path string) (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}
	v.SetEnvPrefix("HEALTH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Set defaults
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.allowedorigins", []string{})
	v.SetDefault("database.maxconnections", 25)
	v.SetDefault("database.maxidleconns", 5)
	v.SetDefault("database.automigrate", true)
	v.SetDefault("auth.ratelimit", 1.0)
	v.SetDefault("auth.rateburst", 5)
	v.SetDefault("health.concurrency", 4)
	v.SetDefault("health.probetimeout", "30s")
	v.SetDefault("health.checktimeout", "5s")
	v.SetDefault("health.historylimit", 100)
	v.SetDefault("health.pagesize", 1000)
	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.interval", "5m")
	v.SetDefault("scheduler.runonstart", true)
	v.SetDefault("scheduler.reportweekday", "monday")
	v.SetDefault("scheduler.reporthour", 9)
	v.SetDefault("mimir.tenantheader", "X-Scope-OrgID")
	v.SetDefault("mimir.tenantid", "health-guardian")
	v.SetDefault("mimir.batchsize", 1000)
	v.SetDefault("mimir.flushinterval", "30s")
	v.SetDefault("ai.hourlylimit", 1000)
	v.SetDefault("remediation.enabled", true)
	v.SetDefault("remediation.settledelay", "5s")
	v.SetDefault("remediation.retention", "720h")
	v.SetDefault("performance.enabled", true)
	v.SetDefault("performance.interval", "60s")
	v.SetDefault("performance.historylimit", 1440)
	v.SetDefault("performance.cpupercent", 80.0)
	v.SetDefault("performance.memorymb", 1024)
	v.SetDefault("performance.goroutines", 10000)
	v.SetDefault("performance.failurerate", 5.0)
	v.SetDefault("performance.executiontime", "1s")

	var cfg Config
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	// Override with environment variables
	overrides := []struct {
		env    string
		target *string
	}{
		{"DATABASE_URL", &cfg.Database.URL},
		{"REDIS_URL", &cfg.Redis.URL},
		{"JWT_SECRET", &cfg.Auth.JWTSecret},
		{"MIMIR_URL", &cfg.Mimir.URL},
		{"MIMIR_AUTH_TOKEN", &cfg.Mimir.AuthToken},
		{"BREVO_API_KEY", &cfg.Providers.Brevo},
		{"STRIPE_SECRET_KEY", &cfg.Providers.Stripe},
		{"OPENAI_API_KEY", &cfg.Providers.OpenAI},
		{"BACKUP_DIR", &cfg.Backup.Dir},
		{"REMEDIATION_RULES_FILE", &cfg.Remediation.RulesFile},
		{"PORT", &cfg.Server.Port},
	}
	for _, o := range overrides {
		if val := os.Getenv(o.env); val != "" {
			*o.target = val
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be positive")
	}
	if _, err := c.Scheduler.Weekday(); err != nil {
		return err
	}
	if c.Scheduler.ReportHour < 0 || c.Scheduler.ReportHour > 23 {
		return fmt.Errorf("scheduler.reporthour must be between 0 and 23, got %d", c.Scheduler.ReportHour)
	}
	if c.Health.Concurrency < 1 {
		return fmt.Errorf("health.concurrency must be at least 1")
	}
	for module, every := range c.Scheduler.Modules {
		if every <= 0 {
			return fmt.Errorf("scheduler.modules.%s must be positive", module)
		}
	}
	if c.Performance.Enabled && c.Performance.Interval <= 0 {
		return fmt.Errorf("performance.interval must be positive")
	}
	return nil
}

var weekdays = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

func (s SchedulerConfig) Weekday() (time.Weekday, error) {
	d, ok := weekdays[strings.ToLower(strings.TrimSpace(s.ReportWeekday))]
	if !ok {
		return 0, fmt.Errorf("invalid scheduler.reportweekday %q", s.ReportWeekday)
	}
	return d, nil
}
