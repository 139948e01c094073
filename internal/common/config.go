package common

import (
	"fmt"
	"os"
	"strconv"

	"github.com/pelletier/go-toml/v2"
)

// Config represents the application configuration shared by the three services.
type Config struct {
	Environment string          `toml:"environment"` // "development" or "production"
	LocalDev    bool            `toml:"local_dev"`   // Local mode: env secrets, no OIDC, direct-HTTP queue
	Tenant      TenantConfig    `toml:"tenant"`
	Deploy      DeployConfig    `toml:"deploy"`
	Ingress     IngressConfig   `toml:"ingress"`
	Admin       ServerConfig    `toml:"admin"`
	Worker      WorkerConfig    `toml:"worker"`
	Database    DatabaseConfig  `toml:"database"`
	Queue       QueueConfig     `toml:"queue"`
	Calendar    CalendarConfig  `toml:"calendar"`
	Tasks       TasksConfig     `toml:"tasks"`
	Docs        DocsConfig      `toml:"docs"`
	LLM         LLMConfig       `toml:"llm"`
	Research    ResearchConfig  `toml:"research"`
	Scheduler   SchedulerConfig `toml:"scheduler"`
	Sections    SectionsConfig  `toml:"sections"`
	Logging     LoggingConfig   `toml:"logging"`
}

// TenantConfig identifies the default tenant all rows are scoped to.
type TenantConfig struct {
	ID string `toml:"id"` // Tenant UUID (TENANT_ID)
}

// DeployConfig carries hosted-deployment identity used for log tagging and OIDC.
type DeployConfig struct {
	ProjectID      string `toml:"project_id"`       // Cloud project (PROJECT_ID)
	Region         string `toml:"region"`           // Deployment region (REGION)
	ServiceName    string `toml:"service_name"`     // Log tag (SERVICE_NAME)
	TasksInvokerSA string `toml:"tasks_invoker_sa"` // Service account email used to invoke the worker
}

// ServerConfig is a host/port pair for one HTTP service.
type ServerConfig struct {
	Port int    `toml:"port"`
	Host string `toml:"host"`
}

// IngressConfig configures the public webhook service.
type IngressConfig struct {
	Port          int    `toml:"port"`
	Host          string `toml:"host"`
	PublicBaseURL string `toml:"public_base_url"` // Externally reachable base URL for webhook registration
}

// WorkerConfig configures the private dispatch service.
type WorkerConfig struct {
	Port int    `toml:"port"`
	Host string `toml:"host"`
	URL  string `toml:"url"` // Dispatch target URL used by the queue (WORKER_URL)
}

// DatabaseConfig selects and configures the relational store.
// When Host is set the postgres driver is used; otherwise a local SQLite file.
type DatabaseConfig struct {
	Host       string `toml:"host"`
	Port       int    `toml:"port"`
	Name       string `toml:"name"`
	User       string `toml:"user"`
	Password   string `toml:"password"`
	PoolMax    int    `toml:"pool_max"`
	SQLitePath string `toml:"sqlite_path"` // Local fallback database file
}

// QueueConfig configures the durable queue backend and its dispatcher.
type QueueConfig struct {
	Name              string `toml:"name"`               // Queue name prefix in badger keys
	BadgerPath        string `toml:"badger_path"`        // Badger directory for the durable queue
	PollInterval      string `toml:"poll_interval"`      // Dispatcher poll cadence, e.g. "500ms"
	Concurrency       int    `toml:"concurrency"`        // Concurrent dispatchers
	VisibilityTimeout string `toml:"visibility_timeout"` // Redelivery window for in-flight envelopes
	MaxReceive        int    `toml:"max_receive"`        // Attempts before dead-letter
	BackoffBase       string `toml:"backoff_base"`       // First retry delay
	BackoffCap        string `toml:"backoff_cap"`        // Retry delay ceiling
}

// CalendarConfig configures the calendar provider client.
type CalendarConfig struct {
	BaseURL           string `toml:"base_url"`
	DefaultCalendarID string `toml:"default_calendar_id"`
	FullSyncDays      int    `toml:"full_sync_days"` // Window for full sync fallback
	PageSize          int    `toml:"page_size"`
}

// TasksConfig configures the task-manager provider client.
type TasksConfig struct {
	BaseURL            string `toml:"base_url"`
	PipelineProjectGID string `toml:"pipeline_project_gid"` // Project the stage sections live in
	WorkspaceGID       string `toml:"workspace_gid"`
}

// DocsConfig configures the document provider client.
type DocsConfig struct {
	BaseURL      string `toml:"base_url"`
	ParentPageID string `toml:"parent_page_id"` // Root under which deal workspaces are created
}

// LLMConfig contains the AI provider configuration.
type LLMConfig struct {
	Model       string  `toml:"model"`       // Model string; provider detected by prefix (LLM_MODEL)
	MaxTokens   int     `toml:"max_tokens"`  // Maximum tokens in a response
	Timeout     string  `toml:"timeout"`     // Per-call timeout as duration string
	RateLimit   string  `toml:"rate_limit"`  // Minimum interval between round-trips
	Temperature float32 `toml:"temperature"` // Sampling temperature
}

// ResearchConfig tunes the research batch handler.
type ResearchConfig struct {
	CancelPollInterval string `toml:"cancel_poll_interval"` // Cancellation flag poll cadence (default 5s)
}

// SchedulerConfig carries the admin cron schedules.
type SchedulerConfig struct {
	WatchReplaceSchedule string `toml:"watch_replace_schedule"` // Cron expression for channel replacement
	HousekeepingSchedule string `toml:"housekeeping_schedule"`  // Cron expression for housekeeping
	ReplaceWindow        string `toml:"replace_window"`         // Replace channels expiring within this window
}

// SectionsConfig points at the pipeline-section seed file.
type SectionsConfig struct {
	SeedFile string `toml:"seed_file"` // YAML mapping of section GIDs to stage keys
}

// LoggingConfig configures the arbor logger.
type LoggingConfig struct {
	Level  string   `toml:"level"`  // "debug", "info", "warn", "error"
	Output []string `toml:"output"` // "stdout", "file"
}

// DefaultTenantID is used when no tenant is configured. Single-tenant
// deployments never need to change it.
const DefaultTenantID = "00000000-0000-0000-0000-000000000001"

// NewDefaultConfig creates a configuration with default values.
// Technical parameters live here; only user-facing settings belong in
// dealflow.toml.
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		LocalDev:    false,
		Tenant: TenantConfig{
			ID: DefaultTenantID,
		},
		Deploy: DeployConfig{
			ServiceName: "dealflow",
		},
		Ingress: IngressConfig{
			Port: 8080,
			Host: "0.0.0.0",
		},
		Admin: ServerConfig{
			Port: 8081,
			Host: "localhost",
		},
		Worker: WorkerConfig{
			Port: 8082,
			Host: "localhost",
			URL:  "http://localhost:8082",
		},
		Database: DatabaseConfig{
			Port:       5432,
			PoolMax:    10,
			SQLitePath: "./data/dealflow.db",
		},
		Queue: QueueConfig{
			Name:              "dealflow_jobs",
			BadgerPath:        "./data/queue",
			PollInterval:      "500ms",
			Concurrency:       4,
			VisibilityTimeout: "5m",
			MaxReceive:        5,
			BackoffBase:       "30s",
			BackoffCap:        "10m",
		},
		Calendar: CalendarConfig{
			BaseURL:           "https://www.googleapis.com/calendar/v3",
			DefaultCalendarID: "primary",
			FullSyncDays:      30,
			PageSize:          250,
		},
		Tasks: TasksConfig{
			BaseURL: "https://app.asana.com/api/1.0",
		},
		Docs: DocsConfig{
			BaseURL: "https://api.notion.com/v1",
		},
		LLM: LLMConfig{
			Model:       "claude-sonnet-4-20250514",
			MaxTokens:   8192,
			Timeout:     "5m",
			RateLimit:   "1s",
			Temperature: 0.7,
		},
		Research: ResearchConfig{
			CancelPollInterval: "5s",
		},
		Scheduler: SchedulerConfig{
			WatchReplaceSchedule: "0 3 * * *", // Daily 03:00
			HousekeepingSchedule: "15 * * * *",
			ReplaceWindow:        "48h",
		},
		Sections: SectionsConfig{
			SeedFile: "./sections.yaml",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Output: []string{"stdout", "file"},
		},
	}
}

// LoadFromFiles loads configuration from multiple files with priority:
// defaults -> file1 -> file2 -> ... -> env. Later files override earlier ones.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for i, path := range paths {
		if path == "" {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	applyEnvOverrides(config)

	return config, nil
}

// applyEnvOverrides applies environment variable overrides to config.
// The deployment surface injects the bare names; DEALFLOW_* variants exist for
// settings the platform does not own.
func applyEnvOverrides(config *Config) {
	if env := envFirst("DEALFLOW_ENV", "GO_ENV"); env != "" {
		config.Environment = env
	}
	if v := os.Getenv("LOCAL_DEV"); v != "" {
		config.LocalDev = truthy(v)
	}

	if v := envFirst("TENANT_ID", "DEALFLOW_TENANT_ID"); v != "" {
		config.Tenant.ID = v
	}
	if v := os.Getenv("PROJECT_ID"); v != "" {
		config.Deploy.ProjectID = v
	}
	if v := os.Getenv("REGION"); v != "" {
		config.Deploy.Region = v
	}
	if v := os.Getenv("SERVICE_NAME"); v != "" {
		config.Deploy.ServiceName = v
	}
	if v := os.Getenv("TASKS_INVOKER_SA_EMAIL"); v != "" {
		config.Deploy.TasksInvokerSA = v
	}

	if v := os.Getenv("INGRESS_PUBLIC_BASE_URL"); v != "" {
		config.Ingress.PublicBaseURL = v
	}
	if v := os.Getenv("WORKER_URL"); v != "" {
		config.Worker.URL = v
	}
	if v := os.Getenv("DEALFLOW_INGRESS_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			config.Ingress.Port = p
		}
	}
	if v := os.Getenv("DEALFLOW_ADMIN_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			config.Admin.Port = p
		}
	}
	if v := os.Getenv("DEALFLOW_WORKER_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			config.Worker.Port = p
		}
	}
	if v := os.Getenv("PORT"); v != "" {
		// Hosted runtimes inject a single PORT per process; -service picks
		// which server runs, so applying it to all three is safe.
		if p, err := strconv.Atoi(v); err == nil {
			config.Ingress.Port = p
			config.Admin.Port = p
			config.Worker.Port = p
		}
	}

	if v := os.Getenv("DATABASE_HOST"); v != "" {
		config.Database.Host = v
	}
	if v := os.Getenv("DATABASE_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			config.Database.Port = p
		}
	}
	if v := os.Getenv("DATABASE_NAME"); v != "" {
		config.Database.Name = v
	}
	if v := os.Getenv("DATABASE_USER"); v != "" {
		config.Database.User = v
	}
	if v := os.Getenv("DATABASE_PASSWORD"); v != "" {
		config.Database.Password = v
	}
	if v := os.Getenv("DATABASE_POOL_MAX"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			config.Database.PoolMax = p
		}
	}

	if v := os.Getenv("DEALFLOW_QUEUE_NAME"); v != "" {
		config.Queue.Name = v
	}
	if v := os.Getenv("DEALFLOW_QUEUE_BADGER_PATH"); v != "" {
		config.Queue.BadgerPath = v
	}
	if v := os.Getenv("DEALFLOW_QUEUE_CONCURRENCY"); v != "" {
		if c, err := strconv.Atoi(v); err == nil {
			config.Queue.Concurrency = c
		}
	}

	if v := os.Getenv("LLM_MODEL"); v != "" {
		config.LLM.Model = v
	}
	if v := os.Getenv("DEALFLOW_LLM_MAX_TOKENS"); v != "" {
		if mt, err := strconv.Atoi(v); err == nil {
			config.LLM.MaxTokens = mt
		}
	}

	if v := os.Getenv("DEALFLOW_LOG_LEVEL"); v != "" {
		config.Logging.Level = v
	}

	if v := os.Getenv("DEALFLOW_SECTIONS_SEED_FILE"); v != "" {
		config.Sections.SeedFile = v
	}
}

// ApplyFlagOverrides applies command-line flag overrides to config.
// Flags have the highest priority. The port override applies to whichever
// service the process was started as.
func ApplyFlagOverrides(config *Config, service string, port int, host string) {
	if port > 0 {
		switch service {
		case "ingress":
			config.Ingress.Port = port
		case "admin":
			config.Admin.Port = port
		case "worker":
			config.Worker.Port = port
		}
	}
	if host != "" {
		switch service {
		case "ingress":
			config.Ingress.Host = host
		case "admin":
			config.Admin.Host = host
		case "worker":
			config.Worker.Host = host
		}
	}
}

// envFirst returns the first non-empty value among the named variables.
func envFirst(names ...string) string {
	for _, name := range names {
		if v := os.Getenv(name); v != "" {
			return v
		}
	}
	return ""
}

// truthy reports whether an environment value should be treated as enabled.
func truthy(v string) bool {
	switch v {
	case "1", "true", "TRUE", "True", "yes", "on":
		return true
	}
	b, err := strconv.ParseBool(v)
	return err == nil && b
}
