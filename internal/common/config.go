package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config represents the application configuration
type Config struct {
	Environment string            `toml:"environment"` // "development" or "production" - controls seed URL validation
	Server      ServerConfig      `toml:"server"`
	Storage     StorageConfig     `toml:"storage"`
	Logging     LoggingConfig     `toml:"logging"`
	Crawler     CrawlerConfig     `toml:"crawler"`
	SSE         SSEConfig         `toml:"sse"`
	Maintenance MaintenanceConfig `toml:"maintenance"`
}

type ServerConfig struct {
	Port int    `toml:"port"`
	Host string `toml:"host"`
}

type StorageConfig struct {
	Badger BadgerConfig `toml:"badger"`
}

// BadgerConfig represents BadgerDB-specific configuration
type BadgerConfig struct {
	Path           string `toml:"path"`             // Database directory path
	ResetOnStartup bool   `toml:"reset_on_startup"` // Delete database on startup for clean test runs
}

type LoggingConfig struct {
	Level      string   `toml:"level"`       // "debug", "info", "warn", "error"
	Format     string   `toml:"format"`      // "json" or "text"
	Output     []string `toml:"output"`      // "stdout", "file"
	TimeFormat string   `toml:"time_format"` // Time format for logs (default: "15:04:05.000")
}

// CrawlerConfig holds the per-job defaults and the orchestration limits.
// Per-job overrides arrive on the crawl request; values here are the defaults.
type CrawlerConfig struct {
	UserAgent           string        `toml:"user_agent"`            // User agent sent on every fetch
	MaxDepth            int           `toml:"max_depth"`             // Default link depth from the seed
	MaxPages            int           `toml:"max_pages"`             // Default page cap per job (seed included)
	QualityThreshold    int           `toml:"quality_threshold"`     // Minimum score for artifact inclusion
	Concurrency         int           `toml:"concurrency"`           // Concurrent fetches per worker batch
	PageTimeout         time.Duration `toml:"page_timeout"`          // Per-page fetch timeout
	RespectRobotsTxt    bool          `toml:"respect_robots_txt"`    // Honor robots.txt rules
	Delay               time.Duration `toml:"delay"`                 // Politeness delay between fetches
	FollowExternalLinks bool          `toml:"follow_external_links"` // Allow links outside the seed prefix
	MaxBodySize         int           `toml:"max_body_size"`         // Maximum response body size in bytes
	InitialWorkers      int           `toml:"initial_workers"`       // Workers spawned when a job starts
	MaxWorkersPerJob    int           `toml:"max_workers_per_job"`   // Ceiling on live workers per job
	BatchSize           int           `toml:"batch_size"`            // URLs claimed per queue pop
	MaxBatches          int           `toml:"max_batches"`           // Batches one worker invocation may process
	InterBatchDelay     time.Duration `toml:"inter_batch_delay"`     // Pause between batches
	WorkerWallClock     time.Duration `toml:"worker_wall_clock"`     // Wall-clock budget per worker invocation
}

// SSEConfig controls the streaming gateway.
type SSEConfig struct {
	Heartbeat time.Duration `toml:"heartbeat"`  // Comment ping after this much silence
	WallClock time.Duration `toml:"wall_clock"` // Connection budget before a reconnect event
	ReadBatch int           `toml:"read_batch"` // Max events per log read
	BlockWait time.Duration `toml:"block_wait"` // How long a read waits for new events
}

// MaintenanceConfig controls the background sweeper.
type MaintenanceConfig struct {
	Enabled    bool          `toml:"enabled"`
	Schedule   string        `toml:"schedule"`    // Cron schedule, e.g. "@every 5m"
	StaleAfter time.Duration `toml:"stale_after"` // Running jobs idle past this are failed
}

// NewDefaultConfig creates a configuration with default values.
// Technical parameters are hardcoded here for production stability.
// Only user-facing settings should be exposed in docspasta.toml.
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development", // Default to development mode - allows test URLs
		Server: ServerConfig{
			Port: 8080,
			Host: "localhost",
		},
		Storage: StorageConfig{
			Badger: BadgerConfig{
				Path: "./data",
			},
		},
		Logging: LoggingConfig{
			Level:  "info",                     // Info level for production (debug|info|warn|error)
			Format: "text",                     // Human-readable text format (text|json)
			Output: []string{"stdout", "file"}, // Log to both console and file
		},
		Crawler: CrawlerConfig{
			UserAgent:           "Mozilla/5.0 (compatible; Docspasta/1.0; +https://github.com/ternarybob/docspasta)",
			MaxDepth:            2,
			MaxPages:            50,
			QualityThreshold:    20,
			Concurrency:         3,
			PageTimeout:         8 * time.Second,
			RespectRobotsTxt:    true,
			Delay:               0,
			FollowExternalLinks: false,
			MaxBodySize:         10 * 1024 * 1024, // 10MB
			InitialWorkers:      3,
			MaxWorkersPerJob:    5,
			BatchSize:           10,
			MaxBatches:          10,
			InterBatchDelay:     200 * time.Millisecond,
			WorkerWallClock:     50 * time.Second,
		},
		SSE: SSEConfig{
			Heartbeat: 10 * time.Second,
			WallClock: 50 * time.Second,
			ReadBatch: 64,
			BlockWait: 2 * time.Second,
		},
		Maintenance: MaintenanceConfig{
			Enabled:    true,
			Schedule:   "@every 5m",
			StaleAfter: 15 * time.Minute,
		},
	}
}

// LoadFromFile loads configuration with priority: default -> file -> env -> CLI
func LoadFromFile(path string) (*Config, error) {
	if path == "" {
		return LoadFromFiles()
	}
	return LoadFromFiles(path)
}

// LoadFromFiles loads configuration from multiple files with priority:
// default -> file1 -> file2 -> ... -> env -> CLI. Later files override
// earlier files.
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

		// Unmarshal into config (merges with existing values, later values override)
		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	applyEnvOverrides(config)

	return config, nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	// Environment configuration (highest priority: DOCSPASTA_ENV, fallback: GO_ENV)
	if env := os.Getenv("DOCSPASTA_ENV"); env != "" {
		config.Environment = env
	} else if env := os.Getenv("GO_ENV"); env != "" {
		config.Environment = env
	}

	// Server configuration
	if port := os.Getenv("DOCSPASTA_SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if host := os.Getenv("DOCSPASTA_SERVER_HOST"); host != "" {
		config.Server.Host = host
	}

	// Storage configuration
	if badgerPath := os.Getenv("DOCSPASTA_BADGER_PATH"); badgerPath != "" {
		config.Storage.Badger.Path = badgerPath
	}

	// Logging configuration
	if level := os.Getenv("DOCSPASTA_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if format := os.Getenv("DOCSPASTA_LOG_FORMAT"); format != "" {
		config.Logging.Format = format
	}
	if output := os.Getenv("DOCSPASTA_LOG_OUTPUT"); output != "" {
		outputs := []string{}
		for _, o := range strings.Split(output, ",") {
			if trimmed := strings.TrimSpace(o); trimmed != "" {
				outputs = append(outputs, trimmed)
			}
		}
		if len(outputs) > 0 {
			config.Logging.Output = outputs
		}
	}

	// Crawler configuration
	if userAgent := os.Getenv("DOCSPASTA_CRAWLER_USER_AGENT"); userAgent != "" {
		config.Crawler.UserAgent = userAgent
	}
	if maxDepth := os.Getenv("DOCSPASTA_CRAWLER_MAX_DEPTH"); maxDepth != "" {
		if md, err := strconv.Atoi(maxDepth); err == nil {
			config.Crawler.MaxDepth = md
		}
	}
	if maxPages := os.Getenv("DOCSPASTA_CRAWLER_MAX_PAGES"); maxPages != "" {
		if mp, err := strconv.Atoi(maxPages); err == nil {
			config.Crawler.MaxPages = mp
		}
	}
	if threshold := os.Getenv("DOCSPASTA_CRAWLER_QUALITY_THRESHOLD"); threshold != "" {
		if qt, err := strconv.Atoi(threshold); err == nil {
			config.Crawler.QualityThreshold = qt
		}
	}
	if concurrency := os.Getenv("DOCSPASTA_CRAWLER_CONCURRENCY"); concurrency != "" {
		if c, err := strconv.Atoi(concurrency); err == nil {
			config.Crawler.Concurrency = c
		}
	}
	if pageTimeout := os.Getenv("DOCSPASTA_CRAWLER_PAGE_TIMEOUT"); pageTimeout != "" {
		if pt, err := time.ParseDuration(pageTimeout); err == nil {
			config.Crawler.PageTimeout = pt
		}
	}
	if respectRobots := os.Getenv("DOCSPASTA_CRAWLER_RESPECT_ROBOTS_TXT"); respectRobots != "" {
		if rr, err := strconv.ParseBool(respectRobots); err == nil {
			config.Crawler.RespectRobotsTxt = rr
		}
	}
	if delay := os.Getenv("DOCSPASTA_CRAWLER_DELAY"); delay != "" {
		if d, err := time.ParseDuration(delay); err == nil {
			config.Crawler.Delay = d
		}
	}
	if followExternal := os.Getenv("DOCSPASTA_CRAWLER_FOLLOW_EXTERNAL_LINKS"); followExternal != "" {
		if fe, err := strconv.ParseBool(followExternal); err == nil {
			config.Crawler.FollowExternalLinks = fe
		}
	}
	if maxBodySize := os.Getenv("DOCSPASTA_CRAWLER_MAX_BODY_SIZE"); maxBodySize != "" {
		if mbs, err := strconv.Atoi(maxBodySize); err == nil {
			config.Crawler.MaxBodySize = mbs
		}
	}
	if initialWorkers := os.Getenv("DOCSPASTA_CRAWLER_INITIAL_WORKERS"); initialWorkers != "" {
		if iw, err := strconv.Atoi(initialWorkers); err == nil {
			config.Crawler.InitialWorkers = iw
		}
	}
	if maxWorkers := os.Getenv("DOCSPASTA_CRAWLER_MAX_WORKERS_PER_JOB"); maxWorkers != "" {
		if mw, err := strconv.Atoi(maxWorkers); err == nil {
			config.Crawler.MaxWorkersPerJob = mw
		}
	}

	// SSE configuration
	if heartbeat := os.Getenv("DOCSPASTA_SSE_HEARTBEAT"); heartbeat != "" {
		if hb, err := time.ParseDuration(heartbeat); err == nil {
			config.SSE.Heartbeat = hb
		}
	}
	if wallClock := os.Getenv("DOCSPASTA_SSE_WALL_CLOCK"); wallClock != "" {
		if wc, err := time.ParseDuration(wallClock); err == nil {
			config.SSE.WallClock = wc
		}
	}
	if readBatch := os.Getenv("DOCSPASTA_SSE_READ_BATCH"); readBatch != "" {
		if rb, err := strconv.Atoi(readBatch); err == nil {
			config.SSE.ReadBatch = rb
		}
	}

	// Maintenance configuration
	if enabled := os.Getenv("DOCSPASTA_MAINTENANCE_ENABLED"); enabled != "" {
		if e, err := strconv.ParseBool(enabled); err == nil {
			config.Maintenance.Enabled = e
		}
	}
	if schedule := os.Getenv("DOCSPASTA_MAINTENANCE_SCHEDULE"); schedule != "" {
		config.Maintenance.Schedule = schedule
	}
	if staleAfter := os.Getenv("DOCSPASTA_MAINTENANCE_STALE_AFTER"); staleAfter != "" {
		if sa, err := time.ParseDuration(staleAfter); err == nil {
			config.Maintenance.StaleAfter = sa
		}
	}
}

// ApplyFlagOverrides applies command-line flag overrides to config
func ApplyFlagOverrides(config *Config, port int, host string) {
	// Command-line flags have highest priority
	if port > 0 {
		config.Server.Port = port
	}
	if host != "" {
		config.Server.Host = host
	}
}

// IsProduction returns true if the environment is set to production
func (c *Config) IsProduction() bool {
	env := strings.ToLower(strings.TrimSpace(c.Environment))
	return env == "production" || env == "prod"
}

// AllowTestURLs returns true if test URLs (localhost, 127.0.0.1, etc.) are
// allowed as crawl seeds. Test URLs are only allowed in development mode.
func (c *Config) AllowTestURLs() bool {
	return !c.IsProduction()
}
