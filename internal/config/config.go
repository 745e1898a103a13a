package config

import (
	"encoding/json"
	"os"
	"path/filepath"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig        `json:"server"`
	Database      DatabaseConfig      `json:"database"`
	NLA           NLAConfig           `json:"nla"`
	Logging       LoggingConfig       `json:"logging"`
	Auth          AuthConfig          `json:"auth"`
	Notifications NotificationsConfig `json:"notifications"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host      string `json:"host"`
	Port      int    `json:"port"`
	StaticDir string `json:"static_dir"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `json:"path"`
}

// NLAConfig holds the domain configuration for the tape archive control
// plane: the retrieval pool size, the storaged endpoint, and the
// external tables the Path Resolver loads at startup.
type NLAConfig struct {
	// StoragedSlots is the number of concurrent sd_get retrievals the
	// Slot Scheduler is allowed to run.
	StoragedSlots int `json:"storaged_slots"`
	// MaxSlotsPerUser caps how many of those slots a single quota user
	// may occupy at once.
	MaxSlotsPerUser int `json:"max_slots_per_user"`
	// SDHost is the storaged host the Tape Client Adapter targets.
	SDHost string `json:"sd_host"`
	// MinFileSize below which a file is ignored by ingestion and the
	// tape re-discovery scan.
	MinFileSize int64 `json:"min_file_size"`
	// ChksumsDir is the directory the Verifier scans for
	// "<spot>.chksums.*" checksum logs.
	ChksumsDir string `json:"chksums_dir"`
	// CEDADownloadConf and StoragePathsURL are the two line-delimited
	// tables the Path Resolver fetches; OnTapeURL is the line-delimited
	// fileset listing (column 3 a directory path) read by ingestion and
	// by the re-add-missing-on-tape repair.
	CEDADownloadConf string `json:"ceda_download_conf"`
	StoragePathsURL  string `json:"storage_paths_url"`
	OnTapeURL        string `json:"on_tape_url"`
	// SearchIndexURL is the external archive search index updater that
	// is told which paths appear on and disappear from disk. Empty
	// disables it.
	SearchIndexURL string `json:"search_index_url"`
	// TestVersion, when true, routes tapeclient calls through the
	// storaged test harness path instead of the production one.
	TestVersion bool `json:"test_version"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level      string `json:"level"`
	Format     string `json:"format"` // "json" or "text"
	OutputPath string `json:"output_path"`
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	JWTSecret       string `json:"jwt_secret"`
	TokenExpiration int    `json:"token_expiration"` // hours
	SessionTimeout  int    `json:"session_timeout"`  // minutes
}

// NotificationsConfig holds notification configuration
type NotificationsConfig struct {
	Email EmailConfig `json:"email"`
}

// EmailConfig holds SMTP email configuration
type EmailConfig struct {
	Enabled    bool   `json:"enabled"`
	SMTPHost   string `json:"smtp_host"`
	SMTPPort   int    `json:"smtp_port"`
	Username   string `json:"username"`
	Password   string `json:"password"`
	FromEmail  string `json:"from_email"`
	FromName   string `json:"from_name"`
	UseTLS     bool   `json:"use_tls"`
	SkipVerify bool   `json:"skip_verify"`
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:      "0.0.0.0",
			Port:      8080,
			StaticDir: "/opt/nlad/static",
		},
		Database: DatabaseConfig{
			Path: "/var/lib/nlad/nla.db",
		},
		NLA: NLAConfig{
			StoragedSlots:    5,
			MaxSlotsPerUser:  2,
			SDHost:           "storaged.ceda.ac.uk",
			MinFileSize:      30 * 1024 * 1024,
			ChksumsDir:       "/var/lib/nlad/chksums",
			CEDADownloadConf: "https://cedaarchiveapp.ceda.ac.uk/cedaarchiveapp/facet/download_conf/",
			StoragePathsURL:  "https://cedaarchiveapp.ceda.ac.uk/cedaarchiveapp/facet/storage_path/",
			OnTapeURL:        "https://cedaarchiveapp.ceda.ac.uk/cedaarchiveapp/facet/on_tape/",
			SearchIndexURL:   "",
			TestVersion:      false,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "json",
			OutputPath: "/var/log/nlad/nlad.log",
		},
		Auth: AuthConfig{
			JWTSecret:       "", // Must be set in config file
			TokenExpiration: 24,
			SessionTimeout:  60,
		},
		Notifications: NotificationsConfig{
			Email: EmailConfig{
				Enabled:    false,
				SMTPHost:   "",
				SMTPPort:   587,
				Username:   "",
				Password:   "",
				FromEmail:  "",
				FromName:   "NLA",
				UseTLS:     true,
				SkipVerify: false,
			},
		},
	}
}

// Load loads configuration from a JSON file
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// Return default config if file doesn't exist
			return cfg, nil
		}
		return nil, err
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Save saves the configuration to a JSON file
func (c *Config) Save(path string) error {
	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600)
}
