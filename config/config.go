package config

import (
	"os"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Log      LogConfig      `yaml:"log"`
	Store    StoreConfig    `yaml:"store"`
	Minio    MinioConfig    `yaml:"minio"`
	Textract TextractConfig `yaml:"textract"`
	Refdata  RefdataConfig  `yaml:"refdata"`
	Auth     AuthConfig     `yaml:"auth"`
	Users    []User         `yaml:"users"`
}

type ServerConfig struct {
	Port int `yaml:"port"`
}

type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

type StoreConfig struct {
	// Driver selects the persistence backend: "sqlite" or "memory".
	Driver string `yaml:"driver"`
	// Path is the SQLite database file for the sqlite driver.
	Path string `yaml:"path"`
	// MaxSets bounds the in-memory store; 0 means unlimited.
	MaxSets int `yaml:"max_sets"`
}

type MinioConfig struct {
	Endpoint   string `yaml:"endpoint"`
	AccessKey  string `yaml:"access_key"`
	SecretKey  string `yaml:"secret_key"`
	Bucket     string `yaml:"bucket"`
	UseSSL     bool   `yaml:"use_ssl"`
	ExpireDays int    `yaml:"expire_days"`
}

type TextractConfig struct {
	APIURL      string `yaml:"api_url"`
	APIToken    string `yaml:"api_token"`
	CallbackURL string `yaml:"callback_url"`
	// Polling is the fallback when no callback URL is configured.
	PollIntervalSeconds int `yaml:"poll_interval_seconds"`
	PollAttempts        int `yaml:"poll_attempts"`
}

type RefdataConfig struct {
	// Optional YAML files overriding the built-in catalogs.
	FieldCatalogPath    string `yaml:"field_catalog_path"`
	ComplianceRulesPath string `yaml:"compliance_rules_path"`
}

type AuthConfig struct {
	JWTSecret        string `yaml:"jwt_secret"`
	TokenExpireHours int    `yaml:"token_expire_hours"`
}

type User struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Tenant   string `yaml:"tenant"`
}

var GlobalConfig *Config

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	// Set defaults
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
	if cfg.Store.Driver == "" {
		cfg.Store.Driver = "sqlite"
	}
	if cfg.Store.Path == "" {
		cfg.Store.Path = "doccheck.db"
	}
	if cfg.Minio.ExpireDays == 0 {
		cfg.Minio.ExpireDays = 7
	}
	if cfg.Auth.TokenExpireHours == 0 {
		cfg.Auth.TokenExpireHours = 24
	}
	if cfg.Textract.PollIntervalSeconds == 0 {
		cfg.Textract.PollIntervalSeconds = 5
	}
	if cfg.Textract.PollAttempts == 0 {
		cfg.Textract.PollAttempts = 60
	}

	GlobalConfig = &cfg
	return &cfg, nil
}

// FindUser finds a user by username
func (c *Config) FindUser(username string) *User {
	for i := range c.Users {
		if c.Users[i].Username == username {
			return &c.Users[i]
		}
	}
	return nil
}
