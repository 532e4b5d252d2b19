package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dukerupert/mimitask/internal/backup"
)

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Client configures the mimitask CLI.
type Client struct {
	DBPath string        `yaml:"db_path"`
	Server string        `yaml:"server"`
	Log    LogConfig     `yaml:"log"`
	Backup backup.Config `yaml:"backup"`
}

// Offline reports whether no document server is configured.
func (c *Client) Offline() bool {
	return c.Server == ""
}

// DatabaseConfig selects the document backend of the server.
type DatabaseConfig struct {
	Driver string `yaml:"driver"`
	Path   string `yaml:"path"`
	URL    string `yaml:"url"`
}

// JWTConfig holds session token configuration
type JWTConfig struct {
	Secret string        `yaml:"secret"`
	TTL    time.Duration `yaml:"ttl"`
}

// Server configures mimiserver.
type Server struct {
	Host     string         `yaml:"host"`
	Port     int            `yaml:"port"`
	Database DatabaseConfig `yaml:"database"`
	JWT      JWTConfig      `yaml:"jwt"`
	Log      LogConfig      `yaml:"log"`
}

// Addr returns the listen address.
func (s *Server) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// Validate reports configuration the server cannot start with.
func (s *Server) Validate() error {
	var errs []error
	if s.JWT.Secret == "" {
		errs = append(errs, errors.New("jwt secret is required"))
	}
	switch s.Database.Driver {
	case "sqlite":
		if s.Database.Path == "" {
			errs = append(errs, errors.New("sqlite database path is required"))
		}
	case "postgres":
		if s.Database.URL == "" {
			errs = append(errs, errors.New("postgres database url is required"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown database driver %q", s.Database.Driver))
	}
	if s.Port <= 0 || s.Port > 65535 {
		errs = append(errs, fmt.Errorf("invalid port %d", s.Port))
	}
	return errors.Join(errs...)
}

// LoadClient reads the client configuration. An empty path skips the file;
// MIMITASK_* environment variables override file values.
func LoadClient(path string) (*Client, error) {
	cfg := &Client{
		DBPath: "mimitask.db",
		Log:    LogConfig{Level: "info", Format: "text"},
		Backup: backup.Config{RetentionDays: backup.DefaultRetentionDays},
	}
	if err := readFile(path, cfg); err != nil {
		return nil, err
	}

	setString(&cfg.DBPath, "MIMITASK_DB_PATH")
	setString(&cfg.Server, "MIMITASK_SERVER")
	setString(&cfg.Log.Level, "MIMITASK_LOG_LEVEL")
	setString(&cfg.Log.Format, "MIMITASK_LOG_FORMAT")
	setString(&cfg.Backup.Dir, "MIMITASK_BACKUP_DIR")
	setString(&cfg.Backup.S3.Bucket, "MIMITASK_S3_BUCKET")
	setString(&cfg.Backup.S3.Region, "MIMITASK_S3_REGION")
	setString(&cfg.Backup.S3.Endpoint, "MIMITASK_S3_ENDPOINT")
	setString(&cfg.Backup.S3.AccessKey, "MIMITASK_S3_ACCESS_KEY")
	setString(&cfg.Backup.S3.SecretKey, "MIMITASK_S3_SECRET_KEY")
	if err := setInt(&cfg.Backup.RetentionDays, "MIMITASK_BACKUP_RETENTION_DAYS"); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadServer reads the server configuration. An empty path skips the file;
// MIMISERVER_* environment variables override file values.
func LoadServer(path string) (*Server, error) {
	cfg := &Server{
		Port:     8080,
		Database: DatabaseConfig{Driver: "sqlite", Path: "mimiserver.db"},
		JWT:      JWTConfig{TTL: 30 * 24 * time.Hour},
		Log:      LogConfig{Level: "info", Format: "text"},
	}
	if err := readFile(path, cfg); err != nil {
		return nil, err
	}

	setString(&cfg.Host, "MIMISERVER_HOST")
	if err := setInt(&cfg.Port, "MIMISERVER_PORT"); err != nil {
		return nil, err
	}
	setString(&cfg.Database.Driver, "MIMISERVER_DB_DRIVER")
	setString(&cfg.Database.Path, "MIMISERVER_DB_PATH")
	setString(&cfg.Database.URL, "MIMISERVER_DATABASE_URL")
	setString(&cfg.JWT.Secret, "MIMISERVER_JWT_SECRET")
	if v := os.Getenv("MIMISERVER_JWT_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("MIMISERVER_JWT_TTL: %w", err)
		}
		cfg.JWT.TTL = d
	}
	setString(&cfg.Log.Level, "MIMISERVER_LOG_LEVEL")
	setString(&cfg.Log.Format, "MIMISERVER_LOG_FORMAT")
	return cfg, nil
}

func readFile(path string, into any) error {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, into); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = n
	return nil
}
