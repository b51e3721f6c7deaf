package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Defaults.
const (
	DefaultBinding           = "0.0.0.0"
	DefaultPort              = "5000"
	DefaultDatabaseName      = "fileshare.db"
	DefaultStoragePath       = "storage"
	DefaultMaxUploadSize     = int64(100 << 30) // 100 GiB
	DefaultMaxFilenameLength = 255
	DefaultMaxChunks         = 100000
	DefaultProbeTimeout      = 3 * time.Second
	DefaultSweepSpec         = "@every 1h"
	DefaultSessionTTL        = 24 * time.Hour

	configEnvKey = "FILESHARE_CONFIG"
)

// DefaultDeniedExtensions are rejected at upload time regardless of the declared content-type.
var DefaultDeniedExtensions = []string{".exe", ".bat", ".cmd", ".com", ".pif", ".scr", ".vbs", ".js"}

// Duration is a time.Duration decoded from strings like "3s" or "24h".
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler (used by toml).
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return errors.Wrapf(err, "invalid duration %q", text)
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	return d.UnmarshalText([]byte(value.Value))
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.Duration.String(), nil
}

// Config holds everything the components need. It is built once and passed explicitly.
type Config struct {
	Binding           string   `toml:"binding"             yaml:"binding"`
	Port              string   `toml:"port"                yaml:"port"`
	BaseURL           string   `toml:"base_url"            yaml:"base_url"`
	DatabasePath      string   `toml:"database_path"       yaml:"database_path"`
	StoragePath       string   `toml:"storage_path"        yaml:"storage_path"`
	ScratchPath       string   `toml:"scratch_path"        yaml:"scratch_path"`
	MaxUploadSize     int64    `toml:"max_upload_size"     yaml:"max_upload_size"`
	MaxFilenameLength int      `toml:"max_filename_length" yaml:"max_filename_length"`
	MaxChunks         int      `toml:"max_chunks"          yaml:"max_chunks"`
	DeniedExtensions  []string `toml:"denied_extensions"   yaml:"denied_extensions"`
	ProbeTimeout      Duration `toml:"probe_timeout"       yaml:"probe_timeout"`
	VerifyOnDownload  bool     `toml:"verify_on_download"  yaml:"verify_on_download"`
	SweepSpec         string   `toml:"sweep_spec"          yaml:"sweep_spec"`
	SessionTTL        Duration `toml:"session_ttl"         yaml:"session_ttl"`
}

// Default returns default configuration values.
func Default() Config {
	return Config{
		Binding:           DefaultBinding,
		Port:              DefaultPort,
		DatabasePath:      DefaultDatabaseName,
		StoragePath:       DefaultStoragePath,
		ScratchPath:       filepath.Join(os.TempDir(), "fileshare_chunks"),
		MaxUploadSize:     DefaultMaxUploadSize,
		MaxFilenameLength: DefaultMaxFilenameLength,
		MaxChunks:         DefaultMaxChunks,
		DeniedExtensions:  append([]string(nil), DefaultDeniedExtensions...),
		ProbeTimeout:      Duration{DefaultProbeTimeout},
		VerifyOnDownload:  true,
		SweepSpec:         DefaultSweepSpec,
		SessionTTL:        Duration{DefaultSessionTTL},
	}
}

// Load builds the configuration from defaults, the optional file and the environment.
// An empty path falls back to $FILESHARE_CONFIG.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = strings.TrimSpace(os.Getenv(configEnvKey))
	}
	if path != "" {
		if err := LoadFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()
	return &cfg, cfg.Validate()
}

// LoadFile decodes the file at path into cfg. The format is picked from the extension.
func LoadFile(path string, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yml", ".yaml":
		payload, err := os.ReadFile(path)
		if err != nil {
			return errors.Wrap(err, "could not read config")
		}
		return errors.Wrapf(yaml.Unmarshal(payload, cfg), "failed to parse config %s", path)
	default:
		_, err := toml.DecodeFile(path, cfg)
		return errors.Wrapf(err, "failed to parse config %s", path)
	}
}

func (c *Config) applyEnv() {
	// Directory variables, joined with the default file names.
	if p := os.Getenv("DATABASE_PATH"); p != "" {
		c.DatabasePath = filepath.Join(p, DefaultDatabaseName)
	}
	if p := os.Getenv("STORAGE_PATH"); p != "" {
		c.StoragePath = p
	}

	envString("FILESHARE_BINDING", &c.Binding)
	envString("FILESHARE_PORT", &c.Port)
	envString("FILESHARE_BASE_URL", &c.BaseURL)
	envString("FILESHARE_DATABASE", &c.DatabasePath)
	envString("FILESHARE_STORAGE_PATH", &c.StoragePath)
	envString("FILESHARE_SCRATCH_PATH", &c.ScratchPath)
	envString("FILESHARE_SWEEP_SPEC", &c.SweepSpec)

	if raw := strings.TrimSpace(os.Getenv("FILESHARE_MAX_UPLOAD_SIZE")); raw != "" {
		if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
			c.MaxUploadSize = n
		}
	}
	if raw := strings.TrimSpace(os.Getenv("FILESHARE_MAX_CHUNKS")); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			c.MaxChunks = n
		}
	}
	if raw := strings.TrimSpace(os.Getenv("FILESHARE_DENIED_EXTENSIONS")); raw != "" {
		c.DeniedExtensions = splitCSV(raw)
	}
	if raw := strings.TrimSpace(os.Getenv("FILESHARE_VERIFY_ON_DOWNLOAD")); raw != "" {
		if v, err := strconv.ParseBool(raw); err == nil {
			c.VerifyOnDownload = v
		}
	}
	envDuration("FILESHARE_PROBE_TIMEOUT", &c.ProbeTimeout)
	envDuration("FILESHARE_SESSION_TTL", &c.SessionTTL)
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	switch {
	case c.MaxUploadSize <= 0:
		return errors.New("max_upload_size must be positive")
	case c.MaxFilenameLength <= 0:
		return errors.New("max_filename_length must be positive")
	case c.MaxChunks <= 0:
		return errors.New("max_chunks must be positive")
	case c.ProbeTimeout.Duration <= 0:
		return errors.New("probe_timeout must be positive")
	case c.SessionTTL.Duration <= 0:
		return errors.New("session_ttl must be positive")
	case strings.TrimSpace(c.StoragePath) == "":
		return errors.New("storage_path is required")
	case strings.TrimSpace(c.ScratchPath) == "":
		return errors.New("scratch_path is required")
	}

	for i, ext := range c.DeniedExtensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext != "" && !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		c.DeniedExtensions[i] = ext
	}
	return nil
}

// Listen returns the server's listen address.
func (c *Config) Listen() string {
	return c.Binding + ":" + c.Port
}

// YAML returns the YAML serialized form of the configuration.
func (c *Config) YAML() (string, error) {
	payload, err := yaml.Marshal(c)
	return string(payload), errors.Wrap(err, "could not marshal config")
}

func envString(key string, dst *string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

func envDuration(key string, dst *Duration) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func splitCSV(raw string) []string {
	var values []string
	for _, v := range strings.Split(raw, ",") {
		if v = strings.TrimSpace(v); v != "" {
			values = append(values, v)
		}
	}
	return values
}
