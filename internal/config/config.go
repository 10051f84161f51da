package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ghodss/yaml"
	"github.com/mitchellh/go-homedir"
	"github.com/spf13/afero"
)

// FileName is looked up inside the config directory.
const FileName = "crustasync.yaml"

// DefaultDir is used when no config directory is given.
const DefaultDir = "~/.config/crustasync"

var fs = afero.NewOsFs()

type Config struct {
	Concurrency      int      `json:"concurrency"`
	ScanConcurrency  int      `json:"scanConcurrency"`
	CallTimeout      Duration `json:"callTimeout"`
	Retry            Retry    `json:"retry"`
	Excludes         []string `json:"excludes,omitempty"`
	FingerprintCache *bool    `json:"fingerprintCache,omitempty"`
	Drive            Drive    `json:"drive"`
	S3               S3       `json:"s3"`

	// Dir is the expanded config directory the file was read from.
	Dir string `json:"-"`
}

type Retry struct {
	MaxAttempts int      `json:"maxAttempts"`
	BaseDelay   Duration `json:"baseDelay"`
	MaxDelay    Duration `json:"maxDelay"`
}

type Drive struct {
	ClientID          string  `json:"clientID,omitempty"`
	ClientSecret      string  `json:"clientSecret,omitempty"`
	TokenFile         string  `json:"tokenFile,omitempty"`
	RequestsPerSecond float64 `json:"requestsPerSecond,omitempty"`
}

type S3 struct {
	Region  string `json:"region,omitempty"`
	Profile string `json:"profile,omitempty"`
}

// Duration reads Go duration strings such as "500ms" or "2m".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("duration must be a string: %w", err)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func Default() Config {
	return Config{
		Concurrency:     8,
		ScanConcurrency: 8,
		CallTimeout:     Duration{2 * time.Minute},
		Retry: Retry{
			MaxAttempts: 3,
			BaseDelay:   Duration{500 * time.Millisecond},
			MaxDelay:    Duration{30 * time.Second},
		},
		Drive: Drive{
			TokenFile:         "google_drive.json",
			RequestsPerSecond: 10,
		},
	}
}

// FingerprintCacheEnabled defaults to true.
func (c Config) FingerprintCacheEnabled() bool {
	return c.FingerprintCache == nil || *c.FingerprintCache
}

// TokenPath is where the Drive OAuth token is stored.
func (c Config) TokenPath() string {
	if filepath.IsAbs(c.Drive.TokenFile) {
		return c.Drive.TokenFile
	}
	return filepath.Join(c.Dir, c.Drive.TokenFile)
}

// CachePath is the directory holding fingerprint caches.
func (c Config) CachePath() string {
	return filepath.Join(c.Dir, "cache")
}

// Load reads <dir>/crustasync.yaml over the defaults. A missing file is not
// an error.
func Load(dir string) (Config, error) {
	if dir == "" {
		dir = DefaultDir
	}
	expanded, err := homedir.Expand(dir)
	if err != nil {
		return Config{}, fmt.Errorf("expand config dir: %w", err)
	}

	cfg := Default()
	cfg.Dir = expanded

	path := filepath.Join(expanded, FileName)
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.UnmarshalStrict(data, &cfg, yaml.DisallowUnknownFields); err != nil {
		return Config{}, fmt.Errorf("parse %s: %w", path, err)
	}
	cfg.Dir = expanded
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid %s: %w", path, err)
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.Concurrency <= 0 {
		return fmt.Errorf("concurrency must be positive, got %d", c.Concurrency)
	}
	if c.ScanConcurrency <= 0 {
		return fmt.Errorf("scanConcurrency must be positive, got %d", c.ScanConcurrency)
	}
	if c.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("retry.maxAttempts must be positive, got %d", c.Retry.MaxAttempts)
	}
	if c.Retry.BaseDelay.Duration < 0 || c.Retry.MaxDelay.Duration < c.Retry.BaseDelay.Duration {
		return fmt.Errorf("retry delays must satisfy 0 <= baseDelay <= maxDelay")
	}
	return nil
}
