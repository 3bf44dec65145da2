// Package config loads the daemon's TOML configuration file. Duration
// fields decode through a wrapper with a custom UnmarshalText so
// config files can write "30s" instead of a raw nanosecond integer.
package config

import (
	"fmt"
	"time"

	"github.com/BurntSushi/toml"
)

// Duration is a time.Duration that decodes from TOML as a duration
// string ("30s", "2m") instead of an integer count of nanoseconds.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// Repository configures the backing git repository.
type Repository struct {
	Path          string `toml:"path"`
	PrimaryBranch string `toml:"primary_branch"`
	// Bare controls how lifecycle.EnsureRepository treats a missing
	// path: true inits a bare repository (the daemon's normal mode),
	// false a working-tree repository (useful for local inspection
	// with plain git commands during development).
	Bare bool `toml:"bare"`
}

// Signature is the default author/committer identity attached to
// writes that don't supply their own.
type Signature struct {
	Name  string `toml:"name"`
	Email string `toml:"email"`
}

// HTTP configures the HTTP collaborator.
type HTTP struct {
	Listen       string   `toml:"listen"`
	ReadTimeout  Duration `toml:"read_timeout,omitempty"`
	WriteTimeout Duration `toml:"write_timeout,omitempty"`
}

// SSH configures the SSH collaborator. HostKeyPath may be empty, in
// which case an ephemeral host key is generated for the process
// lifetime (fine for development, not for a production fleet that
// wants a stable host key fingerprint across restarts).
type SSH struct {
	Listen      string `toml:"listen"`
	HostKeyPath string `toml:"host_key_path,omitempty"`
}

// Log configures the logrus-backed structured logging used by every
// collaborator. The engine itself never logs.
type Log struct {
	Level  string `toml:"level"`
	Format string `toml:"format"` // "text" or "json"
}

// Config is the daemon's complete configuration.
type Config struct {
	Repository Repository `toml:"repository"`
	Signature  Signature  `toml:"signature"`
	HTTP       HTTP       `toml:"http"`
	SSH        SSH        `toml:"ssh"`
	Log        Log        `toml:"log"`
}

// Load decodes the TOML file at path into a Config, applying the same
// defaults a freshly-zeroed Config would need filled in before use.
func Load(path string) (*Config, error) {
	var cfg Config
	meta, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("config: %s: unknown keys: %v", path, undecoded)
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Repository.PrimaryBranch == "" {
		c.Repository.PrimaryBranch = "master"
	}
	if c.HTTP.Listen == "" {
		c.HTTP.Listen = ":8080"
	}
	if c.HTTP.ReadTimeout.Duration == 0 {
		c.HTTP.ReadTimeout.Duration = 30 * time.Second
	}
	if c.HTTP.WriteTimeout.Duration == 0 {
		c.HTTP.WriteTimeout.Duration = 30 * time.Second
	}
	if c.SSH.Listen == "" {
		c.SSH.Listen = ":2222"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
}
