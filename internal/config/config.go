// Package config loads blkpull settings from YAML and command-line flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Source struct {
	User       string
	Host       string
	Port       int
	Key        string
	KnownHosts string
	Device     string
	Sudo       bool
}

type Dest struct {
	Dir  string
	Name string
}

type Shrink struct {
	Enabled       bool
	PreparePasses int
	ResizePasses  int
}

type Scripts struct {
	Pre  []string
	Post []string
}

type Notify struct {
	Recipients []string
	Subject    string
}

type SSH struct {
	Retries    int
	RetryDelay time.Duration
	Timeout    time.Duration
}

type Config struct {
	Source  Source
	Dest    Dest
	Shrink  Shrink
	Scripts Scripts
	Notify  Notify
	SSH     SSH
	File    string // config file actually read, if any
}

// DefaultPath is consulted when no --config is given
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "blkpull", "config.yaml")
}

// SetDefaults registers default values on v
func SetDefaults(v *viper.Viper) {
	v.SetDefault("source.user", "pi")
	v.SetDefault("source.port", 22)
	v.SetDefault("source.key", defaultKey())
	v.SetDefault("source.device", "/dev/mmcblk0")
	v.SetDefault("source.sudo", true)
	v.SetDefault("dest.dir", ".")
	v.SetDefault("shrink.enabled", false)
	v.SetDefault("shrink.prepare_passes", 4)
	v.SetDefault("shrink.resize_passes", 10)
	v.SetDefault("scripts.pre", []string{})
	v.SetDefault("scripts.post", []string{})
	v.SetDefault("notify.recipients", []string{})
	v.SetDefault("notify.subject", "blkpull backup report")
	v.SetDefault("ssh.retries", 3)
	v.SetDefault("ssh.retry_delay", 5*time.Second)
	v.SetDefault("ssh.timeout", 15*time.Second)
}

func defaultKey() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".ssh", "id_ed25519")
}

// Load reads path (or DefaultPath when empty and present) into v and
// returns the merged configuration. Flags already bound to v win.
func Load(v *viper.Viper, path string) (*Config, error) {
	SetDefaults(v)
	v.SetEnvPrefix("BLKPULL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	explicit := path != ""
	if !explicit {
		path = DefaultPath()
	}
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if explicit || !(errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist)) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	cfg := &Config{
		Source: Source{
			User:       v.GetString("source.user"),
			Host:       v.GetString("source.host"),
			Port:       v.GetInt("source.port"),
			Key:        v.GetString("source.key"),
			KnownHosts: v.GetString("source.known_hosts"),
			Device:     v.GetString("source.device"),
			Sudo:       v.GetBool("source.sudo"),
		},
		Dest: Dest{
			Dir:  v.GetString("dest.dir"),
			Name: v.GetString("dest.name"),
		},
		Shrink: Shrink{
			Enabled:       v.GetBool("shrink.enabled"),
			PreparePasses: v.GetInt("shrink.prepare_passes"),
			ResizePasses:  v.GetInt("shrink.resize_passes"),
		},
		Scripts: Scripts{
			Pre:  v.GetStringSlice("scripts.pre"),
			Post: v.GetStringSlice("scripts.post"),
		},
		Notify: Notify{
			Recipients: v.GetStringSlice("notify.recipients"),
			Subject:    v.GetString("notify.subject"),
		},
		SSH: SSH{
			Retries:    v.GetInt("ssh.retries"),
			RetryDelay: v.GetDuration("ssh.retry_delay"),
			Timeout:    v.GetDuration("ssh.timeout"),
		},
		File: v.ConfigFileUsed(),
	}
	if cfg.Dest.Name == "" {
		cfg.Dest.Name = cfg.Source.Host
	}
	return cfg, nil
}

// Validate checks the settings a backup run needs
func (c *Config) Validate() error {
	var problems []string
	if c.Source.Host == "" {
		problems = append(problems, "source.host is required")
	}
	if c.Source.User == "" {
		problems = append(problems, "source.user is required")
	}
	if c.Source.Port <= 0 || c.Source.Port > 65535 {
		problems = append(problems, fmt.Sprintf("source.port %d out of range", c.Source.Port))
	}
	if c.Source.Key == "" {
		problems = append(problems, "source.key is required")
	}
	if !strings.HasPrefix(c.Source.Device, "/dev/") {
		problems = append(problems, fmt.Sprintf("source.device %q must be a /dev path", c.Source.Device))
	}
	if c.Dest.Name == "" || strings.ContainsRune(c.Dest.Name, '/') {
		problems = append(problems, fmt.Sprintf("dest.name %q must be a plain file name", c.Dest.Name))
	}
	if c.Shrink.PreparePasses < 1 || c.Shrink.ResizePasses < 1 {
		problems = append(problems, "shrink pass limits must be at least 1")
	}
	if c.SSH.Retries < 0 {
		problems = append(problems, "ssh.retries must not be negative")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}
