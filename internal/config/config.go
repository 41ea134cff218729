// Package config resolves runtime tunables from environment variables and an
// optional config file.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"

	"github.com/LX-media/orgdash/internal/cache"
)

// Config holds every user-configurable tunable.
type Config struct {
	// Token is the GitHub credential. Resolved from ORGDASH_TOKEN, falling
	// back to GITHUB_TOKEN.
	Token string `mapstructure:"token"`

	// Org is the default organization to aggregate.
	Org string `mapstructure:"org"`

	// PageSize is the per-page result count for list endpoints.
	PageSize int `mapstructure:"page_size"`

	// RepoConcurrency bounds concurrent per-repository fetches.
	RepoConcurrency int `mapstructure:"repo_concurrency"`

	// PRConcurrency bounds concurrent per-pull-request enrichment within a
	// repository.
	PRConcurrency int `mapstructure:"pr_concurrency"`

	// RateLimitWarnThreshold is the remaining-call count below which the
	// client raises rate-limit warnings.
	RateLimitWarnThreshold int `mapstructure:"rate_limit_warn_threshold"`

	// CacheDir overrides the snapshot/store directory. Empty uses the OS
	// cache directory.
	CacheDir string `mapstructure:"cache_dir"`

	// CacheTTLMinutes overrides per-partition default TTLs, keyed by
	// partition name.
	CacheTTLMinutes map[string]int `mapstructure:"cache_ttl_minutes"`
}

// LoaderOptions describes how configuration should be discovered.
type LoaderOptions struct {
	ConfigPaths []string
	FileName    string
	EnvPrefix   string
}

// Load returns the merged configuration from files and environment variables.
func Load(opts LoaderOptions) (Config, error) {
	v := viper.New()

	name := opts.FileName
	if name == "" {
		name = "orgdash"
	}
	prefix := opts.EnvPrefix
	if prefix == "" {
		prefix = "ORGDASH"
	}

	v.SetEnvPrefix(prefix)
	v.AutomaticEnv()
	v.AllowEmptyEnv(true)

	setDefaults(v)

	configFile := locateConfigFile(name, opts.ConfigPaths)
	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", configFile, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.Token == "" {
		cfg.Token = os.Getenv("GITHUB_TOKEN")
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	// Every key needs a default so AutomaticEnv can surface it in Unmarshal.
	v.SetDefault("token", "")
	v.SetDefault("org", "")
	v.SetDefault("page_size", 50)
	v.SetDefault("repo_concurrency", 8)
	v.SetDefault("pr_concurrency", 4)
	v.SetDefault("rate_limit_warn_threshold", 100)
	v.SetDefault("cache_dir", "")
	v.SetDefault("cache_ttl_minutes", map[string]int{})
}

// locateConfigFile returns the first existing config file, or "" when none
// exists. A missing file is not an error; env vars and defaults apply.
func locateConfigFile(name string, paths []string) string {
	if len(paths) == 0 {
		if dir, err := os.UserConfigDir(); err == nil {
			paths = []string{dir + "/orgdash"}
		}
	}
	for _, dir := range paths {
		for _, ext := range []string{"yaml", "yml", "json", "toml"} {
			candidate := fmt.Sprintf("%s/%s.%s", dir, name, ext)
			if _, err := os.Stat(candidate); err == nil {
				return candidate
			}
		}
	}
	return ""
}

// CacheLimits translates the TTL overrides into per-partition cache limits.
// Unknown partition names are ignored.
func (c Config) CacheLimits() map[cache.Partition]cache.Limit {
	if len(c.CacheTTLMinutes) == 0 {
		return nil
	}
	known := cache.Partitions()
	limits := make(map[cache.Partition]cache.Limit)
	for name, minutes := range c.CacheTTLMinutes {
		if minutes <= 0 {
			continue
		}
		for _, p := range known {
			if string(p) == name {
				limits[p] = cache.Limit{TTL: time.Duration(minutes) * time.Minute}
			}
		}
	}
	return limits
}
