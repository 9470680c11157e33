// Package config loads the archive configuration.
//
// Settings come from, in increasing priority: built-in defaults,
// a TOML file, CRARCHIVE_* environment variables (which may be set
// from a .env file) and command line flags applied by the caller.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"

	"crarchive.org/email/bodytext"
)

// DBName is the archive database file name within Archive.DBDir.
const DBName = "crarchive.db"

type Config struct {
	Server  Server  `toml:"server"`
	Archive Archive `toml:"archive"`
	Search  Search  `toml:"search"`
	Import  Import  `toml:"import"`
}

type Server struct {
	Addr            string   `toml:"addr"`
	AutocertHost    string   `toml:"autocert_host"` // serve TLS with ACME certs for this host
	AutocertDir     string   `toml:"autocert_dir"`
	DebugAddr       string   `toml:"debug_addr"` // pprof and metrics, empty to disable
	Templates       string   `toml:"templates"`  // directory overriding the built-in templates
	ShutdownTimeout Duration `toml:"shutdown_timeout"`
	ThrottleDelay   Duration `toml:"throttle_delay"`
}

type Archive struct {
	Title          string   `toml:"title"`
	DBDir          string   `toml:"dbdir"`
	PoolSize       int      `toml:"pool_size"`
	Footers        []string `toml:"footers"` // regexps marking the start of list footers
	GroupBySubject bool     `toml:"group_by_subject"`
}

type Search struct {
	CacheSize   int     `toml:"cache_size"`
	PageSize    int     `toml:"page_size"`
	Snippets    int     `toml:"snippets"`
	MaxQueryLen int     `toml:"max_query_len"`
	RateLimit   float64 `toml:"rate_limit"` // searches per second per client
	RateBurst   int     `toml:"rate_burst"`
}

type Import struct {
	Include []string `toml:"include"`
	Exclude []string `toml:"exclude"`
}

// Duration is a time.Duration written as a string, "10s".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) (err error) {
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Error is an invalid setting.
type Error struct {
	Key string // TOML key or environment variable
	Err error
}

func (e *Error) Error() string { return fmt.Sprintf("config: %s: %v", e.Key, e.Err) }
func (e *Error) Unwrap() error { return e.Err }

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: Server{
			Addr:            ":8080",
			AutocertDir:     "autocert",
			ShutdownTimeout: Duration{10 * time.Second},
			ThrottleDelay:   Duration{3 * time.Second},
		},
		Archive: Archive{
			Title:    "Classic Rendezvous Archive",
			DBDir:    ".",
			PoolSize: 8,
		},
		Search: Search{
			CacheSize:   4096,
			PageSize:    20,
			Snippets:    3,
			MaxQueryLen: 256,
			RateLimit:   2,
			RateBurst:   10,
		},
	}
}

// Load reads the TOML file at path over the defaults, then applies
// the environment. An empty path skips the file.
func Load(path string) (*Config, error) {
	c := Default()
	if path != "" {
		md, err := toml.DecodeFile(path, c)
		if err != nil {
			return nil, fmt.Errorf("config: %s: %v", path, err)
		}
		if keys := md.Undecoded(); len(keys) > 0 {
			return nil, &Error{Key: keys[0].String(), Err: errors.New("unknown key")}
		}
	}
	if err := c.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// LoadDotEnv sets environment variables from a .env file.
// A missing file is not an error. Variables already set win.
func LoadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("config: %s: %v", path, err)
	}
	return nil
}

type envVar struct {
	name string
	set  func(c *Config, v string) error
}

var envVars = []envVar{
	{"CRARCHIVE_ADDR", func(c *Config, v string) error { c.Server.Addr = v; return nil }},
	{"CRARCHIVE_AUTOCERT_HOST", func(c *Config, v string) error { c.Server.AutocertHost = v; return nil }},
	{"CRARCHIVE_DEBUG_ADDR", func(c *Config, v string) error { c.Server.DebugAddr = v; return nil }},
	{"CRARCHIVE_TEMPLATES", func(c *Config, v string) error { c.Server.Templates = v; return nil }},
	{"CRARCHIVE_TITLE", func(c *Config, v string) error { c.Archive.Title = v; return nil }},
	{"CRARCHIVE_DBDIR", func(c *Config, v string) error { c.Archive.DBDir = v; return nil }},
	{"CRARCHIVE_POOL_SIZE", func(c *Config, v string) (err error) {
		c.Archive.PoolSize, err = strconv.Atoi(v)
		return err
	}},
	{"CRARCHIVE_GROUP_BY_SUBJECT", func(c *Config, v string) (err error) {
		c.Archive.GroupBySubject, err = strconv.ParseBool(v)
		return err
	}},
	{"CRARCHIVE_CACHE_SIZE", func(c *Config, v string) (err error) {
		c.Search.CacheSize, err = strconv.Atoi(v)
		return err
	}},
	{"CRARCHIVE_RATE_LIMIT", func(c *Config, v string) (err error) {
		c.Search.RateLimit, err = strconv.ParseFloat(v, 64)
		return err
	}},
	{"CRARCHIVE_RATE_BURST", func(c *Config, v string) (err error) {
		c.Search.RateBurst, err = strconv.Atoi(v)
		return err
	}},
}

// ApplyEnv overrides settings with CRARCHIVE_* variables found by lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	for _, ev := range envVars {
		v, ok := lookup(ev.name)
		if !ok || v == "" {
			continue
		}
		if err := ev.set(c, strings.TrimSpace(v)); err != nil {
			return &Error{Key: ev.name, Err: err}
		}
	}
	return nil
}

// Validate checks settings for values the archive cannot run with.
func (c *Config) Validate() error {
	switch {
	case c.Archive.DBDir == "":
		return &Error{Key: "archive.dbdir", Err: errors.New("empty")}
	case c.Archive.PoolSize < 1:
		return &Error{Key: "archive.pool_size", Err: fmt.Errorf("%d, want at least 1", c.Archive.PoolSize)}
	case c.Search.PageSize < 1:
		return &Error{Key: "search.page_size", Err: fmt.Errorf("%d, want at least 1", c.Search.PageSize)}
	case c.Search.MaxQueryLen < 1:
		return &Error{Key: "search.max_query_len", Err: fmt.Errorf("%d, want at least 1", c.Search.MaxQueryLen)}
	case c.Search.RateLimit < 0:
		return &Error{Key: "search.rate_limit", Err: fmt.Errorf("negative rate %v", c.Search.RateLimit)}
	case c.Search.RateLimit > 0 && c.Search.RateBurst < 1:
		return &Error{Key: "search.rate_burst", Err: fmt.Errorf("%d, want at least 1", c.Search.RateBurst)}
	case c.Server.ShutdownTimeout.Duration < 0:
		return &Error{Key: "server.shutdown_timeout", Err: errors.New("negative")}
	}
	if _, err := c.Trimmer(); err != nil {
		return err
	}
	return nil
}

// Trimmer compiles the footer patterns.
func (c *Config) Trimmer() (*bodytext.Trimmer, error) {
	t, err := bodytext.NewTrimmer(c.Archive.Footers)
	if err != nil {
		return nil, &Error{Key: "archive.footers", Err: err}
	}
	return t, nil
}

// DBFile is the path of the archive database.
func (c *Config) DBFile() string {
	return filepath.Join(c.Archive.DBDir, DBName)
}
