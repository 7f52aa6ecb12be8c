package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/multierr"
	"gopkg.in/ini.v1"
)

// Verify levels.
const (
	LevelFast     = "fast"
	LevelStandard = "standard"
	LevelDetailed = "detailed"
)

type Config struct {
	// verification
	MaxConcurrency   int           // candidates probed at once
	WriteConcurrency int           // upserts in flight at once
	Timeout          time.Duration // per probe round
	Rounds           int
	VerifyLevel      string
	PassTimeout      time.Duration // 0 means no pass deadline
	TestURLs         []string

	// storage
	DatabaseURL string // empty means in-memory store
	Table       string
	DBMaxConns  int
	CacheTTL    time.Duration

	// logging
	LogDir     string
	LogLevel   string
	LogConsole bool

	// scheduling
	Interval time.Duration // 0 runs a single pass
	Reverify bool          // re-check stored proxies each cycle

	// sources; URLs may carry {page}
	TextURLs     []string
	Files        []string
	TableURLs    []string
	EmbeddedURLs []string
	JSONURLs     []string
	JSONListPath string // dotted path to the entry array, default "data.list"
	Pages        int

	// alerts
	SlackWebhookURL string
	AlertMinUsable  int // 0 disables pool alerts
	AlertMinScore   float64
	AlertCooldown   time.Duration

	// ops endpoints (/healthz, /metrics); empty disables
	OpsAddr string
}

func Default() Config {
	return Config{
		MaxConcurrency:   50,
		WriteConcurrency: 8,
		Timeout:          5 * time.Second,
		Rounds:           3,
		VerifyLevel:      LevelStandard,
		Table:            "proxy",
		DBMaxConns:       10,
		LogDir:           "logs",
		LogLevel:         "info",
		Pages:            3,
		AlertMinScore:    0.5,
		AlertCooldown:    30 * time.Minute,
	}
}

// FromEnv is Load without a config file.
func FromEnv() (Config, error) { return Load("") }

// Load builds the configuration from defaults, then the INI file at path
// (skipped when empty), then environment variables. The verify level preset
// is applied last and the result validated.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		f, err := ini.Load(path)
		if err != nil {
			return Config{}, &Error{Key: "config_file", Value: path, Reason: err.Error()}
		}
		if err := cfg.applyINI(f); err != nil {
			return Config{}, err
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	cfg.applyLevel()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyINI(f *ini.File) error {
	var errs error
	for _, fd := range fields {
		sec := f.Section(fd.section)
		if !sec.HasKey(fd.key) {
			continue
		}
		v := sec.Key(fd.key).String()
		if err := fd.set(c, v); err != nil {
			errs = multierr.Append(errs, &Error{Key: fd.section + "." + fd.key, Value: v, Reason: err.Error()})
		}
	}
	return errs
}

func (c *Config) applyEnv() error {
	var errs error
	for _, fd := range fields {
		v, ok := os.LookupEnv(fd.env)
		if !ok || v == "" {
			continue
		}
		if err := fd.set(c, v); err != nil {
			errs = multierr.Append(errs, &Error{Key: fd.env, Value: v, Reason: err.Error()})
		}
	}
	return errs
}

// applyLevel maps the verify level onto rounds and timeout: fast is one
// 3s round, detailed is five rounds at twice the timeout.
func (c *Config) applyLevel() {
	switch c.VerifyLevel {
	case LevelFast:
		c.Rounds = 1
		c.Timeout = 3 * time.Second
	case LevelDetailed:
		c.Rounds = 5
		c.Timeout *= 2
	}
}

// Validate reports every out-of-range setting at once.
func (c Config) Validate() error {
	var errs error
	check := func(ok bool, key string, value any, reason string) {
		if !ok {
			errs = multierr.Append(errs, &Error{Key: key, Value: fmt.Sprint(value), Reason: reason})
		}
	}
	check(c.MaxConcurrency >= 1, "MAX_CONCURRENCY", c.MaxConcurrency, "must be >= 1")
	check(c.WriteConcurrency >= 1, "WRITE_CONCURRENCY", c.WriteConcurrency, "must be >= 1")
	check(c.Timeout > 0, "TIMEOUT_SECONDS", c.Timeout, "must be > 0")
	check(c.Rounds >= 1, "ROUNDS", c.Rounds, "must be >= 1")
	check(c.VerifyLevel == LevelFast || c.VerifyLevel == LevelStandard || c.VerifyLevel == LevelDetailed,
		"VERIFY_LEVEL", c.VerifyLevel, "must be fast, standard or detailed")
	check(c.PassTimeout >= 0, "PASS_TIMEOUT_SECONDS", c.PassTimeout, "must be >= 0")
	check(c.Table != "", "DB_TABLE", c.Table, "must not be empty")
	check(c.DBMaxConns >= 0, "DB_MAX_CONNS", c.DBMaxConns, "must be >= 0")
	check(c.CacheTTL >= 0, "CACHE_TTL_SECONDS", c.CacheTTL, "must be >= 0")
	check(c.Interval >= 0, "INTERVAL_SECONDS", c.Interval, "must be >= 0")
	check(c.Pages >= 1, "SOURCE_PAGES", c.Pages, "must be >= 1")
	check(c.AlertMinUsable >= 0, "ALERT_MIN_USABLE", c.AlertMinUsable, "must be >= 0")
	check(c.AlertMinScore >= 0 && c.AlertMinScore <= 1, "ALERT_MIN_SCORE", c.AlertMinScore, "must be within [0,1]")
	for _, u := range c.TestURLs {
		check(strings.HasPrefix(u, "http://") || strings.HasPrefix(u, "https://"), "TEST_URLS", u, "must be an http(s) URL")
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		check(false, "LOG_LEVEL", c.LogLevel, "must be debug, info, warn or error")
	}
	return errs
}

// HasSources reports whether any remote or file source is configured.
func (c Config) HasSources() bool {
	return len(c.TextURLs)+len(c.Files)+len(c.TableURLs)+len(c.EmbeddedURLs)+len(c.JSONURLs) > 0
}

var ErrInvalid = errors.New("invalid configuration")

// Error names the offending key and value.
type Error struct {
	Key    string
	Value  string
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("config %s=%q: %s", e.Key, e.Value, e.Reason)
}

func (e *Error) Unwrap() error { return ErrInvalid }

// field binds one setting to its env var and INI location.
type field struct {
	env     string
	section string
	key     string
	set     func(c *Config, v string) error
}

var fields = []field{
	{"MAX_CONCURRENCY", "verify", "max_concurrency", intVar(func(c *Config) *int { return &c.MaxConcurrency })},
	{"WRITE_CONCURRENCY", "verify", "write_concurrency", intVar(func(c *Config) *int { return &c.WriteConcurrency })},
	{"TIMEOUT_SECONDS", "verify", "timeout_seconds", secondsVar(func(c *Config) *time.Duration { return &c.Timeout })},
	{"ROUNDS", "verify", "rounds", intVar(func(c *Config) *int { return &c.Rounds })},
	{"VERIFY_LEVEL", "verify", "level", levelVar},
	{"PASS_TIMEOUT_SECONDS", "verify", "pass_timeout_seconds", secondsVar(func(c *Config) *time.Duration { return &c.PassTimeout })},
	{"TEST_URLS", "verify", "test_urls", listVar(func(c *Config) *[]string { return &c.TestURLs })},

	{"DATABASE_URL", "db", "connection_string", stringVar(func(c *Config) *string { return &c.DatabaseURL })},
	{"DB_TABLE", "db", "table_name", stringVar(func(c *Config) *string { return &c.Table })},
	{"DB_MAX_CONNS", "db", "max_connections", intVar(func(c *Config) *int { return &c.DBMaxConns })},
	{"CACHE_TTL_SECONDS", "db", "cache_ttl_seconds", secondsVar(func(c *Config) *time.Duration { return &c.CacheTTL })},

	{"LOG_DIR", "log", "dir", stringVar(func(c *Config) *string { return &c.LogDir })},
	{"LOG_LEVEL", "log", "level", stringVar(func(c *Config) *string { return &c.LogLevel })},
	{"LOG_CONSOLE", "log", "console", boolVar(func(c *Config) *bool { return &c.LogConsole })},

	{"INTERVAL_SECONDS", "verify", "interval_seconds", secondsVar(func(c *Config) *time.Duration { return &c.Interval })},
	{"REVERIFY", "verify", "reverify", boolVar(func(c *Config) *bool { return &c.Reverify })},

	{"SOURCE_TEXT_URLS", "sources", "text_urls", listVar(func(c *Config) *[]string { return &c.TextURLs })},
	{"SOURCE_FILES", "sources", "files", listVar(func(c *Config) *[]string { return &c.Files })},
	{"SOURCE_TABLE_URLS", "sources", "table_urls", listVar(func(c *Config) *[]string { return &c.TableURLs })},
	{"SOURCE_EMBEDDED_URLS", "sources", "embedded_urls", listVar(func(c *Config) *[]string { return &c.EmbeddedURLs })},
	{"SOURCE_JSON_URLS", "sources", "json_urls", listVar(func(c *Config) *[]string { return &c.JSONURLs })},
	{"SOURCE_JSON_LIST_PATH", "sources", "json_list_path", stringVar(func(c *Config) *string { return &c.JSONListPath })},
	{"SOURCE_PAGES", "sources", "pages", intVar(func(c *Config) *int { return &c.Pages })},

	{"SLACK_WEBHOOK_URL", "alert", "slack_webhook_url", stringVar(func(c *Config) *string { return &c.SlackWebhookURL })},
	{"ALERT_MIN_USABLE", "alert", "min_usable", intVar(func(c *Config) *int { return &c.AlertMinUsable })},
	{"ALERT_MIN_SCORE", "alert", "min_score", floatVar(func(c *Config) *float64 { return &c.AlertMinScore })},
	{"ALERT_COOLDOWN_SECONDS", "alert", "cooldown_seconds", secondsVar(func(c *Config) *time.Duration { return &c.AlertCooldown })},

	{"OPS_ADDR", "ops", "addr", stringVar(func(c *Config) *string { return &c.OpsAddr })},
}

func stringVar(p func(*Config) *string) func(*Config, string) error {
	return func(c *Config, v string) error {
		*p(c) = strings.TrimSpace(v)
		return nil
	}
}

func intVar(p func(*Config) *int) func(*Config, string) error {
	return func(c *Config, v string) error {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return errors.New("not an integer")
		}
		*p(c) = n
		return nil
	}
}

func floatVar(p func(*Config) *float64) func(*Config, string) error {
	return func(c *Config, v string) error {
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return errors.New("not a number")
		}
		*p(c) = f
		return nil
	}
}

func boolVar(p func(*Config) *bool) func(*Config, string) error {
	return func(c *Config, v string) error {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return errors.New("not a boolean")
		}
		*p(c) = b
		return nil
	}
}

// secondsVar accepts whole or fractional seconds.
func secondsVar(p func(*Config) *time.Duration) func(*Config, string) error {
	return func(c *Config, v string) error {
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return errors.New("not a number of seconds")
		}
		*p(c) = time.Duration(f * float64(time.Second))
		return nil
	}
}

func listVar(p func(*Config) *[]string) func(*Config, string) error {
	return func(c *Config, v string) error {
		var out []string
		for _, s := range strings.Split(v, ",") {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
		*p(c) = out
		return nil
	}
}

// levelVar also takes the numeric form 0, 1, 2.
func levelVar(c *Config, v string) error {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "0", LevelFast:
		c.VerifyLevel = LevelFast
	case "1", LevelStandard:
		c.VerifyLevel = LevelStandard
	case "2", LevelDetailed:
		c.VerifyLevel = LevelDetailed
	default:
		return errors.New("must be fast, standard or detailed")
	}
	return nil
}
